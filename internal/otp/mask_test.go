package otp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/model"
)

func TestRoute(t *testing.T) {
	push := model.OwnerContact{OwnerID: "bob", Endpoint: "https://push.example/abcd1234", P256DH: "k", Auth: "a"}

	testCases := []struct {
		name            string
		contact         model.OwnerContact
		expectedChannel model.ContactChannel
		expectedDest    string
		expectedErr     error
	}{
		{
			name:            "Preferred email",
			contact:         model.OwnerContact{Email: "alice@example.com", Channel: model.ChannelEmail},
			expectedChannel: model.ChannelEmail,
			expectedDest:    "a***@example.com",
		},
		{
			name: "Preferred push",
			contact: func() model.OwnerContact {
				c := push
				c.Channel = model.ChannelPush
				return c
			}(),
			expectedChannel: model.ChannelPush,
			expectedDest:    "push:…1234",
		},
		{
			name:            "Push preferred without subscription falls back to email",
			contact:         model.OwnerContact{Email: "bob@example.com", Channel: model.ChannelPush},
			expectedChannel: model.ChannelEmail,
			expectedDest:    "b***@example.com",
		},
		{
			name:            "Log channel",
			contact:         model.OwnerContact{OwnerID: "carol", Channel: model.ChannelLog},
			expectedChannel: model.ChannelLog,
			expectedDest:    "log:ca***",
		},
		{
			name:        "Nothing registered",
			contact:     model.OwnerContact{OwnerID: "dave", Channel: model.ChannelEmail},
			expectedErr: errs.ErrNoContactChannel,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			channel, dest, err := Route(tc.contact)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expectedChannel, channel)
			assert.Equal(t, tc.expectedDest, dest)
		})
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "******2345", MaskPhone("0612342345"))
	assert.Equal(t, "***", MaskPhone("123"))
}
