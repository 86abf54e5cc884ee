package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/gomail.v2"

	"device-registry-backend/config"
	"device-registry-backend/internal/model"
)

func TestMailSender_Send(t *testing.T) {
	s := NewMailSender(config.MailConfig{Host: "smtp.example.com", Port: 587, From: "registry@example.com"})

	var sent *gomail.Message
	s.send = func(m *gomail.Message) error {
		sent = m
		return nil
	}

	err := s.Send(context.Background(), Delivery{
		ChallengeID: "ch-1",
		Channel:     model.ChannelEmail,
		Code:        "K7Q2ZP9M",
		ExpiresAt:   time.Now(),
		Contact:     model.OwnerContact{OwnerID: "alice", Email: "alice@example.com"},
	})
	assert.NoError(t, err)
	if assert.NotNil(t, sent) {
		assert.Equal(t, []string{"alice@example.com"}, sent.GetHeader("To"))
		assert.Equal(t, []string{"registry@example.com"}, sent.GetHeader("From"))
	}
}

func TestMailSender_NoEmail(t *testing.T) {
	s := NewMailSender(config.MailConfig{})
	s.send = func(m *gomail.Message) error {
		t.Fatal("nothing must be sent without an address")
		return nil
	}
	assert.ErrorIs(t, s.Send(context.Background(), Delivery{Contact: model.OwnerContact{OwnerID: "alice"}}), ErrNoEmail)
}

func TestMailSender_ContextDone(t *testing.T) {
	s := NewMailSender(config.MailConfig{})
	block := make(chan struct{})
	defer close(block)
	s.send = func(m *gomail.Message) error {
		<-block
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, Delivery{Contact: model.OwnerContact{Email: "alice@example.com"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
