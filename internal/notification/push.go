package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoSubscription   = errors.New("contact has no push subscription")
	ErrSubscriptionGone = errors.New("push subscription expired")
)

// PushClient defines the interface for sending a web push notification.
type PushClient interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// webPushClient is the real PushClient using the webpush library.
type webPushClient struct{}

func (webPushClient) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// ContactPruner removes push subscriptions the push service reports as gone.
type ContactPruner interface {
	ClearPushSubscription(ctx context.Context, ownerID, endpoint string) error
}

// WebPushSender delivers codes as browser push notifications.
type WebPushSender struct {
	client  PushClient
	options *webpush.Options
	pruner  ContactPruner
	logger  *logrus.Entry
}

func NewWebPushSender(options *webpush.Options, pruner ContactPruner, logger *logrus.Entry) *WebPushSender {
	return &WebPushSender{
		client:  webPushClient{},
		options: options,
		pruner:  pruner,
		logger:  logger,
	}
}

type pushPayload struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	ChallengeID string `json:"challengeId"`
}

func (s *WebPushSender) Send(ctx context.Context, d Delivery) error {
	if !d.Contact.HasPush() {
		return ErrNoSubscription
	}

	payload, err := json.Marshal(pushPayload{
		Title:       "Device transfer code",
		Body:        message(d),
		ChallengeID: d.ChallengeID,
	})
	if err != nil {
		return err
	}

	sub := &webpush.Subscription{
		Endpoint: d.Contact.Endpoint,
		Keys: webpush.Keys{
			P256dh: d.Contact.P256DH,
			Auth:   d.Contact.Auth,
		},
	}

	resp, err := s.client.Send(ctx, payload, sub, s.options)
	if err != nil {
		return fmt.Errorf("push to %s failed: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		s.logger.Warnf("subscription for endpoint %s is expired, removing it from owner %s", sub.Endpoint, d.Contact.OwnerID)
		if s.pruner != nil {
			if err := s.pruner.ClearPushSubscription(ctx, d.Contact.OwnerID, sub.Endpoint); err != nil {
				s.logger.Errorf("failed to remove expired subscription %s: %s", sub.Endpoint, err)
			}
		}
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service answered %d for %s", resp.StatusCode, sub.Endpoint)
	}
	return nil
}
