package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"device-registry-backend/internal/model"
)

var ErrUnsupportedChannel = errors.New("no sender registered for contact channel")

// Delivery is one one-time code on its way to the owner who must confirm a transfer.
type Delivery struct {
	ChallengeID string
	Channel     model.ContactChannel
	Contact     model.OwnerContact
	Code        string
	ExpiresAt   time.Time
}

// Sender delivers one code over one channel. Implementations must honor ctx cancellation.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// Router forwards each delivery to the sender registered for its channel.
type Router struct {
	senders map[model.ContactChannel]Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[model.ContactChannel]Sender)}
}

// Register sets the sender of a channel, replacing any previous one.
func (r *Router) Register(channel model.ContactChannel, s Sender) *Router {
	r.senders[channel] = s
	return r
}

func (r *Router) Send(ctx context.Context, d Delivery) error {
	s, ok := r.senders[d.Channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, d.Channel)
	}
	return s.Send(ctx, d)
}

func message(d Delivery) string {
	return fmt.Sprintf("Your device transfer code is %s. It expires at %s UTC. If you did not start a transfer, ignore this message.",
		d.Code, d.ExpiresAt.UTC().Format("15:04"))
}
