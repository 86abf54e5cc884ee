package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"device-registry-backend/internal/keylock"
	"device-registry-backend/internal/logging"
	"device-registry-backend/internal/model"
	"device-registry-backend/internal/notification"
	"device-registry-backend/internal/store"
)

// Result is the outcome of one code verification.
type Result string

const (
	Accepted  Result = "accepted"
	Rejected  Result = "rejected"
	Expired   Result = "expired"
	Exhausted Result = "exhausted"
)

// Outcome carries the result and the attempts left on the challenge afterwards.
type Outcome struct {
	Result    Result
	Remaining int
}

type Config struct {
	TTL         time.Duration
	MaxAttempts int
	HashCost    int
}

// Dispatcher queues a delivery without waiting for it. It reports false if the delivery was dropped.
type Dispatcher interface {
	Dispatch(d notification.Delivery) bool
}

// Manager issues and verifies one-time codes. Verification is serialized per challenge.
type Manager struct {
	store      store.ChallengeStore
	dispatcher Dispatcher
	cfg        Config
	locks      *keylock.Locker
	logger     *logrus.Entry
	now        func() time.Time
	generate   func() (string, error)
}

func New(s store.ChallengeStore, dispatcher Dispatcher, cfg Config, logger *logrus.Entry) *Manager {
	return &Manager{
		store:      s,
		dispatcher: dispatcher,
		cfg:        cfg,
		locks:      keylock.New(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		generate:   generateCode,
	}
}

// Issue records a fresh challenge for a transfer attempt and hands the code to the delivery
// channel. The challenge is usable as soon as it is recorded; delivery is not awaited.
// The returned challenge carries the plaintext code in Code.
func (m *Manager) Issue(ctx context.Context, attemptID string, contact model.OwnerContact) (*model.OTPChallenge, error) {
	lFunc := logging.ConfigureLogger(ctx, m.logger)

	channel, destination, err := Route(contact)
	if err != nil {
		return nil, err
	}

	code, err := m.generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), m.cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	now := m.now()
	c := &model.OTPChallenge{
		ID:                uuid.NewString(),
		TransferAttemptID: attemptID,
		CodeHash:          string(hash),
		Destination:       destination,
		Channel:           channel,
		IssuedAt:          now,
		ExpiresAt:         now.Add(m.cfg.TTL),
		AttemptsRemaining: m.cfg.MaxAttempts,
	}
	if err := m.store.CreateChallenge(ctx, c); err != nil {
		return nil, err
	}
	c.Code = code

	lFunc.Infof("issued challenge %s for transfer %s to %s", c.ID, attemptID, destination)
	if m.dispatcher != nil {
		m.dispatcher.Dispatch(notification.Delivery{
			ChallengeID: c.ID,
			Channel:     channel,
			Contact:     contact,
			Code:        code,
			ExpiresAt:   c.ExpiresAt,
		})
	}
	return c, nil
}

// Verify compares a submitted code against the challenge.
// Every evaluated submission costs one attempt, including malformed ones. A consumed or revoked
// challenge never accepts again. When the last attempt is spent on a wrong code the result is Exhausted.
func (m *Manager) Verify(ctx context.Context, challengeID, submitted string) (Outcome, error) {
	lFunc := logging.ConfigureLogger(ctx, m.logger)

	unlock := m.locks.Lock(challengeID)
	defer unlock()

	c, err := m.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return Outcome{}, err
	}

	if c.Consumed || c.RevokedAt != nil {
		return Outcome{Result: Rejected, Remaining: c.AttemptsRemaining}, nil
	}
	now := m.now()
	if now.After(c.ExpiresAt) {
		return Outcome{Result: Expired, Remaining: c.AttemptsRemaining}, nil
	}
	if c.AttemptsRemaining <= 0 {
		return Outcome{Result: Exhausted}, nil
	}

	c.AttemptsRemaining--
	code := normalizeCode(submitted)
	match := len(code) == codeLength && bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) == nil
	if match {
		c.Consumed = true
		c.ConsumedAt = &now
	}
	if err := m.store.UpdateChallenge(ctx, c); err != nil {
		return Outcome{}, err
	}

	switch {
	case match:
		lFunc.Infof("challenge %s accepted", c.ID)
		return Outcome{Result: Accepted, Remaining: c.AttemptsRemaining}, nil
	case c.AttemptsRemaining == 0:
		lFunc.Warnf("challenge %s exhausted", c.ID)
		return Outcome{Result: Exhausted}, nil
	default:
		lFunc.Debugf("challenge %s rejected, %d attempts remaining", c.ID, c.AttemptsRemaining)
		return Outcome{Result: Rejected, Remaining: c.AttemptsRemaining}, nil
	}
}

// Revoke makes a challenge unusable without marking it consumed. Revoking twice is a no-op.
func (m *Manager) Revoke(ctx context.Context, challengeID string) error {
	unlock := m.locks.Lock(challengeID)
	defer unlock()

	c, err := m.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if c.Consumed || c.RevokedAt != nil {
		return nil
	}
	now := m.now()
	c.RevokedAt = &now
	return m.store.UpdateChallenge(ctx, c)
}

func (m *Manager) Get(ctx context.Context, challengeID string) (*model.OTPChallenge, error) {
	return m.store.GetChallenge(ctx, challengeID)
}
