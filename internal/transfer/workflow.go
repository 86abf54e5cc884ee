package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/keylock"
	"device-registry-backend/internal/logging"
	"device-registry-backend/internal/model"
	"device-registry-backend/internal/otp"
	"device-registry-backend/internal/registry"
	"device-registry-backend/internal/store"
)

var transferValidate = validator.New()

// SystemActor is recorded in the device history for releases done by the sweep.
const SystemActor = "system:sweep"

// Registry is the part of the device registry the workflow drives.
type Registry interface {
	Get(ctx context.Context, deviceID string) (*model.Device, error)
	Lookup(ctx context.Context, raw string) (*model.Device, error)
	SetStatus(ctx context.Context, change registry.StatusChange) (*model.Device, error)
	TransferOwnership(ctx context.Context, deviceID, attemptID, fromOwnerID, toOwnerID string) (*model.Device, error)
}

// Challenges is the part of the OTP manager the workflow drives.
type Challenges interface {
	Issue(ctx context.Context, attemptID string, contact model.OwnerContact) (*model.OTPChallenge, error)
	Verify(ctx context.Context, challengeID, submitted string) (otp.Outcome, error)
	Revoke(ctx context.Context, challengeID string) error
	Get(ctx context.Context, challengeID string) (*model.OTPChallenge, error)
}

// Contacts resolves recipients and the sender's code destination.
type Contacts interface {
	GetContact(ctx context.Context, ownerID string) (*model.OwnerContact, error)
	FindContactByEmail(ctx context.Context, email string) (*model.OwnerContact, error)
}

type Config struct {
	AttemptTTL time.Duration
	MaxResends int
}

// Workflow is the server-held transfer state machine. Calls on one attempt are serialized.
type Workflow struct {
	attempts   store.AttemptStore
	registry   Registry
	challenges Challenges
	contacts   Contacts
	cfg        Config
	locks      *keylock.Locker
	logger     *logrus.Entry
	now        func() time.Time
}

func New(attempts store.AttemptStore, reg Registry, challenges Challenges, contacts Contacts, cfg Config, logger *logrus.Entry) *Workflow {
	return &Workflow{
		attempts:   attempts,
		registry:   reg,
		challenges: challenges,
		contacts:   contacts,
		cfg:        cfg,
		locks:      keylock.New(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type InitiateInput struct {
	DeviceID         string `validate:"required_without=Identifier"`
	Identifier       string
	ActorID          string `validate:"required"`
	ToOwnerEmailOrID string `validate:"required,max=254"`
}

type ReasonInput struct {
	AttemptID    string           `validate:"required"`
	ActorID      string           `validate:"required"`
	ReasonCode   model.ReasonCode `validate:"required,oneof=gift sold transfer_ownership other"`
	CustomReason string           `validate:"max=512"`
}

// ChallengeView is what a caller may see of the current challenge.
type ChallengeView struct {
	Destination       string               `json:"destination"`
	Channel           model.ContactChannel `json:"channel"`
	ExpiresAt         time.Time            `json:"expiresAt"`
	AttemptsRemaining int                  `json:"attemptsRemaining"`
}

type View struct {
	Attempt   *model.TransferAttempt `json:"attempt"`
	Challenge *ChallengeView         `json:"challenge,omitempty"`
}

// Initiate locks an active device for transfer and issues a code to its owner.
// Nothing is created when a guard fails.
func (w *Workflow) Initiate(ctx context.Context, input InitiateInput) (*model.TransferAttempt, error) {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	if err := transferValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	var dev *model.Device
	var err error
	if input.DeviceID != "" {
		dev, err = w.registry.Get(ctx, input.DeviceID)
	} else {
		dev, err = w.registry.Lookup(ctx, input.Identifier)
	}
	if err != nil {
		return nil, err
	}
	if dev.OwnerID != input.ActorID {
		return nil, errs.ErrNotOwner
	}
	if dev.Status != model.DeviceActive {
		return nil, fmt.Errorf("%w: device is %s", errs.ErrDeviceNotTransferable, dev.Status)
	}

	toOwnerID, err := w.resolveRecipient(ctx, input.ToOwnerEmailOrID, input.ActorID)
	if err != nil {
		return nil, err
	}
	contact, err := w.senderContact(ctx, input.ActorID)
	if err != nil {
		return nil, err
	}

	attemptID := uuid.NewString()
	_, err = w.registry.SetStatus(ctx, registry.StatusChange{
		DeviceID:        dev.ID,
		Status:          model.DeviceTransferPending,
		ActorID:         input.ActorID,
		Note:            "transfer initiated",
		AttemptID:       attemptID,
		ExpectedOwnerID: input.ActorID,
		ExpectedStatus:  model.DeviceActive,
	})
	switch {
	case errors.Is(err, errs.ErrInvalidTransition):
		return nil, fmt.Errorf("%w: %w", errs.ErrDeviceNotTransferable, err)
	case errors.Is(err, errs.ErrOwnershipMismatch):
		return nil, errs.ErrNotOwner
	case err != nil:
		return nil, err
	}

	w.supersede(ctx, dev.ID)

	now := w.now()
	a := &model.TransferAttempt{
		ID:               attemptID,
		DeviceID:         dev.ID,
		FromOwnerID:      input.ActorID,
		ToOwnerEmailOrID: input.ToOwnerEmailOrID,
		ToOwnerID:        toOwnerID,
		State:            model.TransferInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(w.cfg.AttemptTTL),
	}

	unlock := w.locks.Lock(a.ID)
	defer unlock()

	if err := w.attempts.CreateAttempt(ctx, a); err != nil {
		lFunc.Errorf("could not store transfer attempt for device %s: %s", dev.ID, err)
		if rerr := w.release(ctx, a, input.ActorID, "transfer could not be started"); rerr != nil {
			lFunc.Errorf("could not release device %s: %s", dev.ID, rerr)
		}
		return nil, err
	}

	c, err := w.challenges.Issue(ctx, a.ID, *contact)
	if err != nil {
		lFunc.Errorf("could not issue challenge for transfer %s: %s", a.ID, err)
		if ferr := w.finish(ctx, a, model.TransferFailed, model.FailureChallengeUnavailable, input.ActorID, true); ferr != nil {
			lFunc.Errorf("could not fail transfer %s: %s", a.ID, ferr)
		}
		return nil, err
	}

	a.State = model.TransferChallengeIssued
	a.ChallengeID = c.ID
	a.UpdatedAt = w.now()
	if err := w.attempts.UpdateAttempt(ctx, a); err != nil {
		lFunc.Errorf("could not record challenge of transfer %s: %s", a.ID, err)
		if ferr := w.finish(ctx, a, model.TransferFailed, model.FailureChallengeUnavailable, input.ActorID, true); ferr != nil {
			lFunc.Errorf("could not fail transfer %s: %s", a.ID, ferr)
		}
		return nil, err
	}

	lFunc.Infof("transfer %s of device %s started by %s", a.ID, dev.ID, input.ActorID)
	return a, nil
}

// Get returns an attempt with its current challenge. Only the sending owner may read it.
func (w *Workflow) Get(ctx context.Context, attemptID, actorID string) (*View, error) {
	unlock := w.locks.Lock(attemptID)
	defer unlock()

	a, err := w.load(ctx, attemptID, actorID)
	if err != nil {
		return nil, err
	}
	if !a.State.Terminal() {
		if err := w.checkDeadline(ctx, a, actorID); err != nil && !errors.Is(err, errs.ErrAttemptExpired) {
			return nil, err
		}
	}

	view := &View{Attempt: a}
	if a.ChallengeID != "" && !a.State.Terminal() {
		c, err := w.challenges.Get(ctx, a.ChallengeID)
		if err != nil {
			return nil, err
		}
		view.Challenge = &ChallengeView{
			Destination:       c.Destination,
			Channel:           c.Channel,
			ExpiresAt:         c.ExpiresAt,
			AttemptsRemaining: c.AttemptsRemaining,
		}
	}
	return view, nil
}

// Verify submits the owner's code. A wrong code keeps the attempt open and returns
// *errs.OTPRejectedError; an expired or exhausted code ends the attempt and releases the device.
func (w *Workflow) Verify(ctx context.Context, attemptID, actorID, code string) (*model.TransferAttempt, error) {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	unlock := w.locks.Lock(attemptID)
	defer unlock()

	a, err := w.live(ctx, attemptID, actorID)
	if err != nil || a.State.Terminal() {
		return a, err
	}
	if a.State != model.TransferChallengeIssued {
		return a, fmt.Errorf("%w: attempt is %s", errs.ErrStepOutOfOrder, a.State)
	}

	out, err := w.challenges.Verify(ctx, a.ChallengeID, code)
	if err != nil {
		return a, err
	}

	switch out.Result {
	case otp.Accepted:
		a.State = model.TransferIdentityVerified
		a.UpdatedAt = w.now()
		if err := w.attempts.UpdateAttempt(ctx, a); err != nil {
			return a, err
		}
		lFunc.Infof("transfer %s identity verified", a.ID)
		return a, nil
	case otp.Expired:
		if err := w.finish(ctx, a, model.TransferExpired, model.FailureOTPExpired, actorID, true); err != nil {
			return a, err
		}
		return a, errs.ErrOTPExpired
	case otp.Exhausted:
		if err := w.finish(ctx, a, model.TransferFailed, model.FailureOTPExhausted, actorID, true); err != nil {
			return a, err
		}
		return a, errs.ErrOTPExhausted
	default:
		return a, &errs.OTPRejectedError{Remaining: out.Remaining}
	}
}

// SubmitReason records why the device changes hands and finalizes the transfer.
func (w *Workflow) SubmitReason(ctx context.Context, input ReasonInput) (*model.TransferAttempt, error) {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	if err := transferValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	unlock := w.locks.Lock(input.AttemptID)
	defer unlock()

	a, err := w.live(ctx, input.AttemptID, input.ActorID)
	if err != nil || a.State.Terminal() {
		return a, err
	}
	if a.State != model.TransferIdentityVerified && a.State != model.TransferReasonCollected {
		return a, fmt.Errorf("%w: attempt is %s", errs.ErrStepOutOfOrder, a.State)
	}

	custom := strings.TrimSpace(input.CustomReason)
	if input.ReasonCode == model.ReasonOther && custom == "" {
		return a, errs.ErrMissingReason
	}
	if input.ReasonCode != model.ReasonOther {
		custom = ""
	}

	a.ReasonCode = input.ReasonCode
	a.CustomReason = custom
	a.State = model.TransferReasonCollected
	a.UpdatedAt = w.now()
	if err := w.attempts.UpdateAttempt(ctx, a); err != nil {
		return a, err
	}

	return w.complete(ctx, a)
}

// Complete finalizes an attempt whose reason was collected. Finished attempts return their stored result.
func (w *Workflow) Complete(ctx context.Context, attemptID, actorID string) (*model.TransferAttempt, error) {
	unlock := w.locks.Lock(attemptID)
	defer unlock()

	a, err := w.live(ctx, attemptID, actorID)
	if err != nil || a.State.Terminal() {
		return a, err
	}
	if a.State != model.TransferReasonCollected {
		return a, fmt.Errorf("%w: attempt is %s", errs.ErrStepOutOfOrder, a.State)
	}
	return w.complete(ctx, a)
}

// Cancel aborts an open attempt and releases the device right away.
func (w *Workflow) Cancel(ctx context.Context, attemptID, actorID string) (*model.TransferAttempt, error) {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	unlock := w.locks.Lock(attemptID)
	defer unlock()

	a, err := w.load(ctx, attemptID, actorID)
	if err != nil {
		return nil, err
	}
	if a.State.Terminal() {
		return a, errs.ErrAttemptAlreadyTerminal
	}
	if err := w.checkDeadline(ctx, a, actorID); err != nil {
		return a, err
	}

	if err := w.finish(ctx, a, model.TransferFailed, model.FailureCancelled, actorID, true); err != nil {
		return a, err
	}
	lFunc.Infof("transfer %s cancelled by %s", a.ID, actorID)
	return a, nil
}

// Resend replaces the current challenge with a fresh one while the code step is pending.
func (w *Workflow) Resend(ctx context.Context, attemptID, actorID string) (*model.TransferAttempt, error) {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	unlock := w.locks.Lock(attemptID)
	defer unlock()

	a, err := w.live(ctx, attemptID, actorID)
	if err != nil || a.State.Terminal() {
		return a, err
	}
	if a.State != model.TransferChallengeIssued {
		return a, fmt.Errorf("%w: attempt is %s", errs.ErrStepOutOfOrder, a.State)
	}
	if a.Resends >= w.cfg.MaxResends {
		return a, errs.ErrResendLimit
	}

	contact, err := w.senderContact(ctx, a.FromOwnerID)
	if err != nil {
		return a, err
	}
	if err := w.challenges.Revoke(ctx, a.ChallengeID); err != nil {
		return a, err
	}
	c, err := w.challenges.Issue(ctx, a.ID, *contact)
	if err != nil {
		return a, err
	}

	a.ChallengeID = c.ID
	a.Resends++
	a.UpdatedAt = w.now()
	if err := w.attempts.UpdateAttempt(ctx, a); err != nil {
		return a, err
	}
	lFunc.Infof("transfer %s challenge re-issued (%d/%d)", a.ID, a.Resends, w.cfg.MaxResends)
	return a, nil
}

// ExpireStale moves every open attempt past its deadline to Expired and releases its device.
func (w *Workflow) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	stale, err := w.attempts.ListStaleAttempts(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, s := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		ok, err := w.expireOne(ctx, s.ID, now)
		if err != nil {
			lFunc.Errorf("could not expire transfer %s: %s", s.ID, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (w *Workflow) expireOne(ctx context.Context, attemptID string, now time.Time) (bool, error) {
	unlock := w.locks.Lock(attemptID)
	defer unlock()

	a, err := w.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return false, err
	}
	if a.State.Terminal() || now.Before(a.ExpiresAt) {
		return false, nil
	}
	return true, w.finish(ctx, a, model.TransferExpired, model.FailureAttemptExpired, SystemActor, true)
}

// complete commits the ownership change. A concurrent registry change wins: the attempt fails
// and the device keeps whatever status the registry reports.
func (w *Workflow) complete(ctx context.Context, a *model.TransferAttempt) (*model.TransferAttempt, error) {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	_, err := w.registry.TransferOwnership(ctx, a.DeviceID, a.ID, a.FromOwnerID, a.ToOwnerID)
	if errors.Is(err, errs.ErrOwnershipMismatch) {
		// An earlier commit may have moved the device before the attempt could be saved.
		if dev, gerr := w.registry.Get(ctx, a.DeviceID); gerr == nil && dev.OwnerID == a.ToOwnerID && dev.OwnerID != a.FromOwnerID {
			err = nil
		}
	}
	if err != nil {
		if !errors.Is(err, errs.ErrOwnershipMismatch) {
			return a, err
		}
		lFunc.Warnf("transfer %s lost the device: %s", a.ID, err)
		if ferr := w.finish(ctx, a, model.TransferFailed, model.FailureOwnershipMismatch, a.FromOwnerID, false); ferr != nil {
			return a, ferr
		}
		return a, errs.ErrOwnershipMismatch
	}

	now := w.now()
	a.State = model.TransferCompleted
	a.CompletedAt = &now
	a.UpdatedAt = now
	if err := w.attempts.UpdateAttempt(ctx, a); err != nil {
		return a, err
	}
	lFunc.Infof("transfer %s completed, device %s now owned by %s", a.ID, a.DeviceID, a.ToOwnerID)
	return a, nil
}

// finish moves an attempt to a terminal state, optionally releasing the device first.
func (w *Workflow) finish(ctx context.Context, a *model.TransferAttempt, state model.TransferState, reason model.FailureReason, actorID string, release bool) error {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	if release {
		if err := w.release(ctx, a, actorID, fmt.Sprintf("transfer %s", reason)); err != nil {
			return err
		}
	}
	if a.ChallengeID != "" {
		if err := w.challenges.Revoke(ctx, a.ChallengeID); err != nil {
			lFunc.Warnf("could not revoke challenge %s: %s", a.ChallengeID, err)
		}
	}

	a.State = state
	a.FailureReason = reason
	a.UpdatedAt = w.now()
	if err := w.attempts.UpdateAttempt(ctx, a); err != nil {
		return err
	}
	lFunc.Infof("transfer %s ended %s (%s)", a.ID, state, reason)
	return nil
}

// release returns the device to active if it is still locked by this transfer.
// A device that moved on in the meantime is left alone.
func (w *Workflow) release(ctx context.Context, a *model.TransferAttempt, actorID, note string) error {
	_, err := w.registry.SetStatus(ctx, registry.StatusChange{
		DeviceID:          a.DeviceID,
		Status:            model.DeviceActive,
		ActorID:           actorID,
		Note:              note,
		ExpectedOwnerID:   a.FromOwnerID,
		ExpectedStatus:    model.DeviceTransferPending,
		ExpectedAttemptID: a.ID,
	})
	if errors.Is(err, errs.ErrInvalidTransition) || errors.Is(err, errs.ErrOwnershipMismatch) {
		return nil
	}
	return err
}

// supersede fails open attempts left behind on a device whose pending lock was broken by a report.
// Their lock is gone, so they must not release the new one.
func (w *Workflow) supersede(ctx context.Context, deviceID string) {
	lFunc := logging.ConfigureLogger(ctx, w.logger)

	open, err := w.attempts.ListOpenAttemptsByDevice(ctx, deviceID)
	if err != nil {
		lFunc.Errorf("could not list open transfers of device %s: %s", deviceID, err)
		return
	}
	for _, o := range open {
		func() {
			unlock := w.locks.Lock(o.ID)
			defer unlock()

			a, err := w.attempts.GetAttempt(ctx, o.ID)
			if err != nil || a.State.Terminal() {
				return
			}
			if err := w.finish(ctx, a, model.TransferFailed, model.FailureOwnershipMismatch, a.FromOwnerID, false); err != nil {
				lFunc.Errorf("could not close superseded transfer %s: %s", a.ID, err)
			}
		}()
	}
}

// load fetches an attempt on behalf of its sending owner.
func (w *Workflow) load(ctx context.Context, attemptID, actorID string) (*model.TransferAttempt, error) {
	a, err := w.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.FromOwnerID != actorID {
		return nil, errs.ErrNotOwner
	}
	return a, nil
}

// live loads an attempt and applies the pull-based checks every step shares. Terminal attempts come
// back with their stored error (nil for Completed); attempts past their deadline are expired first.
func (w *Workflow) live(ctx context.Context, attemptID, actorID string) (*model.TransferAttempt, error) {
	a, err := w.load(ctx, attemptID, actorID)
	if err != nil {
		return nil, err
	}
	if a.State.Terminal() {
		return a, terminalErr(a)
	}
	if err := w.checkDeadline(ctx, a, actorID); err != nil {
		return a, err
	}
	return a, nil
}

func (w *Workflow) checkDeadline(ctx context.Context, a *model.TransferAttempt, actorID string) error {
	if w.now().Before(a.ExpiresAt) {
		return nil
	}
	if err := w.finish(ctx, a, model.TransferExpired, model.FailureAttemptExpired, actorID, true); err != nil {
		return err
	}
	return errs.ErrAttemptExpired
}

// terminalErr is the error a finished attempt answers with on every later call.
func terminalErr(a *model.TransferAttempt) error {
	switch a.State {
	case model.TransferCompleted:
		return nil
	case model.TransferFailed:
		switch a.FailureReason {
		case model.FailureOTPExhausted:
			return errs.ErrOTPExhausted
		case model.FailureOwnershipMismatch:
			return errs.ErrOwnershipMismatch
		}
		return errs.ErrAttemptAlreadyTerminal
	case model.TransferExpired:
		if a.FailureReason == model.FailureOTPExpired {
			return errs.ErrOTPExpired
		}
		return errs.ErrAttemptExpired
	}
	return nil
}

func (w *Workflow) resolveRecipient(ctx context.Context, to, actorID string) (string, error) {
	to = strings.TrimSpace(to)
	ownerID := to
	if strings.Contains(to, "@") {
		c, err := w.contacts.FindContactByEmail(ctx, to)
		if errors.Is(err, errs.ErrNotFound) {
			return "", fmt.Errorf("%w: no account for %s", errs.ErrInvalidRecipient, to)
		}
		if err != nil {
			return "", err
		}
		ownerID = c.OwnerID
	}
	if ownerID == "" || ownerID == actorID {
		return "", fmt.Errorf("%w: cannot transfer to the current owner", errs.ErrInvalidRecipient)
	}
	return ownerID, nil
}

func (w *Workflow) senderContact(ctx context.Context, ownerID string) (*model.OwnerContact, error) {
	c, err := w.contacts.GetContact(ctx, ownerID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrNoContactChannel
	}
	if err != nil {
		return nil, err
	}
	if _, _, err := otp.Route(*c); err != nil {
		return nil, err
	}
	return c, nil
}
