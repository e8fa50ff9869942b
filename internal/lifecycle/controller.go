package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/paybridge/internal/bridge"
	"github.com/noah-isme/paybridge/internal/events"
	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/payer"
	"github.com/noah-isme/paybridge/internal/session"
)

var (
	// ErrAttemptAlreadyStarted indicates Start was called twice on one attempt.
	ErrAttemptAlreadyStarted = errors.New("lifecycle: attempt already started")
	// ErrMessageDiscarded indicates a bridge message arrived in a state that
	// does not accept results and was dropped without any transition.
	ErrMessageDiscarded = errors.New("lifecycle: message discarded")
)

// PayerResolver resolves the payer profile needed to open a session.
type PayerResolver interface {
	Resolve(ctx context.Context, email string) (payer.Profile, error)
}

// SessionCreator opens a payment session with the gateway backend.
type SessionCreator interface {
	Create(ctx context.Context, intent session.PaymentIntent) (session.Session, error)
}

// Verifier confirms a reported success against the order backend.
type Verifier interface {
	Verify(ctx context.Context, orderID, sessionID string) error
}

// Recorder mirrors controller state into durable storage.
type Recorder interface {
	RecordAttempt(ctx context.Context, rec Record) error
}

// Record is the durable snapshot handed to the Recorder.
type Record struct {
	AttemptID  string
	State      State
	ItemRef    string
	Amount     *float64
	OrderID    string
	SessionID  string
	Status     string
	Message    string
	PayerEmail string
	ExpiresAt  time.Time
	UpdatedAt  time.Time
}

// Publisher fans domain events out to downstream handlers.
type Publisher interface {
	Emit(ctx context.Context, topic, attemptID string, payload any) (events.Event, error)
}

// ExpiryScheduler arranges for an attempt to be expired if no result arrives.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, attemptID string, at time.Time) error
}

// Deps are the collaborators a Controller drives. Recorder, Bus and Expiry
// are optional; their failures are logged, never allowed to derail the
// attempt itself.
type Deps struct {
	Payer      PayerResolver
	Sessions   SessionCreator
	Verifier   Verifier
	Recorder   Recorder
	Bus        Publisher
	Expiry     ExpiryScheduler
	SessionTTL time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Input is the purchase intent that starts an attempt.
type Input struct {
	ItemRef string   `json:"itemRef"`
	Email   string   `json:"email"`
	Amount  *float64 `json:"amount,omitempty"`
}

// Snapshot is a read-only view of the controller at one point in time.
type Snapshot struct {
	AttemptID  string                 `json:"attemptId"`
	State      State                  `json:"state"`
	OrderID    string                 `json:"orderId,omitempty"`
	SessionID  string                 `json:"sessionId,omitempty"`
	Status     bridge.CanonicalStatus `json:"status,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Navigation Navigation             `json:"navigation,omitempty"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// Controller owns the state machine for exactly one payment attempt. All
// mutable attempt state lives here; nothing is shared across attempts.
type Controller struct {
	mu           sync.Mutex
	id           string
	deps         Deps
	state        State
	intent       Input
	profile      payer.Profile
	sess         session.Session
	status       bridge.CanonicalStatus
	message      string
	closePending bool
	expiresAt    time.Time
	updatedAt    time.Time
}

// New returns an idle controller for the given attempt id.
func New(id string, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{id: id, deps: deps, state: StateIdle, updatedAt: deps.Now()}
}

// ID returns the attempt identifier.
func (c *Controller) ID() string { return c.id }

// Snapshot returns the current view of the attempt.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Start drives the attempt from Idle through payer resolution and session
// creation into AwaitingResult. Validation failures return the attempt to
// Idle untouched; nothing left the process, so the same attempt may restart
// with corrected input. Resolution and session failures are terminal.
func (c *Controller) Start(ctx context.Context, in Input) (Snapshot, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrAttemptAlreadyStarted
	}
	c.intent = in
	c.transitionLocked(ctx, StateValidatingPayer, "")
	c.mu.Unlock()

	profile, err := c.deps.Payer.Resolve(ctx, in.Email)

	c.mu.Lock()
	if c.state != StateValidatingPayer {
		// Aborted while the profile fetch was in flight; discard the result.
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	if err != nil {
		snap := c.failTerminalLocked(ctx, StateFailed, resolutionMessage(err))
		c.mu.Unlock()
		return snap, err
	}
	c.profile = profile
	c.transitionLocked(ctx, StateCreatingSession, "")
	c.mu.Unlock()

	sess, err := c.deps.Sessions.Create(ctx, session.PaymentIntent{
		ItemRef: in.ItemRef,
		Amount:  in.Amount,
		Payer:   profile,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreatingSession {
		return c.snapshotLocked(), nil
	}
	if err != nil {
		var vErr *session.ValidationError
		if errors.As(err, &vErr) {
			// Local input-shape errors never consume the attempt.
			c.transitionLocked(ctx, StateIdle, "")
			return c.snapshotLocked(), err
		}
		return c.failTerminalLocked(ctx, StateFailed, "payment session could not be created"), err
	}
	c.sess = sess
	if c.deps.SessionTTL > 0 {
		c.expiresAt = c.deps.Now().Add(c.deps.SessionTTL)
	}
	c.transitionLocked(ctx, StateAwaitingResult, "")
	c.emitLocked(ctx, events.TopicSessionCreated, map[string]string{
		"orderId":   sess.OrderID,
		"sessionId": sess.SessionID,
	})
	if c.deps.Expiry != nil && !c.expiresAt.IsZero() {
		if schedErr := c.deps.Expiry.ScheduleExpiry(ctx, c.id, c.expiresAt); schedErr != nil {
			c.deps.Logger.Warn().Err(schedErr).Str("attempt_id", c.id).Msg("schedule_expiry_failed")
		}
	}
	return c.snapshotLocked(), nil
}

// HandleMessage runs one bridge payload through the normalizer and applies
// the outcome. Messages arriving outside AwaitingResult are discarded,
// which also covers duplicate deliveries after a terminal transition.
func (c *Controller) HandleMessage(ctx context.Context, raw []byte) (Snapshot, error) {
	c.mu.Lock()
	if c.state != StateAwaitingResult {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrMessageDiscarded
	}
	res := bridge.Normalize(raw, c.sess.OrderID, c.sess.SessionID)
	c.status = res.Status

	switch res.Status {
	case bridge.StatusFailed:
		msg := res.ErrorMessage
		if msg == "" {
			msg = "payment failed"
		}
		snap := c.failTerminalLocked(ctx, StateFailed, msg)
		c.mu.Unlock()
		return snap, nil
	case bridge.StatusCancelled:
		snap := c.failTerminalLocked(ctx, StateCancelled, "payment cancelled")
		c.mu.Unlock()
		return snap, nil
	case bridge.StatusUnknown:
		snap := c.failTerminalLocked(ctx, StateUnknownResult, "payment result could not be determined")
		c.mu.Unlock()
		return snap, nil
	}

	// Canonical SUCCESS: never declared to the user before reconciliation.
	c.transitionLocked(ctx, StateReconciling, "")
	c.mu.Unlock()

	err := c.deps.Verifier.Verify(ctx, res.OrderID, res.SessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReconciling {
		return c.snapshotLocked(), nil
	}
	if err != nil {
		return c.failTerminalLocked(ctx, StateVerificationFailed, "payment succeeded but verification failed: "+err.Error()), nil
	}
	c.transitionLocked(ctx, StateConfirmed, "payment confirmed")
	c.recordTerminalLocked(ctx)
	return c.snapshotLocked(), nil
}

// RequestClose handles user-initiated interruption. While AwaitingResult,
// only a confirmed close terminates the transaction; unconfirmed closes,
// however many, just arm the confirmation step. In every other non-terminal
// state a single close aborts immediately.
func (c *Controller) RequestClose(ctx context.Context, confirmed bool) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle || c.state.Terminal() {
		return c.snapshotLocked()
	}
	if c.state == StateAwaitingResult && !confirmed {
		c.closePending = true
		return c.snapshotLocked()
	}
	snap := c.failTerminalLocked(ctx, StateAbortedByUser, "payment aborted by user")
	return snap
}

// ClosePending reports whether a first close signal has been received.
func (c *Controller) ClosePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closePending
}

// Expire moves an attempt that never received a result into Failed. Only
// valid while AwaitingResult; a concurrent terminal transition wins.
func (c *Controller) Expire(ctx context.Context) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAwaitingResult {
		return c.snapshotLocked(), false
	}
	snap := c.failTerminalLocked(ctx, StateFailed, "payment session expired")
	c.emitLocked(ctx, events.TopicPaymentExpired, map[string]string{"attemptId": c.id})
	if obs.AttemptExpiredTotal != nil {
		obs.AttemptExpiredTotal.Inc()
	}
	return snap, true
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		AttemptID:  c.id,
		State:      c.state,
		OrderID:    c.sess.OrderID,
		SessionID:  c.sess.SessionID,
		Status:     c.status,
		Message:    c.message,
		Navigation: navigationFor(c.state),
		UpdatedAt:  c.updatedAt,
	}
}

func (c *Controller) transitionLocked(ctx context.Context, next State, message string) {
	prev := c.state
	c.state = next
	c.message = message
	c.updatedAt = c.deps.Now()
	c.deps.Logger.Info().
		Str("attempt_id", c.id).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("attempt_transition")
	c.recordLocked(ctx)
}

func (c *Controller) failTerminalLocked(ctx context.Context, terminal State, message string) Snapshot {
	c.transitionLocked(ctx, terminal, message)
	c.recordTerminalLocked(ctx)
	return c.snapshotLocked()
}

func (c *Controller) recordTerminalLocked(ctx context.Context) {
	if obs.AttemptTotal != nil {
		obs.AttemptTotal.WithLabelValues(string(c.state)).Inc()
	}
	topic := terminalTopic(c.state)
	if topic == "" {
		return
	}
	c.emitLocked(ctx, topic, map[string]string{
		"attemptId":  c.id,
		"orderId":    c.sess.OrderID,
		"sessionId":  c.sess.SessionID,
		"message":    c.message,
		"payerEmail": c.profile.Email,
	})
}

func (c *Controller) recordLocked(ctx context.Context) {
	if c.deps.Recorder == nil {
		return
	}
	rec := Record{
		AttemptID:  c.id,
		State:      c.state,
		ItemRef:    c.intent.ItemRef,
		Amount:     c.intent.Amount,
		OrderID:    c.sess.OrderID,
		SessionID:  c.sess.SessionID,
		Status:     string(c.status),
		Message:    c.message,
		PayerEmail: c.profile.Email,
		ExpiresAt:  c.expiresAt,
		UpdatedAt:  c.updatedAt,
	}
	if err := c.deps.Recorder.RecordAttempt(ctx, rec); err != nil {
		c.deps.Logger.Warn().Err(err).Str("attempt_id", c.id).Msg("record_attempt_failed")
	}
}

func (c *Controller) emitLocked(ctx context.Context, topic string, payload any) {
	if c.deps.Bus == nil {
		return
	}
	if _, err := c.deps.Bus.Emit(ctx, topic, c.id, payload); err != nil {
		c.deps.Logger.Warn().Err(err).Str("topic", topic).Str("attempt_id", c.id).Msg("emit_event_failed")
	}
}

func terminalTopic(s State) string {
	switch s {
	case StateConfirmed:
		return events.TopicPaymentConfirmed
	case StateFailed:
		return events.TopicPaymentFailed
	case StateCancelled:
		return events.TopicPaymentCancelled
	case StateUnknownResult:
		return events.TopicPaymentUnknown
	case StateVerificationFailed:
		return events.TopicVerificationFailed
	case StateAbortedByUser:
		return events.TopicPaymentAborted
	default:
		return ""
	}
}

func resolutionMessage(err error) string {
	switch {
	case errors.Is(err, payer.ErrProfileMissing):
		return "payer profile not found"
	case errors.Is(err, payer.ErrMissingContactInfo):
		return "payer profile is missing contact information"
	default:
		return "payer identity could not be resolved"
	}
}
