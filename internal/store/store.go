package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/paybridge/internal/events"
)

// ErrStoreUnavailable indicates the persistence dependency is not configured.
var ErrStoreUnavailable = errors.New("store: unavailable")

// ErrAttemptNotFound indicates no attempt row exists for the given id.
var ErrAttemptNotFound = errors.New("store: attempt not found")

// Attempt is the persisted mirror of one payment attempt. The in-memory
// controller is authoritative while the process lives; the row lets the
// background worker and operators see the attempt after the fact.
type Attempt struct {
	ID         string
	State      string
	ItemRef    string
	Amount     *float64
	OrderID    string
	SessionID  string
	Status     string
	Message    string
	PayerEmail string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store provides pgx-backed persistence for attempts and their events.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// UpsertAttempt inserts the attempt row or updates it in place.
func (s *Store) UpsertAttempt(ctx context.Context, a Attempt) error {
	if s == nil || s.Pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO payment_attempts (id, state, item_ref, amount, order_id, session_id, status, message, payer_email, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  order_id = EXCLUDED.order_id,
  session_id = EXCLUDED.session_id,
  status = EXCLUDED.status,
  message = EXCLUDED.message,
  expires_at = EXCLUDED.expires_at,
  updated_at = EXCLUDED.updated_at`,
		a.ID, a.State, a.ItemRef, a.Amount, a.OrderID, a.SessionID, a.Status, a.Message, a.PayerEmail, nullableTime(a.ExpiresAt), a.UpdatedAt)
	return err
}

// GetAttempt fetches one attempt row by id.
func (s *Store) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	if s == nil || s.Pool == nil {
		return Attempt{}, ErrStoreUnavailable
	}
	row := s.Pool.QueryRow(ctx, `SELECT id, state, item_ref, amount, order_id, session_id, status, message, payer_email, expires_at, created_at, updated_at
FROM payment_attempts WHERE id = $1`, id)
	var a Attempt
	var expiresAt *time.Time
	err := row.Scan(&a.ID, &a.State, &a.ItemRef, &a.Amount, &a.OrderID, &a.SessionID, &a.Status, &a.Message, &a.PayerEmail, &expiresAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, err
	}
	if expiresAt != nil {
		a.ExpiresAt = *expiresAt
	}
	return a, nil
}

// MarkExpired moves an attempt to the expired failure state, but only while
// it is still awaiting a result. A concurrent terminal transition wins.
func (s *Store) MarkExpired(ctx context.Context, id, state, message string, now time.Time) (bool, error) {
	if s == nil || s.Pool == nil {
		return false, ErrStoreUnavailable
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE payment_attempts
SET state = $2, message = $3, updated_at = $4
WHERE id = $1 AND state = 'AWAITING_RESULT'`, id, state, message, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpired returns attempt ids still awaiting a result past their deadline.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if s == nil || s.Pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.Pool.Query(ctx, `SELECT id FROM payment_attempts
WHERE state = 'AWAITING_RESULT' AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertEvent records a domain event for an attempt. Satisfies events.EventStore.
func (s *Store) InsertEvent(ctx context.Context, topic, attemptID string, payload []byte) (events.Event, error) {
	if s == nil || s.Pool == nil {
		return events.Event{}, ErrStoreUnavailable
	}
	var ev events.Event
	err := s.Pool.QueryRow(ctx, `INSERT INTO payment_attempt_events (topic, attempt_id, payload)
VALUES ($1, $2, $3) RETURNING id, topic, attempt_id, payload, occurred_at`,
		topic, attemptID, payload).Scan(&ev.ID, &ev.Topic, &ev.AttemptID, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

// ListEvents returns the events recorded for an attempt in emission order.
func (s *Store) ListEvents(ctx context.Context, attemptID string) ([]events.Event, error) {
	if s == nil || s.Pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, topic, attempt_id, payload, occurred_at
FROM payment_attempt_events WHERE attempt_id = $1 ORDER BY id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []events.Event
	for rows.Next() {
		var ev events.Event
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AttemptID, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
