package store

import (
	"context"

	"github.com/noah-isme/paybridge/internal/lifecycle"
)

// AttemptRecorder adapts the Store to the controller's Recorder dependency.
type AttemptRecorder struct {
	S *Store
}

// RecordAttempt mirrors the controller state into the attempts table.
func (r AttemptRecorder) RecordAttempt(ctx context.Context, rec lifecycle.Record) error {
	return r.S.UpsertAttempt(ctx, Attempt{
		ID:         rec.AttemptID,
		State:      string(rec.State),
		ItemRef:    rec.ItemRef,
		Amount:     rec.Amount,
		OrderID:    rec.OrderID,
		SessionID:  rec.SessionID,
		Status:     rec.Status,
		Message:    rec.Message,
		PayerEmail: rec.PayerEmail,
		ExpiresAt:  rec.ExpiresAt,
		UpdatedAt:  rec.UpdatedAt,
	})
}
