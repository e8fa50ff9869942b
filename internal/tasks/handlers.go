package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/paybridge/internal/events"
	"github.com/noah-isme/paybridge/internal/lifecycle"
	"github.com/noah-isme/paybridge/internal/notify"
	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/store"
)

// ExpiryHandler expires attempts that never received a bridge result. The
// durable row is updated first; the in-process controller, when this worker
// shares the process with the API, is expired as well.
type ExpiryHandler struct {
	Store    *store.Store
	Registry *lifecycle.Registry
	Logger   zerolog.Logger
}

// ProcessTask implements asynq.Handler for TypeAttemptExpire.
func (h ExpiryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload AttemptExpirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("tasks: decode expire payload: %w", err)
	}

	if h.Registry != nil {
		if c, ok := h.Registry.Get(payload.AttemptID); ok {
			if _, expired := c.Expire(ctx); expired {
				h.Logger.Info().Str("attempt_id", payload.AttemptID).Msg("attempt_expired")
			}
			return nil
		}
	}

	if h.Store == nil {
		return nil
	}
	expired, err := h.Store.MarkExpired(ctx, payload.AttemptID,
		string(lifecycle.StateFailed), "payment session expired", time.Now())
	if err != nil {
		return fmt.Errorf("tasks: mark expired: %w", err)
	}
	if expired {
		if obs.AttemptExpiredTotal != nil {
			obs.AttemptExpiredTotal.Inc()
		}
		h.Logger.Info().Str("attempt_id", payload.AttemptID).Msg("attempt_expired")
	}
	return nil
}

// CallbackHandler delivers one outcome callback to the host application.
type CallbackHandler struct {
	Dispatcher *notify.Dispatcher
	Logger     zerolog.Logger
}

// ProcessTask implements asynq.Handler for TypeCallbackDeliver. Delivery
// errors propagate so asynq retries with its backoff schedule.
func (h CallbackHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload CallbackDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("tasks: decode callback payload: %w", err)
	}
	ev := events.Event{
		ID:         payload.EventID,
		Topic:      payload.Topic,
		AttemptID:  payload.AttemptID,
		Payload:    payload.Payload,
		OccurredAt: time.Unix(payload.OccurredAt, 0),
	}
	if err := h.Dispatcher.Deliver(ctx, ev); err != nil {
		h.Logger.Warn().Err(err).Int64("event_id", ev.ID).Str("topic", ev.Topic).Msg("callback_delivery_failed")
		return err
	}
	return nil
}
