package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/paybridge/internal/events"
)

// Task type names registered with the asynq server.
const (
	TypeAttemptExpire   = "payment:expire"
	TypeCallbackDeliver = "callback:deliver"
)

// Queue names used by the worker.
const (
	QueuePayments  = "payments"
	QueueCallbacks = "callbacks"
)

// AttemptExpirePayload identifies the attempt to expire.
type AttemptExpirePayload struct {
	AttemptID string `json:"attemptId"`
}

// NewAttemptExpireTask builds the deferred expiry task for an attempt.
func NewAttemptExpireTask(attemptID string) (*asynq.Task, error) {
	payload, err := json.Marshal(AttemptExpirePayload{AttemptID: attemptID})
	if err != nil {
		return nil, fmt.Errorf("tasks: encode expire payload: %w", err)
	}
	return asynq.NewTask(TypeAttemptExpire, payload), nil
}

// CallbackDeliverPayload carries the event to deliver to the host callback.
type CallbackDeliverPayload struct {
	EventID    int64           `json:"eventId"`
	Topic      string          `json:"topic"`
	AttemptID  string          `json:"attemptId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt int64           `json:"occurredAt"`
}

// NewCallbackDeliverTask builds a delivery task for one domain event.
func NewCallbackDeliverTask(ev events.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(CallbackDeliverPayload{
		EventID:    ev.ID,
		Topic:      ev.Topic,
		AttemptID:  ev.AttemptID,
		Payload:    json.RawMessage(ev.Payload),
		OccurredAt: ev.OccurredAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("tasks: encode callback payload: %w", err)
	}
	return asynq.NewTask(TypeCallbackDeliver, payload), nil
}
