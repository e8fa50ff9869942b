package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/paybridge/internal/events"
)

// Scheduler enqueues background work through asynq. It satisfies both the
// controller's ExpiryScheduler and the event bus DeliveryScheduler.
type Scheduler struct {
	Client      *asynq.Client
	MaxAttempts int
}

// ScheduleExpiry arranges for the attempt to be expired at the deadline.
// The task id makes rescheduling for the same attempt a no-op.
func (s Scheduler) ScheduleExpiry(ctx context.Context, attemptID string, at time.Time) error {
	if s.Client == nil {
		return errors.New("tasks: asynq client not configured")
	}
	task, err := NewAttemptExpireTask(attemptID)
	if err != nil {
		return err
	}
	_, err = s.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueuePayments),
		asynq.TaskID("expire:"+attemptID),
		asynq.ProcessAt(at),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Schedule enqueues a callback delivery for an emitted domain event.
func (s Scheduler) Schedule(ctx context.Context, ev events.Event) error {
	if s.Client == nil {
		return errors.New("tasks: asynq client not configured")
	}
	task, err := NewCallbackDeliverTask(ev)
	if err != nil {
		return err
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	_, err = s.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueueCallbacks),
		asynq.MaxRetry(maxAttempts),
	)
	return err
}
