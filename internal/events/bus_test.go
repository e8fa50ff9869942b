package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paybridge/internal/events"
)

type stubStore struct {
	nextID    int64
	lastTopic string
	lastID    string
	lastBody  []byte
}

func (s *stubStore) InsertEvent(_ context.Context, topic, attemptID string, payload []byte) (events.Event, error) {
	s.nextID++
	s.lastTopic = topic
	s.lastID = attemptID
	s.lastBody = payload
	return events.Event{
		ID:         s.nextID,
		Topic:      topic,
		AttemptID:  attemptID,
		Payload:    payload,
		OccurredAt: time.Now(),
	}, nil
}

type captureScheduler struct {
	events []events.Event
}

func (c *captureScheduler) Schedule(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	events []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	scheduler := &captureScheduler{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Scheduler: scheduler,
		Notifiers: []events.Notifier{notifier},
	}

	payload := map[string]any{"orderId": "o1"}
	event, err := bus.Emit(context.Background(), events.TopicPaymentConfirmed, "attempt-1", payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicPaymentConfirmed, store.lastTopic)
	require.Equal(t, "attempt-1", store.lastID)
	require.JSONEq(t, `{"orderId":"o1"}`, string(store.lastBody))
	require.Len(t, scheduler.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, scheduler.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "o1", decoded["orderId"])
}

func TestEmitRequiresTopicAndAttempt(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), "", "attempt-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicPaymentFailed, "", nil)
	require.Error(t, err)
}

func TestEmitRejectsInvalidJSONPayload(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), events.TopicPaymentFailed, "attempt-1", []byte("{not json"))
	require.Error(t, err)
}
