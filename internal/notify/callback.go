package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/paybridge/internal/events"
	"github.com/noah-isme/paybridge/internal/obs"
)

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Dispatcher delivers signed outcome callbacks to the host application.
type Dispatcher struct {
	URL       string
	Secret    string
	Client    *http.Client
	Enabled   bool
	Replay    ReplayProtector
	ReplayTTL time.Duration
}

type callbackPayload struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	AttemptID  string          `json:"attemptId"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Deliver posts one event to the configured callback URL. A non-2xx response
// is an error so the task queue retries with backoff.
func (d *Dispatcher) Deliver(ctx context.Context, ev events.Event) error {
	if d == nil || !d.Enabled || strings.TrimSpace(d.URL) == "" {
		return nil
	}
	if d.Client == nil {
		d.Client = HttpClient(5000, false)
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("callback.event_id", ev.ID),
		attribute.String("callback.topic", ev.Topic),
	)

	if err := validateURL(d.URL); err != nil {
		span.RecordError(err)
		return err
	}

	eventID := strconv.FormatInt(ev.ID, 10)
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	body, err := json.Marshal(callbackPayload{
		EventID:    eventID,
		Topic:      ev.Topic,
		AttemptID:  ev.AttemptID,
		Data:       json.RawMessage(ev.Payload),
		OccurredAt: occurred,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if d.Replay != nil && d.ReplayTTL > 0 {
		ok, err := d.Replay.Acquire(ctx, "cb:"+eventID, d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return nil
		}
	}

	ts := time.Now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "paybridge-callbacks/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", eventID)
	req.Header.Set("X-Signature", ComputeSignature(d.Secret, ts, eventID, body))

	resp, err := d.Client.Do(req)
	if err != nil {
		observeDelivery("failed")
		span.RecordError(err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observeDelivery("failed")
		return fmt.Errorf("notify: callback returned %s", resp.Status)
	}
	observeDelivery("delivered")
	return nil
}

func observeDelivery(result string) {
	if obs.CallbackDeliveriesTotal != nil {
		obs.CallbackDeliveriesTotal.WithLabelValues(result).Inc()
	}
}

// ComputeSignature calculates the callback signature for the provided payload.
// The format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the shared secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HttpClient returns an HTTP client configured for callback delivery.
func HttpClient(timeoutMs int, insecure bool) *http.Client {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = insecureTLSConfig
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Transport: otelhttp.NewTransport(transport),
	}
}

var insecureTLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid callback url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http callback only allowed for localhost")
		}
	default:
		return errors.New("callback url must be http(s)")
	}
	if parsed.Host == "" {
		return errors.New("callback url must include host")
	}
	return nil
}
