package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/resilience"
)

var (
	// ErrVerificationFailed indicates the order backend rejected the
	// reported payment. A success message alone is never trusted.
	ErrVerificationFailed = errors.New("reconcile: verification failed")
	// ErrBackendUnavailable indicates verification could not complete at all.
	ErrBackendUnavailable = errors.New("reconcile: order backend unavailable")
)

// Reconciler confirms reported payment successes against the order backend
// before any attempt is marked confirmed.
type Reconciler struct {
	BaseURL string
	HTTP    *resilience.HTTPClient
}

type verifyRequest struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"sessionId"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// Verify asks the order backend whether the payment for the given order and
// session actually settled.
func (r *Reconciler) Verify(ctx context.Context, orderID, sessionID string) error {
	if r == nil || r.HTTP == nil {
		return errors.New("reconcile: reconciler not configured")
	}
	ctx, span := otel.Tracer("reconcile.Reconciler").Start(ctx, "Reconciler.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("payment.order_id", orderID))

	started := time.Now()
	err := r.verify(ctx, orderID, sessionID)
	observe(err, time.Since(started))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (r *Reconciler) verify(ctx context.Context, orderID, sessionID string) error {
	if strings.TrimSpace(orderID) == "" && strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: no identifiers to verify", ErrVerificationFailed)
	}

	body, err := json.Marshal(verifyRequest{OrderID: orderID, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("reconcile: encode request: %w", err)
	}
	endpoint := strings.TrimRight(r.BaseURL, "/") + "/api/v1/payments/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reconcile: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: order backend returned %s", ErrVerificationFailed, resp.Status)
	default:
		return fmt.Errorf("%w: unexpected status %s", ErrBackendUnavailable, resp.Status)
	}

	var verdict verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrBackendUnavailable, err)
	}
	if !verdict.Verified {
		if verdict.Reason != "" {
			return fmt.Errorf("%w: %s", ErrVerificationFailed, verdict.Reason)
		}
		return ErrVerificationFailed
	}
	return nil
}

func observe(err error, elapsed time.Duration) {
	result := "verified"
	switch {
	case errors.Is(err, ErrVerificationFailed):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	if obs.ReconcileTotal != nil {
		obs.ReconcileTotal.WithLabelValues(result).Inc()
	}
	if obs.ReconcileLatency != nil {
		obs.ReconcileLatency.WithLabelValues(result).Observe(obs.DurationMillis(elapsed))
	}
}
