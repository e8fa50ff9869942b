package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paybridge/internal/resilience"
)

func newClient() *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client:      &http.Client{Timeout: 2 * time.Second},
		MaxAttempts: 1,
	}
}

func TestVerifyAccepted(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/payments/verify", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"verified": true})
	}))
	defer srv.Close()

	rec := &Reconciler{BaseURL: srv.URL, HTTP: newClient()}
	require.NoError(t, rec.Verify(context.Background(), "o1", "s1"))
	require.Equal(t, "o1", got["orderId"])
	require.Equal(t, "s1", got["sessionId"])
}

func TestVerifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"verified": false, "reason": "amount mismatch"})
	}))
	defer srv.Close()

	rec := &Reconciler{BaseURL: srv.URL, HTTP: newClient()}
	err := rec.Verify(context.Background(), "o1", "s1")
	require.ErrorIs(t, err, ErrVerificationFailed)
	require.ErrorContains(t, err, "amount mismatch")
}

func TestVerifyUnknownOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rec := &Reconciler{BaseURL: srv.URL, HTTP: newClient()}
	require.ErrorIs(t, rec.Verify(context.Background(), "o1", "s1"), ErrVerificationFailed)
}

func TestVerifyBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := &Reconciler{BaseURL: srv.URL, HTTP: newClient()}
	require.ErrorIs(t, rec.Verify(context.Background(), "o1", "s1"), ErrBackendUnavailable)
}

func TestVerifyWithoutIdentifiers(t *testing.T) {
	rec := &Reconciler{BaseURL: "http://localhost:0", HTTP: newClient()}
	require.ErrorIs(t, rec.Verify(context.Background(), "", ""), ErrVerificationFailed)
}
