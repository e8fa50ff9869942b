package payer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paybridge/internal/payer"
	"github.com/noah-isme/paybridge/internal/resilience"
)

func newResolver(t *testing.T, handler http.HandlerFunc) *payer.Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &payer.Resolver{
		BaseURL: srv.URL,
		HTTP: &resilience.HTTPClient{
			Client:  srv.Client(),
			Timeout: time.Second,
		},
	}
}

func TestResolveReturnsProfile(t *testing.T) {
	resolver := newResolver(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "buyer@example.com", r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u-1","email":"buyer@example.com","phone":"0812345678"}`))
	})

	profile, err := resolver.Resolve(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	require.Equal(t, "u-1", profile.ID)
	require.Equal(t, "0812345678", profile.Phone)
}

func TestResolveEmptyEmail(t *testing.T) {
	resolver := newResolver(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("identity service must not be called for an empty email")
	})

	_, err := resolver.Resolve(context.Background(), "   ")
	require.ErrorIs(t, err, payer.ErrIdentityUnavailable)
}

func TestResolveProfileMissing(t *testing.T) {
	resolver := newResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := resolver.Resolve(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, payer.ErrProfileMissing)
}

func TestResolveMissingPhoneIsDistinct(t *testing.T) {
	resolver := newResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u-2","email":"nophone@example.com","phone":""}`))
	})

	_, err := resolver.Resolve(context.Background(), "nophone@example.com")
	require.ErrorIs(t, err, payer.ErrMissingContactInfo)
	require.NotErrorIs(t, err, payer.ErrProfileMissing)
}

func TestResolveUpstreamFailure(t *testing.T) {
	resolver := newResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := resolver.Resolve(context.Background(), "buyer@example.com")
	require.ErrorIs(t, err, payer.ErrIdentityUnavailable)
}
