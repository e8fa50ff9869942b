package session_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paybridge/internal/payer"
	"github.com/noah-isme/paybridge/internal/resilience"
	"github.com/noah-isme/paybridge/internal/session"
)

func validIntent() session.PaymentIntent {
	return session.PaymentIntent{
		ItemRef: "doc-123",
		Payer: payer.Profile{
			ID:    "u-1",
			Email: "buyer@example.com",
			Phone: "08 1234 5678",
		},
	}
}

func newInitializer(t *testing.T, handler http.HandlerFunc) *session.Initializer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return session.NewInitializer(srv.URL, &resilience.HTTPClient{
		Client:  srv.Client(),
		Timeout: time.Second,
	})
}

func TestCreateSessionSuccess(t *testing.T) {
	init := newInitializer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/payment-sessions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "0812345678", body["phone"], "phone must be normalized before the backend sees it")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessionId":"s1","orderId":"o1"}`))
	})

	sess, err := init.Create(context.Background(), validIntent())
	require.NoError(t, err)
	require.Equal(t, "s1", sess.SessionID)
	require.Equal(t, "o1", sess.OrderID)
	require.False(t, sess.CreatedAt.IsZero())
}

func TestCreateValidationIsExhaustive(t *testing.T) {
	init := newInitializer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("invalid input must never reach the backend")
	})

	intent := session.PaymentIntent{
		ItemRef: "",
		Payer: payer.Profile{
			ID:    "",
			Email: "not-an-email",
			Phone: "123456789",
		},
	}
	_, err := init.Create(context.Background(), intent)

	var verr *session.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{
		"item reference is required",
		"email must match local@domain.tld",
		"phone must contain exactly 10 digits",
		"user id is required",
	}, verr.Violations)
}

func TestCreateRejectsBadAmounts(t *testing.T) {
	cases := map[string]float64{
		"zero":     0,
		"negative": -10,
		"infinite": math.Inf(1),
		"nan":      math.NaN(),
	}
	for name, amount := range cases {
		t.Run(name, func(t *testing.T) {
			init := newInitializer(t, func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("invalid input must never reach the backend")
			})
			intent := validIntent()
			intent.Amount = &amount

			_, err := init.Create(context.Background(), intent)
			var verr *session.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Contains(t, verr.Violations, "amount must be a positive finite number")
		})
	}
}

func TestCreateEmailShapes(t *testing.T) {
	valid := []string{"a@b.co", "first.last@sub.domain.tld"}
	invalid := []string{"a@b", "@domain.tld", "a b@c.de", "a@b.c"}

	for _, email := range valid {
		init := newInitializer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"sessionId":"s1","orderId":"o1"}`))
		})
		intent := validIntent()
		intent.Payer.Email = email
		_, err := init.Create(context.Background(), intent)
		require.NoError(t, err, "email %q should be accepted", email)
	}
	for _, email := range invalid {
		init := newInitializer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatalf("email %q should have been rejected locally", email)
		})
		intent := validIntent()
		intent.Payer.Email = email
		_, err := init.Create(context.Background(), intent)
		var verr *session.ValidationError
		require.ErrorAs(t, err, &verr, "email %q", email)
	}
}

func TestCreateFailsWithoutAnyIdentifier(t *testing.T) {
	init := newInitializer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := init.Create(context.Background(), validIntent())
	require.ErrorIs(t, err, session.ErrSessionCreationFailed)
}

func TestCreateToleratesPartialIdentifier(t *testing.T) {
	init := newInitializer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderId":"o9"}`))
	})

	sess, err := init.Create(context.Background(), validIntent())
	require.NoError(t, err)
	require.Equal(t, "o9", sess.OrderID)
	require.Empty(t, sess.SessionID)
}

func TestCreateBackendError(t *testing.T) {
	init := newInitializer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := init.Create(context.Background(), validIntent())
	require.ErrorIs(t, err, session.ErrSessionCreationFailed)
}
