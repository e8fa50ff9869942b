package lifecycle

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paybridge/internal/surface"
)

func newTestHandler(t *testing.T, deps Deps) (*Handler, *Registry) {
	t.Helper()
	reg := NewRegistry(deps)
	h := &Handler{
		Registry: reg,
		Tokens:   surface.TokenIssuer{Secret: []byte("test-secret"), TTL: time.Minute},
		Renderer: surface.Renderer{
			ScriptURL: "https://app.sandbox.midtrans.com/snap/snap.js",
			ClientKey: "ck",
		},
		PublicBaseURL: "https://pay.example.com",
	}
	return h, reg
}

func serve(h *Handler) *httptest.Server {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		h.Mount(r)
	})
	return httptest.NewServer(r)
}

func TestCreateMessageConfirmFlow(t *testing.T) {
	deps, _, _, verifier, _ := testDeps()
	h, _ := newTestHandler(t, deps)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/payments", "application/json",
		strings.NewReader(`{"itemRef":"item-1","email":"a@example.com"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created createResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, StateAwaitingResult, created.State)
	require.Contains(t, created.SurfaceURL, "/surface")

	// Surface renders while the attempt awaits its result.
	surfResp, err := http.Get(srv.URL + "/api/v1/payments/" + created.AttemptID + "/surface")
	require.NoError(t, err)
	defer func() { _ = surfResp.Body.Close() }()
	require.Equal(t, http.StatusOK, surfResp.StatusCode)
	require.Contains(t, surfResp.Header.Get("Content-Type"), "text/html")

	// Deliver a structured success through the message channel.
	token, _, err := h.Tokens.Issue(created.AttemptID)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/payments/"+created.AttemptID+"/messages",
		strings.NewReader(`{"type":"payment_result","result":{"status":"PAID","paymentDetails":{}}}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	msgResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = msgResp.Body.Close() }()
	require.Equal(t, http.StatusOK, msgResp.StatusCode)

	var out messageResp
	require.NoError(t, json.NewDecoder(msgResp.Body).Decode(&out))
	require.Equal(t, StateConfirmed, out.State)
	require.False(t, out.Discarded)
	require.Equal(t, 1, verifier.calls)
}

func TestMessageRejectsBadToken(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	h, _ := newTestHandler(t, deps)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/payments", "application/json",
		strings.NewReader(`{"itemRef":"item-1","email":"a@example.com"}`))
	require.NoError(t, err)
	var created createResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/payments/"+created.AttemptID+"/messages",
		strings.NewReader("payment_cancelled"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	msgResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = msgResp.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, msgResp.StatusCode)
}

func TestMessageAfterTerminalReportsDiscarded(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	h, _ := newTestHandler(t, deps)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/payments", "application/json",
		strings.NewReader(`{"itemRef":"item-1","email":"a@example.com"}`))
	require.NoError(t, err)
	var created createResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()

	token, _, err := h.Tokens.Issue(created.AttemptID)
	require.NoError(t, err)

	send := func(body string) messageResp {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/payments/"+created.AttemptID+"/messages",
			strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = r.Body.Close() }()
		require.Equal(t, http.StatusOK, r.StatusCode)
		var out messageResp
		require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
		return out
	}

	first := send("payment_cancelled")
	require.Equal(t, StateCancelled, first.State)

	second := send(`{"type":"payment_error","error":"late"}`)
	require.True(t, second.Discarded)
	require.Equal(t, StateCancelled, second.State)
}

func TestCloseEndpointTwoSignals(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	h, _ := newTestHandler(t, deps)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/payments", "application/json",
		strings.NewReader(`{"itemRef":"item-1","email":"a@example.com"}`))
	require.NoError(t, err)
	var created createResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()

	closeOnce := func(body string) closeResp {
		r, err := http.Post(srv.URL+"/api/v1/payments/"+created.AttemptID+"/close", "application/json",
			strings.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = r.Body.Close() }()
		var out closeResp
		require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
		return out
	}

	first := closeOnce(`{}`)
	require.Equal(t, StateAwaitingResult, first.State)
	require.True(t, first.ConfirmationRequired)

	second := closeOnce(`{"confirmed":true}`)
	require.Equal(t, StateAbortedByUser, second.State)
}

func TestStatusUnknownAttempt(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	h, _ := newTestHandler(t, deps)
	srv := serve(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/payments/nope")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
