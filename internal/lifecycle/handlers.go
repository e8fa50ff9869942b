package lifecycle

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/paybridge/internal/bridge"
	"github.com/noah-isme/paybridge/internal/common"
	"github.com/noah-isme/paybridge/internal/payer"
	"github.com/noah-isme/paybridge/internal/session"
	"github.com/noah-isme/paybridge/internal/surface"
)

// Handler exposes the HTTP endpoints for payment attempts: creation, status
// polling, the embedded surface, the inbound message channel and close.
type Handler struct {
	Registry      *Registry
	Tokens        surface.TokenIssuer
	Renderer      surface.Renderer
	Replay        bridge.ReplayGuard
	PublicBaseURL string
}

// Mount registers the attempt routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/payments", h.Create)
	r.Route("/payments/{attemptID}", func(r chi.Router) {
		r.Get("/", h.Status)
		r.Get("/surface", h.Surface)
		r.Post("/messages", h.Message)
		r.Post("/close", h.Close)
	})
}

type createResp struct {
	Snapshot
	SurfaceURL string `json:"surfaceUrl,omitempty"`
}

// Create opens a new payment attempt and drives it to AwaitingResult.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENTS_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	c := h.Registry.Create()
	ctx := common.WithAttemptID(r.Context(), c.ID())
	snap, err := c.Start(ctx, in)
	if err != nil {
		var vErr *session.ValidationError
		switch {
		case errors.As(err, &vErr):
			// Nothing left the process; the idle controller is not kept around.
			h.Registry.Remove(c.ID())
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "invalid payment input", map[string]any{"violations": vErr.Violations})
		case errors.Is(err, payer.ErrProfileMissing):
			common.JSONError(w, http.StatusNotFound, "PROFILE_MISSING", "payer profile not found", nil)
		case errors.Is(err, payer.ErrMissingContactInfo):
			common.JSONError(w, http.StatusUnprocessableEntity, "MISSING_CONTACT_INFO", "payer profile is missing contact information", nil)
		case errors.Is(err, payer.ErrIdentityUnavailable):
			common.JSONError(w, http.StatusBadGateway, "IDENTITY_UNAVAILABLE", "payer identity could not be resolved", nil)
		case errors.Is(err, session.ErrSessionCreationFailed):
			common.JSONError(w, http.StatusBadGateway, "SESSION_CREATION_FAILED", "payment session could not be created", nil)
		default:
			common.JSONError(w, http.StatusBadGateway, "SESSION_CREATION_FAILED", err.Error(), nil)
		}
		return
	}
	common.JSON(w, http.StatusCreated, createResp{
		Snapshot:   snap,
		SurfaceURL: h.surfaceURL(c.ID()) + "/surface",
	})
}

// Status reports the current view of an attempt.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, c.Snapshot())
}

// Surface renders the embedded payment page for an attempt awaiting a result.
func (h *Handler) Surface(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap := c.Snapshot()
	if snap.State != StateAwaitingResult {
		common.JSONError(w, http.StatusConflict, "SURFACE_UNAVAILABLE", "attempt is not awaiting payment", map[string]any{"state": snap.State})
		return
	}
	token, _, err := h.Tokens.Issue(c.ID())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SURFACE_UNAVAILABLE", "unable to issue attempt token", nil)
		return
	}
	var buf bytes.Buffer
	err = h.Renderer.Render(&buf, surface.View{
		AttemptID:    c.ID(),
		SessionID:    snap.SessionID,
		OrderID:      snap.OrderID,
		AttemptToken: token,
		MessageURL:   h.surfaceURL(c.ID()) + "/messages",
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SURFACE_UNAVAILABLE", "unable to render payment surface", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type messageResp struct {
	Snapshot
	Discarded bool `json:"discarded,omitempty"`
}

// Message accepts one raw payload from the embedded surface. The payload is
// authenticated by the attempt token, deduplicated, then normalized and
// applied by the controller.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.Tokens.Verify(bearerToken(r), c.ID()); err != nil {
		common.JSONError(w, http.StatusUnauthorized, "INVALID_ATTEMPT_TOKEN", "attempt token rejected", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		common.JSONError(w, http.StatusBadRequest, "EMPTY_MESSAGE", "message payload is empty", nil)
		return
	}
	ctx := common.WithAttemptID(r.Context(), c.ID())
	if !h.Replay.FirstDelivery(ctx, c.ID(), body) {
		common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate message", nil)
		return
	}
	snap, err := c.HandleMessage(ctx, body)
	if errors.Is(err, ErrMessageDiscarded) {
		common.JSON(w, http.StatusOK, messageResp{Snapshot: snap, Discarded: true})
		return
	}
	common.JSON(w, http.StatusOK, messageResp{Snapshot: snap})
}

type closeReq struct {
	Confirmed bool `json:"confirmed"`
}

type closeResp struct {
	Snapshot
	ConfirmationRequired bool `json:"confirmationRequired,omitempty"`
}

// Close handles a user-initiated close. While a result is pending a single
// unconfirmed close only arms the confirmation step.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req closeReq
	if r.Body != nil {
		// An empty body means an unconfirmed close.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ctx := common.WithAttemptID(r.Context(), c.ID())
	snap := c.RequestClose(ctx, req.Confirmed)
	common.JSON(w, http.StatusOK, closeResp{
		Snapshot:             snap,
		ConfirmationRequired: snap.State == StateAwaitingResult && c.ClosePending(),
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*Controller, bool) {
	if h == nil || h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENTS_NOT_CONFIGURED", "payment handler unavailable", nil)
		return nil, false
	}
	id := strings.TrimSpace(chi.URLParam(r, "attemptID"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "attempt id is required", nil)
		return nil, false
	}
	c, ok := h.Registry.Get(id)
	if !ok {
		common.JSONError(w, http.StatusNotFound, "ATTEMPT_NOT_FOUND", "unknown attempt", nil)
		return nil, false
	}
	return c, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(raw) > len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
		return strings.TrimSpace(raw[len(prefix):])
	}
	return ""
}

func (h *Handler) surfaceURL(attemptID string) string {
	base := strings.TrimRight(h.PublicBaseURL, "/")
	return base + "/api/v1/payments/" + attemptID
}
