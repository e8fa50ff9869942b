package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/resilience"
)

// ErrSessionCreationFailed indicates the order backend did not return a usable session.
var ErrSessionCreationFailed = errors.New("session: creation failed")

// Initializer validates payment intents and requests sessions from the order backend.
type Initializer struct {
	BaseURL  string
	HTTP     *resilience.HTTPClient
	Validate *validator.Validate
}

// NewInitializer constructs an Initializer with the intent validator installed.
func NewInitializer(baseURL string, client *resilience.HTTPClient) *Initializer {
	return &Initializer{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     client,
		Validate: NewValidator(),
	}
}

type createRequest struct {
	ItemRef string   `json:"itemRef"`
	Email   string   `json:"email"`
	Phone   string   `json:"phone"`
	UserID  string   `json:"userId"`
	Amount  *float64 `json:"amount,omitempty"`
}

type createResponse struct {
	SessionID string `json:"sessionId"`
	OrderID   string `json:"orderId"`
}

// Create validates the intent and requests a fresh payment session. Validation
// runs entirely before any network call so invalid input never reaches the
// backend; every violation is reported in one ValidationError.
func (i *Initializer) Create(ctx context.Context, intent PaymentIntent) (Session, error) {
	var zero Session
	if i == nil || i.HTTP == nil {
		return zero, errors.New("session: initializer not configured")
	}
	ctx, span := otel.Tracer("session.Initializer").Start(ctx, "Initializer.Create")
	defer span.End()

	validate := i.Validate
	if validate == nil {
		validate = NewValidator()
	}
	if verr := validateIntent(validate, intent); verr != nil {
		span.SetAttributes(attribute.Int("session.violations", len(verr.Violations)))
		return zero, verr
	}

	result := "error"
	defer func() {
		if obs.SessionCreateTotal != nil {
			obs.SessionCreateTotal.WithLabelValues(result).Inc()
		}
	}()

	payload, err := json.Marshal(createRequest{
		ItemRef: strings.TrimSpace(intent.ItemRef),
		Email:   strings.TrimSpace(intent.Payer.Email),
		Phone:   NormalizePhone(intent.Payer.Phone),
		UserID:  strings.TrimSpace(intent.Payer.ID),
		Amount:  intent.Amount,
	})
	if err != nil {
		return zero, fmt.Errorf("session: encode request: %w", err)
	}

	endpoint := i.BaseURL + "/api/v1/payment-sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return zero, fmt.Errorf("session: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return zero, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("session.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return zero, fmt.Errorf("%w: unexpected status %s", ErrSessionCreationFailed, resp.Status)
	}

	var decoded createResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return zero, fmt.Errorf("%w: decode response: %w", ErrSessionCreationFailed, err)
	}
	sessionID := strings.TrimSpace(decoded.SessionID)
	orderID := strings.TrimSpace(decoded.OrderID)
	if sessionID == "" && orderID == "" {
		return zero, fmt.Errorf("%w: response carries neither session id nor order id", ErrSessionCreationFailed)
	}

	result = "success"
	span.SetAttributes(attribute.String("order.id", orderID))
	return Session{
		SessionID: sessionID,
		OrderID:   orderID,
		CreatedAt: time.Now(),
	}, nil
}
