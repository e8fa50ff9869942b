package payer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/paybridge/internal/resilience"
)

// Profile is the payer identity snapshot required to open a payment session.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

var (
	// ErrIdentityUnavailable indicates the payer identity could not be looked up,
	// either because no email was supplied or the identity service is unreachable.
	ErrIdentityUnavailable = errors.New("payer: identity unavailable")
	// ErrProfileMissing indicates the identity service holds no record for the email.
	ErrProfileMissing = errors.New("payer: profile missing")
	// ErrMissingContactInfo indicates the profile exists but lacks a phone number.
	// Kept distinct from generic failure: the caller should redirect the user to
	// complete their profile instead of retrying payment.
	ErrMissingContactInfo = errors.New("payer: missing contact info")
)

// Resolver fetches payer profiles from the identity service.
type Resolver struct {
	BaseURL string
	HTTP    *resilience.HTTPClient
}

// Resolve returns the full payer profile for the provided email.
func (r *Resolver) Resolve(ctx context.Context, email string) (Profile, error) {
	var zero Profile
	if r == nil || r.HTTP == nil {
		return zero, errors.New("payer: resolver not configured")
	}
	ctx, span := otel.Tracer("payer.Resolver").Start(ctx, "Resolver.Resolve")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" {
		return zero, ErrIdentityUnavailable
	}

	endpoint := fmt.Sprintf("%s/api/v1/profiles?email=%s", strings.TrimRight(r.BaseURL, "/"), url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return zero, fmt.Errorf("payer: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return zero, fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("identity.status_code", resp.StatusCode))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return zero, ErrProfileMissing
	case resp.StatusCode != http.StatusOK:
		return zero, fmt.Errorf("%w: unexpected status %s", ErrIdentityUnavailable, resp.Status)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return zero, fmt.Errorf("%w: decode profile: %w", ErrIdentityUnavailable, err)
	}
	if strings.TrimSpace(profile.ID) == "" {
		return zero, ErrProfileMissing
	}
	if strings.TrimSpace(profile.Phone) == "" {
		return zero, ErrMissingContactInfo
	}
	if strings.TrimSpace(profile.Email) == "" {
		profile.Email = email
	}
	return profile, nil
}
