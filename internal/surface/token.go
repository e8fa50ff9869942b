package surface

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const tokenIssuer = "paybridge"

// ErrInvalidAttemptToken is returned when a bridge message carries a token
// that is missing, expired, or not bound to the addressed attempt.
var ErrInvalidAttemptToken = errors.New("surface: invalid attempt token")

// TokenIssuer mints and verifies short-lived tokens that authenticate
// messages sent from the embedded payment surface back to the bridge.
// Each token is bound to exactly one payment attempt.
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (t TokenIssuer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Issue signs a token for the given attempt id.
func (t TokenIssuer) Issue(attemptID string) (string, time.Time, error) {
	if len(t.Secret) == 0 {
		return "", time.Time{}, errors.New("surface: token secret not configured")
	}
	if attemptID == "" {
		return "", time.Time{}, errors.New("surface: attempt id is empty")
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	issuedAt := t.now()
	expiresAt := issuedAt.Add(ttl)
	token, err := jwt.NewBuilder().
		Subject(attemptID).
		Issuer(tokenIssuer).
		IssuedAt(issuedAt).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, t.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Verify checks the signature and expiry of a token and confirms it is bound
// to attemptID.
func (t TokenIssuer) Verify(raw, attemptID string) error {
	if raw == "" {
		return ErrInvalidAttemptToken
	}
	parsed, err := jwt.ParseString(raw,
		jwt.WithKey(jwa.HS256, t.Secret),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithClock(jwt.ClockFunc(t.now)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAttemptToken, err)
	}
	if parsed.Subject() != attemptID {
		return fmt.Errorf("%w: token bound to another attempt", ErrInvalidAttemptToken)
	}
	return nil
}
