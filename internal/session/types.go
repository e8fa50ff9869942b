package session

import (
	"time"

	"github.com/noah-isme/paybridge/internal/payer"
)

// PaymentIntent captures the purchasable reference, optional amount and payer
// snapshot for one purchase attempt. Immutable once a session is requested.
type PaymentIntent struct {
	ItemRef string
	Amount  *float64
	Payer   payer.Profile
}

// Session identifies one backend payment session. Owned exclusively by the
// lifecycle controller for the duration of a single transaction attempt;
// sessions are never reused across attempts.
type Session struct {
	SessionID string
	OrderID   string
	CreatedAt time.Time
}
