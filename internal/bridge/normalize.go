package bridge

import (
	"encoding/json"
	"strings"

	"github.com/noah-isme/paybridge/internal/obs"
)

// CanonicalStatus is the finite outcome vocabulary derived from raw gateway statuses.
type CanonicalStatus string

const (
	StatusSuccess   CanonicalStatus = "SUCCESS"
	StatusFailed    CanonicalStatus = "FAILED"
	StatusCancelled CanonicalStatus = "CANCELLED"
	StatusUnknown   CanonicalStatus = "UNKNOWN"
)

// CanonicalResult is the normalized outcome of one bridge message. Derived,
// never mutated after construction.
type CanonicalResult struct {
	Status                CanonicalStatus
	OrderID               string
	SessionID             string
	PaymentDetailsPresent bool
	RawStatus             string
	ErrorMessage          string
}

// Message type discriminators accepted on the structured channel.
const (
	typePaymentResult = "payment_result"
	typePaymentError  = "payment_error"
)

// Plain-text markers accepted on the fallback channel.
const (
	markerSuccess   = "payment_success"
	markerFailed    = "payment_failed"
	markerError     = "error"
	markerCancelled = "payment_cancelled"
	// markerDetails must accompany markerSuccess; a bare success string is
	// not accepted as success.
	markerDetails = "payment_details"
)

type envelope struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type resultPayload struct {
	Status         string          `json:"status"`
	OrderID        string          `json:"orderId"`
	SessionID      string          `json:"sessionId"`
	PaymentDetails json.RawMessage `json:"paymentDetails"`
}

// Normalize maps one raw bridge payload onto a CanonicalResult. Structured
// payloads carry a type discriminator; anything that fails to parse degrades
// to case-insensitive marker matching instead of aborting. Identifiers absent
// from the message fall back to the active session's values.
func Normalize(raw []byte, fallbackOrderID, fallbackSessionID string) CanonicalResult {
	shape := "plain"
	var result CanonicalResult

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		switch strings.ToLower(strings.TrimSpace(env.Type)) {
		case typePaymentResult:
			shape = "structured"
			result = normalizeResult(env.Result)
		case typePaymentError:
			shape = "structured"
			result = CanonicalResult{
				Status:       StatusFailed,
				RawStatus:    markerError,
				ErrorMessage: strings.TrimSpace(env.Error),
			}
		default:
			result = normalizePlain(string(raw))
		}
	} else {
		result = normalizePlain(string(raw))
	}

	if result.OrderID == "" {
		result.OrderID = fallbackOrderID
	}
	if result.SessionID == "" {
		result.SessionID = fallbackSessionID
	}
	if obs.BridgeMessageTotal != nil {
		obs.BridgeMessageTotal.WithLabelValues(shape, strings.ToLower(string(result.Status))).Inc()
	}
	return result
}

func normalizeResult(raw json.RawMessage) CanonicalResult {
	var payload resultPayload
	if len(raw) > 0 {
		// A malformed result object still yields UNKNOWN rather than an error.
		_ = json.Unmarshal(raw, &payload)
	}
	return CanonicalResult{
		Status:                CanonicalFromToken(payload.Status),
		OrderID:               strings.TrimSpace(payload.OrderID),
		SessionID:             strings.TrimSpace(payload.SessionID),
		PaymentDetailsPresent: len(payload.PaymentDetails) > 0 && string(payload.PaymentDetails) != "null",
		RawStatus:             strings.TrimSpace(payload.Status),
	}
}

// normalizePlain applies the fallback marker heuristics to unstructured text.
// A success marker without the companion details marker is rejected as
// UNKNOWN: an unaccompanied success string is treated as potentially spoofed.
func normalizePlain(text string) CanonicalResult {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, markerSuccess):
		if strings.Contains(lowered, markerDetails) {
			return CanonicalResult{Status: StatusSuccess, PaymentDetailsPresent: true, RawStatus: markerSuccess}
		}
		return CanonicalResult{Status: StatusUnknown, RawStatus: markerSuccess}
	case strings.Contains(lowered, markerFailed), strings.Contains(lowered, markerError):
		return CanonicalResult{Status: StatusFailed, RawStatus: markerFailed, ErrorMessage: strings.TrimSpace(text)}
	case strings.Contains(lowered, markerCancelled):
		return CanonicalResult{Status: StatusCancelled, RawStatus: markerCancelled}
	default:
		return CanonicalResult{Status: StatusUnknown}
	}
}

var canonicalTokens = map[CanonicalStatus][]string{
	StatusSuccess:   {"SUCCESS", "PAID", "COMPLETED"},
	StatusFailed:    {"FAILED", "FAILURE", "ERROR"},
	StatusCancelled: {"CANCELLED", "CANCELED", "ABORTED"},
}

// CanonicalFromToken maps a raw status token onto the canonical vocabulary
// using case-insensitive exact or prefix matching. Unrecognized or absent
// tokens map to UNKNOWN, never silently to success or failure.
func CanonicalFromToken(token string) CanonicalStatus {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if normalized == "" {
		return StatusUnknown
	}
	for _, status := range []CanonicalStatus{StatusSuccess, StatusFailed, StatusCancelled} {
		for _, known := range canonicalTokens[status] {
			if normalized == known || strings.HasPrefix(normalized, known) {
				return status
			}
		}
	}
	return StatusUnknown
}
