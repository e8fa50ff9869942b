package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/paybridge/internal/common"
	"github.com/noah-isme/paybridge/internal/events"
)

// EmailNotifier sends transactional emails for selected payment outcomes.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	From         string
	TopicToggles map[string]bool
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(_ context.Context, event events.Event) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	to := extractRecipient(payload)
	if to == "" {
		return nil
	}
	return n.Mail.Send(to, subjectFor(event.Topic), bodyFor(event.Topic, payload, event.OccurredAt))
}

func extractRecipient(payload map[string]any) string {
	keys := []string{"email", "payerEmail", "recipient", "customerEmail"}
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func subjectFor(topic string) string {
	switch topic {
	case events.TopicPaymentConfirmed:
		return "Your payment is confirmed"
	case events.TopicPaymentFailed:
		return "Your payment did not go through"
	case events.TopicVerificationFailed:
		return "We could not verify your payment"
	case events.TopicPaymentExpired:
		return "Your payment session expired"
	default:
		return "Payment update"
	}
}

func bodyFor(topic string, payload map[string]any, occurred time.Time) string {
	var b strings.Builder
	switch topic {
	case events.TopicPaymentConfirmed:
		b.WriteString("Good news: your payment has been confirmed.\n")
	case events.TopicPaymentFailed:
		b.WriteString("Unfortunately your payment did not complete.\n")
	case events.TopicVerificationFailed:
		b.WriteString("Your payment was reported successful but we could not verify it yet. Please contact support with your order reference.\n")
	case events.TopicPaymentExpired:
		b.WriteString("Your payment session expired before a result arrived. Please try again.\n")
	default:
		b.WriteString("There is an update on your payment.\n")
	}
	if orderID, ok := payload["orderId"].(string); ok && orderID != "" {
		fmt.Fprintf(&b, "Order reference: %s\n", orderID)
	}
	if msg, ok := payload["message"].(string); ok && msg != "" {
		fmt.Fprintf(&b, "Details: %s\n", msg)
	}
	if !occurred.IsZero() {
		fmt.Fprintf(&b, "Time: %s\n", occurred.Format(time.RFC1123))
	}
	return b.String()
}
