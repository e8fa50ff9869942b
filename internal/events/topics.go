package events

// Topic constants for domain events emitted by the bridge.
const (
	TopicSessionCreated     = "payment.session_created"
	TopicPaymentConfirmed   = "payment.confirmed"
	TopicPaymentFailed      = "payment.failed"
	TopicPaymentCancelled   = "payment.cancelled"
	TopicPaymentUnknown     = "payment.unknown_result"
	TopicVerificationFailed = "payment.verification_failed"
	TopicPaymentAborted     = "payment.aborted"
	TopicPaymentExpired     = "payment.expired"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicSessionCreated,
		TopicPaymentConfirmed,
		TopicPaymentFailed,
		TopicPaymentCancelled,
		TopicPaymentUnknown,
		TopicVerificationFailed,
		TopicPaymentAborted,
		TopicPaymentExpired,
	}
}
