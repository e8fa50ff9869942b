package common

import "context"

type ctxKey string

const attemptIDKey ctxKey = "payment/attempt-id"

// WithAttemptID stores the payment attempt identifier on the provided context.
func WithAttemptID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptIDKey, id)
}

// AttemptID extracts the payment attempt identifier from the context if present.
func AttemptID(ctx context.Context) (string, bool) {
	v := ctx.Value(attemptIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
