package surface

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenderIncludesScriptAndRelay(t *testing.T) {
	r := Renderer{
		ScriptURL:    "https://app.sandbox.midtrans.com/snap/snap.js",
		ClientKey:    "client-key-123",
		TargetOrigin: "https://shop.example.com",
	}
	var buf bytes.Buffer
	err := r.Render(&buf, View{
		AttemptID:    "attempt-1",
		SessionID:    "s1",
		OrderID:      "o1",
		AttemptToken: "tok",
		MessageURL:   "https://shop.example.com/api/v1/payments/attempt-1/messages",
	})
	require.NoError(t, err)

	page := buf.String()
	require.Contains(t, page, `src="https://app.sandbox.midtrans.com/snap/snap.js"`)
	require.Contains(t, page, `data-client-key="client-key-123"`)
	require.Contains(t, page, "payment_cancelled")
	require.Contains(t, page, "payment_error")
	require.Contains(t, page, "var maxAttempts = 3")
	require.Contains(t, page, "/api/v1/payments/attempt-1/messages")
	// The started guard precedes the snap.pay call.
	require.Less(t, strings.Index(page, "started = true"), strings.Index(page, "window.snap.pay"))
}

func TestRenderEscapesUntrustedValues(t *testing.T) {
	r := Renderer{ScriptURL: "https://example.com/snap.js", ClientKey: "k"}
	var buf bytes.Buffer
	err := r.Render(&buf, View{
		SessionID:    `"></script><script>alert(1)</script>`,
		AttemptToken: "tok",
		MessageURL:   "https://example.com/m",
	})
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "<script>alert(1)</script>")
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := TokenIssuer{Secret: []byte("secret"), TTL: time.Minute}
	tok, expiresAt, err := issuer.Issue("attempt-1")
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	require.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	require.NoError(t, issuer.Verify(tok, "attempt-1"))
	require.ErrorIs(t, issuer.Verify(tok, "attempt-2"), ErrInvalidAttemptToken)
	require.ErrorIs(t, issuer.Verify("", "attempt-1"), ErrInvalidAttemptToken)
}

func TestTokenExpiryAndWrongSecret(t *testing.T) {
	base := time.Now()
	issuer := TokenIssuer{Secret: []byte("secret"), TTL: time.Minute, Now: func() time.Time { return base }}
	tok, _, err := issuer.Issue("attempt-1")
	require.NoError(t, err)

	late := TokenIssuer{Secret: []byte("secret"), Now: func() time.Time { return base.Add(2 * time.Minute) }}
	require.ErrorIs(t, late.Verify(tok, "attempt-1"), ErrInvalidAttemptToken)

	other := TokenIssuer{Secret: []byte("other"), Now: func() time.Time { return base }}
	require.ErrorIs(t, other.Verify(tok, "attempt-1"), ErrInvalidAttemptToken)
}
