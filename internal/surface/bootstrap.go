package surface

import (
	"html/template"
	"io"
)

// Renderer produces the self-contained page that hosts the third-party
// payment form inside a sandboxed iframe. The page loads the checkout script,
// opens the payment form at most once, and relays every outcome to the host
// through the one-way message channel.
type Renderer struct {
	ScriptURL    string
	ClientKey    string
	TargetOrigin string
}

// View carries the per-attempt values interpolated into the page.
type View struct {
	AttemptID    string
	SessionID    string
	OrderID      string
	AttemptToken string
	MessageURL   string
}

// Render writes the complete surface document for one attempt.
func (r Renderer) Render(w io.Writer, view View) error {
	return surfaceTmpl.Execute(w, struct {
		Renderer
		View
	}{r, view})
}

var surfaceTmpl = template.Must(template.New("surface").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Payment</title>
<style>
  body { margin: 0; font-family: system-ui, sans-serif; background: #fafafa; }
  #surface-status { padding: 16px; color: #b00020; }
  #surface-retry { margin: 0 16px; padding: 8px 16px; }
</style>
</head>
<body>
<div id="surface-status" role="status"></div>
<button id="surface-retry" type="button" hidden>Try again</button>
<script src="{{.ScriptURL}}" data-client-key="{{.ClientKey}}"></script>
<script>
(function () {
  "use strict";

  // The payment form must open at most once per page load, no matter how
  // often the bootstrap loop fires.
  var started = false;
  var attempts = 0;
  var maxAttempts = 3;
  var statusEl = document.getElementById("surface-status");
  var retryEl = document.getElementById("surface-retry");

  function deliver(message) {
    var body = typeof message === "string" ? message : JSON.stringify(message);
    try {
      window.parent.postMessage(body, {{.TargetOrigin}});
    } catch (err) {
      // Host window is gone; the direct channel below still reports.
    }
    fetch({{.MessageURL}}, {
      method: "POST",
      headers: {
        "Content-Type": "application/json",
        "Authorization": "Bearer " + {{.AttemptToken}}
      },
      body: body,
      keepalive: true
    }).catch(function () {});
  }

  function openPayment() {
    if (started) {
      return;
    }
    started = true;
    statusEl.textContent = "";
    window.snap.pay({{.SessionID}}, {
      onSuccess: function (result) {
        deliver({
          type: "payment_result",
          result: {
            status: result.transaction_status || "SUCCESS",
            orderId: result.order_id || {{.OrderID}},
            sessionId: {{.SessionID}},
            paymentDetails: result
          }
        });
      },
      onPending: function (result) {
        deliver({
          type: "payment_result",
          result: {
            status: result.transaction_status || "PENDING",
            orderId: result.order_id || {{.OrderID}},
            sessionId: {{.SessionID}},
            paymentDetails: result
          }
        });
      },
      onError: function (result) {
        deliver({
          type: "payment_error",
          error: (result && result.status_message) || "payment_failed"
        });
      },
      onClose: function () {
        deliver("payment_cancelled");
      }
    });
  }

  function boot() {
    if (started) {
      return;
    }
    if (window.snap && typeof window.snap.pay === "function") {
      openPayment();
      return;
    }
    attempts += 1;
    if (attempts >= maxAttempts) {
      statusEl.textContent = "The payment form could not be loaded.";
      retryEl.hidden = false;
      return;
    }
    setTimeout(boot, 500 * attempts);
  }

  retryEl.addEventListener("click", function () {
    attempts = 0;
    retryEl.hidden = true;
    statusEl.textContent = "";
    boot();
  });

  boot();
})();
</script>
</body>
</html>
`))
