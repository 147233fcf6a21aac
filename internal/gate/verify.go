package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// runVerify executes the verification stage for a protected request. It
// always produces a terminal outcome: any error from the resource server,
// including a panic, converts to a 402 rejection rather than surfacing to
// the caller. Given identical inputs and identical resource-server behavior
// the outcome is deterministic.
func (g *Gate) runVerify(ctx context.Context, rc *RequestContext) *Outcome {
	// First real use of the facilitator blocks here; concurrent requests
	// share the same pending initialization.
	if err := g.Ready(ctx); err != nil {
		// Capability sync failure is non-fatal. The verify call below still
		// runs and speaks for itself.
		g.logger.Debug("proceeding without facilitator capability sync",
			slog.String("error", err.Error()))
	}

	outcome, err := g.safeVerify(ctx, rc)
	if err != nil {
		g.logger.Warn("payment verification error",
			slog.String("method", rc.Method),
			slog.String("path", rc.Path),
			slog.String("error", err.Error()))
		return &Outcome{
			Kind:   OutcomePaymentError,
			Status: http.StatusPaymentRequired,
			Body:   []byte(`{"error":"payment verification failed"}`),
		}
	}

	g.logger.Debug("payment verification outcome",
		slog.String("method", rc.Method),
		slog.String("path", rc.Path),
		slog.String("outcome", outcome.Kind.String()))
	return outcome
}

// safeVerify shields the gate from a panicking resource server.
func (g *Gate) safeVerify(ctx context.Context, rc *RequestContext) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("verify panicked: %v", r)
		}
	}()
	outcome, err = g.resource.Verify(ctx, rc)
	if err == nil && outcome == nil {
		err = fmt.Errorf("verify returned no outcome")
	}
	return outcome, err
}

// writePaymentError renders a rejection outcome. Every header the outcome
// carries is copied onto the response; the content type follows the HTML
// flag so browsers get the paywall and programmatic clients get JSON.
func writePaymentError(w http.ResponseWriter, outcome *Outcome) {
	for key, value := range outcome.Headers {
		w.Header().Set(key, value)
	}
	if outcome.IsHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(outcome.Status)
	if len(outcome.Body) > 0 {
		w.Write(outcome.Body)
	}
}
