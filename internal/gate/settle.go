package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// settlementFailure is the fixed-shape body returned when a verified payment
// cannot be settled. The handler's response is discarded in that case.
type settlementFailure struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// runSettle executes the settlement stage for a request whose payment was
// verified and whose handler has finished writing into cw.
//
// A handler status of 400 or above skips settlement and replays the captured
// response unchanged: the application rejected the request, so the client is
// not charged. Otherwise the payment is settled; on success the captured
// response is released with the settlement headers merged in, and on failure
// the captured response is discarded entirely and replaced by a 402.
func (g *Gate) runSettle(ctx context.Context, w http.ResponseWriter, cw *captureWriter, pay *Payment, rc *RequestContext) {
	if cw.Status() >= http.StatusBadRequest {
		g.logger.Debug("handler rejected request, skipping settlement",
			slog.String("method", rc.Method),
			slog.String("path", rc.Path),
			slog.Int("status", cw.Status()))
		cw.replay(w)
		return
	}

	transport := &TransportContext{
		Request:      rc,
		ResponseBody: cw.Body(),
	}

	result, err := g.safeSettle(ctx, pay, transport)
	if err != nil {
		g.logger.Error("settlement error",
			slog.String("method", rc.Method),
			slog.String("path", rc.Path),
			slog.String("error", err.Error()))
		result = &SettleResult{Success: false, Reason: err.Error()}
	}

	if !result.Success {
		g.logger.Warn("settlement failed, discarding handler response",
			slog.String("method", rc.Method),
			slog.String("path", rc.Path),
			slog.String("reason", result.Reason))
		writeSettlementFailure(w, result.Reason)
		return
	}

	g.logger.Debug("settlement succeeded",
		slog.String("method", rc.Method),
		slog.String("path", rc.Path))
	cw.replayWith(w, result.Headers)
}

// safeSettle shields the gate from a panicking settle call.
func (g *Gate) safeSettle(ctx context.Context, pay *Payment, transport *TransportContext) (result *SettleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("settle panicked: %v", r)
		}
	}()
	result, err = g.resource.Settle(ctx, pay.Payload, pay.Requirements, pay.Extensions, transport)
	if err == nil && result == nil {
		err = fmt.Errorf("settle returned no result")
	}
	return result, err
}

// writeSettlementFailure emits the fixed 402 settlement-failure response.
// Nothing from the handler's response, body or headers, is carried over.
func writeSettlementFailure(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(settlementFailure{
		Error:   "Settlement failed",
		Details: reason,
	})
}
