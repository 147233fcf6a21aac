package gate

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCaptureWriter_DefaultsTo200(t *testing.T) {
	cw := newCaptureWriter()
	cw.Write([]byte("body"))

	if cw.Status() != http.StatusOK {
		t.Errorf("expected implicit 200, got %d", cw.Status())
	}
	if string(cw.Body()) != "body" {
		t.Errorf("expected body captured, got %q", cw.Body())
	}
}

func TestCaptureWriter_FirstStatusSticks(t *testing.T) {
	cw := newCaptureWriter()
	cw.WriteHeader(http.StatusNotFound)
	cw.WriteHeader(http.StatusOK)

	if cw.Status() != http.StatusNotFound {
		t.Errorf("expected first status to stick, got %d", cw.Status())
	}
}

func TestCaptureWriter_WriteLocksStatus(t *testing.T) {
	cw := newCaptureWriter()
	cw.Write([]byte("early"))
	cw.WriteHeader(http.StatusTeapot)

	if cw.Status() != http.StatusOK {
		t.Errorf("expected status locked at 200 by first write, got %d", cw.Status())
	}
}

func TestCaptureWriter_NothingReachesClientUntilReplay(t *testing.T) {
	cw := newCaptureWriter()
	cw.Header().Set("X-Test", "value")
	cw.WriteHeader(http.StatusCreated)
	cw.Write([]byte("payload"))
	cw.Flush()

	rec := httptest.NewRecorder()
	// Nothing has been replayed; the recorder must be untouched.
	if rec.Body.Len() != 0 {
		t.Fatal("capture writer wrote through before replay")
	}

	cw.replay(rec)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if rec.Body.String() != "payload" {
		t.Errorf("expected payload, got %q", rec.Body.String())
	}
	if rec.Header().Get("X-Test") != "value" {
		t.Error("expected captured header replayed")
	}
}

func TestCaptureWriter_ReplayWithOverlay(t *testing.T) {
	cw := newCaptureWriter()
	cw.Header().Set("X-Both", "handler")
	cw.Header().Set("X-Handler", "only")
	cw.Write([]byte("ok"))

	rec := httptest.NewRecorder()
	cw.replayWith(rec, map[string]string{
		"X-Both":       "settlement",
		"X-Settlement": "only",
	})

	if got := rec.Header().Get("X-Both"); got != "settlement" {
		t.Errorf("expected overlay to win, got %q", got)
	}
	if got := rec.Header().Get("X-Handler"); got != "only" {
		t.Errorf("expected handler header kept, got %q", got)
	}
	if got := rec.Header().Get("X-Settlement"); got != "only" {
		t.Errorf("expected overlay header added, got %q", got)
	}
}

func TestCaptureWriter_ImplementsFlusher(t *testing.T) {
	var w http.ResponseWriter = newCaptureWriter()
	if _, ok := w.(http.Flusher); !ok {
		t.Error("capture writer must satisfy http.Flusher so streaming handlers do not fail")
	}
}
