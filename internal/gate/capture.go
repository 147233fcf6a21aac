package gate

import (
	"bytes"
	"net/http"
)

// captureWriter buffers everything a protected handler writes so the
// settlement stage can decide the response's fate before a single byte
// reaches the client. It is fully detached from the real connection: it
// keeps its own header map, status and body buffer, and absorbs Flush.
type captureWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (cw *captureWriter) Header() http.Header {
	return cw.header
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.status = code
	cw.wroteHeader = true
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.body.Write(b)
}

// Flush is absorbed. The handler may believe it is streaming, but nothing may
// reach the wire before settlement confirms the payment.
func (cw *captureWriter) Flush() {}

// Status returns the handler's response status. Error helpers such as
// http.Error funnel through WriteHeader, so explicit and helper-produced
// statuses are both covered; a handler that only wrote a body reports 200.
func (cw *captureWriter) Status() int {
	return cw.status
}

// Body returns the buffered response bytes. A handler that wrote nothing
// yields a zero-length slice.
func (cw *captureWriter) Body() []byte {
	return cw.body.Bytes()
}

// replay copies the captured response onto w unchanged: handler headers,
// then status, then body.
func (cw *captureWriter) replay(w http.ResponseWriter) {
	cw.replayWith(w, nil)
}

// replayWith copies the captured response onto w, overlaying the given
// headers on top of the handler's. Overlay entries win on key collision.
func (cw *captureWriter) replayWith(w http.ResponseWriter, overlay map[string]string) {
	dst := w.Header()
	for key, values := range cw.header {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	for key, value := range overlay {
		dst.Set(key, value)
	}
	w.WriteHeader(cw.status)
	if cw.body.Len() > 0 {
		w.Write(cw.body.Bytes())
	}
}
