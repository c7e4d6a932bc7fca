package unison

import (
	"encoding/json"
	"net/http"
)

// Failure is the payload written when the pipeline stops early.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Fail builds a Failure with the given message.
func Fail(message string) Failure {
	return Failure{Success: false, Error: message}
}

// WriteFailure writes {"success":false,"error":message}.  No status code is
// set, so the transport default applies.
func WriteFailure(w http.ResponseWriter, message string) {
	WriteJSON(w, Fail(message))
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	// headers are already sent if encoding fails
	_ = json.NewEncoder(w).Encode(v)
}

// trackingWriter remembers whether anything was sent to the client.
type trackingWriter struct {
	http.ResponseWriter
	written bool
}

func (tw *trackingWriter) WriteHeader(code int) {
	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.written = true
	return tw.ResponseWriter.Write(b)
}

func (tw *trackingWriter) Flush() {
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		tw.written = true
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (tw *trackingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
