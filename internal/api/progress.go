// progress.go — NDJSON progress streaming for ingestion endpoints.
//
// Loads and refreshes can take minutes against slow providers, so the
// browser gets one JSON object per line as stages complete instead of a
// single blocking response: any number of "progress" events, then exactly
// one terminal "done" or "error" event.
package api

import (
	"encoding/json"
	"net/http"
)

type progressEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Error   string `json:"error,omitempty"`
}

type doneEvent struct {
	Type   string `json:"type"`
	Live   int    `json:"live"`
	Movies int    `json:"movies"`
	Series int    `json:"series"`
}

type progressStream struct {
	enc     *json.Encoder
	flusher http.Flusher
}

// newProgressStream commits the response to NDJSON. After this, failures
// are reported as error events, not HTTP statuses.
func newProgressStream(w http.ResponseWriter) *progressStream {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	p := &progressStream{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		p.flusher = f
	}
	return p
}

func (p *progressStream) emit(ev interface{}) {
	_ = p.enc.Encode(ev)
	if p.flusher != nil {
		p.flusher.Flush()
	}
}

// Progress emits one stage update. Matches the xtream.Progress signature
// so it can be handed straight to the vendor client.
func (p *progressStream) Progress(message string, percent int) {
	p.emit(progressEvent{Type: "progress", Message: message, Percent: percent})
}

// Error emits the terminal failure event.
func (p *progressStream) Error(code, message string) {
	p.emit(progressEvent{Type: "error", Error: code, Message: message})
}

// Done emits the terminal success event with section counts.
func (p *progressStream) Done(live, movies, series int) {
	p.emit(doneEvent{Type: "done", Live: live, Movies: movies, Series: series})
}
