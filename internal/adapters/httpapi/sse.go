package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bnema/gateway-pool/internal/stream"
)

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSE writes one event frame. Done frames carry an empty content object.
func writeSSE(w io.Writer, event stream.Event) error {
	var payload any
	switch event.Kind {
	case stream.KindError:
		payload = struct {
			Error  string `json:"error"`
			Status int    `json:"status,omitempty"`
		}{Error: event.Error, Status: event.Status}
	default:
		payload = struct {
			Content string `json:"content"`
		}{Content: event.Content}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Kind, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(v)
}
