package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/gateway-pool/internal/gateway"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/bnema/gateway-pool/internal/stream"
	"github.com/go-chi/chi/v5/middleware"
)

type entryView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ChannelID   string     `json:"channel_id"`
	Mode        string     `json:"mode,omitempty"`
	State       string     `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	AvailableAt *time.Time `json:"available_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UseCount    int64      `json:"use_count"`
}

type askRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) poolStatus(w http.ResponseWriter, _ *http.Request) {
	entries := h.pool.Snapshot()
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toEntryView(e))
	}
	respondJSON(w, http.StatusOK, views)
}

func toEntryView(e pool.Entry) entryView {
	view := entryView{
		ID:        string(e.Account.ID),
		Name:      e.Account.DisplayName(),
		ChannelID: e.Account.ChannelID,
		Mode:      string(e.Account.Mode),
		State:     string(e.State),
		Reason:    e.Reason,
		LastError: e.LastError,
		UseCount:  e.Account.Usage.UseCount,
	}
	if !e.AvailableAt.IsZero() {
		at := e.AvailableAt
		view.AvailableAt = &at
	}
	if !e.Account.Usage.LastUsedAt.IsZero() {
		at := e.Account.Usage.LastUsedAt
		view.LastUsedAt = &at
	}
	return view
}

func (h *Handler) interact(w http.ResponseWriter, r *http.Request) {
	var action gateway.Action
	if err := decodeBody(w, r, &action); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := action.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.serveStream(w, r, func(ctx context.Context, out stream.Writer) error {
		return h.broker.Execute(ctx, action, out)
	})
}

func (h *Handler) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	h.serveStream(w, r, func(ctx context.Context, out stream.Writer) error {
		return h.broker.Ask(ctx, req.Prompt, out)
	})
}

// serveStream runs fn in the background and relays its events as SSE until
// the terminal event or the client goes away.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, fn func(context.Context, stream.Writer) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	logger := h.logger.With("request_id", middleware.GetReqID(ctx), "path", r.URL.Path)
	out := stream.NewChannel(h.buffer)

	go func() {
		if err := fn(ctx, out); err != nil {
			logger.Debug("stream finished with error", "error", err)
		}
		// No-op when fn already ended the stream.
		out.Error("stream ended without a result", http.StatusInternalServerError)
	}()

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			out.Abandon()
			logger.Debug("client disconnected")
			return
		case event, ok := <-out.Events():
			if !ok {
				return
			}
			if err := writeSSE(w, event); err != nil {
				out.Abandon()
				logger.Debug("write event failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
