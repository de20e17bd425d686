// Package httpapi exposes the pool and the broker over HTTP with SSE responses.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bnema/gateway-pool/internal/gateway"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/bnema/gateway-pool/internal/stream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// Broker runs actions and prompts, writing their progress to a stream.
type Broker interface {
	Execute(ctx context.Context, action gateway.Action, out stream.Writer) error
	Ask(ctx context.Context, prompt string, out stream.Writer) error
}

type Snapshotter interface {
	Snapshot() []pool.Entry
}

type Handler struct {
	broker Broker
	pool   Snapshotter
	logger *slog.Logger
	buffer int
}

func New(broker Broker, snapshots Snapshotter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{broker: broker, pool: snapshots, logger: logger, buffer: 32}
}

// NewRouter wires the HTTP routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/api", func(api chi.Router) {
		api.Get("/pool", h.poolStatus)
		api.Post("/interactions", h.interact)
		api.Post("/ask", h.ask)
	})

	return r
}
