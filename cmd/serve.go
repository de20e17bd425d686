package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/gateway-pool/internal/adapters/httpapi"
	"github.com/bnema/gateway-pool/internal/config"
	"github.com/bnema/gateway-pool/internal/gateway"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/spf13/cobra"
)

func newServeCmd(app *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the pool connected and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = app.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := app.newPool()
			defer p.Close()

			if err := p.Populate(ctx); err != nil {
				return fmt.Errorf("populate pool: %w", err)
			}
			logPoolState(app, p.Snapshot())

			go refreshPool(ctx, app, p)
			if app.configPath != "" {
				err := config.Watch(ctx, app.configPath, func() { reloadDeclared(ctx, app, p) })
				if err != nil {
					app.logger.Warn("config watch disabled", "path", app.configPath, "error", err)
				}
			}

			handler := httpapi.New(app.newBroker(p), p, app.logger)
			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.NewRouter(handler),
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			app.logger.Info("gateway pool listening", "addr", addr)
			return runServer(ctx, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.addr)")

	return cmd
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func refreshPool(ctx context.Context, app *app, p *pool.Pool[*gateway.Session]) {
	if app.cfg.Pool.Refresh <= 0 {
		return
	}

	ticker := time.NewTicker(app.cfg.Pool.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Populate(ctx); err != nil {
				app.logger.Warn("refresh pool failed", "error", err)
				continue
			}
			logPoolState(app, p.Snapshot())
		}
	}
}

func reloadDeclared(ctx context.Context, app *app, p *pool.Pool[*gateway.Session]) {
	v, err := config.New(app.configPath)
	if err != nil {
		app.logger.Warn("reload config failed", "error", err)
		return
	}
	cfg, err := config.Load(v)
	if err != nil {
		app.logger.Warn("reload config failed", "error", err)
		return
	}

	p.SetDeclared(cfg.Accounts.Declared)
	if err := p.Populate(ctx); err != nil {
		app.logger.Warn("repopulate after config change failed", "error", err)
		return
	}
	app.logger.Info("config reloaded", "declared", len(cfg.Accounts.Declared))
	logPoolState(app, p.Snapshot())
}

func logPoolState(app *app, entries []pool.Entry) {
	counts := map[pool.EntryState]int{}
	for _, e := range entries {
		counts[e.State]++
		if e.State == pool.EntryUnavailable {
			app.logger.Warn("account unavailable", "account", e.Account.DisplayName(), "error", e.LastError)
		}
	}
	app.logger.Info("pool state",
		"accounts", len(entries),
		"ready", counts[pool.EntryReady],
		"unavailable", counts[pool.EntryUnavailable],
		"invalid", counts[pool.EntryInvalid],
	)
}
