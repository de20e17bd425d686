package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bnema/gateway-pool/internal/adapters/gatewayapi"
	statusadapter "github.com/bnema/gateway-pool/internal/adapters/render/status"
	sqliterepo "github.com/bnema/gateway-pool/internal/adapters/repo/sqlite"
	tomlrepo "github.com/bnema/gateway-pool/internal/adapters/repo/toml"
	wsadapter "github.com/bnema/gateway-pool/internal/adapters/transport/websocket"
	"github.com/bnema/gateway-pool/internal/application"
	"github.com/bnema/gateway-pool/internal/config"
	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/gateway"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/bnema/gateway-pool/internal/ports"
	"github.com/spf13/viper"
)

type app struct {
	cfg            config.Config
	configPath     string
	logger         *slog.Logger
	accounts       ports.AccountRepository
	affinities     ports.AffinityRepository
	accountService *application.AccountService
	statusRenderer func([]pool.Entry, statusadapter.RenderOptions) (string, error)
	httpClient     *http.Client
	now            func() time.Time
	closers        []io.Closer
}

func wireApp() (*app, error) {
	v, err := config.New("")
	if err != nil {
		return nil, fmt.Errorf("wire config: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("wire config: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.Log)

	a := &app{
		cfg:            cfg,
		configPath:     v.ConfigFileUsed(),
		logger:         logger,
		statusRenderer: statusadapter.Render,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		now:            time.Now,
	}

	if err := a.wireRepositories(v); err != nil {
		return nil, err
	}
	a.accountService = application.NewAccountService(a.accounts)

	return a, nil
}

func (a *app) wireRepositories(v *viper.Viper) error {
	switch a.cfg.Accounts.Backend {
	case config.BackendSQLite:
		repo, err := sqliterepo.NewRepository(a.cfg.Accounts.DSN)
		if err != nil {
			return fmt.Errorf("wire account repository: %w", err)
		}
		a.accounts = repo
		a.closers = append(a.closers, repo)
	default:
		repo, err := tomlrepo.NewRepository(v)
		if err != nil {
			return fmt.Errorf("wire account repository: %w", err)
		}
		a.accounts = repo
	}

	affinities, err := tomlrepo.NewAffinityRepository(v)
	if err != nil {
		return fmt.Errorf("wire affinity repository: %w", err)
	}
	a.affinities = affinities
	return nil
}

func (a *app) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// newPool builds a pool whose sessions dial the configured gateway.
func (a *app) newPool() *pool.Pool[*gateway.Session] {
	dialer := wsadapter.NewDialer(a.cfg.Gateway.HandshakeTimeout)
	submitter := gatewayapi.NewClient(a.cfg.Gateway.APIBase, a.httpClient)
	sessionCfg := gateway.Config{
		URL:                a.cfg.Gateway.URL,
		HandshakeTimeout:   a.cfg.Gateway.HandshakeTimeout,
		InteractionTimeout: a.cfg.Gateway.InteractionTimeout,
		Logger:             a.logger,
	}

	factory := func(ctx context.Context, account domain.Account) (*gateway.Session, error) {
		session := gateway.NewSession(account, dialer, submitter, sessionCfg)
		if err := session.Connect(ctx); err != nil {
			session.Destroy()
			return nil, err
		}
		return session, nil
	}

	return pool.New[*gateway.Session](a.accounts, factory, pool.Config{
		Size:        a.cfg.Pool.Size,
		Serial:      a.cfg.Pool.Serial,
		Concurrency: a.cfg.Pool.Concurrency,
		Cooldown:    a.cfg.Pool.Cooldown,
		Declared:    a.cfg.Accounts.Declared,
		Logger:      a.logger,
	})
}

func (a *app) newBroker(p *pool.Pool[*gateway.Session]) *application.Broker[*gateway.Session] {
	return application.NewBroker[*gateway.Session](p,
		application.WithAffinity[*gateway.Session](application.NewAffinityService(a.affinities, ports.SystemClock{})),
		application.WithLogger[*gateway.Session](a.logger),
	)
}
