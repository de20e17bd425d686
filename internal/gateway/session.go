package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultURL               = "wss://gateway.discord.gg/?v=10&encoding=json"
	DefaultHandshakeTimeout  = 30 * time.Second
	defaultHeartbeatInterval = 41250 * time.Millisecond
	defaultQueueSize         = 64

	identifyCapabilities = 16381
)

// Conn is one transport connection carrying whole text frames.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// ActionSubmitter posts interactions to the REST side of the upstream. A nil
// error means the action was accepted, not that it produced a result.
type ActionSubmitter interface {
	Submit(ctx context.Context, token string, payload InteractionPayload) error
}

type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Config struct {
	URL                string
	HandshakeTimeout   time.Duration
	InteractionTimeout time.Duration
	QueueSize          int
	Application        Application
	Logger             *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.InteractionTimeout <= 0 {
		c.InteractionTimeout = DefaultWaitTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	c.Application = c.Application.withDefaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Session is one authenticated gateway connection bound to an account.
type Session struct {
	id        string
	account   domain.Account
	cfg       Config
	dialer    Dialer
	submitter ActionSubmitter
	logger    *slog.Logger
	waiters   *waiterTable

	state   atomic.Int32
	writeMu sync.Mutex
	conn    Conn

	frames    chan []byte
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	heartbeatSeq atomic.Int64
}

func NewSession(account domain.Account, dialer Dialer, submitter ActionSubmitter, cfg Config) *Session {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("account", account.DisplayName(), "token", account.TokenFingerprint())

	return &Session{
		id:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		account:   account,
		cfg:       cfg,
		dialer:    dialer,
		submitter: submitter,
		logger:    logger,
		waiters:   newWaiterTable(logger),
		frames:    make(chan []byte, cfg.QueueSize),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }
func (s *Session) Account() domain.Account { return s.account }
func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session closed, or nil while it is open.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Connect dials the gateway and returns once the hello handshake completed.
func (s *Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateHandshaking)) {
		return fmt.Errorf("connect session in state %s: %w", s.State(), domain.ErrConnection)
	}

	conn, err := s.dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrConnection, err)
		s.destroy(err)
		return err
	}

	s.writeMu.Lock()
	select {
	case <-s.done:
		s.writeMu.Unlock()
		_ = conn.Close()
		return s.Err()
	default:
	}
	s.conn = conn
	s.writeMu.Unlock()

	go s.readLoop(conn)
	go s.dispatchLoop()

	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		s.logger.Info("gateway session ready", "session", s.id)
		return nil
	case <-s.done:
		return s.Err()
	case <-timer.C:
		s.destroy(domain.ErrHandshakeTimeout)
		return domain.ErrHandshakeTimeout
	case <-ctx.Done():
		s.destroy(fmt.Errorf("%w: %w", domain.ErrConnection, ctx.Err()))
		return ctx.Err()
	}
}

func (s *Session) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.destroy(fmt.Errorf("%w: read: %w", domain.ErrSessionClosed, err))
			return
		}

		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
	}
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case data := <-s.frames:
			event, err := Decode(data)
			if err != nil {
				s.logger.Debug("dropping malformed frame", "err", err)
				continue
			}
			s.dispatch(event)
		case <-s.done:
			return
		}
	}
}

func (s *Session) dispatch(event Event) {
	switch e := event.(type) {
	case HelloEvent:
		s.handleHello(e)
		return
	case ReconnectEvent:
		s.destroy(fmt.Errorf("%w: gateway requested reconnect", domain.ErrSessionClosed))
		return
	case InvalidSessionEvent:
		s.destroy(fmt.Errorf("%w: invalid session", domain.ErrSessionClosed))
		return
	}

	if tag := event.Name(); tag != "" {
		s.waiters.deliver(tag, event)
	}
}

func (s *Session) handleHello(hello HelloEvent) {
	if s.State() != StateHandshaking {
		return
	}

	if err := s.write(OpIdentify, s.identifyPayload()); err != nil {
		s.destroy(fmt.Errorf("%w: identify: %w", domain.ErrConnection, err))
		return
	}

	interval := hello.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if !s.state.CompareAndSwap(int32(StateHandshaking), int32(StateReady)) {
		return
	}
	go s.heartbeat(interval)
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			seq := s.heartbeatSeq.Add(1)
			if err := s.write(OpHeartbeat, seq); err != nil {
				s.destroy(fmt.Errorf("%w: heartbeat: %w", domain.ErrSessionClosed, err))
				return
			}
		case <-s.done:
			return
		}
	}
}

type identifyPayload struct {
	Token        string             `json:"token"`
	Capabilities int                `json:"capabilities"`
	Properties   identifyProperties `json:"properties"`
	Presence     presence           `json:"presence"`
	Compress     bool               `json:"compress"`
}

type identifyProperties struct {
	OS                string `json:"os"`
	Browser           string `json:"browser"`
	Device            string `json:"device"`
	SystemLocale      string `json:"system_locale"`
	BrowserUserAgent  string `json:"browser_user_agent"`
	BrowserVersion    string `json:"browser_version"`
	OSVersion         string `json:"os_version"`
	ReleaseChannel    string `json:"release_channel"`
	ClientBuildNumber int    `json:"client_build_number"`
}

type presence struct {
	Status     string `json:"status"`
	Since      int64  `json:"since"`
	Activities []any  `json:"activities"`
	AFK        bool   `json:"afk"`
}

func (s *Session) identifyPayload() identifyPayload {
	return identifyPayload{
		Token:        s.account.Token,
		Capabilities: identifyCapabilities,
		Properties: identifyProperties{
			OS:                "Mac OS X",
			Browser:           "Chrome",
			SystemLocale:      "en-US",
			BrowserUserAgent:  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			BrowserVersion:    "120.0.0.0",
			OSVersion:         "10.15.7",
			ReleaseChannel:    "stable",
			ClientBuildNumber: 260292,
		},
		Presence: presence{Status: "online", Activities: []any{}},
	}
}

// Send writes env to the gateway. It fails with domain.ErrSend unless the
// session is ready.
func (s *Session) Send(env Envelope) error {
	if state := s.State(); state != StateReady {
		return fmt.Errorf("%w: session is %s", domain.ErrSend, state)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSend, err)
	}
	if err := s.writeRaw(data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSend, err)
	}
	return nil
}

func (s *Session) write(op Opcode, d any) error {
	env, err := NewEnvelope(op, d)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return s.writeRaw(data)
}

func (s *Session) writeRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("write frame: %w", domain.ErrSessionClosed)
	}
	return s.conn.WriteMessage(data)
}

// Interact submits an action on behalf of this session's account.
func (s *Session) Interact(ctx context.Context, payload InteractionPayload) error {
	if state := s.State(); state != StateReady {
		return fmt.Errorf("%w: session is %s", domain.ErrSend, state)
	}
	if payload.SessionID == "" {
		payload.SessionID = s.id
	}
	if err := s.submitter.Submit(ctx, s.account.Token, payload); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSend, err)
	}
	return nil
}

// WaitFor registers a correlation on events tagged tag.
func (s *Session) WaitFor(tag string, match func(Event) bool, opts WaitOptions) *Registration {
	return s.waiters.add(tag, match, opts)
}

// WaitForOnce blocks until an event tagged tag matches.
func (s *Session) WaitForOnce(ctx context.Context, tag string, match func(Event) bool, timeout time.Duration) (Event, error) {
	type result struct {
		event Event
		err   error
	}
	ch := make(chan result, 1)

	reg := s.WaitFor(tag, match, WaitOptions{
		Timeout: timeout,
		Once:    true,
		OnEvent: func(e Event) { ch <- result{event: e} },
		OnError: func(err error) { ch <- result{err: err} },
	})

	select {
	case r := <-ch:
		return r.event, r.err
	case <-ctx.Done():
		reg.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel removes every registration in regs under a single lock.
func (s *Session) Cancel(regs ...*Registration) {
	s.waiters.cancel(regs...)
}

// Refresh restarts the timeout window of reg.
func (s *Session) Refresh(reg *Registration) {
	s.waiters.refresh(reg)
}

// Destroy closes the session. Pending registrations fail with
// domain.ErrSessionClosed. It is safe to call more than once.
func (s *Session) Destroy() {
	s.destroy(domain.ErrSessionClosed)
}

func (s *Session) destroy(cause error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))

		s.errMu.Lock()
		s.err = cause
		s.errMu.Unlock()

		close(s.done)

		s.writeMu.Lock()
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Debug("close gateway connection", "err", err)
			}
		}
		s.writeMu.Unlock()

		s.waiters.failAll(domain.ErrSessionClosed)
		s.logger.Info("gateway session closed", "session", s.id, "cause", cause)
	})
}
