package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	inbound   chan []byte
	writes    chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		writes:  make(chan Envelope, 256),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	select {
	case c.writes <- env:
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, op Opcode, tag string, d any) {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{Op: op, T: tag, D: raw})
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeConn) pushMessage(t *testing.T, tag string, m Message) {
	t.Helper()
	c.push(t, OpDispatch, tag, m)
}

func (c *fakeConn) nextWrite(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-c.writes:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame to be written")
		return Envelope{}
	}
}

type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d fakeDialer) Dial(context.Context, string) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []InteractionPayload
	tokens   []string
	err      error
	onSubmit func(InteractionPayload)
}

func (s *fakeSubmitter) Submit(_ context.Context, token string, payload InteractionPayload) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.tokens = append(s.tokens, token)
	hook := s.onSubmit
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(payload)
	}
	return nil
}

func (s *fakeSubmitter) submitted() []InteractionPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InteractionPayload(nil), s.payloads...)
}

func testAccount() domain.Account {
	return domain.Account{ID: "acc-1", Token: "tok-1", ServerID: "guild-1", ChannelID: "chan-1", Mode: domain.ModeFast}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newReadySession returns a connected session whose heartbeat interval is
// long enough not to interfere with the test.
func newReadySession(t *testing.T, cfg Config) (*Session, *fakeConn, *fakeSubmitter) {
	t.Helper()

	conn := newFakeConn()
	submitter := &fakeSubmitter{}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	session := NewSession(testAccount(), fakeDialer{conn: conn}, submitter, cfg)
	t.Cleanup(session.Destroy)

	conn.push(t, OpHello, "", map[string]any{"heartbeat_interval": 60000})
	require.NoError(t, session.Connect(context.Background()))
	identify := conn.nextWrite(t)
	require.Equal(t, OpIdentify, identify.Op)

	return session, conn, submitter
}
