package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/gateway-pool/internal/gateway"
	gorilla "github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 16 << 20
)

// Dialer opens gateway connections over gorilla/websocket.
type Dialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

func NewDialer(handshakeTimeout time.Duration) *Dialer {
	return &Dialer{HandshakeTimeout: handshakeTimeout}
}

func (d *Dialer) Dial(ctx context.Context, url string) (gateway.Conn, error) {
	dialer := &gorilla.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	ws.SetReadLimit(defaultReadLimit)

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{ws: ws, writeTimeout: writeTimeout}, nil
}

// Conn adapts a gorilla connection to text frames.
type Conn struct {
	ws           *gorilla.Conn
	writeTimeout time.Duration
}

func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == gorilla.TextMessage || kind == gorilla.BinaryMessage {
			return data, nil
		}
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return c.ws.WriteMessage(gorilla.TextMessage, data)
}

func (c *Conn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}
