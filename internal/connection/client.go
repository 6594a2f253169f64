package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// webSocketDialer opens gorilla/websocket transports.
type webSocketDialer struct {
	cfg    ClientConfig
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a Dialer backed by gorilla/websocket.
func NewWebSocketDialer(cfg ClientConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}

	return &webSocketDialer{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// Dial starts the handshake in the background and returns immediately.
func (d *webSocketDialer) Dial(url string, h TransportHandler) Transport {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		cfg:     d.cfg,
		logger:  d.logger.With("url", redactURL(url)),
		handler: h,
		cancel:  cancel,
	}
	go c.run(ctx, d.dialer, url)
	return c
}

// client is a single WebSocket connection.
type client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	handler TransportHandler
	cancel  context.CancelFunc

	// Write serialization
	writeMu sync.Mutex

	// State
	mu     sync.RWMutex
	conn   *websocket.Conn
	open   bool
	closed bool
}

// run dials, reports the open and then reads until the connection ends.
func (c *client) run(ctx context.Context, dialer *websocket.Dialer, url string) {
	defer c.cancel()

	conn, resp, err := dialer.DialContext(ctx, url, c.cfg.Header)
	if err != nil {
		if c.isClosed() {
			return
		}
		code := CloseAbnormal
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			err = fmt.Errorf("%w: handshake status %d", ErrUnauthorized, resp.StatusCode)
			code = CloseAuthFailed
		}
		c.handler.OnError(err)
		c.handler.OnClose(code, err.Error())
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	c.logger.Debug("websocket connected")
	c.handler.OnOpen()
	c.readLoop(conn)
}

// readLoop delivers frames until the connection fails or is closed locally.
func (c *client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err == nil {
			c.handler.OnMessage(data)
			continue
		}

		c.mu.Lock()
		local := c.closed
		c.open = false
		c.mu.Unlock()
		conn.Close()

		// Ignore errors after Close() is called
		if local {
			return
		}

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			c.handler.OnClose(closeErr.Code, closeErr.Text)
			return
		}
		c.handler.OnError(err)
		c.handler.OnClose(CloseAbnormal, err.Error())
		return
	}
}

// Send writes a text frame.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.open {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and closes the socket. A pending
// handshake is cancelled. No events are reported after Close.
func (c *client) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	conn := c.conn
	c.mu.Unlock()

	c.cancel()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("failed to send close frame", "error", err)
	}
	return conn.Close()
}

// IsOpen returns the current connection state.
func (c *client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

func (c *client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
