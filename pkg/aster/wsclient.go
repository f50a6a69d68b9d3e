package aster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSOptions tunes keep-alive and reconnection.
type WSOptions struct {
	PingInterval         time.Duration // client ping period
	PongTimeout          time.Duration // slack on top of PingInterval before a silent socket is dropped
	HandshakeTimeout     time.Duration
	ReconnectInterval    time.Duration // first reconnect delay
	MaxReconnectInterval time.Duration // reconnect delay cap; sessions longer than this reset the delay
}

func (o *WSOptions) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 10 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 5 * time.Second
	}
	if o.MaxReconnectInterval < o.ReconnectInterval {
		o.MaxReconnectInterval = o.ReconnectInterval
	}
}

const writeTimeout = 5 * time.Second

// WSClient handles one combined-stream connection to Aster and message routing.
type WSClient struct {
	url     string
	streams []string
	opts    WSOptions
	dialer  *websocket.Dialer
	handler func([]byte)
	onState func(connected bool)
	onRetry func(err error, delay time.Duration)
	logger  *zap.Logger

	connected   atomic.Bool
	subscribeID atomic.Uint64
}

// NewWSClient creates a client that subscribes to streams on url.
func NewWSClient(url string, streams []string, opts WSOptions, logger *zap.Logger) *WSClient {
	opts.applyDefaults()
	return &WSClient{
		url:     url,
		streams: streams,
		opts:    opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger,
	}
}

// SetMessageHandler sets the function to handle incoming messages.
// It is called from the client's read goroutine.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// SetStateHook registers a callback for connect/disconnect transitions.
func (c *WSClient) SetStateHook(h func(connected bool)) {
	c.onState = h
}

// SetRetryHook registers a callback invoked before each reconnect delay.
func (c *WSClient) SetRetryHook(h func(err error, delay time.Duration)) {
	c.onRetry = h
}

// Connected reports whether the client currently holds a subscribed connection.
func (c *WSClient) Connected() bool {
	return c.connected.Load()
}

// Streams returns the streams this client subscribes to.
func (c *WSClient) Streams() []string {
	return c.streams
}

// Run connects, subscribes and listens until ctx is cancelled, reconnecting
// with exponential backoff whenever the connection fails. It returns nil on
// cancellation.
func (c *WSClient) Run(ctx context.Context) error {
	if len(c.streams) == 0 {
		return errors.New("websocket client has no streams")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectInterval
	bo.MaxInterval = c.opts.MaxReconnectInterval
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0 // retry forever

	session := func() error {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		started := time.Now()
		c.setConnected(true)
		err = c.listen(ctx, conn)
		c.setConnected(false)

		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		// A long healthy session starts the next retry from the initial delay
		if time.Since(started) >= c.opts.MaxReconnectInterval {
			bo.Reset()
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Warn("websocket disconnected, reconnecting",
			zap.Error(err), zap.Duration("delay", delay), zap.Int("streams", len(c.streams)))
		if c.onRetry != nil {
			c.onRetry(err, delay)
		}
	}

	err := backoff.RetryNotify(session, backoff.WithContext(bo, ctx), notify)
	if ctx.Err() != nil {
		c.logger.Info("websocket client stopped", zap.String("url", c.url))
		return nil
	}
	return err
}

// connect dials the server and sends the subscription for every stream.
func (c *WSClient) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	// Fresh id per subscription so acknowledgements can be told apart
	id := c.subscribeID.Add(1)
	subMsg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": c.streams,
		"id":     id,
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subMsg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("websocket subscribe failed: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	c.logger.Info("WebSocket connected",
		zap.String("url", c.url), zap.Int("streams", len(c.streams)), zap.Uint64("subscribe_id", id))
	return conn, nil
}

// listen reads until the connection fails or ctx is cancelled.
func (c *WSClient) listen(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	readWindow := c.opts.PingInterval + c.opts.PongTimeout
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(readWindow)) }

	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	// Keep-alive pings; on shutdown say goodbye so the read below unblocks
	go func() {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				if ctx.Err() != nil {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second))
				}
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					c.logger.Warn("websocket ping failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		extend()

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *WSClient) setConnected(v bool) {
	if c.connected.Swap(v) != v && c.onState != nil {
		c.onState(v)
	}
}
