package channel

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// CircuitState represents the health of the WebSocket connection.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota // healthy
	CircuitOpen                       // reconnecting or never connected
)

// WSConfig holds tunable parameters for a WSClient.
type WSConfig struct {
	URL string

	// Buffer sizes for the underlying TCP connection.
	ReadBufferSize  int
	WriteBufferSize int

	// HeartbeatTimeout is the maximum duration of silence, pongs included,
	// before the client considers the connection dead and reconnects. Pings
	// go out at half this interval.
	HeartbeatTimeout time.Duration

	// Backoff parameters for reconnection.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// Headers sent during the WebSocket handshake.
	Headers http.Header
}

// DefaultWSConfig returns defaults suited to a confirmation feed that may be
// idle for long stretches.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HeartbeatTimeout: 30 * time.Second,
		BackoffInitial:   250 * time.Millisecond,
		BackoffMax:       30 * time.Second,
		BackoffFactor:    2.0,
	}
}

// WSClient is a resilient WebSocket connection manager. It reconnects with
// exponential backoff, keeps the link alive with pings, and hands every
// inbound message to its subscribers.
type WSClient struct {
	cfg WSConfig
	log *slog.Logger

	circuit atomic.Int32

	mu   sync.RWMutex
	conn *websocket.Conn

	// subscribers receive every inbound message.
	subMu sync.RWMutex
	subs  []chan []byte

	cancel    context.CancelFunc
	loops     sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}

	// onReconnect is called after each successful reconnection.
	onReconnect func()
}

// NewWSClient creates a new WebSocket client. Call Connect to start.
func NewWSClient(cfg WSConfig, log *slog.Logger) *WSClient {
	if log == nil {
		log = slog.Default()
	}
	defaults := DefaultWSConfig(cfg.URL)
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaults.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = max(defaults.BackoffMax, cfg.BackoffInitial)
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = defaults.BackoffFactor
	}
	ws := &WSClient{
		cfg:  cfg,
		log:  log.With("component", "ws", "url", cfg.URL),
		done: make(chan struct{}),
	}
	ws.circuit.Store(int32(CircuitOpen))
	return ws
}

// Circuit returns the current connection state.
func (ws *WSClient) Circuit() CircuitState {
	return CircuitState(ws.circuit.Load())
}

// Subscribe returns a channel that receives every inbound message. Delivery
// blocks until the subscriber takes the message, so subscribers must keep
// draining. The channel is closed by Close.
func (ws *WSClient) Subscribe() <-chan []byte {
	ch := make(chan []byte, 512)
	ws.subMu.Lock()
	ws.subs = append(ws.subs, ch)
	ws.subMu.Unlock()
	return ch
}

// Connect dials the endpoint and starts the read and ping loops. ctx bounds the
// initial dial only; the loops run until Close.
func (ws *WSClient) Connect(ctx context.Context) error {
	if err := ws.dial(ctx); err != nil {
		return err
	}
	ws.circuit.Store(int32(CircuitClosed))

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ws.cancel = cancel

	ws.loops.Add(2)
	go ws.readLoop(loopCtx)
	go ws.pingLoop(loopCtx)

	return nil
}

// Close shuts down the client, closing the connection and, once the loops
// have exited, every subscriber channel. It is safe to call more than once.
func (ws *WSClient) Close() {
	ws.closeOnce.Do(func() {
		if ws.cancel != nil {
			ws.cancel()
		}
		ws.mu.Lock()
		if ws.conn != nil {
			ws.conn.Close()
		}
		ws.mu.Unlock()

		ws.loops.Wait()
		ws.circuit.Store(int32(CircuitOpen))

		ws.subMu.RLock()
		for _, ch := range ws.subs {
			close(ch)
		}
		ws.subMu.RUnlock()

		close(ws.done)
	})
}

// Done returns a channel that is closed when the client has fully shut down.
func (ws *WSClient) Done() <-chan struct{} {
	return ws.done
}

// dial establishes the WebSocket connection with TCP_NODELAY enabled.
func (ws *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:   ws.cfg.ReadBufferSize,
		WriteBufferSize:  ws.cfg.WriteBufferSize,
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	ws.mu.RLock()
	url, headers := ws.cfg.URL, ws.cfg.Headers
	ws.mu.RUnlock()

	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))
	})

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	return nil
}

// reconnect loops with exponential backoff until a connection is re-established
// or the context is cancelled.
func (ws *WSClient) reconnect(ctx context.Context) bool {
	ws.circuit.Store(int32(CircuitOpen))

	delay := ws.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := ws.dial(ctx); err != nil {
			ws.log.Warn("ws: reconnect failed", "err", err, "retry_in", delay)
			delay = time.Duration(math.Min(
				float64(delay)*ws.cfg.BackoffFactor,
				float64(ws.cfg.BackoffMax),
			))
			continue
		}
		if ctx.Err() != nil {
			ws.mu.RLock()
			ws.conn.Close()
			ws.mu.RUnlock()
			return false
		}

		ws.circuit.Store(int32(CircuitClosed))
		ws.log.Info("ws: reconnected")
		if ws.onReconnect != nil {
			ws.onReconnect()
		}
		return true
	}
}

// readLoop reads messages and hands them to subscribers. It also acts as the
// heartbeat monitor: if nothing (pongs included) arrives within
// HeartbeatTimeout, it reconnects.
func (ws *WSClient) readLoop(ctx context.Context) {
	defer ws.loops.Done()
	for {
		ws.mu.RLock()
		c := ws.conn
		ws.mu.RUnlock()

		c.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ws.log.Warn("ws: read error, reconnecting", "err", err)
			c.Close()
			if !ws.reconnect(ctx) {
				return
			}
			continue
		}

		if !ws.fanOut(ctx, msg) {
			return
		}
	}
}

// pingLoop sends pings at half the heartbeat interval. The feed is
// receive-only, so pings are the only frames written.
func (ws *WSClient) pingLoop(ctx context.Context) {
	defer ws.loops.Done()

	ping := time.NewTicker(ws.cfg.HeartbeatTimeout / 2)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			deadline := time.Now().Add(ws.cfg.HeartbeatTimeout / 2)
			if err := c.WriteControl(websocket.PingMessage, nil, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				ws.log.Debug("ws: ping failed", "err", err)
			}
		}
	}
}

// fanOut delivers msg to every subscriber. It reports false if ctx ended
// first. Confirmations are never dropped for a slow subscriber.
func (ws *WSClient) fanOut(ctx context.Context, msg []byte) bool {
	ws.subMu.RLock()
	defer ws.subMu.RUnlock()

	for _, ch := range ws.subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
