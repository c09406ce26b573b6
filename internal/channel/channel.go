// Package channel is the confirmation channel: one WebSocket per process on
// which the ledger reports how each submitted operation ended.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/outcome"
)

// Remote status values carried by a Message.
const (
	StatusPending   = "PENDING"
	StatusProcessed = "PROCESSED"
	StatusFailed    = "FAILED"
)

// Message is one confirmation event.
type Message struct {
	TrackingID string          `json:"trackingId"`
	Status     string          `json:"status"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// Service owns the confirmation socket and the outcome registry it feeds.
// Construct one per process and share it between clients.
type Service struct {
	cfg      WSConfig
	registry *outcome.Registry
	log      *slog.Logger
	metrics  *Metrics

	group singleflight.Group

	mu         sync.Mutex
	ws         *WSClient
	dispatch   chan struct{} // closed when the dispatcher exits
	gen        uint64        // bumped by Disconnect; a dial from an older gen is discarded
	cancelDial context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics records message and reconnect counts.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a disconnected Service feeding registry.
func NewService(cfg WSConfig, registry *outcome.Registry, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		registry: registry,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry returns the registry this service resolves into.
func (s *Service) Registry() *outcome.Registry { return s.registry }

// Connect opens the socket. It is idempotent: once connected it returns nil
// at once, and concurrent callers share a single dial bounded by the first
// caller's ctx.
func (s *Service) Connect(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	_, err, _ := s.group.Do("connect", func() (any, error) {
		dialCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		s.mu.Lock()
		if s.ws != nil {
			s.mu.Unlock()
			return nil, nil
		}
		gen := s.gen
		s.cancelDial = cancel
		s.mu.Unlock()

		ws := NewWSClient(s.cfg, s.log)
		if s.metrics != nil {
			ws.onReconnect = s.metrics.Reconnects.Inc
		}
		msgs := ws.Subscribe()
		dialErr := ws.Connect(dialCtx)

		done := make(chan struct{})
		s.mu.Lock()
		s.cancelDial = nil
		if s.gen != gen {
			s.mu.Unlock()
			ws.Close()
			return nil, dexerr.ErrSocketDisabled.Wrap("disconnected while connecting")
		}
		if dialErr != nil {
			s.mu.Unlock()
			ws.Close()
			return nil, dialErr
		}
		s.ws = ws
		s.dispatch = done
		s.mu.Unlock()

		go s.run(msgs, done)
		s.log.Info("confirmation channel connected", "url", s.cfg.URL)
		return nil, nil
	})
	return err
}

// Connected reports whether Connect has succeeded and Disconnect has not been
// called since. A connected service may be briefly reconnecting.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws != nil
}

// Healthy reports whether the socket is currently up.
func (s *Service) Healthy() bool {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	return ws != nil && ws.Circuit() == CircuitClosed
}

// Disconnect closes the socket and disables the registry, rejecting every
// pending operation with SocketDisabled. A Connect still dialing is aborted
// and returns SocketDisabled. It is safe to call when not connected.
func (s *Service) Disconnect() {
	s.mu.Lock()
	ws, done := s.ws, s.dispatch
	s.ws, s.dispatch = nil, nil
	s.gen++
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	s.mu.Unlock()

	if ws != nil {
		ws.Close()
		<-done
		s.log.Info("confirmation channel disconnected")
	}
	s.registry.Disable()
}

func (s *Service) run(msgs <-chan []byte, done chan struct{}) {
	defer close(done)
	for raw := range msgs {
		s.handle(raw)
	}
}

func (s *Service) handle(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.observe("undecodable")
		s.log.Warn("channel: dropping undecodable message", "err", err, "bytes", len(raw))
		return
	}
	if msg.TrackingID == "" {
		s.observe("undecodable")
		s.log.Warn("channel: dropping message without trackingId", "status", msg.Status)
		return
	}

	switch msg.Status {
	case StatusPending:
		s.observe(msg.Status)
		s.log.Debug("channel: operation pending", "tracking_id", msg.TrackingID)
	case StatusProcessed:
		s.observe(msg.Status)
		if !s.registry.Resolve(msg.TrackingID, msg.Data) {
			s.log.Debug("channel: no pending operation", "tracking_id", msg.TrackingID, "status", msg.Status)
		}
	case StatusFailed:
		s.observe(msg.Status)
		detail := msg.Error
		if len(detail) == 0 {
			detail = msg.Data
		}
		if !s.registry.Reject(msg.TrackingID, detail) {
			s.log.Debug("channel: no pending operation", "tracking_id", msg.TrackingID, "status", msg.Status)
		}
	default:
		s.observe("unknown")
		s.log.Warn("channel: dropping message with unknown status", "tracking_id", msg.TrackingID, "status", msg.Status)
	}
}

func (s *Service) observe(status string) {
	if s.metrics != nil {
		s.metrics.Messages.WithLabelValues(status).Inc()
	}
}
