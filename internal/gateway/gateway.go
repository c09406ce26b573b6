// Package gateway submits signed operations to the exchange and registers
// their tracking ids for confirmation.
package gateway

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/outcome"
	"github.com/caesar-terminal/dexlink/internal/signer"
)

// UniqueKeyPrefix starts every uniqueKey nonce.
const UniqueKeyPrefix = "dexlink-operation-"

// DefaultTimeout is how long a submission waits for confirmation.
const DefaultTimeout = 2 * time.Minute

// Confirmations is the side of the confirmation channel the gateway needs.
type Confirmations interface {
	Registry() *outcome.Registry
	Connected() bool
}

// Handle tracks one accepted submission.
type Handle struct {
	TrackingID string
	Message    string
	UniqueKey  string

	pending *outcome.Pending
	conf    Confirmations
}

// Wait blocks until the operation settles or ctx ends. Call it as soon as the
// handle is returned. It fails with ErrSocketConnectionRequired when the
// confirmation channel is not connected.
func (h *Handle) Wait(ctx context.Context) (outcome.Result, error) {
	if !h.conf.Connected() {
		return outcome.Result{}, dexerr.ErrSocketConnectionRequired.Wrap(h.TrackingID)
	}
	return h.pending.Wait(ctx)
}

// Pending exposes the registry entry behind the handle.
func (h *Handle) Pending() *outcome.Pending { return h.pending }

// Gateway signs, posts and registers state-mutating operations.
type Gateway struct {
	transport *Transport
	signer    signer.Signer
	conf      Confirmations
	timeout   time.Duration
	log       *slog.Logger
	metrics   *Metrics
	newKey    func() string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets how long each submission is tracked.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithMetrics records submissions into m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a Gateway. sig may be nil, in which case every Submit fails
// with ErrNoSigner.
func New(transport *Transport, sig signer.Signer, conf Confirmations, opts ...Option) *Gateway {
	g := &Gateway{
		transport: transport,
		signer:    sig,
		conf:      conf,
		timeout:   DefaultTimeout,
		log:       slog.Default(),
		newKey:    func() string { return UniqueKeyPrefix + uuid.NewString() },
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// HasSigner reports whether write operations are possible.
func (g *Gateway) HasSigner() bool { return g.signer != nil }

// Submit attaches a uniqueKey to body, signs it as method, posts it to
// endpoint and registers the returned tracking id. body is not modified.
func (g *Gateway) Submit(ctx context.Context, method, endpoint string, body map[string]any) (*Handle, error) {
	h, err := g.submit(ctx, method, endpoint, body)
	g.observe(method, err)
	return h, err
}

func (g *Gateway) submit(ctx context.Context, method, endpoint string, body map[string]any) (*Handle, error) {
	if g.signer == nil {
		return nil, dexerr.ErrNoSigner.Wrap(method)
	}

	payload := maps.Clone(body)
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	key := g.newKey()
	payload["uniqueKey"] = key

	signed, err := g.signer.Sign(ctx, method, payload)
	if err != nil {
		return nil, err
	}

	resp, err := g.transport.Post(ctx, endpoint, signed)
	if err != nil {
		return nil, err
	}

	p, err := g.conf.Registry().Register(resp.TrackingID, g.timeout)
	if err != nil {
		return nil, err
	}

	g.log.Info("gateway: submitted", "method", method, "tracking_id", resp.TrackingID, "unique_key", key)
	return &Handle{
		TrackingID: resp.TrackingID,
		Message:    resp.Message,
		UniqueKey:  key,
		pending:    p,
		conf:       g.conf,
	}, nil
}

func (g *Gateway) observe(method string, err error) {
	if g.metrics == nil {
		return
	}
	kind := "ok"
	if err != nil {
		kind = dexerr.KindOf(err)
	}
	g.metrics.Submissions.WithLabelValues(method, kind).Inc()
}
