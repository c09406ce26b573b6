// Package dex is the caller-facing client. It validates intents, puts tokens
// in canonical order, and hands signed requests to the gateway.
package dex

import (
	"log/slog"

	"github.com/caesar-terminal/dexlink/internal/engine"
	"github.com/caesar-terminal/dexlink/internal/gateway"
	"github.com/caesar-terminal/dexlink/internal/quote"
)

// Exchange endpoints.
const (
	SwapEndpoint            = "/v1/trade/swap"
	AddLiquidityEndpoint    = "/v1/trade/liquidity"
	RemoveLiquidityEndpoint = "/v1/trade/liquidity/remove"
	CollectFeesEndpoint     = "/v1/trade/collect"
	PositionEndpoint        = "/v1/trade/position"
	UserPositionsEndpoint   = "/v1/trade/positions"
)

// Client binds the gateway, quote aggregator and validator. Any number of
// clients may share one confirmation channel.
type Client struct {
	gw        *gateway.Gateway
	transport *gateway.Transport
	remote    *quote.Remote
	quotes    *quote.Aggregator
	validator *engine.Validator
	log       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithValidator replaces the default validator, e.g. to attach a halt gate.
func WithValidator(v *engine.Validator) Option {
	return func(c *Client) { c.validator = v }
}

// WithQuotes replaces the aggregator built over the transport.
func WithQuotes(a *quote.Aggregator) Option {
	return func(c *Client) { c.quotes = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client. Reads go through transport; writes go through gw.
func New(gw *gateway.Gateway, transport *gateway.Transport, opts ...Option) *Client {
	c := &Client{
		gw:        gw,
		transport: transport,
		remote:    quote.NewRemote(transport),
		validator: engine.NewValidator(nil),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.quotes == nil {
		c.quotes = quote.NewAggregator(c.remote, c.remote, c.log)
	}
	return c
}
