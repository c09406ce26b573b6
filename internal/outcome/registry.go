// Package outcome tracks submitted operations until the remote system reports
// how they ended.
//
// Four actors race on every tracking id: registration at submit time, the
// caller declaring it will wait, the asynchronous confirmation, and the
// timeout. Registry arbitrates them so that each entry settles exactly once:
//
//	first terminal event   caller waiting       caller not waiting
//	PROCESSED              Resolved, data       Resolved, data
//	FAILED                 TransactionWaitFailed Resolved, best effort
//	timeout                TransactionWaitTimeout TimedOut, best effort
//	Disable                SocketDisabled       SocketDisabled
//
// A caller that never waits therefore never sees a failure it cannot observe.
// Once it has waited, failures surface. Disable is an operator shutdown and
// rejects everything regardless.
package outcome

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

// State is the lifecycle position of a Pending.
type State int32

const (
	StateRegistered State = iota + 1
	StateAwaited
	StateResolved
	StateRejected
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateAwaited:
		return "awaited"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateRejected || s == StateTimedOut
}

// Result is what a successful wait returns. BestEffort is set when the entry
// settled without a PROCESSED confirmation; Data is then empty.
type Result struct {
	TrackingID string          `json:"trackingId"`
	Data       json.RawMessage `json:"data,omitempty"`
	BestEffort bool            `json:"bestEffort,omitempty"`
}

// Event is published on every terminal transition. Cause holds the remote
// failure or timeout even when the caller was given a best-effort success.
type Event struct {
	TrackingID string
	State      State
	Awaited    bool
	BestEffort bool
	Err        error
	Cause      error
	At         time.Time
}

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It must not call f synchronously.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Pending is one tracked operation. It doubles as the caller's future: a
// Pending obtained from Register keeps working after the registry has
// dropped the entry, so a confirmation that lands before Wait is not lost.
type Pending struct {
	id       string
	timeout  time.Duration
	deadline time.Time
	reg      *Registry

	// Guarded by reg.mu.
	state State
	timer Timer

	// Written once before done is closed.
	done   chan struct{}
	result Result
	err    error
}

// TrackingID returns the id the entry was registered under.
func (p *Pending) TrackingID() string { return p.id }

// Deadline returns when the entry times out.
func (p *Pending) Deadline() time.Time { return p.deadline }

// State returns the current state.
func (p *Pending) State() State {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.state
}

// Done is closed once the entry has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Outcome returns the settled result. ok is false while the entry is live.
func (p *Pending) Outcome() (res Result, err error, ok bool) {
	select {
	case <-p.done:
		return p.result, p.err, true
	default:
		return Result{}, nil, false
	}
}

// Wait declares that the caller is interested in the outcome and blocks until
// it settles or ctx ends. Cancelling ctx stops the wait, not the entry.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	p.reg.markAwaited(p)
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Registry holds every live Pending keyed by tracking id. A process normally
// has one, owned by the confirmation channel; tests build their own.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Pending

	afterFunc AfterFunc
	nowFunc   func() time.Time
	log       *slog.Logger
	metrics   *Metrics

	subMu sync.RWMutex
	subs  []chan Event
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithMetrics records registrations and settlements.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock replaces the wall clock and timer source (testing hook).
func WithClock(now func() time.Time, after AfterFunc) Option {
	return func(r *Registry) {
		r.nowFunc = now
		r.afterFunc = after
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		pending:   make(map[string]*Pending),
		afterFunc: realAfterFunc,
		nowFunc:   time.Now,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register starts tracking id and arms its timeout.
func (r *Registry) Register(id string, timeout time.Duration) (*Pending, error) {
	if id == "" {
		return nil, dexerr.Invalid(dexerr.ReasonInvalidTracking, "trackingId", "empty")
	}
	if timeout <= 0 {
		return nil, dexerr.Invalid(dexerr.ReasonInvalidTimeout, "timeout", "must be positive, got %s", timeout)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; ok {
		return nil, dexerr.ErrTransactionIDAlreadyRegistered.Wrap(id)
	}

	p := &Pending{
		id:       id,
		timeout:  timeout,
		deadline: r.nowFunc().Add(timeout),
		reg:      r,
		state:    StateRegistered,
		done:     make(chan struct{}),
	}
	r.pending[id] = p
	p.timer = r.afterFunc(timeout, func() { r.expire(p) })

	if r.metrics != nil {
		r.metrics.Registered.Inc()
		r.metrics.Pending.Inc()
	}
	return p, nil
}

// Lookup returns the live entry for id.
func (r *Registry) Lookup(id string) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	return p, ok
}

// Wait marks the live entry for id as awaited and returns it; call
// Pending.Wait to block on it.
func (r *Registry) Wait(id string) (*Pending, error) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok && p.state == StateRegistered {
		p.state = StateAwaited
	}
	r.mu.Unlock()

	if !ok {
		return nil, dexerr.ErrTransactionIDNotRegistered.Wrap(id)
	}
	return p, nil
}

// Resolve settles id with a PROCESSED confirmation. It reports whether a
// live entry was found.
func (r *Registry) Resolve(id string, data json.RawMessage) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	ev := r.settleLocked(p, StateResolved, Result{TrackingID: id, Data: data}, nil, nil)
	r.mu.Unlock()

	r.publish(ev)
	return true
}

// Reject settles id with a FAILED confirmation. It reports whether a live
// entry was found.
func (r *Registry) Reject(id string, detail json.RawMessage) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	failure := &dexerr.WaitFailedError{TrackingID: id, Detail: detail}
	var ev *Event
	if p.state == StateAwaited {
		ev = r.settleLocked(p, StateRejected, Result{}, failure, failure)
	} else {
		ev = r.settleLocked(p, StateResolved, Result{TrackingID: id, BestEffort: true}, nil, failure)
	}
	r.mu.Unlock()

	r.publish(ev)
	return true
}

// Disable rejects every live entry with ErrSocketDisabled, awaited or not,
// and empties the registry. It returns how many entries it rejected.
func (r *Registry) Disable() int {
	r.mu.Lock()
	entries := r.pending
	r.pending = make(map[string]*Pending)
	events := make([]*Event, 0, len(entries))
	for id, p := range entries {
		err := dexerr.ErrSocketDisabled.Wrap(id)
		events = append(events, r.settleLocked(p, StateRejected, Result{}, err, err))
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.publish(ev)
	}
	if len(entries) > 0 {
		r.log.Warn("outcome registry disabled", "rejected", len(entries))
	}
	return len(entries)
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Subscribe returns a channel receiving every terminal Event. Slow consumers
// miss events rather than stall settlement.
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Registry) markAwaited(p *Pending) {
	r.mu.Lock()
	if p.state == StateRegistered {
		p.state = StateAwaited
	}
	r.mu.Unlock()
}

func (r *Registry) expire(p *Pending) {
	r.mu.Lock()
	if p.state.Terminal() {
		r.mu.Unlock()
		return
	}
	timeoutErr := dexerr.ErrTransactionWaitTimeout.Wrapf("%s after %s", p.id, p.timeout)
	var ev *Event
	if p.state == StateAwaited {
		ev = r.settleLocked(p, StateTimedOut, Result{}, timeoutErr, timeoutErr)
	} else {
		ev = r.settleLocked(p, StateTimedOut, Result{TrackingID: p.id, BestEffort: true}, nil, timeoutErr)
	}
	r.mu.Unlock()

	r.publish(ev)
}

// settleLocked moves p into a terminal state exactly once. Caller must hold
// r.mu. It returns nil when p had already settled.
func (r *Registry) settleLocked(p *Pending, state State, res Result, err, cause error) *Event {
	if p.state.Terminal() {
		return nil
	}
	awaited := p.state == StateAwaited

	p.state = state
	p.result = res
	p.err = err
	if p.timer != nil {
		p.timer.Stop()
	}
	if cur, ok := r.pending[p.id]; ok && cur == p {
		delete(r.pending, p.id)
	}
	close(p.done)

	if r.metrics != nil {
		r.metrics.Pending.Dec()
		r.metrics.Settled.WithLabelValues(state.String(), boolLabel(awaited)).Inc()
	}

	return &Event{
		TrackingID: p.id,
		State:      state,
		Awaited:    awaited,
		BestEffort: res.BestEffort,
		Err:        err,
		Cause:      cause,
		At:         r.nowFunc(),
	}
}

func (r *Registry) publish(ev *Event) {
	if ev == nil {
		return
	}
	r.log.Debug("outcome settled",
		"tracking_id", ev.TrackingID,
		"state", ev.State.String(),
		"awaited", ev.Awaited,
		"kind", dexerr.KindOf(ev.Err),
	)

	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- *ev:
		default:
			r.log.Warn("outcome: dropping event for slow subscriber", "tracking_id", ev.TrackingID)
		}
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
