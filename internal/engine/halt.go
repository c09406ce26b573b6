package engine

import (
	"sync"
	"time"
)

// Health reports whether an upstream dependency is usable. Satisfied by
// *channel.Service.
type Health interface {
	Healthy() bool
}

// Halt gates new intents. It enforces:
//   - a global manual halt
//   - per-pool halts
//   - a cool-off after a pool is resumed
//   - optionally, a healthy confirmation channel
//
// The zero value is not usable; call NewHalt.
type Halt struct {
	coolOff time.Duration

	mu      sync.RWMutex
	halted  bool
	pools   map[string]time.Time // poolKey -> resumedAt, zero while halted
	watched []Health

	nowFunc func() time.Time // injectable clock for testing
}

// NewHalt creates a Halt with nothing halted.
func NewHalt(coolOff time.Duration) *Halt {
	return &Halt{
		coolOff: coolOff,
		pools:   make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// Watch makes CanTrade false whenever h reports unhealthy.
func (g *Halt) Watch(h Health) {
	g.mu.Lock()
	g.watched = append(g.watched, h)
	g.mu.Unlock()
}

// ManualHalt blocks every pool until Resume.
func (g *Halt) ManualHalt() {
	g.mu.Lock()
	g.halted = true
	g.mu.Unlock()
}

// Resume clears the manual halt. Per-pool halts are unaffected.
func (g *Halt) Resume() {
	g.mu.Lock()
	g.halted = false
	g.mu.Unlock()
}

// HaltPool blocks one pool.
func (g *Halt) HaltPool(poolKey string) {
	g.mu.Lock()
	g.pools[poolKey] = time.Time{}
	g.mu.Unlock()
}

// ResumePool unblocks a pool once the cool-off has elapsed.
func (g *Halt) ResumePool(poolKey string) {
	g.mu.Lock()
	if _, ok := g.pools[poolKey]; ok {
		g.pools[poolKey] = g.nowFunc()
	}
	g.mu.Unlock()
}

// CanTrade returns true only if no manual halt is active, every watched
// dependency is healthy, and the pool is neither halted nor cooling off.
func (g *Halt) CanTrade(poolKey string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.halted {
		return false
	}
	for _, h := range g.watched {
		if !h.Healthy() {
			return false
		}
	}

	resumedAt, tracked := g.pools[poolKey]
	if !tracked {
		return true
	}
	if resumedAt.IsZero() {
		return false
	}
	if g.nowFunc().Sub(resumedAt) < g.coolOff {
		return false
	}
	return true
}
