// Package journal persists settled outcomes to Redis so operators can see
// what happened to a tracking id after the caller has gone away.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/outcome"
)

// KeyPrefix starts every journal key: outcome:{trackingId}.
const KeyPrefix = "outcome:"

// DefaultTTL is how long a journal entry is kept.
const DefaultTTL = 24 * time.Hour

// RedisClient abstracts the Redis operations used by Writer.
// In production this is satisfied by Redis; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Redis adapts a go-redis client to RedisClient.
type Redis struct {
	client redis.Cmdable
}

// NewRedis wraps client.
func NewRedis(client redis.Cmdable) *Redis { return &Redis{client: client} }

// HSet implements RedisClient.
func (r *Redis) HSet(ctx context.Context, key string, values ...any) error {
	return r.client.HSet(ctx, key, values...).Err()
}

// Expire implements RedisClient.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

// Writer drains a registry's terminal events into Redis using the schema:
//
//	Key:    outcome:{trackingId}
//	Fields: state, awaited, best_effort, kind, cause, ts
//
// kind is the error the caller saw (empty on success); cause is what actually
// ended the operation, which differs for best-effort settlements.
type Writer struct {
	client RedisClient
	feed   <-chan outcome.Event
	buf    chan outcome.Event
	ttl    time.Duration
	log    *slog.Logger
}

// NewWriter creates a Writer reading from feed, normally Registry.Subscribe().
// A ttl of zero uses DefaultTTL.
func NewWriter(client RedisClient, feed <-chan outcome.Event, ttl time.Duration, log *slog.Logger) *Writer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		client: client,
		feed:   feed,
		buf:    make(chan outcome.Event, 1024),
		ttl:    ttl,
		log:    log,
	}
}

// Run ingests and flushes events until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.feed:
				if !ok {
					return
				}
				select {
				case w.buf <- ev:
				default:
					w.log.Warn("journal: buffer full, dropping event", "tracking_id", ev.TrackingID)
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-w.buf:
				if err := w.Write(ctx, ev); err != nil {
					w.log.Error("journal: write failed", "tracking_id", ev.TrackingID, "error", err)
				}
			}
		}
	}()

	wg.Wait()
}

// Write stores one event.
func (w *Writer) Write(ctx context.Context, ev outcome.Event) error {
	key := KeyPrefix + ev.TrackingID
	err := w.client.HSet(ctx, key,
		"state", ev.State.String(),
		"awaited", strconv.FormatBool(ev.Awaited),
		"best_effort", strconv.FormatBool(ev.BestEffort),
		"kind", dexerr.KindOf(ev.Err),
		"cause", dexerr.KindOf(ev.Cause),
		"ts", strconv.FormatInt(ev.At.UnixMilli(), 10),
	)
	if err != nil {
		return fmt.Errorf("journal: hset %s: %w", key, err)
	}
	if err := w.client.Expire(ctx, key, w.ttl); err != nil {
		return fmt.Errorf("journal: expire %s: %w", key, err)
	}
	return nil
}
