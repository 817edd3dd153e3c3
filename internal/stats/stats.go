// Package stats counts attempt and session outcomes in Redis, bucketed per
// minute.
//
// Recording never blocks the caller: events are queued on a bounded channel
// and written by a single background goroutine. When the queue is full the
// event is dropped and counted.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "cartrush:stats"
	defaultTTL    = 24 * time.Hour
	queueSize     = 1024
	writeTimeout  = 2 * time.Second
)

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAttempt(int, string)    {}
func (Nop) RecordSession(string, string) {}

type record struct {
	at     time.Time
	fields []string
}

// RedisRecorder writes counters with HINCRBY through a pipeline.
//
// Keys:
//   - <prefix>:total                 cumulative, never expires
//   - <prefix>:minute:200601021504   per-minute bucket, expires after ttl
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan record
	done    chan struct{}
	dropped atomic.Int64
}

// Option configures a [RedisRecorder].
type Option func(*RedisRecorder)

// WithPrefix sets the key prefix. Surrounding colons are trimmed.
func WithPrefix(prefix string) Option {
	return func(r *RedisRecorder) {
		if p := strings.Trim(prefix, ":"); p != "" {
			r.prefix = p
		}
	}
}

// WithTTL sets the expiry of per-minute buckets. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(r *RedisRecorder) { r.ttl = d }
}

// WithLogger sets the logger used for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *RedisRecorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedisRecorder starts the background writer. Call [RedisRecorder.Close]
// to flush queued events and stop it.
func NewRedisRecorder(rdb *redis.Client, opts ...Option) *RedisRecorder {
	r := newRecorder(rdb, opts...)
	go r.loop()
	return r
}

func newRecorder(rdb *redis.Client, opts ...Option) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
		logger: slog.Default(),
		queue:  make(chan record, queueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordAttempt counts one attempt by HTTP status (0 for transport errors)
// and by classifier decision.
func (r *RedisRecorder) RecordAttempt(statusCode int, decision string) {
	r.enqueue(record{
		at:     time.Now(),
		fields: []string{"attempts", "status:" + strconv.Itoa(statusCode), "decision:" + decision},
	})
}

// RecordSession counts one finished session by state and stop reason.
func (r *RedisRecorder) RecordSession(state, reason string) {
	fields := []string{"sessions", "session:" + state}
	if reason != "" {
		fields = append(fields, "reason:"+reason)
	}
	r.enqueue(record{at: time.Now(), fields: fields})
}

// Dropped returns the number of events discarded because the queue was full.
func (r *RedisRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events, waits for the queue to drain and returns.
func (r *RedisRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *RedisRecorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *RedisRecorder) loop() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.write(ctx, rec); err != nil {
			r.logger.Warn("stats write failed", "error", err)
		}
		cancel()
	}
}

func (r *RedisRecorder) write(ctx context.Context, rec record) error {
	if r.rdb == nil {
		return nil
	}

	totalKey := r.prefix + ":total"
	bucketKey := BucketKey(r.prefix, rec.at)

	pipe := r.rdb.Pipeline()
	for _, f := range rec.fields {
		pipe.HIncrBy(ctx, totalKey, f, 1)
		pipe.HIncrBy(ctx, bucketKey, f, 1)
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, bucketKey, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// BucketKey returns the per-minute hash key for t.
func BucketKey(prefix string, t time.Time) string {
	return fmt.Sprintf("%s:minute:%s", prefix, t.UTC().Format("200601021504"))
}

// Minute reads the counters of the bucket containing t.
func (r *RedisRecorder) Minute(ctx context.Context, t time.Time) (map[string]int64, error) {
	raw, err := r.rdb.HGetAll(ctx, BucketKey(r.prefix, t)).Result()
	if err != nil {
		return nil, fmt.Errorf("read bucket: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bucket field %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
