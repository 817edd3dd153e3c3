package stats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketKey(t *testing.T) {
	at := time.Date(2026, 5, 17, 7, 0, 59, 0, time.FixedZone("EDT", -4*3600))
	assert.Equal(t, "cartrush:stats:minute:202605171100", BucketKey(defaultPrefix, at))
}

func TestOptions(t *testing.T) {
	r := newRecorder(nil, WithPrefix(":custom:"), WithTTL(time.Minute), WithLogger(nil))
	assert.Equal(t, "custom", r.prefix)
	assert.Equal(t, time.Minute, r.ttl)
	assert.NotNil(t, r.logger)

	r = newRecorder(nil, WithPrefix("::"))
	assert.Equal(t, defaultPrefix, r.prefix, "empty prefix keeps default")
}

func TestRecord_Fields(t *testing.T) {
	r := newRecorder(nil)

	r.RecordAttempt(429, "throttle-rate")
	r.RecordSession("stopped", "timeout")
	r.RecordSession("success", "")

	require.Len(t, r.queue, 3)
	assert.Equal(t, []string{"attempts", "status:429", "decision:throttle-rate"}, (<-r.queue).fields)
	assert.Equal(t, []string{"sessions", "session:stopped", "reason:timeout"}, (<-r.queue).fields)
	assert.Equal(t, []string{"sessions", "session:success"}, (<-r.queue).fields)
}

func TestRecord_DropsWhenFull(t *testing.T) {
	// no writer goroutine, so the queue only fills
	r := newRecorder(nil)

	done := make(chan struct{})
	go func() {
		for range queueSize + 10 {
			r.RecordAttempt(200, "needs-confirmation")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordAttempt blocked on a full queue")
	}
	assert.Equal(t, int64(10), r.Dropped())
}

func TestClose_DrainsAndRejects(t *testing.T) {
	r := NewRedisRecorder(nil)
	for range 5 {
		r.RecordAttempt(500, "retry")
	}
	r.Close()
	r.Close()

	assert.Empty(t, r.queue)
	r.RecordAttempt(500, "retry")
	assert.Equal(t, int64(1), r.Dropped())
}

func TestNop(t *testing.T) {
	var n Nop
	n.RecordAttempt(200, "terminal")
	n.RecordSession("error", "")
}

func TestRedisRecorder_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	rdb, err := Dial(ctx, addr, "", 0)
	require.NoError(t, err)
	defer func() { _ = rdb.Close() }()

	prefix := "cartrush:test:" + time.Now().Format("150405.000000")
	r := NewRedisRecorder(rdb, WithPrefix(prefix), WithTTL(time.Minute))
	now := time.Now()

	r.RecordAttempt(429, "throttle-rate")
	r.RecordAttempt(429, "throttle-rate")
	r.RecordSession("success", "")
	r.Close()

	got, err := r.Minute(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got["status:429"])
	assert.Equal(t, int64(2), got["decision:throttle-rate"])
	assert.Equal(t, int64(1), got["session:success"])

	ttl, err := rdb.TTL(ctx, BucketKey(prefix, now)).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	_ = rdb.Del(ctx, prefix+":total", BucketKey(prefix, now)).Err()
}
