package poller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/cartrush/internal/classify"
	"github.com/jpalmerr/cartrush/internal/inventory"
)

// TestScheduler_StopBeforeStart verifies that Stop on a scheduler that was
// never started is a no-op and prevents a later Start.
func TestScheduler_StopBeforeStart(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(500, "") }}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, nil, testLogger())

	ev := s.Stop()
	assert.Equal(t, StateIdle, ev.State)

	s.Start(context.Background())
	s.Wait()
	assert.Equal(t, 0, client.Calls())
}

// TestScheduler_StopTwice verifies that Stop is idempotent.
func TestScheduler_StopTwice(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(500, "") }}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, nil, testLogger())
	s.Start(context.Background())

	first := s.Stop()
	second := s.Stop()
	s.Wait()

	assert.Equal(t, StateStopped, first.State)
	assert.Equal(t, StateStopped, second.State)
	assert.Equal(t, ReasonUser, second.Reason)
}

// TestScheduler_StartTwice verifies that a second Start does not spawn a
// second loop.
func TestScheduler_StartTwice(t *testing.T) {
	rec := &recorder{}
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(500, "") }}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, rec, testLogger())

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Wait()

	starts := 0
	for _, ev := range rec.Events() {
		if ev.LastMessage == msgStarting {
			starts++
		}
	}
	assert.Equal(t, 1, starts)
}

// TestScheduler_ConcurrentStartStop verifies Start and Stop do not race.
func TestScheduler_ConcurrentStartStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(500, "") }}
		s := NewScheduler(testConfig(), client, testRequest, testCreds, nil, testLogger())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		wg.Wait()

		s.Stop()
		s.Wait()
	}
}

// TestScheduler_ContextCancellation verifies that cancelling the parent
// context ends the session.
func TestScheduler_ContextCancellation(t *testing.T) {
	client := &fakeClient{addItem: func(ctx context.Context, _ int) inventory.Response {
		sleepCtx(ctx, 20*time.Millisecond)
		return status(500, "")
	}}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(testConfig(), client, testRequest, testCreds, nil, testLogger())
	s.Start(ctx)

	time.Sleep(10 * time.Millisecond)
	cancel()

	final := waitHalted(t, s, 2*time.Second)
	assert.Equal(t, StateStopped, final.State)
	assert.Equal(t, ReasonShutdown, final.Reason)
}

// Persistent rate limiting shrinks concurrency once, then a
// confirmed 200 ends the session in success.
func TestScheduler_RateLimitReductionThenSuccess(t *testing.T) {
	var added atomic.Int32
	client := &fakeClient{
		addItem: func(ctx context.Context, n int) inventory.Response {
			if n <= 10 {
				return status(429, "")
			}
			sleepCtx(ctx, 50*time.Millisecond)
			added.Add(1)
			return status(200, `{"success":true}`)
		},
		cart: func() (inventory.Cart, error) {
			return inventory.Cart{ItemsCount: int(added.Load())}, nil
		},
	}

	cfg := testConfig()
	cfg.MaxConcurrent = 3
	cfg.Cadence = 10 * time.Millisecond
	cfg.ThrottlePauseMin = 5 * time.Millisecond
	cfg.ThrottlePauseMax = 10 * time.Millisecond
	cfg.ThrottleThreshold = 10

	rec := &recorder{}
	s := NewScheduler(cfg, client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())
	final := waitHalted(t, s, 5*time.Second)

	require.Equal(t, StateSuccess, final.State)
	assert.Equal(t, msgSuccess, final.LastMessage)
	assert.Equal(t, 200, final.LastHTTPStatus)
	assert.GreaterOrEqual(t, final.RequestCount, 11)
	assert.Equal(t, 2, final.MaxConcurrent)

	reductions := 0
	prevMax := cfg.MaxConcurrent
	for _, ev := range rec.Events() {
		if strings.HasPrefix(ev.LastMessage, "Reduced concurrency") {
			reductions++
			assert.Equal(t, "Reduced concurrency to 2 due to persistent rate limiting.", ev.LastMessage)
		}
		assert.LessOrEqual(t, ev.MaxConcurrent, prevMax, "maxConcurrent must not grow")
		prevMax = ev.MaxConcurrent
	}
	assert.Equal(t, 1, reductions)

	events := rec.Events()
	assert.Equal(t, StateSuccess, events[len(events)-1].State)
	assert.Equal(t, []string{s.SessionID()}, rec.Navigated())
	assert.LessOrEqual(t, client.MaxInFlight(), 3)
}

// An auth failure on the first attempt ends the session.
func TestScheduler_AuthErrorIsTerminal(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(401, "") }}

	rec := &recorder{}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())
	final := waitHalted(t, s, 2*time.Second)

	assert.Equal(t, StateError, final.State)
	assert.Equal(t, 1, final.RequestCount)
	assert.Equal(t, string(classify.ReasonAuth), final.Reason)

	want := []string{
		"polling:" + msgStarting,
		"error:" + msgAuth,
	}
	if diff := cmp.Diff(want, transitions(rec.Events())); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

// An outside-window fault ends the session without retry.
func TestScheduler_TooEarlyIsTerminal(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response {
		return status(417, faultBody("R1-V-100017.error", "Reservations can only be made within 9 Months"))
	}}

	rec := &recorder{}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())
	final := waitHalted(t, s, 2*time.Second)

	assert.Equal(t, StateError, final.State)
	assert.Equal(t, msgTooEarly, final.LastMessage)
	assert.Equal(t, "Reservations can only be made within 9 Months", final.ServerMessage)
	assert.Equal(t, 417, final.LastHTTPStatus)
	assert.Equal(t, 1, client.Calls())
}

// A 200 that does not show up in the cart keeps polling.
func TestScheduler_UnconfirmedSuccessKeepsPolling(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(200, `{}`) }}

	rec := &recorder{}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())

	eventually(t, 2*time.Second, func() bool { return s.Status().RequestCount >= 3 }, "requests grow")
	first := s.Status().RequestCount
	eventually(t, 2*time.Second, func() bool { return s.Status().RequestCount > first }, "requests keep growing")
	assert.Equal(t, StatePolling, s.Status().State)

	final := s.Stop()
	s.Wait()

	assert.Equal(t, StateStopped, final.State)
	for _, ev := range rec.Events() {
		assert.NotEqual(t, StateSuccess, ev.State)
	}
	assert.Contains(t, transitions(rec.Events()), "polling:"+msgUnconfirmed)
	assert.Empty(t, rec.Navigated())
}

// A response whose body was cut short is judged on its status.
func TestScheduler_TruncatedBodyUsesStatus(t *testing.T) {
	readErr := errors.New("failed to read response body: unexpected EOF")

	t.Run("200 is confirmed", func(t *testing.T) {
		var added atomic.Int32
		client := &fakeClient{
			addItem: func(context.Context, int) inventory.Response {
				added.Add(1)
				return inventory.Response{StatusCode: 200, Body: []byte(`{"success":true`), Error: readErr}
			},
			cart: func() (inventory.Cart, error) {
				return inventory.Cart{ItemsCount: int(added.Load())}, nil
			},
		}

		rec := &recorder{}
		s := NewScheduler(testConfig(), client, testRequest, testCreds, rec, testLogger())
		s.Start(context.Background())
		final := waitHalted(t, s, 2*time.Second)

		assert.Equal(t, StateSuccess, final.State)
		assert.Equal(t, 1, final.RequestCount)
		assert.Len(t, rec.Navigated(), 1)

		var responses []string
		for _, le := range rec.Logs() {
			if le.Kind == LogKindResponse {
				responses = append(responses, le.Message)
			}
		}
		require.NotEmpty(t, responses)
		assert.Contains(t, responses[0], "HTTP 200")
		assert.Contains(t, responses[0], "unexpected EOF")
	})

	t.Run("401 is terminal", func(t *testing.T) {
		client := &fakeClient{addItem: func(context.Context, int) inventory.Response {
			return inventory.Response{StatusCode: 401, Error: readErr}
		}}

		s := NewScheduler(testConfig(), client, testRequest, testCreds, &recorder{}, testLogger())
		s.Start(context.Background())
		final := waitHalted(t, s, 2*time.Second)

		assert.Equal(t, StateError, final.State)
		assert.Equal(t, string(classify.ReasonAuth), final.Reason)
		assert.Equal(t, 1, final.RequestCount)
	})
}

// Outcomes of attempts in flight at stop time are discarded.
func TestScheduler_StopDiscardsLateOutcomes(t *testing.T) {
	release := make(chan struct{})
	var added atomic.Int32
	client := &fakeClient{
		addItem: func(ctx context.Context, _ int) inventory.Response {
			select {
			case <-release:
			case <-ctx.Done():
			}
			added.Add(1)
			return status(200, `{}`)
		},
		cart: func() (inventory.Cart, error) {
			return inventory.Cart{ItemsCount: int(added.Load())}, nil
		},
	}

	cfg := testConfig()
	cfg.MaxConcurrent = 2

	rec := &recorder{}
	s := NewScheduler(cfg, client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())

	eventually(t, 2*time.Second, func() bool { return client.InFlight() == 2 }, "two attempts in flight")

	final := s.Stop()
	assert.Equal(t, StateStopped, final.State)
	assert.Equal(t, msgStoppedByUser, final.LastMessage)
	emitted := len(rec.Events())

	close(release)
	s.Wait()

	assert.Len(t, rec.Events(), emitted, "late outcomes must not emit events")
	assert.Equal(t, StateStopped, s.Status().State)
	assert.Equal(t, 2, s.Status().RequestCount)
	assert.Empty(t, rec.Navigated())
}

func TestScheduler_MaxDuration(t *testing.T) {
	client := &fakeClient{addItem: func(ctx context.Context, _ int) inventory.Response {
		sleepCtx(ctx, 2*time.Millisecond)
		return status(500, "")
	}}

	cfg := testConfig()
	cfg.MaxDuration = 50 * time.Millisecond

	s := NewScheduler(cfg, client, testRequest, testCreds, nil, testLogger())
	s.Start(context.Background())
	final := waitHalted(t, s, 2*time.Second)

	assert.Equal(t, StateStopped, final.State)
	assert.Equal(t, ReasonTimeout, final.Reason)
	assert.Equal(t, "Polling stopped: max duration (50ms) reached", final.LastMessage)
	assert.GreaterOrEqual(t, final.Elapsed, 50*time.Millisecond)
}

func TestScheduler_FailureWarning(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response {
		return status(503, `{"message":"maintenance"}`)
	}}

	cfg := testConfig()
	cfg.FailureWarningThreshold = 3

	rec := &recorder{}
	s := NewScheduler(cfg, client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())

	eventually(t, 2*time.Second, func() bool {
		return s.Status().LastMessage == "4+ failures: consider checking cookies/site."
	}, "warning message")
	s.Stop()
	s.Wait()

	got := transitions(rec.Events())
	want := []string{
		"polling:" + msgStarting,
		"polling:maintenance",
		"polling:3+ failures: consider checking cookies/site.",
		"polling:4+ failures: consider checking cookies/site.",
	}
	if diff := cmp.Diff(want, got[:len(want)]); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduler_TransportThrottleShrinksToFloor(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response {
		return inventory.Response{Error: errors.New("connection refused")}
	}}

	cfg := testConfig()
	cfg.MaxConcurrent = 3
	cfg.ThrottleThreshold = 2

	rec := &recorder{}
	s := NewScheduler(cfg, client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())

	eventually(t, 2*time.Second, func() bool { return s.Status().MaxConcurrent == 1 }, "shrinks to one")
	before := client.Calls()
	eventually(t, 2*time.Second, func() bool { return client.Calls() > before+5 }, "keeps polling")
	assert.Equal(t, 1, s.Status().MaxConcurrent)
	assert.Equal(t, StatePolling, s.Status().State)

	s.Stop()
	s.Wait()

	got := transitions(rec.Events())
	assert.Contains(t, got, "polling:Reduced concurrency to 2 due to persistent throttling.")
	assert.Contains(t, got, "polling:Reduced concurrency to 1 due to persistent throttling.")
	assert.NotContains(t, got, "polling:Reduced concurrency to 0 due to persistent throttling.")
	for _, ev := range rec.Events() {
		assert.GreaterOrEqual(t, ev.MaxConcurrent, 1)
		if ev.LastHTTPStatus == 0 && strings.HasPrefix(ev.LastMessage, "Network throttle") {
			assert.Equal(t, "Network throttle: pausing 0s...", ev.LastMessage)
		}
	}
}

func TestScheduler_ThrottleDoesNotCountFailures(t *testing.T) {
	client := &fakeClient{addItem: func(_ context.Context, n int) inventory.Response {
		if n%2 == 0 {
			return status(429, "")
		}
		return status(500, "")
	}}

	cfg := testConfig()
	cfg.FailureWarningThreshold = 1000
	cfg.ThrottleThreshold = 1000

	rec := &recorder{}
	s := NewScheduler(cfg, client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())
	eventually(t, 2*time.Second, func() bool { return client.Calls() >= 10 }, "ten calls")
	s.Stop()
	s.Wait()

	// five 500s in ten calls; the 429s in between neither count nor reset
	assert.GreaterOrEqual(t, s.failures.Count(), 5)
}

func TestScheduler_OverlapConfirmed(t *testing.T) {
	var calls atomic.Int32
	client := &fakeClient{
		addItem: func(context.Context, int) inventory.Response {
			calls.Add(1)
			return status(417, faultBody("R12-V-100007.error", "Maximum number of overlapping reservations"))
		},
		cart: func() (inventory.Cart, error) {
			if calls.Load() == 0 {
				return inventory.Cart{ItemsCount: 1}, nil
			}
			return inventory.Cart{ItemsCount: 1, LastChanges: inventory.LastChanges{
				AddedItems: []json.RawMessage{json.RawMessage(`{"siteID":"245719"}`)},
			}}, nil
		},
	}

	rec := &recorder{}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())
	final := waitHalted(t, s, 2*time.Second)

	assert.Equal(t, StateSuccess, final.State)
	assert.Equal(t, msgSuccessOverlap, final.LastMessage)
	assert.Equal(t, "Maximum number of overlapping reservations", final.ServerMessage)
	assert.Len(t, rec.Navigated(), 1)
}

func TestScheduler_OverlapUnconfirmed(t *testing.T) {
	tests := []struct {
		name string
		cart func() (inventory.Cart, error)
	}{
		{"cart unchanged", func() (inventory.Cart, error) { return inventory.Cart{ItemsCount: 2}, nil }},
		{"cart read fails", func() (inventory.Cart, error) { return inventory.Cart{}, errors.New("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{
				addItem: func(context.Context, int) inventory.Response {
					return status(417, faultBody("R12-V-100007.error", "overlap"))
				},
				cart: tt.cart,
			}

			s := NewScheduler(testConfig(), client, testRequest, testCreds, nil, testLogger())
			s.Start(context.Background())
			final := waitHalted(t, s, 2*time.Second)

			assert.Equal(t, StateError, final.State)
			assert.Equal(t, msgOverlap, final.LastMessage)
			assert.Equal(t, string(classify.ReasonConflict), final.Reason)
		})
	}
}

func TestScheduler_TerminalMessages(t *testing.T) {
	tests := []struct {
		name        string
		resp        inventory.Response
		wantMessage string
		wantServer  string
	}{
		{"inventory claimed", status(417, faultBody("inventory.exception", "One or more of the Dates not available")), msgClaimedFault, "One or more of the Dates not available"},
		{"conflict", status(409, ""), msgClaimed, "Inventory not available (HTTP 409)"},
		{"sold out text", status(400, `{"message":"Sold out"}`), msgClaimed, "Sold out"},
		{"validation", status(417, faultBody("R2-X.error", "Bad date")), msgValidation, "Bad date"},
		{"forbidden", status(403, ""), msgAuth, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return tt.resp }}
			s := NewScheduler(testConfig(), client, testRequest, testCreds, nil, testLogger())
			s.Start(context.Background())
			final := waitHalted(t, s, 2*time.Second)

			assert.Equal(t, StateError, final.State)
			assert.Equal(t, tt.wantMessage, final.LastMessage)
			assert.Equal(t, tt.wantServer, final.ServerMessage)
		})
	}
}

func TestScheduler_InFlightBound(t *testing.T) {
	client := &fakeClient{addItem: func(ctx context.Context, _ int) inventory.Response {
		sleepCtx(ctx, 5*time.Millisecond)
		return status(500, "")
	}}

	cfg := testConfig()
	cfg.MaxConcurrent = 4
	cfg.Cadence = time.Millisecond

	s := NewScheduler(cfg, client, testRequest, testCreds, nil, testLogger())
	s.Start(context.Background())
	eventually(t, 2*time.Second, func() bool { return client.Calls() >= 40 }, "forty calls")
	s.Stop()
	s.Wait()

	assert.LessOrEqual(t, client.MaxInFlight(), 4)
	assert.Equal(t, 4, client.MaxInFlight(), "every slot should be used")
}

func TestScheduler_DispatchRate(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(500, "") }}

	cfg := testConfig()
	cfg.MaxConcurrent = 50
	cfg.DispatchRate = 20
	cfg.DispatchBurst = 1

	s := NewScheduler(cfg, client, testRequest, testCreds, nil, testLogger())
	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	s.Wait()

	// one burst token plus about four refills in 200ms
	assert.LessOrEqual(t, client.Calls(), 8)
	assert.GreaterOrEqual(t, client.Calls(), 2)
}

func TestScheduler_ClassifierPanicRecovery(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(200, "") }}

	rec := &recorder{}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, rec, testLogger(),
		WithClassifier(func(classify.Outcome) classify.Decision { panic("boom") }),
	)
	s.Start(context.Background())
	eventually(t, 2*time.Second, func() bool {
		return strings.HasPrefix(s.Status().LastMessage, "classifier panic (correlation_id: ")
	}, "panic reported as retry")
	assert.Equal(t, StatePolling, s.Status().State)

	s.Stop()
	s.Wait()
}

func TestScheduler_ObserverPanicDoesNotStopSession(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response { return status(401, "") }}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, panicObserver{}, testLogger())
	s.Start(context.Background())
	final := waitHalted(t, s, 2*time.Second)
	assert.Equal(t, StateError, final.State)
}

func TestScheduler_CartSnapshotFailureAssumesEmpty(t *testing.T) {
	var reads atomic.Int32
	client := &fakeClient{
		addItem: func(context.Context, int) inventory.Response { return status(200, "") },
		cart: func() (inventory.Cart, error) {
			if reads.Add(1) == 1 {
				return inventory.Cart{}, errors.New("snapshot failed")
			}
			return inventory.Cart{ItemsCount: 1}, nil
		},
	}

	s := NewScheduler(testConfig(), client, testRequest, testCreds, nil, testLogger())
	s.Start(context.Background())
	final := waitHalted(t, s, 2*time.Second)

	assert.Equal(t, StateSuccess, final.State)
	assert.Equal(t, 0, s.session.Baseline)
}

func TestScheduler_LogEntries(t *testing.T) {
	client := &fakeClient{addItem: func(context.Context, int) inventory.Response {
		return status(401, `{"message":"expired"}`)
	}}

	rec := &recorder{}
	s := NewScheduler(testConfig(), client, testRequest, testCreds, rec, testLogger())
	s.Start(context.Background())
	waitHalted(t, s, 2*time.Second)

	logs := rec.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, LogKindRequest, logs[0].Kind)
	assert.Equal(t, "Request #1 additem 2026-05-17 · nights=2 · facility=140 · site=245719", logs[0].Message)
	assert.Equal(t, LogKindResponse, logs[1].Kind)
	assert.Equal(t, "Response #1 HTTP 401 — expired", logs[1].Message)
	assert.Equal(t, 401, logs[1].HTTPStatus)
	assert.Equal(t, 1, logs[1].Seq)
}

func TestScheduler_StrictConfirmation(t *testing.T) {
	var added atomic.Int32
	client := &fakeClient{
		addItem: func(_ context.Context, n int) inventory.Response {
			added.Store(int32(n))
			return status(200, "")
		},
		cart: func() (inventory.Cart, error) {
			n := added.Load()
			site := "999"
			if n >= 3 {
				site = "245719"
			}
			return inventory.Cart{ItemsCount: int(n), LastChanges: inventory.LastChanges{
				AddedItems: []json.RawMessage{json.RawMessage(`{"siteID":"` + site + `"}`)},
			}}, nil
		},
	}

	cfg := testConfig()
	cfg.StrictConfirmation = true

	s := NewScheduler(cfg, client, testRequest, testCreds, nil, testLogger())
	s.Start(context.Background())
	final := waitHalted(t, s, 2*time.Second)

	assert.Equal(t, StateSuccess, final.State)
	assert.GreaterOrEqual(t, final.RequestCount, 3)
}

type panicObserver struct{}

func (panicObserver) OnStatus(Event)     { panic("status") }
func (panicObserver) OnLog(LogEntry)     { panic("log") }
func (panicObserver) OnNavigate(string) { panic("navigate") }
