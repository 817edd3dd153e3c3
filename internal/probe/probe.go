// Package probe measures how the reservation service throttles add-item
// traffic at a given concurrency.
//
// A probe keeps up to N requests in flight for a fixed duration, optionally
// ramping N upward or firing a single burst at a wall-clock instant, and
// reports a status histogram once per second and at the end.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/cartrush/credentials"
	"github.com/jpalmerr/cartrush/internal/inventory"
)

const (
	maxErrorSamples = 5
	errorSampleLen  = 600
)

// Keys is the fixed column order of the printed histogram. Status 0 is a
// transport failure or timeout.
var Keys = []int{0, 200, 417, 429, 400, 401, 403, 404, 500, 503}

// Sender issues one add-item request.
type Sender interface {
	AddItem(ctx context.Context, creds credentials.Credentials, req inventory.AddItemRequest, timeout time.Duration) inventory.Response
}

// Config controls the shape of the traffic.
type Config struct {
	Concurrency int
	Duration    time.Duration

	// Cadence 0 tops up every free slot each millisecond; otherwise one
	// request is sent per Cadence tick.
	Cadence time.Duration

	// Ramp raises the concurrency by RampStep every RampEvery until RampTo.
	RampTo    int
	RampEvery time.Duration
	RampStep  int

	// BurstAt, when set, replaces top-up with a single burst of
	// Concurrency requests at that instant. Duration counts from the burst.
	BurstAt time.Time

	AttemptTimeout time.Duration
	Drain          time.Duration
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return errors.New("concurrency must be at least 1")
	case c.Duration <= 0:
		return errors.New("duration must be positive")
	case c.Cadence < 0:
		return errors.New("cadence must not be negative")
	case c.RampStep < 0 || c.RampEvery < 0:
		return errors.New("ramp step and interval must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.Drain <= 0 {
		c.Drain = 600 * time.Millisecond
	}
	return c
}

// ErrorSample is the truncated body of an early failed response.
type ErrorSample struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Snapshot is the probe state at one instant.
type Snapshot struct {
	Elapsed     time.Duration `json:"elapsed"`
	Concurrency int           `json:"concurrency"`
	InFlight    int           `json:"in_flight"`
	Sent        int           `json:"sent"`
	Done        int           `json:"done"`
	Hist        map[int]int   `json:"hist"`
}

// Other sums the responses whose status is not in [Keys].
func (s Snapshot) Other() int {
	n := 0
	for code, c := range s.Hist {
		if !slices.Contains(Keys, code) {
			n += c
		}
	}
	return n
}

// String renders the one-line per-second summary.
func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[t=%.1fs] inFlight=%d sent=%d done=%d |", s.Elapsed.Seconds(), s.InFlight, s.Sent, s.Done)
	for _, k := range Keys {
		fmt.Fprintf(&b, " %d:%d", k, s.Hist[k])
	}
	fmt.Fprintf(&b, " other=%d", s.Other())
	return b.String()
}

// Report is the final result of a probe.
type Report struct {
	Snapshot
	Duration time.Duration `json:"duration"`
	Errors   []ErrorSample `json:"errors,omitempty"`
}

// Codes returns the observed status codes in ascending order.
func (r Report) Codes() []int {
	return slices.Sorted(maps.Keys(r.Hist))
}

// Prober runs probes against a [Sender].
type Prober struct {
	sender Sender
	creds  credentials.Credentials
	req    inventory.AddItemRequest
	logger *slog.Logger

	// OnTick, when set, is called once per second with the current state.
	OnTick func(Snapshot)
}

// New creates a [Prober].
func New(sender Sender, creds credentials.Credentials, req inventory.AddItemRequest, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{sender: sender, creds: creds, req: req, logger: logger}
}

type run struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	sent     int
	done     int
	hist     map[int]int
	errs     []ErrorSample
	start    time.Time
}

func (r *run) snapshot(now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Elapsed:     now.Sub(r.start),
		Concurrency: r.limit,
		InFlight:    r.inFlight,
		Sent:        r.sent,
		Done:        r.done,
		Hist:        maps.Clone(r.hist),
	}
}

// take reserves up to n slots, or all free slots when n <= 0.
func (r *run) take(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	free := max(0, r.limit-r.inFlight)
	if n > 0 {
		free = min(free, n)
	}
	r.inFlight += free
	r.sent += free
	return free
}

func (r *run) record(resp inventory.Response) {
	status := resp.StatusCode

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--
	r.done++
	r.hist[status]++
	if status >= 400 && len(r.errs) < maxErrorSamples {
		body := string(resp.Body)
		if len(body) > errorSampleLen {
			body = body[:errorSampleLen]
		}
		r.errs = append(r.errs, ErrorSample{Status: status, Body: body})
	}
}

// Run probes until cfg.Duration has elapsed plus a short drain window.
// Requests still in flight after the drain are cancelled and left out of
// the histogram.
func (p *Prober) Run(ctx context.Context, cfg Config) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, fmt.Errorf("invalid probe config: %w", err)
	}
	cfg = cfg.withDefaults()

	if !cfg.BurstAt.IsZero() {
		delay := time.Until(cfg.BurstAt)
		p.logger.Info("burst scheduled", "concurrency", cfg.Concurrency, "at", cfg.BurstAt.Format(time.RFC3339Nano), "in", delay)
		if err := sleep(ctx, delay); err != nil {
			return Report{}, err
		}
	}

	r := &run{limit: cfg.Concurrency, hist: make(map[int]int), start: time.Now()}

	// attempts outlive dispatch by the drain window
	attemptCtx, cancelAttempts := context.WithCancel(ctx)
	defer cancelAttempts()
	dispatchCtx, cancelDispatch := context.WithTimeout(ctx, cfg.Duration)
	defer cancelDispatch()

	var attempts sync.WaitGroup
	send := func(n int) {
		for range n {
			attempts.Add(1)
			go func() {
				defer attempts.Done()
				r.record(p.sender.AddItem(attemptCtx, p.creds, p.req, cfg.AttemptTimeout))
			}()
		}
	}

	g, gctx := errgroup.WithContext(dispatchCtx)

	if cfg.BurstAt.IsZero() {
		g.Go(func() error {
			return p.topUp(gctx, r, cfg.Cadence, send)
		})
	} else {
		send(r.take(0))
	}

	if cfg.RampEvery > 0 && cfg.RampStep > 0 && cfg.RampTo > cfg.Concurrency {
		g.Go(func() error {
			return p.ramp(gctx, r, cfg)
		})
	}

	g.Go(func() error {
		return p.tick(gctx, r)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		cancelAttempts()
		attempts.Wait()
		return Report{}, err
	}
	if ctx.Err() != nil {
		cancelAttempts()
		attempts.Wait()
		return Report{}, ctx.Err()
	}

	_ = sleep(ctx, cfg.Drain)
	snap := r.snapshot(time.Now())
	r.mu.Lock()
	errs := slices.Clone(r.errs)
	r.mu.Unlock()

	cancelAttempts()
	attempts.Wait()

	return Report{Snapshot: snap, Duration: cfg.Duration, Errors: errs}, nil
}

func (p *Prober) topUp(ctx context.Context, r *run, cadence time.Duration, send func(int)) error {
	interval, batch := time.Millisecond, 0
	if cadence > 0 {
		interval, batch = cadence, 1
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		send(r.take(batch))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Prober) ramp(ctx context.Context, r *run, cfg Config) error {
	t := time.NewTicker(cfg.RampEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.mu.Lock()
			r.limit = min(cfg.RampTo, r.limit+cfg.RampStep)
			limit := r.limit
			r.mu.Unlock()
			p.logger.Info("ramping concurrency", "concurrency", limit)
			if limit >= cfg.RampTo {
				return nil
			}
		}
	}
}

func (p *Prober) tick(ctx context.Context, r *run) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			snap := r.snapshot(now)
			if p.OnTick != nil {
				p.OnTick(snap)
			}
			p.logger.Debug("probe tick", "elapsed", snap.Elapsed, "in_flight", snap.InFlight, "sent", snap.Sent, "done", snap.Done)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ParseBurstAt accepts an RFC 3339 instant or Unix milliseconds.
func ParseBurstAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("burst instant %q: want RFC 3339 or unix milliseconds", s)
	}
	return t, nil
}
