package poller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/cartrush/credentials"
	"github.com/jpalmerr/cartrush/internal/classify"
	"github.com/jpalmerr/cartrush/internal/inventory"
)

// Defaults applied by [DefaultConfig] and to zero fields of a [Config].
const (
	DefaultCadence                 = 10 * time.Millisecond
	DefaultMaxConcurrent           = 100
	DefaultMaxDuration             = 5 * time.Minute
	DefaultAttemptTimeout          = 10 * time.Second
	DefaultThrottlePauseMin        = 1000 * time.Millisecond
	DefaultThrottlePauseMax        = 2000 * time.Millisecond
	DefaultThrottleThreshold       = 10
	DefaultFailureWarningThreshold = 20
)

// Config holds the tunables of one session.
type Config struct {
	Cadence                 time.Duration
	MaxConcurrent           int
	MaxDuration             time.Duration
	AttemptTimeout          time.Duration
	ThrottlePauseMin        time.Duration
	ThrottlePauseMax        time.Duration
	ThrottleThreshold       int
	FailureWarningThreshold int

	// DispatchRate caps attempts per second; zero disables the cap.
	DispatchRate  float64
	DispatchBurst int

	// StrictConfirmation requires an added cart item naming the target site.
	StrictConfirmation bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Cadence:                 DefaultCadence,
		MaxConcurrent:           DefaultMaxConcurrent,
		MaxDuration:             DefaultMaxDuration,
		AttemptTimeout:          DefaultAttemptTimeout,
		ThrottlePauseMin:        DefaultThrottlePauseMin,
		ThrottlePauseMax:        DefaultThrottlePauseMax,
		ThrottleThreshold:       DefaultThrottleThreshold,
		FailureWarningThreshold: DefaultFailureWarningThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Cadence <= 0 {
		c.Cadence = d.Cadence
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.ThrottlePauseMin <= 0 && c.ThrottlePauseMax <= 0 {
		c.ThrottlePauseMin, c.ThrottlePauseMax = d.ThrottlePauseMin, d.ThrottlePauseMax
	}
	if c.ThrottleThreshold < 1 {
		c.ThrottleThreshold = d.ThrottleThreshold
	}
	if c.FailureWarningThreshold < 1 {
		c.FailureWarningThreshold = d.FailureWarningThreshold
	}
	return c
}

// AttemptClient is the API surface a session needs.
type AttemptClient interface {
	CartReader
	AddItem(ctx context.Context, creds credentials.Credentials, req inventory.AddItemRequest, timeout time.Duration) inventory.Response
}

// StatsRecorder counts attempts and session outcomes. Calls are made from
// the scheduler goroutine and must not block.
type StatsRecorder interface {
	RecordAttempt(statusCode int, decision string)
	RecordSession(state, reason string)
}

type nopStats struct{}

func (nopStats) RecordAttempt(int, string)    {}
func (nopStats) RecordSession(string, string) {}

// messages posted by attempt goroutines
type (
	throttledMsg struct {
		seq    int
		kind   classify.Kind
		status int
		pause  time.Duration
	}
	resumedMsg struct {
		seq  int
		kind classify.Kind
	}
	finishedMsg struct {
		seq        int
		resp       inventory.Response
		decision   classify.Decision
		confirmed  bool
		confirmErr error
	}
)

// SchedulerOption configures a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithSessionID sets the session id; a random one is generated otherwise.
func WithSessionID(id string) SchedulerOption {
	return func(s *Scheduler) {
		if id != "" {
			s.session.ID = id
		}
	}
}

// WithClassifier replaces [classify.Classify].
func WithClassifier(fn classify.Func) SchedulerOption {
	return func(s *Scheduler) {
		if fn != nil {
			s.classify = fn
		}
	}
}

// WithStats sets the stats recorder.
func WithStats(r StatsRecorder) SchedulerOption {
	return func(s *Scheduler) {
		if r != nil {
			s.stats = r
		}
	}
}

// Scheduler drives one acquisition session.
//
// Each tick it checks for a stop request and the duration limit, then
// starts as many attempts as the slot manager allows without waiting for
// them. Attempt results come back over a channel and are applied on the
// scheduler goroutine. Once the session reaches a terminal state the loop
// stops dispatching and drains the attempts still in flight, discarding
// their outcomes.
//
// Start and Stop are safe for concurrent use. A Scheduler runs at most one
// session; build a new one for the next.
type Scheduler struct {
	cfg       Config
	client    AttemptClient
	classify  classify.Func
	session   *Session
	slots     *SlotManager
	throttle  *ThrottleController
	failures  *FailureCounter
	confirmer *Confirmer
	reporter  *Reporter
	stats     StatsRecorder
	logger    *slog.Logger
	now       func() time.Time

	results  chan any
	halt     chan struct{} // closed when the session leaves polling
	haltOnce sync.Once
	attempts sync.WaitGroup
	wg       sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopped  bool
	snapshot Event
}

// NewScheduler creates a [Scheduler] for one session.
//
// req and creds are sent with every attempt. observer receives status
// events, log entries and the navigate signal; it may be nil.
func NewScheduler(cfg Config, client AttemptClient, req inventory.AddItemRequest, creds credentials.Credentials, observer Observer, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.DispatchRate > 0 {
		burst := cfg.DispatchBurst
		if burst < 1 {
			burst = cfg.MaxConcurrent
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
	}

	var predicate Predicate
	if cfg.StrictConfirmation {
		predicate = SiteAddition(req.SiteID)
	}

	s := &Scheduler{
		cfg:      cfg,
		client:   client,
		classify: classify.Classify,
		session: &Session{
			ID:          uuid.NewString(),
			State:       StateIdle,
			Cadence:     cfg.Cadence,
			MaxDuration: cfg.MaxDuration,
			Request:     req,
			Credentials: creds,
		},
		slots:     NewSlotManager(cfg.MaxConcurrent, limiter),
		throttle:  NewThrottleController(cfg.ThrottlePauseMin, cfg.ThrottlePauseMax, cfg.ThrottleThreshold),
		failures:  NewFailureCounter(cfg.FailureWarningThreshold),
		confirmer: NewConfirmer(client, creds, cfg.AttemptTimeout, predicate),
		reporter:  NewReporter(observer, logger),
		stats:     nopStats{},
		logger:    logger,
		now:       time.Now,
		results:   make(chan any, cfg.MaxConcurrent*2),
		halt:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot = s.event()
	return s
}

// SessionID returns the id of the session this scheduler runs.
func (s *Scheduler) SessionID() string {
	return s.session.ID
}

// Start begins the session in a background goroutine and returns
// immediately. The session runs until it succeeds, fails, is stopped, times
// out, or ctx is cancelled.
//
// Start is idempotent; calls after the first, or after Stop, are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	s.session.State = StatePolling
	s.session.StartedAt = s.now()
	s.session.LastMessage = msgStarting
	s.snapshot = s.event()
	s.wg.Add(1)
	s.mu.Unlock()

	s.reporter.Reset()
	s.reporter.Emit(s.snapshot)
	s.logger.Info("session started",
		"session_id", s.session.ID,
		"facility", s.session.Request.FacilityID,
		"site", s.session.Request.SiteID,
		"arrival", s.session.Request.ArrivalDate,
		"max_concurrent", s.cfg.MaxConcurrent,
	)

	go s.run(ctx)
}

// Stop asks the session to stop at the next tick and blocks until it has
// left the polling state. It returns the final status. Attempts still in
// flight finish in the background; use [Scheduler.Wait] to wait for them.
//
// Stop is idempotent. Calling it before Start prevents a later Start.
func (s *Scheduler) Stop() Event {
	s.mu.Lock()
	started := s.started
	s.stopped = true
	s.mu.Unlock()

	if !started {
		return s.Status()
	}
	s.session.RequestStop()
	<-s.halt
	return s.Status()
}

// Halted returns a channel closed once the session has left polling.
func (s *Scheduler) Halted() <-chan struct{} {
	return s.halt
}

// Wait blocks until the loop has exited and every attempt has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Status returns the latest state of the session, including transitions
// the reporter suppressed as duplicates.
func (s *Scheduler) Status() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.snapshot
	if ev.State == StatePolling {
		ev.Elapsed = s.now().Sub(s.session.StartedAt)
	}
	return ev
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	attemptCtx, cancelAttempts := context.WithCancel(ctx)
	defer cancelAttempts()

	if n, err := s.confirmer.Snapshot(ctx); err != nil {
		s.logger.Warn("cart snapshot failed, assuming empty cart",
			"session_id", s.session.ID,
			"error", err,
		)
	} else {
		s.session.Baseline = n
	}

	ticker := time.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()

	s.tick(attemptCtx)
	for s.session.State == StatePolling {
		select {
		case <-ctx.Done():
			s.finish(StateStopped, ReasonShutdown, s.session.LastHTTPStatus, msgShutdown, "")
		case <-ticker.C:
			s.tick(attemptCtx)
		case m := <-s.results:
			s.handle(m)
		}
	}
	ticker.Stop()

	// drain late outcomes so every attempt goroutine can exit
	for s.slots.InFlight() > 0 {
		s.handle(<-s.results)
	}
	s.attempts.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.session.StopRequested() {
		s.finish(StateStopped, ReasonUser, s.session.LastHTTPStatus, msgStoppedByUser, "")
		return
	}
	if s.elapsed() >= s.session.MaxDuration {
		s.finish(StateStopped, ReasonTimeout, s.session.LastHTTPStatus, timeoutMessage(s.session.MaxDuration), "")
		return
	}

	n := s.slots.Available()
	for range n {
		if !s.slots.Acquire() {
			break
		}
		s.session.RequestCount++
		seq := s.session.RequestCount
		s.reporter.Log(s.logEntry(LogKindRequest, 0, seq, requestLine(seq, s.session.Request)))

		s.attempts.Add(1)
		go s.attempt(ctx, seq)
	}
	s.publish()
}

// attempt runs on its own goroutine and only communicates through results.
func (s *Scheduler) attempt(ctx context.Context, seq int) {
	defer s.attempts.Done()

	resp := s.client.AddItem(ctx, s.session.Credentials, s.session.Request, s.cfg.AttemptTimeout)
	d := s.safeClassify(classify.Outcome{StatusCode: resp.StatusCode, Body: resp.Body, Err: resp.Error})
	fin := finishedMsg{seq: seq, resp: resp, decision: d}

	switch {
	case d.Kind.IsThrottle():
		pause := s.throttle.Pause()
		s.results <- throttledMsg{seq: seq, kind: d.Kind, status: resp.StatusCode, pause: pause}
		s.sleep(ctx, pause)
		s.results <- resumedMsg{seq: seq, kind: d.Kind}
	case d.Kind == classify.KindConfirm && !s.session.SuccessConfirmed():
		fin.confirmed, _, fin.confirmErr = s.confirmer.Confirm(ctx)
	}

	s.results <- fin
}

// sleep holds the attempt's slot for d, cut short when the session ends.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.halt:
	case <-ctx.Done():
	}
}

func (s *Scheduler) handle(m any) {
	defer s.publish()

	switch m := m.(type) {
	case throttledMsg:
		if s.session.State != StatePolling {
			return
		}
		count := s.throttle.Record(m.kind)
		s.logger.Debug("throttled",
			"session_id", s.session.ID,
			"seq", m.seq,
			"kind", m.kind.String(),
			"count", count,
			"pause", m.pause,
		)
		s.setLast(m.status, throttleMessage(m.kind, m.pause), "")
		s.reporter.Emit(s.event())

	case resumedMsg:
		if s.session.State != StatePolling || !s.throttle.ShouldReduce(m.kind) {
			return
		}
		n, ok := s.slots.Shrink()
		if !ok {
			return
		}
		s.throttle.ResetKind(m.kind)
		s.logger.Warn("reduced concurrency",
			"session_id", s.session.ID,
			"kind", m.kind.String(),
			"max_concurrent", n,
		)
		s.session.LastMessage = reductionMessage(m.kind, n)
		s.reporter.Emit(s.event())

	case finishedMsg:
		s.slots.Release()
		s.recordResponse(m)
		if s.session.State != StatePolling {
			return
		}
		s.apply(m)
	}
}

func (s *Scheduler) apply(m finishedMsg) {
	d := m.decision
	status := m.resp.StatusCode

	if status == http.StatusOK {
		s.throttle.Reset()
		s.failures.Reset()
	}

	switch d.Kind {
	case classify.KindThrottleTransport, classify.KindThrottleRate:
		// pause and reduction were handled by throttled/resumed
	case classify.KindConfirm:
		s.applyConfirm(m)
	case classify.KindTerminal:
		s.finish(StateError, string(d.Reason), status, terminalMessage(d, status), d.ServerMessage)
	default:
		s.retry(status, retryMessage(d.ServerMessage, status), d.ServerMessage)
	}
}

func (s *Scheduler) applyConfirm(m finishedMsg) {
	d := m.decision
	status := m.resp.StatusCode

	if m.confirmErr != nil {
		s.logger.Warn("cart confirmation failed",
			"session_id", s.session.ID,
			"seq", m.seq,
			"error", m.confirmErr,
		)
	}

	if m.confirmed {
		msg := msgSuccess
		if d.Reason == classify.ReasonOverlap {
			msg = msgSuccessOverlap
		}
		s.session.latchSuccess()
		s.finish(StateSuccess, ReasonConfirmed, status, msg, d.ServerMessage)
		s.reporter.Navigate(s.session.ID)
		return
	}

	if d.Reason == classify.ReasonOverlap {
		s.finish(StateError, string(classify.ReasonConflict), status, msgOverlap, d.ServerMessage)
		return
	}

	s.logger.Warn("add-item accepted but cart unchanged",
		"session_id", s.session.ID,
		"seq", m.seq,
	)
	s.retry(status, msgUnconfirmed, d.ServerMessage)
}

func (s *Scheduler) retry(status int, msg, serverMessage string) {
	n := s.failures.Inc()
	if s.failures.Warn() {
		msg = fmt.Sprintf(msgFailureWarnings, n)
	}
	s.setLast(status, msg, serverMessage)
	s.reporter.Emit(s.event())
}

// finish moves the session to a terminal state and emits exactly one
// terminal event.
func (s *Scheduler) finish(state State, reason string, status int, msg, serverMessage string) {
	if s.session.State.Terminal() {
		return
	}
	s.session.State = state
	s.session.Reason = reason
	s.setLast(status, msg, serverMessage)
	s.publish()

	ev := s.event()
	s.reporter.Emit(ev)
	s.stats.RecordSession(string(state), reason)
	s.haltOnce.Do(func() { close(s.halt) })

	attrs := []any{
		"session_id", s.session.ID,
		"state", string(state),
		"reason", reason,
		"requests", s.session.RequestCount,
		"elapsed", ev.Elapsed,
		"http_status", status,
	}
	if state == StateError {
		s.logger.Error("session ended", append(attrs, "message", msg, "server_message", serverMessage)...)
	} else {
		s.logger.Info("session ended", attrs...)
	}
}

func (s *Scheduler) recordResponse(m finishedMsg) {
	s.stats.RecordAttempt(m.resp.StatusCode, m.decision.String())

	var line string
	switch {
	case m.resp.StatusCode == 0:
		line = fmt.Sprintf("Response #%d ERROR — %v", m.seq, m.resp.Error)
	case m.resp.Error != nil:
		line = fmt.Sprintf("Response #%d HTTP %d — %s (%v)", m.seq, m.resp.StatusCode, responseText(m.resp), m.resp.Error)
		s.logger.Warn("response body incomplete",
			"session_id", s.session.ID,
			"seq", m.seq,
			"status", m.resp.StatusCode,
			"error", m.resp.Error,
		)
	default:
		line = fmt.Sprintf("Response #%d HTTP %d — %s", m.seq, m.resp.StatusCode, responseText(m.resp))
	}
	s.logger.Debug("attempt finished",
		"session_id", s.session.ID,
		"seq", m.seq,
		"status", m.resp.StatusCode,
		"decision", m.decision.String(),
		"latency", m.resp.Latency,
	)
	s.reporter.Log(s.logEntry(LogKindResponse, m.resp.StatusCode, m.seq, line))
}

// responseText is the server message of a response, a prefix of a
// non-JSON body, or the bare status.
func responseText(resp inventory.Response) string {
	if msg := classify.ParseBody(resp.Body).ServerMessage(); msg != "" {
		return msg
	}
	if len(resp.Body) > 0 && resp.Body[0] != '{' {
		text := string(resp.Body)
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

func requestLine(seq int, req inventory.AddItemRequest) string {
	return fmt.Sprintf("Request #%d additem %s · nights=%d · facility=%s · site=%s",
		seq, req.ArrivalDate, req.Units, req.FacilityID, req.SiteID)
}

// safeClassify calls the classifier with panic recovery. A panic is logged
// with a correlation id and treated as a retryable failure.
func (s *Scheduler) safeClassify(o classify.Outcome) (d classify.Decision) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("classifier panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			d = classify.Decision{
				Kind:          classify.KindRetry,
				ServerMessage: fmt.Sprintf("classifier panic (correlation_id: %s)", correlationID),
			}
		}
	}()
	return s.classify(o)
}

func (s *Scheduler) setLast(status int, msg, serverMessage string) {
	s.session.LastHTTPStatus = status
	s.session.LastMessage = msg
	s.session.ServerMessage = serverMessage
}

func (s *Scheduler) elapsed() time.Duration {
	return s.now().Sub(s.session.StartedAt)
}

func (s *Scheduler) event() Event {
	var elapsed time.Duration
	if !s.session.StartedAt.IsZero() {
		elapsed = s.elapsed()
	}
	return Event{
		SessionID:      s.session.ID,
		State:          s.session.State,
		RequestCount:   s.session.RequestCount,
		Elapsed:        elapsed,
		LastHTTPStatus: s.session.LastHTTPStatus,
		LastMessage:    s.session.LastMessage,
		ServerMessage:  s.session.ServerMessage,
		Reason:         s.session.Reason,
		MaxConcurrent:  s.slots.Max(),
		MaxDuration:    s.session.MaxDuration,
		At:             s.now(),
	}
}

// publish copies the session into the snapshot read by Status.
func (s *Scheduler) publish() {
	ev := s.event()
	s.mu.Lock()
	s.snapshot = ev
	s.mu.Unlock()
}

func (s *Scheduler) logEntry(kind string, status, seq int, msg string) LogEntry {
	return LogEntry{
		SessionID:  s.session.ID,
		At:         s.now(),
		Source:     LogSource,
		Kind:       kind,
		State:      s.session.State,
		HTTPStatus: status,
		Seq:        seq,
		Message:    msg,
	}
}
