package cartrush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/cartrush/credentials"
	"github.com/jpalmerr/cartrush/internal/classify"
	"github.com/jpalmerr/cartrush/internal/inventory"
	"github.com/jpalmerr/cartrush/internal/poller"
	"github.com/jpalmerr/cartrush/internal/server"
	"github.com/jpalmerr/cartrush/internal/store"
)

const (
	defaultPort      = 8080
	authProbeTimeout = 8 * time.Second
)

// Sentinel errors returned by [Engine] methods. Test with [errors.Is].
var (
	ErrAlreadyPolling     = errors.New("a session is already polling")
	ErrNoSession          = errors.New("no session has been started")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidTarget      = errors.New("invalid target")
)

// Engine runs acquisition sessions against the reservation cart API and
// keeps the latest status and log for observers.
//
// An Engine runs at most one session at a time. It is created using [New]
// with functional options. Sessions are started with [Engine.StartSession],
// and [Engine.Serve] exposes the same operations over HTTP.
//
// The typical lifecycle is:
//
//	e, err := cartrush.New(cartrush.WithCredentials(credentials.Env{}))
//	if err != nil {
//	    slog.Error("failed to create engine", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	t, _ := cartrush.NewTarget("140", "245719", "2026-05-17", 2)
//	if _, err := e.StartSession(ctx, t); err != nil { ... }
//	final, _ := e.WaitSession(ctx)
//
// Cancelling the context passed to StartSession stops the session with
// reason [ReasonShutdown].
type Engine struct {
	cfg      poller.Config
	client   *inventory.Client
	provider credentials.Provider
	stats    StatsRecorder
	store    *store.MemoryStore
	obs      *observer
	port     int
	logger   *slog.Logger

	mu       sync.Mutex
	current  *poller.Scheduler
	sessions sync.WaitGroup
}

// New creates a new [Engine] with the given options.
//
// Defaults match the production service: 10ms cadence, 100 concurrent
// attempts, 5 minute sessions, 1-2s throttle pauses, throttle threshold 10,
// failure warning threshold 20. Credentials are read from the environment
// unless [WithCredentials] is given.
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{
		poll:     poller.DefaultConfig(),
		baseURL:  inventory.DefaultBaseURL,
		provider: credentials.Env{},
		port:     defaultPort,
		logLimit: store.DefaultLogLimit,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := []inventory.ClientOption{inventory.WithBaseURL(cfg.baseURL)}
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, inventory.WithHTTPClient(cfg.httpClient))
	}

	st := store.NewMemoryStore(cfg.logLimit)
	st.UpdateStatus(Status{
		State:         StateIdle,
		MaxConcurrent: cfg.poll.MaxConcurrent,
		MaxDuration:   cfg.poll.MaxDuration,
		At:            time.Now(),
	}.toStore())

	return &Engine{
		cfg:      cfg.poll,
		client:   inventory.NewClient(clientOpts...),
		provider: cfg.provider,
		stats:    cfg.stats,
		store:    st,
		obs: &observer{
			store:    st,
			status:   cfg.statusCallbacks,
			logs:     cfg.logCallbacks,
			navigate: cfg.navigateCallbacks,
			logger:   logger,
		},
		port:   cfg.port,
		logger: logger,
	}, nil
}

// StartSession reads fresh credentials and starts polling for t in the
// background. It returns the initial polling status.
//
// The session runs until it is confirmed, fails terminally, is stopped with
// [Engine.StopSession], reaches its max duration, or ctx is cancelled.
//
// Returns [ErrAlreadyPolling] while another session is polling,
// [ErrMissingCredentials] if the provider has nothing usable and
// [ErrInvalidTarget] for a zero Target.
func (e *Engine) StartSession(ctx context.Context, t Target) (Status, error) {
	if t.facilityID == "" || t.siteID == "" {
		return Status{}, fmt.Errorf("%w: target not initialised, use NewTarget", ErrInvalidTarget)
	}

	if err := e.checkIdle(); err != nil {
		return Status{}, err
	}

	// the provider may talk to a browser, so read it without holding e.mu
	creds, err := e.credentials(ctx)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkIdleLocked(); err != nil {
		return Status{}, err
	}

	var opts []poller.SchedulerOption
	if e.stats != nil {
		opts = append(opts, poller.WithStats(e.stats))
	}

	s := poller.NewScheduler(e.cfg, e.client, t.request(), creds, e.obs, e.logger, opts...)
	e.current = s
	s.Start(ctx)

	e.sessions.Add(1)
	go func() {
		defer e.sessions.Done()
		s.Wait()
	}()

	return statusFromEvent(s.Status()), nil
}

// StopSession stops the current session and returns its final status.
// Stopping a session that already ended returns its final status
// unchanged.
//
// Returns [ErrNoSession] if no session was ever started.
func (e *Engine) StopSession() (Status, error) {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()

	if cur == nil {
		return e.Status(), ErrNoSession
	}
	return statusFromEvent(cur.Stop()), nil
}

// WaitSession blocks until the current session leaves polling and returns
// its final status.
//
// Returns [ErrNoSession] if no session was started, or ctx.Err() if ctx is
// done first.
func (e *Engine) WaitSession(ctx context.Context) (Status, error) {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()

	if cur == nil {
		return e.Status(), ErrNoSession
	}
	select {
	case <-cur.Halted():
		return statusFromEvent(cur.Status()), nil
	case <-ctx.Done():
		return statusFromEvent(cur.Status()), ctx.Err()
	}
}

// Status returns the status of the current or most recent session, or an
// idle status if none has run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()

	if cur == nil {
		return Status{
			State:         StateIdle,
			MaxConcurrent: e.cfg.MaxConcurrent,
			MaxDuration:   e.cfg.MaxDuration,
			At:            time.Now(),
		}
	}
	return statusFromEvent(cur.Status())
}

// Logs returns up to limit of the most recent log entries, oldest first.
// limit <= 0 returns every retained entry.
func (e *Engine) Logs(limit int) []LogEntry {
	raw := e.store.Logs(limit)
	out := make([]LogEntry, len(raw))
	for i, le := range raw {
		out[i] = logEntryFromStore(le)
	}
	return out
}

// ClearLogs drops every retained log entry.
func (e *Engine) ClearLogs() {
	e.store.ClearLogs()
}

// Cart reads the current cart with fresh credentials.
func (e *Engine) Cart(ctx context.Context) (Cart, error) {
	creds, err := e.credentials(ctx)
	if err != nil {
		return Cart{}, err
	}
	cart, resp, err := e.client.GetCart(ctx, creds, e.cfg.AttemptTimeout)
	if err != nil {
		return Cart{Raw: resp.Body}, fmt.Errorf("read cart: %w", err)
	}
	return Cart{
		ItemsCount: cart.ItemsCount,
		AddedItems: cart.LastChanges.AddedItems,
		Raw:        resp.Body,
	}, nil
}

// ProbeAuth checks whether the current credentials are accepted by reading
// the cart. The request is bounded to 8 seconds.
func (e *Engine) ProbeAuth(ctx context.Context) AuthResult {
	creds, err := e.credentials(ctx)
	if err != nil {
		return AuthResult{Reason: "missing_cookies"}
	}

	_, resp, _ := e.client.GetCart(ctx, creds, authProbeTimeout)
	if resp.StatusCode == 0 && resp.Error != nil {
		return AuthResult{Reason: resp.Error.Error()}
	}
	return AuthResult{OK: resp.StatusCode == 200, Status: resp.StatusCode}
}

// ProbeAddItem sends a single add-item request for t outside any session,
// for example to check what the service answers before inventory opens.
// The outcome is also written to the log with source "probe".
//
// Note that a successful probe claims the item.
func (e *Engine) ProbeAddItem(ctx context.Context, t Target) (ProbeResult, error) {
	if t.facilityID == "" || t.siteID == "" {
		return ProbeResult{}, fmt.Errorf("%w: target not initialised, use NewTarget", ErrInvalidTarget)
	}
	creds, err := e.credentials(ctx)
	if err != nil {
		return ProbeResult{}, err
	}

	resp := e.client.AddItem(ctx, creds, t.request(), e.cfg.AttemptTimeout)
	res := ProbeResult{
		Status:  resp.StatusCode,
		Latency: resp.Latency,
		Err:     resp.Error,
	}
	if json.Valid(resp.Body) {
		res.Body = json.RawMessage(resp.Body)
	}
	res.ServerMessage = classify.ParseBody(resp.Body).ServerMessage()

	entry := LogEntry{
		At:         time.Now(),
		Source:     "probe",
		Kind:       poller.LogKindResponse,
		HTTPStatus: resp.StatusCode,
		Message:    res.ServerMessage,
	}
	switch {
	case resp.StatusCode == 0 && resp.Error != nil:
		entry.Kind = "error"
		entry.Message = "Probe error: " + resp.Error.Error()
	case entry.Message == "":
		entry.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	e.obs.append(entry)

	e.logger.Info("add-item probe",
		"target", t.String(),
		"status", resp.StatusCode,
		"latency_ms", resp.Latency.Milliseconds(),
		"server_message", res.ServerMessage,
	)
	return res, nil
}

// Serve starts the observer HTTP API and blocks until ctx is cancelled.
//
// Sessions started through the API run under ctx, so cancelling it stops
// them with reason [ReasonShutdown]. Serve waits for every session to
// drain before returning.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server
// fails to start.
func (e *Engine) Serve(ctx context.Context) error {
	e.logger.Info("cartrush starting", "port", e.port, "max_concurrent", e.cfg.MaxConcurrent)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	srv := server.NewServer(e.store, &apiController{engine: e, ctx: ctx}, e.port, e.logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	e.Close()
	e.logger.Info("cartrush stopped")
	return nil
}

// Close stops the current session, waits for all attempts to finish and
// releases idle connections.
func (e *Engine) Close() {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()

	if cur != nil {
		cur.Stop()
	}
	e.sessions.Wait()
	e.client.Close()
}

// Port returns the configured HTTP port for [Engine.Serve].
func (e *Engine) Port() int {
	return e.port
}

func (e *Engine) credentials(ctx context.Context) (credentials.Credentials, error) {
	c, err := e.provider.Credentials(ctx)
	if err != nil {
		return credentials.Credentials{}, fmt.Errorf("%w: %w", ErrMissingCredentials, err)
	}
	c = c.Normalized()
	if c.Empty() {
		return credentials.Credentials{}, fmt.Errorf("%w: token or a1Data is empty", ErrMissingCredentials)
	}
	return c, nil
}

func (e *Engine) checkIdle() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkIdleLocked()
}

func (e *Engine) checkIdleLocked() error {
	if e.current != nil && !halted(e.current) {
		return fmt.Errorf("%w: session %s", ErrAlreadyPolling, e.current.SessionID())
	}
	return nil
}

func halted(s *poller.Scheduler) bool {
	select {
	case <-s.Halted():
		return true
	default:
		return false
	}
}
