package poller

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"
)

// Observer receives session output. Calls are made from the scheduler
// goroutine and must not block.
type Observer interface {
	// OnStatus receives every status transition that survived deduplication.
	OnStatus(Event)

	// OnLog receives request and response log entries.
	OnLog(LogEntry)

	// OnNavigate fires once when a claim is confirmed.
	OnNavigate(sessionID string)
}

// Reporter deduplicates status events and shields the scheduler from
// observer panics.
//
// An event is emitted only when its (state, HTTP status, message) signature
// differs from the previous one. After a success event nothing else is
// emitted until [Reporter.Reset].
type Reporter struct {
	observer Observer
	logger   *slog.Logger

	last    signature
	hasLast bool
	success bool
}

// NewReporter returns a Reporter. observer may be nil.
func NewReporter(observer Observer, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{observer: observer, logger: logger}
}

// Reset forgets the previous signature and the success latch.
func (r *Reporter) Reset() {
	r.hasLast = false
	r.success = false
}

// Emit forwards ev unless it duplicates the previous event or a success was
// already emitted. It reports whether the event was forwarded.
func (r *Reporter) Emit(ev Event) bool {
	if r.success {
		return false
	}
	sig := ev.signature()
	if r.hasLast && sig == r.last {
		return false
	}
	r.last = sig
	r.hasLast = true
	if ev.State == StateSuccess {
		r.success = true
	}

	if r.observer != nil {
		r.safeCall("status", func() { r.observer.OnStatus(ev) })
	}
	return true
}

// Log forwards a log entry.
func (r *Reporter) Log(entry LogEntry) {
	if r.observer == nil {
		return
	}
	r.safeCall("log", func() { r.observer.OnLog(entry) })
}

// Navigate forwards the navigate signal.
func (r *Reporter) Navigate(sessionID string) {
	if r.observer == nil {
		return
	}
	r.safeCall("navigate", func() { r.observer.OnNavigate(sessionID) })
}

// safeCall runs fn with panic recovery, logging the stack under a
// correlation id.
func (r *Reporter) safeCall(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("observer panic",
				"correlation_id", uuid.NewString(),
				"callback", what,
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
