package poller

import (
	"sync/atomic"
	"time"

	"github.com/jpalmerr/cartrush/credentials"
	"github.com/jpalmerr/cartrush/internal/inventory"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateSuccess State = "success"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateStopped || s == StateError
}

// Reasons carried on terminal events. Error events reuse the classifier's
// reason strings.
const (
	ReasonUser      = "user"
	ReasonTimeout   = "timeout"
	ReasonShutdown  = "shutdown"
	ReasonConfirmed = "confirmed"
)

// Event is one status transition reported to the [Observer].
type Event struct {
	SessionID      string
	State          State
	RequestCount   int
	Elapsed        time.Duration
	LastHTTPStatus int
	LastMessage    string
	ServerMessage  string
	Reason         string
	MaxConcurrent  int
	MaxDuration    time.Duration
	At             time.Time
}

// signature is the deduplication key of an event.
type signature struct {
	state   State
	status  int
	message string
}

func (e Event) signature() signature {
	return signature{state: e.State, status: e.LastHTTPStatus, message: e.LastMessage}
}

// LogEntry is one line of the session log.
type LogEntry struct {
	SessionID  string
	At         time.Time
	Source     string
	Kind       string
	State      State
	HTTPStatus int
	Seq        int
	Message    string
}

// Log entry kinds.
const (
	LogKindRequest  = "request"
	LogKindResponse = "response"
	LogKindInfo     = "info"
	LogSource       = "polling"
)

// Session is the state of one acquisition run. It is built fresh at every
// start and, apart from the atomics, only touched by the scheduler
// goroutine.
type Session struct {
	ID          string
	State       State
	StartedAt   time.Time
	Cadence     time.Duration
	MaxDuration time.Duration

	Request     inventory.AddItemRequest
	Credentials credentials.Credentials

	RequestCount   int
	LastHTTPStatus int
	LastMessage    string
	ServerMessage  string
	Reason         string

	// Baseline is the cart item count captured at start.
	Baseline int

	stopRequested    atomic.Bool
	successConfirmed atomic.Bool
}

// RequestStop asks the scheduler to stop at the next tick.
func (s *Session) RequestStop() {
	s.stopRequested.Store(true)
}

// StopRequested reports whether a stop was requested.
func (s *Session) StopRequested() bool {
	return s.stopRequested.Load()
}

// SuccessConfirmed reports whether a claim has been confirmed. Once true it
// never goes back.
func (s *Session) SuccessConfirmed() bool {
	return s.successConfirmed.Load()
}

func (s *Session) latchSuccess() {
	s.successConfirmed.Store(true)
}
