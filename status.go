package cartrush

import (
	"encoding/json"
	"time"

	"github.com/jpalmerr/cartrush/internal/classify"
	"github.com/jpalmerr/cartrush/internal/poller"
	"github.com/jpalmerr/cartrush/internal/store"
)

// State is the lifecycle state of a session.
//
// A session moves from [StateIdle] to [StatePolling] and ends in exactly one
// of [StateSuccess], [StateStopped] or [StateError].
type State string

const (
	// StateIdle means no session has started.
	StateIdle State = "idle"

	// StatePolling means attempts are being dispatched.
	StatePolling State = "polling"

	// StateSuccess means a claim was confirmed by a cart read.
	StateSuccess State = "success"

	// StateStopped means the session was stopped by the caller, timed out,
	// or the engine shut down. See [Status.Reason].
	StateStopped State = "stopped"

	// StateError means the service returned a terminal failure.
	StateError State = "error"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	return poller.State(s).Terminal()
}

// Stop and failure reasons carried on terminal statuses.
const (
	ReasonUser       = poller.ReasonUser
	ReasonTimeout    = poller.ReasonTimeout
	ReasonShutdown   = poller.ReasonShutdown
	ReasonConfirmed  = poller.ReasonConfirmed
	ReasonAuth       = string(classify.ReasonAuth)
	ReasonTooEarly   = string(classify.ReasonTooEarly)
	ReasonConflict   = string(classify.ReasonConflict)
	ReasonValidation = string(classify.ReasonValidation)
)

// Status is a snapshot of a session.
type Status struct {
	SessionID string
	State     State

	// RequestCount is the number of attempts dispatched so far.
	RequestCount int

	// Elapsed is the time since the session started.
	Elapsed time.Duration

	// LastHTTPStatus is the status code of the most recent outcome; 0 for a
	// transport failure or before any response.
	LastHTTPStatus int

	// LastMessage is the short human-readable description of the state.
	LastMessage string

	// ServerMessage is the verbatim message from the service, when any.
	ServerMessage string

	// Reason explains a terminal state.
	Reason string

	// MaxConcurrent is the current in-flight bound. It only shrinks during
	// a session.
	MaxConcurrent int
	MaxDuration   time.Duration

	At time.Time
}

// LogEntry is one line of the session log.
type LogEntry struct {
	ID         string
	SessionID  string
	At         time.Time
	Source     string
	Kind       string
	State      State
	HTTPStatus int
	Seq        int
	Message    string
}

// AuthResult is the outcome of [Engine.ProbeAuth].
type AuthResult struct {
	OK     bool
	Status int

	// Reason is "missing_cookies" when no credentials are available, the
	// transport error when the request failed, and empty otherwise.
	Reason string
}

// ProbeResult is the outcome of [Engine.ProbeAddItem].
type ProbeResult struct {
	Status        int
	ServerMessage string
	Body          json.RawMessage
	Latency       time.Duration
	Err           error
}

// Cart is the current cart as returned by the service.
type Cart struct {
	ItemsCount int
	AddedItems []json.RawMessage

	// Raw is the unmodified response body.
	Raw json.RawMessage
}

func statusFromEvent(ev poller.Event) Status {
	return Status{
		SessionID:      ev.SessionID,
		State:          State(ev.State),
		RequestCount:   ev.RequestCount,
		Elapsed:        ev.Elapsed,
		LastHTTPStatus: ev.LastHTTPStatus,
		LastMessage:    ev.LastMessage,
		ServerMessage:  ev.ServerMessage,
		Reason:         ev.Reason,
		MaxConcurrent:  ev.MaxConcurrent,
		MaxDuration:    ev.MaxDuration,
		At:             ev.At,
	}
}

func (s Status) toStore() store.Status {
	return store.Status{
		SessionID:      s.SessionID,
		State:          string(s.State),
		RequestCount:   s.RequestCount,
		ElapsedMs:      s.Elapsed.Milliseconds(),
		LastHTTPStatus: s.LastHTTPStatus,
		LastMessage:    s.LastMessage,
		ServerMessage:  s.ServerMessage,
		Reason:         s.Reason,
		MaxConcurrent:  s.MaxConcurrent,
		MaxDurationMs:  s.MaxDuration.Milliseconds(),
		UpdatedAt:      s.At,
	}
}

func (e LogEntry) toStore() store.LogEntry {
	return store.LogEntry{
		ID:         e.ID,
		SessionID:  e.SessionID,
		TS:         e.At,
		Source:     e.Source,
		Kind:       e.Kind,
		State:      string(e.State),
		HTTPStatus: e.HTTPStatus,
		Seq:        e.Seq,
		Message:    e.Message,
	}
}

func logEntryFromStore(e store.LogEntry) LogEntry {
	return LogEntry{
		ID:         e.ID,
		SessionID:  e.SessionID,
		At:         e.TS,
		Source:     e.Source,
		Kind:       e.Kind,
		State:      State(e.State),
		HTTPStatus: e.HTTPStatus,
		Seq:        e.Seq,
		Message:    e.Message,
	}
}
