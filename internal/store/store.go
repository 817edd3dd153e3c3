package store

import "time"

// Status is the JSON representation of the latest session status.
type Status struct {
	SessionID      string    `json:"session_id,omitempty"`
	State          string    `json:"state"`
	RequestCount   int       `json:"request_count"`
	ElapsedMs      int64     `json:"elapsed_ms"`
	LastHTTPStatus int       `json:"last_http_status"`
	LastMessage    string    `json:"last_message"`
	ServerMessage  string    `json:"server_message,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	MaxConcurrent  int       `json:"max_concurrent"`
	MaxDurationMs  int64     `json:"max_duration_ms"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LogEntry is the JSON representation of one log line.
type LogEntry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	TS         time.Time `json:"ts"`
	Source     string    `json:"source"`
	Kind       string    `json:"kind"`
	State      string    `json:"state,omitempty"`
	HTTPStatus int       `json:"http_status"`
	Seq        int       `json:"seq,omitempty"`
	Message    string    `json:"message"`
}

// EventType distinguishes the two kinds of published updates.
type EventType string

const (
	EventStatus EventType = "status"
	EventLog    EventType = "log"
)

// Event is one published update. Exactly one of Status and Log is set.
type Event struct {
	Type   EventType
	Status *Status
	Log    *LogEntry
}

// Store holds the latest status and a bounded log, and publishes changes.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// UpdateStatus replaces the current status and notifies subscribers.
	UpdateStatus(status Status)

	// Status returns the current status.
	Status() Status

	// AppendLog adds a log entry, evicting the oldest when full, and
	// notifies subscribers.
	AppendLog(entry LogEntry)

	// Logs returns up to limit of the most recent entries, oldest first.
	// limit <= 0 returns all retained entries.
	Logs(limit int) []LogEntry

	// ClearLogs drops every retained entry.
	ClearLogs()

	// Subscribe returns a channel that receives updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Event)
}
