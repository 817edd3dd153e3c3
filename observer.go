package cartrush

import (
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/jpalmerr/cartrush/internal/poller"
	"github.com/jpalmerr/cartrush/internal/store"
)

// observer feeds session output into the store and the user callbacks.
// Every method runs on the goroutine that drives the session, so callbacks
// must not block on the session ending.
type observer struct {
	store    store.Store
	status   []func(Status)
	logs     []func(LogEntry)
	navigate []func(sessionID string)
	logger   *slog.Logger
}

func (o *observer) OnStatus(ev poller.Event) {
	// store update first (callbacks fire after data is persisted)
	st := statusFromEvent(ev)
	o.store.UpdateStatus(st.toStore())

	for _, cb := range o.status {
		invokeCallbackSafe("status", ev.SessionID, func() { cb(st) }, o.logger)
	}
}

func (o *observer) OnLog(le poller.LogEntry) {
	o.append(LogEntry{
		SessionID:  le.SessionID,
		At:         le.At,
		Source:     le.Source,
		Kind:       le.Kind,
		State:      State(le.State),
		HTTPStatus: le.HTTPStatus,
		Seq:        le.Seq,
		Message:    le.Message,
	})
}

func (o *observer) OnNavigate(sessionID string) {
	o.logger.Info("claim confirmed, opening cart", "session_id", sessionID)
	for _, cb := range o.navigate {
		invokeCallbackSafe("navigate", sessionID, func() { cb(sessionID) }, o.logger)
	}
}

func (o *observer) append(entry LogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	o.store.AppendLog(entry.toStore())

	for _, cb := range o.logs {
		invokeCallbackSafe("log", entry.SessionID, func() { cb(entry) }, o.logger)
	}
}

// invokeCallbackSafe calls a user callback with panic recovery.
// Panics are logged with a correlation ID but do not propagate.
func invokeCallbackSafe(kind, sessionID string, fn func(), logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked",
				"callback", kind,
				"session_id", sessionID,
				"correlation_id", uuid.NewString(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
