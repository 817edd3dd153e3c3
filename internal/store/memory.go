package store

import (
	"sync"
)

// DefaultLogLimit is the number of log entries retained by default.
const DefaultLogLimit = 1000

const subscriberBuffer = 256

// MemoryStore is an in-memory implementation of [Store].
//
// The log is a ring of fixed capacity. Subscribers receive updates via
// buffered channels; sends are non-blocking and an update is dropped for a
// subscriber whose buffer is full.
type MemoryStore struct {
	mu     sync.RWMutex
	status Status
	logs   []LogEntry // ring buffer
	start  int        // index of the oldest entry
	count  int

	subscribers map[chan Event]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a [MemoryStore] retaining logLimit entries.
// logLimit <= 0 uses [DefaultLogLimit].
func NewMemoryStore(logLimit int) *MemoryStore {
	if logLimit <= 0 {
		logLimit = DefaultLogLimit
	}
	return &MemoryStore{
		status:      Status{State: "idle"},
		logs:        make([]LogEntry, logLimit),
		subscribers: make(map[chan Event]struct{}),
	}
}

// UpdateStatus stores the status and notifies all subscribers.
func (m *MemoryStore) UpdateStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	m.notifySubscribers(Event{Type: EventStatus, Status: &status})
}

// Status returns the current status.
func (m *MemoryStore) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// AppendLog adds an entry to the ring and notifies all subscribers.
func (m *MemoryStore) AppendLog(entry LogEntry) {
	m.mu.Lock()
	capacity := len(m.logs)
	if m.count < capacity {
		m.logs[(m.start+m.count)%capacity] = entry
		m.count++
	} else {
		m.logs[m.start] = entry
		m.start = (m.start + 1) % capacity
	}
	m.mu.Unlock()

	m.notifySubscribers(Event{Type: EventLog, Log: &entry})
}

// Logs returns a copy of the most recent entries, oldest first.
func (m *MemoryStore) Logs(limit int) []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]LogEntry, 0, n)
	capacity := len(m.logs)
	for i := m.count - n; i < m.count; i++ {
		out = append(out, m.logs[(m.start+i)%capacity])
	}
	return out
}

// ClearLogs drops every retained entry.
func (m *MemoryStore) ClearLogs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.logs)
	m.start = 0
	m.count = 0
}

// Subscribe creates a new subscription and returns a channel for receiving
// updates. Caller must call [MemoryStore.Unsubscribe] when done.
func (m *MemoryStore) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers never blocks: a full subscriber misses the event.
func (m *MemoryStore) notifySubscribers(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is slow, drop the message
		}
	}
}
