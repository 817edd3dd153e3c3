package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore(0)
	if store == nil {
		t.Fatal("NewMemoryStore() = nil")
	}

	if got := store.Status().State; got != "idle" {
		t.Errorf("Status().State = %q, want idle", got)
	}
	if len(store.Logs(0)) != 0 {
		t.Errorf("Logs() = %v items, want 0", len(store.Logs(0)))
	}
	if len(store.logs) != DefaultLogLimit {
		t.Errorf("capacity = %d, want %d", len(store.logs), DefaultLogLimit)
	}
}

func TestMemoryStore_UpdateStatus(t *testing.T) {
	store := NewMemoryStore(10)

	store.UpdateStatus(Status{State: "polling", RequestCount: 3, LastMessage: "HTTP 500"})
	store.UpdateStatus(Status{State: "success", RequestCount: 4, LastMessage: "done"})

	got := store.Status()
	if got.State != "success" || got.RequestCount != 4 {
		t.Errorf("Status() = %+v, want latest update", got)
	}
}

func TestMemoryStore_LogRing(t *testing.T) {
	store := NewMemoryStore(3)

	for i := 1; i <= 5; i++ {
		store.AppendLog(LogEntry{Seq: i, Message: fmt.Sprintf("m%d", i)})
	}

	logs := store.Logs(0)
	if len(logs) != 3 {
		t.Fatalf("Logs() = %d items, want 3", len(logs))
	}
	for i, want := range []int{3, 4, 5} {
		if logs[i].Seq != want {
			t.Errorf("Logs()[%d].Seq = %d, want %d", i, logs[i].Seq, want)
		}
	}

	limited := store.Logs(2)
	if len(limited) != 2 || limited[0].Seq != 4 || limited[1].Seq != 5 {
		t.Errorf("Logs(2) = %+v, want seq 4 and 5", limited)
	}
}

func TestMemoryStore_LogsBeforeWrap(t *testing.T) {
	store := NewMemoryStore(5)
	store.AppendLog(LogEntry{Seq: 1})
	store.AppendLog(LogEntry{Seq: 2})

	logs := store.Logs(10)
	if len(logs) != 2 || logs[0].Seq != 1 || logs[1].Seq != 2 {
		t.Errorf("Logs(10) = %+v, want seq 1 and 2", logs)
	}
}

func TestMemoryStore_ClearLogs(t *testing.T) {
	store := NewMemoryStore(2)
	store.AppendLog(LogEntry{Seq: 1})
	store.AppendLog(LogEntry{Seq: 2})
	store.AppendLog(LogEntry{Seq: 3})

	store.ClearLogs()
	if got := len(store.Logs(0)); got != 0 {
		t.Errorf("Logs() after clear = %d items, want 0", got)
	}

	store.AppendLog(LogEntry{Seq: 4})
	logs := store.Logs(0)
	if len(logs) != 1 || logs[0].Seq != 4 {
		t.Errorf("Logs() = %+v, want only seq 4", logs)
	}
}

func TestMemoryStore_LogsReturnsCopy(t *testing.T) {
	store := NewMemoryStore(2)
	store.AppendLog(LogEntry{Message: "original"})

	logs := store.Logs(0)
	logs[0].Message = "changed"

	if got := store.Logs(0)[0].Message; got != "original" {
		t.Errorf("stored message = %q, want original", got)
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore(10)
	ch := store.Subscribe()
	defer store.Unsubscribe(ch)

	store.UpdateStatus(Status{State: "polling"})
	store.AppendLog(LogEntry{Message: "Request #1"})

	for _, want := range []EventType{EventStatus, EventLog} {
		select {
		case ev := <-ch:
			if ev.Type != want {
				t.Errorf("event type = %s, want %s", ev.Type, want)
			}
			if want == EventStatus && (ev.Status == nil || ev.Status.State != "polling") {
				t.Errorf("status event = %+v", ev.Status)
			}
			if want == EventLog && (ev.Log == nil || ev.Log.Message != "Request #1") {
				t.Errorf("log event = %+v", ev.Log)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s event", want)
		}
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	store := NewMemoryStore(10)
	ch := store.Subscribe()

	store.Unsubscribe(ch)
	store.Unsubscribe(ch) // second call is a no-op

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel should be closed after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for channel close")
	}

	// publishing after unsubscribe must not panic
	store.UpdateStatus(Status{State: "polling"})
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewMemoryStore(10)

	// a subscriber that never reads
	_ = store.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			store.AppendLog(LogEntry{Seq: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("AppendLog() blocked on slow subscriber")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.UpdateStatus(Status{State: "polling", RequestCount: j})
				store.AppendLog(LogEntry{Seq: j})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = store.Status()
				_ = store.Logs(10)
				if j%25 == 0 {
					store.ClearLogs()
				}
			}
		}()
		go func() {
			defer wg.Done()
			ch := store.Subscribe()
			time.Sleep(5 * time.Millisecond)
			store.Unsubscribe(ch)
		}()
	}
	wg.Wait()

	if got := len(store.Logs(0)); got > 50 {
		t.Errorf("Logs() = %d items, exceeds capacity 50", got)
	}
}
