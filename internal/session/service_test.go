package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/guilhermegouw/convtrack/internal/clock"
	"github.com/guilhermegouw/convtrack/internal/events"
	"github.com/guilhermegouw/convtrack/internal/message"
	"github.com/guilhermegouw/convtrack/internal/pubsub"
)

// flakyStore fails its next failures writes with ErrQuotaExceeded.
type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) Write(ctx context.Context, data []byte) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("writing document: %w", ErrQuotaExceeded)
	}
	return f.MemoryStore.Write(ctx, data)
}

// countingStore counts successful writes to the wrapped store.
type countingStore struct {
	Store
	mu     sync.Mutex
	writes int
}

func (c *countingStore) Write(ctx context.Context, data []byte) error {
	if err := c.Store.Write(ctx, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return nil
}

func (c *countingStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("session-%02d", n)
	}
}

func setupService(t *testing.T, store Store, opts ...Option) (*Service, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(t0)
	opts = append([]Option{WithClock(fake), WithIDGenerator(sequentialIDs())}, opts...)
	return NewService(store, opts...), fake
}

func addMessage(t *testing.T, svc *Service, id, content string, at time.Time) {
	t.Helper()
	err := svc.Update(func(s *Session) error {
		sp := s.Speaker("speaker_1")
		if sp == nil {
			sp = s.AddSpeaker(at)
		}
		return s.Append(message.New(id, at, sp.ID, content, false))
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func TestServiceSessionLifecycle(t *testing.T) {
	svc, fake := setupService(t, NewMemoryStore(0))

	first := svc.StartSession("first")
	if first.ID != "session-01" || !first.IsActive {
		t.Fatalf("StartSession() = %+v", first)
	}

	fake.Advance(time.Minute)
	second := svc.StartSession("second")

	old, err := svc.Get(first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if old.IsActive || old.EndTime == nil || !old.EndTime.Equal(t0.Add(time.Minute)) {
		t.Errorf("previous session not ended: active=%v end=%v", old.IsActive, old.EndTime)
	}
	if svc.CurrentID() != second.ID {
		t.Errorf("CurrentID() = %q, want %q", svc.CurrentID(), second.ID)
	}

	t.Run("continue restores previous session", func(t *testing.T) {
		ok, err := svc.ContinueSession(first.ID)
		if !ok || err != nil {
			t.Fatalf("ContinueSession() = %v, %v", ok, err)
		}
		cur := svc.Current()
		if cur.ID != first.ID || !cur.IsActive || cur.EndTime != nil {
			t.Errorf("Current() = %+v, want reactivated first session", cur)
		}
		other, _ := svc.Get(second.ID)
		if other.IsActive {
			t.Error("second session should be deactivated")
		}
	})

	t.Run("continue unknown id", func(t *testing.T) {
		ok, err := svc.ContinueSession("missing")
		if ok {
			t.Error("ContinueSession() = true for unknown id")
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ContinueSession() error = %v, want ErrNotFound", err)
		}
		if svc.CurrentID() != first.ID {
			t.Error("failed continue changed the current session")
		}
	})

	t.Run("end clears current", func(t *testing.T) {
		if !svc.EndCurrentSession() {
			t.Fatal("EndCurrentSession() = false")
		}
		if svc.Current() != nil || svc.CurrentID() != "" {
			t.Error("current session still set after end")
		}
		if svc.EndCurrentSession() {
			t.Error("EndCurrentSession() = true with no current session")
		}
		if err := svc.Update(func(*Session) error { return nil }); !errors.Is(err, ErrNoCurrentSession) {
			t.Errorf("Update() error = %v, want ErrNoCurrentSession", err)
		}
	})

	t.Run("list is most recent first", func(t *testing.T) {
		list := svc.List()
		if len(list) != 2 || list[0].ID != second.ID {
			t.Errorf("List() order wrong: %v", list)
		}
	})
}

func TestServiceSnapshotsAreIsolated(t *testing.T) {
	svc, _ := setupService(t, NewMemoryStore(0))
	svc.StartSession("")
	addMessage(t, svc, "m1", "hello there everyone", t0)

	snap := svc.Current()
	snap.Messages[0].Content = "tampered"
	snap.Title = "tampered"

	if got := svc.Current(); got.Messages[0].Content != "hello there everyone" || got.Title != "" {
		t.Error("mutating a snapshot changed service state")
	}
}

func TestServiceDebounce(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore(0)}
	svc, fake := setupService(t, store, WithDebounce(500*time.Millisecond))

	svc.StartSession("burst")
	for i := 0; i < 5; i++ {
		addMessage(t, svc, fmt.Sprintf("m%d", i), "quick burst message", t0)
		fake.Advance(100 * time.Millisecond)
	}

	if store.Writes() != 0 {
		t.Fatalf("Writes() = %d during burst, want 0", store.Writes())
	}
	if !svc.Pending() {
		t.Error("Pending() = false with unsaved changes")
	}

	fake.Advance(500 * time.Millisecond)
	if store.Writes() != 1 {
		t.Errorf("Writes() = %d after quiet period, want 1", store.Writes())
	}
	if svc.Pending() {
		t.Error("Pending() = true after debounced save")
	}
}

func TestServiceFlushAndClose(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore(0)}
	svc, fake := setupService(t, store, WithDebounce(time.Second))

	svc.StartSession("flush")
	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if store.Writes() != 1 {
		t.Errorf("Writes() = %d after Flush, want 1", store.Writes())
	}

	fake.Advance(2 * time.Second)
	if store.Writes() != 1 {
		t.Errorf("cancelled timer still wrote: Writes() = %d", store.Writes())
	}

	addMessage(t, svc, "m1", "final words here", t0)
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if store.Writes() != 2 {
		t.Errorf("Writes() = %d after Close, want 2", store.Writes())
	}

	reloaded, _ := setupService(t, store)
	if _, err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cur := reloaded.Current()
	if cur == nil || len(cur.Messages) != 1 {
		t.Fatalf("reloaded current session = %+v, want one message", cur)
	}
}

func TestServiceQuotaCleanupAndRetry(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(0)}
	svc, fake := setupService(t, store, WithDebounce(time.Hour), WithRetain(10))

	for i := 0; i < 12; i++ {
		svc.StartSession(fmt.Sprintf("session %d", i))
		fake.Advance(time.Minute)
	}
	addMessage(t, svc, "m1", "still talking here", fake.Now())
	before := svc.Current()

	store.failures = 1
	if err := svc.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v, want retried success", err)
	}

	if store.calls != 2 {
		t.Errorf("write attempts = %d, want 2", store.calls)
	}
	if svc.Count() != 10 {
		t.Errorf("Count() = %d after cleanup, want 10", svc.Count())
	}
	for _, id := range []string{"session-01", "session-02"} {
		if _, err := svc.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%s) error = %v, want ErrNotFound", id, err)
		}
	}

	after := svc.Current()
	if after.ID != before.ID || len(after.Messages) != len(before.Messages) {
		t.Errorf("current session changed by cleanup: %+v", after)
	}
	if svc.Degraded() != nil {
		t.Errorf("Degraded() = %v after successful retry", svc.Degraded())
	}
}

func TestServiceDegraded(t *testing.T) {
	broker := pubsub.NewBroker[events.ConversationEvent]("test")
	defer broker.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	degraded := broker.Subscribe(ctx, events.PersistenceDegraded)

	store := &flakyStore{MemoryStore: NewMemoryStore(0), failures: 2}
	svc, _ := setupService(t, store, WithDebounce(time.Hour), WithBroker(broker))
	svc.StartSession("stuck")
	addMessage(t, svc, "m1", "memory keeps working", t0)

	err := svc.Save(context.Background())
	if !errors.Is(err, ErrPersistenceDegraded) || !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Save() error = %v, want degraded quota error", err)
	}
	if svc.Degraded() == nil {
		t.Error("Degraded() = nil after failed save")
	}
	if cur := svc.Current(); cur == nil || len(cur.Messages) != 1 {
		t.Error("in-memory state lost after failed save")
	}

	select {
	case ev := <-degraded:
		if !errors.Is(ev.Payload.Err, ErrPersistenceDegraded) {
			t.Errorf("event Err = %v", ev.Payload.Err)
		}
	case <-time.After(time.Second):
		t.Error("no persistence_degraded event")
	}

	if err := svc.Flush(context.Background()); err != nil {
		t.Errorf("Flush() after recovery error = %v", err)
	}
	if svc.Degraded() != nil {
		t.Error("Degraded() should clear after a successful save")
	}
}

func TestServiceRefusesInvalidState(t *testing.T) {
	broker := pubsub.NewBroker[events.ConversationEvent]("test")
	defer broker.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	degraded := broker.Subscribe(ctx, events.PersistenceDegraded)

	store := &countingStore{Store: NewMemoryStore(0)}
	svc, _ := setupService(t, store, WithDebounce(time.Hour), WithBroker(broker))
	svc.StartSession("")

	_ = svc.Update(func(s *Session) error {
		s.Messages = append(s.Messages, message.New("m1", t0, "speaker_3", "orphan message", false))
		return nil
	})

	err := svc.Save(context.Background())
	if !errors.Is(err, ErrInvariant) || !errors.Is(err, ErrPersistenceDegraded) {
		t.Errorf("Save() error = %v, want ErrInvariant wrapped in ErrPersistenceDegraded", err)
	}
	if store.Writes() != 0 {
		t.Error("invalid state was written")
	}
	if got := svc.Degraded(); !errors.Is(got, ErrInvariant) {
		t.Errorf("Degraded() = %v, want ErrInvariant", got)
	}
	if svc.Pending() {
		t.Error("Pending() = true, a refused save must not be retried")
	}

	select {
	case ev := <-degraded:
		if !errors.Is(ev.Payload.Err, ErrInvariant) {
			t.Errorf("event Err = %v, want ErrInvariant", ev.Payload.Err)
		}
	case <-time.After(time.Second):
		t.Error("no persistence_degraded event for refused save")
	}
}

func TestServiceRenameAndDelete(t *testing.T) {
	svc, _ := setupService(t, NewMemoryStore(0))
	old := svc.StartSession("old")
	cur := svc.StartSession("current")

	if err := svc.RenameSession(old.ID, "renamed"); err != nil {
		t.Fatalf("RenameSession() error = %v", err)
	}
	got, _ := svc.Get(old.ID)
	if got.Title != "renamed" {
		t.Errorf("Title = %q, want %q", got.Title, "renamed")
	}

	if err := svc.DeleteSession(cur.ID); !errors.Is(err, ErrCurrentSession) {
		t.Errorf("DeleteSession(current) error = %v, want ErrCurrentSession", err)
	}
	if err := svc.DeleteSession(old.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if err := svc.DeleteSession(old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteSession(deleted) error = %v, want ErrNotFound", err)
	}
}

func TestServiceLoadQuarantinesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	svc, _ := setupService(t, NewFileStore(path, 0))
	report, err := svc.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !report.Corrupted {
		t.Error("Corrupted = false for unreadable file")
	}
	if svc.Count() != 0 {
		t.Errorf("Count() = %d, want 0", svc.Count())
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("quarantined file missing: %v", err)
	}
}
