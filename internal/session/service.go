package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/guilhermegouw/convtrack/internal/clock"
	"github.com/guilhermegouw/convtrack/internal/debug"
	"github.com/guilhermegouw/convtrack/internal/events"
	"github.com/guilhermegouw/convtrack/internal/pubsub"
)

// Defaults for a Service.
const (
	DefaultRetainSessions = 10
	DefaultDebounce       = 500 * time.Millisecond
)

// ErrCurrentSession is returned when deleting the current session.
var ErrCurrentSession = errors.New("cannot delete the current session")

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source and timer factory.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithBroker sets the broker session lifecycle events are published on.
func WithBroker(b *pubsub.Broker[events.ConversationEvent]) Option {
	return func(s *Service) {
		s.broker = b
	}
}

// WithRetain sets how many sessions survive a quota cleanup.
func WithRetain(n int) Option {
	return func(s *Service) {
		s.retain = n
	}
}

// WithDebounce sets the write coalescing window. Zero writes on every
// mutation.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.debounce = d
	}
}

// WithIDGenerator replaces the uuid session id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) {
		s.newID = f
	}
}

// Service owns the in-memory envelope and keeps the Store in step with it.
// In-memory state is authoritative; the store may lag by the debounce
// window.
type Service struct { //nolint:govet // fieldalignment: preserving logical field order
	store    Store
	clock    clock.Clock
	broker   *pubsub.Broker[events.ConversationEvent]
	log      *debug.Logger
	retain   int
	debounce time.Duration
	newID    func() string

	mu  sync.RWMutex
	env *Envelope

	// writeMu serializes physical writes.
	writeMu sync.Mutex

	timerMu  sync.Mutex
	timer    clock.Timer
	gen      uint64
	dirty    bool
	closed   bool
	degraded error
}

// NewService creates a service over store with an empty envelope. Call
// Load to read the stored document.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		clock:    clock.New(),
		log:      debug.New("store"),
		retain:   DefaultRetainSessions,
		debounce: DefaultDebounce,
		newID:    uuid.NewString,
		env:      NewEnvelope(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory envelope with the stored one. Missing or
// unreadable data yields an empty envelope; only a failing read is an
// error.
func (s *Service) Load(ctx context.Context) (DecodeReport, error) {
	data, err := s.store.Read(ctx)
	if err != nil {
		return DecodeReport{}, fmt.Errorf("loading sessions: %w", err)
	}

	env, report := Decode(data)
	if report.Corrupted {
		s.log.Warnf("stored document is unreadable, starting empty")
		if q, ok := s.store.(Quarantiner); ok {
			path, qerr := q.Quarantine(ctx)
			if qerr != nil {
				s.log.Error(qerr, "quarantining document")
			} else if path != "" {
				s.log.Printf("moved unreadable document to %s", path)
			}
		}
	}
	if report.Migrated {
		s.log.Printf("migrated document from version %q to %q", report.FromVersion, CurrentVersion)
	}
	for _, id := range report.Reset {
		s.log.Warnf("session %s could not be decoded and was reset", id)
	}
	if report.DroppedCurrent {
		s.log.Warnf("current session reference was invalid and has been cleared")
	}

	s.mu.Lock()
	s.env = env
	s.mu.Unlock()

	s.log.Printf("loaded %d sessions", len(env.Sessions))
	return report, nil
}

// Save writes the envelope now. A full store triggers a cleanup of old
// sessions and one retry. A save that still fails returns an error
// wrapping ErrPersistenceDegraded. An envelope that violates an invariant
// is never written; the error then wraps ErrInvariant as well.
func (s *Service) Save(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.timerMu.Lock()
	s.dirty = false
	s.timerMu.Unlock()

	backoff := retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		data, err := s.encode()
		if err != nil {
			return err
		}
		err = s.store.Write(ctx, data)
		if errors.Is(err, ErrQuotaExceeded) {
			removed := s.cleanup(s.retain)
			s.log.Warnf("storage full, removed %d old sessions before retrying", len(removed))
			return retry.RetryableError(err)
		}
		return err
	})

	if err == nil {
		s.setDegraded(nil)
		return nil
	}

	err = fmt.Errorf("%w: %w", ErrPersistenceDegraded, err)
	s.timerMu.Lock()
	s.degraded = err
	// Retrying cannot repair a broken envelope; the next mutation will.
	if !errors.Is(err, ErrInvariant) {
		s.dirty = true
	}
	s.timerMu.Unlock()
	if errors.Is(err, ErrInvariant) {
		s.log.Error(err, "refusing to save")
	} else {
		s.log.Error(err, "saving sessions")
	}
	s.publish(events.PersistenceDegraded, events.NewPersistenceDegradedEvent(err, s.clock.Now()))
	return err
}

func (s *Service) encode() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.env.Validate(); err != nil {
		return nil, err
	}
	return Encode(s.env)
}

func (s *Service) setDegraded(err error) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.degraded = err
}

// Degraded returns the error of the last failed save, or nil once a save
// succeeds.
func (s *Service) Degraded() error {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	return s.degraded
}

// markDirty schedules a debounced save. Callers must not hold s.mu.
func (s *Service) markDirty() {
	s.timerMu.Lock()
	s.dirty = true
	if s.closed {
		s.timerMu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	if s.debounce <= 0 {
		s.timerMu.Unlock()
		_ = s.Save(context.Background()) //nolint:errcheck // recorded in Degraded
		return
	}
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.debounced(gen) })
	s.timerMu.Unlock()
}

func (s *Service) debounced(gen uint64) {
	s.timerMu.Lock()
	if gen != s.gen || !s.dirty {
		s.timerMu.Unlock()
		return
	}
	s.timer = nil
	s.timerMu.Unlock()

	_ = s.Save(context.Background()) //nolint:errcheck // recorded in Degraded
}

// Pending reports whether a mutation has not been written yet.
func (s *Service) Pending() bool {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	return s.dirty
}

// Flush cancels any pending debounced write and writes synchronously if
// anything changed.
func (s *Service) Flush(ctx context.Context) error {
	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	dirty := s.dirty
	s.timerMu.Unlock()

	if !dirty {
		return nil
	}
	return s.Save(ctx)
}

// Close flushes pending state and releases the store. Later mutations
// stay in memory only.
func (s *Service) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)

	s.timerMu.Lock()
	s.closed = true
	s.timerMu.Unlock()

	return errors.Join(flushErr, s.store.Close())
}

// StartSession ends the current session, if any, and makes a new one
// current.
func (s *Service) StartSession(title string) *Session {
	now := s.clock.Now()

	s.mu.Lock()
	ended := ""
	if cur := s.env.Current(); cur != nil {
		cur.deactivate(now)
		ended = cur.ID
	}
	sess := New(s.newID(), title, now)
	s.env.Sessions[sess.ID] = sess
	s.env.CurrentSessionID = sess.ID
	snap := sess.Clone()
	s.mu.Unlock()

	if ended != "" {
		s.publish(events.SessionEnded, events.NewSessionEndedEvent(ended, now))
	}
	s.publish(events.SessionStarted, events.NewSessionStartedEvent(snap.ID, snap.Title, now))
	s.log.Event("session_started", snap.ID)
	s.markDirty()
	return snap
}

// ContinueSession makes the session with id current again. It returns
// false and an error wrapping ErrNotFound if no such session exists.
func (s *Service) ContinueSession(id string) (bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	target, ok := s.env.Sessions[id]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("continuing %s: %w", id, ErrNotFound)
	}
	ended := ""
	if cur := s.env.Current(); cur != nil && cur.ID != id {
		cur.deactivate(now)
		ended = cur.ID
	}
	target.reactivate()
	s.env.CurrentSessionID = id
	title := target.Title
	s.mu.Unlock()

	if ended != "" {
		s.publish(events.SessionEnded, events.NewSessionEndedEvent(ended, now))
	}
	s.publish(events.SessionContinued, events.NewSessionContinuedEvent(id, title, now))
	s.log.Event("session_continued", id)
	s.markDirty()
	return true, nil
}

// EndCurrentSession ends the current session. It returns false when there
// is none.
func (s *Service) EndCurrentSession() bool {
	now := s.clock.Now()

	s.mu.Lock()
	cur := s.env.Current()
	if cur == nil {
		s.mu.Unlock()
		return false
	}
	cur.deactivate(now)
	s.env.CurrentSessionID = ""
	id := cur.ID
	s.mu.Unlock()

	s.publish(events.SessionEnded, events.NewSessionEndedEvent(id, now))
	s.log.Event("session_ended", id)
	s.markDirty()
	return true
}

// CurrentID returns the current session id, or "".
func (s *Service) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env.CurrentSessionID
}

// Current returns a snapshot of the current session, or nil.
func (s *Service) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur := s.env.Current(); cur != nil {
		return cur.Clone()
	}
	return nil
}

// Get returns a snapshot of the session with id.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.env.Sessions[id]
	if !ok {
		return nil, fmt.Errorf("getting %s: %w", id, ErrNotFound)
	}
	return sess.Clone(), nil
}

// List returns snapshots of every session, most recently started first.
func (s *Service) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := s.env.Sorted()
	out := make([]*Session, len(sorted))
	for i, sess := range sorted {
		out[i] = sess.Clone()
	}
	return out
}

// Update runs fn on the current session under the store lock and schedules
// a save.
func (s *Service) Update(fn func(*Session) error) error {
	return s.Modify(func(sess *Session) (bool, error) {
		return true, fn(sess)
	})
}

// Modify is Update for callers that may leave the session untouched: a
// save is scheduled only when fn reports a change.
func (s *Service) Modify(fn func(*Session) (bool, error)) error {
	s.mu.Lock()
	cur := s.env.Current()
	if cur == nil {
		s.mu.Unlock()
		return ErrNoCurrentSession
	}
	changed, err := fn(cur)
	s.mu.Unlock()

	if changed {
		s.markDirty()
	}
	return err
}

// UpdateByID runs fn on the session with id under the store lock and
// schedules a save.
func (s *Service) UpdateByID(id string, fn func(*Session) error) error {
	s.mu.Lock()
	sess, ok := s.env.Sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("updating %s: %w", id, ErrNotFound)
	}
	err := fn(sess)
	s.mu.Unlock()

	s.markDirty()
	return err
}

// RenameSession sets the title of the session with id.
func (s *Service) RenameSession(id, title string) error {
	return s.UpdateByID(id, func(sess *Session) error {
		sess.Title = title
		return nil
	})
}

// DeleteSession removes a session that is not current.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	if _, ok := s.env.Sessions[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("deleting %s: %w", id, ErrNotFound)
	}
	if id == s.env.CurrentSessionID {
		s.mu.Unlock()
		return fmt.Errorf("deleting %s: %w", id, ErrCurrentSession)
	}
	delete(s.env.Sessions, id)
	s.mu.Unlock()

	s.markDirty()
	return nil
}

// CleanupOldSessions keeps the keep most recently started sessions,
// always including the current one, and returns the removed ids.
func (s *Service) CleanupOldSessions(keep int) []string {
	removed := s.cleanup(keep)
	if len(removed) > 0 {
		s.markDirty()
	}
	return removed
}

func (s *Service) cleanup(keep int) []string {
	s.mu.Lock()
	removed := s.env.Cleanup(keep)
	s.mu.Unlock()

	for _, id := range removed {
		s.log.Printf("removed old session %s", id)
	}
	return removed
}

// Location returns where the store keeps its document, or "" for stores
// without a path.
func (s *Service) Location() string {
	if l, ok := s.store.(Locator); ok {
		return l.Path()
	}
	return ""
}

// Count returns the number of stored sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.env.Sessions)
}

func (s *Service) publish(t pubsub.EventType, ev events.ConversationEvent) {
	if s.broker != nil {
		s.broker.Publish(t, ev)
	}
}
