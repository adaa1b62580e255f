// Package engine ties the conversation pipeline together: every message is
// attributed, appended, and followed by the compression and summary checks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/guilhermegouw/convtrack/internal/clock"
	"github.com/guilhermegouw/convtrack/internal/compress"
	"github.com/guilhermegouw/convtrack/internal/debug"
	"github.com/guilhermegouw/convtrack/internal/events"
	"github.com/guilhermegouw/convtrack/internal/message"
	"github.com/guilhermegouw/convtrack/internal/pubsub"
	"github.com/guilhermegouw/convtrack/internal/session"
	"github.com/guilhermegouw/convtrack/internal/speaker"
	"github.com/guilhermegouw/convtrack/internal/summary"
)

// Defaults for Config.
const (
	DefaultMinMessageLength = 3
	DefaultTickInterval     = 10 * time.Second
)

// ErrUnknownSpeaker is returned when renaming a speaker that does not exist.
var ErrUnknownSpeaker = errors.New("unknown speaker")

// Config collects the engine's tunables.
type Config struct {
	// MinMessageLength drops shorter input, in runes after trimming.
	MinMessageLength int
	// TickInterval is how often Run checks for due work.
	TickInterval time.Duration
	// Strict panics on invariant violations instead of logging them.
	Strict bool

	Attribution speaker.Config
	Compression compress.Config
	Summary     summary.Config
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		MinMessageLength: DefaultMinMessageLength,
		TickInterval:     DefaultTickInterval,
		Attribution:      speaker.DefaultConfig(),
		Compression:      compress.DefaultConfig(),
		Summary:          summary.DefaultConfig(),
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the engine's time source. Use the same clock as the
// session service.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithBroker sets the broker conversation events are published on.
func WithBroker(b *pubsub.Broker[events.ConversationEvent]) Option {
	return func(e *Engine) {
		e.broker = b
	}
}

// WithIDGenerator replaces the uuid message id generator.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) {
		e.newID = f
	}
}

// Engine is the conversation tracker. It owns its collaborators; a single
// mutex serializes every mutation.
type Engine struct { //nolint:govet // fieldalignment: preserving logical field order
	cfg        Config
	store      *session.Service
	attributor *speaker.Attributor
	compressor *compress.Engine
	scheduler  *summary.Scheduler
	clock      clock.Clock
	broker     *pubsub.Broker[events.ConversationEvent]
	log        *debug.Logger
	newID      func() string

	mu    sync.Mutex
	ticks singleflight.Group
}

// New creates an engine over a loaded session service.
func New(store *session.Service, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      store,
		attributor: speaker.New(cfg.Attribution),
		compressor: compress.New(cfg.Compression),
		scheduler:  summary.New(cfg.Summary),
		clock:      clock.New(),
		log:        debug.New("engine"),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// outcome is what one pipeline pass produced, published after the store
// lock is released.
type outcome struct {
	sessionID string
	msg       *message.Message
	att       speaker.Attribution
	groups    []*session.CompressedGroup
	summary   *session.Summary
}

// AddMessage records an utterance. Input shorter than the minimum length
// is dropped and reported with false. A session is started when none is
// current.
func (e *Engine) AddMessage(content string, isQuestionHint bool) (*message.Message, bool) {
	content = strings.TrimSpace(message.Sanitize(content))
	if content == "" || utf8.RuneCountInString(content) < e.cfg.MinMessageLength {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store.CurrentID() == "" {
		e.store.StartSession("")
	}

	now := e.clock.Now()
	var out outcome
	err := e.store.Update(func(s *session.Session) error {
		ts := now
		// Wall clocks can step backwards; stored order must not.
		if last := s.LastMessage(); last != nil && ts.Before(last.Timestamp) {
			ts = last.Timestamp
		}

		out.sessionID = s.ID
		out.att = e.attributor.Attribute(s, content, ts)
		m := message.New(e.newID(), ts, out.att.SpeakerID, content, isQuestionHint)
		if err := s.Append(m); err != nil {
			return err
		}
		out.msg = m.Clone()

		out.groups = e.compressor.CheckAndRun(s, now)
		out.summary = e.scheduler.CheckAndRun(s, now)
		return e.check(s)
	})
	if err != nil {
		e.violation(err)
		return nil, false
	}

	e.publish(out, now)
	return out.msg, true
}

// TickResult reports the work a Tick performed.
type TickResult struct {
	Groups     int
	Summarized bool
}

// Tick runs the compression and summary checks without new input.
// Concurrent calls share one pass.
func (e *Engine) Tick() TickResult {
	v, _, _ := e.ticks.Do("tick", func() (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.store.CurrentID() == "" {
			return TickResult{}, nil
		}

		now := e.clock.Now()
		var out outcome
		err := e.store.Modify(func(s *session.Session) (bool, error) {
			out.sessionID = s.ID
			out.groups = e.compressor.CheckAndRun(s, now)
			out.summary = e.scheduler.CheckAndRun(s, now)
			changed := len(out.groups) > 0 || out.summary != nil
			if !changed {
				return false, nil
			}
			return true, e.check(s)
		})
		if err != nil {
			e.violation(err)
		}

		e.publish(out, now)
		return TickResult{Groups: len(out.groups), Summarized: out.summary != nil}, nil
	})
	res, _ := v.(TickResult) //nolint:errcheck // always a TickResult
	return res
}

// Run ticks every TickInterval until ctx is done, then flushes pending
// writes.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.TickInterval <= 0 {
		<-ctx.Done()
		return e.flush(ctx)
	}
	for {
		fired := make(chan struct{})
		t := e.clock.AfterFunc(e.cfg.TickInterval, func() { close(fired) })

		select {
		case <-ctx.Done():
			t.Stop()
			return e.flush(ctx)
		case <-fired:
			e.Tick()
		}
	}
}

func (e *Engine) flush(ctx context.Context) error {
	if err := e.store.Flush(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("flushing sessions: %w", err)
	}
	return nil
}

// StartSession ends the current session and starts a new one.
func (e *Engine) StartSession(title string) *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.StartSession(title)
}

// ContinueSession makes an earlier session current. It returns false and
// an error wrapping session.ErrNotFound for an unknown id.
func (e *Engine) ContinueSession(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ContinueSession(id)
}

// EndSession ends the current session. It returns false when none is
// current.
func (e *Engine) EndSession() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.EndCurrentSession()
}

// RenameSpeaker changes a speaker's display name in the current session.
func (e *Engine) RenameSpeaker(speakerID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("renaming %s: empty name", speakerID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Modify(func(s *session.Session) (bool, error) {
		sp := s.Speaker(speakerID)
		if sp == nil {
			return false, fmt.Errorf("renaming %s: %w", speakerID, ErrUnknownSpeaker)
		}
		sp.Name = name
		return true, nil
	})
}

// RenameSession sets the title of any stored session.
func (e *Engine) RenameSession(id, title string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.RenameSession(id, strings.TrimSpace(title))
}

// DeleteSession removes a stored session. The current session cannot be
// deleted.
func (e *Engine) DeleteSession(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.DeleteSession(id)
}

// CleanupOldSessions keeps the keep most recent sessions and returns the
// ids it removed.
func (e *Engine) CleanupOldSessions(keep int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.CleanupOldSessions(keep)
}

// EditContext applies fn to the current session's meeting context,
// creating an empty one first if needed, and returns a snapshot of the
// result. Nothing is saved when fn fails.
func (e *Engine) EditContext(fn func(c *session.MeetingContext, now time.Time) error) (*session.MeetingContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	var snap *session.MeetingContext
	err := e.store.Modify(func(s *session.Session) (bool, error) {
		c := s.Context
		if c == nil {
			c = session.NewMeetingContext(now)
		} else {
			c = c.Clone()
		}
		if err := fn(c, now); err != nil {
			return false, err
		}
		s.Context = c
		snap = c.Clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// CurrentSession returns a snapshot of the current session, or nil.
func (e *Engine) CurrentSession() *session.Session {
	return e.store.Current()
}

// AllSessions returns snapshots of every session, most recent first.
func (e *Engine) AllSessions() []*session.Session {
	return e.store.List()
}

// Session returns a snapshot of one session.
func (e *Engine) Session(id string) (*session.Session, error) {
	return e.store.Get(id)
}

// Pending reports whether changes are waiting for a debounced write.
func (e *Engine) Pending() bool {
	return e.store.Pending()
}

// Count returns the number of stored sessions.
func (e *Engine) Count() int {
	return e.store.Count()
}

// Location returns the storage path, or "" for in-memory storage.
func (e *Engine) Location() string {
	return e.store.Location()
}

// Metrics returns the event broker's counters. Without a broker every
// counter is zero.
func (e *Engine) Metrics() pubsub.BrokerMetrics {
	if e.broker == nil {
		return pubsub.BrokerMetrics{}
	}
	return e.broker.Metrics()
}

// Degraded returns the last persistence failure, or nil when storage is
// healthy.
func (e *Engine) Degraded() error {
	return e.store.Degraded()
}

// Subscribe returns conversation events of the given types, or all of
// them. The channel is closed when ctx is done.
func (e *Engine) Subscribe(ctx context.Context, types ...pubsub.EventType) <-chan pubsub.Event[events.ConversationEvent] {
	if e.broker == nil {
		ch := make(chan pubsub.Event[events.ConversationEvent])
		close(ch)
		return ch
	}
	return e.broker.Subscribe(ctx, types...)
}

// Close flushes pending state and releases the store.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Close(ctx)
}

// check validates s after a mutation in strict mode.
func (e *Engine) check(s *session.Session) error {
	if !e.cfg.Strict {
		return nil
	}
	return s.Validate()
}

func (e *Engine) violation(err error) {
	if errors.Is(err, session.ErrInvariant) && e.cfg.Strict {
		panic(err)
	}
	e.log.Error(err, "applying message")
}

func (e *Engine) publish(out outcome, now time.Time) {
	if out.msg != nil {
		if out.att.Created {
			e.log.Event("speaker_created", out.att.SpeakerID)
			e.emit(events.SpeakerCreated, events.NewSpeakerCreatedEvent(out.sessionID, out.att.SpeakerID, now))
		}
		e.emit(events.MessageAdded, events.NewMessageAddedEvent(out.sessionID, out.msg.ID,
			out.msg.SpeakerID, out.msg.Content, out.att.Confidence, now))
	}
	if len(out.groups) > 0 {
		e.log.Event("compressed", fmt.Sprintf("%d groups in %s", len(out.groups), out.sessionID))
		e.emit(events.Compressed, events.NewCompressedEvent(out.sessionID, len(out.groups), now))
	}
	if out.summary != nil {
		e.log.Event("summarized", out.sessionID)
		e.emit(events.Summarized, events.NewSummarizedEvent(out.sessionID, out.summary.Content, now))
	}
}

func (e *Engine) emit(t pubsub.EventType, ev events.ConversationEvent) {
	if e.broker != nil {
		e.broker.Publish(t, ev)
	}
}
