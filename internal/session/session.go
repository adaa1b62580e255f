// Package session holds the persisted conversation model and the service
// that loads, mutates and saves it.
package session

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/guilhermegouw/convtrack/internal/message"
)

// Session is one continuous conversation. It owns its messages and the
// arena of speakers those messages reference by id.
type Session struct {
	ID                string             `json:"sessionId"`
	StartTime         time.Time          `json:"startTime"`
	EndTime           *time.Time         `json:"endTime,omitempty"`
	IsActive          bool               `json:"isActive"`
	Title             string             `json:"title,omitempty"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
	Messages          []*message.Message `json:"messages"`
	Summaries         []*Summary         `json:"summaries"`
	Speakers          []*Speaker         `json:"speakers"`
	CompressedHistory []*CompressedGroup `json:"compressedHistory"`
	Context           *MeetingContext    `json:"context,omitempty"`

	speakerIndex map[string]int
}

// Speaker is a conversational participant inferred from message text.
type Speaker struct {
	ID              string    `json:"speakerId"`
	Name            string    `json:"name"`
	FirstDetected   time.Time `json:"firstDetected"`
	LastActive      time.Time `json:"lastActive"`
	MessageCount    int       `json:"messageCount"`
	Characteristics []string  `json:"characteristics"`
}

// TimeRange is an inclusive span of time.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CompressedGroup folds a run of same-speaker messages into one condensed
// record. The folded messages stay in the session's message list.
type CompressedGroup struct {
	TimeRange          TimeRange `json:"timeRange"`
	SpeakerID          string    `json:"speakerId"`
	Summary            string    `json:"summary"`
	OriginalMessageIDs []string  `json:"originalMessageIds"`
	WordCount          int       `json:"wordCount"`
	CompressionRatio   float64   `json:"compressionRatio"`
}

// SpeakerStat is one speaker's activity within a summary window.
type SpeakerStat struct {
	SpeakerID         string  `json:"speakerId"`
	MessageCount      int     `json:"messageCount"`
	WordCount         int     `json:"wordCount"`
	QuestionsAsked    int     `json:"questionsAsked"`
	ActiveTimeMinutes float64 `json:"activeTimeMinutes"`
}

// Summary is a timed digest of the messages in one window.
type Summary struct {
	Timestamp    time.Time     `json:"timestamp"`
	Content      string        `json:"content"`
	TimeRange    TimeRange     `json:"timeRange"`
	KeyPoints    []string      `json:"keyPoints"`
	SpeakerStats []SpeakerStat `json:"speakerStats"`
}

// New returns an active, empty session.
func New(id, title string, start time.Time) *Session {
	s := &Session{
		ID:        id,
		StartTime: start,
		IsActive:  true,
		Title:     title,
	}
	s.normalize()
	return s
}

// normalize replaces nil collections so the encoded form always carries
// arrays, sorts speaker characteristics, and rebuilds the speaker index.
func (s *Session) normalize() {
	if s.Messages == nil {
		s.Messages = []*message.Message{}
	}
	if s.Summaries == nil {
		s.Summaries = []*Summary{}
	}
	if s.Speakers == nil {
		s.Speakers = []*Speaker{}
	}
	if s.CompressedHistory == nil {
		s.CompressedHistory = []*CompressedGroup{}
	}
	for _, sp := range s.Speakers {
		if sp.Characteristics == nil {
			sp.Characteristics = []string{}
		}
		// Observe keeps the list sorted; stored lists may not be.
		slices.Sort(sp.Characteristics)
		sp.Characteristics = slices.Compact(sp.Characteristics)
	}
	for _, sum := range s.Summaries {
		if sum.KeyPoints == nil {
			sum.KeyPoints = []string{}
		}
		if sum.SpeakerStats == nil {
			sum.SpeakerStats = []SpeakerStat{}
		}
	}
	if s.Context != nil {
		s.Context.normalize()
	}
	s.reindex()
}

func (s *Session) reindex() {
	s.speakerIndex = make(map[string]int, len(s.Speakers))
	for i, sp := range s.Speakers {
		s.speakerIndex[sp.ID] = i
	}
}

// Speaker returns the speaker with the given id, or nil.
func (s *Session) Speaker(id string) *Speaker {
	if len(s.speakerIndex) != len(s.Speakers) {
		s.reindex()
	}
	i, ok := s.speakerIndex[id]
	if !ok {
		return nil
	}
	return s.Speakers[i]
}

// NextSpeakerID returns the id the next new speaker will receive.
func (s *Session) NextSpeakerID() string {
	return "speaker_" + strconv.Itoa(len(s.Speakers)+1)
}

// AddSpeaker creates the next speaker, first seen at at.
func (s *Session) AddSpeaker(at time.Time) *Speaker {
	n := len(s.Speakers) + 1
	sp := &Speaker{
		ID:              s.NextSpeakerID(),
		Name:            fmt.Sprintf("Speaker %d", n),
		FirstDetected:   at,
		LastActive:      at,
		Characteristics: []string{},
	}
	s.Speakers = append(s.Speakers, sp)
	if s.speakerIndex == nil {
		s.reindex()
	} else {
		s.speakerIndex[sp.ID] = len(s.Speakers) - 1
	}
	return sp
}

// LastMessage returns the most recent message, or nil.
func (s *Session) LastMessage() *message.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// Append adds m to the message list and counts it toward its speaker.
// The speaker must already exist and m must not predate the last message.
func (s *Session) Append(m *message.Message) error {
	sp := s.Speaker(m.SpeakerID)
	if sp == nil {
		return fmt.Errorf("%w: message %s references unknown speaker %q", ErrInvariant, m.ID, m.SpeakerID)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message %s has empty content", ErrInvariant, m.ID)
	}
	if last := s.LastMessage(); last != nil && m.Timestamp.Before(last.Timestamp) {
		return fmt.Errorf("%w: message %s at %s precedes %s", ErrInvariant, m.ID,
			m.Timestamp.Format(time.RFC3339Nano), last.Timestamp.Format(time.RFC3339Nano))
	}
	s.Messages = append(s.Messages, m)
	sp.MessageCount++
	if m.Timestamp.After(sp.LastActive) {
		sp.LastActive = m.Timestamp
	}
	return nil
}

// FoldedIDs returns the ids already covered by a compressed group.
func (s *Session) FoldedIDs() map[string]struct{} {
	folded := make(map[string]struct{})
	for _, g := range s.CompressedHistory {
		for _, id := range g.OriginalMessageIDs {
			folded[id] = struct{}{}
		}
	}
	return folded
}

// LastCompressionEnd is the end of the latest compressed group, or the
// session start when nothing has been compressed.
func (s *Session) LastCompressionEnd() time.Time {
	end := s.StartTime
	for _, g := range s.CompressedHistory {
		if g.TimeRange.End.After(end) {
			end = g.TimeRange.End
		}
	}
	return end
}

// LastSummaryEnd is the end of the previous summary window, or the
// session start.
func (s *Session) LastSummaryEnd() time.Time {
	if len(s.Summaries) == 0 {
		return s.StartTime
	}
	return s.Summaries[len(s.Summaries)-1].TimeRange.End
}

// Observe merges features into the speaker's characteristics and moves
// lastActive forward.
func (sp *Speaker) Observe(features []string, at time.Time) {
	for _, f := range features {
		if i, found := slices.BinarySearch(sp.Characteristics, f); !found {
			sp.Characteristics = slices.Insert(sp.Characteristics, i, f)
		}
	}
	if at.After(sp.LastActive) {
		sp.LastActive = at
	}
}

func (s *Session) deactivate(at time.Time) {
	if !s.IsActive {
		return
	}
	s.IsActive = false
	end := at
	if end.Before(s.StartTime) {
		end = s.StartTime
	}
	s.EndTime = &end
}

func (s *Session) reactivate() {
	s.IsActive = true
	s.EndTime = nil
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := &Session{
		ID:        s.ID,
		StartTime: s.StartTime,
		IsActive:  s.IsActive,
		Title:     s.Title,
	}
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}

	c.Messages = make([]*message.Message, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.Clone()
	}

	c.Speakers = make([]*Speaker, len(s.Speakers))
	for i, sp := range s.Speakers {
		cp := *sp
		cp.Characteristics = slices.Clone(sp.Characteristics)
		if cp.Characteristics == nil {
			cp.Characteristics = []string{}
		}
		c.Speakers[i] = &cp
	}

	c.Summaries = make([]*Summary, len(s.Summaries))
	for i, sum := range s.Summaries {
		cp := *sum
		cp.KeyPoints = append([]string{}, sum.KeyPoints...)
		cp.SpeakerStats = append([]SpeakerStat{}, sum.SpeakerStats...)
		c.Summaries[i] = &cp
	}

	c.CompressedHistory = make([]*CompressedGroup, len(s.CompressedHistory))
	for i, g := range s.CompressedHistory {
		cp := *g
		cp.OriginalMessageIDs = append([]string{}, g.OriginalMessageIDs...)
		c.CompressedHistory[i] = &cp
	}

	if s.Context != nil {
		c.Context = s.Context.Clone()
	}

	c.reindex()
	return c
}

// Validate checks the session's structural invariants. Every violation is
// reported, each wrapping ErrInvariant.
func (s *Session) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: session %s: %s", ErrInvariant, s.ID, fmt.Sprintf(format, args...)))
	}

	if s.IsActive && s.EndTime != nil {
		fail("active session has an end time")
	}

	speakers := make(map[string]int, len(s.Speakers))
	for _, sp := range s.Speakers {
		if _, dup := speakers[sp.ID]; dup {
			fail("duplicate speaker %s", sp.ID)
		}
		speakers[sp.ID] = 0
	}

	ids := make(map[string]struct{}, len(s.Messages))
	var prev time.Time
	for i, m := range s.Messages {
		if _, dup := ids[m.ID]; dup {
			fail("duplicate message id %s", m.ID)
		}
		ids[m.ID] = struct{}{}

		if strings.TrimSpace(m.Content) == "" {
			fail("message %s has empty content", m.ID)
		}
		if m.WordCount < 1 {
			fail("message %s has word count %d", m.ID, m.WordCount)
		}
		if len(m.Keywords) > message.MaxKeywords {
			fail("message %s has %d keywords", m.ID, len(m.Keywords))
		}
		if m.SentimentScore != nil && (*m.SentimentScore < -1 || *m.SentimentScore > 1) {
			fail("message %s sentiment %v out of range", m.ID, *m.SentimentScore)
		}
		if i > 0 && m.Timestamp.Before(prev) {
			fail("message %s out of timestamp order", m.ID)
		}
		prev = m.Timestamp

		if _, ok := speakers[m.SpeakerID]; !ok {
			fail("message %s references unknown speaker %q", m.ID, m.SpeakerID)
			continue
		}
		speakers[m.SpeakerID]++
	}

	for _, sp := range s.Speakers {
		if got := speakers[sp.ID]; got != sp.MessageCount {
			fail("speaker %s messageCount %d, counted %d", sp.ID, sp.MessageCount, got)
		}
	}

	folded := make(map[string]struct{})
	for _, g := range s.CompressedHistory {
		if g.CompressionRatio > 1 {
			fail("compressed group ratio %v exceeds 1", g.CompressionRatio)
		}
		for _, id := range g.OriginalMessageIDs {
			if _, ok := ids[id]; !ok {
				fail("compressed group folds unknown message %s", id)
			}
			if _, dup := folded[id]; dup {
				fail("message %s folded into more than one group", id)
			}
			folded[id] = struct{}{}
		}
	}

	if s.Context != nil {
		s.Context.validate(fail)
	}

	return errors.Join(errs...)
}
