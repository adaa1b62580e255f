// Package summary produces timed digests of a session: key points and
// per-speaker statistics for the messages since the previous digest.
package summary

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/guilhermegouw/convtrack/internal/message"
	"github.com/guilhermegouw/convtrack/internal/session"
)

// Defaults for Config.
const (
	DefaultInterval         = time.Minute
	DefaultMaxKeyPoints     = 5
	DefaultLongMessageWords = 20
	DefaultKeyPointLength   = 100
)

const (
	questionPrefix = "Q: "
	bulletPrefix   = "• "
	windowLayout   = "15:04:05"
)

// Config tunes the scheduler.
type Config struct {
	// Interval is the time since the previous window before a new digest.
	Interval time.Duration
	// MaxKeyPoints caps the key points per digest.
	MaxKeyPoints int
	// LongMessageWords is the word count above which a statement becomes a
	// key point.
	LongMessageWords int
	// KeyPointLength truncates each key point.
	KeyPointLength int
}

// DefaultConfig returns the default summary settings.
func DefaultConfig() Config {
	return Config{
		Interval:         DefaultInterval,
		MaxKeyPoints:     DefaultMaxKeyPoints,
		LongMessageWords: DefaultLongMessageWords,
		KeyPointLength:   DefaultKeyPointLength,
	}
}

// Scheduler decides when a digest is due and builds it.
//
// A window with no messages produces no digest and leaves the previous
// window end in place, so the next digest covers the idle stretch as well
// as whatever follows it.
type Scheduler struct {
	cfg Config
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// ShouldRun reports whether the interval since the previous window has
// elapsed at now.
func (s *Scheduler) ShouldRun(sess *session.Session, now time.Time) bool {
	return now.Sub(sess.LastSummaryEnd()) > s.cfg.Interval
}

// CheckAndRun builds a digest if one is due. It returns nil when nothing
// was added.
func (s *Scheduler) CheckAndRun(sess *session.Session, now time.Time) *session.Summary {
	if !s.ShouldRun(sess, now) {
		return nil
	}
	return s.Run(sess, now)
}

// Run builds a digest for the window ending at now and appends it to the
// session. It returns nil, and adds nothing, when the window is empty.
func (s *Scheduler) Run(sess *session.Session, now time.Time) *session.Summary {
	start := sess.LastSummaryEnd()
	first := len(sess.Summaries) == 0

	var window []*message.Message
	for _, m := range sess.Messages {
		if m.Timestamp.After(now) {
			continue
		}
		if m.Timestamp.After(start) || (first && m.Timestamp.Equal(start)) {
			window = append(window, m)
		}
	}
	if len(window) == 0 {
		return nil
	}

	sum := &session.Summary{
		Timestamp:    now,
		TimeRange:    session.TimeRange{Start: start, End: now},
		KeyPoints:    s.keyPoints(window),
		SpeakerStats: stats(window, now.Sub(start)),
	}
	sum.Content = render(sess, sum, len(window))

	sess.Summaries = append(sess.Summaries, sum)
	return sum
}

func (s *Scheduler) keyPoints(window []*message.Message) []string {
	points := []string{}
	for _, m := range window {
		if len(points) >= s.cfg.MaxKeyPoints {
			break
		}
		switch {
		case m.IsQuestion:
			points = append(points, questionPrefix+message.Truncate(m.Content, s.cfg.KeyPointLength))
		case m.WordCount > s.cfg.LongMessageWords:
			points = append(points, bulletPrefix+message.Truncate(m.Content, s.cfg.KeyPointLength))
		}
	}
	return points
}

// stats returns one entry per speaker in order of first appearance. Active
// time is the window length; there is no finer per-speaker signal.
func stats(window []*message.Message, length time.Duration) []session.SpeakerStat {
	minutes := math.Round(length.Minutes()*100) / 100

	index := make(map[string]int)
	out := []session.SpeakerStat{}
	for _, m := range window {
		i, ok := index[m.SpeakerID]
		if !ok {
			i = len(out)
			index[m.SpeakerID] = i
			out = append(out, session.SpeakerStat{SpeakerID: m.SpeakerID, ActiveTimeMinutes: minutes})
		}
		out[i].MessageCount++
		out[i].WordCount += m.WordCount
		if m.IsQuestion {
			out[i].QuestionsAsked++
		}
	}
	return out
}

func render(sess *session.Session, sum *session.Summary, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary %s-%s (%d messages)\n",
		sum.TimeRange.Start.UTC().Format(windowLayout),
		sum.TimeRange.End.UTC().Format(windowLayout), n)

	for _, p := range sum.KeyPoints {
		b.WriteString(p)
		b.WriteByte('\n')
	}

	for _, st := range sum.SpeakerStats {
		name := st.SpeakerID
		if sp := sess.Speaker(st.SpeakerID); sp != nil {
			name = sp.Name
		}
		fmt.Fprintf(&b, "%s: %d messages, %d words, %d questions\n",
			name, st.MessageCount, st.WordCount, st.QuestionsAsked)
	}
	return strings.TrimRight(b.String(), "\n")
}
