// Package compress folds runs of older same-speaker messages into compact
// groups once a session grows large. Raw messages are never changed.
package compress

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/guilhermegouw/convtrack/internal/message"
	"github.com/guilhermegouw/convtrack/internal/session"
)

// Defaults for Config.
const (
	DefaultThreshold      = 50
	DefaultInterval       = 2 * time.Minute
	DefaultGroupingWindow = 2 * time.Minute
	DefaultMinGroupSize   = 3
	DefaultRatio          = 0.3
	DefaultFragmentLength = 100
)

const (
	fragmentTimeLayout = "15:04:05"
	fragmentSeparator  = " | "
)

// Config tunes compression.
type Config struct {
	// Threshold is the message count a session must exceed.
	Threshold int
	// Interval is the minimum time since the last compressed window.
	Interval time.Duration
	// GroupingWindow bounds how far a group may stretch from its first message.
	GroupingWindow time.Duration
	// MinGroupSize discards shorter runs.
	MinGroupSize int
	// Ratio is the share of a group's messages kept as key messages.
	Ratio float64
	// FragmentLength truncates each key message in the rendered summary.
	FragmentLength int
}

// DefaultConfig returns the default compression settings.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		Interval:       DefaultInterval,
		GroupingWindow: DefaultGroupingWindow,
		MinGroupSize:   DefaultMinGroupSize,
		Ratio:          DefaultRatio,
		FragmentLength: DefaultFragmentLength,
	}
}

// Engine builds compressed groups.
type Engine struct {
	cfg Config
}

// New creates a compression engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// ShouldRun reports whether s is large enough and its last compressed
// window old enough for a pass at now.
func (e *Engine) ShouldRun(s *session.Session, now time.Time) bool {
	return len(s.Messages) > e.cfg.Threshold && now.Sub(s.LastCompressionEnd()) > e.cfg.Interval
}

// CheckAndRun runs a pass if ShouldRun allows it and returns the groups it
// added.
func (e *Engine) CheckAndRun(s *session.Session, now time.Time) []*session.CompressedGroup {
	if !e.ShouldRun(s, now) {
		return nil
	}
	return e.Run(s)
}

// Run groups every message not yet folded and appends the groups that
// reach the minimum size. A message already in a group ends the current
// run, so groups never straddle earlier ones.
func (e *Engine) Run(s *session.Session) []*session.CompressedGroup {
	folded := s.FoldedIDs()
	msgs := slices.Clone(s.Messages)
	slices.SortStableFunc(msgs, func(a, b *message.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	var (
		groups []*session.CompressedGroup
		run    []*message.Message
	)
	flush := func() {
		if len(run) >= e.cfg.MinGroupSize {
			groups = append(groups, e.build(run))
		}
		run = nil
	}

	for _, m := range msgs {
		if _, ok := folded[m.ID]; ok {
			flush()
			continue
		}
		if len(run) > 0 && (m.SpeakerID != run[0].SpeakerID ||
			m.Timestamp.Sub(run[0].Timestamp) > e.cfg.GroupingWindow) {
			flush()
		}
		run = append(run, m)
	}
	flush()

	s.CompressedHistory = append(s.CompressedHistory, groups...)
	return groups
}

// KeyCount is how many key messages a group of n keeps.
func (e *Engine) KeyCount(n int) int {
	return max(1, int(math.Floor(float64(n)*e.cfg.Ratio)))
}

func (e *Engine) build(run []*message.Message) *session.CompressedGroup {
	keys := e.selectKeys(run)

	ids := make([]string, len(run))
	words := 0
	for i, m := range run {
		ids[i] = m.ID
		words += m.WordCount
	}

	fragments := make([]string, len(keys))
	for i, k := range keys {
		m := run[k]
		fragments[i] = m.Timestamp.UTC().Format(fragmentTimeLayout) + ": " +
			message.Truncate(m.Content, e.cfg.FragmentLength)
	}

	return &session.CompressedGroup{
		TimeRange: session.TimeRange{
			Start: run[0].Timestamp,
			End:   run[len(run)-1].Timestamp,
		},
		SpeakerID:          run[0].SpeakerID,
		Summary:            strings.Join(fragments, fragmentSeparator),
		OriginalMessageIDs: ids,
		WordCount:          words,
		CompressionRatio:   float64(len(keys)) / float64(len(run)),
	}
}

// selectKeys returns the indexes of the key messages in chronological
// order: first and last, then questions, then the longest.
func (e *Engine) selectKeys(run []*message.Message) []int {
	limit := e.KeyCount(len(run))
	chosen := make(map[int]bool, limit)
	pick := func(i int) {
		if len(chosen) < limit {
			chosen[i] = true
		}
	}

	pick(0)
	pick(len(run) - 1)
	for i, m := range run {
		if m.IsQuestion && !chosen[i] {
			pick(i)
		}
	}

	rest := make([]int, 0, len(run))
	for i := range run {
		if !chosen[i] {
			rest = append(rest, i)
		}
	}
	slices.SortStableFunc(rest, func(a, b int) int {
		return run[b].WordCount - run[a].WordCount
	})
	for _, i := range rest {
		pick(i)
	}

	keys := make([]int, 0, len(chosen))
	for i := range chosen {
		keys = append(keys, i)
	}
	slices.Sort(keys)
	return keys
}
