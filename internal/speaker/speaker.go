// Package speaker attributes messages to conversational participants using
// text features and message timing.
package speaker

import (
	"time"

	"github.com/guilhermegouw/convtrack/internal/session"
)

// Defaults for Config.
const (
	DefaultSimilarityThreshold = 0.3
	DefaultRecencyWindow       = 30 * time.Second
)

// recencyConfidence is the confidence of a recency-based attribution.
const recencyConfidence = 0.8

// Config tunes attribution.
type Config struct {
	// SimilarityThreshold is the minimum Jaccard index for a feature match.
	SimilarityThreshold float64
	// RecencyWindow keeps rapid follow-ups with the previous speaker.
	RecencyWindow time.Duration
}

// DefaultConfig returns the default attribution settings.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		RecencyWindow:       DefaultRecencyWindow,
	}
}

// Method names how a speaker was chosen.
type Method string

// Attribution methods.
const (
	MethodFirst      Method = "first"
	MethodSimilarity Method = "similarity"
	MethodRecency    Method = "recency"
	MethodNew        Method = "new"
)

// Attribution is the outcome of attributing one message.
type Attribution struct {
	SpeakerID  string
	Confidence float64
	Method     Method
	Features   []string
	Created    bool
}

// Attributor assigns messages to speakers. It never fails: when nothing
// matches it creates a new speaker.
type Attributor struct {
	cfg Config
}

// New creates an attributor.
func New(cfg Config) *Attributor {
	return &Attributor{cfg: cfg}
}

// Attribute picks the speaker for content arriving at at, creating one in
// the session's arena if needed, and folds the message's features into
// that speaker. The caller appends the message, which counts it.
func (a *Attributor) Attribute(s *session.Session, content string, at time.Time) Attribution {
	features := Features(content)
	result := a.choose(s, features, at)
	result.Features = features

	var sp *session.Speaker
	if result.Created {
		sp = s.AddSpeaker(at)
		result.SpeakerID = sp.ID
	} else {
		sp = s.Speaker(result.SpeakerID)
	}
	sp.Observe(features, at)
	return result
}

func (a *Attributor) choose(s *session.Session, features []string, at time.Time) Attribution {
	if len(s.Speakers) == 0 {
		return Attribution{Confidence: 1, Method: MethodFirst, Created: true}
	}

	bestID, best := "", -1.0
	for _, sp := range s.Speakers {
		// Ties keep the earliest speaker.
		if score := Similarity(features, sp.Characteristics); score > best {
			bestID, best = sp.ID, score
		}
	}
	if best >= a.cfg.SimilarityThreshold {
		return Attribution{SpeakerID: bestID, Confidence: best, Method: MethodSimilarity}
	}

	if last := s.LastMessage(); last != nil && at.Sub(last.Timestamp) < a.cfg.RecencyWindow {
		return Attribution{SpeakerID: last.SpeakerID, Confidence: recencyConfidence, Method: MethodRecency}
	}

	return Attribution{Confidence: 1, Method: MethodNew, Created: true}
}
