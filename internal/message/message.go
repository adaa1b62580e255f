// Package message provides the conversation message type and the text
// analysis applied to every utterance before it is stored.
package message

import (
	"strings"
	"time"
)

// replacementChar stands in for each run of invalid UTF-8 in content.
const replacementChar = "\uFFFD"

// MaxKeywords bounds the keyword list attached to a message.
const MaxKeywords = 5

// Message is a single attributed utterance. Messages are immutable once
// appended to a session.
type Message struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	SpeakerID      string    `json:"speakerId"`
	Content        string    `json:"content"`
	IsQuestion     bool      `json:"isQuestion"`
	WordCount      int       `json:"wordCount"`
	Keywords       []string  `json:"keywords,omitempty"`
	SentimentScore *float64  `json:"sentimentScore,omitempty"`
}

// New builds a message from raw content, deriving word count, question
// classification, keywords and sentiment. isQuestionHint forces the
// question classification on when the upstream source already knows.
// Invalid UTF-8 in content is replaced so the stored text survives a JSON
// round trip unchanged.
func New(id string, ts time.Time, speakerID, content string, isQuestionHint bool) *Message {
	content = Sanitize(content)
	a := Analyze(content)
	return &Message{
		ID:             id,
		Timestamp:      ts,
		SpeakerID:      speakerID,
		Content:        content,
		IsQuestion:     isQuestionHint || a.IsQuestion,
		WordCount:      a.WordCount,
		Keywords:       a.Keywords,
		SentimentScore: a.Sentiment,
	}
}

// Sanitize replaces each run of invalid UTF-8 bytes with U+FFFD.
func Sanitize(content string) string {
	return strings.ToValidUTF8(content, replacementChar)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Keywords != nil {
		c.Keywords = append([]string(nil), m.Keywords...)
	}
	if m.SentimentScore != nil {
		s := *m.SentimentScore
		c.SentimentScore = &s
	}
	return &c
}
