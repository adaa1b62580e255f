// Package events defines the conversation event payloads published on the
// engine's broker.
package events

import (
	"time"

	"github.com/guilhermegouw/convtrack/internal/pubsub"
)

// Conversation event types. They double as broker event types so
// subscribers can filter on them.
const (
	MessageAdded        pubsub.EventType = "message_added"
	SpeakerCreated      pubsub.EventType = "speaker_created"
	Compressed          pubsub.EventType = "compressed"
	Summarized          pubsub.EventType = "summarized"
	SessionStarted      pubsub.EventType = "session_started"
	SessionContinued    pubsub.EventType = "session_continued"
	SessionEnded        pubsub.EventType = "session_ended"
	PersistenceDegraded pubsub.EventType = "persistence_degraded"
)

// ConversationEvent describes one change to the tracked conversation.
type ConversationEvent struct { //nolint:govet // fieldalignment: preserving logical field order
	Type      pubsub.EventType
	SessionID string
	Timestamp time.Time

	// Optional fields, populated per event type.
	Title      string  // SessionStarted, SessionContinued
	MessageID  string  // MessageAdded
	SpeakerID  string  // MessageAdded, SpeakerCreated
	Content    string  // MessageAdded, Summarized
	Confidence float64 // MessageAdded
	Groups     int     // Compressed
	Err        error   // PersistenceDegraded
}

// NewMessageAddedEvent creates a message added event.
func NewMessageAddedEvent(sessionID, messageID, speakerID, content string, confidence float64, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:       MessageAdded,
		SessionID:  sessionID,
		Timestamp:  at,
		MessageID:  messageID,
		SpeakerID:  speakerID,
		Content:    content,
		Confidence: confidence,
	}
}

// NewSpeakerCreatedEvent creates a speaker created event.
func NewSpeakerCreatedEvent(sessionID, speakerID string, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:      SpeakerCreated,
		SessionID: sessionID,
		Timestamp: at,
		SpeakerID: speakerID,
	}
}

// NewCompressedEvent reports that n groups were folded.
func NewCompressedEvent(sessionID string, n int, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:      Compressed,
		SessionID: sessionID,
		Timestamp: at,
		Groups:    n,
	}
}

// NewSummarizedEvent carries the rendered digest.
func NewSummarizedEvent(sessionID, content string, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:      Summarized,
		SessionID: sessionID,
		Timestamp: at,
		Content:   content,
	}
}

// NewSessionStartedEvent creates a session started event.
func NewSessionStartedEvent(sessionID, title string, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:      SessionStarted,
		SessionID: sessionID,
		Timestamp: at,
		Title:     title,
	}
}

// NewSessionContinuedEvent creates a session continued event.
func NewSessionContinuedEvent(sessionID, title string, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:      SessionContinued,
		SessionID: sessionID,
		Timestamp: at,
		Title:     title,
	}
}

// NewSessionEndedEvent creates a session ended event.
func NewSessionEndedEvent(sessionID string, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:      SessionEnded,
		SessionID: sessionID,
		Timestamp: at,
	}
}

// NewPersistenceDegradedEvent reports a failed save.
func NewPersistenceDegradedEvent(err error, at time.Time) ConversationEvent {
	return ConversationEvent{
		Type:      PersistenceDegraded,
		Timestamp: at,
		Err:       err,
	}
}
