package events

import (
	"errors"
	"testing"
	"time"

	"github.com/guilhermegouw/convtrack/internal/pubsub"
)

func TestEventTypesDistinct(t *testing.T) {
	types := []pubsub.EventType{
		MessageAdded, SpeakerCreated, Compressed, Summarized,
		SessionStarted, SessionContinued, SessionEnded, PersistenceDegraded,
	}

	seen := make(map[pubsub.EventType]bool)
	for _, typ := range types {
		if seen[typ] {
			t.Errorf("duplicate event type: %s", typ)
		}
		seen[typ] = true
	}
}

func TestConstructors(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	t.Run("message added", func(t *testing.T) {
		ev := NewMessageAddedEvent("s1", "m1", "speaker_1", "hello there", 0.8, at)
		if ev.Type != MessageAdded {
			t.Errorf("Type = %s, want %s", ev.Type, MessageAdded)
		}
		if ev.SessionID != "s1" || ev.MessageID != "m1" || ev.SpeakerID != "speaker_1" {
			t.Errorf("unexpected ids: %+v", ev)
		}
		if ev.Confidence != 0.8 {
			t.Errorf("Confidence = %v, want 0.8", ev.Confidence)
		}
		if !ev.Timestamp.Equal(at) {
			t.Errorf("Timestamp = %v, want %v", ev.Timestamp, at)
		}
	})

	t.Run("compressed", func(t *testing.T) {
		ev := NewCompressedEvent("s1", 3, at)
		if ev.Type != Compressed || ev.Groups != 3 {
			t.Errorf("unexpected event: %+v", ev)
		}
	})

	t.Run("persistence degraded", func(t *testing.T) {
		cause := errors.New("disk full")
		ev := NewPersistenceDegradedEvent(cause, at)
		if ev.Type != PersistenceDegraded {
			t.Errorf("Type = %s, want %s", ev.Type, PersistenceDegraded)
		}
		if !errors.Is(ev.Err, cause) {
			t.Errorf("Err = %v, want %v", ev.Err, cause)
		}
	})

	t.Run("session lifecycle", func(t *testing.T) {
		if ev := NewSessionStartedEvent("s2", "standup", at); ev.Type != SessionStarted || ev.Title != "standup" {
			t.Errorf("unexpected started event: %+v", ev)
		}
		if ev := NewSessionContinuedEvent("s2", "standup", at); ev.Type != SessionContinued {
			t.Errorf("unexpected continued event: %+v", ev)
		}
		if ev := NewSessionEndedEvent("s2", at); ev.Type != SessionEnded || ev.SessionID != "s2" {
			t.Errorf("unexpected ended event: %+v", ev)
		}
	})
}
