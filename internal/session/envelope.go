package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CurrentVersion is the schema version written by Encode.
const CurrentVersion = "2"

// Envelope is the whole persisted document: every session and which one
// is current.
type Envelope struct {
	CurrentSessionID string
	Sessions         map[string]*Session
	Version          string
}

// NewEnvelope returns an empty envelope at the current version.
func NewEnvelope() *Envelope {
	return &Envelope{
		Sessions: make(map[string]*Session),
		Version:  CurrentVersion,
	}
}

// Current returns the current session, or nil.
func (e *Envelope) Current() *Session {
	if e.CurrentSessionID == "" {
		return nil
	}
	return e.Sessions[e.CurrentSessionID]
}

// Sorted returns the sessions ordered by start time, most recent first.
func (e *Envelope) Sorted() []*Session {
	out := make([]*Session, 0, len(e.Sessions))
	for _, s := range e.Sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Session) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Cleanup keeps the keep most recently started sessions and deletes the
// rest. The current session is always kept and counts toward keep. It
// returns the removed ids.
func (e *Envelope) Cleanup(keep int) []string {
	if keep < 1 {
		keep = 1
	}
	if len(e.Sessions) <= keep {
		return nil
	}

	kept := 0
	if e.Current() != nil {
		kept = 1
	}
	var removed []string
	for _, s := range e.Sorted() {
		if s.ID == e.CurrentSessionID {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		delete(e.Sessions, s.ID)
		removed = append(removed, s.ID)
	}
	return removed
}

// Validate checks every session and the current-session reference.
func (e *Envelope) Validate() error {
	if e.CurrentSessionID != "" && e.Current() == nil {
		return fmt.Errorf("%w: current session %s does not exist", ErrInvariant, e.CurrentSessionID)
	}
	for _, s := range e.Sorted() {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// wireEnvelope is the JSON shape of Envelope.
type wireEnvelope struct {
	CurrentSessionID *string             `json:"currentSessionId"`
	Sessions         map[string]*Session `json:"sessions"`
	Version          string              `json:"version"`
}

// Encode serializes the envelope. Map keys are sorted so equal envelopes
// encode to equal bytes.
func Encode(e *Envelope) ([]byte, error) {
	w := wireEnvelope{
		Sessions: e.Sessions,
		Version:  CurrentVersion,
	}
	if w.Sessions == nil {
		w.Sessions = map[string]*Session{}
	}
	if e.CurrentSessionID != "" {
		id := e.CurrentSessionID
		w.CurrentSessionID = &id
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// DecodeReport describes what Decode had to repair.
type DecodeReport struct {
	// Corrupted is set when the document could not be parsed at all.
	Corrupted bool
	// FromVersion is the version found in the document.
	FromVersion string
	// Migrated is set when legacy fields were rewritten.
	Migrated bool
	// Reset lists sessions replaced by an empty placeholder.
	Reset []string
	// DroppedCurrent is set when the current session reference dangled.
	DroppedCurrent bool
}

// Decode parses a stored document. It never fails: missing or unparseable
// input yields an empty envelope, and a session that cannot be decoded is
// reset on its own.
func Decode(data []byte) (*Envelope, DecodeReport) {
	var report DecodeReport
	env := NewEnvelope()

	if len(bytes.TrimSpace(data)) == 0 {
		return env, report
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		report.Corrupted = true
		return env, report
	}

	report.FromVersion = gjson.GetBytes(data, "version").String()
	if report.FromVersion != CurrentVersion {
		migrated, err := migrate(data)
		if err == nil {
			data = migrated
			report.Migrated = true
		}
	}

	var raw struct {
		CurrentSessionID *string                    `json:"currentSessionId"`
		Sessions         map[string]json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		report.Corrupted = true
		return env, report
	}

	ids := make([]string, 0, len(raw.Sessions))
	for id := range raw.Sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		s, ok := decodeSession(id, raw.Sessions[id])
		if !ok {
			report.Reset = append(report.Reset, id)
		}
		env.Sessions[id] = s
	}

	if raw.CurrentSessionID != nil {
		if cur, ok := env.Sessions[*raw.CurrentSessionID]; ok && cur.IsActive {
			env.CurrentSessionID = *raw.CurrentSessionID
		} else {
			report.DroppedCurrent = true
		}
	}
	return env, report
}

// decodeSession decodes one record, repairing derived counters. A record
// that fails to decode or validate is replaced by placeholder.
func decodeSession(id string, raw json.RawMessage) (*Session, bool) {
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return placeholder(id, raw), false
	}
	if s.ID == "" {
		s.ID = id
	}
	if s.ID != id {
		return placeholder(id, raw), false
	}
	s.normalize()
	s.toUTC()
	s.recount()
	if err := s.Validate(); err != nil {
		return placeholder(id, raw), false
	}
	return &s, true
}

// placeholder is the safe empty shape for an unreadable record. It keeps
// whatever start time and title can still be read.
func placeholder(id string, raw json.RawMessage) *Session {
	start := time.Unix(0, 0).UTC()
	if t, ok := parseTimestamp(gjson.GetBytes(raw, "startTime")); ok {
		start = t
	}
	s := New(id, gjson.GetBytes(raw, "title").String(), start)
	s.deactivate(start)
	s.Metadata = map[string]string{"recovered": "true"}
	return s
}

func (s *Session) toUTC() {
	s.StartTime = s.StartTime.UTC()
	if s.EndTime != nil {
		end := s.EndTime.UTC()
		s.EndTime = &end
	}
	for _, m := range s.Messages {
		m.Timestamp = m.Timestamp.UTC()
	}
	for _, sp := range s.Speakers {
		sp.FirstDetected = sp.FirstDetected.UTC()
		sp.LastActive = sp.LastActive.UTC()
	}
	for _, sum := range s.Summaries {
		sum.Timestamp = sum.Timestamp.UTC()
		sum.TimeRange.Start = sum.TimeRange.Start.UTC()
		sum.TimeRange.End = sum.TimeRange.End.UTC()
	}
	for _, g := range s.CompressedHistory {
		g.TimeRange.Start = g.TimeRange.Start.UTC()
		g.TimeRange.End = g.TimeRange.End.UTC()
	}
	if s.Context != nil {
		s.Context.LastModified = s.Context.LastModified.UTC()
	}
}

// recount derives speaker message counts from the message list.
func (s *Session) recount() {
	counts := make(map[string]int, len(s.Speakers))
	for _, m := range s.Messages {
		counts[m.SpeakerID]++
	}
	for _, sp := range s.Speakers {
		sp.MessageCount = counts[sp.ID]
	}
}

// migrate rewrites legacy timestamps (epoch milliseconds or non-RFC3339
// strings) to RFC3339 and stamps the current version.
func migrate(data []byte) ([]byte, error) {
	var ids []string
	gjson.GetBytes(data, "sessions").ForEach(func(key, _ gjson.Result) bool {
		ids = append(ids, key.String())
		return true
	})

	var err error
	for _, id := range ids {
		prefix := "sessions." + escapeKey(id) + "."
		for _, path := range timestampPaths(data, prefix) {
			v := gjson.GetBytes(data, path)
			if !v.Exists() || v.Type == gjson.Null {
				continue
			}
			if v.Type == gjson.String {
				if _, perr := time.Parse(time.RFC3339Nano, v.Str); perr == nil {
					continue
				}
			}
			t, ok := parseTimestamp(v)
			if !ok {
				continue
			}
			data, err = sjson.SetBytes(data, path, t.Format(time.RFC3339Nano))
			if err != nil {
				return nil, fmt.Errorf("rewriting %s: %w", path, err)
			}
		}
	}

	data, err = sjson.SetBytes(data, "version", CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("setting version: %w", err)
	}
	return data, nil
}

// timestampPaths lists every time-valued field of the session at prefix.
func timestampPaths(data []byte, prefix string) []string {
	paths := []string{prefix + "startTime", prefix + "endTime", prefix + "context.lastModified"}
	each := func(list string, fields ...string) {
		n := int(gjson.GetBytes(data, prefix+list+".#").Int())
		for i := 0; i < n; i++ {
			for _, f := range fields {
				paths = append(paths, prefix+list+"."+strconv.Itoa(i)+"."+f)
			}
		}
	}
	each("messages", "timestamp")
	each("speakers", "firstDetected", "lastActive")
	each("summaries", "timestamp", "timeRange.start", "timeRange.end")
	each("compressedHistory", "timeRange.start", "timeRange.end")
	return paths
}

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	time.UnixDate,
	"Mon Jan 02 2006 15:04:05 GMT-0700",
}

// parseTimestamp reads a legacy time value: a number of epoch
// milliseconds or a string in one of the known layouts. Zoneless strings
// are taken as UTC.
func parseTimestamp(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC(), true
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		// Drops a trailing "(Zone Name)" as written by some clients.
		if i := strings.Index(s, " ("); i > 0 {
			s = s[:i]
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		for _, layout := range legacyLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// escapeKey escapes gjson/sjson path metacharacters in a map key.
func escapeKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
