package speaker

import (
	"slices"
	"testing"
	"time"

	"github.com/guilhermegouw/convtrack/internal/message"
	"github.com/guilhermegouw/convtrack/internal/session"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func TestFeatures(t *testing.T) {
	tests := []struct {
		content string
		want    []string
	}{
		{"How are you?", []string{TagAsksQuestions, TagShort, "how_questions"}},
		{"I am fine, thanks", []string{TagPolite, TagShort}},
		{"Could you please explain the rollout plan", []string{TagMakesRequests, TagPolite, TagSeeksInfo, TagShort}},
		{"I think this is WRONG!", []string{TagEmphaticCaps, TagExpressive, TagOpinionated, TagShort}},
		{"first line\nsecond line", []string{TagMultiLine, TagShort}},
		{"Whatever works for the team is fine with me, honestly", []string{TagMedium}},
		{"ok OK", []string{TagShort}},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got := Features(tt.content)
			want := slices.Clone(tt.want)
			slices.Sort(want)
			if !slices.Equal(got, want) {
				t.Errorf("Features(%q) = %v, want %v", tt.content, got, want)
			}
		})
	}
}

func TestFeaturesLengthBuckets(t *testing.T) {
	words := func(n int) string {
		s := "word"
		for i := 1; i < n; i++ {
			s += " word"
		}
		return s
	}

	tests := []struct {
		n    int
		want string
	}{
		{9, TagShort},
		{10, TagMedium},
		{29, TagMedium},
		{30, TagLong},
	}
	for _, tt := range tests {
		if got := Features(words(tt.n)); !slices.Contains(got, tt.want) {
			t.Errorf("Features(%d words) = %v, want %s", tt.n, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"x", "y"}, []string{"y", "x"}, 1},
		{"disjoint", []string{"x"}, []string{"y"}, 0},
		{"partial", []string{"x", "y", "z"}, []string{"y", "z", "w"}, 0.5},
		{"empty", nil, nil, 0},
		{"one empty", []string{"x"}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab, ba := Similarity(tt.a, tt.b), Similarity(tt.b, tt.a)
			if ab != ba {
				t.Errorf("Similarity not symmetric: %v vs %v", ab, ba)
			}
			if ab != tt.want {
				t.Errorf("Similarity() = %v, want %v", ab, tt.want)
			}
		})
	}
}

// attributeAndAppend mirrors how the engine records a message.
func attributeAndAppend(t *testing.T, a *Attributor, s *session.Session, id, content string, at time.Time) Attribution {
	t.Helper()
	res := a.Attribute(s, content, at)
	if err := s.Append(message.New(id, at, res.SpeakerID, content, false)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return res
}

func TestAttributeFirstSpeaker(t *testing.T) {
	s := session.New("s1", "", t0)
	res := attributeAndAppend(t, New(DefaultConfig()), s, "m1", "How are you?", t0)

	if res.SpeakerID != "speaker_1" || res.Confidence != 1 || !res.Created || res.Method != MethodFirst {
		t.Errorf("Attribute() = %+v, want new speaker_1 with confidence 1", res)
	}
	sp := s.Speaker("speaker_1")
	if !slices.Contains(sp.Characteristics, TagAsksQuestions) {
		t.Errorf("Characteristics = %v, want question tags", sp.Characteristics)
	}
}

func TestAttributeRecencyWindow(t *testing.T) {
	tests := []struct {
		name         string
		gap          time.Duration
		wantSpeakers int
	}{
		{"reply after long gap", 45 * time.Second, 2},
		{"rapid follow-up", 5 * time.Second, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(DefaultConfig())
			s := session.New("s1", "", t0)

			attributeAndAppend(t, a, s, "m1", "How are you?", t0)
			res := attributeAndAppend(t, a, s, "m2", "I am fine, thanks", t0.Add(tt.gap))

			if len(s.Speakers) != tt.wantSpeakers {
				t.Errorf("speakers = %d, want %d", len(s.Speakers), tt.wantSpeakers)
			}
			if tt.wantSpeakers == 1 && (res.Method != MethodRecency || res.Confidence != 0.8) {
				t.Errorf("Attribute() = %+v, want recency match with confidence 0.8", res)
			}
			if tt.wantSpeakers == 2 && slices.Contains(s.Speakers[1].Characteristics, TagAsksQuestions) {
				t.Error("second speaker should not carry question tags")
			}
		})
	}
}

func TestAttributeSimilarityMatch(t *testing.T) {
	a := New(DefaultConfig())
	s := session.New("s1", "", t0)

	attributeAndAppend(t, a, s, "m1", "How are you?", t0)
	attributeAndAppend(t, a, s, "m2", "I am fine, thanks", t0.Add(time.Minute))
	res := attributeAndAppend(t, a, s, "m3", "How is the build?", t0.Add(2*time.Minute))

	if res.SpeakerID != "speaker_1" || res.Method != MethodSimilarity {
		t.Errorf("Attribute() = %+v, want similarity match to speaker_1", res)
	}
	if res.Confidence < DefaultSimilarityThreshold || res.Confidence > 1 {
		t.Errorf("Confidence = %v out of range", res.Confidence)
	}
	if got := s.Speaker("speaker_1").MessageCount; got != 2 {
		t.Errorf("speaker_1 MessageCount = %d, want 2", got)
	}
}

func TestAttributeTiesPreferEarliest(t *testing.T) {
	s := session.New("s1", "", t0)
	for i := 0; i < 2; i++ {
		sp := s.AddSpeaker(t0)
		sp.Observe([]string{TagShort}, t0)
	}

	res := New(DefaultConfig()).Attribute(s, "sounds good", t0.Add(time.Hour))
	if res.SpeakerID != "speaker_1" {
		t.Errorf("SpeakerID = %q, want speaker_1 on tie", res.SpeakerID)
	}
}

func TestCharacteristicsGrowMonotonically(t *testing.T) {
	a := New(DefaultConfig())
	s := session.New("s1", "", t0)

	inputs := []string{"How are you?", "Please send it!", "ok then", "I think we ship"}
	var prev []string
	for i, c := range inputs {
		attributeAndAppend(t, a, s, string(rune('a'+i)), c, t0.Add(time.Duration(i)*time.Second))
		cur := s.Speaker("speaker_1").Characteristics
		for _, tag := range prev {
			if !slices.Contains(cur, tag) {
				t.Errorf("tag %q dropped after message %d", tag, i)
			}
		}
		prev = slices.Clone(cur)
	}
	if len(s.Speakers) != 1 {
		t.Errorf("speakers = %d, want 1 for rapid messages", len(s.Speakers))
	}
}
