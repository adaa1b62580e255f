package speaker

import (
	"slices"
	"strings"
	"unicode"

	"github.com/guilhermegouw/convtrack/internal/message"
)

// Feature tags.
const (
	TagShort           = "short_messages"
	TagMedium          = "medium_messages"
	TagLong            = "long_messages"
	TagAsksQuestions   = "asks_questions"
	TagExpressive      = "expressive"
	TagPolite          = "polite"
	TagOpinionated     = "opinionated"
	TagMultiLine       = "multi_line"
	TagEmphaticCaps    = "emphatic_caps"
	TagMakesRequests   = "makes_requests"
	TagSeeksInfo       = "seeks_information"
	questionTagPostfix = "_questions"
)

var (
	politeMarkers  = []string{"please", "thank", "appreciate", "sorry"}
	opinionPhrases = []string{"i think", "i believe", "i feel", "in my opinion", "imo", "personally", "i guess"}
	requestPhrases = []string{"can you", "could you", "would you", "will you", "please", "i need", "i want", "let's", "lets"}
	infoPhrases    = []string{"tell me", "explain", "what is", "what's", "how do", "how does", "do you know", "any idea", "show me", "i wonder"}
)

// Features extracts the sorted set of feature tags describing content.
func Features(content string) []string {
	var tags []string

	switch n := message.WordCount(content); {
	case n < 10:
		tags = append(tags, TagShort)
	case n < 30:
		tags = append(tags, TagMedium)
	default:
		tags = append(tags, TagLong)
	}

	if strings.Contains(content, "?") {
		tags = append(tags, TagAsksQuestions)
	}
	if w := message.LeadingInterrogative(content); w != "" {
		tags = append(tags, w+questionTagPostfix)
	}
	if strings.Contains(content, "!") {
		tags = append(tags, TagExpressive)
	}

	lower := strings.ToLower(content)
	for _, m := range politeMarkers {
		if strings.Contains(lower, m) {
			tags = append(tags, TagPolite)
			break
		}
	}

	// Phrases match on whole words.
	padded := " " + strings.Join(message.Words(content), " ") + " "
	if containsPhrase(padded, opinionPhrases) {
		tags = append(tags, TagOpinionated)
	}
	if containsPhrase(padded, requestPhrases) {
		tags = append(tags, TagMakesRequests)
	}
	if containsPhrase(padded, infoPhrases) {
		tags = append(tags, TagSeeksInfo)
	}

	if strings.Contains(strings.TrimSpace(content), "\n") {
		tags = append(tags, TagMultiLine)
	}
	if hasCapsRun(content) {
		tags = append(tags, TagEmphaticCaps)
	}

	slices.Sort(tags)
	return slices.Compact(tags)
}

func containsPhrase(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// hasCapsRun reports whether content has a word of at least three letters
// written entirely in capitals.
func hasCapsRun(content string) bool {
	for _, f := range strings.Fields(content) {
		letters := 0
		upper := true
		for _, r := range f {
			if !unicode.IsLetter(r) {
				continue
			}
			letters++
			if !unicode.IsUpper(r) {
				upper = false
				break
			}
		}
		if upper && letters >= 3 {
			return true
		}
	}
	return false
}

// Similarity is the Jaccard index of two tag sets: the size of their
// intersection over the size of their union. Two empty sets score 0.
func Similarity(a, b []string) float64 {
	set := make(map[string]uint8, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	shared := 0
	for _, v := range set {
		if v == 3 {
			shared++
		}
	}
	return float64(shared) / float64(len(set))
}
