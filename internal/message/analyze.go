package message

import (
	"sort"
	"strings"
	"unicode"
)

// Analysis holds the features derived from a message's text.
type Analysis struct {
	WordCount  int
	IsQuestion bool
	Keywords   []string
	Sentiment  *float64
}

// interrogatives are the leading words that mark a question even without a
// trailing question mark.
var interrogatives = []string{"how", "what", "why", "when", "where", "who"}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "your": true, "all": true, "any": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true, "has": true,
	"him": true, "his": true, "how": true, "its": true, "let": true, "she": true,
	"too": true, "use": true, "that": true, "this": true, "with": true, "have": true,
	"from": true, "they": true, "will": true, "would": true, "there": true,
	"their": true, "what": true, "about": true, "which": true, "when": true,
	"where": true, "who": true, "why": true, "were": true, "been": true, "them": true,
	"then": true, "than": true, "just": true, "like": true, "into": true, "some": true,
	"could": true, "should": true, "also": true, "very": true, "here": true,
	"okay": true, "yeah": true, "well": true, "really": true, "thing": true,
	"think": true, "know": true, "going": true, "want": true, "does": true, "did": true,
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "happy": true, "love": true,
	"thanks": true, "thank": true, "awesome": true, "nice": true, "perfect": true,
	"agree": true, "glad": true, "fine": true, "helpful": true, "wonderful": true,
	"appreciate": true, "amazing": true, "clear": true, "works": true, "success": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "hate": true, "sad": true,
	"angry": true, "wrong": true, "problem": true, "issue": true, "fail": true,
	"failed": true, "broken": true, "worried": true, "difficult": true,
	"confusing": true, "disagree": true, "slow": true, "bug": true, "error": true,
	"frustrating": true,
}

// Analyze derives word count, question classification, keywords and
// sentiment from content.
func Analyze(content string) Analysis {
	words := Words(content)
	return Analysis{
		WordCount:  WordCount(content),
		IsQuestion: IsQuestion(content),
		Keywords:   keywords(words),
		Sentiment:  sentiment(words),
	}
}

// WordCount returns the number of whitespace-separated words.
func WordCount(content string) int {
	return len(strings.Fields(content))
}

// IsQuestion reports whether content reads as a question: it ends with a
// question mark or starts with an interrogative word.
func IsQuestion(content string) bool {
	trimmed := strings.TrimSpace(content)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	return LeadingInterrogative(trimmed) != ""
}

// LeadingInterrogative returns the interrogative word content starts with,
// or "" when it starts with none.
func LeadingInterrogative(content string) string {
	lower := strings.ToLower(strings.TrimSpace(content))
	for _, w := range interrogatives {
		if strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+"'") || lower == w+"?" {
			return w
		}
	}
	return ""
}

// Words splits content into lowercase word tokens with surrounding
// punctuation removed.
func Words(content string) []string {
	fields := strings.Fields(strings.ToLower(content))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func keywords(words []string) []string {
	counts := make(map[string]int)
	first := make(map[string]int)
	for i, w := range words {
		if len([]rune(w)) < 3 || stopwords[w] {
			continue
		}
		if _, seen := first[w]; !seen {
			first[w] = i
		}
		counts[w]++
	}
	if len(counts) == 0 {
		return nil
	}

	ranked := make([]string, 0, len(counts))
	for w := range counts {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return first[ranked[i]] < first[ranked[j]]
	})

	if len(ranked) > MaxKeywords {
		ranked = ranked[:MaxKeywords]
	}
	return ranked
}

func sentiment(words []string) *float64 {
	var pos, neg int
	for _, w := range words {
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
	}
	if pos+neg == 0 {
		return nil
	}
	score := float64(pos-neg) / float64(pos+neg)
	return &score
}
