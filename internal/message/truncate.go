package message

import (
	"strings"

	"github.com/rivo/uniseg"
)

const ellipsis = "..."

// Truncate shortens s to at most limit grapheme clusters, appending an
// ellipsis when anything was cut. Whitespace runs are collapsed first so
// multi-line utterances render on one line. A limit below 1 disables
// truncation.
func Truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit < 1 || uniseg.GraphemeClusterCount(s) <= limit {
		return s
	}

	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for n := 0; n < limit && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	return strings.TrimRight(b.String(), " ") + ellipsis
}
