package rerank

import (
	"sort"
	"strings"
)

// stopWords is the configured language set's English stop-word list used to
// thin a query down to its content-bearing terms before building an L2
// cache signature (§4.7: "lower-cases, strips stop-words for the configured
// language set").
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "in": true, "on": true, "at": true,
	"of": true, "to": true, "for": true, "and": true, "or": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"with": true, "from": true, "into": true, "about": true, "me": true,
	"i": true, "my": true, "this": true, "that": true, "it": true,
}

// extractKeywords lower-cases query, strips stop-words and punctuation, and
// returns up to 3 tokens ranked by frequency (ties broken alphabetically for
// a deterministic signature).
func extractKeywords(query string) []string {
	counts := make(map[string]int)
	var order []string

	for _, raw := range strings.Fields(strings.ToLower(query)) {
		token := strings.TrimFunc(raw, func(r rune) bool {
			return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
		})
		if token == "" || stopWords[token] {
			continue
		}
		if _, seen := counts[token]; !seen {
			order = append(order, token)
		}
		counts[token]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return order[i] < order[j]
	})

	if len(order) > 3 {
		order = order[:3]
	}
	sort.Strings(order) // stable signature regardless of frequency order
	return order
}

// keywordSignature joins extractKeywords' output into the L2 cache's
// sorted-signature string.
func keywordSignature(query string) string {
	return strings.Join(extractKeywords(query), "+")
}
