// Package rank orders fuzzy search results by textual relevance. The
// upstream search endpoint returns unranked matches; this package imposes
// a deterministic "closer match wins" ordering on them.
package rank

import (
	"sort"
	"strings"

	"github.com/meeplemeet/go-catalog/pkg/catalog"
)

// Rank returns the candidates ordered by relevance to query. The sort is
// stable and pure; the input slice is not modified. The comparator chain,
// applied until one link discriminates:
//  1. an exact match to the query sorts first,
//  2. a lower first index of the query as a substring of the name sorts
//     earlier (names not containing the query rank last),
//  3. a lower Levenshtein distance between name and query sorts earlier.
//
// With ignoreCase set, all comparisons are made on the lower-cased forms.
func Rank(candidates []catalog.SearchCandidate, query string, ignoreCase bool) []catalog.SearchCandidate {
	fold := func(s string) string {
		if ignoreCase {
			return strings.ToLower(s)
		}
		return s
	}
	foldedQuery := fold(query)

	ranked := make([]catalog.SearchCandidate, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		nameI, nameJ := fold(ranked[i].Name), fold(ranked[j].Name)

		exactI, exactJ := nameI == foldedQuery, nameJ == foldedQuery
		if exactI != exactJ {
			return exactI
		}

		idxI, idxJ := substringRank(nameI, foldedQuery), substringRank(nameJ, foldedQuery)
		if idxI != idxJ {
			return idxI < idxJ
		}

		return levenshtein(nameI, foldedQuery) < levenshtein(nameJ, foldedQuery)
	})

	return ranked
}

// substringRank is the first index of query in name, with non-matches
// pushed past every match.
func substringRank(name, query string) int {
	idx := strings.Index(name, query)
	if idx < 0 {
		return int(^uint(0) >> 1) // effectively infinite
	}
	return idx
}

// levenshtein computes the edit distance between a and b using the
// two-row dynamic programming formulation, operating on runes so
// multi-byte names are not penalized per byte.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
