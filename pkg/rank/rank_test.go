package rank_test

import (
	"testing"

	"github.com/meeplemeet/go-catalog/pkg/catalog"
	"github.com/meeplemeet/go-catalog/pkg/rank"
	"github.com/stretchr/testify/assert"
)

func candidates(names ...string) []catalog.SearchCandidate {
	out := make([]catalog.SearchCandidate, len(names))
	for i, name := range names {
		out[i] = catalog.SearchCandidate{ID: name, Name: name}
	}
	return out
}

func names(ranked []catalog.SearchCandidate) []string {
	out := make([]string, len(ranked))
	for i, c := range ranked {
		out[i] = c.Name
	}
	return out
}

func TestRank(t *testing.T) {
	t.Run("exact match first, then ascending edit distance", func(t *testing.T) {
		ranked := rank.Rank(candidates("Monopoly", "Mono", "Monopo"), "mono", true)
		assert.Equal(t, []string{"Mono", "Monopo", "Monopoly"}, names(ranked))
	})

	t.Run("earlier substring position wins", func(t *testing.T) {
		ranked := rank.Rank(candidates("Super Catan", "Catan"), "catan", true)
		assert.Equal(t, []string{"Catan", "Super Catan"}, names(ranked))
	})

	t.Run("non-matching names rank after matching ones", func(t *testing.T) {
		ranked := rank.Rank(candidates("Chess", "Carcassonne"), "carcas", true)
		assert.Equal(t, []string{"Carcassonne", "Chess"}, names(ranked))
	})

	t.Run("case sensitivity honored when requested", func(t *testing.T) {
		// Case-sensitive: "MONO" does not contain "mono", so the
		// lower-case name wins on substring position.
		ranked := rank.Rank(candidates("MONO", "monopoly"), "mono", false)
		assert.Equal(t, []string{"monopoly", "MONO"}, names(ranked))

		// Case-insensitive: "MONO" folds to an exact match.
		ranked = rank.Rank(candidates("MONO", "monopoly"), "mono", true)
		assert.Equal(t, []string{"MONO", "monopoly"}, names(ranked))
	})

	t.Run("stable for fully tied candidates", func(t *testing.T) {
		tied := []catalog.SearchCandidate{
			{ID: "1", Name: "Azul"},
			{ID: "2", Name: "Azul"},
			{ID: "3", Name: "Azul"},
		}
		ranked := rank.Rank(tied, "azul", true)
		assert.Equal(t, []string{"1", "2", "3"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
	})

	t.Run("input slice is not modified", func(t *testing.T) {
		input := candidates("Monopoly", "Mono")
		_ = rank.Rank(input, "mono", true)
		assert.Equal(t, []string{"Monopoly", "Mono"}, names(input))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, rank.Rank(nil, "mono", true))
	})
}
