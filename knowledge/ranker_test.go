package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankDropsBelowThreshold(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Similarity: 0.9},
		{ID: 2, Similarity: 0.69},
		{ID: 3, Similarity: 0.7},
	}

	ranked := Rank(candidates, RankOptions{Threshold: 0.7})

	require.Len(t, ranked, 2)
	assert.Equal(t, uint64(1), ranked[0].ID)
	assert.Equal(t, uint64(3), ranked[1].ID)
}

func TestRankBoostOutweighsSimilarityGap(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Element: "fire", Similarity: 0.65},
		{ID: 2, Similarity: 0.80},
	}
	opts := RankOptions{
		PrimaryElement: "fire",
		Boosts:         BoostConfig{Primary: 0.20},
	}

	ranked := Rank(candidates, opts)

	require.Len(t, ranked, 2)
	assert.Equal(t, uint64(1), ranked[0].ID)
	assert.True(t, ranked[0].PrimaryMatch)
	assert.InDelta(t, 0.85, ranked[0].Score, 1e-9)
}

func TestRankSimilarityGapOutweighsBoost(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Element: "fire", Similarity: 0.65},
		{ID: 2, Similarity: 0.80},
	}
	opts := RankOptions{
		PrimaryElement: "fire",
		Boosts:         BoostConfig{Primary: 0.10},
	}

	ranked := Rank(candidates, opts)

	require.Len(t, ranked, 2)
	assert.Equal(t, uint64(2), ranked[0].ID)
	assert.False(t, ranked[0].PrimaryMatch)
}

func TestRankSecondaryBoost(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Element: "earth", Similarity: 0.70},
		{ID: 2, Similarity: 0.72},
	}
	opts := RankOptions{
		PrimaryElement:   "fire",
		SecondaryElement: "earth",
		Boosts:           DefaultBoosts,
	}

	ranked := Rank(candidates, opts)

	require.Len(t, ranked, 2)
	assert.Equal(t, uint64(1), ranked[0].ID)
	assert.True(t, ranked[0].SecondaryMatch)
	assert.InDelta(t, 0.75, ranked[0].Score, 1e-9)
}

func TestRankTiesBreakOnAscendingID(t *testing.T) {
	candidates := []Candidate{
		{ID: 9, Similarity: 0.8},
		{ID: 2, Similarity: 0.8},
		{ID: 5, Similarity: 0.8},
	}

	ranked := Rank(candidates, RankOptions{})

	require.Len(t, ranked, 3)
	assert.Equal(t, uint64(2), ranked[0].ID)
	assert.Equal(t, uint64(5), ranked[1].ID)
	assert.Equal(t, uint64(9), ranked[2].ID)
}

func TestRankDeterministicAcrossRuns(t *testing.T) {
	candidates := []Candidate{
		{ID: 4, Element: "water", Similarity: 0.81},
		{ID: 1, Similarity: 0.86},
		{ID: 7, Element: "wood", Similarity: 0.79},
	}
	opts := RankOptions{
		Threshold:      0.5,
		PrimaryElement: "water",
		Boosts:         DefaultBoosts,
	}

	first := Rank(candidates, opts)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Rank(candidates, opts))
	}
}

func TestRankTopK(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Similarity: 0.9},
		{ID: 2, Similarity: 0.8},
		{ID: 3, Similarity: 0.7},
	}

	ranked := Rank(candidates, RankOptions{TopK: 2})

	require.Len(t, ranked, 2)
	assert.Equal(t, uint64(1), ranked[0].ID)
}

func TestRankWithoutProfileAppliesNoBoost(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Element: "fire", Similarity: 0.6},
	}

	ranked := Rank(candidates, RankOptions{Boosts: DefaultBoosts})

	require.Len(t, ranked, 1)
	assert.False(t, ranked[0].PrimaryMatch)
	assert.InDelta(t, 0.6, ranked[0].Score, 1e-9)
}
