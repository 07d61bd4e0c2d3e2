package knowledge

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// BoostConfig names the additive boosts applied when a candidate's element
// matches the user's health profile. Boosts re-rank, they never filter: a
// sufficiently similar off-element item still wins.
type BoostConfig struct {
	Primary   float64
	Secondary float64
}

// DefaultBoosts mirror the intake tuning: a primary-element match is worth a
// tenth of the similarity scale, a secondary (generated) element half that.
var DefaultBoosts = BoostConfig{Primary: 0.10, Secondary: 0.05}

// BoostsFromEnv returns DefaultBoosts overridden by RANKER_PRIMARY_BOOST and
// RANKER_SECONDARY_BOOST when set.
func BoostsFromEnv() BoostConfig {
	boosts := DefaultBoosts
	if raw := strings.TrimSpace(os.Getenv("RANKER_PRIMARY_BOOST")); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed >= 0 {
			boosts.Primary = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("RANKER_SECONDARY_BOOST")); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed >= 0 {
			boosts.Secondary = parsed
		}
	}
	return boosts
}

// Candidate is one similarity-scored item entering the ranker.
type Candidate struct {
	ID         uint64
	Element    string
	Similarity float64
}

// Ranked is a candidate after threshold filtering and element boosting.
type Ranked struct {
	Candidate
	Score          float64
	PrimaryMatch   bool
	SecondaryMatch bool
}

// RankOptions control one ranking pass. Empty PrimaryElement disables
// boosting (generic mode).
type RankOptions struct {
	Threshold        float64
	TopK             int
	PrimaryElement   string
	SecondaryElement string
	Boosts           BoostConfig
}

// Rank drops candidates below threshold, applies element boosts, and returns
// the topK ordered by boosted score. Ties break on ascending id so identical
// inputs always produce identical ordering.
func Rank(candidates []Candidate, opts RankOptions) []Ranked {
	primary := strings.ToLower(strings.TrimSpace(opts.PrimaryElement))
	secondary := strings.ToLower(strings.TrimSpace(opts.SecondaryElement))

	ranked := make([]Ranked, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Similarity < opts.Threshold {
			continue
		}
		item := Ranked{Candidate: candidate, Score: candidate.Similarity}
		element := strings.ToLower(strings.TrimSpace(candidate.Element))
		if primary != "" && element != "" {
			switch element {
			case primary:
				item.PrimaryMatch = true
				item.Score += opts.Boosts.Primary
			case secondary:
				item.SecondaryMatch = true
				item.Score += opts.Boosts.Secondary
			}
		}
		ranked = append(ranked, item)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})

	if opts.TopK > 0 && len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}
	return ranked
}
