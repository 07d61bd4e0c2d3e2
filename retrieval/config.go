package retrieval

import (
	"os"
	"strconv"
	"strings"

	"harmonia_back/exercises"
)

// Thresholds is the per-corpus similarity floor. The three corpora differ in
// size and noise, so each gets its own named value instead of a shared magic
// number scattered across call sites.
type Thresholds struct {
	Knowledge float64
	Examples  float64
	Exercises float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Knowledge: 0.7,
		Examples:  0.6,
		Exercises: exercises.DefaultMatcherConfig().SemanticThreshold,
	}
}

// ThresholdsFromEnv applies RETRIEVAL_*_THRESHOLD overrides on top of the
// defaults. Values outside (0, 1] are ignored.
func ThresholdsFromEnv() Thresholds {
	t := DefaultThresholds()
	t.Knowledge = envThreshold("RETRIEVAL_KNOWLEDGE_THRESHOLD", t.Knowledge)
	t.Examples = envThreshold("RETRIEVAL_EXAMPLES_THRESHOLD", t.Examples)
	t.Exercises = envThreshold("RETRIEVAL_EXERCISES_THRESHOLD", t.Exercises)
	return t
}

// MatcherConfigFromEnv builds the exercise matcher configuration from the
// same named values the retrieval service ranks with and reports in its
// debug trace, so an env override changes matching and the trace together.
func MatcherConfigFromEnv() exercises.MatcherConfig {
	cfg := exercises.DefaultMatcherConfig()
	cfg.SemanticThreshold = ThresholdsFromEnv().Exercises
	cfg.TopK = LimitsFromEnv().Exercises
	return cfg
}

// Limits caps how many items of each kind enter the assembled block.
type Limits struct {
	Knowledge int
	Examples  int
	Exercises int
	// HistoryTail is how many trailing history entries join the user
	// message when building the retrieval query.
	HistoryTail int
}

func DefaultLimits() Limits {
	return Limits{Knowledge: 5, Examples: 3, Exercises: 5, HistoryTail: 2}
}

func LimitsFromEnv() Limits {
	l := DefaultLimits()
	l.Knowledge = envLimit("RETRIEVAL_KNOWLEDGE_TOP_K", l.Knowledge)
	l.Examples = envLimit("RETRIEVAL_EXAMPLES_TOP_K", l.Examples)
	l.Exercises = envLimit("RETRIEVAL_EXERCISES_TOP_K", l.Exercises)
	return l
}

func envThreshold(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

func envLimit(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
