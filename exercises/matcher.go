package exercises

import (
	"context"
	"log"
	"sort"
	"strings"

	"gorm.io/gorm"

	"harmonia_back/anamnese"
	"harmonia_back/knowledge"
)

// Match method identifiers, recorded in the debug trace.
const (
	MethodSymptom  = "symptom"
	MethodGeneric  = "generic_request"
	MethodSemantic = "semantic"
	MethodElement  = "element_fallback"
	MethodNone     = "none"
)

// MatchContext carries the user message and optional health profile into the
// fallback chain.
type MatchContext struct {
	Message string
	Profile *anamnese.HealthProfile
}

// MatchResult is the outcome of one strategy (and of the whole chain).
type MatchResult struct {
	Method    string
	Exercises []Exercise
	Symptoms  []string
	Scores    map[uint64]float64
}

// TraceStep records one executed strategy for the admin debug view.
type TraceStep struct {
	Strategy string             `json:"strategy"`
	Results  int                `json:"results"`
	Error    string             `json:"error,omitempty"`
	Scores   map[uint64]float64 `json:"scores,omitempty"`
}

type strategy interface {
	name() string
	tryMatch(ctx context.Context, mc MatchContext) (*MatchResult, error)
}

// Matcher runs the strategies in strict priority order; the first non-empty
// result is used exclusively. A strategy's internal failure degrades it to
// "no results" so the chain always completes.
type Matcher struct {
	strategies []strategy
}

type MatcherConfig struct {
	// SemanticThreshold is deliberately lower than the knowledge threshold:
	// the exercise corpus is smaller and noisier.
	SemanticThreshold float64
	TopK              int
	IntroLimit        int
	ElementLimit      int
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{SemanticThreshold: 0.5, TopK: 5, IntroLimit: 3, ElementLimit: 5}
}

func NewMatcher(db *gorm.DB, embedder knowledge.Embedder, cfg MatcherConfig) *Matcher {
	if cfg.TopK <= 0 {
		cfg = DefaultMatcherConfig()
	}
	return &Matcher{
		strategies: []strategy{
			&symptomStrategy{db: db, topK: cfg.TopK},
			&genericStrategy{db: db, limit: cfg.IntroLimit},
			&semanticStrategy{db: db, embedder: embedder, threshold: cfg.SemanticThreshold, topK: cfg.TopK},
			&elementStrategy{db: db, limit: cfg.ElementLimit},
		},
	}
}

// Match executes the chain and returns the winning result plus the trace of
// every strategy that ran. An empty final result is valid, not an error.
func (m *Matcher) Match(ctx context.Context, mc MatchContext) (MatchResult, []TraceStep) {
	trace := make([]TraceStep, 0, len(m.strategies))
	for _, s := range m.strategies {
		result, err := s.tryMatch(ctx, mc)
		step := TraceStep{Strategy: s.name()}
		if err != nil {
			log.Printf("exercises: strategy %s failed: %v", s.name(), err)
			step.Error = err.Error()
			trace = append(trace, step)
			continue
		}
		if result != nil {
			step.Results = len(result.Exercises)
			step.Scores = result.Scores
		}
		trace = append(trace, step)
		if result != nil && len(result.Exercises) > 0 {
			return *result, trace
		}
	}
	return MatchResult{Method: MethodNone}, trace
}

type symptomStrategy struct {
	db   *gorm.DB
	topK int
}

func (s *symptomStrategy) name() string { return MethodSymptom }

func (s *symptomStrategy) tryMatch(ctx context.Context, mc MatchContext) (*MatchResult, error) {
	tags := ExtractSymptoms(mc.Message)
	if len(tags) == 0 {
		return nil, nil
	}

	var candidates []Exercise
	if err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("display_order ASC, id ASC").
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	tagSet := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tagSet[tag] = struct{}{}
	}

	type scored struct {
		exercise Exercise
		matched  int
	}
	var hits []scored
	for _, exercise := range candidates {
		matched := 0
		for _, indication := range exercise.IndicationTags() {
			if _, ok := tagSet[strings.ToLower(strings.TrimSpace(indication))]; ok {
				matched++
			}
		}
		if matched > 0 {
			hits = append(hits, scored{exercise: exercise, matched: matched})
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].matched != hits[j].matched {
			return hits[i].matched > hits[j].matched
		}
		if hits[i].exercise.DisplayOrder != hits[j].exercise.DisplayOrder {
			return hits[i].exercise.DisplayOrder < hits[j].exercise.DisplayOrder
		}
		return hits[i].exercise.ID < hits[j].exercise.ID
	})
	if s.topK > 0 && len(hits) > s.topK {
		hits = hits[:s.topK]
	}

	result := &MatchResult{Method: MethodSymptom, Symptoms: tags}
	for _, hit := range hits {
		result.Exercises = append(result.Exercises, hit.exercise)
	}
	return result, nil
}

type genericStrategy struct {
	db    *gorm.DB
	limit int
}

func (s *genericStrategy) name() string { return MethodGeneric }

func (s *genericStrategy) tryMatch(ctx context.Context, mc MatchContext) (*MatchResult, error) {
	if !WantsPractice(mc.Message) {
		return nil, nil
	}

	var intro []Exercise
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND level = ?", true, "beginner").
		Order("display_order ASC, id ASC").
		Limit(s.limit).
		Find(&intro).Error; err != nil {
		return nil, err
	}
	if len(intro) == 0 {
		return nil, nil
	}
	return &MatchResult{Method: MethodGeneric, Exercises: intro}, nil
}

type semanticStrategy struct {
	db        *gorm.DB
	embedder  knowledge.Embedder
	threshold float64
	topK      int
}

func (s *semanticStrategy) name() string { return MethodSemantic }

func (s *semanticStrategy) tryMatch(ctx context.Context, mc MatchContext) (*MatchResult, error) {
	if s.embedder == nil || strings.TrimSpace(mc.Message) == "" {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{mc.Message})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVector := vectors[0]

	var candidates []Exercise
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND embedding_model = ?", true, s.embedder.Model()).
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	byID := make(map[uint64]Exercise, len(candidates))
	scored := make([]knowledge.Candidate, 0, len(candidates))
	for _, exercise := range candidates {
		byID[exercise.ID] = exercise
		scored = append(scored, knowledge.Candidate{
			ID:         exercise.ID,
			Similarity: knowledge.CosineSimilarity(queryVector, exercise.Embedding.Slice()),
		})
	}

	ranked := knowledge.Rank(scored, knowledge.RankOptions{Threshold: s.threshold, TopK: s.topK})
	if len(ranked) == 0 {
		return nil, nil
	}

	result := &MatchResult{Method: MethodSemantic, Scores: make(map[uint64]float64, len(ranked))}
	for _, item := range ranked {
		result.Exercises = append(result.Exercises, byID[item.ID])
		result.Scores[item.ID] = item.Similarity
	}
	return result, nil
}

type elementStrategy struct {
	db    *gorm.DB
	limit int
}

func (s *elementStrategy) name() string { return MethodElement }

func (s *elementStrategy) tryMatch(ctx context.Context, mc MatchContext) (*MatchResult, error) {
	if mc.Profile == nil {
		return nil, nil
	}
	element := anamnese.Normalize(mc.Profile.PrimaryElement)
	if element == "" {
		return nil, nil
	}

	var matches []Exercise
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND element = ?", true, element).
		Order("display_order ASC, id ASC").
		Limit(s.limit).
		Find(&matches).Error; err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &MatchResult{Method: MethodElement, Exercises: matches}, nil
}
