package retrieval

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"harmonia_back/anamnese"
	"harmonia_back/exercises"
	"harmonia_back/knowledge"
	"harmonia_back/products"
)

// Service orchestrates the three retrieval corpora and assembles the final
// context block. Provider failures degrade the affected section to empty and
// are recorded in the trace; retrieval itself never aborts.
type Service struct {
	db         *gorm.DB
	knowledge  *knowledge.Service
	matcher    *exercises.Matcher
	products   *products.Service
	embedder   knowledge.Embedder
	thresholds Thresholds
	limits     Limits
	boosts     knowledge.BoostConfig
}

func NewService(db *gorm.DB, ks *knowledge.Service, matcher *exercises.Matcher, ps *products.Service) (*Service, error) {
	if db == nil {
		return nil, errors.New("retrieval: database connection is required")
	}
	if ks == nil {
		return nil, errors.New("retrieval: knowledge service is required")
	}
	if matcher == nil {
		return nil, errors.New("retrieval: exercise matcher is required")
	}
	return &Service{
		db:         db,
		knowledge:  ks,
		matcher:    matcher,
		products:   ps,
		embedder:   ks.Embedder(),
		thresholds: ThresholdsFromEnv(),
		limits:     LimitsFromEnv(),
		boosts:     knowledge.BoostsFromEnv(),
	}, nil
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&ConversationExample{})
}

// Input is one retrieval request. Profile is optional; History carries the
// most recent conversation turns, oldest first.
type Input struct {
	PersonaID uint64
	UserID    uint64
	Message   string
	Profile   *anamnese.HealthProfile
	History   []string
}

// ExampleMatch pairs a curated example with its similarity to the query.
type ExampleMatch struct {
	Example    ConversationExample
	Similarity float64
}

// DebugTrace reports how each section was produced. It is always populated,
// even when every section came back empty.
type DebugTrace struct {
	Method        string                `json:"method"`
	Symptoms      []string              `json:"symptoms,omitempty"`
	Steps         []exercises.TraceStep `json:"steps"`
	KnowledgeHits int                   `json:"knowledge_hits"`
	ExampleHits   int                   `json:"example_hits"`
	Thresholds    Thresholds            `json:"thresholds"`
	Errors        []string              `json:"errors,omitempty"`
	ElapsedMS     int64                 `json:"elapsed_ms"`
}

// Result is the assembled retrieval context for one user message.
type Result struct {
	KnowledgeBlock string     `json:"knowledge_block"`
	ExamplesBlock  string     `json:"examples_block"`
	ExercisesBlock string     `json:"exercises_block"`
	DebugTrace     DebugTrace `json:"debug_trace"`
}

// RetrieveContext runs knowledge search, example search and the exercise
// fallback chain for one message and assembles the deterministic context
// block consumed by the chat orchestrator.
func (s *Service) RetrieveContext(ctx context.Context, input Input) (*Result, error) {
	if input.PersonaID == 0 {
		return nil, errors.New("retrieval: persona id is required")
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, errors.New("retrieval: message is required")
	}

	started := time.Now()
	trace := DebugTrace{Method: exercises.MethodNone, Thresholds: s.thresholds}
	query := buildQuery(message, input.History, s.limits.HistoryTail)

	knowledgeMatches := s.searchKnowledge(ctx, input, query, &trace)
	exampleMatches := s.searchExamples(ctx, input.PersonaID, query, &trace)

	matchResult, steps := s.matcher.Match(ctx, exercises.MatchContext{
		Message: message,
		Profile: input.Profile,
	})
	trace.Method = matchResult.Method
	trace.Symptoms = matchResult.Symptoms
	trace.Steps = steps

	ctas := s.resolveCTAs(ctx, input.UserID, matchResult.Exercises, &trace)

	trace.KnowledgeHits = len(knowledgeMatches)
	trace.ExampleHits = len(exampleMatches)
	trace.ElapsedMS = time.Since(started).Milliseconds()

	return &Result{
		KnowledgeBlock: assembleKnowledge(knowledgeMatches),
		ExamplesBlock:  assembleExamples(exampleMatches),
		ExercisesBlock: assembleExercises(matchResult.Exercises, ctas),
		DebugTrace:     trace,
	}, nil
}

func (s *Service) searchKnowledge(ctx context.Context, input Input, query string, trace *DebugTrace) []knowledge.ChunkMatch {
	opts := knowledge.RankOptions{
		Threshold: s.thresholds.Knowledge,
		TopK:      s.limits.Knowledge,
		Boosts:    s.boosts,
	}
	if input.Profile != nil {
		opts.PrimaryElement = input.Profile.PrimaryElement
		opts.SecondaryElement = input.Profile.SecondaryElement()
	}

	matches, err := s.knowledge.Search(ctx, input.PersonaID, query, opts)
	if err != nil {
		log.Printf("retrieval: knowledge search failed: %v", err)
		trace.Errors = append(trace.Errors, "knowledge: "+err.Error())
		return nil
	}
	return matches
}

func (s *Service) searchExamples(ctx context.Context, personaID uint64, query string, trace *DebugTrace) []ExampleMatch {
	matches, err := s.queryExamples(ctx, personaID, query)
	if err != nil {
		log.Printf("retrieval: example search failed: %v", err)
		trace.Errors = append(trace.Errors, "examples: "+err.Error())
		return nil
	}
	return matches
}

func (s *Service) queryExamples(ctx context.Context, personaID uint64, query string) ([]ExampleMatch, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVector := vectors[0]

	var candidates []ConversationExample
	if err := s.db.WithContext(ctx).
		Where("persona_id = ? AND active = ? AND embedding_model = ?", personaID, true, s.embedder.Model()).
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	byID := make(map[uint64]ConversationExample, len(candidates))
	scored := make([]knowledge.Candidate, 0, len(candidates))
	for _, example := range candidates {
		byID[example.ID] = example
		scored = append(scored, knowledge.Candidate{
			ID:         example.ID,
			Similarity: knowledge.CosineSimilarity(queryVector, example.Embedding.Slice()),
		})
	}

	ranked := knowledge.Rank(scored, knowledge.RankOptions{
		Threshold: s.thresholds.Examples,
		TopK:      s.limits.Examples,
	})
	matches := make([]ExampleMatch, 0, len(ranked))
	for _, item := range ranked {
		matches = append(matches, ExampleMatch{Example: byID[item.ID], Similarity: item.Similarity})
	}
	return matches, nil
}

func (s *Service) resolveCTAs(ctx context.Context, userID uint64, matched []exercises.Exercise, trace *DebugTrace) map[uint64]products.CTA {
	if s.products == nil || len(matched) == 0 {
		return nil
	}
	var courseIDs []uint64
	for _, exercise := range matched {
		if exercise.CourseID != nil && *exercise.CourseID != 0 {
			courseIDs = append(courseIDs, *exercise.CourseID)
		}
	}
	if len(courseIDs) == 0 {
		return nil
	}

	ctas, err := s.products.ResolveCTAs(ctx, userID, courseIDs)
	if err != nil {
		log.Printf("retrieval: cta resolution failed: %v", err)
		trace.Errors = append(trace.Errors, "products: "+err.Error())
		return nil
	}
	byCourse := make(map[uint64]products.CTA, len(ctas))
	for _, cta := range ctas {
		byCourse[cta.CourseID] = cta
	}
	return byCourse
}

// buildQuery joins the trailing history entries with the current message so
// short follow-ups ("e para dormir?") keep their conversational anchor.
func buildQuery(message string, history []string, tail int) string {
	if tail <= 0 || len(history) == 0 {
		return message
	}
	start := len(history) - tail
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, tail+1)
	for _, entry := range history[start:] {
		trimmed := strings.TrimSpace(entry)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	parts = append(parts, message)
	return strings.Join(parts, "\n")
}

// ExampleInput creates or refreshes one curated example.
type ExampleInput struct {
	UserMessage    string   `json:"user_message"`
	AssistantReply string   `json:"assistant_reply"`
	Category       string   `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	OrderIndex     int      `json:"order_index"`
}

// CreateExample embeds the user-message side and stores the pair.
func (s *Service) CreateExample(ctx context.Context, personaID uint64, input ExampleInput) (*ConversationExample, error) {
	userMessage := strings.TrimSpace(input.UserMessage)
	reply := strings.TrimSpace(input.AssistantReply)
	if personaID == 0 || userMessage == "" || reply == "" {
		return nil, errors.New("retrieval: persona id, user message and reply are required")
	}
	if s.embedder == nil {
		return nil, errors.New("retrieval: embedder is required to store examples")
	}

	vectors, err := s.embedder.Embed(ctx, []string{userMessage})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("retrieval: empty embedding response")
	}

	example := &ConversationExample{
		PersonaID:      personaID,
		UserMessage:    userMessage,
		AssistantReply: reply,
		Tags:           exercises.ListToJSON(input.Tags),
		Embedding:      pgvector.NewVector(vectors[0]),
		EmbeddingModel: s.embedder.Model(),
		OrderIndex:     input.OrderIndex,
		Active:         true,
	}
	if category := strings.TrimSpace(input.Category); category != "" {
		example.Category = &category
	}
	if err := s.db.WithContext(ctx).Create(example).Error; err != nil {
		return nil, err
	}
	return example, nil
}

// ListExamples returns every example for the persona, active or not.
func (s *Service) ListExamples(ctx context.Context, personaID uint64) ([]ConversationExample, error) {
	var items []ConversationExample
	err := s.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Order("order_index ASC, id ASC").
		Find(&items).Error
	return items, err
}

// DeleteExample removes one example by id.
func (s *Service) DeleteExample(ctx context.Context, id uint64) error {
	result := s.db.WithContext(ctx).Delete(&ConversationExample{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
