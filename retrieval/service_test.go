package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"harmonia_back/anamnese"
	"harmonia_back/exercises"
	"harmonia_back/knowledge"
	"harmonia_back/products"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(inputs))
	for i, input := range inputs {
		if vector, ok := s.vectors[input]; ok {
			vectors[i] = vector
		} else {
			vectors[i] = []float32{1, 0, 0}
		}
	}
	return vectors, nil
}

func (s *stubEmbedder) Model() string { return "stub-embedder-v1" }

func newTestService(t *testing.T, embedder knowledge.Embedder) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&knowledge.Document{}, &knowledge.Chunk{},
		&exercises.Exercise{}, &products.UserCourse{}, &ConversationExample{},
	))

	knowledgeService, err := knowledge.NewService(db, embedder)
	require.NoError(t, err)
	productService, err := products.NewService(db)
	require.NoError(t, err)
	matcher := exercises.NewMatcher(db, embedder, MatcherConfigFromEnv())

	service, err := NewService(db, knowledgeService, matcher, productService)
	require.NoError(t, err)
	return service, db
}

func TestRetrieveContextEmptyCorpus(t *testing.T) {
	service, _ := newTestService(t, &stubEmbedder{})

	result, err := service.RetrieveContext(context.Background(), Input{PersonaID: 1, Message: "oi"})

	require.NoError(t, err)
	assert.Empty(t, result.KnowledgeBlock)
	assert.Empty(t, result.ExamplesBlock)
	assert.Empty(t, result.ExercisesBlock)
	assert.Equal(t, "none", result.DebugTrace.Method)
	assert.Len(t, result.DebugTrace.Steps, 4)
	assert.Equal(t, DefaultThresholds(), result.DebugTrace.Thresholds)
}

func TestRetrieveContextPopulatesSections(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"tenho muita ansiedade e não durmo": {1, 0, 0},
		"O fogo acalma quando equilibrado.": {0.95, 0.05, 0},
		"como lidar com ansiedade?":         {0.9, 0.1, 0},
	}}
	service, db := newTestService(t, embedder)
	ctx := context.Background()

	knowledgeService, err := knowledge.NewService(db, embedder)
	require.NoError(t, err)
	_, err = knowledgeService.CreateDocument(ctx, 1, knowledge.DocumentInput{
		Title:   "Fogo equilibrado",
		Content: "O fogo acalma quando equilibrado.",
	})
	require.NoError(t, err)

	course := uint64(2)
	require.NoError(t, db.Create(&exercises.Exercise{
		Title:       "Sequência do sono",
		Description: "Sequência noturna para dormir melhor.",
		Element:     "water",
		Level:       "beginner",
		Enabled:     true,
		URL:         "https://app.example/ex/sono",
		CourseID:    &course,
		Indications: exercises.ListToJSON([]string{"insomnia", "anxiety"}),
	}).Error)

	require.NoError(t, db.Create(&ConversationExample{
		PersonaID:      1,
		UserMessage:    "como lidar com ansiedade?",
		AssistantReply: "Respire fundo e pratique a sequência da água.",
		Embedding:      pgvector.NewVector([]float32{0.9, 0.1, 0}),
		EmbeddingModel: "stub-embedder-v1",
		Active:         true,
	}).Error)

	result, err := service.RetrieveContext(ctx, Input{
		PersonaID: 1,
		Message:   "tenho muita ansiedade e não durmo",
	})

	require.NoError(t, err)
	assert.Contains(t, result.KnowledgeBlock, "Fogo equilibrado")
	assert.Contains(t, result.ExamplesBlock, "como lidar com ansiedade?")
	assert.Contains(t, result.ExercisesBlock, "Sequência do sono")
	assert.Contains(t, result.ExercisesBlock, "https://app.example/ex/sono")
	// Course 2 is in the default catalog and unowned, so its CTA appears.
	assert.Contains(t, result.ExercisesBlock, "Sono Profundo")

	assert.Equal(t, "symptom", result.DebugTrace.Method)
	assert.Equal(t, []string{"anxiety", "insomnia"}, result.DebugTrace.Symptoms)
	assert.Equal(t, 1, result.DebugTrace.KnowledgeHits)
	assert.Equal(t, 1, result.DebugTrace.ExampleHits)
	assert.Empty(t, result.DebugTrace.Errors)
}

func TestRetrieveContextProviderFailureDegrades(t *testing.T) {
	service, db := newTestService(t, &stubEmbedder{err: errors.New("provider fora do ar")})

	require.NoError(t, db.Create(&exercises.Exercise{
		Title:   "Prática da madeira",
		Element: "wood",
		Level:   "beginner",
		Enabled: true,
	}).Error)

	profile := &anamnese.HealthProfile{PrimaryElement: "wood"}
	result, err := service.RetrieveContext(context.Background(), Input{
		PersonaID: 1,
		Message:   "mensagem sem sintomas reconhecidos",
		Profile:   profile,
	})

	require.NoError(t, err, "provider failure must degrade sections, not abort retrieval")
	assert.Empty(t, result.KnowledgeBlock)
	assert.Empty(t, result.ExamplesBlock)
	assert.Contains(t, result.ExercisesBlock, "Prática da madeira")
	assert.Equal(t, "element_fallback", result.DebugTrace.Method)
	assert.NotEmpty(t, result.DebugTrace.Errors)
}

func TestExercisesThresholdOverrideChangesMatching(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"me fala sobre equilíbrio": {1, 0, 0},
	}}
	service, db := newTestService(t, embedder)

	// Cosine 0.8 against the query vector: above the default exercise
	// threshold, below a strict override.
	require.NoError(t, db.Create(&exercises.Exercise{
		Title:          "Postura da árvore",
		Description:    "Enraizamento em pé.",
		Element:        "wood",
		Level:          "beginner",
		Enabled:        true,
		Embedding:      pgvector.NewVector([]float32{0.8, 0.6, 0}),
		EmbeddingModel: "stub-embedder-v1",
	}).Error)

	input := Input{PersonaID: 1, Message: "me fala sobre equilíbrio"}
	result, err := service.RetrieveContext(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "semantic", result.DebugTrace.Method)
	assert.Contains(t, result.ExercisesBlock, "Postura da árvore")

	t.Setenv("RETRIEVAL_EXERCISES_THRESHOLD", "0.9")
	strict, _ := newTestService(t, embedder)
	result, err = strict.RetrieveContext(context.Background(), input)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, result.DebugTrace.Thresholds.Exercises, 1e-9)
	assert.Equal(t, "none", result.DebugTrace.Method)
	assert.Empty(t, result.ExercisesBlock)
}

func TestRetrieveContextValidation(t *testing.T) {
	service, _ := newTestService(t, &stubEmbedder{})

	_, err := service.RetrieveContext(context.Background(), Input{PersonaID: 0, Message: "oi"})
	assert.Error(t, err)

	_, err = service.RetrieveContext(context.Background(), Input{PersonaID: 1, Message: "   "})
	assert.Error(t, err)
}

func TestBuildQueryJoinsHistoryTail(t *testing.T) {
	query := buildQuery("e para dormir?", []string{"primeira", "segunda", "terceira"}, 2)
	assert.Equal(t, "segunda\nterceira\ne para dormir?", query)

	assert.Equal(t, "oi", buildQuery("oi", nil, 2))
	assert.Equal(t, "oi", buildQuery("oi", []string{"hist"}, 0))
}

func TestCreateExampleEmbedsUserMessage(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"pergunta": {0, 1, 0}}}
	service, db := newTestService(t, embedder)

	example, err := service.CreateExample(context.Background(), 1, ExampleInput{
		UserMessage:    "pergunta",
		AssistantReply: "resposta",
		Category:       " acolhimento ",
		Tags:           []string{"sono", "ansiedade"},
	})

	require.NoError(t, err)
	assert.Equal(t, "stub-embedder-v1", example.EmbeddingModel)
	assert.True(t, example.Active)
	require.NotNil(t, example.Category)
	assert.Equal(t, "acolhimento", *example.Category)

	var stored ConversationExample
	require.NoError(t, db.Take(&stored, example.ID).Error)
	assert.Equal(t, []float32{0, 1, 0}, stored.Embedding.Slice())
	assert.JSONEq(t, `["sono","ansiedade"]`, string(stored.Tags))

	_, err = service.CreateExample(context.Background(), 1, ExampleInput{UserMessage: " ", AssistantReply: "x"})
	assert.Error(t, err)
}
