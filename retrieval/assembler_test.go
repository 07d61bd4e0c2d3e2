package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmonia_back/exercises"
	"harmonia_back/knowledge"
	"harmonia_back/products"
)

func TestAssembleKnowledgeNumbersAndAnnotates(t *testing.T) {
	matches := []knowledge.ChunkMatch{
		{
			Chunk:         knowledge.Chunk{Content: "O fígado governa o fluxo do qi."},
			DocumentTitle: "Fígado e Madeira",
			Similarity:    0.873,
			PrimaryMatch:  true,
		},
		{
			Chunk:          knowledge.Chunk{Content: "O coração abriga a mente."},
			DocumentTitle:  "Coração e Fogo",
			Similarity:     0.741,
			SecondaryMatch: true,
		},
		{
			Chunk:         knowledge.Chunk{Content: "Texto sem elemento."},
			DocumentTitle: "Geral",
			Similarity:    0.702,
		},
	}

	block := assembleKnowledge(matches)

	assert.True(t, strings.HasPrefix(block, "=== CONHECIMENTO ==="))
	assert.Contains(t, block, "[1] (87%, elemento primário) Fígado e Madeira")
	assert.Contains(t, block, "[2] (74%, elemento secundário) Coração e Fogo")
	assert.Contains(t, block, "[3] (70%) Geral")
	assert.Contains(t, block, "O fígado governa o fluxo do qi.")
}

func TestAssembleKnowledgeEmpty(t *testing.T) {
	assert.Equal(t, "", assembleKnowledge(nil))
}

func TestAssembleExamples(t *testing.T) {
	matches := []ExampleMatch{
		{Example: ConversationExample{UserMessage: "como durmo melhor?", AssistantReply: "Experimente a sequência noturna."}},
	}

	block := assembleExamples(matches)

	assert.True(t, strings.HasPrefix(block, "=== EXEMPLOS DE CONVERSA ==="))
	assert.Contains(t, block, "Usuário: como durmo melhor?")
	assert.Contains(t, block, "Resposta: Experimente a sequência noturna.")
}

func TestAssembleExercisesVerbatimLinksAndCTAs(t *testing.T) {
	courseA := uint64(1)
	courseB := uint64(2)
	matched := []exercises.Exercise{
		{Title: "Respiração 4-7-8", Description: "Acalma o sistema nervoso.", Element: "metal", DurationMinutes: 5, URL: "https://app.example/ex/478", CourseID: &courseA},
		{Title: "Alongamento do fígado", Element: "wood", CourseID: &courseB},
		{Title: "Prática livre"},
	}
	ctas := map[uint64]products.CTA{
		courseA: {CourseID: courseA, CourseName: "Sono Profundo", CheckoutURL: "https://pay.example/sono", Message: "Garanta o curso Sono Profundo: https://pay.example/sono"},
	}

	block := assembleExercises(matched, ctas)

	assert.True(t, strings.HasPrefix(block, "=== EXERCÍCIOS ==="))
	assert.Contains(t, block, "- Respiração 4-7-8 (metal, 5 min)")
	assert.Contains(t, block, "Link: https://app.example/ex/478")
	assert.Contains(t, block, "Garanta o curso Sono Profundo: https://pay.example/sono")
	// Course B has no catalog entry, so no CTA may be invented for it.
	assert.Equal(t, 1, strings.Count(block, "https://pay.example"))
	// Absent optional fields are omitted, not placeholded.
	assert.True(t, strings.HasSuffix(block, "- Prática livre"))
	assert.NotContains(t, block, "Prática livre (")
}

func TestAssembleIsDeterministic(t *testing.T) {
	matches := []knowledge.ChunkMatch{
		{Chunk: knowledge.Chunk{Content: "a"}, DocumentTitle: "A", Similarity: 0.9},
		{Chunk: knowledge.Chunk{Content: "b"}, DocumentTitle: "B", Similarity: 0.8},
	}

	first := assembleKnowledge(matches)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, assembleKnowledge(matches))
	}
}
