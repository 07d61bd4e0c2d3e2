package retrieval

import (
	"fmt"
	"strings"

	"harmonia_back/exercises"
	"harmonia_back/knowledge"
	"harmonia_back/products"
)

// The assembled block is consumed verbatim by the chat orchestrator, so the
// format is a contract: fixed delimiters, stable ordering, nothing invented.
// Optional fields are omitted, never placeholded.

const (
	knowledgeHeader = "=== CONHECIMENTO ==="
	examplesHeader  = "=== EXEMPLOS DE CONVERSA ==="
	exercisesHeader = "=== EXERCÍCIOS ==="
)

func assembleKnowledge(matches []knowledge.ChunkMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(knowledgeHeader)
	for i, match := range matches {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("[%d]%s", i+1, matchAnnotation(match)))
		if title := strings.TrimSpace(match.DocumentTitle); title != "" {
			b.WriteString(" ")
			b.WriteString(title)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(match.Chunk.Content))
	}
	return b.String()
}

func matchAnnotation(match knowledge.ChunkMatch) string {
	annotation := fmt.Sprintf(" (%.0f%%", match.Similarity*100)
	switch {
	case match.PrimaryMatch:
		annotation += ", elemento primário"
	case match.SecondaryMatch:
		annotation += ", elemento secundário"
	}
	return annotation + ")"
}

func assembleExamples(matches []ExampleMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(examplesHeader)
	for _, match := range matches {
		b.WriteString("\nUsuário: ")
		b.WriteString(strings.TrimSpace(match.Example.UserMessage))
		b.WriteString("\nResposta: ")
		b.WriteString(strings.TrimSpace(match.Example.AssistantReply))
	}
	return b.String()
}

func assembleExercises(matched []exercises.Exercise, ctas map[uint64]products.CTA) string {
	if len(matched) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(exercisesHeader)
	for _, exercise := range matched {
		b.WriteString("\n- ")
		b.WriteString(exercise.Title)
		if detail := exerciseDetail(exercise); detail != "" {
			b.WriteString(" (")
			b.WriteString(detail)
			b.WriteString(")")
		}
		if description := strings.TrimSpace(exercise.Description); description != "" {
			b.WriteString("\n  ")
			b.WriteString(description)
		}
		if url := strings.TrimSpace(exercise.URL); url != "" {
			b.WriteString("\n  Link: ")
			b.WriteString(url)
		}
		if exercise.CourseID != nil {
			if cta, ok := ctas[*exercise.CourseID]; ok {
				b.WriteString("\n  ")
				b.WriteString(cta.Message)
			}
		}
	}
	return b.String()
}

func exerciseDetail(exercise exercises.Exercise) string {
	var parts []string
	if element := strings.TrimSpace(exercise.Element); element != "" {
		parts = append(parts, element)
	}
	if exercise.DurationMinutes > 0 {
		parts = append(parts, fmt.Sprintf("%d min", exercise.DurationMinutes))
	}
	return strings.Join(parts, ", ")
}
