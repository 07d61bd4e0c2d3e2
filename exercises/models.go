package exercises

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Exercise is one guided-practice item from the catalog.
type Exercise struct {
	ID                uint64          `gorm:"primaryKey" json:"id"`
	Title             string          `gorm:"size:200;not null" json:"title"`
	Description       string          `gorm:"type:text;not null" json:"description"`
	Element           string          `gorm:"size:16;not null;index" json:"element"`
	Level             string          `gorm:"size:32;not null;default:'beginner'" json:"level"`
	DurationMinutes   int             `gorm:"not null;default:0" json:"duration_minutes"`
	Organs            datatypes.JSON  `gorm:"type:json" json:"organs,omitempty"`
	Benefits          datatypes.JSON  `gorm:"type:json" json:"benefits,omitempty"`
	Indications       datatypes.JSON  `gorm:"type:json" json:"indications,omitempty"`
	Contraindications datatypes.JSON  `gorm:"type:json" json:"contraindications,omitempty"`
	Embedding         pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	EmbeddingModel    string          `gorm:"size:100" json:"embedding_model,omitempty"`
	Enabled           bool            `gorm:"not null;default:true" json:"enabled"`
	CourseID          *uint64         `gorm:"index" json:"course_id,omitempty"`
	URL               string          `gorm:"size:500" json:"url,omitempty"`
	DisplayOrder      int             `gorm:"not null;default:0;index" json:"display_order"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Exercise) TableName() string {
	return "exercises"
}

// RichText is the fixed embedding-input contract: title, description,
// benefits, indications and organs joined in this order. Re-embedding after a
// metadata edit with identical field values is therefore idempotent.
func (e Exercise) RichText() string {
	parts := []string{e.Title, e.Description}
	if benefits := joinList(e.Benefits); benefits != "" {
		parts = append(parts, "Benefícios: "+benefits)
	}
	if indications := joinList(e.Indications); indications != "" {
		parts = append(parts, "Indicações: "+indications)
	}
	if organs := joinList(e.Organs); organs != "" {
		parts = append(parts, "Órgãos: "+organs)
	}
	return strings.Join(parts, "\n")
}

// IndicationTags returns the canonical symptom tags this exercise addresses.
func (e Exercise) IndicationTags() []string {
	return parseList(e.Indications)
}

func joinList(raw datatypes.JSON) string {
	return strings.Join(parseList(raw), ", ")
}

func parseList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ListToJSON encodes a string list for the JSON columns above.
func ListToJSON(values []string) datatypes.JSON {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return datatypes.JSON([]byte("[]"))
	}
	raw, err := json.Marshal(cleaned)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}
