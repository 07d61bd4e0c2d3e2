package knowledge

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type Document struct {
	ID          uint64         `gorm:"primaryKey" json:"id"`
	PersonaID   uint64         `gorm:"not null;index:idx_persona_document" json:"persona_id"`
	Title       string         `gorm:"size:200;not null" json:"title"`
	Content     string         `gorm:"type:text;not null" json:"content"`
	ContentType string         `gorm:"size:32;not null;default:'text'" json:"content_type"`
	Category    *string        `gorm:"size:100" json:"category,omitempty"`
	Priority    int            `gorm:"not null;default:0" json:"priority"`
	Tags        datatypes.JSON `gorm:"type:json" json:"tags,omitempty"`
	Metadata    datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	SourceKey   *string        `gorm:"size:255" json:"source_key,omitempty"`
	Active      bool           `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Document) TableName() string {
	return "persona_knowledge_documents"
}

type Chunk struct {
	ID             uint64          `gorm:"primaryKey" json:"id"`
	DocumentID     uint64          `gorm:"not null;index:idx_document_seq" json:"document_id"`
	PersonaID      uint64          `gorm:"not null;index" json:"persona_id"`
	Seq            int             `gorm:"not null;index:idx_document_seq" json:"seq"`
	Content        string          `gorm:"type:text;not null" json:"content"`
	Embedding      pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	EmbeddingModel string          `gorm:"size:100;not null" json:"embedding_model"`
	TokenCount     int             `gorm:"not null;default:0" json:"token_count"`
	VectorID       string          `gorm:"size:128;not null;uniqueIndex" json:"vector_id"`
	Tags           datatypes.JSON  `gorm:"type:json" json:"tags,omitempty"`
	Metadata       datatypes.JSON  `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Chunk) TableName() string {
	return "persona_knowledge_chunks"
}

// Metadata carries the whitelisted keys the ranking pipeline understands plus
// an open bucket for anything else. Known keys are validated at the ingestion
// boundary so downstream code never duck-types.
type Metadata struct {
	Element  string            `json:"element,omitempty"`
	Organs   []string          `json:"organs,omitempty"`
	Symptoms []string          `json:"symptoms,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func (m Metadata) IsZero() bool {
	return m.Element == "" && len(m.Organs) == 0 && len(m.Symptoms) == 0 && len(m.Extra) == 0
}

func (m Metadata) ToJSON() datatypes.JSON {
	raw, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}

func ParseMetadata(raw datatypes.JSON) Metadata {
	var meta Metadata
	if len(raw) == 0 {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}
	}
	meta.Element = strings.ToLower(strings.TrimSpace(meta.Element))
	return meta
}

func tagsToJSON(tags []string) datatypes.JSON {
	normalized := normalizeTags(tags)
	if len(normalized) == 0 {
		return datatypes.JSON([]byte("[]"))
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if _, exists := seen[lower]; exists {
			continue
		}
		seen[lower] = struct{}{}
		result = append(result, trimmed)
	}
	sort.Strings(result)
	return result
}

func parseTags(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return normalizeTags(tags)
}
