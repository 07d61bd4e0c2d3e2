package personas

import (
	"time"

	"gorm.io/datatypes"
)

// Persona is the AI character whose answers the retrieval corpus
// personalizes. Knowledge documents, conversation examples and exercises all
// hang off a persona id.
type Persona struct {
	ID           uint64         `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"size:100;not null" json:"name"`
	Slug         string         `gorm:"size:100;not null;uniqueIndex" json:"slug"`
	ShortIntro   *string        `gorm:"size:255" json:"short_intro,omitempty"`
	Description  *string        `gorm:"type:text" json:"description,omitempty"`
	OpeningLine  *string        `gorm:"type:text" json:"opening_line,omitempty"`
	SystemPrompt *string        `gorm:"type:text" json:"system_prompt,omitempty"`
	AvatarURL    *string        `gorm:"size:500" json:"avatar_url,omitempty"`
	LangDefault  string         `gorm:"size:10;not null;default:'pt-BR'" json:"lang_default"`
	Tags         datatypes.JSON `gorm:"type:json" json:"tags,omitempty"`
	Active       bool           `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Persona) TableName() string {
	return "personas"
}
