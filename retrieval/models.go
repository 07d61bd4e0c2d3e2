package retrieval

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// ConversationExample is a curated question/answer pair used to steer the
// persona's tone. The user message is the embedded side; the answer is
// returned verbatim in the assembled context.
type ConversationExample struct {
	ID             uint64          `gorm:"primaryKey" json:"id"`
	PersonaID      uint64          `gorm:"not null;index" json:"persona_id"`
	UserMessage    string          `gorm:"type:text;not null" json:"user_message"`
	AssistantReply string          `gorm:"type:text;not null" json:"assistant_reply"`
	Category       *string         `gorm:"size:100" json:"category,omitempty"`
	Tags           datatypes.JSON  `gorm:"type:json" json:"tags,omitempty"`
	Embedding      pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	EmbeddingModel string          `gorm:"size:100" json:"embedding_model,omitempty"`
	OrderIndex     int             `gorm:"not null;default:0;index" json:"order_index"`
	Active         bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (ConversationExample) TableName() string {
	return "persona_conversation_examples"
}
