package anamnese

import (
	"time"

	"gorm.io/datatypes"
)

// HealthProfile is one intake-questionnaire result. UserID stays null until
// the profile is claimed by an authenticated user; the link happens at most
// once, through a conditional update.
type HealthProfile struct {
	ID             uint64         `gorm:"primaryKey" json:"id"`
	UserID         *uint64        `gorm:"index" json:"user_id,omitempty"`
	Phone          *string        `gorm:"size:32;index" json:"phone,omitempty"`
	PrimaryElement string         `gorm:"size:16;not null" json:"primary_element"`
	Intensity      float64        `gorm:"not null;default:0" json:"intensity"`
	RawAnswers     datatypes.JSON `gorm:"type:json" json:"raw_answers,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (HealthProfile) TableName() string {
	return "health_profiles"
}

// SecondaryElement derives the related element from the stored primary.
func (p HealthProfile) SecondaryElement() string {
	return SecondaryOf(p.PrimaryElement)
}
