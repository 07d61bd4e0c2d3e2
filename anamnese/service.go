package anamnese

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"harmonia_back/cache"
)

var (
	// ErrAlreadyLinked indicates the profile belongs to a different user.
	ErrAlreadyLinked = errors.New("anamnese: profile already linked")

	// ErrNotFound indicates the referenced profile does not exist.
	ErrNotFound = errors.New("anamnese: profile not found")
)

const profileCacheTTL = 10 * time.Minute

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("anamnese: database connection is required")
	}
	return &Service{db: db}, nil
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&HealthProfile{})
}

// Answer is one intake questionnaire response: a vote for an element with a
// weight.
type Answer struct {
	Question string `json:"question"`
	Element  string `json:"element"`
	Weight   int    `json:"weight"`
}

type IntakeInput struct {
	Phone   *string  `json:"phone,omitempty"`
	Answers []Answer `json:"answers"`
}

// SubmitIntake scores the answers and persists a new unlinked profile.
// Primary element is the highest total, ties broken in cycle order;
// intensity is the primary's share of all votes.
func (s *Service) SubmitIntake(ctx context.Context, input IntakeInput) (*HealthProfile, error) {
	if len(input.Answers) == 0 {
		return nil, errors.New("anamnese: answers are required")
	}

	scores := make(map[string]int, len(Elements))
	total := 0
	for _, answer := range input.Answers {
		element := Normalize(answer.Element)
		if element == "" {
			continue
		}
		weight := answer.Weight
		if weight <= 0 {
			weight = 1
		}
		scores[element] += weight
		total += weight
	}
	if total == 0 {
		return nil, errors.New("anamnese: no answer maps to a known element")
	}

	primary := ""
	best := 0
	for _, element := range Elements {
		if scores[element] > best {
			best = scores[element]
			primary = element
		}
	}

	rawAnswers, err := json.Marshal(input.Answers)
	if err != nil {
		return nil, fmt.Errorf("anamnese: encode answers: %w", err)
	}

	profile := HealthProfile{
		PrimaryElement: primary,
		Intensity:      float64(best) / float64(total),
		RawAnswers:     rawAnswers,
	}
	if input.Phone != nil {
		phone := strings.TrimSpace(*input.Phone)
		if phone != "" {
			profile.Phone = &phone
		}
	}

	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfile loads a profile, served from the Redis cache when warm.
func (s *Service) GetProfile(ctx context.Context, profileID uint64) (*HealthProfile, error) {
	var cached HealthProfile
	if cache.GetJSON(ctx, profileCacheKey(profileID), &cached) && cached.ID == profileID {
		return &cached, nil
	}

	var profile HealthProfile
	if err := s.db.WithContext(ctx).Take(&profile, profileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	cache.SetJSON(ctx, profileCacheKey(profileID), profile, profileCacheTTL)
	return &profile, nil
}

// GetProfileForUser returns the profile linked to the given user, or nil when
// none exists.
func (s *Service) GetProfileForUser(ctx context.Context, userID uint64) (*HealthProfile, error) {
	var profile HealthProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindUnlinkedByPhone supports opportunistic linking when a user signs up
// with the phone number used at intake.
func (s *Service) FindUnlinkedByPhone(ctx context.Context, phone string) (*HealthProfile, error) {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return nil, nil
	}
	var profile HealthProfile
	err := s.db.WithContext(ctx).
		Where("phone = ? AND user_id IS NULL", trimmed).
		Order("created_at DESC").
		Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// LinkToUser claims an unlinked profile for the user. The update is
// conditional on user_id still being null, so two concurrent linkers cannot
// both succeed; relinking by the same user is a no-op.
func (s *Service) LinkToUser(ctx context.Context, profileID, userID uint64) error {
	if userID == 0 {
		return errors.New("anamnese: user id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&HealthProfile{}).
		Where("id = ? AND user_id IS NULL", profileID).
		Update("user_id", userID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		cache.Invalidate(ctx, profileCacheKey(profileID))
		return nil
	}

	var existing HealthProfile
	if err := s.db.WithContext(ctx).Take(&existing, profileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if existing.UserID != nil && *existing.UserID == userID {
		return nil
	}
	return ErrAlreadyLinked
}

func profileCacheKey(profileID uint64) string {
	return fmt.Sprintf("anamnese:profile:%d", profileID)
}
