package exercises

import (
	"context"
	"errors"
	"log"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"harmonia_back/anamnese"
	"harmonia_back/knowledge"
)

type Service struct {
	db       *gorm.DB
	embedder knowledge.Embedder
}

func NewService(db *gorm.DB, embedder knowledge.Embedder) (*Service, error) {
	if db == nil {
		return nil, errors.New("exercises: database connection is required")
	}
	return &Service{db: db, embedder: embedder}, nil
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&Exercise{})
}

func (s *Service) ListEnabled(ctx context.Context) ([]Exercise, error) {
	var items []Exercise
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("display_order ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (s *Service) ListByElement(ctx context.Context, element string) ([]Exercise, error) {
	normalized := anamnese.Normalize(element)
	if normalized == "" {
		return nil, errors.New("exercises: unknown element")
	}
	var items []Exercise
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND element = ?", true, normalized).
		Order("display_order ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (s *Service) Get(ctx context.Context, id uint64) (*Exercise, error) {
	var exercise Exercise
	if err := s.db.WithContext(ctx).Take(&exercise, id).Error; err != nil {
		return nil, err
	}
	return &exercise, nil
}

// Reindex re-embeds every enabled exercise whose stored vector came from a
// different model version (or was never embedded). The rich-text contract
// makes this idempotent: unchanged fields produce the same input text.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.embedder == nil {
		return 0, errors.New("exercises: embedder is required for reindexing")
	}

	var stale []Exercise
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND embedding_model <> ?", true, s.embedder.Model()).
		Find(&stale).Error; err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	texts := make([]string, len(stale))
	for i, exercise := range stale {
		texts[i] = exercise.RichText()
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(stale) {
		return 0, errors.New("exercises: embedding count mismatch")
	}

	updated := 0
	for i := range stale {
		result := s.db.WithContext(ctx).
			Model(&Exercise{}).
			Where("id = ?", stale[i].ID).
			Updates(map[string]interface{}{
				"embedding":       pgvector.NewVector(vectors[i]),
				"embedding_model": s.embedder.Model(),
			})
		if result.Error != nil {
			log.Printf("exercises: reindex %d failed: %v", stale[i].ID, result.Error)
			continue
		}
		updated++
	}
	return updated, nil
}
