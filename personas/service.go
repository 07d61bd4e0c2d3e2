package personas

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("personas: persona not found")

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("personas: database connection is required")
	}
	return &Service{db: db}, nil
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&Persona{})
}

// ListActive returns the personas exposed to end users.
func (s *Service) ListActive(ctx context.Context) ([]Persona, error) {
	var items []Persona
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("name ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (s *Service) Get(ctx context.Context, id uint64) (*Persona, error) {
	var persona Persona
	if err := s.db.WithContext(ctx).Take(&persona, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &persona, nil
}

type PersonaInput struct {
	Name         string   `json:"name"`
	Slug         string   `json:"slug"`
	ShortIntro   *string  `json:"short_intro"`
	Description  *string  `json:"description"`
	OpeningLine  *string  `json:"opening_line"`
	SystemPrompt *string  `json:"system_prompt"`
	AvatarURL    *string  `json:"avatar_url"`
	LangDefault  string   `json:"lang_default"`
	Tags         []string `json:"tags"`
}

func (s *Service) Create(ctx context.Context, input PersonaInput) (*Persona, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("personas: name is required")
	}
	slug := strings.TrimSpace(strings.ToLower(input.Slug))
	if slug == "" {
		slug = slugify(name)
	}
	lang := strings.TrimSpace(input.LangDefault)
	if lang == "" {
		lang = "pt-BR"
	}

	persona := &Persona{
		Name:         name,
		Slug:         slug,
		ShortIntro:   input.ShortIntro,
		Description:  input.Description,
		OpeningLine:  input.OpeningLine,
		SystemPrompt: input.SystemPrompt,
		AvatarURL:    input.AvatarURL,
		LangDefault:  lang,
		Tags:         tagsToJSON(input.Tags),
		Active:       true,
	}
	if err := s.db.WithContext(ctx).Create(persona).Error; err != nil {
		return nil, err
	}
	return persona, nil
}

type PersonaUpdate struct {
	Name         *string   `json:"name"`
	ShortIntro   *string   `json:"short_intro"`
	Description  *string   `json:"description"`
	OpeningLine  *string   `json:"opening_line"`
	SystemPrompt *string   `json:"system_prompt"`
	AvatarURL    *string   `json:"avatar_url"`
	LangDefault  *string   `json:"lang_default"`
	Tags         *[]string `json:"tags"`
	Active       *bool     `json:"active"`
}

func (s *Service) Update(ctx context.Context, id uint64, update PersonaUpdate) (*Persona, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	changes := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, errors.New("personas: name cannot be empty")
		}
		changes["name"] = name
	}
	if update.ShortIntro != nil {
		changes["short_intro"] = update.ShortIntro
	}
	if update.Description != nil {
		changes["description"] = update.Description
	}
	if update.OpeningLine != nil {
		changes["opening_line"] = update.OpeningLine
	}
	if update.SystemPrompt != nil {
		changes["system_prompt"] = update.SystemPrompt
	}
	if update.AvatarURL != nil {
		changes["avatar_url"] = update.AvatarURL
	}
	if update.LangDefault != nil {
		lang := strings.TrimSpace(*update.LangDefault)
		if lang != "" {
			changes["lang_default"] = lang
		}
	}
	if update.Tags != nil {
		changes["tags"] = tagsToJSON(*update.Tags)
	}
	if update.Active != nil {
		changes["active"] = *update.Active
	}

	if err := s.db.WithContext(ctx).Model(&Persona{}).Where("id = ?", id).Updates(changes).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func tagsToJSON(tags []string) datatypes.JSON {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	raw, err := json.Marshal(cleaned)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}
