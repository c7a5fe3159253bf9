package template

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"

	"github.com/google/uuid"
)

// Service handles template administration.
type Service struct {
	repo Repository
}

// NewService creates a new template service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and stores a new template.
func (s *Service) Create(ctx context.Context, t *NotificationTemplate) (*NotificationTemplate, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	// (name, language) is unique across templates
	existing, err := s.repo.GetByNameAndLanguage(ctx, t.Name, t.Language)
	if err != nil {
		return nil, fmt.Errorf("checking template uniqueness: %w", err)
	}
	if existing != nil {
		return nil, common.NewValidationError(fmt.Sprintf("template %q already exists for language %q", t.Name, t.Language))
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.Version = 1
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("creating template: %w", err)
	}

	slog.Info("template created",
		"id", t.ID,
		"name", t.Name,
		"language", t.Language,
		"channel", t.Channel,
	)
	return t, nil
}

// Update validates and replaces an existing template, bumping its version.
func (s *Service) Update(ctx context.Context, t *NotificationTemplate) (*NotificationTemplate, error) {
	if t.ID == "" {
		return nil, common.NewValidationError("template id is required")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	current, err := s.repo.GetByID(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("loading template: %w", err)
	}
	if current == nil {
		return nil, common.NewNotFoundError("template", t.ID)
	}

	if t.Name != current.Name || t.Language != current.Language {
		dup, err := s.repo.GetByNameAndLanguage(ctx, t.Name, t.Language)
		if err != nil {
			return nil, fmt.Errorf("checking template uniqueness: %w", err)
		}
		if dup != nil && dup.ID != t.ID {
			return nil, common.NewValidationError(fmt.Sprintf("template %q already exists for language %q", t.Name, t.Language))
		}
	}

	t.Version = current.Version + 1
	t.CreatedAt = current.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("updating template: %w", err)
	}

	slog.Info("template updated", "id", t.ID, "name", t.Name, "version", t.Version)
	return t, nil
}

// Delete removes a template.
func (s *Service) Delete(ctx context.Context, id string) error {
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("checking template: %w", err)
	}
	if !exists {
		return common.NewNotFoundError("template", id)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}

	slog.Info("template deleted", "id", id)
	return nil
}

// Get retrieves a template by id.
func (s *Service) Get(ctx context.Context, id string) (*NotificationTemplate, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching template: %w", err)
	}
	if t == nil {
		return nil, common.NewNotFoundError("template", id)
	}
	return t, nil
}

// ListByChannel retrieves all templates for one delivery channel.
func (s *Service) ListByChannel(ctx context.Context, ch notification.Channel) ([]*NotificationTemplate, error) {
	if !notification.IsValidChannel(ch) {
		return nil, common.NewValidationError(fmt.Sprintf("unsupported channel: %s", ch))
	}
	templates, err := s.repo.GetByChannel(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("listing templates by channel: %w", err)
	}
	return templates, nil
}

// List retrieves every template.
func (s *Service) List(ctx context.Context) ([]*NotificationTemplate, error) {
	templates, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return templates, nil
}
