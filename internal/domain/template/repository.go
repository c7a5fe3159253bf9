package template

import (
	"context"

	"github.com/rickymta/isra-notification-service/internal/domain/notification"
)

// Repository defines the contract for template persistence.
// Implementations live in infra/store/. Lookups return nil, nil when no
// record matches.
type Repository interface {
	// GetByID retrieves a template by its id.
	GetByID(ctx context.Context, id string) (*NotificationTemplate, error)

	// GetByNameAndLanguage retrieves a template by its (name, language) pair.
	GetByNameAndLanguage(ctx context.Context, name, language string) (*NotificationTemplate, error)

	// GetByChannel retrieves all templates for a delivery channel.
	GetByChannel(ctx context.Context, ch notification.Channel) ([]*NotificationTemplate, error)

	// GetAll retrieves every template.
	GetAll(ctx context.Context) ([]*NotificationTemplate, error)

	// Create inserts a new template.
	Create(ctx context.Context, t *NotificationTemplate) error

	// Update replaces the stored template identified by t.ID.
	Update(ctx context.Context, t *NotificationTemplate) error

	// Delete removes a template by id.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a template with the given id exists.
	Exists(ctx context.Context, id string) (bool, error)
}
