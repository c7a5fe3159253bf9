package notification

import (
	"context"
	"time"
)

// HistoryRepository defines the contract for persisting notification history.
// Implementations live in infra/store/. Lookups return nil, nil when no
// record matches.
type HistoryRepository interface {
	// Create inserts a new history record.
	Create(ctx context.Context, h *NotificationHistory) error

	// Update replaces the stored record identified by h.ID.
	Update(ctx context.Context, h *NotificationHistory) error

	// GetByID retrieves a history record by its ID.
	GetByID(ctx context.Context, id string) (*NotificationHistory, error)

	// GetByExternalMessageID retrieves a history record by the message id
	// the provider assigned at send time.
	GetByExternalMessageID(ctx context.Context, externalID string) (*NotificationHistory, error)

	// GetByUserID retrieves history records for a user, newest first.
	GetByUserID(ctx context.Context, userID string, limit int) ([]*NotificationHistory, error)

	// List retrieves history records with pagination and filtering.
	List(ctx context.Context, filter ListFilter) ([]*NotificationHistory, int, error)

	// GetFailedForRetry retrieves failed records that still have retry
	// budget left, oldest first. Used by the reaper.
	GetFailedForRetry(ctx context.Context, limit int) ([]*NotificationHistory, error)

	// ListStale retrieves records stuck in pending/retrying for longer than
	// the given threshold. Used by the reaper for reconciliation.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*NotificationHistory, error)
}
