package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"

	"github.com/google/uuid"
)

// Publisher defines the contract for handing notifications to the queue.
// Implementations live in infra/broker/.
type Publisher interface {
	// Publish enqueues a notification for immediate delivery.
	Publish(ctx context.Context, req *NotificationRequest) error

	// PublishDelayed enqueues a notification that becomes deliverable
	// only after the given delay has elapsed.
	PublishDelayed(ctx context.Context, req *NotificationRequest, delay time.Duration) error

	// PublishRetry enqueues a delayed retry for the given attempt number.
	PublishRetry(ctx context.Context, req *NotificationRequest, attempt int) error
}

// Service handles the synchronous intake half of the pipeline:
// validate → idempotency check → rate limit → persist pending history → publish.
type Service struct {
	history     HistoryRepository
	publisher   Publisher
	rateLimiter RecipientRateLimiter
	maxRetries  int
}

// NewService creates a new notification intake service.
func NewService(history HistoryRepository, publisher Publisher, rateLimiter RecipientRateLimiter, maxRetries int) *Service {
	return &Service{
		history:     history,
		publisher:   publisher,
		rateLimiter: rateLimiter,
		maxRetries:  maxRetries,
	}
}

// Accept validates a notification request, persists its pending history
// record, and publishes it to the queue. Requests carrying an id that
// already has a history record return the existing record unchanged.
func (s *Service) Accept(ctx context.Context, req *NotificationRequest) (*SendResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	if req.ID != "" {
		existing, err := s.history.GetByID(ctx, req.ID)
		if err != nil {
			slog.Error("idempotency check failed", "id", req.ID, "error", err)
			// Proceed without idempotency protection
		}
		if existing != nil {
			slog.Info("duplicate request, returning existing record",
				"id", existing.ID,
				"status", existing.Status,
			)
			return &SendResponse{ID: existing.ID, Channel: existing.Channel, Status: existing.Status}, nil
		}
	} else {
		req.ID = uuid.NewString()
	}

	req.Priority = NormalizePriority(req.Priority)

	// Check per-recipient rate limit
	if s.rateLimiter != nil {
		address := req.Recipient.AddressFor(req.Channel)
		allowed, err := s.rateLimiter.Allow(ctx, address)
		if err != nil {
			slog.Error("rate limit check failed, proceeding without limit", "recipient", address, "error", err)
			// Fail open when the limiter store is down
		} else if !allowed {
			return nil, common.NewValidationError(fmt.Sprintf("rate limit exceeded for recipient: %s", address))
		}
	}

	now := time.Now().UTC()
	hist := &NotificationHistory{
		ID:           req.ID,
		UserID:       req.UserID,
		TemplateID:   req.TemplateID,
		TemplateName: req.TemplateName,
		Channel:      req.Channel,
		Status:       StatusPending,
		Recipient:    req.Recipient,
		Variables:    req.Variables,
		Priority:     req.Priority,
		MaxRetries:   s.maxRetries,
		Metadata:     req.Metadata,
		ScheduledAt:  req.ScheduledAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.history.Create(ctx, hist); err != nil {
		return nil, fmt.Errorf("creating notification history: %w", err)
	}

	// A failed publish leaves the pending record in place; the reaper
	// re-publishes pending records older than its threshold.
	if err := s.publishRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("publishing notification: %w", err)
	}

	slog.Info("notification accepted",
		"id", req.ID,
		"channel", req.Channel,
		"priority", req.Priority,
		"scheduled", req.ScheduledAt != nil,
	)

	return &SendResponse{ID: req.ID, Channel: req.Channel, Status: StatusPending}, nil
}

// publishRequest routes scheduled requests through the delay queue and
// everything else to the main queue.
func (s *Service) publishRequest(ctx context.Context, req *NotificationRequest) error {
	if req.ScheduledAt != nil {
		if delay := time.Until(*req.ScheduledAt); delay > 0 {
			return s.publisher.PublishDelayed(ctx, req, delay)
		}
	}
	return s.publisher.Publish(ctx, req)
}

func (s *Service) validate(req *NotificationRequest) error {
	if !IsValidChannel(req.Channel) {
		return common.NewValidationError(fmt.Sprintf("unsupported channel: %s", req.Channel))
	}
	if !req.HasTemplateRef() {
		return common.NewValidationError("template_id or template_name is required")
	}
	if req.Recipient.AddressFor(req.Channel) == "" {
		return common.NewValidationError(fmt.Sprintf("recipient has no address for channel: %s", req.Channel))
	}
	return nil
}

// GetNotification retrieves a notification history record by ID.
func (s *Service) GetNotification(ctx context.Context, id string) (*NotificationHistory, error) {
	hist, err := s.history.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching notification: %w", err)
	}
	if hist == nil {
		return nil, common.NewNotFoundError("notification", id)
	}
	return hist, nil
}

// GetByExternalMessageID retrieves the history record that a provider's
// message id belongs to.
func (s *Service) GetByExternalMessageID(ctx context.Context, externalID string) (*NotificationHistory, error) {
	if externalID == "" {
		return nil, common.NewValidationError("external_id is required")
	}
	hist, err := s.history.GetByExternalMessageID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("fetching notification by external id: %w", err)
	}
	if hist == nil {
		return nil, common.NewNotFoundError("notification", externalID)
	}
	return hist, nil
}

// GetUserNotifications retrieves a user's notification history, newest first.
func (s *Service) GetUserNotifications(ctx context.Context, userID string, limit int) ([]*NotificationHistory, error) {
	if userID == "" {
		return nil, common.NewValidationError("user_id is required")
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	records, err := s.history.GetByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching user notifications: %w", err)
	}
	return records, nil
}

// ListNotifications retrieves history records with pagination and filtering.
func (s *Service) ListNotifications(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	records, total, err := s.history.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	return &ListResponse{
		Notifications: records,
		Total:         total,
		Page:          filter.Page,
		PageSize:      filter.PageSize,
	}, nil
}
