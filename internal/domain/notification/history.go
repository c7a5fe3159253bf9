package notification

import "time"

// Status represents the delivery status of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the delivery lifecycle.
// The pipeline never mutates a record it finds in a terminal status;
// only the reaper may resurrect a failed record that still has retry
// budget left.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// NotificationHistory is the persisted record of one notification's
// delivery lifecycle. It is created pending at intake, mutated only by
// the delivery pipeline, and never deleted by it.
type NotificationHistory struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id,omitempty"`
	TemplateID        string            `json:"template_id,omitempty"`
	TemplateName      string            `json:"template_name,omitempty"`
	Channel           Channel           `json:"channel"`
	Status            Status            `json:"status"`
	Recipient         Recipient         `json:"recipient"`
	Variables         map[string]string `json:"variables,omitempty"`
	Priority          int               `json:"priority,omitempty"`
	Content           *Content          `json:"content,omitempty"`
	RetryCount        int               `json:"retry_count"`
	MaxRetries        int               `json:"max_retries"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ExternalMessageID string            `json:"external_message_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ScheduledAt       *time.Time        `json:"scheduled_at,omitempty"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// CanRetry reports whether the record has retry budget left.
func (h *NotificationHistory) CanRetry() bool {
	return h.RetryCount < h.MaxRetries
}

// ListFilter defines pagination and filtering options for history queries.
type ListFilter struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Status   string `form:"status"`
	UserID   string `form:"user_id"`
	Channel  string `form:"channel"`
}

// ListResponse wraps a paginated list of notification history records.
type ListResponse struct {
	Notifications []*NotificationHistory `json:"notifications"`
	Total         int                    `json:"total"`
	Page          int                    `json:"page"`
	PageSize      int                    `json:"page_size"`
}
