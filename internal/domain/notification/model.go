package notification

import "time"

// Channel represents a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// validChannels is the set of all recognized delivery channels.
var validChannels = map[Channel]bool{
	ChannelEmail: true,
	ChannelSMS:   true,
	ChannelPush:  true,
}

// IsValidChannel checks whether a delivery channel is recognized.
func IsValidChannel(c Channel) bool {
	return validChannels[c]
}

// Channels returns every recognized delivery channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

// Notification priorities. 1 is the highest, 5 the lowest.
const (
	PriorityHighest = 1
	PriorityDefault = 3
	PriorityLowest  = 5
)

// NormalizePriority replaces out-of-range priorities with the default.
func NormalizePriority(p int) int {
	if p < PriorityHighest || p > PriorityLowest {
		return PriorityDefault
	}
	return p
}

// Recipient holds the per-channel delivery addresses of one recipient.
type Recipient struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	Language    string `json:"language,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// AddressFor returns the delivery address the given channel uses.
func (r Recipient) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.PhoneNumber
	case ChannelPush:
		return r.DeviceToken
	}
	return ""
}

// NotificationRequest is a request to deliver one notification. It doubles
// as the API request payload and the queue wire payload, and is immutable
// once published. The template is referenced by id, or by name combined
// with the recipient's language.
type NotificationRequest struct {
	ID           string            `json:"id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateName string            `json:"template_name,omitempty"`
	Channel      Channel           `json:"channel" binding:"required,oneof=email sms push"`
	Recipient    Recipient         `json:"recipient" binding:"required"`
	Variables    map[string]string `json:"variables,omitempty"`
	Priority     int               `json:"priority,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HasTemplateRef reports whether the request references a template by
// either id or name.
func (r *NotificationRequest) HasTemplateRef() bool {
	return r.TemplateID != "" || r.TemplateName != ""
}

// Content is a rendered notification ready for delivery. Variables holds
// the values that were applied during substitution.
type Content struct {
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	Variables map[string]string `json:"variables,omitempty"`
}

// RenderedMessage is the outcome of template resolution and substitution.
type RenderedMessage struct {
	TemplateID   string
	TemplateName string
	Content      Content
}

// NotificationResult is a channel strategy's report of one delivery attempt.
type NotificationResult struct {
	Success bool

	// Permanent marks a failure that retrying cannot fix, such as a
	// provider rejecting the recipient address.
	Permanent bool

	ErrorMessage      string
	ExternalMessageID string
	Metadata          map[string]string
}

// SendResponse is the API response payload after a notification is accepted.
type SendResponse struct {
	ID      string  `json:"id"`
	Channel Channel `json:"channel"`
	Status  Status  `json:"status"`
}
