package template

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
)

// DefaultLanguage is assumed when a request's recipient has no language.
const DefaultLanguage = "en"

// NotificationTemplate is a reusable message definition for one channel
// and language. A template is addressed by id or by its (name, language)
// pair; both paths resolve to the same record.
type NotificationTemplate struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Language  string               `json:"language"`
	Channel   notification.Channel `json:"channel"`
	Subject   string               `json:"subject,omitempty"`
	Body      string               `json:"body"`
	Variables []string             `json:"variables,omitempty"`
	IsActive  bool                 `json:"is_active"`
	Version   int                  `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// validVariableName matches the placeholder names the renderer can
// substitute.
var validVariableName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate checks the template's shape for admin create/update.
func (t *NotificationTemplate) Validate() error {
	if t.Name == "" {
		return common.NewValidationError("template name is required")
	}
	if t.Language == "" {
		return common.NewValidationError("template language is required")
	}
	if !notification.IsValidChannel(t.Channel) {
		return common.NewValidationError(fmt.Sprintf("unsupported channel: %s", t.Channel))
	}
	if t.Body == "" {
		return common.NewValidationError("template body is required")
	}
	for _, name := range t.Variables {
		if !validVariableName.MatchString(name) {
			return common.NewValidationError(fmt.Sprintf("invalid variable name: %q", name))
		}
	}
	return nil
}
