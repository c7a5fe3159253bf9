package template

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
)

// placeholderPattern matches {{Name}} placeholders, tolerating inner spaces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Substitute replaces {{Name}} placeholders in text with values from vars.
// Placeholder names match case-insensitively. Placeholders without a value
// stay verbatim, and substituted values are never re-scanned, so the result
// does not depend on map iteration order.
func Substitute(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 {
		return text
	}

	normalized := make(map[string]string, len(vars))
	for k, v := range vars {
		normalized[strings.ToLower(k)] = v
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := normalized[strings.ToLower(name)]; ok {
			return value
		}
		return match
	})
}

// Renderer resolves templates and renders notification content. It
// implements the notification domain's Renderer contract.
type Renderer struct {
	repo Repository
}

// NewRenderer creates a renderer reading templates from repo.
func NewRenderer(repo Repository) *Renderer {
	return &Renderer{repo: repo}
}

// Render resolves the request's template, by id when set and otherwise by
// name and recipient language, then substitutes the request variables into
// the subject and body. Unresolvable, inactive, and wrong-channel
// templates are permanent failures.
func (r *Renderer) Render(ctx context.Context, req *notification.NotificationRequest) (*notification.RenderedMessage, error) {
	tmpl, err := r.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	return &notification.RenderedMessage{
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		Content: notification.Content{
			Subject:   Substitute(tmpl.Subject, req.Variables),
			Body:      Substitute(tmpl.Body, req.Variables),
			Variables: req.Variables,
		},
	}, nil
}

func (r *Renderer) resolve(ctx context.Context, req *notification.NotificationRequest) (*NotificationTemplate, error) {
	var (
		tmpl *NotificationTemplate
		err  error
		ref  string
	)
	if req.TemplateID != "" {
		ref = req.TemplateID
		tmpl, err = r.repo.GetByID(ctx, req.TemplateID)
	} else {
		lang := req.Recipient.Language
		if lang == "" {
			lang = DefaultLanguage
		}
		ref = fmt.Sprintf("%s/%s", req.TemplateName, lang)
		tmpl, err = r.repo.GetByNameAndLanguage(ctx, req.TemplateName, lang)
	}
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", ref, err)
	}
	if tmpl == nil {
		return nil, common.NewPermanentError(fmt.Sprintf("template not found: %s", ref))
	}
	if !tmpl.IsActive {
		return nil, common.NewPermanentError(fmt.Sprintf("template is inactive: %s", ref))
	}
	if tmpl.Channel != req.Channel {
		return nil, common.NewPermanentError(fmt.Sprintf("template %s targets channel %s, not %s", ref, tmpl.Channel, req.Channel))
	}
	return tmpl, nil
}
