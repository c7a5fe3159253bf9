package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
)

var _ notification.ChannelStrategy = (*EmailStrategy)(nil)

// EmailStrategy sends email through a Resend-compatible HTTP API.
type EmailStrategy struct {
	endpoint    string
	apiKey      string
	fromAddress string
	fromName    string
	httpClient  *http.Client
}

// NewEmailStrategy creates an email strategy against the provider API
// at endpoint.
func NewEmailStrategy(endpoint, apiKey, fromAddress, fromName string) *EmailStrategy {
	return &EmailStrategy{
		endpoint:    endpoint,
		apiKey:      apiKey,
		fromAddress: fromAddress,
		fromName:    fromName,
		httpClient:  newHTTPClient(),
	}
}

// Channel returns the email channel identifier.
func (s *EmailStrategy) Channel() notification.Channel {
	return notification.ChannelEmail
}

// ValidateRecipient reports whether the recipient has a parseable email
// address.
func (s *EmailStrategy) ValidateRecipient(r notification.Recipient) bool {
	if r.Email == "" {
		return false
	}
	_, err := mail.ParseAddress(r.Email)
	return err == nil
}

// Send delivers the rendered content via the provider API.
func (s *EmailStrategy) Send(ctx context.Context, content notification.Content, r notification.Recipient) (notification.NotificationResult, error) {
	from := s.fromAddress
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)
	}

	payload := map[string]any{
		"from":    from,
		"to":      []string{r.Email},
		"subject": content.Subject,
		"html":    content.Body,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return notification.NotificationResult{}, fmt.Errorf("marshaling email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return notification.NotificationResult{}, fmt.Errorf("creating email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notification.NotificationResult{}, common.NewTransientError("calling email provider", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return notification.NotificationResult{}, common.NewTransientError("reading email provider response", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &errResp)

		msg := errResp.Message
		if msg == "" {
			msg = fmt.Sprintf("email provider returned status %d", resp.StatusCode)
		}
		return notification.NotificationResult{
			ErrorMessage: msg,
			Permanent:    permanentStatus(resp.StatusCode),
		}, nil
	}

	var successResp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &successResp); err != nil {
		return notification.NotificationResult{}, common.NewTransientError("parsing email provider response", err)
	}

	return notification.NotificationResult{
		Success:           true,
		ExternalMessageID: successResp.ID,
	}, nil
}
