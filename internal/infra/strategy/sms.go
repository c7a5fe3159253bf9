package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
)

var _ notification.ChannelStrategy = (*SMSStrategy)(nil)

// e164Pattern matches international phone numbers in E.164 form.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// SMSStrategy sends text messages through an HTTP SMS gateway.
type SMSStrategy struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewSMSStrategy creates an SMS strategy against the gateway at endpoint.
// from is the sender number or alphanumeric sender ID.
func NewSMSStrategy(endpoint, apiKey, from string) *SMSStrategy {
	return &SMSStrategy{
		endpoint:   endpoint,
		apiKey:     apiKey,
		from:       from,
		httpClient: newHTTPClient(),
	}
}

// Channel returns the SMS channel identifier.
func (s *SMSStrategy) Channel() notification.Channel {
	return notification.ChannelSMS
}

// ValidateRecipient reports whether the recipient has an E.164 phone
// number.
func (s *SMSStrategy) ValidateRecipient(r notification.Recipient) bool {
	return e164Pattern.MatchString(r.PhoneNumber)
}

// Send delivers the rendered content via the SMS gateway. Subjects do
// not exist on this channel, only the body is sent.
func (s *SMSStrategy) Send(ctx context.Context, content notification.Content, r notification.Recipient) (notification.NotificationResult, error) {
	payload := map[string]any{
		"to":   r.PhoneNumber,
		"from": s.from,
		"body": content.Body,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return notification.NotificationResult{}, fmt.Errorf("marshaling sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return notification.NotificationResult{}, fmt.Errorf("creating sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notification.NotificationResult{}, common.NewTransientError("calling sms gateway", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return notification.NotificationResult{}, common.NewTransientError("reading sms gateway response", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &errResp)

		msg := errResp.Message
		if msg == "" {
			msg = fmt.Sprintf("sms gateway returned status %d", resp.StatusCode)
		}
		return notification.NotificationResult{
			ErrorMessage: msg,
			Permanent:    permanentStatus(resp.StatusCode),
		}, nil
	}

	var successResp struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(respBody, &successResp); err != nil {
		return notification.NotificationResult{}, common.NewTransientError("parsing sms gateway response", err)
	}

	return notification.NotificationResult{
		Success:           true,
		ExternalMessageID: successResp.MessageID,
	}, nil
}
