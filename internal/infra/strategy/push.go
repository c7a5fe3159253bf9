package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
)

var _ notification.ChannelStrategy = (*PushStrategy)(nil)

// minDeviceTokenLength is the shortest token any supported push platform
// issues. Shorter values are typos or truncations.
const minDeviceTokenLength = 32

// PushStrategy sends mobile push notifications through an FCM-compatible
// HTTP API.
type PushStrategy struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewPushStrategy creates a push strategy against the provider API at
// endpoint.
func NewPushStrategy(endpoint, apiKey string) *PushStrategy {
	return &PushStrategy{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: newHTTPClient(),
	}
}

// Channel returns the push channel identifier.
func (s *PushStrategy) Channel() notification.Channel {
	return notification.ChannelPush
}

// ValidateRecipient reports whether the recipient has a plausible device
// token.
func (s *PushStrategy) ValidateRecipient(r notification.Recipient) bool {
	return len(r.DeviceToken) >= minDeviceTokenLength
}

// Send delivers the rendered content via the push provider. The subject
// becomes the notification title.
func (s *PushStrategy) Send(ctx context.Context, content notification.Content, r notification.Recipient) (notification.NotificationResult, error) {
	payload := map[string]any{
		"to": r.DeviceToken,
		"notification": map[string]string{
			"title": content.Subject,
			"body":  content.Body,
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return notification.NotificationResult{}, fmt.Errorf("marshaling push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return notification.NotificationResult{}, fmt.Errorf("creating push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notification.NotificationResult{}, common.NewTransientError("calling push provider", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return notification.NotificationResult{}, common.NewTransientError("reading push provider response", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &errResp)

		msg := errResp.Message
		if msg == "" {
			msg = fmt.Sprintf("push provider returned status %d", resp.StatusCode)
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
		return notification.NotificationResult{}, common.NewTransientError("parsing push provider response", err)
	}

	return notification.NotificationResult{
		Success:           true,
		ExternalMessageID: successResp.MessageID,
	}, nil
}
