package strategy_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
	"github.com/rickymta/isra-notification-service/internal/infra/strategy"
)

func TestEmailStrategyChannel(t *testing.T) {
	t.Parallel()

	s := strategy.NewEmailStrategy("http://api", "key", "noreply@example.com", "Isra")
	assert.Equal(t, notification.ChannelEmail, s.Channel())
}

func TestEmailStrategyValidateRecipient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{"valid address", "user@example.com", true},
		{"valid with display name", "John Doe <john@example.com>", true},
		{"empty", "", false},
		{"missing domain", "user@", false},
		{"not an address", "not-an-email", false},
	}

	s := strategy.NewEmailStrategy("http://api", "key", "noreply@example.com", "")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := s.ValidateRecipient(notification.Recipient{Email: tt.email})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmailStrategySend(t *testing.T) {
	t.Parallel()

	var captured struct {
		path    string
		auth    string
		payload map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.payload))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "re_123"})
	}))
	defer srv.Close()

	s := strategy.NewEmailStrategy(srv.URL, "secret-key", "noreply@example.com", "Isra Notifications")

	result, err := s.Send(context.Background(),
		notification.Content{Subject: "Welcome!", Body: "<p>Hello John</p>"},
		notification.Recipient{Email: "john@example.com"},
	)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "re_123", result.ExternalMessageID)

	assert.Equal(t, "/emails", captured.path)
	assert.Equal(t, "Bearer secret-key", captured.auth)
	assert.Equal(t, "Isra Notifications <noreply@example.com>", captured.payload["from"])
	assert.Equal(t, []any{"john@example.com"}, captured.payload["to"])
	assert.Equal(t, "Welcome!", captured.payload["subject"])
	assert.Equal(t, "<p>Hello John</p>", captured.payload["html"])
}

func TestEmailStrategySendBareFromWithoutName(t *testing.T) {
	t.Parallel()

	var from string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		from, _ = payload["from"].(string)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "re_1"})
	}))
	defer srv.Close()

	s := strategy.NewEmailStrategy(srv.URL, "key", "noreply@example.com", "")
	_, err := s.Send(context.Background(), notification.Content{Body: "hi"}, notification.Recipient{Email: "a@b.co"})
	require.NoError(t, err)
	assert.Equal(t, "noreply@example.com", from)
}

func TestEmailStrategyClassifiesProviderFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		wantPermanent bool
	}{
		{"server error is retryable", http.StatusInternalServerError, false},
		{"bad gateway is retryable", http.StatusBadGateway, false},
		{"request timeout is retryable", http.StatusRequestTimeout, false},
		{"too many requests is retryable", http.StatusTooManyRequests, false},
		{"unprocessable entity is permanent", http.StatusUnprocessableEntity, true},
		{"bad request is permanent", http.StatusBadRequest, true},
		{"unauthorized is permanent", http.StatusUnauthorized, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "provider said no"})
			}))
			defer srv.Close()

			s := strategy.NewEmailStrategy(srv.URL, "key", "noreply@example.com", "")
			result, err := s.Send(context.Background(), notification.Content{Body: "hi"}, notification.Recipient{Email: "a@b.co"})

			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantPermanent, result.Permanent)
			assert.Equal(t, "provider said no", result.ErrorMessage)
		})
	}
}

func TestEmailStrategyFailureWithoutMessageBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := strategy.NewEmailStrategy(srv.URL, "key", "noreply@example.com", "")
	result, err := s.Send(context.Background(), notification.Content{Body: "hi"}, notification.Recipient{Email: "a@b.co"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "503")
}

func TestEmailStrategyTransportErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	s := strategy.NewEmailStrategy(srv.URL, "key", "noreply@example.com", "")
	_, err := s.Send(context.Background(), notification.Content{Body: "hi"}, notification.Recipient{Email: "a@b.co"})

	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
}
