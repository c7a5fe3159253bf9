package broker

import (
	"encoding/json"
	"fmt"

	"github.com/rickymta/isra-notification-service/internal/domain/notification"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers stamped on every published notification message.
const (
	HeaderRetryCount     = "x-retry-count"
	HeaderMessageType    = "x-message-type"
	HeaderMessageVersion = "x-message-version"
)

// Values for the message type and version headers.
const (
	MessageTypeSend = "notification.send"
	MessageVersion  = "1"
)

// EncodeRequest serializes a notification request for the wire.
func EncodeRequest(req *notification.NotificationRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding notification request: %w", err)
	}
	return body, nil
}

// DecodeRequest deserializes a notification request from a message body.
func DecodeRequest(body []byte) (*notification.NotificationRequest, error) {
	var req notification.NotificationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decoding notification request: %w", err)
	}
	return &req, nil
}

// RetryCountFromHeaders reads the retry count header, tolerating the
// integer widths AMQP clients deliver. A missing or malformed header
// counts as zero.
func RetryCountFromHeaders(headers amqp.Table) int {
	v, ok := headers[HeaderRetryCount]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
