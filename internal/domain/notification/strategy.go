package notification

import (
	"context"
	"fmt"

	"github.com/rickymta/isra-notification-service/internal/common"
)

// ChannelStrategy defines the contract for one delivery channel.
// Implementations live in infra/strategy/ (e.g., Resend for email).
type ChannelStrategy interface {
	// Channel returns which delivery channel this strategy handles.
	Channel() Channel

	// ValidateRecipient reports whether the recipient carries a usable
	// address for this channel.
	ValidateRecipient(r Recipient) bool

	// Send delivers rendered content to the recipient and reports the
	// outcome. Transport failures come back as an error; provider
	// rejections come back inside the result.
	Send(ctx context.Context, content Content, r Recipient) (NotificationResult, error)
}

// Renderer defines the contract for resolving a request's template and
// substituting its variables. Implementations live in domain/template/.
type Renderer interface {
	Render(ctx context.Context, req *NotificationRequest) (*RenderedMessage, error)
}

// Registry maps delivery channels to their strategies. It is built once
// at startup and read-only afterwards.
type Registry struct {
	strategies map[Channel]ChannelStrategy
}

// NewRegistry builds a registry from the given strategies.
func NewRegistry(strategies ...ChannelStrategy) *Registry {
	m := make(map[Channel]ChannelStrategy, len(strategies))
	for _, s := range strategies {
		m[s.Channel()] = s
	}
	return &Registry{strategies: m}
}

// Lookup returns the strategy for a channel. A channel with no registered
// strategy is a permanent failure, not a retryable one.
func (r *Registry) Lookup(ch Channel) (ChannelStrategy, error) {
	s, ok := r.strategies[ch]
	if !ok {
		return nil, common.NewPermanentError(fmt.Sprintf("no strategy registered for channel: %s", ch))
	}
	return s, nil
}
