package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"
)

// Orchestrator runs the asynchronous delivery half of the pipeline. For
// each queued request it resolves and renders the template, dispatches to
// the channel strategy, records the outcome in history, and schedules
// retries with backoff until the retry budget is spent.
type Orchestrator struct {
	history     HistoryRepository
	renderer    Renderer
	registry    *Registry
	publisher   Publisher
	sendTimeout time.Duration
}

// NewOrchestrator creates a new delivery orchestrator.
func NewOrchestrator(history HistoryRepository, renderer Renderer, registry *Registry, publisher Publisher, sendTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		history:     history,
		renderer:    renderer,
		registry:    registry,
		publisher:   publisher,
		sendTimeout: sendTimeout,
	}
}

// Process delivers one queued notification. A nil return means the message
// is finished and may be acknowledged, including the cases where delivery
// failed but the failure was recorded and a retry was scheduled or the
// budget was spent. A non-nil return hands the requeue decision back to
// the consumer.
func (o *Orchestrator) Process(ctx context.Context, req *NotificationRequest) error {
	start := time.Now()

	hist, err := o.history.GetByID(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("fetching history %s: %w", req.ID, err)
	}
	if hist == nil {
		// Intake persists history before publishing; a message without a
		// record cannot be delivered without losing its audit trail.
		return common.NewDataError(fmt.Sprintf("no history record for message %s", req.ID), nil)
	}

	if hist.Status.Terminal() {
		slog.Info("skipping redelivered notification in terminal status",
			"id", hist.ID,
			"status", hist.Status,
		)
		return nil
	}

	rendered, err := o.renderer.Render(ctx, req)
	if err != nil {
		if common.IsPermanent(err) {
			return o.failTerminal(ctx, hist, err.Error())
		}
		return fmt.Errorf("rendering notification %s: %w", req.ID, err)
	}

	hist.TemplateID = rendered.TemplateID
	hist.TemplateName = rendered.TemplateName
	hist.Content = &rendered.Content
	hist.Status = StatusProcessing
	hist.UpdatedAt = time.Now().UTC()
	if err := o.history.Update(ctx, hist); err != nil {
		slog.Error("failed to update status to processing", "id", hist.ID, "error", err)
	}

	strategy, err := o.registry.Lookup(req.Channel)
	if err != nil {
		return o.failTerminal(ctx, hist, err.Error())
	}
	if !strategy.ValidateRecipient(req.Recipient) {
		return o.failTerminal(ctx, hist, fmt.Sprintf("invalid recipient for channel %s", req.Channel))
	}

	result, err := o.send(ctx, strategy, rendered.Content, req.Recipient)

	switch {
	case err == nil && result.Success:
		o.markSent(ctx, hist, result)
		slog.Info("notification sent",
			"id", hist.ID,
			"channel", req.Channel,
			"external_id", result.ExternalMessageID,
			"duration", time.Since(start),
		)
		return nil

	case common.IsPermanent(err) || result.Permanent:
		msg := result.ErrorMessage
		if err != nil {
			msg = err.Error()
		}
		return o.failTerminal(ctx, hist, msg)

	default:
		msg := result.ErrorMessage
		if err != nil {
			msg = err.Error()
		}
		return o.scheduleRetry(ctx, hist, req, msg, start)
	}
}

// Abandon marks a notification terminally failed without another delivery
// attempt. The consumer calls it when a message's header retry count is
// already spent.
func (o *Orchestrator) Abandon(ctx context.Context, req *NotificationRequest, reason string) error {
	hist, err := o.history.GetByID(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("fetching history %s: %w", req.ID, err)
	}
	if hist == nil || hist.Status.Terminal() {
		return nil
	}
	return o.failTerminal(ctx, hist, reason)
}

// send dispatches to the strategy under the configured send timeout.
func (o *Orchestrator) send(ctx context.Context, strategy ChannelStrategy, content Content, r Recipient) (NotificationResult, error) {
	if o.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.sendTimeout)
		defer cancel()
	}
	return strategy.Send(ctx, content, r)
}

// scheduleRetry burns one unit of retry budget and re-publishes the
// request through the delay queue. The current delivery is finished once
// the retry message is in the broker, so the caller acknowledges it.
func (o *Orchestrator) scheduleRetry(ctx context.Context, hist *NotificationHistory, req *NotificationRequest, errMsg string, start time.Time) error {
	if !hist.CanRetry() {
		slog.Error("notification failed, retries exhausted",
			"id", hist.ID,
			"channel", hist.Channel,
			"retry_count", hist.RetryCount,
			"error", errMsg,
			"duration", time.Since(start),
		)
		return o.failTerminal(ctx, hist, errMsg)
	}

	hist.RetryCount++
	hist.Status = StatusRetrying
	hist.ErrorMessage = errMsg
	hist.UpdatedAt = time.Now().UTC()
	if err := o.history.Update(ctx, hist); err != nil {
		slog.Error("failed to update status to retrying", "id", hist.ID, "error", err)
	}

	if err := o.publisher.PublishRetry(ctx, req, hist.RetryCount); err != nil {
		return fmt.Errorf("publishing retry for %s: %w", hist.ID, err)
	}

	slog.Warn("notification delivery failed, retry scheduled",
		"id", hist.ID,
		"channel", hist.Channel,
		"attempt", hist.RetryCount,
		"max_retries", hist.MaxRetries,
		"error", errMsg,
	)
	return nil
}

// failTerminal records a final failure. The update must land before the
// message is acknowledged, so an update failure propagates to the caller.
func (o *Orchestrator) failTerminal(ctx context.Context, hist *NotificationHistory, errMsg string) error {
	hist.Status = StatusFailed
	hist.ErrorMessage = errMsg
	hist.UpdatedAt = time.Now().UTC()
	if err := o.history.Update(ctx, hist); err != nil {
		return fmt.Errorf("recording terminal failure for %s: %w", hist.ID, err)
	}
	slog.Error("notification failed",
		"id", hist.ID,
		"channel", hist.Channel,
		"retry_count", hist.RetryCount,
		"error", errMsg,
	)
	return nil
}

func (o *Orchestrator) markSent(ctx context.Context, hist *NotificationHistory, result NotificationResult) {
	now := time.Now().UTC()
	hist.Status = StatusSent
	hist.SentAt = &now
	hist.ErrorMessage = ""
	hist.ExternalMessageID = result.ExternalMessageID
	if len(result.Metadata) > 0 {
		if hist.Metadata == nil {
			hist.Metadata = make(map[string]string, len(result.Metadata))
		}
		for k, v := range result.Metadata {
			hist.Metadata[k] = v
		}
	}
	hist.UpdatedAt = now
	if err := o.history.Update(ctx, hist); err != nil {
		slog.Error("failed to update status to sent", "id", hist.ID, "error", err)
	}
}
