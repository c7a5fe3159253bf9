package notification

import (
	"context"
	"log/slog"
	"time"
)

// ReaperConfig holds configuration for the stale delivery reaper.
type ReaperConfig struct {
	// Interval is how often the reaper scans for stuck deliveries.
	Interval time.Duration

	// StaleThreshold is how long a record can stay in pending/retrying
	// before the reaper considers its queue message lost. It should
	// comfortably exceed the retry policy's maximum delay.
	StaleThreshold time.Duration

	// BatchSize is the maximum number of records recovered per cycle.
	BatchSize int
}

// Reaper periodically reconciles the history store with the queue. The
// store is the source of truth: records stuck in pending or retrying are
// re-published, and failed records with retry budget left are given
// another attempt. No notification stays lost after a crashed worker or
// a wiped broker.
type Reaper struct {
	history   HistoryRepository
	publisher Publisher
	config    ReaperConfig
}

// NewReaper creates a new stale delivery reaper.
func NewReaper(history HistoryRepository, publisher Publisher, cfg ReaperConfig) *Reaper {
	// Sensible defaults
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &Reaper{
		history:   history,
		publisher: publisher,
		config:    cfg,
	}
}

// Run starts the reaper loop. It blocks until the context is cancelled.
// Should be called in a goroutine.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("reaper started",
		"interval", r.config.Interval,
		"stale_threshold", r.config.StaleThreshold,
		"batch_size", r.config.BatchSize,
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reaper cycle and returns the number of records
// recovered.
func (r *Reaper) Sweep(ctx context.Context) int {
	recovered := r.sweepStale(ctx)
	recovered += r.sweepFailed(ctx)
	if recovered > 0 {
		slog.Info("reaper: sweep complete", "recovered", recovered)
	}
	return recovered
}

// sweepStale re-publishes records whose queue message appears lost.
func (r *Reaper) sweepStale(ctx context.Context) int {
	olderThan := time.Now().Add(-r.config.StaleThreshold)

	stale, err := r.history.ListStale(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		slog.Error("reaper: failed to list stale records", "error", err)
		return 0
	}
	if len(stale) == 0 {
		return 0 // Nothing to do, the common case
	}

	slog.Warn("reaper: found stale records", "count", len(stale))

	now := time.Now()
	recovered := 0
	for _, hist := range stale {
		// Scheduled notifications wait in a delay queue; they are not lost.
		if hist.ScheduledAt != nil && hist.ScheduledAt.After(now) {
			continue
		}

		age := time.Since(hist.UpdatedAt).Round(time.Second)
		req := requestFromHistory(hist)

		var pubErr error
		if hist.Status == StatusRetrying {
			pubErr = r.publisher.PublishRetry(ctx, req, hist.RetryCount)
		} else {
			pubErr = r.publisher.Publish(ctx, req)
		}
		if pubErr != nil {
			slog.Error("reaper: failed to re-publish record", "id", hist.ID, "error", pubErr)
			continue
		}

		// Touch the record so the next sweep does not pick it up again
		hist.UpdatedAt = time.Now().UTC()
		if err := r.history.Update(ctx, hist); err != nil {
			slog.Error("reaper: failed to touch record", "id", hist.ID, "error", err)
		}

		recovered++
		slog.Info("reaper: recovered stale record",
			"id", hist.ID,
			"status", hist.Status,
			"age", age,
		)
	}

	return recovered
}

// sweepFailed gives failed records with remaining retry budget another
// attempt. The budget is burned before publishing, so a record whose
// failure never resolves converges to exhausted within MaxRetries sweeps.
func (r *Reaper) sweepFailed(ctx context.Context) int {
	failed, err := r.history.GetFailedForRetry(ctx, r.config.BatchSize)
	if err != nil {
		slog.Error("reaper: failed to list retryable failures", "error", err)
		return 0
	}

	recovered := 0
	for _, hist := range failed {
		hist.RetryCount++
		hist.Status = StatusRetrying
		hist.UpdatedAt = time.Now().UTC()
		if err := r.history.Update(ctx, hist); err != nil {
			slog.Error("reaper: failed to update record", "id", hist.ID, "error", err)
			continue
		}

		if err := r.publisher.PublishRetry(ctx, requestFromHistory(hist), hist.RetryCount); err != nil {
			slog.Error("reaper: failed to re-publish record", "id", hist.ID, "error", err)
			continue
		}

		recovered++
		slog.Info("reaper: rescheduled failed record",
			"id", hist.ID,
			"attempt", hist.RetryCount,
			"max_retries", hist.MaxRetries,
		)
	}

	return recovered
}

// requestFromHistory rebuilds the immutable queue request from its
// history snapshot.
func requestFromHistory(h *NotificationHistory) *NotificationRequest {
	return &NotificationRequest{
		ID:           h.ID,
		UserID:       h.UserID,
		TemplateID:   h.TemplateID,
		TemplateName: h.TemplateName,
		Channel:      h.Channel,
		Recipient:    h.Recipient,
		Variables:    h.Variables,
		Priority:     h.Priority,
		Metadata:     h.Metadata,
	}
}
