package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/model"
)

const (
	// DefaultBatchSize is the number of notifications to process per poll.
	DefaultBatchSize = 20
	// DefaultPollInterval is the time between polling for due notifications.
	DefaultPollInterval = 5 * time.Second
	// DefaultClaimLease is how long a claimed notification stays invisible
	// to other workers.
	DefaultClaimLease = 2 * time.Minute
)

// Worker drains the outbox.
type Worker struct {
	outbox       Outbox
	sender       Sender
	logger       *slog.Logger
	metrics      metrics.Recorder
	batchSize    int
	pollInterval time.Duration
	lease        time.Duration
	started      bool
}

// NewWorker creates a new notification delivery worker.
func NewWorker(outbox Outbox, sender Sender, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		outbox:       outbox,
		sender:       sender,
		logger:       logger.With("component", "notify.worker"),
		metrics:      recorder,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		lease:        DefaultClaimLease,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("notification worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("notification worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// ProcessOnce claims and delivers one batch.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	batch, err := w.outbox.ClaimDue(ctx, w.batchSize, w.lease)
	if err != nil {
		return fmt.Errorf("claim due notifications: %w", err)
	}

	for _, n := range batch {
		if err := w.deliver(ctx, n); err != nil {
			w.logger.Warn("notification update failed",
				"notification_id", n.ID,
				"error", err,
			)
		}
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, n *model.Notification) error {
	if err := w.sender.Send(ctx, n); err != nil {
		return w.handleSendError(ctx, n, err)
	}

	w.metrics.IncNotification("delivered")
	w.logger.Info("notification delivered", "notification_id", n.ID, "kind", n.Kind)
	return w.outbox.MarkDelivered(ctx, n.ID)
}

func (w *Worker) handleSendError(ctx context.Context, n *model.Notification, sendErr error) error {
	nextAttempt := n.AttemptCount + 1
	exhausted := IsExhausted(nextAttempt, n.MaxAttempts)

	status := "failed"
	if exhausted {
		status = "exhausted"
	}

	w.logger.Warn("notification send failed",
		"notification_id", n.ID,
		"attempt", nextAttempt,
		"exhausted", exhausted,
		"error", sendErr,
	)
	w.metrics.IncNotification(status)

	nextRetryAt := time.Now().Add(NextRetryDelay(n.AttemptCount))
	return w.outbox.MarkFailed(ctx, n.ID, sendErr.Error(), nextRetryAt, exhausted)
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}
