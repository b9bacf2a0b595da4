// Package notify delivers outbound email through a transactional outbox:
// messages are recorded first and sent by a background worker.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/model"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("notification has no recipients")

// Outbox persists notifications awaiting delivery.
type Outbox interface {
	Enqueue(ctx context.Context, n *model.Notification) error

	// ClaimDue returns up to limit due notifications and pushes their next
	// retry time out by lease so concurrent workers skip them.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.Notification, error)

	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string, nextRetryAt time.Time, exhausted bool) error
	QueueDepth(ctx context.Context) (int64, error)
}

// Sender sends one notification.
type Sender interface {
	Send(ctx context.Context, n *model.Notification) error
}

// Notifier builds and enqueues notifications.
type Notifier struct {
	outbox      Outbox
	logger      *slog.Logger
	metrics     metrics.Recorder
	maxAttempts int
}

// NewNotifier creates a Notifier.
func NewNotifier(outbox Outbox, logger *slog.Logger, recorder metrics.Recorder) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Notifier{
		outbox:      outbox,
		logger:      logger.With("component", "notify"),
		metrics:     recorder,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Welcome enqueues the welcome email for a newly registered user.
func (n *Notifier) Welcome(ctx context.Context, user *model.User) error {
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Welcome to Imagify. Your account starts with %d free credits; each image costs one.</p>",
		html.EscapeString(user.Name), user.CreditBalance,
	)
	return n.enqueue(ctx, model.NotificationWelcome, []string{user.Email}, "Welcome to Imagify", body)
}

func (n *Notifier) enqueue(ctx context.Context, kind model.NotificationKind, to []string, subject, body string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	now := time.Now().UTC()
	msg := &model.Notification{
		ID:          ulid.Make().String(),
		Kind:        kind,
		Recipients:  to,
		Subject:     subject,
		Body:        body,
		Status:      model.NotificationPending,
		MaxAttempts: n.maxAttempts,
		NextRetryAt: now,
		CreatedAt:   now,
	}

	if err := n.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s notification: %w", kind, err)
	}

	n.metrics.IncNotification("enqueued")
	n.logger.Info("notification enqueued", "notification_id", msg.ID, "kind", kind)
	return nil
}
