package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/imagify/imagify/internal/model"
)

const maxErrorLength = 500

// Repository is the Postgres outbox.
type Repository struct {
	db *sql.DB
}

var _ Outbox = (*Repository)(nil)

// NewRepository creates a new outbox repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open opens a database/sql pool on the lib/pq driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping outbox database: %w", err)
	}
	return db, nil
}

func (r *Repository) Enqueue(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, kind, recipients, subject, body, status,
			attempt_count, max_attempts, next_retry_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		string(n.Kind),
		pq.Array(n.Recipients),
		n.Subject,
		n.Body,
		string(n.Status),
		n.AttemptCount,
		n.MaxAttempts,
		n.NextRetryAt,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ClaimDue leases due rows with SKIP LOCKED so two workers never pick the
// same notification in the same lease window.
func (r *Repository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.Notification, error) {
	query := `
		UPDATE notifications
		SET next_retry_at = $3
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status IN ('pending', 'failed')
			  AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, recipients, subject, body, status,
				  attempt_count, max_attempts, next_retry_at,
				  COALESCE(last_error, ''), created_at, delivered_at
	`

	now := time.Now()
	rows, err := r.db.QueryContext(ctx, query, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		var (
			n           model.Notification
			kind        string
			status      string
			deliveredAt sql.NullTime
		)
		if err := rows.Scan(
			&n.ID,
			&kind,
			pq.Array(&n.Recipients),
			&n.Subject,
			&n.Body,
			&status,
			&n.AttemptCount,
			&n.MaxAttempts,
			&n.NextRetryAt,
			&n.LastError,
			&n.CreatedAt,
			&deliveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = model.NotificationKind(kind)
		n.Status = model.NotificationStatus(status)
		if deliveredAt.Valid {
			n.DeliveredAt = &deliveredAt.Time
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (r *Repository) MarkDelivered(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET status = 'delivered',
			attempt_count = attempt_count + 1,
			delivered_at = $2,
			last_error = NULL
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, time.Now()); err != nil {
		return fmt.Errorf("update notification delivered: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, id, errMsg string, nextRetryAt time.Time, exhausted bool) error {
	status := model.NotificationFailed
	if exhausted {
		status = model.NotificationExhausted
	}
	if len(errMsg) > maxErrorLength {
		errMsg = errMsg[:maxErrorLength]
	}

	query := `
		UPDATE notifications
		SET status = $2,
			attempt_count = attempt_count + 1,
			last_error = $3,
			next_retry_at = $4
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, string(status), errMsg, nextRetryAt); err != nil {
		return fmt.Errorf("update notification failure: %w", err)
	}
	return nil
}

func (r *Repository) QueueDepth(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE status IN ('pending', 'failed')
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}
