package model

import "time"

// NotificationKind identifies the template of an outbound message.
type NotificationKind string

const (
	NotificationWelcome NotificationKind = "welcome"
)

// NotificationStatus represents outbox delivery state.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
	NotificationExhausted NotificationStatus = "exhausted"
)

// Notification is an outbox row for one outbound email.
type Notification struct {
	ID           string             `json:"id"`
	Kind         NotificationKind   `json:"kind"`
	Recipients   []string           `json:"recipients"`
	Subject      string             `json:"subject"`
	Body         string             `json:"-"`
	Status       NotificationStatus `json:"status"`
	AttemptCount int                `json:"attempt_count"`
	MaxAttempts  int                `json:"max_attempts"`
	NextRetryAt  time.Time          `json:"next_retry_at"`
	LastError    string             `json:"last_error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	DeliveredAt  *time.Time         `json:"delivered_at,omitempty"`
}
