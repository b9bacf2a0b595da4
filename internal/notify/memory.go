package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imagify/imagify/internal/model"
)

// MemoryOutbox is an in-process Outbox for tests.
type MemoryOutbox struct {
	mu    sync.Mutex
	items map[string]*model.Notification
}

var _ Outbox = (*MemoryOutbox)(nil)

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{items: make(map[string]*model.Notification)}
}

func (m *MemoryOutbox) Enqueue(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *n
	cp.Recipients = append([]string(nil), n.Recipients...)
	m.items[n.ID] = &cp
	return nil
}

func (m *MemoryOutbox) ClaimDue(_ context.Context, limit int, lease time.Duration) ([]*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var due []*model.Notification
	for _, n := range m.items {
		if (n.Status == model.NotificationPending || n.Status == model.NotificationFailed) && !n.NextRetryAt.After(now) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.Notification, 0, len(due))
	for _, n := range due {
		n.NextRetryAt = now.Add(lease)
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryOutbox) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.items[id]; ok {
		now := time.Now()
		n.Status = model.NotificationDelivered
		n.AttemptCount++
		n.DeliveredAt = &now
		n.LastError = ""
	}
	return nil
}

func (m *MemoryOutbox) MarkFailed(_ context.Context, id, errMsg string, nextRetryAt time.Time, exhausted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.items[id]; ok {
		n.Status = model.NotificationFailed
		if exhausted {
			n.Status = model.NotificationExhausted
		}
		n.AttemptCount++
		n.LastError = errMsg
		n.NextRetryAt = nextRetryAt
	}
	return nil
}

func (m *MemoryOutbox) QueueDepth(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var depth int64
	for _, n := range m.items {
		if n.Status == model.NotificationPending || n.Status == model.NotificationFailed {
			depth++
		}
	}
	return depth, nil
}

// Get returns a copy of a stored notification.
func (m *MemoryOutbox) Get(id string) (*model.Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.items[id]
	if !ok {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// All returns copies of every stored notification.
func (m *MemoryOutbox) All() []*model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Notification, 0, len(m.items))
	for _, n := range m.items {
		cp := *n
		out = append(out, &cp)
	}
	return out
}
