package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/david/deal-pulse/internal/models"
)

// MemoryStore keeps notifications in process with the same fingerprint rules
// as the Postgres store: an open (unread, undismissed) alert with the same
// fingerprint is refreshed in place, and one the user read or dismissed within
// the cooldown suppresses a new one.
type MemoryStore struct {
	mu       sync.Mutex
	items    []*models.Notification
	cooldown time.Duration
	now      func() time.Time
}

func NewMemoryStore(cooldown time.Duration) *MemoryStore {
	return &MemoryStore{cooldown: cooldown, now: time.Now}
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) (models.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return models.Delivery{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()

	if n.Fingerprint != nil {
		cutoff := now.Add(-s.cooldown)
		for _, existing := range s.items {
			if existing.UserID != n.UserID || existing.Fingerprint == nil || *existing.Fingerprint != *n.Fingerprint {
				continue
			}
			if !existing.IsRead && !existing.IsDismissed {
				existing.Level = n.Level
				existing.Title = n.Title
				existing.Message = n.Message
				existing.Metadata = n.Metadata
				return models.Delivery{ID: existing.ID, Outcome: models.DeliveryRefreshed}, nil
			}
			if closedAt(existing).After(cutoff) {
				return models.Delivery{ID: existing.ID, Outcome: models.DeliverySuppressed}, nil
			}
		}
	}

	stored := *n
	stored.ID = uuid.New()
	stored.CreatedAt = now
	stored.IsRead = false
	stored.IsDismissed = false
	s.items = append(s.items, &stored)
	n.ID = stored.ID
	n.CreatedAt = stored.CreatedAt
	return models.Delivery{ID: stored.ID, Outcome: models.DeliveryCreated}, nil
}

// closedAt is when the user last acted on n; the cooldown runs from there.
func closedAt(n *models.Notification) time.Time {
	switch {
	case n.DismissedAt != nil:
		return *n.DismissedAt
	case n.ReadAt != nil:
		return *n.ReadAt
	}
	return n.CreatedAt
}

// List returns the user's undismissed notifications, newest first.
func (s *MemoryStore) List(userID uuid.UUID, unreadOnly bool) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Notification
	for _, n := range s.items {
		if n.UserID != userID || n.IsDismissed || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, *n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) MarkRead(userID, id uuid.UUID) bool {
	return s.update(userID, id, func(n *models.Notification, now time.Time) {
		n.IsRead = true
		n.ReadAt = &now
	})
}

func (s *MemoryStore) Dismiss(userID, id uuid.UUID) bool {
	return s.update(userID, id, func(n *models.Notification, now time.Time) {
		n.IsDismissed = true
		n.DismissedAt = &now
	})
}

func (s *MemoryStore) update(userID, id uuid.UUID, fn func(*models.Notification, time.Time)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id && n.UserID == userID {
			fn(n, s.now().UTC())
			return true
		}
	}
	return false
}
