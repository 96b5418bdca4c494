package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/deal-pulse/internal/models"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newClockedStore(cooldown time.Duration) (*MemoryStore, *clock) {
	c := &clock{now: time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(cooldown)
	s.SetClock(c.Now)
	return s, c
}

func fingerprinted(user uuid.UUID, fp, msg string) *models.Notification {
	return &models.Notification{
		UserID:      user,
		Type:        models.NotificationZombieDeal,
		Level:       models.LevelWarning,
		Title:       "Zombie",
		Message:     msg,
		Fingerprint: &fp,
	}
}

func TestMemoryStoreSuppressesWithinCooldown(t *testing.T) {
	store, clk := newClockedStore(72 * time.Hour)
	ctx := context.Background()
	user := uuid.New()

	first, err := store.CreateNotification(ctx, fingerprinted(user, "fp", "one"))
	require.NoError(t, err)
	require.True(t, store.MarkRead(user, first.ID))

	clk.now = clk.now.Add(24 * time.Hour)
	d, err := store.CreateNotification(ctx, fingerprinted(user, "fp", "two"))
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySuppressed, d.Outcome)

	clk.now = clk.now.Add(49 * time.Hour)
	d, err = store.CreateNotification(ctx, fingerprinted(user, "fp", "three"))
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryCreated, d.Outcome)
	assert.NotEqual(t, first.ID, d.ID)
}

func TestMemoryStoreCooldownStartsWhenRead(t *testing.T) {
	store, clk := newClockedStore(72 * time.Hour)
	ctx := context.Background()
	user := uuid.New()

	first, err := store.CreateNotification(ctx, fingerprinted(user, "fp", "one"))
	require.NoError(t, err)

	// Left open for four days, then read.
	clk.now = clk.now.Add(96 * time.Hour)
	require.True(t, store.MarkRead(user, first.ID))

	clk.now = clk.now.Add(time.Hour)
	d, err := store.CreateNotification(ctx, fingerprinted(user, "fp", "two"))
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySuppressed, d.Outcome)

	clk.now = clk.now.Add(72 * time.Hour)
	d, err = store.CreateNotification(ctx, fingerprinted(user, "fp", "three"))
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryCreated, d.Outcome)
}

func TestMemoryStoreDismissSuppresses(t *testing.T) {
	store, _ := newClockedStore(72 * time.Hour)
	ctx := context.Background()
	user := uuid.New()

	first, _ := store.CreateNotification(ctx, fingerprinted(user, "fp", "one"))
	require.True(t, store.Dismiss(user, first.ID))
	assert.Empty(t, store.List(user, false))

	d, _ := store.CreateNotification(ctx, fingerprinted(user, "fp", "two"))
	assert.Equal(t, models.DeliverySuppressed, d.Outcome)
}

func TestMemoryStoreScopesByUser(t *testing.T) {
	store, _ := newClockedStore(time.Hour)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	a, _ := store.CreateNotification(ctx, fingerprinted(alice, "fp", "a"))
	b, _ := store.CreateNotification(ctx, fingerprinted(bob, "fp", "b"))
	assert.Equal(t, models.DeliveryCreated, b.Outcome)

	assert.False(t, store.MarkRead(bob, a.ID))
	assert.Len(t, store.List(alice, true), 1)
}

func TestMemoryStoreWithoutFingerprintAlwaysCreates(t *testing.T) {
	store, clk := newClockedStore(time.Hour)
	ctx := context.Background()
	user := uuid.New()

	for i := 0; i < 3; i++ {
		clk.now = clk.now.Add(time.Minute)
		d, err := store.CreateNotification(ctx, &models.Notification{UserID: user, Type: models.NotificationSystem, Level: models.LevelInfo, Title: "t", Message: "m"})
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryCreated, d.Outcome)
	}
	list := store.List(user, false)
	require.Len(t, list, 3)
	assert.True(t, list[0].CreatedAt.After(list[2].CreatedAt))
}
