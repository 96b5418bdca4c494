package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/models"
)

type failingStore struct {
	calls int
	fail  map[uuid.UUID]bool
	inner Store
}

func (f *failingStore) CreateNotification(ctx context.Context, n *models.Notification) (models.Delivery, error) {
	f.calls++
	if f.fail[n.UserID] {
		return models.Delivery{}, errors.New("connection reset")
	}
	return f.inner.CreateNotification(ctx, n)
}

func zombie(id string, score int) models.Deal {
	return models.Deal{ID: id, Name: "Deal " + id, DealAgeDays: 120, DaysSinceLastActivity: 40, HealthScore: score}
}

func TestEmitterZombieAlertDedup(t *testing.T) {
	store := NewMemoryStore(72 * time.Hour)
	emitter := NewEmitter(store, config.AlertConfig{CriticalBelow: 30}, nil)
	ctx := context.Background()
	user := uuid.New()

	d1, err := emitter.ZombieAlert(ctx, user, zombie("1", 30))
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryCreated, d1.Outcome)

	d2, err := emitter.ZombieAlert(ctx, user, zombie("1", 20))
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryRefreshed, d2.Outcome)
	assert.Equal(t, d1.ID, d2.ID)

	list := store.List(user, false)
	require.Len(t, list, 1)
	assert.Equal(t, models.LevelCritical, list[0].Level)
}

func TestEmitterSendWrapsStoreFailure(t *testing.T) {
	user := uuid.New()
	store := &failingStore{fail: map[uuid.UUID]bool{user: true}, inner: NewMemoryStore(time.Hour)}
	emitter := NewEmitter(store, config.AlertConfig{}, nil)

	_, err := emitter.SystemAlert(context.Background(), user, System{Title: "t", Message: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestEmitterRejectsInvalidParams(t *testing.T) {
	store := &failingStore{inner: NewMemoryStore(time.Hour)}
	emitter := NewEmitter(store, config.AlertConfig{}, nil)
	ctx := context.Background()

	cases := map[string]Params{
		"unknown type":  {Type: "pager", Title: "t", Message: "m"},
		"unknown level": {Type: models.NotificationSystem, Level: "loud", Title: "t", Message: "m"},
		"empty title":   {Type: models.NotificationSystem, Title: " ", Message: "m"},
		"empty message": {Type: models.NotificationSystem, Title: "t"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := emitter.Send(ctx, uuid.New(), p)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
	assert.Zero(t, store.calls)
}

func TestEmitterBulk(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mem := NewMemoryStore(time.Hour)
	store := &failingStore{fail: map[uuid.UUID]bool{b: true}, inner: mem}
	emitter := NewEmitter(store, config.AlertConfig{}, nil)
	ctx := context.Background()

	p := RenderSystem(System{Title: "New scoring rules", Message: "Zombie threshold is now 40."})
	sent, err := emitter.Bulk(ctx, []uuid.UUID{a, b, c}, p)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, mem.List(a, true), 1)
	assert.Empty(t, mem.List(b, true))

	_, err = emitter.Bulk(ctx, []uuid.UUID{a}, Params{Type: models.NotificationSystem})
	assert.ErrorIs(t, err, ErrInvalidParams)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	sent, err = emitter.Bulk(cancelled, []uuid.UUID{a, c}, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sent)
}
