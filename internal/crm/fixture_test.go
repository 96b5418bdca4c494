package crm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/deal-pulse/internal/pipeline"
)

func TestLoadFixturePages(t *testing.T) {
	src, err := LoadFixture("testdata/deals.yaml", 3)
	require.NoError(t, err)
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	src.Now = func() time.Time { return now }

	deals, err := pipeline.CollectDeals(context.Background(), src, 10)
	require.NoError(t, err)
	require.Len(t, deals, 7)

	assert.Equal(t, "5001", deals[0].ID)
	assert.Equal(t, now.AddDate(0, 0, -132).Format(time.RFC3339), deals[0].CreateDate)
	assert.Equal(t, "2024-11-30", deals[0].CloseDate)
	assert.Empty(t, deals[6].CreateDate)

	owners, err := src.FetchOwners(context.Background())
	require.NoError(t, err)
	assert.Len(t, owners, 3)
	assert.Equal(t, "sarah.chen@example.com", owners[0].Email)
}

func TestFixtureCursor(t *testing.T) {
	src := NewFixtureSource(Fixture{Deals: []pipeline.RawDeal{{ID: "a"}, {ID: "b"}, {ID: "c"}}}, 2)

	page, err := src.FetchDealsPage(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, page.Deals, 2)
	assert.Equal(t, "2", page.NextCursor)

	page, err = src.FetchDealsPage(context.Background(), page.NextCursor)
	require.NoError(t, err)
	assert.Len(t, page.Deals, 1)
	assert.Empty(t, page.NextCursor)

	_, err = src.FetchDealsPage(context.Background(), "x")
	assert.Error(t, err)
}

func TestResolveRelative(t *testing.T) {
	now := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-02-02T00:00:00Z", resolveRelative("-10d", now))
	assert.Equal(t, "2026-02-15T00:00:00Z", resolveRelative("+3d", now))
	assert.Equal(t, "2025-01-01", resolveRelative("2025-01-01", now))
	assert.Equal(t, "", resolveRelative("", now))
}

func TestFixtureScoresThroughMapper(t *testing.T) {
	src, err := LoadFixture("testdata/deals.yaml", 100)
	require.NoError(t, err)
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	src.Now = func() time.Time { return now }

	raw, err := pipeline.CollectDeals(context.Background(), src, 5)
	require.NoError(t, err)
	owners, _ := src.FetchOwners(context.Background())

	deals, skipped := pipeline.NewMapper(nil).MapBatch(raw, pipeline.BuildOwnerDirectory(owners), now)
	assert.Len(t, skipped, 1)
	require.Len(t, deals, 6)

	assert.Equal(t, "Sarah Chen", deals[0].OwnerName)
	assert.Equal(t, "Unassigned", deals[2].OwnerName)
	assert.Equal(t, 72500.0, deals[4].Amount)
}
