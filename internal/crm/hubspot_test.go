package crm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/pipeline"
)

func newTestClient(t *testing.T, handler http.Handler) *HubSpotClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: "access-1",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})
	return NewHubSpotClient(StaticTokens(tokens), config.CRMConfig{
		BaseURL:      srv.URL,
		PageSize:     2,
		MaxRetries:   2,
		RateLimitRPS: 1000,
	}, nil)
}

func TestFetchDealsPage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/deals", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Contains(t, r.URL.Query().Get("properties"), "hubspot_owner_id")

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after") == "" {
			w.Write([]byte(`{
				"results": [
					{"id": "1", "properties": {"dealname": "Acme", "amount": "1200", "dealstage": "proposal", "hubspot_owner_id": "101", "createdate": "2025-10-01T00:00:00Z", "hs_lastmodifieddate": "2026-01-01T00:00:00Z"}},
					{"id": "2", "properties": {"dealname": null, "amount": null}}
				],
				"paging": {"next": {"after": "cursor-2"}}
			}`))
			return
		}
		assert.Equal(t, "cursor-2", r.URL.Query().Get("after"))
		w.Write([]byte(`{"results": [{"id": "3", "properties": {"dealname": "Last"}}]}`))
	}))

	ctx := context.Background()
	page, err := client.FetchDealsPage(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Deals, 2)
	assert.Equal(t, "cursor-2", page.NextCursor)
	assert.Equal(t, pipeline.RawDeal{
		ID:               "1",
		Name:             "Acme",
		Amount:           "1200",
		Stage:            "proposal",
		OwnerID:          "101",
		CreateDate:       "2025-10-01T00:00:00Z",
		LastModifiedDate: "2026-01-01T00:00:00Z",
	}, page.Deals[0])
	assert.Equal(t, "", page.Deals[1].Name)

	page, err = client.FetchDealsPage(ctx, "cursor-2")
	require.NoError(t, err)
	require.Len(t, page.Deals, 1)
	assert.Empty(t, page.NextCursor)
}

func TestFetchOwnersFollowsPaging(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/owners", r.URL.Path)
		if r.URL.Query().Get("after") == "" {
			w.Write([]byte(`{"results": [{"id": "101", "email": "sarah@example.com", "firstName": "Sarah", "lastName": "Chen"}], "paging": {"next": {"after": "p2"}}}`))
			return
		}
		w.Write([]byte(`{"results": [{"id": "102", "email": "mike@example.com", "firstName": "Mike"}]}`))
	}))

	owners, err := client.FetchOwners(context.Background())
	require.NoError(t, err)
	require.Len(t, owners, 2)
	assert.Equal(t, "Chen", owners[0].LastName)
	assert.Equal(t, "102", owners[1].ID)
}

func TestRetriesRateLimitedRequests(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results": []}`))
	}))

	page, err := client.FetchDealsPage(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, page.Deals)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.FetchDealsPage(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestUnauthorizedIsTokenError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "expired"}`))
	}))

	_, err := client.FetchDealsPage(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrTokenUnavailable))
}

func TestReadyWithoutToken(t *testing.T) {
	client := NewHubSpotClient(StaticTokens(oauth2.StaticTokenSource(&oauth2.Token{})), config.CRMConfig{}, nil)
	err := client.Ready(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrTokenUnavailable)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 3*time.Second, backoff(0, "3"))
	assert.Equal(t, 500*time.Millisecond, backoff(0, ""))
	assert.Equal(t, 2*time.Second, backoff(2, "soon"))
	assert.Equal(t, 10*time.Second, backoff(8, ""))
}

func TestBaseURLDefault(t *testing.T) {
	client := NewHubSpotClient(nil, config.CRMConfig{BaseURL: "https://example.test/"}, nil)
	assert.False(t, strings.HasSuffix(client.BaseURL, "/"))
	assert.Equal(t, 100, client.pageSize)
}
