package crm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/pipeline"
)

type memTokens struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]*oauth2.Token
	saves  int
}

func (m *memTokens) LoadToken(_ context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[userID]
	if !ok {
		return nil, ErrNoConnection
	}
	cp := *tok
	return &cp, nil
}

func (m *memTokens) SaveToken(_ context.Context, userID uuid.UUID, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tokens[userID] = &cp
	m.saves++
	return nil
}

func tokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "access-2", "token_type": "bearer", "expires_in": 1800, "refresh_token": "refresh-2"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return OAuthConfig(config.CRMConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://app.example.test/oauth/authorize",
		TokenURL:     tokenURL,
	})
}

func TestTokenSourceRefreshesAndPersists(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	userID := uuid.New()
	store := &memTokens{tokens: map[uuid.UUID]*oauth2.Token{
		userID: {AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Minute)},
	}}

	ts, err := NewTokenSource(context.Background(), testOAuthConfig(srv.URL), store, userID, nil)
	require.NoError(t, err)

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	saved, err := store.LoadToken(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "access-2", saved.AccessToken)
	assert.Equal(t, "refresh-2", saved.RefreshToken)

	// The fresh token is reused until it nears expiry.
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenSourceRefreshesInsideBuffer(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	userID := uuid.New()
	store := &memTokens{tokens: map[uuid.UUID]*oauth2.Token{
		userID: {AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(2 * time.Minute)},
	}}

	ts, err := NewTokenSource(context.Background(), testOAuthConfig(srv.URL), store, userID, nil)
	require.NoError(t, err)
	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, 1, store.saves)
}

func TestTokenSourceKeepsValidToken(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	userID := uuid.New()
	store := &memTokens{tokens: map[uuid.UUID]*oauth2.Token{
		userID: {AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour)},
	}}

	ts, err := NewTokenSource(context.Background(), testOAuthConfig(srv.URL), store, userID, nil)
	require.NoError(t, err)
	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestTokenSourceWithoutConnection(t *testing.T) {
	store := &memTokens{tokens: map[uuid.UUID]*oauth2.Token{}}
	_, err := NewTokenSource(context.Background(), testOAuthConfig("http://unused"), store, uuid.New(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrTokenUnavailable)
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestTokenSourceRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	userID := uuid.New()
	store := &memTokens{tokens: map[uuid.UUID]*oauth2.Token{
		userID: {AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Hour)},
	}}
	ts, err := NewTokenSource(context.Background(), testOAuthConfig(srv.URL), store, userID, nil)
	require.NoError(t, err)

	_, err = ts.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrTokenUnavailable)
	assert.Zero(t, store.saves)
}

func slowTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "late", "token_type": "bearer", "expires_in": 1800}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func expiredTokens(t *testing.T, tokenURL string) (*UserTokens, *memTokens) {
	t.Helper()
	userID := uuid.New()
	store := &memTokens{tokens: map[uuid.UUID]*oauth2.Token{
		userID: {AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Minute)},
	}}
	ts, err := NewTokenSource(context.Background(), testOAuthConfig(tokenURL), store, userID, nil)
	require.NoError(t, err)
	return ts, store
}

func TestRefreshHonorsCallerDeadline(t *testing.T) {
	srv := slowTokenServer(t)
	ts, store := expiredTokens(t, srv.URL)
	client := NewHubSpotClient(ts, config.CRMConfig{BaseURL: "http://unused"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Ready(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, store.saves)
}

func TestRefreshUsesClientTimeout(t *testing.T) {
	srv := slowTokenServer(t)
	ts, _ := expiredTokens(t, srv.URL)
	client := NewHubSpotClient(ts, config.CRMConfig{BaseURL: "http://unused"}, nil)
	client.Client.Timeout = 150 * time.Millisecond

	start := time.Now()
	err := client.Ready(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrTokenUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStaticTokensRespectCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := StaticTokens(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "a"})).Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
