package crm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/pipeline"
)

// RefreshBuffer is how long before expiry an access token is replaced.
const RefreshBuffer = 5 * time.Minute

var ErrNoConnection = errors.New("no CRM connection for user")

// TokenStore persists one OAuth token per user. Implementations encrypt at
// rest.
type TokenStore interface {
	LoadToken(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID uuid.UUID, tok *oauth2.Token) error
}

func OAuthConfig(cfg config.CRMConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"crm.objects.deals.read", "crm.objects.owners.read"},
	}
}

// TokenProvider supplies access tokens. ctx bounds any refresh the provider
// has to perform.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// StaticTokens adapts a context-free oauth2.TokenSource, such as a fixed
// access token.
func StaticTokens(ts oauth2.TokenSource) TokenProvider {
	return staticTokens{ts}
}

type staticTokens struct{ ts oauth2.TokenSource }

func (s staticTokens) Token(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ts.Token()
}

// NewTokenSource returns the token provider for userID. The stored token is
// reused until it is within RefreshBuffer of expiry; refreshed tokens are
// written back to store. A user without a stored connection gets
// pipeline.ErrTokenUnavailable.
func NewTokenSource(ctx context.Context, conf *oauth2.Config, store TokenStore, userID uuid.UUID, logger *zap.Logger) (*UserTokens, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tok, err := store.LoadToken(ctx, userID)
	if errors.Is(err, ErrNoConnection) {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrTokenUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("loading CRM token: %w", err)
	}

	return &UserTokens{
		conf:   conf,
		store:  store,
		userID: userID,
		tok:    tok,
		now:    time.Now,
		logger: logger,
	}, nil
}

// UserTokens is a refreshing TokenProvider for one user's CRM connection.
type UserTokens struct {
	mu     sync.Mutex
	conf   *oauth2.Config
	store  TokenStore
	userID uuid.UUID
	tok    *oauth2.Token
	now    func() time.Time
	logger *zap.Logger
}

func (u *UserTokens) fresh() bool {
	if u.tok == nil || u.tok.AccessToken == "" {
		return false
	}
	return u.tok.Expiry.IsZero() || u.now().Add(RefreshBuffer).Before(u.tok.Expiry)
}

// Token returns the cached access token or performs a refresh-token grant
// bounded by ctx. The HTTP client for the grant can be supplied through
// ctx under oauth2.HTTPClient.
func (u *UserTokens) Token(ctx context.Context) (*oauth2.Token, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.fresh() {
		return u.tok, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u.tok == nil || u.tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", pipeline.ErrTokenUnavailable)
	}

	// An empty access token forces the oauth2 source to refresh.
	tok, err := u.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: u.tok.RefreshToken}).Token()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: refresh failed: %w", pipeline.ErrTokenUnavailable, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = u.tok.RefreshToken
	}
	u.tok = tok

	// A refreshed token is persisted even when the scan that triggered it
	// is being cancelled.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := u.store.SaveToken(saveCtx, u.userID, tok); err != nil {
		u.logger.Warn("refreshed CRM token not persisted", zap.String("user_id", u.userID.String()), zap.Error(err))
	} else {
		u.logger.Info("refreshed CRM token", zap.String("user_id", u.userID.String()), zap.Time("expiry", tok.Expiry))
	}
	return tok, nil
}
