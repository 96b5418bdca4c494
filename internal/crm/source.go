package crm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/pipeline"
)

// NewSource opens the deal source configured for userID: the YAML fixture,
// or HubSpot authenticated with the user's stored token.
func NewSource(ctx context.Context, cfg config.CRMConfig, tokens TokenStore, userID uuid.UUID, logger *zap.Logger) (pipeline.DealSource, error) {
	switch cfg.Provider {
	case "fixture":
		if cfg.FixturePath == "" {
			return nil, fmt.Errorf("%w: crm.fixture_path is required for the fixture provider", pipeline.ErrInvalidConfiguration)
		}
		return LoadFixture(cfg.FixturePath, cfg.PageSize)
	case "hubspot", "":
		if tokens == nil {
			return nil, fmt.Errorf("%w: no token store configured", pipeline.ErrTokenUnavailable)
		}
		ts, err := NewTokenSource(ctx, OAuthConfig(cfg), tokens, userID, logger)
		if err != nil {
			return nil, err
		}
		return NewHubSpotClient(ts, cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown CRM provider %q", pipeline.ErrInvalidConfiguration, cfg.Provider)
	}
}
