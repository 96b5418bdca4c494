package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/crm"
	"github.com/david/deal-pulse/internal/db"
	"github.com/david/deal-pulse/internal/logging"
	"github.com/david/deal-pulse/internal/secrets"
)

// connect_crm links a user to HubSpot. Without -code it prints the consent
// URL; with -code it exchanges the authorization code and stores the
// encrypted token.
func main() {
	_ = godotenv.Load()

	email := flag.String("email", "", "email of the user to connect")
	code := flag.String("code", "", "authorization code returned to the redirect URL")
	redirect := flag.String("redirect", "http://localhost:8081/oauth/callback", "OAuth redirect URL registered with HubSpot")
	flag.Parse()

	logger := logging.Must()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	oc := crm.OAuthConfig(cfg.CRM)
	oc.RedirectURL = *redirect

	if *code == "" {
		state := make([]byte, 12)
		if _, err := rand.Read(state); err != nil {
			logger.Fatal("state generation failed", zap.Error(err))
		}
		fmt.Println("Open this URL, approve access, then rerun with -code:")
		fmt.Println(oc.AuthCodeURL(hex.EncodeToString(state)))
		return
	}
	if *email == "" {
		fmt.Println("Usage: connect_crm -email <user email> -code <authorization code>")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	store := db.NewStore(pool)
	ids, err := store.UserIDsByEmail(ctx, []string{strings.ToLower(strings.TrimSpace(*email))})
	if err != nil {
		logger.Fatal("user lookup failed", zap.Error(err))
	}
	userID, ok := ids[strings.ToLower(strings.TrimSpace(*email))]
	if !ok || userID == uuid.Nil {
		logger.Fatal("no user with that email", zap.String("email", *email))
	}

	tok, err := oc.Exchange(ctx, *code)
	if err != nil {
		logger.Fatal("code exchange failed", zap.Error(err))
	}

	if os.Getenv("CRM_TOKEN_KEY") == "" {
		logger.Fatal("CRM_TOKEN_KEY must be set, an ephemeral key would leave the stored token unreadable")
	}
	box, err := secrets.FromEnv(logger)
	if err != nil {
		logger.Fatal("token encryption unavailable", zap.Error(err))
	}

	if err := db.NewTokenStore(store, box, cfg.CRM.Provider).SaveToken(ctx, userID, tok); err != nil {
		logger.Fatal("saving token failed", zap.Error(err))
	}
	logger.Info("CRM connected", zap.String("user_id", userID.String()), zap.Time("expiry", tok.Expiry))
}
