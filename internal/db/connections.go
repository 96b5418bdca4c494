package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/oauth2"

	"github.com/david/deal-pulse/internal/crm"
	"github.com/david/deal-pulse/internal/secrets"
)

// TokenStore keeps each user's CRM OAuth token sealed in crm_connections.
// The user id is bound into the ciphertext, so a row copied to another user
// does not decrypt.
type TokenStore struct {
	store    *Store
	box      *secrets.Box
	provider string
}

func NewTokenStore(store *Store, box *secrets.Box, provider string) *TokenStore {
	if provider == "" {
		provider = "hubspot"
	}
	return &TokenStore{store: store, box: box, provider: provider}
}

func (t *TokenStore) LoadToken(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	var sealed []byte
	err := t.store.pool.QueryRow(ctx, `
		SELECT token_ciphertext FROM crm_connections WHERE user_id = $1
	`, userID).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crm.ErrNoConnection
	}
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	return openToken(t.box, userID, sealed)
}

func (t *TokenStore) SaveToken(ctx context.Context, userID uuid.UUID, tok *oauth2.Token) error {
	sealed, err := sealToken(t.box, userID, tok)
	if err != nil {
		return err
	}
	var expires interface{}
	if !tok.Expiry.IsZero() {
		expires = tok.Expiry
	}
	_, err = t.store.pool.Exec(ctx, `
		INSERT INTO crm_connections (user_id, provider, token_ciphertext, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			token_ciphertext = EXCLUDED.token_ciphertext,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, userID, t.provider, sealed, expires)
	if err != nil {
		return fmt.Errorf("saving connection: %w", err)
	}
	return nil
}

func (t *TokenStore) DeleteToken(ctx context.Context, userID uuid.UUID) error {
	tag, err := t.store.pool.Exec(ctx, `DELETE FROM crm_connections WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return crm.ErrNoConnection
	}
	return nil
}

func sealToken(box *secrets.Box, userID uuid.UUID, tok *oauth2.Token) ([]byte, error) {
	if tok == nil || (tok.RefreshToken == "" && tok.AccessToken == "") {
		return nil, errors.New("refusing to store an empty token")
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("encoding token: %w", err)
	}
	return box.Seal(plain, userID[:])
}

func openToken(box *secrets.Box, userID uuid.UUID, sealed []byte) (*oauth2.Token, error) {
	plain, err := box.Open(sealed, userID[:])
	if err != nil {
		return nil, fmt.Errorf("%w: stored token unreadable: %w", crm.ErrNoConnection, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return &tok, nil
}
