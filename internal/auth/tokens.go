package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	tokenIssuer = "deal-pulse"
	sessionTTL  = 24 * time.Hour
)

var (
	errBadToken = errors.New("invalid or expired token")

	signingKeyOnce sync.Once
	signingKeyVal  []byte
	signingKeyErr  error
)

// Claims carries the user id as the JWT subject. Scans and notifications are
// always scoped to that subject.
type Claims struct {
	jwt.RegisteredClaims
}

// signingKey returns JWT_SECRET, or a random key that lives as long as the
// process. Sessions signed with the random key do not survive a restart.
func signingKey() ([]byte, error) {
	signingKeyOnce.Do(func() {
		if secret := strings.TrimSpace(os.Getenv("JWT_SECRET")); secret != "" {
			signingKeyVal = []byte(secret)
			return
		}
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			signingKeyErr = fmt.Errorf("generating JWT signing key: %w", err)
			return
		}
		signingKeyVal = []byte(base64.RawURLEncoding.EncodeToString(buf))
		zap.L().Warn("JWT_SECRET is not set, sessions will not survive a restart")
	})
	return signingKeyVal, signingKeyErr
}

// IssueToken signs a session token for userID. Tools use it to act on behalf
// of a user.
func IssueToken(userID uuid.UUID) (string, error) {
	key, err := signingKey()
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ParseToken verifies a session token and returns its subject.
func ParseToken(raw string) (uuid.UUID, error) {
	key, err := signingKey()
	if err != nil {
		return uuid.Nil, err
	}
	var claims Claims
	_, err = jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", errBadToken, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", errBadToken)
	}
	return id, nil
}
