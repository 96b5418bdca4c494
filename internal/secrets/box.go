package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	ErrDecrypt    = errors.New("ciphertext could not be opened")

	defaultOnce sync.Once
	defaultBox  *Box
	defaultErr  error
)

// Box seals small secrets (CRM tokens) with XChaCha20-Poly1305. Each
// ciphertext carries its random nonce as a prefix.
type Box struct {
	key []byte
}

func NewBox(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Box{key: k}, nil
}

// FromEnv builds the process-wide box from CRM_TOKEN_KEY (base64). Without a
// key it falls back to an in-memory key, which makes stored tokens unreadable
// after a restart.
func FromEnv(logger *zap.Logger) (*Box, error) {
	defaultOnce.Do(func() {
		raw := strings.TrimSpace(os.Getenv("CRM_TOKEN_KEY"))
		if raw != "" {
			key, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				defaultErr = fmt.Errorf("decoding CRM_TOKEN_KEY: %w", err)
				return
			}
			defaultBox, defaultErr = NewBox(key)
			return
		}

		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			defaultErr = fmt.Errorf("failed to generate fallback token key: %w", err)
			return
		}
		defaultBox, defaultErr = NewBox(key)
		if logger != nil {
			logger.Warn("CRM_TOKEN_KEY is not set; using ephemeral in-memory key")
		}
	})
	return defaultBox, defaultErr
}

// Seal encrypts plaintext bound to aad; the same aad must be passed to Open.
func (b *Box) Seal(plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (b *Box) Open(ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
