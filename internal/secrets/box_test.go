package secrets

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func TestSealOpen(t *testing.T) {
	box, err := NewBox(testKey())
	require.NoError(t, err)

	sealed, err := box.Seal([]byte(`{"access_token":"abc"}`), []byte("user-1"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "abc")

	plain, err := box.Open(sealed, []byte("user-1"))
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"abc"}`, string(plain))
}

func TestOpenRejectsOtherUser(t *testing.T) {
	box, err := NewBox(testKey())
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("secret"), []byte("user-1"))
	require.NoError(t, err)

	_, err = box.Open(sealed, []byte("user-2"))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = box.Open(sealed[:10], []byte("user-1"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestSealUsesFreshNonce(t *testing.T) {
	box, err := NewBox(testKey())
	require.NoError(t, err)

	a, _ := box.Seal([]byte("same"), nil)
	b, _ := box.Seal([]byte("same"), nil)
	assert.NotEqual(t, a, b)
}

func TestNewBoxKeyLength(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
