package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMiddleware(t *testing.T, header string) (*httptest.ResponseRecorder, uuid.UUID, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen uuid.UUID
	err := Middleware(func(c echo.Context) error {
		id, err := GetUserIDFromContext(c)
		if err != nil {
			return err
		}
		seen = id
		return c.NoContent(http.StatusOK)
	})(c)
	return rec, seen, err
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestMiddlewareAcceptsIssuedToken(t *testing.T) {
	userID := uuid.New()
	token, err := IssueToken(userID)
	require.NoError(t, err)

	rec, seen, err := runMiddleware(t, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, seen)
}

func TestMiddlewareRejects(t *testing.T) {
	secret, err := signingKey()
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	expiredToken, err := expired.SignedString(secret)
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": uuid.NewString()})
	noExpiryToken, err := noExpiry.SignedString(secret)
	require.NoError(t, err)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "not-a-uuid",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	badSubjectToken, err := badSubject.SignedString(secret)
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	foreignToken, err := foreign.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	otherIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "someone-else",
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	otherIssuerToken, err := otherIssuer.SignedString(secret)
	require.NoError(t, err)

	wrongAlg := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"iss": tokenIssuer,
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	wrongAlgToken, err := wrongAlg.SignedString(secret)
	require.NoError(t, err)

	cases := map[string]string{
		"missing header":  "",
		"wrong scheme":    "Basic abc",
		"garbage":         "Bearer not.a.jwt",
		"expired":         "Bearer " + expiredToken,
		"no expiry":       "Bearer " + noExpiryToken,
		"bad subject":     "Bearer " + badSubjectToken,
		"foreign signing": "Bearer " + foreignToken,
		"other issuer":    "Bearer " + otherIssuerToken,
		"wrong algorithm": "Bearer " + wrongAlgToken,
		"empty bearer":    "Bearer ",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := runMiddleware(t, header)
			assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
		})
	}
}

func TestValidateSignup(t *testing.T) {
	req, err := validateSignup(SignupRequest{Email: "  Rep@Example.COM ", Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "rep@example.com", req.Email)

	_, err = validateSignup(SignupRequest{Email: "not-an-email", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = validateSignup(SignupRequest{Email: "Rep <rep@example.com>", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = validateSignup(SignupRequest{Email: "rep@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrPasswordTooWeak)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("bearer  abc.def ")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	_, ok = BearerToken("Token abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer")
	assert.False(t, ok)
}
