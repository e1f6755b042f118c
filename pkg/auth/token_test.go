package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/marketplace-backend/pkg/config"
)

var testCfg = config.JWTConfig{
	Secret:   "secret",
	Issuer:   "https://auth.cardvault.test/auth/v1",
	Audience: "authenticated",
}

func TestMintAndParseAccessToken(t *testing.T) {
	userID := uuid.New()
	token, err := MintAccessToken(testCfg, time.Now(), time.Hour, userID, "ash@example.com")
	require.NoError(t, err)

	claims, err := ParseAccessToken(testCfg, token)
	require.NoError(t, err)
	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	assert.Equal(t, "ash@example.com", claims.Email)
}

func TestParseAccessTokenRejects(t *testing.T) {
	userID := uuid.New()

	expired, err := MintAccessToken(testCfg, time.Now().Add(-2*time.Hour), time.Hour, userID, "")
	require.NoError(t, err)
	_, err = ParseAccessToken(testCfg, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	wrongIssuer := testCfg
	wrongIssuer.Issuer = "https://evil.test"
	token, err := MintAccessToken(wrongIssuer, time.Now(), time.Hour, userID, "")
	require.NoError(t, err)
	_, err = ParseAccessToken(testCfg, token)
	assert.Error(t, err)

	wrongSecret := testCfg
	wrongSecret.Secret = "other"
	token, err = MintAccessToken(wrongSecret, time.Now(), time.Hour, userID, "")
	require.NoError(t, err)
	_, err = ParseAccessToken(testCfg, token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	token, err = MintAccessToken(testCfg, time.Now(), time.Hour, uuid.Nil, "")
	require.NoError(t, err)
	_, err = ParseAccessToken(testCfg, token)
	assert.Error(t, err)
}

func TestParseAccessTokenRequiresSecret(t *testing.T) {
	_, err := ParseAccessToken(config.JWTConfig{}, "x.y.z")
	assert.Error(t, err)
}
