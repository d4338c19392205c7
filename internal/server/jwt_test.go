package server

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/config"
)

const testSecret = "test-secret-key-for-jwt-signing-minimum-32-bytes"

func setupTestJWTService(_ *testing.T, expirationHours int) *JWTService {
	return NewJWTService(&config.JWTConfig{
		Secret:          testSecret,
		ExpirationHours: expirationHours,
	})
}

func signClaims(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTService_GenerateToken(t *testing.T) {
	service := setupTestJWTService(t, 24)

	token, err := service.GenerateToken("acme", "user:alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parts := strings.Split(token, ".")
	assert.Equal(t, 3, len(parts), "JWT should have 3 parts separated by dots")
}

func TestJWTService_RoundTripClaims(t *testing.T) {
	service := setupTestJWTService(t, 24)

	tests := []struct {
		name     string
		tenantID string
		actor    string
	}{
		{"tenant token", "acme", "user:alice"},
		{"operator token", "", "operator:ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := service.GenerateToken(tt.tenantID, tt.actor)
			require.NoError(t, err)

			claims, err := service.ValidateToken(token)
			require.NoError(t, err)
			assert.Equal(t, tt.tenantID, claims.GetTenantID())
			assert.Equal(t, tt.actor, claims.GetActor())
			assert.Equal(t, tt.actor, claims.Subject)
			require.NotNil(t, claims.ExpiresAt)
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
		})
	}
}

func TestJWTService_GenerateToken_RequiresActor(t *testing.T) {
	service := setupTestJWTService(t, 24)

	_, err := service.GenerateToken("acme", "")
	assert.Error(t, err)
}

func TestJWTService_ValidateToken_InvalidSignature(t *testing.T) {
	service := setupTestJWTService(t, 24)
	other := NewJWTService(&config.JWTConfig{Secret: "another-secret-key-that-is-long-enough", ExpirationHours: 24})

	token, err := other.GenerateToken("acme", "user:mallory")
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "signature")
}

func TestJWTService_ValidateToken_MalformedToken(t *testing.T) {
	service := setupTestJWTService(t, 24)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"too many segments", "a.b.c.d"},
		{"bad base64", "!!!.???.***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTService_ValidateToken_Expired(t *testing.T) {
	service := setupTestJWTService(t, 24)

	past := time.Now().Add(-2 * time.Hour)
	token := signClaims(t, testSecret, &Claims{
		TenantID: "acme",
		Actor:    "user:alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(past),
		},
	})

	claims, err := service.ValidateToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestJWTService_ValidateToken_RejectsNonHMAC(t *testing.T) {
	service := setupTestJWTService(t, 24)

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Actor: "user:alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestJWTService_ValidateToken_RequiresActor(t *testing.T) {
	service := setupTestJWTService(t, 24)

	token := signClaims(t, testSecret, &Claims{
		TenantID: "acme",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := service.ValidateToken(token)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "actor")
}
