package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/server"
)

func TestTokenCommand(t *testing.T) {
	const secret = "cli-test-secret-with-enough-length"
	loadTestConfig(t, map[string]string{"JWT_SECRET": secret})

	out, err := execute(t, "token", "--tenant", "acme", "--actor", "user:alice")
	require.NoError(t, err, out)

	svc := server.NewJWTService(&config.JWTConfig{Secret: secret, ExpirationHours: 1})
	claims, err := svc.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, "user:alice", claims.Actor)
}

func TestTokenCommand_OperatorToken(t *testing.T) {
	const secret = "cli-test-secret-with-enough-length"
	loadTestConfig(t, map[string]string{"JWT_SECRET": secret})

	out, err := execute(t, "token", "--actor", "ops:oncall")
	require.NoError(t, err, out)

	svc := server.NewJWTService(&config.JWTConfig{Secret: secret, ExpirationHours: 1})
	claims, err := svc.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Empty(t, claims.TenantID)
}

func TestTokenCommand_RequiresSecretAndActor(t *testing.T) {
	loadTestConfig(t, map[string]string{"JWT_SECRET": ""})

	_, err := execute(t, "token", "--actor", "user:alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")

	_, err = execute(t, "token", "--tenant", "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "actor" not set`)
}
