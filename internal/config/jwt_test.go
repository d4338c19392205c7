package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_DefaultExpiration(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key")

	cfg, err := Load("")
	require.NoError(t, err)

	jwtCfg, err := cfg.JWT()
	require.NoError(t, err)
	assert.Equal(t, "test-secret-key", jwtCfg.Secret)
	assert.Equal(t, 24, jwtCfg.ExpirationHours, "should use default expiration of 24 hours")
}

func TestJWT_CustomExpiration(t *testing.T) {
	tests := []struct {
		name          string
		expiration    string
		expectedHours int
		wantErr       bool
	}{
		{name: "1 hour", expiration: "1", expectedHours: 1},
		{name: "1 week", expiration: "168", expectedHours: 168},
		{name: "zero hours", expiration: "0", wantErr: true},
		{name: "negative", expiration: "-5", wantErr: true},
		{name: "not a number", expiration: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret-key")
			t.Setenv("JWT_EXPIRATION_HOURS", tt.expiration)

			cfg, err := Load("")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			jwtCfg, err := cfg.JWT()
			require.NoError(t, err)
			assert.Equal(t, tt.expectedHours, jwtCfg.ExpirationHours)
		})
	}
}

func TestJWT_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load("")
	require.NoError(t, err)

	jwtCfg, err := cfg.JWT()
	assert.Error(t, err)
	assert.Nil(t, jwtCfg)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestJWTConfig_Normalize(t *testing.T) {
	assert.NoError(t, (&JWTConfig{Secret: "s", ExpirationHours: 1}).normalize())
	assert.Error(t, (&JWTConfig{Secret: "", ExpirationHours: 1}).normalize())
	assert.Error(t, (&JWTConfig{Secret: "s", ExpirationHours: 0}).normalize())
}
