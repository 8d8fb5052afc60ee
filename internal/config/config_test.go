package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		BaseURL:               "http://localhost:5001",
		DatabaseDriver:        "sqlite",
		SessionStore:          SessionStoreDatabase,
		RateLimitStore:        RateLimitStoreMemory,
		SigningAlgorithm:      SigningAlgorithmRS256,
		AccessTokenExpiration: time.Hour,
		IDTokenExpiration:     5 * time.Minute,
		AuthCodeExpiration:    5 * time.Minute,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name: "valid redis session store",
			mutate: func(c *Config) {
				c.SessionStore = SessionStoreRedis
				c.RedisAddr = "localhost:6379"
			},
		},
		{
			name:        "redis session store without address",
			mutate:      func(c *Config) { c.SessionStore = SessionStoreRedis },
			expectError: true,
			errorMsg:    "REDIS_ADDR is required when SESSION_STORE=redis",
		},
		{
			name:        "invalid session store",
			mutate:      func(c *Config) { c.SessionStore = "memcache" },
			expectError: true,
			errorMsg:    `invalid SESSION_STORE value: "memcache"`,
		},
		{
			name:        "invalid rate limit store",
			mutate:      func(c *Config) { c.RateLimitStore = "reddis" },
			expectError: true,
			errorMsg:    `invalid RATE_LIMIT_STORE value: "reddis"`,
		},
		{
			name:        "invalid database driver",
			mutate:      func(c *Config) { c.DatabaseDriver = "mysql" },
			expectError: true,
			errorMsg:    `invalid DATABASE_DRIVER value: "mysql"`,
		},
		{
			name:        "symmetric signing algorithm rejected",
			mutate:      func(c *Config) { c.SigningAlgorithm = "HS256" },
			expectError: true,
			errorMsg:    `invalid SIGNING_ALGORITHM value: "HS256"`,
		},
		{
			name:        "auth code lifetime above ten minutes",
			mutate:      func(c *Config) { c.AuthCodeExpiration = 15 * time.Minute },
			expectError: true,
			errorMsg:    "AUTH_CODE_EXPIRATION must be between",
		},
		{
			name:        "relative base url",
			mutate:      func(c *Config) { c.BaseURL = "/idp" },
			expectError: true,
			errorMsg:    `invalid BASE_URL value: "/idp"`,
		},
		{
			name: "plain http in production",
			mutate: func(c *Config) {
				c.IsProduction = true
				c.SessionSecret = "a-real-secret"
			},
			expectError: true,
			errorMsg:    "BASE_URL must use https in production",
		},
		{
			name: "default session secret in production",
			mutate: func(c *Config) {
				c.IsProduction = true
				c.BaseURL = "https://idp.example.com"
				c.SessionSecret = "session-secret-change-in-production"
			},
			expectError: true,
			errorMsg:    "SESSION_SECRET must be changed in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, time.Hour, cfg.AccessTokenExpiration)
	assert.Equal(t, 5*time.Minute, cfg.AuthCodeExpiration)
	assert.Equal(t, 2*time.Minute, cfg.ClockSkew)
	assert.Equal(t, 3, cfg.KeySetMaxRetries)
	assert.Equal(t, SigningAlgorithmRS256, cfg.SigningAlgorithm)
	assert.Equal(t, SessionStoreDatabase, cfg.SessionStore)
	assert.Equal(t, "api", cfg.ResourceIdentifier)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("BASE_URL", "https://idp.example.com/")
	t.Setenv("ACCESS_TOKEN_EXPIRATION", "15m")
	t.Setenv("KEYSET_MAX_RETRIES", "5")
	t.Setenv("CLIENT_SCOPES", "api.read api.write")
	t.Setenv("ENABLE_REFRESH_TOKENS", "false")

	cfg := Load()

	assert.Equal(t, "https://idp.example.com", cfg.BaseURL)
	assert.Equal(t, "https://idp.example.com", cfg.TrustedIssuer)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenExpiration)
	assert.Equal(t, 5, cfg.KeySetMaxRetries)
	assert.Equal(t, []string{"api.read", "api.write"}, cfg.ClientScopes)
	assert.False(t, cfg.EnableRefreshTokens)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_EXPIRATION", "soon")
	t.Setenv("KEYSET_MAX_RETRIES", "many")

	cfg := Load()

	assert.Equal(t, time.Hour, cfg.AccessTokenExpiration)
	assert.Equal(t, 3, cfg.KeySetMaxRetries)
}

func TestMaxTokenLifetime(t *testing.T) {
	cfg := &Config{AccessTokenExpiration: time.Hour, IDTokenExpiration: 2 * time.Hour}
	assert.Equal(t, 2*time.Hour, cfg.MaxTokenLifetime())
}
