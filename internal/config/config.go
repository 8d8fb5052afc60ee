package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session store backends
const (
	SessionStoreDatabase = "database"
	SessionStoreRedis    = "redis"
)

// Rate limit store backends
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Signing algorithms
const (
	SigningAlgorithmRS256 = "RS256"
	SigningAlgorithmES256 = "ES256"
)

// MaxAuthCodeExpiration is the longest lifetime accepted for authorization codes.
const MaxAuthCodeExpiration = 10 * time.Minute

type Config struct {
	// Server settings
	ServerAddr   string
	BaseURL      string // Issuer identifier and base for all endpoint URLs
	IsProduction bool

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string

	// Session store (authorization codes, refresh tokens, consents)
	SessionStore string // "database" or "redis"

	// Redis (session store and rate limiting)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Login session cookie
	SessionSecret string
	SessionMaxAge int // seconds

	// Token lifetimes
	AccessTokenExpiration  time.Duration
	IDTokenExpiration      time.Duration
	AuthCodeExpiration     time.Duration
	RefreshTokenExpiration time.Duration
	EnableRefreshTokens    bool

	// Signing keys
	SigningAlgorithm    string // "RS256" or "ES256"
	SigningKeyFile      string // Optional PEM bootstrap key
	PersistSigningKeys  bool
	KeyRotationInterval time.Duration // 0 disables scheduled rotation

	// Registry
	RegistryCacheTTL time.Duration

	// Background jobs
	CleanupInterval time.Duration

	// Provisioning
	ProvisioningFile string // Optional YAML manifest; embedded default when empty
	AutoProvision    bool   // Run provisioning on server start

	// Metrics
	MetricsEnabled bool
	MetricsToken   string

	// Rate limiting
	EnableRateLimit     bool
	RateLimitStore      string
	TokenRateLimit      int // requests per minute per IP
	AuthorizeRateLimit  int
	LoginRateLimit      int
	CORSAllowAllOrigins bool

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"
	LogFile   string

	// Resource server
	ResourceAddr           string
	ResourceIdentifier     string // Audience the resource server accepts
	TrustedIssuer          string
	KeySetRefreshInterval  time.Duration
	KeySetMinRefreshPeriod time.Duration // lower bound between kid-miss refreshes
	KeySetMaxRetries       int
	KeySetRetryDelay       time.Duration
	KeySetFetchTimeout     time.Duration
	ClockSkew              time.Duration

	// Demo clients
	ClientID            string
	ClientSecret        string
	ClientScopes        []string
	ResourceURL         string
	WebClientAddr       string
	WebClientID         string
	WebClientSecret     string
	WebClientRedirect   string
	WebClientScopes     []string
	WebClientSessionKey string
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	driver := getEnv("DATABASE_DRIVER", "sqlite")
	var dsn string
	if driver == "sqlite" {
		dsn = getEnv("DATABASE_DSN", getEnv("DATABASE_PATH", "idgate.db"))
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	baseURL := getEnv("BASE_URL", "http://localhost:5001")

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":5001"),
		BaseURL:      strings.TrimRight(baseURL, "/"),
		IsProduction: getEnvBool("ENVIRONMENT_PRODUCTION", false),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,

		SessionStore: getEnv("SESSION_STORE", SessionStoreDatabase),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SessionSecret: getEnv("SESSION_SECRET", "session-secret-change-in-production"),
		SessionMaxAge: getEnvInt("SESSION_MAX_AGE", 3600),

		AccessTokenExpiration:  getEnvDuration("ACCESS_TOKEN_EXPIRATION", time.Hour),
		IDTokenExpiration:      getEnvDuration("ID_TOKEN_EXPIRATION", 5*time.Minute),
		AuthCodeExpiration:     getEnvDuration("AUTH_CODE_EXPIRATION", 5*time.Minute),
		RefreshTokenExpiration: getEnvDuration("REFRESH_TOKEN_EXPIRATION", 720*time.Hour),
		EnableRefreshTokens:    getEnvBool("ENABLE_REFRESH_TOKENS", true),

		SigningAlgorithm:    getEnv("SIGNING_ALGORITHM", SigningAlgorithmRS256),
		SigningKeyFile:      getEnv("SIGNING_KEY_FILE", ""),
		PersistSigningKeys:  getEnvBool("PERSIST_SIGNING_KEYS", true),
		KeyRotationInterval: getEnvDuration("KEY_ROTATION_INTERVAL", 0),

		RegistryCacheTTL: getEnvDuration("REGISTRY_CACHE_TTL", 30*time.Second),

		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute),

		ProvisioningFile: getEnv("PROVISIONING_FILE", ""),
		AutoProvision:    getEnvBool("AUTO_PROVISION", true),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsToken:   getEnv("METRICS_TOKEN", ""),

		EnableRateLimit:     getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:      getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		TokenRateLimit:      getEnvInt("TOKEN_RATE_LIMIT", 60),
		AuthorizeRateLimit:  getEnvInt("AUTHORIZE_RATE_LIMIT", 30),
		LoginRateLimit:      getEnvInt("LOGIN_RATE_LIMIT", 10),
		CORSAllowAllOrigins: getEnvBool("CORS_ALLOW_ALL_ORIGINS", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogFile:   getEnv("LOG_FILE", ""),

		ResourceAddr:           getEnv("RESOURCE_ADDR", ":5003"),
		ResourceIdentifier:     getEnv("RESOURCE_IDENTIFIER", "api"),
		TrustedIssuer:          strings.TrimRight(getEnv("TRUSTED_ISSUER", baseURL), "/"),
		KeySetRefreshInterval:  getEnvDuration("KEYSET_REFRESH_INTERVAL", 15*time.Minute),
		KeySetMinRefreshPeriod: getEnvDuration("KEYSET_MIN_REFRESH_PERIOD", 10*time.Second),
		KeySetMaxRetries:       getEnvInt("KEYSET_MAX_RETRIES", 3),
		KeySetRetryDelay:       getEnvDuration("KEYSET_RETRY_DELAY", 200*time.Millisecond),
		KeySetFetchTimeout:     getEnvDuration("KEYSET_FETCH_TIMEOUT", 5*time.Second),
		ClockSkew:              getEnvDuration("CLOCK_SKEW", 2*time.Minute),

		ClientID:            getEnv("CLIENT_ID", "cc1"),
		ClientSecret:        getEnv("CLIENT_SECRET", getEnv("CC1_CLIENT_SECRET", "secret")),
		ClientScopes:        getEnvSlice("CLIENT_SCOPES", []string{"api.read"}),
		ResourceURL:         strings.TrimRight(getEnv("RESOURCE_URL", "http://localhost:5003"), "/"),
		WebClientAddr:       getEnv("WEBCLIENT_ADDR", ":5002"),
		WebClientID:         getEnv("WEBCLIENT_ID", "web"),
		WebClientSecret:     getEnv("WEBCLIENT_SECRET", getEnv("WEB_CLIENT_SECRET", "secret")),
		WebClientRedirect:   getEnv("WEBCLIENT_REDIRECT_URL", "http://localhost:5002/signin-oidc"),
		WebClientScopes:     getEnvSlice("WEBCLIENT_SCOPES", []string{"openid", "profile", "email", "api.read", "offline_access"}),
		WebClientSessionKey: getEnv("WEBCLIENT_SESSION_SECRET", "webclient-secret-change-in-production"),
	}
}

// MaxTokenLifetime is the grace period a retired signing key stays published.
func (c *Config) MaxTokenLifetime() time.Duration {
	return max(c.AccessTokenExpiration, c.IDTokenExpiration)
}

// Validate checks cross-field consistency of the loaded configuration.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER value: %q (must be \"sqlite\" or \"postgres\")", c.DatabaseDriver)
	}

	switch c.SessionStore {
	case SessionStoreDatabase:
	case SessionStoreRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("invalid SESSION_STORE value: %q (must be \"database\" or \"redis\")", c.SessionStore)
	}

	switch c.RateLimitStore {
	case RateLimitStoreMemory:
	case RateLimitStoreRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return fmt.Errorf("invalid RATE_LIMIT_STORE value: %q (must be \"memory\" or \"redis\")", c.RateLimitStore)
	}

	switch c.SigningAlgorithm {
	case SigningAlgorithmRS256, SigningAlgorithmES256:
	default:
		return fmt.Errorf("invalid SIGNING_ALGORITHM value: %q (must be \"RS256\" or \"ES256\")", c.SigningAlgorithm)
	}

	if c.AuthCodeExpiration <= 0 || c.AuthCodeExpiration > MaxAuthCodeExpiration {
		return fmt.Errorf("AUTH_CODE_EXPIRATION must be between 0 and %s, got %s", MaxAuthCodeExpiration, c.AuthCodeExpiration)
	}
	if c.AccessTokenExpiration <= 0 {
		return errors.New("ACCESS_TOKEN_EXPIRATION must be positive")
	}
	if c.KeyRotationInterval < 0 {
		return errors.New("KEY_ROTATION_INTERVAL must not be negative")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid BASE_URL value: %q", c.BaseURL)
	}
	if c.IsProduction {
		if u.Scheme != "https" {
			return errors.New("BASE_URL must use https in production")
		}
		if c.SessionSecret == "session-secret-change-in-production" {
			return errors.New("SESSION_SECRET must be changed in production")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Accept both comma and space separated values
		parts := splitAndTrim(strings.ReplaceAll(value, " ", ","), ",")
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for part := range strings.SplitSeq(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
