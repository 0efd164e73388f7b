package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	CacheScopeGlobal = "global"
	CacheScopeUser   = "user"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema       string   `mapstructure:"DB_SCHEMA"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	// Provider the patient roster is pulled from.
	ProviderName         string        `mapstructure:"PROVIDER_NAME"`
	ProviderBaseURL      string        `mapstructure:"PROVIDER_BASE_URL"`
	ProviderPatientsPath string        `mapstructure:"PROVIDER_PATIENTS_PATH"`
	ProviderTimeout      time.Duration `mapstructure:"PROVIDER_TIMEOUT"`

	PatientsCacheKey   string `mapstructure:"PATIENTS_CACHE_KEY"`
	PatientsCacheTTL   int    `mapstructure:"PATIENTS_CACHE_TTL"` // seconds
	PatientsCacheScope string `mapstructure:"PATIENTS_CACHE_SCOPE"`

	KafkaBrokers   []string `mapstructure:"KAFKA_BROKERS"`
	KafkaSyncTopic string   `mapstructure:"KAFKA_SYNC_TOPIC"`

	// Forced refreshes per user.
	SyncRateLimitRPS   float64 `mapstructure:"SYNC_RATE_LIMIT_RPS"`
	SyncRateLimitBurst int     `mapstructure:"SYNC_RATE_LIMIT_BURST"`

	// Provider tokens are stored encrypted when a key is set. Previous keys
	// are "<version>:<base64 key>" pairs kept for reading older rows.
	TokenEncryptionKey          string   `mapstructure:"TOKEN_ENCRYPTION_KEY"`
	TokenEncryptionKeyVersion   int      `mapstructure:"TOKEN_ENCRYPTION_KEY_VERSION"`
	TokenEncryptionPreviousKeys []string `mapstructure:"TOKEN_ENCRYPTION_PREVIOUS_KEYS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PROVIDER_NAME", "drchrono")
	v.SetDefault("PROVIDER_BASE_URL", "https://drchrono.com")
	v.SetDefault("PROVIDER_PATIENTS_PATH", "/api/patients")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("PATIENTS_CACHE_KEY", "drchrono_patients_cached_at")
	v.SetDefault("PATIENTS_CACHE_TTL", 180)
	v.SetDefault("PATIENTS_CACHE_SCOPE", CacheScopeGlobal)
	v.SetDefault("KAFKA_SYNC_TOPIC", "patient-sync-events")
	v.SetDefault("SYNC_RATE_LIMIT_RPS", 0.1)
	v.SetDefault("SYNC_RATE_LIMIT_BURST", 3)
	v.SetDefault("TOKEN_ENCRYPTION_KEY_VERSION", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "REDIS_URL",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
		"PROVIDER_NAME", "PROVIDER_BASE_URL", "PROVIDER_PATIENTS_PATH", "PROVIDER_TIMEOUT",
		"PATIENTS_CACHE_KEY", "PATIENTS_CACHE_TTL", "PATIENTS_CACHE_SCOPE",
		"KAFKA_BROKERS", "KAFKA_SYNC_TOPIC", "SYNC_RATE_LIMIT_RPS", "SYNC_RATE_LIMIT_BURST",
		"TOKEN_ENCRYPTION_KEY", "TOKEN_ENCRYPTION_KEY_VERSION", "TOKEN_ENCRYPTION_PREVIOUS_KEYS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.TokenEncryptionPreviousKeys = splitList(cfg.TokenEncryptionPreviousKeys, v.GetString("TOKEN_ENCRYPTION_PREVIOUS_KEYS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, unauthenticated requests act as dev-user.")
	}

	return cfg, nil
}

// splitList normalises a comma separated env value. Viper leaves a single
// element holding the raw string when the value comes from the environment,
// and may hand back already split elements that still carry spaces.
func splitList(current []string, raw string) []string {
	items := current
	if len(items) <= 1 {
		items = []string{raw}
	}
	var out []string
	for _, item := range items {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PatientsURL is the provider collection endpoint paging starts from.
func (c *Config) PatientsURL() string {
	return strings.TrimRight(c.ProviderBaseURL, "/") + "/" + strings.TrimLeft(c.ProviderPatientsPath, "/")
}

// CacheTTL returns the freshness window for the patient sync gate.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.PatientsCacheTTL) * time.Second
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL is required")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	if c.PatientsCacheTTL <= 0 {
		return fmt.Errorf("PATIENTS_CACHE_TTL must be a positive number of seconds, got %d", c.PatientsCacheTTL)
	}
	if c.PatientsCacheKey == "" {
		return fmt.Errorf("PATIENTS_CACHE_KEY is required")
	}
	if c.PatientsCacheScope != CacheScopeGlobal && c.PatientsCacheScope != CacheScopeUser {
		return fmt.Errorf("PATIENTS_CACHE_SCOPE must be %q or %q, got %q", CacheScopeGlobal, CacheScopeUser, c.PatientsCacheScope)
	}
	if c.TokenEncryptionKey == "" && len(c.TokenEncryptionPreviousKeys) > 0 {
		return fmt.Errorf("TOKEN_ENCRYPTION_PREVIOUS_KEYS requires TOKEN_ENCRYPTION_KEY")
	}
	if c.TokenEncryptionKey != "" && c.TokenEncryptionKeyVersion <= 0 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY_VERSION must be positive, got %d", c.TokenEncryptionKeyVersion)
	}
	return nil
}
