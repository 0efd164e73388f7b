package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/patientsync/internal/config"
	"github.com/ehr/patientsync/internal/domain/socialauth"
	"github.com/ehr/patientsync/internal/patientsync"
	"github.com/ehr/patientsync/internal/platform/auth"
	"github.com/ehr/patientsync/internal/platform/cache"
	"github.com/ehr/patientsync/internal/platform/db"
	"github.com/ehr/patientsync/internal/platform/events"
	"github.com/ehr/patientsync/internal/platform/middleware"
	"github.com/ehr/patientsync/internal/platform/secrets"
)

const redisKeyPrefix = "patientsync:"

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// cacheStore is the sync freshness store plus what the server needs to
// health-check and close it.
type cacheStore struct {
	cache.Store
	pinger db.Pinger
	close  func() error
}

func (s *cacheStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// newCacheStore uses Redis when REDIS_URL is set so every server process
// shares one freshness window. Without it the window is per process.
func newCacheStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*cacheStore, error) {
	if cfg.RedisURL == "" {
		mem := cache.NewMemoryStore()
		mem.StartCleanup(ctx, time.Minute)
		logger.Warn().Msg("REDIS_URL not set, sync freshness is tracked in process memory")
		return &cacheStore{Store: mem}, nil
	}

	client, err := cache.DialRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rs := cache.NewRedisStore(client, redisKeyPrefix)
	return &cacheStore{Store: rs, pinger: rs, close: client.Close}, nil
}

func healthDeps(pool db.Pinger, store *cacheStore) map[string]db.Pinger {
	deps := map[string]db.Pinger{"postgres": pool}
	if store != nil && store.pinger != nil {
		deps["redis"] = store.pinger
	}
	return deps
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaSyncTopic, logger)
}

// authMiddleware trusts the dev header only in development with no identity
// provider configured.
func authMiddleware(cfg *config.Config, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthJWKSURL == "" && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware()
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Logger:   logger,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func syncOptions(cfg *config.Config) patientsync.Options {
	return patientsync.Options{
		Provider:    cfg.ProviderName,
		PatientsURL: cfg.PatientsURL(),
	}
}

func gateConfig(cfg *config.Config) patientsync.GateConfig {
	return patientsync.GateConfig{
		Key:     cfg.PatientsCacheKey,
		TTL:     cfg.CacheTTL(),
		PerUser: cfg.PatientsCacheScope == config.CacheScopeUser,
	}
}

func syncRateLimit(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.SyncRateLimitRPS,
		BurstSize:         cfg.SyncRateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}

// newTokenSealer returns nil when TOKEN_ENCRYPTION_KEY is unset.
func newTokenSealer(cfg *config.Config) (socialauth.TokenSealer, error) {
	if cfg.TokenEncryptionKey == "" {
		return nil, nil
	}
	key, err := secrets.ParseKey(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
	}
	sealer, err := secrets.NewSealer(key, cfg.TokenEncryptionKeyVersion)
	if err != nil {
		return nil, err
	}

	previous, err := secrets.ParseVersionedKeys(cfg.TokenEncryptionPreviousKeys)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_PREVIOUS_KEYS: %w", err)
	}
	for ver, k := range previous {
		if err := sealer.AddPreviousKey(k, ver); err != nil {
			return nil, err
		}
	}
	return sealer, nil
}

func accountRepo(pool *pgxpool.Pool, cfg *config.Config) (socialauth.Repository, error) {
	sealer, err := newTokenSealer(cfg)
	if err != nil {
		return nil, err
	}
	return socialauth.NewRepo(pool, sealer), nil
}
