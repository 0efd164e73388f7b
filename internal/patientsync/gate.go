package patientsync

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/patientsync/internal/domain/patient"
	"github.com/ehr/patientsync/internal/platform/cache"
)

const DefaultCacheTTL = 180 * time.Second

// SyncRunner is satisfied by *Syncer.
type SyncRunner interface {
	Sync(ctx context.Context, userID string) Result
}

type GateConfig struct {
	Key string
	TTL time.Duration
	// PerUser keys the freshness window by user. When false every user
	// shares one window, so one user's sync suppresses everyone's for TTL.
	PerUser bool
}

// Gate runs a sync only when the last one is older than the TTL. The time of
// the last attempt is kept in a shared cache store, and a failed attempt
// counts as an attempt.
type Gate struct {
	cache  cache.Store
	syncer SyncRunner
	cfg    GateConfig
	group  singleflight.Group
	logger zerolog.Logger
	now    func() time.Time
}

func NewGate(store cache.Store, syncer SyncRunner, cfg GateConfig, logger zerolog.Logger) *Gate {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	return &Gate{
		cache:  store,
		syncer: syncer,
		cfg:    cfg,
		logger: logger.With().Str("component", "sync_gate").Logger(),
		now:    time.Now,
	}
}

func (g *Gate) cacheKey(userID string) string {
	if g.cfg.PerUser {
		return g.cfg.Key + ":" + userID
	}
	return g.cfg.Key
}

// GetOrSync returns the cached sync time when it is still fresh. Otherwise it
// syncs the user, stamps the cache with the current time whatever the outcome,
// and carries the sync message when the sync did not succeed.
func (g *Gate) GetOrSync(ctx context.Context, userID string) patient.SyncStatus {
	key := g.cacheKey(userID)

	val, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("sync cache unavailable, treating as stale")
	}
	if ok {
		cachedAt, perr := time.Parse(time.RFC3339Nano, val)
		if perr == nil {
			return patient.SyncStatus{CachedAt: cachedAt}
		}
		g.logger.Warn().Err(perr).Str("key", key).Str("value", val).Msg("unreadable sync timestamp, resyncing")
	}

	return g.syncAndStamp(ctx, key, userID)
}

// Refresh syncs regardless of the cached time and restarts the window.
func (g *Gate) Refresh(ctx context.Context, userID string) patient.SyncStatus {
	return g.syncAndStamp(ctx, g.cacheKey(userID), userID)
}

// syncAndStamp collapses concurrent syncs of the same user in this process
// into one. Processes sharing a Redis cache can still sync the same user
// twice; reconciliation is idempotent so only the provider call is repeated.
//
// The shared run outlives the request that started it: other callers wait on
// its result, so it must not see that request's cancellation.
func (g *Gate) syncAndStamp(ctx context.Context, key, userID string) patient.SyncStatus {
	v, _, _ := g.group.Do(key+"|"+userID, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		res := g.syncer.Sync(ctx, userID)

		now := g.now().UTC()
		if err := g.cache.Set(ctx, key, now.Format(time.RFC3339Nano), g.cfg.TTL); err != nil {
			g.logger.Warn().Err(err).Str("key", key).Msg("failed to stamp sync cache")
		}

		status := patient.SyncStatus{CachedAt: now, Synced: true}
		if !res.OK {
			status.StatusMessage = res.Message
		}
		return status, nil
	})
	return v.(patient.SyncStatus)
}
