// Package patientsync keeps a user's local patient list in step with the
// roster held by an external medical-records provider.
package patientsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/patientsync/internal/domain/socialauth"
	"github.com/ehr/patientsync/internal/platform/events"
	"github.com/ehr/patientsync/internal/provider"
)

// ErrNoAuthSession means the user has no stored provider token.
var ErrNoAuthSession = errors.New("no auth session found")

const msgStorageUnavailable = "patient storage is unavailable, try again later"

// TokenSource resolves the bearer token a user obtained from the provider.
type TokenSource interface {
	AccessToken(ctx context.Context, userID, provider string) (string, error)
}

// Fetcher pages through a provider collection.
type Fetcher interface {
	FetchAll(ctx context.Context, startURL, token string) ([]provider.Record, error)
}

// Result is the outcome of one sync. Message is meant for the user and is
// empty when OK is true.
type Result struct {
	OK      bool
	Message string
	Stats   Stats
}

type Options struct {
	Provider    string // name the token is stored under
	PatientsURL string // first page of the patient collection
}

// Syncer pulls a user's patients from the provider and reconciles them.
type Syncer struct {
	tokens     TokenSource
	fetcher    Fetcher
	reconciler *Reconciler
	publisher  events.Publisher
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

func NewSyncer(tokens TokenSource, fetcher Fetcher, store PatientStore, publisher events.Publisher, opts Options, logger zerolog.Logger) *Syncer {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	log := logger.With().Str("component", "patient_sync").Str("provider", opts.Provider).Logger()
	return &Syncer{
		tokens:     tokens,
		fetcher:    fetcher,
		reconciler: NewReconciler(store, log),
		publisher:  publisher,
		opts:       opts,
		logger:     log,
		now:        time.Now,
	}
}

// Sync fetches every page of the user's roster and reconciles whatever was
// received. When paging fails after some pages succeeded, those records are
// still applied and the failure is reported in the result.
func (s *Syncer) Sync(ctx context.Context, userID string) Result {
	res := s.sync(ctx, userID)
	s.publish(ctx, userID, res)
	return res
}

func (s *Syncer) sync(ctx context.Context, userID string) Result {
	token, err := s.tokens.AccessToken(ctx, userID, s.opts.Provider)
	if err != nil {
		if errors.Is(err, socialauth.ErrNotFound) {
			s.logger.Info().Str("user_id", userID).Msg("no auth session, skipping sync")
			return Result{Message: ErrNoAuthSession.Error()}
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load auth session")
		return Result{Message: msgStorageUnavailable}
	}
	if token == "" {
		return Result{Message: ErrNoAuthSession.Error()}
	}

	records, fetchErr := s.fetcher.FetchAll(ctx, s.opts.PatientsURL, token)
	if fetchErr != nil && len(records) == 0 {
		return Result{Message: fetchErr.Error()}
	}

	stats := Stats{Fetched: len(records)}
	if len(records) > 0 {
		var err error
		stats, err = s.reconciler.Reconcile(ctx, userID, records)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("reconciliation aborted")
			msg := msgStorageUnavailable
			if fetchErr != nil {
				msg = fetchErr.Error()
			}
			return Result{Message: msg, Stats: stats}
		}
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("fetched", stats.Fetched).
		Int("created", stats.Created).
		Int("reused", stats.Reused).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Int("failed", stats.Failed).
		Bool("partial", fetchErr != nil).
		Msg("patients reconciled")

	if fetchErr != nil {
		return Result{Message: fetchErr.Error(), Stats: stats}
	}
	if stats.Failed > 0 {
		return Result{Message: fmt.Sprintf("%d of %d patient records could not be saved", stats.Failed, stats.Fetched), Stats: stats}
	}
	return Result{OK: true, Stats: stats}
}

func (s *Syncer) publish(ctx context.Context, userID string, res Result) {
	ev := events.SyncCompleted{
		UserID:    userID,
		Provider:  s.opts.Provider,
		OK:        res.OK,
		Message:   res.Message,
		Fetched:   res.Stats.Fetched,
		Created:   res.Stats.Created + res.Stats.Reused,
		Updated:   res.Stats.Updated,
		Unchanged: res.Stats.Unchanged,
		Failed:    res.Stats.Failed,
		SyncedAt:  s.now().UTC(),
	}
	if err := s.publisher.PublishSyncCompleted(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to publish sync event")
	}
}
