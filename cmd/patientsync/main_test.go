package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/patientsync/internal/config"
	"github.com/ehr/patientsync/internal/patientsync"
	"github.com/ehr/patientsync/internal/platform/auth"
	"github.com/ehr/patientsync/internal/platform/cache"
	"github.com/ehr/patientsync/internal/platform/db"
	"github.com/ehr/patientsync/internal/platform/events"
	"github.com/ehr/patientsync/internal/platform/secrets"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                  "development",
		ProviderName:         "drchrono",
		ProviderBaseURL:      "https://drchrono.com/",
		ProviderPatientsPath: "/api/patients",
		ProviderTimeout:      10 * time.Second,
		PatientsCacheKey:     "drchrono_patients_cached_at",
		PatientsCacheTTL:     180,
		PatientsCacheScope:   config.CacheScopeGlobal,
		KafkaSyncTopic:       "patient-sync-events",
	}
}

func TestGateConfig(t *testing.T) {
	cfg := testConfig()
	gc := gateConfig(cfg)
	if gc.Key != "drchrono_patients_cached_at" || gc.TTL != 180*time.Second || gc.PerUser {
		t.Errorf("unexpected gate config %+v", gc)
	}

	cfg.PatientsCacheScope = config.CacheScopeUser
	if !gateConfig(cfg).PerUser {
		t.Error("expected per-user gate for user scope")
	}
}

func TestSyncOptions(t *testing.T) {
	opts := syncOptions(testConfig())
	want := patientsync.Options{Provider: "drchrono", PatientsURL: "https://drchrono.com/api/patients"}
	if opts != want {
		t.Errorf("expected %+v, got %+v", want, opts)
	}
}

func TestNewPublisher(t *testing.T) {
	cfg := testConfig()
	if _, ok := newPublisher(cfg, zerolog.Nop()).(events.NopPublisher); !ok {
		t.Error("expected no-op publisher without brokers")
	}

	cfg.KafkaBrokers = []string{"localhost:9092"}
	pub := newPublisher(cfg, zerolog.Nop())
	defer pub.Close()
	if _, ok := pub.(*events.KafkaPublisher); !ok {
		t.Errorf("expected Kafka publisher, got %T", pub)
	}
}

func TestNewCacheStore_Memory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newCacheStore(ctx, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.Store.(*cache.MemoryStore); !ok {
		t.Errorf("expected memory store, got %T", store.Store)
	}
	if deps := healthDeps(fakePinger{}, store); len(deps) != 1 {
		t.Errorf("expected only postgres health check, got %v", deps)
	}
}

func TestNewCacheStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	store, err := newCacheStore(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if err := store.Set(context.Background(), "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists(redisKeyPrefix + "k") {
		t.Error("expected key to be written with prefix")
	}
	if _, ok := healthDeps(fakePinger{}, store)["redis"]; !ok {
		t.Error("expected redis health check")
	}
}

func TestNewCacheStore_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "redis://127.0.0.1:1"

	if _, err := newCacheStore(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestAuthMiddleware_DevWithoutIdentityProvider(t *testing.T) {
	uid := runAuth(t, authMiddleware(testConfig(), zerolog.Nop()), "")
	if uid != "dev-user" {
		t.Errorf("expected dev-user, got %q", uid)
	}
}

func TestAuthMiddleware_SigningKey(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = "secret"

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), httptest.NewRecorder())
	err := authMiddleware(cfg, zerolog.Nop())(func(c echo.Context) error { return nil })(c)
	if err == nil {
		t.Fatal("expected missing token to be rejected")
	}
}

func TestSyncRateLimit_Defaults(t *testing.T) {
	cfg := testConfig()
	rl := syncRateLimit(cfg)
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		t.Errorf("expected default limits, got %+v", rl)
	}

	cfg.SyncRateLimitRPS, cfg.SyncRateLimitBurst = 2, 4
	if rl := syncRateLimit(cfg); rl.RequestsPerSecond != 2 || rl.BurstSize != 4 {
		t.Errorf("expected configured limits, got %+v", rl)
	}
}

func TestPrintSyncResult(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printSyncResult(cmd, "u1", patientsync.Result{
		Message: "Over limit",
		Stats:   patientsync.Stats{Fetched: 25, Created: 20, Unchanged: 5},
	})

	out := buf.String()
	if !strings.Contains(out, "user=u1 fetched=25 created=20") {
		t.Errorf("unexpected output %q", out)
	}
	if !strings.Contains(out, "message: Over limit") {
		t.Errorf("expected message line, got %q", out)
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	printMigrationStatus(cmd, "public", []db.MigrationStatus{
		{Version: 1, Name: "001_patient_sync.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "2024-01-02 03:04:05") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSyncCmd_RequiresUser(t *testing.T) {
	cmd := syncCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--user") {
		t.Errorf("expected --user error, got %v", err)
	}
}

func TestTokenSetCmd_RequiresFlags(t *testing.T) {
	cmd := tokenCmd()
	cmd.SetArgs([]string{"set", "--user", "u1"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--token") {
		t.Errorf("expected --token error, got %v", err)
	}
}

type fakePinger struct{}

func (fakePinger) Ping(context.Context) error { return nil }

func runAuth(t *testing.T, mw echo.MiddlewareFunc, devUser string) string {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	if devUser != "" {
		req.Header.Set(auth.DevUserHeader, devUser)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var uid string
	if err := mw(func(c echo.Context) error {
		uid = auth.UserIDFromContext(c.Request().Context())
		return nil
	})(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return uid
}

func TestNewTokenSealer(t *testing.T) {
	cfg := testConfig()
	sealer, err := newTokenSealer(cfg)
	if err != nil || sealer != nil {
		t.Fatalf("expected no sealer without a key, got %v, %v", sealer, err)
	}

	oldKey := bytes.Repeat([]byte{1}, secrets.KeySize)
	old, _ := secrets.NewSealer(oldKey, 1)
	sealedOld, _ := old.Seal("legacy")

	cfg.TokenEncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{2}, secrets.KeySize))
	cfg.TokenEncryptionKeyVersion = 2
	cfg.TokenEncryptionPreviousKeys = []string{"1:" + base64.StdEncoding.EncodeToString(oldKey)}

	sealer, err = newTokenSealer(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, err := sealer.Open(sealedOld); err != nil || got != "legacy" {
		t.Errorf("expected previous key to open old token, got %q, %v", got, err)
	}
	sealed, _ := sealer.Seal("fresh")
	if !strings.HasPrefix(sealed, "enc:v2:") {
		t.Errorf("expected current key version, got %q", sealed)
	}
}

func TestNewTokenSealer_BadKey(t *testing.T) {
	cfg := testConfig()
	cfg.TokenEncryptionKey = "too-short"
	cfg.TokenEncryptionKeyVersion = 1
	if _, err := newTokenSealer(cfg); err == nil || !strings.Contains(err.Error(), "TOKEN_ENCRYPTION_KEY") {
		t.Errorf("expected key error, got %v", err)
	}

	cfg.TokenEncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{2}, secrets.KeySize))
	cfg.TokenEncryptionPreviousKeys = []string{"garbage"}
	if _, err := newTokenSealer(cfg); err == nil || !strings.Contains(err.Error(), "TOKEN_ENCRYPTION_PREVIOUS_KEYS") {
		t.Errorf("expected previous key error, got %v", err)
	}
}
