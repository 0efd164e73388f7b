package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func rsaPublicKeyToJWK(privateKey *rsa.PrivateKey, kid string) JWKSKey {
	return JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func jwksServer(t *testing.T, keys func() []JWKSKey) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{Keys: keys()})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestJWKSCache_FetchAndHit(t *testing.T) {
	pk := generateKey(t)
	srv, calls := jwksServer(t, func() []JWKSKey { return []JWKSKey{rsaPublicKeyToJWK(pk, "k1")} })

	cache := NewJWKSCache(srv.URL, 5*time.Minute)

	key, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.N.Cmp(pk.PublicKey.N) != 0 || key.E != pk.PublicKey.E {
		t.Error("fetched key does not match original")
	}

	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("expected 1 JWKS fetch, got %d", n)
	}
}

func TestJWKSCache_KeyRotation(t *testing.T) {
	pk1, pk2 := generateKey(t), generateKey(t)
	var rotated int32
	srv, calls := jwksServer(t, func() []JWKSKey {
		if atomic.LoadInt32(&rotated) == 0 {
			return []JWKSKey{rsaPublicKeyToJWK(pk1, "k1")}
		}
		return []JWKSKey{rsaPublicKeyToJWK(pk1, "k1"), rsaPublicKeyToJWK(pk2, "k2")}
	})

	cache := NewJWKSCache(srv.URL, time.Hour)
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	atomic.StoreInt32(&rotated, 1)
	if _, err := cache.GetKey("k2"); err != nil {
		t.Fatalf("expected rotated key to be found: %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Errorf("expected 2 JWKS fetches, got %d", n)
	}
}

func TestJWKSCache_KeyNotFound(t *testing.T) {
	pk := generateKey(t)
	srv, _ := jwksServer(t, func() []JWKSKey { return []JWKSKey{rsaPublicKeyToJWK(pk, "k1")} })

	if _, err := NewJWKSCache(srv.URL, time.Minute).GetKey("missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}

func TestJWKSCache_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewJWKSCache(srv.URL, time.Minute).GetKey("k1"); err == nil {
		t.Fatal("expected error for failing JWKS endpoint")
	}
}

func TestParseRSAPublicKey_Invalid(t *testing.T) {
	if _, err := parseRSAPublicKey(JWKSKey{N: "!!!", E: "AQAB"}); err == nil {
		t.Error("expected error for invalid modulus")
	}
	if _, err := parseRSAPublicKey(JWKSKey{N: "AQAB", E: "!!!"}); err == nil {
		t.Error("expected error for invalid exponent")
	}
}

func TestDiscoverJWKSURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"jwks_uri": "https://idp.example.com/jwks"})
	}))
	defer srv.Close()

	got, err := DiscoverJWKSURL(srv.URL + "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://idp.example.com/jwks" {
		t.Errorf("unexpected jwks_uri %s", got)
	}
}

func TestDiscoverJWKSURL_Missing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": "x"})
	}))
	defer srv.Close()

	if _, err := DiscoverJWKSURL(srv.URL); err == nil {
		t.Fatal("expected error for missing jwks_uri")
	}
}

func TestJWTMiddleware_RS256ViaJWKS(t *testing.T) {
	pk := generateKey(t)
	srv, _ := jwksServer(t, func() []JWKSKey { return []JWKSKey{rsaPublicKeyToJWK(pk, "k1")} })

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("user-rsa"))
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	uid, err := runMiddleware(t, JWTMiddleware(JWTConfig{JWKSURL: srv.URL}), "Bearer "+signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "user-rsa" {
		t.Errorf("expected user-rsa, got %s", uid)
	}
}
