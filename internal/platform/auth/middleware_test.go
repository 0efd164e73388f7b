package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

// runMiddleware invokes mw with the given Authorization header and returns the
// user id seen by the wrapped handler.
func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var seen string
	err := mw(func(c echo.Context) error {
		seen = UserIDFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})(c)
	return seen, err
}

func expectUnauthorized(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, mw, tt.header)
			expectUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tok := createTestToken(t, validClaims("user-123"), testSigningKey)

	uid, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "user-123" {
		t.Errorf("expected user_id=user-123, got %s", uid)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims("user-123")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	tok := createTestToken(t, claims, testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tok)
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tok := createTestToken(t, validClaims("user-123"), []byte("another-key"))

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tok)
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_MissingSubject(t *testing.T) {
	tok := createTestToken(t, validClaims(""), testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tok)
	expectUnauthorized(t, err)
}

func TestJWTMiddleware_IssuerAndAudience(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.example.com", Audience: "patientsync"}
	mw := JWTMiddleware(cfg)

	good := validClaims("user-1")
	good.Issuer = cfg.Issuer
	good.Audience = jwt.ClaimStrings{"patientsync"}
	if _, err := runMiddleware(t, mw, "Bearer "+createTestToken(t, good, testSigningKey)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wrongIss := good
	wrongIss.Issuer = "https://evil.example.com"
	_, err := runMiddleware(t, mw, "Bearer "+createTestToken(t, wrongIss, testSigningKey))
	expectUnauthorized(t, err)

	wrongAud := good
	wrongAud.Audience = jwt.ClaimStrings{"other"}
	_, err = runMiddleware(t, mw, "Bearer "+createTestToken(t, wrongAud, testSigningKey))
	expectUnauthorized(t, err)
}

func TestDevAuthMiddleware_Default(t *testing.T) {
	uid, err := runMiddleware(t, DevAuthMiddleware(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "dev-user" {
		t.Errorf("expected user_id=dev-user, got %s", uid)
	}
}

func TestDevAuthMiddleware_Header(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "alice")
	c := e.NewContext(req, httptest.NewRecorder())

	var uid string
	err := DevAuthMiddleware()(func(c echo.Context) error {
		uid = UserIDFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "alice" {
		t.Errorf("expected user_id=alice, got %s", uid)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if uid := UserIDFromContext(req.Context()); uid != "" {
		t.Errorf("expected empty user id, got %q", uid)
	}
}
