package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"go.uber.org/zap"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, claims AgentClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func claims(agent, trust string, tools ...string) AgentClaims {
	return AgentClaims{
		AgentID:      agent,
		TrustLevel:   trust,
		AllowedTools: tools,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestValidator_Identity(t *testing.T) {
	key := newKey(t)
	v := NewValidator(&key.PublicKey)

	id, err := v.Identity("Bearer " + sign(t, key, claims("readonly-agent", "medium", "get*", "list*")))
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.AgentID != "readonly-agent" || id.TrustLevel != domain.TrustMedium {
		t.Errorf("identity = %+v", id)
	}
	if len(id.AllowedTools) != 2 || !id.Permits("listTools") || id.Permits("deleteData") {
		t.Errorf("allowed tools = %v", id.AllowedTools)
	}
}

func TestValidator_SubjectFallback(t *testing.T) {
	key := newKey(t)
	v := NewValidator(&key.PublicKey)

	c := claims("", "high")
	c.Subject = "admin-agent"
	id, err := v.Identity(sign(t, key, c))
	if err != nil || id.AgentID != "admin-agent" {
		t.Fatalf("identity = %+v, err = %v", id, err)
	}
}

func TestValidator_Rejects(t *testing.T) {
	key := newKey(t)
	other := newKey(t)
	v := NewValidator(&key.PublicKey)

	expired := claims("a", "high")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	hs, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims("a", "high")).SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"foreign key", sign(t, other, claims("a", "high"))},
		{"expired", sign(t, key, expired)},
		{"hmac algorithm", hs},
		{"unknown trust level", sign(t, key, claims("a", "root"))},
		{"no agent id", sign(t, key, claims("", "high"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Identity(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	key := newKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	pub, err := ParseRSAPublicKey(pemData)
	if err != nil || pub.N.Cmp(key.PublicKey.N) != 0 {
		t.Fatalf("ParseRSAPublicKey: %v", err)
	}
	if _, err := ParseRSAPublicKey(nil); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := ParseRSAPublicKey([]byte("-----BEGIN NOTHING-----")); err == nil {
		t.Error("expected error for garbage key")
	}
}

func TestMiddleware(t *testing.T) {
	key := newKey(t)
	v := NewValidator(&key.PublicKey)

	var seen domain.AgentIdentity
	h := Middleware(v, domain.TrustHigh, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"medium trust", "Bearer " + sign(t, key, claims("ops", "medium")), http.StatusForbidden},
		{"high trust", "Bearer " + sign(t, key, claims("admin-agent", "high")), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}
		})
	}
	if seen.AgentID != "admin-agent" {
		t.Errorf("identity in context = %+v", seen)
	}
}
