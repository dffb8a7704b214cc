package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ebslms/internal/platform/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testIssuer   = "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_test"
	testClientID = "client-123"
	testKid      = "kid-1"
)

type jwksFixture struct {
	key     *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": testKid,
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	s, err := tok.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (f *jwksFixture) verifier(shared SharedCache) *CognitoVerifier {
	return NewCognitoVerifier(VerifierConfig{
		Issuer:   testIssuer,
		JWKSURL:  f.server.URL,
		ClientID: testClientID,
		CacheTTL: time.Hour,
	}, f.server.Client(), shared, logger.Nop())
}

func accessClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":            sub,
		"iss":            testIssuer,
		"client_id":      testClientID,
		"token_use":      "access",
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Unix(),
		"cognito:groups": []string{"estudiantes", "coordinadores"},
	}
}

func TestVerifyAccessToken(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(nil)
	sub := uuid.New()

	u, err := v.Verify(context.Background(), f.sign(t, accessClaims(sub.String())))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if u.ID != sub {
		t.Fatalf("unexpected id %s", u.ID)
	}
	if u.Role != RoleCoordinator {
		t.Fatalf("expected coordinator, got %s", u.Role)
	}

	// second verification is served from the in-process cache
	if _, err := v.Verify(context.Background(), f.sign(t, accessClaims(sub.String()))); err != nil {
		t.Fatalf("verify again: %v", err)
	}
	if n := f.fetches.Load(); n != 1 {
		t.Fatalf("expected one jwks fetch, got %d", n)
	}
}

func TestVerifyIDTokenAudience(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(nil)

	claims := jwt.MapClaims{
		"sub":         uuid.NewString(),
		"iss":         testIssuer,
		"aud":         testClientID,
		"token_use":   "id",
		"email":       "ana@example.com",
		"given_name":  "Ana",
		"family_name": "Lopez",
		"exp":         time.Now().Add(time.Hour).Unix(),
	}
	u, err := v.Verify(context.Background(), f.sign(t, claims))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if u.Email != "ana@example.com" || u.FirstName != "Ana" || u.Role != RoleStudent {
		t.Fatalf("unexpected user %+v", u)
	}

	claims["aud"] = "someone-else"
	if _, err := v.Verify(context.Background(), f.sign(t, claims)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience rejection, got %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(nil)
	sub := uuid.NewString()

	tests := []struct {
		name   string
		mutate func(c jwt.MapClaims)
	}{
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{name: "wrong client", mutate: func(c jwt.MapClaims) { c["client_id"] = "other" }},
		{name: "missing exp", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
		{name: "refresh token use", mutate: func(c jwt.MapClaims) { c["token_use"] = "refresh" }},
		{name: "non uuid sub", mutate: func(c jwt.MapClaims) { c["sub"] = "not-a-uuid" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := accessClaims(sub)
			tc.mutate(c)
			if _, err := v.Verify(context.Background(), f.sign(t, c)); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected invalid token, got %v", err)
			}
		})
	}

	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestVerifyRejectsHS256(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier(nil)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims(uuid.NewString()))
	tok.Header["kid"] = testKid
	s, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), s); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

type memoryShared struct {
	data map[string][]byte
}

func (m *memoryShared) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return b, nil
}

func (m *memoryShared) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.data[key] = val
	return nil
}

func TestVerifierUsesSharedJWKS(t *testing.T) {
	f := newJWKSFixture(t)
	shared := &memoryShared{data: map[string][]byte{}}

	first := f.verifier(shared)
	if _, err := first.Verify(context.Background(), f.sign(t, accessClaims(uuid.NewString()))); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, ok := shared.data[sharedJWKSKey]; !ok {
		t.Fatalf("expected jwks stored in shared cache")
	}

	// a second instance with a stale local cache reads the shared copy
	second := f.verifier(shared)
	if _, err := second.Verify(context.Background(), f.sign(t, accessClaims(uuid.NewString()))); err != nil {
		t.Fatalf("verify second: %v", err)
	}
	if n := f.fetches.Load(); n != 1 {
		t.Fatalf("expected a single network fetch, got %d", n)
	}
}

func TestRoleFromGroups(t *testing.T) {
	tests := []struct {
		groups []string
		want   Role
	}{
		{groups: nil, want: RoleStudent},
		{groups: []string{"estudiantes"}, want: RoleStudent},
		{groups: []string{"coordinadores", "estudiantes"}, want: RoleCoordinator},
		{groups: []string{"estudiantes", "administradores", "coordinadores"}, want: RoleAdmin},
		{groups: []string{"unknown"}, want: RoleStudent},
	}
	for _, tc := range tests {
		if got := RoleFromGroups(tc.groups); got != tc.want {
			t.Fatalf("%v: got %s want %s", tc.groups, got, tc.want)
		}
	}
}

func TestGroupsFromClaim(t *testing.T) {
	if got := groupsFromClaim("administradores"); len(got) != 1 || got[0] != "administradores" {
		t.Fatalf("string claim: %v", got)
	}
	if got := groupsFromClaim([]any{"a", 1, "b"}); len(got) != 2 {
		t.Fatalf("mixed claim: %v", got)
	}
	if got := groupsFromClaim(nil); got == nil || len(got) != 0 {
		t.Fatalf("nil claim: %v", got)
	}
}
