package auth

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"ebslms/internal/platform/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// SharedCache lets several instances reuse one JWKS download. Satisfied by *cache.Redis.
type SharedCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type VerifierConfig struct {
	Issuer   string
	JWKSURL  string
	ClientID string
	CacheTTL time.Duration
}

// CognitoVerifier validates RS256 tokens issued by a Cognito user pool.
type CognitoVerifier struct {
	cfg  VerifierConfig
	log  *logger.Logger
	jwks *jwksCache
	now  func() time.Time
}

func NewCognitoVerifier(cfg VerifierConfig, httpClient *http.Client, shared SharedCache, log *logger.Logger) *CognitoVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &CognitoVerifier{
		cfg: cfg,
		log: log.With("service", "CognitoVerifier"),
		jwks: &jwksCache{
			httpClient: httpClient,
			url:        cfg.JWKSURL,
			ttl:        cfg.CacheTTL,
			shared:     shared,
			keys:       map[string]*rsa.PublicKey{},
		},
		now: time.Now,
	}
}

func (v *CognitoVerifier) Verify(ctx context.Context, tokenString string) (*User, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	claims := jwt.MapClaims{}
	tok, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, fmt.Errorf("missing kid")
		}
		return v.jwks.getKey(ctx, kid)
	})
	if err != nil || tok == nil || !tok.Valid {
		v.log.Debug("token rejected", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	tokenUse, _ := claims["token_use"].(string)
	switch tokenUse {
	case "access":
		clientID, _ := claims["client_id"].(string)
		if v.cfg.ClientID != "" && !constantTimeEq(clientID, v.cfg.ClientID) {
			return nil, fmt.Errorf("%w: client mismatch", ErrInvalidToken)
		}
	case "id":
		if v.cfg.ClientID != "" && !audContains(claims["aud"], v.cfg.ClientID) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected token_use %q", ErrInvalidToken, tokenUse)
	}

	return userFromClaims(claims)
}

func userFromClaims(claims jwt.MapClaims) (*User, error) {
	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: sub is not a uuid", ErrInvalidToken)
	}

	groups := groupsFromClaim(claims["cognito:groups"])
	u := &User{
		ID:        id,
		Groups:    groups,
		Role:      RoleFromGroups(groups),
		TokenUse:  stringClaim(claims, "token_use"),
		Email:     stringClaim(claims, "email"),
		FirstName: stringClaim(claims, "given_name"),
		LastName:  stringClaim(claims, "family_name"),
		Username:  stringClaim(claims, "username"),
	}
	if u.Username == "" {
		u.Username = stringClaim(claims, "cognito:username")
	}
	return u, nil
}

func groupsFromClaim(v any) []string {
	switch g := v.(type) {
	case string:
		return []string{g}
	case []any:
		out := make([]string, 0, len(g))
		for _, it := range g {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return g
	default:
		return []string{}
	}
}

func stringClaim(c jwt.MapClaims, key string) string {
	s, _ := c[key].(string)
	return s
}

func audContains(aud any, required string) bool {
	switch v := aud.(type) {
	case string:
		return v == required
	case []any:
		for _, it := range v {
			if s, ok := it.(string); ok && s == required {
				return true
			}
		}
	}
	return false
}

func constantTimeEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ----- JWKS cache -----

const sharedJWKSKey = "jwks"

type jwksCache struct {
	httpClient *http.Client
	url        string
	ttl        time.Duration
	shared     SharedCache

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j *jwksCache) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	j.mu.RLock()
	key := j.keys[kid]
	stale := time.Since(j.fetchedAt) > j.ttl
	j.mu.RUnlock()

	if key != nil && !stale {
		return key, nil
	}

	if err := j.refresh(ctx, key == nil && !stale); err != nil {
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	key = j.keys[kid]
	if key == nil {
		return nil, fmt.Errorf("kid not found in jwks: %s", kid)
	}
	return key, nil
}

// refresh loads the key set from the shared cache when possible, else from Cognito.
// skipShared forces a network fetch, used when a kid is unknown (key rotation).
func (j *jwksCache) refresh(ctx context.Context, skipShared bool) error {
	var raw []byte
	if j.shared != nil && !skipShared {
		if b, err := j.shared.Get(ctx, sharedJWKSKey); err == nil {
			raw = b
		}
	}
	if raw == nil {
		b, err := j.fetch(ctx)
		if err != nil {
			return err
		}
		raw = b
		if j.shared != nil {
			_ = j.shared.Set(ctx, sharedJWKSKey, raw, j.ttl)
		}
	}

	next, err := parseJWKS(raw)
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.keys = next
	j.fetchedAt = time.Now()
	j.mu.Unlock()
	return nil
}

func (j *jwksCache) fetch(ctx context.Context) ([]byte, error) {
	if strings.TrimSpace(j.url) == "" {
		return nil, errors.New("jwks url not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return nil, err
	}
	res, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks fetch failed: %s", res.Status)
	}
	var buf json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&buf); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	return buf, nil
}

func parseJWKS(raw []byte) (map[string]*rsa.PublicKey, error) {
	var set jwkSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	out := map[string]*rsa.PublicKey{}
	for _, k := range set.Keys {
		if k.Kty != "RSA" || strings.TrimSpace(k.Kid) == "" {
			continue
		}
		pub, err := rsaFromModExp(k.N, k.E)
		if err == nil {
			out[k.Kid] = pub
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("jwks contained no usable keys")
	}
	return out, nil
}

func rsaFromModExp(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
