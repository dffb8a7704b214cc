package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	AccessTokenCookie  = "access_token"
	IDTokenCookie      = "id_token"
	RefreshTokenCookie = "refresh_token"
	// CSRFCookie is readable by the frontend, which echoes it in X-CSRF-Token.
	CSRFCookie = "ebs_csrf"

	internalKeyHeader = "X-Internal-Key"
)

type tokenVerifier interface {
	Verify(ctx context.Context, token string) (*User, error)
}

// UserSyncer makes sure a local usuario row exists for an authenticated caller.
// It may raise u.Role when the local usuario_rol rows grant more than the token groups.
type UserSyncer interface {
	EnsureUser(ctx context.Context, u *User) error
}

type CookieConfig struct {
	Domain        string
	Secure        bool
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

type Handler struct {
	verifier tokenVerifier
	syncer   UserSyncer
	cookies  CookieConfig
	log      *logger.Logger

	// user id -> effective Role, for users already synced by this process
	synced sync.Map
}

func NewHandler(verifier tokenVerifier, syncer UserSyncer, cookies CookieConfig, log *logger.Logger) *Handler {
	if cookies.AccessMaxAge <= 0 {
		cookies.AccessMaxAge = time.Hour
	}
	if cookies.RefreshMaxAge <= 0 {
		cookies.RefreshMaxAge = 30 * 24 * time.Hour
	}
	return &Handler{verifier: verifier, syncer: syncer, cookies: cookies, log: log.With("service", "AuthHandler")}
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.authenticate(r)
		if err != nil {
			apiresp.WriteErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) authenticate(r *http.Request) (*User, error) {
	token := readToken(r)
	if token == "" {
		return nil, apperr.Unauthenticated("missing authentication token")
	}
	user, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, "", "invalid or expired token", err)
	}

	// Access tokens carry no profile claims; borrow them from the id token cookie.
	if user.Email == "" {
		if c, err := r.Cookie(IDTokenCookie); err == nil && c.Value != token {
			if idUser, err := h.verifier.Verify(r.Context(), c.Value); err == nil && idUser.ID == user.ID {
				user.Email = idUser.Email
				user.FirstName = idUser.FirstName
				user.LastName = idUser.LastName
			}
		}
	}

	if err := h.ensureSynced(r.Context(), user); err != nil {
		return nil, err
	}
	return user, nil
}

func (h *Handler) ensureSynced(ctx context.Context, user *User) error {
	if h.syncer == nil {
		return nil
	}
	if role, ok := h.synced.Load(user.ID); ok {
		if r := role.(Role); r.Outranks(user.Role) {
			user.Role = r
		}
		return nil
	}
	if err := h.syncer.EnsureUser(ctx, user); err != nil {
		return err
	}
	h.synced.Store(user.ID, user.Role)
	return nil
}

// Forget drops a user from the sync cache, e.g. after an admin edits their roles.
func (h *Handler) Forget(id uuid.UUID) {
	h.synced.Delete(id)
}

func (h *Handler) RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				apiresp.WriteErr(w, r, apperr.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireInternalKey guards service-to-service endpoints with a bcrypt-hashed shared key.
func RequireInternalKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(internalKeyHeader))
			if keyHash == "" || key == "" {
				apiresp.WriteErr(w, r, apperr.Unauthenticated("internal key required"))
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				apiresp.WriteErr(w, r, apperr.Forbidden("invalid internal key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{AccessTokenCookie, IDTokenCookie, RefreshTokenCookie} {
		h.setCookie(w, name, "", -1)
	}
	h.setCSRFCookie(w, "", -1)
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"message": "logged out"})
}

// Tokens reports which auth cookies are present without echoing their values.
func (h *Handler) Tokens(w http.ResponseWriter, r *http.Request) {
	has := func(name string) bool {
		c, err := r.Cookie(name)
		return err == nil && c.Value != ""
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{
		"has_access_token":  has(AccessTokenCookie),
		"has_id_token":      has(IDTokenCookie),
		"has_refresh_token": has(RefreshTokenCookie),
	})
}

type setTokensRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
}

// SetTokens stores tokens obtained by the frontend as HTTP-only cookies after verifying them.
func (h *Handler) SetTokens(w http.ResponseWriter, r *http.Request) {
	var req setTokensRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	user, err := h.verifier.Verify(r.Context(), req.AccessToken)
	if err != nil {
		apiresp.WriteErr(w, r, apperr.Wrap(apperr.KindAuthentication, "", "invalid or expired token", err))
		return
	}
	if req.IDToken != "" {
		idUser, err := h.verifier.Verify(r.Context(), req.IDToken)
		if err != nil || idUser.ID != user.ID {
			apiresp.WriteErr(w, r, apperr.Unauthenticated("id token does not match access token"))
			return
		}
		h.setCookie(w, IDTokenCookie, req.IDToken, int(h.cookies.AccessMaxAge.Seconds()))
	}
	h.setCookie(w, AccessTokenCookie, req.AccessToken, int(h.cookies.AccessMaxAge.Seconds()))
	if req.RefreshToken != "" {
		h.setCookie(w, RefreshTokenCookie, req.RefreshToken, int(h.cookies.RefreshMaxAge.Seconds()))
	}
	h.setCSRFCookie(w, uuid.NewString(), int(h.cookies.RefreshMaxAge.Seconds()))
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"message": "tokens stored"})
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) setCSRFCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    value,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   maxAge,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// readToken prefers the Authorization header, then the auth cookies.
func readToken(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	for _, name := range []string{AccessTokenCookie, IDTokenCookie} {
		if c, err := r.Cookie(name); err == nil && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value)
		}
	}
	return ""
}
