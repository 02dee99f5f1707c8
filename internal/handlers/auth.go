package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dmd/devicetracker/internal/services"
	"github.com/dmd/devicetracker/types"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 12 * time.Hour

// LoginRecorder counts login attempts by result.
type LoginRecorder interface {
	RecordLogin(result string)
}

// AuthHandler provides JWT authentication endpoints backed by server-side
// sessions. The token's jti names the session, so logout revokes it.
type AuthHandler struct {
	users    *services.UserDirectory
	sessions *services.Sessions
	secret   []byte
	tokenTTL time.Duration
	limiter  *LoginLimiter
	recorder LoginRecorder
	logger   *slog.Logger
}

// AuthOptions carries the optional parts of an AuthHandler.
type AuthOptions struct {
	TokenTTL time.Duration
	Limiter  *LoginLimiter
	Recorder LoginRecorder
	Logger   *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(users *services.UserDirectory, sessions *services.Sessions, jwtSecret string, opts AuthOptions) *AuthHandler {
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		users:    users,
		sessions: sessions,
		secret:   []byte(jwtSecret),
		tokenTTL: ttl,
		limiter:  opts.Limiter,
		recorder: opts.Recorder,
		logger:   logger.With("component", "auth"),
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, h *AuthHandler) {
	login := http.HandlerFunc(h.Login)
	if h.limiter != nil {
		r.With(h.limiter.Middleware).Post("/login", login)
	} else {
		r.Post("/login", login)
	}
	r.With(h.RequireAuth).Post("/logout", h.Logout)
	r.With(h.RequireAuth).Get("/me", h.Me)
}

// RequireAuth resolves the bearer token to a live authenticated session and
// injects the caller's identity. The role is re-read from the directory so
// edits and removals take effect immediately.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		claims, err := parseToken(tokenString, h.secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		session, ok := h.sessions.Get(claims.ID)
		if !ok {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		identity, ok := session.Current()
		if !ok || identity.UserID != claims.Subject {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, ok := h.users.FindByID(identity.UserID)
		if !ok {
			h.sessions.Delete(claims.ID)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity.Role = user.Role

		if info, ok := r.Context().Value(contextRequestKey).(*requestInfo); ok {
			info.userID = identity.UserID
		}
		ctx := context.WithValue(r.Context(), contextIdentityKey, identity)
		ctx = context.WithValue(ctx, contextSessionKey, claims.ID)
		ctx = services.WithActor(ctx, identity.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Login verifies credentials, opens a session and returns a JWT naming it.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	sessionID, session := h.sessions.Create()
	role, err := session.Login(r.Context(), req.UserID, req.Password)
	if err != nil {
		h.sessions.Delete(sessionID)
		h.recordLogin("failure")
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	user, _ := h.users.FindByID(req.UserID)
	token, expires, err := issueToken(req.UserID, role, sessionID, h.secret, h.tokenTTL)
	if err != nil {
		h.sessions.Delete(sessionID)
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	h.recordLogin("success")

	writeJSON(w, http.StatusOK, AuthResponse{Token: token, ExpiresAt: expires, User: user})
}

// Logout ends the caller's session. The token stops working at once.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Delete(sessionIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, ok := h.users.FindByID(identity.UserID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) recordLogin(result string) {
	if h.recorder != nil {
		h.recorder.RecordLogin(result)
	}
}

// requireRole rejects callers whose role fails allowed.
func requireRole(allowed func(types.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := identityFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !allowed(identity.Role) {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      types.User `json:"user"`
}

// tokenClaims adds the role for clients; the server trusts only the session.
type tokenClaims struct {
	Role types.Role `json:"role"`
	jwt.RegisteredClaims
}

func issueToken(userID string, role types.Role, sessionID string, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(ttl)
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func parseToken(tokenString string, secret []byte) (tokenClaims, error) {
	claims := tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return tokenClaims{}, err
	}
	if !token.Valid {
		return tokenClaims{}, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return tokenClaims{}, errors.New("missing subject")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return tokenClaims{}, errors.New("missing session id")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
