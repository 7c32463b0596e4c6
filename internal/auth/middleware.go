package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AngelCh415/leadscore/internal/utils"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
}

// RoleSource looks up a user's roles; store.Store satisfies it.
type RoleSource interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
}

type Middleware struct {
	jwt      *JWTManager
	roles    RoleSource
	enforcer *Enforcer
	log      *slog.Logger
}

func NewMiddleware(jwt *JWTManager, roles RoleSource, enforcer *Enforcer, log *slog.Logger) *Middleware {
	return &Middleware{jwt: jwt, roles: roles, enforcer: enforcer, log: log}
}

// Authenticate requires a valid bearer token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(tok) == "" {
			utils.WriteError(w, r, http.StatusUnauthorized, utils.CodeUnauthorized, "missing bearer token", nil)
			return
		}
		claims, err := m.jwt.ValidateToken(strings.TrimSpace(tok))
		if err != nil {
			m.log.Debug("token rejected", slog.String("err", err.Error()), slog.String("rid", utils.RID(r.Context())))
			utils.WriteError(w, r, http.StatusUnauthorized, utils.CodeUnauthorized, "invalid or expired token", nil)
			return
		}
		p := Principal{UserID: claims.Subject, Email: claims.Email}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Require allows the request when one of the caller's roles grants act on obj.
// Must run after Authenticate.
func (m *Middleware) Require(obj, act string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				utils.WriteError(w, r, http.StatusUnauthorized, utils.CodeUnauthorized, "not authenticated", nil)
				return
			}
			roles, err := m.roles.RolesForUser(r.Context(), p.UserID)
			if err != nil {
				m.log.Error("load roles", slog.String("user", p.UserID), slog.String("err", err.Error()), slog.String("rid", utils.RID(r.Context())))
				utils.WriteError(w, r, http.StatusInternalServerError, utils.CodeInternalError, "internal error", nil)
				return
			}
			allowed, err := m.enforcer.Allowed(roles, obj, act)
			if err != nil {
				m.log.Error("authorize", slog.String("err", err.Error()), slog.String("rid", utils.RID(r.Context())))
				utils.WriteError(w, r, http.StatusInternalServerError, utils.CodeInternalError, "internal error", nil)
				return
			}
			if !allowed {
				m.log.Info("forbidden", slog.String("user", p.UserID), slog.String("obj", obj), slog.String("act", act))
				utils.WriteError(w, r, http.StatusForbidden, utils.CodeForbidden, "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
