package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lumalearn/lumalearn-billing/api/responses"
	pkgauth "github.com/lumalearn/lumalearn-billing/pkg/auth"
	"github.com/lumalearn/lumalearn-billing/pkg/config"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

type contextKey string

const (
	ctxUsername contextKey = "principal_username"
	ctxRole     contextKey = "principal_role"
)

// Auth validates a bearer token and seeds the request context with the
// verified principal. The acting identity always comes from the token, never
// from client-asserted headers.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUsername, claims.Username)
			ctx = context.WithValue(ctx, ctxRole, claims.Role)

			if logg != nil {
				ctx = logg.WithUsername(ctx, claims.Username)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalUsername returns the verified username from the request context.
func PrincipalUsername(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUsername).(string); ok {
		return v
	}
	return ""
}

// PrincipalRole returns the verified role from the request context.
func PrincipalRole(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}
