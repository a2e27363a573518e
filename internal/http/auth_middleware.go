package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/pkg/jwt"
)

type authContextKey string

const contextKeyAuth authContextKey = "huddle-auth-context"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth validates the bearer token once at ingress and places the
// verified AuthContext in the request context. Services downstream trust it
// without re-checking.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := jwt.Parse(token, r.jwtSecret)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		if claims.UserID == "" || claims.OrgID == "" {
			r.logger.Warn("token missing identity claims", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		auth := domain.AuthContext{UserID: claims.UserID, OrgID: claims.OrgID, Role: claims.Role}
		ctx := context.WithValue(req.Context(), contextKeyAuth, auth)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// authFromContext extracts the verified identity from context.
func authFromContext(ctx context.Context) (domain.AuthContext, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return domain.AuthContext{}, false
	}
	auth, ok := value.(domain.AuthContext)
	return auth, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
