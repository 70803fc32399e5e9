package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/chat-relay/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type contextKey string

const (
	userIDKey   contextKey = "userId"
	apiKeyIDKey contextKey = "apiKeyId"
)

// WithCaller stores the authenticated user and key in ctx.
func WithCaller(ctx context.Context, userID, apiKeyID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, apiKeyIDKey, apiKeyID)
}

// UserID returns the authenticated user, or "" outside APIKeyAuth.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// APIKeyID returns the id of the key that authenticated the request.
func APIKeyID(ctx context.Context) string {
	id, _ := ctx.Value(apiKeyIDKey).(string)
	return id
}

// APIKeyAuth middleware resolves the caller from the Authorization header
// (Bearer token) or x-api-key. Keys are compared by their SHA-256 digest.
func APIKeyAuth(database *gorm.DB, logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := presentedKey(r)
			if raw == "" {
				unauthorized(w, "Missing API key")
				return
			}

			key, err := db.LookupAPIKey(database.WithContext(r.Context()), raw)
			if err != nil {
				unauthorized(w, "Invalid API key")
				return
			}

			if err := db.TouchAPIKey(r.Context(), database, key.ID, time.Now()); err != nil {
				logger.Warn("failed to touch api key", zap.String("api_key_id", key.ID), zap.Error(err))
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), key.UserID, key.ID)))
		})
	}
}

func presentedKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// AdminAuth guards operator routes with HTTP basic auth. An empty password
// leaves the routes open, which only makes sense on a loopback listener.
func AdminAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || pass != password {
				w.Header().Set("WWW-Authenticate", `Basic realm="Relay Admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
