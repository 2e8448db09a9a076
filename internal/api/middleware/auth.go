// Package middleware provides HTTP middleware: authentication, caller identity, request IDs,
// access logging, metrics and body limits.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/formbricks/buckets/internal/api/response"
	"github.com/formbricks/buckets/internal/observability"
)

// Caller headers.
const (
	TenantIDHeader = "X-Tenant-ID"
	UserIDHeader   = "X-User-ID"
	AdminKeyHeader = "X-Admin-Key"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Caller identifies who is making a request. UserID is nil for anonymous callers.
type Caller struct {
	TenantID string
	UserID   *string
	Admin    bool
}

// CallerFromContext returns the caller stored by Identity, or the zero Caller.
func CallerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callerContextKey).(Caller)

	return c
}

// Auth validates the API key from the Authorization header ("Bearer <api-key>").
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.RespondUnauthorized(w, "Missing Authorization header")

				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				response.RespondUnauthorized(w, "Invalid Authorization header format. Expected: Bearer <api-key>")

				return
			}

			if parts[1] == "" || !constantTimeEqual(parts[1], apiKey) {
				response.RespondUnauthorized(w, "Invalid API key")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Identity reads the tenant, user and admin headers into a Caller. The admin capability is granted
// only when adminKey is configured and X-Admin-Key matches it. The tenant is also put in the
// context for log records.
func Identity(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := Caller{
				TenantID: strings.TrimSpace(r.Header.Get(TenantIDHeader)),
			}

			if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
				caller.UserID = &userID
			}

			if adminKey != "" {
				caller.Admin = constantTimeEqual(r.Header.Get(AdminKeyHeader), adminKey)
			}

			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			if caller.TenantID != "" {
				ctx = context.WithValue(ctx, observability.TenantIDKey, caller.TenantID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers without the admin capability with 401.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !CallerFromContext(r.Context()).Admin {
			response.RespondUnauthorized(w, "Admin capability required")

			return
		}

		next(w, r)
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
