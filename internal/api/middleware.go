package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/authz"
	"github.com/lalithlochan/teamalerts/internal/metrics"
	"github.com/lalithlochan/teamalerts/internal/redis"
)

// UserIDHeader carries the caller id set by the upstream authenticator.
const UserIDHeader = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

// UserIDFromContext returns the authenticated caller.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// RequireUser rejects requests without a valid X-User-ID header.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			writeProblem(w, http.StatusUnauthorized, "unauthenticated", "Missing or invalid user",
				UserIDHeader+" header must carry a user id")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission lets the request through when the caller holds any of perms.
// It must run after RequireUser.
func RequirePermission(authorizer authz.Authorizer, logger *zap.Logger, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())

			ok, err := authorizer.HasAccess(r.Context(), userID, perms...)
			if err != nil {
				logger.Error("authorization check failed",
					zap.Error(err),
					zap.Int64("user_id", userID),
				)
				writeProblem(w, http.StatusInternalServerError, "authorization_error", "Authorization check failed", "")
				return
			}
			if !ok {
				writeProblem(w, http.StatusForbidden, "forbidden", "Permission denied", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware creates an HTTP middleware that enforces rate limits.
// The keyFunc extracts the rate limit key from the request (e.g., user ID, IP).
func RateLimitMiddleware(limiter *redis.RateLimiter, logger *zap.Logger, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				metrics.RecordRateLimitRejection()
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeProblem(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests",
					"Rate limit exceeded. Please retry after the specified time.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserKeyFunc keys rate limits by the X-User-ID header.
func UserKeyFunc(r *http.Request) string {
	if id := r.Header.Get(UserIDHeader); id != "" {
		return "user:" + id
	}
	return ""
}
