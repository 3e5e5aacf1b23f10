package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"proofcanvas/pkg/auth"
)

// Authenticate validates the bearer token and stores the identity in the
// request context. Requests are rate limited per client IP before the token
// is checked and per user after.
func Authenticate(jwt *auth.JWTService, requestsPerMinute int, logger *zap.Logger) func(next http.Handler) http.Handler {
	ipLimiter := auth.NewSlidingWindowLimiter(requestsPerMinute, time.Minute)
	userLimiter := auth.NewSlidingWindowLimiter(2*requestsPerMinute, time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowed, _ := ipLimiter.Allow(r.Context(), r.RemoteAddr); !allowed {
				respondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			identity, err := jwt.ValidateToken(auth.TokenFromRequest(r))
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrMissingToken):
					respondUnauthorized(w, "Missing authorization token")
				case errors.Is(err, auth.ErrExpiredToken):
					respondUnauthorized(w, "Token has expired")
				default:
					logger.Debug("Token rejected", zap.Error(err))
					respondUnauthorized(w, "Invalid token")
				}
				return
			}

			if allowed, _ := userLimiter.Allow(r.Context(), identity.UserID); !allowed {
				respondWithError(w, http.StatusTooManyRequests, "User rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	respondWithError(w, http.StatusUnauthorized, message)
}

// respondWithError sends an error response with a specific status code
func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"message": message,
		"code":    code,
	})
}
