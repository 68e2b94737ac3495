package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/pkg/common"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/ratelimit"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "session_id"
	scopeHeader   = "X-Scope"
)

// Session resolves the anonymous session of a request and stashes it
// in the context together with the derived scope. Sessions arrive in
// the X-Session-ID header or the session_id cookie; a request carrying
// neither gets a fresh ID, echoed back so the client can stick with it.
func Session(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := resolveSessionID(r)
			if sessionID == "" {
				sessionID = uuid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookie,
					Value:    sessionID,
					Path:     "/",
					MaxAge:   30 * 24 * 60 * 60,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
				logger.Debug("started new session", zap.String("session_id", sessionID))
			}
			w.Header().Set(sessionHeader, sessionID)

			// Anonymous sessions are their own scope unless the client
			// names a shared one.
			scope := strings.TrimSpace(r.Header.Get(scopeHeader))
			if scope == "" {
				scope = sessionID
			}

			ctx := common.EnrichContext(r.Context(), sessionID, scope, common.ExtractRequestID(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveSessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// RateLimit rejects requests whose session spent its budget. Limiter
// errors fail open: the request proceeds and the error is logged.
func RateLimit(limiter *ratelimit.SessionRateLimiter, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := common.GetSessionID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), sessionID)
			if err != nil {
				logger.Warn("rate limiter degraded",
					zap.String("session_id", sessionID),
					zap.Error(err))
			}
			if !allowed {
				w.Header().Set("Retry-After", "60")
				common.RespondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests for this session")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
