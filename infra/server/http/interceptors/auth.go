package interceptors

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/loopfund/community-live/internal/service"
)

type contextKey string

const (
	// UserContextKey is the key used to store/retrieve the verified user id.
	UserContextKey contextKey = "auth_user"
)

// NewAuthMiddleware validates the caller identity before the handler runs.
// The token is read from the Authorization header, or from the "token" query
// parameter for browser websocket upgrades that cannot set headers.
func NewAuthMiddleware(identity service.IdentityProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] Validate identity before the request reaches the handler.
			userID, err := identity.Verify(r.Context(), tokenFrom(r))
			if err != nil {
				http.Error(w, "authentication failed", http.StatusUnauthorized)
				return
			}

			// [ENRICHMENT] Inject the identity into the context for downstream handlers.
			ctx := context.WithValue(r.Context(), UserContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewInternalGuard protects service-to-service routes with a static token.
// An empty token disables the internal routes entirely.
func NewInternalGuard(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearer(r.Header.Get("Authorization"))
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext is a helper to extract the identity from context safely.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserContextKey).(string)
	return userID, ok && userID != ""
}

// WithUser returns ctx carrying userID. Used by tests and internal callers.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserContextKey, userID)
}

func tokenFrom(r *http.Request) string {
	if t := bearer(r.Header.Get("Authorization")); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
