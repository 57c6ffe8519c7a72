package session

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/warden-auth/warden/internal/shared"
)

// Middleware validates bearer tokens and attaches the caller identity to
// the request context. Requests without a token pass through anonymous;
// guards downstream decide whether that is acceptable.
type Middleware struct {
	Manager *Manager
	Logger  *slog.Logger
}

// Authenticate resolves the Authorization bearer token into an identity.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := m.Manager.Validate(r.Context(), token)
		if err != nil {
			// Fail closed: the request proceeds anonymous and guards deny.
			if m.Logger != nil {
				m.Logger.Debug("session validation failed", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := shared.ContextWithIdentity(r.Context(), shared.Identity{UserID: sess.UserID, Token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
