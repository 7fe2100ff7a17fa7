package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/service/session"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
)

type contextKey struct{}

var identityKey = contextKey{}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*session.Identity, error)
}

// RequireAuth validates the token signature and then the live user, token
// version and device. A rejected token clears the cookie and answers 401.
func RequireAuth(auth Authenticator, cookies httputil.CookieSettings, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := httputil.GetTokenFromRequest(r, cookies)
			if err != nil {
				unauthorized(w)
				return
			}

			identity, err := auth.Authenticate(r.Context(), token)
			if errors.Is(err, domain.ErrInvalidToken) {
				httputil.ClearAuthCookie(w, r, cookies)
				unauthorized(w)
				return
			}
			if err != nil {
				logger.Error("auth.check.failed", zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom returns the caller set by RequireAuth.
func IdentityFrom(ctx context.Context) (*session.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*session.Identity)
	return id, ok && id != nil
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": domain.ErrInvalidToken.Error()})
}
