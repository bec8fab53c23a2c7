package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/storage"
)

const CookieName = "token"

type ctxKey struct{}

// TokenStore returns the token currently stored for a user.
type TokenStore interface {
	Token(ctx context.Context, userID int64) (string, error)
}

// Middleware authenticates requests from the token cookie or a Bearer header.
// When store is nil revocation is not checked.
func Middleware(log *slog.Logger, m *Manager, store TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				deny(w, http.StatusForbidden, "token missing")
				return
			}

			claims, err := m.Validate(token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					deny(w, http.StatusUnauthorized, "token expired")
					return
				}
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}

			if store != nil {
				stored, err := store.Token(r.Context(), claims.UserID)
				if errors.Is(err, storage.ErrNotFound) {
					deny(w, http.StatusUnauthorized, "token revoked")
					return
				}
				if err != nil {
					log.Error("failed to load stored token",
						slog.Int64("user_id", claims.UserID),
						sl.Err(err),
					)
					deny(w, http.StatusInternalServerError, "internal server error")
					return
				}
				if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
					deny(w, http.StatusUnauthorized, "token revoked")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}

	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*Claims)
	return claims, ok
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
