package auth

import (
	"net/http"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс проверки токена, реализуется BaseValidator
type TokenValidator interface {
	VerifyToken(tokenStr string) (*Claims, error)
}

// NewMiddleware проверяет Bearer-токен и кладёт идентичность пользователя в контекст.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := domain.WithActor(r.Context(), claims.Identity())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
