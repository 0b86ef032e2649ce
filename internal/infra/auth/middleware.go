package auth

import (
	"context"
	"net/http"

	"github.com/ansersec/anser/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который должны реализовать и шлюз, и консоль
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Типизированный ключ контекста: чужой пакет не подменит принципала
type ctxKey int

const principalKey ctxKey = iota

// PrincipalFromContext достает аутентифицированного принципала,
// положенного туда Middleware. Второе значение false — запрос не прошел auth.
func PrincipalFromContext(ctx context.Context) (*domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*domain.Principal)
	return p, ok
}

// WithPrincipal кладет принципала в контекст (для тестов и внутренних вызовов)
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

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

			// Прокидываем принципала целиком, а не отдельные поля
			principal := claims.ToPrincipal()
			ctx := WithPrincipal(r.Context(), &principal)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
