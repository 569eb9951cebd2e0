package identity

import (
	"context"
	"net/http"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"go.uber.org/zap"
)

type ctxKey struct{}

// WithIdentity кладет проверенную идентичность в контекст запроса
func WithIdentity(ctx context.Context, id domain.AgentIdentity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (domain.AgentIdentity, bool) {
	id, ok := ctx.Value(ctxKey{}).(domain.AgentIdentity)
	return id, ok
}

// Middleware пропускает только запросы с валидным токеном и требуемым уровнем доверия
func Middleware(v *Validator, required domain.TrustLevel, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			id, err := v.Identity(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if required != "" && id.TrustLevel != required {
				logger.Warn("insufficient trust level",
					zap.String("agent_id", id.AgentID),
					zap.String("trust_level", string(id.TrustLevel)))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
