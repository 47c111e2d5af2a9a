package auth

import (
	"context"
	"net/http"

	"github.com/robalyx/resonance/internal/auth"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

type userIDCtxKey struct{}

// UserIDFromContext returns the authenticated user id, or an empty string.
func UserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDCtxKey{}).(string); ok {
		return userID
	}
	return ""
}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// Middleware rejects requests without a valid bearer token.
type Middleware struct {
	verifier Verifier
	logger   *zap.Logger
}

// New creates a new auth middleware.
func New(verifier Verifier, logger *zap.Logger) *Middleware {
	return &Middleware{
		verifier: verifier,
		logger:   logger,
	}
}

// AsRESTMiddleware returns a bunrouter middleware handler for bearer authentication.
func (m *Middleware) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		userID, err := m.verifier.Verify(auth.BearerToken(req.Request))
		if err != nil {
			m.logger.Debug("Rejected request", zap.String("path", req.URL.Path), zap.Error(err))
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return nil
		}

		return next(w, req.WithContext(WithUserID(req.Context(), userID)))
	}
}
