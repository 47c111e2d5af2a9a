package apierror

import (
	"net/http"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Response is the body of every failed request.
type Response struct {
	Error string `json:"error"`
}

// Middleware turns handler errors into JSON responses.
type Middleware struct {
	logger *zap.Logger
}

// New creates a new error middleware.
func New(logger *zap.Logger) *Middleware {
	return &Middleware{
		logger: logger,
	}
}

// AsRESTMiddleware returns a bunrouter middleware that maps error kinds to status codes.
func (m *Middleware) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		err := next(w, req)
		if err == nil {
			return nil
		}

		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			m.logger.Error("Request failed",
				zap.String("method", req.Method),
				zap.String("route", req.Route()),
				zap.Error(err))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		return bunrouter.JSON(w, Response{Error: apperr.Message(err)})
	}
}
