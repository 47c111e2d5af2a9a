package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperr.NotFound("session %s", "abc"), http.StatusNotFound},
		{"forbidden", apperr.Forbidden("not a participant"), http.StatusForbidden},
		{"bad request", apperr.BadRequest("self target"), http.StatusBadRequest},
		{"unavailable", apperr.Unavailable(errors.New("dial tcp: refused")), http.StatusServiceUnavailable},
		{"wrapped twice", fmt.Errorf("failed to start: %w", apperr.Forbidden("find disabled")), http.StatusForbidden},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, apperr.HTTPStatus(tt.err))
		})
	}
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset by peer")
	err := apperr.Unavailable(cause)

	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, err, apperr.Unavailable(err), "wrapping is idempotent")
	assert.NoError(t, apperr.Unavailable(nil))
	assert.False(t, apperr.IsRetryable(apperr.BadRequest("x")))
}

func TestMessageMasksInternalErrors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "internal error", apperr.Message(errors.New("pq: secret detail")))
	assert.Equal(t, "not found: session abc", apperr.Message(apperr.NotFound("session %s", "abc")))
}
