package handler

import (
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/rest/middleware/auth"
	"github.com/uptrace/bunrouter"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// decodeBody decodes the JSON body of req into a new T.
func decodeBody[T any](req bunrouter.Request) (*T, error) {
	var v T

	decoder := sonic.ConfigDefault.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	if err := decoder.Decode(&v); err != nil {
		return nil, apperr.BadRequest("invalid request body")
	}

	return &v, nil
}

// queryFloat parses an optional float query parameter.
func queryFloat(req bunrouter.Request, name string) (*float64, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, apperr.BadRequest("%s must be a number", name)
	}

	return &v, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(req bunrouter.Request, name string) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.BadRequest("%s must be a non-negative integer", name)
	}

	return v, nil
}

func userID(req bunrouter.Request) string {
	return auth.UserIDFromContext(req.Context())
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return bunrouter.JSON(w, v)
}
