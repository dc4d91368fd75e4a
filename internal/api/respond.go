package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/memory"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
	"github.com/codetix2020-hash/marketingdios-sub000/internal/usage"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// fail maps a component error onto a status code and error body.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, usage.ErrUnknownTenant):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, usage.ErrUnknownPlan), errors.Is(err, memory.ErrInvalid):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrExists):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, memory.ErrEmbed):
		httpError(w, http.StatusServiceUnavailable, "upstream_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
