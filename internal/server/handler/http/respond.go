// Package http provides the JSON API of the studio back office.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
)

// maxJSONBody limits decoded request bodies.
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the API error body. Unclassified failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := map[string]any{"error": err.Error()}

	var partial *apperr.PartialFailure
	switch {
	case errors.As(err, &partial):
		body["partial"] = true
		body["completed"] = partial.Completed
		body["failed"] = partial.Failed
		log.Error("partial failure", zap.String("op", partial.Op), zap.String("email", partial.Email), zap.Error(err))
	case status == http.StatusInternalServerError:
		body["error"] = "internal error"
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		return apperr.Invalid("body", "invalid request")
	}
	return nil
}

// emailParam returns the {email} route parameter, unescaped.
func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
