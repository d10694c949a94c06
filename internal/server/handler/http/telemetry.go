package http

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/middleware"
	"github.com/atinyakov/grillzstudio/internal/models"
	"github.com/atinyakov/grillzstudio/internal/telemetry"
)

// TelemetrySink records and reads activity events.
type TelemetrySink interface {
	Record(ctx context.Context, e models.ActivityLogEntry) error
	Recent(ctx context.Context, days int) ([]models.ActivityLogEntry, error)
}

// PresenceLister lists the users currently signed in.
type PresenceLister interface {
	List() []telemetry.SignIn
}

// TelemetryHandler handles visitor telemetry and the admin activity views.
type TelemetryHandler struct {
	Sink     TelemetrySink
	Presence PresenceLister
	Log      *zap.Logger
}

// TelemetryEvent is the JSON payload of POST /api/telemetry. Visitor id and
// email are taken from the session.
type TelemetryEvent struct {
	ActionType         models.ActionType `json:"actionType"`
	Detail             string            `json:"detail"`
	SessionDurationSec *int              `json:"sessionDurationSec"`
	MaxScrollDepth     *int              `json:"maxScrollDepth"`
}

// Record handles POST /api/telemetry. Storage happens in the background.
func (h *TelemetryHandler) Record(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	var ev TelemetryEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, log, err)
		return
	}
	entry := models.ActivityLogEntry{
		VisitorID:          middleware.VisitorIDFromContext(r.Context()),
		ActionType:         ev.ActionType,
		Detail:             ev.Detail,
		SessionDurationSec: ev.SessionDurationSec,
		MaxScrollDepth:     ev.MaxScrollDepth,
	}
	if p := middleware.PrincipalFromContext(r.Context()); p != nil {
		email := p.Email
		entry.UserEmail = &email
	}
	if err := h.Sink.Record(r.Context(), entry); err != nil {
		writeError(w, log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Activity handles GET /api/admin/activity?days=.
func (h *TelemetryHandler) Activity(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, log, apperr.Invalid("days", "must be a non-negative integer"))
			return
		}
		days = n
	}
	entries, err := h.Sink.Recent(r.Context(), days)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// SignIns handles GET /api/admin/presence.
func (h *TelemetryHandler) SignIns(w http.ResponseWriter, _ *http.Request) {
	list := h.Presence.List()
	if list == nil {
		list = []telemetry.SignIn{}
	}
	writeJSON(w, http.StatusOK, list)
}
