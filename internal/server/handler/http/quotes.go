package http

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/models"
)

// QuoteService submits public quote requests.
type QuoteService interface {
	SubmitQuoteRequest(ctx context.Context, email string, req models.QuoteRequest) (*models.Ticket, error)
}

// QuoteHandler handles the public quote form.
type QuoteHandler struct {
	Quotes QuoteService
	Log    *zap.Logger
}

// QuoteRequest is the JSON payload of POST /api/quotes.
type QuoteRequest struct {
	Email string `json:"email"`
	models.QuoteRequest
}

// Submit handles POST /api/quotes. A missing deviceOS is derived from the
// User-Agent header.
func (h *QuoteHandler) Submit(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	var req QuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if strings.TrimSpace(req.DeviceOS) == "" {
		req.DeviceOS = DeviceOS(r.UserAgent())
	}

	t, err := h.Quotes.SubmitQuoteRequest(r.Context(), req.Email, req.QuoteRequest)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// DeviceOS classifies a User-Agent into a coarse operating system label.
func DeviceOS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "windows phone"):
		return "Windows Phone"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "Mac OS"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}
