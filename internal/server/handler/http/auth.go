package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/guard"
	"github.com/atinyakov/grillzstudio/internal/middleware"
	"github.com/atinyakov/grillzstudio/internal/models"
)

// IdentityService defines the session operations required by AuthHandler.
type IdentityService interface {
	// Login verifies a password for an email or the admin identifier.
	Login(ctx context.Context, identifierOrEmail, password string) (*models.Principal, error)
	// Logout notifies session listeners that p signed out.
	Logout(ctx context.Context, p *models.Principal)
	// SendMagicLink mails a one-time sign-in link.
	SendMagicLink(ctx context.Context, email string) error
	// VerifyMagicLink consumes a sign-in token.
	VerifyMagicLink(ctx context.Context, token string) (*models.Principal, error)
}

// SessionBinder stores and clears the principal of the session cookie.
type SessionBinder interface {
	SignIn(w http.ResponseWriter, r *http.Request, p *models.Principal) error
	SignOut(w http.ResponseWriter, r *http.Request) error
}

// AuthHandler handles sign-in, sign-out and session introspection.
type AuthHandler struct {
	Identity IdentityService
	Sessions SessionBinder
	Log      *zap.Logger
}

// LoginRequest is the JSON payload of POST /api/auth/login.
type LoginRequest struct {
	// Identifier is an email or the reserved admin identifier.
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// SessionResponse describes the current session.
type SessionResponse struct {
	Principal *models.Principal `json:"principal"`
	VisitorID string            `json:"visitorId"`
}

// landing returns the route a freshly signed-in principal starts on.
func landing(p *models.Principal) string {
	if p.IsAdmin() {
		return guard.RouteAdmin
	}
	return guard.RouteDashboard
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		writeError(w, log, apperr.Invalid("identifier", "identifier and password are required"))
		return
	}

	p, err := h.Identity.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if err := h.Sessions.SignIn(w, r, p); err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": p, "redirect": landing(p)})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())
	if err := h.Sessions.SignOut(w, r); err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	h.Identity.Logout(r.Context(), p)
	w.WriteHeader(http.StatusNoContent)
}

// MagicLink handles POST /api/auth/magic-link. The response does not reveal
// whether the address has an account.
func (h *AuthHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if err := h.Identity.SendMagicLink(r.Context(), req.Email); err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// VerifyMagicLink handles GET /api/auth/magic?token= and redirects the
// browser to its landing route.
func (h *AuthHandler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, log, apperr.Invalid("token", "token is required"))
		return
	}
	p, err := h.Identity.VerifyMagicLink(r.Context(), token)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if err := h.Sessions.SignIn(w, r, p); err != nil {
		writeError(w, log, err)
		return
	}
	http.Redirect(w, r, landing(p), http.StatusSeeOther)
}

// Session handles GET /api/session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{
		Principal: middleware.PrincipalFromContext(r.Context()),
		VisitorID: middleware.VisitorIDFromContext(r.Context()),
	})
}

// CSRFToken handles GET /api/csrf. Clients echo the token in the
// X-CSRF-Token header of every mutating request.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token := csrf.Token(r)
	w.Header().Set("X-CSRF-Token", token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
