package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/guard"
	"github.com/atinyakov/grillzstudio/internal/middleware"
	"github.com/atinyakov/grillzstudio/internal/models"
)

// ClientService serves the signed-in client's own order.
type ClientService interface {
	OwnOrder(ctx context.Context, p *models.Principal) (*models.Order, error)
	ForceUpdatePassword(ctx context.Context, p *models.Principal, password string) error
	Order(ctx context.Context, email string) (*models.Order, error)
}

// MeHandler handles client dashboard and forced password reset requests.
type MeHandler struct {
	Orders ClientService
	Log    *zap.Logger
}

// RouteCheck is the response of GET /api/routes/check.
type RouteCheck struct {
	Path     string `json:"path"`
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

// CheckRoute handles GET /api/routes/check?path= for front-end navigation.
func (h *MeHandler) CheckRoute(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	path := r.URL.Query().Get("path")
	if path == "" {
		path = guard.RouteHome
	}
	p := middleware.PrincipalFromContext(r.Context())
	order, err := middleware.PairedOrder(r.Context(), h.Orders, p)
	if err != nil {
		writeError(w, log, err)
		return
	}
	d := guard.Evaluate(p, path, order)
	writeJSON(w, http.StatusOK, RouteCheck{Path: path, Allowed: d.Allowed(), Redirect: d.Redirect})
}

// MyOrder handles GET /api/me/order.
func (h *MeHandler) MyOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.OwnOrder(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ChangePassword handles POST /api/me/password on the forced reset route.
func (h *MeHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	p := middleware.PrincipalFromContext(r.Context())
	if err := h.Orders.ForceUpdatePassword(r.Context(), p, req.Password); err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect": guard.RouteDashboard})
}
