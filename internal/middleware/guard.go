package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/guard"
	"github.com/atinyakov/grillzstudio/internal/models"
)

// OrderLookup returns the authoritative order of an email.
type OrderLookup interface {
	Order(ctx context.Context, email string) (*models.Order, error)
}

// PairedOrder returns the order of a standard user, or nil for admins and
// users without an order.
func PairedOrder(ctx context.Context, orders OrderLookup, p *models.Principal) (*models.Order, error) {
	if p == nil || p.IsAdmin() {
		return nil, nil
	}
	o, err := orders.Order(ctx, p.Email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

// Guard evaluates the access guard for route on every request, reading the
// trap-door flag from orders so that a reset triggered mid-session applies
// immediately. Denied requests get 401 when sign-in is required and 403
// otherwise, with the redirect target in the body.
func Guard(orders OrderLookup, route string, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			order, err := PairedOrder(r.Context(), orders, p)
			if err != nil {
				log.Error("failed to load order for guard", zap.String("route", route), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			d := guard.Evaluate(p, route, order)
			if d.Allowed() {
				next.ServeHTTP(w, r)
				return
			}
			status := http.StatusForbidden
			if d.Redirect == guard.RouteLogin {
				status = http.StatusUnauthorized
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(status), "redirect": d.Redirect})
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
