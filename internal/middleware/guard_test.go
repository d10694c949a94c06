package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/guard"
	"github.com/atinyakov/grillzstudio/internal/models"
)

type mockOrders struct {
	OrderFunc func(ctx context.Context, email string) (*models.Order, error)
}

func (m *mockOrders) Order(ctx context.Context, email string) (*models.Order, error) {
	return m.OrderFunc(ctx, email)
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestGuard(t *testing.T) {
	admin := &models.Principal{Email: "admin@grillz.com", Role: models.RoleAdmin}
	user := &models.Principal{Email: "client@mail.com", Role: models.RoleUser}
	trapped := &models.Order{Email: user.Email, NeedsPasswordChange: true}

	tests := []struct {
		name         string
		principal    *models.Principal
		route        string
		order        *models.Order
		orderErr     error
		wantStatus   int
		wantRedirect string
	}{
		{"anonymous protected", nil, guard.RouteDashboard, nil, nil, http.StatusUnauthorized, guard.RouteLogin},
		{"user dashboard", user, guard.RouteDashboard, nil, apperr.ErrNotFound, http.StatusNoContent, ""},
		{"user admin route", user, guard.RouteAdmin, nil, apperr.ErrNotFound, http.StatusForbidden, guard.RouteDashboard},
		{"trap door", user, guard.RouteDashboard, trapped, nil, http.StatusForbidden, guard.RouteForceReset},
		{"trap door reset page", user, guard.RouteForceReset, trapped, nil, http.StatusNoContent, ""},
		{"admin", admin, guard.RouteAdmin, nil, nil, http.StatusNoContent, ""},
		{"lookup failure", user, guard.RouteDashboard, nil, errors.New("db down"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrders{OrderFunc: func(_ context.Context, email string) (*models.Order, error) {
				require.NotNil(t, tt.principal)
				assert.False(t, tt.principal.IsAdmin(), "admins skip the order lookup")
				return tt.order, tt.orderErr
			}}
			h := Guard(orders, tt.route, nil)(http.HandlerFunc(okHandler))

			req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantRedirect != "" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.wantRedirect, body["redirect"])
			}
		})
	}
}
