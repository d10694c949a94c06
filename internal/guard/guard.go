// Package guard decides whether a principal may open a route.
package guard

import (
	"strings"

	"github.com/atinyakov/grillzstudio/internal/models"
)

// Well-known routes.
const (
	RouteHome       = "/"
	RouteLogin      = "/login"
	RouteDashboard  = "/dashboard"
	RouteForceReset = "/force-reset"
	RouteAdmin      = "/admin"
)

// Access is the protection class of a route.
type Access int

const (
	Public Access = iota
	Protected
	AdminOnly
)

// routes maps a route prefix to its access class. Paths not listed are public.
var routes = map[string]Access{
	RouteHome:       Public,
	RouteLogin:      Public,
	RouteDashboard:  Protected,
	RouteForceReset: Protected,
	RouteAdmin:      AdminOnly,
}

// Classify returns the access class of path, matching the longest registered
// prefix on a segment boundary.
func Classify(path string) Access {
	path = normalize(path)
	best, access := "", Public
	for prefix, a := range routes {
		if prefix == RouteHome {
			continue
		}
		if (path == prefix || strings.HasPrefix(path, prefix+"/")) && len(prefix) > len(best) {
			best, access = prefix, a
		}
	}
	return access
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// Decision is the outcome of Evaluate. A zero Redirect means allow.
type Decision struct {
	Redirect string `json:"redirect,omitempty"`
}

// Allowed reports whether the decision lets the request through.
func (d Decision) Allowed() bool {
	return d.Redirect == ""
}

// Allow lets the navigation through.
func Allow() Decision { return Decision{} }

// RedirectTo sends the navigation to route instead.
func RedirectTo(route string) Decision { return Decision{Redirect: route} }

// Evaluate decides a navigation to path for principal p whose paired order, if
// any, is order. It must be called on every protected navigation because the
// trap-door flag can be raised after the session was established.
func Evaluate(p *models.Principal, path string, order *models.Order) Decision {
	access := Classify(path)
	if access == Public {
		return Allow()
	}
	if p == nil {
		return RedirectTo(RouteLogin)
	}
	// The trap door wins over every destination but the reset route itself,
	// including admin-only routes a user would otherwise bounce off.
	if !p.IsAdmin() && order != nil && order.NeedsPasswordChange {
		if normalize(path) == RouteForceReset {
			return Allow()
		}
		return RedirectTo(RouteForceReset)
	}
	if access == AdminOnly && !p.IsAdmin() {
		return RedirectTo(RouteDashboard)
	}
	return Allow()
}
