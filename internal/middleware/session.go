// Package middleware provides HTTP middlewares for session authentication,
// route guarding and request logging.
package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/models"
	"github.com/atinyakov/grillzstudio/internal/telemetry"
)

// SessionName is the name of the session cookie.
const SessionName = "grillz_session"

const (
	uidKey     = "uid"
	visitorKey = "vid"
)

type ctxKey string

const (
	principalKey ctxKey = "principal"
	visitorIDKey ctxKey = "visitor"
)

// PrincipalResolver turns the account id stored in a session into a principal.
type PrincipalResolver interface {
	ResolveSession(ctx context.Context, uid string) (*models.Principal, error)
}

// SessionAuth reads the session cookie, resolves the principal on every
// request and assigns anonymous visitors a stable visitor id.
type SessionAuth struct {
	Store    sessions.Store
	Resolver PrincipalResolver
	Log      *zap.Logger
}

// NewCookieStore creates the cookie session store used by SessionAuth.
func NewCookieStore(key []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(key)
	store.Options.HttpOnly = true
	store.Options.Secure = secure
	store.Options.SameSite = http.SameSiteLaxMode
	store.Options.Path = "/"
	store.Options.MaxAge = 7 * 24 * 3600
	return store
}

func (a *SessionAuth) logger() *zap.Logger {
	if a.Log == nil {
		return zap.NewNop()
	}
	return a.Log
}

// Handler attaches the principal, if any, and the visitor id to the request context.
func (a *SessionAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A cookie that no longer decodes yields a fresh session.
		sess, _ := a.Store.Get(r, SessionName)

		vid, _ := sess.Values[visitorKey].(string)
		if vid == "" {
			vid = telemetry.NewVisitorID()
			sess.Values[visitorKey] = vid
			if err := sess.Save(r, w); err != nil {
				a.logger().Warn("failed to save visitor session", zap.Error(err))
			}
		}
		ctx := context.WithValue(r.Context(), visitorIDKey, vid)

		if uid, _ := sess.Values[uidKey].(string); uid != "" {
			p, err := a.Resolver.ResolveSession(ctx, uid)
			if err != nil {
				a.logger().Error("failed to resolve session", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if p != nil {
				ctx = WithPrincipal(ctx, p)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SignIn binds p to the session of the request.
func (a *SessionAuth) SignIn(w http.ResponseWriter, r *http.Request, p *models.Principal) error {
	sess, _ := a.Store.Get(r, SessionName)
	sess.Values[uidKey] = p.UID
	return sess.Save(r, w)
}

// SignOut removes the principal from the session. The visitor id is kept.
func (a *SessionAuth) SignOut(w http.ResponseWriter, r *http.Request) error {
	sess, _ := a.Store.Get(r, SessionName)
	delete(sess.Values, uidKey)
	return sess.Save(r, w)
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the signed-in principal, or nil.
func PrincipalFromContext(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(principalKey).(*models.Principal)
	return p
}

// VisitorIDFromContext returns the anonymous visitor id of the request.
func VisitorIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(visitorIDKey).(string)
	return s
}
