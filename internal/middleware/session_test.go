package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/grillzstudio/internal/models"
)

type mockResolver struct {
	ResolveSessionFunc func(ctx context.Context, uid string) (*models.Principal, error)
}

func (m *mockResolver) ResolveSession(ctx context.Context, uid string) (*models.Principal, error) {
	return m.ResolveSessionFunc(ctx, uid)
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func dummyHandler(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	email := "anonymous"
	if p != nil {
		email = p.Email
	}
	_, _ = w.Write([]byte(email + "|" + VisitorIDFromContext(r.Context())))
}

func newAuth(resolve func(ctx context.Context, uid string) (*models.Principal, error)) *SessionAuth {
	return &SessionAuth{
		Store:    NewCookieStore(testKey, false),
		Resolver: &mockResolver{ResolveSessionFunc: resolve},
	}
}

func sessionCookie(t *testing.T, auth *SessionAuth, p *models.Principal) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	require.NoError(t, auth.SignIn(rec, req, p))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestSessionAuth_Anonymous(t *testing.T) {
	auth := newAuth(func(context.Context, string) (*models.Principal, error) {
		t.Fatal("resolver must not be called without a uid")
		return nil, nil
	})
	rec := httptest.NewRecorder()
	auth.Handler(http.HandlerFunc(dummyHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "anonymous|v_"), body)
	assert.NotEmpty(t, rec.Result().Cookies(), "visitor id should be persisted")
}

func TestSessionAuth_SignedIn(t *testing.T) {
	auth := newAuth(func(_ context.Context, uid string) (*models.Principal, error) {
		assert.Equal(t, "u1", uid)
		return &models.Principal{UID: uid, Email: "client@mail.com", Role: models.RoleUser}, nil
	})
	cookie := sessionCookie(t, auth, &models.Principal{UID: "u1"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	auth.Handler(http.HandlerFunc(dummyHandler)).ServeHTTP(rec, req)

	assert.True(t, strings.HasPrefix(rec.Body.String(), "client@mail.com|v_"))
}

func TestSessionAuth_StaleAccount(t *testing.T) {
	auth := newAuth(func(context.Context, string) (*models.Principal, error) { return nil, nil })
	cookie := sessionCookie(t, auth, &models.Principal{UID: "gone"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	auth.Handler(http.HandlerFunc(dummyHandler)).ServeHTTP(rec, req)

	assert.True(t, strings.HasPrefix(rec.Body.String(), "anonymous|"))
}

func TestSessionAuth_ResolverError(t *testing.T) {
	auth := newAuth(func(context.Context, string) (*models.Principal, error) { return nil, errors.New("db down") })
	cookie := sessionCookie(t, auth, &models.Principal{UID: "u1"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	auth.Handler(http.HandlerFunc(dummyHandler)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSessionAuth_SignOut(t *testing.T) {
	auth := newAuth(func(context.Context, string) (*models.Principal, error) {
		t.Fatal("signed-out session must not resolve")
		return nil, nil
	})
	cookie := sessionCookie(t, auth, &models.Principal{UID: "u1"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	require.NoError(t, auth.SignOut(rec, req))

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(rec.Result().Cookies()[0])
	out := httptest.NewRecorder()
	auth.Handler(http.HandlerFunc(dummyHandler)).ServeHTTP(out, next)
	assert.True(t, strings.HasPrefix(out.Body.String(), "anonymous|"))
}

func TestPrincipalFromContext_Empty(t *testing.T) {
	assert.Nil(t, PrincipalFromContext(context.Background()))
	assert.Empty(t, VisitorIDFromContext(context.Background()))

	p := &models.Principal{Email: "a@b.co"}
	assert.Same(t, p, PrincipalFromContext(WithPrincipal(context.Background(), p)))
}
