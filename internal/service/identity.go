// Package service implements the studio's business logic: session and
// identity resolution, and the ticket and order state machine. Persistence is
// delegated to repository interfaces.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/mailer"
	"github.com/atinyakov/grillzstudio/internal/models"
)

// AdminIdentifier is the login identifier rewritten to the configured admin email.
const AdminIdentifier = "admin"

// MinPasswordLength is the shortest password accepted.
const MinPasswordLength = 6

const invalidCredentials = "Invalid login credentials"

// AccountRepository defines the persistence operations required by the
// identity service.
type AccountRepository interface {
	// UserByEmail returns the account for email or apperr.ErrNotFound.
	UserByEmail(ctx context.Context, email string) (*models.AuthUser, error)
	// UserByID returns the account with uid or apperr.ErrNotFound.
	UserByID(ctx context.Context, id string) (*models.AuthUser, error)
	// EnsureUser returns the account for email, creating it if needed.
	EnsureUser(ctx context.Context, email string) (*models.AuthUser, error)
	// SetPasswordHash replaces the account's password hash.
	SetPasswordHash(ctx context.Context, id string, hash []byte) error
	// CreateLoginToken stores a single-use magic-link token.
	CreateLoginToken(ctx context.Context, token, email string, expiresAt time.Time) error
	// ConsumeLoginToken deletes an unexpired token and returns its email.
	ConsumeLoginToken(ctx context.Context, token string, now time.Time) (string, error)
}

// SessionKind names a session transition.
type SessionKind int

const (
	SignedIn SessionKind = iota
	SignedOut
	PasswordUpdated
)

func (k SessionKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	case PasswordUpdated:
		return "password_updated"
	default:
		return "unknown"
	}
}

// SessionEvent is delivered to session listeners.
type SessionEvent struct {
	Kind      SessionKind
	Principal *models.Principal
}

// IdentityConfig holds the settings of the identity service.
type IdentityConfig struct {
	// AdminEmail is the single address classified as admin (exact match).
	AdminEmail string
	// PublicBaseURL prefixes magic links.
	PublicBaseURL string
	// MagicLinkTTL is the lifetime of a magic-link token.
	MagicLinkTTL time.Duration
}

// IdentityService resolves principals from sessions and authenticates
// accounts by password or magic link.
type IdentityService struct {
	repo   AccountRepository
	mailer mailer.Mailer
	cfg    IdentityConfig
	log    *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	listeners map[int]func(SessionEvent)
	nextID    int
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(repo AccountRepository, m mailer.Mailer, cfg IdentityConfig, log *zap.Logger) *IdentityService {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = mailer.NewLogMailer(log)
	}
	if cfg.MagicLinkTTL <= 0 {
		cfg.MagicLinkTTL = time.Hour
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &IdentityService{
		repo:      repo,
		mailer:    m,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		listeners: make(map[int]func(SessionEvent)),
	}
}

// AdminEmail returns the configured admin address.
func (s *IdentityService) AdminEmail() string {
	return s.cfg.AdminEmail
}

func (s *IdentityService) principal(u *models.AuthUser) *models.Principal {
	role := models.RoleUser
	if u.Email == s.cfg.AdminEmail {
		role = models.RoleAdmin
	}
	return &models.Principal{Email: u.Email, Role: role, UID: u.ID}
}

// ResolveSession returns the principal of the account with uid, or nil when
// there is no session or the account no longer exists.
func (s *IdentityService) ResolveSession(ctx context.Context, uid string) (*models.Principal, error) {
	if uid == "" {
		return nil, nil
	}
	u, err := s.repo.UserByID(ctx, uid)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.principal(u), nil
}

// ResolveIdentifier rewrites the admin identifier to the configured admin
// email and trims everything else.
func (s *IdentityService) ResolveIdentifier(identifier string) string {
	id := strings.TrimSpace(identifier)
	if strings.EqualFold(id, AdminIdentifier) {
		return s.cfg.AdminEmail
	}
	return id
}

// Login authenticates identifierOrEmail with password.
func (s *IdentityService) Login(ctx context.Context, identifierOrEmail, password string) (*models.Principal, error) {
	email := s.ResolveIdentifier(identifierOrEmail)
	if email == "" || password == "" {
		return nil, &apperr.AuthError{Message: invalidCredentials}
	}
	u, err := s.repo.UserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, &apperr.AuthError{Message: invalidCredentials}
	}
	if err != nil {
		return nil, err
	}
	if len(u.PasswordHash) == 0 || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil, &apperr.AuthError{Message: invalidCredentials}
	}

	p := s.principal(u)
	s.notify(SessionEvent{Kind: SignedIn, Principal: p})
	return p, nil
}

// Logout ends the session of p. It never fails from the caller's perspective.
func (s *IdentityService) Logout(ctx context.Context, p *models.Principal) {
	if p == nil {
		return
	}
	s.notify(SessionEvent{Kind: SignedOut, Principal: p})
}

// OnSessionChange registers fn for every session transition. The returned
// function removes the listener.
func (s *IdentityService) OnSessionChange(fn func(SessionEvent)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// listenerCount returns the number of registered session listeners.
func (s *IdentityService) listenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

func (s *IdentityService) notify(ev SessionEvent) {
	s.mu.RLock()
	fns := make([]func(SessionEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	s.log.Debug("session change", zap.Stringer("kind", ev.Kind), zap.String("email", ev.Principal.Email))
	for _, fn := range fns {
		fn(ev)
	}
}

// EnsureAccount returns the principal of the account for email, creating a
// password-less account when none exists.
func (s *IdentityService) EnsureAccount(ctx context.Context, email string) (*models.Principal, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	u, err := s.repo.EnsureUser(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.principal(u), nil
}

// SendMagicLink mails a single-use sign-in link to email. Unknown addresses
// are ignored so the response does not reveal which accounts exist.
func (s *IdentityService) SendMagicLink(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if _, err := s.repo.UserByEmail(ctx, email); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.log.Info("magic link requested for unknown email", zap.String("email", email))
			return nil
		}
		return err
	}

	token, err := newToken()
	if err != nil {
		return err
	}
	if err := s.repo.CreateLoginToken(ctx, token, email, s.now().Add(s.cfg.MagicLinkTTL)); err != nil {
		return err
	}

	link := s.cfg.PublicBaseURL + "/api/auth/magic?token=" + url.QueryEscape(token)
	return s.mailer.Send(ctx, mailer.Message{
		To:      email,
		Subject: "Your Grillz Studio sign-in link",
		Body:    fmt.Sprintf("Use this link to sign in. It expires in %s.", s.cfg.MagicLinkTTL),
		Link:    link,
	})
}

// VerifyMagicLink consumes token and signs its account in.
func (s *IdentityService) VerifyMagicLink(ctx context.Context, token string) (*models.Principal, error) {
	if token == "" {
		return nil, &apperr.AuthError{Message: "Sign-in link is invalid or has expired"}
	}
	email, err := s.repo.ConsumeLoginToken(ctx, token, s.now())
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, &apperr.AuthError{Message: "Sign-in link is invalid or has expired"}
	}
	if err != nil {
		return nil, err
	}
	u, err := s.repo.EnsureUser(ctx, email)
	if err != nil {
		return nil, err
	}

	p := s.principal(u)
	s.notify(SessionEvent{Kind: SignedIn, Principal: p})
	return p, nil
}

// UpdatePassword sets a new password for the account of p.
func (s *IdentityService) UpdatePassword(ctx context.Context, p *models.Principal, password string) error {
	if len(password) < MinPasswordLength {
		return apperr.Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if p == nil || p.UID == "" {
		return &apperr.AuthError{Message: "Auth session missing"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return &apperr.AuthError{Message: err.Error()}
	}
	if err := s.repo.SetPasswordHash(ctx, p.UID, hash); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return &apperr.AuthError{Message: "User not found"}
		}
		return err
	}
	s.notify(SessionEvent{Kind: PasswordUpdated, Principal: p})
	return nil
}

// SetPassword creates the account for email if needed and sets its password.
func (s *IdentityService) SetPassword(ctx context.Context, email, password string) (*models.Principal, error) {
	if len(password) < MinPasswordLength {
		return nil, apperr.Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	p, err := s.EnsureAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.UpdatePassword(ctx, p, password); err != nil {
		return nil, err
	}
	return p, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate token")
	}
	return hex.EncodeToString(b), nil
}
