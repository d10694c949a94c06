// Package telemetry appends page-view and click events to the activity log
// without putting the caller on the write path.
package telemetry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
)

const (
	// DefaultDays is the window of the admin activity view.
	DefaultDays = 7
	// RecentLimit caps the rows returned by Recent.
	RecentLimit = 200
)

// Store persists activity log entries.
type Store interface {
	Insert(ctx context.Context, e *models.ActivityLogEntry) error
	Since(ctx context.Context, since time.Time, limit int) ([]models.ActivityLogEntry, error)
}

// NewVisitorID returns an anonymous per-session visitor id.
func NewVisitorID() string {
	return "v_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Sink records events in the background. Writes that fail are logged and
// otherwise ignored.
type Sink struct {
	store    Store
	log      *zap.Logger
	presence *Presence
	slots    chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time

	// Timeout bounds a single background write.
	Timeout time.Duration
}

// NewSink creates a sink that runs at most concurrency writes at once.
func NewSink(store Store, presence *Presence, log *zap.Logger, concurrency int) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if presence == nil {
		presence = NewPresence()
	}
	return &Sink{
		store:    store,
		log:      log,
		presence: presence,
		slots:    make(chan struct{}, concurrency),
		now:      time.Now,
		Timeout:  5 * time.Second,
	}
}

// Presence returns the local view of active sign-ins fed by this sink.
func (s *Sink) Presence() *Presence {
	return s.presence
}

// Normalize validates e and applies the per-action field rules: navigation
// events keep duration and a scroll depth clamped to 0..100, all other events
// carry neither.
func Normalize(e *models.ActivityLogEntry) error {
	if !e.ActionType.Valid() {
		return apperr.Invalid("actionType", "must be NAVIGATION, INTERACTION or SECURITY")
	}
	if strings.TrimSpace(e.VisitorID) == "" {
		return apperr.Invalid("visitorId", "is required")
	}
	if e.UserEmail != nil && *e.UserEmail == "" {
		e.UserEmail = nil
	}
	if e.ActionType != models.ActionNavigation {
		e.SessionDurationSec, e.MaxScrollDepth = nil, nil
		return nil
	}
	if d := e.SessionDurationSec; d != nil && *d < 0 {
		zero := 0
		e.SessionDurationSec = &zero
	}
	if d := e.MaxScrollDepth; d != nil {
		v := min(max(*d, 0), 100)
		e.MaxScrollDepth = &v
	}
	return nil
}

// Record validates e and appends it in the background. Only validation errors
// are returned.
func (s *Sink) Record(ctx context.Context, e models.ActivityLogEntry) error {
	if err := Normalize(&e); err != nil {
		return err
	}
	if e.UserEmail != nil {
		s.presence.Seen(*e.UserEmail, s.now())
	}

	select {
	case s.slots <- struct{}{}:
	default:
		s.log.Warn("telemetry backlog full, dropping event", zap.String("visitor_id", e.VisitorID))
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
		defer cancel()
		if err := s.store.Insert(ctx, &e); err != nil {
			s.log.Error("failed to record activity",
				zap.String("visitor_id", e.VisitorID),
				zap.String("action_type", string(e.ActionType)),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all background writes have finished.
func (s *Sink) Wait() {
	s.wg.Wait()
}

// Recent returns activity of the last days days, newest first, at most
// RecentLimit rows. days <= 0 means DefaultDays.
func (s *Sink) Recent(ctx context.Context, days int) ([]models.ActivityLogEntry, error) {
	if days <= 0 {
		days = DefaultDays
	}
	entries, err := s.store.Since(ctx, s.now().AddDate(0, 0, -days), RecentLimit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.ActivityLogEntry{}
	}
	return entries, nil
}

// SignIn is one row of the active sign-ins view.
type SignIn struct {
	Email    string    `json:"email"`
	LastSeen time.Time `json:"lastSeen"`
}

// Presence tracks signed-in users seen by this process. It is not shared
// between instances.
type Presence struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewPresence returns an empty presence view.
func NewPresence() *Presence {
	return &Presence{seen: make(map[string]time.Time)}
}

// Seen records activity of email at t.
func (p *Presence) Seen(email string, t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.seen[email]; !ok || t.After(prev) {
		p.seen[email] = t
	}
}

// Leave removes email from the view.
func (p *Presence) Leave(email string) {
	p.mu.Lock()
	delete(p.seen, email)
	p.mu.Unlock()
}

// List returns one row per email, most recently seen first.
func (p *Presence) List() []SignIn {
	p.mu.Lock()
	out := make([]SignIn, 0, len(p.seen))
	for email, t := range p.seen {
		out = append(out, SignIn{Email: email, LastSeen: t})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}
