package service

import (
	"context"
	"sync"
	"time"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
)

type mockAccountRepo struct {
	UserByEmailFunc       func(ctx context.Context, email string) (*models.AuthUser, error)
	UserByIDFunc          func(ctx context.Context, id string) (*models.AuthUser, error)
	EnsureUserFunc        func(ctx context.Context, email string) (*models.AuthUser, error)
	SetPasswordHashFunc   func(ctx context.Context, id string, hash []byte) error
	CreateLoginTokenFunc  func(ctx context.Context, token, email string, expiresAt time.Time) error
	ConsumeLoginTokenFunc func(ctx context.Context, token string, now time.Time) (string, error)
}

func (m *mockAccountRepo) UserByEmail(ctx context.Context, email string) (*models.AuthUser, error) {
	return m.UserByEmailFunc(ctx, email)
}
func (m *mockAccountRepo) UserByID(ctx context.Context, id string) (*models.AuthUser, error) {
	return m.UserByIDFunc(ctx, id)
}
func (m *mockAccountRepo) EnsureUser(ctx context.Context, email string) (*models.AuthUser, error) {
	return m.EnsureUserFunc(ctx, email)
}
func (m *mockAccountRepo) SetPasswordHash(ctx context.Context, id string, hash []byte) error {
	return m.SetPasswordHashFunc(ctx, id, hash)
}
func (m *mockAccountRepo) CreateLoginToken(ctx context.Context, token, email string, expiresAt time.Time) error {
	return m.CreateLoginTokenFunc(ctx, token, email, expiresAt)
}
func (m *mockAccountRepo) ConsumeLoginToken(ctx context.Context, token string, now time.Time) (string, error) {
	return m.ConsumeLoginTokenFunc(ctx, token, now)
}

// memGateway is an in-memory stand-in for the ticket and order tables. Calls
// counts every repository call so tests can assert that nothing was touched.
type memGateway struct {
	mu      sync.Mutex
	tickets map[string]models.Ticket
	orders  map[string]models.Order
	calls   int

	// failOrderCreate, failTicketUpdate and failOrderUpdate inject write errors.
	failOrderCreate  error
	failTicketUpdate error
	failOrderUpdate  error
}

func newMemGateway() *memGateway {
	return &memGateway{tickets: map[string]models.Ticket{}, orders: map[string]models.Order{}}
}

func (g *memGateway) touch() {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
}

type memTickets struct{ g *memGateway }

func (r memTickets) Create(_ context.Context, t *models.Ticket) error {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	if _, ok := r.g.tickets[t.Email]; ok {
		return apperr.ErrTicketExists
	}
	t.CreatedAt = time.Now()
	r.g.tickets[t.Email] = *t
	return nil
}

func (r memTickets) Get(_ context.Context, email string) (*models.Ticket, error) {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	t, ok := r.g.tickets[email]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &t, nil
}

func (r memTickets) List(context.Context) ([]models.Ticket, error) {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	out := make([]models.Ticket, 0, len(r.g.tickets))
	for _, t := range r.g.tickets {
		out = append(out, t)
	}
	return out, nil
}

func (r memTickets) ListByStatus(ctx context.Context, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	all, _ := r.List(ctx)
	out := make([]models.Ticket, 0, len(all))
	for _, t := range all {
		for _, st := range statuses {
			if t.Status == st {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (r memTickets) UpdateStatus(_ context.Context, email string, status models.TicketStatus) error {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	if r.g.failTicketUpdate != nil {
		return r.g.failTicketUpdate
	}
	t, ok := r.g.tickets[email]
	if !ok {
		return apperr.ErrNotFound
	}
	t.Status = status
	r.g.tickets[email] = t
	return nil
}

func (r memTickets) SetMeshURL(_ context.Context, email, url string) error {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	t, ok := r.g.tickets[email]
	if !ok {
		return apperr.ErrNotFound
	}
	t.AIMeshURL = &url
	r.g.tickets[email] = t
	return nil
}

type memOrders struct{ g *memGateway }

func (r memOrders) Create(_ context.Context, o *models.Order) error {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	if r.g.failOrderCreate != nil {
		return r.g.failOrderCreate
	}
	if _, ok := r.g.orders[o.Email]; ok {
		return apperr.ErrInvalidTransition
	}
	o.CreatedAt, o.UpdatedAt = time.Now(), time.Now()
	r.g.orders[o.Email] = cloneOrder(*o)
	return nil
}

func (r memOrders) Get(_ context.Context, email string) (*models.Order, error) {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	o, ok := r.g.orders[email]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r memOrders) List(context.Context) ([]models.Order, error) {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	out := make([]models.Order, 0, len(r.g.orders))
	for _, o := range r.g.orders {
		out = append(out, cloneOrder(o))
	}
	return out, nil
}

func (r memOrders) mutate(email string, fn func(o *models.Order)) (*models.Order, error) {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	if r.g.failOrderUpdate != nil {
		return nil, r.g.failOrderUpdate
	}
	o, ok := r.g.orders[email]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	fn(&o)
	o.UpdatedAt = time.Now()
	r.g.orders[email] = o
	out := cloneOrder(o)
	return &out, nil
}

func (r memOrders) Update(_ context.Context, email string, upd models.OrderUpdate, entry *models.StageEntry) (*models.Order, error) {
	return r.mutate(email, func(o *models.Order) {
		if upd.Name != nil {
			o.Name = *upd.Name
		}
		if upd.ModelType != nil {
			o.ModelType = *upd.ModelType
		}
		if upd.Stage != nil {
			o.Stage = *upd.Stage
		}
		if upd.AdminNotes != nil {
			o.AdminNotes = *upd.AdminNotes
		}
		if upd.Comments != nil {
			o.Comments = *upd.Comments
		}
		if entry != nil {
			o.History = append(o.History, *entry)
		}
	})
}

func (r memOrders) AppendDesign(_ context.Context, email string, d models.DesignRef) (*models.Order, error) {
	return r.mutate(email, func(o *models.Order) { o.CustomDesigns = append(o.CustomDesigns, d) })
}

func (r memOrders) SetNeedsPasswordChange(_ context.Context, email string, needs bool) (*models.Order, error) {
	return r.mutate(email, func(o *models.Order) { o.NeedsPasswordChange = needs })
}

func (r memOrders) SetMeshURL(_ context.Context, email, url string) (*models.Order, error) {
	return r.mutate(email, func(o *models.Order) { o.AIMeshURL = &url })
}

func (r memOrders) Delete(_ context.Context, email string) error {
	r.g.touch()
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	if _, ok := r.g.orders[email]; !ok {
		return apperr.ErrNotFound
	}
	delete(r.g.orders, email)
	return nil
}

func cloneOrder(o models.Order) models.Order {
	o.History = append([]models.StageEntry{}, o.History...)
	o.CustomDesigns = append([]models.DesignRef{}, o.CustomDesigns...)
	return o
}

// memTx applies paired writes atomically against the same memGateway.
type memTx struct{ g *memGateway }

func (tx memTx) ApproveTx(_ context.Context, o *models.Order) error {
	tx.g.touch()
	tx.g.mu.Lock()
	defer tx.g.mu.Unlock()
	t, ok := tx.g.tickets[o.Email]
	if !ok || t.Status != models.TicketStatusPending {
		return apperr.ErrInvalidTransition
	}
	t.Status = models.TicketStatusApproved
	tx.g.tickets[o.Email] = t
	tx.g.orders[o.Email] = cloneOrder(*o)
	return nil
}

func (tx memTx) DeleteTx(_ context.Context, email string) error {
	tx.g.touch()
	tx.g.mu.Lock()
	defer tx.g.mu.Unlock()
	if _, ok := tx.g.orders[email]; !ok {
		return apperr.ErrNotFound
	}
	delete(tx.g.orders, email)
	if t, ok := tx.g.tickets[email]; ok {
		t.Status = models.TicketStatusPending
		tx.g.tickets[email] = t
	}
	return nil
}

type mockAccounts struct {
	EnsureAccountFunc  func(ctx context.Context, email string) (*models.Principal, error)
	SendMagicLinkFunc  func(ctx context.Context, email string) error
	UpdatePasswordFunc func(ctx context.Context, p *models.Principal, password string) error
	linksSent          []string
}

func (m *mockAccounts) EnsureAccount(ctx context.Context, email string) (*models.Principal, error) {
	if m.EnsureAccountFunc != nil {
		return m.EnsureAccountFunc(ctx, email)
	}
	return &models.Principal{Email: email, Role: models.RoleUser, UID: "uid-" + email}, nil
}

func (m *mockAccounts) SendMagicLink(ctx context.Context, email string) error {
	m.linksSent = append(m.linksSent, email)
	if m.SendMagicLinkFunc != nil {
		return m.SendMagicLinkFunc(ctx, email)
	}
	return nil
}

func (m *mockAccounts) UpdatePassword(ctx context.Context, p *models.Principal, password string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, p, password)
	}
	return nil
}

type memBucket struct {
	objects map[string][]byte
	err     error
}

func (b *memBucket) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = data
	return "https://studio.test/storage/designs/" + key, nil
}

type mockMesh struct {
	GenerateFunc func(ctx context.Context, request string) (string, error)
	DownloadFunc func(ctx context.Context, url string) ([]byte, string, error)
}

func (m *mockMesh) Generate(ctx context.Context, request string) (string, error) {
	return m.GenerateFunc(ctx, request)
}

func (m *mockMesh) Download(ctx context.Context, url string) ([]byte, string, error) {
	return m.DownloadFunc(ctx, url)
}
