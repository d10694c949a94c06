// Package cache keeps a process-local read model of tickets and orders.
//
// The read model is refreshed explicitly from the persistence gateway and is
// only written after a confirmed remote write. Callers never mutate the
// values it returns.
package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
)

// TicketSource reads tickets from the gateway.
type TicketSource interface {
	List(ctx context.Context) ([]models.Ticket, error)
	Get(ctx context.Context, email string) (*models.Ticket, error)
}

// OrderSource reads orders from the gateway.
type OrderSource interface {
	List(ctx context.Context) ([]models.Order, error)
	Get(ctx context.Context, email string) (*models.Order, error)
}

// ReadModel mirrors the tickets and orders maps keyed by email.
type ReadModel struct {
	tickets TicketSource
	orders  OrderSource

	mu        sync.RWMutex
	ticketMap map[string]models.Ticket
	orderMap  map[string]models.Order
	warm      bool
}

// New creates an empty read model over the given sources.
func New(tickets TicketSource, orders OrderSource) *ReadModel {
	return &ReadModel{
		tickets:   tickets,
		orders:    orders,
		ticketMap: make(map[string]models.Ticket),
		orderMap:  make(map[string]models.Order),
	}
}

// RefreshAll replaces the whole read model with the gateway's state.
func (m *ReadModel) RefreshAll(ctx context.Context) error {
	tickets, err := m.tickets.List(ctx)
	if err != nil {
		return errors.Wrap(err, "refresh tickets")
	}
	orders, err := m.orders.List(ctx)
	if err != nil {
		return errors.Wrap(err, "refresh orders")
	}

	ticketMap := make(map[string]models.Ticket, len(tickets))
	for _, t := range tickets {
		ticketMap[t.Email] = t
	}
	orderMap := make(map[string]models.Order, len(orders))
	for _, o := range orders {
		orderMap[o.Email] = o
	}

	m.mu.Lock()
	m.ticketMap, m.orderMap, m.warm = ticketMap, orderMap, true
	m.mu.Unlock()
	return nil
}

// RefreshEmail reloads the ticket and order of a single email.
func (m *ReadModel) RefreshEmail(ctx context.Context, email string) error {
	t, err := m.tickets.Get(ctx, email)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return errors.Wrap(err, "refresh ticket")
	}
	o, err := m.orders.Get(ctx, email)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return errors.Wrap(err, "refresh order")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t != nil {
		m.ticketMap[email] = *t
	} else {
		delete(m.ticketMap, email)
	}
	if o != nil {
		m.orderMap[email] = *o
	} else {
		delete(m.orderMap, email)
	}
	return nil
}

// Warm reports whether RefreshAll has completed at least once.
func (m *ReadModel) Warm() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.warm
}

// Ticket returns the cached ticket for email.
func (m *ReadModel) Ticket(email string) (models.Ticket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.ticketMap[email]
	return t, ok
}

// Order returns the cached order for email.
func (m *ReadModel) Order(email string) (models.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orderMap[email]
	if ok {
		o.History = append([]models.StageEntry(nil), o.History...)
		o.CustomDesigns = append([]models.DesignRef(nil), o.CustomDesigns...)
	}
	return o, ok
}

// Tickets returns a snapshot of all cached tickets, newest first.
func (m *ReadModel) Tickets() []models.Ticket {
	m.mu.RLock()
	out := make([]models.Ticket, 0, len(m.ticketMap))
	for _, t := range m.ticketMap {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Orders returns a snapshot of all cached orders, newest first.
func (m *ReadModel) Orders() []models.Order {
	m.mu.RLock()
	out := make([]models.Order, 0, len(m.orderMap))
	for _, o := range m.orderMap {
		out = append(out, o)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// PutTicket stores a ticket confirmed by the gateway.
func (m *ReadModel) PutTicket(t models.Ticket) {
	m.mu.Lock()
	m.ticketMap[t.Email] = t
	m.mu.Unlock()
}

// PutOrder stores an order confirmed by the gateway.
func (m *ReadModel) PutOrder(o models.Order) {
	m.mu.Lock()
	m.orderMap[o.Email] = o
	m.mu.Unlock()
}

// RemoveOrder drops the order of email.
func (m *ReadModel) RemoveOrder(email string) {
	m.mu.Lock()
	delete(m.orderMap, email)
	m.mu.Unlock()
}

// Forget drops everything cached for email.
func (m *ReadModel) Forget(email string) {
	m.mu.Lock()
	delete(m.ticketMap, email)
	delete(m.orderMap, email)
	m.mu.Unlock()
}

// Clear empties the read model.
func (m *ReadModel) Clear() {
	m.mu.Lock()
	m.ticketMap = make(map[string]models.Ticket)
	m.orderMap = make(map[string]models.Order)
	m.warm = false
	m.mu.Unlock()
}

// Prewarm loads what principal p is about to look at: everything for an
// admin, only its own email for a user.
func (m *ReadModel) Prewarm(ctx context.Context, p *models.Principal) error {
	if p == nil {
		return nil
	}
	if p.IsAdmin() {
		return m.RefreshAll(ctx)
	}
	return m.RefreshEmail(ctx, p.Email)
}
