package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/cache"
	"github.com/atinyakov/grillzstudio/internal/events"
	"github.com/atinyakov/grillzstudio/internal/models"
	"github.com/atinyakov/grillzstudio/internal/storage"
)

// DefaultMaterial is used when a quote names no material.
const DefaultMaterial = "gold"

// TicketRepository defines the ticket persistence operations needed by the
// OrderService.
type TicketRepository interface {
	// Create inserts a pending ticket, failing with apperr.ErrTicketExists
	// when the email already has one.
	Create(ctx context.Context, t *models.Ticket) error
	Get(ctx context.Context, email string) (*models.Ticket, error)
	List(ctx context.Context) ([]models.Ticket, error)
	// ListByStatus returns the tickets in any of statuses, newest first.
	ListByStatus(ctx context.Context, statuses ...models.TicketStatus) ([]models.Ticket, error)
	UpdateStatus(ctx context.Context, email string, status models.TicketStatus) error
	SetMeshURL(ctx context.Context, email, url string) error
}

// OrderRepository defines the order persistence operations needed by the
// OrderService.
type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, email string) (*models.Order, error)
	List(ctx context.Context) ([]models.Order, error)
	// Update applies upd and, when entry is non-nil, appends it to the history.
	Update(ctx context.Context, email string, upd models.OrderUpdate, entry *models.StageEntry) (*models.Order, error)
	AppendDesign(ctx context.Context, email string, d models.DesignRef) (*models.Order, error)
	SetNeedsPasswordChange(ctx context.Context, email string, needs bool) (*models.Order, error)
	SetMeshURL(ctx context.Context, email, url string) (*models.Order, error)
	Delete(ctx context.Context, email string) error
}

// Transactor applies paired ticket and order writes atomically.
type Transactor interface {
	// ApproveTx inserts o and moves its pending ticket to approved.
	ApproveTx(ctx context.Context, o *models.Order) error
	// DeleteTx removes the order and reverts its ticket to pending.
	DeleteTx(ctx context.Context, email string) error
}

// Bucket stores design objects and returns their public URL.
type Bucket interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// MeshGenerator runs text-to-3D jobs.
type MeshGenerator interface {
	Generate(ctx context.Context, request string) (string, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Accounts is the part of the identity service the state machine drives.
type Accounts interface {
	EnsureAccount(ctx context.Context, email string) (*models.Principal, error)
	SendMagicLink(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, p *models.Principal, password string) error
}

// OrderDeps wires an OrderService. Tx, Mesh and Events are optional.
type OrderDeps struct {
	Tickets  TicketRepository
	Orders   OrderRepository
	Tx       Transactor
	Accounts Accounts
	Bucket   Bucket
	Mesh     MeshGenerator
	Cache    *cache.ReadModel
	Events   *events.Emitter
	Log      *zap.Logger
}

// OrderService owns the ticket and order life cycle. It is the only
// component that writes ticket status, order stage and the trap-door flag.
type OrderService struct {
	tickets  TicketRepository
	orders   OrderRepository
	tx       Transactor
	accounts Accounts
	bucket   Bucket
	mesh     MeshGenerator
	cache    *cache.ReadModel
	events   *events.Emitter
	log      *zap.Logger
	now      func() time.Time
}

// NewOrderService constructs an OrderService from deps.
func NewOrderService(deps OrderDeps) *OrderService {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(deps.Tickets, deps.Orders)
	}
	if deps.Events == nil {
		deps.Events = events.NewEmitter(nil, deps.Log)
	}
	return &OrderService{
		tickets:  deps.Tickets,
		orders:   deps.Orders,
		tx:       deps.Tx,
		accounts: deps.Accounts,
		bucket:   deps.Bucket,
		mesh:     deps.Mesh,
		cache:    deps.Cache,
		events:   deps.Events,
		log:      deps.Log,
		now:      time.Now,
	}
}

// Cache returns the read model the service keeps current.
func (s *OrderService) Cache() *cache.ReadModel {
	return s.cache
}

// SubmitQuoteRequest creates a pending ticket for email. Input is validated
// before the gateway is touched.
func (s *OrderService) SubmitQuoteRequest(ctx context.Context, email string, req models.QuoteRequest) (*models.Ticket, error) {
	email = strings.TrimSpace(email)
	if err := validateQuote(email, req.Name, req.Comments); err != nil {
		return nil, err
	}
	t := &models.Ticket{
		Email:      email,
		Name:       strings.TrimSpace(req.Name),
		MaterialID: strings.TrimSpace(req.MaterialID),
		Comments:   strings.TrimSpace(req.Comments),
		DeviceOS:   strings.TrimSpace(req.DeviceOS),
		Status:     models.TicketStatusPending,
	}
	if t.MaterialID == "" {
		t.MaterialID = DefaultMaterial
	}
	if t.DeviceOS == "" {
		t.DeviceOS = "Unknown"
	}

	if err := s.tickets.Create(ctx, t); err != nil {
		s.log.Warn("quote request rejected", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	s.cache.PutTicket(*t)
	s.events.Emit(ctx, events.TicketSubmitted, email, t)
	return t, nil
}

func (s *OrderService) pendingTicket(ctx context.Context, email string) (*models.Ticket, error) {
	t, err := s.tickets.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TicketStatusPending {
		return nil, fmt.Errorf("ticket %s is %s: %w", email, t.Status, apperr.ErrInvalidTransition)
	}
	return t, nil
}

// ModelTypeForMaterial maps a ticket material onto the base design of its order.
func ModelTypeForMaterial(material string) models.ModelType {
	if material == DefaultMaterial {
		return models.ModelTypeGold
	}
	return models.ModelTypeClassic
}

// ApproveTicket turns the pending ticket of email into an order at stage 0
// with the trap-door flag raised, and mails the client a sign-in link.
func (s *OrderService) ApproveTicket(ctx context.Context, email string) (*models.Order, error) {
	t, err := s.pendingTicket(ctx, email)
	if err != nil {
		return nil, err
	}

	o := &models.Order{
		Email:               t.Email,
		Name:                t.Name,
		ModelType:           ModelTypeForMaterial(t.MaterialID),
		Stage:               0,
		History:             []models.StageEntry{{Stage: models.Stages[0], Date: s.now().UTC()}},
		Comments:            t.Comments,
		DeviceOS:            t.DeviceOS,
		NeedsPasswordChange: true,
		CustomDesigns:       []models.DesignRef{},
	}

	if s.tx != nil {
		if err := s.tx.ApproveTx(ctx, o); err != nil {
			return nil, err
		}
	} else {
		if err := s.orders.Create(ctx, o); err != nil {
			return nil, err
		}
		if err := s.tickets.UpdateStatus(ctx, email, models.TicketStatusApproved); err != nil {
			s.log.Error("approve left order without approved ticket", zap.String("email", email), zap.Error(err))
			s.cache.PutOrder(*o)
			return nil, &apperr.PartialFailure{Op: "approve", Email: email, Completed: []string{"order"}, Failed: []string{"ticket"}, Err: err}
		}
	}

	t.Status = models.TicketStatusApproved
	s.cache.PutTicket(*t)
	s.cache.PutOrder(*o)
	s.events.Emit(ctx, events.TicketApproved, email, o)

	if _, err := s.accounts.EnsureAccount(ctx, email); err != nil {
		s.log.Error("failed to create client account", zap.String("email", email), zap.Error(err))
	} else if err := s.accounts.SendMagicLink(ctx, email); err != nil {
		s.log.Error("failed to send approval link", zap.String("email", email), zap.Error(err))
	}
	return o, nil
}

// DeclineTicket closes the pending ticket of email. Declined is terminal.
func (s *OrderService) DeclineTicket(ctx context.Context, email string) error {
	t, err := s.pendingTicket(ctx, email)
	if err != nil {
		return err
	}
	if err := s.tickets.UpdateStatus(ctx, email, models.TicketStatusDeclined); err != nil {
		return err
	}
	t.Status = models.TicketStatusDeclined
	s.cache.PutTicket(*t)
	s.events.Emit(ctx, events.TicketDeclined, email, nil)
	return nil
}

func (s *OrderService) stageEntry(current *models.Order, stage int) *models.StageEntry {
	if current.Stage == stage {
		return nil
	}
	return &models.StageEntry{Stage: models.Stages[stage], Date: s.now().UTC()}
}

// UpdateOrderStage moves the order of email to stage and records the change in
// its history. Setting the current stage again only refreshes the timestamp.
func (s *OrderService) UpdateOrderStage(ctx context.Context, email string, stage int) (*models.Order, error) {
	if !models.ValidStage(stage) {
		return nil, apperr.Invalid("stage", fmt.Sprintf("must be between 0 and %d", len(models.Stages)-1))
	}
	current, err := s.orders.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.Update(ctx, email, models.OrderUpdate{Stage: &stage}, s.stageEntry(current, stage))
	if err != nil {
		return nil, err
	}
	s.cache.PutOrder(*o)
	s.events.Emit(ctx, events.OrderStageChanged, email, map[string]any{"from": current.Stage, "to": stage, "label": o.StageLabel()})
	return o, nil
}

// UpdateOrderDetails writes only the fields present in upd. A stage change is
// recorded in the history like UpdateOrderStage does.
func (s *OrderService) UpdateOrderDetails(ctx context.Context, email string, upd models.OrderUpdate) (*models.Order, error) {
	if upd.Empty() {
		return nil, apperr.Invalid("update", "no fields to update")
	}
	if upd.Stage != nil && !models.ValidStage(*upd.Stage) {
		return nil, apperr.Invalid("stage", fmt.Sprintf("must be between 0 and %d", len(models.Stages)-1))
	}
	if upd.ModelType != nil && !upd.ModelType.Valid() {
		return nil, apperr.Invalid("modelType", "must be 0, 1 or 2")
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}

	var entry *models.StageEntry
	if upd.Stage != nil {
		current, err := s.orders.Get(ctx, email)
		if err != nil {
			return nil, err
		}
		entry = s.stageEntry(current, *upd.Stage)
	}
	o, err := s.orders.Update(ctx, email, upd, entry)
	if err != nil {
		return nil, err
	}
	s.cache.PutOrder(*o)
	s.events.Emit(ctx, events.OrderUpdated, email, upd)
	return o, nil
}

// DeleteOrder removes the order of email and reopens its ticket as pending.
func (s *OrderService) DeleteOrder(ctx context.Context, email string) error {
	if s.tx != nil {
		if err := s.tx.DeleteTx(ctx, email); err != nil {
			return err
		}
	} else {
		if err := s.orders.Delete(ctx, email); err != nil {
			return err
		}
		if err := s.tickets.UpdateStatus(ctx, email, models.TicketStatusPending); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			s.log.Error("delete left ticket approved without order", zap.String("email", email), zap.Error(err))
			s.cache.RemoveOrder(email)
			return &apperr.PartialFailure{Op: "delete", Email: email, Completed: []string{"order"}, Failed: []string{"ticket"}, Err: err}
		}
	}

	s.cache.RemoveOrder(email)
	if t, ok := s.cache.Ticket(email); ok {
		t.Status = models.TicketStatusPending
		s.cache.PutTicket(t)
	}
	s.events.Emit(ctx, events.OrderDeleted, email, nil)
	return nil
}

// DesignUpload is a custom design file attached to an order.
type DesignUpload struct {
	VariantName string
	Filename    string
	ContentType string
	Data        []byte
}

// UploadCustomDesign stores the file under a collision resistant key and
// appends it to the order's custom designs. A stored object is not removed if
// the order update fails afterwards.
func (s *OrderService) UploadCustomDesign(ctx context.Context, email string, up DesignUpload) (*models.DesignRef, error) {
	variant := strings.TrimSpace(up.VariantName)
	if variant == "" {
		return nil, apperr.Invalid("variantName", "is required")
	}
	if len(up.Data) == 0 {
		return nil, apperr.Invalid("file", "is empty")
	}
	if _, err := s.orders.Get(ctx, email); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	key := storage.DesignKey(email, up.Filename, now)
	url, err := s.bucket.Upload(ctx, key, up.Data, up.ContentType)
	if err != nil {
		return nil, err
	}

	ref := models.DesignRef{VariantName: variant, URL: url, UploadedAt: now}
	if storage.IsImage(up.ContentType) {
		ref.ThumbnailURL = s.uploadThumbnail(ctx, key, up)
	}

	o, err := s.orders.AppendDesign(ctx, email, ref)
	if err != nil {
		return nil, err
	}
	s.cache.PutOrder(*o)
	s.events.Emit(ctx, events.OrderDesignUploaded, email, ref)
	return &ref, nil
}

func (s *OrderService) uploadThumbnail(ctx context.Context, key string, up DesignUpload) string {
	thumb, err := storage.Thumbnail(up.Data, up.ContentType)
	if err != nil {
		s.log.Warn("failed to render design thumbnail", zap.String("key", key), zap.Error(err))
		return ""
	}
	url, err := s.bucket.Upload(ctx, storage.ThumbKey(key), thumb, "image/png")
	if err != nil {
		s.log.Warn("failed to store design thumbnail", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}

// TriggerPasswordReset raises the trap-door flag on the order of email and
// mails a fresh sign-in link.
func (s *OrderService) TriggerPasswordReset(ctx context.Context, email string) error {
	o, err := s.orders.SetNeedsPasswordChange(ctx, email, true)
	if err != nil {
		return err
	}
	s.cache.PutOrder(*o)
	s.events.Emit(ctx, events.OrderPasswordReset, email, nil)

	if _, err := s.accounts.EnsureAccount(ctx, email); err != nil {
		return errors.Wrap(err, "ensure account")
	}
	return errors.Wrap(s.accounts.SendMagicLink(ctx, email), "send reset link")
}

// ForceUpdatePassword sets the password of p, who must own an order with the
// trap-door flag raised, and clears the flag. The flag is left untouched when
// the password is rejected.
func (s *OrderService) ForceUpdatePassword(ctx context.Context, p *models.Principal, password string) error {
	if len(password) < MinPasswordLength {
		return apperr.Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if p == nil {
		return &apperr.AuthError{Message: "Auth session missing"}
	}
	o, err := s.orders.Get(ctx, p.Email)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.ErrNoPendingReset
	}
	if err != nil {
		return err
	}
	if !o.NeedsPasswordChange {
		return apperr.ErrNoPendingReset
	}

	if err := s.accounts.UpdatePassword(ctx, p, password); err != nil {
		return err
	}
	o, err = s.orders.SetNeedsPasswordChange(ctx, p.Email, false)
	if err != nil {
		return &apperr.PartialFailure{Op: "force password update", Email: p.Email, Completed: []string{"password"}, Failed: []string{"order flag"}, Err: err}
	}
	s.cache.PutOrder(*o)
	s.events.Emit(ctx, events.OrderPasswordCleared, p.Email, nil)
	return nil
}

// Ticket returns the authoritative ticket of email.
func (s *OrderService) Ticket(ctx context.Context, email string) (*models.Ticket, error) {
	return s.tickets.Get(ctx, email)
}

// Order returns the authoritative order of email.
func (s *OrderService) Order(ctx context.Context, email string) (*models.Order, error) {
	return s.orders.Get(ctx, email)
}

// OwnOrder returns the order of p with admin-only fields removed.
func (s *OrderService) OwnOrder(ctx context.Context, p *models.Principal) (*models.Order, error) {
	if p == nil {
		return nil, &apperr.AuthError{Message: "Auth session missing"}
	}
	o, err := s.orders.Get(ctx, p.Email)
	if err != nil {
		return nil, err
	}
	owned := o.ForOwner()
	return &owned, nil
}

// ListTickets returns all tickets from the read model, refreshing it first
// when refresh is set or it has never been loaded.
func (s *OrderService) ListTickets(ctx context.Context, refresh bool) ([]models.Ticket, error) {
	if refresh || !s.cache.Warm() {
		if err := s.cache.RefreshAll(ctx); err != nil {
			return nil, err
		}
	}
	return s.cache.Tickets(), nil
}

// ListOrders returns all orders from the read model, refreshing it like ListTickets.
func (s *OrderService) ListOrders(ctx context.Context, refresh bool) ([]models.Order, error) {
	if refresh || !s.cache.Warm() {
		if err := s.cache.RefreshAll(ctx); err != nil {
			return nil, err
		}
	}
	return s.cache.Orders(), nil
}

// TicketsByStatus returns the authoritative tickets in any of statuses,
// newest first. Unknown statuses are rejected.
func (s *OrderService) TicketsByStatus(ctx context.Context, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	for _, st := range statuses {
		switch st {
		case models.TicketStatusPending, models.TicketStatusApproved, models.TicketStatusDeclined:
		default:
			return nil, apperr.Invalid("status", fmt.Sprintf("unknown ticket status %q", st))
		}
	}
	if len(statuses) == 0 {
		return s.ListTickets(ctx, false)
	}
	return s.tickets.ListByStatus(ctx, statuses...)
}
