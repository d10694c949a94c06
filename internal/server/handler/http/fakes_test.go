package http

import (
	"context"
	"net/http"

	"github.com/atinyakov/grillzstudio/internal/models"
	"github.com/atinyakov/grillzstudio/internal/service"
	"github.com/atinyakov/grillzstudio/internal/telemetry"
)

// fakeIdentity implements IdentityService for testing.
type fakeIdentity struct {
	principal  *models.Principal
	loginErr   error
	magicErr   error
	verifyErr  error
	loggedOut  []*models.Principal
	magicSent  []string
	identifier string
}

func (f *fakeIdentity) Login(_ context.Context, id, _ string) (*models.Principal, error) {
	f.identifier = id
	return f.principal, f.loginErr
}

func (f *fakeIdentity) Logout(_ context.Context, p *models.Principal) {
	f.loggedOut = append(f.loggedOut, p)
}

func (f *fakeIdentity) SendMagicLink(_ context.Context, email string) error {
	f.magicSent = append(f.magicSent, email)
	return f.magicErr
}

func (f *fakeIdentity) VerifyMagicLink(context.Context, string) (*models.Principal, error) {
	return f.principal, f.verifyErr
}

// fakeBinder implements SessionBinder for testing.
type fakeBinder struct {
	signedIn  *models.Principal
	signedOut bool
	err       error
}

func (f *fakeBinder) SignIn(_ http.ResponseWriter, _ *http.Request, p *models.Principal) error {
	f.signedIn = p
	return f.err
}

func (f *fakeBinder) SignOut(http.ResponseWriter, *http.Request) error {
	f.signedOut = true
	return f.err
}

// fakeQuotes implements QuoteService for testing.
type fakeQuotes struct {
	email string
	req   models.QuoteRequest
	err   error
}

func (f *fakeQuotes) SubmitQuoteRequest(_ context.Context, email string, req models.QuoteRequest) (*models.Ticket, error) {
	f.email, f.req = email, req
	if f.err != nil {
		return nil, f.err
	}
	return &models.Ticket{Email: email, Name: req.Name, DeviceOS: req.DeviceOS, Status: models.TicketStatusPending}, nil
}

// fakeClient implements ClientService for testing.
type fakeClient struct {
	order       *models.Order
	orderErr    error
	passwordErr error
	password    string
}

func (f *fakeClient) OwnOrder(context.Context, *models.Principal) (*models.Order, error) {
	return f.order, f.orderErr
}

func (f *fakeClient) ForceUpdatePassword(_ context.Context, _ *models.Principal, pw string) error {
	f.password = pw
	return f.passwordErr
}

func (f *fakeClient) Order(context.Context, string) (*models.Order, error) {
	return f.order, f.orderErr
}

// fakeStudio implements StudioService for testing. Each call records the
// email it was made for.
type fakeStudio struct {
	err     error
	calls   []string
	stage   int
	upd     models.OrderUpdate
	upload  service.DesignUpload
	target  service.MeshTarget
	request string
	report  *service.ReconcileReport

	statuses []models.TicketStatus
}

func (f *fakeStudio) record(op, email string) { f.calls = append(f.calls, op+" "+email) }

func (f *fakeStudio) ListTickets(context.Context, bool) ([]models.Ticket, error) {
	f.record("tickets", "")
	return []models.Ticket{{Email: "a@b.co"}}, f.err
}

func (f *fakeStudio) TicketsByStatus(_ context.Context, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	f.record("tickets-by-status", "")
	f.statuses = statuses
	return []models.Ticket{{Email: "a@b.co", Status: models.TicketStatusPending}}, f.err
}

func (f *fakeStudio) ApproveTicket(_ context.Context, email string) (*models.Order, error) {
	f.record("approve", email)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{Email: email}, nil
}

func (f *fakeStudio) DeclineTicket(_ context.Context, email string) error {
	f.record("decline", email)
	return f.err
}

func (f *fakeStudio) ListOrders(context.Context, bool) ([]models.Order, error) {
	f.record("orders", "")
	return []models.Order{{Email: "a@b.co"}}, f.err
}

func (f *fakeStudio) UpdateOrderStage(_ context.Context, email string, stage int) (*models.Order, error) {
	f.record("stage", email)
	f.stage = stage
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{Email: email, Stage: stage}, nil
}

func (f *fakeStudio) UpdateOrderDetails(_ context.Context, email string, upd models.OrderUpdate) (*models.Order, error) {
	f.record("details", email)
	f.upd = upd
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{Email: email}, nil
}

func (f *fakeStudio) DeleteOrder(_ context.Context, email string) error {
	f.record("delete", email)
	return f.err
}

func (f *fakeStudio) UploadCustomDesign(_ context.Context, email string, up service.DesignUpload) (*models.DesignRef, error) {
	f.record("upload", email)
	f.upload = up
	if f.err != nil {
		return nil, f.err
	}
	return &models.DesignRef{VariantName: up.VariantName, URL: "http://x/storage/designs/k.glb"}, nil
}

func (f *fakeStudio) TriggerPasswordReset(_ context.Context, email string) error {
	f.record("reset", email)
	return f.err
}

func (f *fakeStudio) GenerateMesh(_ context.Context, target service.MeshTarget, email, request string) (string, error) {
	f.record("mesh", email)
	f.target, f.request = target, request
	if f.err != nil {
		return "", f.err
	}
	return "http://x/storage/designs/mesh.glb", nil
}

func (f *fakeStudio) Reconcile(context.Context) (*service.ReconcileReport, error) {
	f.record("reconcile", "")
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	return &service.ReconcileReport{}, nil
}

// fakeSink implements TelemetrySink and PresenceLister for testing.
type fakeSink struct {
	recorded []models.ActivityLogEntry
	days     int
	err      error
	signIns  []telemetry.SignIn
}

func (f *fakeSink) Record(_ context.Context, e models.ActivityLogEntry) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, e)
	return nil
}

func (f *fakeSink) Recent(_ context.Context, days int) ([]models.ActivityLogEntry, error) {
	f.days = days
	return []models.ActivityLogEntry{}, f.err
}

func (f *fakeSink) List() []telemetry.SignIn { return f.signIns }
