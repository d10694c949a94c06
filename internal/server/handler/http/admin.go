package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/models"
	"github.com/atinyakov/grillzstudio/internal/service"
)

// maxDesignUpload limits multipart design uploads.
const maxDesignUpload = 64 << 20

// StudioService defines the admin operations of the order life cycle.
type StudioService interface {
	ListTickets(ctx context.Context, refresh bool) ([]models.Ticket, error)
	TicketsByStatus(ctx context.Context, statuses ...models.TicketStatus) ([]models.Ticket, error)
	ApproveTicket(ctx context.Context, email string) (*models.Order, error)
	DeclineTicket(ctx context.Context, email string) error
	ListOrders(ctx context.Context, refresh bool) ([]models.Order, error)
	UpdateOrderStage(ctx context.Context, email string, stage int) (*models.Order, error)
	UpdateOrderDetails(ctx context.Context, email string, upd models.OrderUpdate) (*models.Order, error)
	DeleteOrder(ctx context.Context, email string) error
	UploadCustomDesign(ctx context.Context, email string, up service.DesignUpload) (*models.DesignRef, error)
	TriggerPasswordReset(ctx context.Context, email string) error
	GenerateMesh(ctx context.Context, target service.MeshTarget, email, request string) (string, error)
	Reconcile(ctx context.Context) (*service.ReconcileReport, error)
}

// AdminHandler handles the admin dashboard API.
type AdminHandler struct {
	Studio StudioService
	Log    *zap.Logger
}

func refreshParam(r *http.Request) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return b
}

// Tickets handles GET /api/admin/tickets. A comma-separated ?status= filter
// reads the matching tickets straight from the database.
func (h *AdminHandler) Tickets(w http.ResponseWriter, r *http.Request) {
	var (
		tickets []models.Ticket
		err     error
	)
	if filter := r.URL.Query().Get("status"); filter != "" {
		var statuses []models.TicketStatus
		for _, s := range strings.Split(filter, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.TicketStatus(s))
			}
		}
		tickets, err = h.Studio.TicketsByStatus(r.Context(), statuses...)
	} else {
		tickets, err = h.Studio.ListTickets(r.Context(), refreshParam(r))
	}
	if err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// Approve handles POST /api/admin/tickets/{email}/approve.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	o, err := h.Studio.ApproveTicket(r.Context(), emailParam(r))
	if err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// Decline handles POST /api/admin/tickets/{email}/decline.
func (h *AdminHandler) Decline(w http.ResponseWriter, r *http.Request) {
	if err := h.Studio.DeclineTicket(r.Context(), emailParam(r)); err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Orders handles GET /api/admin/orders.
func (h *AdminHandler) Orders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Studio.ListOrders(r.Context(), refreshParam(r))
	if err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// SetStage handles PUT /api/admin/orders/{email}/stage.
func (h *AdminHandler) SetStage(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	var req struct {
		Stage *int `json:"stage"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if req.Stage == nil {
		writeError(w, log, apperr.Invalid("stage", "stage is required"))
		return
	}
	o, err := h.Studio.UpdateOrderStage(r.Context(), emailParam(r), *req.Stage)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// UpdateDetails handles PATCH /api/admin/orders/{email}.
func (h *AdminHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	var upd models.OrderUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, log, err)
		return
	}
	o, err := h.Studio.UpdateOrderDetails(r.Context(), emailParam(r), upd)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Delete handles DELETE /api/admin/orders/{email}.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Studio.DeleteOrder(r.Context(), emailParam(r)); err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadDesign handles POST /api/admin/orders/{email}/designs with a
// multipart form carrying "variantName" and "file".
func (h *AdminHandler) UploadDesign(w http.ResponseWriter, r *http.Request) {
	log := nopIfNil(h.Log)
	r.Body = http.MaxBytesReader(w, r.Body, maxDesignUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, log, apperr.Invalid("file", "invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, log, apperr.Invalid("file", "file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, log, apperr.Invalid("file", "failed to read upload"))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	ref, err := h.Studio.UploadCustomDesign(r.Context(), emailParam(r), service.DesignUpload{
		VariantName: r.FormValue("variantName"),
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// TriggerReset handles POST /api/admin/orders/{email}/reset.
func (h *AdminHandler) TriggerReset(w http.ResponseWriter, r *http.Request) {
	if err := h.Studio.TriggerPasswordReset(r.Context(), emailParam(r)); err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) generateMesh(target service.MeshTarget) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := nopIfNil(h.Log)
		var req struct {
			Request string `json:"request"`
		}
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, log, err)
				return
			}
		}
		url, err := h.Studio.GenerateMesh(r.Context(), target, emailParam(r), req.Request)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// TicketMesh handles POST /api/admin/tickets/{email}/mesh.
func (h *AdminHandler) TicketMesh(w http.ResponseWriter, r *http.Request) {
	h.generateMesh(service.MeshForTicket)(w, r)
}

// OrderMesh handles POST /api/admin/orders/{email}/mesh.
func (h *AdminHandler) OrderMesh(w http.ResponseWriter, r *http.Request) {
	h.generateMesh(service.MeshForOrder)(w, r)
}

// Reconcile handles GET /api/admin/reconcile.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Studio.Reconcile(r.Context())
	if err != nil {
		writeError(w, nopIfNil(h.Log), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
