package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/models"
)

// Inconsistency kinds reported by Reconcile.
const (
	ApprovedWithoutOrder   = "approved_ticket_without_order"
	OrderWithoutTicket     = "order_without_ticket"
	OrderTicketNotApproved = "order_ticket_not_approved"
)

// Inconsistency describes a ticket and order pair that did not change together.
type Inconsistency struct {
	Email  string              `json:"email"`
	Kind   string              `json:"kind"`
	Status models.TicketStatus `json:"ticketStatus,omitempty"`
}

// ReconcileReport is the result of a reconciliation pass.
type ReconcileReport struct {
	Tickets int             `json:"tickets"`
	Orders  int             `json:"orders"`
	Issues  []Inconsistency `json:"issues"`
}

// Consistent reports whether the pass found nothing to repair.
func (r *ReconcileReport) Consistent() bool {
	return len(r.Issues) == 0
}

// Reconcile reloads the read model and flags approved tickets with no order
// and orders whose ticket is missing or not approved. It reports; it does not repair.
func (s *OrderService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if err := s.cache.RefreshAll(ctx); err != nil {
		return nil, err
	}
	tickets := s.cache.Tickets()
	orders := s.cache.Orders()

	report := &ReconcileReport{Tickets: len(tickets), Orders: len(orders), Issues: []Inconsistency{}}
	ticketByEmail := make(map[string]models.Ticket, len(tickets))
	for _, t := range tickets {
		ticketByEmail[t.Email] = t
	}
	orderByEmail := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		orderByEmail[o.Email] = struct{}{}
		t, ok := ticketByEmail[o.Email]
		switch {
		case !ok:
			report.Issues = append(report.Issues, Inconsistency{Email: o.Email, Kind: OrderWithoutTicket})
		case t.Status != models.TicketStatusApproved:
			report.Issues = append(report.Issues, Inconsistency{Email: o.Email, Kind: OrderTicketNotApproved, Status: t.Status})
		}
	}
	for _, t := range tickets {
		if _, ok := orderByEmail[t.Email]; !ok && t.Status == models.TicketStatusApproved {
			report.Issues = append(report.Issues, Inconsistency{Email: t.Email, Kind: ApprovedWithoutOrder, Status: t.Status})
		}
	}
	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Email != report.Issues[j].Email {
			return report.Issues[i].Email < report.Issues[j].Email
		}
		return report.Issues[i].Kind < report.Issues[j].Kind
	})

	if !report.Consistent() {
		s.log.Warn("reconciliation found inconsistent ticket and order pairs", zapIssues(report.Issues))
	}
	return report, nil
}

func zapIssues(issues []Inconsistency) zap.Field {
	emails := make([]string, len(issues))
	for i, is := range issues {
		emails[i] = is.Email + ":" + is.Kind
	}
	return zap.Strings("issues", emails)
}
