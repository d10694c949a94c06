// Package models defines the core data structures for principals, quote tickets,
// production orders and activity telemetry.
package models

import (
	"time"
)

// Role is the authorization class of a principal.
type Role string

const (
	// RoleAdmin is granted to the single configured studio administrator.
	RoleAdmin Role = "admin"
	// RoleUser is granted to every other authenticated account.
	RoleUser Role = "user"
)

// Principal is the resolved identity of the current session.
type Principal struct {
	// Email is the unique key of the account.
	Email string `json:"email"`
	// Role is derived at session establishment and never stored.
	Role Role `json:"role"`
	// UID is the opaque account identifier issued by the gateway.
	UID string `json:"uid"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// TicketStatus describes the life-cycle state of a quote ticket.
type TicketStatus string

const (
	TicketStatusPending  TicketStatus = "pending"
	TicketStatusApproved TicketStatus = "approved"
	TicketStatusDeclined TicketStatus = "declined"
)

// Ticket is an unconfirmed quote request, one per email.
type Ticket struct {
	Email      string       `json:"email"`
	Name       string       `json:"name"`
	MaterialID string       `json:"materialId"`
	Comments   string       `json:"comments"`
	DeviceOS   string       `json:"deviceOS"`
	Status     TicketStatus `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	AIMeshURL  *string      `json:"aiMeshUrl,omitempty"`
}

// QuoteRequest carries the visitor-supplied fields of a quote submission.
type QuoteRequest struct {
	Name       string `json:"name"`
	MaterialID string `json:"materialId"`
	Comments   string `json:"comments"`
	DeviceOS   string `json:"deviceOS"`
}

// ModelType selects the base design of an order.
type ModelType int

const (
	ModelTypeGold ModelType = iota
	ModelTypeClassic
	ModelTypeDiamond
)

// Valid reports whether m is one of the known model types.
func (m ModelType) Valid() bool {
	return m >= ModelTypeGold && m <= ModelTypeDiamond
}

// String returns the display label of the model type.
func (m ModelType) String() string {
	switch m {
	case ModelTypeGold:
		return "Gold/Custom Molded"
	case ModelTypeClassic:
		return "Classic"
	case ModelTypeDiamond:
		return "Diamond"
	default:
		return "Unknown"
	}
}

// Stages is the fixed, ordered production pipeline.
var Stages = []string{
	"Quote Approved & Email Sent",
	"Scan Received",
	"3D Design",
	"Revision Loop",
	"Casting",
	"Polishing",
	"Delivery",
}

// ValidStage reports whether idx points into Stages.
func ValidStage(idx int) bool {
	return idx >= 0 && idx < len(Stages)
}

// StageEntry is one row of an order's append-only history.
type StageEntry struct {
	Stage string    `json:"stage"`
	Date  time.Time `json:"date"`
}

// DesignRef points to a custom 3D design uploaded for an order.
type DesignRef struct {
	VariantName  string    `json:"variantName"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Order is a confirmed, in-production item tied one to one to an email.
type Order struct {
	Email               string       `json:"email"`
	Name                string       `json:"name"`
	ModelType           ModelType    `json:"modelType"`
	Stage               int          `json:"stage"`
	History             []StageEntry `json:"history"`
	Comments            string       `json:"comments"`
	AdminNotes          string       `json:"adminNotes,omitempty"`
	DeviceOS            string       `json:"deviceOS,omitempty"`
	NeedsPasswordChange bool         `json:"needsPasswordChange"`
	CustomDesigns       []DesignRef  `json:"customDesigns"`
	AIMeshURL           *string      `json:"aiMeshUrl,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// StageLabel returns the pipeline label of the current stage.
func (o *Order) StageLabel() string {
	if !ValidStage(o.Stage) {
		return ""
	}
	return Stages[o.Stage]
}

// ForOwner returns a copy of the order with admin-only fields cleared.
func (o Order) ForOwner() Order {
	o.AdminNotes = ""
	return o
}

// OrderUpdate is a partial update; nil fields are left untouched.
type OrderUpdate struct {
	Name       *string    `json:"name,omitempty"`
	ModelType  *ModelType `json:"modelType,omitempty"`
	Stage      *int       `json:"stage,omitempty"`
	AdminNotes *string    `json:"adminNotes,omitempty"`
	Comments   *string    `json:"comments,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u OrderUpdate) Empty() bool {
	return u.Name == nil && u.ModelType == nil && u.Stage == nil && u.AdminNotes == nil && u.Comments == nil
}

// ActionType classifies a telemetry event.
type ActionType string

const (
	ActionNavigation  ActionType = "NAVIGATION"
	ActionInteraction ActionType = "INTERACTION"
	ActionSecurity    ActionType = "SECURITY"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionNavigation, ActionInteraction, ActionSecurity:
		return true
	}
	return false
}

// ActivityLogEntry is an append-only telemetry record.
type ActivityLogEntry struct {
	ID                 int64      `json:"id,omitempty"`
	VisitorID          string     `json:"visitorId"`
	UserEmail          *string    `json:"userEmail"`
	ActionType         ActionType `json:"actionType"`
	Detail             string     `json:"detail"`
	SessionDurationSec *int       `json:"sessionDurationSec"`
	MaxScrollDepth     *int       `json:"maxScrollDepth"`
	Timestamp          time.Time  `json:"timestamp"`
}

// AuthUser is an account row of the gateway's authentication store.
type AuthUser struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
