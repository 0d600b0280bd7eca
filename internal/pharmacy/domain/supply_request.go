package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// RequestKind distinguishes pharmacy-to-warehouse from hospital-to-supplier requests.
type RequestKind string

const (
	RequestInternal RequestKind = "internal"
	RequestExternal RequestKind = "external"
)

// Valid reports whether k is a known kind.
func (k RequestKind) Valid() bool {
	return k == RequestInternal || k == RequestExternal
}

// RequestStatus is the closed set of supply request states.
type RequestStatus string

const (
	RequestPending     RequestStatus = "pending"
	RequestPreapproved RequestStatus = "preapproved"
	RequestApproved    RequestStatus = "approved"
	RequestRejected    RequestStatus = "rejected"
	RequestFulfilled   RequestStatus = "fulfilled"
	RequestCancelled   RequestStatus = "cancelled"
)

// IsTerminal reports whether no edge leaves s.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestRejected || s == RequestFulfilled || s == RequestCancelled
}

var requestTransitions = map[RequestKind]map[RequestStatus][]RequestStatus{
	RequestInternal: {
		RequestPending:  {RequestApproved, RequestRejected, RequestCancelled},
		RequestApproved: {RequestFulfilled},
	},
	RequestExternal: {
		RequestPending:     {RequestPreapproved, RequestRejected, RequestCancelled},
		RequestPreapproved: {RequestApproved, RequestRejected, RequestCancelled},
		RequestApproved:    {RequestFulfilled},
	},
}

// CanTransition reports whether from -> to is an edge of the kind's graph.
func (k RequestKind) CanTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[k][from] {
		if next == to {
			return true
		}
	}
	return false
}

// Note is one entry of a request's discussion thread.
type Note struct {
	AuthorID   string    `json:"author_id"`
	AuthorRole string    `json:"author_role"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notes is stored as a JSONB array.
type Notes []Note

// Value implements driver.Valuer.
func (n Notes) Value() (driver.Value, error) {
	if n == nil {
		return "[]", nil
	}
	b, err := json.Marshal(n)
	return string(b), err
}

// Scan implements sql.Scanner.
func (n *Notes) Scan(src interface{}) error {
	return scanJSON(src, n)
}

// SupplyRequest moves stock from Destination (the fulfilling party) to
// Origin (the requesting party).
type SupplyRequest struct {
	ID              string               `json:"id"`
	Kind            RequestKind          `json:"kind"`
	Status          RequestStatus        `json:"status"`
	HospitalID      string               `json:"hospital_id"`
	Origin          Location             `json:"origin"`
	Destination     Location             `json:"destination"`
	RequestedBy     string               `json:"requested_by"`
	HandledBy       *string              `json:"handled_by,omitempty"`
	HandledAt       *time.Time           `json:"handled_at,omitempty"`
	PreapprovedBy   *string              `json:"preapproved_by,omitempty"`
	PreapprovedAt   *time.Time           `json:"preapproved_at,omitempty"`
	ApprovedAt      *time.Time           `json:"approved_at,omitempty"`
	FulfilledAt     *time.Time           `json:"fulfilled_at,omitempty"`
	RejectedAt      *time.Time           `json:"rejected_at,omitempty"`
	RejectionReason *string              `json:"rejection_reason,omitempty"`
	CancelledAt     *time.Time           `json:"cancelled_at,omitempty"`
	Notes           Notes                `json:"notes"`
	Items           []*SupplyRequestItem `json:"items"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// TransitionTo moves the request along its graph or fails leaving it unchanged.
func (r *SupplyRequest) TransitionTo(to RequestStatus) error {
	if !r.Kind.CanTransition(r.Status, to) {
		return errors.InvalidStateTransition("supply request", string(r.Status), string(to))
	}
	r.Status = to
	return nil
}

// Item returns the item with the given id.
func (r *SupplyRequest) Item(id string) (*SupplyRequestItem, bool) {
	for _, it := range r.Items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

// FulfillingLocation is where stock is drawn from on approval.
func (r *SupplyRequest) FulfillingLocation() Location { return r.Destination }

// ReceivingLocation is where stock lands on receipt.
func (r *SupplyRequest) ReceivingLocation() Location { return r.Origin }

// AddNote appends to the thread.
func (r *SupplyRequest) AddNote(authorID, role, message string, at time.Time) {
	r.Notes = append(r.Notes, Note{
		AuthorID:   authorID,
		AuthorRole: role,
		Message:    message,
		Timestamp:  at,
	})
}

// SupplyRequestItem is one drug line. Identity is fixed at creation; only
// the approved and fulfilled quantities are filled in later, once each.
type SupplyRequestItem struct {
	ID           string      `json:"id" db:"id"`
	RequestID    string      `json:"request_id" db:"request_id"`
	DrugID       string      `json:"drug_id" db:"drug_id"`
	RequestedQty int         `json:"requested_qty" db:"requested_qty"`
	ApprovedQty  *int        `json:"approved_qty,omitempty" db:"approved_qty"`
	FulfilledQty *int        `json:"fulfilled_qty,omitempty" db:"fulfilled_qty"`
	BatchNumber  *string     `json:"batch_number,omitempty" db:"batch_number"`
	ExpiryDate   *time.Time  `json:"expiry_date,omitempty" db:"expiry_date"`
	Allocations  Allocations `json:"allocations" db:"allocations"`
}

// Gap is approved minus fulfilled, or zero until both are known.
func (i *SupplyRequestItem) Gap() int {
	if i.ApprovedQty == nil || i.FulfilledQty == nil {
		return 0
	}
	return *i.ApprovedQty - *i.FulfilledQty
}

// Shortage is one item of a confirm-receipt that came in short.
type Shortage struct {
	ItemID       string `json:"item_id"`
	DrugID       string `json:"drug_id"`
	ApprovedQty  int    `json:"approved_qty"`
	FulfilledQty int    `json:"fulfilled_qty"`
	Gap          int    `json:"gap"`
}

// RequestFilter narrows supply request listings.
type RequestFilter struct {
	Kind          RequestKind
	Status        RequestStatus
	HospitalID    string
	OriginID      string
	DestinationID string
	RequestedBy   string
	Limit         int
	Offset        int
}
