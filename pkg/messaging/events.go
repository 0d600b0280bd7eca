package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// User events (consumed)
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"

	// Stock events
	EventStockAdjusted  = "pharmacy.stock.adjusted"
	EventStockLow       = "pharmacy.stock.low"
	EventStockAvailable = "pharmacy.stock.available"
	EventStockExpiring  = "pharmacy.stock.expiring"
	EventStockExpired   = "pharmacy.stock.expired"

	// Supply request events
	EventRequestStatusChanged = "pharmacy.request.status_changed"
	EventRequestShortage      = "pharmacy.request.shortage"

	// Drug lifecycle events
	EventDrugPhasingOut  = "pharmacy.drug.phasing_out"
	EventDrugArchived    = "pharmacy.drug.archived"
	EventDrugReactivated = "pharmacy.drug.reactivated"

	// Prescription events
	EventPrescriptionDispensed = "pharmacy.prescription.dispensed"

	// Audit events
	EventAuditRecorded = "pharmacy.audit.recorded"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}

// User Events

// TenantRef identifies the tenant schema an event belongs to.
type TenantRef struct {
	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// UserProfileEvent is published by the user service on user.created and
// user.updated. Location assignments drive supply request resolution.
type UserProfileEvent struct {
	UserID      string  `json:"user_id"`
	Email       string  `json:"email"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	RoleName    string  `json:"role_name"`
	HospitalID  *string `json:"hospital_id,omitempty"`
	PharmacyID  *string `json:"pharmacy_id,omitempty"`
	WarehouseID *string `json:"warehouse_id,omitempty"`
	SupplierID  *string `json:"supplier_id,omitempty"`
	TenantRef
}

// UserDeletedEvent is published when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
	TenantRef
}

// Stock Events

// StockAdjustedEvent is published after every inventory mutation
type StockAdjustedEvent struct {
	InventoryID      string  `json:"inventory_id"`
	DrugID           string  `json:"drug_id"`
	LocationType     string  `json:"location_type"`
	LocationID       string  `json:"location_id"`
	BatchNumber      *string `json:"batch_number,omitempty"`
	PreviousQuantity int     `json:"previous_quantity"`
	NewQuantity      int     `json:"new_quantity"`
	Reason           string  `json:"reason"`
	PerformedBy      string  `json:"performed_by"`
}

// LowStockEvent is published when a record falls to or below its minimum level
type LowStockEvent struct {
	InventoryID     string  `json:"inventory_id"`
	DrugID          string  `json:"drug_id"`
	LocationType    string  `json:"location_type"`
	LocationID      string  `json:"location_id"`
	BatchNumber     *string `json:"batch_number,omitempty"`
	CurrentQuantity int     `json:"current_quantity"`
	MinimumLevel    int     `json:"minimum_level"`
}

// StockAvailableEvent is published on a 0 to positive transition
type StockAvailableEvent struct {
	DrugID       string `json:"drug_id"`
	LocationType string `json:"location_type"`
	LocationID   string `json:"location_id"`
}

// StockExpiringEvent is published by the daily alert scan
type StockExpiringEvent struct {
	InventoryID     string    `json:"inventory_id"`
	DrugID          string    `json:"drug_id"`
	LocationType    string    `json:"location_type"`
	LocationID      string    `json:"location_id"`
	BatchNumber     *string   `json:"batch_number,omitempty"`
	ExpiryDate      time.Time `json:"expiry_date"`
	DaysUntil       int       `json:"days_until"`
	CurrentQuantity int       `json:"current_quantity"`
}

// Supply Request Events

// RequestStatusChangedEvent is published after every supply request transition
type RequestStatusChangedEvent struct {
	RequestID   string `json:"request_id"`
	Kind        string `json:"kind"`
	From        string `json:"from"`
	To          string `json:"to"`
	PerformedBy string `json:"performed_by"`
}

// ShortageItem is one line of a shortage report
type ShortageItem struct {
	ItemID       string `json:"item_id"`
	DrugID       string `json:"drug_id"`
	ApprovedQty  int    `json:"approved_qty"`
	FulfilledQty int    `json:"fulfilled_qty"`
	Gap          int    `json:"gap"`
}

// ShortageDetectedEvent is published when a receipt comes in short
type ShortageDetectedEvent struct {
	RequestID  string         `json:"request_id"`
	Kind       string         `json:"kind"`
	OriginType string         `json:"origin_type"`
	OriginID   string         `json:"origin_id"`
	Note       string         `json:"note"`
	Items      []ShortageItem `json:"items"`
}

// Drug Events

// DrugLifecycleEvent is published on phasing out, archival and reactivation
type DrugLifecycleEvent struct {
	DrugID   string `json:"drug_id"`
	DrugName string `json:"drug_name,omitempty"`
	Status   string `json:"status"`
	// Audience is only populated for reactivation fan-out.
	AudienceRoles []string `json:"audience_roles,omitempty"`
	PatientIDs    []string `json:"patient_ids,omitempty"`
}

// DispensedEvent is published after a dispensing transaction commits
type DispensedEvent struct {
	DispensingID   string `json:"dispensing_id"`
	PrescriptionID string `json:"prescription_id"`
	PatientID      string `json:"patient_id"`
	DrugID         string `json:"drug_id"`
	PharmacyID     string `json:"pharmacy_id"`
	Quantity       int    `json:"quantity"`
}

// Audit Events

// AuditRecordedEvent mirrors a persisted audit entry
type AuditRecordedEvent struct {
	LogID     string          `json:"log_id"`
	ActorID   string          `json:"actor_id"`
	Action    string          `json:"action"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
