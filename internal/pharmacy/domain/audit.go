package domain

import (
	"encoding/json"
	"time"
)

// Audit actions.
const (
	ActionStockAdjusted     = "inventory.adjusted"
	ActionStockCorrected    = "inventory.corrected"
	ActionStockExpired      = "inventory.expired"
	ActionStockDeleted      = "inventory.deleted"
	ActionMinimumLevelSet   = "inventory.minimum_level_set"
	ActionRequestCreated    = "supply_request.created"
	ActionRequestTransition = "supply_request.status_changed"
	ActionRequestNote       = "supply_request.note_added"
	ActionDrugCreated       = "drug.created"
	ActionDrugUpdated       = "drug.updated"
	ActionDrugStatusChanged = "drug.status_changed"
	ActionPrescription      = "prescription.changed"
	ActionDispensed         = "prescription.dispensed"
)

// Audited tables.
const (
	TableInventory     = "pharmacy_inventory"
	TableRequests      = "supply_requests"
	TableDrugs         = "drugs"
	TablePrescriptions = "prescriptions"
	TableDispensing    = "dispensing_records"
)

// AuditEntry records who changed what.
type AuditEntry struct {
	ID        string          `json:"id" db:"id"`
	ActorID   string          `json:"actor_id" db:"actor_id"`
	Action    string          `json:"action" db:"action"`
	TableName string          `json:"table_name" db:"table_name"`
	RecordID  string          `json:"record_id" db:"record_id"`
	OldValues json.RawMessage `json:"old_values,omitempty" db:"old_values"`
	NewValues json.RawMessage `json:"new_values,omitempty" db:"new_values"`
	Timestamp time.Time       `json:"timestamp" db:"created_at"`
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	TableName string
	RecordID  string
	ActorID   string
	Limit     int
}
