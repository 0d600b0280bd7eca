package domain

import "time"

type AlertType string

const (
	AlertLowStock     AlertType = "low_stock"
	AlertExpiringSoon AlertType = "expiring_soon"
	AlertExpired      AlertType = "expired"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// StockAlert is a persisted, deduplicated alert raised by the daily scan.
type StockAlert struct {
	ID          string    `json:"id" db:"id"`
	AlertType   AlertType `json:"alert_type" db:"alert_type"`
	Severity    string    `json:"severity" db:"severity"`
	DrugID      string    `json:"drug_id" db:"drug_id"`
	InventoryID string    `json:"inventory_id" db:"inventory_id"`
	Location
	Message        string      `json:"message" db:"message"`
	Status         AlertStatus `json:"status" db:"status"`
	AcknowledgedBy *string     `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	AlertType AlertType
	Status    AlertStatus
	DrugID    string
	Limit     int
	Offset    int
}
