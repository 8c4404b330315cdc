package model

import "time"

// Audit actions. Every successful mutation writes exactly one entry.
const (
	ActionScanIn  = "SCAN_IN"
	ActionScanOut = "SCAN_OUT"
	ActionAdjust  = "ADJUST"
)

// AuditDetails is the action-specific payload of an audit entry.
// SCAN_IN fills QuantityAdded, SCAN_OUT fills QuantityRemoved, ADJUST fills
// the old/new pair plus a free-text reason.
type AuditDetails struct {
	ProductName     string `json:"product_name"`
	QuantityAdded   int    `json:"quantity_added,omitempty"`
	QuantityRemoved int    `json:"quantity_removed,omitempty"`
	OldQuantity     int    `json:"old_quantity,omitempty"`
	NewQuantity     int    `json:"new_quantity,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// AuditLog is an immutable record of one inventory-affecting action.
// Entries are append-only: created once, never updated or deleted.
type AuditLog struct {
	ID        string       `json:"id"`
	UserEmail string       `json:"user_email"`
	Action    string       `json:"action"`
	Details   AuditDetails `json:"details"`
	CreatedAt time.Time    `json:"created_at"`
}
