package model

import "encoding/json"

// Watched tables on the change channel.
const (
	TableProducts  = "products"
	TableBatches   = "batches"
	TableAuditLogs = "audit_logs"
)

// Change operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent is one row-level change notification on the change channel.
// Row carries the full post-change row for insert/update, or just {"id": ...}
// for delete.
type ChangeEvent struct {
	Table string          `json:"table"`
	Op    string          `json:"op"`
	Row   json.RawMessage `json:"row"`
}
