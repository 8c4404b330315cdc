package model

import "time"

// Batch is one tracked lot of a product, with its own quantity and expiry.
// A batch belongs to exactly one product (non-owning foreign key) and is
// never deleted, even at zero quantity, so the audit trail stays resolvable.
type Batch struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	BatchCode  string    `json:"batch_code"`
	Quantity   int       `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
	CreatedAt  time.Time `json:"created_at"`
}
