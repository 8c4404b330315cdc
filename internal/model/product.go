package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a sellable item tracked by the inventory engine.
// Barcode is nil until an admin assigns one; assigned barcodes are unique
// across products.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Barcode   *string         `json:"barcode,omitempty"`
	Price     decimal.Decimal `json:"price"`
	SKU       string          `json:"sku"`
	CreatedAt time.Time       `json:"created_at"`
}
