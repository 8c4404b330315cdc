package repository

import (
	"context"
	"errors"

	"martstock-api/internal/model"
)

var (
	// ErrNotFound indicates the referenced row does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrStockConflict indicates the store rejected a quantity change that
	// would drive a batch negative. The caller's view of the quantity was
	// stale; refresh before retrying.
	ErrStockConflict = errors.New("insufficient stock")

	// ErrBarcodeTaken indicates another product already carries the barcode.
	ErrBarcodeTaken = errors.New("barcode already assigned")

	// ErrBatchCodeTaken indicates the product already has a batch with the
	// same lot code.
	ErrBatchCodeTaken = errors.New("batch code already exists for product")
)

// Store defines access to the durable inventory store. The store is the
// single source of truth: the engine's cache is rebuilt from it, never the
// reverse.
type Store interface {
	// LoadProducts returns all products.
	LoadProducts(ctx context.Context) ([]model.Product, error)

	// LoadBatches returns all batches, including zero-quantity ones.
	LoadBatches(ctx context.Context) ([]model.Batch, error)

	// LoadAuditLogs returns audit entries ordered most-recent-first.
	// limit <= 0 loads everything.
	LoadAuditLogs(ctx context.Context, limit int) ([]model.AuditLog, error)

	// GetProduct returns a product by id, or ErrNotFound.
	GetProduct(ctx context.Context, id string) (*model.Product, error)

	// InsertProduct creates a product. Returns ErrBarcodeTaken if the
	// barcode is already assigned to another product.
	InsertProduct(ctx context.Context, p model.Product) error

	// UpdateProduct overwrites a product's attributes.
	UpdateProduct(ctx context.Context, p model.Product) error

	// GetBatch returns a batch by id, or ErrNotFound.
	GetBatch(ctx context.Context, id string) (*model.Batch, error)

	// InsertBatch creates a new batch with its initial quantity. Returns
	// ErrBatchCodeTaken if the product already has a batch with the same
	// lot code.
	InsertBatch(ctx context.Context, b model.Batch) error

	// AdjustBatchQuantity atomically applies delta to the batch quantity.
	// The store itself rejects an adjustment that would go negative with
	// ErrStockConflict, regardless of what the caller believed the current
	// quantity to be. Returns the confirmed post-update batch.
	AdjustBatchQuantity(ctx context.Context, batchID string, delta int) (*model.Batch, error)

	// SetBatchQuantity sets the batch quantity to target, guarded by the
	// quantity the caller last observed. Returns ErrStockConflict when the
	// row changed since that read, so a set-to-target never silently
	// overwrites a concurrent scan. Returns the confirmed post-update batch.
	SetBatchQuantity(ctx context.Context, batchID string, target, observed int) (*model.Batch, error)

	// InsertAuditLog appends one immutable audit entry.
	InsertAuditLog(ctx context.Context, entry model.AuditLog) error

	// Close closes the store connection.
	Close() error
}
