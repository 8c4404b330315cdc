package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"martstock-api/internal/model"
	"martstock-api/internal/repository"
	"martstock-api/internal/stream"
	"martstock-api/pkg/apierror"
	"martstock-api/pkg/uid"

	"github.com/shopspring/decimal"
)

// ScanIn increases a batch's quantity, or creates a new batch when batchID is
// empty, and appends one SCAN_IN audit entry. The pair is two store writes:
// if the batch mutation fails nothing is written; if the audit write fails
// after a successful mutation the caller gets a persistence error and decides
// whether to retry - the engine never retries on its own, since a blind retry
// risks duplicate audit entries.
func (e *Engine) ScanIn(ctx context.Context, userEmail, productID, batchID string, quantity int, batchCode string, expiryDate time.Time) (*model.Batch, error) {
	if err := validateScan(userEmail, productID, quantity); err != nil {
		return nil, err
	}
	if batchID == "" {
		if batchCode == "" {
			return nil, apierror.Validation("batch_code is required when creating a new batch")
		}
		if expiryDate.IsZero() {
			return nil, apierror.Validation("expiry_date is required when creating a new batch")
		}
	}
	if err := e.requireOnline(); err != nil {
		return nil, err
	}

	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, mapStoreError(err, "product")
	}

	var confirmed *model.Batch
	if batchID == "" {
		batch := model.Batch{
			ID:         uid.New(),
			ProductID:  productID,
			BatchCode:  batchCode,
			Quantity:   quantity,
			ExpiryDate: expiryDate.UTC(),
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.store.InsertBatch(ctx, batch); err != nil {
			return nil, mapStoreError(err, "batch")
		}
		confirmed = &batch
		e.confirmRow(ctx, model.TableBatches, model.OpInsert, batch)
	} else {
		if err := e.checkBatchOwnership(ctx, batchID, productID); err != nil {
			return nil, err
		}
		confirmed, err = e.store.AdjustBatchQuantity(ctx, batchID, quantity)
		if err != nil {
			return nil, mapStoreError(err, "batch")
		}
		e.confirmRow(ctx, model.TableBatches, model.OpUpdate, *confirmed)
	}

	entry := model.AuditLog{
		ID:        uid.New(),
		UserEmail: userEmail,
		Action:    model.ActionScanIn,
		Details: model.AuditDetails{
			ProductName:   product.Name,
			QuantityAdded: quantity,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertAuditLog(ctx, entry); err != nil {
		// The batch mutation is already durable; the cache reconciles from
		// what the store confirmed. No compensating write is attempted.
		return confirmed, apierror.Persistence(
			fmt.Sprintf("stock updated but audit entry was not recorded: %v", err))
	}
	e.confirmRow(ctx, model.TableAuditLogs, model.OpInsert, entry)

	return confirmed, nil
}

// ScanOut decreases a batch's quantity and appends one SCAN_OUT audit entry.
// The store, not the local cache, is the arbiter of whether enough stock
// remains: a concurrent session may have drained the batch since our last
// notification, and the store's conditional update rejects the underflow.
func (e *Engine) ScanOut(ctx context.Context, userEmail, productID, batchID string, quantity int) (*model.Batch, error) {
	if err := validateScan(userEmail, productID, quantity); err != nil {
		return nil, err
	}
	if batchID == "" {
		return nil, apierror.Validation("batch_id is required")
	}
	if err := e.requireOnline(); err != nil {
		return nil, err
	}

	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, mapStoreError(err, "product")
	}
	if err := e.checkBatchOwnership(ctx, batchID, productID); err != nil {
		return nil, err
	}

	confirmed, err := e.store.AdjustBatchQuantity(ctx, batchID, -quantity)
	if err != nil {
		if errors.Is(err, repository.ErrStockConflict) {
			// Local quantity was stale. Refresh the cache from the store's
			// current state instead of trusting it blindly.
			e.refreshBatch(ctx, batchID)
		}
		return nil, mapStoreError(err, "batch")
	}
	e.confirmRow(ctx, model.TableBatches, model.OpUpdate, *confirmed)

	entry := model.AuditLog{
		ID:        uid.New(),
		UserEmail: userEmail,
		Action:    model.ActionScanOut,
		Details: model.AuditDetails{
			ProductName:     product.Name,
			QuantityRemoved: quantity,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertAuditLog(ctx, entry); err != nil {
		return confirmed, apierror.Persistence(
			fmt.Sprintf("stock updated but audit entry was not recorded: %v", err))
	}
	e.confirmRow(ctx, model.TableAuditLogs, model.OpInsert, entry)

	return confirmed, nil
}

// Adjust sets a batch to a target quantity with an ADJUST audit entry carrying
// the old/new pair and a reason. The write is guarded by the quantity read
// here: a scan landing between the read and the write rejects the set as a
// stock conflict instead of silently overwriting it.
func (e *Engine) Adjust(ctx context.Context, userEmail, batchID string, newQuantity int, reason string) (*model.Batch, error) {
	if userEmail == "" {
		return nil, apierror.Validation("acting user identity is required")
	}
	if batchID == "" {
		return nil, apierror.Validation("batch_id is required")
	}
	if newQuantity < 0 {
		return nil, apierror.Validation("quantity must not be negative")
	}
	if err := e.requireOnline(); err != nil {
		return nil, err
	}

	current, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, mapStoreError(err, "batch")
	}
	product, err := e.store.GetProduct(ctx, current.ProductID)
	if err != nil {
		return nil, mapStoreError(err, "product")
	}

	confirmed := current
	if newQuantity != current.Quantity {
		confirmed, err = e.store.SetBatchQuantity(ctx, batchID, newQuantity, current.Quantity)
		if err != nil {
			if errors.Is(err, repository.ErrStockConflict) {
				e.refreshBatch(ctx, batchID)
			}
			return nil, mapStoreError(err, "batch")
		}
		e.confirmRow(ctx, model.TableBatches, model.OpUpdate, *confirmed)
	}

	entry := model.AuditLog{
		ID:        uid.New(),
		UserEmail: userEmail,
		Action:    model.ActionAdjust,
		Details: model.AuditDetails{
			ProductName: product.Name,
			OldQuantity: current.Quantity,
			NewQuantity: confirmed.Quantity,
			Reason:      reason,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertAuditLog(ctx, entry); err != nil {
		return confirmed, apierror.Persistence(
			fmt.Sprintf("stock updated but audit entry was not recorded: %v", err))
	}
	e.confirmRow(ctx, model.TableAuditLogs, model.OpInsert, entry)

	return confirmed, nil
}

// CreateProduct registers a new product.
func (e *Engine) CreateProduct(ctx context.Context, name string, barcode *string, price decimal.Decimal, sku string) (*model.Product, error) {
	if err := validateProduct(name, price, sku); err != nil {
		return nil, err
	}
	if err := e.requireOnline(); err != nil {
		return nil, err
	}

	product := model.Product{
		ID:        uid.New(),
		Name:      name,
		Barcode:   barcode,
		Price:     price,
		SKU:       sku,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertProduct(ctx, product); err != nil {
		return nil, mapStoreError(err, "product")
	}
	e.confirmRow(ctx, model.TableProducts, model.OpInsert, product)

	return &product, nil
}

// UpdateProduct overwrites a product's administrative attributes.
func (e *Engine) UpdateProduct(ctx context.Context, id, name string, barcode *string, price decimal.Decimal, sku string) (*model.Product, error) {
	if id == "" {
		return nil, apierror.Validation("product id is required")
	}
	if err := validateProduct(name, price, sku); err != nil {
		return nil, err
	}
	if err := e.requireOnline(); err != nil {
		return nil, err
	}

	existing, err := e.store.GetProduct(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "product")
	}

	product := model.Product{
		ID:        id,
		Name:      name,
		Barcode:   barcode,
		Price:     price,
		SKU:       sku,
		CreatedAt: existing.CreatedAt,
	}
	if err := e.store.UpdateProduct(ctx, product); err != nil {
		return nil, mapStoreError(err, "product")
	}
	e.confirmRow(ctx, model.TableProducts, model.OpUpdate, product)

	return &product, nil
}

// requireOnline gates mutations. Connectivity errors are resolved locally;
// no network call is attempted while the change channel is down.
func (e *Engine) requireOnline() error {
	switch e.State() {
	case StateInitializing:
		return apierror.Connectivity("inventory is still loading")
	case StateLoadError:
		return apierror.LoadFailed("")
	}
	if !e.IsOnline() {
		return apierror.Connectivity("")
	}
	return nil
}

// checkBatchOwnership rejects a scan naming a batch that belongs to a
// different product. Without this check a mismatched pair would mutate the
// other product's stock while the audit entry names the requested one.
// Ownership never changes after insert, so the check cannot go stale between
// here and the quantity update.
func (e *Engine) checkBatchOwnership(ctx context.Context, batchID, productID string) error {
	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return mapStoreError(err, "batch")
	}
	if batch.ProductID != productID {
		return apierror.Validation("batch does not belong to the given product")
	}
	return nil
}

// refreshBatch pulls the authoritative row after a rejected mutation so the
// cache converges on what the store actually holds.
func (e *Engine) refreshBatch(ctx context.Context, batchID string) {
	fresh, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return
	}
	e.confirmRow(ctx, model.TableBatches, model.OpUpdate, *fresh)
}

func (e *Engine) confirmRow(ctx context.Context, table, op string, row interface{}) {
	event, err := stream.NewEvent(table, op, row)
	if err != nil {
		return
	}
	e.confirm(ctx, event)
}

func validateScan(userEmail, productID string, quantity int) error {
	if userEmail == "" {
		return apierror.Validation("acting user identity is required")
	}
	if productID == "" {
		return apierror.Validation("product_id is required")
	}
	if quantity <= 0 {
		return apierror.Validation("quantity must be a positive integer")
	}
	return nil
}

func validateProduct(name string, price decimal.Decimal, sku string) error {
	if name == "" {
		return apierror.Validation("name is required")
	}
	if sku == "" {
		return apierror.Validation("sku is required")
	}
	if price.IsNegative() {
		return apierror.Validation("price must not be negative")
	}
	return nil
}

func mapStoreError(err error, what string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apierror.NotFound(what + " not found")
	case errors.Is(err, repository.ErrStockConflict):
		return apierror.StockConflict("insufficient stock: the batch changed since it was last seen")
	case errors.Is(err, repository.ErrBarcodeTaken):
		return apierror.Conflict("barcode is already assigned to another product")
	case errors.Is(err, repository.ErrBatchCodeTaken):
		return apierror.Conflict("a batch with that code already exists for this product")
	default:
		return apierror.InternalError(fmt.Sprintf("store operation failed: %v", err))
	}
}
