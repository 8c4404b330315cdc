package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"martstock-api/internal/model"
)

// MySQLStore implements Store using MySQL. Connection pooling is left to
// database/sql; the conditional UPDATE carries the concurrency guarantee.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a MySQL-backed store on an existing connection pool.
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if err := createMySQLTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	log.Printf("[MySQLStore] Initialized")
	return &MySQLStore{db: db}, nil
}

func createMySQLTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id CHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			barcode VARCHAR(64) NULL UNIQUE,
			price DECIMAL(12,2) NOT NULL,
			sku VARCHAR(64) NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id CHAR(36) PRIMARY KEY,
			product_id CHAR(36) NOT NULL,
			batch_code VARCHAR(64) NOT NULL,
			quantity INT NOT NULL,
			expiry_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE KEY uniq_product_code (product_id, batch_code),
			KEY idx_batches_product (product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id CHAR(36) PRIMARY KEY,
			user_email VARCHAR(255) NOT NULL,
			action VARCHAR(16) NOT NULL,
			details JSON NOT NULL,
			created_at DATETIME(3) NOT NULL,
			KEY idx_audit_created (created_at)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadProducts returns all products.
func (s *MySQLStore) LoadProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, barcode, price, sku, created_at FROM products`)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// LoadBatches returns all batches, including zero-quantity ones.
func (s *MySQLStore) LoadBatches(ctx context.Context) ([]model.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, batch_code, quantity, expiry_date, created_at FROM batches`)
	if err != nil {
		return nil, fmt.Errorf("failed to load batches: %w", err)
	}
	defer rows.Close()

	batches := []model.Batch{}
	for rows.Next() {
		var b model.Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchCode, &b.Quantity, &b.ExpiryDate, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// LoadAuditLogs returns audit entries ordered most-recent-first.
func (s *MySQLStore) LoadAuditLogs(ctx context.Context, limit int) ([]model.AuditLog, error) {
	query := `SELECT id, user_email, action, details, created_at FROM audit_logs ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit logs: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditLog{}
	for rows.Next() {
		var entry model.AuditLog
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.UserEmail, &entry.Action, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to parse audit details: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetProduct returns a product by id, or ErrNotFound.
func (s *MySQLStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT id, name, barcode, price, sku, created_at FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// InsertProduct creates a product.
func (s *MySQLStore) InsertProduct(ctx context.Context, p model.Product) error {
	if err := s.checkBarcode(ctx, p.Barcode, p.ID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, barcode, price, sku, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullableString(p.Barcode), p.Price.String(), p.SKU, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// UpdateProduct overwrites a product's attributes.
func (s *MySQLStore) UpdateProduct(ctx context.Context, p model.Product) error {
	if err := s.checkBarcode(ctx, p.Barcode, p.ID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE products SET name = ?, barcode = ?, price = ?, sku = ? WHERE id = ?`,
		p.Name, nullableString(p.Barcode), p.Price.String(), p.SKU, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBatch returns a batch by id, or ErrNotFound.
func (s *MySQLStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	return getBatchRow(ctx, s.db, id)
}

// InsertBatch creates a new batch with its initial quantity.
func (s *MySQLStore) InsertBatch(ctx context.Context, b model.Batch) error {
	if err := checkBatchCode(ctx, s.db, b.ProductID, b.BatchCode); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, batch_code, quantity, expiry_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProductID, b.BatchCode, b.Quantity, b.ExpiryDate, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// AdjustBatchQuantity atomically applies delta to the batch quantity. The
// conditional UPDATE with RowsAffected is the cross-session underflow guard.
func (s *MySQLStore) AdjustBatchQuantity(ctx context.Context, batchID string, delta int) (*model.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE batches SET quantity = quantity + ?
		WHERE id = ? AND quantity + ? >= 0`,
		delta, batchID, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust batch quantity: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := getBatchRow(ctx, tx, batchID); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrStockConflict
	}

	b, err := getBatchRow(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}
	return b, nil
}

// SetBatchQuantity sets the batch quantity to target, guarded by the quantity
// the caller last observed. A guard mismatch means a concurrent scan landed
// since that read and the set is rejected.
func (s *MySQLStore) SetBatchQuantity(ctx context.Context, batchID string, target, observed int) (*model.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE batches SET quantity = ?
		WHERE id = ? AND quantity = ?`,
		target, batchID, observed)
	if err != nil {
		return nil, fmt.Errorf("failed to set batch quantity: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := getBatchRow(ctx, tx, batchID); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrStockConflict
	}

	b, err := getBatchRow(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit quantity set: %w", err)
	}
	return b, nil
}

// InsertAuditLog appends one immutable audit entry.
func (s *MySQLStore) InsertAuditLog(ctx context.Context, entry model.AuditLog) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to serialize audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_email, action, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.UserEmail, entry.Action, details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) checkBarcode(ctx context.Context, barcode *string, selfID string) error {
	if barcode == nil {
		return nil
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE barcode = ? AND id <> ?`, *barcode, selfID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check barcode: %w", err)
	}
	if count > 0 {
		return ErrBarcodeTaken
	}
	return nil
}
