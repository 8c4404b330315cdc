package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"martstock-api/internal/model"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteStore implements Store using SQLite.
// Thread-safe with WAL mode for high-concurrency reads.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and if needed initializes) a SQLite-backed store.
// dbPath is the path to the database file, or ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteStore] Initialized with database: %s", dbPath)
	return &SQLiteStore{db: db}, nil
}

func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		barcode TEXT UNIQUE,
		price TEXT NOT NULL,
		sku TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		batch_code TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		expiry_date DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (product_id, batch_code)
	);
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		user_email TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batches_product ON batches(product_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_logs(created_at);
	`
	_, err := db.Exec(query)
	return err
}

// LoadProducts returns all products.
func (s *SQLiteStore) LoadProducts(ctx context.Context) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

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
func (s *SQLiteStore) LoadBatches(ctx context.Context) ([]model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

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
func (s *SQLiteStore) LoadAuditLogs(ctx context.Context, limit int) ([]model.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

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
		var details string
		if err := rows.Scan(&entry.ID, &entry.UserEmail, &entry.Action, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to parse audit details: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetProduct returns a product by id, or ErrNotFound.
func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT id, name, barcode, price, sku, created_at FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// InsertProduct creates a product.
func (s *SQLiteStore) InsertProduct(ctx context.Context, p model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
func (s *SQLiteStore) UpdateProduct(ctx context.Context, p model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBatchRow(ctx, s.db, id)
}

// InsertBatch creates a new batch with its initial quantity.
func (s *SQLiteStore) InsertBatch(ctx context.Context, b model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

// AdjustBatchQuantity atomically applies delta to the batch quantity.
// The conditional update is the authoritative underflow guard: concurrent
// sessions may race to this point with stale local quantities, and the losing
// session gets ErrStockConflict instead of a silently clamped write.
func (s *SQLiteStore) AdjustBatchQuantity(ctx context.Context, batchID string, delta int) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
// the caller last observed. A concurrent scan between the caller's read and
// this write flips the guard and the set is rejected instead of overwriting
// the newer quantity.
func (s *SQLiteStore) SetBatchQuantity(ctx context.Context, batchID string, target, observed int) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
func (s *SQLiteStore) InsertAuditLog(ctx context.Context, entry model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to serialize audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_email, action, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.UserEmail, entry.Action, string(details), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// checkBarcode enforces barcode uniqueness across products. The UNIQUE index
// is the backstop; this pre-check yields the typed sentinel.
func (s *SQLiteStore) checkBarcode(ctx context.Context, barcode *string, selfID string) error {
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

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*model.Product, error) {
	var p model.Product
	var barcode sql.NullString
	var price string
	if err := row.Scan(&p.ID, &p.Name, &barcode, &price, &p.SKU, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	if barcode.Valid {
		p.Barcode = &barcode.String
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("failed to parse product price %q: %w", price, err)
	}
	p.Price = parsed
	return &p, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// checkBatchCode enforces lot-code uniqueness per product. The UNIQUE index
// is the backstop; this pre-check yields the typed sentinel.
func checkBatchCode(ctx context.Context, q querier, productID, batchCode string) error {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batches WHERE product_id = ? AND batch_code = ?`,
		productID, batchCode).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check batch code: %w", err)
	}
	if count > 0 {
		return ErrBatchCodeTaken
	}
	return nil
}

func getBatchRow(ctx context.Context, q querier, id string) (*model.Batch, error) {
	var b model.Batch
	err := q.QueryRowContext(ctx,
		`SELECT id, product_id, batch_code, quantity, expiry_date, created_at FROM batches WHERE id = ?`, id).
		Scan(&b.ID, &b.ProductID, &b.BatchCode, &b.Quantity, &b.ExpiryDate, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
