package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"martstock-api/internal/model"
)

// Cache is the local in-memory view of products, batches, and audit entries.
// It is written only by the engine's apply loop (stream events plus confirmed
// transaction rows) and read concurrently through immutable snapshots.
// The remote store is the source of truth; the cache is rebuilt from it,
// never the reverse.
type Cache struct {
	mu         sync.RWMutex
	products   map[string]model.Product
	batches    map[string]model.Batch
	auditLogs  map[string]model.AuditLog
	generation uint64

	// batchesByProduct is a non-owning index (product id -> batch ids),
	// avoiding back-pointers between batches and products.
	batchesByProduct map[string]map[string]struct{}

	// last built snapshot, keyed by generation
	snap *Snapshot
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		products:         make(map[string]model.Product),
		batches:          make(map[string]model.Batch),
		auditLogs:        make(map[string]model.AuditLog),
		batchesByProduct: make(map[string]map[string]struct{}),
	}
}

// Reset replaces the entire cache contents with a fresh full load.
func (c *Cache) Reset(products []model.Product, batches []model.Batch, auditLogs []model.AuditLog) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products = make(map[string]model.Product, len(products))
	for _, p := range products {
		c.products[p.ID] = p
	}

	c.batches = make(map[string]model.Batch, len(batches))
	c.batchesByProduct = make(map[string]map[string]struct{})
	for _, b := range batches {
		c.batches[b.ID] = b
		c.indexBatch(b)
	}

	c.auditLogs = make(map[string]model.AuditLog, len(auditLogs))
	for _, entry := range auditLogs {
		c.auditLogs[entry.ID] = entry
	}

	c.generation++
	c.snap = nil
}

// Apply reconciles one change event into the cache. Events are applied in
// arrival order, last writer wins; re-applying the same row is a harmless
// upsert, which makes the self-published confirmation of a local transaction
// converge with its stream round-trip.
func (c *Cache) Apply(event model.ChangeEvent) error {
	switch event.Table {
	case model.TableProducts:
		if event.Op == model.OpDelete {
			id, err := rowID(event.Row)
			if err != nil {
				return err
			}
			c.RemoveProduct(id)
			return nil
		}
		var p model.Product
		if err := json.Unmarshal(event.Row, &p); err != nil {
			return fmt.Errorf("failed to decode product row: %w", err)
		}
		c.UpsertProduct(p)
		return nil

	case model.TableBatches:
		if event.Op == model.OpDelete {
			id, err := rowID(event.Row)
			if err != nil {
				return err
			}
			c.RemoveBatch(id)
			return nil
		}
		var b model.Batch
		if err := json.Unmarshal(event.Row, &b); err != nil {
			return fmt.Errorf("failed to decode batch row: %w", err)
		}
		c.UpsertBatch(b)
		return nil

	case model.TableAuditLogs:
		// Audit entries are append-only; deletes are not expected upstream.
		if event.Op == model.OpDelete {
			return nil
		}
		var entry model.AuditLog
		if err := json.Unmarshal(event.Row, &entry); err != nil {
			return fmt.Errorf("failed to decode audit row: %w", err)
		}
		c.UpsertAuditLog(entry)
		return nil

	default:
		return fmt.Errorf("unknown table %q", event.Table)
	}
}

// UpsertProduct inserts or replaces a product.
func (c *Cache) UpsertProduct(p model.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	c.bump()
}

// RemoveProduct deletes a product and its index entry.
func (c *Cache) RemoveProduct(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
	delete(c.batchesByProduct, id)
	c.bump()
}

// UpsertBatch inserts or replaces a batch, keeping the product index current.
func (c *Cache) UpsertBatch(b model.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.batches[b.ID]; ok && old.ProductID != b.ProductID {
		if ids, ok := c.batchesByProduct[old.ProductID]; ok {
			delete(ids, b.ID)
		}
	}
	c.batches[b.ID] = b
	c.indexBatch(b)
	c.bump()
}

// RemoveBatch deletes a batch and its index entry.
func (c *Cache) RemoveBatch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.batches[id]; ok {
		if ids, ok := c.batchesByProduct[b.ProductID]; ok {
			delete(ids, id)
		}
	}
	delete(c.batches, id)
	c.bump()
}

// UpsertAuditLog inserts an audit entry. Entries are immutable, so a repeat
// insert of the same id is a no-op in effect.
func (c *Cache) UpsertAuditLog(entry model.AuditLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auditLogs[entry.ID] = entry
	c.bump()
}

// Generation returns the cache mutation counter.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Snapshot returns a consistent read-only view. The snapshot is rebuilt only
// when the cache has changed since the last call; readers of the same
// generation share one snapshot.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	if c.snap != nil && c.snap.generation == c.generation {
		snap := c.snap
		c.mu.RUnlock()
		return snap
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil || c.snap.generation != c.generation {
		c.snap = buildSnapshot(c)
	}
	return c.snap
}

// callers must hold c.mu
func (c *Cache) indexBatch(b model.Batch) {
	ids, ok := c.batchesByProduct[b.ProductID]
	if !ok {
		ids = make(map[string]struct{})
		c.batchesByProduct[b.ProductID] = ids
	}
	ids[b.ID] = struct{}{}
}

// callers must hold c.mu
func (c *Cache) bump() {
	c.generation++
	c.snap = nil
}

func rowID(row json.RawMessage) (string, error) {
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(row, &ref); err != nil {
		return "", fmt.Errorf("failed to decode row id: %w", err)
	}
	if ref.ID == "" {
		return "", fmt.Errorf("delete event without row id")
	}
	return ref.ID, nil
}
