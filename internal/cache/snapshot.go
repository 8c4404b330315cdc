package cache

import (
	"sort"
	"time"

	"martstock-api/internal/model"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable, fully-applied view of the cache. All aggregation
// functions live here: they are deterministic given the snapshot and perform
// no mutation, so any number of readers can share one snapshot concurrently.
type Snapshot struct {
	generation uint64

	products         map[string]model.Product
	batches          map[string]model.Batch
	batchesByProduct map[string][]string
	auditLogs        []model.AuditLog // most-recent-first
}

// callers must hold c.mu
func buildSnapshot(c *Cache) *Snapshot {
	s := &Snapshot{
		generation:       c.generation,
		products:         make(map[string]model.Product, len(c.products)),
		batches:          make(map[string]model.Batch, len(c.batches)),
		batchesByProduct: make(map[string][]string, len(c.batchesByProduct)),
		auditLogs:        make([]model.AuditLog, 0, len(c.auditLogs)),
	}

	for id, p := range c.products {
		s.products[id] = p
	}
	for id, b := range c.batches {
		s.batches[id] = b
	}
	for productID, ids := range c.batchesByProduct {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Strings(list)
		s.batchesByProduct[productID] = list
	}

	for _, entry := range c.auditLogs {
		s.auditLogs = append(s.auditLogs, entry)
	}
	sort.Slice(s.auditLogs, func(i, j int) bool {
		if !s.auditLogs[i].CreatedAt.Equal(s.auditLogs[j].CreatedAt) {
			return s.auditLogs[i].CreatedAt.After(s.auditLogs[j].CreatedAt)
		}
		return s.auditLogs[i].ID < s.auditLogs[j].ID
	})

	return s
}

// Generation identifies the cache state this snapshot was built from.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Product returns a product by id.
func (s *Snapshot) Product(id string) (model.Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

// Batch returns a batch by id.
func (s *Snapshot) Batch(id string) (model.Batch, bool) {
	b, ok := s.batches[id]
	return b, ok
}

// Products returns all products sorted by name.
func (s *Snapshot) Products() []model.Product {
	list := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Batches returns all batches sorted by expiry date, soonest first.
func (s *Snapshot) Batches() []model.Batch {
	list := make([]model.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ExpiryDate.Equal(list[j].ExpiryDate) {
			return list[i].ExpiryDate.Before(list[j].ExpiryDate)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// ProductBatches returns the batches belonging to one product.
func (s *Snapshot) ProductBatches(productID string) []model.Batch {
	ids := s.batchesByProduct[productID]
	list := make([]model.Batch, 0, len(ids))
	for _, id := range ids {
		if b, ok := s.batches[id]; ok {
			list = append(list, b)
		}
	}
	return list
}

// TotalStock is the sum of quantities of all batches referencing the product.
func (s *Snapshot) TotalStock(productID string) int {
	total := 0
	for _, id := range s.batchesByProduct[productID] {
		if b, ok := s.batches[id]; ok {
			total += b.Quantity
		}
	}
	return total
}

// TotalValue is the sum over products of total stock times unit price.
func (s *Snapshot) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for id, p := range s.products {
		stock := decimal.NewFromInt(int64(s.TotalStock(id)))
		total = total.Add(stock.Mul(p.Price))
	}
	return total
}

// ExpiringWithin returns batches whose expiry date falls inside
// [now, now+days], boundaries inclusive, sorted soonest first.
func (s *Snapshot) ExpiringWithin(now time.Time, days int) []model.Batch {
	end := now.AddDate(0, 0, days)
	list := []model.Batch{}
	for _, b := range s.batches {
		if b.ExpiryDate.Before(now) || b.ExpiryDate.After(end) {
			continue
		}
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ExpiryDate.Equal(list[j].ExpiryDate) {
			return list[i].ExpiryDate.Before(list[j].ExpiryDate)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// FindByBarcode returns the product carrying the barcode, if any.
func (s *Snapshot) FindByBarcode(code string) (model.Product, bool) {
	for _, p := range s.products {
		if p.Barcode != nil && *p.Barcode == code {
			return p, true
		}
	}
	return model.Product{}, false
}

// AuditLogs returns all audit entries, most recent first.
func (s *Snapshot) AuditLogs() []model.AuditLog {
	list := make([]model.AuditLog, len(s.auditLogs))
	copy(list, s.auditLogs)
	return list
}

// RecentAuditLogs returns the n most recent audit entries.
func (s *Snapshot) RecentAuditLogs(n int) []model.AuditLog {
	if n <= 0 || n > len(s.auditLogs) {
		n = len(s.auditLogs)
	}
	list := make([]model.AuditLog, n)
	copy(list, s.auditLogs[:n])
	return list
}

// Counts returns the number of products, batches, and audit entries.
func (s *Snapshot) Counts() (products, batches, auditLogs int) {
	return len(s.products), len(s.batches), len(s.auditLogs)
}
