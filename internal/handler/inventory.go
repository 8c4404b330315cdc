package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"martstock-api/internal/middleware"
	"martstock-api/internal/service"
	"martstock-api/pkg/apierror"
	"martstock-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// InventoryHandler exposes the engine's read accessors and the two scan
// operations. All mutation goes through the scans; there is no direct store
// access from here, which is what keeps the audit trail complete.
type InventoryHandler struct {
	engine *service.Engine
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(engine *service.Engine) *InventoryHandler {
	return &InventoryHandler{engine: engine}
}

// ListProducts handles GET /api/v1/inventory/products
func (h *InventoryHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if err := h.requireLoaded(); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, h.engine.Snapshot().Products())
}

// ListBatches handles GET /api/v1/inventory/batches
func (h *InventoryHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	if err := h.requireLoaded(); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, h.engine.Snapshot().Batches())
}

// ProductStock handles GET /api/v1/inventory/products/{product_id}/stock
func (h *InventoryHandler) ProductStock(w http.ResponseWriter, r *http.Request) {
	if err := h.requireLoaded(); err != nil {
		response.Error(w, err)
		return
	}
	productID := chi.URLParam(r, "product_id")

	snap := h.engine.Snapshot()
	if _, ok := snap.Product(productID); !ok {
		response.Error(w, apierror.NotFound("product not found"))
		return
	}

	response.OK(w, map[string]interface{}{
		"product_id":  productID,
		"total_stock": snap.TotalStock(productID),
		"batches":     snap.ProductBatches(productID),
	})
}

// Expiring handles GET /api/v1/inventory/expiring?days=7
func (h *InventoryHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	if err := h.requireLoaded(); err != nil {
		response.Error(w, err)
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			response.Error(w, apierror.Validation("days must be a non-negative integer"))
			return
		}
		days = parsed
	}

	response.OK(w, map[string]interface{}{
		"days":    days,
		"batches": h.engine.Snapshot().ExpiringWithin(time.Now(), days),
	})
}

// Barcode handles GET /api/v1/inventory/barcode/{code}
func (h *InventoryHandler) Barcode(w http.ResponseWriter, r *http.Request) {
	if err := h.requireLoaded(); err != nil {
		response.Error(w, err)
		return
	}
	code := chi.URLParam(r, "code")

	product, ok := h.engine.Snapshot().FindByBarcode(code)
	if !ok {
		response.Error(w, apierror.NotFound("no product with that barcode"))
		return
	}
	response.OK(w, product)
}

// Stats handles GET /api/v1/inventory/stats
func (h *InventoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if err := h.requireLoaded(); err != nil {
		response.Error(w, err)
		return
	}

	snap := h.engine.Snapshot()
	products, batches, auditLogs := snap.Counts()
	totalUnits := 0
	for _, b := range snap.Batches() {
		totalUnits += b.Quantity
	}

	response.OK(w, map[string]interface{}{
		"products":      products,
		"batches":       batches,
		"audit_logs":    auditLogs,
		"total_units":   totalUnits,
		"total_value":   snap.TotalValue(),
		"expiring_soon": len(snap.ExpiringWithin(time.Now(), 7)),
		"online":        h.engine.IsOnline(),
		"load_state":    h.engine.State(),
	})
}

type scanInRequest struct {
	ProductID  string     `json:"product_id"`
	BatchID    string     `json:"batch_id,omitempty"`
	Quantity   int        `json:"quantity"`
	BatchCode  string     `json:"batch_code,omitempty"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// ScanIn handles POST /api/v1/inventory/scan-in
func (h *InventoryHandler) ScanIn(w http.ResponseWriter, r *http.Request) {
	var req scanInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	expiry := time.Time{}
	if req.ExpiryDate != nil {
		expiry = *req.ExpiryDate
	}

	batch, err := h.engine.ScanIn(r.Context(), actingUser(r), req.ProductID, req.BatchID,
		req.Quantity, req.BatchCode, expiry)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, batch)
}

type scanOutRequest struct {
	ProductID string `json:"product_id"`
	BatchID   string `json:"batch_id"`
	Quantity  int    `json:"quantity"`
}

// ScanOut handles POST /api/v1/inventory/scan-out
func (h *InventoryHandler) ScanOut(w http.ResponseWriter, r *http.Request) {
	var req scanOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	batch, err := h.engine.ScanOut(r.Context(), actingUser(r), req.ProductID, req.BatchID, req.Quantity)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, batch)
}

// requireLoaded rejects reads until the first full load has completed, so a
// partial or empty cache is never presented as authoritative.
func (h *InventoryHandler) requireLoaded() error {
	switch h.engine.State() {
	case service.StateInitializing:
		return apierror.Connectivity("inventory is still loading")
	case service.StateLoadError:
		return apierror.LoadFailed("")
	}
	return nil
}

// actingUser resolves the authenticated identity stamped on mutations.
func actingUser(r *http.Request) string {
	if data := middleware.GetSessionFromContext(r.Context()); data != nil {
		return data.Email
	}
	return ""
}
