package handler

import (
	"encoding/json"
	"net/http"

	"martstock-api/internal/service"
	"martstock-api/pkg/apierror"
	"martstock-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AdminHandler covers product management, manual quantity adjustments, and
// the operational entry points (retry load, force resync).
type AdminHandler struct {
	engine *service.Engine
	resync *service.ResyncScheduler
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(engine *service.Engine, resync *service.ResyncScheduler) *AdminHandler {
	return &AdminHandler{engine: engine, resync: resync}
}

type productRequest struct {
	Name    string          `json:"name"`
	Barcode *string         `json:"barcode,omitempty"`
	Price   decimal.Decimal `json:"price"`
	SKU     string          `json:"sku"`
}

// CreateProduct handles POST /api/v1/admin/products
func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	product, err := h.engine.CreateProduct(r.Context(), req.Name, req.Barcode, req.Price, req.SKU)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, product)
}

// UpdateProduct handles PUT /api/v1/admin/products/{product_id}
func (h *AdminHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	product, err := h.engine.UpdateProduct(r.Context(), chi.URLParam(r, "product_id"),
		req.Name, req.Barcode, req.Price, req.SKU)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, product)
}

type adjustRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

// AdjustBatch handles POST /api/v1/admin/batches/{batch_id}/adjust
func (h *AdminHandler) AdjustBatch(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	batch, err := h.engine.Adjust(r.Context(), actingUser(r), chi.URLParam(r, "batch_id"),
		req.Quantity, req.Reason)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, batch)
}

// RetryLoad handles POST /api/v1/admin/reload - the retry entry point for a
// failed initial load.
func (h *AdminHandler) RetryLoad(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RetryLoad(r.Context()); err != nil {
		response.Error(w, apierror.LoadFailed(err.Error()))
		return
	}
	response.OK(w, map[string]interface{}{
		"load_state": h.engine.State(),
		"online":     h.engine.IsOnline(),
	})
}

// ForceResync handles POST /api/v1/admin/resync
func (h *AdminHandler) ForceResync(w http.ResponseWriter, r *http.Request) {
	if h.resync == nil {
		response.Error(w, apierror.InternalError("resync scheduler unavailable"))
		return
	}
	if err := h.resync.RunNow(); err != nil {
		response.Error(w, apierror.InternalError("resync failed: "+err.Error()))
		return
	}
	response.OK(w, map[string]string{"status": "resynced"})
}
