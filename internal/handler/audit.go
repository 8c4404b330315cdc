package handler

import (
	"net/http"
	"strconv"

	"martstock-api/internal/service"
	"martstock-api/pkg/apierror"
	"martstock-api/pkg/response"
)

// AuditHandler exposes the append-only audit trail, most recent first.
type AuditHandler struct {
	engine *service.Engine
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(engine *service.Engine) *AuditHandler {
	return &AuditHandler{engine: engine}
}

// List handles GET /api/v1/audit-logs?limit=50
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	switch h.engine.State() {
	case service.StateInitializing:
		response.Error(w, apierror.Connectivity("inventory is still loading"))
		return
	case service.StateLoadError:
		response.Error(w, apierror.LoadFailed(""))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			response.Error(w, apierror.Validation("limit must be a positive integer"))
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	snap := h.engine.Snapshot()
	entries := snap.RecentAuditLogs(limit)
	_, _, total := snap.Counts()

	response.JSONWithMeta(w, http.StatusOK, entries, 1, limit, int64(total))
}
