package notification

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cloudmon/platform/pkg/common/logger"
)

// AuditHandler exposes the delivered-notification audit trail read-only.
type AuditHandler struct {
	repo *Repository
}

func NewAuditHandler(repo *Repository) *AuditHandler {
	return &AuditHandler{repo: repo}
}

func (h *AuditHandler) Register(r *mux.Router) {
	r.HandleFunc("/customers/{customerId}/notifications", h.handleListByCustomer).Methods(http.MethodGet)
	r.HandleFunc("/notifications/failed", h.handleListFailed).Methods(http.MethodGet)
}

func (h *AuditHandler) handleListByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := mux.Vars(r)["customerId"]

	items, err := h.repo.FindByCustomer(r.Context(), customerID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list customer notifications")
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}
	writeHTTPJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"items":       items,
	})
}

func (h *AuditHandler) handleListFailed(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	items, err := h.repo.FindByStatus(r.Context(), StatusFailed, limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list failed notifications")
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}
	writeHTTPJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func writeHTTPJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
