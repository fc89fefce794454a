package cloudservice

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cloudmon/platform/pkg/common/logger"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/customers/{customerId}/services", h.handleListByCustomer).Methods(http.MethodGet)
	r.HandleFunc("/services/summary", h.handleSummary).Methods(http.MethodGet)
}

func (h *Handler) handleListByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := mux.Vars(r)["customerId"]
	limit := parseLimit(r, 50)

	services, err := h.service.FindByCustomer(r.Context(), customerID, limit, 0)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list customer services")
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"items":       services,
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to build service summary")
		http.Error(w, "failed to build summary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || v > 500 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
