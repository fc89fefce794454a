package fileupload

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cloudmon/platform/pkg/common/logger"
	"github.com/cloudmon/platform/pkg/executor"
)

const maxUploadBytes = 32 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func RegisterRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/files/upload", h.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{jobId}", h.handleJobStatus).Methods(http.MethodGet)
	router.HandleFunc("/files/{hash}/jobs", h.handleJobsByHash).Methods(http.MethodGet)
	router.HandleFunc("/files/{hash}/errors", h.handleUploadErrors).Methods(http.MethodGet)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' form field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		logger.Log.WithError(err).Error("Failed to read upload body")
		writeError(w, http.StatusInternalServerError, "could not read file")
		return
	}

	uploader := r.FormValue("uploaded_by")
	if uploader == "" {
		uploader = "anonymous"
	}

	result, err := h.service.Accept(r.Context(), header.Filename, uploader, content)
	if err != nil {
		h.writeAcceptError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) writeAcceptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateFile):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrFileInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrPoolSaturated):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Log.WithError(err).Error("Upload failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	view, err := h.service.JobStatus(r.Context(), jobID)
	if errors.Is(err, ErrUploadNotFound) {
		writeError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("Failed to load job status")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleJobsByHash(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)
	if size < 1 || size > 100 {
		size = 20
	}

	views, total, err := h.service.JobsByFileHash(r.Context(), hash, size, page*size)
	if errors.Is(err, ErrUploadNotFound) {
		writeError(w, http.StatusNotFound, "file with hash "+hash+" not found")
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list jobs by hash")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"content":       views,
		"page":          page,
		"size":          size,
		"total_entries": total,
	})
}

func (h *Handler) handleUploadErrors(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]

	errs, err := h.service.UploadErrors(r.Context(), hash)
	if errors.Is(err, ErrUploadNotFound) {
		writeError(w, http.StatusNotFound, "file with hash "+hash+" not found")
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list upload errors")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_hash": hash,
		"errors":    errs,
		"count":     len(errs),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
