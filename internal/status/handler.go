package status

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/merlion-labs/einvois/internal/outbound"
	"github.com/merlion-labs/einvois/internal/platform/httpx"
	"github.com/merlion-labs/einvois/internal/staging"
	"github.com/merlion-labs/einvois/report"
)

// Handler serves pipeline status endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers status routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/documents", h.listDocuments)
	r.Get("/documents/export", h.exportDocuments)
	r.Get("/documents/{id}", h.showDocument)
	r.Get("/outbound/{uuid}", h.showOutbound)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	var status staging.DocumentStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status = staging.DocumentStatus(s)
	}

	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	page, err := h.service.ListDocuments(r.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("list documents failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to load documents")
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) exportDocuments(w http.ResponseWriter, r *http.Request) {
	var status staging.DocumentStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status = staging.DocumentStatus(s)
	}

	docs, err := h.service.ExportDocuments(r.Context(), status)
	if err != nil {
		h.logger.Error("export documents failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to load documents")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="documents.xlsx"`)
	if err := report.WriteStatusWorkbook(w, docs); err != nil {
		h.logger.Error("write status workbook", "error", err)
	}
}

func (h *Handler) showDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document ID")
		return
	}

	view, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "document not found")
			return
		}
		h.logger.Error("get document failed", "error", err, "id", id)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to load document")
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) showOutbound(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	record, err := h.service.GetOutbound(r.Context(), uuid)
	if err != nil {
		if errors.Is(err, outbound.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no outbound record for this UUID")
			return
		}
		h.logger.Error("get outbound failed", "error", err, "uuid", uuid)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to load outbound record")
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}
