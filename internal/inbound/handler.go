package inbound

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/merlion-labs/einvois/internal/platform/httpx"
)

// Handler serves the inbound document mirror.
type Handler struct {
	logger *slog.Logger
	repo   Repository
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, repo Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers inbound routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{uuid}", h.show)
}

type listResponse struct {
	Documents []Status `json:"documents"`
	Total     int      `json:"total"`
	Limit     int      `json:"limit"`
	Offset    int      `json:"offset"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	docs, total, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list inbound failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to load inbound documents")
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Documents: docs, Total: total, Limit: limit, Offset: offset})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	doc, err := h.repo.Get(r.Context(), uuid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "inbound document not found")
			return
		}
		h.logger.Error("get inbound failed", "error", err, "uuid", uuid)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to load inbound document")
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}
