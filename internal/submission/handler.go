package submission

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/merlion-labs/einvois/internal/outbound"
	"github.com/merlion-labs/einvois/internal/pipeline"
	"github.com/merlion-labs/einvois/internal/platform/httpx"
	"github.com/merlion-labs/einvois/internal/staging"
)

// Handler serves the submission control endpoints: resubmission of corrected
// documents and cancellation of validated ones.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers submission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents/{id}/resubmit", h.resubmit)
	r.Post("/outbound/{uuid}/cancel", h.cancel)
}

type cancelRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason" validate:"required,max=300"`
}

func (h *Handler) resubmit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document ID")
		return
	}

	newID, err := h.service.Resubmit(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, staging.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "document not found")
		case errors.Is(err, ErrNotResubmittable):
			httpx.Problem(w, http.StatusConflict, "Conflict", "only documents in a terminal state can be resubmitted")
		default:
			h.logger.Error("resubmit failed", "error", err, "id", id)
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to resubmit document")
		}
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]int64{"document_id": newID})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.RequestCancellation(r.Context(), uuid, req.Actor, req.Reason); err != nil {
		switch {
		case errors.Is(err, outbound.ErrNotFound), errors.Is(err, staging.ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no outbound record for this UUID")
		case errors.Is(err, ErrNotCancellable):
			httpx.Problem(w, http.StatusConflict, "Conflict", "document is not in a cancellable state")
		case pipeline.IsAuthFailure(err):
			h.logger.Error("cancellation auth failure", "error", err, "uuid", uuid)
			httpx.Problem(w, http.StatusBadGateway, "Authority Error", "authority rejected our credentials")
		default:
			var rejection *pipeline.AuthorityRejection
			if errors.As(err, &rejection) {
				// Typically the 72-hour cancellation window has closed.
				httpx.Problem(w, http.StatusConflict, "Rejected by Authority", rejection.Message)
				return
			}
			h.logger.Error("cancellation failed", "error", err, "uuid", uuid)
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to cancel document")
		}
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]string{"uuid": uuid, "status": "Cancelled"})
}
