package ingest

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/merlion-labs/einvois/internal/platform/httpx"
	"github.com/merlion-labs/einvois/internal/staging"
)

// 25 MB upload cap; batch files in practice stay well under this.
const maxUploadBytes = 25 << 20

// Handler serves file upload endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	uploadDir string
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, uploadDir string) *Handler {
	return &Handler{logger: logger, service: service, uploadDir: uploadDir}
}

// MountRoutes registers ingestion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.upload)
}

// upload accepts a multipart batch file, persists it under the upload
// directory and stages its rows. The stored path doubles as the duplicate
// key: re-uploading the same file name is rejected.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "expected a multipart upload with a file field")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "missing file field")
		return
	}
	defer file.Close()

	fileName := filepath.Base(header.Filename)
	if fileName == "" || fileName == "." {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "upload has no file name")
		return
	}

	// Reject duplicates before touching the stored artifact, so a rejected
	// re-upload cannot overwrite the file that was actually ingested.
	destPath := filepath.Join(h.uploadDir, fileName)
	if dup, err := h.service.AlreadyIngested(r.Context(), destPath); err != nil {
		h.logger.Error("duplicate check failed", "error", err, "file", fileName)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to check for duplicates")
		return
	} else if dup {
		httpx.Problem(w, http.StatusConflict, "Duplicate", "this file was already ingested")
		return
	}

	destPath, err = h.saveUpload(fileName, file)
	if err != nil {
		h.logger.Error("save upload failed", "error", err, "file", fileName)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to store uploaded file")
		return
	}

	src, err := os.Open(destPath)
	if err != nil {
		h.logger.Error("reopen upload failed", "error", err, "path", destPath)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "failed to read uploaded file")
		return
	}
	defer src.Close()

	result, err := h.service.IngestFile(r.Context(), fileName, destPath, src)
	if err != nil {
		if errors.Is(err, staging.ErrDuplicateFile) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", "this file was already ingested")
			return
		}
		h.logger.Warn("ingest rejected", "error", err, "file", fileName)
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable File", err.Error())
		return
	}

	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) saveUpload(fileName string, src io.Reader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}
	destPath := filepath.Join(h.uploadDir, fileName)
	dst, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return destPath, nil
}
