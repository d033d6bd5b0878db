// Package status exposes the read side of the pipeline: staged documents with
// their rows, authority confirmations and diagnostics.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/merlion-labs/einvois/internal/outbound"
	"github.com/merlion-labs/einvois/internal/staging"
)

// DocumentView is one staged document with everything an operator needs to
// judge it: its rows, the authority record when one exists, and the raw error
// next to its translation.
type DocumentView struct {
	Document staging.Document          `json:"document"`
	Rows     []staging.FlatFileInvoice `json:"rows"`
	Outbound *outbound.Status          `json:"outbound,omitempty"`
}

// DocumentPage is one page of staged documents.
type DocumentPage struct {
	Documents []staging.Document `json:"documents"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// Service reads pipeline state. It never mutates anything.
type Service struct {
	staging  staging.Repository
	outbound outbound.Repository
}

// NewService constructs the read-side service.
func NewService(stagingRepo staging.Repository, outboundRepo outbound.Repository) *Service {
	return &Service{staging: stagingRepo, outbound: outboundRepo}
}

// GetDocument assembles the full view of one staged document.
func (s *Service) GetDocument(ctx context.Context, id int64) (*DocumentView, error) {
	doc, err := s.staging.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.staging.RowsForDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("status: load rows for %d: %w", id, err)
	}

	view := &DocumentView{Document: *doc, Rows: rows}
	if doc.UUID != nil {
		record, err := s.outbound.Get(ctx, *doc.UUID)
		if err != nil && !errors.Is(err, outbound.ErrNotFound) {
			return nil, err
		}
		view.Outbound = record
	}
	return view, nil
}

// ListDocuments pages staged documents newest first, optionally filtered by
// status.
func (s *Service) ListDocuments(ctx context.Context, status staging.DocumentStatus, limit, offset int) (*DocumentPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	docs, total, err := s.staging.ListRecent(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return &DocumentPage{Documents: docs, Total: total, Limit: limit, Offset: offset}, nil
}

// ExportDocuments loads documents for a workbook export, newest first. The
// cap keeps a runaway export from holding the whole table in memory.
func (s *Service) ExportDocuments(ctx context.Context, status staging.DocumentStatus) ([]staging.Document, error) {
	const exportCap = 5000
	docs, _, err := s.staging.ListRecent(ctx, status, exportCap, 0)
	return docs, err
}

// GetOutbound returns the authority record for a transmitted document.
func (s *Service) GetOutbound(ctx context.Context, uuid string) (*outbound.Status, error) {
	return s.outbound.Get(ctx, uuid)
}
