// Package ingest turns uploaded spreadsheets and flat files into staging
// documents awaiting validation and submission.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/merlion-labs/einvois/internal/staging"
)

// Result summarizes one ingestion.
type Result struct {
	Document *staging.Document `json:"document"`
	RowCount int               `json:"row_count"`
	Warnings []RowWarning      `json:"warnings,omitempty"`
}

// Service ingests raw invoice files.
type Service struct {
	repo staging.Repository
	// companyTIN fills the supplier TIN on rows that omit it. Batch exports
	// from the company's own billing system leave the issuer implicit.
	companyTIN string
	logger     *slog.Logger
}

// NewService constructs the ingestion service.
func NewService(repo staging.Repository, companyTIN string, logger *slog.Logger) *Service {
	return &Service{repo: repo, companyTIN: companyTIN, logger: logger}
}

// AlreadyIngested reports whether a file path was ingested before.
func (s *Service) AlreadyIngested(ctx context.Context, filePath string) (bool, error) {
	_, err := s.repo.GetByFilePath(ctx, filePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, staging.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// IngestFile parses the uploaded file and creates a Pending staging document
// with its flat-file rows in one transaction. A file path that was already
// ingested is rejected before any parsing side effects reach the database.
func (s *Service) IngestFile(ctx context.Context, fileName, filePath string, r io.Reader) (*Result, error) {
	if existing, err := s.repo.GetByFilePath(ctx, filePath); err == nil && existing != nil {
		return nil, staging.ErrDuplicateFile
	} else if err != nil && !errors.Is(err, staging.ErrNotFound) {
		return nil, fmt.Errorf("ingest: check duplicate: %w", err)
	}

	channel := DetectChannel(fileName)
	var (
		table [][]string
		err   error
	)
	switch channel {
	case staging.ChannelSpreadsheet:
		table, err = readSpreadsheet(r)
	default:
		table, err = readFlatFile(r)
	}
	if err != nil {
		return nil, err
	}

	rows, warnings, err := parseRows(table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ingest: %s contains no usable invoice rows", fileName)
	}
	if s.companyTIN != "" {
		for i := range rows {
			if strings.TrimSpace(rows[i].SupplierTIN) == "" {
				rows[i].SupplierTIN = s.companyTIN
			}
		}
	}

	doc := documentFromRows(fileName, filePath, channel, rows)

	var created *staging.Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo staging.Repository) error {
		id, err := repo.CreateDocument(ctx, doc)
		if err != nil {
			return err
		}
		for i := range rows {
			rows[i].DocumentID = id
			if _, err := repo.InsertFlatFileRow(ctx, rows[i]); err != nil {
				return fmt.Errorf("ingest: insert row %d: %w", i+1, err)
			}
		}
		created, err = repo.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, w := range warnings {
		s.logger.Warn("ingest row skipped",
			slog.String("file", fileName),
			slog.Int("row", w.Row),
			slog.String("reason", w.Reason))
	}
	s.logger.Info("file ingested",
		slog.String("file", fileName),
		slog.String("channel", string(channel)),
		slog.Int("rows", len(rows)),
		slog.Int("skipped", len(warnings)))

	return &Result{Document: created, RowCount: len(rows), Warnings: warnings}, nil
}

// documentFromRows derives document-level descriptors from the parsed rows.
func documentFromRows(fileName, filePath string, channel staging.SourceChannel, rows []staging.FlatFileInvoice) staging.Document {
	first := rows[0]
	var total float64
	for _, r := range rows {
		total += r.TotalInclTax
	}
	docType := first.EInvoiceType
	if docType == "" {
		docType = "01"
	}
	return staging.Document{
		FileName:      fileName,
		FilePath:      filePath,
		InvoiceNumber: first.InvoiceNumber,
		CompanyName:   first.SupplierName,
		SupplierName:  first.SupplierName,
		ReceiverName:  receiverSummary(rows),
		Amount:        total,
		DocType:       docType,
		IssueDate:     first.InvoiceDate,
		IssueTime:     first.InvoiceTime,
		Status:        staging.StatusPending,
		Channel:       channel,
		SyncStatus:    staging.SyncOK,
	}
}

func receiverSummary(rows []staging.FlatFileInvoice) string {
	names := make([]string, 0, 2)
	seen := map[string]struct{}{}
	for _, r := range rows {
		if _, ok := seen[r.BuyerName]; ok || r.BuyerName == "" {
			continue
		}
		seen[r.BuyerName] = struct{}{}
		names = append(names, r.BuyerName)
		if len(names) == 3 {
			names = append(names, "...")
			break
		}
	}
	return strings.Join(names, ", ")
}
