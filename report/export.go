// Package report renders operator-facing exports of pipeline state.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/merlion-labs/einvois/internal/staging"
)

const statusSheet = "Documents"

var statusHeader = []string{
	"ID", "File Name", "Invoice Number", "Supplier", "Receiver",
	"Amount", "Status", "Channel", "Attempt", "UUID", "Submission UID",
	"Submitted At", "Error", "Created At",
}

// WriteStatusWorkbook renders the documents as an xlsx workbook and writes it
// to w. Rows appear in the order given.
func WriteStatusWorkbook(w io.Writer, docs []staging.Document) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	idx, err := f.NewSheet(statusSheet)
	if err != nil {
		return fmt.Errorf("report: create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("report: drop default sheet: %w", err)
	}

	if err := setRow(f, 1, toAny(statusHeader)); err != nil {
		return err
	}
	for i, doc := range docs {
		if err := setRow(f, i+2, statusRow(doc)); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("report: write workbook: %w", err)
	}
	return nil
}

func statusRow(doc staging.Document) []any {
	row := []any{
		doc.ID,
		doc.FileName,
		doc.InvoiceNumber,
		doc.SupplierName,
		doc.ReceiverName,
		doc.Amount,
		string(doc.Status),
		string(doc.Channel),
		doc.AttemptNo,
		deref(doc.UUID),
		deref(doc.SubmissionUID),
		"",
		deref(doc.HumanError),
		doc.CreatedAt.Format(time.RFC3339),
	}
	if doc.SubmittedAt != nil {
		row[11] = doc.SubmittedAt.Format(time.RFC3339)
	}
	return row
}

func setRow(f *excelize.File, rowNo int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return fmt.Errorf("report: cell name: %w", err)
	}
	if err := f.SetSheetRow(statusSheet, cell, &values); err != nil {
		return fmt.Errorf("report: set row %d: %w", rowNo, err)
	}
	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
