// Package outbound tracks authority-confirmed submission records, one per
// successfully transmitted staging document.
package outbound

import "time"

// Status mirrors the authority's view of a transmitted document. UUID, once
// set, is immutable; cancellation fields are populated only from the terminal
// Cancelled state.
type Status struct {
	// UUID is the authority-assigned document identifier.
	UUID          string     `json:"uuid" db:"uuid"`
	SubmissionUID string     `json:"submission_uid" db:"submission_uid"`
	InvoiceNumber string     `json:"invoice_number" db:"invoice_number"`
	FileName      string     `json:"file_name" db:"file_name"`
	DocumentID    int64      `json:"document_id" db:"document_id"`
	DocStatus     string     `json:"doc_status" db:"doc_status"`
	SubmittedAt   time.Time  `json:"submitted_at" db:"submitted_at"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelledBy   *string    `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancelReason  *string    `json:"cancel_reason,omitempty" db:"cancel_reason"`
}
