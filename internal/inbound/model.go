// Package inbound mirrors authority-held documents received by this tenant
// from counterparties.
package inbound

import "time"

// Status is the local mirror of one authority inbound document, keyed by the
// authority UUID. Authority timestamps are stored as opaque strings; their
// format is authority-owned and not guaranteed parseable.
type Status struct {
	UUID              string  `json:"uuid" db:"uuid"`
	SubmissionUID     string  `json:"submission_uid" db:"submission_uid"`
	LongID            string  `json:"long_id" db:"long_id"`
	DocType           string  `json:"doc_type" db:"doc_type"`
	DocTypeVersion    string  `json:"doc_type_version" db:"doc_type_version"`
	IssuerTIN         string  `json:"issuer_tin" db:"issuer_tin"`
	IssuerName        string  `json:"issuer_name" db:"issuer_name"`
	ReceiverTIN       string  `json:"receiver_tin" db:"receiver_tin"`
	ReceiverName      string  `json:"receiver_name" db:"receiver_name"`
	TotalSales        float64 `json:"total_sales" db:"total_sales"`
	TotalExclTax      float64 `json:"total_excl_tax" db:"total_excl_tax"`
	TotalDiscount     float64 `json:"total_discount" db:"total_discount"`
	TotalNetAmount    float64 `json:"total_net_amount" db:"total_net_amount"`
	TotalPayable      float64 `json:"total_payable" db:"total_payable"`
	DocStatus         string  `json:"doc_status" db:"doc_status"`
	DateTimeIssued    string  `json:"datetime_issued" db:"datetime_issued"`
	DateTimeReceived  string  `json:"datetime_received" db:"datetime_received"`
	DateTimeValidated string  `json:"datetime_validated" db:"datetime_validated"`
	// LastSyncAt advances on every reconciliation pass that touches the
	// record, whether or not any field changed.
	LastSyncAt time.Time `json:"last_sync_at" db:"last_sync_at"`
	SyncStatus string    `json:"sync_status" db:"sync_status"`
}
