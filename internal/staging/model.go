package staging

import "time"

// DocumentStatus is the local lifecycle state of a staged document.
// Transitions are monotonic: Pending -> Validated -> Submitted ->
// {Valid, Invalid, Rejected}, with Cancelled reachable only from Valid.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "Pending"
	StatusValidated DocumentStatus = "Validated"
	StatusSubmitted DocumentStatus = "Submitted"
	StatusValid     DocumentStatus = "Valid"
	StatusInvalid   DocumentStatus = "Invalid"
	StatusRejected  DocumentStatus = "Rejected"
	StatusCancelled DocumentStatus = "Cancelled"
)

// SourceChannel identifies how a document entered the pipeline.
type SourceChannel string

const (
	ChannelSpreadsheet SourceChannel = "spreadsheet"
	ChannelFlatFile    SourceChannel = "flatfile"
	ChannelAPI         SourceChannel = "api"
)

// SyncStatus flags documents needing operator attention.
type SyncStatus string

const (
	SyncOK    SyncStatus = "ok"
	SyncStale SyncStatus = "stale"
)

// allowedTransitions is the submission state machine edge list.
var allowedTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending: {StatusValidated},
	// Rejected is reachable directly from Validated when the authority
	// rejects a document synchronously at the submission call.
	StatusValidated: {StatusSubmitted, StatusRejected},
	StatusSubmitted: {StatusValid, StatusInvalid, StatusRejected},
	StatusValid:     {StatusCancelled},
}

// CanTransition reports whether moving from one status to another follows the
// state machine. Terminal statuses admit no outgoing edges; a corrected
// document is resubmitted as a new staging record, never by mutating this one.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves the status.
func IsTerminal(s DocumentStatus) bool {
	return s == StatusInvalid || s == StatusRejected || s == StatusCancelled
}

// Document is a staged e-Invoice awaiting or undergoing outbound submission.
// Never physically deleted; only status-transitioned.
type Document struct {
	ID       int64  `json:"id" db:"id"`
	FileName string `json:"file_name" db:"file_name"`
	FilePath string `json:"file_path" db:"file_path"`
	// AttemptNo distinguishes resubmission attempts sharing a file path;
	// (file_path, attempt_no) is unique.
	AttemptNo     int     `json:"attempt_no" db:"attempt_no"`
	InvoiceNumber string  `json:"invoice_number" db:"invoice_number"`
	CompanyName   string  `json:"company_name" db:"company_name"`
	SupplierName  string  `json:"supplier_name" db:"supplier_name"`
	ReceiverName  string  `json:"receiver_name" db:"receiver_name"`
	Amount        float64 `json:"amount" db:"amount"`
	DocType       string  `json:"doc_type" db:"doc_type"`
	IssueDate     string  `json:"issue_date" db:"issue_date"`
	IssueTime     string  `json:"issue_time" db:"issue_time"`
	// UUID is assigned by the authority and set only after a successful
	// submission acknowledgment.
	UUID          *string        `json:"uuid,omitempty" db:"uuid"`
	SubmissionUID *string        `json:"submission_uid,omitempty" db:"submission_uid"`
	SubmittedAt   *time.Time     `json:"submitted_at,omitempty" db:"submitted_at"`
	Status        DocumentStatus `json:"status" db:"status"`
	Channel       SourceChannel  `json:"channel" db:"channel"`
	SyncStatus    SyncStatus     `json:"sync_status" db:"sync_status"`
	// RawError and HumanError carry the latest diagnostic: the authority's
	// (or local validator's) verbatim error next to its translation.
	RawError   *string `json:"raw_error,omitempty" db:"raw_error"`
	HumanError *string `json:"human_error,omitempty" db:"human_error"`
	Attempts   int     `json:"attempts" db:"attempts"`
	// ResubmitOf links a new attempt back to the terminal record it corrects.
	ResubmitOf *int64    `json:"resubmit_of,omitempty" db:"resubmit_of"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// FlatFileInvoice is a single flattened invoice line imported from a batch
// source, pre-mapping.
type FlatFileInvoice struct {
	ID         int64 `json:"id" db:"id"`
	DocumentID int64 `json:"document_id" db:"document_id"`
	// UUID is generated locally on ingestion and unique per row.
	UUID string `json:"uuid" db:"uuid"`

	SupplierName    string `json:"supplier_name" db:"supplier_name"`
	SupplierTIN     string `json:"supplier_tin" db:"supplier_tin"`
	SupplierBRN     string `json:"supplier_brn" db:"supplier_brn"`
	SupplierMSIC    string `json:"supplier_msic" db:"supplier_msic"`
	SupplierSST     string `json:"supplier_sst" db:"supplier_sst"`
	SupplierAddress string `json:"supplier_address" db:"supplier_address"`
	SupplierCity    string `json:"supplier_city" db:"supplier_city"`
	SupplierState   string `json:"supplier_state" db:"supplier_state"`
	SupplierCountry string `json:"supplier_country" db:"supplier_country"`
	BuyerName       string `json:"buyer_name" db:"buyer_name"`
	BuyerTIN        string `json:"buyer_tin" db:"buyer_tin"`
	BuyerBRN        string `json:"buyer_brn" db:"buyer_brn"`
	BuyerSST        string `json:"buyer_sst" db:"buyer_sst"`
	BuyerAddress    string `json:"buyer_address" db:"buyer_address"`
	BuyerCity       string `json:"buyer_city" db:"buyer_city"`
	BuyerState      string `json:"buyer_state" db:"buyer_state"`
	BuyerCountry    string `json:"buyer_country" db:"buyer_country"`

	InvoiceNumber string `json:"invoice_number" db:"invoice_number"`
	InvoiceDate   string `json:"invoice_date" db:"invoice_date"`
	InvoiceTime   string `json:"invoice_time" db:"invoice_time"`

	CurrencyCode string  `json:"currency_code" db:"currency_code"`
	ExchangeRate float64 `json:"exchange_rate" db:"exchange_rate"`

	EInvoiceVersion string `json:"einvoice_version" db:"einvoice_version"`
	EInvoiceType    string `json:"einvoice_type" db:"einvoice_type"`

	ItemDescription    string  `json:"item_description" db:"item_description"`
	ClassificationCode string  `json:"classification_code" db:"classification_code"`
	TaxType            string  `json:"tax_type" db:"tax_type"`
	TaxRate            float64 `json:"tax_rate" db:"tax_rate"`
	TaxAmount          float64 `json:"tax_amount" db:"tax_amount"`
	TotalExclTax       float64 `json:"total_excl_tax" db:"total_excl_tax"`
	TotalInclTax       float64 `json:"total_incl_tax" db:"total_incl_tax"`

	IsMapped      bool    `json:"is_mapped" db:"is_mapped"`
	MappingDetail *string `json:"mapping_detail,omitempty" db:"mapping_detail"`
	SubmissionID  *string `json:"submission_id,omitempty" db:"submission_id"`
	// ResponsePayload stores the authority response verbatim.
	ResponsePayload *string   `json:"response_payload,omitempty" db:"response_payload"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Defaults applied to flat-file rows when the source leaves them blank.
const (
	DefaultCountry      = "MYS"
	DefaultCurrency     = "MYR"
	DefaultExchangeRate = 1.0
)
