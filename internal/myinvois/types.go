package myinvois

// Request and response shapes for the authority endpoints the pipeline
// consumes. The authority owns and versions the full surface; only the
// fields the pipeline reads are modeled.

// Document is a single submittable e-Invoice in the authority's envelope.
type Document struct {
	Format   string `json:"format"`
	Document string `json:"document"`
	// DocumentHash is the SHA-256 of the document payload, hex encoded.
	DocumentHash string `json:"documentHash"`
	CodeNumber   string `json:"codeNumber"`
}

// SubmitRequest wraps one or more documents for a submission call.
type SubmitRequest struct {
	Documents []Document `json:"documents"`
}

// AcceptedDocument identifies a document the authority accepted for
// asynchronous validation.
type AcceptedDocument struct {
	UUID              string `json:"uuid"`
	InvoiceCodeNumber string `json:"invoiceCodeNumber"`
}

// RejectedDocument identifies a document rejected at submission time.
type RejectedDocument struct {
	InvoiceCodeNumber string      `json:"invoiceCodeNumber"`
	Error             ErrorDetail `json:"error"`
}

// ErrorDetail is the authority's nested error structure.
type ErrorDetail struct {
	Code         string        `json:"code"`
	Message      string        `json:"message"`
	Target       string        `json:"target,omitempty"`
	PropertyPath string        `json:"propertyPath,omitempty"`
	Details      []ErrorDetail `json:"details,omitempty"`
}

// SubmitResponse is returned by the submission endpoint.
type SubmitResponse struct {
	SubmissionUID     string             `json:"submissionUid"`
	AcceptedDocuments []AcceptedDocument `json:"acceptedDocuments"`
	RejectedDocuments []RejectedDocument `json:"rejectedDocuments"`
}

// DocumentSummary is the per-document status inside a submission query.
type DocumentSummary struct {
	UUID            string `json:"uuid"`
	SubmissionUID   string `json:"submissionUid"`
	LongID          string `json:"longId"`
	InternalID      string `json:"internalId"`
	TypeName        string `json:"typeName"`
	TypeVersionName string `json:"typeVersionName"`
	IssuerTIN       string `json:"issuerTin"`
	IssuerName      string `json:"issuerName"`
	ReceiverID      string `json:"receiverId"`
	ReceiverName    string `json:"receiverName"`
	// Authority timestamps are not guaranteed parseable; passed through as
	// opaque strings.
	DateTimeIssued       string  `json:"dateTimeIssued"`
	DateTimeReceived     string  `json:"dateTimeReceived"`
	DateTimeValidated    string  `json:"dateTimeValidated"`
	TotalSales           float64 `json:"totalSales"`
	TotalExcludingTax    float64 `json:"totalExcludingTax"`
	TotalDiscount        float64 `json:"totalDiscount"`
	TotalNetAmount       float64 `json:"totalNetAmount"`
	TotalPayableAmount   float64 `json:"totalPayableAmount"`
	Status               string  `json:"status"`
	DocumentStatusReason string  `json:"documentStatusReason,omitempty"`
}

// SubmissionStatus is returned by the status-query endpoint.
type SubmissionStatus struct {
	SubmissionUID string `json:"submissionUid"`
	DocumentCount int    `json:"documentCount"`
	// OverallStatus is one of: in progress, valid, partially valid, invalid.
	OverallStatus   string            `json:"overallStatus"`
	DocumentSummary []DocumentSummary `json:"documentSummary"`
}

// CancelRequest asks the authority to cancel a validated document.
type CancelRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// CancelResponse acknowledges a state change request.
type CancelResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// RecentDocumentsPage is one page from the inbound-list endpoint.
type RecentDocumentsPage struct {
	Result   []DocumentSummary `json:"result"`
	Metadata PageMetadata      `json:"metadata"`
}

// PageMetadata carries paging counters.
type PageMetadata struct {
	TotalPages int `json:"totalPages"`
	TotalCount int `json:"totalCount"`
	PageSize   int `json:"pageSize"`
	PageNo     int `json:"pageNo"`
}

// Document lifecycle statuses as reported by the authority.
const (
	StatusSubmitted = "Submitted"
	StatusValid     = "Valid"
	StatusInvalid   = "Invalid"
	StatusRejected  = "Rejected"
	StatusCancelled = "Cancelled"
)
