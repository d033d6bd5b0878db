package staging

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merlion-labs/einvois/internal/platform/db"
)

var (
	ErrNotFound = errors.New("staging: record not found")
	// ErrDuplicateFile means the same physical file was already ingested.
	ErrDuplicateFile = errors.New("staging: file already ingested")
)

// Repository persists staging documents and their flat-file rows. Every pass
// re-reads state through it; nothing is cached in process memory.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	CreateDocument(ctx context.Context, doc Document) (int64, error)
	InsertFlatFileRow(ctx context.Context, row FlatFileInvoice) (int64, error)
	Get(ctx context.Context, id int64) (*Document, error)
	GetByFilePath(ctx context.Context, filePath string) (*Document, error)
	ListByStatus(ctx context.Context, status DocumentStatus, limit int) ([]Document, error)
	ListRecent(ctx context.Context, status DocumentStatus, limit, offset int) ([]Document, int, error)
	ListPendingUnvalidated(ctx context.Context, limit int) ([]Document, error)
	RowsForDocument(ctx context.Context, documentID int64) ([]FlatFileInvoice, error)

	SetValidationFailure(ctx context.Context, id int64, raw, human string) error
	MarkValidated(ctx context.Context, id int64) (bool, error)
	ClaimForSubmission(ctx context.Context, id int64, worker string, lease time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, id int64) error
	MarkSubmitted(ctx context.Context, id int64, submissionUID, uuid string, at time.Time) (bool, error)
	MarkRejectedAtSubmission(ctx context.Context, id int64, raw, human string) (bool, error)
	RecordAttempt(ctx context.Context, id int64, raw, human string) error
	ResolveFromPoll(ctx context.Context, id int64, to DocumentStatus, raw, human *string) (bool, error)
	MarkStale(ctx context.Context, id int64) error
	MarkCancelled(ctx context.Context, id int64) (bool, error)
	CloneForResubmit(ctx context.Context, sourceID int64) (int64, error)

	MarkRowMapped(ctx context.Context, rowID int64, detail *string) error
	SetRowMappingFailure(ctx context.Context, rowID int64, detail string) error
	SetRowSubmission(ctx context.Context, rowID int64, submissionID string) error
	SetRowResponse(ctx context.Context, rowID int64, payload string) error
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed staging repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const documentColumns = `
id, file_name, file_path, attempt_no, invoice_number, company_name, supplier_name,
receiver_name, amount, doc_type, issue_date, issue_time, uuid,
submission_uid, submitted_at, status, channel, sync_status, raw_error,
human_error, attempts, resubmit_of, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.FileName, &d.FilePath, &d.AttemptNo, &d.InvoiceNumber, &d.CompanyName,
		&d.SupplierName, &d.ReceiverName, &d.Amount, &d.DocType, &d.IssueDate,
		&d.IssueTime, &d.UUID, &d.SubmissionUID, &d.SubmittedAt, &d.Status,
		&d.Channel, &d.SyncStatus, &d.RawError, &d.HumanError, &d.Attempts,
		&d.ResubmitOf, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *repository) CreateDocument(ctx context.Context, doc Document) (int64, error) {
	const query = `
INSERT INTO staging_documents (
	file_name, file_path, invoice_number, company_name, supplier_name,
	receiver_name, amount, doc_type, issue_date, issue_time, status,
	channel, sync_status, resubmit_of
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id`
	status := doc.Status
	if status == "" {
		status = StatusPending
	}
	syncStatus := doc.SyncStatus
	if syncStatus == "" {
		syncStatus = SyncOK
	}
	var id int64
	err := r.db.QueryRow(ctx, query,
		doc.FileName, doc.FilePath, doc.InvoiceNumber, doc.CompanyName,
		doc.SupplierName, doc.ReceiverName, doc.Amount, doc.DocType,
		doc.IssueDate, doc.IssueTime, status, doc.Channel, syncStatus,
		doc.ResubmitOf,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateFile
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) InsertFlatFileRow(ctx context.Context, row FlatFileInvoice) (int64, error) {
	const query = `
INSERT INTO flatfile_invoices (
	document_id, uuid,
	supplier_name, supplier_tin, supplier_brn, supplier_msic, supplier_sst,
	supplier_address, supplier_city, supplier_state, supplier_country,
	buyer_name, buyer_tin, buyer_brn, buyer_sst,
	buyer_address, buyer_city, buyer_state, buyer_country,
	invoice_number, invoice_date, invoice_time,
	currency_code, exchange_rate, einvoice_version, einvoice_type,
	item_description, classification_code, tax_type, tax_rate, tax_amount,
	total_excl_tax, total_incl_tax, is_mapped
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
	$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,false
)
RETURNING id`
	var id int64
	err := r.db.QueryRow(ctx, query,
		row.DocumentID, row.UUID,
		row.SupplierName, row.SupplierTIN, row.SupplierBRN, row.SupplierMSIC,
		row.SupplierSST, row.SupplierAddress, row.SupplierCity,
		row.SupplierState, row.SupplierCountry,
		row.BuyerName, row.BuyerTIN, row.BuyerBRN, row.BuyerSST,
		row.BuyerAddress, row.BuyerCity, row.BuyerState, row.BuyerCountry,
		row.InvoiceNumber, row.InvoiceDate, row.InvoiceTime,
		row.CurrencyCode, row.ExchangeRate, row.EInvoiceVersion, row.EInvoiceType,
		row.ItemDescription, row.ClassificationCode, row.TaxType, row.TaxRate,
		row.TaxAmount, row.TotalExclTax, row.TotalInclTax,
	).Scan(&id)
	return id, err
}

func (r *repository) Get(ctx context.Context, id int64) (*Document, error) {
	return scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM staging_documents WHERE id = $1`, id))
}

func (r *repository) GetByFilePath(ctx context.Context, filePath string) (*Document, error) {
	return scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM staging_documents
		 WHERE file_path = $1 ORDER BY attempt_no DESC LIMIT 1`, filePath))
}

func (r *repository) listQuery(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (r *repository) ListByStatus(ctx context.Context, status DocumentStatus, limit int) ([]Document, error) {
	return r.listQuery(ctx,
		`SELECT `+documentColumns+` FROM staging_documents
		 WHERE status = $1 ORDER BY created_at LIMIT $2`, status, limit)
}

// ListRecent pages documents newest first, optionally filtered by status.
func (r *repository) ListRecent(ctx context.Context, status DocumentStatus, limit, offset int) ([]Document, int, error) {
	var (
		total int
		err   error
	)
	if status == "" {
		err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM staging_documents`).Scan(&total)
	} else {
		err = r.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM staging_documents WHERE status = $1`, status).Scan(&total)
	}
	if err != nil {
		return nil, 0, err
	}

	var docs []Document
	if status == "" {
		docs, err = r.listQuery(ctx,
			`SELECT `+documentColumns+` FROM staging_documents
			 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		docs, err = r.listQuery(ctx,
			`SELECT `+documentColumns+` FROM staging_documents
			 WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset)
	}
	return docs, total, err
}

// ListPendingUnvalidated returns pending documents with no recorded
// validation failure. Documents already rejected by the mapper wait for a
// corrected resubmission instead of being revalidated every pass.
func (r *repository) ListPendingUnvalidated(ctx context.Context, limit int) ([]Document, error) {
	return r.listQuery(ctx,
		`SELECT `+documentColumns+` FROM staging_documents
		 WHERE status = $1 AND raw_error IS NULL ORDER BY created_at LIMIT $2`,
		StatusPending, limit)
}

func (r *repository) RowsForDocument(ctx context.Context, documentID int64) ([]FlatFileInvoice, error) {
	const query = `
SELECT id, document_id, uuid,
	supplier_name, supplier_tin, supplier_brn, supplier_msic, supplier_sst,
	supplier_address, supplier_city, supplier_state, supplier_country,
	buyer_name, buyer_tin, buyer_brn, buyer_sst,
	buyer_address, buyer_city, buyer_state, buyer_country,
	invoice_number, invoice_date, invoice_time,
	currency_code, exchange_rate, einvoice_version, einvoice_type,
	item_description, classification_code, tax_type, tax_rate, tax_amount,
	total_excl_tax, total_incl_tax, is_mapped, mapping_detail,
	submission_id, response_payload, created_at
FROM flatfile_invoices WHERE document_id = $1 ORDER BY id`
	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FlatFileInvoice
	for rows.Next() {
		var f FlatFileInvoice
		if err := rows.Scan(
			&f.ID, &f.DocumentID, &f.UUID,
			&f.SupplierName, &f.SupplierTIN, &f.SupplierBRN, &f.SupplierMSIC,
			&f.SupplierSST, &f.SupplierAddress, &f.SupplierCity,
			&f.SupplierState, &f.SupplierCountry,
			&f.BuyerName, &f.BuyerTIN, &f.BuyerBRN, &f.BuyerSST,
			&f.BuyerAddress, &f.BuyerCity, &f.BuyerState, &f.BuyerCountry,
			&f.InvoiceNumber, &f.InvoiceDate, &f.InvoiceTime,
			&f.CurrencyCode, &f.ExchangeRate, &f.EInvoiceVersion, &f.EInvoiceType,
			&f.ItemDescription, &f.ClassificationCode, &f.TaxType, &f.TaxRate,
			&f.TaxAmount, &f.TotalExclTax, &f.TotalInclTax, &f.IsMapped,
			&f.MappingDetail, &f.SubmissionID, &f.ResponsePayload, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repository) SetValidationFailure(ctx context.Context, id int64, raw, human string) error {
	const query = `
UPDATE staging_documents
SET raw_error = $2, human_error = $3, updated_at = now()
WHERE id = $1 AND status = $4`
	_, err := r.db.Exec(ctx, query, id, raw, human, StatusPending)
	return err
}

// MarkValidated advances Pending -> Validated. Returns false when another
// worker already moved the document.
func (r *repository) MarkValidated(ctx context.Context, id int64) (bool, error) {
	const query = `
UPDATE staging_documents
SET status = $2, raw_error = NULL, human_error = NULL, updated_at = now()
WHERE id = $1 AND status = $3`
	tag, err := r.db.Exec(ctx, query, id, StatusValidated, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimForSubmission takes a short lease on a Validated document so only one
// worker submits it. The lease, not an in-process lock, guards the network
// round trip.
func (r *repository) ClaimForSubmission(ctx context.Context, id int64, worker string, lease time.Duration) (bool, error) {
	const query = `
UPDATE staging_documents
SET claimed_by = $2, claim_expires_at = now() + $3, updated_at = now()
WHERE id = $1 AND status = $4 AND uuid IS NULL
  AND (claim_expires_at IS NULL OR claim_expires_at < now())`
	tag, err := r.db.Exec(ctx, query, id, worker, lease, StatusValidated)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) ReleaseClaim(ctx context.Context, id int64) error {
	const query = `
UPDATE staging_documents
SET claimed_by = NULL, claim_expires_at = NULL, updated_at = now()
WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// MarkSubmitted advances Validated -> Submitted and stamps the authority
// identifiers. The UUID, once set, is never overwritten.
func (r *repository) MarkSubmitted(ctx context.Context, id int64, submissionUID, uuid string, at time.Time) (bool, error) {
	const query = `
UPDATE staging_documents
SET status = $2, submission_uid = $3, uuid = $4, submitted_at = $5,
	raw_error = NULL, human_error = NULL,
	claimed_by = NULL, claim_expires_at = NULL, updated_at = now()
WHERE id = $1 AND status = $6 AND uuid IS NULL`
	tag, err := r.db.Exec(ctx, query, id, StatusSubmitted, submissionUID, uuid, at, StatusValidated)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordAttempt notes a transient submission failure. The document stays
// Validated and is picked up again on the next scheduled pass.
func (r *repository) RecordAttempt(ctx context.Context, id int64, raw, human string) error {
	const query = `
UPDATE staging_documents
SET attempts = attempts + 1, raw_error = $2, human_error = $3,
	claimed_by = NULL, claim_expires_at = NULL, updated_at = now()
WHERE id = $1 AND status = $4`
	_, err := r.db.Exec(ctx, query, id, raw, human, StatusValidated)
	return err
}

// MarkRejectedAtSubmission terminates an attempt the authority rejected
// synchronously at the submission call.
func (r *repository) MarkRejectedAtSubmission(ctx context.Context, id int64, raw, human string) (bool, error) {
	const query = `
UPDATE staging_documents
SET status = $2, raw_error = $3, human_error = $4,
	claimed_by = NULL, claim_expires_at = NULL, updated_at = now()
WHERE id = $1 AND status = $5`
	tag, err := r.db.Exec(ctx, query, id, StatusRejected, raw, human, StatusValidated)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResolveFromPoll advances Submitted -> Valid/Invalid/Rejected based on the
// authority's asynchronous validation outcome.
func (r *repository) ResolveFromPoll(ctx context.Context, id int64, to DocumentStatus, raw, human *string) (bool, error) {
	if !CanTransition(StatusSubmitted, to) {
		return false, errors.New("staging: illegal poll resolution to " + string(to))
	}
	const query = `
UPDATE staging_documents
SET status = $2, raw_error = $3, human_error = $4, sync_status = $5, updated_at = now()
WHERE id = $1 AND status = $6`
	tag, err := r.db.Exec(ctx, query, id, to, raw, human, SyncOK, StatusSubmitted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkStale flags a Submitted document whose poll budget elapsed without a
// terminal authority status. Operator attention, not a forced transition.
func (r *repository) MarkStale(ctx context.Context, id int64) error {
	const query = `
UPDATE staging_documents
SET sync_status = $2, updated_at = now()
WHERE id = $1 AND status = $3`
	_, err := r.db.Exec(ctx, query, id, SyncStale, StatusSubmitted)
	return err
}

func (r *repository) MarkCancelled(ctx context.Context, id int64) (bool, error) {
	const query = `
UPDATE staging_documents
SET status = $2, updated_at = now()
WHERE id = $1 AND status = $3`
	tag, err := r.db.Exec(ctx, query, id, StatusCancelled, StatusValid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CloneForResubmit creates a fresh Pending attempt from a terminal record,
// preserving the original as append-only history. The new attempt shares the
// file path under an incremented attempt number.
func (r *repository) CloneForResubmit(ctx context.Context, sourceID int64) (int64, error) {
	const query = `
INSERT INTO staging_documents (
	file_name, file_path, attempt_no, invoice_number, company_name,
	supplier_name, receiver_name, amount, doc_type, issue_date, issue_time,
	status, channel, sync_status, resubmit_of
)
SELECT file_name, file_path,
	(SELECT MAX(attempt_no) + 1 FROM staging_documents WHERE file_path = s.file_path),
	invoice_number, company_name, supplier_name, receiver_name, amount,
	doc_type, issue_date, issue_time, $2, channel, $3, s.id
FROM staging_documents s
WHERE s.id = $1
RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, query, sourceID, StatusPending, SyncOK).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	const copyRows = `
INSERT INTO flatfile_invoices (
	document_id, uuid,
	supplier_name, supplier_tin, supplier_brn, supplier_msic, supplier_sst,
	supplier_address, supplier_city, supplier_state, supplier_country,
	buyer_name, buyer_tin, buyer_brn, buyer_sst,
	buyer_address, buyer_city, buyer_state, buyer_country,
	invoice_number, invoice_date, invoice_time,
	currency_code, exchange_rate, einvoice_version, einvoice_type,
	item_description, classification_code, tax_type, tax_rate, tax_amount,
	total_excl_tax, total_incl_tax, is_mapped
)
SELECT $2, gen_random_uuid()::text,
	supplier_name, supplier_tin, supplier_brn, supplier_msic, supplier_sst,
	supplier_address, supplier_city, supplier_state, supplier_country,
	buyer_name, buyer_tin, buyer_brn, buyer_sst,
	buyer_address, buyer_city, buyer_state, buyer_country,
	invoice_number, invoice_date, invoice_time,
	currency_code, exchange_rate, einvoice_version, einvoice_type,
	item_description, classification_code, tax_type, tax_rate, tax_amount,
	total_excl_tax, total_incl_tax, false
FROM flatfile_invoices WHERE document_id = $1`
	if _, err := r.db.Exec(ctx, copyRows, sourceID, id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) MarkRowMapped(ctx context.Context, rowID int64, detail *string) error {
	const query = `
UPDATE flatfile_invoices SET is_mapped = true, mapping_detail = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, rowID, detail)
	return err
}

func (r *repository) SetRowMappingFailure(ctx context.Context, rowID int64, detail string) error {
	const query = `
UPDATE flatfile_invoices SET is_mapped = false, mapping_detail = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, rowID, detail)
	return err
}

func (r *repository) SetRowSubmission(ctx context.Context, rowID int64, submissionID string) error {
	const query = `UPDATE flatfile_invoices SET submission_id = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, rowID, submissionID)
	return err
}

func (r *repository) SetRowResponse(ctx context.Context, rowID int64, payload string) error {
	const query = `UPDATE flatfile_invoices SET response_payload = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, rowID, payload)
	return err
}
