package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("outbound: record not found")

// Repository persists outbound submission records.
type Repository interface {
	Create(ctx context.Context, s Status) error
	Get(ctx context.Context, uuid string) (*Status, error)
	UpdateStatus(ctx context.Context, uuid, docStatus string, syncedAt time.Time) error
	MarkCancelled(ctx context.Context, uuid, actor, reason string, at time.Time) error
	ListBySubmissionUID(ctx context.Context, submissionUID string) ([]Status, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed outbound repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `
uuid, submission_uid, invoice_number, file_name, document_id, doc_status,
submitted_at, last_sync_at, cancelled_at, cancelled_by, cancel_reason`

// Create records a confirmed submission. Inserting twice with the same UUID
// is a conflict, never an overwrite: the UUID is immutable once set.
func (r *repository) Create(ctx context.Context, s Status) error {
	const query = `
INSERT INTO outbound_statuses (
	uuid, submission_uid, invoice_number, file_name, document_id,
	doc_status, submitted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (uuid) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		s.UUID, s.SubmissionUID, s.InvoiceNumber, s.FileName, s.DocumentID,
		s.DocStatus, s.SubmittedAt,
	)
	return err
}

func (r *repository) Get(ctx context.Context, uuid string) (*Status, error) {
	var s Status
	err := r.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM outbound_statuses WHERE uuid = $1`, uuid,
	).Scan(
		&s.UUID, &s.SubmissionUID, &s.InvoiceNumber, &s.FileName, &s.DocumentID,
		&s.DocStatus, &s.SubmittedAt, &s.LastSyncAt, &s.CancelledAt,
		&s.CancelledBy, &s.CancelReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *repository) UpdateStatus(ctx context.Context, uuid, docStatus string, syncedAt time.Time) error {
	const query = `
UPDATE outbound_statuses SET doc_status = $2, last_sync_at = $3 WHERE uuid = $1`
	_, err := r.pool.Exec(ctx, query, uuid, docStatus, syncedAt)
	return err
}

func (r *repository) MarkCancelled(ctx context.Context, uuid, actor, reason string, at time.Time) error {
	const query = `
UPDATE outbound_statuses
SET doc_status = 'Cancelled', cancelled_at = $2, cancelled_by = $3,
	cancel_reason = $4, last_sync_at = $2
WHERE uuid = $1`
	_, err := r.pool.Exec(ctx, query, uuid, at, actor, reason)
	return err
}

func (r *repository) ListBySubmissionUID(ctx context.Context, submissionUID string) ([]Status, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM outbound_statuses WHERE submission_uid = $1 ORDER BY invoice_number`,
		submissionUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Status
	for rows.Next() {
		var s Status
		if err := rows.Scan(
			&s.UUID, &s.SubmissionUID, &s.InvoiceNumber, &s.FileName,
			&s.DocumentID, &s.DocStatus, &s.SubmittedAt, &s.LastSyncAt,
			&s.CancelledAt, &s.CancelledBy, &s.CancelReason,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
