package inbound

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("inbound: record not found")

// Repository persists inbound status mirrors and the sync watermark.
type Repository interface {
	Upsert(ctx context.Context, s Status) error
	Get(ctx context.Context, uuid string) (*Status, error)
	List(ctx context.Context, limit, offset int) ([]Status, int, error)
	Watermark(ctx context.Context) (string, error)
	SetWatermark(ctx context.Context, watermark string) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed inbound repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `
uuid, submission_uid, long_id, doc_type, doc_type_version, issuer_tin,
issuer_name, receiver_tin, receiver_name, total_sales, total_excl_tax,
total_discount, total_net_amount, total_payable, doc_status,
datetime_issued, datetime_received, datetime_validated, last_sync_at,
sync_status`

// Upsert writes the mirror record, overwriting every mutable field and
// advancing last_sync_at unconditionally so staleness is detectable by
// watermark comparison rather than content diffing. Idempotent on UUID.
func (r *repository) Upsert(ctx context.Context, s Status) error {
	const query = `
INSERT INTO inbound_statuses (
	uuid, submission_uid, long_id, doc_type, doc_type_version, issuer_tin,
	issuer_name, receiver_tin, receiver_name, total_sales, total_excl_tax,
	total_discount, total_net_amount, total_payable, doc_status,
	datetime_issued, datetime_received, datetime_validated, last_sync_at,
	sync_status
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now(),$19)
ON CONFLICT (uuid) DO UPDATE SET
	submission_uid = EXCLUDED.submission_uid,
	long_id = EXCLUDED.long_id,
	doc_type = EXCLUDED.doc_type,
	doc_type_version = EXCLUDED.doc_type_version,
	issuer_tin = EXCLUDED.issuer_tin,
	issuer_name = EXCLUDED.issuer_name,
	receiver_tin = EXCLUDED.receiver_tin,
	receiver_name = EXCLUDED.receiver_name,
	total_sales = EXCLUDED.total_sales,
	total_excl_tax = EXCLUDED.total_excl_tax,
	total_discount = EXCLUDED.total_discount,
	total_net_amount = EXCLUDED.total_net_amount,
	total_payable = EXCLUDED.total_payable,
	doc_status = EXCLUDED.doc_status,
	datetime_issued = EXCLUDED.datetime_issued,
	datetime_received = EXCLUDED.datetime_received,
	datetime_validated = EXCLUDED.datetime_validated,
	last_sync_at = GREATEST(inbound_statuses.last_sync_at, now()),
	sync_status = EXCLUDED.sync_status`
	_, err := r.pool.Exec(ctx, query,
		s.UUID, s.SubmissionUID, s.LongID, s.DocType, s.DocTypeVersion,
		s.IssuerTIN, s.IssuerName, s.ReceiverTIN, s.ReceiverName,
		s.TotalSales, s.TotalExclTax, s.TotalDiscount, s.TotalNetAmount,
		s.TotalPayable, s.DocStatus, s.DateTimeIssued, s.DateTimeReceived,
		s.DateTimeValidated, s.SyncStatus,
	)
	return err
}

func (r *repository) Get(ctx context.Context, uuid string) (*Status, error) {
	var s Status
	var lastSync time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM inbound_statuses WHERE uuid = $1`, uuid,
	).Scan(
		&s.UUID, &s.SubmissionUID, &s.LongID, &s.DocType, &s.DocTypeVersion,
		&s.IssuerTIN, &s.IssuerName, &s.ReceiverTIN, &s.ReceiverName,
		&s.TotalSales, &s.TotalExclTax, &s.TotalDiscount, &s.TotalNetAmount,
		&s.TotalPayable, &s.DocStatus, &s.DateTimeIssued, &s.DateTimeReceived,
		&s.DateTimeValidated, &lastSync, &s.SyncStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.LastSyncAt = lastSync
	return &s, nil
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]Status, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inbound_statuses`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM inbound_statuses ORDER BY last_sync_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Status
	for rows.Next() {
		var s Status
		if err := rows.Scan(
			&s.UUID, &s.SubmissionUID, &s.LongID, &s.DocType, &s.DocTypeVersion,
			&s.IssuerTIN, &s.IssuerName, &s.ReceiverTIN, &s.ReceiverName,
			&s.TotalSales, &s.TotalExclTax, &s.TotalDiscount, &s.TotalNetAmount,
			&s.TotalPayable, &s.DocStatus, &s.DateTimeIssued, &s.DateTimeReceived,
			&s.DateTimeValidated, &s.LastSyncAt, &s.SyncStatus,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// Watermark returns the last successful sync position, empty when no sync
// has completed yet. The value is an authority-format timestamp passed
// through verbatim.
func (r *repository) Watermark(ctx context.Context) (string, error) {
	const query = `SELECT watermark FROM inbound_sync_watermarks WHERE id = 1`
	var w string
	if err := r.pool.QueryRow(ctx, query).Scan(&w); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return w, nil
}

func (r *repository) SetWatermark(ctx context.Context, watermark string) error {
	const query = `
INSERT INTO inbound_sync_watermarks (id, watermark, updated_at)
VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET watermark = EXCLUDED.watermark, updated_at = now()`
	_, err := r.pool.Exec(ctx, query, watermark)
	return err
}
