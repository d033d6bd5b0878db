// Package submission drives the staging -> submit -> poll -> reconcile state
// machine for outbound e-Invoice documents.
package submission

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/merlion-labs/einvois/internal/mapping"
	"github.com/merlion-labs/einvois/internal/myinvois"
	"github.com/merlion-labs/einvois/internal/outbound"
	"github.com/merlion-labs/einvois/internal/pipeline"
	"github.com/merlion-labs/einvois/internal/staging"
	"github.com/merlion-labs/einvois/internal/translate"
)

var (
	ErrNotResubmittable = errors.New("submission: only terminal documents can be resubmitted")
	ErrNotCancellable   = errors.New("submission: document is not in a cancellable state")
	ErrAlreadySubmitted = errors.New("submission: document already submitted")
)

// Authority is the slice of the authority client the orchestrator uses.
type Authority interface {
	Submit(ctx context.Context, req myinvois.SubmitRequest) (*myinvois.SubmitResponse, error)
	GetSubmission(ctx context.Context, submissionUID string) (*myinvois.SubmissionStatus, error)
	Cancel(ctx context.Context, uuid, reason string) (*myinvois.CancelResponse, error)
}

// Config bounds the orchestrator's retry and poll behavior.
type Config struct {
	// MaxAttempts bounds transient-failure retries within one pass.
	MaxAttempts int
	// BackoffBase seeds the exponential backoff between attempts.
	BackoffBase time.Duration
	// PollMaxAge is the business-level poll budget: Submitted documents
	// older than this are flagged stale for operator attention.
	PollMaxAge time.Duration
	// ClaimLease is how long a worker's submission claim lives.
	ClaimLease time.Duration
	// WorkerID identifies this process in claims.
	WorkerID string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.PollMaxAge <= 0 {
		c.PollMaxAge = 72 * time.Hour
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 5 * time.Minute
	}
	if c.WorkerID == "" {
		c.WorkerID = "worker"
	}
	return c
}

// Service orchestrates outbound document submission.
type Service struct {
	repo      staging.Repository
	outbound  outbound.Repository
	authority Authority
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the orchestrator.
func NewService(repo staging.Repository, out outbound.Repository, authority Authority, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		outbound:  out,
		authority: authority,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// PassStats summarizes one scheduled pass.
type PassStats struct {
	Examined int `json:"examined"`
	Advanced int `json:"advanced"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

// ProcessPending validates Pending documents against the mapper. A document
// advances to Validated only when every row maps; otherwise all field errors
// are stored together on the record and it waits for a corrected
// resubmission.
func (s *Service) ProcessPending(ctx context.Context, limit int) (PassStats, error) {
	var stats PassStats
	docs, err := s.repo.ListPendingUnvalidated(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("submission: list pending: %w", err)
	}

	for _, doc := range docs {
		stats.Examined++
		rows, err := s.repo.RowsForDocument(ctx, doc.ID)
		if err != nil {
			return stats, fmt.Errorf("submission: load rows for %d: %w", doc.ID, err)
		}

		var fieldErrs []pipeline.FieldError
		for _, row := range rows {
			if _, err := mapping.MapToCanonical(row); err != nil {
				var verr *pipeline.ValidationError
				if errors.As(err, &verr) {
					fieldErrs = append(fieldErrs, verr.Fields...)
					detail := (&pipeline.ValidationError{Fields: verr.Fields}).Error()
					if rerr := s.repo.SetRowMappingFailure(ctx, row.ID, detail); rerr != nil {
						return stats, rerr
					}
					continue
				}
				return stats, err
			}
			if err := s.repo.MarkRowMapped(ctx, row.ID, nil); err != nil {
				return stats, err
			}
		}

		if len(fieldErrs) > 0 {
			verr := &pipeline.ValidationError{Fields: fieldErrs}
			if err := s.repo.SetValidationFailure(ctx, doc.ID, verr.Error(), humanizeFieldErrors(fieldErrs)); err != nil {
				return stats, err
			}
			stats.Failed++
			s.logger.Info("document failed validation",
				slog.Int64("document_id", doc.ID),
				slog.Int("field_errors", len(fieldErrs)))
			continue
		}

		ok, err := s.repo.MarkValidated(ctx, doc.ID)
		if err != nil {
			return stats, err
		}
		if ok {
			stats.Advanced++
		}
	}
	return stats, nil
}

// SubmitValidated submits Validated documents. Each document is claimed via
// a row-level lease before any authority call so that at most one worker
// advances it; transient failures are retried with exponential backoff up to
// the bounded attempt budget, then deferred to the next scheduled pass.
func (s *Service) SubmitValidated(ctx context.Context, limit int) (PassStats, error) {
	var stats PassStats
	docs, err := s.repo.ListByStatus(ctx, staging.StatusValidated, limit)
	if err != nil {
		return stats, fmt.Errorf("submission: list validated: %w", err)
	}

	for _, doc := range docs {
		stats.Examined++

		// Local idempotency guard: never resubmit a record that already
		// carries an authority identity.
		if doc.UUID != nil || doc.SubmissionUID != nil {
			stats.Deferred++
			continue
		}

		claimed, err := s.repo.ClaimForSubmission(ctx, doc.ID, s.cfg.WorkerID, s.cfg.ClaimLease)
		if err != nil {
			return stats, err
		}
		if !claimed {
			stats.Deferred++
			continue
		}

		if err := s.submitOne(ctx, doc, &stats); err != nil {
			if errors.Is(err, ErrAlreadySubmitted) {
				// Another worker stamped the record after our claim. The
				// authority outcome lands via the poll pass.
				stats.Deferred++
				continue
			}
			// Credential failures and persistence errors abort the pass;
			// the claim lease expires on its own.
			return stats, err
		}
	}
	return stats, nil
}

func (s *Service) submitOne(ctx context.Context, doc staging.Document, stats *PassStats) error {
	rows, err := s.repo.RowsForDocument(ctx, doc.ID)
	if err != nil {
		return err
	}

	req := myinvois.SubmitRequest{}
	rowByCode := make(map[string]staging.FlatFileInvoice, len(rows))
	for _, row := range rows {
		inv, err := mapping.MapToCanonical(row)
		if err != nil {
			// Rows were validated in an earlier pass; a mapping failure here
			// means the row changed underneath us. Send the document back
			// through validation diagnostics rather than submitting garbage.
			if relErr := s.repo.ReleaseClaim(ctx, doc.ID); relErr != nil {
				return relErr
			}
			stats.Failed++
			return nil
		}
		envelope, err := encodeDocument(inv)
		if err != nil {
			return err
		}
		req.Documents = append(req.Documents, envelope)
		rowByCode[inv.CodeNumber] = row
	}

	resp, err := s.submitWithRetry(ctx, doc, req)
	if err != nil {
		var rejection *pipeline.AuthorityRejection
		switch {
		case pipeline.IsTransient(err):
			// Retry budget exhausted: stays Validated, picked up next pass.
			human := "Submission could not reach the authority and will be retried automatically."
			if rerr := s.repo.RecordAttempt(ctx, doc.ID, err.Error(), human); rerr != nil {
				return rerr
			}
			stats.Deferred++
			s.logger.Warn("submission deferred after retries",
				slog.Int64("document_id", doc.ID),
				slog.String("error", err.Error()))
			return nil
		case errors.As(err, &rejection):
			human := translate.Message(translate.RawError{
				Code: rejection.Code, Path: rejection.Path, Message: rejection.Message,
			})
			if _, rerr := s.repo.MarkRejectedAtSubmission(ctx, doc.ID, rejection.Error(), human); rerr != nil {
				return rerr
			}
			stats.Failed++
			return nil
		default:
			if relErr := s.repo.ReleaseClaim(ctx, doc.ID); relErr != nil {
				s.logger.Warn("release claim", slog.Any("error", relErr))
			}
			return err
		}
	}

	submittedAt := s.now()

	// A single staging document carries one invoice; the authority still
	// answers with accepted/rejected lists.
	if len(resp.AcceptedDocuments) > 0 {
		accepted := resp.AcceptedDocuments[0]
		ok, err := s.repo.MarkSubmitted(ctx, doc.ID, resp.SubmissionUID, accepted.UUID, submittedAt)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadySubmitted
		}
		if err := s.outbound.Create(ctx, outbound.Status{
			UUID:          accepted.UUID,
			SubmissionUID: resp.SubmissionUID,
			InvoiceNumber: doc.InvoiceNumber,
			FileName:      doc.FileName,
			DocumentID:    doc.ID,
			DocStatus:     myinvois.StatusSubmitted,
			SubmittedAt:   submittedAt,
		}); err != nil {
			return err
		}
		for _, row := range rowByCode {
			if err := s.repo.SetRowSubmission(ctx, row.ID, resp.SubmissionUID); err != nil {
				return err
			}
		}
		stats.Advanced++
		s.logger.Info("document submitted",
			slog.Int64("document_id", doc.ID),
			slog.String("submission_uid", resp.SubmissionUID),
			slog.String("uuid", accepted.UUID))
		return nil
	}

	if len(resp.RejectedDocuments) > 0 {
		rej := resp.RejectedDocuments[0]
		raw, _ := json.Marshal(rej.Error)
		human := translate.Message(translate.RawError{
			Code:    rej.Error.Code,
			Path:    rej.Error.PropertyPath,
			Message: rej.Error.Message,
		})
		if _, err := s.repo.MarkRejectedAtSubmission(ctx, doc.ID, string(raw), human); err != nil {
			return err
		}
		if row, ok := rowByCode[rej.InvoiceCodeNumber]; ok {
			if err := s.repo.SetRowResponse(ctx, row.ID, string(raw)); err != nil {
				return err
			}
		}
		stats.Failed++
		return nil
	}

	return fmt.Errorf("submission: authority returned neither accepted nor rejected documents for %d", doc.ID)
}

// submitWithRetry retries transient failures with exponential backoff within
// the bounded attempt budget. Auth failures and rejections pass through
// unretried.
func (s *Service) submitWithRetry(ctx context.Context, doc staging.Document, req myinvois.SubmitRequest) (*myinvois.SubmitResponse, error) {
	var resp *myinvois.SubmitResponse

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.BackoffBase
	bounded := backoff.WithMaxRetries(policy, uint64(s.cfg.MaxAttempts-1))

	operation := func() error {
		r, err := s.authority.Submit(ctx, req)
		if err != nil {
			if pipeline.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(bounded, ctx)); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		return nil, err
	}
	return resp, nil
}

// PollSubmitted queries validation outcomes for Submitted documents. The
// authority validates asynchronously; documents that outlive the poll budget
// are flagged stale instead of being forced into a terminal state.
func (s *Service) PollSubmitted(ctx context.Context, limit int) (PassStats, error) {
	var stats PassStats
	docs, err := s.repo.ListByStatus(ctx, staging.StatusSubmitted, limit)
	if err != nil {
		return stats, fmt.Errorf("submission: list submitted: %w", err)
	}

	for _, doc := range docs {
		stats.Examined++
		if doc.SubmissionUID == nil || doc.UUID == nil {
			continue
		}

		status, err := s.authority.GetSubmission(ctx, *doc.SubmissionUID)
		if err != nil {
			if pipeline.IsAuthFailure(err) {
				return stats, err
			}
			if pipeline.IsTransient(err) {
				stats.Deferred++
				s.logger.Warn("status poll deferred",
					slog.Int64("document_id", doc.ID),
					slog.String("error", err.Error()))
				continue
			}
			return stats, err
		}

		summary := findSummary(status, *doc.UUID)
		if summary == nil {
			stats.Deferred++
			continue
		}

		terminal, to := localStatus(summary.Status)
		if !terminal {
			if doc.SubmittedAt != nil && s.now().Sub(*doc.SubmittedAt) > s.cfg.PollMaxAge {
				if err := s.repo.MarkStale(ctx, doc.ID); err != nil {
					return stats, err
				}
				s.logger.Warn("document flagged stale",
					slog.Int64("document_id", doc.ID),
					slog.String("uuid", *doc.UUID))
			}
			stats.Deferred++
			continue
		}

		var raw, human *string
		if summary.DocumentStatusReason != "" {
			r := summary.DocumentStatusReason
			h := translate.Message(translate.RawError{Message: summary.DocumentStatusReason})
			raw, human = &r, &h
		}
		ok, err := s.repo.ResolveFromPoll(ctx, doc.ID, to, raw, human)
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.Deferred++
			continue
		}
		if err := s.outbound.UpdateStatus(ctx, *doc.UUID, summary.Status, s.now()); err != nil {
			return stats, err
		}
		if payload, err := json.Marshal(summary); err == nil {
			rows, rerr := s.repo.RowsForDocument(ctx, doc.ID)
			if rerr == nil {
				for _, row := range rows {
					_ = s.repo.SetRowResponse(ctx, row.ID, string(payload))
				}
			}
		}
		stats.Advanced++
	}
	return stats, nil
}

// RequestCancellation cancels a Valid document within the authority's
// cancellation window, recording actor and reason.
func (s *Service) RequestCancellation(ctx context.Context, uuid, actor, reason string) error {
	record, err := s.outbound.Get(ctx, uuid)
	if err != nil {
		return err
	}
	doc, err := s.repo.Get(ctx, record.DocumentID)
	if err != nil {
		return err
	}
	if doc.Status != staging.StatusValid {
		return ErrNotCancellable
	}

	if _, err := s.authority.Cancel(ctx, uuid, reason); err != nil {
		return err
	}

	cancelledAt := s.now()
	if _, err := s.repo.MarkCancelled(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.outbound.MarkCancelled(ctx, uuid, actor, reason, cancelledAt); err != nil {
		return err
	}
	s.logger.Info("document cancelled",
		slog.String("uuid", uuid),
		slog.String("actor", actor))
	return nil
}

// Resubmit creates a fresh staging attempt from a terminal record. The
// original record is preserved untouched as audit history.
func (s *Service) Resubmit(ctx context.Context, sourceID int64) (int64, error) {
	doc, err := s.repo.Get(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if !staging.IsTerminal(doc.Status) {
		return 0, ErrNotResubmittable
	}
	return s.repo.CloneForResubmit(ctx, sourceID)
}

// encodeDocument wraps a canonical invoice in the authority's submission
// envelope: base64 payload plus SHA-256 hash.
func encodeDocument(inv *mapping.Invoice) (myinvois.Document, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return myinvois.Document{}, fmt.Errorf("submission: marshal invoice: %w", err)
	}
	sum := sha256.Sum256(payload)
	return myinvois.Document{
		Format:       "JSON",
		Document:     base64.StdEncoding.EncodeToString(payload),
		DocumentHash: hex.EncodeToString(sum[:]),
		CodeNumber:   inv.CodeNumber,
	}, nil
}

func findSummary(status *myinvois.SubmissionStatus, uuid string) *myinvois.DocumentSummary {
	for i := range status.DocumentSummary {
		if status.DocumentSummary[i].UUID == uuid {
			return &status.DocumentSummary[i]
		}
	}
	return nil
}

// localStatus maps an authority document status onto the staging state
// machine. The second return is meaningful only when terminal is true.
func localStatus(authorityStatus string) (terminal bool, to staging.DocumentStatus) {
	switch authorityStatus {
	case myinvois.StatusValid:
		return true, staging.StatusValid
	case myinvois.StatusInvalid:
		return true, staging.StatusInvalid
	case myinvois.StatusRejected:
		return true, staging.StatusRejected
	default:
		return false, ""
	}
}

func humanizeFieldErrors(fields []pipeline.FieldError) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Reason)
	}
	return "The document cannot be submitted until these fields are corrected: " + strings.Join(parts, "; ")
}
