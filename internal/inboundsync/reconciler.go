// Package inboundsync reconciles the local inbound mirror against the
// authority's recent-documents feed.
package inboundsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/merlion-labs/einvois/internal/inbound"
	"github.com/merlion-labs/einvois/internal/myinvois"
	"github.com/merlion-labs/einvois/internal/pipeline"
)

// Lister is the slice of the authority client the reconciler uses.
type Lister interface {
	ListRecentDocuments(ctx context.Context, since string, pageNo, pageSize int) (*myinvois.RecentDocumentsPage, error)
}

// Config bounds one reconciliation pass.
type Config struct {
	PageSize int
	// MaxPages caps how far a single pass walks the feed so a scheduled run
	// finishes even when the backlog is deep.
	MaxPages int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	return c
}

// Reconciler pulls inbound documents received since the last watermark and
// upserts them into the local mirror.
type Reconciler struct {
	repo      inbound.Repository
	authority Lister
	cfg       Config
	logger    *slog.Logger
}

// NewReconciler constructs the reconciler.
func NewReconciler(repo inbound.Repository, authority Lister, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, authority: authority, cfg: cfg.withDefaults(), logger: logger}
}

// SyncStats summarizes one reconciliation pass.
type SyncStats struct {
	Pages    int `json:"pages"`
	Fetched  int `json:"fetched"`
	Upserted int `json:"upserted"`
	Failed   int `json:"failed"`
}

// Reconcile walks the authority feed from the stored watermark. Per-document
// failures are collected and reported together; they never abort the pass.
// The watermark advances only when every fetched document landed, so a
// partial pass is re-covered by the next run. Upserts are idempotent by UUID,
// which makes the re-cover safe.
func (r *Reconciler) Reconcile(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	watermark, err := r.repo.Watermark(ctx)
	if err != nil {
		return stats, fmt.Errorf("inboundsync: load watermark: %w", err)
	}

	var (
		syncErrs []error
		// highest DateTimeReceived seen across successfully stored documents;
		// authority timestamps sort lexicographically within one feed.
		candidate = watermark
	)

	for page := 1; page <= r.cfg.MaxPages; page++ {
		resp, err := r.authority.ListRecentDocuments(ctx, watermark, page, r.cfg.PageSize)
		if err != nil {
			if pipeline.IsAuthFailure(err) {
				return stats, err
			}
			return stats, fmt.Errorf("inboundsync: list page %d: %w", page, err)
		}
		stats.Pages++
		stats.Fetched += len(resp.Result)

		for _, summary := range resp.Result {
			if err := r.repo.Upsert(ctx, mirrorFromSummary(summary)); err != nil {
				stats.Failed++
				syncErrs = append(syncErrs, &pipeline.ReconciliationError{UUID: summary.UUID, Err: err})
				continue
			}
			stats.Upserted++
			if summary.DateTimeReceived > candidate {
				candidate = summary.DateTimeReceived
			}
		}

		if page >= resp.Metadata.TotalPages {
			break
		}
	}

	if len(syncErrs) == 0 && candidate != watermark {
		if err := r.repo.SetWatermark(ctx, candidate); err != nil {
			return stats, fmt.Errorf("inboundsync: advance watermark: %w", err)
		}
	}

	r.logger.Info("inbound reconciliation pass",
		slog.Int("pages", stats.Pages),
		slog.Int("fetched", stats.Fetched),
		slog.Int("upserted", stats.Upserted),
		slog.Int("failed", stats.Failed))

	if len(syncErrs) > 0 {
		return stats, errors.Join(syncErrs...)
	}
	return stats, nil
}

func mirrorFromSummary(s myinvois.DocumentSummary) inbound.Status {
	return inbound.Status{
		UUID:              s.UUID,
		SubmissionUID:     s.SubmissionUID,
		LongID:            s.LongID,
		DocType:           s.TypeName,
		DocTypeVersion:    s.TypeVersionName,
		IssuerTIN:         s.IssuerTIN,
		IssuerName:        s.IssuerName,
		ReceiverTIN:       s.ReceiverID,
		ReceiverName:      s.ReceiverName,
		TotalSales:        s.TotalSales,
		TotalExclTax:      s.TotalExcludingTax,
		TotalDiscount:     s.TotalDiscount,
		TotalNetAmount:    s.TotalNetAmount,
		TotalPayable:      s.TotalPayableAmount,
		DocStatus:         s.Status,
		DateTimeIssued:    s.DateTimeIssued,
		DateTimeReceived:  s.DateTimeReceived,
		DateTimeValidated: s.DateTimeValidated,
		SyncStatus:        "ok",
	}
}
