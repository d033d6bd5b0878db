package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/merlion-labs/einvois/internal/inboundsync"
	"github.com/merlion-labs/einvois/internal/observability"
	"github.com/merlion-labs/einvois/internal/pipeline"
	"github.com/merlion-labs/einvois/internal/shared"
	"github.com/merlion-labs/einvois/internal/submission"
)

// PassDeps collects the services the pipeline pass handlers drive.
type PassDeps struct {
	Submission *submission.Service
	Reconciler *inboundsync.Reconciler
	Lease      *shared.PassLease
	HolderID   string
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Handlers builds the Asynq handlers for every pipeline pass.
func (d PassDeps) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskValidatePass, Handler: d.handleValidatePass},
		{Type: TaskSubmitPass, Handler: d.handleSubmitPass},
		{Type: TaskPollPass, Handler: d.handlePollPass},
		{Type: TaskInboundSync, Handler: d.handleInboundSync},
	}
}

// runExclusive runs one pass under the cross-process lease. An overlapping
// cron fire is skipped silently; the next fire covers the backlog.
func (d PassDeps) runExclusive(ctx context.Context, pass string, fn func(context.Context) error) error {
	if d.Lease != nil {
		ok, err := d.Lease.Acquire(ctx, pass, d.HolderID)
		if err != nil {
			return err
		}
		if !ok {
			d.Logger.Info("pass already running elsewhere", slog.String("pass", pass))
			return nil
		}
		defer func() {
			if err := d.Lease.Release(ctx, pass, d.HolderID); err != nil {
				d.Logger.Warn("release pass lease", slog.String("pass", pass), slog.Any("error", err))
			}
		}()
	}
	return fn(ctx)
}

func (d PassDeps) handleValidatePass(ctx context.Context, t *asynq.Task) error {
	payload := decodePassPayload(t)
	return d.runExclusive(ctx, "validate", func(ctx context.Context) error {
		start := time.Now()
		stats, err := d.Submission.ProcessPending(ctx, payload.Limit)
		d.logPass("validate", stats, time.Since(start), err)
		return err
	})
}

func (d PassDeps) handleSubmitPass(ctx context.Context, t *asynq.Task) error {
	payload := decodePassPayload(t)
	return d.runExclusive(ctx, "submit", func(ctx context.Context) error {
		start := time.Now()
		stats, err := d.Submission.SubmitValidated(ctx, payload.Limit)
		d.logPass("submit", stats, time.Since(start), err)
		if pipeline.IsAuthFailure(err) {
			// Bad credentials never heal on their own; retrying the task
			// would only burn the queue.
			return asynq.SkipRetry
		}
		return err
	})
}

func (d PassDeps) handlePollPass(ctx context.Context, t *asynq.Task) error {
	payload := decodePassPayload(t)
	return d.runExclusive(ctx, "poll", func(ctx context.Context) error {
		start := time.Now()
		stats, err := d.Submission.PollSubmitted(ctx, payload.Limit)
		d.logPass("poll", stats, time.Since(start), err)
		if pipeline.IsAuthFailure(err) {
			return asynq.SkipRetry
		}
		return err
	})
}

func (d PassDeps) handleInboundSync(ctx context.Context, t *asynq.Task) error {
	return d.runExclusive(ctx, "inbound_sync", func(ctx context.Context) error {
		stats, err := d.Reconciler.Reconcile(ctx)
		if err != nil {
			d.Logger.Warn("inbound sync pass",
				slog.Int("upserted", stats.Upserted),
				slog.Int("failed", stats.Failed),
				slog.Any("error", err))
			if pipeline.IsAuthFailure(err) {
				return asynq.SkipRetry
			}
			// Per-document failures were collected and logged; the held-back
			// watermark re-covers them next run without task retries.
			return nil
		}
		return nil
	})
}

func (d PassDeps) logPass(pass string, stats submission.PassStats, elapsed time.Duration, err error) {
	d.Metrics.ObservePass(pass, stats.Advanced, stats.Failed, stats.Deferred, elapsed)
	if err != nil {
		d.Logger.Error("pipeline pass failed",
			slog.String("pass", pass),
			slog.Int("examined", stats.Examined),
			slog.Any("error", err))
		return
	}
	d.Logger.Info("pipeline pass complete",
		slog.String("pass", pass),
		slog.Int("examined", stats.Examined),
		slog.Int("advanced", stats.Advanced),
		slog.Int("failed", stats.Failed),
		slog.Int("deferred", stats.Deferred))
}
