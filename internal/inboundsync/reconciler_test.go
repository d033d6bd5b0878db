package inboundsync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlion-labs/einvois/internal/inbound"
	"github.com/merlion-labs/einvois/internal/myinvois"
	"github.com/merlion-labs/einvois/internal/pipeline"
)

type mockInboundRepo struct {
	mu        sync.Mutex
	records   map[string]inbound.Status
	watermark string
	failUUIDs map[string]bool
	upserts   int
}

func newMockInboundRepo() *mockInboundRepo {
	return &mockInboundRepo{
		records:   make(map[string]inbound.Status),
		failUUIDs: make(map[string]bool),
	}
}

func (m *mockInboundRepo) Upsert(ctx context.Context, s inbound.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failUUIDs[s.UUID] {
		return errors.New("constraint violation")
	}
	prev, existed := m.records[s.UUID]
	s.LastSyncAt = time.Now()
	if existed && prev.LastSyncAt.After(s.LastSyncAt) {
		s.LastSyncAt = prev.LastSyncAt
	}
	m.records[s.UUID] = s
	return nil
}

func (m *mockInboundRepo) Get(ctx context.Context, uuid string) (*inbound.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[uuid]
	if !ok {
		return nil, inbound.ErrNotFound
	}
	return &s, nil
}

func (m *mockInboundRepo) List(ctx context.Context, limit, offset int) ([]inbound.Status, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]inbound.Status, 0, len(m.records))
	for _, s := range m.records {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockInboundRepo) Watermark(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark, nil
}

func (m *mockInboundRepo) SetWatermark(ctx context.Context, watermark string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermark = watermark
	return nil
}

type mockLister struct {
	pages     []myinvois.RecentDocumentsPage
	err       error
	calls     int
	lastSince string
}

func (m *mockLister) ListRecentDocuments(ctx context.Context, since string, pageNo, pageSize int) (*myinvois.RecentDocumentsPage, error) {
	m.calls++
	m.lastSince = since
	if m.err != nil {
		return nil, m.err
	}
	if pageNo > len(m.pages) {
		return &myinvois.RecentDocumentsPage{Metadata: myinvois.PageMetadata{TotalPages: len(m.pages)}}, nil
	}
	page := m.pages[pageNo-1]
	page.Metadata.TotalPages = len(m.pages)
	page.Metadata.PageNo = pageNo
	return &page, nil
}

func summary(uuid, received string) myinvois.DocumentSummary {
	return myinvois.DocumentSummary{
		UUID:               uuid,
		SubmissionUID:      "SUB-" + uuid,
		TypeName:           "Invoice",
		TypeVersionName:    "1.0",
		IssuerTIN:          "C100",
		IssuerName:         "Counterparty Sdn Bhd",
		ReceiverID:         "C200",
		ReceiverName:       "Merlion Sdn Bhd",
		TotalPayableAmount: 108,
		Status:             myinvois.StatusValid,
		DateTimeReceived:   received,
	}
}

func newReconciler(repo *mockInboundRepo, lister *mockLister) *Reconciler {
	logger := slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
	return NewReconciler(repo, lister, Config{PageSize: 2}, logger)
}

func TestReconcile_UpsertsAndAdvancesWatermark(t *testing.T) {
	repo := newMockInboundRepo()
	lister := &mockLister{pages: []myinvois.RecentDocumentsPage{
		{Result: []myinvois.DocumentSummary{
			summary("U1", "2025-08-01T10:00:00Z"),
			summary("U2", "2025-08-01T11:00:00Z"),
		}},
		{Result: []myinvois.DocumentSummary{
			summary("U3", "2025-08-01T12:00:00Z"),
		}},
	}}

	stats, err := newReconciler(repo, lister).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 3, stats.Upserted)
	assert.Equal(t, 0, stats.Failed)

	assert.Equal(t, "2025-08-01T12:00:00Z", repo.watermark)

	got, err := repo.Get(context.Background(), "U2")
	require.NoError(t, err)
	assert.Equal(t, "SUB-U2", got.SubmissionUID)
	assert.Equal(t, "C200", got.ReceiverTIN)
	// Authority timestamps pass through verbatim.
	assert.Equal(t, "2025-08-01T11:00:00Z", got.DateTimeReceived)
}

func TestReconcile_IdempotentSecondPass(t *testing.T) {
	repo := newMockInboundRepo()
	lister := &mockLister{pages: []myinvois.RecentDocumentsPage{
		{Result: []myinvois.DocumentSummary{summary("U1", "2025-08-01T10:00:00Z")}},
	}}
	rec := newReconciler(repo, lister)

	_, err := rec.Reconcile(context.Background())
	require.NoError(t, err)
	first, _ := repo.Get(context.Background(), "U1")

	time.Sleep(5 * time.Millisecond)
	_, err = rec.Reconcile(context.Background())
	require.NoError(t, err)

	second, _ := repo.Get(context.Background(), "U1")
	assert.Equal(t, first.DocStatus, second.DocStatus)
	assert.Len(t, repo.records, 1)
	// last_sync_at advances on every pass even when nothing changed.
	assert.True(t, second.LastSyncAt.After(first.LastSyncAt))
}

func TestReconcile_UsesStoredWatermark(t *testing.T) {
	repo := newMockInboundRepo()
	repo.watermark = "2025-07-31T00:00:00Z"
	lister := &mockLister{pages: []myinvois.RecentDocumentsPage{{}}}

	_, err := newReconciler(repo, lister).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-07-31T00:00:00Z", lister.lastSince)
	// Nothing fetched, watermark untouched.
	assert.Equal(t, "2025-07-31T00:00:00Z", repo.watermark)
}

func TestReconcile_PartialFailureHoldsWatermark(t *testing.T) {
	repo := newMockInboundRepo()
	repo.watermark = "2025-08-01T00:00:00Z"
	repo.failUUIDs["U2"] = true
	lister := &mockLister{pages: []myinvois.RecentDocumentsPage{
		{Result: []myinvois.DocumentSummary{
			summary("U1", "2025-08-01T10:00:00Z"),
			summary("U2", "2025-08-01T11:00:00Z"),
		}},
	}}

	stats, err := newReconciler(repo, lister).Reconcile(context.Background())
	require.Error(t, err)
	var recErr *pipeline.ReconciliationError
	assert.True(t, errors.As(err, &recErr))
	assert.Equal(t, "U2", recErr.UUID)

	// The good document still landed; the pass was not aborted.
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, stats.Failed)
	_, getErr := repo.Get(context.Background(), "U1")
	assert.NoError(t, getErr)

	// Watermark held back so the failed document is retried next pass.
	assert.Equal(t, "2025-08-01T00:00:00Z", repo.watermark)
}

func TestReconcile_AuthFailureAborts(t *testing.T) {
	repo := newMockInboundRepo()
	lister := &mockLister{err: &pipeline.AuthError{Detail: "status 401"}}

	_, err := newReconciler(repo, lister).Reconcile(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.IsAuthFailure(err))
	assert.Equal(t, 0, repo.upserts)
}
