package submission

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlion-labs/einvois/internal/myinvois"
	"github.com/merlion-labs/einvois/internal/outbound"
	"github.com/merlion-labs/einvois/internal/pipeline"
	"github.com/merlion-labs/einvois/internal/staging"
)

// ============================================================================
// MOCK STAGING REPOSITORY
// ============================================================================

type mockStagingRepo struct {
	mu     sync.Mutex
	docs   map[int64]*staging.Document
	rows   map[int64][]staging.FlatFileInvoice
	nextID int64
}

func newMockStagingRepo() *mockStagingRepo {
	return &mockStagingRepo{
		docs:   make(map[int64]*staging.Document),
		rows:   make(map[int64][]staging.FlatFileInvoice),
		nextID: 1,
	}
}

func (m *mockStagingRepo) addDocument(doc staging.Document, rows ...staging.FlatFileInvoice) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	doc.ID = id
	if doc.AttemptNo == 0 {
		doc.AttemptNo = 1
	}
	m.docs[id] = &doc
	for i := range rows {
		rows[i].DocumentID = id
		rows[i].ID = int64(i + 1)
	}
	m.rows[id] = rows
	return id
}

func (m *mockStagingRepo) WithTx(ctx context.Context, fn func(context.Context, staging.Repository) error) error {
	return fn(ctx, m)
}

func (m *mockStagingRepo) CreateDocument(ctx context.Context, doc staging.Document) (int64, error) {
	return m.addDocument(doc), nil
}

func (m *mockStagingRepo) InsertFlatFileRow(ctx context.Context, row staging.FlatFileInvoice) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.DocumentID] = append(m.rows[row.DocumentID], row)
	return int64(len(m.rows[row.DocumentID])), nil
}

func (m *mockStagingRepo) Get(ctx context.Context, id int64) (*staging.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, staging.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockStagingRepo) GetByFilePath(ctx context.Context, filePath string) (*staging.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.FilePath == filePath {
			cp := *d
			return &cp, nil
		}
	}
	return nil, staging.ErrNotFound
}

func (m *mockStagingRepo) ListByStatus(ctx context.Context, status staging.DocumentStatus, limit int) ([]staging.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []staging.Document
	for id := int64(1); id < m.nextID && len(out) < limit; id++ {
		if d, ok := m.docs[id]; ok && d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockStagingRepo) ListRecent(ctx context.Context, status staging.DocumentStatus, limit, offset int) ([]staging.Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []staging.Document
	for id := int64(1); id < m.nextID; id++ {
		if d, ok := m.docs[id]; ok && (status == "" || d.Status == status) {
			out = append(out, *d)
		}
	}
	return out, len(out), nil
}

func (m *mockStagingRepo) ListPendingUnvalidated(ctx context.Context, limit int) ([]staging.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []staging.Document
	for id := int64(1); id < m.nextID && len(out) < limit; id++ {
		if d, ok := m.docs[id]; ok && d.Status == staging.StatusPending && d.RawError == nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockStagingRepo) RowsForDocument(ctx context.Context, documentID int64) ([]staging.FlatFileInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]staging.FlatFileInvoice(nil), m.rows[documentID]...), nil
}

func (m *mockStagingRepo) SetValidationFailure(ctx context.Context, id int64, raw, human string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok && d.Status == staging.StatusPending {
		d.RawError, d.HumanError = &raw, &human
	}
	return nil
}

func (m *mockStagingRepo) MarkValidated(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Status != staging.StatusPending {
		return false, nil
	}
	d.Status = staging.StatusValidated
	d.RawError, d.HumanError = nil, nil
	return true, nil
}

func (m *mockStagingRepo) ClaimForSubmission(ctx context.Context, id int64, worker string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Status != staging.StatusValidated || d.UUID != nil {
		return false, nil
	}
	return true, nil
}

func (m *mockStagingRepo) ReleaseClaim(ctx context.Context, id int64) error { return nil }

func (m *mockStagingRepo) MarkSubmitted(ctx context.Context, id int64, submissionUID, uuid string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Status != staging.StatusValidated || d.UUID != nil {
		return false, nil
	}
	d.Status = staging.StatusSubmitted
	d.SubmissionUID, d.UUID = &submissionUID, &uuid
	d.SubmittedAt = &at
	d.RawError, d.HumanError = nil, nil
	return true, nil
}

func (m *mockStagingRepo) MarkRejectedAtSubmission(ctx context.Context, id int64, raw, human string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Status != staging.StatusValidated {
		return false, nil
	}
	d.Status = staging.StatusRejected
	d.RawError, d.HumanError = &raw, &human
	return true, nil
}

func (m *mockStagingRepo) RecordAttempt(ctx context.Context, id int64, raw, human string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok && d.Status == staging.StatusValidated {
		d.Attempts++
		d.RawError, d.HumanError = &raw, &human
	}
	return nil
}

func (m *mockStagingRepo) ResolveFromPoll(ctx context.Context, id int64, to staging.DocumentStatus, raw, human *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Status != staging.StatusSubmitted {
		return false, nil
	}
	if !staging.CanTransition(staging.StatusSubmitted, to) {
		return false, nil
	}
	d.Status = to
	d.RawError, d.HumanError = raw, human
	d.SyncStatus = staging.SyncOK
	return true, nil
}

func (m *mockStagingRepo) MarkStale(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok && d.Status == staging.StatusSubmitted {
		d.SyncStatus = staging.SyncStale
	}
	return nil
}

func (m *mockStagingRepo) MarkCancelled(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.Status != staging.StatusValid {
		return false, nil
	}
	d.Status = staging.StatusCancelled
	return true, nil
}

func (m *mockStagingRepo) CloneForResubmit(ctx context.Context, sourceID int64) (int64, error) {
	m.mu.Lock()
	src, ok := m.docs[sourceID]
	if !ok {
		m.mu.Unlock()
		return 0, staging.ErrNotFound
	}
	clone := *src
	clone.UUID, clone.SubmissionUID, clone.SubmittedAt = nil, nil, nil
	clone.RawError, clone.HumanError = nil, nil
	clone.Status = staging.StatusPending
	clone.AttemptNo = src.AttemptNo + 1
	clone.ResubmitOf = &src.ID
	rows := append([]staging.FlatFileInvoice(nil), m.rows[sourceID]...)
	m.mu.Unlock()
	return m.addDocument(clone, rows...), nil
}

func (m *mockStagingRepo) MarkRowMapped(ctx context.Context, rowID int64, detail *string) error {
	return nil
}
func (m *mockStagingRepo) SetRowMappingFailure(ctx context.Context, rowID int64, detail string) error {
	return nil
}
func (m *mockStagingRepo) SetRowSubmission(ctx context.Context, rowID int64, submissionID string) error {
	return nil
}
func (m *mockStagingRepo) SetRowResponse(ctx context.Context, rowID int64, payload string) error {
	return nil
}

// ============================================================================
// MOCK OUTBOUND REPOSITORY AND AUTHORITY
// ============================================================================

type mockOutboundRepo struct {
	mu      sync.Mutex
	records map[string]*outbound.Status
}

func newMockOutboundRepo() *mockOutboundRepo {
	return &mockOutboundRepo{records: make(map[string]*outbound.Status)}
}

func (m *mockOutboundRepo) Create(ctx context.Context, s outbound.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.UUID]; !ok {
		m.records[s.UUID] = &s
	}
	return nil
}

func (m *mockOutboundRepo) Get(ctx context.Context, uuid string) (*outbound.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[uuid]
	if !ok {
		return nil, outbound.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockOutboundRepo) UpdateStatus(ctx context.Context, uuid, docStatus string, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.records[uuid]; ok {
		s.DocStatus = docStatus
		s.LastSyncAt = &syncedAt
	}
	return nil
}

func (m *mockOutboundRepo) MarkCancelled(ctx context.Context, uuid, actor, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.records[uuid]; ok {
		s.DocStatus = "Cancelled"
		s.CancelledAt, s.CancelledBy, s.CancelReason = &at, &actor, &reason
	}
	return nil
}

func (m *mockOutboundRepo) ListBySubmissionUID(ctx context.Context, submissionUID string) ([]outbound.Status, error) {
	return nil, nil
}

type mockAuthority struct {
	mu          sync.Mutex
	submitErrs  []error
	submitResp  *myinvois.SubmitResponse
	submitCalls int
	// onSubmit runs inside Submit, before the response is returned.
	onSubmit    func()
	statusResp  *myinvois.SubmissionStatus
	statusErr   error
	cancelErr   error
	cancelCalls int
}

func (m *mockAuthority) Submit(ctx context.Context, req myinvois.SubmitRequest) (*myinvois.SubmitResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	if m.onSubmit != nil {
		m.onSubmit()
	}
	if len(m.submitErrs) > 0 {
		err := m.submitErrs[0]
		m.submitErrs = m.submitErrs[1:]
		return nil, err
	}
	return m.submitResp, nil
}

func (m *mockAuthority) GetSubmission(ctx context.Context, submissionUID string) (*myinvois.SubmissionStatus, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.statusResp, nil
}

func (m *mockAuthority) Cancel(ctx context.Context, uuid, reason string) (*myinvois.CancelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return &myinvois.CancelResponse{UUID: uuid, Status: "Cancelled"}, nil
}

// ============================================================================
// FIXTURES
// ============================================================================

func validRow() staging.FlatFileInvoice {
	return staging.FlatFileInvoice{
		UUID:               "row-uuid-1",
		SupplierName:       "Supplier Bhd",
		SupplierTIN:        "C111",
		SupplierAddress:    "Jalan Satu",
		SupplierState:      "10",
		SupplierCountry:    "MYS",
		BuyerName:          "Buyer Bhd",
		BuyerTIN:           "C222",
		BuyerAddress:       "Jalan Dua",
		BuyerState:         "14",
		BuyerCountry:       "MYS",
		InvoiceNumber:      "INV-1",
		InvoiceDate:        "2025-08-01",
		CurrencyCode:       "MYR",
		ExchangeRate:       1,
		EInvoiceType:       "01",
		ItemDescription:    "Widgets",
		ClassificationCode: "022",
		TaxType:            "02",
		TaxRate:            8,
		TaxAmount:          8,
		TotalExclTax:       100,
		TotalInclTax:       108,
	}
}

func newService(repo *mockStagingRepo, out *mockOutboundRepo, auth *mockAuthority) *Service {
	logger := slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
	return NewService(repo, out, auth, Config{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		PollMaxAge:  72 * time.Hour,
		WorkerID:    "test-worker",
	}, logger)
}

func acceptedResponse() *myinvois.SubmitResponse {
	return &myinvois.SubmitResponse{
		SubmissionUID: "SUB-1",
		AcceptedDocuments: []myinvois.AcceptedDocument{
			{UUID: "AUTH-UUID-1", InvoiceCodeNumber: "INV-1"},
		},
	}
}

// ============================================================================
// TESTS
// ============================================================================

func TestProcessPending_AdvancesValidDocument(t *testing.T) {
	repo := newMockStagingRepo()
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1", Status: staging.StatusPending,
	}, validRow())
	svc := newService(repo, newMockOutboundRepo(), &mockAuthority{})

	stats, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Advanced)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusValidated, doc.Status)
}

func TestProcessPending_MissingBuyerTINStaysPending(t *testing.T) {
	row := validRow()
	row.BuyerTIN = ""
	repo := newMockStagingRepo()
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1", Status: staging.StatusPending,
	}, row)
	svc := newService(repo, newMockOutboundRepo(), &mockAuthority{})

	stats, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusPending, doc.Status)
	require.NotNil(t, doc.RawError)
	assert.Contains(t, *doc.RawError, "buyer_tin")
	require.NotNil(t, doc.HumanError)
	assert.Contains(t, *doc.HumanError, "buyer_tin")
}

func TestSubmitValidated_TransientTwiceThenSuccess(t *testing.T) {
	repo := newMockStagingRepo()
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", FileName: "a.txt", InvoiceNumber: "INV-1",
		Status: staging.StatusValidated,
	}, validRow())
	out := newMockOutboundRepo()
	auth := &mockAuthority{
		submitErrs: []error{
			&pipeline.TransientError{Op: "submit", Err: context.DeadlineExceeded},
			&pipeline.TransientError{Op: "submit", Err: context.DeadlineExceeded},
		},
		submitResp: acceptedResponse(),
	}
	svc := newService(repo, out, auth)

	stats, err := svc.SubmitValidated(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Advanced)
	// Two timeouts plus the succeeding attempt, all within one retry budget.
	assert.Equal(t, 3, auth.submitCalls)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusSubmitted, doc.Status)
	require.NotNil(t, doc.SubmissionUID)
	assert.Equal(t, "SUB-1", *doc.SubmissionUID)
	require.NotNil(t, doc.UUID)
	assert.Equal(t, "AUTH-UUID-1", *doc.UUID)

	record, err := out.Get(context.Background(), "AUTH-UUID-1")
	require.NoError(t, err)
	assert.Equal(t, "SUB-1", record.SubmissionUID)
}

func TestSubmitValidated_RetryBudgetExhaustedStaysValidated(t *testing.T) {
	repo := newMockStagingRepo()
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1", Status: staging.StatusValidated,
	}, validRow())
	auth := &mockAuthority{
		submitErrs: []error{
			&pipeline.TransientError{Op: "submit", Err: context.DeadlineExceeded},
			&pipeline.TransientError{Op: "submit", Err: context.DeadlineExceeded},
			&pipeline.TransientError{Op: "submit", Err: context.DeadlineExceeded},
			&pipeline.TransientError{Op: "submit", Err: context.DeadlineExceeded},
		},
	}
	svc := newService(repo, newMockOutboundRepo(), auth)

	stats, err := svc.SubmitValidated(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, 3, auth.submitCalls)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusValidated, doc.Status)
	assert.Nil(t, doc.UUID)
	assert.Equal(t, 1, doc.Attempts)
	require.NotNil(t, doc.HumanError)
	assert.Contains(t, *doc.HumanError, "retried automatically")
}

func TestSubmitValidated_AlreadySubmittedSkippedBeforeAuthorityCall(t *testing.T) {
	uuid := "AUTH-UUID-1"
	repo := newMockStagingRepo()
	repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1",
		Status: staging.StatusValidated, UUID: &uuid,
	}, validRow())
	auth := &mockAuthority{submitResp: acceptedResponse()}
	svc := newService(repo, newMockOutboundRepo(), auth)

	stats, err := svc.SubmitValidated(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, 0, auth.submitCalls)
}

func TestSubmitValidated_RaceAfterClaimDefersDocument(t *testing.T) {
	repo := newMockStagingRepo()
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1", Status: staging.StatusValidated,
	}, validRow())
	out := newMockOutboundRepo()
	auth := &mockAuthority{submitResp: acceptedResponse()}
	auth.onSubmit = func() {
		// Another worker stamps the record while our call is in flight.
		otherUUID, otherSub := "AUTH-UUID-OTHER", "SUB-OTHER"
		repo.mu.Lock()
		d := repo.docs[id]
		d.Status = staging.StatusSubmitted
		d.UUID, d.SubmissionUID = &otherUUID, &otherSub
		repo.mu.Unlock()
	}
	svc := newService(repo, out, auth)

	stats, err := svc.SubmitValidated(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, 0, stats.Advanced)
	assert.Empty(t, out.records)

	// The other worker's stamp survives untouched.
	doc, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc.UUID)
	assert.Equal(t, "AUTH-UUID-OTHER", *doc.UUID)
}

func TestSubmitValidated_SynchronousRejectionTranslated(t *testing.T) {
	repo := newMockStagingRepo()
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1", Status: staging.StatusValidated,
	}, validRow())
	auth := &mockAuthority{submitResp: &myinvois.SubmitResponse{
		SubmissionUID: "SUB-1",
		RejectedDocuments: []myinvois.RejectedDocument{{
			InvoiceCodeNumber: "INV-1",
			Error: myinvois.ErrorDetail{
				Code:    "CV302",
				Message: "ItemCode XX9 does not exist in CodeType State Codes",
			},
		}},
	}}
	svc := newService(repo, newMockOutboundRepo(), auth)

	stats, err := svc.SubmitValidated(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusRejected, doc.Status)
	require.NotNil(t, doc.RawError)
	assert.Contains(t, *doc.RawError, "CV302")
	require.NotNil(t, doc.HumanError)
	assert.Contains(t, *doc.HumanError, `"XX9"`)
}

func TestSubmitValidated_AuthFailureAbortsPass(t *testing.T) {
	repo := newMockStagingRepo()
	repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1", Status: staging.StatusValidated,
	}, validRow())
	auth := &mockAuthority{submitErrs: []error{&pipeline.AuthError{Detail: "status 401"}}}
	svc := newService(repo, newMockOutboundRepo(), auth)

	_, err := svc.SubmitValidated(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, pipeline.IsAuthFailure(err))
	assert.Equal(t, 1, auth.submitCalls)
}

func submittedDoc(repo *mockStagingRepo, submittedAt time.Time) int64 {
	uid, uuid := "SUB-1", "AUTH-UUID-1"
	return repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1",
		Status: staging.StatusSubmitted, SubmissionUID: &uid, UUID: &uuid,
		SubmittedAt: &submittedAt,
	}, validRow())
}

func TestPollSubmitted_ResolvesValid(t *testing.T) {
	repo := newMockStagingRepo()
	id := submittedDoc(repo, time.Now())
	out := newMockOutboundRepo()
	_ = out.Create(context.Background(), outbound.Status{UUID: "AUTH-UUID-1", SubmissionUID: "SUB-1", DocumentID: id})
	auth := &mockAuthority{statusResp: &myinvois.SubmissionStatus{
		SubmissionUID: "SUB-1",
		OverallStatus: "valid",
		DocumentSummary: []myinvois.DocumentSummary{
			{UUID: "AUTH-UUID-1", Status: myinvois.StatusValid, DateTimeValidated: "2025-08-02T00:00:00Z"},
		},
	}}
	svc := newService(repo, out, auth)

	stats, err := svc.PollSubmitted(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Advanced)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusValid, doc.Status)

	record, _ := out.Get(context.Background(), "AUTH-UUID-1")
	assert.Equal(t, myinvois.StatusValid, record.DocStatus)
	assert.NotNil(t, record.LastSyncAt)
}

func TestPollSubmitted_InvalidCarriesTranslatedReason(t *testing.T) {
	repo := newMockStagingRepo()
	id := submittedDoc(repo, time.Now())
	out := newMockOutboundRepo()
	_ = out.Create(context.Background(), outbound.Status{UUID: "AUTH-UUID-1", DocumentID: id})
	auth := &mockAuthority{statusResp: &myinvois.SubmissionStatus{
		SubmissionUID: "SUB-1",
		DocumentSummary: []myinvois.DocumentSummary{{
			UUID:                 "AUTH-UUID-1",
			Status:               myinvois.StatusInvalid,
			DocumentStatusReason: "ItemCode QQ1 does not exist in CodeType State Codes",
		}},
	}}
	svc := newService(repo, out, auth)

	_, err := svc.PollSubmitted(context.Background(), 10)
	require.NoError(t, err)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusInvalid, doc.Status)
	require.NotNil(t, doc.RawError)
	assert.Contains(t, *doc.RawError, "QQ1")
	require.NotNil(t, doc.HumanError)
	assert.Contains(t, *doc.HumanError, `"QQ1"`)
	assert.NotContains(t, *doc.HumanError, "CodeType")
}

func TestPollSubmitted_NonTerminalPastBudgetFlagsStale(t *testing.T) {
	repo := newMockStagingRepo()
	id := submittedDoc(repo, time.Now().Add(-100*time.Hour))
	auth := &mockAuthority{statusResp: &myinvois.SubmissionStatus{
		SubmissionUID: "SUB-1",
		DocumentSummary: []myinvois.DocumentSummary{
			{UUID: "AUTH-UUID-1", Status: "in progress"},
		},
	}}
	svc := newService(repo, newMockOutboundRepo(), auth)

	stats, err := svc.PollSubmitted(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)

	doc, _ := repo.Get(context.Background(), id)
	// Flagged for operator attention, never forced terminal.
	assert.Equal(t, staging.StatusSubmitted, doc.Status)
	assert.Equal(t, staging.SyncStale, doc.SyncStatus)
}

func TestPollSubmitted_TransientErrorDefers(t *testing.T) {
	repo := newMockStagingRepo()
	id := submittedDoc(repo, time.Now())
	auth := &mockAuthority{statusErr: &pipeline.TransientError{Op: "status", Err: context.DeadlineExceeded}}
	svc := newService(repo, newMockOutboundRepo(), auth)

	stats, err := svc.PollSubmitted(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deferred)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusSubmitted, doc.Status)
}

func TestRequestCancellation_FromValid(t *testing.T) {
	repo := newMockStagingRepo()
	uid, uuid := "SUB-1", "AUTH-UUID-1"
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1",
		Status: staging.StatusValid, SubmissionUID: &uid, UUID: &uuid,
	}, validRow())
	out := newMockOutboundRepo()
	_ = out.Create(context.Background(), outbound.Status{UUID: uuid, DocumentID: id})
	auth := &mockAuthority{}
	svc := newService(repo, out, auth)

	err := svc.RequestCancellation(context.Background(), uuid, "finance@merlion.my", "wrong buyer details")
	require.NoError(t, err)
	assert.Equal(t, 1, auth.cancelCalls)

	doc, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusCancelled, doc.Status)

	record, _ := out.Get(context.Background(), uuid)
	assert.Equal(t, "Cancelled", record.DocStatus)
	require.NotNil(t, record.CancelledBy)
	assert.Equal(t, "finance@merlion.my", *record.CancelledBy)
	require.NotNil(t, record.CancelReason)
	assert.Equal(t, "wrong buyer details", *record.CancelReason)
}

func TestRequestCancellation_RejectedDocumentNotCancellable(t *testing.T) {
	repo := newMockStagingRepo()
	uuid := "AUTH-UUID-1"
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", Status: staging.StatusRejected, UUID: &uuid,
	}, validRow())
	out := newMockOutboundRepo()
	_ = out.Create(context.Background(), outbound.Status{UUID: uuid, DocumentID: id})
	auth := &mockAuthority{}
	svc := newService(repo, out, auth)

	err := svc.RequestCancellation(context.Background(), uuid, "ops", "reason")
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.Equal(t, 0, auth.cancelCalls)
}

func TestResubmit_CreatesNewAttemptFromTerminal(t *testing.T) {
	repo := newMockStagingRepo()
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", InvoiceNumber: "INV-1", Status: staging.StatusRejected,
	}, validRow())
	svc := newService(repo, newMockOutboundRepo(), &mockAuthority{})

	newID, err := svc.Resubmit(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	original, _ := repo.Get(context.Background(), id)
	assert.Equal(t, staging.StatusRejected, original.Status)

	clone, _ := repo.Get(context.Background(), newID)
	assert.Equal(t, staging.StatusPending, clone.Status)
	assert.Equal(t, 2, clone.AttemptNo)
	require.NotNil(t, clone.ResubmitOf)
	assert.Equal(t, id, *clone.ResubmitOf)
}

func TestResubmit_NonTerminalRejected(t *testing.T) {
	repo := newMockStagingRepo()
	id := repo.addDocument(staging.Document{
		FilePath: "/u/a.txt", Status: staging.StatusSubmitted,
	}, validRow())
	svc := newService(repo, newMockOutboundRepo(), &mockAuthority{})

	_, err := svc.Resubmit(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotResubmittable)
}

func TestStateMachine_RejectedToSubmittedForbidden(t *testing.T) {
	assert.False(t, staging.CanTransition(staging.StatusRejected, staging.StatusSubmitted))
	assert.False(t, staging.CanTransition(staging.StatusInvalid, staging.StatusSubmitted))
	assert.False(t, staging.CanTransition(staging.StatusCancelled, staging.StatusSubmitted))
	assert.True(t, staging.CanTransition(staging.StatusValid, staging.StatusCancelled))
	assert.False(t, staging.CanTransition(staging.StatusInvalid, staging.StatusCancelled))
}
