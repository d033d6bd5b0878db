package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/merlion-labs/einvois/internal/staging"
)

type mockRepo struct {
	staging.Repository

	docs    map[int64]*staging.Document
	byPath  map[string]*staging.Document
	rows    []staging.FlatFileInvoice
	nextID  int64
	txCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		docs:   make(map[int64]*staging.Document),
		byPath: make(map[string]*staging.Document),
		nextID: 1,
	}
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, staging.Repository) error) error {
	m.txCalls++
	return fn(ctx, m)
}

func (m *mockRepo) CreateDocument(ctx context.Context, doc staging.Document) (int64, error) {
	if _, ok := m.byPath[doc.FilePath]; ok {
		return 0, staging.ErrDuplicateFile
	}
	id := m.nextID
	m.nextID++
	doc.ID = id
	m.docs[id] = &doc
	m.byPath[doc.FilePath] = &doc
	return id, nil
}

func (m *mockRepo) InsertFlatFileRow(ctx context.Context, row staging.FlatFileInvoice) (int64, error) {
	m.rows = append(m.rows, row)
	return int64(len(m.rows)), nil
}

func (m *mockRepo) Get(ctx context.Context, id int64) (*staging.Document, error) {
	d, ok := m.docs[id]
	if !ok {
		return nil, staging.ErrNotFound
	}
	return d, nil
}

func (m *mockRepo) GetByFilePath(ctx context.Context, filePath string) (*staging.Document, error) {
	d, ok := m.byPath[filePath]
	if !ok {
		return nil, staging.ErrNotFound
	}
	return d, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
}

const flatFileHeader = "Invoice Number|Invoice Date|Supplier Name|Supplier TIN|Buyer Name|Buyer TIN|Buyer State|Classification Code|Tax Type|Tax Rate|Tax Amount|Total Excl Tax|Total Incl Tax"

func TestIngestFile_FlatFilePipeDelimited(t *testing.T) {
	content := flatFileHeader + "\n" +
		"INV-1|2025-08-01|Supplier Bhd|C111|Buyer Bhd|C222|14|022|02|8|8.00|100.00|108.00\n" +
		"INV-2|2025-08-01|Supplier Bhd|C111|Buyer Bhd|C222|14|022|02|8|16.00|200.00|216.00\n"

	repo := newMockRepo()
	svc := NewService(repo, "C0011223344", testLogger())

	res, err := svc.IngestFile(context.Background(), "batch.txt", "/uploads/batch.txt", strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, 2, res.RowCount)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, staging.StatusPending, res.Document.Status)
	assert.Equal(t, staging.ChannelFlatFile, res.Document.Channel)
	assert.Equal(t, "INV-1", res.Document.InvoiceNumber)
	assert.InDelta(t, 324.0, res.Document.Amount, 0.001)

	require.Len(t, repo.rows, 2)
	row := repo.rows[0]
	assert.Equal(t, "MYS", row.SupplierCountry)
	assert.Equal(t, "MYR", row.CurrencyCode)
	assert.Equal(t, 1.0, row.ExchangeRate)
	assert.NotEmpty(t, row.UUID)
	assert.NotEqual(t, repo.rows[0].UUID, repo.rows[1].UUID)
}

func TestIngestFile_BlankSupplierTINDefaultsToCompany(t *testing.T) {
	content := flatFileHeader + "\n" +
		"INV-1|2025-08-01|Supplier Bhd||Buyer Bhd|C222|14|022|02|8|8.00|100.00|108.00\n"

	repo := newMockRepo()
	svc := NewService(repo, "C0011223344", testLogger())

	_, err := svc.IngestFile(context.Background(), "batch.txt", "/uploads/batch.txt", strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, repo.rows, 1)
	assert.Equal(t, "C0011223344", repo.rows[0].SupplierTIN)
}

func TestIngestFile_Windows1252Decoded(t *testing.T) {
	// 0xE9 is e-acute in Windows-1252; invalid as bare UTF-8.
	content := []byte("Invoice Number,Supplier Name,Buyer Name,Total Incl Tax\nINV-9,Caf\xe9 Trading,Buyer,108.00\n")

	repo := newMockRepo()
	svc := NewService(repo, "C0011223344", testLogger())

	res, err := svc.IngestFile(context.Background(), "legacy.csv", "/uploads/legacy.csv", bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	assert.Equal(t, "Café Trading", repo.rows[0].SupplierName)
}

func TestIngestFile_SkipsBadRowsAndWarns(t *testing.T) {
	content := flatFileHeader + "\n" +
		"INV-1|2025-08-01|S|C111|B|C222|14|022|02|8|8.00|100.00|108.00\n" +
		"|2025-08-01|S|C111|B|C222|14|022|02|8|8.00|100.00|108.00\n" +
		"INV-3|2025-08-01|S|C111|B|C222|14|022|02|8|not-a-number|100.00|108.00\n"

	repo := newMockRepo()
	svc := NewService(repo, "C0011223344", testLogger())

	res, err := svc.IngestFile(context.Background(), "batch.txt", "/uploads/batch2.txt", strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.Len(t, res.Warnings, 2)
}

func TestIngestFile_DuplicateFilePathRejected(t *testing.T) {
	content := flatFileHeader + "\n" +
		"INV-1|2025-08-01|S|C111|B|C222|14|022|02|8|8.00|100.00|108.00\n"

	repo := newMockRepo()
	svc := NewService(repo, "C0011223344", testLogger())

	_, err := svc.IngestFile(context.Background(), "batch.txt", "/uploads/same.txt", strings.NewReader(content))
	require.NoError(t, err)

	_, err = svc.IngestFile(context.Background(), "batch.txt", "/uploads/same.txt", strings.NewReader(content))
	assert.ErrorIs(t, err, staging.ErrDuplicateFile)
}

func TestIngestFile_Spreadsheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	data := [][]any{
		{"Invoice Number", "Invoice Date", "Supplier Name", "Supplier TIN", "Buyer Name", "Buyer TIN", "Currency", "Total Excl Tax", "Tax Amount", "Total Incl Tax"},
		{"INV-X1", "2025-08-20", "Supplier Bhd", "C111", "Buyer Bhd", "C222", "USD", 500, 40, 540},
	}
	for i, row := range data {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, addr, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	repo := newMockRepo()
	svc := NewService(repo, "C0011223344", testLogger())

	res, err := svc.IngestFile(context.Background(), "upload.xlsx", "/uploads/upload.xlsx", &buf)
	require.NoError(t, err)
	assert.Equal(t, staging.ChannelSpreadsheet, res.Document.Channel)
	require.Len(t, repo.rows, 1)
	assert.Equal(t, "USD", repo.rows[0].CurrencyCode)
	assert.InDelta(t, 540.0, repo.rows[0].TotalInclTax, 0.001)
}

func TestIngestFile_EmptyFileFails(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, "C0011223344", testLogger())

	_, err := svc.IngestFile(context.Background(), "empty.csv", "/uploads/empty.csv", strings.NewReader(""))
	require.Error(t, err)
}
