package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/merlion-labs/einvois/internal/staging"
)

// DetectChannel infers the source channel from the file name.
func DetectChannel(fileName string) staging.SourceChannel {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return staging.ChannelSpreadsheet
	default:
		return staging.ChannelFlatFile
	}
}

// readSpreadsheet extracts the first sheet of an xlsx workbook as raw rows.
func readSpreadsheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("ingest: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("ingest: read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// readFlatFile parses a delimited batch export. Legacy upstream systems emit
// Windows-1252, so the stream is transcoded before parsing. The delimiter is
// sniffed from the header line: pipe when present, comma otherwise.
func readFlatFile(r io.Reader) ([][]string, error) {
	decoded, err := io.ReadAll(transform.NewReader(r, charmap.Windows1252.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("ingest: decode flat file: %w", err)
	}

	delimiter := ','
	if idx := strings.IndexByte(string(decoded), '\n'); idx > 0 {
		if strings.ContainsRune(string(decoded[:idx]), '|') {
			delimiter = '|'
		}
	} else if strings.ContainsRune(string(decoded), '|') {
		delimiter = '|'
	}

	reader := csv.NewReader(strings.NewReader(string(decoded)))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ingest: parse flat file: %w", err)
	}
	return rows, nil
}
