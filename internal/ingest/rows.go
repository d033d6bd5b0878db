package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/merlion-labs/einvois/internal/staging"
)

// RowWarning notes a source row that could not be parsed. Bad rows are
// skipped and reported; they never abort the batch.
type RowWarning struct {
	Row    int
	Reason string
}

func (w RowWarning) String() string {
	return fmt.Sprintf("row %d: %s", w.Row, w.Reason)
}

// header aliases tolerated in source files, lowercased.
var columnAliases = map[string]string{
	"supplier":            "supplier_name",
	"supplier name":       "supplier_name",
	"supplier tin":        "supplier_tin",
	"supplier brn":        "supplier_brn",
	"supplier msic":       "supplier_msic",
	"msic code":           "supplier_msic",
	"supplier sst":        "supplier_sst",
	"supplier address":    "supplier_address",
	"supplier city":       "supplier_city",
	"supplier state":      "supplier_state",
	"supplier country":    "supplier_country",
	"buyer":               "buyer_name",
	"buyer name":          "buyer_name",
	"buyer tin":           "buyer_tin",
	"buyer brn":           "buyer_brn",
	"buyer sst":           "buyer_sst",
	"buyer address":       "buyer_address",
	"buyer city":          "buyer_city",
	"buyer state":         "buyer_state",
	"buyer country":       "buyer_country",
	"invoice no":          "invoice_number",
	"invoice number":      "invoice_number",
	"invoice date":        "invoice_date",
	"invoice time":        "invoice_time",
	"currency":            "currency_code",
	"currency code":       "currency_code",
	"exchange rate":       "exchange_rate",
	"version":             "einvoice_version",
	"e-invoice version":   "einvoice_version",
	"type":                "einvoice_type",
	"e-invoice type":      "einvoice_type",
	"description":         "item_description",
	"item description":    "item_description",
	"classification":      "classification_code",
	"classification code": "classification_code",
	"tax type":            "tax_type",
	"tax rate":            "tax_rate",
	"tax amount":          "tax_amount",
	"total excluding tax": "total_excl_tax",
	"total excl tax":      "total_excl_tax",
	"total including tax": "total_incl_tax",
	"total incl tax":      "total_incl_tax",
}

func canonicalColumn(header string) string {
	key := strings.ToLower(strings.TrimSpace(header))
	key = strings.ReplaceAll(key, "_", " ")
	if mapped, ok := columnAliases[key]; ok {
		return mapped
	}
	return strings.ReplaceAll(key, " ", "_")
}

// parseRows turns tabular data (header row first) into flat-file invoice
// rows. Rows that cannot be parsed are collected as warnings, following
// skip-and-continue batch semantics.
func parseRows(table [][]string) ([]staging.FlatFileInvoice, []RowWarning, error) {
	if len(table) == 0 {
		return nil, nil, fmt.Errorf("ingest: source contains no rows")
	}

	index := make(map[string]int, len(table[0]))
	for i, h := range table[0] {
		index[canonicalColumn(h)] = i
	}
	if _, ok := index["invoice_number"]; !ok {
		return nil, nil, fmt.Errorf("ingest: header row is missing an invoice number column")
	}

	var (
		out      []staging.FlatFileInvoice
		warnings []RowWarning
	)
	for i, raw := range table[1:] {
		rowNum := i + 2

		cell := func(col string) string {
			idx, ok := index[col]
			if !ok || idx >= len(raw) {
				return ""
			}
			return strings.TrimSpace(raw[idx])
		}
		empty := true
		for _, v := range raw {
			if strings.TrimSpace(v) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		row := staging.FlatFileInvoice{
			UUID:               uuid.NewString(),
			SupplierName:       cell("supplier_name"),
			SupplierTIN:        cell("supplier_tin"),
			SupplierBRN:        cell("supplier_brn"),
			SupplierMSIC:       cell("supplier_msic"),
			SupplierSST:        cell("supplier_sst"),
			SupplierAddress:    cell("supplier_address"),
			SupplierCity:       cell("supplier_city"),
			SupplierState:      cell("supplier_state"),
			SupplierCountry:    defaultString(cell("supplier_country"), staging.DefaultCountry),
			BuyerName:          cell("buyer_name"),
			BuyerTIN:           cell("buyer_tin"),
			BuyerBRN:           cell("buyer_brn"),
			BuyerSST:           cell("buyer_sst"),
			BuyerAddress:       cell("buyer_address"),
			BuyerCity:          cell("buyer_city"),
			BuyerState:         cell("buyer_state"),
			BuyerCountry:       defaultString(cell("buyer_country"), staging.DefaultCountry),
			InvoiceNumber:      cell("invoice_number"),
			InvoiceDate:        cell("invoice_date"),
			InvoiceTime:        cell("invoice_time"),
			CurrencyCode:       defaultString(cell("currency_code"), staging.DefaultCurrency),
			EInvoiceVersion:    cell("einvoice_version"),
			EInvoiceType:       cell("einvoice_type"),
			ItemDescription:    cell("item_description"),
			ClassificationCode: cell("classification_code"),
			TaxType:            cell("tax_type"),
		}
		if row.InvoiceNumber == "" {
			warnings = append(warnings, RowWarning{Row: rowNum, Reason: "missing invoice number"})
			continue
		}

		var badNumber bool
		row.ExchangeRate, badNumber = parseAmount(cell("exchange_rate"), staging.DefaultExchangeRate, &warnings, rowNum, "exchange rate")
		if badNumber {
			continue
		}
		row.TaxRate, badNumber = parseAmount(cell("tax_rate"), 0, &warnings, rowNum, "tax rate")
		if badNumber {
			continue
		}
		row.TaxAmount, badNumber = parseAmount(cell("tax_amount"), 0, &warnings, rowNum, "tax amount")
		if badNumber {
			continue
		}
		row.TotalExclTax, badNumber = parseAmount(cell("total_excl_tax"), 0, &warnings, rowNum, "total excluding tax")
		if badNumber {
			continue
		}
		row.TotalInclTax, badNumber = parseAmount(cell("total_incl_tax"), 0, &warnings, rowNum, "total including tax")
		if badNumber {
			continue
		}

		out = append(out, row)
	}
	return out, warnings, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// parseAmount parses a numeric cell, tolerating thousands separators. The
// second return is true when the cell was present but unparseable.
func parseAmount(v string, fallback float64, warnings *[]RowWarning, rowNum int, label string) (float64, bool) {
	if v == "" {
		return fallback, false
	}
	cleaned := strings.ReplaceAll(strings.ReplaceAll(v, ",", ""), " ", "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		*warnings = append(*warnings, RowWarning{Row: rowNum, Reason: "unparseable " + label + " " + strconv.Quote(v)})
		return 0, true
	}
	return f, false
}
