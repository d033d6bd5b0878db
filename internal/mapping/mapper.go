// Package mapping converts raw invoice rows into the authority's canonical
// document representation, validating before any network round trip.
package mapping

import (
	"fmt"
	"math"
	"strings"

	"github.com/merlion-labs/einvois/internal/codes"
	"github.com/merlion-labs/einvois/internal/pipeline"
	"github.com/merlion-labs/einvois/internal/staging"
)

// TotalsTolerance absorbs rounding differences in the tax arithmetic check.
const TotalsTolerance = 0.01

// DefaultVersion is assumed when the source omits the e-Invoice version.
const DefaultVersion = "1.0"

// MapToCanonical converts one flat-file row into the canonical invoice. It
// does not partially apply: either the row fully maps, or every field problem
// is collected into a single ValidationError so the caller can show the user
// all of them at once.
func MapToCanonical(row staging.FlatFileInvoice) (*Invoice, error) {
	var fields []pipeline.FieldError

	fail := func(field, reason string) {
		fields = append(fields, pipeline.FieldError{Field: field, Reason: reason})
	}
	require := func(field, value string) string {
		v := strings.TrimSpace(value)
		if v == "" {
			fail(field, "required field is missing")
		}
		return v
	}

	supplierName := require("supplier_name", row.SupplierName)
	supplierTIN := require("supplier_tin", row.SupplierTIN)
	buyerName := require("buyer_name", row.BuyerName)
	buyerTIN := require("buyer_tin", row.BuyerTIN)
	invoiceNumber := require("invoice_number", row.InvoiceNumber)
	invoiceDate := require("invoice_date", row.InvoiceDate)

	if row.TotalExclTax <= 0 {
		fail("total_excl_tax", "total excluding tax must be greater than zero")
	}
	if row.TotalInclTax <= 0 {
		fail("total_incl_tax", "total including tax must be greater than zero")
	}
	if diff := math.Abs(row.TotalExclTax + row.TaxAmount - row.TotalInclTax); diff > TotalsTolerance {
		fail("total_incl_tax", fmt.Sprintf(
			"totals do not reconcile: %.2f + %.2f tax differs from %.2f by %.2f",
			row.TotalExclTax, row.TaxAmount, row.TotalInclTax, diff))
	}

	currency := strings.ToUpper(strings.TrimSpace(row.CurrencyCode))
	if currency == "" {
		currency = staging.DefaultCurrency
	}
	if !codes.ValidCurrency(currency) {
		fail("currency_code", fmt.Sprintf("unrecognized currency code %q", currency))
	}
	rate := row.ExchangeRate
	if rate == 0 {
		rate = staging.DefaultExchangeRate
	}
	if rate < 0 {
		fail("exchange_rate", "exchange rate must be positive")
	}

	docType := strings.TrimSpace(row.EInvoiceType)
	if docType == "" {
		docType = "01"
	}
	if !codes.ValidDocumentType(docType) {
		fail("einvoice_type", fmt.Sprintf("unrecognized document type code %q", docType))
	}

	version := strings.TrimSpace(row.EInvoiceVersion)
	if version == "" {
		version = DefaultVersion
	}

	// Code-table pre-validation: the authority rejects unknown codes with
	// specific error strings, so short-circuit known-bad values locally.
	supplierState := strings.TrimSpace(row.SupplierState)
	if supplierState != "" && !codes.ValidState(supplierState) {
		fail("supplier_state", fmt.Sprintf("unrecognized state code %q", supplierState))
	}
	buyerState := strings.TrimSpace(row.BuyerState)
	if buyerState != "" && !codes.ValidState(buyerState) {
		fail("buyer_state", fmt.Sprintf("unrecognized state code %q", buyerState))
	}
	classification := strings.TrimSpace(row.ClassificationCode)
	if classification == "" {
		fail("classification_code", "required field is missing")
	} else if !codes.ValidClassification(classification) {
		fail("classification_code", fmt.Sprintf("unrecognized item classification code %q", classification))
	}
	taxType := strings.TrimSpace(row.TaxType)
	if taxType == "" {
		taxType = "06"
	}
	if !codes.ValidTaxType(taxType) {
		fail("tax_type", fmt.Sprintf("unrecognized tax type code %q", taxType))
	}
	if row.TaxRate < 0 || row.TaxRate > 100 {
		fail("tax_rate", "tax rate must be between 0 and 100")
	}

	if len(fields) > 0 {
		return nil, &pipeline.ValidationError{Fields: fields}
	}

	inv := &Invoice{
		Version:      version,
		TypeCode:     docType,
		CodeNumber:   invoiceNumber,
		IssueDate:    invoiceDate,
		IssueTime:    strings.TrimSpace(row.InvoiceTime),
		CurrencyCode: currency,
		ExchangeRate: rate,
		Supplier: Party{
			Name:        supplierName,
			TIN:         supplierTIN,
			BRN:         strings.TrimSpace(row.SupplierBRN),
			SSTNo:       strings.TrimSpace(row.SupplierSST),
			MSICCode:    strings.TrimSpace(row.SupplierMSIC),
			Address:     strings.TrimSpace(row.SupplierAddress),
			City:        strings.TrimSpace(row.SupplierCity),
			StateCode:   supplierState,
			CountryCode: codes.NormalizeCountry(row.SupplierCountry),
		},
		Buyer: Party{
			Name:        buyerName,
			TIN:         buyerTIN,
			BRN:         strings.TrimSpace(row.BuyerBRN),
			SSTNo:       strings.TrimSpace(row.BuyerSST),
			Address:     strings.TrimSpace(row.BuyerAddress),
			City:        strings.TrimSpace(row.BuyerCity),
			StateCode:   buyerState,
			CountryCode: codes.NormalizeCountry(row.BuyerCountry),
		},
		Lines: []Line{{
			Description:        strings.TrimSpace(row.ItemDescription),
			ClassificationCode: classification,
			TaxType:            taxType,
			TaxRate:            row.TaxRate,
			TaxAmount:          round2(row.TaxAmount),
			Subtotal:           round2(row.TotalExclTax),
			TotalExcludingTax:  round2(row.TotalExclTax),
		}},
		TotalExcludingTax: round2(row.TotalExclTax),
		TotalIncludingTax: round2(row.TotalInclTax),
		TotalPayable:      round2(row.TotalInclTax),
		TotalTaxAmount:    round2(row.TaxAmount),
	}
	return inv, nil
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
