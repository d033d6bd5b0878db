// Package translate renders authority validation errors as human-readable
// diagnostics. It is pure: lookup tables and ordered pattern rules only,
// no I/O.
package translate

import (
	"fmt"
	"regexp"
	"strings"
)

// codeDescriptions maps authority error codes to short descriptions.
var codeDescriptions = map[string]string{
	"CV302":   "Invalid Code Value",
	"CV303":   "Code value not applicable for the document type",
	"CV304":   "Code list version mismatch",
	"CF321":   "Missing required field",
	"CF364":   "Invalid item classification code",
	"CF366":   "Invalid tax type code",
	"CF401":   "Total amounts do not reconcile",
	"CF404":   "Invalid currency code",
	"CF414":   "Invalid state code in address",
	"DS302":   "Document with the same invoice number already submitted",
	"DS304":   "Submission rejected: duplicated submission in progress",
	"AUTH001": "Invalid client credentials",
	"ERR03":   "Validation error",
}

// fieldLabels maps authority dot-path field identifiers to display names.
var fieldLabels = map[string]string{
	"Invoice.ID":                   "Invoice Number",
	"Invoice.IssueDate":            "Invoice Date",
	"Invoice.IssueTime":            "Invoice Time",
	"Invoice.InvoiceTypeCode":      "Document Type",
	"Invoice.DocumentCurrencyCode": "Currency",
	"Invoice.TaxExchangeRate":      "Exchange Rate",
	"Invoice.AccountingSupplierParty.Party.PostalAddress.CountrySubentityCode": "Supplier State",
	"Invoice.AccountingCustomerParty.Party.PostalAddress.CountrySubentityCode": "Buyer State",
	"Invoice.AccountingSupplierParty.Party.PartyTaxScheme.CompanyID":           "Supplier TIN",
	"Invoice.AccountingCustomerParty.Party.PartyTaxScheme.CompanyID":           "Buyer TIN",
	"Invoice.InvoiceLine.Item.CommodityClassification.ItemClassificationCode":  "Item Classification",
	"Invoice.TaxTotal.TaxAmount":                                               "Tax Amount",
	"Invoice.LegalMonetaryTotal.PayableAmount":                                 "Amount Payable",
	"Invoice.LegalMonetaryTotal.TaxExclusiveAmount":                            "Amount Excluding Tax",
	"Invoice.LegalMonetaryTotal.TaxInclusiveAmount":                            "Amount Including Tax",
}

// rule pairs a free-text matcher with a formatter. Rules are evaluated in
// declaration order; the first match wins.
type rule struct {
	pattern *regexp.Regexp
	format  func(m []string) string
}

var rules = []rule{
	{
		pattern: regexp.MustCompile(`ItemCode (\S+) does not exist in CodeType State Codes`),
		format: func(m []string) string {
			return fmt.Sprintf("The state code %q is not in the correct format. Use the two-digit state code list (for example \"14\" for Kuala Lumpur).", m[1])
		},
	},
	{
		pattern: regexp.MustCompile(`ItemCode (\S+) does not exist in CodeType Classification Codes`),
		format: func(m []string) string {
			return fmt.Sprintf("The item classification code %q is not recognized. Use a three-digit classification code (for example \"022\" for Others).", m[1])
		},
	},
	{
		// Code-type names can be multi-word ("Tax Types"); capture to the
		// end of the message, dropping a trailing period.
		pattern: regexp.MustCompile(`ItemCode (\S+) does not exist in CodeType (.+?)\.?$`),
		format: func(m []string) string {
			return fmt.Sprintf("The code %q is not a recognized value in the %s list.", m[1], m[2])
		},
	},
	{
		pattern: regexp.MustCompile(`Enter valid TIN for (Supplier|Buyer)`),
		format: func(m []string) string {
			return fmt.Sprintf("The %s TIN was not accepted. Check that it matches the registered taxpayer identification number.", strings.ToLower(m[1]))
		},
	},
	{
		pattern: regexp.MustCompile(`The total payable amount .* does not match`),
		format: func(m []string) string {
			return "The invoice totals do not add up: amount excluding tax plus tax must equal the amount payable."
		},
	},
	{
		pattern: regexp.MustCompile(`issuance date time value of the document is too old`),
		format: func(m []string) string {
			return "The invoice issue date is outside the authority's accepted submission window."
		},
	},
}

// RawError is an untranslated authority diagnostic.
type RawError struct {
	Code    string
	Path    string
	Message string
}

// Message renders a single human-readable line for the raw error, falling
// back to the raw values when nothing applies.
func Message(raw RawError) string {
	label := FieldLabel(raw.Path)

	if raw.Message != "" {
		for _, r := range rules {
			if m := r.pattern.FindStringSubmatch(raw.Message); m != nil {
				if label != "" {
					return label + ": " + r.format(m)
				}
				return r.format(m)
			}
		}
	}

	desc, ok := codeDescriptions[raw.Code]
	switch {
	case ok && label != "":
		return fmt.Sprintf("%s: %s", label, desc)
	case ok && raw.Message != "":
		return fmt.Sprintf("%s (%s)", desc, raw.Message)
	case ok:
		return desc
	}

	// No mapping applies: pass the raw error through unchanged.
	if raw.Message != "" {
		if raw.Code != "" {
			return raw.Code + ": " + raw.Message
		}
		return raw.Message
	}
	return raw.Code
}

// CodeDescription returns the short description for an authority error code,
// or the code itself when unknown.
func CodeDescription(code string) string {
	if d, ok := codeDescriptions[code]; ok {
		return d
	}
	return code
}

// FieldLabel returns the display name for an authority dot-path field
// identifier, or the empty string when unknown.
func FieldLabel(path string) string {
	if path == "" {
		return ""
	}
	if l, ok := fieldLabels[path]; ok {
		return l
	}
	// Tolerate array indices in the path, e.g. Invoice.InvoiceLine[2].Item...
	stripped := indexRe.ReplaceAllString(path, "")
	if l, ok := fieldLabels[stripped]; ok {
		return l
	}
	return ""
}

var indexRe = regexp.MustCompile(`\[\d+\]`)
