// Package codes holds the authority-published code tables used for local
// pre-validation. The authority rejects unrecognized codes with specific
// error strings, so validating here saves a submission round trip.
package codes

import "strings"

// StateCodes maps Malaysian state codes to their display names.
var StateCodes = map[string]string{
	"01": "Johor",
	"02": "Kedah",
	"03": "Kelantan",
	"04": "Melaka",
	"05": "Negeri Sembilan",
	"06": "Pahang",
	"07": "Pulau Pinang",
	"08": "Perak",
	"09": "Perlis",
	"10": "Selangor",
	"11": "Terengganu",
	"12": "Sabah",
	"13": "Sarawak",
	"14": "Wilayah Persekutuan Kuala Lumpur",
	"15": "Wilayah Persekutuan Labuan",
	"16": "Wilayah Persekutuan Putrajaya",
	"17": "Not Applicable",
}

// ClassificationCodes is the item classification table. Only the subset the
// portal's tenants actually submit is mirrored locally; the authority list is
// versioned externally.
var ClassificationCodes = map[string]string{
	"001": "Breastfeeding equipment",
	"002": "Child care centres and kindergartens fees",
	"003": "Computer, smartphone or tablet",
	"004": "Consolidated e-Invoice",
	"008": "e-Commerce - e-Invoice to buyer / purchaser",
	"010": "Education fees",
	"022": "Others",
	"024": "Private retirement scheme or deferred annuity scheme",
	"030": "Repair and maintenance",
	"035": "Self-billed - Betting and gaming",
	"045": "Self-billed - Others",
}

// TaxTypes maps authority tax type codes to descriptions.
var TaxTypes = map[string]string{
	"01": "Sales Tax",
	"02": "Service Tax",
	"03": "Tourism Tax",
	"04": "High-Value Goods Tax",
	"05": "Sales Tax on Low Value Goods",
	"06": "Not Applicable",
	"E":  "Tax exemption",
}

// DocumentTypes maps e-Invoice type codes to descriptions.
var DocumentTypes = map[string]string{
	"01": "Invoice",
	"02": "Credit Note",
	"03": "Debit Note",
	"04": "Refund Note",
	"11": "Self-billed Invoice",
	"12": "Self-billed Credit Note",
	"13": "Self-billed Debit Note",
	"14": "Self-billed Refund Note",
}

// currencies is the ISO 4217 subset accepted for submission.
var currencies = map[string]struct{}{
	"MYR": {}, "USD": {}, "SGD": {}, "EUR": {}, "GBP": {}, "JPY": {},
	"CNY": {}, "AUD": {}, "THB": {}, "IDR": {}, "INR": {}, "HKD": {},
}

// ValidState reports whether code is a recognized state code.
func ValidState(code string) bool {
	_, ok := StateCodes[code]
	return ok
}

// ValidClassification reports whether code is a recognized item classification.
func ValidClassification(code string) bool {
	_, ok := ClassificationCodes[code]
	return ok
}

// ValidTaxType reports whether code is a recognized tax type.
func ValidTaxType(code string) bool {
	_, ok := TaxTypes[strings.ToUpper(code)]
	return ok
}

// ValidDocumentType reports whether code is a recognized e-Invoice type.
func ValidDocumentType(code string) bool {
	_, ok := DocumentTypes[code]
	return ok
}

// ValidCurrency reports whether code is an accepted ISO 4217 currency.
func ValidCurrency(code string) bool {
	_, ok := currencies[strings.ToUpper(code)]
	return ok
}

// NormalizeCountry maps common spellings to ISO 3166-1 alpha-3. Unknown
// values pass through unchanged so the authority's own validation reports them.
func NormalizeCountry(raw string) string {
	v := strings.ToUpper(strings.TrimSpace(raw))
	switch v {
	case "", "MY", "MYS", "MALAYSIA":
		return "MYS"
	case "SG", "SGP", "SINGAPORE":
		return "SGP"
	case "ID", "IDN", "INDONESIA":
		return "IDN"
	case "TH", "THA", "THAILAND":
		return "THA"
	case "CN", "CHN", "CHINA":
		return "CHN"
	case "US", "USA", "UNITED STATES":
		return "USA"
	default:
		return v
	}
}
