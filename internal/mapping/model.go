package mapping

// Invoice is the canonical document representation submitted to the
// authority, flattened from a raw flat-file or spreadsheet row.
type Invoice struct {
	Version      string  `json:"eInvoiceVersion"`
	TypeCode     string  `json:"eInvoiceTypeCode"`
	CodeNumber   string  `json:"eInvoiceCodeOrNumber"`
	IssueDate    string  `json:"eInvoiceDate"`
	IssueTime    string  `json:"eInvoiceTime"`
	CurrencyCode string  `json:"invoiceCurrencyCode"`
	ExchangeRate float64 `json:"currencyExchangeRate"`

	Supplier Party `json:"supplier"`
	Buyer    Party `json:"buyer"`

	Lines []Line `json:"invoiceLineItems"`

	TotalExcludingTax float64 `json:"totalExcludingTax"`
	TotalIncludingTax float64 `json:"totalIncludingTax"`
	TotalPayable      float64 `json:"totalPayableAmount"`
	TotalTaxAmount    float64 `json:"totalTaxAmount"`
}

// Party is the supplier or buyer identity block.
type Party struct {
	Name        string `json:"name"`
	TIN         string `json:"tin"`
	BRN         string `json:"brn,omitempty"`
	SSTNo       string `json:"sstRegistrationNumber,omitempty"`
	MSICCode    string `json:"msicCode,omitempty"`
	Address     string `json:"address"`
	City        string `json:"city,omitempty"`
	StateCode   string `json:"stateCode"`
	CountryCode string `json:"countryCode"`
}

// Line is a single invoice line item.
type Line struct {
	Description        string  `json:"description"`
	ClassificationCode string  `json:"classificationCode"`
	TaxType            string  `json:"taxType"`
	TaxRate            float64 `json:"taxRate"`
	TaxAmount          float64 `json:"taxAmount"`
	Subtotal           float64 `json:"subtotal"`
	TotalExcludingTax  float64 `json:"totalExcludingTax"`
}
