package translate

import (
	"strings"
	"testing"
)

func TestMessage_CodeLookup(t *testing.T) {
	got := Message(RawError{Code: "CV302"})
	if got != "Invalid Code Value" {
		t.Fatalf("unexpected translation: %q", got)
	}
}

func TestMessage_StateCodePattern(t *testing.T) {
	got := Message(RawError{
		Code:    "CV302",
		Message: "ItemCode ABC123 does not exist in CodeType State Codes",
	})
	if !strings.Contains(got, `"ABC123"`) {
		t.Fatalf("expected translated message to quote the state code, got %q", got)
	}
	if strings.Contains(got, "CodeType") {
		t.Fatalf("raw technical string leaked through: %q", got)
	}
}

func TestMessage_PatternOrderIsDeterministic(t *testing.T) {
	// The specific State Codes rule must win over the generic CodeType rule.
	msg := "ItemCode 99 does not exist in CodeType State Codes"
	got := Message(RawError{Message: msg})
	if !strings.Contains(got, "state code") {
		t.Fatalf("expected the state-code rule to match first, got %q", got)
	}
	for i := 0; i < 50; i++ {
		if again := Message(RawError{Message: msg}); again != got {
			t.Fatalf("translation not deterministic: %q vs %q", got, again)
		}
	}
}

func TestMessage_GenericCodeTypePattern(t *testing.T) {
	got := Message(RawError{Message: "ItemCode ZZ does not exist in CodeType Tax Types"})
	if !strings.Contains(got, `"ZZ"`) || !strings.Contains(got, "Tax Types") {
		t.Fatalf("unexpected generic translation: %q", got)
	}
}

func TestMessage_GenericCodeTypeMultiWordTrailingPeriod(t *testing.T) {
	got := Message(RawError{Message: "ItemCode X1 does not exist in CodeType Unit Of Measure Codes."})
	if !strings.Contains(got, "Unit Of Measure Codes list") {
		t.Fatalf("multi-word code type not captured in full: %q", got)
	}
	if strings.Contains(got, "Codes.") {
		t.Fatalf("trailing period leaked into the code type name: %q", got)
	}
}

func TestMessage_FieldLabelApplied(t *testing.T) {
	got := Message(RawError{
		Code: "CF321",
		Path: "Invoice.AccountingCustomerParty.Party.PartyTaxScheme.CompanyID",
	})
	if !strings.Contains(got, "Buyer TIN") {
		t.Fatalf("expected field label in translation, got %q", got)
	}
}

func TestMessage_IndexedPathResolves(t *testing.T) {
	label := FieldLabel("Invoice.InvoiceLine[3].Item.CommodityClassification.ItemClassificationCode")
	if label != "Item Classification" {
		t.Fatalf("expected indexed path to resolve, got %q", label)
	}
}

func TestMessage_FallbackPassthrough(t *testing.T) {
	got := Message(RawError{Code: "XX999", Message: "something unmapped happened"})
	if got != "XX999: something unmapped happened" {
		t.Fatalf("expected raw passthrough, got %q", got)
	}
	if got := Message(RawError{Code: "XX999"}); got != "XX999" {
		t.Fatalf("expected bare code passthrough, got %q", got)
	}
}

func TestCodeDescription_Unknown(t *testing.T) {
	if got := CodeDescription("NOPE"); got != "NOPE" {
		t.Fatalf("unknown code should pass through, got %q", got)
	}
}
