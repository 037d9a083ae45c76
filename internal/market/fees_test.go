package market

import "testing"

func TestSplitAmountWei(t *testing.T) {
	fee, seller, err := SplitAmount("1000000000000000000", 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee != "25000000000000000" {
		t.Fatalf("fee mismatch: %s", fee)
	}
	if seller != "975000000000000000" {
		t.Fatalf("seller payment mismatch: %s", seller)
	}
}

func TestSplitAmountDecimal(t *testing.T) {
	fee, seller, err := SplitAmount("1.5", 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee != "0.0375" {
		t.Fatalf("fee mismatch: %s", fee)
	}
	if seller != "1.4625" {
		t.Fatalf("seller payment mismatch: %s", seller)
	}
}

func TestSplitAmountZeroFee(t *testing.T) {
	fee, seller, err := SplitAmount("42", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee != "0" || seller != "42" {
		t.Fatalf("zero fee split mismatch: %s / %s", fee, seller)
	}
}

func TestSplitAmountInvalid(t *testing.T) {
	if _, _, err := SplitAmount("not-a-number", 250); err == nil {
		t.Fatalf("expected error for invalid amount")
	}
	if _, _, err := SplitAmount("-1", 250); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	if _, _, err := SplitAmount("1", 10001); err == nil {
		t.Fatalf("expected error for fee above 100%%")
	}
}
