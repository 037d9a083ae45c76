package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	if !IsTransient(Transient(base)) {
		t.Fatalf("transient wrap not detected")
	}
	if !IsPermanent(Permanent(base)) {
		t.Fatalf("permanent wrap not detected")
	}
	if !IsConnectivity(Connectivity(base)) {
		t.Fatalf("connectivity wrap not detected")
	}
	if !IsDecode(Decode(base)) {
		t.Fatalf("decode wrap not detected")
	}

	if IsTransient(Permanent(base)) {
		t.Fatalf("permanent misclassified as transient")
	}
	if IsPermanent(Transient(base)) {
		t.Fatalf("transient misclassified as permanent")
	}
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("apply event: %w", Transient(errors.New("store down")))
	if !IsTransient(err) {
		t.Fatalf("wrapped transient not detected")
	}
	if !errors.Is(Connectivity(fmt.Errorf("receipt: %w", ErrNotFound)), ErrNotFound) {
		t.Fatalf("sentinel lost through connectivity wrap")
	}
}

func TestNilStaysNil(t *testing.T) {
	if Transient(nil) != nil || Permanent(nil) != nil || Connectivity(nil) != nil || Decode(nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
}

func TestFailedEventExhausted(t *testing.T) {
	record := FailedEventRecord{RetryCount: 2, MaxRetries: 3}
	if record.Exhausted() {
		t.Fatalf("record below budget reported exhausted")
	}
	record.RetryCount = 3
	if !record.Exhausted() {
		t.Fatalf("record at budget not reported exhausted")
	}
}
