package models

import (
	"bytes"
	"testing"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     PaymentStatus
		to       PaymentStatus
		expected bool
	}{
		// Happy path
		{PaymentStatusNone, PaymentStatusPending, true},
		{PaymentStatusPending, PaymentStatusReleased, true},
		{PaymentStatusPending, PaymentStatusRefunded, true},

		// One-way, terminal
		{PaymentStatusReleased, PaymentStatusPending, false},
		{PaymentStatusReleased, PaymentStatusRefunded, false},
		{PaymentStatusRefunded, PaymentStatusPending, false},
		{PaymentStatusRefunded, PaymentStatusReleased, false},
		{PaymentStatusPending, PaymentStatusNone, false},
		{PaymentStatusNone, PaymentStatusReleased, false},
		{PaymentStatusNone, PaymentStatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%v, %v) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []PaymentStatus{PaymentStatusReleased, PaymentStatusRefunded}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Errorf("status %v should be terminal", status)
		}
		if transitions := ValidPaymentTransitions[status]; len(transitions) != 0 {
			t.Errorf("terminal status %v should have no transitions, got %v", status, transitions)
		}
	}
}

func TestEncodeOrderID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := EncodeOrderID("order-123")
		b := EncodeOrderID("order-123")
		if a != b {
			t.Errorf("EncodeOrderID is not deterministic: %x vs %x", a, b)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		ids := []string{"a", "order-123", "ride:2026-08-31:42", "0123456789012345678901234567890"}
		for _, id := range ids {
			if got := DecodeOrderID(EncodeOrderID(id)); got != id {
				t.Errorf("DecodeOrderID(EncodeOrderID(%q)) = %q", id, got)
			}
		}
	})

	t.Run("zero padded", func(t *testing.T) {
		key := EncodeOrderID("abc")
		if !bytes.Equal(key[3:], make([]byte, 29)) {
			t.Errorf("expected zero padding, got %x", key)
		}
	})

	t.Run("truncates past 32 bytes", func(t *testing.T) {
		long := "0123456789012345678901234567890123456789"
		key := EncodeOrderID(long)
		if got := DecodeOrderID(key); got != long[:32] {
			t.Errorf("expected %q, got %q", long[:32], got)
		}
	})
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"whole with decimals", "10.00", 6, "10000000", false},
		{"fraction", "12.50", 6, "12500000", false},
		{"integer only", "5", 6, "5000000", false},
		{"leading dot", ".5", 6, "500000", false},
		{"full precision", "0.000001", 6, "1", false},
		{"eighteen decimals", "1.5", 18, "1500000000000000000", false},
		{"whitespace trimmed", " 3.25 ", 6, "3250000", false},
		{"empty", "", 6, "", true},
		{"spaces only", "   ", 6, "", true},
		{"zero", "0", 6, "", true},
		{"zero with fraction", "0.000", 6, "", true},
		{"negative", "-1.00", 6, "", true},
		{"not a number", "abc", 6, "", true},
		{"mixed garbage", "12.5x", 6, "", true},
		{"two dots", "1.2.3", 6, "", true},
		{"excess precision", "1.1234567", 6, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.amount, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q, %d) expected error, got %v", tt.amount, tt.decimals, got)
				}
				if KindOf(err) != FailInvalidAmount {
					t.Errorf("expected invalid_amount failure, got %v", KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q, %d) unexpected error: %v", tt.amount, tt.decimals, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseAmount(%q, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}
