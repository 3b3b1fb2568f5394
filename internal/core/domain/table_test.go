package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "orders", false},
		{"with digits", "orders2024", false},
		{"with dashes", "customer-orders-v2", false},
		{"min length", "abc", false},
		{"max length", strings.Repeat("a", 63), false},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 64), true},
		{"uppercase", "My--Table", true},
		{"consecutive dashes", "my--table", true},
		{"leading dash", "-orders", true},
		{"trailing dash", "orders-", true},
		{"underscore", "my_table", true},
		{"dot", "my.table", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTableName(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTableName) {
					t.Fatalf("ValidateTableName(%q) = %v, want ErrInvalidTableName", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateTableName(%q) = %v, want nil", tt.input, err)
			}
		})
	}
}

func TestDomainErrorCodeMatching(t *testing.T) {
	err := ErrNotReady.WithDetails("table orders")

	if !errors.Is(err, ErrNotReady) {
		t.Fatal("wrapped error should match its sentinel by code")
	}
	if errors.Is(err, ErrClosed) {
		t.Fatal("distinct codes must not match")
	}
	if got := GetErrorCode(err); got != "TBM-TBL-4250" {
		t.Fatalf("GetErrorCode = %q, want TBM-TBL-4250", got)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := ErrTransport.WithCause(cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should reach the cause through Unwrap")
	}
}
