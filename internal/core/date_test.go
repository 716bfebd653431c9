package core

import (
	"errors"
	"testing"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		wantISO string
		wantErr error
	}{
		{input: "2025-03-15", wantISO: "2025-03-15"},
		{input: "2025-12-01", wantISO: "2025-12-01"},
		{input: "15-03-2025", wantErr: ErrInvalidDate},
		{input: "2025-13-01", wantErr: ErrInvalidDate},
		{input: "", wantErr: ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDate(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseDate(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if err == nil && d.ISO() != tt.wantISO {
				t.Errorf("ISO() = %q, want %q", d.ISO(), tt.wantISO)
			}
		})
	}
}

func TestMinDate(t *testing.T) {
	a := NewDate(2025, 3, 10)
	b := NewDate(2025, 2, 1)
	c := NewDate(2025, 4, 20)

	got := MinDate(a, b, c)
	if !got.Equal(b.Time) {
		t.Errorf("MinDate = %s, want %s", got.ISO(), b.ISO())
	}

	got = MinDate(Date{}, a, Date{})
	if !got.Equal(a.Time) {
		t.Errorf("MinDate with empties = %s, want %s", got.ISO(), a.ISO())
	}

	if !MinDate(Date{}, Date{}).IsEmpty() {
		t.Error("MinDate of empties should be empty")
	}
}

func TestDateISO(t *testing.T) {
	d := NewDate(2025, 1, 7)
	if d.ISO() != "2025-01-07" {
		t.Errorf("ISO() = %q, want 2025-01-07", d.ISO())
	}
}
