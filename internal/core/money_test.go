package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDisplay(t *testing.T) {
	tests := []struct {
		in   decimal.Decimal
		want string
	}{
		{decimal.NewFromFloat(10), "10.00"},
		{decimal.NewFromFloat(3.333333), "3.33"},
		{decimal.NewFromFloat(3.335), "3.34"},
		{decimal.NewFromInt(-7), "-7.00"},
	}

	for _, tt := range tests {
		if got := Display(tt.in); got != tt.want {
			t.Errorf("Display(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
