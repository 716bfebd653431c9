package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMemberValidate(t *testing.T) {
	tests := []struct {
		name    string
		member  Member
		wantErr error
	}{
		{
			name:   "valid member",
			member: Member{Name: "Ali", Contribution: decimal.NewFromInt(500), JoinedAt: NewDate(2025, 1, 5)},
		},
		{
			name:    "empty name",
			member:  Member{Name: "   ", Contribution: decimal.NewFromInt(500)},
			wantErr: ErrEmptyName,
		},
		{
			name:    "negative contribution",
			member:  Member{Name: "Ali", Contribution: decimal.NewFromInt(-10)},
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.member.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStockItemValidate(t *testing.T) {
	valid := StockItem{
		ItemName: "Rice",
		Quantity: decimal.NewFromInt(20),
		Price:    decimal.NewFromFloat(2.5),
		Date:     NewDate(2025, 3, 1),
	}

	tests := []struct {
		name    string
		mutate  func(s StockItem) StockItem
		wantErr error
	}{
		{name: "valid item", mutate: func(s StockItem) StockItem { return s }},
		{
			name:    "empty item name",
			mutate:  func(s StockItem) StockItem { s.ItemName = ""; return s },
			wantErr: ErrEmptyItemName,
		},
		{
			name:    "zero quantity",
			mutate:  func(s StockItem) StockItem { s.Quantity = decimal.Zero; return s },
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "negative price",
			mutate:  func(s StockItem) StockItem { s.Price = decimal.NewFromInt(-1); return s },
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "zero date",
			mutate:  func(s StockItem) StockItem { s.Date = Date{}; return s },
			wantErr: ErrInvalidDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(valid).Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMealRecordValidate(t *testing.T) {
	rec := MealRecord{MemberID: 1, Date: NewDate(2025, 3, 2), FinalCost: decimal.NewFromInt(3)}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	rec.MemberID = 0
	if err := rec.Validate(); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("Validate() = %v, want %v", err, ErrUnknownMember)
	}
}

func TestDrinkRecordValidate(t *testing.T) {
	rec := DrinkRecord{MemberID: 2, Date: NewDate(2025, 3, 2), Quantity: decimal.NewFromInt(2), TotalCost: decimal.NewFromInt(1)}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	rec.Quantity = decimal.Zero
	if err := rec.Validate(); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("Validate() = %v, want %v", err, ErrInvalidQuantity)
	}
}
