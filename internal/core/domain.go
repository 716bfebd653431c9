package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyName         = errors.New("empty name")
	ErrEmptyItemName     = errors.New("empty item name")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDate       = errors.New("invalid date")
	ErrUnknownMember     = errors.New("unknown member")
	ErrNoMealRecords     = errors.New("no meal records to allocate against")
	ErrArchiveKeyMissing = errors.New("archive key not found")
	ErrArchiveKeyInvalid = errors.New("invalid archive key")
	ErrClosureNotFound   = errors.New("closure not found")
)

type (
	// Member is a mess participant. Contribution is the cash paid in for the
	// period; TotalDue accumulates consumption postings until the period is
	// fully archived, at which point it is reset to zero.
	Member struct {
		ID           int64
		Name         string
		Rank         string
		Contribution decimal.Decimal
		TotalDue     decimal.Decimal
		JoinedAt     Date
	}

	// StockItem is a purchased item in the live expenses ledger.
	// Remaining must equal Quantity - Consumption at all times.
	StockItem struct {
		ID              int64
		ItemName        string
		Quantity        decimal.Decimal
		Price           decimal.Decimal
		TotalPrice      decimal.Decimal
		Consumption     decimal.Decimal
		Remaining       decimal.Decimal
		IsMiscellaneous bool
		IsDrink         bool
		Date            Date
	}

	// MealRecord is one meal eaten by one member.
	MealRecord struct {
		ID        int64
		MemberID  int64
		Date      Date
		FinalCost decimal.Decimal
	}

	// DrinkRecord is one drink consumption event.
	DrinkRecord struct {
		ID        int64
		MemberID  int64
		Date      Date
		Quantity  decimal.Decimal
		TotalCost decimal.Decimal
	}

	// MiscContribution records one member's allocated share of a
	// miscellaneous-cost distribution, weighted by meal count.
	MiscContribution struct {
		ID               int64
		MemberID         int64
		Amount           decimal.Decimal
		MealCount        int64
		DistributionDate Date
	}

	// ArchiveKey identifies a closed accounting period. Every archive mirror
	// table joins against it. Immutable after creation except for the single
	// end-date restamp during full archival.
	ArchiveKey struct {
		ID         int64
		Name       string
		StartDate  Date
		EndDate    Date
		ArchivedAt string
	}

	// MonthlyClosure is one closing event: distribution plus settlement
	// snapshot, saved before full archival.
	MonthlyClosure struct {
		ID           int64
		ClosureDate  Date
		ArchiveKeyID int64
		ExportStatus string
	}

	// ClosureSummary is the frozen per-member settlement for one closure.
	// TotalMeals and TotalDrinks hold the money value consumed, not counts.
	ClosureSummary struct {
		ClosureID         int64
		MemberID          int64
		MemberName        string
		TotalMeals        decimal.Decimal
		TotalDrinks       decimal.Decimal
		TotalMisc         decimal.Decimal
		TotalConsumption  decimal.Decimal
		TotalContribution decimal.Decimal
		RemainingCash     decimal.Decimal
	}

	// MonthlyTotals is the grand-total row persisted per archive key so
	// historical reports never re-aggregate the mirrors.
	MonthlyTotals struct {
		ArchiveKeyID       int64
		TotalMeals         decimal.Decimal
		TotalDrinks        decimal.Decimal
		TotalMisc          decimal.Decimal
		TotalConsumption   decimal.Decimal
		TotalContributions decimal.Decimal
		RemainingItems     decimal.Decimal
		RemainingCash      decimal.Decimal
	}
)

func (m Member) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrEmptyName
	}
	if m.Contribution.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func (s StockItem) Validate() error {
	if strings.TrimSpace(s.ItemName) == "" {
		return ErrEmptyItemName
	}
	if !s.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if s.Price.IsNegative() {
		return ErrInvalidPrice
	}
	return s.Date.Validate()
}

func (r MealRecord) Validate() error {
	if r.MemberID <= 0 {
		return ErrUnknownMember
	}
	if r.FinalCost.IsNegative() {
		return ErrInvalidAmount
	}
	return r.Date.Validate()
}

func (r DrinkRecord) Validate() error {
	if r.MemberID <= 0 {
		return ErrUnknownMember
	}
	if !r.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if r.TotalCost.IsNegative() {
		return ErrInvalidAmount
	}
	return r.Date.Validate()
}
