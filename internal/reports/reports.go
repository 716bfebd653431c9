// Package reports provides the read-only query surface over the live ledger
// and the archive mirrors, plus the closure report assembly consumed by the
// export writers.
package reports

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"messbook/internal/core"
	"messbook/internal/export"
	"messbook/internal/storage"
)

type Service struct {
	repo *storage.Repository
}

func NewService(repo *storage.Repository) *Service {
	return &Service{repo: repo}
}

// MealEntry is one meal record joined with the member's name.
type MealEntry struct {
	core.MealRecord
	MemberName string
}

// DrinkEntry is one drink record joined with the member's name.
type DrinkEntry struct {
	core.DrinkRecord
	MemberName string
}

// Expenses lists live stock items matching the filter.
func (s *Service) Expenses(ctx context.Context, f Filter) ([]core.StockItem, error) {
	where, args := f.whereClause("date", "")
	rows, err := s.repo.DB().QueryContext(ctx,
		`SELECT expense_id, item_name, quantity, price, total_price, consumption, remaining, is_miscellaneous, is_drink, date
		 FROM expenses`+where+` ORDER BY date, expense_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses report: %w", err)
	}
	defer rows.Close()

	var items []core.StockItem
	for rows.Next() {
		var (
			item core.StockItem
			date string
		)
		if err := rows.Scan(&item.ID, &item.ItemName, &item.Quantity, &item.Price, &item.TotalPrice,
			&item.Consumption, &item.Remaining, &item.IsMiscellaneous, &item.IsDrink, &date); err != nil {
			return nil, fmt.Errorf("scan expense row: %w", err)
		}
		if d, err := core.ParseDate(date); err == nil {
			item.Date = d
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Meals lists live meal records matching the filter, with member names.
func (s *Service) Meals(ctx context.Context, f Filter) ([]MealEntry, error) {
	where, args := f.whereClause("mr.date", "mr.member_id")
	rows, err := s.repo.DB().QueryContext(ctx,
		`SELECT mr.meal_record_id, mr.member_id, mr.date, mr.final_cost, m.name
		 FROM meal_records mr JOIN members m ON m.member_id = mr.member_id`+where+
			` ORDER BY mr.date, mr.meal_record_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query meals report: %w", err)
	}
	defer rows.Close()

	var entries []MealEntry
	for rows.Next() {
		var (
			e    MealEntry
			date string
		)
		if err := rows.Scan(&e.ID, &e.MemberID, &date, &e.FinalCost, &e.MemberName); err != nil {
			return nil, fmt.Errorf("scan meal row: %w", err)
		}
		if d, err := core.ParseDate(date); err == nil {
			e.Date = d
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Drinks lists live drink records matching the filter, with member names.
func (s *Service) Drinks(ctx context.Context, f Filter) ([]DrinkEntry, error) {
	where, args := f.whereClause("dr.date", "dr.member_id")
	rows, err := s.repo.DB().QueryContext(ctx,
		`SELECT dr.drink_record_id, dr.member_id, dr.date, dr.quantity, dr.total_cost, m.name
		 FROM drink_records dr JOIN members m ON m.member_id = dr.member_id`+where+
			` ORDER BY dr.date, dr.drink_record_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query drinks report: %w", err)
	}
	defer rows.Close()

	var entries []DrinkEntry
	for rows.Next() {
		var (
			e    DrinkEntry
			date string
		)
		if err := rows.Scan(&e.ID, &e.MemberID, &date, &e.Quantity, &e.TotalCost, &e.MemberName); err != nil {
			return nil, fmt.Errorf("scan drink row: %w", err)
		}
		if d, err := core.ParseDate(date); err == nil {
			e.Date = d
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemainingStock returns the unconsumed stock rows and their total value
// priced at unit price.
func (s *Service) RemainingStock(ctx context.Context) ([]core.StockItem, decimal.Decimal, error) {
	items, err := s.Expenses(ctx, Filter{})
	if err != nil {
		return nil, decimal.Zero, err
	}

	var (
		remaining []core.StockItem
		total     decimal.Decimal
	)
	for _, item := range items {
		if item.Remaining.IsPositive() {
			remaining = append(remaining, item)
			total = total.Add(item.Remaining.Mul(item.Price))
		}
	}
	return remaining, total, nil
}

// ArchiveKeys lists all closed periods, newest first.
func (s *Service) ArchiveKeys(ctx context.Context) ([]core.ArchiveKey, error) {
	rows, err := s.repo.DB().QueryContext(ctx,
		`SELECT archive_key_id, archive_name, start_date, end_date, archived_at
		 FROM archive_keys ORDER BY archive_key_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query archive keys: %w", err)
	}
	defer rows.Close()

	var keys []core.ArchiveKey
	for rows.Next() {
		var (
			key        core.ArchiveKey
			start, end string
		)
		if err := rows.Scan(&key.ID, &key.Name, &start, &end, &key.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan archive key: %w", err)
		}
		if d, err := core.ParseDate(start); err == nil {
			key.StartDate = d
		}
		if d, err := core.ParseDate(end); err == nil {
			key.EndDate = d
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ClosureSummaries returns the live settlement snapshot for one closure with
// member names resolved against the live roster.
func (s *Service) ClosureSummaries(ctx context.Context, closureID int64) ([]core.ClosureSummary, error) {
	return s.querySummaries(ctx,
		`SELECT s.closure_id, s.member_id, m.name, s.total_meals, s.total_drinks, s.total_miscellaneous,
		        s.total_consumption, s.total_contribution, s.remaining_cash
		 FROM closure_summary s JOIN members m ON m.member_id = s.member_id
		 WHERE s.closure_id = ?`, closureID)
}

// ArchivedSummaries returns the archived settlement snapshot for one period,
// with names resolved against the member archive so renamed or removed
// members still report correctly.
func (s *Service) ArchivedSummaries(ctx context.Context, archiveKeyID int64) ([]core.ClosureSummary, error) {
	return s.querySummaries(ctx,
		`SELECT s.closure_id, s.member_id, ma.name, s.total_meals, s.total_drinks, s.total_miscellaneous,
		        s.total_consumption, s.total_contribution, s.remaining_cash
		 FROM closure_summary_archive s
		 JOIN members_archive ma ON ma.member_id = s.member_id AND ma.archive_key_id = s.archive_key_id
		 WHERE s.archive_key_id = ?`, archiveKeyID)
}

func (s *Service) querySummaries(ctx context.Context, query string, arg any) ([]core.ClosureSummary, error) {
	rows, err := s.repo.DB().QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query closure summaries: %w", err)
	}
	defer rows.Close()

	var summaries []core.ClosureSummary
	for rows.Next() {
		var cs core.ClosureSummary
		if err := rows.Scan(&cs.ClosureID, &cs.MemberID, &cs.MemberName, &cs.TotalMeals, &cs.TotalDrinks,
			&cs.TotalMisc, &cs.TotalConsumption, &cs.TotalContribution, &cs.RemainingCash); err != nil {
			return nil, fmt.Errorf("scan closure summary: %w", err)
		}
		summaries = append(summaries, cs)
	}
	return summaries, rows.Err()
}

// ArchivedTotals returns the persisted grand-total row for one period.
func (s *Service) ArchivedTotals(ctx context.Context, archiveKeyID int64) (core.MonthlyTotals, error) {
	var t core.MonthlyTotals
	err := s.repo.DB().QueryRowContext(ctx,
		`SELECT archive_key_id, total_meals, total_drinks, total_misc, total_consumption,
		        total_contributions, remaining_items, remaining_cash
		 FROM monthly_totals_archive WHERE archive_key_id = ?`, archiveKeyID).
		Scan(&t.ArchiveKeyID, &t.TotalMeals, &t.TotalDrinks, &t.TotalMisc, &t.TotalConsumption,
			&t.TotalContributions, &t.RemainingItems, &t.RemainingCash)
	if err == sql.ErrNoRows {
		return core.MonthlyTotals{}, core.ErrArchiveKeyMissing
	}
	if err != nil {
		return core.MonthlyTotals{}, fmt.Errorf("query monthly totals: %w", err)
	}
	return t, nil
}

// ClosureReport assembles the three-sheet settlement report for one closure:
// period info, per-member summary and grand totals.
func (s *Service) ClosureReport(ctx context.Context, closureID int64) (export.Report, error) {
	closure, err := s.repo.Closure(ctx, closureID)
	if err != nil {
		return export.Report{}, err
	}
	key, err := s.repo.ArchiveKey(ctx, closure.ArchiveKeyID)
	if err != nil {
		return export.Report{}, err
	}

	summaries, err := s.ClosureSummaries(ctx, closureID)
	if err != nil {
		return export.Report{}, err
	}
	if len(summaries) == 0 {
		// Already fully archived: fall back to the mirror.
		summaries, err = s.ArchivedSummaries(ctx, closure.ArchiveKeyID)
		if err != nil {
			return export.Report{}, err
		}
	}

	_, remainingItems, err := s.RemainingStock(ctx)
	if err != nil {
		return export.Report{}, err
	}

	var totals core.MonthlyTotals
	for _, cs := range summaries {
		totals.TotalMeals = totals.TotalMeals.Add(cs.TotalMeals)
		totals.TotalDrinks = totals.TotalDrinks.Add(cs.TotalDrinks)
		totals.TotalMisc = totals.TotalMisc.Add(cs.TotalMisc)
		totals.TotalConsumption = totals.TotalConsumption.Add(cs.TotalConsumption)
		totals.TotalContributions = totals.TotalContributions.Add(cs.TotalContribution)
	}
	totals.RemainingItems = remainingItems
	totals.RemainingCash = totals.TotalContributions.Sub(totals.TotalConsumption.Add(remainingItems))

	info := export.Table{
		Name:    "Info",
		Headers: []string{"Field", "Value"},
		Rows: [][]string{
			{"Closure date", closure.ClosureDate.ISO()},
			{"Report period", fmt.Sprintf("%s to %s", key.StartDate.ISO(), key.EndDate.ISO())},
			{"Members", strconv.Itoa(len(summaries))},
		},
	}

	summaryTable := export.Table{
		Name:    "Member Summary",
		Headers: []string{"Name", "Meals", "Drinks", "Miscellaneous", "Consumption", "Contribution", "Remaining"},
	}
	for _, cs := range summaries {
		summaryTable.Rows = append(summaryTable.Rows, []string{
			cs.MemberName,
			core.Display(cs.TotalMeals),
			core.Display(cs.TotalDrinks),
			core.Display(cs.TotalMisc),
			core.Display(cs.TotalConsumption),
			core.Display(cs.TotalContribution),
			core.Display(cs.RemainingCash),
		})
	}

	totalsTable := export.Table{
		Name:    "Totals",
		Headers: []string{"Meals", "Drinks", "Miscellaneous", "Consumption", "Remaining Items", "Contributions", "Remaining Cash"},
		Rows: [][]string{{
			core.Display(totals.TotalMeals),
			core.Display(totals.TotalDrinks),
			core.Display(totals.TotalMisc),
			core.Display(totals.TotalConsumption),
			core.Display(totals.RemainingItems),
			core.Display(totals.TotalContributions),
			core.Display(totals.RemainingCash),
		}},
	}

	return export.Report{
		Stem:   fmt.Sprintf("monthly_closure_%d", closureID),
		Tables: []export.Table{info, summaryTable, totalsTable},
	}, nil
}
