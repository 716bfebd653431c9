package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"messbook/internal/core"
)

// This file holds the transaction-scoped queries used by the month-end
// closing workflow. Every method takes the phase's *sql.Tx explicitly so a
// phase can never leak writes outside its own transaction.

// MealCount is the allocation weight for one member during distribution.
type MealCount struct {
	MemberID int64
	Count    int64
}

// ConsumptionTotal is a per-member grouped aggregate (count plus money value).
type ConsumptionTotal struct {
	Count int64
	Total decimal.Decimal
}

// MiscExpensesTx fetches the live expense rows flagged miscellaneous.
func (r *Repository) MiscExpensesTx(ctx context.Context, tx *sql.Tx) ([]core.StockItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT expense_id, item_name, quantity, price, total_price, consumption, remaining, is_miscellaneous, is_drink, date
		 FROM expenses WHERE is_miscellaneous = 1`)
	if err != nil {
		return nil, fmt.Errorf("query miscellaneous expenses: %w", err)
	}
	defer rows.Close()

	var items []core.StockItem
	for rows.Next() {
		s, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// MealCountsTx returns meal counts grouped by member.
func (r *Repository) MealCountsTx(ctx context.Context, tx *sql.Tx) ([]MealCount, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT member_id, COUNT(*) FROM meal_records GROUP BY member_id`)
	if err != nil {
		return nil, fmt.Errorf("query meal counts: %w", err)
	}
	defer rows.Close()

	var counts []MealCount
	for rows.Next() {
		var mc MealCount
		if err := rows.Scan(&mc.MemberID, &mc.Count); err != nil {
			return nil, fmt.Errorf("scan meal count: %w", err)
		}
		counts = append(counts, mc)
	}
	return counts, rows.Err()
}

// FirstTransactionDateTx returns the earliest date across meal records,
// drink records and expenses, or an empty Date when all three are empty.
func (r *Repository) FirstTransactionDateTx(ctx context.Context, tx *sql.Tx) (core.Date, error) {
	queries := []string{
		`SELECT MIN(date) FROM meal_records`,
		`SELECT MIN(date) FROM drink_records`,
		`SELECT MIN(date) FROM expenses`,
	}

	var dates []core.Date
	for _, q := range queries {
		var raw sql.NullString
		if err := tx.QueryRowContext(ctx, q).Scan(&raw); err != nil {
			return core.Date{}, fmt.Errorf("query first transaction date: %w", err)
		}
		if !raw.Valid {
			continue
		}
		d, err := core.ParseDate(raw.String)
		if err != nil {
			return core.Date{}, fmt.Errorf("parse transaction date %q: %w", raw.String, err)
		}
		dates = append(dates, d)
	}
	return core.MinDate(dates...), nil
}

// AddMemberDueTx increments a member's running debt by the allocated share.
func (r *Repository) AddMemberDueTx(ctx context.Context, tx *sql.Tx, memberID int64, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE members SET total_due = total_due + ? WHERE member_id = ?`,
		amount, memberID)
	if err != nil {
		return fmt.Errorf("update member due: %w", err)
	}
	return nil
}

// InsertMiscContributionTx records one member's allocated miscellaneous share.
func (r *Repository) InsertMiscContributionTx(ctx context.Context, tx *sql.Tx, c core.MiscContribution) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO miscellaneous_contributions (member_id, misc_amount, meal_count, distribution_date)
		 VALUES (?, ?, ?, ?)`,
		c.MemberID, c.Amount, c.MealCount, c.DistributionDate.ISO())
	if err != nil {
		return fmt.Errorf("insert miscellaneous contribution: %w", err)
	}
	return nil
}

// InsertArchiveKeyTx creates a brand-new archive period record. Keys are
// never merged or reused.
func (r *Repository) InsertArchiveKeyTx(ctx context.Context, tx *sql.Tx, key core.ArchiveKey) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO archive_keys (archive_name, start_date, end_date, archived_at) VALUES (?, ?, ?, ?)`,
		key.Name, key.StartDate.ISO(), key.EndDate.ISO(), key.ArchivedAt)
	if err != nil {
		return 0, fmt.Errorf("insert archive key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("archive key id: %w", err)
	}
	return id, nil
}

// ArchiveMiscExpensesTx copies the distributed miscellaneous rows into the
// expense mirror tagged with the archive key, then deletes them from the live
// table. This permanently removes them from the current-expenses view.
func (r *Repository) ArchiveMiscExpensesTx(ctx context.Context, tx *sql.Tx, ids []int64, archiveKeyID int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders, args := idList(ids)

	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO expenses_archive
		 (expense_id, item_name, quantity, price, total_price, consumption, remaining, is_miscellaneous, is_drink, date, archive_key_id)
		 SELECT expense_id, item_name, quantity, price, total_price, consumption, remaining, is_miscellaneous, is_drink, date, ?
		 FROM expenses WHERE expense_id IN (`+placeholders+`)`,
		append([]any{archiveKeyID}, args...)...)
	if err != nil {
		return fmt.Errorf("archive miscellaneous expenses: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM expenses WHERE expense_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete archived miscellaneous expenses: %w", err)
	}
	return nil
}

// ArchiveMembersTx snapshots every live member row into the member mirror.
func (r *Repository) ArchiveMembersTx(ctx context.Context, tx *sql.Tx, archiveKeyID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO members_archive (member_id, name, rank, contribution, total_due, date, archive_key_id)
		 SELECT member_id, name, rank, contribution, total_due, date, ? FROM members`,
		archiveKeyID)
	if err != nil {
		return fmt.Errorf("archive members: %w", err)
	}
	return nil
}

// MembersTx returns all members inside the snapshot transaction.
func (r *Repository) MembersTx(ctx context.Context, tx *sql.Tx) ([]core.Member, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT member_id, name, rank, contribution, total_due, date FROM members`)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MealTotalsTx returns per-member meal count and cost.
func (r *Repository) MealTotalsTx(ctx context.Context, tx *sql.Tx) (map[int64]ConsumptionTotal, error) {
	return groupedTotals(ctx, tx,
		`SELECT member_id, COUNT(*), COALESCE(SUM(final_cost), 0) FROM meal_records GROUP BY member_id`)
}

// DrinkTotalsTx returns per-member drink quantity and cost.
func (r *Repository) DrinkTotalsTx(ctx context.Context, tx *sql.Tx) (map[int64]ConsumptionTotal, error) {
	return groupedTotals(ctx, tx,
		`SELECT member_id, COALESCE(SUM(quantity), 0), COALESCE(SUM(total_cost), 0) FROM drink_records GROUP BY member_id`)
}

// MiscTotalsTx returns per-member allocated miscellaneous totals.
func (r *Repository) MiscTotalsTx(ctx context.Context, tx *sql.Tx) (map[int64]decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT member_id, COALESCE(SUM(misc_amount), 0) FROM miscellaneous_contributions GROUP BY member_id`)
	if err != nil {
		return nil, fmt.Errorf("query miscellaneous totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			id    int64
			total decimal.Decimal
		)
		if err := rows.Scan(&id, &total); err != nil {
			return nil, fmt.Errorf("scan miscellaneous total: %w", err)
		}
		totals[id] = total
	}
	return totals, rows.Err()
}

// InsertClosureTx saves the monthly closure record.
func (r *Repository) InsertClosureTx(ctx context.Context, tx *sql.Tx, closureDate core.Date, archiveKeyID int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO monthly_closures (closure_date, archive_key_id, export_status) VALUES (?, ?, 'pending')`,
		closureDate.ISO(), archiveKeyID)
	if err != nil {
		return 0, fmt.Errorf("insert monthly closure: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("closure id: %w", err)
	}
	return id, nil
}

// MemberArchivedTx reports whether a member's snapshot exists for the key.
func (r *Repository) MemberArchivedTx(ctx context.Context, tx *sql.Tx, memberID, archiveKeyID int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM members_archive WHERE member_id = ? AND archive_key_id = ?`,
		memberID, archiveKeyID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check archived member: %w", err)
	}
	return true, nil
}

// InsertClosureSummaryTx saves one member's settlement snapshot.
func (r *Repository) InsertClosureSummaryTx(ctx context.Context, tx *sql.Tx, s core.ClosureSummary) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO closure_summary
		 (closure_id, member_id, total_meals, total_drinks, total_miscellaneous, total_consumption, total_contribution, remaining_cash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ClosureID, s.MemberID, s.TotalMeals, s.TotalDrinks, s.TotalMisc,
		s.TotalConsumption, s.TotalContribution, s.RemainingCash)
	if err != nil {
		return fmt.Errorf("insert closure summary: %w", err)
	}
	return nil
}

// ArchiveKey loads archive period metadata.
func (r *Repository) ArchiveKey(ctx context.Context, id int64) (core.ArchiveKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT archive_key_id, archive_name, start_date, end_date, archived_at FROM archive_keys WHERE archive_key_id = ?`, id)
	return scanArchiveKey(row)
}

// ArchiveKeyTx is ArchiveKey inside an archival transaction.
func (r *Repository) ArchiveKeyTx(ctx context.Context, tx *sql.Tx, id int64) (core.ArchiveKey, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT archive_key_id, archive_name, start_date, end_date, archived_at FROM archive_keys WHERE archive_key_id = ?`, id)
	return scanArchiveKey(row)
}

// RemainingStockValue totals the value of unconsumed stock at current prices.
func (r *Repository) RemainingStockValue(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(remaining * price), 0) FROM expenses WHERE remaining > 0`).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query remaining stock value: %w", err)
	}
	return total, nil
}

// InsertMonthlyTotals persists the grand-total row for an archive key.
func (r *Repository) InsertMonthlyTotals(ctx context.Context, t core.MonthlyTotals) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO monthly_totals_archive
		 (archive_key_id, total_meals, total_drinks, total_misc, total_consumption, total_contributions, remaining_items, remaining_cash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ArchiveKeyID, t.TotalMeals, t.TotalDrinks, t.TotalMisc,
		t.TotalConsumption, t.TotalContributions, t.RemainingItems, t.RemainingCash)
	if err != nil {
		return fmt.Errorf("insert monthly totals: %w", err)
	}
	return nil
}

func groupedTotals(ctx context.Context, tx *sql.Tx, query string) (map[int64]ConsumptionTotal, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query grouped totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[int64]ConsumptionTotal)
	for rows.Next() {
		var (
			id    int64
			count decimal.Decimal
			total decimal.Decimal
		)
		if err := rows.Scan(&id, &count, &total); err != nil {
			return nil, fmt.Errorf("scan grouped total: %w", err)
		}
		totals[id] = ConsumptionTotal{Count: count.IntPart(), Total: total}
	}
	return totals, rows.Err()
}

func scanArchiveKey(row rowScanner) (core.ArchiveKey, error) {
	var (
		key        core.ArchiveKey
		start, end string
	)
	err := row.Scan(&key.ID, &key.Name, &start, &end, &key.ArchivedAt)
	if err == sql.ErrNoRows {
		return core.ArchiveKey{}, core.ErrArchiveKeyMissing
	}
	if err != nil {
		return core.ArchiveKey{}, fmt.Errorf("scan archive key: %w", err)
	}
	if d, err := core.ParseDate(start); err == nil {
		key.StartDate = d
	}
	if d, err := core.ParseDate(end); err == nil {
		key.EndDate = d
	}
	return key, nil
}

func idList(ids []int64) (string, []any) {
	placeholders := ""
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	return placeholders, args
}
