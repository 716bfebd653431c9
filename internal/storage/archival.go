package storage

import (
	"context"
	"database/sql"
	"fmt"

	"messbook/internal/core"
)

// Full archival moves a closed period's records into the archive mirrors and
// resets the live tables for the next period. All methods here run inside the
// single archival transaction.

// ArchiveMealRecordsTx copies meal records within the period into the mirror.
func (r *Repository) ArchiveMealRecordsTx(ctx context.Context, tx *sql.Tx, key core.ArchiveKey) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meal_records_archive (meal_record_id, member_id, date, final_cost, archive_key_id)
		 SELECT meal_record_id, member_id, date, final_cost, ? FROM meal_records
		 WHERE date BETWEEN ? AND ?`,
		key.ID, key.StartDate.ISO(), key.EndDate.ISO())
	if err != nil {
		return fmt.Errorf("archive meal records: %w", err)
	}
	return nil
}

// ArchiveDrinkRecordsTx copies drink records within the period into the mirror.
func (r *Repository) ArchiveDrinkRecordsTx(ctx context.Context, tx *sql.Tx, key core.ArchiveKey) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO drink_records_archive (drink_record_id, member_id, date, quantity, total_cost, archive_key_id)
		 SELECT drink_record_id, member_id, date, quantity, total_cost, ? FROM drink_records
		 WHERE date BETWEEN ? AND ?`,
		key.ID, key.StartDate.ISO(), key.EndDate.ISO())
	if err != nil {
		return fmt.Errorf("archive drink records: %w", err)
	}
	return nil
}

// ArchiveMiscContributionsTx copies distribution allocations within the period
// into the mirror.
func (r *Repository) ArchiveMiscContributionsTx(ctx context.Context, tx *sql.Tx, key core.ArchiveKey) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO miscellaneous_contributions_archive
		 (contribution_id, member_id, misc_amount, meal_count, distribution_date, archive_key_id)
		 SELECT contribution_id, member_id, misc_amount, meal_count, distribution_date, ? FROM miscellaneous_contributions
		 WHERE distribution_date BETWEEN ? AND ?`,
		key.ID, key.StartDate.ISO(), key.EndDate.ISO())
	if err != nil {
		return fmt.Errorf("archive miscellaneous contributions: %w", err)
	}
	return nil
}

// ArchiveConsumedStockTx records the consumed portion of each stock item as an
// archive row. The archived quantity is the consumed amount and the archived
// total is priced at the consumed amount; the archive row's date is the
// closure date.
func (r *Repository) ArchiveConsumedStockTx(ctx context.Context, tx *sql.Tx, key core.ArchiveKey, closureDate core.Date) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO expenses_archive
		 (expense_id, item_name, quantity, price, total_price, consumption, remaining, is_miscellaneous, is_drink, date, archive_key_id)
		 SELECT expense_id, item_name, consumption, price, consumption * price, 0, remaining, is_miscellaneous, is_drink, ?, ?
		 FROM expenses
		 WHERE consumption > 0 AND date BETWEEN ? AND ?`,
		closureDate.ISO(), key.ID, key.StartDate.ISO(), key.EndDate.ISO())
	if err != nil {
		return fmt.Errorf("archive consumed stock: %w", err)
	}
	return nil
}

// ResetStockTx carries unconsumed stock into the new period: the remaining
// amount becomes the new quantity, consumption restarts at zero and the rows
// are re-dated to the closure date.
func (r *Repository) ResetStockTx(ctx context.Context, tx *sql.Tx, key core.ArchiveKey, closureDate core.Date) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE expenses
		 SET quantity = remaining, consumption = 0, total_price = remaining * price, date = ?
		 WHERE date BETWEEN ? AND ?`,
		closureDate.ISO(), key.StartDate.ISO(), key.EndDate.ISO())
	if err != nil {
		return fmt.Errorf("reset stock for new period: %w", err)
	}
	return nil
}

// ResetMemberDuesTx zeroes every member's running debt. Contributions stay:
// unspent cash carries over.
func (r *Repository) ResetMemberDuesTx(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE members SET total_due = 0`); err != nil {
		return fmt.Errorf("reset member dues: %w", err)
	}
	return nil
}

// DeleteArchivedRecordsTx removes the period's meal, drink and distribution
// rows from the live tables once their mirror copies exist.
func (r *Repository) DeleteArchivedRecordsTx(ctx context.Context, tx *sql.Tx, key core.ArchiveKey) error {
	start, end := key.StartDate.ISO(), key.EndDate.ISO()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM meal_records WHERE date BETWEEN ? AND ?`, start, end); err != nil {
		return fmt.Errorf("delete archived meal records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM drink_records WHERE date BETWEEN ? AND ?`, start, end); err != nil {
		return fmt.Errorf("delete archived drink records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM miscellaneous_contributions WHERE distribution_date BETWEEN ? AND ?`, start, end); err != nil {
		return fmt.Errorf("delete archived contributions: %w", err)
	}
	return nil
}

// RestampArchiveKeyEndTx rewrites the key's end date with the same value.
// This is the single update an archive key receives after creation.
func (r *Repository) RestampArchiveKeyEndTx(ctx context.Context, tx *sql.Tx, key core.ArchiveKey) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE archive_keys SET end_date = ? WHERE archive_key_id = ?`,
		key.EndDate.ISO(), key.ID)
	if err != nil {
		return fmt.Errorf("restamp archive key: %w", err)
	}
	return nil
}

// ArchiveClosureSummariesTx copies the key's settlement snapshots into the
// mirror and removes them from the live table.
func (r *Repository) ArchiveClosureSummariesTx(ctx context.Context, tx *sql.Tx, archiveKeyID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO closure_summary_archive
		 (summary_id, closure_id, member_id, total_meals, total_drinks, total_miscellaneous, total_consumption, total_contribution, remaining_cash, archive_key_id)
		 SELECT summary_id, closure_id, member_id, total_meals, total_drinks, total_miscellaneous, total_consumption, total_contribution, remaining_cash, ?
		 FROM closure_summary
		 WHERE closure_id IN (SELECT closure_id FROM monthly_closures WHERE archive_key_id = ?)`,
		archiveKeyID, archiveKeyID)
	if err != nil {
		return fmt.Errorf("archive closure summaries: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM closure_summary
		 WHERE closure_id IN (SELECT closure_id FROM monthly_closures WHERE archive_key_id = ?)`,
		archiveKeyID)
	if err != nil {
		return fmt.Errorf("delete archived closure summaries: %w", err)
	}
	return nil
}

// Closure loads one monthly closure record.
func (r *Repository) Closure(ctx context.Context, closureID int64) (core.MonthlyClosure, error) {
	var (
		c    core.MonthlyClosure
		date string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT closure_id, closure_date, archive_key_id, export_status FROM monthly_closures WHERE closure_id = ?`,
		closureID).Scan(&c.ID, &date, &c.ArchiveKeyID, &c.ExportStatus)
	if err == sql.ErrNoRows {
		return core.MonthlyClosure{}, core.ErrClosureNotFound
	}
	if err != nil {
		return core.MonthlyClosure{}, fmt.Errorf("query closure: %w", err)
	}
	if d, err := core.ParseDate(date); err == nil {
		c.ClosureDate = d
	}
	return c, nil
}

// PendingExportClosures returns closures whose report export has not
// completed, oldest first. The worker's sweep uses this as a backstop for
// lost messages.
func (r *Repository) PendingExportClosures(ctx context.Context, limit int) ([]core.MonthlyClosure, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT closure_id, closure_date, archive_key_id, export_status FROM monthly_closures
		 WHERE export_status = 'pending' ORDER BY closure_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending exports: %w", err)
	}
	defer rows.Close()

	var closures []core.MonthlyClosure
	for rows.Next() {
		var (
			c    core.MonthlyClosure
			date string
		)
		if err := rows.Scan(&c.ID, &date, &c.ArchiveKeyID, &c.ExportStatus); err != nil {
			return nil, fmt.Errorf("scan pending closure: %w", err)
		}
		if d, err := core.ParseDate(date); err == nil {
			c.ClosureDate = d
		}
		closures = append(closures, c)
	}
	return closures, rows.Err()
}

// MarkClosureExported flips a closure's export status to done.
func (r *Repository) MarkClosureExported(ctx context.Context, closureID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE monthly_closures SET export_status = 'exported' WHERE closure_id = ?`, closureID)
	if err != nil {
		return fmt.Errorf("mark closure exported: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrClosureNotFound
	}
	return nil
}

// MarkClosureExportError records a failed export attempt. The closure stays
// out of the pending sweep until reset by hand.
func (r *Repository) MarkClosureExportError(ctx context.Context, closureID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE monthly_closures SET export_status = 'error' WHERE closure_id = ?`, closureID)
	if err != nil {
		return fmt.Errorf("mark closure export error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrClosureNotFound
	}
	return nil
}
