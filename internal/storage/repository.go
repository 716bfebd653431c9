// Package storage implements the ledger store over SQLite: live operational
// tables, their archive mirrors, and the transaction scoping used by the
// month-end closing workflow.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"messbook/internal/core"

	_ "modernc.org/sqlite"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for read-only report queries.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// WithTx runs fn inside a transaction. Any error (or panic) rolls the whole
// transaction back; otherwise it commits. Each closing phase gets exactly one
// such scope.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AddMember registers a new member.
func (r *Repository) AddMember(ctx context.Context, m core.Member) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO members (name, rank, contribution, total_due, date) VALUES (?, ?, ?, 0, ?)`,
		m.Name, m.Rank, m.Contribution, m.JoinedAt.ISO())
	if err != nil {
		return 0, fmt.Errorf("insert member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("member id: %w", err)
	}

	slog.InfoContext(ctx, "Member registered", "id", id, "name", m.Name)
	return id, nil
}

// AddContribution adds paid-in cash to a member's contribution balance.
func (r *Repository) AddContribution(ctx context.Context, memberID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return core.ErrInvalidAmount
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET contribution = contribution + ? WHERE member_id = ?`,
		amount, memberID)
	if err != nil {
		return fmt.Errorf("add contribution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrUnknownMember
	}
	return nil
}

// Members returns all registered members ordered by name.
func (r *Repository) Members(ctx context.Context) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT member_id, name, rank, contribution, total_due, date FROM members ORDER BY name`)
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

// Member returns a single member by id.
func (r *Repository) Member(ctx context.Context, id int64) (core.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT member_id, name, rank, contribution, total_due, date FROM members WHERE member_id = ?`, id)

	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return core.Member{}, core.ErrUnknownMember
	}
	return m, err
}

// AddStockItem records a purchase into the live expenses ledger.
// Remaining starts equal to the full quantity.
func (r *Repository) AddStockItem(ctx context.Context, s core.StockItem) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	total := s.Quantity.Mul(s.Price)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (item_name, quantity, price, total_price, consumption, remaining, is_miscellaneous, is_drink, date)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		s.ItemName, s.Quantity, s.Price, total, s.Quantity, s.IsMiscellaneous, s.IsDrink, s.Date.ISO())
	if err != nil {
		return 0, fmt.Errorf("insert stock item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("stock item id: %w", err)
	}

	slog.InfoContext(ctx, "Stock item added",
		"id", id,
		"item", s.ItemName,
		"quantity", s.Quantity.String(),
		"miscellaneous", s.IsMiscellaneous)
	return id, nil
}

// ConsumeStock increases an item's consumption and keeps remaining equal to
// quantity minus consumption.
func (r *Repository) ConsumeStock(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return core.ErrInvalidQuantity
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses
		 SET consumption = consumption + ?, remaining = quantity - (consumption + ?)
		 WHERE expense_id = ? AND remaining >= ?`,
		qty, qty, itemID, qty)
	if err != nil {
		return fmt.Errorf("consume stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrInvalidQuantity
	}
	return nil
}

// StockItems returns the live expenses ledger.
func (r *Repository) StockItems(ctx context.Context) ([]core.StockItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT expense_id, item_name, quantity, price, total_price, consumption, remaining, is_miscellaneous, is_drink, date
		 FROM expenses ORDER BY date, expense_id`)
	if err != nil {
		return nil, fmt.Errorf("query stock items: %w", err)
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

// AddMealRecord appends a meal consumption event and posts its cost onto the
// member's running debt.
func (r *Repository) AddMealRecord(ctx context.Context, rec core.MealRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO meal_records (member_id, date, final_cost) VALUES (?, ?, ?)`,
			rec.MemberID, rec.Date.ISO(), rec.FinalCost)
		if err != nil {
			return fmt.Errorf("insert meal record: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("meal record id: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE members SET total_due = total_due + ? WHERE member_id = ?`,
			rec.FinalCost, rec.MemberID)
		if err != nil {
			return fmt.Errorf("post meal cost: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AddDrinkRecord appends a drink consumption event and posts its cost onto
// the member's running debt.
func (r *Repository) AddDrinkRecord(ctx context.Context, rec core.DrinkRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO drink_records (member_id, date, quantity, total_cost) VALUES (?, ?, ?, ?)`,
			rec.MemberID, rec.Date.ISO(), rec.Quantity, rec.TotalCost)
		if err != nil {
			return fmt.Errorf("insert drink record: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("drink record id: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE members SET total_due = total_due + ? WHERE member_id = ?`,
			rec.TotalCost, rec.MemberID)
		if err != nil {
			return fmt.Errorf("post drink cost: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (core.Member, error) {
	var (
		m    core.Member
		date string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Rank, &m.Contribution, &m.TotalDue, &date); err != nil {
		if err == sql.ErrNoRows {
			return core.Member{}, err
		}
		return core.Member{}, fmt.Errorf("scan member: %w", err)
	}
	if d, err := core.ParseDate(date); err == nil {
		m.JoinedAt = d
	}
	return m, nil
}

func scanStockItem(row rowScanner) (core.StockItem, error) {
	var (
		s    core.StockItem
		date string
	)
	err := row.Scan(&s.ID, &s.ItemName, &s.Quantity, &s.Price, &s.TotalPrice,
		&s.Consumption, &s.Remaining, &s.IsMiscellaneous, &s.IsDrink, &date)
	if err != nil {
		return core.StockItem{}, fmt.Errorf("scan stock item: %w", err)
	}
	if d, err := core.ParseDate(date); err == nil {
		s.Date = d
	}
	return s, nil
}
