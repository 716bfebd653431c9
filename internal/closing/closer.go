// Package closing implements the month-end closing workflow: miscellaneous
// cost distribution, settlement snapshotting, closure persistence and the
// user-confirmed full archival that resets the ledger for a new period.
package closing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"messbook/internal/core"
	"messbook/internal/storage"
)

// ErrClosingInProgress is returned when a second closing is attempted while
// one is already running. The lock is advisory: it serializes closings within
// this process only.
var ErrClosingInProgress = errors.New("a closing is already in progress")

// State tracks how far a closing pass has progressed.
type State string

const (
	StateIdle             State = "idle"
	StateDistributing     State = "distributing"
	StateSnapshotting     State = "snapshotting"
	StateClosureSaved     State = "closure_saved"
	StateAwaitingArchival State = "awaiting_full_archival"
	StateArchived         State = "archived"
	StateFailed           State = "failed"
)

// Outcome distinguishes "nothing to do" from genuine failure.
type Outcome int

const (
	Ok Outcome = iota
	Empty
	Failed
)

// Distribution is the committed result of the distribution phase.
type Distribution struct {
	Outcome      Outcome
	ArchiveKeyID int64
	TotalMisc    decimal.Decimal
	Allocations  []core.MiscContribution
}

// Result is threaded through the closing phases so no state lives on the
// Closer between invocations.
type Result struct {
	State        State
	ArchiveKeyID int64
	ClosureID    int64
	ClosureDate  core.Date
	Distribution Distribution
	Summaries    []core.ClosureSummary
	Totals       core.MonthlyTotals
}

// ReportPublisher hands a saved closure off for asynchronous report export.
type ReportPublisher interface {
	PublishClosureReport(ctx context.Context, closureID int64) error
}

type Closer struct {
	repo      *storage.Repository
	publisher ReportPublisher

	mu sync.Mutex
}

// NewCloser builds the orchestrator. publisher may be nil, in which case the
// export worker picks closures up via its pending sweep instead.
func NewCloser(repo *storage.Repository, publisher ReportPublisher) *Closer {
	return &Closer{repo: repo, publisher: publisher}
}

// Run executes distribution, snapshotting and totals persistence, leaving the
// ledger in the awaiting-full-archival state. Each phase commits on its own:
// a failure rolls back only that phase, so a committed distribution survives
// a failed snapshot and the pass can be retried from there.
func (c *Closer) Run(ctx context.Context) (*Result, error) {
	if !c.mu.TryLock() {
		return nil, ErrClosingInProgress
	}
	defer c.mu.Unlock()

	res := &Result{State: StateDistributing, ClosureDate: core.Today()}

	dist, err := c.distribute(ctx, res.ClosureDate)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("distribution: %w", err)
	}
	res.Distribution = dist
	res.ArchiveKeyID = dist.ArchiveKeyID

	res.State = StateSnapshotting
	if err := c.snapshot(ctx, res); err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("snapshot: %w", err)
	}
	res.State = StateClosureSaved

	if err := c.persistTotals(ctx, res); err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("persist totals: %w", err)
	}
	res.State = StateAwaitingArchival

	c.publishReport(ctx, res.ClosureID)

	slog.InfoContext(ctx, "Monthly closing saved",
		"closure_id", res.ClosureID,
		"archive_key_id", res.ArchiveKeyID,
		"members", len(res.Summaries))
	return res, nil
}

// distribute allocates the miscellaneous expense pool across members in
// proportion to meals eaten, creates the archive key and moves the
// distributed rows into the expense archive. One transaction.
func (c *Closer) distribute(ctx context.Context, today core.Date) (Distribution, error) {
	dist := Distribution{}

	err := c.repo.WithTx(ctx, func(tx *sql.Tx) error {
		misc, err := c.repo.MiscExpensesTx(ctx, tx)
		if err != nil {
			return err
		}

		if len(misc) == 0 {
			// Nothing to distribute. The closure still needs a period key.
			keyID, err := c.createArchiveKey(ctx, tx, today)
			if err != nil {
				return err
			}
			dist.Outcome = Empty
			dist.ArchiveKeyID = keyID
			return nil
		}

		for _, item := range misc {
			dist.TotalMisc = dist.TotalMisc.Add(item.TotalPrice)
		}

		counts, err := c.repo.MealCountsTx(ctx, tx)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			return core.ErrNoMealRecords
		}

		var totalMeals int64
		for _, mc := range counts {
			totalMeals += mc.Count
		}
		costPerMeal := dist.TotalMisc.Div(decimal.NewFromInt(totalMeals))

		for _, mc := range counts {
			share := costPerMeal.Mul(decimal.NewFromInt(mc.Count))
			if err := c.repo.AddMemberDueTx(ctx, tx, mc.MemberID, share); err != nil {
				return err
			}
			alloc := core.MiscContribution{
				MemberID:         mc.MemberID,
				Amount:           share,
				MealCount:        mc.Count,
				DistributionDate: today,
			}
			if err := c.repo.InsertMiscContributionTx(ctx, tx, alloc); err != nil {
				return err
			}
			dist.Allocations = append(dist.Allocations, alloc)
		}

		keyID, err := c.createArchiveKey(ctx, tx, today)
		if err != nil {
			return err
		}
		dist.ArchiveKeyID = keyID

		ids := make([]int64, len(misc))
		for i, item := range misc {
			ids[i] = item.ID
		}
		if err := c.repo.ArchiveMiscExpensesTx(ctx, tx, ids, keyID); err != nil {
			return err
		}

		dist.Outcome = Ok
		slog.InfoContext(ctx, "Miscellaneous expenses distributed",
			"items", len(ids),
			"total", dist.TotalMisc.String(),
			"members", len(dist.Allocations))
		return nil
	})
	if err != nil {
		return Distribution{Outcome: Failed}, err
	}
	return dist, nil
}

// createArchiveKey stamps a new period from the earliest unarchived
// transaction date to today. Keys are never merged or reused.
func (c *Closer) createArchiveKey(ctx context.Context, tx *sql.Tx, today core.Date) (int64, error) {
	first, err := c.repo.FirstTransactionDateTx(ctx, tx)
	if err != nil {
		return 0, err
	}
	if first.IsEmpty() {
		first = today
	}

	key := core.ArchiveKey{
		Name:       fmt.Sprintf("Dist_%s_to_%s", first.ISO(), today.ISO()),
		StartDate:  first,
		EndDate:    today,
		ArchivedAt: time.Now().Format("2006-01-02 15:04:05"),
	}
	return c.repo.InsertArchiveKeyTx(ctx, tx, key)
}

// snapshot archives the member roster under the archive key and freezes each
// member's settlement into a closure summary. One transaction.
func (c *Closer) snapshot(ctx context.Context, res *Result) error {
	return c.repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := c.repo.ArchiveMembersTx(ctx, tx, res.ArchiveKeyID); err != nil {
			return err
		}

		members, err := c.repo.MembersTx(ctx, tx)
		if err != nil {
			return err
		}
		mealTotals, err := c.repo.MealTotalsTx(ctx, tx)
		if err != nil {
			return err
		}
		drinkTotals, err := c.repo.DrinkTotalsTx(ctx, tx)
		if err != nil {
			return err
		}
		miscTotals, err := c.repo.MiscTotalsTx(ctx, tx)
		if err != nil {
			return err
		}

		closureID, err := c.repo.InsertClosureTx(ctx, tx, res.ClosureDate, res.ArchiveKeyID)
		if err != nil {
			return err
		}
		res.ClosureID = closureID

		for _, m := range members {
			archived, err := c.repo.MemberArchivedTx(ctx, tx, m.ID, res.ArchiveKeyID)
			if err != nil {
				return err
			}
			if !archived {
				continue
			}

			meals := mealTotals[m.ID]
			drinks := drinkTotals[m.ID]
			misc := miscTotals[m.ID]

			consumption := meals.Total.Add(drinks.Total).Add(misc)
			// The settlement formula deducts the miscellaneous share again on
			// top of total consumption. Archived reports were produced with
			// this formula, so it stays.
			remaining := m.Contribution.Sub(consumption).Sub(misc)

			summary := core.ClosureSummary{
				ClosureID:         closureID,
				MemberID:          m.ID,
				MemberName:        m.Name,
				TotalMeals:        meals.Total,
				TotalDrinks:       drinks.Total,
				TotalMisc:         misc,
				TotalConsumption:  consumption,
				TotalContribution: m.Contribution,
				RemainingCash:     remaining,
			}
			if err := c.repo.InsertClosureSummaryTx(ctx, tx, summary); err != nil {
				return err
			}
			res.Summaries = append(res.Summaries, summary)
		}
		return nil
	})
}

// persistTotals aggregates the frozen summaries plus the value of unconsumed
// stock into the grand-totals row for the archive key.
func (c *Closer) persistTotals(ctx context.Context, res *Result) error {
	totals := core.MonthlyTotals{ArchiveKeyID: res.ArchiveKeyID}
	for _, s := range res.Summaries {
		totals.TotalMeals = totals.TotalMeals.Add(s.TotalMeals)
		totals.TotalDrinks = totals.TotalDrinks.Add(s.TotalDrinks)
		totals.TotalMisc = totals.TotalMisc.Add(s.TotalMisc)
		totals.TotalConsumption = totals.TotalConsumption.Add(s.TotalConsumption)
		totals.TotalContributions = totals.TotalContributions.Add(s.TotalContribution)
	}

	remainingItems, err := c.repo.RemainingStockValue(ctx)
	if err != nil {
		return err
	}
	totals.RemainingItems = remainingItems
	totals.RemainingCash = totals.TotalContributions.Sub(totals.TotalConsumption.Add(remainingItems))

	if err := c.repo.InsertMonthlyTotals(ctx, totals); err != nil {
		return err
	}
	res.Totals = totals
	return nil
}

func (c *Closer) publishReport(ctx context.Context, closureID int64) {
	if c.publisher == nil {
		return
	}
	// Publish failures are not fatal: the export worker sweeps pending
	// closures and picks the report up later.
	if err := c.publisher.PublishClosureReport(ctx, closureID); err != nil {
		slog.WarnContext(ctx, "Failed to publish closure report, worker sweep will retry",
			"closure_id", closureID, "error", err)
	}
}

// CompleteArchival is the user-confirmed, irreversible step: it copies the
// period's live rows into the archive mirrors, resets member debts and stock
// for the new period, and deletes the archived live rows. One transaction;
// a failure leaves live data untouched and the call is safe to retry.
func (c *Closer) CompleteArchival(ctx context.Context, archiveKeyID int64) error {
	if !c.mu.TryLock() {
		return ErrClosingInProgress
	}
	defer c.mu.Unlock()

	if archiveKeyID <= 0 {
		return core.ErrArchiveKeyInvalid
	}

	closureDate := core.Today()

	err := c.repo.WithTx(ctx, func(tx *sql.Tx) error {
		key, err := c.repo.ArchiveKeyTx(ctx, tx, archiveKeyID)
		if err != nil {
			return err
		}

		if err := c.repo.ArchiveMealRecordsTx(ctx, tx, key); err != nil {
			return err
		}
		if err := c.repo.ArchiveDrinkRecordsTx(ctx, tx, key); err != nil {
			return err
		}
		if err := c.repo.ArchiveMiscContributionsTx(ctx, tx, key); err != nil {
			return err
		}
		if err := c.repo.ArchiveConsumedStockTx(ctx, tx, key, closureDate); err != nil {
			return err
		}
		if err := c.repo.ResetStockTx(ctx, tx, key, closureDate); err != nil {
			return err
		}
		if err := c.repo.ResetMemberDuesTx(ctx, tx); err != nil {
			return err
		}
		if err := c.repo.DeleteArchivedRecordsTx(ctx, tx, key); err != nil {
			return err
		}
		if err := c.repo.RestampArchiveKeyEndTx(ctx, tx, key); err != nil {
			return err
		}
		return c.repo.ArchiveClosureSummariesTx(ctx, tx, key.ID)
	})
	if err != nil {
		return fmt.Errorf("full archival: %w", err)
	}

	slog.InfoContext(ctx, "Full archival completed", "archive_key_id", archiveKeyID)
	return nil
}
