package closing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"messbook/internal/core"
	"messbook/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "messbook.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func addMember(t *testing.T, repo *storage.Repository, name, contribution string) int64 {
	t.Helper()
	id, err := repo.AddMember(context.Background(), core.Member{
		Name:         name,
		Contribution: dec(t, contribution),
		JoinedAt:     core.Today(),
	})
	if err != nil {
		t.Fatalf("AddMember(%s): %v", name, err)
	}
	return id
}

func addMeals(t *testing.T, repo *storage.Repository, memberID int64, n int, cost string) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.AddMealRecord(context.Background(), core.MealRecord{
			MemberID:  memberID,
			Date:      core.Today(),
			FinalCost: dec(t, cost),
		})
		if err != nil {
			t.Fatalf("AddMealRecord: %v", err)
		}
	}
}

func addMiscExpense(t *testing.T, repo *storage.Repository, name, total string) {
	t.Helper()
	_, err := repo.AddStockItem(context.Background(), core.StockItem{
		ItemName:        name,
		Quantity:        dec(t, "1"),
		Price:           dec(t, total),
		IsMiscellaneous: true,
		Date:            core.Today(),
	})
	if err != nil {
		t.Fatalf("AddStockItem: %v", err)
	}
}

func TestDistributionProportionalToMeals(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	m1 := addMember(t, repo, "Omar", "200")
	m2 := addMember(t, repo, "Hassan", "200")
	m3 := addMember(t, repo, "Khaled", "200")

	addMeals(t, repo, m1, 10, "0")
	addMeals(t, repo, m2, 5, "0")
	// m3 eats nothing.
	addMiscExpense(t, repo, "Gas refill", "150")

	closer := NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateAwaitingArchival {
		t.Fatalf("expected awaiting-archival state, got %s", res.State)
	}
	if res.Distribution.Outcome != Ok {
		t.Fatalf("expected Ok distribution, got %v", res.Distribution.Outcome)
	}

	// 150 over 15 meals = 10 per meal.
	shares := map[int64]decimal.Decimal{}
	var total decimal.Decimal
	for _, a := range res.Distribution.Allocations {
		shares[a.MemberID] = a.Amount
		total = total.Add(a.Amount)
	}
	if !shares[m1].Equal(dec(t, "100")) {
		t.Errorf("member 1 share: expected 100, got %s", shares[m1])
	}
	if !shares[m2].Equal(dec(t, "50")) {
		t.Errorf("member 2 share: expected 50, got %s", shares[m2])
	}
	if _, ok := shares[m3]; ok {
		t.Errorf("member with zero meals must receive no share")
	}
	if !total.Equal(res.Distribution.TotalMisc) {
		t.Errorf("shares must sum to the misc total: %s != %s", total, res.Distribution.TotalMisc)
	}

	// Shares were posted onto member debts.
	got1, err := repo.Member(ctx, m1)
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if !got1.TotalDue.Equal(dec(t, "100")) {
		t.Errorf("member 1 due: expected 100, got %s", got1.TotalDue)
	}
	got3, err := repo.Member(ctx, m3)
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if !got3.TotalDue.IsZero() {
		t.Errorf("member 3 due should stay zero, got %s", got3.TotalDue)
	}

	// Distributed misc rows were moved out of the live expenses view.
	items, err := repo.StockItems(ctx)
	if err != nil {
		t.Fatalf("StockItems: %v", err)
	}
	for _, item := range items {
		if item.IsMiscellaneous {
			t.Errorf("miscellaneous item %q still live after distribution", item.ItemName)
		}
	}
}

func TestDistributionFailsWithoutMealRecords(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id := addMember(t, repo, "Omar", "100")
	addMiscExpense(t, repo, "Cleaning", "60")

	closer := NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if !errors.Is(err, core.ErrNoMealRecords) {
		t.Fatalf("expected ErrNoMealRecords, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("expected failed state, got %s", res.State)
	}

	// Rolled back: no debt posted, misc row still live.
	m, err := repo.Member(ctx, id)
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if !m.TotalDue.IsZero() {
		t.Errorf("debt must not change on failed distribution, got %s", m.TotalDue)
	}
	items, err := repo.StockItems(ctx)
	if err != nil {
		t.Fatalf("StockItems: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("misc expense must survive the rollback, got %d items", len(items))
	}
}

func TestClosingWithoutMiscCreatesKeyWithNoAllocations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id := addMember(t, repo, "Omar", "100")
	addMeals(t, repo, id, 3, "5")

	closer := NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Distribution.Outcome != Empty {
		t.Errorf("expected Empty distribution, got %v", res.Distribution.Outcome)
	}
	if len(res.Distribution.Allocations) != 0 {
		t.Errorf("expected no allocations, got %d", len(res.Distribution.Allocations))
	}
	if res.ArchiveKeyID == 0 {
		t.Error("an archive key must still be created")
	}

	key, err := repo.ArchiveKey(ctx, res.ArchiveKeyID)
	if err != nil {
		t.Fatalf("ArchiveKey: %v", err)
	}
	if key.Name == "" {
		t.Error("archive key name must be derived from the period dates")
	}
}

func TestSnapshotContributionsComplete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	addMember(t, repo, "Omar", "120")
	addMember(t, repo, "Hassan", "80")
	id3 := addMember(t, repo, "Khaled", "50")
	addMeals(t, repo, id3, 2, "10")

	closer := NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Summaries) != 3 {
		t.Fatalf("expected a summary per member, got %d", len(res.Summaries))
	}

	var snapTotal decimal.Decimal
	for _, s := range res.Summaries {
		snapTotal = snapTotal.Add(s.TotalContribution)
	}
	if !snapTotal.Equal(dec(t, "250")) {
		t.Errorf("snapshot contributions must cover all members: expected 250, got %s", snapTotal)
	}
	if !res.Totals.TotalContributions.Equal(dec(t, "250")) {
		t.Errorf("totals row contributions: expected 250, got %s", res.Totals.TotalContributions)
	}
}

func TestSettlementFormula(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id := addMember(t, repo, "Omar", "100")
	addMeals(t, repo, id, 2, "10") // 20 in meals
	addMiscExpense(t, repo, "Spices", "30")

	closer := NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := res.Summaries[0]
	// misc share = 30 (sole eater), consumption = 20 + 30 = 50,
	// remaining = 100 - 50 - 30: the misc share is deducted twice.
	if !s.TotalMisc.Equal(dec(t, "30")) {
		t.Errorf("misc: expected 30, got %s", s.TotalMisc)
	}
	if !s.TotalConsumption.Equal(dec(t, "50")) {
		t.Errorf("consumption: expected 50, got %s", s.TotalConsumption)
	}
	if !s.RemainingCash.Equal(dec(t, "20")) {
		t.Errorf("remaining cash: expected 20, got %s", s.RemainingCash)
	}
}

func TestFullArchivalResetsLedger(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id := addMember(t, repo, "Omar", "100")
	addMeals(t, repo, id, 4, "5")
	addMiscExpense(t, repo, "Charcoal", "40")

	stockID, err := repo.AddStockItem(ctx, core.StockItem{
		ItemName: "Rice", Quantity: dec(t, "10"), Price: dec(t, "2"), Date: core.Today(),
	})
	if err != nil {
		t.Fatalf("AddStockItem: %v", err)
	}
	if err := repo.ConsumeStock(ctx, stockID, dec(t, "6")); err != nil {
		t.Fatalf("ConsumeStock: %v", err)
	}

	closer := NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := closer.CompleteArchival(ctx, res.ArchiveKeyID); err != nil {
		t.Fatalf("CompleteArchival: %v", err)
	}

	// Debts reset, contributions preserved.
	m, err := repo.Member(ctx, id)
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if !m.TotalDue.IsZero() {
		t.Errorf("debt must be zero after archival, got %s", m.TotalDue)
	}
	if !m.Contribution.Equal(dec(t, "100")) {
		t.Errorf("contribution must carry over, got %s", m.Contribution)
	}

	// Stock carried into the new period: quantity = prior remaining,
	// consumption reset, remaining invariant still holding.
	items, err := repo.StockItems(ctx)
	if err != nil {
		t.Fatalf("StockItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 carried stock item, got %d", len(items))
	}
	got := items[0]
	if !got.Quantity.Equal(dec(t, "4")) {
		t.Errorf("carried quantity: expected 4, got %s", got.Quantity)
	}
	if !got.Consumption.IsZero() {
		t.Errorf("consumption must reset to zero, got %s", got.Consumption)
	}
	if !got.Remaining.Equal(got.Quantity.Sub(got.Consumption)) {
		t.Errorf("remaining invariant broken: %s != %s - %s", got.Remaining, got.Quantity, got.Consumption)
	}
}

func TestFullArchivalPurgesPeriodRecords(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id := addMember(t, repo, "Omar", "100")
	addMeals(t, repo, id, 3, "5")
	if _, err := repo.AddDrinkRecord(ctx, core.DrinkRecord{
		MemberID: id, Date: core.Today(), Quantity: dec(t, "2"), TotalCost: dec(t, "6"),
	}); err != nil {
		t.Fatalf("AddDrinkRecord: %v", err)
	}
	addMiscExpense(t, repo, "Soap", "30")

	closer := NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := closer.CompleteArchival(ctx, res.ArchiveKeyID); err != nil {
		t.Fatalf("CompleteArchival: %v", err)
	}

	key, err := repo.ArchiveKey(ctx, res.ArchiveKeyID)
	if err != nil {
		t.Fatalf("ArchiveKey: %v", err)
	}

	// No live meal, drink or distribution rows may remain inside the
	// archived window.
	counts := []struct {
		table string
		query string
	}{
		{"meal_records", `SELECT COUNT(*) FROM meal_records WHERE date BETWEEN ? AND ?`},
		{"drink_records", `SELECT COUNT(*) FROM drink_records WHERE date BETWEEN ? AND ?`},
		{"miscellaneous_contributions", `SELECT COUNT(*) FROM miscellaneous_contributions WHERE distribution_date BETWEEN ? AND ?`},
	}
	for _, c := range counts {
		var n int
		if err := repo.DB().QueryRowContext(ctx, c.query, key.StartDate.ISO(), key.EndDate.ISO()).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", c.table, err)
		}
		if n != 0 {
			t.Errorf("%s: %d live rows remain inside the archived window", c.table, n)
		}
	}
}

func TestFullArchivalTwiceIsNoOp(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id := addMember(t, repo, "Omar", "100")
	addMeals(t, repo, id, 2, "5")
	addMiscExpense(t, repo, "Soap", "10")

	closer := NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := closer.CompleteArchival(ctx, res.ArchiveKeyID); err != nil {
		t.Fatalf("first CompleteArchival: %v", err)
	}
	if err := closer.CompleteArchival(ctx, res.ArchiveKeyID); err != nil {
		t.Fatalf("second CompleteArchival must no-op, got %v", err)
	}

	m, err := repo.Member(ctx, id)
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if !m.TotalDue.IsZero() {
		t.Errorf("debt must stay zero, got %s", m.TotalDue)
	}
}

func TestFullArchivalRejectsBadKey(t *testing.T) {
	repo := newTestRepo(t)
	closer := NewCloser(repo, nil)

	if err := closer.CompleteArchival(context.Background(), 0); !errors.Is(err, core.ErrArchiveKeyInvalid) {
		t.Errorf("expected ErrArchiveKeyInvalid for zero key, got %v", err)
	}
	if err := closer.CompleteArchival(context.Background(), 999); !errors.Is(err, core.ErrArchiveKeyMissing) {
		t.Errorf("expected ErrArchiveKeyMissing for unknown key, got %v", err)
	}
}

func TestConcurrentClosingRejected(t *testing.T) {
	repo := newTestRepo(t)
	closer := NewCloser(repo, nil)

	closer.mu.Lock()
	defer closer.mu.Unlock()

	if _, err := closer.Run(context.Background()); !errors.Is(err, ErrClosingInProgress) {
		t.Errorf("expected ErrClosingInProgress, got %v", err)
	}
}
