package reports

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"messbook/internal/closing"
	"messbook/internal/core"
	"messbook/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Repository) {
	t.Helper()

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "messbook.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewService(repo), repo
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func seedLedger(t *testing.T, repo *storage.Repository) int64 {
	t.Helper()
	ctx := context.Background()

	memberID, err := repo.AddMember(ctx, core.Member{
		Name: "Omar", Contribution: dec(t, "100"), JoinedAt: core.NewDate(2026, 8, 1),
	})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	if _, err := repo.AddStockItem(ctx, core.StockItem{
		ItemName: "Rice", Quantity: dec(t, "10"), Price: dec(t, "2"),
		Date: core.NewDate(2026, 8, 2),
	}); err != nil {
		t.Fatalf("AddStockItem: %v", err)
	}
	if _, err := repo.AddStockItem(ctx, core.StockItem{
		ItemName: "Soap", Quantity: dec(t, "1"), Price: dec(t, "15"),
		IsMiscellaneous: true, Date: core.NewDate(2026, 8, 5),
	}); err != nil {
		t.Fatalf("AddStockItem: %v", err)
	}
	if _, err := repo.AddStockItem(ctx, core.StockItem{
		ItemName: "Cola", Quantity: dec(t, "24"), Price: dec(t, "0.5"),
		IsDrink: true, Date: core.NewDate(2026, 8, 10),
	}); err != nil {
		t.Fatalf("AddStockItem: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := repo.AddMealRecord(ctx, core.MealRecord{
			MemberID: memberID, Date: core.NewDate(2026, 8, 6), FinalCost: dec(t, "4"),
		}); err != nil {
			t.Fatalf("AddMealRecord: %v", err)
		}
	}
	if _, err := repo.AddDrinkRecord(ctx, core.DrinkRecord{
		MemberID: memberID, Date: core.NewDate(2026, 8, 7),
		Quantity: dec(t, "2"), TotalCost: dec(t, "1"),
	}); err != nil {
		t.Fatalf("AddDrinkRecord: %v", err)
	}
	return memberID
}

func TestExpensesCategoryFilter(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedLedger(t, repo)

	misc, err := svc.Expenses(ctx, Filter{Category: CategoryMisc})
	if err != nil {
		t.Fatalf("Expenses: %v", err)
	}
	if len(misc) != 1 || misc[0].ItemName != "Soap" {
		t.Errorf("expected only Soap, got %+v", misc)
	}

	normal, err := svc.Expenses(ctx, Filter{Category: CategoryNormal})
	if err != nil {
		t.Fatalf("Expenses: %v", err)
	}
	if len(normal) != 1 || normal[0].ItemName != "Rice" {
		t.Errorf("expected only Rice, got %+v", normal)
	}

	all, err := svc.Expenses(ctx, Filter{})
	if err != nil {
		t.Fatalf("Expenses: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 items, got %d", len(all))
	}
}

func TestExpensesDateRange(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedLedger(t, repo)

	items, err := svc.Expenses(ctx, Filter{
		DateFrom: core.NewDate(2026, 8, 3),
		DateTo:   core.NewDate(2026, 8, 9),
	})
	if err != nil {
		t.Fatalf("Expenses: %v", err)
	}
	if len(items) != 1 || items[0].ItemName != "Soap" {
		t.Errorf("expected only Soap in range, got %+v", items)
	}
}

func TestMealsJoinMemberNames(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	memberID := seedLedger(t, repo)

	meals, err := svc.Meals(ctx, Filter{MemberID: memberID})
	if err != nil {
		t.Fatalf("Meals: %v", err)
	}
	if len(meals) != 3 {
		t.Fatalf("expected 3 meals, got %d", len(meals))
	}
	if meals[0].MemberName != "Omar" {
		t.Errorf("expected member name Omar, got %q", meals[0].MemberName)
	}

	none, err := svc.Meals(ctx, Filter{MemberID: memberID + 1})
	if err != nil {
		t.Fatalf("Meals: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no meals for other member, got %d", len(none))
	}
}

func TestRemainingStockValue(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedLedger(t, repo)

	items, total, err := svc.RemainingStock(ctx)
	if err != nil {
		t.Fatalf("RemainingStock: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 items with remaining stock, got %d", len(items))
	}
	// 10*2 + 1*15 + 24*0.5 = 47
	if !total.Equal(dec(t, "47")) {
		t.Errorf("expected remaining value 47, got %s", total)
	}
}

func TestClosureReportAssembly(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedLedger(t, repo)

	closer := closing.NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	report, err := svc.ClosureReport(ctx, res.ClosureID)
	if err != nil {
		t.Fatalf("ClosureReport: %v", err)
	}
	if len(report.Tables) != 3 {
		t.Fatalf("expected 3 sheets, got %d", len(report.Tables))
	}
	if report.Tables[0].Name != "Info" || report.Tables[1].Name != "Member Summary" || report.Tables[2].Name != "Totals" {
		t.Errorf("unexpected sheet names: %q %q %q",
			report.Tables[0].Name, report.Tables[1].Name, report.Tables[2].Name)
	}
	if len(report.Tables[1].Rows) != 1 {
		t.Errorf("expected one member row, got %d", len(report.Tables[1].Rows))
	}
	if report.Tables[1].Rows[0][0] != "Omar" {
		t.Errorf("expected Omar in summary, got %q", report.Tables[1].Rows[0][0])
	}
}

func TestArchivedSummariesAfterFullArchival(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedLedger(t, repo)

	closer := closing.NewCloser(repo, nil)
	res, err := closer.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := closer.CompleteArchival(ctx, res.ArchiveKeyID); err != nil {
		t.Fatalf("CompleteArchival: %v", err)
	}

	// Live summaries are gone, archived ones remain.
	live, err := svc.ClosureSummaries(ctx, res.ClosureID)
	if err != nil {
		t.Fatalf("ClosureSummaries: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("expected no live summaries after archival, got %d", len(live))
	}

	archived, err := svc.ArchivedSummaries(ctx, res.ArchiveKeyID)
	if err != nil {
		t.Fatalf("ArchivedSummaries: %v", err)
	}
	if len(archived) != 1 || archived[0].MemberName != "Omar" {
		t.Errorf("expected archived summary for Omar, got %+v", archived)
	}

	totals, err := svc.ArchivedTotals(ctx, res.ArchiveKeyID)
	if err != nil {
		t.Fatalf("ArchivedTotals: %v", err)
	}
	if totals.ArchiveKeyID != res.ArchiveKeyID {
		t.Errorf("totals row key mismatch: %d != %d", totals.ArchiveKeyID, res.ArchiveKeyID)
	}

	// The report falls back to the archive mirror once live rows are gone.
	report, err := svc.ClosureReport(ctx, res.ClosureID)
	if err != nil {
		t.Fatalf("ClosureReport: %v", err)
	}
	if len(report.Tables[1].Rows) != 1 {
		t.Errorf("expected archived member row in report, got %d", len(report.Tables[1].Rows))
	}
}

func TestArchivedTotalsMissingKey(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ArchivedTotals(context.Background(), 999)
	if err == nil {
		t.Error("expected error for missing archive key")
	}
}
