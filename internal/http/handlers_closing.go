package http

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"messbook/internal/closing"
	"messbook/internal/core"
)

type allocationJSON struct {
	MemberID  int64           `json:"member_id"`
	Amount    decimal.Decimal `json:"amount"`
	MealCount int64           `json:"meal_count"`
}

type distributionJSON struct {
	Outcome     string           `json:"outcome"`
	TotalMisc   decimal.Decimal  `json:"total_misc"`
	Allocations []allocationJSON `json:"allocations"`
}

type summaryJSON struct {
	ClosureID         int64           `json:"closure_id"`
	MemberID          int64           `json:"member_id"`
	MemberName        string          `json:"member_name"`
	TotalMeals        decimal.Decimal `json:"total_meals"`
	TotalDrinks       decimal.Decimal `json:"total_drinks"`
	TotalMisc         decimal.Decimal `json:"total_misc"`
	TotalConsumption  decimal.Decimal `json:"total_consumption"`
	TotalContribution decimal.Decimal `json:"total_contribution"`
	RemainingCash     decimal.Decimal `json:"remaining_cash"`
}

type totalsJSON struct {
	ArchiveKeyID       int64           `json:"archive_key_id"`
	TotalMeals         decimal.Decimal `json:"total_meals"`
	TotalDrinks        decimal.Decimal `json:"total_drinks"`
	TotalMisc          decimal.Decimal `json:"total_misc"`
	TotalConsumption   decimal.Decimal `json:"total_consumption"`
	TotalContributions decimal.Decimal `json:"total_contributions"`
	RemainingItems     decimal.Decimal `json:"remaining_items"`
	RemainingCash      decimal.Decimal `json:"remaining_cash"`
}

type archiveKeyJSON struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	ArchivedAt string `json:"archived_at"`
}

type closingResultJSON struct {
	State        string           `json:"state"`
	ArchiveKeyID int64            `json:"archive_key_id"`
	ClosureID    int64            `json:"closure_id"`
	ClosureDate  string           `json:"closure_date"`
	Distribution distributionJSON `json:"distribution"`
	Summaries    []summaryJSON    `json:"summaries"`
	Totals       totalsJSON       `json:"totals"`
}

func outcomeString(o closing.Outcome) string {
	switch o {
	case closing.Empty:
		return "empty"
	case closing.Failed:
		return "failed"
	default:
		return "ok"
	}
}

func summaryView(s core.ClosureSummary) summaryJSON {
	return summaryJSON{
		ClosureID:         s.ClosureID,
		MemberID:          s.MemberID,
		MemberName:        s.MemberName,
		TotalMeals:        s.TotalMeals,
		TotalDrinks:       s.TotalDrinks,
		TotalMisc:         s.TotalMisc,
		TotalConsumption:  s.TotalConsumption,
		TotalContribution: s.TotalContribution,
		RemainingCash:     s.RemainingCash,
	}
}

func totalsView(t core.MonthlyTotals) totalsJSON {
	return totalsJSON{
		ArchiveKeyID:       t.ArchiveKeyID,
		TotalMeals:         t.TotalMeals,
		TotalDrinks:        t.TotalDrinks,
		TotalMisc:          t.TotalMisc,
		TotalConsumption:   t.TotalConsumption,
		TotalContributions: t.TotalContributions,
		RemainingItems:     t.RemainingItems,
		RemainingCash:      t.RemainingCash,
	}
}

func closingResultView(res *closing.Result) closingResultJSON {
	dist := distributionJSON{
		Outcome:     outcomeString(res.Distribution.Outcome),
		TotalMisc:   res.Distribution.TotalMisc,
		Allocations: make([]allocationJSON, 0, len(res.Distribution.Allocations)),
	}
	for _, a := range res.Distribution.Allocations {
		dist.Allocations = append(dist.Allocations, allocationJSON{
			MemberID:  a.MemberID,
			Amount:    a.Amount,
			MealCount: a.MealCount,
		})
	}

	out := closingResultJSON{
		State:        string(res.State),
		ArchiveKeyID: res.ArchiveKeyID,
		ClosureID:    res.ClosureID,
		ClosureDate:  res.ClosureDate.ISO(),
		Distribution: dist,
		Summaries:    make([]summaryJSON, 0, len(res.Summaries)),
		Totals:       totalsView(res.Totals),
	}
	for _, sum := range res.Summaries {
		out.Summaries = append(out.Summaries, summaryView(sum))
	}
	return out
}

// parseIDParam reads a positive integer query parameter.
func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return id, err == nil && id > 0
}

// handleRunClosing runs the distribution and snapshot phases. The ledger is
// left awaiting the full-archival confirmation.
func (s *Server) handleRunClosing(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	res, err := s.closer.Run(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateLedgerCaches()

	respondJSON(w, http.StatusOK, closingResultView(res))
}

// handleCompleteArchival is the user confirmation that finishes a closing:
// it archives the period and resets the live ledger.
func (s *Server) handleCompleteArchival(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		ArchiveKeyID int64 `json:"archive_key_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.closer.CompleteArchival(r.Context(), req.ArchiveKeyID); err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateLedgerCaches()

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "archived",
		"archive_key_id": req.ArchiveKeyID,
	})
}

// handleClosureSummaries returns the live settlement rows of one closure.
func (s *Server) handleClosureSummaries(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	closureID, ok := parseIDParam(r, "closure_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "closure_id is required")
		return
	}

	sums, err := s.reports.ClosureSummaries(r.Context(), closureID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]summaryJSON, 0, len(sums))
	for _, sum := range sums {
		out = append(out, summaryView(sum))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleArchiveKeys lists closed periods, newest first.
func (s *Server) handleArchiveKeys(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	keys, err := s.reports.ArchiveKeys(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]archiveKeyJSON, 0, len(keys))
	for _, k := range keys {
		out = append(out, archiveKeyJSON{
			ID:         k.ID,
			Name:       k.Name,
			StartDate:  k.StartDate.ISO(),
			EndDate:    k.EndDate.ISO(),
			ArchivedAt: k.ArchivedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleArchivedSummaries returns the mirrored settlement rows of a closed
// period.
func (s *Server) handleArchivedSummaries(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	keyID, ok := parseIDParam(r, "archive_key_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "archive_key_id is required")
		return
	}

	sums, err := s.reports.ArchivedSummaries(r.Context(), keyID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]summaryJSON, 0, len(sums))
	for _, sum := range sums {
		out = append(out, summaryView(sum))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleArchivedTotals returns the persisted grand-total row of a closed
// period.
func (s *Server) handleArchivedTotals(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	keyID, ok := parseIDParam(r, "archive_key_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "archive_key_id is required")
		return
	}

	totals, err := s.reports.ArchivedTotals(r.Context(), keyID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, totalsView(totals))
}
