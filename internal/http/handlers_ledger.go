package http

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"messbook/internal/core"
	"messbook/internal/reports"
)

// JSON views of the domain types. Dates travel as YYYY-MM-DD strings,
// matching the storage representation.
type memberJSON struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Rank         string          `json:"rank,omitempty"`
	Contribution decimal.Decimal `json:"contribution"`
	TotalDue     decimal.Decimal `json:"total_due"`
	JoinedAt     string          `json:"joined_at"`
}

type stockItemJSON struct {
	ID              int64           `json:"id"`
	ItemName        string          `json:"item_name"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Consumption     decimal.Decimal `json:"consumption"`
	Remaining       decimal.Decimal `json:"remaining"`
	IsMiscellaneous bool            `json:"is_miscellaneous"`
	IsDrink         bool            `json:"is_drink"`
	Date            string          `json:"date"`
}

type mealJSON struct {
	ID         int64           `json:"id"`
	MemberID   int64           `json:"member_id"`
	MemberName string          `json:"member_name,omitempty"`
	Date       string          `json:"date"`
	FinalCost  decimal.Decimal `json:"final_cost"`
}

type drinkJSON struct {
	ID         int64           `json:"id"`
	MemberID   int64           `json:"member_id"`
	MemberName string          `json:"member_name,omitempty"`
	Date       string          `json:"date"`
	Quantity   decimal.Decimal `json:"quantity"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

func memberView(m core.Member) memberJSON {
	return memberJSON{
		ID:           m.ID,
		Name:         m.Name,
		Rank:         m.Rank,
		Contribution: m.Contribution,
		TotalDue:     m.TotalDue,
		JoinedAt:     m.JoinedAt.ISO(),
	}
}

func stockItemView(s core.StockItem) stockItemJSON {
	return stockItemJSON{
		ID:              s.ID,
		ItemName:        s.ItemName,
		Quantity:        s.Quantity,
		Price:           s.Price,
		TotalPrice:      s.TotalPrice,
		Consumption:     s.Consumption,
		Remaining:       s.Remaining,
		IsMiscellaneous: s.IsMiscellaneous,
		IsDrink:         s.IsDrink,
		Date:            s.Date.ISO(),
	}
}

// parseRequestDate parses an optional YYYY-MM-DD field, defaulting to today.
func parseRequestDate(s string) (core.Date, error) {
	if s == "" {
		return core.Today(), nil
	}
	return core.ParseDate(s)
}

// parseFilter builds a report filter from query parameters. All parameters
// are optional; empty values leave that dimension unconstrained.
func parseFilter(r *http.Request) (reports.Filter, error) {
	var f reports.Filter
	q := r.URL.Query()

	if v := q.Get("from"); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.DateFrom = d
	}
	if v := q.Get("to"); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.DateTo = d
	}
	if v := q.Get("member_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, core.ErrUnknownMember
		}
		f.MemberID = id
	}
	if v := q.Get("category"); v != "" {
		f.Category = reports.Category(v)
	}
	return f, nil
}

// handleMembers serves GET (list) and POST (enroll) on /api/members.
func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listMembers(w, r)
	case http.MethodPost:
		s.createMember(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, ok := s.membersCache.Get(membersCacheKey)
	if !ok {
		var err error
		members, err = s.repo.Members(r.Context())
		if err != nil {
			respondDomainError(w, err)
			return
		}
		s.membersCache.Set(membersCacheKey, members)
	}

	out := make([]memberJSON, 0, len(members))
	for _, m := range members {
		out = append(out, memberView(m))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) createMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string          `json:"name"`
		Rank         string          `json:"rank"`
		Contribution decimal.Decimal `json:"contribution"`
		JoinedAt     string          `json:"joined_at"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	joined, err := parseRequestDate(req.JoinedAt)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	m := core.Member{
		Name:         req.Name,
		Rank:         req.Rank,
		Contribution: req.Contribution,
		JoinedAt:     joined,
	}
	id, err := s.repo.AddMember(r.Context(), m)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateLedgerCaches()

	created, err := s.repo.Member(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, memberView(created))
}

// handleAddContribution credits cash paid in by a member.
func (s *Server) handleAddContribution(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		MemberID int64           `json:"member_id"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		respondDomainError(w, core.ErrInvalidAmount)
		return
	}

	if _, err := s.repo.Member(r.Context(), req.MemberID); err != nil {
		respondDomainError(w, err)
		return
	}
	if err := s.repo.AddContribution(r.Context(), req.MemberID, req.Amount); err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateLedgerCaches()

	updated, err := s.repo.Member(r.Context(), req.MemberID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, memberView(updated))
}

// handleStock serves GET (filtered expense list) and POST (purchase) on
// /api/stock.
func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listStock(w, r)
	case http.MethodPost:
		s.createStockItem(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listStock(w http.ResponseWriter, r *http.Request) {
	items, ok := s.stockCache.Get(stockCacheKey)
	if !ok {
		var err error
		items, err = s.repo.StockItems(r.Context())
		if err != nil {
			respondDomainError(w, err)
			return
		}
		s.stockCache.Set(stockCacheKey, items)
	}

	out := make([]stockItemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, stockItemView(item))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) createStockItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemName        string          `json:"item_name"`
		Quantity        decimal.Decimal `json:"quantity"`
		Price           decimal.Decimal `json:"price"`
		IsMiscellaneous bool            `json:"is_miscellaneous"`
		IsDrink         bool            `json:"is_drink"`
		Date            string          `json:"date"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := parseRequestDate(req.Date)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	item := core.StockItem{
		ItemName:        req.ItemName,
		Quantity:        req.Quantity,
		Price:           req.Price,
		IsMiscellaneous: req.IsMiscellaneous,
		IsDrink:         req.IsDrink,
		Date:            date,
	}
	id, err := s.repo.AddStockItem(r.Context(), item)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateLedgerCaches()

	item.ID = id
	item.TotalPrice = item.Quantity.Mul(item.Price)
	item.Remaining = item.Quantity
	respondJSON(w, http.StatusCreated, stockItemView(item))
}

// handleConsumeStock books consumption against a stock item.
func (s *Server) handleConsumeStock(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		ItemID   int64           `json:"item_id"`
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.repo.ConsumeStock(r.Context(), req.ItemID, req.Quantity); err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateLedgerCaches()
	respondJSON(w, http.StatusOK, map[string]string{"status": "consumed"})
}

// handleRemainingStock lists items with unconsumed quantity and their value.
func (s *Server) handleRemainingStock(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	items, total, err := s.reports.RemainingStock(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]stockItemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, stockItemView(item))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items":       out,
		"total_value": total,
	})
}

// handleMeals serves GET (filtered meal report) and POST (record a meal).
func (s *Server) handleMeals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listMeals(w, r)
	case http.MethodPost:
		s.createMeal(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listMeals(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	entries, err := s.reports.Meals(r.Context(), f)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]mealJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, mealJSON{
			ID:         e.ID,
			MemberID:   e.MemberID,
			MemberName: e.MemberName,
			Date:       e.Date.ISO(),
			FinalCost:  e.FinalCost,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) createMeal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID  int64           `json:"member_id"`
		Date      string          `json:"date"`
		FinalCost decimal.Decimal `json:"final_cost"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := parseRequestDate(req.Date)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	member, err := s.repo.Member(r.Context(), req.MemberID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	rec := core.MealRecord{MemberID: member.ID, Date: date, FinalCost: req.FinalCost}
	id, err := s.repo.AddMealRecord(r.Context(), rec)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateLedgerCaches()

	respondJSON(w, http.StatusCreated, mealJSON{
		ID:         id,
		MemberID:   member.ID,
		MemberName: member.Name,
		Date:       date.ISO(),
		FinalCost:  req.FinalCost,
	})
}

// handleDrinks serves GET (filtered drink report) and POST (record drinks).
func (s *Server) handleDrinks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listDrinks(w, r)
	case http.MethodPost:
		s.createDrink(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listDrinks(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	entries, err := s.reports.Drinks(r.Context(), f)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]drinkJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, drinkJSON{
			ID:         e.ID,
			MemberID:   e.MemberID,
			MemberName: e.MemberName,
			Date:       e.Date.ISO(),
			Quantity:   e.Quantity,
			TotalCost:  e.TotalCost,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) createDrink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID  int64           `json:"member_id"`
		Date      string          `json:"date"`
		Quantity  decimal.Decimal `json:"quantity"`
		TotalCost decimal.Decimal `json:"total_cost"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := parseRequestDate(req.Date)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	member, err := s.repo.Member(r.Context(), req.MemberID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	rec := core.DrinkRecord{MemberID: member.ID, Date: date, Quantity: req.Quantity, TotalCost: req.TotalCost}
	id, err := s.repo.AddDrinkRecord(r.Context(), rec)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateLedgerCaches()

	respondJSON(w, http.StatusCreated, drinkJSON{
		ID:         id,
		MemberID:   member.ID,
		MemberName: member.Name,
		Date:       date.ISO(),
		Quantity:   req.Quantity,
		TotalCost:  req.TotalCost,
	})
}

// handleExpenses lists the live expense ledger with category and date
// filters.
func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	f, err := parseFilter(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	items, err := s.reports.Expenses(r.Context(), f)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]stockItemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, stockItemView(item))
	}
	respondJSON(w, http.StatusOK, out)
}
