package reports

import (
	"strings"

	"messbook/internal/core"
)

// Category narrows expense queries to one class of stock item.
type Category string

const (
	CategoryAll    Category = "all"
	CategoryNormal Category = "normal"
	CategoryMisc   Category = "miscellaneous"
	CategoryDrink  Category = "drink"
)

// Filter is the shared query configuration for report screens. Zero values
// mean "no constraint": empty dates skip the range bounds, MemberID 0 means
// all members, empty Category means all categories.
type Filter struct {
	DateFrom core.Date
	DateTo   core.Date
	MemberID int64
	Category Category
}

// whereClause renders the filter into a WHERE fragment and its arguments.
// dateColumn and memberColumn name the table's columns; memberColumn may be
// empty for tables without a member reference.
func (f Filter) whereClause(dateColumn, memberColumn string) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if !f.DateFrom.IsEmpty() {
		conds = append(conds, dateColumn+" >= ?")
		args = append(args, f.DateFrom.ISO())
	}
	if !f.DateTo.IsEmpty() {
		conds = append(conds, dateColumn+" <= ?")
		args = append(args, f.DateTo.ISO())
	}
	if f.MemberID > 0 && memberColumn != "" {
		conds = append(conds, memberColumn+" = ?")
		args = append(args, f.MemberID)
	}

	switch f.Category {
	case CategoryNormal:
		conds = append(conds, "is_miscellaneous = 0 AND is_drink = 0")
	case CategoryMisc:
		conds = append(conds, "is_miscellaneous = 1")
	case CategoryDrink:
		conds = append(conds, "is_drink = 1")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
