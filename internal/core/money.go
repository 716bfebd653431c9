// This file contains decimal money helpers used by the distribution and
// settlement math. Amounts are kept as decimals end to end; the ledger's
// REAL columns are converted at the storage boundary.
package core

import "github.com/shopspring/decimal"

// Display rounds an amount to the two decimal places shown on reports.
// Intermediate math is never rounded; only the rendered value is.
func Display(d decimal.Decimal) string {
	return d.StringFixed(2)
}
