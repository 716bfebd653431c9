// Package core holds the mess-accounting domain types shared by the storage,
// closing and reporting layers.
package core

import "time"

// Date is a calendar day. The ledger stores dates as ISO strings so the
// BETWEEN comparisons used by archival stay lexicographic-safe.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar day.
func Today() Date {
	now := time.Now()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// ParseDate parses an ISO YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// ISO renders the date as YYYY-MM-DD, the storage representation.
func (d Date) ISO() string {
	return d.Format(dateLayout)
}

// IsEmpty reports whether the date is unset (used for optional filters).
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// MinDate returns the earliest of the non-empty dates, or an empty Date when
// none are set.
func MinDate(dates ...Date) Date {
	var min Date
	for _, d := range dates {
		if d.IsEmpty() {
			continue
		}
		if min.IsEmpty() || d.Before(min.Time) {
			min = d
		}
	}
	return min
}
