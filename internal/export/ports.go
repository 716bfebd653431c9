// Package export defines the report export contract: a closure report is a
// set of named tables, and a Writer persists them somewhere (an Excel file, a
// Google spreadsheet, memory in tests).
package export

import "context"

type (
	// Table is one sheet of a report: a header row plus data rows, already
	// formatted for display.
	Table struct {
		Name    string
		Headers []string
		Rows    [][]string
	}

	// Report is a complete closure report ready to be written.
	Report struct {
		// Stem names the destination without extension or timestamp; the
		// writer decides the final location.
		Stem   string
		Tables []Table
	}

	// Writer persists a report and returns where it ended up.
	Writer interface {
		Write(ctx context.Context, r Report) (destination string, err error)
	}
)
