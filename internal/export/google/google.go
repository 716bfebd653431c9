// Package google writes closure reports into a Google spreadsheet, one sheet
// per report table. Authentication uses a service account, resolved the same
// way on every deployment: explicit JSON, a key file, or application default
// credentials.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"messbook/internal/export"
)

type Writer struct {
	svc           *gsheet.Service
	spreadsheetID string
}

var _ export.Writer = (*Writer)(nil)

// NewFromEnv creates a spreadsheet writer from the environment.
// Required: GOOGLE_SPREADSHEET_ID.
// Auth: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// application default credentials, in that order.
func NewFromEnv(ctx context.Context) (*Writer, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Writer{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	if raw := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); raw != "" {
		return gsheet.NewService(ctx, goption.WithCredentialsJSON([]byte(raw)))
	}
	if file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE")); file != "" {
		return gsheet.NewService(ctx, goption.WithCredentialsFile(file))
	}
	return gsheet.NewService(ctx)
}

// Write replaces one spreadsheet sheet per report table. Sheets are created
// on first use; existing content in the target range is overwritten.
func (w *Writer) Write(ctx context.Context, r export.Report) (string, error) {
	for _, table := range r.Tables {
		sheetName := fmt.Sprintf("%s %s", r.Stem, table.Name)
		if err := w.ensureSheet(ctx, sheetName); err != nil {
			return "", err
		}

		values := make([][]any, 0, len(table.Rows)+1)
		header := make([]any, len(table.Headers))
		for i, h := range table.Headers {
			header[i] = h
		}
		values = append(values, header)
		for _, row := range table.Rows {
			cells := make([]any, len(row))
			for i, v := range row {
				cells[i] = v
			}
			values = append(values, cells)
		}

		_, err := w.svc.Spreadsheets.Values.
			Update(w.spreadsheetID, fmt.Sprintf("'%s'!A1", sheetName), &gsheet.ValueRange{Values: values}).
			ValueInputOption("USER_ENTERED").
			Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("update sheet %q: %w", sheetName, err)
		}
	}

	slog.InfoContext(ctx, "Closure report written to spreadsheet",
		"spreadsheet_id", w.spreadsheetID, "sheets", len(r.Tables))
	return w.spreadsheetID, nil
}

func (w *Writer) ensureSheet(ctx context.Context, name string) error {
	_, err := w.svc.Spreadsheets.BatchUpdate(w.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: name},
			},
		}},
	}).Context(ctx).Do()
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create sheet %q: %w", name, err)
	}
	return nil
}
