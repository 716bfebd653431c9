// Package worker exports closure reports asynchronously: it consumes AMQP
// report requests and periodically sweeps closures whose export never
// completed, as a backstop for lost messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"messbook/internal/amqp"
	"messbook/internal/core"
	"messbook/internal/export"
	"messbook/internal/reports"
	"messbook/internal/storage"
)

type ExportWorker struct {
	repo      *storage.Repository
	reports   *reports.Service
	writer    export.Writer
	batchSize int
}

func NewExportWorker(repo *storage.Repository, reportsSvc *reports.Service, writer export.Writer, batchSize int) *ExportWorker {
	return &ExportWorker{
		repo:      repo,
		reports:   reportsSvc,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleReportMessage processes one closure report request from AMQP.
func (w *ExportWorker) HandleReportMessage(ctx context.Context, msg *amqp.ClosureReportMessage) error {
	slog.InfoContext(ctx, "Processing closure report message", "closure_id", msg.ClosureID)

	if err := w.exportClosure(ctx, msg.ClosureID); err != nil {
		// A vanished closure is not retryable; ack and move on.
		if errors.Is(err, core.ErrClosureNotFound) {
			slog.WarnContext(ctx, "Closure no longer exists, dropping message",
				"closure_id", msg.ClosureID)
			return nil
		}
		return err
	}
	return nil
}

// ProcessPendingClosures exports any closures still marked pending. This is a
// backup mechanism in case AMQP messages are lost.
func (w *ExportWorker) ProcessPendingClosures(ctx context.Context) error {
	pending, err := w.repo.PendingExportClosures(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending closures: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending closure exports", "count", len(pending))

	for _, closure := range pending {
		if err := w.exportClosure(ctx, closure.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export closure", "closure_id", closure.ID, "error", err)
			continue
		}
	}
	return nil
}

// StartupCheck sweeps a larger batch once at worker startup to recover from
// downtime.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.repo.PendingExportClosures(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending closures for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending closure exports found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending closure exports on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0
	for _, closure := range pending {
		if err := w.exportClosure(ctx, closure.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export closure during startup",
				"closure_id", closure.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup export check completed",
		"total", len(pending),
		"exported", successCount,
		"errors", errorCount)
	return nil
}

func (w *ExportWorker) exportClosure(ctx context.Context, closureID int64) error {
	report, err := w.reports.ClosureReport(ctx, closureID)
	if err != nil {
		return fmt.Errorf("build closure report: %w", err)
	}

	dest, err := w.writer.Write(ctx, report)
	if err != nil {
		if markErr := w.repo.MarkClosureExportError(ctx, closureID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error",
				"closure_id", closureID, "error", markErr)
		}
		return fmt.Errorf("write closure report: %w", err)
	}

	if err := w.repo.MarkClosureExported(ctx, closureID); err != nil {
		// The report was written; don't fail the message over bookkeeping.
		slog.ErrorContext(ctx, "Failed to mark closure exported",
			"closure_id", closureID, "error", err)
	}

	slog.InfoContext(ctx, "Closure report exported",
		"closure_id", closureID,
		"destination", dest)
	return nil
}
