// Package memory is the in-process export backend used by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"messbook/internal/export"
)

type Writer struct {
	mu      sync.Mutex
	reports []export.Report
	failErr error
}

var _ export.Writer = (*Writer)(nil)

func New() *Writer {
	return &Writer{}
}

// FailWith makes every subsequent Write return err.
func (w *Writer) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failErr = err
}

func (w *Writer) Write(_ context.Context, r export.Report) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failErr != nil {
		return "", w.failErr
	}
	w.reports = append(w.reports, r)
	return fmt.Sprintf("mem:%d", len(w.reports)), nil
}

// Reports returns a copy of everything written so far.
func (w *Writer) Reports() []export.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]export.Report(nil), w.reports...)
}
