// Package memory is an in-process row appender used in tests and
// deployments without a spreadsheet.
package memory

import (
	"context"
	"fmt"
	"sync"

	"tally/internal/core"
	"tally/internal/export"
)

type Appender struct {
	mu   sync.Mutex
	rows []core.Transaction
}

var _ export.RowAppender = (*Appender)(nil)

func New() *Appender {
	return &Appender{}
}

// AppendTransaction stores the row and returns a synthetic reference.
func (a *Appender) AppendTransaction(_ context.Context, t core.Transaction) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, t)
	return fmt.Sprintf("mem:%d", len(a.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (a *Appender) Rows() []core.Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.Transaction(nil), a.rows...)
}
