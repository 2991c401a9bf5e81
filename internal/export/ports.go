// Package export defines the outbound ports for mirroring transactions
// to an external spreadsheet.
package export

import (
	"context"

	"tally/internal/core"
)

// RowAppender appends a transaction as a row and returns a reference
// to where it landed.
type RowAppender interface {
	AppendTransaction(ctx context.Context, t core.Transaction) (rowRef string, err error)
}
