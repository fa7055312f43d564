package sheets

import (
	"context"
	"time"

	"paghetta/internal/core"
)

// MirrorRow is one transaction flattened for the family spreadsheet.
type MirrorRow struct {
	Date    time.Time
	Account string
	Kind    core.Kind
	Amount  core.Money
	Note    string
}

// TransactionWriter is the port for outbound mirror adapters.
type TransactionWriter interface {
	Append(ctx context.Context, row MirrorRow) (rowRef string, err error)
}
