package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// UndoKind tags a compensating action for inspection and logging
type UndoKind string

const (
	UndoRestoreTicketStatus    UndoKind = "restoreTicketStatus"
	UndoRestoreRoutePassStatus UndoKind = "restoreRoutePassStatus"
)

// UndoOp is one recorded compensating action. Kind, EntityID and
// PriorStatus describe the effect being reversed; Run performs it.
// Run must be idempotent: the undo stack may be replayed after a
// partial failure.
type UndoOp struct {
	Kind        UndoKind
	EntityID    uuid.UUID
	PriorStatus string
	Run         func(ctx context.Context, q database.Querier) error
}

// UndoFunc replays a builder's recorded undo ops in reverse order
// under a fresh database transaction
type UndoFunc func(ctx context.Context) error

// NopUndo is the undo of a transaction with no compensating actions
func NopUndo(context.Context) error { return nil }
