package mocks

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/skylinetransit/ticketing/pkg/database"
)

// StubTxRunner runs the workflow function directly with no database
// transaction underneath. Isolation levels requested by workflows are
// recorded for assertion.
type StubTxRunner struct {
	Querier    database.Querier
	Isolations []pgx.TxIsoLevel
}

func (s *StubTxRunner) WithinTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context, q database.Querier) error) error {
	s.Isolations = append(s.Isolations, iso)
	return fn(ctx, s.Querier)
}
