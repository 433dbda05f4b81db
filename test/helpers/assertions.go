package helpers

import (
	"math"
	"testing"

	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/stretchr/testify/assert"
)

// AssertBalanced verifies the zero-sum invariant on a transaction
func AssertBalanced(t *testing.T, txn *ledger.Transaction) {
	t.Helper()
	assert.Less(t, math.Abs(txn.SignedSum()), ledger.ZeroSumTolerance,
		"transaction debits and credits must cancel out")
}

// AssertTypeTotal verifies the summed debit and credit of one item
// type to the cent
func AssertTypeTotal(t *testing.T, txn *ledger.Transaction, itemType ledger.ItemType, debit, credit float64) {
	t.Helper()
	total := txn.Totals()[itemType]
	assert.InDelta(t, debit, total.Debit, 1e-9, "%s debit", itemType)
	assert.InDelta(t, credit, total.Credit, 1e-9, "%s credit", itemType)
}
