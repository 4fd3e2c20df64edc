package core

import (
	"errors"
	"fmt"

	"HedgeCore/internal/ledger"
)

var (
	// ErrReentrantCall rejects a nested ProcessEvent while one is in flight.
	ErrReentrantCall = errors.New("reentrant core call")

	// ErrCustodyInvariant rejects an event whose staged journals would move
	// more collateral out of custody than custody holds.
	ErrCustodyInvariant = errors.New("custody invariant violated")
)

// custodyDelta sums the external-boundary legs of a staged batch. Inflow is
// collateral entering custody (credit from external:deposits), outflow is
// collateral leaving (debit to external:withdrawals). Internal transfers
// never touch either.
func custodyDelta(batch *ledger.Batch) (inflow, outflow int64) {
	if batch == nil {
		return 0, 0
	}
	for _, j := range batch.Journals {
		if j.CreditAccount.Scope == ledger.AccountScopeExternal {
			inflow += j.Amount
		}
		if j.DebitAccount.Scope == ledger.AccountScopeExternal {
			outflow += j.Amount
		}
	}
	return inflow, outflow
}

// checkStagedCustody verifies a staged batch cannot drain custody below zero.
// Runs before the batch is applied, so a violation rejects the event with
// state untouched.
func checkStagedCustody(recorded int64, batch *ledger.Batch) error {
	inflow, outflow := custodyDelta(batch)
	if recorded+inflow-outflow < 0 {
		return fmt.Errorf("staged outflow %d exceeds custody %d (inflow %d): %w",
			outflow, recorded, inflow, ErrCustodyInvariant)
	}
	return nil
}
