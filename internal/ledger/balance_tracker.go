package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === Typed Balance Queries ===

// GetHedgerMargin returns the custodied margin for one hedger
func (bt *BalanceTracker) GetHedgerMargin(hedgerID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewHedgerAccountKey(hedgerID, SubTypeMargin, assetID))
}

// GetDepositorPrincipal returns a depositor's custodied principal
func (bt *BalanceTracker) GetDepositorPrincipal(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewDepositorAccountKey(userID, SubTypePrincipal, assetID))
}

// GetPoolYield returns the unclaimed yield held by one pool side
func (bt *BalanceTracker) GetPoolYield(side string, assetID AssetID) int64 {
	return bt.GetBalance(NewPoolAccountKey(side, assetID))
}

// GetProtocolFees returns accumulated protocol fees
func (bt *BalanceTracker) GetProtocolFees(assetID AssetID) int64 {
	return bt.GetBalance(NewProtocolAccountKey(SubTypeProtocolFees, assetID))
}

// GetSettlement returns the vault backing held in the settlement account
func (bt *BalanceTracker) GetSettlement(assetID AssetID) int64 {
	return bt.GetBalance(NewProtocolAccountKey(SubTypeProtocolSettlement, assetID))
}

// CustodyTotal sums every internal (non-external) balance for one asset.
// This is the amount the custody wallet must hold; the guard compares it
// against the recorded custody balance after every applied event.
func (bt *BalanceTracker) CustodyTotal(assetID AssetID) int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.AssetID != assetID || key.Scope == AccountScopeExternal {
			continue
		}
		total += balance
	}
	return total
}

// === Invariant Checks ===

// ValidateSufficientMargin checks a hedger's custodied margin covers a debit
func (bt *BalanceTracker) ValidateSufficientMargin(hedgerID uuid.UUID, assetID AssetID, required int64) error {
	margin := bt.GetHedgerMargin(hedgerID, assetID)
	if margin < required {
		return fmt.Errorf("insufficient margin custody: have=%d, need=%d", margin, required)
	}
	return nil
}

// ValidateSufficientPrincipal checks a depositor's principal covers a withdrawal
func (bt *BalanceTracker) ValidateSufficientPrincipal(userID uuid.UUID, assetID AssetID, required int64) error {
	principal := bt.GetDepositorPrincipal(userID, assetID)
	if principal < required {
		return fmt.Errorf("insufficient principal: have=%d, need=%d", principal, required)
	}
	return nil
}

// ValidateSufficientPool checks a yield pool side covers a payout
func (bt *BalanceTracker) ValidateSufficientPool(side string, assetID AssetID, required int64) error {
	balance := bt.GetPoolYield(side, assetID)
	if balance < required {
		return fmt.Errorf("insufficient %s pool balance: have=%d, need=%d", side, balance, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances from a snapshot
func (bt *BalanceTracker) Restore(snapshot map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(snapshot))
	for k, v := range snapshot {
		bt.balances[k] = v
	}
}
