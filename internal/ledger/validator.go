package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateCustody verifies the recorded custody balance matches the sum of
// internal accounts. A mismatch means money left or entered custody without
// a corresponding journal, and the event that caused it must not commit.
func (v *InvariantValidator) ValidateCustody(assetID AssetID, recordedCustody int64) error {
	internal := v.tracker.CustodyTotal(assetID)
	if internal != recordedCustody {
		assetName, _ := GetAssetName(assetID)
		return fmt.Errorf("custody mismatch for %s: accounts=%d, recorded=%d",
			assetName, internal, recordedCustody)
	}
	return nil
}

// ValidateMarginNonNegative checks a hedger's margin custody >= 0
func (v *InvariantValidator) ValidateMarginNonNegative(hedgerID uuid.UUID, assetID AssetID) error {
	key := NewHedgerAccountKey(hedgerID, SubTypeMargin, assetID)
	return v.tracker.ValidateNonNegative(key)
}

// ValidatePoolsNonNegative checks both yield pools >= 0
func (v *InvariantValidator) ValidatePoolsNonNegative(assetID AssetID) error {
	if err := v.tracker.ValidateNonNegative(NewPoolAccountKey(PoolUser, assetID)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewPoolAccountKey(PoolHedger, assetID))
}
