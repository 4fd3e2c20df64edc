package ledger

import (
	"HedgeCore/internal/event"
	fpmath "HedgeCore/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Add reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// Sequence returns the next journal sequence to be assigned
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence restores the journal sequence after snapshot recovery
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(b *Batch, debit, credit AccountKey, assetID AssetID, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GeneratePositionOpen creates journals for a new hedge position.
// Collateral arrives gross; the entry fee leg and the net margin leg both
// draw from external:deposits so custody grows by exactly the gross amount.
func (jg *JournalGenerator) GeneratePositionOpen(
	evt *event.PositionOpen,
	netMargin int64,
	fee int64,
	assetID AssetID,
) (*Batch, error) {
	if netMargin <= 0 {
		return nil, fmt.Errorf("position open has non-positive net margin: %d", netMargin)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 2)

	jg.appendJournal(batch,
		NewHedgerAccountKey(evt.Hedger, SubTypeMargin, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, netMargin, JournalTypeMarginDeposit)

	if fee > 0 {
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolFees, assetID),
			NewExternalAccountKey(SubTypeExternalDeposits, assetID),
			assetID, fee, JournalTypeEntryFee)
	}

	jg.sequence++
	return batch, nil
}

// GenerateMarginAdd creates journals for additional collateral on an open position
func (jg *JournalGenerator) GenerateMarginAdd(
	evt *event.MarginAdd,
	netAmount int64,
	fee int64,
	assetID AssetID,
) (*Batch, error) {
	if netAmount <= 0 {
		return nil, fmt.Errorf("margin add has non-positive net amount: %d", netAmount)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 2)

	jg.appendJournal(batch,
		NewHedgerAccountKey(evt.Hedger, SubTypeMargin, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, netAmount, JournalTypeMarginDeposit)

	if fee > 0 {
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolFees, assetID),
			NewExternalAccountKey(SubTypeExternalDeposits, assetID),
			assetID, fee, JournalTypeMarginFee)
	}

	jg.sequence++
	return batch, nil
}

// GenerateMarginRemove creates journals for a margin withdrawal.
// Pre-check: the hedger's custodied margin must cover the amount.
func (jg *JournalGenerator) GenerateMarginRemove(
	evt *event.MarginRemove,
	assetID AssetID,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientMargin(evt.Hedger, assetID, evt.Amount); err != nil {
		return nil, fmt.Errorf("margin remove pre-check failed: %w", err)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 1)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		NewHedgerAccountKey(evt.Hedger, SubTypeMargin, assetID),
		assetID, evt.Amount, JournalTypeMarginWithdraw)

	jg.sequence++
	return batch, nil
}

// GeneratePositionClose creates journals for settling a closed position.
// Unrealized PnL settles against the backing held in protocol:settlement,
// the exit fee moves to protocol:fees, and the remaining margin pays out.
// Pre-check: margin after PnL and fee must cover the payout exactly.
func (jg *JournalGenerator) GeneratePositionClose(
	evt *event.PositionClose,
	netPnL int64,
	exitFee int64,
	payout int64,
	assetID AssetID,
) (*Batch, error) {
	margin := jg.balanceTracker.GetHedgerMargin(evt.Hedger, assetID)
	if margin+netPnL-exitFee < payout {
		return nil, fmt.Errorf("close pre-check failed: margin=%d pnl=%d fee=%d payout=%d",
			margin, netPnL, exitFee, payout)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 3)

	jg.appendPnLSettle(batch, evt.Hedger, netPnL, assetID)

	if exitFee > 0 {
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolFees, assetID),
			NewHedgerAccountKey(evt.Hedger, SubTypeMargin, assetID),
			assetID, exitFee, JournalTypeExitFee)
	}

	if payout > 0 {
		jg.appendJournal(batch,
			NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
			NewHedgerAccountKey(evt.Hedger, SubTypeMargin, assetID),
			assetID, payout, JournalTypeMarginWithdraw)
	}

	jg.sequence++
	return batch, nil
}

// GenerateLiquidation creates journals for a forced close.
// After PnL settles, the penalty is carved out of remaining margin: the
// liquidator's share pays out immediately, the rest accrues to protocol
// fees, and whatever margin survives returns to the position owner.
func (jg *JournalGenerator) GenerateLiquidation(
	evt *event.PositionLiquidate,
	netPnL int64,
	liquidatorReward int64,
	protocolPenalty int64,
	ownerPayout int64,
	assetID AssetID,
) (*Batch, error) {
	margin := jg.balanceTracker.GetHedgerMargin(evt.Hedger, assetID)
	if margin+netPnL < liquidatorReward+protocolPenalty+ownerPayout {
		return nil, fmt.Errorf("liquidation pre-check failed: margin=%d pnl=%d reward=%d penalty=%d payout=%d",
			margin, netPnL, liquidatorReward, protocolPenalty, ownerPayout)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 4)

	jg.appendPnLSettle(batch, evt.Hedger, netPnL, assetID)

	if liquidatorReward > 0 {
		jg.appendJournal(batch,
			NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
			NewHedgerAccountKey(evt.Hedger, SubTypeMargin, assetID),
			assetID, liquidatorReward, JournalTypeLiquidationReward)
	}

	if protocolPenalty > 0 {
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolFees, assetID),
			NewHedgerAccountKey(evt.Hedger, SubTypeMargin, assetID),
			assetID, protocolPenalty, JournalTypeLiquidationPenalty)
	}

	if ownerPayout > 0 {
		jg.appendJournal(batch,
			NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
			NewHedgerAccountKey(evt.Hedger, SubTypeMargin, assetID),
			assetID, ownerPayout, JournalTypeMarginWithdraw)
	}

	jg.sequence++
	return batch, nil
}

// appendPnLSettle books unrealized PnL against the settlement account.
// Hedger profit is paid from backing; hedger loss replenishes backing.
func (jg *JournalGenerator) appendPnLSettle(batch *Batch, hedgerID uuid.UUID, netPnL int64, assetID AssetID) {
	if netPnL > 0 {
		jg.appendJournal(batch,
			NewHedgerAccountKey(hedgerID, SubTypeMargin, assetID),
			NewProtocolAccountKey(SubTypeProtocolSettlement, assetID),
			assetID, netPnL, JournalTypePnLSettle)
	} else if netPnL < 0 {
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolSettlement, assetID),
			NewHedgerAccountKey(hedgerID, SubTypeMargin, assetID),
			assetID, -netPnL, JournalTypePnLSettle)
	}
}

// GenerateEmergencyClose settles a governance force-close. No exit fee and
// no liquidation penalty apply; whatever margin survives settlement returns
// to the position owner in full.
func (jg *JournalGenerator) GenerateEmergencyClose(
	eventRef string,
	hedger uuid.UUID,
	netPnL int64,
	payout int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	margin := jg.balanceTracker.GetHedgerMargin(hedger, assetID)
	if margin+netPnL < payout {
		return nil, fmt.Errorf("emergency close pre-check failed: margin=%d pnl=%d payout=%d",
			margin, netPnL, payout)
	}

	batch := jg.newBatch(eventRef, timestamp, 2)

	jg.appendPnLSettle(batch, hedger, netPnL, assetID)

	if payout > 0 {
		jg.appendJournal(batch,
			NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
			NewHedgerAccountKey(hedger, SubTypeMargin, assetID),
			assetID, payout, JournalTypeMarginWithdraw)
	}

	jg.sequence++
	return batch, nil
}

// GenerateRewardClaim pays accrued hedging rewards from the hedger yield pool
func (jg *JournalGenerator) GenerateRewardClaim(
	evt *event.RewardClaim,
	amount int64,
	assetID AssetID,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reward claim has non-positive amount: %d", amount)
	}
	if err := jg.balanceTracker.ValidateSufficientPool(PoolHedger, assetID, amount); err != nil {
		return nil, fmt.Errorf("reward claim pre-check failed: %w", err)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 1)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		NewPoolAccountKey(PoolHedger, assetID),
		assetID, amount, JournalTypeHedgingReward)

	jg.sequence++
	return batch, nil
}

// GenerateVaultMint books incoming backing for newly minted synthetic
func (jg *JournalGenerator) GenerateVaultMint(
	evt *event.VaultMint,
	assetID AssetID,
) (*Batch, error) {
	if evt.Notional <= 0 {
		return nil, fmt.Errorf("vault mint has non-positive notional: %d", evt.Notional)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 1)

	jg.appendJournal(batch,
		NewProtocolAccountKey(SubTypeProtocolSettlement, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, evt.Notional, JournalTypeBackingDeposit)

	jg.sequence++
	return batch, nil
}

// GenerateVaultRedeem creates journals for a fill-mode redemption.
// The redeemer is paid the current value of the burned synthetic from the
// settlement account; the gap between entry-priced backing and current value
// crystallizes into each affected hedger's margin (signed per hedger).
// Pre-checks: settlement covers payout plus net positive crystallization,
// and every negative crystallization is covered by that hedger's margin.
func (jg *JournalGenerator) GenerateVaultRedeem(
	evt *event.VaultRedeem,
	currentValue int64,
	crystallized []fpmath.Share,
	assetID AssetID,
) (*Batch, error) {
	settlementNeed := currentValue
	for _, c := range crystallized {
		settlementNeed += c.Amount
		if c.Amount < 0 {
			hedgerID := uuid.UUID(c.Key)
			if err := jg.balanceTracker.ValidateSufficientMargin(hedgerID, assetID, -c.Amount); err != nil {
				return nil, fmt.Errorf("redeem crystallization pre-check failed for %s: %w", hedgerID, err)
			}
		}
	}
	if settlement := jg.balanceTracker.GetSettlement(assetID); settlement < settlementNeed {
		return nil, fmt.Errorf("redeem pre-check failed: settlement=%d, need=%d", settlement, settlementNeed)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 1+len(crystallized))

	if currentValue > 0 {
		jg.appendJournal(batch,
			NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
			NewProtocolAccountKey(SubTypeProtocolSettlement, assetID),
			assetID, currentValue, JournalTypeBackingRelease)
	}

	for _, c := range crystallized {
		hedgerID := uuid.UUID(c.Key)
		if c.Amount > 0 {
			jg.appendJournal(batch,
				NewHedgerAccountKey(hedgerID, SubTypeMargin, assetID),
				NewProtocolAccountKey(SubTypeProtocolSettlement, assetID),
				assetID, c.Amount, JournalTypeCrystallize)
		} else if c.Amount < 0 {
			jg.appendJournal(batch,
				NewProtocolAccountKey(SubTypeProtocolSettlement, assetID),
				NewHedgerAccountKey(hedgerID, SubTypeMargin, assetID),
				assetID, -c.Amount, JournalTypeCrystallize)
		}
	}

	jg.sequence++
	return batch, nil
}

// GenerateRedemptionDebit creates journals for a direct-debit redemption.
// Each affected hedger's margin is debited pro-rata into settlement, and the
// summed amount pays out to the redeemer in one leg.
func (jg *JournalGenerator) GenerateRedemptionDebit(
	evt *event.RedemptionDebit,
	debits []fpmath.Share,
	assetID AssetID,
) (*Batch, error) {
	var total int64
	for _, d := range debits {
		if d.Amount <= 0 {
			continue
		}
		hedgerID := uuid.UUID(d.Key)
		if err := jg.balanceTracker.ValidateSufficientMargin(hedgerID, assetID, d.Amount); err != nil {
			return nil, fmt.Errorf("redemption debit pre-check failed for %s: %w", hedgerID, err)
		}
		total += d.Amount
	}
	if total <= 0 {
		return nil, fmt.Errorf("redemption debit has nothing to debit")
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, len(debits)+1)

	for _, d := range debits {
		if d.Amount <= 0 {
			continue
		}
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolSettlement, assetID),
			NewHedgerAccountKey(uuid.UUID(d.Key), SubTypeMargin, assetID),
			assetID, d.Amount, JournalTypeRedemptionDebit)
	}

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		NewProtocolAccountKey(SubTypeProtocolSettlement, assetID),
		assetID, total, JournalTypeBackingRelease)

	jg.sequence++
	return batch, nil
}

// GenerateUserDeposit books a depositor's principal entering custody
func (jg *JournalGenerator) GenerateUserDeposit(
	evt *event.UserDeposit,
	assetID AssetID,
) (*Batch, error) {
	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 1)

	jg.appendJournal(batch,
		NewDepositorAccountKey(evt.User, SubTypePrincipal, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, evt.Amount, JournalTypePrincipalDeposit)

	jg.sequence++
	return batch, nil
}

// GenerateUserWithdraw books a depositor's principal leaving custody.
// Pre-check: the depositor must have sufficient principal.
func (jg *JournalGenerator) GenerateUserWithdraw(
	evt *event.UserWithdraw,
	assetID AssetID,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientPrincipal(evt.User, assetID, evt.Amount); err != nil {
		return nil, fmt.Errorf("withdraw pre-check failed: %w", err)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 1)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		NewDepositorAccountKey(evt.User, SubTypePrincipal, assetID),
		assetID, evt.Amount, JournalTypePrincipalWithdraw)

	jg.sequence++
	return batch, nil
}

// GenerateYieldIngest books one yield deposit: fee skim, the split credited
// to each pool side, and the unallocatable truncation residuals swept from
// the pools to protocol fees so each pool equals the sum of pending claims.
func (jg *JournalGenerator) GenerateYieldIngest(
	eventRef string,
	fee int64,
	userShare int64,
	hedgerShare int64,
	userResidual int64,
	hedgerResidual int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if fee < 0 || userShare < 0 || hedgerShare < 0 || userResidual < 0 || hedgerResidual < 0 {
		return nil, fmt.Errorf("yield ingest has negative component")
	}
	if fee+userShare+hedgerShare == 0 {
		return nil, fmt.Errorf("yield ingest has nothing to book")
	}

	batch := jg.newBatch(eventRef, timestamp, 5)

	if fee > 0 {
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolFees, assetID),
			NewExternalAccountKey(SubTypeExternalDeposits, assetID),
			assetID, fee, JournalTypeYieldFee)
	}

	if userShare > 0 {
		jg.appendJournal(batch,
			NewPoolAccountKey(PoolUser, assetID),
			NewExternalAccountKey(SubTypeExternalDeposits, assetID),
			assetID, userShare, JournalTypeYieldIngest)
	}

	if hedgerShare > 0 {
		jg.appendJournal(batch,
			NewPoolAccountKey(PoolHedger, assetID),
			NewExternalAccountKey(SubTypeExternalDeposits, assetID),
			assetID, hedgerShare, JournalTypeYieldIngest)
	}

	if userResidual > 0 {
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolFees, assetID),
			NewPoolAccountKey(PoolUser, assetID),
			assetID, userResidual, JournalTypeRoundingResidual)
	}

	if hedgerResidual > 0 {
		jg.appendJournal(batch,
			NewProtocolAccountKey(SubTypeProtocolFees, assetID),
			NewPoolAccountKey(PoolHedger, assetID),
			assetID, hedgerResidual, JournalTypeRoundingResidual)
	}

	jg.sequence++
	return batch, nil
}

// GenerateYieldClaim pays a participant's pending yield from their pool side
func (jg *JournalGenerator) GenerateYieldClaim(
	evt *event.YieldClaim,
	amount int64,
	assetID AssetID,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("yield claim has non-positive amount: %d", amount)
	}

	side := PoolUser
	if evt.Side == event.SideHedger {
		side = PoolHedger
	}
	if err := jg.balanceTracker.ValidateSufficientPool(side, assetID, amount); err != nil {
		return nil, fmt.Errorf("yield claim pre-check failed: %w", err)
	}

	batch := jg.newBatch(evt.RequestID.String(), evt.Timestamp, 1)

	jg.appendJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		NewPoolAccountKey(side, assetID),
		assetID, amount, JournalTypeYieldClaim)

	jg.sequence++
	return batch, nil
}

// GeneratePoolRebalance moves unclaimed yield between the two pool sides.
// Governance-only; custody is unchanged.
func (jg *JournalGenerator) GeneratePoolRebalance(
	eventRef string,
	amount int64,
	toHedger bool,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("pool rebalance has non-positive amount: %d", amount)
	}

	from, to := PoolHedger, PoolUser
	if toHedger {
		from, to = PoolUser, PoolHedger
	}
	if err := jg.balanceTracker.ValidateSufficientPool(from, assetID, amount); err != nil {
		return nil, fmt.Errorf("pool rebalance pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewPoolAccountKey(to, assetID),
		NewPoolAccountKey(from, assetID),
		assetID, amount, JournalTypePoolRebalance)

	jg.sequence++
	return batch, nil
}
