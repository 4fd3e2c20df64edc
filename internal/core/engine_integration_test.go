package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"HedgeCore/internal/auth"
	"HedgeCore/internal/core"
	"HedgeCore/internal/event"
	"HedgeCore/internal/ledger"
	"HedgeCore/internal/state"
)

// --- Test helpers ---

// All timestamps are epoch microseconds clustered around a fixed base so
// price staleness (5 minutes) and the holding period (24 hours) behave the
// same on every run. The core never reads the wall clock.
const (
	baseTime = int64(1_700_000_000_000_000)
	oneSec   = int64(1_000_000)
	oneHour  = int64(3_600_000_000)

	// 0.001 USD per ARS at the 1e8 price scale
	entryPrice = int64(100_000)
)

// newTestCore creates a DeterministicCore with buffered channels, no DB
// checker, no metrics, and the default closed authorizer (governance and
// yield denied, liquidation permissionless).
func newTestCore() (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(core.Config{
		PersistChan:    persistChan,
		ProjectionChan: projChan,
	})
	return c, persistChan, projChan
}

// newAuthorizedCore is newTestCore with an explicit role set.
func newAuthorizedCore(a auth.Authorizer) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(core.Config{
		PersistChan:    persistChan,
		ProjectionChan: projChan,
		Authorizer:     a,
	})
	return c, persistChan, projChan
}

func mustRateUpdate(price, priceSeq, ts int64) *event.RateUpdate {
	return &event.RateUpdate{
		Pair:          "ARS/USD",
		Price:         price,
		Valid:         true,
		PriceSequence: priceSeq,
		Timestamp:     ts,
	}
}

func mustPositionOpen(hedger uuid.UUID, collateral int64, leverage int32, seq, ts int64) *event.PositionOpen {
	return &event.PositionOpen{
		RequestID:  uuid.New(),
		Hedger:     hedger,
		Collateral: collateral,
		Leverage:   leverage,
		Sequence:   seq,
		Timestamp:  ts,
	}
}

func mustMarginAdd(hedger, positionID uuid.UUID, amount, seq, ts int64) *event.MarginAdd {
	return &event.MarginAdd{
		RequestID:  uuid.New(),
		Hedger:     hedger,
		PositionID: positionID,
		Amount:     amount,
		Sequence:   seq,
		Timestamp:  ts,
	}
}

func mustMarginRemove(hedger, positionID uuid.UUID, amount, seq, ts int64) *event.MarginRemove {
	return &event.MarginRemove{
		RequestID:  uuid.New(),
		Hedger:     hedger,
		PositionID: positionID,
		Amount:     amount,
		Sequence:   seq,
		Timestamp:  ts,
	}
}

func mustPositionClose(hedger, positionID uuid.UUID, seq, ts int64) *event.PositionClose {
	return &event.PositionClose{
		RequestID:  uuid.New(),
		Hedger:     hedger,
		PositionID: positionID,
		Sequence:   seq,
		Timestamp:  ts,
	}
}

func mustLiquidate(liquidator, hedger, positionID uuid.UUID, seq, ts int64) *event.PositionLiquidate {
	return &event.PositionLiquidate{
		RequestID:  uuid.New(),
		Liquidator: liquidator,
		Hedger:     hedger,
		PositionID: positionID,
		Sequence:   seq,
		Timestamp:  ts,
	}
}

func mustRewardClaim(hedger uuid.UUID, seq, ts int64) *event.RewardClaim {
	return &event.RewardClaim{
		RequestID: uuid.New(),
		Hedger:    hedger,
		Sequence:  seq,
		Timestamp: ts,
	}
}

func mustVaultMint(notional, price, seq, ts int64) *event.VaultMint {
	return &event.VaultMint{
		RequestID: uuid.New(),
		Notional:  notional,
		Price:     price,
		Sequence:  seq,
		Timestamp: ts,
	}
}

func mustVaultRedeem(baseAmount, price, seq, ts int64) *event.VaultRedeem {
	return &event.VaultRedeem{
		RequestID:  uuid.New(),
		BaseAmount: baseAmount,
		Price:      price,
		Sequence:   seq,
		Timestamp:  ts,
	}
}

func mustRedemptionDebit(redeemed, supply, seq, ts int64) *event.RedemptionDebit {
	return &event.RedemptionDebit{
		RequestID:        uuid.New(),
		RedeemedNotional: redeemed,
		TotalSupply:      supply,
		Sequence:         seq,
		Timestamp:        ts,
	}
}

func mustUserDeposit(user uuid.UUID, amount, seq, ts int64) *event.UserDeposit {
	return &event.UserDeposit{
		RequestID: uuid.New(),
		User:      user,
		Amount:    amount,
		Sequence:  seq,
		Timestamp: ts,
	}
}

func mustUserWithdraw(user uuid.UUID, amount, seq, ts int64) *event.UserWithdraw {
	return &event.UserWithdraw{
		RequestID: uuid.New(),
		User:      user,
		Amount:    amount,
		Sequence:  seq,
		Timestamp: ts,
	}
}

func mustYieldDeposit(source string, amount, seq, ts int64) *event.YieldDeposit {
	return &event.YieldDeposit{
		RequestID: uuid.New(),
		Source:    source,
		YieldType: "aave",
		Amount:    amount,
		Sequence:  seq,
		Timestamp: ts,
	}
}

func mustYieldClaim(participant uuid.UUID, side event.ParticipantSide, seq, ts int64) *event.YieldClaim {
	return &event.YieldClaim{
		RequestID:   uuid.New(),
		Participant: participant,
		Side:        side,
		Sequence:    seq,
		Timestamp:   ts,
	}
}

func mustEmergency(actor uuid.UUID, kind event.EmergencyKind, seq, ts int64) *event.EmergencyAction {
	return &event.EmergencyAction{
		RequestID:     uuid.New(),
		Actor:         actor,
		Kind:          kind,
		Justification: "test",
		Sequence:      seq,
		Timestamp:     ts,
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// journalTotals sums batch amounts by journal type.
func journalTotals(batch *ledger.Batch) map[ledger.JournalType]int64 {
	totals := make(map[ledger.JournalType]int64)
	for _, j := range batch.Journals {
		totals[j.JournalType] += j.Amount
	}
	return totals
}

// mustProcess fails the test on any processing error and returns the
// single output the event produced.
func mustProcess(t *testing.T, c *core.DeterministicCore, persistCh chan core.CoreOutput, evt event.Event) core.CoreOutput {
	t.Helper()
	if err := c.ProcessEvent(evt); err != nil {
		t.Fatalf("%s failed: %v", evt.EventType(), err)
	}
	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("%s: expected 1 output, got %d", evt.EventType(), len(outputs))
	}
	return outputs[0]
}

// ============================================================================
// Test: Rate Updates
// ============================================================================

func TestRateUpdate_Accepted(t *testing.T) {
	c, persistCh, _ := newTestCore()

	out := mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))

	if out.Envelope.EventType != event.EventTypeRateUpdate {
		t.Errorf("expected RateUpdate event type, got %v", out.Envelope.EventType)
	}
	if out.Envelope.Partition != "rates:ARS/USD" {
		t.Errorf("expected rates:ARS/USD partition, got %s", out.Envelope.Partition)
	}
	if len(out.Batch.Journals) != 0 {
		t.Errorf("rate tick should carry no journals, got %d", len(out.Batch.Journals))
	}
}

func TestRateUpdate_StaleTick_SilentlyDropped(t *testing.T) {
	c, persistCh, _ := newTestCore()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 5, baseTime))

	// Sequence 3 is behind the stored tick: no error, no envelope.
	err := c.ProcessEvent(mustRateUpdate(99_000, 3, baseTime+oneSec))
	if err != nil {
		t.Fatalf("stale tick should not error: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected 0 outputs for stale tick, got %d", len(outputs))
	}
}

func TestRateUpdate_GapTolerated(t *testing.T) {
	c, persistCh, _ := newTestCore()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustRateUpdate(101_000, 10, baseTime+oneSec))
}

// ============================================================================
// Test: Depositor Flow
// ============================================================================

func TestUserDeposit_BooksPrincipal(t *testing.T) {
	c, persistCh, _ := newTestCore()
	user := uuid.New()

	out := mustProcess(t, c, persistCh, mustUserDeposit(user, 1_000_000_000, 0, baseTime))

	if len(out.Batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(out.Batch.Journals))
	}
	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypePrincipalDeposit {
		t.Errorf("expected principal_deposit, got %s", j.JournalType)
	}
	if j.Amount != 1_000_000_000 {
		t.Errorf("expected amount 1_000_000_000, got %d", j.Amount)
	}
	if got := c.CustodyBalance(); got != 1_000_000_000 {
		t.Errorf("custody: got %d, want 1_000_000_000", got)
	}
}

func TestUserWithdraw_ReducesPrincipal(t *testing.T) {
	c, persistCh, _ := newTestCore()
	user := uuid.New()

	mustProcess(t, c, persistCh, mustUserDeposit(user, 1_000_000_000, 0, baseTime))

	out := mustProcess(t, c, persistCh, mustUserWithdraw(user, 400_000_000, 1, baseTime+oneSec))

	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypePrincipalWithdraw {
		t.Errorf("expected principal_withdraw, got %s", j.JournalType)
	}
	if got := c.CustodyBalance(); got != 600_000_000 {
		t.Errorf("custody: got %d, want 600_000_000", got)
	}
}

func TestUserWithdraw_InsufficientPrincipal_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	user := uuid.New()

	err := c.ProcessEvent(mustUserWithdraw(user, 100_000_000, 0, baseTime))
	if !errors.Is(err, state.ErrInsufficientPrincipal) {
		t.Fatalf("expected ErrInsufficientPrincipal, got %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("rejected command emitted %d outputs", len(outputs))
	}
}

func TestRejectedCommand_ConsumesSequenceSlot(t *testing.T) {
	c, persistCh, _ := newTestCore()
	user := uuid.New()

	// Rejected withdraw consumes depositor slot 0.
	err := c.ProcessEvent(mustUserWithdraw(user, 100_000_000, 0, baseTime))
	if !errors.Is(err, state.ErrInsufficientPrincipal) {
		t.Fatalf("expected ErrInsufficientPrincipal, got %v", err)
	}

	// A deposit redelivered at slot 0 now reads as out-of-order.
	err = c.ProcessEvent(mustUserDeposit(user, 1_000_000_000, 0, baseTime+oneSec))
	if err == nil {
		t.Fatal("expected sequence error for consumed slot, got nil")
	}

	mustProcess(t, c, persistCh, mustUserDeposit(user, 1_000_000_000, 1, baseTime+2*oneSec))
}

// ============================================================================
// Test: Position Flow
// ============================================================================

func TestPositionOpen_NetsEntryFee(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))

	// 20 bps entry fee on 1000 USDC gross collateral
	out := mustProcess(t, c, persistCh, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec))

	if len(out.Batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(out.Batch.Journals))
	}
	totals := journalTotals(out.Batch)
	if totals[ledger.JournalTypeMarginDeposit] != 998_000_000 {
		t.Errorf("margin deposit: got %d, want 998_000_000", totals[ledger.JournalTypeMarginDeposit])
	}
	if totals[ledger.JournalTypeEntryFee] != 2_000_000 {
		t.Errorf("entry fee: got %d, want 2_000_000", totals[ledger.JournalTypeEntryFee])
	}
	if out.Envelope.Partition != event.PartitionPositions {
		t.Errorf("expected positions partition, got %s", out.Envelope.Partition)
	}
	if got := c.CustodyBalance(); got != 1_000_000_000 {
		t.Errorf("custody: got %d, want 1_000_000_000", got)
	}
}

func TestPositionOpen_NoUsablePrice_Fails(t *testing.T) {
	c, _, _ := newTestCore()
	hedger := uuid.New()

	err := c.ProcessEvent(mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime))
	if !errors.Is(err, state.ErrPriceInvalid) {
		t.Fatalf("expected ErrPriceInvalid, got %v", err)
	}
}

func TestPositionOpen_LeverageAboveCap_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))

	err := c.ProcessEvent(mustPositionOpen(hedger, 1_000_000_000, 6, 0, baseTime+oneSec))
	if !errors.Is(err, state.ErrLeverageTooHigh) {
		t.Fatalf("expected ErrLeverageTooHigh, got %v", err)
	}
}

func TestMarginAdd_SkimsMarginFee(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)

	// 10 bps margin fee on 100 USDC top-up
	out := mustProcess(t, c, persistCh, mustMarginAdd(hedger, open.RequestID, 100_000_000, 1, baseTime+2*oneSec))

	totals := journalTotals(out.Batch)
	if totals[ledger.JournalTypeMarginDeposit] != 99_900_000 {
		t.Errorf("margin deposit: got %d, want 99_900_000", totals[ledger.JournalTypeMarginDeposit])
	}
	if totals[ledger.JournalTypeMarginFee] != 100_000 {
		t.Errorf("margin fee: got %d, want 100_000", totals[ledger.JournalTypeMarginFee])
	}
}

func TestMarginRemove_WithinHeadroom(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)

	// Unbacked position: no required margin, full headroom.
	out := mustProcess(t, c, persistCh, mustMarginRemove(hedger, open.RequestID, 500_000_000, 1, baseTime+2*oneSec))

	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeMarginWithdraw {
		t.Errorf("expected margin_withdraw, got %s", j.JournalType)
	}
	if j.Amount != 500_000_000 {
		t.Errorf("expected amount 500_000_000, got %d", j.Amount)
	}
	if got := c.CustodyBalance(); got != 500_000_000 {
		t.Errorf("custody: got %d, want 500_000_000", got)
	}
}

func TestMarginRemove_BreachesMinRatio_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 100_000_000, 5, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)
	mustProcess(t, c, persistCh, mustVaultMint(400_000_000, entryPrice, 0, baseTime+2*oneSec))

	// Margin 99.8, required 20% of 400 backed = 80, headroom 19.8.
	err := c.ProcessEvent(mustMarginRemove(hedger, open.RequestID, 50_000_000, 1, baseTime+3*oneSec))
	if !errors.Is(err, state.ErrInsufficientMargin) {
		t.Fatalf("expected ErrInsufficientMargin, got %v", err)
	}
}

func TestPositionClose_RejectedWhileBacking(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)
	mustProcess(t, c, persistCh, mustVaultMint(500_000_000, entryPrice, 0, baseTime+2*oneSec))

	err := c.ProcessEvent(mustPositionClose(hedger, open.RequestID, 1, baseTime+3*oneSec))
	if !errors.Is(err, state.ErrPositionBacking) {
		t.Fatalf("expected ErrPositionBacking, got %v", err)
	}
}

func TestPositionClose_AfterFullRedemption(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)

	// 500 notional fills at 0.001: 500e9 base units backed.
	mustProcess(t, c, persistCh, mustVaultMint(500_000_000, entryPrice, 0, baseTime+2*oneSec))
	mustProcess(t, c, persistCh, mustVaultRedeem(500_000_000_000, entryPrice, 1, baseTime+3*oneSec))

	// Flat exit: margin 998, exit fee 20 bps = 1.996, payout 996.004.
	out := mustProcess(t, c, persistCh, mustPositionClose(hedger, open.RequestID, 1, baseTime+4*oneSec))

	if len(out.Batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(out.Batch.Journals))
	}
	totals := journalTotals(out.Batch)
	if totals[ledger.JournalTypeExitFee] != 1_996_000 {
		t.Errorf("exit fee: got %d, want 1_996_000", totals[ledger.JournalTypeExitFee])
	}
	if totals[ledger.JournalTypeMarginWithdraw] != 996_004_000 {
		t.Errorf("payout: got %d, want 996_004_000", totals[ledger.JournalTypeMarginWithdraw])
	}

	// Only the two fees remain in custody.
	if got := c.CustodyBalance(); got != 3_996_000 {
		t.Errorf("custody: got %d, want 3_996_000", got)
	}
}

// ============================================================================
// Test: Mint & Redeem
// ============================================================================

func TestVaultMint_BooksBacking(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec))

	out := mustProcess(t, c, persistCh, mustVaultMint(500_000_000, entryPrice, 0, baseTime+2*oneSec))

	if len(out.Batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(out.Batch.Journals))
	}
	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeBackingDeposit {
		t.Errorf("expected backing_deposit, got %s", j.JournalType)
	}
	if j.Amount != 500_000_000 {
		t.Errorf("expected amount 500_000_000, got %d", j.Amount)
	}
}

func TestVaultMint_NoCapacity_StillBooksBacking(t *testing.T) {
	c, persistCh, _ := newTestCore()

	// No positions: the whole notional is coverage shortfall, but the
	// backing still enters custody.
	out := mustProcess(t, c, persistCh, mustVaultMint(500_000_000, entryPrice, 0, baseTime))

	if len(out.Batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(out.Batch.Journals))
	}
	if got := c.CustodyBalance(); got != 500_000_000 {
		t.Errorf("custody: got %d, want 500_000_000", got)
	}
}

func TestVaultRedeem_CrystallizesPriceGap(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec))
	mustProcess(t, c, persistCh, mustVaultMint(500_000_000, entryPrice, 0, baseTime+2*oneSec))

	// Half the backing leaves at 0.0009: current value 225, entry share
	// 250, the 25 gap is hedger profit.
	out := mustProcess(t, c, persistCh, mustVaultRedeem(250_000_000_000, 90_000, 1, baseTime+3*oneSec))

	if len(out.Batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(out.Batch.Journals))
	}
	totals := journalTotals(out.Batch)
	if totals[ledger.JournalTypeBackingRelease] != 225_000_000 {
		t.Errorf("backing release: got %d, want 225_000_000", totals[ledger.JournalTypeBackingRelease])
	}
	if totals[ledger.JournalTypeCrystallize] != 25_000_000 {
		t.Errorf("crystallized: got %d, want 25_000_000", totals[ledger.JournalTypeCrystallize])
	}
	if got := c.CustodyBalance(); got != 1_275_000_000 {
		t.Errorf("custody: got %d, want 1_275_000_000", got)
	}
}

func TestVaultRedeem_ExceedsBacking_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec))
	mustProcess(t, c, persistCh, mustVaultMint(500_000_000, entryPrice, 0, baseTime+2*oneSec))

	err := c.ProcessEvent(mustVaultRedeem(900_000_000_000, entryPrice, 1, baseTime+3*oneSec))
	if !errors.Is(err, state.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRedemptionDebit_HaircutsMarginProRata(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec))

	// 100 of 500 supply redeemed: margin 998 debited by a fifth.
	out := mustProcess(t, c, persistCh, mustRedemptionDebit(100_000_000, 500_000_000, 0, baseTime+2*oneSec))

	if len(out.Batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(out.Batch.Journals))
	}
	totals := journalTotals(out.Batch)
	if totals[ledger.JournalTypeRedemptionDebit] != 199_600_000 {
		t.Errorf("redemption debit: got %d, want 199_600_000", totals[ledger.JournalTypeRedemptionDebit])
	}
	if totals[ledger.JournalTypeBackingRelease] != 199_600_000 {
		t.Errorf("backing release: got %d, want 199_600_000", totals[ledger.JournalTypeBackingRelease])
	}
	if got := c.CustodyBalance(); got != 800_400_000 {
		t.Errorf("custody: got %d, want 800_400_000", got)
	}
}

// ============================================================================
// Test: Liquidation
// ============================================================================

func TestLiquidation_SettlesAtCurrentPrice(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()
	keeper := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 100_000_000, 5, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)
	mustProcess(t, c, persistCh, mustVaultMint(400_000_000, entryPrice, 0, baseTime+2*oneSec))

	// ARS strengthens to 0.00115: backed value 460, loss 60, effective
	// margin 39.8, ratio 865 bps — under the 1000 bps threshold.
	mustProcess(t, c, persistCh, mustRateUpdate(115_000, 2, baseTime+3*oneSec))

	out := mustProcess(t, c, persistCh, mustLiquidate(keeper, hedger, open.RequestID, 1, baseTime+4*oneSec))

	if len(out.Batch.Journals) != 3 {
		t.Fatalf("expected 3 journals, got %d", len(out.Batch.Journals))
	}
	totals := journalTotals(out.Batch)
	if totals[ledger.JournalTypePnLSettle] != 60_000_000 {
		t.Errorf("settled loss: got %d, want 60_000_000", totals[ledger.JournalTypePnLSettle])
	}
	// 500 bps of the 39.8 surviving margin
	if totals[ledger.JournalTypeLiquidationReward] != 1_990_000 {
		t.Errorf("keeper reward: got %d, want 1_990_000", totals[ledger.JournalTypeLiquidationReward])
	}
	if totals[ledger.JournalTypeMarginWithdraw] != 37_810_000 {
		t.Errorf("owner payout: got %d, want 37_810_000", totals[ledger.JournalTypeMarginWithdraw])
	}
	if got := c.CustodyBalance(); got != 460_200_000 {
		t.Errorf("custody: got %d, want 460_200_000", got)
	}
}

func TestLiquidation_HealthyPosition_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()
	keeper := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 100_000_000, 5, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)
	mustProcess(t, c, persistCh, mustVaultMint(400_000_000, entryPrice, 0, baseTime+2*oneSec))

	err := c.ProcessEvent(mustLiquidate(keeper, hedger, open.RequestID, 1, baseTime+3*oneSec))
	if !errors.Is(err, state.ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}
}

func TestLiquidation_RestrictedKeeperSet(t *testing.T) {
	allowed := uuid.New()
	outsider := uuid.New()
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic(nil, nil, []uuid.UUID{allowed}))
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 100_000_000, 5, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)

	err := c.ProcessEvent(mustLiquidate(outsider, hedger, open.RequestID, 1, baseTime+2*oneSec))
	if !errors.Is(err, state.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

// ============================================================================
// Test: Hedging Rewards
// ============================================================================

func TestRewardClaim_AccruesOnExposure(t *testing.T) {
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic(nil, []string{"treasury"}, nil))
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 100_000_000, 5, 0, baseTime+oneSec))
	mustProcess(t, c, persistCh, mustVaultMint(400_000_000, entryPrice, 0, baseTime+2*oneSec))

	// Fund the hedger-side pool so the reward has coverage. With no
	// depositors the user share is swept back to fees as residual.
	mustProcess(t, c, persistCh, mustYieldDeposit("treasury", 100_000_000, 0, baseTime+25*oneHour))

	// Exposure is margin x leverage = 499 since the open; 25h less the
	// 1s open offset at 200 bps differential:
	// 499e6 * 200 * 89_999 / (10_000 * 31_536_000) = 28_481
	out := mustProcess(t, c, persistCh, mustRewardClaim(hedger, 1, baseTime+25*oneHour))

	if len(out.Batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(out.Batch.Journals))
	}
	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeHedgingReward {
		t.Errorf("expected hedging_reward, got %s", j.JournalType)
	}
	if j.Amount != 28_481 {
		t.Errorf("reward: got %d, want 28_481", j.Amount)
	}
}

func TestRewardClaim_EmptyHedgerPool_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 100_000_000, 5, 0, baseTime+oneSec))
	mustProcess(t, c, persistCh, mustVaultMint(400_000_000, entryPrice, 0, baseTime+2*oneSec))

	// Rewards accrued but no yield ever ingested: claim fails closed.
	err := c.ProcessEvent(mustRewardClaim(hedger, 1, baseTime+25*oneHour))
	if !errors.Is(err, state.ErrInsufficientYield) {
		t.Fatalf("expected ErrInsufficientYield, got %v", err)
	}
}

// ============================================================================
// Test: Yield Flow
// ============================================================================

// seedYieldParticipants opens a backed hedge position and a depositor
// stake at the base time so both sides are past the holding period when
// yield arrives a day later.
func seedYieldParticipants(t *testing.T, c *core.DeterministicCore, persistCh chan core.CoreOutput, hedger, user uuid.UUID) {
	t.Helper()
	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec))
	mustProcess(t, c, persistCh, mustVaultMint(500_000_000, entryPrice, 0, baseTime+2*oneSec))
	mustProcess(t, c, persistCh, mustUserDeposit(user, 1_000_000_000, 0, baseTime+3*oneSec))
}

func TestYieldDeposit_SplitsByShift(t *testing.T) {
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic(nil, []string{"treasury"}, nil))
	hedger := uuid.New()
	user := uuid.New()
	seedYieldParticipants(t, c, persistCh, hedger, user)

	// 10% fee on 100, base shift splits the 90 remainder evenly.
	out := mustProcess(t, c, persistCh, mustYieldDeposit("treasury", 100_000_000, 0, baseTime+25*oneHour))

	if len(out.Batch.Journals) != 3 {
		t.Fatalf("expected 3 journals, got %d", len(out.Batch.Journals))
	}
	totals := journalTotals(out.Batch)
	if totals[ledger.JournalTypeYieldFee] != 10_000_000 {
		t.Errorf("yield fee: got %d, want 10_000_000", totals[ledger.JournalTypeYieldFee])
	}
	if totals[ledger.JournalTypeYieldIngest] != 90_000_000 {
		t.Errorf("pool credits: got %d, want 90_000_000", totals[ledger.JournalTypeYieldIngest])
	}
	if totals[ledger.JournalTypeRoundingResidual] != 0 {
		t.Errorf("residual: got %d, want 0", totals[ledger.JournalTypeRoundingResidual])
	}
}

func TestYieldDeposit_UnauthorizedSource_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()

	err := c.ProcessEvent(mustYieldDeposit("treasury", 100_000_000, 0, baseTime))
	if !errors.Is(err, state.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("rejected deposit emitted %d outputs", len(outputs))
	}
}

func TestYieldDeposit_NoEligibleParticipants_SweepsToFees(t *testing.T) {
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic(nil, []string{"treasury"}, nil))

	// Nobody on either side: both pool credits come straight back out as
	// residual sweeps, so pending claims stay covered by the pools.
	out := mustProcess(t, c, persistCh, mustYieldDeposit("treasury", 100_000_000, 0, baseTime))

	if len(out.Batch.Journals) != 5 {
		t.Fatalf("expected 5 journals, got %d", len(out.Batch.Journals))
	}
	totals := journalTotals(out.Batch)
	if totals[ledger.JournalTypeYieldIngest] != 90_000_000 {
		t.Errorf("pool credits: got %d, want 90_000_000", totals[ledger.JournalTypeYieldIngest])
	}
	if totals[ledger.JournalTypeRoundingResidual] != 90_000_000 {
		t.Errorf("residual sweep: got %d, want 90_000_000", totals[ledger.JournalTypeRoundingResidual])
	}
	if got := c.CustodyBalance(); got != 100_000_000 {
		t.Errorf("custody: got %d, want 100_000_000", got)
	}
}

func TestYieldDepositBatch_AppliesAtomically(t *testing.T) {
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic(nil, []string{"treasury", "market"}, nil))
	hedger := uuid.New()
	user := uuid.New()
	seedYieldParticipants(t, c, persistCh, hedger, user)

	batch := &event.YieldDepositBatch{
		RequestID:  uuid.New(),
		Sources:    []string{"treasury", "market"},
		YieldTypes: []string{"aave", "rate_differential"},
		Amounts:    []int64{60_000_000, 40_000_000},
		Sequence:   0,
		Timestamp:  baseTime + 25*oneHour,
	}
	if err := c.ProcessEvent(batch); err != nil {
		t.Fatalf("batch deposit failed: %v", err)
	}
	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	// Same aggregate as a single 100 deposit: one journal set.
	totals := journalTotals(outputs[0].Batch)
	if totals[ledger.JournalTypeYieldFee] != 10_000_000 {
		t.Errorf("yield fee: got %d, want 10_000_000", totals[ledger.JournalTypeYieldFee])
	}
	if totals[ledger.JournalTypeYieldIngest] != 90_000_000 {
		t.Errorf("pool credits: got %d, want 90_000_000", totals[ledger.JournalTypeYieldIngest])
	}

	// The user's pending balance covers both items.
	claim := mustProcess(t, c, persistCh, mustYieldClaim(user, event.SideUser, 1, baseTime+26*oneHour))
	if claim.Batch.Journals[0].Amount != 45_000_000 {
		t.Errorf("claimed: got %d, want 45_000_000", claim.Batch.Journals[0].Amount)
	}
}

func TestYieldDepositBatch_UnknownSource_RejectsWhole(t *testing.T) {
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic(nil, []string{"treasury"}, nil))
	hedger := uuid.New()
	user := uuid.New()
	seedYieldParticipants(t, c, persistCh, hedger, user)
	custodyBefore := c.CustodyBalance()

	batch := &event.YieldDepositBatch{
		RequestID:  uuid.New(),
		Sources:    []string{"treasury", "rogue"},
		YieldTypes: []string{"aave", "aave"},
		Amounts:    []int64{60_000_000, 40_000_000},
		Sequence:   0,
		Timestamp:  baseTime + 25*oneHour,
	}
	err := c.ProcessEvent(batch)
	if !errors.Is(err, state.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("rejected batch emitted %d outputs", len(outputs))
	}
	if got := c.CustodyBalance(); got != custodyBefore {
		t.Errorf("custody moved on rejected batch: %d -> %d", custodyBefore, got)
	}
}

func TestYieldDepositBatch_LengthMismatch_Fails(t *testing.T) {
	c, _, _ := newAuthorizedCore(auth.NewStatic(nil, []string{"treasury"}, nil))

	err := c.ProcessEvent(&event.YieldDepositBatch{
		RequestID:  uuid.New(),
		Sources:    []string{"treasury", "treasury"},
		YieldTypes: []string{"aave", "aave"},
		Amounts:    []int64{60_000_000},
		Sequence:   0,
		Timestamp:  baseTime,
	})
	if !errors.Is(err, state.ErrBatchLengthMismatch) {
		t.Fatalf("expected ErrBatchLengthMismatch, got %v", err)
	}
}

func TestYieldClaim_PaysPendingOnce(t *testing.T) {
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic(nil, []string{"treasury"}, nil))
	hedger := uuid.New()
	user := uuid.New()
	seedYieldParticipants(t, c, persistCh, hedger, user)
	mustProcess(t, c, persistCh, mustYieldDeposit("treasury", 100_000_000, 0, baseTime+25*oneHour))

	out := mustProcess(t, c, persistCh, mustYieldClaim(user, event.SideUser, 1, baseTime+26*oneHour))

	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeYieldClaim {
		t.Errorf("expected yield_claim, got %s", j.JournalType)
	}
	if j.Amount != 45_000_000 {
		t.Errorf("claimed: got %d, want 45_000_000", j.Amount)
	}

	// Pending is drained; a second claim has nothing to pay.
	err := c.ProcessEvent(mustYieldClaim(user, event.SideUser, 2, baseTime+27*oneHour))
	if !errors.Is(err, state.ErrInsufficientYield) {
		t.Fatalf("expected ErrInsufficientYield, got %v", err)
	}
}

func TestYieldClaim_HoldingPeriodRestartsOnDeposit(t *testing.T) {
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic(nil, []string{"treasury"}, nil))
	hedger := uuid.New()
	user := uuid.New()
	seedYieldParticipants(t, c, persistCh, hedger, user)
	mustProcess(t, c, persistCh, mustYieldDeposit("treasury", 100_000_000, 0, baseTime+25*oneHour))

	// A fresh deposit restarts the user's holding clock.
	mustProcess(t, c, persistCh, mustUserDeposit(user, 100_000_000, 1, baseTime+25*oneHour+30*60*oneSec))

	err := c.ProcessEvent(mustYieldClaim(user, event.SideUser, 1, baseTime+26*oneHour))
	if !errors.Is(err, state.ErrHoldingPeriodNotMet) {
		t.Fatalf("expected ErrHoldingPeriodNotMet, got %v", err)
	}
}

func TestDistributionUpdate_EmitsEmptyBatch(t *testing.T) {
	c, persistCh, _ := newTestCore()

	out := mustProcess(t, c, persistCh, &event.DistributionUpdate{
		RequestID: uuid.New(),
		Sequence:  0,
		Timestamp: baseTime,
	})

	if len(out.Batch.Journals) != 0 {
		t.Errorf("distribution update should carry no journals, got %d", len(out.Batch.Journals))
	}
	if out.Envelope.EventType != event.EventTypeDistributionUpdate {
		t.Errorf("expected DistributionUpdate event type, got %v", out.Envelope.EventType)
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateCommand_Ignored(t *testing.T) {
	c, persistCh, _ := newTestCore()
	user := uuid.New()

	deposit := mustUserDeposit(user, 1_000_000_000, 0, baseTime)
	mustProcess(t, c, persistCh, deposit)

	// Redelivery of the same request is a silent no-op.
	if err := c.ProcessEvent(deposit); err != nil {
		t.Fatalf("duplicate should not error: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", len(outputs))
	}
	if got := c.CustodyBalance(); got != 1_000_000_000 {
		t.Errorf("custody double-counted: got %d, want 1_000_000_000", got)
	}

	// The duplicate did not advance the partition cursor.
	mustProcess(t, c, persistCh, mustUserDeposit(user, 100_000_000, 1, baseTime+oneSec))
}

// ============================================================================
// Test: Sequence Validation
// ============================================================================

func TestSequenceValidation_GapRejected(t *testing.T) {
	c, persistCh, _ := newTestCore()
	user := uuid.New()

	mustProcess(t, c, persistCh, mustUserDeposit(user, 100_000_000, 0, baseTime))

	err := c.ProcessEvent(mustUserDeposit(user, 100_000_000, 2, baseTime+oneSec))
	if err == nil {
		t.Fatal("expected sequence gap error, got nil")
	}

	mustProcess(t, c, persistCh, mustUserDeposit(user, 100_000_000, 1, baseTime+2*oneSec))
}

func TestSequenceValidation_PartitionsIndependent(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()
	user := uuid.New()

	// Each command partition has its own cursor starting at zero.
	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustUserDeposit(user, 1_000_000_000, 0, baseTime+oneSec))
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+2*oneSec))
	mustProcess(t, c, persistCh, mustVaultMint(500_000_000, entryPrice, 0, baseTime+3*oneSec))
}

func TestProcessReplay_RestoresPartitionCursor(t *testing.T) {
	c, persistCh, _ := newTestCore()
	user := uuid.New()

	mustProcess(t, c, persistCh, mustUserDeposit(user, 100_000_000, 0, baseTime))

	// Replay force-advances past the holes rejected commands left.
	if err := c.ProcessReplay(mustUserDeposit(user, 100_000_000, 7, baseTime+oneSec)); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	drainOutputs(persistCh)

	mustProcess(t, c, persistCh, mustUserDeposit(user, 100_000_000, 8, baseTime+2*oneSec))
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_PrevHashLinks(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()
	user := uuid.New()

	events := []event.Event{
		mustRateUpdate(entryPrice, 1, baseTime),
		mustUserDeposit(user, 1_000_000_000, 0, baseTime+oneSec),
		mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+2*oneSec),
	}
	for _, evt := range events {
		if err := c.ProcessEvent(evt); err != nil {
			t.Fatalf("%s failed: %v", evt.EventType(), err)
		}
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outputs))
	}

	var zero [32]byte
	if outputs[0].Envelope.PrevHash != zero {
		t.Error("first envelope should chain from the zero hash")
	}
	for i := 1; i < len(outputs); i++ {
		if outputs[i].Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("envelope %d prev hash does not match predecessor", i)
		}
	}
	if c.GetStateHash() != outputs[2].Envelope.StateHash {
		t.Error("chain tip does not match the last envelope")
	}
}

func TestStateHashChain_DeterministicAcrossRuns(t *testing.T) {
	hedger := uuid.New()
	user := uuid.New()
	depositID := uuid.New()
	openID := uuid.New()

	run := func() [][32]byte {
		c, persistCh, _ := newTestCore()

		events := []event.Event{
			mustRateUpdate(entryPrice, 1, baseTime),
			&event.UserDeposit{RequestID: depositID, User: user, Amount: 1_000_000_000, Sequence: 0, Timestamp: baseTime + oneSec},
			&event.PositionOpen{RequestID: openID, Hedger: hedger, Collateral: 1_000_000_000, Leverage: 2, Sequence: 0, Timestamp: baseTime + 2*oneSec},
		}
		for _, evt := range events {
			if err := c.ProcessEvent(evt); err != nil {
				t.Fatalf("%s failed: %v", evt.EventType(), err)
			}
		}

		outputs := drainOutputs(persistCh)
		hashes := make([][32]byte, len(outputs))
		for i, o := range outputs {
			hashes[i] = o.Envelope.StateHash
		}
		return hashes
	}

	hashes1 := run()
	hashes2 := run()

	if len(hashes1) != len(hashes2) {
		t.Fatalf("different number of outputs: %d vs %d", len(hashes1), len(hashes2))
	}
	for i := range hashes1 {
		if hashes1[i] != hashes2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, hashes1[i], hashes2[i])
		}
	}
}

// ============================================================================
// Test: Governance
// ============================================================================

func TestParamUpdate_RequiresGovernance(t *testing.T) {
	c, _, _ := newTestCore()

	err := c.ProcessEvent(mustParamUpdate(uuid.New(), 20, 1, 0, baseTime))
	if !errors.Is(err, state.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestParamUpdate_TakesEffectImmediately(t *testing.T) {
	gov := uuid.New()
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic([]uuid.UUID{gov}, nil, nil))
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))

	// Drop the entry fee to zero.
	out := mustProcess(t, c, persistCh, mustParamUpdate(gov, 0, 1, 0, baseTime+oneSec))
	if len(out.Batch.Journals) != 0 {
		t.Errorf("param update should carry no journals, got %d", len(out.Batch.Journals))
	}

	// The next open posts gross collateral with no fee leg.
	open := mustProcess(t, c, persistCh, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+2*oneSec))
	if len(open.Batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(open.Batch.Journals))
	}
	j := open.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeMarginDeposit || j.Amount != 1_000_000_000 {
		t.Errorf("expected margin_deposit of 1_000_000_000, got %s %d", j.JournalType, j.Amount)
	}
}

func TestEmergencyPause_GatesCommandsUntilResume(t *testing.T) {
	gov := uuid.New()
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic([]uuid.UUID{gov}, nil, nil))
	user := uuid.New()

	mustProcess(t, c, persistCh, mustEmergency(gov, event.EmergencyPause, 0, baseTime))
	if !c.IsPaused() {
		t.Fatal("core should be paused")
	}

	// Commands bounce without consuming their sequence slot.
	deposit := mustUserDeposit(user, 1_000_000_000, 0, baseTime+oneSec)
	err := c.ProcessEvent(deposit)
	if !errors.Is(err, state.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("paused command emitted %d outputs", len(outputs))
	}

	// Rate ticks keep flowing so checks do not fail closed on resume.
	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime+2*oneSec))

	mustProcess(t, c, persistCh, mustEmergency(gov, event.EmergencyResume, 1, baseTime+3*oneSec))
	if c.IsPaused() {
		t.Fatal("core should have resumed")
	}

	// The bounced command redelivers at its original slot.
	mustProcess(t, c, persistCh, deposit)
}

func TestEmergencyRebalance_MovesPoolFunds(t *testing.T) {
	gov := uuid.New()
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic([]uuid.UUID{gov}, []string{"treasury"}, nil))
	hedger := uuid.New()
	user := uuid.New()
	seedYieldParticipants(t, c, persistCh, hedger, user)
	mustProcess(t, c, persistCh, mustYieldDeposit("treasury", 100_000_000, 0, baseTime+25*oneHour))
	custodyBefore := c.CustodyBalance()

	rebalance := mustEmergency(gov, event.EmergencyRebalancePools, 0, baseTime+26*oneHour)
	rebalance.Amount = 20_000_000
	rebalance.ToHedgerPool = false
	out := mustProcess(t, c, persistCh, rebalance)

	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypePoolRebalance {
		t.Errorf("expected pool_rebalance, got %s", j.JournalType)
	}
	if j.Amount != 20_000_000 {
		t.Errorf("expected amount 20_000_000, got %d", j.Amount)
	}
	// Pool-to-pool moves never touch the custody boundary.
	if got := c.CustodyBalance(); got != custodyBefore {
		t.Errorf("custody moved on rebalance: %d -> %d", custodyBefore, got)
	}

	// Hedger pool is down to 25 after the move; overdraw fails closed.
	over := mustEmergency(gov, event.EmergencyRebalancePools, 1, baseTime+27*oneHour)
	over.Amount = 100_000_000
	over.ToHedgerPool = false
	err := c.ProcessEvent(over)
	if !errors.Is(err, state.ErrInsufficientYield) {
		t.Fatalf("expected ErrInsufficientYield, got %v", err)
	}
}

func TestEmergencyForceClose_PaysMarginWhilePaused(t *testing.T) {
	gov := uuid.New()
	c, persistCh, _ := newAuthorizedCore(auth.NewStatic([]uuid.UUID{gov}, nil, nil))
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)

	mustProcess(t, c, persistCh, mustEmergency(gov, event.EmergencyPause, 0, baseTime+2*oneSec))

	// Unbacked position settles flat: no exit fee, no keeper cut.
	forceClose := mustEmergency(gov, event.EmergencyForceClose, 1, baseTime+3*oneSec)
	forceClose.TargetID = open.RequestID
	out := mustProcess(t, c, persistCh, forceClose)

	if len(out.Batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(out.Batch.Journals))
	}
	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeMarginWithdraw || j.Amount != 998_000_000 {
		t.Errorf("expected margin_withdraw of 998_000_000, got %s %d", j.JournalType, j.Amount)
	}
	if !c.IsPaused() {
		t.Error("force close should not resume the core")
	}
	if got := c.CustodyBalance(); got != 2_000_000 {
		t.Errorf("custody: got %d, want 2_000_000", got)
	}
}

func TestEmergencyAction_RequiresGovernance(t *testing.T) {
	c, _, _ := newTestCore()

	err := c.ProcessEvent(mustEmergency(uuid.New(), event.EmergencyPause, 0, baseTime))
	if !errors.Is(err, state.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if c.IsPaused() {
		t.Error("unauthorized pause should not take effect")
	}
}

// ============================================================================
// Test: Envelope Integrity
// ============================================================================

func TestEnvelope_CarriesPayloadAndChain(t *testing.T) {
	c, persistCh, _ := newTestCore()
	user := uuid.New()

	deposit := mustUserDeposit(user, 1_000_000_000, 0, baseTime)
	out := mustProcess(t, c, persistCh, deposit)
	env := out.Envelope

	if env.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", env.Sequence)
	}
	if env.IdempotencyKey != deposit.IdempotencyKey() {
		t.Errorf("idempotency key mismatch: %s vs %s", env.IdempotencyKey, deposit.IdempotencyKey())
	}
	if env.EventType != event.EventTypeUserDeposit {
		t.Errorf("event type mismatch: %v", env.EventType)
	}
	if env.Partition != event.PartitionDepositors {
		t.Errorf("expected depositors partition, got %s", env.Partition)
	}
	if env.SourceSequence != 0 {
		t.Errorf("expected source sequence 0, got %d", env.SourceSequence)
	}
	if env.Timestamp.UnixMicro() != baseTime {
		t.Errorf("timestamp mismatch: got %d, want %d", env.Timestamp.UnixMicro(), baseTime)
	}
	if len(env.Payload) == 0 {
		t.Error("payload should not be empty")
	}
	var zero [32]byte
	if env.StateHash == zero {
		t.Error("state hash should not be zero")
	}
}

// ============================================================================
// Test: Projection Channel (non-blocking drop)
// ============================================================================

func TestProjectionChannel_DropsWhenFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1) // Tiny buffer — will fill up
	c := core.NewDeterministicCore(core.Config{
		PersistChan:    persistChan,
		ProjectionChan: projChan,
	})
	user := uuid.New()

	for i := int64(0); i < 5; i++ {
		err := c.ProcessEvent(mustUserDeposit(user, 100_000_000, i, baseTime+i*oneSec))
		if err != nil {
			t.Fatalf("ProcessEvent %d failed: %v", i, err)
		}
	}

	// All 5 apply; projection drops are silent.
	if persisted := drainOutputs(persistChan); len(persisted) != 5 {
		t.Errorf("expected 5 persist outputs, got %d", len(persisted))
	}
}

// ============================================================================
// Test: Snapshot Restore
// ============================================================================

func TestSnapshotRestore_ResumesHashChain(t *testing.T) {
	hedger := uuid.New()
	user := uuid.New()

	c1, persistCh1, _ := newTestCore()
	mustProcess(t, c1, persistCh1, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c1, persistCh1, mustUserDeposit(user, 1_000_000_000, 0, baseTime+oneSec))
	mustProcess(t, c1, persistCh1, mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+2*oneSec))

	snap := c1.CreateSnapshotState()

	c2, persistCh2, _ := newTestCore()
	c2.RestoreFromSnapshot(snap)

	if c2.GetSequence() != c1.GetSequence() {
		t.Errorf("sequence: got %d, want %d", c2.GetSequence(), c1.GetSequence())
	}
	if c2.GetStateHash() != c1.GetStateHash() {
		t.Error("restored chain tip does not match the source")
	}
	if c2.CustodyBalance() != c1.CustodyBalance() {
		t.Errorf("custody: got %d, want %d", c2.CustodyBalance(), c1.CustodyBalance())
	}

	// Identical next event lands on the same chain tip on both cores.
	withdraw := mustUserWithdraw(user, 100_000_000, 1, baseTime+3*oneSec)
	out1 := mustProcess(t, c1, persistCh1, withdraw)
	out2 := mustProcess(t, c2, persistCh2, withdraw)

	if out1.Envelope.StateHash != out2.Envelope.StateHash {
		t.Error("restored core diverged on the next event")
	}
	if out1.Envelope.Sequence != out2.Envelope.Sequence {
		t.Errorf("sequence diverged: %d vs %d", out1.Envelope.Sequence, out2.Envelope.Sequence)
	}
}

// mustParamUpdate carries the default parameter set with a configurable
// entry fee, so tests can observe the update taking effect.
func mustParamUpdate(actor uuid.UUID, entryFeeBps, effectiveSeq, seq, ts int64) *event.ParamUpdate {
	return &event.ParamUpdate{
		Actor:                 actor,
		MinMarginRatioBps:     2_000,
		LiquidationThreshBps:  1_000,
		MaxLeverage:           5,
		EntryFeeBps:           entryFeeBps,
		ExitFeeBps:            20,
		MarginFeeBps:          10,
		LiquidationPenaltyBps: 500,
		MaxPositionsPerHedger: 16,
		PositionCollateralCap: 1_000_000_000_000,
		PoolCollateralCap:     10_000_000_000_000,
		RateDifferentialBps:   200,
		MaxRewardPeriodSec:    30 * 24 * 3600,
		BaseShiftBps:          5_000,
		MaxShiftBps:           9_000,
		AdjustmentSpeedBps:    500,
		TargetPoolRatioBps:    10_000,
		ToleranceBps:          500,
		YieldFeeBps:           1_000,
		HoldingPeriodSec:      24 * 3600,
		TWAPWindowSec:         24 * 3600,
		EffectiveSeq:          effectiveSeq,
		Sequence:              seq,
		Timestamp:             ts,
	}
}

var _ = time.Now // keep the import used by envelope timestamp checks
