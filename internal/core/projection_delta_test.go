package core_test

import (
	"testing"

	"github.com/google/uuid"

	"HedgeCore/internal/event"
)

// ============================================================================
// Test: Projection Deltas
// ============================================================================

func TestProjectionDelta_PositionOpenCarriesPosition(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))

	open := mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec)
	out := mustProcess(t, c, persistCh, open)

	if out.Delta == nil {
		t.Fatal("expected projection delta")
	}
	if len(out.Delta.Positions) != 1 {
		t.Fatalf("expected 1 position in delta, got %d", len(out.Delta.Positions))
	}
	pos := out.Delta.Positions[0]
	if pos.PositionID != open.RequestID {
		t.Errorf("position id: got %s, want %s", pos.PositionID, open.RequestID)
	}
	if pos.Margin != 998_000_000 {
		t.Errorf("margin: got %d, want 998_000_000", pos.Margin)
	}
	if !pos.Active {
		t.Error("expected active position")
	}
	if out.Delta.Distribution != nil {
		t.Error("open should not carry a distribution delta")
	}
}

func TestProjectionDelta_VaultMintCarriesWholeBook(t *testing.T) {
	c, persistCh, _ := newTestCore()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	mustProcess(t, c, persistCh, mustPositionOpen(uuid.New(), 1_000_000_000, 2, 0, baseTime+oneSec))
	mustProcess(t, c, persistCh, mustPositionOpen(uuid.New(), 500_000_000, 2, 1, baseTime+2*oneSec))

	out := mustProcess(t, c, persistCh, mustVaultMint(100_000_000, entryPrice, 0, baseTime+3*oneSec))

	if out.Delta == nil {
		t.Fatal("expected projection delta")
	}
	if len(out.Delta.Positions) != 2 {
		t.Fatalf("expected 2 positions in delta, got %d", len(out.Delta.Positions))
	}
	var backed int64
	for _, p := range out.Delta.Positions {
		backed += p.BaseBacked
	}
	if backed == 0 {
		t.Error("mint should have allocated backing across the book")
	}
}

func TestProjectionDelta_DistributionUpdateSetsDistribution(t *testing.T) {
	c, persistCh, _ := newTestCore()

	out := mustProcess(t, c, persistCh, &event.DistributionUpdate{
		RequestID: uuid.New(),
		Sequence:  0,
		Timestamp: baseTime,
	})

	if out.Delta == nil || out.Delta.Distribution == nil {
		t.Fatal("expected distribution delta")
	}
	if out.Delta.Distribution.ShiftBps != out.Delta.Yield.CurrentShift {
		t.Errorf("shift mismatch: distribution %d, yield %d",
			out.Delta.Distribution.ShiftBps, out.Delta.Yield.CurrentShift)
	}
}

func TestProjectionDelta_TargetedEventCarriesOnlyThatPosition(t *testing.T) {
	c, persistCh, _ := newTestCore()
	hedger := uuid.New()

	mustProcess(t, c, persistCh, mustRateUpdate(entryPrice, 1, baseTime))
	open := mustPositionOpen(hedger, 1_000_000_000, 2, 0, baseTime+oneSec)
	mustProcess(t, c, persistCh, open)
	mustProcess(t, c, persistCh, mustPositionOpen(hedger, 500_000_000, 2, 1, baseTime+2*oneSec))

	out := mustProcess(t, c, persistCh, mustMarginAdd(hedger, open.RequestID, 100_000_000, 2, baseTime+3*oneSec))

	if len(out.Delta.Positions) != 1 {
		t.Fatalf("expected 1 position in delta, got %d", len(out.Delta.Positions))
	}
	if out.Delta.Positions[0].PositionID != open.RequestID {
		t.Errorf("delta carries wrong position: %s", out.Delta.Positions[0].PositionID)
	}
}
