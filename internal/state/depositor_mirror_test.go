package state_test

import (
	"errors"
	"testing"

	"HedgeCore/internal/state"
)

// ============================================================================
// Test: depositor mirror
// ============================================================================

func TestDeposit_AccumulatesAndRestartsClock(t *testing.T) {
	dm := state.NewDepositorMirror()
	user := hedgerID(41)

	if err := dm.Deposit(user, 100_000_000, t0); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	t1 := t0 + 3_600*second
	if err := dm.Deposit(user, 50_000_000, t1); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	stake, ok := dm.Stake(user)
	if !ok {
		t.Fatal("stake missing")
	}
	if stake.Principal != 150_000_000 {
		t.Errorf("principal: got %d, want 150000000", stake.Principal)
	}
	if stake.LastDepositTime != t1 {
		t.Errorf("deposit time: got %d, want %d", stake.LastDepositTime, t1)
	}
	if stake.Version != 2 {
		t.Errorf("version: got %d, want 2", stake.Version)
	}
	if dm.Total() != 150_000_000 {
		t.Errorf("total: got %d, want 150000000", dm.Total())
	}
}

func TestDeposit_InvalidAmount(t *testing.T) {
	dm := state.NewDepositorMirror()

	if err := dm.Deposit(hedgerID(41), 0, t0); !errors.Is(err, state.ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

func TestWithdraw_KeepsHoldingClock(t *testing.T) {
	dm := state.NewDepositorMirror()
	user := hedgerID(41)
	dm.Deposit(user, 100_000_000, t0)

	if err := dm.Withdraw(user, 40_000_000, t0+3_600*second); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	stake, _ := dm.Stake(user)
	if stake.Principal != 60_000_000 {
		t.Errorf("principal: got %d, want 60000000", stake.Principal)
	}
	if stake.LastDepositTime != t0 {
		t.Errorf("withdrawal must not restart the clock: got %d, want %d", stake.LastDepositTime, t0)
	}
	if dm.Total() != 60_000_000 {
		t.Errorf("total: got %d, want 60000000", dm.Total())
	}
}

func TestWithdraw_InsufficientPrincipal(t *testing.T) {
	dm := state.NewDepositorMirror()
	user := hedgerID(41)
	dm.Deposit(user, 100_000_000, t0)

	if err := dm.Withdraw(user, 100_000_001, t0); !errors.Is(err, state.ErrInsufficientPrincipal) {
		t.Errorf("over-withdraw: got %v, want ErrInsufficientPrincipal", err)
	}
	if err := dm.Withdraw(hedgerID(42), 1, t0); !errors.Is(err, state.ErrInsufficientPrincipal) {
		t.Errorf("unknown user: got %v, want ErrInsufficientPrincipal", err)
	}
}

func TestEligibleTotal_HoldingGate(t *testing.T) {
	dm := state.NewDepositorMirror()
	dm.Deposit(hedgerID(41), 100_000_000, t0)
	dm.Deposit(hedgerID(42), 200_000_000, t0+3_600*second)

	// One day holding period: at t0+day only the first deposit qualifies.
	if got := dm.EligibleTotal(t0+day, 86_400); got != 100_000_000 {
		t.Errorf("eligible total: got %d, want 100000000", got)
	}

	weights := dm.EligibleWeights(t0+day, 86_400)
	if len(weights) != 1 {
		t.Fatalf("eligible weights: got %d entries, want 1", len(weights))
	}
	if weights[0].Key != [16]byte(hedgerID(41)) || weights[0].Amount != 100_000_000 {
		t.Errorf("weight: got %x/%d, want first depositor with 100000000", weights[0].Key, weights[0].Amount)
	}

	// Once the second period elapses both count.
	if got := dm.EligibleTotal(t0+day+3_600*second, 86_400); got != 300_000_000 {
		t.Errorf("eligible total after both: got %d, want 300000000", got)
	}
}

func TestEligibleTotal_SkipsDrainedStakes(t *testing.T) {
	dm := state.NewDepositorMirror()
	user := hedgerID(41)
	dm.Deposit(user, 100_000_000, t0)
	dm.Withdraw(user, 100_000_000, t0)

	if got := dm.EligibleTotal(t0+day, 86_400); got != 0 {
		t.Errorf("drained stake should not count: got %d", got)
	}
}

func TestSetStake_AdjustsRunningTotal(t *testing.T) {
	dm := state.NewDepositorMirror()
	user := hedgerID(41)
	dm.Deposit(user, 100_000_000, t0)

	dm.SetStake(&state.DepositorStake{
		User:            user,
		Principal:       250_000_000,
		LastDepositTime: t0,
		Version:         7,
	})
	if dm.Total() != 250_000_000 {
		t.Errorf("total after re-install: got %d, want 250000000", dm.Total())
	}

	other := hedgerID(42)
	dm.SetStake(&state.DepositorStake{User: other, Principal: 50_000_000})
	if dm.Total() != 300_000_000 {
		t.Errorf("total after second install: got %d, want 300000000", dm.Total())
	}

	stakes := dm.Stakes()
	if len(stakes) != 2 {
		t.Fatalf("stakes: got %d, want 2", len(stakes))
	}
	if stakes[0].User != user || stakes[1].User != other {
		t.Error("stakes should sort by user ID")
	}
}
