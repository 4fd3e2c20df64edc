package state_test

import (
	"errors"
	"testing"

	"HedgeCore/internal/state"
)

type stubFeed struct {
	price int64
	valid bool
}

func (f *stubFeed) GetPrice(pair string, now int64) (int64, bool) {
	return f.price, f.valid
}

func newCalculator(pb *state.PositionBook, feed *stubFeed) *state.MarginCalculator {
	pm := state.NewParamsManager()
	return state.NewMarginCalculator(pb, pm, feed)
}

// ============================================================================
// Test: margin ratio and withdrawable margin
// ============================================================================

func TestPositionMarginRatio_ShortExposure(t *testing.T) {
	pos := &state.HedgePosition{
		Margin:       100_000_000,
		FilledVolume: 1_000_000_000,
		BaseBacked:   1_000_000_000,
		Active:       true,
	}

	// Price drop favors the hedger: effective margin 150 over backed 950.
	ratioDown := state.PositionMarginRatio(pos, 95_000_000)
	// Price rise hurts: effective margin 20 over backed 1080.
	ratioUp := state.PositionMarginRatio(pos, 108_000_000)

	if ratioDown <= ratioUp {
		t.Errorf("ratio must fall as price rises: down=%d up=%d", ratioDown, ratioUp)
	}
	if ratioDown != 1578 {
		t.Errorf("ratio at 0.95: got %d, want 1578", ratioDown)
	}
	if ratioUp != 185 {
		t.Errorf("ratio at 1.08: got %d, want 185", ratioUp)
	}
}

func TestWithdrawableMargin_NoBacking(t *testing.T) {
	pb := state.NewPositionBook()
	calc := newCalculator(pb, &stubFeed{price: priceOne, valid: true})

	pos := &state.HedgePosition{Margin: 998_000_000, Active: true}
	if got := calc.WithdrawableMargin(pos, priceOne); got != 998_000_000 {
		t.Errorf("withdrawable: got %d, want 998000000", got)
	}
}

func TestWithdrawableMargin_BelowRequirement(t *testing.T) {
	pb := state.NewPositionBook()
	calc := newCalculator(pb, &stubFeed{price: 95_000_000, valid: true})

	// Effective margin 150 sits under the 190 requirement at 0.95.
	pos := &state.HedgePosition{
		Margin:       100_000_000,
		FilledVolume: 1_000_000_000,
		BaseBacked:   1_000_000_000,
		Active:       true,
	}
	if got := calc.WithdrawableMargin(pos, 95_000_000); got != 0 {
		t.Errorf("withdrawable: got %d, want 0", got)
	}
}

func TestValidateRemoval_RatioFloor(t *testing.T) {
	pb := state.NewPositionBook()
	calc := newCalculator(pb, &stubFeed{price: priceOne, valid: true})

	// Effective margin 300 against a 200 requirement leaves 100 free.
	pos := &state.HedgePosition{
		Margin:       300_000_000,
		FilledVolume: 1_000_000_000,
		BaseBacked:   1_000_000_000,
		Active:       true,
	}

	if err := calc.ValidateRemoval(pos, 100_000_000, priceOne); err != nil {
		t.Errorf("removal at the floor should pass: %v", err)
	}
	err := calc.ValidateRemoval(pos, 100_000_001, priceOne)
	if !errors.Is(err, state.ErrInsufficientMargin) {
		t.Errorf("got %v, want ErrInsufficientMargin", err)
	}
}

// ============================================================================
// Test: liquidation eligibility
// ============================================================================

func TestCheckLiquidatable_Underwater(t *testing.T) {
	pb := state.NewPositionBook()
	seedBackedPosition(pb, posID(1), hedgerID(1), 100_000_000, 1_000_000_000, 1_000_000_000)
	calc := newCalculator(pb, &stubFeed{price: 108_000_000, valid: true})

	price, err := calc.CheckLiquidatable(posID(1), t0)
	if err != nil {
		t.Fatalf("check liquidatable: %v", err)
	}
	if price != 108_000_000 {
		t.Errorf("price: got %d, want 108000000", price)
	}
}

func TestCheckLiquidatable_HealthyPosition(t *testing.T) {
	pb := state.NewPositionBook()
	seedBackedPosition(pb, posID(1), hedgerID(1), 100_000_000, 1_000_000_000, 1_000_000_000)
	calc := newCalculator(pb, &stubFeed{price: 95_000_000, valid: true})

	_, err := calc.CheckLiquidatable(posID(1), t0)
	if !errors.Is(err, state.ErrNotLiquidatable) {
		t.Errorf("got %v, want ErrNotLiquidatable", err)
	}
}

func TestCheckLiquidatable_FailsClosedOnInvalidPrice(t *testing.T) {
	pb := state.NewPositionBook()
	seedBackedPosition(pb, posID(1), hedgerID(1), 100_000_000, 1_000_000_000, 1_000_000_000)
	calc := newCalculator(pb, &stubFeed{price: 108_000_000, valid: false})

	_, err := calc.CheckLiquidatable(posID(1), t0)
	if !errors.Is(err, state.ErrPriceInvalid) {
		t.Errorf("got %v, want ErrPriceInvalid", err)
	}
}

func TestCheckLiquidatable_UnknownPosition(t *testing.T) {
	pb := state.NewPositionBook()
	calc := newCalculator(pb, &stubFeed{price: priceOne, valid: true})

	_, err := calc.CheckLiquidatable(posID(9), t0)
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("got %v, want ErrPositionNotFound", err)
	}
}

func TestLiquidatablePositions_ScansUnderwaterOnly(t *testing.T) {
	pb := state.NewPositionBook()
	seedBackedPosition(pb, posID(1), hedgerID(1), 100_000_000, 1_000_000_000, 1_000_000_000)
	seedBackedPosition(pb, posID(2), hedgerID(2), 500_000_000, 1_000_000_000, 1_000_000_000)
	calc := newCalculator(pb, &stubFeed{price: 108_000_000, valid: true})

	ids, err := calc.LiquidatablePositions(t0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(ids) != 1 || ids[0] != posID(1) {
		t.Errorf("liquidatable: got %v, want [%s]", ids, posID(1))
	}
}

func TestPositionNoBacking_NeverLiquidatable(t *testing.T) {
	pb := state.NewPositionBook()
	calc := newCalculator(pb, &stubFeed{price: priceOne, valid: true})

	pos := &state.HedgePosition{Margin: 1, Active: true}
	if calc.IsLiquidatable(pos, priceOne) {
		t.Error("position without backing must not be liquidatable")
	}
}

// ============================================================================
// Test: pool risk summary
// ============================================================================

func TestRiskSummary_Aggregates(t *testing.T) {
	pb := state.NewPositionBook()
	seedBackedPosition(pb, posID(1), hedgerID(1), 100_000_000, 1_000_000_000, 1_000_000_000)
	seedBackedPosition(pb, posID(2), hedgerID(2), 500_000_000, 1_000_000_000, 1_000_000_000)
	calc := newCalculator(pb, &stubFeed{price: 108_000_000, valid: true})

	s := calc.RiskSummary(108_000_000)
	if s.ActivePositions != 2 {
		t.Errorf("active: got %d, want 2", s.ActivePositions)
	}
	if s.TotalMargin != 600_000_000 {
		t.Errorf("total margin: got %d, want 600000000", s.TotalMargin)
	}
	if s.TotalBaseBacked != 2_000_000_000 {
		t.Errorf("total base: got %d, want 2000000000", s.TotalBaseBacked)
	}
	if s.TotalBackedValue != 2_160_000_000 {
		t.Errorf("backed value: got %d, want 2160000000", s.TotalBackedValue)
	}
	if s.Liquidatable != 1 {
		t.Errorf("liquidatable count: got %d, want 1", s.Liquidatable)
	}
}
