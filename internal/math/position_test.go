package math_test

import (
	"math"
	"testing"

	fpmath "HedgeCore/internal/math"
)

const (
	priceScale = 100_000_000
	quoteScale = 1_000_000
)

// ============================================================================
// Test: unrealized P&L
// ============================================================================

func TestTotalUnrealizedPnL_PriceRise(t *testing.T) {
	// filledVolume 1000, baseBacked 1000, price 1.00 -> 1.05: hedger loses 50.
	filled := int64(1_000 * quoteScale)
	base := int64(1_000 * quoteScale)

	atEntry := fpmath.TotalUnrealizedPnL(filled, base, 1_00_000_000)
	if atEntry != 0 {
		t.Errorf("at entry price pnl = %d, want 0", atEntry)
	}

	after := fpmath.TotalUnrealizedPnL(filled, base, 1_05_000_000)
	if after != -50*quoteScale {
		t.Errorf("pnl at 1.05 = %d, want %d", after, -50*quoteScale)
	}
}

func TestTotalUnrealizedPnL_PriceDrop(t *testing.T) {
	filled := int64(1_000 * quoteScale)
	base := int64(1_000 * quoteScale)

	got := fpmath.TotalUnrealizedPnL(filled, base, 95_000_000)
	if got != 50*quoteScale {
		t.Errorf("pnl at 0.95 = %d, want %d", got, 50*quoteScale)
	}
}

func TestNetUnrealizedPnL_RemovesRealized(t *testing.T) {
	if got := fpmath.NetUnrealizedPnL(50, 25); got != 25 {
		t.Errorf("got %d, want 25", got)
	}
	if got := fpmath.NetUnrealizedPnL(-50, -25); got != -25 {
		t.Errorf("got %d, want -25", got)
	}
}

// ============================================================================
// Test: margin ratio & capacity
// ============================================================================

func TestMarginRatio_FullyFilled(t *testing.T) {
	// 998 margin backing 4990 at price 1.00 -> 2000 bps (5x leverage).
	margin := int64(998 * quoteScale)
	base := int64(4_990 * quoteScale)

	got := fpmath.MarginRatio(margin, base, priceScale)
	if got != 2_000 {
		t.Errorf("margin ratio = %d bps, want 2000", got)
	}
}

func TestMarginRatio_NoBacking(t *testing.T) {
	got := fpmath.MarginRatio(998*quoteScale, 0, priceScale)
	if got != math.MaxInt64 {
		t.Errorf("unbacked position ratio = %d, want MaxInt64", got)
	}
}

func TestMarginRatio_NegativeEffectiveMargin(t *testing.T) {
	got := fpmath.MarginRatio(-1, 1_000*quoteScale, priceScale)
	if got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestFillCapacity_Headroom(t *testing.T) {
	// 998 margin, nothing backed, 10% minimum: capacity 9980.
	margin := int64(998 * quoteScale)
	got := fpmath.FillCapacity(margin, 0, 1_000)
	if got != 9_980*quoteScale {
		t.Errorf("capacity = %d, want %d", got, int64(9_980)*quoteScale)
	}
}

func TestFillCapacity_NoHeadroom(t *testing.T) {
	if got := fpmath.FillCapacity(100, 100, 1_000); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := fpmath.FillCapacity(100, 150, 1_000); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestPositionSize_EntryScenario(t *testing.T) {
	// 1000 collateral, 20 bps entry fee, 5x leverage.
	collateral := int64(1_000 * quoteScale)
	netMargin := collateral - fpmath.PercentageOf(collateral, 20)

	size, err := fpmath.PositionSize(netMargin, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if netMargin != 998*quoteScale {
		t.Errorf("net margin = %d, want %d", netMargin, int64(998)*quoteScale)
	}
	if size != 4_990*quoteScale {
		t.Errorf("position size = %d, want %d", size, int64(4_990)*quoteScale)
	}
}

// ============================================================================
// Test: redemption bookkeeping
// ============================================================================

func TestRedemptionRelease_HedgerGain(t *testing.T) {
	// 1000 filled / 1000 base, price fell to 0.95, redeem half the base.
	filled := int64(1_000 * quoteScale)
	base := int64(1_000 * quoteScale)

	released, crystallized := fpmath.RedemptionRelease(filled, base, 500*quoteScale, 95_000_000)

	if released != 475*quoteScale {
		t.Errorf("released fill = %d, want %d", released, int64(475)*quoteScale)
	}
	if crystallized != 25*quoteScale {
		t.Errorf("crystallized = %d, want %d", crystallized, int64(25)*quoteScale)
	}

	// Post-redemption state: margin soaked up the realized gain, the
	// remaining total still carries it, net removes it exactly once.
	remainingFilled := filled - released
	remainingBase := base - 500*quoteScale
	total := fpmath.TotalUnrealizedPnL(remainingFilled, remainingBase, 95_000_000)
	net := fpmath.NetUnrealizedPnL(total, crystallized)

	if total != 50*quoteScale {
		t.Errorf("total after redemption = %d, want %d", total, int64(50)*quoteScale)
	}
	if net != 25*quoteScale {
		t.Errorf("net after redemption = %d, want %d", net, int64(25)*quoteScale)
	}
}

func TestRedemptionRelease_HedgerLoss(t *testing.T) {
	filled := int64(1_000 * quoteScale)
	base := int64(1_000 * quoteScale)

	released, crystallized := fpmath.RedemptionRelease(filled, base, 500*quoteScale, 1_05_000_000)

	if released != 525*quoteScale {
		t.Errorf("released fill = %d, want %d", released, int64(525)*quoteScale)
	}
	if crystallized != -25*quoteScale {
		t.Errorf("crystallized = %d, want %d", crystallized, int64(-25)*quoteScale)
	}
}

func TestRedemptionRelease_ZeroBase(t *testing.T) {
	released, crystallized := fpmath.RedemptionRelease(1000, 0, 500, priceScale)
	if released != 0 || crystallized != 0 {
		t.Errorf("got (%d, %d), want (0, 0)", released, crystallized)
	}
}

func TestProRataDebit(t *testing.T) {
	// Redeem 10% of supply: each hedger loses 10% of margin.
	got := fpmath.ProRataDebit(500*quoteScale, 100, 1_000)
	if got != 50*quoteScale {
		t.Errorf("got %d, want %d", got, int64(50)*quoteScale)
	}

	if got := fpmath.ProRataDebit(500, 100, 0); got != 0 {
		t.Errorf("zero supply debit = %d, want 0", got)
	}
}

// ============================================================================
// Test: liquidation monotonicity
// ============================================================================

func TestMarginRatio_MonotoneInPrice(t *testing.T) {
	margin := int64(100 * quoteScale)
	filled := int64(1_000 * quoteScale)
	base := int64(1_000 * quoteScale)

	prev := int64(math.MaxInt64)
	for _, price := range []int64{100_000_000, 102_000_000, 104_000_000, 106_000_000, 108_000_000} {
		eff := fpmath.EffectiveMargin(margin, filled, base, 0, price)
		ratio := fpmath.MarginRatio(eff, base, price)
		if ratio > prev {
			t.Fatalf("ratio increased from %d to %d as price rose to %d", prev, ratio, price)
		}
		prev = ratio
	}
}

func TestWeightedAvgPrice(t *testing.T) {
	got := fpmath.WeightedAvgPrice(100, 100_000_000, 100, 110_000_000)
	if got != 105_000_000 {
		t.Errorf("got %d, want 105000000", got)
	}
	if got := fpmath.WeightedAvgPrice(0, 0, 50, 99); got != 99 {
		t.Errorf("first fill avg = %d, want 99", got)
	}
}

func TestBaseAmount_Inverse(t *testing.T) {
	// 1050 quote at price 1.05 buys 1000 base.
	got := fpmath.BaseAmount(1_050*quoteScale, 1_05_000_000)
	if got != 1_000*quoteScale {
		t.Errorf("got %d, want %d", got, int64(1_000)*quoteScale)
	}
}
