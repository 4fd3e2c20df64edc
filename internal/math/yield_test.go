package math_test

import (
	"testing"

	fpmath "HedgeCore/internal/math"

	"github.com/google/uuid"
)

// ============================================================================
// Test: optimal shift
// ============================================================================

const (
	baseShift   = 5_000 // 50% to depositors at rest
	maxShift    = 9_000
	targetRatio = 10_000 // hedger pool = user pool
	tolerance   = 500    // 5%
)

func TestOptimalShift_WithinTolerance(t *testing.T) {
	// 50.2 vs 50.0 is inside a 5% band: rest at base.
	got := fpmath.OptimalShift(50_000_000, 50_200_000, targetRatio, tolerance, baseShift, maxShift)
	if got != baseShift {
		t.Errorf("got %d, want base shift %d", got, baseShift)
	}
}

func TestOptimalShift_HedgerPoolOverTarget(t *testing.T) {
	// Hedger TWAP 60 vs user TWAP 40: hedger side sits over target, so the
	// depositor share rises above base to attract the deficient side.
	got := fpmath.OptimalShift(40_000_000, 60_000_000, targetRatio, tolerance, baseShift, maxShift)

	if got <= baseShift {
		t.Errorf("got %d, want > base %d", got, baseShift)
	}
	if got > maxShift {
		t.Errorf("got %d, exceeds max %d", got, maxShift)
	}
	// ratio = 15000 bps, optimal = 5000 * 15000 / 10000.
	if got != 7_500 {
		t.Errorf("got %d, want 7500", got)
	}
}

func TestOptimalShift_UserPoolOverTarget(t *testing.T) {
	got := fpmath.OptimalShift(60_000_000, 40_000_000, targetRatio, tolerance, baseShift, maxShift)

	if got >= baseShift {
		t.Errorf("got %d, want < base %d", got, baseShift)
	}
	// ratio = 6666 bps, optimal = 5000 * 6666 / 10000.
	if got != 3_333 {
		t.Errorf("got %d, want 3333", got)
	}
}

func TestOptimalShift_ClampedToMax(t *testing.T) {
	// Hedger pool 10x the user pool: raw optimal 50000 bps, clamped.
	got := fpmath.OptimalShift(10_000_000, 100_000_000, targetRatio, tolerance, baseShift, maxShift)
	if got != maxShift {
		t.Errorf("got %d, want max %d", got, maxShift)
	}
}

func TestOptimalShift_EmptyPools(t *testing.T) {
	if got := fpmath.OptimalShift(0, 0, targetRatio, tolerance, baseShift, maxShift); got != baseShift {
		t.Errorf("both empty: got %d, want base", got)
	}
	if got := fpmath.OptimalShift(0, 50, targetRatio, tolerance, baseShift, maxShift); got != maxShift {
		t.Errorf("no depositors: got %d, want max", got)
	}
	if got := fpmath.OptimalShift(50, 0, targetRatio, tolerance, baseShift, maxShift); got != 0 {
		t.Errorf("no hedgers: got %d, want 0", got)
	}
}

// ============================================================================
// Test: gradual adjustment
// ============================================================================

func TestStepToward_BoundedPerCall(t *testing.T) {
	speed := int64(100)

	got := fpmath.StepToward(5_000, 7_500, speed)
	if got != 5_100 {
		t.Errorf("got %d, want 5100 (one step up)", got)
	}

	got = fpmath.StepToward(5_000, 4_000, speed)
	if got != 4_900 {
		t.Errorf("got %d, want 4900 (one step down)", got)
	}

	got = fpmath.StepToward(5_000, 5_050, speed)
	if got != 5_050 {
		t.Errorf("got %d, want 5050 (lands on optimal)", got)
	}

	got = fpmath.StepToward(5_000, 5_000, speed)
	if got != 5_000 {
		t.Errorf("got %d, want 5000 (already there)", got)
	}
}

func TestStepToward_ConvergesWithinBounds(t *testing.T) {
	current := int64(5_000)
	optimal := int64(7_500)
	speed := int64(100)

	for i := 0; i < 40; i++ {
		next := fpmath.StepToward(current, optimal, speed)
		diff := next - current
		if diff < 0 {
			diff = -diff
		}
		if diff > speed {
			t.Fatalf("step %d moved by %d > speed %d", i, diff, speed)
		}
		current = next
	}
	if current != optimal {
		t.Errorf("did not converge: got %d, want %d", current, optimal)
	}
}

// ============================================================================
// Test: proportional distribution
// ============================================================================

func TestProportionalShares_ResidualAccounted(t *testing.T) {
	w := []fpmath.Weight{
		{Key: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Amount: 1},
		{Key: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Amount: 1},
		{Key: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Amount: 1},
	}

	shares, residual := fpmath.ProportionalShares(100, w)

	var sum int64
	for _, s := range shares {
		if s.Amount != 33 {
			t.Errorf("share = %d, want 33", s.Amount)
		}
		sum += s.Amount
	}
	if sum+residual != 100 {
		t.Errorf("sum %d + residual %d != 100", sum, residual)
	}
	if residual != 1 {
		t.Errorf("residual = %d, want 1", residual)
	}
}

func TestProportionalShares_DeterministicOrder(t *testing.T) {
	a := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	b := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")

	first, _ := fpmath.ProportionalShares(90, []fpmath.Weight{{Key: b, Amount: 2}, {Key: a, Amount: 1}})
	second, _ := fpmath.ProportionalShares(90, []fpmath.Weight{{Key: a, Amount: 1}, {Key: b, Amount: 2}})

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("got %d and %d shares, want 2 each", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("order-dependent result at %d: %v vs %v", i, first[i], second[i])
		}
	}
	if first[0].Key != [16]byte(a) {
		t.Errorf("first share should belong to the lowest key")
	}
}

func TestProportionalShares_ZeroWeights(t *testing.T) {
	shares, residual := fpmath.ProportionalShares(100, []fpmath.Weight{{Amount: 0}})
	if len(shares) != 0 {
		t.Errorf("got %d shares, want 0", len(shares))
	}
	if residual != 100 {
		t.Errorf("residual = %d, want full amount back", residual)
	}
}

// ============================================================================
// Test: split & reward accrual
// ============================================================================

func TestSplitByShift_SumsExactly(t *testing.T) {
	user, hedger := fpmath.SplitByShift(1_001, 5_000)
	if user+hedger != 1_001 {
		t.Errorf("split loses units: %d + %d != 1001", user, hedger)
	}
	if user != 500 {
		t.Errorf("user share = %d, want 500", user)
	}
}

func TestHedgingReward_LinearInTime(t *testing.T) {
	exposure := int64(1_000_000_000_000) // 1,000,000 quote
	rate := int64(200)                   // 2% differential

	year := int64(365 * 24 * 3600)
	full := fpmath.HedgingReward(exposure, rate, year, year)
	if full != 20_000_000_000 {
		t.Errorf("full-year reward = %d, want 20000000000 (2%%)", full)
	}

	half := fpmath.HedgingReward(exposure, rate, year/2, year)
	if half != full/2 {
		t.Errorf("half-year reward = %d, want %d", half, full/2)
	}
}

func TestHedgingReward_ClampedToMaxPeriod(t *testing.T) {
	exposure := int64(1_000_000_000_000)
	rate := int64(200)
	year := int64(365 * 24 * 3600)

	capped := fpmath.HedgingReward(exposure, rate, 3*year, year)
	uncapped := fpmath.HedgingReward(exposure, rate, year, year)
	if capped != uncapped {
		t.Errorf("clamp failed: %d != %d", capped, uncapped)
	}
}

func TestHedgingReward_ZeroInputs(t *testing.T) {
	if got := fpmath.HedgingReward(0, 200, 100, 0); got != 0 {
		t.Errorf("zero exposure reward = %d, want 0", got)
	}
	if got := fpmath.HedgingReward(100, 0, 100, 0); got != 0 {
		t.Errorf("zero rate reward = %d, want 0", got)
	}
}
