package math

import "math"

// BackedValue converts a base-currency backing amount into quote units
// at the given price: baseBacked * price / PriceScale.
func BackedValue(baseBacked, price int64) int64 {
	raw := MultiplyInt128(baseBacked, price)
	result := DivideInt128(raw, PriceConfig.Scale, RoundDown)
	putInt128(raw)
	return result
}

// TotalUnrealizedPnL is the hedger's mark-to-market P&L in quote units.
// Hedgers are structurally short the base currency: the fill they hold is
// fixed in quote terms while the backing is revalued at the current price,
// so a rising price is a hedger loss and a falling price a hedger gain.
//
//	totalUnrealizedPnL = filledVolume - baseBacked * price / PriceScale
func TotalUnrealizedPnL(filledVolume, baseBacked, price int64) int64 {
	return filledVolume - BackedValue(baseBacked, price)
}

// NetUnrealizedPnL removes the already-realized component from the total.
// Redemption bookkeeping folds realized P&L into margin while leaving it
// embedded in filledVolume, so combining margin with the TOTAL would count
// it twice. Margin math must always use the net figure.
func NetUnrealizedPnL(totalUnrealized, realized int64) int64 {
	return totalUnrealized - realized
}

// EffectiveMargin is posted margin plus net unrealized P&L.
func EffectiveMargin(margin, filledVolume, baseBacked, realized, price int64) int64 {
	total := TotalUnrealizedPnL(filledVolume, baseBacked, price)
	return margin + NetUnrealizedPnL(total, realized)
}

// MarginRatio returns effectiveMargin * Basis / backedValue in basis points.
// A position with no backing has no exposure to margin against; MaxInt64
// keeps comparisons against any threshold trivially healthy.
func MarginRatio(effectiveMargin, baseBacked, price int64) int64 {
	backed := BackedValue(baseBacked, price)
	if backed <= 0 {
		return math.MaxInt64
	}
	if effectiveMargin <= 0 {
		return 0
	}
	raw := MultiplyInt128(effectiveMargin, Basis)
	result := DivideInt128(raw, backed, RoundDown)
	putInt128(raw)
	return result
}

// RequiredMargin is the minimum margin for a backing amount at a
// minimum margin ratio: backedValue * minMarginRatioBps / Basis.
func RequiredMargin(baseBacked, price, minMarginRatioBps int64) int64 {
	return PercentageOf(BackedValue(baseBacked, price), minMarginRatioBps)
}

// FillCapacity is the additional quote notional a position can back
// before violating the minimum margin ratio:
//
//	(effectiveMargin - requiredMargin) * Basis / minMarginRatioBps
//
// Always recomputed from current state; a cached capacity would go stale
// with every price tick.
func FillCapacity(effectiveMargin, requiredMargin, minMarginRatioBps int64) int64 {
	headroom := effectiveMargin - requiredMargin
	if headroom <= 0 || minMarginRatioBps <= 0 {
		return 0
	}
	raw := MultiplyInt128(headroom, Basis)
	result := DivideInt128(raw, minMarginRatioBps, RoundDown)
	putInt128(raw)
	return result
}

// PositionSize is the exposure ceiling implied by net margin and leverage.
func PositionSize(netMargin int64, leverage int32) (int64, error) {
	return MulDiv(netMargin, int64(leverage), 1, RoundDown)
}

// RedemptionRelease computes the bookkeeping for releasing redeemedBase
// from a position holding (filledVolume, baseBacked) at the current price.
//
// The released fill is removed at the CURRENT value of the redeemed base;
// the gap against the entry-time notional share is the crystallized P&L,
// credited to margin and recorded in realizedPnL by the caller. Leaving
// the gap inside filledVolume is what the net-vs-total distinction in
// NetUnrealizedPnL corrects for.
func RedemptionRelease(filledVolume, baseBacked, redeemedBase, price int64) (releasedFill, crystallized int64) {
	if baseBacked == 0 || redeemedBase == 0 {
		return 0, 0
	}

	// Entry-time notional share of the redeemed base.
	raw := MultiplyInt128(filledVolume, redeemedBase)
	entryShare := DivideInt128(raw, baseBacked, RoundDown)
	putInt128(raw)

	currentValue := BackedValue(redeemedBase, price)

	return currentValue, entryShare - currentValue
}

// ProRataDebit computes redeemedNotional / totalSupply of margin,
// the direct-debit redemption mode.
func ProRataDebit(margin, redeemedNotional, totalSupply int64) int64 {
	if totalSupply == 0 {
		return 0
	}
	raw := MultiplyInt128(margin, redeemedNotional)
	result := DivideInt128(raw, totalSupply, RoundDown)
	putInt128(raw)
	return result
}

// WeightedAvgPrice merges an existing average entry price with a new fill.
func WeightedAvgPrice(oldAmount, oldPrice, addAmount, addPrice int64) int64 {
	if oldAmount == 0 {
		return addPrice
	}
	if addAmount == 0 {
		return oldPrice
	}
	term1 := MultiplyInt128(oldAmount, oldPrice)
	term2 := MultiplyInt128(addAmount, addPrice)
	numerator := getInt128()
	numerator.Add(term1, term2)

	result := DivideInt128(numerator, oldAmount+addAmount, RoundHalfEven)

	putInt128(term1)
	putInt128(term2)
	putInt128(numerator)

	return result
}

// BaseAmount converts a quote notional into base units at the given price.
func BaseAmount(quoteNotional, price int64) int64 {
	if price == 0 {
		return 0
	}
	raw := MultiplyInt128(quoteNotional, PriceConfig.Scale)
	result := DivideInt128(raw, price, RoundDown)
	putInt128(raw)
	return result
}
