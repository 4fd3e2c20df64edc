package math

import (
	"math/big"
	"sort"
)

const secondsPerYear int64 = 365 * 24 * 60 * 60

// HedgingReward accrues the interest-rate-differential reward for a
// hedger's exposure over elapsedSec, clamped to maxPeriodSec so a long
// stretch without a claim cannot compound past the configured ceiling.
//
//	reward = exposure * rateDiffBps * elapsed / (Basis * secondsPerYear)
func HedgingReward(exposure, rateDiffBps, elapsedSec, maxPeriodSec int64) int64 {
	if exposure <= 0 || rateDiffBps <= 0 || elapsedSec <= 0 {
		return 0
	}
	if maxPeriodSec > 0 && elapsedSec > maxPeriodSec {
		elapsedSec = maxPeriodSec
	}

	raw := MultiplyInt128(exposure, rateDiffBps)
	raw.Mul(raw, big.NewInt(elapsedSec))

	result := DivideInt128(raw, Basis*secondsPerYear, RoundDown)
	putInt128(raw)
	return result
}

// PoolRatio returns hedgerPool * Basis / userPool in basis points.
// ok is false when the user pool is empty and no ratio exists.
func PoolRatio(userPool, hedgerPool int64) (ratio int64, ok bool) {
	if userPool <= 0 {
		return 0, false
	}
	raw := MultiplyInt128(hedgerPool, Basis)
	result := DivideInt128(raw, userPool, RoundDown)
	putInt128(raw)
	return result, true
}

// IsWithinTolerance reports whether ratio lies inside the tolerance band
// around target: |ratio - target| <= target * toleranceBps / Basis.
func IsWithinTolerance(ratio, target, toleranceBps int64) bool {
	band := PercentageOf(target, toleranceBps)
	diff := ratio - target
	if diff < 0 {
		diff = -diff
	}
	return diff <= band
}

// OptimalShift computes the target depositor-side yield share.
//
// Inside the tolerance band the split rests at baseShift. Outside it the
// share scales with the pool ratio, so the side sitting under target
// receives more incremental yield and the side over target less:
//
//	optimal = clamp(baseShift * ratio / target, 0, maxShift)
//
// An empty user pool drives the share to maxShift (attract depositors);
// an empty hedger pool drives it to 0 (attract hedgers).
func OptimalShift(userTWAP, hedgerTWAP, targetRatio, toleranceBps, baseShift, maxShift int64) int64 {
	if userTWAP <= 0 && hedgerTWAP <= 0 {
		return ClampInt64(baseShift, 0, maxShift)
	}
	if userTWAP <= 0 {
		return maxShift
	}
	if hedgerTWAP <= 0 {
		return 0
	}

	ratio, _ := PoolRatio(userTWAP, hedgerTWAP)
	if IsWithinTolerance(ratio, targetRatio, toleranceBps) {
		return ClampInt64(baseShift, 0, maxShift)
	}

	raw := MultiplyInt128(baseShift, ratio)
	optimal := DivideInt128(raw, targetRatio, RoundDown)
	putInt128(raw)

	return ClampInt64(optimal, 0, maxShift)
}

// StepToward moves current toward optimal by at most speed per call.
func StepToward(current, optimal, speed int64) int64 {
	if speed <= 0 {
		return current
	}
	diff := optimal - current
	if diff > speed {
		return current + speed
	}
	if diff < -speed {
		return current - speed
	}
	return optimal
}

// Share is one participant's slice of a proportional distribution.
type Share struct {
	Key    [16]byte // UUID binary
	Amount int64
}

// Weight is a participant's stake used to size their share.
type Weight struct {
	Key    [16]byte
	Amount int64
}

// ProportionalShares splits total across weights pro-rata, truncating each
// share toward zero. Weights are sorted by key so the split is identical
// on every replay, and the rounding residual is returned for the caller to
// book against the fees account rather than vanish.
func ProportionalShares(total int64, weights []Weight) (shares []Share, residual int64) {
	if total <= 0 {
		return nil, total
	}

	sort.Slice(weights, func(i, j int) bool {
		for k := 0; k < 16; k++ {
			if weights[i].Key[k] != weights[j].Key[k] {
				return weights[i].Key[k] < weights[j].Key[k]
			}
		}
		return false
	})

	var totalWeight int64
	for _, w := range weights {
		if w.Amount > 0 {
			totalWeight += w.Amount
		}
	}
	if totalWeight <= 0 {
		return nil, total
	}

	shares = make([]Share, 0, len(weights))
	var allocated int64

	for _, w := range weights {
		if w.Amount <= 0 {
			continue
		}
		raw := MultiplyInt128(total, w.Amount)
		amount := DivideInt128(raw, totalWeight, RoundDown)
		putInt128(raw)

		if amount == 0 {
			continue
		}
		shares = append(shares, Share{Key: w.Key, Amount: amount})
		allocated += amount
	}

	return shares, total - allocated
}

// SplitByShift divides an incoming yield amount between the depositor and
// hedger pools. shiftBps is the depositor-side share; the hedger side
// takes the exact remainder so the two always sum to the input.
func SplitByShift(amount, shiftBps int64) (userAmount, hedgerAmount int64) {
	userAmount = PercentageOf(amount, shiftBps)
	return userAmount, amount - userAmount
}
