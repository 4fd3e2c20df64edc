package state

import (
	"fmt"

	"HedgeCore/internal/event"
	fpmath "HedgeCore/internal/math"
)

// PoolParams defines the engine and controller parameters. A single pool
// backs a single synthetic, so there is one parameter set, versioned by the
// sequence at which a governance update took effect.
type PoolParams struct {
	Pair string // Oracle pair backing the synthetic, e.g. "ARS/USD"

	// Position & margin engine
	MinMarginRatioBps     int64 // Entry/adjustment-time floor
	LiquidationThreshBps  int64 // Strictly below MinMarginRatioBps
	MaxLeverage           int32
	EntryFeeBps           int64
	ExitFeeBps            int64
	MarginFeeBps          int64
	LiquidationPenaltyBps int64 // Share of remaining margin paid to the liquidator
	MaxPositionsPerHedger int
	PositionCollateralCap int64 // Quote scale; 0 disables
	PoolCollateralCap     int64 // Quote scale; 0 disables

	// Hedging rewards
	RateDifferentialBps int64 // Annualized interest-rate differential
	MaxRewardPeriodSec  int64 // Accrual clamp

	// Yield redistribution controller
	BaseShiftBps       int64 // Depositor-side share inside the tolerance band
	MaxShiftBps        int64
	AdjustmentSpeedBps int64 // Max CurrentShift movement per update
	TargetPoolRatioBps int64 // hedger pool / user pool × BASIS
	ToleranceBps       int64
	YieldFeeBps        int64 // Protocol skim on incoming yield
	HoldingPeriodSec   int64 // Flash-deposit defense + claim gate
	TWAPWindowSec      int64

	EffectiveSeq int64 // Sequence at which params take effect
}

// DefaultPoolParams returns the boot configuration before any governance
// update. Entry fee 20 bps and 5x leverage reproduce the canonical open
// example (1,000 collateral -> 998 net margin -> 4,990 position size at
// minimum ratio 2000 bps).
func DefaultPoolParams() PoolParams {
	return PoolParams{
		Pair:                  "ARS/USD",
		MinMarginRatioBps:     2_000, // 20%
		LiquidationThreshBps:  1_000, // 10%
		MaxLeverage:           5,
		EntryFeeBps:           20,
		ExitFeeBps:            20,
		MarginFeeBps:          10,
		LiquidationPenaltyBps: 500,
		MaxPositionsPerHedger: 16,
		PositionCollateralCap: 1_000_000_000_000,  // 1M quote units
		PoolCollateralCap:     10_000_000_000_000, // 10M quote units
		RateDifferentialBps:   200,
		MaxRewardPeriodSec:    30 * 24 * 3600,
		BaseShiftBps:          5_000,
		MaxShiftBps:           9_000,
		AdjustmentSpeedBps:    500,
		TargetPoolRatioBps:    10_000, // 1:1
		ToleranceBps:          500,
		YieldFeeBps:           1_000,
		HoldingPeriodSec:      24 * 3600,
		TWAPWindowSec:         24 * 3600,
		EffectiveSeq:          0,
	}
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *PoolParams) CanonicalBytes() []byte {
	buf := make([]byte, 0, 192)
	buf = append(buf, byte(len(p.Pair)))
	buf = append(buf, p.Pair...)
	buf = appendInt64LE(buf, p.MinMarginRatioBps)
	buf = appendInt64LE(buf, p.LiquidationThreshBps)
	buf = appendInt64LE(buf, int64(p.MaxLeverage))
	buf = appendInt64LE(buf, p.EntryFeeBps)
	buf = appendInt64LE(buf, p.ExitFeeBps)
	buf = appendInt64LE(buf, p.MarginFeeBps)
	buf = appendInt64LE(buf, p.LiquidationPenaltyBps)
	buf = appendInt64LE(buf, int64(p.MaxPositionsPerHedger))
	buf = appendInt64LE(buf, p.PositionCollateralCap)
	buf = appendInt64LE(buf, p.PoolCollateralCap)
	buf = appendInt64LE(buf, p.RateDifferentialBps)
	buf = appendInt64LE(buf, p.MaxRewardPeriodSec)
	buf = appendInt64LE(buf, p.BaseShiftBps)
	buf = appendInt64LE(buf, p.MaxShiftBps)
	buf = appendInt64LE(buf, p.AdjustmentSpeedBps)
	buf = appendInt64LE(buf, p.TargetPoolRatioBps)
	buf = appendInt64LE(buf, p.ToleranceBps)
	buf = appendInt64LE(buf, p.YieldFeeBps)
	buf = appendInt64LE(buf, p.HoldingPeriodSec)
	buf = appendInt64LE(buf, p.TWAPWindowSec)
	buf = appendInt64LE(buf, p.EffectiveSeq)
	return buf
}

// ValidatePoolParams checks parameter ranges. The ordering constraints are
// the ones the margin and shift math rely on: liquidation strictly below the
// entry minimum, BaseShift <= MaxShift <= BASIS.
func ValidatePoolParams(p *PoolParams) error {
	if p.LiquidationThreshBps <= 0 {
		return fmt.Errorf("liquidation_threshold must be > 0, got %d", p.LiquidationThreshBps)
	}
	if p.MinMarginRatioBps <= p.LiquidationThreshBps {
		return fmt.Errorf("min_margin_ratio (%d) must be > liquidation_threshold (%d)",
			p.MinMarginRatioBps, p.LiquidationThreshBps)
	}
	if p.MinMarginRatioBps >= fpmath.Basis {
		return fmt.Errorf("min_margin_ratio must be < %d, got %d", fpmath.Basis, p.MinMarginRatioBps)
	}
	if p.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage must be >= 1, got %d", p.MaxLeverage)
	}
	for name, fee := range map[string]int64{
		"entry_fee":  p.EntryFeeBps,
		"exit_fee":   p.ExitFeeBps,
		"margin_fee": p.MarginFeeBps,
		"yield_fee":  p.YieldFeeBps,
	} {
		if fee < 0 || fee >= fpmath.Basis {
			return fmt.Errorf("%s must be in [0, %d), got %d", name, fpmath.Basis, fee)
		}
	}
	if p.LiquidationPenaltyBps < 0 || p.LiquidationPenaltyBps > fpmath.Basis {
		return fmt.Errorf("liquidation_penalty must be in [0, %d], got %d", fpmath.Basis, p.LiquidationPenaltyBps)
	}
	if p.MaxPositionsPerHedger < 1 {
		return fmt.Errorf("max_positions_per_hedger must be >= 1, got %d", p.MaxPositionsPerHedger)
	}
	if p.PositionCollateralCap < 0 || p.PoolCollateralCap < 0 {
		return fmt.Errorf("collateral caps must be >= 0")
	}
	if p.RateDifferentialBps < 0 {
		return fmt.Errorf("rate_differential must be >= 0, got %d", p.RateDifferentialBps)
	}
	if p.MaxRewardPeriodSec <= 0 {
		return fmt.Errorf("max_reward_period must be > 0, got %d", p.MaxRewardPeriodSec)
	}
	if p.MaxShiftBps < 0 || p.MaxShiftBps > fpmath.Basis {
		return fmt.Errorf("max_shift must be in [0, %d], got %d", fpmath.Basis, p.MaxShiftBps)
	}
	if p.BaseShiftBps < 0 || p.BaseShiftBps > p.MaxShiftBps {
		return fmt.Errorf("base_shift (%d) must be in [0, max_shift (%d)]", p.BaseShiftBps, p.MaxShiftBps)
	}
	if p.AdjustmentSpeedBps <= 0 {
		return fmt.Errorf("adjustment_speed must be > 0, got %d", p.AdjustmentSpeedBps)
	}
	if p.TargetPoolRatioBps <= 0 {
		return fmt.Errorf("target_pool_ratio must be > 0, got %d", p.TargetPoolRatioBps)
	}
	if p.ToleranceBps < 0 || p.ToleranceBps >= fpmath.Basis {
		return fmt.Errorf("tolerance must be in [0, %d), got %d", fpmath.Basis, p.ToleranceBps)
	}
	if p.HoldingPeriodSec < 0 {
		return fmt.Errorf("holding_period must be >= 0, got %d", p.HoldingPeriodSec)
	}
	if p.TWAPWindowSec <= 0 {
		return fmt.Errorf("twap_window must be > 0, got %d", p.TWAPWindowSec)
	}
	return nil
}

// ParamsManager manages the live parameter set
type ParamsManager struct {
	params *PoolParams
}

func NewParamsManager() *ParamsManager {
	p := DefaultPoolParams()
	return &ParamsManager{params: &p}
}

func (pm *ParamsManager) Get() *PoolParams {
	return pm.params
}

// Apply validates and installs a governance parameter update. The pair is
// startup configuration and cannot change at runtime.
func (pm *ParamsManager) Apply(evt *event.ParamUpdate) error {
	next := &PoolParams{
		Pair:                  pm.params.Pair,
		MinMarginRatioBps:     evt.MinMarginRatioBps,
		LiquidationThreshBps:  evt.LiquidationThreshBps,
		MaxLeverage:           evt.MaxLeverage,
		EntryFeeBps:           evt.EntryFeeBps,
		ExitFeeBps:            evt.ExitFeeBps,
		MarginFeeBps:          evt.MarginFeeBps,
		LiquidationPenaltyBps: evt.LiquidationPenaltyBps,
		MaxPositionsPerHedger: evt.MaxPositionsPerHedger,
		PositionCollateralCap: evt.PositionCollateralCap,
		PoolCollateralCap:     evt.PoolCollateralCap,
		RateDifferentialBps:   evt.RateDifferentialBps,
		MaxRewardPeriodSec:    evt.MaxRewardPeriodSec,
		BaseShiftBps:          evt.BaseShiftBps,
		MaxShiftBps:           evt.MaxShiftBps,
		AdjustmentSpeedBps:    evt.AdjustmentSpeedBps,
		TargetPoolRatioBps:    evt.TargetPoolRatioBps,
		ToleranceBps:          evt.ToleranceBps,
		YieldFeeBps:           evt.YieldFeeBps,
		HoldingPeriodSec:      evt.HoldingPeriodSec,
		TWAPWindowSec:         evt.TWAPWindowSec,
		EffectiveSeq:          evt.EffectiveSeq,
	}

	if err := ValidatePoolParams(next); err != nil {
		return fmt.Errorf("invalid pool params: %w", err)
	}

	pm.params = next
	return nil
}

// Restore installs a parameter set directly (used for snapshot restore)
func (pm *ParamsManager) Restore(p *PoolParams) {
	pm.params = p
}

// SetPair overrides the oracle pair (startup configuration)
func (pm *ParamsManager) SetPair(pair string) {
	pm.params.Pair = pair
}
