package state

import (
	"fmt"

	"github.com/google/uuid"

	fpmath "HedgeCore/internal/math"
	"HedgeCore/internal/oracle"
)

// PositionNetPnL is the position's unrealized P&L at price net of the
// component already crystallized into margin.
func PositionNetPnL(pos *HedgePosition, price int64) int64 {
	total := fpmath.TotalUnrealizedPnL(pos.FilledVolume, pos.BaseBacked, price)
	return fpmath.NetUnrealizedPnL(total, pos.RealizedPnL)
}

// PositionMarginRatio is the position's effective margin over its backed
// value, in basis points. Positions with no backing report an unbounded
// ratio and are never liquidatable.
func PositionMarginRatio(pos *HedgePosition, price int64) int64 {
	eff := fpmath.EffectiveMargin(pos.Margin, pos.FilledVolume, pos.BaseBacked, pos.RealizedPnL, price)
	return fpmath.MarginRatio(eff, pos.BaseBacked, price)
}

// MarginCalculator answers price-dependent questions about positions:
// withdrawable margin, liquidation eligibility, pool-wide risk. It reads
// the book and the rate cache but never mutates either, and it fails
// closed whenever the oracle cannot produce a usable price.
type MarginCalculator struct {
	book   *PositionBook
	params *ParamsManager
	feed   oracle.PriceFeed
}

func NewMarginCalculator(book *PositionBook, params *ParamsManager, feed oracle.PriceFeed) *MarginCalculator {
	return &MarginCalculator{book: book, params: params, feed: feed}
}

// CurrentPrice returns the oracle price for the pool's pair at the event
// time, or ErrPriceInvalid when the feed has no usable price.
func (mc *MarginCalculator) CurrentPrice(now int64) (int64, error) {
	p := mc.params.Get()
	price, ok := mc.feed.GetPrice(p.Pair, now)
	if !ok {
		return 0, fmt.Errorf("no usable price for %s: %w", p.Pair, ErrPriceInvalid)
	}
	return price, nil
}

// WithdrawableMargin is the largest amount removable from the position
// while keeping its ratio at or above the minimum margin ratio. Never
// exceeds posted margin.
func (mc *MarginCalculator) WithdrawableMargin(pos *HedgePosition, price int64) int64 {
	p := mc.params.Get()
	eff := fpmath.EffectiveMargin(pos.Margin, pos.FilledVolume, pos.BaseBacked, pos.RealizedPnL, price)
	req := fpmath.RequiredMargin(pos.BaseBacked, price, p.MinMarginRatioBps)
	headroom := eff - req
	if headroom <= 0 {
		return 0
	}
	return fpmath.MinInt64(headroom, pos.Margin)
}

// ValidateRemoval rejects a margin withdrawal that would leave the
// position below the minimum margin ratio at the given price.
func (mc *MarginCalculator) ValidateRemoval(pos *HedgePosition, amount, price int64) error {
	if amount > pos.Margin {
		return fmt.Errorf("remove %d exceeds margin %d: %w", amount, pos.Margin, ErrInsufficientMargin)
	}
	if w := mc.WithdrawableMargin(pos, price); amount > w {
		return fmt.Errorf("remove %d exceeds withdrawable %d: %w", amount, w, ErrInsufficientMargin)
	}
	return nil
}

// IsLiquidatable reports whether the position's ratio has fallen below
// the liquidation threshold at the given price.
func (mc *MarginCalculator) IsLiquidatable(pos *HedgePosition, price int64) bool {
	p := mc.params.Get()
	return PositionMarginRatio(pos, price) < p.LiquidationThreshBps
}

// CheckLiquidatable fetches the current price and verifies the position
// is eligible for liquidation. Returns the price used so settlement and
// eligibility share one observation.
func (mc *MarginCalculator) CheckLiquidatable(positionID uuid.UUID, now int64) (int64, error) {
	price, err := mc.CurrentPrice(now)
	if err != nil {
		return 0, err
	}
	pos, ok := mc.book.Get(positionID)
	if !ok {
		return 0, fmt.Errorf("position %s: %w", positionID, ErrPositionNotFound)
	}
	if !pos.Active {
		return 0, fmt.Errorf("position %s: %w", positionID, ErrPositionNotActive)
	}
	if !mc.IsLiquidatable(pos, price) {
		return 0, fmt.Errorf("position %s ratio %d at or above threshold %d: %w",
			positionID, PositionMarginRatio(pos, price), mc.params.Get().LiquidationThreshBps, ErrNotLiquidatable)
	}
	return price, nil
}

// LiquidatablePositions scans active positions at the current price and
// returns the IDs below the liquidation threshold, in ID order.
func (mc *MarginCalculator) LiquidatablePositions(now int64) ([]uuid.UUID, error) {
	price, err := mc.CurrentPrice(now)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, pos := range mc.book.ActivePositions() {
		if mc.IsLiquidatable(pos, price) {
			out = append(out, pos.PositionID)
		}
	}
	return out, nil
}

// PoolRiskSummary aggregates pool-wide risk at a single price.
type PoolRiskSummary struct {
	Price             int64
	ActivePositions   int
	TotalMargin       int64
	TotalEffective    int64
	TotalBaseBacked   int64
	TotalBackedValue  int64
	AggregateRatioBps int64
	Liquidatable      int
}

// RiskSummary computes pool-wide risk at the given price. The aggregate
// ratio treats the pool as one position: total effective margin over
// total backed value.
func (mc *MarginCalculator) RiskSummary(price int64) PoolRiskSummary {
	s := PoolRiskSummary{Price: price}
	for _, pos := range mc.book.ActivePositions() {
		s.ActivePositions++
		s.TotalMargin += pos.Margin
		s.TotalEffective += fpmath.EffectiveMargin(pos.Margin, pos.FilledVolume, pos.BaseBacked, pos.RealizedPnL, price)
		s.TotalBaseBacked += pos.BaseBacked
		if mc.IsLiquidatable(pos, price) {
			s.Liquidatable++
		}
	}
	s.TotalBackedValue = fpmath.BackedValue(s.TotalBaseBacked, price)
	s.AggregateRatioBps = fpmath.MarginRatio(s.TotalEffective, s.TotalBaseBacked, price)
	return s
}
