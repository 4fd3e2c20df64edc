package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"

	fpmath "HedgeCore/internal/math"
)

// FillAllocation is one position's slice of a mint sync: the quote volume
// it absorbs and the base backing it takes on at the sync price.
type FillAllocation struct {
	PositionID uuid.UUID
	Hedger     uuid.UUID
	FillVolume int64 // Fixed-point: quote scale
	BaseAmount int64 // Fixed-point: base scale
}

// PositionBook holds every hedger position and per-hedger aggregates.
// All mutation goes through the single-threaded core, so the book is
// not protected by locks. Price-dependent admission checks (margin
// ratios, liquidation eligibility) live in MarginCalculator; the book
// enforces only structural rules.
type PositionBook struct {
	positions map[uuid.UUID]*HedgePosition
	accounts  map[uuid.UUID]*HedgerAccount
	byHedger  map[uuid.UUID][]uuid.UUID
}

func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[uuid.UUID]*HedgePosition),
		accounts:  make(map[uuid.UUID]*HedgerAccount),
		byHedger:  make(map[uuid.UUID][]uuid.UUID),
	}
}

// Get returns the position if it exists, active or not.
func (pb *PositionBook) Get(positionID uuid.UUID) (*HedgePosition, bool) {
	pos, ok := pb.positions[positionID]
	return pos, ok
}

// Account returns the hedger's aggregate record if one exists.
func (pb *PositionBook) Account(hedger uuid.UUID) (*HedgerAccount, bool) {
	acct, ok := pb.accounts[hedger]
	return acct, ok
}

// Open admits a new position. Validates leverage, position count and
// collateral ceilings, deducts the entry fee from the posted collateral,
// and records the oracle price as the initial entry price. Returns the
// created position and the fee charged.
func (pb *PositionBook) Open(p *PoolParams, positionID, hedger uuid.UUID, collateral int64, leverage int32, entryPrice, now int64) (*HedgePosition, int64, error) {
	if collateral <= 0 {
		return nil, 0, fmt.Errorf("collateral %d: %w", collateral, ErrInvalidAmount)
	}
	if leverage < 1 || leverage > p.MaxLeverage {
		return nil, 0, fmt.Errorf("leverage %d exceeds max %d: %w", leverage, p.MaxLeverage, ErrLeverageTooHigh)
	}
	if entryPrice <= 0 {
		return nil, 0, fmt.Errorf("entry price %d: %w", entryPrice, ErrPriceInvalid)
	}
	if _, exists := pb.positions[positionID]; exists {
		return nil, 0, fmt.Errorf("position %s already exists", positionID)
	}
	if acct, ok := pb.accounts[hedger]; ok && acct.PositionCount >= p.MaxPositionsPerHedger {
		return nil, 0, fmt.Errorf("hedger %s at %d positions: %w", hedger, acct.PositionCount, ErrTooManyPositions)
	}

	fee := fpmath.PercentageOf(collateral, p.EntryFeeBps)
	netMargin := collateral - fee
	if netMargin <= 0 {
		return nil, 0, fmt.Errorf("collateral %d consumed by entry fee: %w", collateral, ErrInvalidAmount)
	}
	if p.PositionCollateralCap > 0 && netMargin > p.PositionCollateralCap {
		return nil, 0, fmt.Errorf("net margin %d exceeds position cap %d: %w", netMargin, p.PositionCollateralCap, ErrCollateralCeiling)
	}
	if p.PoolCollateralCap > 0 && pb.TotalPoolMargin()+netMargin > p.PoolCollateralCap {
		return nil, 0, fmt.Errorf("pool margin would exceed cap %d: %w", p.PoolCollateralCap, ErrCollateralCeiling)
	}
	if _, err := fpmath.PositionSize(netMargin, leverage); err != nil {
		return nil, 0, err
	}

	pb.accrue(hedger, now, p)

	pos := &HedgePosition{
		PositionID:     positionID,
		Hedger:         hedger,
		Margin:         netMargin,
		EntryPrice:     entryPrice,
		Leverage:       leverage,
		EntryTime:      now,
		LastUpdateTime: now,
		Active:         true,
		Version:        1,
	}
	pb.positions[positionID] = pos
	pb.byHedger[hedger] = append(pb.byHedger[hedger], positionID)

	acct := pb.recomputeAccount(hedger)
	if acct.LastRewardAccrual == 0 {
		acct.LastRewardAccrual = now
	}
	acct.LastDepositTime = now
	return pos, fee, nil
}

// AddMargin tops up an active position. The margin fee is deducted from
// the deposited amount; the deposit restarts the hedger's holding period.
// Returns the net amount credited and the fee charged.
func (pb *PositionBook) AddMargin(p *PoolParams, hedger, positionID uuid.UUID, amount, now int64) (int64, int64, error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("amount %d: %w", amount, ErrInvalidAmount)
	}
	pos, err := pb.activeOwned(hedger, positionID)
	if err != nil {
		return 0, 0, err
	}

	fee := fpmath.PercentageOf(amount, p.MarginFeeBps)
	net := amount - fee
	if net <= 0 {
		return 0, 0, fmt.Errorf("amount %d consumed by margin fee: %w", amount, ErrInvalidAmount)
	}
	if p.PositionCollateralCap > 0 && pos.Margin+net > p.PositionCollateralCap {
		return 0, 0, fmt.Errorf("margin would exceed position cap %d: %w", p.PositionCollateralCap, ErrCollateralCeiling)
	}
	if p.PoolCollateralCap > 0 && pb.TotalPoolMargin()+net > p.PoolCollateralCap {
		return 0, 0, fmt.Errorf("pool margin would exceed cap %d: %w", p.PoolCollateralCap, ErrCollateralCeiling)
	}

	pb.accrue(hedger, now, p)

	pos.Margin += net
	pos.LastUpdateTime = now
	pos.Version++

	acct := pb.recomputeAccount(hedger)
	acct.LastDepositTime = now
	return net, fee, nil
}

// RemoveMargin debits margin from an active position. Only structural
// rules are enforced here; the caller must have already verified the
// post-removal margin ratio against the current price.
func (pb *PositionBook) RemoveMargin(p *PoolParams, hedger, positionID uuid.UUID, amount, now int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount %d: %w", amount, ErrInvalidAmount)
	}
	pos, err := pb.activeOwned(hedger, positionID)
	if err != nil {
		return err
	}
	if amount > pos.Margin {
		return fmt.Errorf("remove %d exceeds margin %d: %w", amount, pos.Margin, ErrInsufficientMargin)
	}

	pb.accrue(hedger, now, p)

	pos.Margin -= amount
	pos.LastUpdateTime = now
	pos.Version++

	pb.recomputeAccount(hedger)
	return nil
}

// Settle deactivates a position and zeroes its economics, returning the
// pre-settlement snapshot so the caller can generate custody journals
// from it. Used by both voluntary close and liquidation; the caller is
// responsible for re-homing any detached backing.
func (pb *PositionBook) Settle(p *PoolParams, positionID uuid.UUID, now int64) (HedgePosition, error) {
	pos, ok := pb.positions[positionID]
	if !ok {
		return HedgePosition{}, fmt.Errorf("position %s: %w", positionID, ErrPositionNotFound)
	}
	if !pos.Active {
		return HedgePosition{}, fmt.Errorf("position %s: %w", positionID, ErrPositionNotActive)
	}

	pb.accrue(pos.Hedger, now, p)

	snapshot := *pos
	pos.Margin = 0
	pos.FilledVolume = 0
	pos.BaseBacked = 0
	pos.RealizedPnL = 0
	pos.Active = false
	pos.LastUpdateTime = now
	pos.Version++

	pb.recomputeAccount(pos.Hedger)
	return snapshot, nil
}

// AllocateFill distributes newly minted notional across active positions
// by remaining capacity: min(size headroom, margin-ratio capacity) per
// position at the sync price. The split truncates toward zero and the
// remainder is topped up walking positions in ID order, so the result is
// identical on every replay. Notional that no position can absorb is
// returned as the coverage shortfall.
func (pb *PositionBook) AllocateFill(p *PoolParams, notional, price, now int64) ([]FillAllocation, int64, error) {
	if notional <= 0 {
		return nil, 0, fmt.Errorf("notional %d: %w", notional, ErrInvalidAmount)
	}
	if price <= 0 {
		return nil, 0, fmt.Errorf("price %d: %w", price, ErrPriceInvalid)
	}

	active := pb.ActivePositions()
	remaining := make(map[uuid.UUID]int64, len(active))
	var totalRemaining int64
	for _, pos := range active {
		size, err := fpmath.PositionSize(pos.Margin, pos.Leverage)
		if err != nil {
			continue
		}
		// A release above the entry price parks its crystallized gap in
		// FilledVolume as a negative balance (see CommitRelease). Sizing
		// and pricing new fills use the floored value; the raw value
		// still feeds the P&L identity in EffectiveMargin.
		headroom := size - fpmath.MaxInt64(pos.FilledVolume, 0)
		if headroom <= 0 {
			continue
		}
		eff := fpmath.EffectiveMargin(pos.Margin, pos.FilledVolume, pos.BaseBacked, pos.RealizedPnL, price)
		req := fpmath.RequiredMargin(pos.BaseBacked, price, p.MinMarginRatioBps)
		capacity := fpmath.FillCapacity(eff, req, p.MinMarginRatioBps)
		room := fpmath.MinInt64(headroom, capacity)
		if room <= 0 {
			continue
		}
		remaining[pos.PositionID] = room
		totalRemaining += room
	}

	toAllocate := fpmath.MinInt64(notional, totalRemaining)
	shortfall := notional - toAllocate
	if toAllocate <= 0 {
		return nil, shortfall, nil
	}

	fills := make(map[uuid.UUID]int64, len(remaining))
	if toAllocate == totalRemaining {
		for id, room := range remaining {
			fills[id] = room
		}
	} else {
		weights := make([]fpmath.Weight, 0, len(remaining))
		for id, room := range remaining {
			weights = append(weights, fpmath.Weight{Key: id, Amount: room})
		}
		shares, residual := fpmath.ProportionalShares(toAllocate, weights)
		for _, s := range shares {
			fills[uuid.UUID(s.Key)] = s.Amount
		}
		// Truncation residual tops up positions in ID order, capped by
		// each position's unused room.
		for _, pos := range active {
			if residual <= 0 {
				break
			}
			room, ok := remaining[pos.PositionID]
			if !ok {
				continue
			}
			spare := room - fills[pos.PositionID]
			if spare <= 0 {
				continue
			}
			top := fpmath.MinInt64(spare, residual)
			fills[pos.PositionID] += top
			residual -= top
		}
		shortfall += residual
	}

	allocations := make([]FillAllocation, 0, len(fills))
	for _, pos := range active {
		fill := fills[pos.PositionID]
		if fill <= 0 {
			continue
		}
		baseDelta := fpmath.BaseAmount(fill, price)
		if baseDelta <= 0 {
			// Dust fill that rounds to zero base cannot back supply.
			shortfall += fill
			continue
		}
		pos.EntryPrice = fpmath.WeightedAvgPrice(fpmath.MaxInt64(pos.FilledVolume, 0), pos.EntryPrice, fill, price)
		pos.FilledVolume += fill
		pos.BaseBacked += baseDelta
		pos.LastUpdateTime = now
		pos.Version++
		allocations = append(allocations, FillAllocation{
			PositionID: pos.PositionID,
			Hedger:     pos.Hedger,
			FillVolume: fill,
			BaseAmount: baseDelta,
		})
	}

	pb.recomputeAll(allocations)
	return allocations, shortfall, nil
}

type releaseLeg struct {
	pos          *HedgePosition
	releasedFill int64
	crystallized int64
	releasedBase int64
}

// ReleasePlan is a staged redemption unwind: computed without touching
// the book, committed only after custody journals have applied.
type ReleasePlan struct {
	CurrentValue int64
	Crystallized []fpmath.Share
	legs         []releaseLeg
}

// PlanRelease computes the unwind of backed base supply for a redemption,
// pro-rata over each position's backing. The released tranche leaves at
// its current value; the gap to its entry share crystallizes into each
// hedger's margin and realized P&L. Rejects the whole release if any
// position's margin cannot absorb a negative crystallization. Does not
// mutate the book.
func (pb *PositionBook) PlanRelease(baseAmount, price int64) (*ReleasePlan, error) {
	if baseAmount <= 0 {
		return nil, fmt.Errorf("base amount %d: %w", baseAmount, ErrInvalidAmount)
	}
	if price <= 0 {
		return nil, fmt.Errorf("price %d: %w", price, ErrPriceInvalid)
	}

	active := pb.ActivePositions()
	var totalBase int64
	for _, pos := range active {
		totalBase += pos.BaseBacked
	}
	if baseAmount > totalBase {
		return nil, fmt.Errorf("release %d exceeds backed supply %d: %w", baseAmount, totalBase, ErrInvalidAmount)
	}

	releases := make(map[uuid.UUID]int64, len(active))
	if baseAmount == totalBase {
		for _, pos := range active {
			if pos.BaseBacked > 0 {
				releases[pos.PositionID] = pos.BaseBacked
			}
		}
	} else {
		weights := make([]fpmath.Weight, 0, len(active))
		for _, pos := range active {
			if pos.BaseBacked > 0 {
				weights = append(weights, fpmath.Weight{Key: pos.PositionID, Amount: pos.BaseBacked})
			}
		}
		shares, residual := fpmath.ProportionalShares(baseAmount, weights)
		for _, s := range shares {
			releases[uuid.UUID(s.Key)] = s.Amount
		}
		for _, pos := range active {
			if residual <= 0 {
				break
			}
			spare := pos.BaseBacked - releases[pos.PositionID]
			if spare <= 0 {
				continue
			}
			top := fpmath.MinInt64(spare, residual)
			releases[pos.PositionID] += top
			residual -= top
		}
	}

	plan := &ReleasePlan{}
	byHedger := make(map[uuid.UUID]int64)
	for _, pos := range active {
		rb := releases[pos.PositionID]
		if rb <= 0 {
			continue
		}
		releasedFill, crystallized := fpmath.RedemptionRelease(pos.FilledVolume, pos.BaseBacked, rb, price)
		if crystallized < 0 && pos.Margin+crystallized < 0 {
			return nil, fmt.Errorf("position %s margin %d cannot absorb crystallized loss %d: %w",
				pos.PositionID, pos.Margin, crystallized, ErrInsufficientMargin)
		}
		plan.legs = append(plan.legs, releaseLeg{pos: pos, releasedFill: releasedFill, crystallized: crystallized, releasedBase: rb})
		plan.CurrentValue += releasedFill
		byHedger[pos.Hedger] += crystallized
	}
	plan.Crystallized = sharesByKey(byHedger)
	return plan, nil
}

// CommitRelease applies a staged release plan. Must be called against
// the same book state the plan was computed from. Releasing above the
// entry price can push FilledVolume below zero: the overshoot equals
// the crystallized loss already folded into margin, so close-time net
// P&L still sums to zero (see NetUnrealizedPnL).
func (pb *PositionBook) CommitRelease(p *PoolParams, plan *ReleasePlan, now int64) {
	touched := make(map[uuid.UUID]bool)
	for _, leg := range plan.legs {
		if !touched[leg.pos.Hedger] {
			pb.accrue(leg.pos.Hedger, now, p)
			touched[leg.pos.Hedger] = true
		}
	}
	for _, leg := range plan.legs {
		leg.pos.FilledVolume -= leg.releasedFill
		leg.pos.BaseBacked -= leg.releasedBase
		leg.pos.Margin += leg.crystallized
		leg.pos.RealizedPnL += leg.crystallized
		leg.pos.LastUpdateTime = now
		leg.pos.Version++
	}
	for hedger := range touched {
		pb.recomputeAccount(hedger)
	}
}

type debitLeg struct {
	pos   *HedgePosition
	debit int64
}

// DebitPlan is a staged pro-rata margin haircut for a direct-debit
// redemption.
type DebitPlan struct {
	Debits []fpmath.Share
	legs   []debitLeg
}

// PlanDebits computes an under-backed redemption haircut: every active
// position's margin debited pro-rata to the redeemed share of total
// supply. Does not mutate the book.
func (pb *PositionBook) PlanDebits(redeemedNotional, totalSupply int64) (*DebitPlan, error) {
	if redeemedNotional <= 0 || totalSupply <= 0 {
		return nil, fmt.Errorf("redeemed %d of supply %d: %w", redeemedNotional, totalSupply, ErrInvalidAmount)
	}
	if redeemedNotional > totalSupply {
		return nil, fmt.Errorf("redeemed %d exceeds supply %d: %w", redeemedNotional, totalSupply, ErrInvalidAmount)
	}

	plan := &DebitPlan{}
	byHedger := make(map[uuid.UUID]int64)
	for _, pos := range pb.ActivePositions() {
		d := fpmath.ProRataDebit(pos.Margin, redeemedNotional, totalSupply)
		if d <= 0 {
			continue
		}
		plan.legs = append(plan.legs, debitLeg{pos: pos, debit: d})
		byHedger[pos.Hedger] += d
	}
	plan.Debits = sharesByKey(byHedger)
	return plan, nil
}

// CommitDebits applies a staged debit plan. Must be called against the
// same book state the plan was computed from.
func (pb *PositionBook) CommitDebits(p *PoolParams, plan *DebitPlan, now int64) {
	touched := make(map[uuid.UUID]bool)
	for _, leg := range plan.legs {
		if !touched[leg.pos.Hedger] {
			pb.accrue(leg.pos.Hedger, now, p)
			touched[leg.pos.Hedger] = true
		}
	}
	for _, leg := range plan.legs {
		leg.pos.Margin -= leg.debit
		leg.pos.LastUpdateTime = now
		leg.pos.Version++
	}
	for hedger := range touched {
		pb.recomputeAccount(hedger)
	}
}

// PreviewRewards returns what ClaimRewards would pay at now, without
// mutating accrual state. Used to validate a claim before any journal
// is staged.
func (pb *PositionBook) PreviewRewards(p *PoolParams, hedger uuid.UUID, now int64) int64 {
	acct, ok := pb.accounts[hedger]
	if !ok {
		return 0
	}
	pending := acct.PendingRewards
	if acct.LastRewardAccrual > 0 {
		if elapsedSec := (now - acct.LastRewardAccrual) / 1_000_000; elapsedSec > 0 {
			pending += fpmath.HedgingReward(acct.TotalExposure, p.RateDifferentialBps, elapsedSec, p.MaxRewardPeriodSec)
		}
	}
	return pending
}

// ClaimRewards accrues up to now, then drains the hedger's pending
// rewards. Claiming with nothing accrued is rejected.
func (pb *PositionBook) ClaimRewards(p *PoolParams, hedger uuid.UUID, now int64) (int64, error) {
	acct, ok := pb.accounts[hedger]
	if !ok {
		return 0, fmt.Errorf("hedger %s: %w", hedger, ErrPositionNotFound)
	}
	pb.accrue(hedger, now, p)
	if acct.PendingRewards <= 0 {
		return 0, fmt.Errorf("hedger %s has no pending rewards: %w", hedger, ErrInsufficientYield)
	}
	amount := acct.PendingRewards
	acct.PendingRewards = 0
	return amount, nil
}

// accrue folds the hedging reward earned since the last accrual into the
// hedger's pending balance. Must run before any exposure change so time
// already served is priced at the old exposure.
func (pb *PositionBook) accrue(hedger uuid.UUID, now int64, p *PoolParams) {
	acct, ok := pb.accounts[hedger]
	if !ok {
		return
	}
	if acct.LastRewardAccrual == 0 {
		acct.LastRewardAccrual = now
		return
	}
	elapsedSec := (now - acct.LastRewardAccrual) / 1_000_000
	if elapsedSec <= 0 {
		return
	}
	reward := fpmath.HedgingReward(acct.TotalExposure, p.RateDifferentialBps, elapsedSec, p.MaxRewardPeriodSec)
	acct.PendingRewards += reward
	acct.LastRewardAccrual = now
}

// recomputeAccount rebuilds the hedger's aggregates from their active
// positions. Pending rewards, accrual and deposit timestamps are owned
// by the caller and survive the rebuild.
func (pb *PositionBook) recomputeAccount(hedger uuid.UUID) *HedgerAccount {
	acct, ok := pb.accounts[hedger]
	if !ok {
		acct = &HedgerAccount{Hedger: hedger}
		pb.accounts[hedger] = acct
	}
	acct.TotalMargin = 0
	acct.TotalExposure = 0
	acct.PositionCount = 0
	for _, id := range pb.byHedger[hedger] {
		pos := pb.positions[id]
		if pos == nil || !pos.Active {
			continue
		}
		acct.TotalMargin += pos.Margin
		if size, err := fpmath.PositionSize(pos.Margin, pos.Leverage); err == nil {
			acct.TotalExposure += size
		}
		acct.PositionCount++
	}
	return acct
}

func (pb *PositionBook) recomputeAll(allocations []FillAllocation) {
	touched := make(map[uuid.UUID]bool)
	for _, a := range allocations {
		if !touched[a.Hedger] {
			pb.recomputeAccount(a.Hedger)
			touched[a.Hedger] = true
		}
	}
}

func (pb *PositionBook) activeOwned(hedger, positionID uuid.UUID) (*HedgePosition, error) {
	pos, ok := pb.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrPositionNotFound)
	}
	if pos.Hedger != hedger {
		return nil, fmt.Errorf("position %s not owned by %s: %w", positionID, hedger, ErrNotAuthorized)
	}
	if !pos.Active {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrPositionNotActive)
	}
	return pos, nil
}

// TotalPoolMargin is the sum of margin across active positions.
func (pb *PositionBook) TotalPoolMargin() int64 {
	var total int64
	for _, acct := range pb.accounts {
		total += acct.TotalMargin
	}
	return total
}

// TotalBaseBacked is the base supply currently covered by positions.
func (pb *PositionBook) TotalBaseBacked() int64 {
	var total int64
	for _, pos := range pb.positions {
		if pos.Active {
			total += pos.BaseBacked
		}
	}
	return total
}

// TotalFilledVolume is the quote notional absorbed across active positions.
func (pb *PositionBook) TotalFilledVolume() int64 {
	var total int64
	for _, pos := range pb.positions {
		if pos.Active {
			total += pos.FilledVolume
		}
	}
	return total
}

// EligibleExposure sums exposure over hedgers whose holding period has
// elapsed as of now.
func (pb *PositionBook) EligibleExposure(now, holdingPeriodSec int64) int64 {
	var total int64
	for _, acct := range pb.accounts {
		if pb.eligible(acct, now, holdingPeriodSec) {
			total += acct.TotalExposure
		}
	}
	return total
}

// EligibleHedgerWeights returns exposure weights for hedgers past the
// holding period, for yield distribution.
func (pb *PositionBook) EligibleHedgerWeights(now, holdingPeriodSec int64) []fpmath.Weight {
	weights := make([]fpmath.Weight, 0, len(pb.accounts))
	for id, acct := range pb.accounts {
		if !pb.eligible(acct, now, holdingPeriodSec) {
			continue
		}
		weights = append(weights, fpmath.Weight{Key: id, Amount: acct.TotalExposure})
	}
	return weights
}

func (pb *PositionBook) eligible(acct *HedgerAccount, now, holdingPeriodSec int64) bool {
	if acct.TotalExposure <= 0 {
		return false
	}
	return now-acct.LastDepositTime >= holdingPeriodSec*1_000_000
}

// ActivePositions returns active positions sorted by position ID for
// deterministic iteration.
func (pb *PositionBook) ActivePositions() []*HedgePosition {
	out := make([]*HedgePosition, 0, len(pb.positions))
	for _, pos := range pb.positions {
		if pos.Active {
			out = append(out, pos)
		}
	}
	sortPositions(out)
	return out
}

// AllPositions returns every position, active or settled, sorted by ID.
func (pb *PositionBook) AllPositions() []*HedgePosition {
	out := make([]*HedgePosition, 0, len(pb.positions))
	for _, pos := range pb.positions {
		out = append(out, pos)
	}
	sortPositions(out)
	return out
}

// HedgerPositions returns the hedger's positions sorted by ID.
func (pb *PositionBook) HedgerPositions(hedger uuid.UUID) []*HedgePosition {
	ids := pb.byHedger[hedger]
	out := make([]*HedgePosition, 0, len(ids))
	for _, id := range ids {
		if pos, ok := pb.positions[id]; ok {
			out = append(out, pos)
		}
	}
	sortPositions(out)
	return out
}

// Accounts returns every hedger aggregate sorted by hedger ID.
func (pb *PositionBook) Accounts() []*HedgerAccount {
	out := make([]*HedgerAccount, 0, len(pb.accounts))
	for _, acct := range pb.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Hedger[:], out[j].Hedger[:]) < 0
	})
	return out
}

// SetPosition installs a position during snapshot restore.
func (pb *PositionBook) SetPosition(pos *HedgePosition) {
	if _, exists := pb.positions[pos.PositionID]; !exists {
		pb.byHedger[pos.Hedger] = append(pb.byHedger[pos.Hedger], pos.PositionID)
	}
	pb.positions[pos.PositionID] = pos
}

// SetAccount installs a hedger aggregate during snapshot restore.
func (pb *PositionBook) SetAccount(acct *HedgerAccount) {
	pb.accounts[acct.Hedger] = acct
}

func sortPositions(out []*HedgePosition) {
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].PositionID[:], out[j].PositionID[:]) < 0
	})
}

func sharesByKey(byHedger map[uuid.UUID]int64) []fpmath.Share {
	if len(byHedger) == 0 {
		return nil
	}
	shares := make([]fpmath.Share, 0, len(byHedger))
	for id, amount := range byHedger {
		shares = append(shares, fpmath.Share{Key: id, Amount: amount})
	}
	sort.Slice(shares, func(i, j int) bool {
		return bytes.Compare(shares[i].Key[:], shares[j].Key[:]) < 0
	})
	return shares
}
