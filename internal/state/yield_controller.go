package state

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"HedgeCore/internal/event"
	fpmath "HedgeCore/internal/math"
	"HedgeCore/internal/twap"
)

// YieldSplit is one ingested deposit carved up and staged for commit:
// the fee skim, each side's pool credit, the per-participant pending
// credits, and the truncation residuals swept to fees.
type YieldSplit struct {
	Gross          int64
	Fee            int64
	UserShare      int64
	HedgerShare    int64
	UserResidual   int64
	HedgerResidual int64
	UserShares     []fpmath.Share
	HedgerShares   []fpmath.Share
}

// ParticipantYield is one participant's pending balance and last claim
// time, serialized for snapshots.
type ParticipantYield struct {
	Participant uuid.UUID `json:"participant"`
	Pending     int64     `json:"pending"`
	LastClaim   int64     `json:"last_claim"`
}

// YieldState is the controller's serializable state.
type YieldState struct {
	CurrentShift   int64               `json:"current_shift"`
	LastUpdateTime int64               `json:"last_update_time"`
	UserPool       int64               `json:"user_pool"`
	HedgerPool     int64               `json:"hedger_pool"`
	TotalYield     int64               `json:"total_yield"`
	UserPending    []ParticipantYield  `json:"user_pending"`
	HedgerPending  []ParticipantYield  `json:"hedger_pending"`
	History        []twap.PoolSnapshot `json:"history"`
}

// CanonicalBytes serializes the yield state for snapshot digests.
// Pending entries and history are already sorted; integers little-endian.
func (ys *YieldState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64+len(ys.UserPending)*32+len(ys.HedgerPending)*32+len(ys.History)*24)
	buf = appendInt64LE(buf, ys.CurrentShift)
	buf = appendInt64LE(buf, ys.LastUpdateTime)
	buf = appendInt64LE(buf, ys.UserPool)
	buf = appendInt64LE(buf, ys.HedgerPool)
	buf = appendInt64LE(buf, ys.TotalYield)
	for _, p := range ys.UserPending {
		buf = append(buf, p.Participant[:]...)
		buf = appendInt64LE(buf, p.Pending)
		buf = appendInt64LE(buf, p.LastClaim)
	}
	for _, p := range ys.HedgerPending {
		buf = append(buf, p.Participant[:]...)
		buf = appendInt64LE(buf, p.Pending)
		buf = appendInt64LE(buf, p.LastClaim)
	}
	for _, s := range ys.History {
		buf = appendInt64LE(buf, s.Timestamp)
		buf = appendInt64LE(buf, s.EligibleUserPool)
		buf = appendInt64LE(buf, s.EligibleHedgerPool)
	}
	return buf
}

// YieldController owns the dynamic redistribution state: the current
// shift, both yield pool balances, and per-participant pending yield.
// Pool balances mirror the custody ledger's pool accounts; the two are
// reconciled by the custody invariant check after every event.
// Not thread-safe — only accessed from the single-threaded core.
type YieldController struct {
	book   *PositionBook
	mirror *DepositorMirror
	params *ParamsManager
	ring   *twap.Ring

	currentShift int64
	lastUpdate   int64
	userPool     int64
	hedgerPool   int64
	totalYield   int64

	pendingUser     map[uuid.UUID]int64
	pendingHedger   map[uuid.UUID]int64
	lastClaimUser   map[uuid.UUID]int64
	lastClaimHedger map[uuid.UUID]int64
}

func NewYieldController(book *PositionBook, mirror *DepositorMirror, params *ParamsManager, ringCapacity int) *YieldController {
	return &YieldController{
		book:            book,
		mirror:          mirror,
		params:          params,
		ring:            twap.NewRing(ringCapacity),
		currentShift:    params.Get().BaseShiftBps,
		pendingUser:     make(map[uuid.UUID]int64),
		pendingHedger:   make(map[uuid.UUID]int64),
		lastClaimUser:   make(map[uuid.UUID]int64),
		lastClaimHedger: make(map[uuid.UUID]int64),
	}
}

// Update runs the distribution pipeline: sample eligible pools, append a
// snapshot, TWAP both sides over the lookback window, derive the optimal
// shift, and step the current shift toward it by at most the adjustment
// speed. Runs on DistributionUpdate events and inline after every
// yield-affecting operation.
func (yc *YieldController) Update(now int64) {
	p := yc.params.Get()
	userPool := yc.mirror.EligibleTotal(now, p.HoldingPeriodSec)
	hedgerPool := yc.book.EligibleExposure(now, p.HoldingPeriodSec)
	yc.ring.Append(twap.PoolSnapshot{
		Timestamp:          now,
		EligibleUserPool:   userPool,
		EligibleHedgerPool: hedgerPool,
	})

	userTWAP, hedgerTWAP, ok := yc.ring.TWAP(now, time.Duration(p.TWAPWindowSec)*time.Second)
	if !ok {
		return
	}
	optimal := fpmath.OptimalShift(userTWAP, hedgerTWAP, p.TargetPoolRatioBps, p.ToleranceBps, p.BaseShiftBps, p.MaxShiftBps)
	yc.currentShift = fpmath.StepToward(yc.currentShift, optimal, p.AdjustmentSpeedBps)
	yc.lastUpdate = now
}

// ForceDistribute jumps the shift straight to optimal, bypassing the
// TWAP smoothing and the gradual-adjustment bound. Computed from the
// instantaneous eligible pools. Governance only; authorization is the
// caller's job.
func (yc *YieldController) ForceDistribute(now int64) {
	p := yc.params.Get()
	userPool := yc.mirror.EligibleTotal(now, p.HoldingPeriodSec)
	hedgerPool := yc.book.EligibleExposure(now, p.HoldingPeriodSec)
	yc.ring.Append(twap.PoolSnapshot{
		Timestamp:          now,
		EligibleUserPool:   userPool,
		EligibleHedgerPool: hedgerPool,
	})
	yc.currentShift = fpmath.OptimalShift(userPool, hedgerPool, p.TargetPoolRatioBps, p.ToleranceBps, p.BaseShiftBps, p.MaxShiftBps)
	yc.lastUpdate = now
}

// ClampShift forces the current shift back inside [0, MaxShift] after a
// parameter update lowers the ceiling.
func (yc *YieldController) ClampShift() {
	yc.currentShift = fpmath.ClampInt64(yc.currentShift, 0, yc.params.Get().MaxShiftBps)
}

// ComputeSplit carves up one incoming yield amount: protocol fee skim,
// split of the remainder by the current shift, then pro-rata pending
// credits to eligible participants on each side (truncating). Whatever a
// side cannot allocate, including the whole share when the side has no
// eligible participants, becomes that side's residual and is swept to
// fees. Does not mutate the controller.
func (yc *YieldController) ComputeSplit(amount, now int64) (*YieldSplit, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("yield amount %d: %w", amount, ErrInvalidAmount)
	}
	p := yc.params.Get()

	fee := fpmath.PercentageOf(amount, p.YieldFeeBps)
	net := amount - fee
	userShare, hedgerShare := fpmath.SplitByShift(net, yc.currentShift)

	userShares, userResidual := fpmath.ProportionalShares(userShare, yc.mirror.EligibleWeights(now, p.HoldingPeriodSec))
	hedgerShares, hedgerResidual := fpmath.ProportionalShares(hedgerShare, yc.book.EligibleHedgerWeights(now, p.HoldingPeriodSec))

	return &YieldSplit{
		Gross:          amount,
		Fee:            fee,
		UserShare:      userShare,
		HedgerShare:    hedgerShare,
		UserResidual:   userResidual,
		HedgerResidual: hedgerResidual,
		UserShares:     userShares,
		HedgerShares:   hedgerShares,
	}, nil
}

// ApplySplit commits a staged split: credits pending balances and pool
// totals. Pool totals grow by the allocated amounts only; residuals were
// journaled to fees.
func (yc *YieldController) ApplySplit(split *YieldSplit) {
	for _, s := range split.UserShares {
		yc.pendingUser[uuid.UUID(s.Key)] += s.Amount
	}
	for _, s := range split.HedgerShares {
		yc.pendingHedger[uuid.UUID(s.Key)] += s.Amount
	}
	yc.userPool += split.UserShare - split.UserResidual
	yc.hedgerPool += split.HedgerShare - split.HedgerResidual
	yc.totalYield += split.Gross
}

// PreviewClaim validates a claim and returns the amount it would pay:
// holding period elapsed since the participant's last qualifying
// deposit, pending balance positive, side pool able to cover. Does not
// mutate the controller.
func (yc *YieldController) PreviewClaim(participant uuid.UUID, side event.ParticipantSide, now int64) (int64, error) {
	p := yc.params.Get()

	var lastDeposit int64
	var pending, pool int64
	if side == event.SideHedger {
		if acct, ok := yc.book.Account(participant); ok {
			lastDeposit = acct.LastDepositTime
		}
		pending = yc.pendingHedger[participant]
		pool = yc.hedgerPool
	} else {
		if stake, ok := yc.mirror.Stake(participant); ok {
			lastDeposit = stake.LastDepositTime
		}
		pending = yc.pendingUser[participant]
		pool = yc.userPool
	}

	if now-lastDeposit < p.HoldingPeriodSec*1_000_000 {
		return 0, fmt.Errorf("participant %s deposited %ds ago: %w",
			participant, (now-lastDeposit)/1_000_000, ErrHoldingPeriodNotMet)
	}
	if pending <= 0 {
		return 0, fmt.Errorf("participant %s has no pending yield: %w", participant, ErrInsufficientYield)
	}
	if pending > pool {
		return 0, fmt.Errorf("pending %d exceeds pool %d: %w", pending, pool, ErrInsufficientYield)
	}
	return pending, nil
}

// CommitClaim zeroes the participant's pending yield, records the claim
// time, and debits the side pool. Must follow a successful PreviewClaim
// against unchanged state.
func (yc *YieldController) CommitClaim(participant uuid.UUID, side event.ParticipantSide, now int64) int64 {
	if side == event.SideHedger {
		amount := yc.pendingHedger[participant]
		delete(yc.pendingHedger, participant)
		yc.lastClaimHedger[participant] = now
		yc.hedgerPool -= amount
		return amount
	}
	amount := yc.pendingUser[participant]
	delete(yc.pendingUser, participant)
	yc.lastClaimUser[participant] = now
	yc.userPool -= amount
	return amount
}

// DebitHedgerPool pays hedging rewards out of the hedger-side pool.
// Reward obligations are funded by future ingests, so the pool can run
// short; claims fail closed rather than overdraw.
func (yc *YieldController) DebitHedgerPool(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("reward debit %d: %w", amount, ErrInvalidAmount)
	}
	if amount > yc.hedgerPool {
		return fmt.Errorf("reward %d exceeds hedger pool %d: %w", amount, yc.hedgerPool, ErrInsufficientYield)
	}
	yc.hedgerPool -= amount
	return nil
}

// ValidateRebalance checks a governance pool rebalance against the
// source pool's balance.
func (yc *YieldController) ValidateRebalance(amount int64, toHedger bool) error {
	if amount <= 0 {
		return fmt.Errorf("rebalance %d: %w", amount, ErrInvalidAmount)
	}
	from := yc.hedgerPool
	if toHedger {
		from = yc.userPool
	}
	if amount > from {
		return fmt.Errorf("rebalance %d exceeds source pool %d: %w", amount, from, ErrInsufficientYield)
	}
	return nil
}

// CommitRebalance moves unclaimed yield between the pool sides. May
// leave one side holding less than its pending obligations; later claims
// on that side fail closed until ingests refill it.
func (yc *YieldController) CommitRebalance(amount int64, toHedger bool) {
	if toHedger {
		yc.userPool -= amount
		yc.hedgerPool += amount
	} else {
		yc.hedgerPool -= amount
		yc.userPool += amount
	}
}

// CurrentShift is the depositor-side share of incoming yield in basis
// points.
func (yc *YieldController) CurrentShift() int64 { return yc.currentShift }

// LastUpdate is the timestamp of the last distribution update.
func (yc *YieldController) LastUpdate() int64 { return yc.lastUpdate }

// UserPool is the user-side yield pool balance.
func (yc *YieldController) UserPool() int64 { return yc.userPool }

// HedgerPool is the hedger-side yield pool balance.
func (yc *YieldController) HedgerPool() int64 { return yc.hedgerPool }

// TotalYieldGenerated is the lifetime gross yield ingested.
func (yc *YieldController) TotalYieldGenerated() int64 { return yc.totalYield }

// PendingYield returns the participant's claimable balance on a side.
func (yc *YieldController) PendingYield(participant uuid.UUID, side event.ParticipantSide) int64 {
	if side == event.SideHedger {
		return yc.pendingHedger[participant]
	}
	return yc.pendingUser[participant]
}

// LastClaimTime returns when the participant last claimed on a side.
func (yc *YieldController) LastClaimTime(participant uuid.UUID, side event.ParticipantSide) int64 {
	if side == event.SideHedger {
		return yc.lastClaimHedger[participant]
	}
	return yc.lastClaimUser[participant]
}

// TWAPRing exposes the snapshot history for projections.
func (yc *YieldController) TWAPRing() *twap.Ring { return yc.ring }

// Snapshot serializes the controller state, pending entries sorted by
// participant.
func (yc *YieldController) Snapshot() YieldState {
	return YieldState{
		CurrentShift:   yc.currentShift,
		LastUpdateTime: yc.lastUpdate,
		UserPool:       yc.userPool,
		HedgerPool:     yc.hedgerPool,
		TotalYield:     yc.totalYield,
		UserPending:    collectPending(yc.pendingUser, yc.lastClaimUser),
		HedgerPending:  collectPending(yc.pendingHedger, yc.lastClaimHedger),
		History:        yc.ring.Snapshots(),
	}
}

// Restore replaces controller state from a snapshot.
func (yc *YieldController) Restore(ys YieldState) {
	yc.currentShift = ys.CurrentShift
	yc.lastUpdate = ys.LastUpdateTime
	yc.userPool = ys.UserPool
	yc.hedgerPool = ys.HedgerPool
	yc.totalYield = ys.TotalYield
	yc.pendingUser = make(map[uuid.UUID]int64, len(ys.UserPending))
	yc.lastClaimUser = make(map[uuid.UUID]int64, len(ys.UserPending))
	for _, p := range ys.UserPending {
		if p.Pending != 0 {
			yc.pendingUser[p.Participant] = p.Pending
		}
		if p.LastClaim != 0 {
			yc.lastClaimUser[p.Participant] = p.LastClaim
		}
	}
	yc.pendingHedger = make(map[uuid.UUID]int64, len(ys.HedgerPending))
	yc.lastClaimHedger = make(map[uuid.UUID]int64, len(ys.HedgerPending))
	for _, p := range ys.HedgerPending {
		if p.Pending != 0 {
			yc.pendingHedger[p.Participant] = p.Pending
		}
		if p.LastClaim != 0 {
			yc.lastClaimHedger[p.Participant] = p.LastClaim
		}
	}
	yc.ring.Restore(ys.History)
}

// collectPending merges the pending and last-claim maps into sorted
// snapshot entries. Participants present in either map are included.
func collectPending(pending, lastClaim map[uuid.UUID]int64) []ParticipantYield {
	seen := make(map[uuid.UUID]bool, len(pending)+len(lastClaim))
	out := make([]ParticipantYield, 0, len(pending)+len(lastClaim))
	for id, amount := range pending {
		seen[id] = true
		out = append(out, ParticipantYield{Participant: id, Pending: amount, LastClaim: lastClaim[id]})
	}
	for id, claim := range lastClaim {
		if seen[id] {
			continue
		}
		out = append(out, ParticipantYield{Participant: id, Pending: 0, LastClaim: claim})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Participant[:], out[j].Participant[:]) < 0
	})
	return out
}
