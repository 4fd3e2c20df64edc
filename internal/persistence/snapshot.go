package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"HedgeCore/internal/oracle"
	"HedgeCore/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. A snapshot carries everything the core needs to resume:
// balances, positions, hedger accounts, the depositor mirror, yield
// controller state (including the TWAP history), oracle rates, params,
// partition cursors, recent idempotency keys, and the chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                  `json:"sequence"`
	JournalSequence int64                  `json:"journal_sequence"`
	StateHash       []byte                 `json:"state_hash"`
	Custody         int64                  `json:"custody"`
	Paused          bool                   `json:"paused"`
	Balances        map[string]int64       `json:"balances"` // AccountPath -> balance
	Positions       []PositionSnapshot     `json:"positions"`
	Accounts        []AccountSnapshot      `json:"accounts"`
	Stakes          []state.DepositorStake `json:"stakes"`
	Yield           state.YieldState       `json:"yield"`
	Rates           []oracle.RateEntry     `json:"rates"`
	Params          *ParamsSnapshot        `json:"params,omitempty"`
	SequenceState   map[string]int64       `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string               `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time              `json:"created_at"`
}

// PositionSnapshot is a serializable hedge position.
type PositionSnapshot struct {
	PositionID     string `json:"position_id"`
	Hedger         string `json:"hedger"`
	Margin         int64  `json:"margin"`
	FilledVolume   int64  `json:"filled_volume"`
	BaseBacked     int64  `json:"base_backed"`
	EntryPrice     int64  `json:"entry_price"`
	Leverage       int32  `json:"leverage"`
	EntryTime      int64  `json:"entry_time"`
	LastUpdateTime int64  `json:"last_update_time"`
	RealizedPnL    int64  `json:"realized_pnl"`
	Active         bool   `json:"active"`
	Version        int64  `json:"version"`
}

// AccountSnapshot is a serializable per-hedger aggregate.
type AccountSnapshot struct {
	Hedger            string `json:"hedger"`
	TotalMargin       int64  `json:"total_margin"`
	TotalExposure     int64  `json:"total_exposure"`
	PositionCount     int    `json:"position_count"`
	PendingRewards    int64  `json:"pending_rewards"`
	LastRewardAccrual int64  `json:"last_reward_accrual"`
	LastDepositTime   int64  `json:"last_deposit_time"`
}

// ParamsSnapshot is the serializable parameter set.
type ParamsSnapshot struct {
	Pair string `json:"pair"`

	MinMarginRatioBps     int64 `json:"min_margin_ratio_bps"`
	LiquidationThreshBps  int64 `json:"liquidation_threshold_bps"`
	MaxLeverage           int32 `json:"max_leverage"`
	EntryFeeBps           int64 `json:"entry_fee_bps"`
	ExitFeeBps            int64 `json:"exit_fee_bps"`
	MarginFeeBps          int64 `json:"margin_fee_bps"`
	LiquidationPenaltyBps int64 `json:"liquidation_penalty_bps"`
	MaxPositionsPerHedger int   `json:"max_positions_per_hedger"`
	PositionCollateralCap int64 `json:"position_collateral_cap"`
	PoolCollateralCap     int64 `json:"pool_collateral_cap"`
	RateDifferentialBps   int64 `json:"rate_differential_bps"`
	MaxRewardPeriodSec    int64 `json:"max_reward_period_sec"`

	BaseShiftBps       int64 `json:"base_shift_bps"`
	MaxShiftBps        int64 `json:"max_shift_bps"`
	AdjustmentSpeedBps int64 `json:"adjustment_speed_bps"`
	TargetPoolRatioBps int64 `json:"target_pool_ratio_bps"`
	ToleranceBps       int64 `json:"tolerance_bps"`
	YieldFeeBps        int64 `json:"yield_fee_bps"`
	HoldingPeriodSec   int64 `json:"holding_period_sec"`
	TWAPWindowSec      int64 `json:"twap_window_sec"`

	EffectiveSeq int64 `json:"effective_seq"`
}

// SnapshotPosition converts a live position into its serializable form.
func SnapshotPosition(p *state.HedgePosition) PositionSnapshot {
	return PositionSnapshot{
		PositionID:     p.PositionID.String(),
		Hedger:         p.Hedger.String(),
		Margin:         p.Margin,
		FilledVolume:   p.FilledVolume,
		BaseBacked:     p.BaseBacked,
		EntryPrice:     p.EntryPrice,
		Leverage:       p.Leverage,
		EntryTime:      p.EntryTime,
		LastUpdateTime: p.LastUpdateTime,
		RealizedPnL:    p.RealizedPnL,
		Active:         p.Active,
		Version:        p.Version,
	}
}

// RestorePosition is the inverse of SnapshotPosition.
func (ps PositionSnapshot) RestorePosition() (*state.HedgePosition, error) {
	positionID, err := uuid.Parse(ps.PositionID)
	if err != nil {
		return nil, fmt.Errorf("position id: %w", err)
	}
	hedger, err := uuid.Parse(ps.Hedger)
	if err != nil {
		return nil, fmt.Errorf("hedger id: %w", err)
	}
	return &state.HedgePosition{
		PositionID:     positionID,
		Hedger:         hedger,
		Margin:         ps.Margin,
		FilledVolume:   ps.FilledVolume,
		BaseBacked:     ps.BaseBacked,
		EntryPrice:     ps.EntryPrice,
		Leverage:       ps.Leverage,
		EntryTime:      ps.EntryTime,
		LastUpdateTime: ps.LastUpdateTime,
		RealizedPnL:    ps.RealizedPnL,
		Active:         ps.Active,
		Version:        ps.Version,
	}, nil
}

// SnapshotAccount converts a live hedger aggregate into its serializable form.
func SnapshotAccount(a *state.HedgerAccount) AccountSnapshot {
	return AccountSnapshot{
		Hedger:            a.Hedger.String(),
		TotalMargin:       a.TotalMargin,
		TotalExposure:     a.TotalExposure,
		PositionCount:     a.PositionCount,
		PendingRewards:    a.PendingRewards,
		LastRewardAccrual: a.LastRewardAccrual,
		LastDepositTime:   a.LastDepositTime,
	}
}

// RestoreAccount is the inverse of SnapshotAccount.
func (as AccountSnapshot) RestoreAccount() (*state.HedgerAccount, error) {
	hedger, err := uuid.Parse(as.Hedger)
	if err != nil {
		return nil, fmt.Errorf("hedger id: %w", err)
	}
	return &state.HedgerAccount{
		Hedger:            hedger,
		TotalMargin:       as.TotalMargin,
		TotalExposure:     as.TotalExposure,
		PositionCount:     as.PositionCount,
		PendingRewards:    as.PendingRewards,
		LastRewardAccrual: as.LastRewardAccrual,
		LastDepositTime:   as.LastDepositTime,
	}, nil
}

// SnapshotParams converts live params into their serializable form.
func SnapshotParams(p *state.PoolParams) *ParamsSnapshot {
	if p == nil {
		return nil
	}
	return &ParamsSnapshot{
		Pair:                  p.Pair,
		MinMarginRatioBps:     p.MinMarginRatioBps,
		LiquidationThreshBps:  p.LiquidationThreshBps,
		MaxLeverage:           p.MaxLeverage,
		EntryFeeBps:           p.EntryFeeBps,
		ExitFeeBps:            p.ExitFeeBps,
		MarginFeeBps:          p.MarginFeeBps,
		LiquidationPenaltyBps: p.LiquidationPenaltyBps,
		MaxPositionsPerHedger: p.MaxPositionsPerHedger,
		PositionCollateralCap: p.PositionCollateralCap,
		PoolCollateralCap:     p.PoolCollateralCap,
		RateDifferentialBps:   p.RateDifferentialBps,
		MaxRewardPeriodSec:    p.MaxRewardPeriodSec,
		BaseShiftBps:          p.BaseShiftBps,
		MaxShiftBps:           p.MaxShiftBps,
		AdjustmentSpeedBps:    p.AdjustmentSpeedBps,
		TargetPoolRatioBps:    p.TargetPoolRatioBps,
		ToleranceBps:          p.ToleranceBps,
		YieldFeeBps:           p.YieldFeeBps,
		HoldingPeriodSec:      p.HoldingPeriodSec,
		TWAPWindowSec:         p.TWAPWindowSec,
		EffectiveSeq:          p.EffectiveSeq,
	}
}

// RestoreParams is the inverse of SnapshotParams.
func (ps *ParamsSnapshot) RestoreParams() *state.PoolParams {
	if ps == nil {
		return nil
	}
	return &state.PoolParams{
		Pair:                  ps.Pair,
		MinMarginRatioBps:     ps.MinMarginRatioBps,
		LiquidationThreshBps:  ps.LiquidationThreshBps,
		MaxLeverage:           ps.MaxLeverage,
		EntryFeeBps:           ps.EntryFeeBps,
		ExitFeeBps:            ps.ExitFeeBps,
		MarginFeeBps:          ps.MarginFeeBps,
		LiquidationPenaltyBps: ps.LiquidationPenaltyBps,
		MaxPositionsPerHedger: ps.MaxPositionsPerHedger,
		PositionCollateralCap: ps.PositionCollateralCap,
		PoolCollateralCap:     ps.PoolCollateralCap,
		RateDifferentialBps:   ps.RateDifferentialBps,
		MaxRewardPeriodSec:    ps.MaxRewardPeriodSec,
		BaseShiftBps:          ps.BaseShiftBps,
		MaxShiftBps:           ps.MaxShiftBps,
		AdjustmentSpeedBps:    ps.AdjustmentSpeedBps,
		TargetPoolRatioBps:    ps.TargetPoolRatioBps,
		ToleranceBps:          ps.ToleranceBps,
		YieldFeeBps:           ps.YieldFeeBps,
		HoldingPeriodSec:      ps.HoldingPeriodSec,
		TWAPWindowSec:         ps.TWAPWindowSec,
		EffectiveSeq:          ps.EffectiveSeq,
	}
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying events from the snapshot
// sequence forward against the recorded chain tip.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart, the core restores from it and replays events from
// snapshot.sequence+1; nil means cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used for
// warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Partition,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
