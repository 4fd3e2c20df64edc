package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"HedgeCore/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before they reach the deterministic core; a parse failure here means
// the message is acked and dropped, never retried.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PositionOpen":
		return parsePositionOpen(raw.Data)
	case "MarginAdd":
		return parseMarginAdd(raw.Data)
	case "MarginRemove":
		return parseMarginRemove(raw.Data)
	case "PositionClose":
		return parsePositionClose(raw.Data)
	case "PositionLiquidate":
		return parsePositionLiquidate(raw.Data)
	case "RewardClaim":
		return parseRewardClaim(raw.Data)
	case "RateUpdate":
		return parseRateUpdate(raw.Data)
	case "VaultMint":
		return parseVaultMint(raw.Data)
	case "VaultRedeem":
		return parseVaultRedeem(raw.Data)
	case "RedemptionDebit":
		return parseRedemptionDebit(raw.Data)
	case "UserDeposit":
		return parseUserDeposit(raw.Data)
	case "UserWithdraw":
		return parseUserWithdraw(raw.Data)
	case "YieldDeposit":
		return parseYieldDeposit(raw.Data)
	case "YieldDepositBatch":
		return parseYieldDepositBatch(raw.Data)
	case "YieldClaim":
		return parseYieldClaim(raw.Data)
	case "DistributionUpdate":
		return parseDistributionUpdate(raw.Data)
	case "ParamUpdate":
		return parseParamUpdate(raw.Data)
	case "EmergencyAction":
		return parseEmergencyAction(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type positionOpenJSON struct {
	RequestID   string `json:"request_id"`
	HedgerID    string `json:"hedger_id"`
	Collateral  int64  `json:"collateral"`
	Leverage    int32  `json:"leverage"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePositionOpen(data []byte) (*event.PositionOpen, error) {
	var j positionOpenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionOpen: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	hedger, err := uuid.Parse(j.HedgerID)
	if err != nil {
		return nil, fmt.Errorf("parse hedger_id: %w", err)
	}
	return &event.PositionOpen{
		RequestID:  requestID,
		Hedger:     hedger,
		Collateral: j.Collateral,
		Leverage:   j.Leverage,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

type marginChangeJSON struct {
	RequestID   string `json:"request_id"`
	HedgerID    string `json:"hedger_id"`
	PositionID  string `json:"position_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j *marginChangeJSON) ids() (requestID, hedger, position uuid.UUID, err error) {
	if requestID, err = uuid.Parse(j.RequestID); err != nil {
		return requestID, hedger, position, fmt.Errorf("parse request_id: %w", err)
	}
	if hedger, err = uuid.Parse(j.HedgerID); err != nil {
		return requestID, hedger, position, fmt.Errorf("parse hedger_id: %w", err)
	}
	if position, err = uuid.Parse(j.PositionID); err != nil {
		return requestID, hedger, position, fmt.Errorf("parse position_id: %w", err)
	}
	return requestID, hedger, position, nil
}

func parseMarginAdd(data []byte) (*event.MarginAdd, error) {
	var j marginChangeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginAdd: %w", err)
	}
	requestID, hedger, position, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.MarginAdd{
		RequestID:  requestID,
		Hedger:     hedger,
		PositionID: position,
		Amount:     j.Amount,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

func parseMarginRemove(data []byte) (*event.MarginRemove, error) {
	var j marginChangeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginRemove: %w", err)
	}
	requestID, hedger, position, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.MarginRemove{
		RequestID:  requestID,
		Hedger:     hedger,
		PositionID: position,
		Amount:     j.Amount,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

func parsePositionClose(data []byte) (*event.PositionClose, error) {
	var j marginChangeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionClose: %w", err)
	}
	requestID, hedger, position, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.PositionClose{
		RequestID:  requestID,
		Hedger:     hedger,
		PositionID: position,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

type liquidateJSON struct {
	RequestID    string `json:"request_id"`
	LiquidatorID string `json:"liquidator_id"`
	HedgerID     string `json:"hedger_id"`
	PositionID   string `json:"position_id"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parsePositionLiquidate(data []byte) (*event.PositionLiquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionLiquidate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	liquidator, err := uuid.Parse(j.LiquidatorID)
	if err != nil {
		return nil, fmt.Errorf("parse liquidator_id: %w", err)
	}
	hedger, err := uuid.Parse(j.HedgerID)
	if err != nil {
		return nil, fmt.Errorf("parse hedger_id: %w", err)
	}
	position, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	return &event.PositionLiquidate{
		RequestID:  requestID,
		Liquidator: liquidator,
		Hedger:     hedger,
		PositionID: position,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

type rewardClaimJSON struct {
	RequestID   string `json:"request_id"`
	HedgerID    string `json:"hedger_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRewardClaim(data []byte) (*event.RewardClaim, error) {
	var j rewardClaimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardClaim: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	hedger, err := uuid.Parse(j.HedgerID)
	if err != nil {
		return nil, fmt.Errorf("parse hedger_id: %w", err)
	}
	return &event.RewardClaim{
		RequestID: requestID,
		Hedger:    hedger,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type rateUpdateJSON struct {
	Pair          string `json:"pair"`
	Price         int64  `json:"price"`
	Valid         bool   `json:"valid"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseRateUpdate(data []byte) (*event.RateUpdate, error) {
	var j rateUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RateUpdate: %w", err)
	}
	if j.Pair == "" {
		return nil, fmt.Errorf("parse RateUpdate: empty pair")
	}
	return &event.RateUpdate{
		Pair:          j.Pair,
		Price:         j.Price,
		Valid:         j.Valid,
		PriceSequence: j.PriceSequence,
		Timestamp:     j.TimestampUs,
	}, nil
}

type vaultMintJSON struct {
	RequestID   string `json:"request_id"`
	Notional    int64  `json:"notional"`
	Price       int64  `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseVaultMint(data []byte) (*event.VaultMint, error) {
	var j vaultMintJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VaultMint: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.VaultMint{
		RequestID: requestID,
		Notional:  j.Notional,
		Price:     j.Price,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type vaultRedeemJSON struct {
	RequestID   string `json:"request_id"`
	BaseAmount  int64  `json:"base_amount"`
	Price       int64  `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseVaultRedeem(data []byte) (*event.VaultRedeem, error) {
	var j vaultRedeemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VaultRedeem: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.VaultRedeem{
		RequestID:  requestID,
		BaseAmount: j.BaseAmount,
		Price:      j.Price,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

type redemptionDebitJSON struct {
	RequestID        string `json:"request_id"`
	RedeemedNotional int64  `json:"redeemed_notional"`
	TotalSupply      int64  `json:"total_supply"`
	Sequence         int64  `json:"sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseRedemptionDebit(data []byte) (*event.RedemptionDebit, error) {
	var j redemptionDebitJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedemptionDebit: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.RedemptionDebit{
		RequestID:        requestID,
		RedeemedNotional: j.RedeemedNotional,
		TotalSupply:      j.TotalSupply,
		Sequence:         j.Sequence,
		Timestamp:        j.TimestampUs,
	}, nil
}

type userStakeJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j *userStakeJSON) ids() (requestID, user uuid.UUID, err error) {
	if requestID, err = uuid.Parse(j.RequestID); err != nil {
		return requestID, user, fmt.Errorf("parse request_id: %w", err)
	}
	if user, err = uuid.Parse(j.UserID); err != nil {
		return requestID, user, fmt.Errorf("parse user_id: %w", err)
	}
	return requestID, user, nil
}

func parseUserDeposit(data []byte) (*event.UserDeposit, error) {
	var j userStakeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UserDeposit: %w", err)
	}
	requestID, user, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.UserDeposit{
		RequestID: requestID,
		User:      user,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

func parseUserWithdraw(data []byte) (*event.UserWithdraw, error) {
	var j userStakeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UserWithdraw: %w", err)
	}
	requestID, user, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.UserWithdraw{
		RequestID: requestID,
		User:      user,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type yieldDepositJSON struct {
	RequestID   string `json:"request_id"`
	Source      string `json:"source"`
	YieldType   string `json:"yield_type"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseYieldDeposit(data []byte) (*event.YieldDeposit, error) {
	var j yieldDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse YieldDeposit: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.YieldDeposit{
		RequestID: requestID,
		Source:    j.Source,
		YieldType: j.YieldType,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type yieldDepositBatchJSON struct {
	RequestID   string   `json:"request_id"`
	Sources     []string `json:"sources"`
	YieldTypes  []string `json:"yield_types"`
	Amounts     []int64  `json:"amounts"`
	Sequence    int64    `json:"sequence"`
	TimestampUs int64    `json:"timestamp_us"`
}

func parseYieldDepositBatch(data []byte) (*event.YieldDepositBatch, error) {
	var j yieldDepositBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse YieldDepositBatch: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.YieldDepositBatch{
		RequestID:  requestID,
		Sources:    j.Sources,
		YieldTypes: j.YieldTypes,
		Amounts:    j.Amounts,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

type yieldClaimJSON struct {
	RequestID     string `json:"request_id"`
	ParticipantID string `json:"participant_id"`
	Side          string `json:"side"` // "user" or "hedger"
	Sequence      int64  `json:"sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseYieldClaim(data []byte) (*event.YieldClaim, error) {
	var j yieldClaimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse YieldClaim: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	participant, err := uuid.Parse(j.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("parse participant_id: %w", err)
	}
	side := event.SideUser
	if j.Side == "hedger" {
		side = event.SideHedger
	}
	return &event.YieldClaim{
		RequestID:   requestID,
		Participant: participant,
		Side:        side,
		Sequence:    j.Sequence,
		Timestamp:   j.TimestampUs,
	}, nil
}

type distributionUpdateJSON struct {
	RequestID   string `json:"request_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDistributionUpdate(data []byte) (*event.DistributionUpdate, error) {
	var j distributionUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DistributionUpdate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	return &event.DistributionUpdate{
		RequestID: requestID,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

type paramUpdateJSON struct {
	ActorID string `json:"actor_id"`

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
	Sequence     int64 `json:"sequence"`
	TimestampUs  int64 `json:"timestamp_us"`
}

func parseParamUpdate(data []byte) (*event.ParamUpdate, error) {
	var j paramUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ParamUpdate: %w", err)
	}
	actor, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}
	return &event.ParamUpdate{
		Actor:                 actor,
		MinMarginRatioBps:     j.MinMarginRatioBps,
		LiquidationThreshBps:  j.LiquidationThreshBps,
		MaxLeverage:           j.MaxLeverage,
		EntryFeeBps:           j.EntryFeeBps,
		ExitFeeBps:            j.ExitFeeBps,
		MarginFeeBps:          j.MarginFeeBps,
		LiquidationPenaltyBps: j.LiquidationPenaltyBps,
		MaxPositionsPerHedger: j.MaxPositionsPerHedger,
		PositionCollateralCap: j.PositionCollateralCap,
		PoolCollateralCap:     j.PoolCollateralCap,
		RateDifferentialBps:   j.RateDifferentialBps,
		MaxRewardPeriodSec:    j.MaxRewardPeriodSec,
		BaseShiftBps:          j.BaseShiftBps,
		MaxShiftBps:           j.MaxShiftBps,
		AdjustmentSpeedBps:    j.AdjustmentSpeedBps,
		TargetPoolRatioBps:    j.TargetPoolRatioBps,
		ToleranceBps:          j.ToleranceBps,
		YieldFeeBps:           j.YieldFeeBps,
		HoldingPeriodSec:      j.HoldingPeriodSec,
		TWAPWindowSec:         j.TWAPWindowSec,
		EffectiveSeq:          j.EffectiveSeq,
		Sequence:              j.Sequence,
		Timestamp:             j.TimestampUs,
	}, nil
}

type emergencyActionJSON struct {
	RequestID     string `json:"request_id"`
	ActorID       string `json:"actor_id"`
	Kind          string `json:"kind"` // pause|resume|force_distribute|force_close|rebalance_pools
	TargetID      string `json:"target_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	ToHedgerPool  bool   `json:"to_hedger_pool,omitempty"`
	Justification string `json:"justification"`
	Sequence      int64  `json:"sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseEmergencyAction(data []byte) (*event.EmergencyAction, error) {
	var j emergencyActionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EmergencyAction: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	actor, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}

	var kind event.EmergencyKind
	switch j.Kind {
	case "pause":
		kind = event.EmergencyPause
	case "resume":
		kind = event.EmergencyResume
	case "force_distribute":
		kind = event.EmergencyForceDistribute
	case "force_close":
		kind = event.EmergencyForceClose
	case "rebalance_pools":
		kind = event.EmergencyRebalancePools
	default:
		return nil, fmt.Errorf("parse EmergencyAction: unknown kind %q", j.Kind)
	}

	target := uuid.Nil
	if j.TargetID != "" {
		if target, err = uuid.Parse(j.TargetID); err != nil {
			return nil, fmt.Errorf("parse target_id: %w", err)
		}
	}

	return &event.EmergencyAction{
		RequestID:     requestID,
		Actor:         actor,
		Kind:          kind,
		TargetID:      target,
		Amount:        j.Amount,
		ToHedgerPool:  j.ToHedgerPool,
		Justification: j.Justification,
		Sequence:      j.Sequence,
		Timestamp:     j.TimestampUs,
	}, nil
}
