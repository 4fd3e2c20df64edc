package event

import (
	"fmt"

	"github.com/google/uuid"
)

// ParamUpdate replaces engine and controller parameters. The full set is
// carried so an update is self-contained and replayable; validation runs
// before anything is applied. Actor must hold the governance role.
type ParamUpdate struct {
	Actor uuid.UUID

	MinMarginRatioBps     int64 // e.g. 1000 = 10%
	LiquidationThreshBps  int64 // strictly below MinMarginRatioBps
	MaxLeverage           int32
	EntryFeeBps           int64
	ExitFeeBps            int64
	MarginFeeBps          int64
	LiquidationPenaltyBps int64
	MaxPositionsPerHedger int
	PositionCollateralCap int64 // Fixed-point: quote scale, 0 = uncapped
	PoolCollateralCap     int64 // Fixed-point: quote scale, 0 = uncapped
	RateDifferentialBps   int64
	MaxRewardPeriodSec    int64

	BaseShiftBps       int64
	MaxShiftBps        int64
	AdjustmentSpeedBps int64
	TargetPoolRatioBps int64
	ToleranceBps       int64
	YieldFeeBps        int64
	HoldingPeriodSec   int64
	TWAPWindowSec      int64

	EffectiveSeq int64 // Sequence at which params take effect
	Sequence     int64
	Timestamp    int64
}

func (e *ParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("params:%d", e.EffectiveSeq)
}

func (e *ParamUpdate) EventType() EventType  { return EventTypeParamUpdate }
func (e *ParamUpdate) Partition() string     { return PartitionGovernance }
func (e *ParamUpdate) SourceSequence() int64 { return e.Sequence }

// EmergencyKind enumerates the governance override actions.
type EmergencyKind int32

const (
	EmergencyPause EmergencyKind = iota
	EmergencyResume
	EmergencyForceDistribute
	EmergencyForceClose
	EmergencyRebalancePools
)

func (k EmergencyKind) String() string {
	switch k {
	case EmergencyPause:
		return "pause"
	case EmergencyResume:
		return "resume"
	case EmergencyForceDistribute:
		return "force_distribute"
	case EmergencyForceClose:
		return "force_close"
	case EmergencyRebalancePools:
		return "rebalance_pools"
	default:
		return "unknown"
	}
}

// EmergencyAction is a governance override. It bypasses staleness and
// gradual-adjustment gates but never the audit trail: every applied
// override lands in the event log and outbound stream with its actor
// and justification.
type EmergencyAction struct {
	RequestID     uuid.UUID
	Actor         uuid.UUID
	Kind          EmergencyKind
	TargetID      uuid.UUID // Position for force_close; zero otherwise
	Amount        int64     // Rebalance amount (quote scale); zero otherwise
	ToHedgerPool  bool      // Rebalance direction
	Justification string
	Sequence      int64
	Timestamp     int64
}

func (e *EmergencyAction) IdempotencyKey() string { return e.RequestID.String() }
func (e *EmergencyAction) EventType() EventType   { return EventTypeEmergencyAction }
func (e *EmergencyAction) Partition() string      { return PartitionGovernance }
func (e *EmergencyAction) SourceSequence() int64  { return e.Sequence }
