package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionOpen
	EventTypeMarginAdd
	EventTypeMarginRemove
	EventTypePositionClose
	EventTypePositionLiquidate
	EventTypeRewardClaim
	EventTypeRateUpdate
	EventTypeVaultMint
	EventTypeVaultRedeem
	EventTypeRedemptionDebit
	EventTypeUserDeposit
	EventTypeUserWithdraw
	EventTypeYieldDeposit
	EventTypeYieldDepositBatch
	EventTypeYieldClaim
	EventTypeDistributionUpdate
	EventTypeParamUpdate
	EventTypeEmergencyAction
)

// Partition names for source-sequence validation. Command partitions are
// strictly ordered; rate partitions tolerate gaps (see core).
const (
	PartitionPositions  = "positions"
	PartitionVault      = "vault"
	PartitionDepositors = "depositors"
	PartitionYield      = "yield"
	PartitionGovernance = "governance"
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Ordering partition the source sequence belongs to
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the ordering partition for sequence validation
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypePositionOpen:
		return "PositionOpen"
	case EventTypeMarginAdd:
		return "MarginAdd"
	case EventTypeMarginRemove:
		return "MarginRemove"
	case EventTypePositionClose:
		return "PositionClose"
	case EventTypePositionLiquidate:
		return "PositionLiquidate"
	case EventTypeRewardClaim:
		return "RewardClaim"
	case EventTypeRateUpdate:
		return "RateUpdate"
	case EventTypeVaultMint:
		return "VaultMint"
	case EventTypeVaultRedeem:
		return "VaultRedeem"
	case EventTypeRedemptionDebit:
		return "RedemptionDebit"
	case EventTypeUserDeposit:
		return "UserDeposit"
	case EventTypeUserWithdraw:
		return "UserWithdraw"
	case EventTypeYieldDeposit:
		return "YieldDeposit"
	case EventTypeYieldDepositBatch:
		return "YieldDepositBatch"
	case EventTypeYieldClaim:
		return "YieldClaim"
	case EventTypeDistributionUpdate:
		return "DistributionUpdate"
	case EventTypeParamUpdate:
		return "ParamUpdate"
	case EventTypeEmergencyAction:
		return "EmergencyAction"
	default:
		return "Unknown"
	}
}
