package event

import "github.com/google/uuid"

// ParticipantSide selects which yield pool a participant claims from.
type ParticipantSide int32

const (
	SideUser ParticipantSide = iota
	SideHedger
)

func (s ParticipantSide) String() string {
	if s == SideHedger {
		return "hedger"
	}
	return "user"
}

// YieldDeposit ingests yield from an authorized source. The caller
// identity is checked against the source registry before any credit.
type YieldDeposit struct {
	RequestID uuid.UUID
	Source    string // Registered source identifier
	YieldType string // e.g. "aave", "rate_differential", "fees"
	Amount    int64  // Fixed-point: quote scale
	Sequence  int64
	Timestamp int64
}

func (e *YieldDeposit) IdempotencyKey() string { return e.RequestID.String() }
func (e *YieldDeposit) EventType() EventType   { return EventTypeYieldDeposit }
func (e *YieldDeposit) Partition() string      { return PartitionYield }
func (e *YieldDeposit) SourceSequence() int64  { return e.Sequence }

// YieldDepositBatch ingests yield from several sources at once. Sources,
// types and amounts are parallel arrays; a length mismatch rejects the
// whole batch, and the batch applies all-or-nothing.
type YieldDepositBatch struct {
	RequestID  uuid.UUID
	Sources    []string
	YieldTypes []string
	Amounts    []int64 // Fixed-point: quote scale
	Sequence   int64
	Timestamp  int64
}

func (e *YieldDepositBatch) IdempotencyKey() string { return e.RequestID.String() }
func (e *YieldDepositBatch) EventType() EventType   { return EventTypeYieldDepositBatch }
func (e *YieldDepositBatch) Partition() string      { return PartitionYield }
func (e *YieldDepositBatch) SourceSequence() int64  { return e.Sequence }

// YieldClaim pays out a participant's pending yield, gated on the
// minimum holding period since their last qualifying deposit.
type YieldClaim struct {
	RequestID   uuid.UUID
	Participant uuid.UUID
	Side        ParticipantSide
	Sequence    int64
	Timestamp   int64
}

func (e *YieldClaim) IdempotencyKey() string { return e.RequestID.String() }
func (e *YieldClaim) EventType() EventType   { return EventTypeYieldClaim }
func (e *YieldClaim) Partition() string      { return PartitionYield }
func (e *YieldClaim) SourceSequence() int64  { return e.Sequence }

// DistributionUpdate triggers the shift recomputation pipeline: pool
// metrics, snapshot, TWAP, optimal shift, bounded step. Emitted on a
// schedule by the operator; the same pipeline also runs inline after
// yield-affecting operations.
type DistributionUpdate struct {
	RequestID uuid.UUID
	Sequence  int64
	Timestamp int64
}

func (e *DistributionUpdate) IdempotencyKey() string { return e.RequestID.String() }
func (e *DistributionUpdate) EventType() EventType   { return EventTypeDistributionUpdate }
func (e *DistributionUpdate) Partition() string      { return PartitionYield }
func (e *DistributionUpdate) SourceSequence() int64  { return e.Sequence }
