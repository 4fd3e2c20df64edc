package event

import "github.com/google/uuid"

// PositionOpen requests a new hedge position. Collateral is gross; the
// entry fee is netted off before margin is posted.
type PositionOpen struct {
	RequestID  uuid.UUID
	Hedger     uuid.UUID
	Collateral int64 // Fixed-point: quote scale
	Leverage   int32
	Sequence   int64
	Timestamp  int64 // Epoch microseconds (versioned input)
}

func (e *PositionOpen) IdempotencyKey() string { return e.RequestID.String() }
func (e *PositionOpen) EventType() EventType   { return EventTypePositionOpen }
func (e *PositionOpen) Partition() string      { return PartitionPositions }
func (e *PositionOpen) SourceSequence() int64  { return e.Sequence }

// MarginAdd posts additional collateral to an open position. Restarts the
// hedger's holding-period clock.
type MarginAdd struct {
	RequestID  uuid.UUID
	Hedger     uuid.UUID
	PositionID uuid.UUID
	Amount     int64 // Fixed-point: quote scale
	Sequence   int64
	Timestamp  int64
}

func (e *MarginAdd) IdempotencyKey() string { return e.RequestID.String() }
func (e *MarginAdd) EventType() EventType   { return EventTypeMarginAdd }
func (e *MarginAdd) Partition() string      { return PartitionPositions }
func (e *MarginAdd) SourceSequence() int64  { return e.Sequence }

// MarginRemove withdraws collateral; rejected if the post-removal margin
// ratio would violate the minimum at the current price.
type MarginRemove struct {
	RequestID  uuid.UUID
	Hedger     uuid.UUID
	PositionID uuid.UUID
	Amount     int64 // Fixed-point: quote scale
	Sequence   int64
	Timestamp  int64
}

func (e *MarginRemove) IdempotencyKey() string { return e.RequestID.String() }
func (e *MarginRemove) EventType() EventType   { return EventTypeMarginRemove }
func (e *MarginRemove) Partition() string      { return PartitionPositions }
func (e *MarginRemove) SourceSequence() int64  { return e.Sequence }

// PositionClose settles and deactivates an unbacked position.
type PositionClose struct {
	RequestID  uuid.UUID
	Hedger     uuid.UUID
	PositionID uuid.UUID
	Sequence   int64
	Timestamp  int64
}

func (e *PositionClose) IdempotencyKey() string { return e.RequestID.String() }
func (e *PositionClose) EventType() EventType   { return EventTypePositionClose }
func (e *PositionClose) Partition() string      { return PartitionPositions }
func (e *PositionClose) SourceSequence() int64  { return e.Sequence }

// PositionLiquidate deactivates an undermargined position. The liquidator
// receives the configured penalty share of remaining margin.
type PositionLiquidate struct {
	RequestID  uuid.UUID
	Liquidator uuid.UUID
	Hedger     uuid.UUID
	PositionID uuid.UUID
	Sequence   int64
	Timestamp  int64
}

func (e *PositionLiquidate) IdempotencyKey() string { return e.RequestID.String() }
func (e *PositionLiquidate) EventType() EventType   { return EventTypePositionLiquidate }
func (e *PositionLiquidate) Partition() string      { return PartitionPositions }
func (e *PositionLiquidate) SourceSequence() int64  { return e.Sequence }

// RewardClaim pays out a hedger's accrued interest-differential rewards.
type RewardClaim struct {
	RequestID uuid.UUID
	Hedger    uuid.UUID
	Sequence  int64
	Timestamp int64
}

func (e *RewardClaim) IdempotencyKey() string { return e.RequestID.String() }
func (e *RewardClaim) EventType() EventType   { return EventTypeRewardClaim }
func (e *RewardClaim) Partition() string      { return PartitionPositions }
func (e *RewardClaim) SourceSequence() int64  { return e.Sequence }
