package event

import "github.com/google/uuid"

// UserDeposit mirrors a depositor-side stake increase. The engine never
// custodies depositor funds; the mirror exists for eligible pool metrics
// and holding-period gating.
type UserDeposit struct {
	RequestID uuid.UUID
	User      uuid.UUID
	Amount    int64 // Fixed-point: quote scale
	Sequence  int64
	Timestamp int64
}

func (e *UserDeposit) IdempotencyKey() string { return e.RequestID.String() }
func (e *UserDeposit) EventType() EventType   { return EventTypeUserDeposit }
func (e *UserDeposit) Partition() string      { return PartitionDepositors }
func (e *UserDeposit) SourceSequence() int64  { return e.Sequence }

// UserWithdraw mirrors a depositor-side stake decrease.
type UserWithdraw struct {
	RequestID uuid.UUID
	User      uuid.UUID
	Amount    int64 // Fixed-point: quote scale
	Sequence  int64
	Timestamp int64
}

func (e *UserWithdraw) IdempotencyKey() string { return e.RequestID.String() }
func (e *UserWithdraw) EventType() EventType   { return EventTypeUserWithdraw }
func (e *UserWithdraw) Partition() string      { return PartitionDepositors }
func (e *UserWithdraw) SourceSequence() int64  { return e.Sequence }
