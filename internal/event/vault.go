package event

import "github.com/google/uuid"

// VaultMint reports depositor-side minting: the engine allocates the new
// notional across hedge positions proportionally to remaining capacity.
type VaultMint struct {
	RequestID uuid.UUID
	Notional  int64 // Fixed-point: quote scale
	Price     int64 // Fixed-point: price scale, as used by the vault
	Sequence  int64
	Timestamp int64
}

func (e *VaultMint) IdempotencyKey() string { return e.RequestID.String() }
func (e *VaultMint) EventType() EventType   { return EventTypeVaultMint }
func (e *VaultMint) Partition() string      { return PartitionVault }
func (e *VaultMint) SourceSequence() int64  { return e.Sequence }

// VaultRedeem reports depositor-side redemption in fill mode: backing is
// released pro-rata and the price gap is crystallized into margin and
// realized P&L.
type VaultRedeem struct {
	RequestID  uuid.UUID
	BaseAmount int64 // Fixed-point: base scale, synthetic units burned
	Price      int64 // Fixed-point: price scale
	Sequence   int64
	Timestamp  int64
}

func (e *VaultRedeem) IdempotencyKey() string { return e.RequestID.String() }
func (e *VaultRedeem) EventType() EventType   { return EventTypeVaultRedeem }
func (e *VaultRedeem) Partition() string      { return PartitionVault }
func (e *VaultRedeem) SourceSequence() int64  { return e.Sequence }

// RedemptionDebit is the liquidation-mode redemption path: hedger margin
// is debited pro-rata to redeemed notional, fill untouched. A distinct
// event type from VaultRedeem so the mode is always explicit, never
// inferred from a flag.
type RedemptionDebit struct {
	RequestID        uuid.UUID
	RedeemedNotional int64 // Fixed-point: quote scale
	TotalSupply      int64 // Fixed-point: quote scale, pre-redemption
	Sequence         int64
	Timestamp        int64
}

func (e *RedemptionDebit) IdempotencyKey() string { return e.RequestID.String() }
func (e *RedemptionDebit) EventType() EventType   { return EventTypeRedemptionDebit }
func (e *RedemptionDebit) Partition() string      { return PartitionVault }
func (e *RedemptionDebit) SourceSequence() int64  { return e.Sequence }
