package state

import (
	"github.com/google/uuid"
)

// HedgePosition is one leveraged position absorbing exchange-rate risk.
// Margin is quote-scale and has all fees already netted off. FilledVolume is
// the entry-time notional of the synthetic supply this position backs;
// BaseBacked is the matching base-scale amount. RealizedPnL is P&L that
// partial-redemption bookkeeping has already folded into Margin — it is
// subtracted from total unrealized P&L so the same move is never counted
// twice.
type HedgePosition struct {
	PositionID     uuid.UUID
	Hedger         uuid.UUID
	Margin         int64 // Fixed-point: quote scale
	FilledVolume   int64 // Fixed-point: quote scale
	BaseBacked     int64 // Fixed-point: base scale
	EntryPrice     int64 // Fixed-point: price scale, fill-volume weighted
	Leverage       int32
	EntryTime      int64 // Epoch microseconds
	LastUpdateTime int64
	RealizedPnL    int64 // Fixed-point: quote scale
	Active         bool
	Version        int64 // Optimistic concurrency control on the read side
}

// IsBacking returns true while the position still covers synthetic supply
func (p *HedgePosition) IsBacking() bool {
	return p.FilledVolume > 0 || p.BaseBacked > 0
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *HedgePosition) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	// position_id, hedger (16 bytes UUID binary each)
	buf = append(buf, p.PositionID[:]...)
	buf = append(buf, p.Hedger[:]...)

	buf = appendInt64LE(buf, p.Margin)
	buf = appendInt64LE(buf, p.FilledVolume)
	buf = appendInt64LE(buf, p.BaseBacked)
	buf = appendInt64LE(buf, p.EntryPrice)
	buf = appendInt64LE(buf, int64(p.Leverage))
	buf = appendInt64LE(buf, p.EntryTime)
	buf = appendInt64LE(buf, p.LastUpdateTime)
	buf = appendInt64LE(buf, p.RealizedPnL)

	if p.Active {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

// HedgerAccount aggregates a hedger's active positions. Kept consistent with
// the position book on every mutation; never derived lazily.
type HedgerAccount struct {
	Hedger            uuid.UUID
	TotalMargin       int64 // Σ Margin over active positions
	TotalExposure     int64 // Σ margin × leverage over active positions
	PositionCount     int   // Active positions only
	PendingRewards    int64 // Accrued rate-differential rewards, unclaimed
	LastRewardAccrual int64 // Epoch microseconds
	LastDepositTime   int64 // Restarted by open and margin add
}

// CanonicalBytes returns deterministic serialization for hashing
func (a *HedgerAccount) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)

	buf = append(buf, a.Hedger[:]...)
	buf = appendInt64LE(buf, a.TotalMargin)
	buf = appendInt64LE(buf, a.TotalExposure)
	buf = appendInt64LE(buf, int64(a.PositionCount))
	buf = appendInt64LE(buf, a.PendingRewards)
	buf = appendInt64LE(buf, a.LastRewardAccrual)
	buf = appendInt64LE(buf, a.LastDepositTime)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
