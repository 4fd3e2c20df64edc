package core

import (
	"github.com/google/uuid"

	"HedgeCore/internal/event"
	"HedgeCore/internal/state"
)

// PositionDelta is a post-apply copy of one position, carried on the
// projection channel so the read-side worker never reaches into live
// core state.
type PositionDelta struct {
	PositionID     uuid.UUID
	Hedger         uuid.UUID
	Margin         int64
	FilledVolume   int64
	BaseBacked     int64
	EntryPrice     int64
	Leverage       int32
	RealizedPnL    int64
	Active         bool
	EntryTime      int64
	LastUpdateTime int64
}

// YieldDelta summarizes the controller after the event applied.
type YieldDelta struct {
	CurrentShift   int64
	UserPool       int64
	HedgerPool     int64
	TotalYield     int64
	LastUpdateTime int64
}

// DistributionDelta records one shift recomputation for the history
// projection. Present only when the shift pipeline actually ran.
type DistributionDelta struct {
	ShiftBps   int64
	UserPool   int64
	HedgerPool int64
}

// ProjectionDelta is the read-model payload attached to every CoreOutput.
type ProjectionDelta struct {
	Positions    []PositionDelta
	Yield        YieldDelta
	Distribution *DistributionDelta
}

// buildProjectionDelta captures the read-model changes for one applied
// event. Vault events reallocate across the whole book, so they carry
// every position; targeted events carry just the one they touched.
func (c *DeterministicCore) buildProjectionDelta(evt event.Event, shiftBefore int64) *ProjectionDelta {
	delta := &ProjectionDelta{
		Yield: YieldDelta{
			CurrentShift:   c.yield.CurrentShift(),
			UserPool:       c.yield.UserPool(),
			HedgerPool:     c.yield.HedgerPool(),
			TotalYield:     c.yield.TotalYieldGenerated(),
			LastUpdateTime: c.yield.LastUpdate(),
		},
	}

	switch e := evt.(type) {
	case *event.PositionOpen:
		c.appendPositionDelta(delta, e.RequestID)
	case *event.MarginAdd:
		c.appendPositionDelta(delta, e.PositionID)
	case *event.MarginRemove:
		c.appendPositionDelta(delta, e.PositionID)
	case *event.PositionClose:
		c.appendPositionDelta(delta, e.PositionID)
	case *event.PositionLiquidate:
		c.appendPositionDelta(delta, e.PositionID)
	case *event.VaultMint, *event.VaultRedeem, *event.RedemptionDebit:
		for _, pos := range c.book.AllPositions() {
			delta.Positions = append(delta.Positions, positionDeltaOf(pos))
		}
	case *event.EmergencyAction:
		if e.Kind == event.EmergencyForceClose {
			c.appendPositionDelta(delta, e.TargetID)
		}
	}

	_, isDistribution := evt.(*event.DistributionUpdate)
	if ea, ok := evt.(*event.EmergencyAction); ok && ea.Kind == event.EmergencyForceDistribute {
		isDistribution = true
	}
	if isDistribution || delta.Yield.CurrentShift != shiftBefore {
		delta.Distribution = &DistributionDelta{
			ShiftBps:   delta.Yield.CurrentShift,
			UserPool:   delta.Yield.UserPool,
			HedgerPool: delta.Yield.HedgerPool,
		}
	}

	return delta
}

func (c *DeterministicCore) appendPositionDelta(delta *ProjectionDelta, positionID uuid.UUID) {
	pos, ok := c.book.Get(positionID)
	if !ok {
		return
	}
	delta.Positions = append(delta.Positions, positionDeltaOf(pos))
}

func positionDeltaOf(pos *state.HedgePosition) PositionDelta {
	return PositionDelta{
		PositionID:     pos.PositionID,
		Hedger:         pos.Hedger,
		Margin:         pos.Margin,
		FilledVolume:   pos.FilledVolume,
		BaseBacked:     pos.BaseBacked,
		EntryPrice:     pos.EntryPrice,
		Leverage:       pos.Leverage,
		RealizedPnL:    pos.RealizedPnL,
		Active:         pos.Active,
		EntryTime:      pos.EntryTime,
		LastUpdateTime: pos.LastUpdateTime,
	}
}
