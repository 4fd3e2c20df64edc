package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"HedgeCore/internal/event"
)

// AdminInjector provides manual event injection for the HTTP admin surface,
// not for high-throughput ingestion (use NATS for that). Command partitions
// validate source sequences strictly, so the caller supplies the sequence
// the upstream producer would have used; rate injection is gap-tolerant.
type AdminInjector struct {
	eventChan chan<- event.Event
}

func NewAdminInjector(eventChan chan<- event.Event) *AdminInjector {
	return &AdminInjector{eventChan: eventChan}
}

func (s *AdminInjector) send(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectRate injects an exchange-rate tick.
func (s *AdminInjector) InjectRate(ctx context.Context, pair string, price int64, priceSequence int64) error {
	if pair == "" {
		return fmt.Errorf("pair must be set")
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}

	return s.send(ctx, &event.RateUpdate{
		Pair:          pair,
		Price:         price,
		Valid:         true,
		PriceSequence: priceSequence,
		Timestamp:     time.Now().UnixMicro(),
	})
}

// InjectVaultMint injects a depositor-side mint.
func (s *AdminInjector) InjectVaultMint(ctx context.Context, notional, price, sequence int64) error {
	if notional <= 0 {
		return fmt.Errorf("notional must be positive")
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}

	return s.send(ctx, &event.VaultMint{
		RequestID: uuid.New(),
		Notional:  notional,
		Price:     price,
		Sequence:  sequence,
		Timestamp: time.Now().UnixMicro(),
	})
}

// InjectVaultRedeem injects a fill-mode redemption.
func (s *AdminInjector) InjectVaultRedeem(ctx context.Context, baseAmount, price, sequence int64) error {
	if baseAmount <= 0 {
		return fmt.Errorf("base amount must be positive")
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}

	return s.send(ctx, &event.VaultRedeem{
		RequestID:  uuid.New(),
		BaseAmount: baseAmount,
		Price:      price,
		Sequence:   sequence,
		Timestamp:  time.Now().UnixMicro(),
	})
}

// InjectRedemptionDebit injects a liquidation-mode redemption.
func (s *AdminInjector) InjectRedemptionDebit(ctx context.Context, redeemedNotional, totalSupply, sequence int64) error {
	if redeemedNotional <= 0 {
		return fmt.Errorf("redeemed notional must be positive")
	}
	if totalSupply <= 0 {
		return fmt.Errorf("total supply must be positive")
	}

	return s.send(ctx, &event.RedemptionDebit{
		RequestID:        uuid.New(),
		RedeemedNotional: redeemedNotional,
		TotalSupply:      totalSupply,
		Sequence:         sequence,
		Timestamp:        time.Now().UnixMicro(),
	})
}

// InjectUserDeposit injects a depositor stake mirror increase.
func (s *AdminInjector) InjectUserDeposit(ctx context.Context, user uuid.UUID, amount, sequence int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	return s.send(ctx, &event.UserDeposit{
		RequestID: uuid.New(),
		User:      user,
		Amount:    amount,
		Sequence:  sequence,
		Timestamp: time.Now().UnixMicro(),
	})
}

// InjectUserWithdraw injects a depositor stake mirror decrease.
func (s *AdminInjector) InjectUserWithdraw(ctx context.Context, user uuid.UUID, amount, sequence int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	return s.send(ctx, &event.UserWithdraw{
		RequestID: uuid.New(),
		User:      user,
		Amount:    amount,
		Sequence:  sequence,
		Timestamp: time.Now().UnixMicro(),
	})
}

// InjectYieldDeposit injects yield from a registered source.
func (s *AdminInjector) InjectYieldDeposit(ctx context.Context, source, yieldType string, amount, sequence int64) error {
	if source == "" {
		return fmt.Errorf("source must be set")
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	return s.send(ctx, &event.YieldDeposit{
		RequestID: uuid.New(),
		Source:    source,
		YieldType: yieldType,
		Amount:    amount,
		Sequence:  sequence,
		Timestamp: time.Now().UnixMicro(),
	})
}

// InjectDistributionUpdate triggers the shift recomputation pipeline.
func (s *AdminInjector) InjectDistributionUpdate(ctx context.Context, sequence int64) error {
	return s.send(ctx, &event.DistributionUpdate{
		RequestID: uuid.New(),
		Sequence:  sequence,
		Timestamp: time.Now().UnixMicro(),
	})
}

// InjectParamUpdate injects a governance parameter update.
func (s *AdminInjector) InjectParamUpdate(ctx context.Context, upd *event.ParamUpdate) error {
	if upd == nil {
		return fmt.Errorf("param update must be set")
	}
	if upd.Timestamp == 0 {
		upd.Timestamp = time.Now().UnixMicro()
	}
	return s.send(ctx, upd)
}

// InjectEmergency injects a governance override action.
func (s *AdminInjector) InjectEmergency(
	ctx context.Context,
	actor uuid.UUID,
	kind event.EmergencyKind,
	target uuid.UUID,
	amount int64,
	toHedgerPool bool,
	justification string,
	sequence int64,
) error {
	if justification == "" {
		return fmt.Errorf("justification must be set")
	}

	return s.send(ctx, &event.EmergencyAction{
		RequestID:     uuid.New(),
		Actor:         actor,
		Kind:          kind,
		TargetID:      target,
		Amount:        amount,
		ToHedgerPool:  toHedgerPool,
		Justification: justification,
		Sequence:      sequence,
		Timestamp:     time.Now().UnixMicro(),
	})
}
