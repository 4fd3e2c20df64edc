package ingestion

import (
	"encoding/json"
	"fmt"

	"HedgeCore/internal/event"
)

// ParseStoredEvent decodes an event-log payload back into its typed event.
// Stored payloads are the core's own marshaling of the typed structs, not
// the inbound wire format, so this is a plain unmarshal per type.
func ParseStoredEvent(eventType string, payload []byte) (event.Event, error) {
	var evt event.Event
	switch eventType {
	case "PositionOpen":
		evt = &event.PositionOpen{}
	case "MarginAdd":
		evt = &event.MarginAdd{}
	case "MarginRemove":
		evt = &event.MarginRemove{}
	case "PositionClose":
		evt = &event.PositionClose{}
	case "PositionLiquidate":
		evt = &event.PositionLiquidate{}
	case "RewardClaim":
		evt = &event.RewardClaim{}
	case "RateUpdate":
		evt = &event.RateUpdate{}
	case "VaultMint":
		evt = &event.VaultMint{}
	case "VaultRedeem":
		evt = &event.VaultRedeem{}
	case "RedemptionDebit":
		evt = &event.RedemptionDebit{}
	case "UserDeposit":
		evt = &event.UserDeposit{}
	case "UserWithdraw":
		evt = &event.UserWithdraw{}
	case "YieldDeposit":
		evt = &event.YieldDeposit{}
	case "YieldDepositBatch":
		evt = &event.YieldDepositBatch{}
	case "YieldClaim":
		evt = &event.YieldClaim{}
	case "DistributionUpdate":
		evt = &event.DistributionUpdate{}
	case "ParamUpdate":
		evt = &event.ParamUpdate{}
	case "EmergencyAction":
		evt = &event.EmergencyAction{}
	default:
		return nil, fmt.Errorf("unknown stored event type %q", eventType)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("unmarshal stored %s: %w", eventType, err)
	}
	return evt, nil
}
