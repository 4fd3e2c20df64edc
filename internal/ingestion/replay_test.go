package ingestion

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"HedgeCore/internal/event"
)

func TestParseStoredEventRoundTrip(t *testing.T) {
	original := &event.PositionOpen{
		RequestID:  uuid.New(),
		Hedger:     uuid.New(),
		Collateral: 1_000_000_000,
		Leverage:   3,
		Sequence:   7,
		Timestamp:  1_700_000_000_000_000,
	}

	payload, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := ParseStoredEvent("PositionOpen", payload)
	if err != nil {
		t.Fatalf("ParseStoredEvent: %v", err)
	}

	got, ok := decoded.(*event.PositionOpen)
	if !ok {
		t.Fatalf("expected *event.PositionOpen, got %T", decoded)
	}
	if *got != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, original)
	}
}

func TestParseStoredEventAllTypes(t *testing.T) {
	types := []string{
		"PositionOpen", "MarginAdd", "MarginRemove", "PositionClose",
		"PositionLiquidate", "RewardClaim", "RateUpdate", "VaultMint",
		"VaultRedeem", "RedemptionDebit", "UserDeposit", "UserWithdraw",
		"YieldDeposit", "YieldDepositBatch", "YieldClaim",
		"DistributionUpdate", "ParamUpdate", "EmergencyAction",
	}
	for _, name := range types {
		evt, err := ParseStoredEvent(name, []byte(`{}`))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if got := evt.EventType().String(); got != name {
			t.Errorf("%s: decoded as %s", name, got)
		}
	}
}

func TestParseStoredEventUnknownType(t *testing.T) {
	if _, err := ParseStoredEvent("FundingEpoch", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown stored type")
	}
}
