package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHedger AccountScope = iota
	AccountScopeDepositor
	AccountScopePool
	AccountScopeProtocol
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Hedger sub-types
	SubTypeMargin AccountSubType = iota

	// Depositor sub-types
	SubTypePrincipal

	// Pool sub-types (entity names the side: "user" or "hedger")
	SubTypeYieldPool

	// Protocol sub-types
	SubTypeProtocolFees
	SubTypeProtocolSettlement

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// Pool entity names. The yield pools are the only pool-scope accounts.
const (
	PoolUser   = "user"
	PoolHedger = "hedger"
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDQ": 2,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDQ",
	}
)

// AssetUSDC is the collateral asset every custody account is denominated in.
// The synthetic (USDQ) is minted and burned outside the custody boundary, so
// no ledger account ever books it; it exists here only for query rendering.
const AssetUSDC AssetID = 1

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for hedgers/depositors, name bytes for pool accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewHedgerAccountKey creates a key for per-hedger accounts
func NewHedgerAccountKey(hedgerID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeHedger,
		EntityID: hedgerID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewDepositorAccountKey creates a key for per-depositor accounts
func NewDepositorAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeDepositor,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewPoolAccountKey creates a key for a yield pool side (PoolUser or PoolHedger)
func NewPoolAccountKey(side string, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(side))
	return AccountKey{
		Scope:    AccountScopePool,
		EntityID: entityID,
		SubType:  SubTypeYieldPool,
		AssetID:  assetID,
	}
}

// NewProtocolAccountKey creates a key for protocol-wide accounts
func NewProtocolAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte("protocol"))
	return AccountKey{
		Scope:    AccountScopeProtocol,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeHedger:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("hedger:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeDepositor:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("depositor:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopePool:
		return fmt.Sprintf("pool:%s:%s:%s", k.entityName(), k.subTypeName(), assetName)
	case AccountScopeProtocol:
		return fmt.Sprintf("protocol:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath, used when rehydrating
// balances from a snapshot.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	assetID, ok := GetAssetID(parts[len(parts)-1])
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset in account path %q", path)
	}

	subTypeOf := func(name string) (AccountSubType, bool) {
		switch name {
		case "margin":
			return SubTypeMargin, true
		case "principal":
			return SubTypePrincipal, true
		case "yield_pool":
			return SubTypeYieldPool, true
		case "fees":
			return SubTypeProtocolFees, true
		case "settlement":
			return SubTypeProtocolSettlement, true
		case "deposits":
			return SubTypeExternalDeposits, true
		case "withdrawals":
			return SubTypeExternalWithdrawals, true
		}
		return 0, false
	}

	switch parts[0] {
	case "hedger", "depositor":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("bad entity id in account path %q: %w", path, err)
		}
		subType, ok := subTypeOf(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in account path %q", path)
		}
		if parts[0] == "hedger" {
			return NewHedgerAccountKey(uid, subType, assetID), nil
		}
		return NewDepositorAccountKey(uid, subType, assetID), nil

	case "pool":
		if len(parts) != 4 || parts[2] != "yield_pool" {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		return NewPoolAccountKey(parts[1], assetID), nil

	case "protocol":
		if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		subType, ok := subTypeOf(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in account path %q", path)
		}
		return NewProtocolAccountKey(subType, assetID), nil

	case "external":
		if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		subType, ok := subTypeOf(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in account path %q", path)
		}
		return NewExternalAccountKey(subType, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("unknown scope in account path %q", path)
}

func (k AccountKey) entityName() string {
	end := 0
	for end < len(k.EntityID) && k.EntityID[end] != 0 {
		end++
	}
	return string(k.EntityID[:end])
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeMargin:
		return "margin"
	case SubTypePrincipal:
		return "principal"
	case SubTypeYieldPool:
		return "yield_pool"
	case SubTypeProtocolFees:
		return "fees"
	case SubTypeProtocolSettlement:
		return "settlement"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
