package query

import (
	"github.com/shopspring/decimal"
)

// Fixed-point exponents for rendering int64 amounts as decimal strings at
// the query edge. The core never touches these; they exist for humans.
const (
	quoteExp = -6
	baseExp  = -6
	priceExp = -8
)

func quoteString(v int64) string { return decimal.New(v, quoteExp).String() }
func baseString(v int64) string  { return decimal.New(v, baseExp).String() }
func priceString(v int64) string { return decimal.New(v, priceExp).String() }

// PositionResponse represents a hedge position for API queries. Amounts
// are decimal strings; raw fixed-point values stay in the event log.
type PositionResponse struct {
	PositionID     string `json:"position_id"`
	Hedger         string `json:"hedger"`
	Margin         string `json:"margin"`
	FilledVolume   string `json:"filled_volume"`
	BaseBacked     string `json:"base_backed"`
	EntryPrice     string `json:"entry_price"`
	Leverage       int32  `json:"leverage"`
	RealizedPnL    string `json:"realized_pnl"`
	Active         bool   `json:"active"`
	EntryTime      int64  `json:"entry_time"`
	LastUpdateTime int64  `json:"last_update_time"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}

// HedgerSummary aggregates a hedger's active positions.
type HedgerSummary struct {
	Hedger       string `json:"hedger"`
	TotalMargin  string `json:"total_margin"`
	TotalBacked  string `json:"total_backed"`
	TotalFilled  string `json:"total_filled"`
	ActiveCount  int    `json:"active_count"`
	RealizedPnL  string `json:"realized_pnl"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// BalanceResponse is one ledger account balance.
type BalanceResponse struct {
	AccountPath  string `json:"account_path"`
	AssetID      uint16 `json:"asset_id"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// YieldStateResponse is the current controller state.
type YieldStateResponse struct {
	CurrentShiftBps int64  `json:"current_shift_bps"`
	UserPool        string `json:"user_pool"`
	HedgerPool      string `json:"hedger_pool"`
	TotalYield      string `json:"total_yield"`
	LastUpdateTime  int64  `json:"last_update_time"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// DistributionHistoryResponse is one shift recomputation record.
type DistributionHistoryResponse struct {
	Sequence   int64  `json:"sequence"`
	ShiftBps   int64  `json:"shift_bps"`
	UserPool   string `json:"user_pool"`
	HedgerPool string `json:"hedger_pool"`
	EventType  string `json:"event_type"`
	Timestamp  string `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries. The
// amount carries both the exact fixed-point value and its rendering.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	AmountDecimal string `json:"amount_decimal"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
