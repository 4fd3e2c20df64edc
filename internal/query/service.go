package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"HedgeCore/internal/observability"
)

// QueryService provides read-only access to the projection tables. All
// responses carry as_of_sequence, the projection watermark at read time,
// so callers can reason about freshness.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		qs.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	}
}

// GetPosition returns one position by ID.
func (qs *QueryService) GetPosition(ctx context.Context, positionID uuid.UUID) (p *PositionResponse, err error) {
	defer qs.observe("position", time.Now(), err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT position_id, hedger, margin, filled_volume, base_backed, entry_price,
		       leverage, realized_pnl, active, entry_time, last_update_time
		FROM projections.positions
		WHERE position_id = $1
	`, positionID)

	resp, err := scanPosition(row, asOfSeq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetHedgerPositions returns a hedger's positions, optionally active only.
func (qs *QueryService) GetHedgerPositions(ctx context.Context, hedger uuid.UUID, activeOnly bool) (ps []PositionResponse, err error) {
	defer qs.observe("hedger_positions", time.Now(), err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT position_id, hedger, margin, filled_volume, base_backed, entry_price,
		       leverage, realized_pnl, active, entry_time, last_update_time
		FROM projections.positions
		WHERE hedger = $1
	`
	if activeOnly {
		query += " AND active"
	}
	query += " ORDER BY entry_time"

	rows, err := qs.db.QueryContext(ctx, query, hedger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		resp, err := scanPosition(rows, asOfSeq)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *resp)
	}

	return positions, rows.Err()
}

// GetHedgerSummary aggregates a hedger's active positions.
func (qs *QueryService) GetHedgerSummary(ctx context.Context, hedger uuid.UUID) (s *HedgerSummary, err error) {
	defer qs.observe("hedger_summary", time.Now(), err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var totalMargin, totalBacked, totalFilled, realizedPnL int64
	var activeCount int
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(margin) FILTER (WHERE active), 0),
		       COALESCE(SUM(base_backed) FILTER (WHERE active), 0),
		       COALESCE(SUM(filled_volume) FILTER (WHERE active), 0),
		       COALESCE(SUM(realized_pnl), 0),
		       COUNT(*) FILTER (WHERE active)
		FROM projections.positions
		WHERE hedger = $1
	`, hedger).Scan(&totalMargin, &totalBacked, &totalFilled, &realizedPnL, &activeCount)
	if err != nil {
		return nil, err
	}

	return &HedgerSummary{
		Hedger:       hedger.String(),
		TotalMargin:  quoteString(totalMargin),
		TotalBacked:  baseString(totalBacked),
		TotalFilled:  quoteString(totalFilled),
		ActiveCount:  activeCount,
		RealizedPnL:  quoteString(realizedPnL),
		AsOfSequence: asOfSeq,
	}, nil
}

// GetBalance returns one account balance by path.
func (qs *QueryService) GetBalance(ctx context.Context, accountPath string) (b *BalanceResponse, err error) {
	defer qs.observe("balance", time.Now(), err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var balance int64
	var assetID uint16
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance, asset_id FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance, &assetID)
	if err == sql.ErrNoRows {
		balance, assetID = 0, 1
		err = nil
	}
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		AccountPath:  accountPath,
		AssetID:      assetID,
		Balance:      quoteString(balance),
		AsOfSequence: asOfSeq,
	}, nil
}

// GetYieldState returns the current controller state.
func (qs *QueryService) GetYieldState(ctx context.Context) (y *YieldStateResponse, err error) {
	defer qs.observe("yield_state", time.Now(), err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var shift, userPool, hedgerPool, totalYield, lastUpdate int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT current_shift, user_pool, hedger_pool, total_yield, last_update_time
		FROM projections.yield_state
	`).Scan(&shift, &userPool, &hedgerPool, &totalYield, &lastUpdate)
	if err == sql.ErrNoRows {
		err = nil
	}
	if err != nil {
		return nil, err
	}

	return &YieldStateResponse{
		CurrentShiftBps: shift,
		UserPool:        quoteString(userPool),
		HedgerPool:      quoteString(hedgerPool),
		TotalYield:      quoteString(totalYield),
		LastUpdateTime:  lastUpdate,
		AsOfSequence:    asOfSeq,
	}, nil
}

// GetDistributionHistory returns shift recomputations, newest first, with
// cursor pagination on sequence.
func (qs *QueryService) GetDistributionHistory(ctx context.Context, limit int, afterSequence *int64) (hs []DistributionHistoryResponse, err error) {
	defer qs.observe("distribution_history", time.Now(), err)

	query := `
		SELECT sequence, shift_bps, user_pool, hedger_pool, event_type, timestamp
		FROM projections.distribution_history
	`
	args := []interface{}{}
	argIdx := 1

	if afterSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []DistributionHistoryResponse
	for rows.Next() {
		var h DistributionHistoryResponse
		var userPool, hedgerPool int64
		var ts time.Time
		if err := rows.Scan(&h.Sequence, &h.ShiftBps, &userPool, &hedgerPool, &h.EventType, &ts); err != nil {
			return nil, err
		}
		h.UserPool = quoteString(userPool)
		h.HedgerPool = quoteString(hedgerPool)
		h.Timestamp = ts.UTC().Format(time.RFC3339Nano)
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching an account prefix,
// newest first, with cursor pagination on sequence.
func (qs *QueryService) GetJournalHistory(ctx context.Context, accountPrefix string, limit int, afterSequence *int64) (es []JournalHistoryEntry, err error) {
	defer qs.observe("journal_history", time.Now(), err)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix + "%"}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.AmountDecimal = quoteString(e.Amount)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global zero-sum
// invariant over the balance projection.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (r *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), err)

	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e2.sequence IS NOT NULL AND e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

// Watermark returns the projection watermark, 0 if no event has projected.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	return qs.getWatermark(ctx)
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT sequence FROM projections.watermark
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner, asOfSeq int64) (*PositionResponse, error) {
	var positionID, hedger string
	var margin, filledVolume, baseBacked, entryPrice, realizedPnL int64
	var leverage int32
	var active bool
	var entryTime, lastUpdate int64

	if err := row.Scan(
		&positionID, &hedger, &margin, &filledVolume, &baseBacked, &entryPrice,
		&leverage, &realizedPnL, &active, &entryTime, &lastUpdate,
	); err != nil {
		return nil, err
	}

	return &PositionResponse{
		PositionID:     positionID,
		Hedger:         hedger,
		Margin:         quoteString(margin),
		FilledVolume:   quoteString(filledVolume),
		BaseBacked:     baseString(baseBacked),
		EntryPrice:     priceString(entryPrice),
		Leverage:       leverage,
		RealizedPnL:    quoteString(realizedPnL),
		Active:         active,
		EntryTime:      entryTime,
		LastUpdateTime: lastUpdate,
		AsOfSequence:   asOfSeq,
	}, nil
}
