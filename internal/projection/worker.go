package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"HedgeCore/internal/observability"
)

// ProjectionOutput mirrors the data the read models need. The orchestrator
// (cmd/hedgecore) bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence     int64
	EventType    string
	Partition    string
	Timestamp    time.Time
	Journals     []JournalEntry
	Positions    []PositionRow
	Yield        YieldRow
	Distribution *DistributionRow
}

// JournalEntry is a simplified journal for balance projection.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// PositionRow is a post-apply position copy for projections.positions.
type PositionRow struct {
	PositionID     string
	Hedger         string
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

// YieldRow is the controller summary for projections.yield_state.
type YieldRow struct {
	CurrentShift   int64
	UserPool       int64
	HedgerPool     int64
	TotalYield     int64
	LastUpdateTime int64
}

// DistributionRow records one shift recomputation.
type DistributionRow struct {
	ShiftBps   int64
	UserPool   int64
	HedgerPool int64
}

// ProjectionWorker updates read-model tables from processed events. The
// projection channel is non-blocking with drop; when projections fall
// behind they are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop. Outputs at or below the stored
// watermark are replays of already-projected events and are skipped, so a
// restart never double-applies balance deltas.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	pw.loadWatermark(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Sequence <= pw.lastSeq {
				continue
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Eventually consistent: skip and move on, the rebuild
				// path recovers anything missed here
				pw.logger.Warn().
					Int64("sequence", output.Sequence).
					Err(err).
					Msg("projection update failed")
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) {
	var seq int64
	err := pw.db.QueryRowContext(ctx, `SELECT sequence FROM projections.watermark`).Scan(&seq)
	if err != nil {
		if err != sql.ErrNoRows {
			pw.logger.Warn().Err(err).Msg("load projection watermark failed")
		}
		return
	}
	pw.lastSeq = seq
	pw.logger.Info().Int64("sequence", seq).Msg("projection watermark loaded")
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.updateBalance(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, p := range output.Positions {
		if err := pw.upsertPosition(ctx, tx, p, output.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	if err := pw.upsertYieldState(ctx, tx, output.Yield, output.Sequence); err != nil {
		return fmt.Errorf("yield projection: %w", err)
	}

	if output.Distribution != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.distribution_history
				(sequence, shift_bps, user_pool, hedger_pool, event_type, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sequence) DO NOTHING
		`, output.Sequence, output.Distribution.ShiftBps, output.Distribution.UserPool,
			output.Distribution.HedgerPool, output.EventType, output.Timestamp); err != nil {
			return fmt.Errorf("distribution history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (id, sequence, updated_at)
		VALUES (TRUE, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalance mirrors the core's sign convention: a debit increases the
// account balance, a credit decreases it.
func (pw *ProjectionWorker) updateBalance(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, updated_seq)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $3, updated_seq = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, updated_seq)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $3, updated_seq = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) upsertPosition(ctx context.Context, tx *sql.Tx, p PositionRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(position_id, hedger, margin, filled_volume, base_backed, entry_price,
			 leverage, realized_pnl, active, entry_time, last_update_time, updated_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (position_id) DO UPDATE SET
			margin = $3, filled_volume = $4, base_backed = $5, entry_price = $6,
			leverage = $7, realized_pnl = $8, active = $9,
			last_update_time = $11, updated_seq = $12
	`, p.PositionID, p.Hedger, p.Margin, p.FilledVolume, p.BaseBacked, p.EntryPrice,
		p.Leverage, p.RealizedPnL, p.Active, p.EntryTime, p.LastUpdateTime, seq)
	return err
}

func (pw *ProjectionWorker) upsertYieldState(ctx context.Context, tx *sql.Tx, y YieldRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.yield_state
			(id, current_shift, user_pool, hedger_pool, total_yield, last_update_time, updated_seq)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			current_shift = $1, user_pool = $2, hedger_pool = $3,
			total_yield = $4, last_update_time = $5, updated_seq = $6
	`, y.CurrentShift, y.UserPool, y.HedgerPool, y.TotalYield, y.LastUpdateTime, seq)
	return err
}

// RebuildProjections rebuilds the balance read model from the event log.
// Position, yield, and history rows repopulate as new events flow; balances
// are the zero-sum-critical table, so they rebuild exactly.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	logger := observability.NewLogger("projection")

	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.distribution_history`,
		`DELETE FROM projections.yield_state`,
		`DELETE FROM projections.watermark`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits add, credits subtract, mirroring the in-memory tracker
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, updated_seq)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS updated_seq
		FROM event_log.journal
		GROUP BY debit_account, asset_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, updated_seq)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS updated_seq
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    updated_seq = GREATEST(projections.balances.updated_seq, EXCLUDED.updated_seq)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
