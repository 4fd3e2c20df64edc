// Package core implements the single-writer deterministic engine. Events
// arrive in partition order, mutate the position book, the depositor mirror,
// the yield controller, and the custody ledger, and leave as hash-chained
// envelopes on the persistence and projection channels. The core never reads
// the wall clock: every timestamp is a versioned input carried by the event.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"HedgeCore/internal/auth"
	"HedgeCore/internal/event"
	"HedgeCore/internal/ledger"
	fpmath "HedgeCore/internal/math"
	"HedgeCore/internal/observability"
	"HedgeCore/internal/oracle"
	"HedgeCore/internal/state"
)

// errStaleTick marks a rate update at or below the stored price sequence.
// Dropped silently: no envelope, no error to the caller.
var errStaleTick = errors.New("stale rate tick")

// CoreOutput is the unit emitted to the persistence and projection workers
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
	Delta      *ProjectionDelta
}

// RejectionNotice reports a rejected event for the outbound stream.
type RejectionNotice struct {
	EventType      event.EventType
	IdempotencyKey string
	Partition      string
	Reason         string
	Timestamp      int64
}

// Config wires the core's channels, ports, and tuning knobs.
type Config struct {
	StartSequence int64

	// Pair overrides the configured oracle pair when non-empty
	Pair string

	// StalenessBound is the max age of a usable price; 0 uses the default
	StalenessBound time.Duration

	// TWAPRingCapacity sizes the pool-snapshot ring; 0 uses the default
	TWAPRingCapacity int

	// LRUCapacity sizes the idempotency LRU; 0 uses the default
	LRUCapacity int

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	// RejectChan receives rejection notices (non-blocking); may be nil
	RejectChan chan<- RejectionNotice

	// DBChecker is the tier-2 dedup lookup; may be nil
	DBChecker DBIdempotencyChecker

	// Authorizer gates governance, yield sources, and liquidators. Nil
	// falls back to a closed static set: governance and yield denied,
	// liquidation permissionless.
	Authorizer auth.Authorizer

	Metrics *observability.Metrics
}

const (
	DefaultStalenessBound   = 5 * time.Minute
	DefaultTWAPRingCapacity = 4096
	DefaultLRUCapacity      = 100_000
)

// DeterministicCore is the single-threaded event processor. All methods
// must be called from one goroutine.
type DeterministicCore struct {
	sequence int64

	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	balanceTracker *ledger.BalanceTracker
	validator      *ledger.InvariantValidator
	journalGen     *ledger.JournalGenerator

	book       *state.PositionBook
	mirror     *state.DepositorMirror
	params     *state.ParamsManager
	marginCalc *state.MarginCalculator
	yield      *state.YieldController
	rates      *oracle.RateCache

	authorizer auth.Authorizer

	// custody is the recorded external inflow minus outflow, reconciled
	// against the summed internal accounts after every applied batch
	custody int64
	paused  bool

	processing bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	rejectChan     chan<- RejectionNotice

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDeterministicCore(cfg Config) *DeterministicCore {
	staleness := cfg.StalenessBound
	if staleness == 0 {
		staleness = DefaultStalenessBound
	}
	ringCap := cfg.TWAPRingCapacity
	if ringCap == 0 {
		ringCap = DefaultTWAPRingCapacity
	}
	lruCap := cfg.LRUCapacity
	if lruCap == 0 {
		lruCap = DefaultLRUCapacity
	}
	authorizer := cfg.Authorizer
	if authorizer == nil {
		authorizer = auth.NewStatic(nil, nil, nil)
	}

	balanceTracker := ledger.NewBalanceTracker()
	book := state.NewPositionBook()
	mirror := state.NewDepositorMirror()
	params := state.NewParamsManager()
	if cfg.Pair != "" {
		params.SetPair(cfg.Pair)
	}
	rates := oracle.NewRateCache(staleness)

	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(lruCap, cfg.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		journalGen:        ledger.NewJournalGenerator(cfg.StartSequence, balanceTracker),
		book:              book,
		mirror:            mirror,
		params:            params,
		marginCalc:        state.NewMarginCalculator(book, params, rates),
		yield:             state.NewYieldController(book, mirror, params, ringCap),
		rates:             rates,
		authorizer:        authorizer,
		persistChan:       cfg.PersistChan,
		projectionChan:    cfg.ProjectionChan,
		rejectChan:        cfg.RejectChan,
		metrics:           cfg.Metrics,
		logger:            observability.NewLogger("core"),
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	return c.process(evt, false)
}

// ProcessReplay re-applies an event from the durable log during recovery.
// Ordering was already enforced when the event first applied, and rejected
// commands leave holes in the source numbering, so the partition cursor is
// force-advanced instead of validated.
func (c *DeterministicCore) ProcessReplay(evt event.Event) error {
	return c.process(evt, true)
}

func (c *DeterministicCore) process(evt event.Event, replay bool) error {
	if c.processing {
		return ErrReentrantCall
	}
	c.processing = true
	defer func() { c.processing = false }()

	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	partition := evt.Partition()

	// Paused gate runs before any cursor moves so the same command can be
	// redelivered and applied after resume
	if c.paused && !pausedExempt(evt) {
		return c.reject(evt, state.ErrPaused)
	}

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation. Rate partitions are tolerant and owned
	// by the rate cache; command partitions are strict.
	if _, isRate := evt.(*event.RateUpdate); !isRate {
		if replay {
			c.sequenceValidator.RestorePartition(partition, evt.SourceSequence()+1)
		} else if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
			if c.metrics != nil {
				c.metrics.CoreEventsRejected.WithLabelValues(eventType, "sequence").Inc()
			}
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Handlers validate, generate the journal batch,
	// verify staged custody, and only then commit domain state.
	shiftBefore := c.yield.CurrentShift()
	batch, err := c.dispatchEvent(evt)
	if err != nil {
		if errors.Is(err, errStaleTick) {
			if c.metrics != nil {
				c.metrics.CoreEventsRejected.WithLabelValues(eventType, "stale").Inc()
			}
			return nil
		}
		return c.reject(evt, err)
	}

	// Step 4: Validate and apply the batch. State-only events carry an
	// empty batch: no journals, but still an envelope in the log.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
		}
		inflow, outflow := custodyDelta(batch)
		c.custody += inflow - outflow

		if c.metrics != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	// Step 5: State digest and hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch, evt)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, merr := json.Marshal(evt)
	if merr != nil {
		panic(fmt.Sprintf("FATAL: cannot marshal event %T: %v", evt, merr))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      partition,
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Delta:      c.buildProjectionDelta(evt, shiftBefore),
	}
	c.sequence++

	// Step 6: Post-checks. A violation here means the batch already
	// applied against an invariant; that is corruption, not bad input.
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit. Persistence is a blocking send, the core stalls until
	// the writer drains, so no applied event is ever lost. Projections are
	// non-blocking and rebuild from the event log when they fall behind.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))
		c.metrics.CurrentShift.Set(float64(c.yield.CurrentShift()))
	}

	return nil
}

// pausedExempt lists the events that still apply while the core is paused:
// governance must be able to resume and reconfigure, and the rate cache
// must stay warm or every price-dependent check fails closed on resume.
func pausedExempt(evt event.Event) bool {
	switch evt.(type) {
	case *event.RateUpdate, *event.ParamUpdate, *event.EmergencyAction:
		return true
	}
	return false
}

// reject records a validation rejection: counter, structured log, and a
// non-blocking notice on the rejection stream. The event's sequence slot
// stays consumed, so a redelivery reads as out-of-order, not as a retry.
func (c *DeterministicCore) reject(evt event.Event, err error) error {
	reason := rejectReason(err)
	eventType := evt.EventType().String()

	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}

	c.logger.Warn().
		Str("event_type", eventType).
		Str("partition", evt.Partition()).
		Str("idempotency_key", evt.IdempotencyKey()).
		Str("reason", reason).
		Err(err).
		Msg("event rejected")

	if c.rejectChan != nil {
		select {
		case c.rejectChan <- RejectionNotice{
			EventType:      evt.EventType(),
			IdempotencyKey: evt.IdempotencyKey(),
			Partition:      evt.Partition(),
			Reason:         reason,
			Timestamp:      c.getEventTimestamp(evt).UnixMicro(),
		}:
		default:
		}
	}

	return err
}

// rejectReason maps sentinel errors to stable metric labels
func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrPaused):
		return "paused"
	case errors.Is(err, state.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, state.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, state.ErrLeverageTooHigh):
		return "leverage_too_high"
	case errors.Is(err, state.ErrTooManyPositions):
		return "position_limit"
	case errors.Is(err, state.ErrCollateralCeiling):
		return "collateral_cap"
	case errors.Is(err, state.ErrBatchLengthMismatch):
		return "batch_mismatch"
	case errors.Is(err, state.ErrPositionNotFound):
		return "not_found"
	case errors.Is(err, state.ErrPositionNotActive):
		return "not_active"
	case errors.Is(err, state.ErrPositionBacking):
		return "still_backing"
	case errors.Is(err, state.ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, state.ErrInsufficientPrincipal):
		return "insufficient_principal"
	case errors.Is(err, state.ErrInsufficientYield):
		return "insufficient_yield"
	case errors.Is(err, state.ErrNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, state.ErrHoldingPeriodNotMet):
		return "holding_period"
	case errors.Is(err, state.ErrPriceInvalid):
		return "price_invalid"
	case errors.Is(err, ErrCustodyInvariant):
		return "custody"
	default:
		return "dispatch"
	}
}

// getEventTimestamp extracts the versioned timestamp from an event.
// The core MUST NOT call time.Now(); all timestamps are versioned inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.PositionOpen:
		return time.UnixMicro(e.Timestamp)
	case *event.MarginAdd:
		return time.UnixMicro(e.Timestamp)
	case *event.MarginRemove:
		return time.UnixMicro(e.Timestamp)
	case *event.PositionClose:
		return time.UnixMicro(e.Timestamp)
	case *event.PositionLiquidate:
		return time.UnixMicro(e.Timestamp)
	case *event.RewardClaim:
		return time.UnixMicro(e.Timestamp)
	case *event.RateUpdate:
		return time.UnixMicro(e.Timestamp)
	case *event.VaultMint:
		return time.UnixMicro(e.Timestamp)
	case *event.VaultRedeem:
		return time.UnixMicro(e.Timestamp)
	case *event.RedemptionDebit:
		return time.UnixMicro(e.Timestamp)
	case *event.UserDeposit:
		return time.UnixMicro(e.Timestamp)
	case *event.UserWithdraw:
		return time.UnixMicro(e.Timestamp)
	case *event.YieldDeposit:
		return time.UnixMicro(e.Timestamp)
	case *event.YieldDepositBatch:
		return time.UnixMicro(e.Timestamp)
	case *event.YieldClaim:
		return time.UnixMicro(e.Timestamp)
	case *event.DistributionUpdate:
		return time.UnixMicro(e.Timestamp)
	case *event.ParamUpdate:
		return time.UnixMicro(e.Timestamp)
	case *event.EmergencyAction:
		return time.UnixMicro(e.Timestamp)
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T, deterministic core cannot fall back to wall-clock time", evt))
	}
}

// computeStateDigest creates canonical bytes for the state hash: every
// account the batch touched (path plus post-apply balance, sorted), then
// the canonical serialization of the domain state the event changed.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, evt event.Event) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	return c.appendDomainDigest(digest, evt)
}

// appendDomainDigest folds the event's domain-state footprint into the
// digest. Balance deltas alone miss state-only transitions, shift moves and
// rate ticks and fill reallocation, so each event type contributes the
// canonical bytes of what it mutated.
func (c *DeterministicCore) appendDomainDigest(digest []byte, evt event.Event) []byte {
	switch e := evt.(type) {
	case *event.PositionOpen:
		digest = c.appendPositionDigest(digest, e.RequestID, e.Hedger)
	case *event.MarginAdd:
		digest = c.appendPositionDigest(digest, e.PositionID, e.Hedger)
	case *event.MarginRemove:
		digest = c.appendPositionDigest(digest, e.PositionID, e.Hedger)
	case *event.PositionClose:
		digest = c.appendPositionDigest(digest, e.PositionID, e.Hedger)
	case *event.PositionLiquidate:
		digest = c.appendPositionDigest(digest, e.PositionID, e.Hedger)
		digest = c.appendBookTotals(digest)
	case *event.RewardClaim:
		if acct, ok := c.book.Account(e.Hedger); ok {
			digest = append(digest, acct.CanonicalBytes()...)
		}
		ys := c.yield.Snapshot()
		digest = append(digest, ys.CanonicalBytes()...)
	case *event.RateUpdate:
		digest = append(digest, byte(len(e.Pair)))
		digest = append(digest, e.Pair...)
		digest = appendInt64LE(digest, e.Price)
		digest = appendInt64LE(digest, e.PriceSequence)
		digest = appendInt64LE(digest, e.Timestamp)
		if e.Valid {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
	case *event.VaultMint, *event.VaultRedeem, *event.RedemptionDebit:
		digest = c.appendBookTotals(digest)
	case *event.UserDeposit:
		digest = c.appendStakeDigest(digest, e.User)
	case *event.UserWithdraw:
		digest = c.appendStakeDigest(digest, e.User)
	case *event.YieldDeposit, *event.YieldDepositBatch, *event.YieldClaim, *event.DistributionUpdate:
		ys := c.yield.Snapshot()
		digest = append(digest, ys.CanonicalBytes()...)
	case *event.ParamUpdate:
		digest = append(digest, c.params.Get().CanonicalBytes()...)
	case *event.EmergencyAction:
		if c.paused {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
		ys := c.yield.Snapshot()
		digest = append(digest, ys.CanonicalBytes()...)
		if e.Kind == event.EmergencyForceClose {
			digest = c.appendPositionDigest(digest, e.TargetID, uuid.Nil)
			digest = c.appendBookTotals(digest)
		}
	}
	return digest
}

func (c *DeterministicCore) appendPositionDigest(digest []byte, positionID, hedger uuid.UUID) []byte {
	if pos, ok := c.book.Get(positionID); ok {
		digest = append(digest, pos.CanonicalBytes()...)
		if hedger == uuid.Nil {
			hedger = pos.Hedger
		}
	}
	if acct, ok := c.book.Account(hedger); ok {
		digest = append(digest, acct.CanonicalBytes()...)
	}
	return digest
}

func (c *DeterministicCore) appendBookTotals(digest []byte) []byte {
	digest = appendInt64LE(digest, c.book.TotalPoolMargin())
	digest = appendInt64LE(digest, c.book.TotalFilledVolume())
	digest = appendInt64LE(digest, c.book.TotalBaseBacked())
	return digest
}

func (c *DeterministicCore) appendStakeDigest(digest []byte, user uuid.UUID) []byte {
	if s, ok := c.mirror.Stake(user); ok {
		digest = append(digest, s.CanonicalBytes()...)
	}
	return digest
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

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	switch e := evt.(type) {
	case *event.PositionOpen:
		if err := c.validator.ValidateMarginNonNegative(e.Hedger, ledger.AssetUSDC); err != nil {
			return err
		}
	case *event.MarginAdd:
		if err := c.validator.ValidateMarginNonNegative(e.Hedger, ledger.AssetUSDC); err != nil {
			return err
		}
	case *event.MarginRemove:
		if err := c.validator.ValidateMarginNonNegative(e.Hedger, ledger.AssetUSDC); err != nil {
			return err
		}
	case *event.PositionClose:
		if err := c.validator.ValidateMarginNonNegative(e.Hedger, ledger.AssetUSDC); err != nil {
			return err
		}
	case *event.PositionLiquidate:
		if err := c.validator.ValidateMarginNonNegative(e.Hedger, ledger.AssetUSDC); err != nil {
			return err
		}
	case *event.VaultRedeem, *event.RedemptionDebit:
		// Crystallization and haircuts can debit any hedger's margin
		for _, acct := range c.book.Accounts() {
			if err := c.validator.ValidateMarginNonNegative(acct.Hedger, ledger.AssetUSDC); err != nil {
				return err
			}
		}
	case *event.RewardClaim, *event.YieldDeposit, *event.YieldDepositBatch, *event.YieldClaim, *event.EmergencyAction:
		if err := c.validator.ValidatePoolsNonNegative(ledger.AssetUSDC); err != nil {
			return err
		}
	}

	if err := c.validator.ValidateCustody(ledger.AssetUSDC, c.custody); err != nil {
		return err
	}

	// Periodic whole-ledger zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at sequence %d: %w", c.sequence, err)
		}
	}

	return nil
}

// stage verifies staged custody and only then runs the domain commit.
// A staged violation rejects the event with every piece of state untouched;
// a commit step failing after its plan validated indicates corruption.
func (c *DeterministicCore) stage(batch *ledger.Batch, commit func()) (*ledger.Batch, error) {
	if err := checkStagedCustody(c.custody, batch); err != nil {
		return nil, err
	}
	commit()
	return batch, nil
}

func (c *DeterministicCore) emptyBatch(evt event.Event) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  evt.IdempotencyKey(),
		Sequence:  c.sequence,
		Timestamp: c.getEventTimestamp(evt).UnixMicro(),
		Journals:  []ledger.Journal{},
	}
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.PositionOpen:
		return c.handlePositionOpen(e)
	case *event.MarginAdd:
		return c.handleMarginAdd(e)
	case *event.MarginRemove:
		return c.handleMarginRemove(e)
	case *event.PositionClose:
		return c.handlePositionClose(e)
	case *event.PositionLiquidate:
		return c.handlePositionLiquidate(e)
	case *event.RewardClaim:
		return c.handleRewardClaim(e)
	case *event.RateUpdate:
		return c.handleRateUpdate(e)
	case *event.VaultMint:
		return c.handleVaultMint(e)
	case *event.VaultRedeem:
		return c.handleVaultRedeem(e)
	case *event.RedemptionDebit:
		return c.handleRedemptionDebit(e)
	case *event.UserDeposit:
		return c.handleUserDeposit(e)
	case *event.UserWithdraw:
		return c.handleUserWithdraw(e)
	case *event.YieldDeposit:
		return c.handleYieldDeposit(e)
	case *event.YieldDepositBatch:
		return c.handleYieldDepositBatch(e)
	case *event.YieldClaim:
		return c.handleYieldClaim(e)
	case *event.DistributionUpdate:
		return c.handleDistributionUpdate(e)
	case *event.ParamUpdate:
		return c.handleParamUpdate(e)
	case *event.EmergencyAction:
		return c.handleEmergencyAction(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// handlePositionOpen admits a new hedge position. The position ID is the
// request ID, so a replay reconstructs an identical book.
func (c *DeterministicCore) handlePositionOpen(evt *event.PositionOpen) (*ledger.Batch, error) {
	p := c.params.Get()

	price, err := c.marginCalc.CurrentPrice(evt.Timestamp)
	if err != nil {
		return nil, err
	}

	pos, fee, err := c.book.Open(p, evt.RequestID, evt.Hedger, evt.Collateral, evt.Leverage, price, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GeneratePositionOpen(evt, pos.Margin, fee, ledger.AssetUSDC)
	if err != nil {
		panic(fmt.Sprintf("FATAL: open journals failed after book admission: %v", err))
	}
	// Inflow-only event: staged custody cannot fail, and the book already
	// admitted the position, so no separate commit step remains
	c.updatePositionGauges()
	return batch, nil
}

func (c *DeterministicCore) handleMarginAdd(evt *event.MarginAdd) (*ledger.Batch, error) {
	p := c.params.Get()

	net, fee, err := c.book.AddMargin(p, evt.Hedger, evt.PositionID, evt.Amount, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateMarginAdd(evt, net, fee, ledger.AssetUSDC)
	if err != nil {
		panic(fmt.Sprintf("FATAL: margin add journals failed after book update: %v", err))
	}
	c.updatePositionGauges()
	return batch, nil
}

func (c *DeterministicCore) handleMarginRemove(evt *event.MarginRemove) (*ledger.Batch, error) {
	p := c.params.Get()

	pos, ok := c.book.Get(evt.PositionID)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", evt.PositionID, state.ErrPositionNotFound)
	}
	if !pos.Active {
		return nil, fmt.Errorf("position %s: %w", evt.PositionID, state.ErrPositionNotActive)
	}
	if pos.Hedger != evt.Hedger {
		return nil, fmt.Errorf("position %s not owned by %s: %w", evt.PositionID, evt.Hedger, state.ErrNotAuthorized)
	}

	price, err := c.marginCalc.CurrentPrice(evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := c.marginCalc.ValidateRemoval(pos, evt.Amount, price); err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateMarginRemove(evt, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		if err := c.book.RemoveMargin(p, evt.Hedger, evt.PositionID, evt.Amount, evt.Timestamp); err != nil {
			panic(fmt.Sprintf("FATAL: margin remove commit failed after validation: %v", err))
		}
		c.updatePositionGauges()
	})
}

// handlePositionClose settles a voluntary exit. Closing is only legal once
// redemptions have unwound all backing, which also makes settlement
// price-free: with zero base the net P&L is the filled volume minus what
// was already realized.
func (c *DeterministicCore) handlePositionClose(evt *event.PositionClose) (*ledger.Batch, error) {
	p := c.params.Get()

	pos, ok := c.book.Get(evt.PositionID)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", evt.PositionID, state.ErrPositionNotFound)
	}
	if !pos.Active {
		return nil, fmt.Errorf("position %s: %w", evt.PositionID, state.ErrPositionNotActive)
	}
	if pos.Hedger != evt.Hedger {
		return nil, fmt.Errorf("position %s not owned by %s: %w", evt.PositionID, evt.Hedger, state.ErrNotAuthorized)
	}
	if pos.BaseBacked > 0 {
		return nil, fmt.Errorf("position %s still backs %d base units: %w", evt.PositionID, pos.BaseBacked, state.ErrPositionBacking)
	}

	netPnL := pos.FilledVolume - pos.RealizedPnL
	afterPnL := pos.Margin + netPnL
	if afterPnL < 0 {
		return nil, fmt.Errorf("margin %d cannot absorb settlement %d: %w", pos.Margin, netPnL, state.ErrInsufficientMargin)
	}

	exitFee := fpmath.PercentageOf(afterPnL, p.ExitFeeBps)
	payout := afterPnL - exitFee

	batch, err := c.journalGen.GeneratePositionClose(evt, netPnL, exitFee, payout, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		if _, err := c.book.Settle(p, evt.PositionID, evt.Timestamp); err != nil {
			panic(fmt.Sprintf("FATAL: close settle failed after validation: %v", err))
		}
		c.updatePositionGauges()
	})
}

// handlePositionLiquidate force-closes an undermargined position. Margin
// absorbs the loss up to its full amount; any unabsorbed remainder is the
// reported deficit. The liquidator earns the configured share of surviving
// margin, the owner keeps the rest, and detached backing is reallocated
// across surviving positions at the liquidation price.
func (c *DeterministicCore) handlePositionLiquidate(evt *event.PositionLiquidate) (*ledger.Batch, error) {
	if !c.authorizer.IsLiquidator(evt.Liquidator) {
		return nil, fmt.Errorf("liquidator %s: %w", evt.Liquidator, state.ErrNotAuthorized)
	}

	pos, ok := c.book.Get(evt.PositionID)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", evt.PositionID, state.ErrPositionNotFound)
	}
	if pos.Hedger != evt.Hedger {
		return nil, fmt.Errorf("position %s not owned by %s: %w", evt.PositionID, evt.Hedger, state.ErrPositionNotFound)
	}

	price, err := c.marginCalc.CheckLiquidatable(evt.PositionID, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	p := c.params.Get()
	netPnL := state.PositionNetPnL(pos, price)
	settled := netPnL
	var deficit int64
	if pos.Margin+netPnL < 0 {
		settled = -pos.Margin
		deficit = -(pos.Margin + netPnL)
	}
	remaining := pos.Margin + settled
	reward := fpmath.PercentageOf(remaining, p.LiquidationPenaltyBps)
	ownerPayout := remaining - reward

	batch, err := c.journalGen.GenerateLiquidation(evt, settled, reward, 0, ownerPayout, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		preState, err := c.book.Settle(p, evt.PositionID, evt.Timestamp)
		if err != nil {
			panic(fmt.Sprintf("FATAL: liquidation settle failed after validation: %v", err))
		}

		shortfall := c.reallocateBacking(p, preState.BaseBacked, price, evt.Timestamp)

		if c.metrics != nil {
			c.metrics.LiquidationsTotal.WithLabelValues("keeper").Inc()
			if deficit > 0 {
				c.metrics.LiquidationShortfall.Add(float64(deficit))
			}
		}
		if deficit > 0 || shortfall > 0 {
			c.logger.Warn().
				Str("position_id", evt.PositionID.String()).
				Int64("deficit", deficit).
				Int64("backing_shortfall", shortfall).
				Msg("liquidation left uncovered exposure")
		}
		c.updatePositionGauges()
	})
}

// reallocateBacking re-runs fill allocation for backing detached by a
// forced close. Returns the notional no surviving position could absorb.
func (c *DeterministicCore) reallocateBacking(p *state.PoolParams, baseBacked, price, now int64) int64 {
	if baseBacked <= 0 {
		return 0
	}
	detached := fpmath.BackedValue(baseBacked, price)
	if detached <= 0 {
		return 0
	}
	_, shortfall, err := c.book.AllocateFill(p, detached, price, now)
	if err != nil {
		panic(fmt.Sprintf("FATAL: backing reallocation failed: %v", err))
	}
	if shortfall > 0 && c.metrics != nil {
		c.metrics.CoverageShortfall.Add(float64(shortfall))
	}
	return shortfall
}

func (c *DeterministicCore) handleRewardClaim(evt *event.RewardClaim) (*ledger.Batch, error) {
	p := c.params.Get()

	if _, ok := c.book.Account(evt.Hedger); !ok {
		return nil, fmt.Errorf("hedger %s: %w", evt.Hedger, state.ErrPositionNotFound)
	}
	amount := c.book.PreviewRewards(p, evt.Hedger, evt.Timestamp)
	if amount <= 0 {
		return nil, fmt.Errorf("no accrued rewards for %s: %w", evt.Hedger, state.ErrInsufficientYield)
	}
	// Incentive rewards drain the hedger yield pool ahead of yield claims
	if amount > c.yield.HedgerPool() {
		return nil, fmt.Errorf("reward %d exceeds hedger pool %d: %w", amount, c.yield.HedgerPool(), state.ErrInsufficientYield)
	}

	batch, err := c.journalGen.GenerateRewardClaim(evt, amount, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		claimed, err := c.book.ClaimRewards(p, evt.Hedger, evt.Timestamp)
		if err != nil || claimed != amount {
			panic(fmt.Sprintf("FATAL: reward claim drift: previewed %d, claimed %d: %v", amount, claimed, err))
		}
		if err := c.yield.DebitHedgerPool(amount); err != nil {
			panic(fmt.Sprintf("FATAL: hedger pool debit failed after coverage check: %v", err))
		}
	})
}

func (c *DeterministicCore) handleRateUpdate(evt *event.RateUpdate) (*ledger.Batch, error) {
	gapsBefore := c.rates.GapCount()
	if !c.rates.Apply(evt) {
		return nil, errStaleTick
	}
	if c.metrics != nil {
		if delta := c.rates.GapCount() - gapsBefore; delta > 0 {
			c.metrics.RateSequenceGap.WithLabelValues(evt.Pair).Add(float64(delta))
		}
	}
	return c.emptyBatch(evt), nil
}

// handleVaultMint books incoming backing and spreads the new notional
// across positions with capacity. Unallocated notional is the coverage
// shortfall: supply now exists that no hedger position backs.
func (c *DeterministicCore) handleVaultMint(evt *event.VaultMint) (*ledger.Batch, error) {
	if evt.Notional <= 0 {
		return nil, fmt.Errorf("mint notional %d: %w", evt.Notional, state.ErrInvalidAmount)
	}
	if evt.Price <= 0 {
		return nil, fmt.Errorf("mint price %d: %w", evt.Price, state.ErrPriceInvalid)
	}

	batch, err := c.journalGen.GenerateVaultMint(evt, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		p := c.params.Get()
		_, shortfall, err := c.book.AllocateFill(p, evt.Notional, evt.Price, evt.Timestamp)
		if err != nil {
			panic(fmt.Sprintf("FATAL: mint allocation failed after validation: %v", err))
		}
		if shortfall > 0 {
			if c.metrics != nil {
				c.metrics.CoverageShortfall.Add(float64(shortfall))
			}
			c.logger.Warn().
				Int64("notional", evt.Notional).
				Int64("shortfall", shortfall).
				Msg("mint notional exceeds pool capacity")
		}
		c.updatePositionGauges()
	})
}

func (c *DeterministicCore) handleVaultRedeem(evt *event.VaultRedeem) (*ledger.Batch, error) {
	plan, err := c.book.PlanRelease(evt.BaseAmount, evt.Price)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateVaultRedeem(evt, plan.CurrentValue, plan.Crystallized, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		p := c.params.Get()
		c.book.CommitRelease(p, plan, evt.Timestamp)
		c.updatePositionGauges()
	})
}

func (c *DeterministicCore) handleRedemptionDebit(evt *event.RedemptionDebit) (*ledger.Batch, error) {
	plan, err := c.book.PlanDebits(evt.RedeemedNotional, evt.TotalSupply)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateRedemptionDebit(evt, plan.Debits, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		p := c.params.Get()
		c.book.CommitDebits(p, plan, evt.Timestamp)
		c.updatePositionGauges()
	})
}

func (c *DeterministicCore) handleUserDeposit(evt *event.UserDeposit) (*ledger.Batch, error) {
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("deposit amount %d: %w", evt.Amount, state.ErrInvalidAmount)
	}

	batch, err := c.journalGen.GenerateUserDeposit(evt, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		if err := c.mirror.Deposit(evt.User, evt.Amount, evt.Timestamp); err != nil {
			panic(fmt.Sprintf("FATAL: deposit commit failed after validation: %v", err))
		}
		c.yield.Update(evt.Timestamp)
	})
}

func (c *DeterministicCore) handleUserWithdraw(evt *event.UserWithdraw) (*ledger.Batch, error) {
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("withdraw amount %d: %w", evt.Amount, state.ErrInvalidAmount)
	}
	s, ok := c.mirror.Stake(evt.User)
	if !ok || s.Principal < evt.Amount {
		return nil, fmt.Errorf("withdraw %d for user %s: %w", evt.Amount, evt.User, state.ErrInsufficientPrincipal)
	}

	batch, err := c.journalGen.GenerateUserWithdraw(evt, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		if err := c.mirror.Withdraw(evt.User, evt.Amount, evt.Timestamp); err != nil {
			panic(fmt.Sprintf("FATAL: withdraw commit failed after validation: %v", err))
		}
		c.yield.Update(evt.Timestamp)
	})
}

func (c *DeterministicCore) handleYieldDeposit(evt *event.YieldDeposit) (*ledger.Batch, error) {
	if !c.authorizer.IsYieldSource(evt.Source) {
		return nil, fmt.Errorf("yield source %q: %w", evt.Source, state.ErrNotAuthorized)
	}

	split, err := c.yield.ComputeSplit(evt.Amount, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateYieldIngest(
		evt.IdempotencyKey(),
		split.Fee, split.UserShare, split.HedgerShare,
		split.UserResidual, split.HedgerResidual,
		ledger.AssetUSDC, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		c.yield.ApplySplit(split)
		c.yield.Update(evt.Timestamp)
		c.recordYieldSplit(evt.YieldType, evt.Amount, split)
	})
}

// handleYieldDepositBatch ingests several sources atomically. Every item
// is validated and split before anything applies; ComputeSplit reads only
// the shift and the eligibility weights, so per-item splits are
// independent of apply order.
func (c *DeterministicCore) handleYieldDepositBatch(evt *event.YieldDepositBatch) (*ledger.Batch, error) {
	n := len(evt.Sources)
	if n == 0 || len(evt.YieldTypes) != n || len(evt.Amounts) != n {
		return nil, fmt.Errorf("sources=%d types=%d amounts=%d: %w",
			n, len(evt.YieldTypes), len(evt.Amounts), state.ErrBatchLengthMismatch)
	}

	splits := make([]*state.YieldSplit, n)
	var fee, userShare, hedgerShare, userResidual, hedgerResidual int64
	for i := 0; i < n; i++ {
		if !c.authorizer.IsYieldSource(evt.Sources[i]) {
			return nil, fmt.Errorf("yield source %q at index %d: %w", evt.Sources[i], i, state.ErrNotAuthorized)
		}
		split, err := c.yield.ComputeSplit(evt.Amounts[i], evt.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		splits[i] = split
		fee += split.Fee
		userShare += split.UserShare
		hedgerShare += split.HedgerShare
		userResidual += split.UserResidual
		hedgerResidual += split.HedgerResidual
	}

	batch, err := c.journalGen.GenerateYieldIngest(
		evt.IdempotencyKey(),
		fee, userShare, hedgerShare, userResidual, hedgerResidual,
		ledger.AssetUSDC, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		for i, split := range splits {
			c.yield.ApplySplit(split)
			c.recordYieldSplit(evt.YieldTypes[i], evt.Amounts[i], split)
		}
		c.yield.Update(evt.Timestamp)
	})
}

func (c *DeterministicCore) recordYieldSplit(yieldType string, amount int64, split *state.YieldSplit) {
	if c.metrics == nil {
		return
	}
	c.metrics.YieldIngested.WithLabelValues(yieldType).Add(float64(amount))
	c.metrics.YieldDistributed.WithLabelValues("user").Add(float64(split.UserShare - split.UserResidual))
	c.metrics.YieldDistributed.WithLabelValues("hedger").Add(float64(split.HedgerShare - split.HedgerResidual))
	if split.UserResidual > 0 {
		c.metrics.YieldResidual.WithLabelValues("user").Add(float64(split.UserResidual))
	}
	if split.HedgerResidual > 0 {
		c.metrics.YieldResidual.WithLabelValues("hedger").Add(float64(split.HedgerResidual))
	}
}

func (c *DeterministicCore) handleYieldClaim(evt *event.YieldClaim) (*ledger.Batch, error) {
	amount, err := c.yield.PreviewClaim(evt.Participant, evt.Side, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateYieldClaim(evt, amount, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		paid := c.yield.CommitClaim(evt.Participant, evt.Side, evt.Timestamp)
		if paid != amount {
			panic(fmt.Sprintf("FATAL: yield claim drift: previewed %d, paid %d", amount, paid))
		}
		if c.metrics != nil {
			c.metrics.YieldClaims.WithLabelValues(evt.Side.String()).Add(float64(paid))
		}
	})
}

func (c *DeterministicCore) handleDistributionUpdate(evt *event.DistributionUpdate) (*ledger.Batch, error) {
	before := c.yield.CurrentShift()
	c.yield.Update(evt.Timestamp)
	if c.metrics != nil && c.yield.CurrentShift() != before {
		c.metrics.ShiftAdjustments.Inc()
	}
	return c.emptyBatch(evt), nil
}

func (c *DeterministicCore) handleParamUpdate(evt *event.ParamUpdate) (*ledger.Batch, error) {
	if !c.authorizer.IsGovernance(evt.Actor) {
		return nil, fmt.Errorf("actor %s: %w", evt.Actor, state.ErrNotAuthorized)
	}
	if err := c.params.Apply(evt); err != nil {
		return nil, err
	}
	// A lowered MaxShift must pull the live shift back into range now, not
	// at the next scheduled update
	c.yield.ClampShift()

	c.logger.Info().
		Int64("effective_seq", evt.EffectiveSeq).
		Int64("base_shift_bps", evt.BaseShiftBps).
		Int64("max_shift_bps", evt.MaxShiftBps).
		Msg("pool parameters updated")

	return c.emptyBatch(evt), nil
}

func (c *DeterministicCore) handleEmergencyAction(evt *event.EmergencyAction) (*ledger.Batch, error) {
	if !c.authorizer.IsGovernance(evt.Actor) {
		return nil, fmt.Errorf("actor %s: %w", evt.Actor, state.ErrNotAuthorized)
	}

	switch evt.Kind {
	case event.EmergencyPause:
		c.paused = true
		c.logger.Warn().Str("justification", evt.Justification).Msg("core paused")
		return c.emptyBatch(evt), nil

	case event.EmergencyResume:
		c.paused = false
		c.logger.Warn().Str("justification", evt.Justification).Msg("core resumed")
		return c.emptyBatch(evt), nil

	case event.EmergencyForceDistribute:
		c.yield.ForceDistribute(evt.Timestamp)
		if c.metrics != nil {
			c.metrics.ShiftAdjustments.Inc()
		}
		return c.emptyBatch(evt), nil

	case event.EmergencyRebalancePools:
		if err := c.yield.ValidateRebalance(evt.Amount, evt.ToHedgerPool); err != nil {
			return nil, err
		}
		batch, err := c.journalGen.GeneratePoolRebalance(
			evt.IdempotencyKey(), evt.Amount, evt.ToHedgerPool, ledger.AssetUSDC, evt.Timestamp)
		if err != nil {
			return nil, err
		}
		return c.stage(batch, func() {
			c.yield.CommitRebalance(evt.Amount, evt.ToHedgerPool)
		})

	case event.EmergencyForceClose:
		return c.handleForceClose(evt)

	default:
		return nil, fmt.Errorf("unknown emergency kind: %d", evt.Kind)
	}
}

// handleForceClose is the governance escape hatch: settle any position at
// the current price regardless of margin health, with no exit fee and no
// liquidation reward. Available while paused.
func (c *DeterministicCore) handleForceClose(evt *event.EmergencyAction) (*ledger.Batch, error) {
	pos, ok := c.book.Get(evt.TargetID)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", evt.TargetID, state.ErrPositionNotFound)
	}
	if !pos.Active {
		return nil, fmt.Errorf("position %s: %w", evt.TargetID, state.ErrPositionNotActive)
	}

	var price, netPnL int64
	if pos.BaseBacked > 0 {
		var err error
		price, err = c.marginCalc.CurrentPrice(evt.Timestamp)
		if err != nil {
			return nil, err
		}
		netPnL = state.PositionNetPnL(pos, price)
	} else {
		netPnL = pos.FilledVolume - pos.RealizedPnL
	}

	settled := netPnL
	var deficit int64
	if pos.Margin+netPnL < 0 {
		settled = -pos.Margin
		deficit = -(pos.Margin + netPnL)
	}
	payout := pos.Margin + settled

	batch, err := c.journalGen.GenerateEmergencyClose(
		evt.IdempotencyKey(), pos.Hedger, settled, payout, ledger.AssetUSDC, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	return c.stage(batch, func() {
		p := c.params.Get()
		preState, err := c.book.Settle(p, evt.TargetID, evt.Timestamp)
		if err != nil {
			panic(fmt.Sprintf("FATAL: force close settle failed after validation: %v", err))
		}

		shortfall := c.reallocateBacking(p, preState.BaseBacked, price, evt.Timestamp)

		if c.metrics != nil {
			c.metrics.LiquidationsTotal.WithLabelValues("governance").Inc()
			if deficit > 0 {
				c.metrics.LiquidationShortfall.Add(float64(deficit))
			}
		}
		c.logger.Warn().
			Str("position_id", evt.TargetID.String()).
			Str("justification", evt.Justification).
			Int64("deficit", deficit).
			Int64("backing_shortfall", shortfall).
			Msg("position force-closed")
		c.updatePositionGauges()
	})
}

func (c *DeterministicCore) updatePositionGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.PositionsActive.Set(float64(len(c.book.ActivePositions())))
	c.metrics.PoolTotalMargin.Set(float64(c.book.TotalPoolMargin()))
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	JournalSequence int64
	StateHash       [32]byte
	Custody         int64
	Paused          bool
	Balances        map[ledger.AccountKey]int64
	Positions       []*state.HedgePosition
	Accounts        []*state.HedgerAccount
	Stakes          []*state.DepositorStake
	Yield           state.YieldState
	Rates           []oracle.RateEntry
	Params          *state.PoolParams
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state. The replay that
// follows starts at snapshot sequence + 1 and must land on the same chain
// tip the event log records.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.custody = snap.Custody
	c.paused = snap.Paused

	c.balanceTracker.Restore(snap.Balances)

	for _, pos := range snap.Positions {
		c.book.SetPosition(pos)
	}
	for _, acct := range snap.Accounts {
		c.book.SetAccount(acct)
	}
	for _, s := range snap.Stakes {
		c.mirror.SetStake(s)
	}

	c.yield.Restore(snap.Yield)
	c.rates.Restore(snap.Rates)

	if snap.Params != nil {
		p := *snap.Params
		c.params.Restore(&p)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.JournalSequence)
	c.idempotency.WarmFromKeys(snap.IdempotencyKeys)
}

// WarmLRU loads recent idempotency keys, oldest first, into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.WarmFromKeys(keys)
}

// GetSequence returns the next global sequence to be assigned.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current chain tip.
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// IsPaused reports whether the core is rejecting non-exempt events.
func (c *DeterministicCore) IsPaused() bool {
	return c.paused
}

// CustodyBalance returns the recorded custody total.
func (c *DeterministicCore) CustodyBalance() int64 {
	return c.custody
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	var params *state.PoolParams
	if p := c.params.Get(); p != nil {
		cp := *p
		params = &cp
	}
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		JournalSequence: c.journalGen.Sequence(),
		StateHash:       c.hasher.GetPrevHash(),
		Custody:         c.custody,
		Paused:          c.paused,
		Balances:        c.balanceTracker.Snapshot(),
		Positions:       c.book.AllPositions(),
		Accounts:        c.book.Accounts(),
		Stakes:          c.mirror.Stakes(),
		Yield:           c.yield.Snapshot(),
		Rates:           c.rates.Snapshot(),
		Params:          params,
		SequenceState:   c.sequenceValidator.AllPartitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}
