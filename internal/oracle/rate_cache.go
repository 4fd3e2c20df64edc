// Package oracle holds the event-fed price cache behind the price feed port.
// Every consumer fails closed: no price, an invalid flag, or a stale
// timestamp all surface as valid=false, never as a zero price.
package oracle

import (
	"sort"
	"time"

	"HedgeCore/internal/event"
)

// PriceFeed is the read side of the cache. Margin and liquidation decisions
// take prices only through this interface.
type PriceFeed interface {
	// GetPrice returns the latest price for a pair and whether it is usable.
	// now is the current event timestamp (epoch microseconds), not wall time.
	GetPrice(pair string, now int64) (price int64, valid bool)
}

// RateEntry is the cached state for one pair
type RateEntry struct {
	Pair      string `json:"pair"`
	Price     int64  `json:"price"` // Fixed-point: price scale
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"ts"` // Epoch microseconds
	Valid     bool   `json:"valid"`
}

// RateCache holds the latest oracle price per pair, fed by RateUpdate events.
// Price partitions are tolerant: an update at or below the stored sequence is
// dropped silently, gaps are accepted and counted.
// Not thread-safe — only accessed from the single-threaded core.
type RateCache struct {
	entries        map[string]*RateEntry
	stalenessBound int64 // microseconds; 0 disables the staleness check
	gaps           int64
}

func NewRateCache(stalenessBound time.Duration) *RateCache {
	return &RateCache{
		entries:        make(map[string]*RateEntry),
		stalenessBound: stalenessBound.Microseconds(),
	}
}

// Apply ingests a rate update. Returns false when the update is stale
// (sequence at or below the stored one). Invalid updates are stored too:
// a pair flagged invalid upstream must stop answering until a valid update
// arrives.
func (rc *RateCache) Apply(evt *event.RateUpdate) bool {
	cur, ok := rc.entries[evt.Pair]
	if ok {
		if evt.PriceSequence <= cur.Sequence {
			return false
		}
		if evt.PriceSequence > cur.Sequence+1 {
			rc.gaps += evt.PriceSequence - cur.Sequence - 1
		}
	}

	rc.entries[evt.Pair] = &RateEntry{
		Pair:      evt.Pair,
		Price:     evt.Price,
		Sequence:  evt.PriceSequence,
		Timestamp: evt.Timestamp,
		Valid:     evt.Valid,
	}
	return true
}

// GetPrice implements PriceFeed. Fail closed on every degraded condition.
func (rc *RateCache) GetPrice(pair string, now int64) (int64, bool) {
	e, ok := rc.entries[pair]
	if !ok || !e.Valid || e.Price <= 0 {
		return 0, false
	}
	if rc.stalenessBound > 0 && now-e.Timestamp > rc.stalenessBound {
		return 0, false
	}
	return e.Price, true
}

// GapCount returns the cumulative number of skipped price sequences
func (rc *RateCache) GapCount() int64 {
	return rc.gaps
}

// Snapshot returns all entries sorted by pair (for state snapshots)
func (rc *RateCache) Snapshot() []RateEntry {
	out := make([]RateEntry, 0, len(rc.entries))
	for _, e := range rc.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

// Restore replaces all entries from a snapshot
func (rc *RateCache) Restore(entries []RateEntry) {
	rc.entries = make(map[string]*RateEntry, len(entries))
	for i := range entries {
		e := entries[i]
		rc.entries[e.Pair] = &e
	}
}
