// Package twap stores pool-size snapshots in a bounded ring and computes
// duration-weighted averages over a lookback window. The ring caps history
// growth while keeping enough depth for the configured window; the oldest
// snapshot is evicted on wraparound.
package twap

import (
	"math/big"
	"time"
)

// PoolSnapshot records both eligible pool sizes at a point in time.
// Timestamps are epoch microseconds taken from event inputs, never from
// the wall clock, so replay reproduces identical averages.
type PoolSnapshot struct {
	Timestamp          int64 `json:"ts"`
	EligibleUserPool   int64 `json:"user_pool"`
	EligibleHedgerPool int64 `json:"hedger_pool"`
}

// Ring is a fixed-capacity snapshot buffer with wraparound eviction.
// Not thread-safe — only accessed from the single-threaded core.
type Ring struct {
	buf  []PoolSnapshot
	head int // index of oldest entry
	size int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf: make([]PoolSnapshot, capacity),
	}
}

// Append records a snapshot, evicting the oldest once full. Snapshots
// carrying a timestamp older than the newest entry are ignored; the ring
// is append-only in time.
func (r *Ring) Append(s PoolSnapshot) {
	if r.size > 0 {
		newest := r.at(r.size - 1)
		if s.Timestamp < newest.Timestamp {
			return
		}
		if s.Timestamp == newest.Timestamp {
			// Same instant: replace instead of recording a zero-length interval.
			r.buf[(r.head+r.size-1)%len(r.buf)] = s
			return
		}
	}

	if r.size == len(r.buf) {
		r.buf[r.head] = s
		r.head = (r.head + 1) % len(r.buf)
		return
	}

	r.buf[(r.head+r.size)%len(r.buf)] = s
	r.size++
}

func (r *Ring) at(i int) PoolSnapshot {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Len returns the number of stored snapshots.
func (r *Ring) Len() int {
	return r.size
}

// Capacity returns the fixed ring capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Latest returns the newest snapshot.
func (r *Ring) Latest() (PoolSnapshot, bool) {
	if r.size == 0 {
		return PoolSnapshot{}, false
	}
	return r.at(r.size - 1), true
}

// Snapshots returns the stored history oldest-first. The slice is a copy;
// mutating it does not affect the ring.
func (r *Ring) Snapshots() []PoolSnapshot {
	out := make([]PoolSnapshot, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.at(i)
	}
	return out
}

// Restore replaces ring contents from a snapshot dump (oldest-first).
// Entries beyond capacity keep only the newest tail, matching what the
// ring itself would have retained.
func (r *Ring) Restore(history []PoolSnapshot) {
	r.head = 0
	r.size = 0
	start := 0
	if len(history) > len(r.buf) {
		start = len(history) - len(r.buf)
	}
	for _, s := range history[start:] {
		r.Append(s)
	}
}

// TWAP computes the duration-weighted average of both pools over
// [now-window, now]. Each snapshot's value holds from its timestamp until
// the next snapshot (or now), clipped to the window. A single snapshot
// yields itself; an empty ring yields ok=false.
func (r *Ring) TWAP(now int64, window time.Duration) (userTWAP, hedgerTWAP int64, ok bool) {
	if r.size == 0 {
		return 0, 0, false
	}

	cutoff := now - window.Microseconds()

	var weightSum int64
	userAcc := new(big.Int)
	hedgerAcc := new(big.Int)

	for i := 0; i < r.size; i++ {
		s := r.at(i)

		intervalStart := s.Timestamp
		intervalEnd := now
		if i+1 < r.size {
			intervalEnd = r.at(i + 1).Timestamp
		}

		if intervalStart < cutoff {
			intervalStart = cutoff
		}
		if intervalEnd > now {
			intervalEnd = now
		}

		weight := intervalEnd - intervalStart
		if weight <= 0 {
			continue
		}

		userAcc.Add(userAcc, new(big.Int).Mul(big.NewInt(s.EligibleUserPool), big.NewInt(weight)))
		hedgerAcc.Add(hedgerAcc, new(big.Int).Mul(big.NewInt(s.EligibleHedgerPool), big.NewInt(weight)))
		weightSum += weight
	}

	if weightSum == 0 {
		// All history collapsed onto one instant; fall back to the newest values.
		latest := r.at(r.size - 1)
		return latest.EligibleUserPool, latest.EligibleHedgerPool, true
	}

	userAcc.Quo(userAcc, big.NewInt(weightSum))
	hedgerAcc.Quo(hedgerAcc, big.NewInt(weightSum))

	return userAcc.Int64(), hedgerAcc.Int64(), true
}
