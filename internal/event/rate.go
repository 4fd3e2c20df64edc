package event

import "fmt"

// RateUpdate carries an exchange-rate tick from the oracle adapter.
// Rate partitions tolerate sequence gaps; stale ticks are silently
// ignored by the core.
type RateUpdate struct {
	Pair          string // e.g. "EURUSD"
	Price         int64  // Fixed-point: price scale
	Valid         bool   // Upstream validity flag; false fails closed downstream
	PriceSequence int64  // Monotonic per pair
	Timestamp     int64  // Epoch microseconds (versioned input)
}

func (e *RateUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:rate:%d", e.Pair, e.PriceSequence)
}

func (e *RateUpdate) EventType() EventType  { return EventTypeRateUpdate }
func (e *RateUpdate) Partition() string     { return "rates:" + e.Pair }
func (e *RateUpdate) SourceSequence() int64 { return e.PriceSequence }
