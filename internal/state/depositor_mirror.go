package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"

	fpmath "HedgeCore/internal/math"
)

// DepositorStake mirrors one external depositor's principal. The stake
// exists for pool metrics and claim gating; the principal itself is
// custodied in the internal ledger.
type DepositorStake struct {
	User            uuid.UUID `json:"user"`
	Principal       int64     `json:"principal"` // Fixed-point: quote scale
	LastDepositTime int64     `json:"last_deposit_time"`
	Version         int64     `json:"version"`
}

// CanonicalBytes serializes the stake for state digest computation.
// Field order is fixed; all integers little-endian.
func (s *DepositorStake) CanonicalBytes() []byte {
	buf := make([]byte, 0, 40)
	buf = append(buf, s.User[:]...)
	buf = appendInt64LE(buf, s.Principal)
	buf = appendInt64LE(buf, s.LastDepositTime)
	buf = appendInt64LE(buf, s.Version)
	return buf
}

// DepositorMirror tracks per-user principal from UserDeposit and
// UserWithdraw events. Not thread-safe — only accessed from the
// single-threaded core.
type DepositorMirror struct {
	stakes map[uuid.UUID]*DepositorStake
	total  int64
}

func NewDepositorMirror() *DepositorMirror {
	return &DepositorMirror{stakes: make(map[uuid.UUID]*DepositorStake)}
}

// Deposit credits the user's stake and restarts their holding period.
func (dm *DepositorMirror) Deposit(user uuid.UUID, amount, now int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, ErrInvalidAmount)
	}
	stake, ok := dm.stakes[user]
	if !ok {
		stake = &DepositorStake{User: user}
		dm.stakes[user] = stake
	}
	stake.Principal += amount
	stake.LastDepositTime = now
	stake.Version++
	dm.total += amount
	return nil
}

// Withdraw debits the user's stake. Withdrawals are not holding-period
// gated and do not restart the clock.
func (dm *DepositorMirror) Withdraw(user uuid.UUID, amount, now int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw %d: %w", amount, ErrInvalidAmount)
	}
	stake, ok := dm.stakes[user]
	if !ok {
		return fmt.Errorf("user %s has no stake: %w", user, ErrInsufficientPrincipal)
	}
	if amount > stake.Principal {
		return fmt.Errorf("withdraw %d exceeds principal %d: %w", amount, stake.Principal, ErrInsufficientPrincipal)
	}
	stake.Principal -= amount
	stake.Version++
	dm.total -= amount
	return nil
}

// Stake returns the user's mirror entry if one exists.
func (dm *DepositorMirror) Stake(user uuid.UUID) (*DepositorStake, bool) {
	s, ok := dm.stakes[user]
	return s, ok
}

// Total is the mirrored depositor pool across all users.
func (dm *DepositorMirror) Total() int64 {
	return dm.total
}

// EligibleTotal sums principal over users whose holding period has
// elapsed as of now.
func (dm *DepositorMirror) EligibleTotal(now, holdingPeriodSec int64) int64 {
	var total int64
	for _, s := range dm.stakes {
		if dm.eligible(s, now, holdingPeriodSec) {
			total += s.Principal
		}
	}
	return total
}

// EligibleWeights returns principal weights for users past the holding
// period, for yield distribution.
func (dm *DepositorMirror) EligibleWeights(now, holdingPeriodSec int64) []fpmath.Weight {
	weights := make([]fpmath.Weight, 0, len(dm.stakes))
	for id, s := range dm.stakes {
		if !dm.eligible(s, now, holdingPeriodSec) {
			continue
		}
		weights = append(weights, fpmath.Weight{Key: id, Amount: s.Principal})
	}
	return weights
}

func (dm *DepositorMirror) eligible(s *DepositorStake, now, holdingPeriodSec int64) bool {
	if s.Principal <= 0 {
		return false
	}
	return now-s.LastDepositTime >= holdingPeriodSec*1_000_000
}

// Stakes returns all entries sorted by user ID.
func (dm *DepositorMirror) Stakes() []*DepositorStake {
	out := make([]*DepositorStake, 0, len(dm.stakes))
	for _, s := range dm.stakes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].User[:], out[j].User[:]) < 0
	})
	return out
}

// SetStake installs a mirror entry during snapshot restore and folds it
// into the running total.
func (dm *DepositorMirror) SetStake(s *DepositorStake) {
	if prev, ok := dm.stakes[s.User]; ok {
		dm.total -= prev.Principal
	}
	dm.stakes[s.User] = s
	dm.total += s.Principal
}
