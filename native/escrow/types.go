package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle states of a bounty escrow. A record is
// created in StatusLocked and moves exactly once to StatusReleased or
// StatusRefunded; both are terminal.
type Status uint8

const (
	StatusLocked Status = iota
	StatusReleased
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusReleased, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// CanTransition reports whether the transition from s to next is allowed.
// The function is total: it is defined for every status pair.
func (s Status) CanTransition(next Status) bool {
	if s != StatusLocked {
		return false
	}
	return next == StatusReleased || next == StatusRefunded
}

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus converts a textual status back into its enum value.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "locked":
		return StatusLocked, nil
	case "released":
		return StatusReleased, nil
	case "refunded":
		return StatusRefunded, nil
	default:
		return 0, fmt.Errorf("escrow: unknown status %q", raw)
	}
}

// RefundMode selects who may trigger the refund transition once the deadline
// condition is met.
type RefundMode uint8

const (
	// RefundAnyone lets any caller trigger a refund after the deadline; the
	// funds always return to the depositor regardless of the caller.
	RefundAnyone RefundMode = iota
	// RefundDepositorOnly restricts the refund call to the depositor.
	RefundDepositorOnly
)

func (m RefundMode) Valid() bool {
	return m == RefundAnyone || m == RefundDepositorOnly
}

func (m RefundMode) String() string {
	switch m {
	case RefundAnyone:
		return "anyone"
	case RefundDepositorOnly:
		return "depositor-only"
	default:
		return fmt.Sprintf("refund-mode(%d)", uint8(m))
	}
}

// ParseRefundMode converts the textual configuration value into a RefundMode.
func ParseRefundMode(raw string) (RefundMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "anyone":
		return RefundAnyone, nil
	case "depositor-only", "depositor_only", "depositor":
		return RefundDepositorOnly, nil
	default:
		return 0, fmt.Errorf("escrow: unknown refund mode %q", raw)
	}
}

// Escrow is the custody record for a single bounty. Depositor, Amount and
// Deadline are immutable once the record is created; only Status changes.
type Escrow struct {
	BountyID  uint64
	Depositor [20]byte
	Amount    *big.Int
	Deadline  int64
	CreatedAt int64
	Status    Status
}

// Clone returns a deep copy so callers can mutate the copy without touching
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeEscrow validates the supplied record and returns a cloned instance
// with a non-nil amount. The original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := e.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if clone.Deadline < 0 {
		return nil, fmt.Errorf("escrow: negative deadline")
	}
	if clone.CreatedAt < 0 {
		return nil, fmt.Errorf("escrow: negative creation time")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	return clone, nil
}

// AggregateStats carries the incrementally maintained totals and counts per
// status bucket. The sum of the three totals always equals the sum of amounts
// over every record ever created.
type AggregateStats struct {
	TotalLocked   *big.Int
	TotalReleased *big.Int
	TotalRefunded *big.Int
	CountLocked   uint64
	CountReleased uint64
	CountRefunded uint64
}

// NewAggregateStats returns a zeroed stats value with non-nil totals.
func NewAggregateStats() *AggregateStats {
	return &AggregateStats{
		TotalLocked:   big.NewInt(0),
		TotalReleased: big.NewInt(0),
		TotalRefunded: big.NewInt(0),
	}
}

// Clone returns a deep copy of the stats snapshot.
func (s *AggregateStats) Clone() *AggregateStats {
	if s == nil {
		return NewAggregateStats()
	}
	clone := NewAggregateStats()
	if s.TotalLocked != nil {
		clone.TotalLocked.Set(s.TotalLocked)
	}
	if s.TotalReleased != nil {
		clone.TotalReleased.Set(s.TotalReleased)
	}
	if s.TotalRefunded != nil {
		clone.TotalRefunded.Set(s.TotalRefunded)
	}
	clone.CountLocked = s.CountLocked
	clone.CountReleased = s.CountReleased
	clone.CountRefunded = s.CountRefunded
	return clone
}

// RefundEntry is one element of the append-only refund history.
type RefundEntry struct {
	BountyID   uint64
	Depositor  [20]byte
	Amount     *big.Int
	RefundedAt int64
}

// Clone returns a deep copy of the history entry.
func (r *RefundEntry) Clone() *RefundEntry {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// ModuleConfig is the one-time module configuration written by Initialize.
type ModuleConfig struct {
	Admin      [20]byte
	Token      string
	RefundMode RefundMode
}

// Clone returns a copy of the config value.
func (c *ModuleConfig) Clone() *ModuleConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// NormalizeToken trims and upper-cases the token symbol configured for the
// module, rejecting empty values.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("escrow: token symbol must not be empty")
	}
	return trimmed, nil
}
