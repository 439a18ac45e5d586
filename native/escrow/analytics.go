package escrow

import "math/big"

// Read-side views over the escrow store. No method here ever mutates state;
// a rolled-back write is never visible to any of these views.

// AggregateStats returns the current counters snapshot. Before the first
// lock the snapshot is all zeroes.
func (e *Engine) AggregateStats() (*AggregateStats, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	stats, err := e.state.EscrowStats()
	if err != nil {
		return nil, err
	}
	return stats.Clone(), nil
}

// EscrowCount reports the number of records ever created. It never
// decreases: release and refund finalize records without removing them.
func (e *Engine) EscrowCount() (uint64, error) {
	if err := e.requireState(); err != nil {
		return 0, err
	}
	return e.state.EscrowCount()
}

// EscrowIDsByStatus returns the bounty ids currently in the given status, in
// insertion order per status bucket. The id set always agrees exactly with
// EscrowsByStatus.
func (e *Engine) EscrowIDsByStatus(status Status) ([]uint64, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	return e.state.EscrowIDsByStatus(status)
}

// EscrowsByStatus returns full record snapshots for every escrow currently
// in the given status, in insertion order per status bucket.
func (e *Engine) EscrowsByStatus(status Status) ([]*Escrow, error) {
	ids, err := e.EscrowIDsByStatus(status)
	if err != nil {
		return nil, err
	}
	return e.loadAll(ids)
}

// EscrowsByDepositor returns every record created by the depositor across
// lifecycle states, in creation order.
func (e *Engine) EscrowsByDepositor(depositor [20]byte) ([]*Escrow, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	ids, err := e.state.EscrowIDsByDepositor(depositor)
	if err != nil {
		return nil, err
	}
	return e.loadAll(ids)
}

// EscrowsByAmount returns records whose amount falls in [min, max]
// inclusive, across any status. A nil bound is open.
func (e *Engine) EscrowsByAmount(min, max *big.Int) ([]*Escrow, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	ids, err := e.state.EscrowIDsByAmountRange(min, max)
	if err != nil {
		return nil, err
	}
	return e.loadAll(ids)
}

// EscrowsByDeadline returns records whose deadline falls in [min, max]
// inclusive, across any status.
func (e *Engine) EscrowsByDeadline(min, max int64) ([]*Escrow, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	ids, err := e.state.EscrowIDsByDeadlineRange(min, max)
	if err != nil {
		return nil, err
	}
	return e.loadAll(ids)
}

// RefundEligibility reports whether the record exists, is still Locked, and
// its deadline has been reached. Unknown ids probe false rather than
// failing.
func (e *Engine) RefundEligibility(bountyID uint64) (bool, error) {
	if err := e.requireState(); err != nil {
		return false, err
	}
	esc, ok, err := e.state.EscrowGet(bountyID)
	if err != nil {
		return false, err
	}
	if !ok || esc.Status != StatusLocked {
		return false, nil
	}
	return e.now() >= esc.Deadline, nil
}

// RefundHistory returns the append-only refund log in refund order.
func (e *Engine) RefundHistory() ([]*RefundEntry, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	entries, err := e.state.EscrowRefundHistory()
	if err != nil {
		return nil, err
	}
	out := make([]*RefundEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Clone())
	}
	return out, nil
}

func (e *Engine) loadAll(ids []uint64) ([]*Escrow, error) {
	out := make([]*Escrow, 0, len(ids))
	for _, id := range ids {
		esc, ok, err := e.state.EscrowGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Indices are caches over the authoritative record set; a
			// dangling id means they diverged.
			return nil, ErrNotFound
		}
		out = append(out, esc.Clone())
	}
	return out, nil
}
