package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

func TestAggregateStatsStartZeroed(t *testing.T) {
	env := newInitializedEnv(t)
	stats, err := env.engine.AggregateStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CountLocked != 0 || stats.CountReleased != 0 || stats.CountRefunded != 0 {
		t.Fatalf("counts not zero: %+v", stats)
	}
	if stats.TotalLocked.Sign() != 0 || stats.TotalReleased.Sign() != 0 || stats.TotalRefunded.Sign() != 0 {
		t.Fatalf("totals not zero: %+v", stats)
	}
	count, err := env.engine.EscrowCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count: got %d, want 0", count)
	}
}

func TestAggregateStatsTracksLocks(t *testing.T) {
	env := newInitializedEnv(t)
	env.lock(t, depositor, 1, 1000, env.now+100)
	env.lock(t, depositor, 2, 2000, env.now+100)
	env.lock(t, depositor, 3, 3000, env.now+100)

	stats, err := env.engine.AggregateStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CountLocked != 3 {
		t.Fatalf("CountLocked: got %d, want 3", stats.CountLocked)
	}
	if stats.TotalLocked.Cmp(big.NewInt(6000)) != 0 {
		t.Fatalf("TotalLocked: got %s, want 6000", stats.TotalLocked)
	}
}

func TestAggregateStatsMovesBucketsOnRelease(t *testing.T) {
	env := newInitializedEnv(t)
	env.lock(t, depositor, 1, 500, env.now+100)
	env.lock(t, depositor, 2, 700, env.now+100)
	env.lock(t, depositor, 3, 300, env.now+100)

	if err := env.engine.ReleaseFunds(admin, 2, contributor); err != nil {
		t.Fatalf("release: %v", err)
	}

	stats, err := env.engine.AggregateStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CountLocked != 2 || stats.TotalLocked.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("locked bucket: count=%d total=%s, want 2/800", stats.CountLocked, stats.TotalLocked)
	}
	if stats.CountReleased != 1 || stats.TotalReleased.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("released bucket: count=%d total=%s, want 1/700", stats.CountReleased, stats.TotalReleased)
	}
	if stats.CountRefunded != 0 || stats.TotalRefunded.Sign() != 0 {
		t.Fatalf("refunded bucket should be empty: %+v", stats)
	}
}

func TestAggregateStatsFullLifecycle(t *testing.T) {
	env := newInitializedEnv(t)
	env.lock(t, depositor, 1, 500, env.now+100)
	env.lock(t, depositor, 2, 700, env.now+100)
	env.lock(t, depositor, 3, 300, env.now+100)

	if err := env.engine.ReleaseFunds(admin, 1, contributor); err != nil {
		t.Fatalf("release: %v", err)
	}
	env.now += 200
	if err := env.engine.Refund(other, 2); err != nil {
		t.Fatalf("refund: %v", err)
	}

	stats, err := env.engine.AggregateStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CountLocked != 1 || stats.TotalLocked.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("locked: count=%d total=%s, want 1/300", stats.CountLocked, stats.TotalLocked)
	}
	if stats.CountReleased != 1 || stats.TotalReleased.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("released: count=%d total=%s, want 1/500", stats.CountReleased, stats.TotalReleased)
	}
	if stats.CountRefunded != 1 || stats.TotalRefunded.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("refunded: count=%d total=%s, want 1/700", stats.CountRefunded, stats.TotalRefunded)
	}
}

func TestEscrowCountNeverDecreases(t *testing.T) {
	env := newInitializedEnv(t)
	env.lock(t, depositor, 1, 500, env.now+100)
	env.lock(t, depositor, 2, 700, env.now+100)

	count, err := env.engine.EscrowCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count: got %d, want 2", count)
	}

	// Neither failed operations nor finalizing transitions shrink the count.
	if err := env.engine.LockFunds(depositor, depositor, 1, big.NewInt(10), env.now+100); !errors.Is(err, ErrDuplicateBountyID) {
		t.Fatalf("expected ErrDuplicateBountyID, got %v", err)
	}
	env.gw.failWith = fmt.Errorf("down")
	env.gw.mint(depositor, 10)
	if err := env.engine.LockFunds(depositor, depositor, 3, big.NewInt(10), env.now+100); !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}
	env.gw.failWith = nil
	if err := env.engine.ReleaseFunds(admin, 1, contributor); err != nil {
		t.Fatalf("release: %v", err)
	}
	env.now += 200
	if err := env.engine.Refund(other, 2); err != nil {
		t.Fatalf("refund: %v", err)
	}

	count, err = env.engine.EscrowCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count after lifecycle: got %d, want 2", count)
	}
}

func TestStatusIndexMatchesRecords(t *testing.T) {
	env := newInitializedEnv(t)
	env.lock(t, depositor, 10, 500, env.now+100)
	env.lock(t, depositor, 20, 700, env.now+100)
	env.lock(t, depositor, 30, 300, env.now+100)

	if err := env.engine.ReleaseFunds(admin, 20, contributor); err != nil {
		t.Fatalf("release: %v", err)
	}

	ids, err := env.engine.EscrowIDsByStatus(StatusLocked)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 30 {
		t.Fatalf("locked ids: got %v, want [10 30]", ids)
	}

	records, err := env.engine.EscrowsByStatus(StatusLocked)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != len(ids) {
		t.Fatalf("ids/records disagree: %d vs %d", len(ids), len(records))
	}
	for i, rec := range records {
		if rec.BountyID != ids[i] {
			t.Fatalf("record %d: id %d, want %d", i, rec.BountyID, ids[i])
		}
		if rec.Status != StatusLocked {
			t.Fatalf("record %d: status %s", i, rec.Status)
		}
	}

	released, err := env.engine.EscrowsByStatus(StatusReleased)
	if err != nil {
		t.Fatalf("released: %v", err)
	}
	if len(released) != 1 || released[0].BountyID != 20 {
		t.Fatalf("released: got %v", released)
	}
}

func TestQueryByDepositor(t *testing.T) {
	env := newInitializedEnv(t)
	env.lock(t, depositor, 1, 500, env.now+100)
	env.lock(t, other, 2, 700, env.now+100)
	env.lock(t, depositor, 3, 300, env.now+100)

	if err := env.engine.ReleaseFunds(admin, 1, contributor); err != nil {
		t.Fatalf("release: %v", err)
	}

	records, err := env.engine.EscrowsByDepositor(depositor)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// All lifecycle states are included.
	if len(records) != 2 || records[0].BountyID != 1 || records[1].BountyID != 3 {
		t.Fatalf("records: got %v, want ids [1 3]", records)
	}
}

func TestQueryByAmountRange(t *testing.T) {
	env := newInitializedEnv(t)
	env.lock(t, depositor, 1, 100, env.now+100)
	env.lock(t, depositor, 2, 2500, env.now+100)
	env.lock(t, depositor, 3, 9000, env.now+100)

	records, err := env.engine.EscrowsByAmount(big.NewInt(200), big.NewInt(5000))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0].BountyID != 2 {
		t.Fatalf("bounded range: got %v, want id 2", records)
	}

	records, err = env.engine.EscrowsByAmount(big.NewInt(2500), nil)
	if err != nil {
		t.Fatalf("open max: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("open max: got %d records, want 2", len(records))
	}

	records, err = env.engine.EscrowsByAmount(nil, nil)
	if err != nil {
		t.Fatalf("open range: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("open range: got %d records, want 3", len(records))
	}
}

func TestQueryByDeadlineRange(t *testing.T) {
	env := newInitializedEnv(t)
	env.lock(t, depositor, 1, 500, 1000)
	env.lock(t, depositor, 2, 500, 5000)
	env.lock(t, depositor, 3, 500, 9000)

	records, err := env.engine.EscrowsByDeadline(2000, 8000)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0].BountyID != 2 {
		t.Fatalf("range: got %v, want id 2", records)
	}

	records, err = env.engine.EscrowsByDeadline(1000, 9000)
	if err != nil {
		t.Fatalf("inclusive bounds: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("inclusive bounds: got %d records, want 3", len(records))
	}
}

func TestRefundEligibilityProbe(t *testing.T) {
	env := newInitializedEnv(t)
	env.now = 500
	env.lock(t, depositor, 1, 500, 1000)

	// Unknown ids probe false without error.
	eligible, err := env.engine.RefundEligibility(99)
	if err != nil {
		t.Fatalf("unknown id: %v", err)
	}
	if eligible {
		t.Fatal("unknown id should not be eligible")
	}

	eligible, err = env.engine.RefundEligibility(1)
	if err != nil {
		t.Fatalf("before deadline: %v", err)
	}
	if eligible {
		t.Fatal("should not be eligible before the deadline")
	}

	env.now = 1000
	eligible, err = env.engine.RefundEligibility(1)
	if err != nil {
		t.Fatalf("at deadline: %v", err)
	}
	if !eligible {
		t.Fatal("should be eligible at the deadline")
	}

	if err := env.engine.Refund(other, 1); err != nil {
		t.Fatalf("refund: %v", err)
	}
	eligible, err = env.engine.RefundEligibility(1)
	if err != nil {
		t.Fatalf("after refund: %v", err)
	}
	if eligible {
		t.Fatal("finalized records are never eligible")
	}
}

func TestRefundHistoryOrder(t *testing.T) {
	env := newInitializedEnv(t)
	env.now = 100
	env.lock(t, depositor, 1, 500, 200)
	env.lock(t, other, 2, 700, 200)

	env.now = 300
	if err := env.engine.Refund(other, 2); err != nil {
		t.Fatalf("refund 2: %v", err)
	}
	env.now = 400
	if err := env.engine.Refund(depositor, 1); err != nil {
		t.Fatalf("refund 1: %v", err)
	}

	history, err := env.engine.RefundHistory()
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length: got %d, want 2", len(history))
	}
	first, second := history[0], history[1]
	if first.BountyID != 2 || first.RefundedAt != 300 || first.Amount.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("first entry: %+v", first)
	}
	if second.BountyID != 1 || second.RefundedAt != 400 || second.Depositor != depositor {
		t.Fatalf("second entry: %+v", second)
	}
}
