package observability

import (
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEscrowReturnsSingleton(t *testing.T) {
	if Escrow() != Escrow() {
		t.Fatal("registry must be a singleton")
	}
}

func TestObserveTransition(t *testing.T) {
	m := Escrow()

	before := testutil.ToFloat64(m.transitions.WithLabelValues("lock", "success"))
	m.ObserveTransition("lock", nil)
	m.ObserveTransition("lock", errors.New("rejected"))
	after := testutil.ToFloat64(m.transitions.WithLabelValues("lock", "success"))
	if after != before+1 {
		t.Fatalf("success counter: got %f, want %f", after, before+1)
	}
	failed := testutil.ToFloat64(m.transitions.WithLabelValues("lock", "error"))
	if failed < 1 {
		t.Fatalf("error counter: got %f, want >= 1", failed)
	}

	refundsBefore := testutil.ToFloat64(m.refunds)
	m.ObserveTransition("refund", nil)
	m.ObserveTransition("refund", errors.New("too early"))
	refundsAfter := testutil.ToFloat64(m.refunds)
	if refundsAfter != refundsBefore+1 {
		t.Fatalf("refund counter: got %f, want %f", refundsAfter, refundsBefore+1)
	}
}

func TestSetLockedValue(t *testing.T) {
	m := Escrow()
	m.SetLockedValue(big.NewInt(1200), 2)
	if got := testutil.ToFloat64(m.lockedValue); got != 1200 {
		t.Fatalf("locked value: got %f, want 1200", got)
	}
	if got := testutil.ToFloat64(m.lockedCount); got != 2 {
		t.Fatalf("locked count: got %f, want 2", got)
	}

	// Nil-safe paths must not panic.
	var nilMetrics *EscrowMetrics
	nilMetrics.ObserveTransition("lock", nil)
	nilMetrics.SetLockedValue(nil, 0)
}
