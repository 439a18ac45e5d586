package state

import (
	"errors"
	"math/big"
	"testing"

	"bountyvault/storage"
)

func testAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestKVRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	type payload struct {
		Label string
		Value uint64
	}
	in := payload{Label: "bounty", Value: 42}
	if err := mgr.KVPut([]byte("test/key"), &in); err != nil {
		t.Fatalf("put: %v", err)
	}

	var out payload
	ok, err := mgr.KVGet([]byte("test/key"), &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("key should exist")
	}
	if out != in {
		t.Fatalf("roundtrip mismatch: %+v != %+v", out, in)
	}

	ok, err = mgr.KVGet([]byte("test/missing"), &out)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("missing key should not exist")
	}

	if err := mgr.KVPut(nil, &in); err == nil {
		t.Fatal("empty key must be rejected")
	}
}

func TestTransactionOverlay(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("k1"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	mgr.Begin()
	if err := mgr.KVPut([]byte("k1"), uint64(2)); err != nil {
		t.Fatalf("staged put: %v", err)
	}
	if err := mgr.KVPut([]byte("k2"), uint64(3)); err != nil {
		t.Fatalf("staged put: %v", err)
	}

	// Reads inside the transaction observe the staged writes.
	var v uint64
	if _, err := mgr.KVGet([]byte("k1"), &v); err != nil {
		t.Fatalf("staged get: %v", err)
	}
	if v != 2 {
		t.Fatalf("staged read: got %d, want 2", v)
	}

	mgr.Rollback()
	if _, err := mgr.KVGet([]byte("k1"), &v); err != nil {
		t.Fatalf("get after rollback: %v", err)
	}
	if v != 1 {
		t.Fatalf("rollback did not discard staged write: got %d", v)
	}
	ok, err := mgr.KVGet([]byte("k2"), &v)
	if err != nil {
		t.Fatalf("get k2: %v", err)
	}
	if ok {
		t.Fatal("rolled-back key should not exist")
	}

	mgr.Begin()
	if err := mgr.KVPut([]byte("k2"), uint64(5)); err != nil {
		t.Fatalf("staged put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := mgr.KVGet([]byte("k2"), &v); err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	if v != 5 {
		t.Fatalf("committed read: got %d, want 5", v)
	}
}

type brokenBatchDB struct {
	*storage.MemDB
}

func (db *brokenBatchDB) Batch([]storage.KV) error {
	return errors.New("disk full")
}

// A failed commit must persist nothing: the flush is one atomic batch, not a
// sequence of puts that can stop halfway.
func TestCommitFailurePersistsNothing(t *testing.T) {
	mgr := NewManager(&brokenBatchDB{MemDB: storage.NewMemDB()})

	mgr.Begin()
	if err := mgr.KVPut([]byte("k1"), uint64(1)); err != nil {
		t.Fatalf("staged put: %v", err)
	}
	if err := mgr.KVPut([]byte("k2"), uint64(2)); err != nil {
		t.Fatalf("staged put: %v", err)
	}
	if err := mgr.Commit(); err == nil {
		t.Fatal("expected commit failure")
	}
	mgr.Rollback()

	var v uint64
	for _, key := range [][]byte{[]byte("k1"), []byte("k2")} {
		ok, err := mgr.KVGet(key, &v)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if ok {
			t.Fatalf("key %s persisted by failed commit", key)
		}
	}
}

func TestTokenRegistry(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	if err := mgr.RegisterToken("bvt", "Bounty Vault Token", 18); err != nil {
		t.Fatalf("register: %v", err)
	}
	meta, err := mgr.Token("BVT")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if meta == nil || meta.Symbol != "BVT" || meta.Decimals != 18 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	if err := mgr.RegisterToken("BVT", "Duplicate", 6); err == nil {
		t.Fatal("duplicate registration must fail")
	}

	missing, err := mgr.Token("OTHER")
	if err != nil {
		t.Fatalf("missing lookup: %v", err)
	}
	if missing != nil {
		t.Fatalf("unregistered token should be nil, got %+v", missing)
	}
}

func TestBalances(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	owner := testAddr(0x02)

	if err := mgr.SetBalance(owner, "BVT", big.NewInt(100)); err == nil {
		t.Fatal("balance for unregistered token must fail")
	}

	if err := mgr.RegisterToken("BVT", "Bounty Vault Token", 18); err != nil {
		t.Fatalf("register: %v", err)
	}

	balance, err := mgr.Balance(owner, "BVT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("fresh account balance: got %s, want 0", balance)
	}

	if err := mgr.SetBalance(owner, "BVT", big.NewInt(750)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	balance, err = mgr.Balance(owner, "BVT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("balance: got %s, want 750", balance)
	}

	if err := mgr.SetBalance(owner, "BVT", big.NewInt(-1)); err == nil {
		t.Fatal("negative balance must be rejected")
	}
}
