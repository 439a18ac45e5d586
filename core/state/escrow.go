package state

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"

	"bountyvault/native/escrow"
)

// Escrow state layout: one record entry per bounty id, a stats singleton, a
// config singleton, a creation counter, per-index id lists and an
// append-only refund log. The record set is authoritative; every index is a
// maintenance-on-write cache rebuildable via ReindexEscrows.

const (
	escrowAmountBucketWidth   = 1_000
	escrowDeadlineBucketWidth = 3_600
)

var (
	escrowRecordPrefix    = "escrow/record/"
	escrowCountKey        = []byte("escrow/count")
	escrowStatsKey        = []byte("escrow/stats")
	escrowConfigKey       = []byte("escrow/config")
	escrowAllKey          = []byte("escrow/index/all")
	escrowStatusPrefix    = "escrow/index/status/"
	escrowDepositorPrefix = "escrow/index/depositor/"
	escrowAmountPrefix    = "escrow/index/amount/"
	escrowDeadlinePrefix  = "escrow/index/deadline/"
	escrowAmountMetaKey   = []byte("escrow/index/amount-meta")
	escrowDeadlineMetaKey = []byte("escrow/index/deadline-meta")
	escrowRefundLogKey    = []byte("escrow/refunds")
)

type storedEscrow struct {
	BountyID  uint64
	Depositor [20]byte
	Amount    *big.Int
	Deadline  uint64
	CreatedAt uint64
	Status    uint8
}

type storedStats struct {
	TotalLocked   *big.Int
	TotalReleased *big.Int
	TotalRefunded *big.Int
	CountLocked   uint64
	CountReleased uint64
	CountRefunded uint64
}

type storedModuleConfig struct {
	Admin      [20]byte
	Token      string
	RefundMode uint8
}

type storedRefundEntry struct {
	BountyID   uint64
	Depositor  [20]byte
	Amount     *big.Int
	RefundedAt uint64
}

func escrowRecordKey(bountyID uint64) []byte {
	return []byte(escrowRecordPrefix + strconv.FormatUint(bountyID, 10))
}

func escrowStatusKey(status escrow.Status) []byte {
	return []byte(escrowStatusPrefix + strconv.FormatUint(uint64(status), 10))
}

func escrowDepositorKey(depositor [20]byte) []byte {
	return []byte(escrowDepositorPrefix + hex.EncodeToString(depositor[:]))
}

func escrowAmountBucketKey(bucket uint64) []byte {
	return []byte(escrowAmountPrefix + strconv.FormatUint(bucket, 10))
}

func escrowDeadlineBucketKey(bucket uint64) []byte {
	return []byte(escrowDeadlinePrefix + strconv.FormatUint(bucket, 10))
}

func amountBucket(amount *big.Int) uint64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	q := new(big.Int).Div(amount, big.NewInt(escrowAmountBucketWidth))
	if !q.IsUint64() {
		return math.MaxUint64
	}
	return q.Uint64()
}

func deadlineBucket(deadline int64) uint64 {
	if deadline < 0 {
		return 0
	}
	return uint64(deadline) / escrowDeadlineBucketWidth
}

func escrowToStored(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		BountyID:  e.BountyID,
		Depositor: e.Depositor,
		Amount:    new(big.Int).Set(e.Amount),
		Deadline:  uint64(e.Deadline),
		CreatedAt: uint64(e.CreatedAt),
		Status:    uint8(e.Status),
	}
}

func escrowFromStored(s *storedEscrow) (*escrow.Escrow, error) {
	status := escrow.Status(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("state: invalid stored escrow status %d", s.Status)
	}
	amount := big.NewInt(0)
	if s.Amount != nil {
		amount = new(big.Int).Set(s.Amount)
	}
	return &escrow.Escrow{
		BountyID:  s.BountyID,
		Depositor: s.Depositor,
		Amount:    amount,
		Deadline:  int64(s.Deadline),
		CreatedAt: int64(s.CreatedAt),
		Status:    status,
	}, nil
}

// EscrowPut persists the record and maintains every derived view in the same
// write: the creation counter and all indices on create, the status index on
// a transition. Depositor, amount, deadline and creation time are immutable
// once stored; status changes must follow the transition rules.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	prev, exists, err := m.EscrowGet(sanitized.BountyID)
	if err != nil {
		return err
	}
	if exists {
		if prev.Depositor != sanitized.Depositor ||
			prev.Amount.Cmp(sanitized.Amount) != 0 ||
			prev.Deadline != sanitized.Deadline ||
			prev.CreatedAt != sanitized.CreatedAt {
			return fmt.Errorf("state: escrow %d: immutable field changed", sanitized.BountyID)
		}
		if prev.Status != sanitized.Status && !prev.Status.CanTransition(sanitized.Status) {
			return fmt.Errorf("state: escrow %d: illegal transition %s -> %s",
				sanitized.BountyID, prev.Status, sanitized.Status)
		}
	}
	if err := m.KVPut(escrowRecordKey(sanitized.BountyID), escrowToStored(sanitized)); err != nil {
		return err
	}
	if !exists {
		return m.indexEscrowCreate(sanitized)
	}
	if prev.Status != sanitized.Status {
		if err := m.escrowIndexRemove(escrowStatusKey(prev.Status), sanitized.BountyID); err != nil {
			return err
		}
		if err := m.escrowIndexAppend(escrowStatusKey(sanitized.Status), sanitized.BountyID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) indexEscrowCreate(e *escrow.Escrow) error {
	if err := m.escrowIndexAppend(escrowAllKey, e.BountyID); err != nil {
		return err
	}
	if err := m.escrowIndexAppend(escrowStatusKey(e.Status), e.BountyID); err != nil {
		return err
	}
	if err := m.escrowIndexAppend(escrowDepositorKey(e.Depositor), e.BountyID); err != nil {
		return err
	}
	ab := amountBucket(e.Amount)
	if err := m.escrowIndexAppend(escrowAmountBucketKey(ab), e.BountyID); err != nil {
		return err
	}
	if err := m.bucketSetAdd(escrowAmountMetaKey, ab); err != nil {
		return err
	}
	db := deadlineBucket(e.Deadline)
	if err := m.escrowIndexAppend(escrowDeadlineBucketKey(db), e.BountyID); err != nil {
		return err
	}
	if err := m.bucketSetAdd(escrowDeadlineMetaKey, db); err != nil {
		return err
	}
	count, err := m.EscrowCount()
	if err != nil {
		return err
	}
	return m.KVPut(escrowCountKey, count+1)
}

// EscrowGet loads the record for the bounty id. The returned record is a
// private copy; mutating it does not affect stored state.
func (m *Manager) EscrowGet(bountyID uint64) (*escrow.Escrow, bool, error) {
	var stored storedEscrow
	ok, err := m.KVGet(escrowRecordKey(bountyID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	e, err := escrowFromStored(&stored)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// EscrowCount reports the number of records ever created.
func (m *Manager) EscrowCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(escrowCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// EscrowStats loads the aggregate counters, zeroed when absent.
func (m *Manager) EscrowStats() (*escrow.AggregateStats, error) {
	var stored storedStats
	ok, err := m.KVGet(escrowStatsKey, &stored)
	if err != nil {
		return nil, err
	}
	stats := escrow.NewAggregateStats()
	if !ok {
		return stats, nil
	}
	if stored.TotalLocked != nil {
		stats.TotalLocked.Set(stored.TotalLocked)
	}
	if stored.TotalReleased != nil {
		stats.TotalReleased.Set(stored.TotalReleased)
	}
	if stored.TotalRefunded != nil {
		stats.TotalRefunded.Set(stored.TotalRefunded)
	}
	stats.CountLocked = stored.CountLocked
	stats.CountReleased = stored.CountReleased
	stats.CountRefunded = stored.CountRefunded
	return stats, nil
}

// EscrowSetStats persists the aggregate counters.
func (m *Manager) EscrowSetStats(stats *escrow.AggregateStats) error {
	if stats == nil {
		return fmt.Errorf("state: nil stats")
	}
	clone := stats.Clone()
	return m.KVPut(escrowStatsKey, &storedStats{
		TotalLocked:   clone.TotalLocked,
		TotalReleased: clone.TotalReleased,
		TotalRefunded: clone.TotalRefunded,
		CountLocked:   clone.CountLocked,
		CountReleased: clone.CountReleased,
		CountRefunded: clone.CountRefunded,
	})
}

// EscrowModuleConfig loads the one-time module configuration.
func (m *Manager) EscrowModuleConfig() (*escrow.ModuleConfig, bool, error) {
	var stored storedModuleConfig
	ok, err := m.KVGet(escrowConfigKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	mode := escrow.RefundMode(stored.RefundMode)
	if !mode.Valid() {
		return nil, false, fmt.Errorf("state: invalid stored refund mode %d", stored.RefundMode)
	}
	return &escrow.ModuleConfig{Admin: stored.Admin, Token: stored.Token, RefundMode: mode}, true, nil
}

// EscrowSetModuleConfig persists the module configuration.
func (m *Manager) EscrowSetModuleConfig(cfg *escrow.ModuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil module config")
	}
	return m.KVPut(escrowConfigKey, &storedModuleConfig{
		Admin:      cfg.Admin,
		Token:      cfg.Token,
		RefundMode: uint8(cfg.RefundMode),
	})
}

// EscrowIDsByStatus returns the ids currently in the status bucket, in
// insertion order.
func (m *Manager) EscrowIDsByStatus(status escrow.Status) ([]uint64, error) {
	return m.escrowIndexIDs(escrowStatusKey(status))
}

// EscrowIDsByDepositor returns the ids created by the depositor, in creation
// order.
func (m *Manager) EscrowIDsByDepositor(depositor [20]byte) ([]uint64, error) {
	return m.escrowIndexIDs(escrowDepositorKey(depositor))
}

// EscrowIDsByAmountRange returns the ids of records whose amount lies in
// [min, max] inclusive. Only populated buckets overlapping the requested
// span are visited, so query cost tracks the record count, not the amount
// magnitude. Nil bounds are open.
func (m *Manager) EscrowIDsByAmountRange(min, max *big.Int) ([]uint64, error) {
	populated, err := m.bucketSetGet(escrowAmountMetaKey)
	if err != nil || len(populated) == 0 {
		return []uint64{}, err
	}
	lo := uint64(0)
	if min != nil && min.Sign() > 0 {
		lo = amountBucket(min)
	}
	hi := uint64(math.MaxUint64)
	if max != nil {
		hi = amountBucket(max)
	}
	return m.collectBucketIDs(escrowAmountBucketKey, bucketsWithin(populated, lo, hi), func(e *escrow.Escrow) bool {
		if min != nil && e.Amount.Cmp(min) < 0 {
			return false
		}
		if max != nil && e.Amount.Cmp(max) > 0 {
			return false
		}
		return true
	})
}

// EscrowIDsByDeadlineRange returns the ids of records whose deadline lies in
// [min, max] inclusive.
func (m *Manager) EscrowIDsByDeadlineRange(min, max int64) ([]uint64, error) {
	populated, err := m.bucketSetGet(escrowDeadlineMetaKey)
	if err != nil || len(populated) == 0 {
		return []uint64{}, err
	}
	return m.collectBucketIDs(escrowDeadlineBucketKey, bucketsWithin(populated, deadlineBucket(min), deadlineBucket(max)), func(e *escrow.Escrow) bool {
		return e.Deadline >= min && e.Deadline <= max
	})
}

// bucketsWithin returns the sub-slice of the sorted bucket set lying in
// [lo, hi].
func bucketsWithin(buckets []uint64, lo, hi uint64) []uint64 {
	start := sort.Search(len(buckets), func(i int) bool { return buckets[i] >= lo })
	end := sort.Search(len(buckets), func(i int) bool { return buckets[i] > hi })
	if start >= end {
		return nil
	}
	return buckets[start:end]
}

func (m *Manager) collectBucketIDs(bucketKey func(uint64) []byte, buckets []uint64, match func(*escrow.Escrow) bool) ([]uint64, error) {
	out := []uint64{}
	for _, bucket := range buckets {
		ids, err := m.escrowIndexIDs(bucketKey(bucket))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			e, ok, err := m.EscrowGet(id)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("state: index references missing escrow %d", id)
			}
			if match(e) {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// EscrowRefundAppend appends one entry to the refund log.
func (m *Manager) EscrowRefundAppend(entry *escrow.RefundEntry) error {
	if entry == nil {
		return fmt.Errorf("state: nil refund entry")
	}
	if entry.Amount == nil || entry.Amount.Sign() <= 0 {
		return fmt.Errorf("state: refund amount must be positive")
	}
	if entry.RefundedAt < 0 {
		return fmt.Errorf("state: negative refund timestamp")
	}
	var log []storedRefundEntry
	if _, err := m.KVGet(escrowRefundLogKey, &log); err != nil {
		return err
	}
	log = append(log, storedRefundEntry{
		BountyID:   entry.BountyID,
		Depositor:  entry.Depositor,
		Amount:     new(big.Int).Set(entry.Amount),
		RefundedAt: uint64(entry.RefundedAt),
	})
	return m.KVPut(escrowRefundLogKey, log)
}

// EscrowRefundHistory returns the refund log in append order.
func (m *Manager) EscrowRefundHistory() ([]*escrow.RefundEntry, error) {
	var log []storedRefundEntry
	if _, err := m.KVGet(escrowRefundLogKey, &log); err != nil {
		return nil, err
	}
	out := make([]*escrow.RefundEntry, 0, len(log))
	for i := range log {
		amount := big.NewInt(0)
		if log[i].Amount != nil {
			amount = new(big.Int).Set(log[i].Amount)
		}
		out = append(out, &escrow.RefundEntry{
			BountyID:   log[i].BountyID,
			Depositor:  log[i].Depositor,
			Amount:     amount,
			RefundedAt: int64(log[i].RefundedAt),
		})
	}
	return out, nil
}

// ReindexEscrows rebuilds every derived view (indices, bucket metas,
// aggregate counters, creation counter) from the authoritative record list.
// Per-bucket ordering is normalized to creation order.
func (m *Manager) ReindexEscrows() error {
	ids, err := m.escrowIndexIDs(escrowAllKey)
	if err != nil {
		return err
	}
	m.Begin()
	statusIDs := make(map[escrow.Status][]uint64)
	depositorIDs := make(map[[20]byte][]uint64)
	amountIDs := make(map[uint64][]uint64)
	deadlineIDs := make(map[uint64][]uint64)
	depositors := make([][20]byte, 0)
	stats := escrow.NewAggregateStats()
	for _, id := range ids {
		e, ok, err := m.EscrowGet(id)
		if err != nil {
			m.Rollback()
			return err
		}
		if !ok {
			m.Rollback()
			return fmt.Errorf("state: record list references missing escrow %d", id)
		}
		statusIDs[e.Status] = append(statusIDs[e.Status], id)
		if _, seen := depositorIDs[e.Depositor]; !seen {
			depositors = append(depositors, e.Depositor)
		}
		depositorIDs[e.Depositor] = append(depositorIDs[e.Depositor], id)
		ab := amountBucket(e.Amount)
		amountIDs[ab] = append(amountIDs[ab], id)
		db := deadlineBucket(e.Deadline)
		deadlineIDs[db] = append(deadlineIDs[db], id)
		switch e.Status {
		case escrow.StatusLocked:
			stats.CountLocked++
			stats.TotalLocked.Add(stats.TotalLocked, e.Amount)
		case escrow.StatusReleased:
			stats.CountReleased++
			stats.TotalReleased.Add(stats.TotalReleased, e.Amount)
		case escrow.StatusRefunded:
			stats.CountRefunded++
			stats.TotalRefunded.Add(stats.TotalRefunded, e.Amount)
		}
	}
	for _, status := range []escrow.Status{escrow.StatusLocked, escrow.StatusReleased, escrow.StatusRefunded} {
		if err := m.KVPut(escrowStatusKey(status), idsOrEmpty(statusIDs[status])); err != nil {
			m.Rollback()
			return err
		}
	}
	for _, depositor := range depositors {
		if err := m.KVPut(escrowDepositorKey(depositor), depositorIDs[depositor]); err != nil {
			m.Rollback()
			return err
		}
	}
	for _, bucket := range sortedBuckets(amountIDs) {
		if err := m.KVPut(escrowAmountBucketKey(bucket), amountIDs[bucket]); err != nil {
			m.Rollback()
			return err
		}
	}
	for _, bucket := range sortedBuckets(deadlineIDs) {
		if err := m.KVPut(escrowDeadlineBucketKey(bucket), deadlineIDs[bucket]); err != nil {
			m.Rollback()
			return err
		}
	}
	if err := m.KVPut(escrowAmountMetaKey, sortedBuckets(amountIDs)); err != nil {
		m.Rollback()
		return err
	}
	if err := m.KVPut(escrowDeadlineMetaKey, sortedBuckets(deadlineIDs)); err != nil {
		m.Rollback()
		return err
	}
	if err := m.EscrowSetStats(stats); err != nil {
		m.Rollback()
		return err
	}
	if err := m.KVPut(escrowCountKey, uint64(len(ids))); err != nil {
		m.Rollback()
		return err
	}
	return m.Commit()
}

func idsOrEmpty(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}

func sortedBuckets(m map[uint64][]uint64) []uint64 {
	buckets := make([]uint64, 0, len(m))
	for b := range m {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })
	return buckets
}

// bucketSetGet loads the sorted set of populated buckets for a range index.
func (m *Manager) bucketSetGet(key []byte) ([]uint64, error) {
	var buckets []uint64
	if _, err := m.KVGet(key, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// bucketSetAdd inserts the bucket into the sorted populated-bucket set,
// keeping the set free of duplicates.
func (m *Manager) bucketSetAdd(key []byte, bucket uint64) error {
	buckets, err := m.bucketSetGet(key)
	if err != nil {
		return err
	}
	i := sort.Search(len(buckets), func(j int) bool { return buckets[j] >= bucket })
	if i < len(buckets) && buckets[i] == bucket {
		return nil
	}
	buckets = append(buckets, 0)
	copy(buckets[i+1:], buckets[i:])
	buckets[i] = bucket
	return m.KVPut(key, buckets)
}

func (m *Manager) escrowIndexIDs(key []byte) ([]uint64, error) {
	var ids []uint64
	if _, err := m.KVGet(key, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

func (m *Manager) escrowIndexAppend(key []byte, bountyID uint64) error {
	ids, err := m.escrowIndexIDs(key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == bountyID {
			return nil
		}
	}
	return m.KVPut(key, append(ids, bountyID))
}

func (m *Manager) escrowIndexRemove(key []byte, bountyID uint64) error {
	ids, err := m.escrowIndexIDs(key)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != bountyID {
			filtered = append(filtered, existing)
		}
	}
	return m.KVPut(key, filtered)
}
