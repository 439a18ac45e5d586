package escrow

import (
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bountyvault/core/events"
)

// EngineState is the persistence surface the engine operates on. Begin,
// Commit and Rollback delimit the per-call transaction: every mutation
// performed between Begin and Commit becomes visible atomically, or not at
// all. Implementations maintain the secondary indices and the creation
// counter inside EscrowPut so no caller can update the record without them.
type EngineState interface {
	Begin()
	Commit() error
	Rollback()

	EscrowPut(*Escrow) error
	EscrowGet(bountyID uint64) (*Escrow, bool, error)

	EscrowModuleConfig() (*ModuleConfig, bool, error)
	EscrowSetModuleConfig(*ModuleConfig) error

	EscrowStats() (*AggregateStats, error)
	EscrowSetStats(*AggregateStats) error
	EscrowCount() (uint64, error)

	EscrowIDsByStatus(Status) ([]uint64, error)
	EscrowIDsByDepositor([20]byte) ([]uint64, error)
	EscrowIDsByAmountRange(min, max *big.Int) ([]uint64, error)
	EscrowIDsByDeadlineRange(min, max int64) ([]uint64, error)

	EscrowRefundAppend(*RefundEntry) error
	EscrowRefundHistory() ([]*RefundEntry, error)
}

// TokenGateway moves fungible value between accounts. Transfers debit and
// credit the exact requested amount with no implicit fees, and either fully
// succeed or leave both balances untouched.
type TokenGateway interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Authorizer verifies that a caller legitimately represents the given
// account identifier. The production implementation is strict; tests may
// supply a permissive stub.
type Authorizer interface {
	RequireAccount(caller, account [20]byte) error
}

// StrictAuthorizer accepts a caller only for its own account.
type StrictAuthorizer struct{}

func (StrictAuthorizer) RequireAccount(caller, account [20]byte) error {
	if caller != account {
		return ErrUnauthorized
	}
	return nil
}

// MetricsRecorder receives transition outcomes and the current locked value.
// All engine calls are nil-safe so metrics stay optional.
type MetricsRecorder interface {
	ObserveTransition(op string, err error)
	SetLockedValue(total *big.Int, count uint64)
}

const (
	opInitialize = "initialize"
	opLock       = "lock"
	opRelease    = "release"
	opRefund     = "refund"
)

// Engine orchestrates custody transitions: it validates authorization and
// preconditions, invokes the token gateway, and writes the record, the
// aggregate counters, the indices and the refund history as one atomic unit
// per call.
type Engine struct {
	state   EngineState
	gateway TokenGateway
	auth    Authorizer
	emitter events.Emitter
	metrics MetricsRecorder
	nowFn   func() int64
	vault   [20]byte
}

// NewEngine creates an engine with a no-op emitter and the strict
// authorizer. State and gateway must be configured before use.
func NewEngine() *Engine {
	return &Engine{
		auth:    StrictAuthorizer{},
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		vault:   deriveVaultAddress(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetGateway configures the token gateway invoked for custody transfers.
func (e *Engine) SetGateway(gw TokenGateway) { e.gateway = gw }

// SetAuthorizer overrides the capability check. Passing nil restores the
// strict implementation.
func (e *Engine) SetAuthorizer(auth Authorizer) {
	if auth == nil {
		e.auth = StrictAuthorizer{}
		return
	}
	e.auth = auth
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics configures the optional metrics recorder.
func (e *Engine) SetMetrics(m MetricsRecorder) { e.metrics = m }

// SetNowFunc overrides the ledger time source. Primarily intended for tests
// to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// VaultAddress returns the module custody account funds are held under
// between lock and release/refund.
func (e *Engine) VaultAddress() [20]byte { return e.vault }

func deriveVaultAddress() [20]byte {
	var addr [20]byte
	digest := ethcrypto.Keccak256([]byte("bountyvault/escrow/vault"))
	copy(addr[:], digest[12:])
	return addr
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) observe(op string, err error) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.ObserveTransition(op, err)
}

func (e *Engine) recordLockedValue() {
	if e == nil || e.metrics == nil || e.state == nil {
		return
	}
	stats, err := e.state.EscrowStats()
	if err != nil {
		// Metrics never fail the operation; the gauges lag until the next
		// successful transition.
		return
	}
	e.metrics.SetLockedValue(stats.TotalLocked, stats.CountLocked)
}

func (e *Engine) requireState() error {
	if e == nil || e.state == nil {
		return fmt.Errorf("escrow: state not configured")
	}
	return nil
}

func (e *Engine) requireConfig() (*ModuleConfig, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	cfg, ok, err := e.state.EscrowModuleConfig()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// withTxn runs fn inside a state transaction. The transaction is rolled back
// when fn fails, so no partial mutation is ever observable.
func (e *Engine) withTxn(fn func() error) error {
	if err := e.requireState(); err != nil {
		return err
	}
	e.state.Begin()
	if err := fn(); err != nil {
		e.state.Rollback()
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.Rollback()
		return err
	}
	return nil
}

// Initialize performs the one-time module setup, storing the administrator
// identity, the token reference and the default refund mode. It fails with
// ErrAlreadyInitialized on any later call.
func (e *Engine) Initialize(admin [20]byte, token string) error {
	err := e.withTxn(func() error {
		normalized, err := NormalizeToken(token)
		if err != nil {
			return err
		}
		if _, ok, err := e.state.EscrowModuleConfig(); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		return e.state.EscrowSetModuleConfig(&ModuleConfig{
			Admin:      admin,
			Token:      normalized,
			RefundMode: RefundAnyone,
		})
	})
	e.observe(opInitialize, err)
	return err
}

// SetRefundMode switches the refund authorization policy. Only the
// administrator may change it.
func (e *Engine) SetRefundMode(caller [20]byte, mode RefundMode) error {
	return e.withTxn(func() error {
		cfg, err := e.requireConfig()
		if err != nil {
			return err
		}
		if caller != cfg.Admin {
			return ErrUnauthorized
		}
		if !mode.Valid() {
			return fmt.Errorf("escrow: invalid refund mode: %d", mode)
		}
		next := cfg.Clone()
		next.RefundMode = mode
		return e.state.EscrowSetModuleConfig(next)
	})
}

// LockFunds moves amount from the depositor into module custody and creates
// the Locked record. The caller must prove control of the depositor account.
// On gateway failure nothing is committed: no record, no stats change, no
// index entry, no event.
func (e *Engine) LockFunds(caller, depositor [20]byte, bountyID uint64, amount *big.Int, deadline int64) error {
	var created *Escrow
	err := e.withTxn(func() error {
		if _, err := e.requireConfig(); err != nil {
			return err
		}
		if err := e.auth.RequireAccount(caller, depositor); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if _, ok, err := e.state.EscrowGet(bountyID); err != nil {
			return err
		} else if ok {
			return ErrDuplicateBountyID
		}
		if e.gateway == nil {
			return fmt.Errorf("escrow: gateway not configured")
		}
		if err := e.gateway.Transfer(depositor, e.vault, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
		}
		esc := &Escrow{
			BountyID:  bountyID,
			Depositor: depositor,
			Amount:    new(big.Int).Set(amount),
			Deadline:  deadline,
			CreatedAt: e.now(),
			Status:    StatusLocked,
		}
		if err := e.commit(nil, esc, nil); err != nil {
			return err
		}
		created = esc
		return nil
	})
	e.observe(opLock, err)
	if err != nil {
		return err
	}
	e.recordLockedValue()
	e.emit(NewLockedEvent(created))
	return nil
}

// ReleaseFunds settles the escrow in favour of the recipient. Only the
// administrator may release.
func (e *Engine) ReleaseFunds(caller [20]byte, bountyID uint64, recipient [20]byte) error {
	var released *Escrow
	err := e.withTxn(func() error {
		cfg, err := e.requireConfig()
		if err != nil {
			return err
		}
		if caller != cfg.Admin {
			return ErrUnauthorized
		}
		prev, ok, err := e.state.EscrowGet(bountyID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if !prev.Status.CanTransition(StatusReleased) {
			return ErrInvalidStatus
		}
		if e.gateway == nil {
			return fmt.Errorf("escrow: gateway not configured")
		}
		if err := e.gateway.Transfer(e.vault, recipient, prev.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
		}
		next := prev.Clone()
		next.Status = StatusReleased
		if err := e.commit(prev, next, nil); err != nil {
			return err
		}
		released = next
		return nil
	})
	e.observe(opRelease, err)
	if err != nil {
		return err
	}
	e.recordLockedValue()
	e.emit(NewReleasedEvent(released, recipient))
	return nil
}

// Refund returns the escrowed amount to the depositor once ledger time has
// reached the deadline. Eligibility is inclusive at the boundary: the refund
// succeeds when now >= deadline. Who may call it depends on the configured
// refund mode; the funds always return to the depositor.
func (e *Engine) Refund(caller [20]byte, bountyID uint64) error {
	var (
		refunded *Escrow
		entry    *RefundEntry
	)
	err := e.withTxn(func() error {
		cfg, err := e.requireConfig()
		if err != nil {
			return err
		}
		prev, ok, err := e.state.EscrowGet(bountyID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if !prev.Status.CanTransition(StatusRefunded) {
			return ErrInvalidStatus
		}
		if cfg.RefundMode == RefundDepositorOnly {
			if err := e.auth.RequireAccount(caller, prev.Depositor); err != nil {
				return err
			}
		}
		now := e.now()
		if now < prev.Deadline {
			return ErrDeadlineNotPassed
		}
		if e.gateway == nil {
			return fmt.Errorf("escrow: gateway not configured")
		}
		if err := e.gateway.Transfer(e.vault, prev.Depositor, prev.Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
		}
		next := prev.Clone()
		next.Status = StatusRefunded
		entry = &RefundEntry{
			BountyID:   next.BountyID,
			Depositor:  next.Depositor,
			Amount:     new(big.Int).Set(next.Amount),
			RefundedAt: now,
		}
		if err := e.commit(prev, next, entry); err != nil {
			return err
		}
		refunded = next
		return nil
	})
	e.observe(opRefund, err)
	if err != nil {
		return err
	}
	e.recordLockedValue()
	e.emit(NewRefundedEvent(refunded, entry.RefundedAt))
	return nil
}

// commit is the single routine every write operation funnels through. It
// writes the record, adjusts the aggregate counters for the transition, and
// appends the refund history entry when present. Index maintenance and the
// creation counter live inside EscrowPut, so a record can never be written
// without them.
func (e *Engine) commit(prev, next *Escrow, refund *RefundEntry) error {
	stats, err := e.state.EscrowStats()
	if err != nil {
		return err
	}
	stats = stats.Clone()
	if prev == nil {
		stats.CountLocked++
		stats.TotalLocked.Add(stats.TotalLocked, next.Amount)
	} else {
		if !prev.Status.CanTransition(next.Status) {
			return ErrInvalidStatus
		}
		stats.CountLocked--
		stats.TotalLocked.Sub(stats.TotalLocked, prev.Amount)
		switch next.Status {
		case StatusReleased:
			stats.CountReleased++
			stats.TotalReleased.Add(stats.TotalReleased, next.Amount)
		case StatusRefunded:
			stats.CountRefunded++
			stats.TotalRefunded.Add(stats.TotalRefunded, next.Amount)
		default:
			return ErrInvalidStatus
		}
	}
	if err := e.state.EscrowPut(next); err != nil {
		return err
	}
	if err := e.state.EscrowSetStats(stats); err != nil {
		return err
	}
	if refund != nil {
		if err := e.state.EscrowRefundAppend(refund); err != nil {
			return err
		}
	}
	return nil
}

// EscrowInfo returns an immutable snapshot of the record, or ErrNotFound.
func (e *Engine) EscrowInfo(bountyID uint64) (*Escrow, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	esc, ok, err := e.state.EscrowGet(bountyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc.Clone(), nil
}
