package token

import (
	"fmt"
	"math/big"

	"bountyvault/core/state"
)

// Ledger is a single-token account ledger over the state manager. It is the
// default token gateway for the escrow engine: transfers debit and credit
// the exact requested amount atomically within the enclosing state
// transaction, with no implicit fees.
type Ledger struct {
	state  *state.Manager
	symbol string
}

// NewLedger binds a ledger to the manager for the given token symbol. The
// token must already be registered.
func NewLedger(mgr *state.Manager, symbol string) (*Ledger, error) {
	if mgr == nil {
		return nil, fmt.Errorf("token: nil state manager")
	}
	meta, err := mgr.Token(symbol)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("token: %s not registered", symbol)
	}
	return &Ledger{state: mgr, symbol: meta.Symbol}, nil
}

// Symbol returns the token symbol the ledger operates on.
func (l *Ledger) Symbol() string { return l.symbol }

// Mint credits newly issued value to the account.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token: mint amount must be positive")
	}
	balance, err := l.state.Balance(to, l.symbol)
	if err != nil {
		return err
	}
	return l.state.SetBalance(to, l.symbol, new(big.Int).Add(balance, amount))
}

// Transfer moves amount from one account to the other. It fails without
// touching either balance when the sender's funds are insufficient.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := l.state.Balance(from, l.symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("token: insufficient balance")
	}
	// A self-transfer is a funded no-op; writing both legs would double the
	// credit.
	if from == to {
		return nil
	}
	toBalance, err := l.state.Balance(to, l.symbol)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(from, l.symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(to, l.symbol, new(big.Int).Add(toBalance, amount))
}

// BalanceOf returns the account's current balance.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	return l.state.Balance(addr, l.symbol)
}
