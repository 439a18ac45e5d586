package state

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// TokenMetadata describes a registered fungible token.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix   = "token/meta/"
	balancePrefix = "token/balance/"
)

func tokenMetadataKey(symbol string) []byte {
	return []byte(tokenPrefix + symbol)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	return []byte(balancePrefix + symbol + "/" + hex.EncodeToString(addr[:]))
}

func normalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	return trimmed, nil
}

// RegisterToken stores the metadata for a fungible token. Registering the
// same symbol twice fails.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.Token(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	return m.KVPut(tokenMetadataKey(normalized), &TokenMetadata{
		Symbol:   normalized,
		Name:     name,
		Decimals: decimals,
	})
}

// Token retrieves metadata for a registered token, nil when absent.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(normalized), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount *big.Int) error {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	if meta, err := m.Token(normalized); err != nil {
		return err
	} else if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	return m.KVPut(balanceKey(addr, normalized), amount)
}

// Balance retrieves a token balance, zero when absent.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr, normalized), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}
