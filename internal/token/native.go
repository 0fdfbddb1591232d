package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// NativeLedger tracks native-currency account balances.
type NativeLedger struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

// NewNativeLedger creates an empty native ledger.
func NewNativeLedger() *NativeLedger {
	return &NativeLedger{balances: make(map[common.Address]*big.Int)}
}

// Credit adds amount to owner's balance. Test/bootstrap helper.
func (l *NativeLedger) Credit(owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = new(big.Int).Add(l.balanceLocked(owner), amount)
}

// BalanceOf returns owner's balance, zero if unseen.
func (l *NativeLedger) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balanceLocked(owner)), nil
}

// Transfer moves amount between accounts, failing with
// ErrInsufficientPayment when the payer's balance is short. Negative
// amounts are rejected; they would credit the payer from the payee.
func (l *NativeLedger) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return domain.ErrInsufficientPayment
	}

	l.balances[from] = new(big.Int).Sub(balance, amount)
	l.balances[to] = new(big.Int).Add(l.balanceLocked(to), amount)
	return nil
}

func (l *NativeLedger) balanceLocked(owner common.Address) *big.Int {
	if b, ok := l.balances[owner]; ok {
		return b
	}
	return big.NewInt(0)
}

// Compile-time interface check.
var _ domain.NativeLedger = (*NativeLedger)(nil)

// Directory maps token contract addresses to their ledgers.
type Directory struct {
	mu      sync.RWMutex
	spender common.Address
	tokens  map[common.Address]*Ledger
}

// NewDirectory creates a directory whose resolved tokens treat spender
// (the settlement engine) as the transferFrom caller.
func NewDirectory(spender common.Address) *Directory {
	return &Directory{
		spender: spender,
		tokens:  make(map[common.Address]*Ledger),
	}
}

// Register binds a ledger to a token contract address.
func (d *Directory) Register(addr common.Address, ledger *Ledger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[addr] = ledger
}

// Token resolves the collaborator for addr, or ErrNotFound.
func (d *Directory) Token(addr common.Address) (domain.FungibleToken, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ledger, ok := d.tokens[addr]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ledger.AsSpender(d.spender), nil
}

// Compile-time interface check.
var _ domain.TokenDirectory = (*Directory)(nil)
