// Package token provides an in-process ERC20-shaped ledger and a native
// currency ledger. They serve as the payment collaborators for local
// deployments and tests; on-chain adapters are external to this module.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// Ledger tracks balances and owner->spender allowances for one fungible
// token contract.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewLedger creates an empty token ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits amount to owner. Test/bootstrap helper.
func (l *Ledger) Mint(owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = new(big.Int).Add(l.balanceLocked(owner), amount)
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
}

// BalanceOf returns owner's balance, zero if unseen.
func (l *Ledger) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balanceLocked(owner)), nil
}

// Allowance returns what spender may draw from owner.
func (l *Ledger) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.allowanceLocked(owner, spender)), nil
}

// transferFrom moves amount from `from` to `to`, drawing down spender's
// allowance. Fails with the domain sentinels when balance or allowance is
// short. Negative amounts are rejected; they would invert the direction
// of the draw.
func (l *Ledger) transferFrom(spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowanceLocked(from, spender)
	if allowance.Cmp(amount) < 0 {
		return domain.ErrInsufficientAllowance
	}
	balance := l.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}

	l.allowances[from][spender] = new(big.Int).Sub(allowance, amount)
	l.balances[from] = new(big.Int).Sub(balance, amount)
	l.balances[to] = new(big.Int).Add(l.balanceLocked(to), amount)
	return nil
}

func (l *Ledger) balanceLocked(owner common.Address) *big.Int {
	if b, ok := l.balances[owner]; ok {
		return b
	}
	return big.NewInt(0)
}

func (l *Ledger) allowanceLocked(owner, spender common.Address) *big.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return big.NewInt(0)
}

// AsSpender returns a domain.FungibleToken view of the ledger with the
// spender fixed, matching ERC20 semantics where transferFrom draws the
// caller's allowance.
func (l *Ledger) AsSpender(spender common.Address) domain.FungibleToken {
	return &spenderView{ledger: l, spender: spender}
}

type spenderView struct {
	ledger  *Ledger
	spender common.Address
}

func (v *spenderView) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return v.ledger.BalanceOf(ctx, owner)
}

func (v *spenderView) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return v.ledger.Allowance(ctx, owner, spender)
}

func (v *spenderView) TransferFrom(_ context.Context, from, to common.Address, amount *big.Int) error {
	return v.ledger.transferFrom(v.spender, from, to, amount)
}

// Compile-time interface check.
var _ domain.FungibleToken = (*spenderView)(nil)
