// Package asset provides an in-process asset holdings registry covering
// both unique and multi-supply token semantics behind the uniform transfer
// interface the settlement engine consumes.
package asset

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

type holdingKey struct {
	owner   common.Address
	tokenID string
}

// Registry tracks per-(owner, tokenId) unit balances and owner->operator
// approvals for one asset contract. A unique asset is simply a token id
// with total supply one.
type Registry struct {
	mu        sync.RWMutex
	holdings  map[holdingKey]*big.Int
	operators map[common.Address]map[common.Address]bool
}

// NewRegistry creates an empty holdings registry.
func NewRegistry() *Registry {
	return &Registry{
		holdings:  make(map[holdingKey]*big.Int),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

// Mint credits quantity units of tokenID to owner. Test/bootstrap helper.
func (r *Registry) Mint(owner common.Address, tokenID, quantity *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := holdingKey{owner: owner, tokenID: tokenID.String()}
	r.holdings[k] = new(big.Int).Add(r.balanceLocked(k), quantity)
}

// SetApprovalForAll grants or revokes operator's right to move any of
// owner's holdings.
func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.operators[owner] == nil {
		r.operators[owner] = make(map[common.Address]bool)
	}
	r.operators[owner][operator] = approved
}

// transferFrom moves quantity units of tokenID from `from` to `to` on
// behalf of operator. The holder may always move their own assets.
func (r *Registry) transferFrom(operator, from, to common.Address, tokenID, quantity *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if operator != from && !r.operators[from][operator] {
		return domain.ErrTransferNotApproved
	}

	fromKey := holdingKey{owner: from, tokenID: tokenID.String()}
	balance := r.balanceLocked(fromKey)
	if balance.Cmp(quantity) < 0 {
		return fmt.Errorf("asset: %s holds %s of token %s, need %s",
			from.Hex(), balance, tokenID, quantity)
	}

	toKey := holdingKey{owner: to, tokenID: tokenID.String()}
	r.holdings[fromKey] = new(big.Int).Sub(balance, quantity)
	r.holdings[toKey] = new(big.Int).Add(r.balanceLocked(toKey), quantity)
	return nil
}

func (r *Registry) balanceLocked(k holdingKey) *big.Int {
	if b, ok := r.holdings[k]; ok {
		return b
	}
	return big.NewInt(0)
}

// AsOperator returns a domain.AssetTransferrer view with the operator (the
// settlement engine) fixed.
func (r *Registry) AsOperator(operator common.Address) domain.AssetTransferrer {
	return &operatorView{registry: r, operator: operator}
}

type operatorView struct {
	registry *Registry
	operator common.Address
}

func (v *operatorView) BalanceOf(_ context.Context, owner common.Address, tokenID *big.Int) (*big.Int, error) {
	v.registry.mu.RLock()
	defer v.registry.mu.RUnlock()
	b := v.registry.balanceLocked(holdingKey{owner: owner, tokenID: tokenID.String()})
	return new(big.Int).Set(b), nil
}

func (v *operatorView) TransferFrom(_ context.Context, from, to common.Address, tokenID, quantity *big.Int) error {
	return v.registry.transferFrom(v.operator, from, to, tokenID, quantity)
}

// Compile-time interface check.
var _ domain.AssetTransferrer = (*operatorView)(nil)

// Directory maps asset contract addresses to their registries.
type Directory struct {
	mu       sync.RWMutex
	operator common.Address
	assets   map[common.Address]*Registry
}

// NewDirectory creates a directory whose resolved assets treat operator
// (the settlement engine) as the transfer agent.
func NewDirectory(operator common.Address) *Directory {
	return &Directory{
		operator: operator,
		assets:   make(map[common.Address]*Registry),
	}
}

// Register binds a registry to an asset contract address.
func (d *Directory) Register(addr common.Address, registry *Registry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assets[addr] = registry
}

// Asset resolves the collaborator for addr, or ErrNotFound.
func (d *Directory) Asset(addr common.Address) (domain.AssetTransferrer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	registry, ok := d.assets[addr]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return registry.AsOperator(d.operator), nil
}

// Compile-time interface check.
var _ domain.AssetDirectory = (*Directory)(nil)
