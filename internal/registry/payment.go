package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// PaymentTokenRegistry is the in-memory approved set of ERC20 payment
// tokens.
type PaymentTokenRegistry struct {
	mu       sync.RWMutex
	approved map[common.Address]struct{}
}

// NewPaymentTokenRegistry creates an empty registry.
func NewPaymentTokenRegistry() *PaymentTokenRegistry {
	return &PaymentTokenRegistry{approved: make(map[common.Address]struct{})}
}

// IsApproved reports whether token may be used as a payment currency.
func (r *PaymentTokenRegistry) IsApproved(_ context.Context, token common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.approved[token]
	return ok, nil
}

// AddApprovedToken admits token to the approved set.
func (r *PaymentTokenRegistry) AddApprovedToken(_ context.Context, token common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approved[token] = struct{}{}
	return nil
}

// RemoveApprovedToken evicts token from the approved set.
func (r *PaymentTokenRegistry) RemoveApprovedToken(_ context.Context, token common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.approved, token)
	return nil
}

// Compile-time interface check.
var _ domain.PaymentTokenRegistry = (*PaymentTokenRegistry)(nil)
