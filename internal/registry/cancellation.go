// Package registry provides in-memory implementations of the cancellation
// ledger, payment-token registry, and fee configuration store. They back
// single-process deployments and tests; the postgres store package provides
// the durable variants behind the same ports.
package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// CancellationLedger tracks per-asset listing sequences, consumed order
// digests, and the registrant allow-list. Sequences start at zero on first
// use and never decrease.
type CancellationLedger struct {
	mu          sync.RWMutex
	sequences   map[domain.AssetKey]uint64
	consumed    map[common.Hash]struct{}
	registrants map[common.Address]struct{}
}

// NewCancellationLedger creates an empty ledger with no registrants.
func NewCancellationLedger() *CancellationLedger {
	return &CancellationLedger{
		sequences:   make(map[domain.AssetKey]uint64),
		consumed:    make(map[common.Hash]struct{}),
		registrants: make(map[common.Address]struct{}),
	}
}

// CurrentSequence returns the listing sequence for key, zero if unseen.
func (l *CancellationLedger) CurrentSequence(_ context.Context, key domain.AssetKey) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequences[key], nil
}

// AdvanceSequence increments the sequence for key, invalidating every order
// whose listing nonce is now stale. Only allow-listed registrants may call
// it.
func (l *CancellationLedger) AdvanceSequence(_ context.Context, key domain.AssetKey, caller common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.registrants[caller]; !ok {
		return 0, domain.ErrUnauthorized
	}

	l.sequences[key]++
	return l.sequences[key], nil
}

// IsConsumed reports whether an order digest has already been spent.
func (l *CancellationLedger) IsConsumed(_ context.Context, digest common.Hash) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.consumed[digest]
	return ok, nil
}

// MarkConsumed records digest as spent. Idempotent.
func (l *CancellationLedger) MarkConsumed(_ context.Context, digest common.Hash, caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.registrants[caller]; !ok {
		return domain.ErrUnauthorized
	}

	l.consumed[digest] = struct{}{}
	return nil
}

// UnmarkConsumed removes a digest from the consumed set, compensating a
// settlement whose later steps failed. Idempotent.
func (l *CancellationLedger) UnmarkConsumed(_ context.Context, digest common.Hash, caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.registrants[caller]; !ok {
		return domain.ErrUnauthorized
	}

	delete(l.consumed, digest)
	return nil
}

// AddRegistrant allow-lists registrant to mutate the ledger. Callers gate
// this behind the access policy; the ledger itself only records membership.
func (l *CancellationLedger) AddRegistrant(_ context.Context, registrant common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registrants[registrant] = struct{}{}
	return nil
}

// Compile-time interface check.
var _ domain.CancellationLedger = (*CancellationLedger)(nil)
