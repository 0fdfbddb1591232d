package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// maxBps is the basis-point denominator; combined fees may not exceed it.
const maxBps = 10_000

// FeeConfigStore holds the fee schedule in memory. The engine reads a
// snapshot per fill so a concurrent admin update never splits one fill
// across two schedules.
type FeeConfigStore struct {
	mu       sync.RWMutex
	schedule domain.FeeSchedule
}

// NewFeeConfigStore creates a store seeded with the given schedule.
func NewFeeConfigStore(initial domain.FeeSchedule) *FeeConfigStore {
	return &FeeConfigStore{schedule: initial}
}

// Snapshot returns the current fee schedule by value.
func (s *FeeConfigStore) Snapshot(_ context.Context) (domain.FeeSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule, nil
}

// SetPlatformBps updates the platform percentage.
func (s *FeeConfigStore) SetPlatformBps(_ context.Context, bps uint32) error {
	if bps > maxBps {
		return fmt.Errorf("registry: platform %d bps exceeds %d", bps, maxBps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bps+s.schedule.MakerBps > maxBps {
		return fmt.Errorf("registry: platform %d bps + maker %d bps exceeds %d", bps, s.schedule.MakerBps, maxBps)
	}
	s.schedule.PlatformBps = bps
	return nil
}

// SetMakerBps updates the maker (creator) percentage.
func (s *FeeConfigStore) SetMakerBps(_ context.Context, bps uint32) error {
	if bps > maxBps {
		return fmt.Errorf("registry: maker %d bps exceeds %d", bps, maxBps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bps+s.schedule.PlatformBps > maxBps {
		return fmt.Errorf("registry: maker %d bps + platform %d bps exceeds %d", bps, s.schedule.PlatformBps, maxBps)
	}
	s.schedule.MakerBps = bps
	return nil
}

// SetPlatformWallet updates the platform payout wallet. The zero address
// disables the platform split.
func (s *FeeConfigStore) SetPlatformWallet(_ context.Context, wallet common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule.PlatformWallet = wallet
	return nil
}

// SetMakerWallet updates the maker payout wallet. The zero address disables
// the maker split.
func (s *FeeConfigStore) SetMakerWallet(_ context.Context, wallet common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule.MakerWallet = wallet
	return nil
}

// Compile-time interface check.
var _ domain.FeeConfigStore = (*FeeConfigStore)(nil)
