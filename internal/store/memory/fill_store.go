// Package memory provides the in-memory fill store backing single-process
// deployments and tests. The postgres store is the durable variant behind
// the same port.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bullieverse/marketd/internal/domain"
)

// FillStore keeps settled fills in memory, newest first.
type FillStore struct {
	mu    sync.RWMutex
	fills []domain.FillEvent
}

// NewFillStore creates an empty store.
func NewFillStore() *FillStore {
	return &FillStore{}
}

// Insert appends a fill.
func (s *FillStore) Insert(_ context.Context, fill domain.FillEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, fill)
	return nil
}

// ListRecent returns fills newest first with pagination.
func (s *FillStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.FillEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := make([]domain.FillEvent, len(s.fills))
	copy(sorted, s.fills)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SettledAt.After(sorted[j].SettledAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(sorted) {
		return []domain.FillEvent{}, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end], nil
}

// ListBefore returns up to limit fills settled strictly before cutoff,
// oldest first. Used by the archiver to drain in batches.
func (s *FillStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.FillEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.FillEvent
	for _, f := range s.fills {
		if f.SettledAt.Before(cutoff) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SettledAt.Before(out[j].SettledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore removes fills settled strictly before cutoff, returning the
// number removed.
func (s *FillStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.fills[:0]
	var removed int64
	for _, f := range s.fills {
		if f.SettledAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	s.fills = kept
	return removed, nil
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)
