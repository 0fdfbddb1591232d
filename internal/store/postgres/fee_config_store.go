package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullieverse/marketd/internal/domain"
)

// maxBps is the basis-point denominator; combined fees may not exceed it.
const maxBps = 10_000

// FeeConfigStore is the durable domain.FeeConfigStore. The schedule lives
// in a single-row table; the per-value bound is checked before binding so
// the int32 parameter never wraps, and the combined bound is enforced in
// the UPDATE so concurrent admin writes cannot push the fee past 100%.
type FeeConfigStore struct {
	pool *pgxpool.Pool
}

// NewFeeConfigStore creates a FeeConfigStore backed by the given pool.
func NewFeeConfigStore(pool *pgxpool.Pool) *FeeConfigStore {
	return &FeeConfigStore{pool: pool}
}

// Snapshot returns the current fee schedule.
func (s *FeeConfigStore) Snapshot(ctx context.Context) (domain.FeeSchedule, error) {
	var (
		schedule                    domain.FeeSchedule
		platformBps, makerBps       int32
		platformWallet, makerWallet string
	)
	err := s.pool.QueryRow(ctx,
		"SELECT platform_bps, maker_bps, platform_wallet, maker_wallet FROM fee_config WHERE id = 1",
	).Scan(&platformBps, &makerBps, &platformWallet, &makerWallet)
	if err != nil {
		return domain.FeeSchedule{}, fmt.Errorf("postgres: fee snapshot: %w", err)
	}

	schedule.PlatformBps = uint32(platformBps)
	schedule.MakerBps = uint32(makerBps)
	schedule.PlatformWallet = common.HexToAddress(platformWallet)
	schedule.MakerWallet = common.HexToAddress(makerWallet)
	return schedule, nil
}

// SetPlatformBps updates the platform percentage.
func (s *FeeConfigStore) SetPlatformBps(ctx context.Context, bps uint32) error {
	if bps > maxBps {
		return fmt.Errorf("postgres: platform %d bps exceeds %d", bps, maxBps)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE fee_config SET platform_bps = $1, updated_at = NOW()
		 WHERE id = 1 AND $1 + maker_bps <= $2`,
		int32(bps), maxBps,
	)
	if err != nil {
		return fmt.Errorf("postgres: set platform bps: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: platform %d bps pushes combined fee past %d", bps, maxBps)
	}
	return nil
}

// SetMakerBps updates the maker (creator) percentage.
func (s *FeeConfigStore) SetMakerBps(ctx context.Context, bps uint32) error {
	if bps > maxBps {
		return fmt.Errorf("postgres: maker %d bps exceeds %d", bps, maxBps)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE fee_config SET maker_bps = $1, updated_at = NOW()
		 WHERE id = 1 AND $1 + platform_bps <= $2`,
		int32(bps), maxBps,
	)
	if err != nil {
		return fmt.Errorf("postgres: set maker bps: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: maker %d bps pushes combined fee past %d", bps, maxBps)
	}
	return nil
}

// SetPlatformWallet updates the platform payout wallet.
func (s *FeeConfigStore) SetPlatformWallet(ctx context.Context, wallet common.Address) error {
	if _, err := s.pool.Exec(ctx,
		"UPDATE fee_config SET platform_wallet = $1, updated_at = NOW() WHERE id = 1",
		wallet.Hex(),
	); err != nil {
		return fmt.Errorf("postgres: set platform wallet: %w", err)
	}
	return nil
}

// SetMakerWallet updates the maker payout wallet.
func (s *FeeConfigStore) SetMakerWallet(ctx context.Context, wallet common.Address) error {
	if _, err := s.pool.Exec(ctx,
		"UPDATE fee_config SET maker_wallet = $1, updated_at = NOW() WHERE id = 1",
		wallet.Hex(),
	); err != nil {
		return fmt.Errorf("postgres: set maker wallet: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.FeeConfigStore = (*FeeConfigStore)(nil)
