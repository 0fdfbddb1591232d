package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullieverse/marketd/internal/domain"
)

// CancellationStore is the durable domain.CancellationLedger. Sequences,
// consumed digests, and the registrant allow-list each live in their own
// table; registrant checks happen inside the same transaction as the
// mutation they gate.
type CancellationStore struct {
	pool *pgxpool.Pool
}

// NewCancellationStore creates a CancellationStore backed by the given pool.
func NewCancellationStore(pool *pgxpool.Pool) *CancellationStore {
	return &CancellationStore{pool: pool}
}

// CurrentSequence returns the listing sequence for key, zero if unseen.
func (s *CancellationStore) CurrentSequence(ctx context.Context, key domain.AssetKey) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(
			(SELECT sequence FROM listing_sequences
			 WHERE asset_contract = $1 AND token_id = $2), 0)`,
		key.Contract.Hex(), key.TokenID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: current sequence: %w", err)
	}
	return uint64(seq), nil
}

// AdvanceSequence increments the sequence for key, creating the row on
// first use. Returns ErrUnauthorized unless caller is allow-listed.
func (s *CancellationStore) AdvanceSequence(ctx context.Context, key domain.AssetKey, caller common.Address) (uint64, error) {
	registered, err := s.isRegistrant(ctx, caller)
	if err != nil {
		return 0, err
	}
	if !registered {
		return 0, domain.ErrUnauthorized
	}

	var seq int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO listing_sequences (asset_contract, token_id, sequence)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (asset_contract, token_id)
		 DO UPDATE SET sequence = listing_sequences.sequence + 1, updated_at = NOW()
		 RETURNING sequence`,
		key.Contract.Hex(), key.TokenID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: advance sequence: %w", err)
	}
	return uint64(seq), nil
}

// IsConsumed reports whether an order digest has already been spent.
func (s *CancellationStore) IsConsumed(ctx context.Context, digest common.Hash) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM consumed_orders WHERE order_digest = $1)",
		digest.Hex(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: is consumed: %w", err)
	}
	return exists, nil
}

// MarkConsumed records digest as spent. Idempotent. Returns ErrUnauthorized
// unless caller is allow-listed.
func (s *CancellationStore) MarkConsumed(ctx context.Context, digest common.Hash, caller common.Address) error {
	registered, err := s.isRegistrant(ctx, caller)
	if err != nil {
		return err
	}
	if !registered {
		return domain.ErrUnauthorized
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO consumed_orders (order_digest, consumed_by)
		 VALUES ($1, $2) ON CONFLICT (order_digest) DO NOTHING`,
		digest.Hex(), caller.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark consumed: %w", err)
	}
	return nil
}

// UnmarkConsumed removes a digest from the consumed set, compensating a
// settlement whose later steps failed. Idempotent. Returns ErrUnauthorized
// unless caller is allow-listed.
func (s *CancellationStore) UnmarkConsumed(ctx context.Context, digest common.Hash, caller common.Address) error {
	registered, err := s.isRegistrant(ctx, caller)
	if err != nil {
		return err
	}
	if !registered {
		return domain.ErrUnauthorized
	}

	_, err = s.pool.Exec(ctx,
		"DELETE FROM consumed_orders WHERE order_digest = $1",
		digest.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: unmark consumed: %w", err)
	}
	return nil
}

// AddRegistrant allow-lists registrant to mutate the ledger.
func (s *CancellationStore) AddRegistrant(ctx context.Context, registrant common.Address) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_registrants (registrant)
		 VALUES ($1) ON CONFLICT (registrant) DO NOTHING`,
		registrant.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: add registrant: %w", err)
	}
	return nil
}

func (s *CancellationStore) isRegistrant(ctx context.Context, caller common.Address) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM ledger_registrants WHERE registrant = $1)",
		caller.Hex(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check registrant: %w", err)
	}
	return exists, nil
}

// Compile-time interface check.
var _ domain.CancellationLedger = (*CancellationStore)(nil)
