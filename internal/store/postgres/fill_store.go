package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bullieverse/marketd/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL. Numeric 256-bit
// quantities are stored as NUMERIC(78,0) and travel as decimal strings.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `id, order_digest, seller, buyer, asset_contract,
	token_id::text, quantity::text, price::text, payment_token,
	created_at_block, start_time, expiration,
	seller_proceeds::text, platform_cut::text, maker_cut::text, settled_at`

func scanFillRows(rows pgx.Rows) ([]domain.FillEvent, error) {
	var fills []domain.FillEvent
	for rows.Next() {
		var (
			f                                 domain.FillEvent
			digest, seller, buyer, asset, pay string
			tokenID, quantity, price          string
			proceeds, platformCut, makerCut   string
			createdAtBlock                    int64
		)
		if err := rows.Scan(
			&f.ID, &digest, &seller, &buyer, &asset,
			&tokenID, &quantity, &price, &pay,
			&createdAtBlock, &f.StartTime, &f.Expiration,
			&proceeds, &platformCut, &makerCut, &f.SettledAt,
		); err != nil {
			return nil, err
		}

		f.OrderDigest = common.HexToHash(digest)
		f.Seller = common.HexToAddress(seller)
		f.Buyer = common.HexToAddress(buyer)
		f.AssetContract = common.HexToAddress(asset)
		f.PaymentToken = common.HexToAddress(pay)
		f.CreatedAtBlock = uint64(createdAtBlock)

		var err error
		if f.TokenID, err = parseNumeric(tokenID); err != nil {
			return nil, err
		}
		if f.Quantity, err = parseNumeric(quantity); err != nil {
			return nil, err
		}
		if f.Price, err = parseNumeric(price); err != nil {
			return nil, err
		}
		if f.SellerProceeds, err = parseNumeric(proceeds); err != nil {
			return nil, err
		}
		if f.PlatformCut, err = parseNumeric(platformCut); err != nil {
			return nil, err
		}
		if f.MakerCut, err = parseNumeric(makerCut); err != nil {
			return nil, err
		}

		fills = append(fills, f)
	}
	return fills, rows.Err()
}

func parseNumeric(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: parse numeric %q", s)
	}
	return n, nil
}

// Insert persists a settled fill. Duplicate IDs are rejected by the
// primary key; a fill is written exactly once.
func (s *FillStore) Insert(ctx context.Context, fill domain.FillEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills (
			id, order_digest, seller, buyer, asset_contract,
			token_id, quantity, price, payment_token,
			created_at_block, start_time, expiration,
			seller_proceeds, platform_cut, maker_cut, settled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)`,
		fill.ID, fill.OrderDigest.Hex(), fill.Seller.Hex(), fill.Buyer.Hex(),
		fill.AssetContract.Hex(),
		fill.TokenID.String(), fill.Quantity.String(), fill.Price.String(),
		fill.PaymentToken.Hex(),
		int64(fill.CreatedAtBlock), fill.StartTime, fill.Expiration,
		fill.SellerProceeds.String(), fill.PlatformCut.String(),
		fill.MakerCut.String(), fill.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", fill.ID, err)
	}
	return nil
}

// ListRecent returns fills newest first with pagination.
func (s *FillStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.FillEvent, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills ORDER BY settled_at DESC`
	args := []any{}
	argIdx := 1

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)
	argIdx++

	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent fills: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent fills: %w", err)
	}
	return fills, nil
}

// ListBefore returns up to limit fills settled strictly before cutoff,
// oldest first. Used by the archiver.
func (s *FillStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.FillEvent, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE settled_at < $1 ORDER BY settled_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills before: %w", err)
	}
	return fills, nil
}

// DeleteBefore removes fills settled strictly before cutoff, returning the
// number removed.
func (s *FillStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fills WHERE settled_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)
