package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/bullieverse/marketd/internal/crypto"
	"github.com/bullieverse/marketd/internal/domain"
)

// Engine settles signed orders. Fills execute one at a time under the
// engine mutex, so the cancellation check and the consumed-mark of a fill
// are inseparable: a concurrent attempt on the same order observes either
// none or all of a fill's effects, never an intermediate state.
type Engine struct {
	mu sync.Mutex

	chainID *big.Int
	address common.Address // verifying contract identity

	ledger   domain.CancellationLedger
	payments domain.PaymentTokenRegistry
	tokens   domain.TokenDirectory
	assets   domain.AssetDirectory
	native   domain.NativeLedger
	fees     domain.FeeConfigStore
	clock    domain.Clock
	logger   *slog.Logger
}

// Config carries the engine's construction parameters.
type Config struct {
	// ChainID and Address form the EIP-712 domain every order must be
	// signed against.
	ChainID *big.Int
	Address common.Address

	Ledger   domain.CancellationLedger
	Payments domain.PaymentTokenRegistry
	Tokens   domain.TokenDirectory
	Assets   domain.AssetDirectory
	Native   domain.NativeLedger
	Fees     domain.FeeConfigStore
	Clock    domain.Clock
	Logger   *slog.Logger
}

// NewEngine creates a settlement engine. The engine's address must be
// allow-listed as a ledger registrant before it can settle fills.
func NewEngine(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		chainID:  cfg.ChainID,
		address:  cfg.Address,
		ledger:   cfg.Ledger,
		payments: cfg.Payments,
		tokens:   cfg.Tokens,
		assets:   cfg.Assets,
		native:   cfg.Native,
		fees:     cfg.Fees,
		clock:    clock,
		logger:   logger,
	}
}

// Address returns the engine's verifying-contract address.
func (e *Engine) Address() common.Address {
	return e.address
}

// FillOrder settles a signed order for buyer. suppliedValue is the native
// currency sent along with the call; it is ignored on the ERC20 route, and
// on the native route only the exact price is drawn from the buyer, so any
// excess stays with them.
//
// Validation order: timing, cancellation status, signature, payment
// capability, fee snapshot. The consumed-mark is then written before
// anything moves: the ledger is the one remote collaborator in the
// sequence, so a storage outage or a missing registrant allow-listing
// aborts the fill with every balance untouched. Should the asset transfer
// or a payment leg fail after that, the engine reverses whatever already
// moved and releases the digest, leaving the order fillable and no
// partial settlement behind.
func (e *Engine) FillOrder(ctx context.Context, buyer common.Address, order domain.Order, suppliedValue *big.Int) (domain.FillEvent, error) {
	if order.TokenID == nil || order.Price == nil || order.Quantity == nil {
		return domain.FillEvent{}, fmt.Errorf("settlement: order is missing token id, price, or quantity")
	}
	if order.Quantity.Sign() < 1 {
		return domain.FillEvent{}, fmt.Errorf("settlement: quantity must be at least 1, got %s", order.Quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 1-2: timing. Start is inclusive, expiration exclusive.
	now := e.clock().Unix()
	if now < order.StartTime {
		return domain.FillEvent{}, domain.ErrOrderNotStarted
	}
	if now >= order.Expiration {
		return domain.FillEvent{}, domain.ErrOrderExpired
	}

	// Step 3: cancellation status. The listing nonce must match the
	// current sequence and the digest must not be spent.
	seq, err := e.ledger.CurrentSequence(ctx, order.Key())
	if err != nil {
		return domain.FillEvent{}, fmt.Errorf("settlement: read sequence: %w", err)
	}
	if seq != order.CreatedAtBlock {
		return domain.FillEvent{}, domain.ErrOrderCancelled
	}

	digest, err := crypto.OrderDigest(order, e.chainID, e.address)
	if err != nil {
		return domain.FillEvent{}, fmt.Errorf("settlement: order digest: %w", err)
	}
	consumed, err := e.ledger.IsConsumed(ctx, digest)
	if err != nil {
		return domain.FillEvent{}, fmt.Errorf("settlement: read consumed set: %w", err)
	}
	if consumed {
		return domain.FillEvent{}, domain.ErrOrderCancelled
	}

	// Step 4: authorization. Recomputed fresh on every call; the order
	// fields are caller-controlled input.
	if err := crypto.VerifyOrder(order, e.chainID, e.address); err != nil {
		return domain.FillEvent{}, err
	}

	// Step 5: payment route. Checks only, no value movement.
	route, err := e.selectRoute(ctx, buyer, order, suppliedValue)
	if err != nil {
		return domain.FillEvent{}, err
	}

	// Step 6: fee split against the current configuration snapshot. The
	// stores bound each percentage, but a schedule is still rejected here
	// so a corrupt one can never push a cut past the price.
	fees, err := e.fees.Snapshot(ctx)
	if err != nil {
		return domain.FillEvent{}, fmt.Errorf("settlement: fee snapshot: %w", err)
	}
	if uint64(fees.PlatformBps)+uint64(fees.MakerBps) > 10_000 {
		return domain.FillEvent{}, fmt.Errorf("settlement: fee schedule %d+%d bps exceeds 10000", fees.PlatformBps, fees.MakerBps)
	}
	split := SplitPrice(order.Price, fees)

	assetContract, err := e.assets.Asset(order.AssetContract)
	if err != nil {
		return domain.FillEvent{}, fmt.Errorf("settlement: resolve asset %s: %w", order.AssetContract.Hex(), err)
	}

	// Step 9 first: consume the order before anything moves. The ledger
	// is the one remote write in the sequence, so failing here costs
	// nothing, while failing after the transfers would leave value moved
	// against a refillable order. Explicit seller cancellation advances
	// the shared sequence instead, so other outstanding listings for a
	// multi-supply asset stay valid.
	if err := e.ledger.MarkConsumed(ctx, digest, e.address); err != nil {
		return domain.FillEvent{}, fmt.Errorf("settlement: mark consumed: %w", err)
	}

	// Step 7: asset transfer, before any value moves. An approval revoked
	// since signing surfaces here, with only the digest to release.
	if err := assetContract.TransferFrom(ctx, order.Seller, buyer, order.TokenID, order.Quantity); err != nil {
		e.releaseConsumed(ctx, digest)
		return domain.FillEvent{}, err
	}

	// Step 8: payment legs over the selected route. The route checks ran
	// under the engine mutex moments ago, so a leg can only fail when a
	// collaborator breaks its own accounting; reverse whatever moved and
	// release the digest before surfacing it.
	legs := []payoutLeg{
		{"seller", order.Seller, split.SellerProceeds},
		{"platform", fees.PlatformWallet, split.PlatformCut},
		{"maker", fees.MakerWallet, split.MakerCut},
	}
	for i, leg := range legs {
		if err := route.pay(ctx, e.native, buyer, leg.to, leg.amount); err != nil {
			e.unwindLegs(ctx, route, buyer, legs[:i])
			e.returnAsset(ctx, assetContract, buyer, order)
			e.releaseConsumed(ctx, digest)
			return domain.FillEvent{}, fmt.Errorf("settlement: pay %s: %w", leg.name, err)
		}
	}

	// Step 10: emit the fill.
	fill := domain.FillEvent{
		ID:             uuid.New().String(),
		OrderDigest:    digest,
		Seller:         order.Seller,
		Buyer:          buyer,
		AssetContract:  order.AssetContract,
		TokenID:        order.TokenID,
		Quantity:       order.Quantity,
		Price:          order.Price,
		PaymentToken:   order.PaymentToken,
		CreatedAtBlock: order.CreatedAtBlock,
		StartTime:      order.StartTime,
		Expiration:     order.Expiration,
		SellerProceeds: split.SellerProceeds,
		PlatformCut:    split.PlatformCut,
		MakerCut:       split.MakerCut,
		SettledAt:      e.clock().UTC(),
	}

	e.logger.InfoContext(ctx, "settlement: order filled",
		slog.String("fill_id", fill.ID),
		slog.String("seller", order.Seller.Hex()),
		slog.String("buyer", buyer.Hex()),
		slog.String("asset", order.AssetContract.Hex()),
		slog.String("token_id", order.TokenID.String()),
		slog.String("price", order.Price.String()),
	)

	return fill, nil
}

// payoutLeg is one recipient of a fill's price.
type payoutLeg struct {
	name   string
	to     common.Address
	amount *big.Int
}

// releaseConsumed removes the digest a failed fill marked. A failure here
// leaves an unfilled order consumed, which fails closed (the order cannot
// double-fill), so it is logged rather than returned.
func (e *Engine) releaseConsumed(ctx context.Context, digest common.Hash) {
	if err := e.ledger.UnmarkConsumed(ctx, digest, e.address); err != nil {
		e.logger.ErrorContext(ctx, "settlement: release consumed digest",
			slog.String("digest", digest.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// unwindLegs sends completed payout legs back to the buyer after a failed
// fill, newest first. A leg that cannot be pulled back is logged for
// operator reconciliation.
func (e *Engine) unwindLegs(ctx context.Context, route paymentRoute, buyer common.Address, done []payoutLeg) {
	for i := len(done) - 1; i >= 0; i-- {
		leg := done[i]
		if err := route.pay(ctx, e.native, leg.to, buyer, leg.amount); err != nil {
			e.logger.ErrorContext(ctx, "settlement: unwind payout leg",
				slog.String("leg", leg.name),
				slog.String("amount", leg.amount.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// returnAsset hands the transferred units back to the seller after a
// failed fill. The engine needs the buyer's operator approval for this
// direction; without it the failure is logged for reconciliation.
func (e *Engine) returnAsset(ctx context.Context, assetContract domain.AssetTransferrer, buyer common.Address, order domain.Order) {
	if err := assetContract.TransferFrom(ctx, buyer, order.Seller, order.TokenID, order.Quantity); err != nil {
		e.logger.ErrorContext(ctx, "settlement: return asset to seller",
			slog.String("asset", order.AssetContract.Hex()),
			slog.String("token_id", order.TokenID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// CancelListings invalidates every outstanding signed order for an asset
// by advancing its cancellation sequence. Only a holder of the asset may
// cancel its listings.
func (e *Engine) CancelListings(ctx context.Context, caller, assetContract common.Address, tokenID *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	assetRef, err := e.assets.Asset(assetContract)
	if err != nil {
		return fmt.Errorf("settlement: resolve asset %s: %w", assetContract.Hex(), err)
	}
	held, err := assetRef.BalanceOf(ctx, caller, tokenID)
	if err != nil {
		return fmt.Errorf("settlement: asset balance of %s: %w", caller.Hex(), err)
	}
	if held.Sign() == 0 {
		return domain.ErrUnauthorized
	}

	key := domain.AssetKey{Contract: assetContract, TokenID: tokenID.String()}
	seq, err := e.ledger.AdvanceSequence(ctx, key, e.address)
	if err != nil {
		return fmt.Errorf("settlement: advance sequence: %w", err)
	}

	e.logger.InfoContext(ctx, "settlement: listings cancelled",
		slog.String("caller", caller.Hex()),
		slog.String("asset", assetContract.Hex()),
		slog.String("token_id", tokenID.String()),
		slog.Uint64("sequence", seq),
	)
	return nil
}
