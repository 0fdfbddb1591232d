package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/bullieverse/marketd/internal/asset"
	"github.com/bullieverse/marketd/internal/crypto"
	"github.com/bullieverse/marketd/internal/domain"
	"github.com/bullieverse/marketd/internal/registry"
	"github.com/bullieverse/marketd/internal/token"
)

var (
	testChainID   = big.NewInt(137)
	engineAddr    = common.HexToAddress("0x000000000000000000000000000000000000e001")
	assetAddr     = common.HexToAddress("0x000000000000000000000000000000000000a001")
	erc20Addr     = common.HexToAddress("0x00000000000000000000000000000000000c0001")
	buyerAddr     = common.HexToAddress("0x00000000000000000000000000000000000b0001")
	testTokenID   = big.NewInt(42)
	testPrice     = big.NewInt(100_000_000)
	fixedNow      = time.Unix(1_700_000_000, 0)
	orderDuration = int64(3600)
)

// fixture wires an engine to fresh in-memory collaborators with one seller
// holding ten units of the test asset and the engine allow-listed as a
// ledger registrant.
type fixture struct {
	engine   *Engine
	signer   *crypto.Signer
	seller   common.Address
	ledger   *registry.CancellationLedger
	payments *registry.PaymentTokenRegistry
	holdings *asset.Registry
	assets   *asset.Directory
	erc20    *token.Ledger
	tokens   *token.Directory
	native   *token.NativeLedger
	fees     *registry.FeeConfigStore
}

// customEngine builds a second engine over the fixture's collaborators
// with the ledger or native ledger swapped for a double. Nil keeps the
// fixture's own.
func (f *fixture) customEngine(ledger domain.CancellationLedger, native domain.NativeLedger) *Engine {
	if ledger == nil {
		ledger = f.ledger
	}
	if native == nil {
		native = f.native
	}
	return NewEngine(Config{
		ChainID:  testChainID,
		Address:  engineAddr,
		Ledger:   ledger,
		Payments: f.payments,
		Tokens:   f.tokens,
		Assets:   f.assets,
		Native:   native,
		Fees:     f.fees,
		Clock:    func() time.Time { return fixedNow },
	})
}

func newFixture(t *testing.T, fees domain.FeeSchedule) *fixture {
	t.Helper()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(common.Bytes2Hex(ethcrypto.FromECDSA(key)), testChainID, engineAddr)
	require.NoError(t, err)
	seller := signer.Address()

	ledger := registry.NewCancellationLedger()
	require.NoError(t, ledger.AddRegistrant(context.Background(), engineAddr))

	payments := registry.NewPaymentTokenRegistry()
	require.NoError(t, payments.AddApprovedToken(context.Background(), erc20Addr))

	holdings := asset.NewRegistry()
	holdings.Mint(seller, testTokenID, big.NewInt(10))
	holdings.SetApprovalForAll(seller, engineAddr, true)
	assets := asset.NewDirectory(engineAddr)
	assets.Register(assetAddr, holdings)

	erc20 := token.NewLedger()
	tokens := token.NewDirectory(engineAddr)
	tokens.Register(erc20Addr, erc20)

	native := token.NewNativeLedger()
	feeStore := registry.NewFeeConfigStore(fees)

	engine := NewEngine(Config{
		ChainID:  testChainID,
		Address:  engineAddr,
		Ledger:   ledger,
		Payments: payments,
		Tokens:   tokens,
		Assets:   assets,
		Native:   native,
		Fees:     feeStore,
		Clock:    func() time.Time { return fixedNow },
	})

	return &fixture{
		engine:   engine,
		signer:   signer,
		seller:   seller,
		ledger:   ledger,
		payments: payments,
		holdings: holdings,
		assets:   assets,
		erc20:    erc20,
		tokens:   tokens,
		native:   native,
		fees:     feeStore,
	}
}

// nativeOrder builds and signs an order payable in native currency, live
// from fixedNow for orderDuration seconds.
func (f *fixture) nativeOrder(t *testing.T) domain.Order {
	t.Helper()
	order := domain.Order{
		Seller:        f.seller,
		AssetContract: assetAddr,
		TokenID:       testTokenID,
		StartTime:     fixedNow.Unix(),
		Expiration:    fixedNow.Unix() + orderDuration,
		Price:         new(big.Int).Set(testPrice),
		Quantity:      big.NewInt(1),
		PaymentToken:  domain.NativeToken,
	}
	sig, err := f.signer.SignOrder(order)
	require.NoError(t, err)
	order.Signature = sig
	return order
}

func (f *fixture) erc20Order(t *testing.T) domain.Order {
	t.Helper()
	order := f.nativeOrder(t)
	order.PaymentToken = erc20Addr
	sig, err := f.signer.SignOrder(order)
	require.NoError(t, err)
	order.Signature = sig
	return order
}

func (f *fixture) nativeBalance(t *testing.T, who common.Address) *big.Int {
	t.Helper()
	b, err := f.native.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return b
}

func (f *fixture) erc20Balance(t *testing.T, who common.Address) *big.Int {
	t.Helper()
	b, err := f.erc20.BalanceOf(context.Background(), who)
	require.NoError(t, err)
	return b
}

func (f *fixture) assetBalance(t *testing.T, who common.Address) *big.Int {
	t.Helper()
	b, err := f.holdings.AsOperator(engineAddr).BalanceOf(context.Background(), who, testTokenID)
	require.NoError(t, err)
	return b
}

func TestFillOrder_NativeNoFees(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, testPrice)

	fill, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.NoError(t, err)

	require.Equal(t, int64(0), f.nativeBalance(t, buyerAddr).Int64())
	require.Zero(t, f.nativeBalance(t, f.seller).Cmp(testPrice))
	require.Equal(t, int64(9), f.assetBalance(t, f.seller).Int64())
	require.Equal(t, int64(1), f.assetBalance(t, buyerAddr).Int64())

	require.NotEmpty(t, fill.ID)
	require.Equal(t, f.seller, fill.Seller)
	require.Equal(t, buyerAddr, fill.Buyer)
	require.Equal(t, assetAddr, fill.AssetContract)
	require.Zero(t, fill.TokenID.Cmp(testTokenID))
	require.Zero(t, fill.Price.Cmp(testPrice))
	require.Zero(t, fill.SellerProceeds.Cmp(testPrice))
	require.Equal(t, int64(0), fill.PlatformCut.Int64())
	require.Equal(t, int64(0), fill.MakerCut.Int64())
	require.Equal(t, domain.NativeToken, fill.PaymentToken)
	require.Equal(t, mustDigest(t, order), fill.OrderDigest)
	require.True(t, fill.SettledAt.Equal(fixedNow.UTC()))
}

func TestFillOrder_ERC20WithFees(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{
		PlatformBps:    250,
		MakerBps:       250,
		PlatformWallet: platformWallet,
		MakerWallet:    makerWallet,
	})
	order := f.erc20Order(t)
	f.erc20.Mint(buyerAddr, testPrice)
	f.erc20.Approve(buyerAddr, engineAddr, testPrice)

	fill, err := f.engine.FillOrder(context.Background(), buyerAddr, order, nil)
	require.NoError(t, err)

	require.Equal(t, int64(0), f.erc20Balance(t, buyerAddr).Int64())
	require.Equal(t, int64(95_000_000), f.erc20Balance(t, f.seller).Int64())
	require.Equal(t, int64(2_500_000), f.erc20Balance(t, platformWallet).Int64())
	require.Equal(t, int64(2_500_000), f.erc20Balance(t, makerWallet).Int64())
	require.Equal(t, int64(1), f.assetBalance(t, buyerAddr).Int64())

	require.Equal(t, int64(95_000_000), fill.SellerProceeds.Int64())
	require.Equal(t, int64(2_500_000), fill.PlatformCut.Int64())
	require.Equal(t, int64(2_500_000), fill.MakerCut.Int64())
	require.Equal(t, erc20Addr, fill.PaymentToken)
}

func TestFillOrder_NativeExcessValueStaysWithBuyer(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)

	// Buyer sends double the price; only the price itself moves.
	excess := new(big.Int).Mul(testPrice, big.NewInt(2))
	f.native.Credit(buyerAddr, excess)

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, excess)
	require.NoError(t, err)

	require.Zero(t, f.nativeBalance(t, buyerAddr).Cmp(testPrice))
	require.Zero(t, f.nativeBalance(t, f.seller).Cmp(testPrice))
}

func TestFillOrder_SecondAttemptRejected(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, new(big.Int).Mul(testPrice, big.NewInt(2)))

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.NoError(t, err)

	_, err = f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.ErrorIs(t, err, domain.ErrOrderCancelled)

	// Only the first fill's effects are present.
	require.Zero(t, f.nativeBalance(t, buyerAddr).Cmp(testPrice))
	require.Equal(t, int64(1), f.assetBalance(t, buyerAddr).Int64())
}

func TestFillOrder_TimingWindow(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	f.native.Credit(buyerAddr, new(big.Int).Mul(testPrice, big.NewInt(10)))

	t.Run("before start", func(t *testing.T) {
		order := f.nativeOrder(t)
		order.StartTime = fixedNow.Unix() + 10
		order.Signature = mustSign(t, f.signer, order)
		_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
		require.ErrorIs(t, err, domain.ErrOrderNotStarted)
	})

	t.Run("exactly at start", func(t *testing.T) {
		order := f.nativeOrder(t) // StartTime == now
		_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
		require.NoError(t, err)
	})

	t.Run("exactly at expiration", func(t *testing.T) {
		order := f.nativeOrder(t)
		order.Expiration = fixedNow.Unix()
		order.Signature = mustSign(t, f.signer, order)
		_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
		require.ErrorIs(t, err, domain.ErrOrderExpired)
	})
}

func TestFillOrder_TamperedOrderRejected(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, testPrice)

	// Buyer lowers the price after the seller signed.
	order.Price = big.NewInt(1)

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
	require.Equal(t, int64(10), f.assetBalance(t, f.seller).Int64())
}

func TestFillOrder_NativeInsufficientValue(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, testPrice)

	short := new(big.Int).Sub(testPrice, big.NewInt(1))
	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, short)
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)
}

func TestFillOrder_UnapprovedTokenRejected(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.erc20Order(t)
	require.NoError(t, f.payments.RemoveApprovedToken(context.Background(), erc20Addr))

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, nil)
	require.ErrorIs(t, err, domain.ErrTokenNotApproved)
}

func TestFillOrder_ERC20ShortBalanceAndAllowance(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.erc20Order(t)

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	f.erc20.Mint(buyerAddr, testPrice)
	_, err = f.engine.FillOrder(context.Background(), buyerAddr, order, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	// Nothing moved across either failure.
	require.Zero(t, f.erc20Balance(t, buyerAddr).Cmp(testPrice))
	require.Equal(t, int64(0), f.erc20Balance(t, f.seller).Int64())
	require.Equal(t, int64(10), f.assetBalance(t, f.seller).Int64())
}

func TestFillOrder_AssetApprovalRevokedBeforeValueMoves(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, testPrice)

	// Seller revokes the engine's operator approval after signing.
	f.holdings.SetApprovalForAll(f.seller, engineAddr, false)

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.ErrorIs(t, err, domain.ErrTransferNotApproved)

	// The failure happened before any value moved, and the digest was
	// released again.
	require.Zero(t, f.nativeBalance(t, buyerAddr).Cmp(testPrice))
	require.Equal(t, int64(0), f.nativeBalance(t, f.seller).Int64())
	require.Equal(t, int64(10), f.assetBalance(t, f.seller).Int64())

	consumed, err := f.ledger.IsConsumed(context.Background(), mustDigest(t, order))
	require.NoError(t, err)
	require.False(t, consumed)

	// Re-approving lets the same listing settle.
	f.holdings.SetApprovalForAll(f.seller, engineAddr, true)
	_, err = f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.NoError(t, err)
}

func TestFillOrder_OtherListingsSurviveFill(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	f.native.Credit(buyerAddr, new(big.Int).Mul(testPrice, big.NewInt(2)))

	first := f.nativeOrder(t)
	second := f.nativeOrder(t)
	second.Quantity = big.NewInt(2)
	second.Signature = mustSign(t, f.signer, second)

	// Filling one listing consumes only its own digest; the seller's other
	// listing for the same asset remains valid.
	_, err := f.engine.FillOrder(context.Background(), buyerAddr, first, testPrice)
	require.NoError(t, err)

	_, err = f.engine.FillOrder(context.Background(), buyerAddr, second, testPrice)
	require.NoError(t, err)

	require.Equal(t, int64(3), f.assetBalance(t, buyerAddr).Int64())
}

func TestCancelListings_InvalidatesAllOutstanding(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	f.native.Credit(buyerAddr, new(big.Int).Mul(testPrice, big.NewInt(2)))

	first := f.nativeOrder(t)
	second := f.nativeOrder(t)
	second.Price = new(big.Int).Add(testPrice, big.NewInt(5))
	second.Signature = mustSign(t, f.signer, second)

	require.NoError(t, f.engine.CancelListings(context.Background(), f.seller, assetAddr, testTokenID))

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, first, testPrice)
	require.ErrorIs(t, err, domain.ErrOrderCancelled)
	_, err = f.engine.FillOrder(context.Background(), buyerAddr, second, second.Price)
	require.ErrorIs(t, err, domain.ErrOrderCancelled)

	// A listing created after the cancellation carries the new sequence and
	// fills normally.
	fresh := f.nativeOrder(t)
	fresh.CreatedAtBlock = 1
	fresh.Signature = mustSign(t, f.signer, fresh)
	_, err = f.engine.FillOrder(context.Background(), buyerAddr, fresh, testPrice)
	require.NoError(t, err)
}

func TestCancelListings_RequiresHolding(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})

	err := f.engine.CancelListings(context.Background(), buyerAddr, assetAddr, testTokenID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	// The sequence did not move, so the seller's listing still fills.
	f.native.Credit(buyerAddr, testPrice)
	_, err = f.engine.FillOrder(context.Background(), buyerAddr, f.nativeOrder(t), testPrice)
	require.NoError(t, err)
}

func TestFillOrder_MultiUnitQuantity(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	order.Quantity = big.NewInt(4)
	order.Signature = mustSign(t, f.signer, order)
	f.native.Credit(buyerAddr, testPrice)

	fill, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.NoError(t, err)

	require.Equal(t, int64(4), f.assetBalance(t, buyerAddr).Int64())
	require.Equal(t, int64(6), f.assetBalance(t, f.seller).Int64())
	require.Equal(t, int64(4), fill.Quantity.Int64())
}

func TestFillOrder_RejectsZeroQuantity(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	order.Quantity = big.NewInt(0)
	order.Signature = mustSign(t, f.signer, order)

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.Error(t, err)
}

// outageLedger wraps the in-memory ledger and fails consumed-marks the
// way a storage outage would.
type outageLedger struct {
	*registry.CancellationLedger
	markErr error
}

func (l *outageLedger) MarkConsumed(ctx context.Context, digest common.Hash, caller common.Address) error {
	if l.markErr != nil {
		return l.markErr
	}
	return l.CancellationLedger.MarkConsumed(ctx, digest, caller)
}

func TestFillOrder_LedgerOutageMovesNothing(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, testPrice)

	flaky := &outageLedger{CancellationLedger: f.ledger, markErr: errors.New("write timeout")}
	engine := f.customEngine(flaky, nil)

	_, err := engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.Error(t, err)

	// The consumed-mark is the first mutation of a fill, so a ledger
	// failure leaves every balance and holding untouched.
	require.Zero(t, f.nativeBalance(t, buyerAddr).Cmp(testPrice))
	require.Equal(t, int64(0), f.nativeBalance(t, f.seller).Int64())
	require.Equal(t, int64(10), f.assetBalance(t, f.seller).Int64())
	require.Equal(t, int64(0), f.assetBalance(t, buyerAddr).Int64())

	consumed, err := f.ledger.IsConsumed(context.Background(), mustDigest(t, order))
	require.NoError(t, err)
	require.False(t, consumed)

	// Once the ledger recovers, the same listing settles normally.
	flaky.markErr = nil
	_, err = engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.NoError(t, err)
}

func TestFillOrder_UnregisteredEngineMovesNothing(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, testPrice)

	// A ledger that never allow-listed the engine rejects the mark before
	// any value moves.
	engine := f.customEngine(registry.NewCancellationLedger(), nil)

	_, err := engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.Zero(t, f.nativeBalance(t, buyerAddr).Cmp(testPrice))
	require.Equal(t, int64(10), f.assetBalance(t, f.seller).Int64())
}

// haltedNative wraps the native ledger and refuses transfers to one
// address, standing in for a collaborator that breaks mid-sequence.
type haltedNative struct {
	*token.NativeLedger
	blocked common.Address
}

func (l *haltedNative) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if to == l.blocked {
		return errors.New("account halted")
	}
	return l.NativeLedger.Transfer(ctx, from, to, amount)
}

func TestFillOrder_PaymentLegFailureIsReversed(t *testing.T) {
	f := newFixture(t, domain.FeeSchedule{
		PlatformBps:    250,
		MakerBps:       250,
		PlatformWallet: platformWallet,
		MakerWallet:    makerWallet,
	})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, testPrice)

	// The reversal direction needs the buyer's operator approval to move
	// the unit back.
	f.holdings.SetApprovalForAll(buyerAddr, engineAddr, true)

	halted := &haltedNative{NativeLedger: f.native, blocked: platformWallet}
	engine := f.customEngine(nil, halted)

	_, err := engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.Error(t, err)

	// The seller leg and the asset transfer were rolled back and the
	// digest released; nobody keeps a partial settlement.
	require.Zero(t, f.nativeBalance(t, buyerAddr).Cmp(testPrice))
	require.Equal(t, int64(0), f.nativeBalance(t, f.seller).Int64())
	require.Equal(t, int64(0), f.nativeBalance(t, platformWallet).Int64())
	require.Equal(t, int64(10), f.assetBalance(t, f.seller).Int64())
	require.Equal(t, int64(0), f.assetBalance(t, buyerAddr).Int64())

	consumed, err := f.ledger.IsConsumed(context.Background(), mustDigest(t, order))
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestFillOrder_RejectsOverdrawnFeeSchedule(t *testing.T) {
	// A schedule past 100% could only come from a corrupt store; the fill
	// must fail before any cut larger than the price is paid out.
	f := newFixture(t, domain.FeeSchedule{
		PlatformBps:    9_000,
		MakerBps:       9_000,
		PlatformWallet: platformWallet,
		MakerWallet:    makerWallet,
	})
	order := f.nativeOrder(t)
	f.native.Credit(buyerAddr, testPrice)

	_, err := f.engine.FillOrder(context.Background(), buyerAddr, order, testPrice)
	require.Error(t, err)

	require.Zero(t, f.nativeBalance(t, buyerAddr).Cmp(testPrice))
	require.Equal(t, int64(0), f.nativeBalance(t, f.seller).Int64())
	require.Equal(t, int64(10), f.assetBalance(t, f.seller).Int64())

	consumed, err := f.ledger.IsConsumed(context.Background(), mustDigest(t, order))
	require.NoError(t, err)
	require.False(t, consumed)
}

func mustSign(t *testing.T, signer *crypto.Signer, order domain.Order) []byte {
	t.Helper()
	sig, err := signer.SignOrder(order)
	require.NoError(t, err)
	return sig
}

func mustDigest(t *testing.T, order domain.Order) common.Hash {
	t.Helper()
	digest, err := crypto.OrderDigest(order, testChainID, engineAddr)
	require.NoError(t, err)
	return digest
}
