package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/bullieverse/marketd/internal/domain"
)

var (
	payer   = common.HexToAddress("0x0000000000000000000000000000000000000201")
	payee   = common.HexToAddress("0x0000000000000000000000000000000000000202")
	spender = common.HexToAddress("0x000000000000000000000000000000000000e001")
)

func TestTransferFrom_DrawsDownAllowance(t *testing.T) {
	ctx := t.Context()
	ledger := NewLedger()
	ledger.Mint(payer, big.NewInt(100))
	ledger.Approve(payer, spender, big.NewInt(60))

	view := ledger.AsSpender(spender)
	require.NoError(t, view.TransferFrom(ctx, payer, payee, big.NewInt(40)))

	remaining, err := view.Allowance(ctx, payer, spender)
	require.NoError(t, err)
	require.Zero(t, remaining.Cmp(big.NewInt(20)))

	balance, err := view.BalanceOf(ctx, payee)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(40)))

	// The next draw exceeds what is left of the allowance.
	err = view.TransferFrom(ctx, payer, payee, big.NewInt(30))
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestTransferFrom_RejectsShortBalance(t *testing.T) {
	ctx := t.Context()
	ledger := NewLedger()
	ledger.Mint(payer, big.NewInt(10))
	ledger.Approve(payer, spender, big.NewInt(100))

	err := ledger.AsSpender(spender).TransferFrom(ctx, payer, payee, big.NewInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestNativeLedger_TransfersValue(t *testing.T) {
	ctx := t.Context()
	native := NewNativeLedger()
	native.Credit(payer, big.NewInt(50))

	require.NoError(t, native.Transfer(ctx, payer, payee, big.NewInt(30)))

	from, err := native.BalanceOf(ctx, payer)
	require.NoError(t, err)
	require.Zero(t, from.Cmp(big.NewInt(20)))

	to, err := native.BalanceOf(ctx, payee)
	require.NoError(t, err)
	require.Zero(t, to.Cmp(big.NewInt(30)))

	err = native.Transfer(ctx, payer, payee, big.NewInt(21))
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)
}

func TestTransfers_RejectNegativeAmounts(t *testing.T) {
	ctx := t.Context()

	// A negative amount would move value in the opposite direction; both
	// ledgers refuse it regardless of balances or allowances.
	native := NewNativeLedger()
	native.Credit(payer, big.NewInt(50))
	require.Error(t, native.Transfer(ctx, payer, payee, big.NewInt(-5)))

	balance, err := native.BalanceOf(ctx, payer)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(50)))

	ledger := NewLedger()
	ledger.Mint(payer, big.NewInt(50))
	ledger.Approve(payer, spender, big.NewInt(50))
	require.Error(t, ledger.AsSpender(spender).TransferFrom(ctx, payer, payee, big.NewInt(-5)))

	balance, err = ledger.BalanceOf(ctx, payer)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(50)))
}

func TestDirectory_ResolvesRegisteredTokens(t *testing.T) {
	dir := NewDirectory(spender)
	addr := common.HexToAddress("0x00000000000000000000000000000000000c0001")

	_, err := dir.Token(addr)
	require.ErrorIs(t, err, domain.ErrNotFound)

	dir.Register(addr, NewLedger())
	tok, err := dir.Token(addr)
	require.NoError(t, err)
	require.NotNil(t, tok)
}
