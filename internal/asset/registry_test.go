package asset

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/bullieverse/marketd/internal/domain"
)

var (
	holder   = common.HexToAddress("0x0000000000000000000000000000000000000101")
	receiver = common.HexToAddress("0x0000000000000000000000000000000000000102")
	operator = common.HexToAddress("0x000000000000000000000000000000000000e001")
)

func TestTransferFrom_RequiresOperatorApproval(t *testing.T) {
	ctx := t.Context()
	reg := NewRegistry()
	reg.Mint(holder, big.NewInt(7), big.NewInt(3))

	view := reg.AsOperator(operator)
	err := view.TransferFrom(ctx, holder, receiver, big.NewInt(7), big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrTransferNotApproved)

	reg.SetApprovalForAll(holder, operator, true)
	require.NoError(t, view.TransferFrom(ctx, holder, receiver, big.NewInt(7), big.NewInt(1)))

	got, err := view.BalanceOf(ctx, receiver, big.NewInt(7))
	require.NoError(t, err)
	require.Zero(t, got.Cmp(big.NewInt(1)))
}

func TestTransferFrom_ApprovalCanBeRevoked(t *testing.T) {
	ctx := t.Context()
	reg := NewRegistry()
	reg.Mint(holder, big.NewInt(7), big.NewInt(3))
	reg.SetApprovalForAll(holder, operator, true)
	reg.SetApprovalForAll(holder, operator, false)

	view := reg.AsOperator(operator)
	err := view.TransferFrom(ctx, holder, receiver, big.NewInt(7), big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrTransferNotApproved)
}

func TestTransferFrom_HolderMovesOwnAssets(t *testing.T) {
	ctx := t.Context()
	reg := NewRegistry()
	reg.Mint(holder, big.NewInt(7), big.NewInt(2))

	// No approval needed when the operator is the holder.
	view := reg.AsOperator(holder)
	require.NoError(t, view.TransferFrom(ctx, holder, receiver, big.NewInt(7), big.NewInt(2)))

	got, err := view.BalanceOf(ctx, holder, big.NewInt(7))
	require.NoError(t, err)
	require.Zero(t, got.Sign())
}

func TestTransferFrom_RejectsShortBalance(t *testing.T) {
	ctx := t.Context()
	reg := NewRegistry()
	reg.Mint(holder, big.NewInt(7), big.NewInt(1))
	reg.SetApprovalForAll(holder, operator, true)

	view := reg.AsOperator(operator)
	err := view.TransferFrom(ctx, holder, receiver, big.NewInt(7), big.NewInt(2))
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrTransferNotApproved)
}

func TestDirectory_ResolvesRegisteredAssets(t *testing.T) {
	dir := NewDirectory(operator)

	_, err := dir.Asset(common.HexToAddress("0x00000000000000000000000000000000000a0001"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	reg := NewRegistry()
	addr := common.HexToAddress("0x00000000000000000000000000000000000a0001")
	dir.Register(addr, reg)

	transferrer, err := dir.Asset(addr)
	require.NoError(t, err)
	require.NotNil(t, transferrer)
}
