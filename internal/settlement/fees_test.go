package settlement

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/bullieverse/marketd/internal/domain"
)

var (
	platformWallet = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	makerWallet    = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

func TestSplitPrice_TwoHundredFiftyBpsEach(t *testing.T) {
	split := SplitPrice(big.NewInt(100_000_000), domain.FeeSchedule{
		PlatformBps:    250,
		MakerBps:       250,
		PlatformWallet: platformWallet,
		MakerWallet:    makerWallet,
	})

	require.Equal(t, int64(2_500_000), split.PlatformCut.Int64())
	require.Equal(t, int64(2_500_000), split.MakerCut.Int64())
	require.Equal(t, int64(95_000_000), split.SellerProceeds.Int64())
}

func TestSplitPrice_UnsetWalletFoldsIntoSeller(t *testing.T) {
	// Platform bps configured but no platform wallet: the platform share
	// stays with the seller.
	split := SplitPrice(big.NewInt(100_000_000), domain.FeeSchedule{
		PlatformBps: 250,
		MakerBps:    250,
		MakerWallet: makerWallet,
	})

	require.Equal(t, int64(0), split.PlatformCut.Int64())
	require.Equal(t, int64(2_500_000), split.MakerCut.Int64())
	require.Equal(t, int64(97_500_000), split.SellerProceeds.Int64())
}

func TestSplitPrice_NoFees(t *testing.T) {
	split := SplitPrice(big.NewInt(100_000_000), domain.FeeSchedule{})
	require.Equal(t, int64(100_000_000), split.SellerProceeds.Int64())
	require.Equal(t, int64(0), split.PlatformCut.Int64())
	require.Equal(t, int64(0), split.MakerCut.Int64())
}

func TestSplitPrice_ConservesEveryUnit(t *testing.T) {
	// platformCut + makerCut + sellerProceeds == price must hold exactly
	// for all inputs, including ones where the bps division truncates.
	prices := []int64{0, 1, 3, 99, 100_000_000, 999_999_999, 1<<62 + 7}
	bps := []uint32{0, 1, 33, 250, 5_000, 9_999, 10_000}

	for _, p := range prices {
		for _, pb := range bps {
			for _, mb := range bps {
				if pb+mb > 10_000 {
					continue
				}
				price := big.NewInt(p)
				split := SplitPrice(price, domain.FeeSchedule{
					PlatformBps:    pb,
					MakerBps:       mb,
					PlatformWallet: platformWallet,
					MakerWallet:    makerWallet,
				})

				sum := new(big.Int).Add(split.SellerProceeds, split.PlatformCut)
				sum.Add(sum, split.MakerCut)
				require.Zero(t, sum.Cmp(price),
					"price=%d platform=%d maker=%d: %s+%s+%s != %d",
					p, pb, mb, split.SellerProceeds, split.PlatformCut, split.MakerCut, p)
				require.True(t, split.SellerProceeds.Sign() >= 0)
			}
		}
	}
}
