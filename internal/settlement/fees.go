// Package settlement implements the order-fulfillment core: fee splitting,
// payment route selection, and the settlement engine orchestrating
// signature verification, cancellation tracking, and atomic value movement.
package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// bpsDenominator is the basis-point scale: 10,000 bps = 100%.
var bpsDenominator = big.NewInt(10_000)

// Split is the three-way division of an order price.
type Split struct {
	SellerProceeds *big.Int
	PlatformCut    *big.Int
	MakerCut       *big.Int
}

// SplitPrice divides price across seller, platform, and maker wallets.
// Cuts are price*bps/10000 with integer division truncating toward zero;
// the seller receives the subtraction remainder, so
// SellerProceeds + PlatformCut + MakerCut == price for every input. An
// unset (zero-address) wallet contributes nothing and its share stays with
// the seller.
func SplitPrice(price *big.Int, fees domain.FeeSchedule) Split {
	platformCut := big.NewInt(0)
	if fees.PlatformWallet != (common.Address{}) && fees.PlatformBps > 0 {
		platformCut = cut(price, fees.PlatformBps)
	}

	makerCut := big.NewInt(0)
	if fees.MakerWallet != (common.Address{}) && fees.MakerBps > 0 {
		makerCut = cut(price, fees.MakerBps)
	}

	proceeds := new(big.Int).Sub(price, platformCut)
	proceeds.Sub(proceeds, makerCut)

	return Split{
		SellerProceeds: proceeds,
		PlatformCut:    platformCut,
		MakerCut:       makerCut,
	}
}

func cut(price *big.Int, bps uint32) *big.Int {
	c := new(big.Int).Mul(price, big.NewInt(int64(bps)))
	return c.Div(c, bpsDenominator)
}
