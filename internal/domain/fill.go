package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FillEvent records a successful settlement. It carries everything an
// external indexer needs to reconstruct the trade without replaying order
// construction.
type FillEvent struct {
	ID             string         `json:"id"`
	OrderDigest    common.Hash    `json:"order_digest"`
	Seller         common.Address `json:"seller"`
	Buyer          common.Address `json:"buyer"`
	AssetContract  common.Address `json:"asset_contract"`
	TokenID        *big.Int       `json:"token_id"`
	Quantity       *big.Int       `json:"quantity"`
	Price          *big.Int       `json:"price"`
	PaymentToken   common.Address `json:"payment_token"`
	CreatedAtBlock uint64         `json:"created_at_block"`
	StartTime      int64          `json:"start_time"`
	Expiration     int64          `json:"expiration"`
	SellerProceeds *big.Int       `json:"seller_proceeds"`
	PlatformCut    *big.Int       `json:"platform_cut"`
	MakerCut       *big.Int       `json:"maker_cut"`
	SettledAt      time.Time      `json:"settled_at"`
}

// FeeSchedule is the admin-mutated fee configuration the engine consults as
// a read-only snapshot per fill. Basis points are out of 10,000. A zero
// wallet address disables that split for the fill; the amount stays with
// the seller.
type FeeSchedule struct {
	PlatformBps    uint32         `json:"platform_bps"`
	MakerBps       uint32         `json:"maker_bps"`
	PlatformWallet common.Address `json:"platform_wallet"`
	MakerWallet    common.Address `json:"maker_wallet"`
}

// ListOpts carries standard pagination parameters.
type ListOpts struct {
	Limit  int
	Offset int
}
