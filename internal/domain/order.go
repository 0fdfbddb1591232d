// Package domain defines the core types, error kinds, and port interfaces
// of the marketplace settlement engine.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the sentinel payment-token address meaning "pay with the
// native currency" rather than an ERC20.
var NativeToken = common.Address{}

// Order is a seller's off-chain-signed statement authorizing the sale of a
// specific asset quantity for a specific price within a time window. Orders
// are never persisted; they arrive complete with each fill request. Any
// change to a field after signing invalidates the signature.
type Order struct {
	Seller         common.Address `json:"seller"`
	AssetContract  common.Address `json:"asset_contract"`
	TokenID        *big.Int       `json:"token_id"`
	StartTime      int64          `json:"start_time"`       // unix seconds, inclusive
	Expiration     int64          `json:"expiration"`       // unix seconds, exclusive
	Price          *big.Int       `json:"price"`            // total owed, in PaymentToken units
	Quantity       *big.Int       `json:"quantity"`         // units sold, >= 1
	CreatedAtBlock uint64         `json:"created_at_block"` // listing nonce
	PaymentToken   common.Address `json:"payment_token"`    // NativeToken for native currency
	Signature      []byte         `json:"signature"`        // 65-byte EIP-712 signature (r || s || v)
}

// IsNativePayment reports whether the order is denominated in the native
// currency rather than an ERC20.
func (o Order) IsNativePayment() bool {
	return o.PaymentToken == NativeToken
}

// AssetKey identifies an asset for cancellation-ledger purposes.
type AssetKey struct {
	Contract common.Address
	TokenID  string // decimal token id; big.Int is not a valid map key
}

// Key builds the cancellation-ledger key for the order's asset.
func (o Order) Key() AssetKey {
	return AssetKey{Contract: o.AssetContract, TokenID: o.TokenID.String()}
}
