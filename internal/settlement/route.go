package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// paymentRoute is the medium selected for one fill: native currency or an
// approved ERC20.
type paymentRoute struct {
	native bool
	token  domain.FungibleToken
}

// selectRoute decides the payment route for an order and checks that the
// buyer can fund it. It performs checks only and moves no value.
//
// Native route: the supplied value and the buyer's native balance must
// cover the price (ErrInsufficientPayment otherwise).
//
// ERC20 route: the token must be in the approved registry
// (ErrTokenNotApproved), the buyer's balance must cover the price
// (ErrInsufficientBalance), and the buyer's allowance granted to the
// engine must cover the price (ErrInsufficientAllowance).
func (e *Engine) selectRoute(ctx context.Context, buyer common.Address, order domain.Order, suppliedValue *big.Int) (paymentRoute, error) {
	if order.IsNativePayment() {
		if suppliedValue == nil || suppliedValue.Cmp(order.Price) < 0 {
			return paymentRoute{}, domain.ErrInsufficientPayment
		}
		balance, err := e.native.BalanceOf(ctx, buyer)
		if err != nil {
			return paymentRoute{}, fmt.Errorf("settlement: native balance of %s: %w", buyer.Hex(), err)
		}
		if balance.Cmp(order.Price) < 0 {
			return paymentRoute{}, domain.ErrInsufficientPayment
		}
		return paymentRoute{native: true}, nil
	}

	approved, err := e.payments.IsApproved(ctx, order.PaymentToken)
	if err != nil {
		return paymentRoute{}, fmt.Errorf("settlement: payment registry: %w", err)
	}
	if !approved {
		return paymentRoute{}, domain.ErrTokenNotApproved
	}

	tok, err := e.tokens.Token(order.PaymentToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return paymentRoute{}, domain.ErrTokenNotApproved
		}
		return paymentRoute{}, fmt.Errorf("settlement: resolve token %s: %w", order.PaymentToken.Hex(), err)
	}

	balance, err := tok.BalanceOf(ctx, buyer)
	if err != nil {
		return paymentRoute{}, fmt.Errorf("settlement: token balance of %s: %w", buyer.Hex(), err)
	}
	if balance.Cmp(order.Price) < 0 {
		return paymentRoute{}, domain.ErrInsufficientBalance
	}

	allowance, err := tok.Allowance(ctx, buyer, e.address)
	if err != nil {
		return paymentRoute{}, fmt.Errorf("settlement: token allowance of %s: %w", buyer.Hex(), err)
	}
	if allowance.Cmp(order.Price) < 0 {
		return paymentRoute{}, domain.ErrInsufficientAllowance
	}

	return paymentRoute{token: tok}, nil
}

// pay moves one payout leg over the selected route.
func (r paymentRoute) pay(ctx context.Context, native domain.NativeLedger, from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if r.native {
		return native.Transfer(ctx, from, to, amount)
	}
	return r.token.TransferFrom(ctx, from, to, amount)
}
