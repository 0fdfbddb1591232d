// Package service composes the settlement engine with persistence,
// distributed locking, rate limiting, and event publication. Handlers talk
// to services, never to the engine or stores directly.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// Fill and cancellation events are published on these channels.
const (
	ChannelFills         = "fills"
	ChannelCancellations = "cancellations"
)

// fillsPerSecond caps how many fills one buyer may attempt per second.
const fillsPerSecond = 10

// settleLockTTL bounds how long a per-asset settlement lock may be held.
const settleLockTTL = 10 * time.Second

// Settler is the settlement core as the service layer sees it.
type Settler interface {
	FillOrder(ctx context.Context, buyer common.Address, order domain.Order, suppliedValue *big.Int) (domain.FillEvent, error)
	CancelListings(ctx context.Context, caller, assetContract common.Address, tokenID *big.Int) error
}

// SettlementService wraps the engine with the cross-replica concerns: a
// per-asset distributed lock, fill persistence, and event publication.
type SettlementService struct {
	engine  Settler
	fills   domain.FillStore
	locks   domain.LockManager
	limiter domain.RateLimiter
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewSettlementService creates a SettlementService. locks, limiter, and bus
// may be nil; each concern is skipped when absent (single-replica mode).
func NewSettlementService(
	engine Settler,
	fills domain.FillStore,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		engine:  engine,
		fills:   fills,
		locks:   locks,
		limiter: limiter,
		bus:     bus,
		logger:  logger,
	}
}

// Fill settles an order for buyer under the asset's distributed lock,
// persists the resulting fill, and publishes it on the fills channel.
//
// Persistence and publication are best effort: once the engine has settled,
// balances have moved, so a storage failure is logged rather than surfaced
// as a failed fill.
func (s *SettlementService) Fill(ctx context.Context, buyer common.Address, order domain.Order, suppliedValue *big.Int) (domain.FillEvent, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "fills:"+buyer.Hex(), fillsPerSecond, time.Second)
		if err != nil {
			return domain.FillEvent{}, fmt.Errorf("settlement_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.FillEvent{}, domain.ErrRateLimited
		}
	}

	if order.TokenID == nil {
		return domain.FillEvent{}, fmt.Errorf("settlement_service: order is missing token id")
	}

	unlock, err := s.acquireAssetLock(ctx, order.AssetContract, order.TokenID)
	if err != nil {
		return domain.FillEvent{}, err
	}
	defer unlock()

	fill, err := s.engine.FillOrder(ctx, buyer, order, suppliedValue)
	if err != nil {
		return domain.FillEvent{}, err
	}

	if insErr := s.fills.Insert(ctx, fill); insErr != nil {
		s.logger.ErrorContext(ctx, "settlement_service: persist fill failed",
			slog.String("fill_id", fill.ID),
			slog.String("error", insErr.Error()),
		)
	}

	s.publish(ctx, ChannelFills, map[string]any{
		"event": "order_filled",
		"fill":  fill,
	})

	return fill, nil
}

// Cancel invalidates every outstanding listing for the asset on behalf of
// caller and publishes a cancellation event.
func (s *SettlementService) Cancel(ctx context.Context, caller, assetContract common.Address, tokenID *big.Int) error {
	if tokenID == nil {
		return fmt.Errorf("settlement_service: missing token id")
	}

	unlock, err := s.acquireAssetLock(ctx, assetContract, tokenID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.engine.CancelListings(ctx, caller, assetContract, tokenID); err != nil {
		return err
	}

	s.publish(ctx, ChannelCancellations, map[string]any{
		"event":    "listings_cancelled",
		"caller":   caller.Hex(),
		"asset":    assetContract.Hex(),
		"token_id": tokenID.String(),
	})

	return nil
}

// ListFills returns recently settled fills, newest first.
func (s *SettlementService) ListFills(ctx context.Context, opts domain.ListOpts) ([]domain.FillEvent, error) {
	fills, err := s.fills.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list fills: %w", err)
	}
	return fills, nil
}

func (s *SettlementService) acquireAssetLock(ctx context.Context, assetContract common.Address, tokenID *big.Int) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	key := "settle:" + assetContract.Hex() + ":" + tokenID.String()
	unlock, err := s.locks.Acquire(ctx, key, settleLockTTL)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: acquire lock %q: %w", key, err)
	}
	return unlock, nil
}

func (s *SettlementService) publish(ctx context.Context, channel string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	evt, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: marshal event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if pubErr := s.bus.Publish(ctx, channel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "settlement_service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", pubErr.Error()),
		)
	}
}
