package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/bullieverse/marketd/internal/domain"
	"github.com/bullieverse/marketd/internal/store/memory"
)

var (
	testBuyer  = common.HexToAddress("0x00000000000000000000000000000000000b0001")
	testSeller = common.HexToAddress("0x000000000000000000000000000000000000f001")
	testAsset  = common.HexToAddress("0x000000000000000000000000000000000000a001")
)

// fakeSettler records calls and returns canned results.
type fakeSettler struct {
	fill    domain.FillEvent
	fillErr error
	cancels int
}

func (f *fakeSettler) FillOrder(_ context.Context, _ common.Address, _ domain.Order, _ *big.Int) (domain.FillEvent, error) {
	return f.fill, f.fillErr
}

func (f *fakeSettler) CancelListings(_ context.Context, _, _ common.Address, _ *big.Int) error {
	f.cancels++
	return nil
}

// fakeLocks counts acquisitions and can refuse them.
type fakeLocks struct {
	acquired int
	released int
	err      error
}

func (l *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

// fakeBus captures published payloads per channel.
type fakeBus struct {
	published map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

// fakeLimiter denies once the budget is spent.
type fakeLimiter struct {
	remaining int
}

func (l *fakeLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	if l.remaining <= 0 {
		return false, nil
	}
	l.remaining--
	return true, nil
}

func testOrder() domain.Order {
	return domain.Order{
		Seller:        testSeller,
		AssetContract: testAsset,
		TokenID:       big.NewInt(42),
		Price:         big.NewInt(100),
		Quantity:      big.NewInt(1),
	}
}

func testFill() domain.FillEvent {
	return domain.FillEvent{
		ID:            "fill-1",
		Seller:        testSeller,
		Buyer:         testBuyer,
		AssetContract: testAsset,
		TokenID:       big.NewInt(42),
		Quantity:      big.NewInt(1),
		Price:         big.NewInt(100),
		SettledAt:     time.Now().UTC(),
	}
}

func TestFill_PersistsAndPublishes(t *testing.T) {
	engine := &fakeSettler{fill: testFill()}
	fills := memory.NewFillStore()
	locks := &fakeLocks{}
	bus := &fakeBus{}

	svc := NewSettlementService(engine, fills, locks, nil, bus, slog.Default())

	fill, err := svc.Fill(context.Background(), testBuyer, testOrder(), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, "fill-1", fill.ID)

	// Lock acquired and released around the engine call.
	require.Equal(t, 1, locks.acquired)
	require.Equal(t, 1, locks.released)

	// Fill persisted.
	stored, err := fills.ListRecent(context.Background(), domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "fill-1", stored[0].ID)

	// Fill published on the fills channel.
	require.Len(t, bus.published[ChannelFills], 1)
	var evt struct {
		Event string           `json:"event"`
		Fill  domain.FillEvent `json:"fill"`
	}
	require.NoError(t, json.Unmarshal(bus.published[ChannelFills][0], &evt))
	require.Equal(t, "order_filled", evt.Event)
	require.Equal(t, "fill-1", evt.Fill.ID)
}

func TestFill_EngineErrorSkipsPersistAndPublish(t *testing.T) {
	engine := &fakeSettler{fillErr: domain.ErrOrderCancelled}
	fills := memory.NewFillStore()
	bus := &fakeBus{}

	svc := NewSettlementService(engine, fills, nil, nil, bus, slog.Default())

	_, err := svc.Fill(context.Background(), testBuyer, testOrder(), big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrOrderCancelled)

	stored, err := fills.ListRecent(context.Background(), domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, stored)
	require.Empty(t, bus.published)
}

func TestFill_LockHeldFailsWithoutSettling(t *testing.T) {
	engine := &fakeSettler{fill: testFill()}
	locks := &fakeLocks{err: domain.ErrLockHeld}

	svc := NewSettlementService(engine, memory.NewFillStore(), locks, nil, nil, slog.Default())

	_, err := svc.Fill(context.Background(), testBuyer, testOrder(), big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestFill_RateLimited(t *testing.T) {
	engine := &fakeSettler{fill: testFill()}
	limiter := &fakeLimiter{remaining: 1}

	svc := NewSettlementService(engine, memory.NewFillStore(), nil, limiter, nil, slog.Default())

	_, err := svc.Fill(context.Background(), testBuyer, testOrder(), big.NewInt(100))
	require.NoError(t, err)

	_, err = svc.Fill(context.Background(), testBuyer, testOrder(), big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestCancel_PublishesEvent(t *testing.T) {
	engine := &fakeSettler{}
	bus := &fakeBus{}

	svc := NewSettlementService(engine, memory.NewFillStore(), nil, nil, bus, slog.Default())

	err := svc.Cancel(context.Background(), testSeller, testAsset, big.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, 1, engine.cancels)

	require.Len(t, bus.published[ChannelCancellations], 1)
	var evt map[string]string
	require.NoError(t, json.Unmarshal(bus.published[ChannelCancellations][0], &evt))
	require.Equal(t, "listings_cancelled", evt["event"])
	require.Equal(t, testAsset.Hex(), evt["asset"])
	require.Equal(t, "42", evt["token_id"])
}
