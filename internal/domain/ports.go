package domain

import (
	"context"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CancellationLedger tracks, per asset key, a monotonically increasing
// sequence and the set of consumed order digests. Only allow-listed
// registrants may mutate it; this prevents an unrelated settlement
// deployment from invalidating another's listings.
type CancellationLedger interface {
	CurrentSequence(ctx context.Context, key AssetKey) (uint64, error)

	// AdvanceSequence increments the sequence for key, invalidating every
	// order signed against the previous value. Returns ErrUnauthorized
	// unless caller is an allow-listed registrant.
	AdvanceSequence(ctx context.Context, key AssetKey, caller common.Address) (uint64, error)

	IsConsumed(ctx context.Context, digest common.Hash) (bool, error)

	// MarkConsumed records digest as spent. Idempotent. Returns
	// ErrUnauthorized unless caller is an allow-listed registrant.
	MarkConsumed(ctx context.Context, digest common.Hash, caller common.Address) error

	// UnmarkConsumed removes a digest the caller marked, compensating a
	// settlement whose later steps failed. Idempotent. Returns
	// ErrUnauthorized unless caller is an allow-listed registrant.
	UnmarkConsumed(ctx context.Context, digest common.Hash, caller common.Address) error

	// AddRegistrant allow-lists an address to mutate the ledger.
	AddRegistrant(ctx context.Context, registrant common.Address) error
}

// PaymentTokenRegistry is the approved set of ERC20 payment tokens.
type PaymentTokenRegistry interface {
	IsApproved(ctx context.Context, token common.Address) (bool, error)
	AddApprovedToken(ctx context.Context, token common.Address) error
	RemoveApprovedToken(ctx context.Context, token common.Address) error
}

// FungibleToken is the ERC20-shaped payment collaborator. TransferFrom is
// executed with the settlement engine as the implicit spender; the
// collaborator enforces allowance on its own side.
type FungibleToken interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// TokenDirectory resolves a payment-token contract address to its
// collaborator. Returns ErrNotFound for unknown tokens.
type TokenDirectory interface {
	Token(addr common.Address) (FungibleToken, error)
}

// AssetTransferrer is the asset-side collaborator, uniform across unique
// and multi-supply standards. It must enforce on its own side that the
// engine is approved by `from`, failing with ErrTransferNotApproved.
type AssetTransferrer interface {
	// BalanceOf reports how many units of tokenID owner holds (0 or 1 for
	// unique assets).
	BalanceOf(ctx context.Context, owner common.Address, tokenID *big.Int) (*big.Int, error)
	TransferFrom(ctx context.Context, from, to common.Address, tokenID, quantity *big.Int) error
}

// AssetDirectory resolves an asset contract address to its collaborator.
type AssetDirectory interface {
	Asset(addr common.Address) (AssetTransferrer, error)
}

// NativeLedger moves native currency between accounts.
type NativeLedger interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// FeeConfigStore provides the fee configuration snapshot consulted per
// fill. Mutation is admin-only and happens outside the engine.
type FeeConfigStore interface {
	Snapshot(ctx context.Context) (FeeSchedule, error)
	SetPlatformBps(ctx context.Context, bps uint32) error
	SetMakerBps(ctx context.Context, bps uint32) error
	SetPlatformWallet(ctx context.Context, wallet common.Address) error
	SetMakerWallet(ctx context.Context, wallet common.Address) error
}

// AccessPolicy answers "may this principal perform this action" for
// administrative operations.
type AccessPolicy interface {
	Allowed(principal common.Address, action string) bool
}

// Administrative actions checked against the AccessPolicy.
const (
	ActionSetFees        = "fees.set"
	ActionManageTokens   = "payment_tokens.manage"
	ActionAddRegistrant  = "registrants.add"
	ActionTriggerArchive = "archive.trigger"
)

// FillStore persists settled fills.
type FillStore interface {
	Insert(ctx context.Context, fill FillEvent) error
	ListRecent(ctx context.Context, opts ListOpts) ([]FillEvent, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]FillEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockManager provides mutual exclusion keyed by string, used to serialize
// fills touching the same asset across replicas.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter enforces sliding-window request budgets per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus is the pub/sub channel carrying fill and cancellation events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes one stored archive object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobReader retrieves and enumerates archive objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Clock supplies the current-time oracle used for order timing checks.
// Time bounds are data, never wall-clock waits.
type Clock func() time.Time
