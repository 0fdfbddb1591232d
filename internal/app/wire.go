package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/access"
	"github.com/bullieverse/marketd/internal/asset"
	s3blob "github.com/bullieverse/marketd/internal/blob/s3"
	"github.com/bullieverse/marketd/internal/cache/redis"
	"github.com/bullieverse/marketd/internal/config"
	"github.com/bullieverse/marketd/internal/crypto"
	"github.com/bullieverse/marketd/internal/domain"
	"github.com/bullieverse/marketd/internal/registry"
	"github.com/bullieverse/marketd/internal/service"
	"github.com/bullieverse/marketd/internal/settlement"
	"github.com/bullieverse/marketd/internal/store/memory"
	"github.com/bullieverse/marketd/internal/store/postgres"
	"github.com/bullieverse/marketd/internal/token"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Core settlement state.
	Engine   *settlement.Engine
	Ledger   domain.CancellationLedger
	Payments domain.PaymentTokenRegistry
	Fees     domain.FeeConfigStore
	Fills    domain.FillStore

	// In-process chain-state collaborators. Tooling registers asset
	// collections and ERC20 ledgers here.
	Assets *asset.Directory
	Tokens *token.Directory
	Native *token.NativeLedger

	// Redis-backed concerns; nil when Redis is disabled.
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage; nil when archiving is disabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.FillArchiver

	// Services.
	Settlements *service.SettlementService
	Admin       *service.AdminService

	// Optional order signer resolved from the wallet config, for tooling.
	Signer *crypto.Signer

	// Raw clients kept for health checks.
	Postgres *postgres.Client
	Redis    *redis.Client
	Blob     *s3blob.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	chainID := big.NewInt(cfg.Chain.ChainID)
	engineAddr := common.HexToAddress(cfg.Chain.VerifyingContract)

	// --- Storage: cancellation ledger, fill store, fee config ---
	switch strings.ToLower(cfg.Storage.Mode) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.Ledger = postgres.NewCancellationStore(pool)
		deps.Fills = postgres.NewFillStore(pool)
		// The fee_config row is authoritative in postgres mode; boot does
		// not overwrite runtime admin changes with TOML defaults.
		deps.Fees = postgres.NewFeeConfigStore(pool)

	default: // "memory"
		deps.Ledger = registry.NewCancellationLedger()
		deps.Fills = memory.NewFillStore()
		deps.Fees = registry.NewFeeConfigStore(feeScheduleFromConfig(cfg.Fees))
	}

	deps.Payments = registry.NewPaymentTokenRegistry()
	deps.Assets = asset.NewDirectory(engineAddr)
	deps.Tokens = token.NewDirectory(engineAddr)
	deps.Native = token.NewNativeLedger()

	// --- Settlement engine ---
	deps.Engine = settlement.NewEngine(settlement.Config{
		ChainID:  chainID,
		Address:  engineAddr,
		Ledger:   deps.Ledger,
		Payments: deps.Payments,
		Tokens:   deps.Tokens,
		Assets:   deps.Assets,
		Native:   deps.Native,
		Fees:     deps.Fees,
		Logger:   logger,
	})

	// The engine mutates the cancellation ledger on every fill, so it must
	// be an allow-listed registrant before the first settlement.
	if err := deps.Ledger.AddRegistrant(ctx, engineAddr); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: register engine: %w", err)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Blob = s3Client
		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewFillArchiver(writer, deps.Fills, cfg.Archive.Retention.Duration, logger)
	}

	// --- Services ---
	// Build interface-typed optionals so a disabled concern stays a true
	// nil inside the services.
	var (
		archiver service.Archiver
		archives domain.BlobReader
	)
	if deps.Archiver != nil {
		archiver = deps.Archiver
		archives = deps.BlobReader
	}

	deps.Settlements = service.NewSettlementService(
		deps.Engine, deps.Fills, deps.LockManager, deps.RateLimiter, deps.SignalBus, logger,
	)

	admins := make([]common.Address, 0, len(cfg.Admin.Addresses))
	for _, a := range cfg.Admin.Addresses {
		admins = append(admins, common.HexToAddress(a))
	}
	deps.Admin = service.NewAdminService(
		access.NewPolicy(admins...), deps.Fees, deps.Payments, deps.Ledger, archiver, archives, logger,
	)

	// --- Wallet (optional, tooling only) ---
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.SealedKeyPath != "" {
		keyHex, err := crypto.ResolveKey(crypto.KeySource{
			RawPrivateKey: cfg.Wallet.PrivateKey,
			SealedKeyPath: cfg.Wallet.SealedKeyPath,
			Password:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, chainID, engineAddr)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Signer = signer
		logger.Info("wallet loaded",
			slog.String("address", signer.Address().Hex()),
		)
	}

	return deps, cleanup, nil
}

// feeScheduleFromConfig builds the boot fee schedule for the in-memory
// store.
func feeScheduleFromConfig(fees config.FeeConfig) domain.FeeSchedule {
	schedule := domain.FeeSchedule{
		PlatformBps: fees.PlatformBps,
		MakerBps:    fees.MakerBps,
	}
	if fees.PlatformWallet != "" {
		schedule.PlatformWallet = common.HexToAddress(fees.PlatformWallet)
	}
	if fees.MakerWallet != "" {
		schedule.MakerWallet = common.HexToAddress(fees.MakerWallet)
	}
	return schedule
}
