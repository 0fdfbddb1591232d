package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// Archiver exports settled fills to blob storage.
type Archiver interface {
	Archive(ctx context.Context) (string, error)
}

// AdminService gates the mutable marketplace configuration behind the
// access policy: fee schedule, approved payment tokens, ledger registrants,
// and the archive trigger.
type AdminService struct {
	policy   domain.AccessPolicy
	fees     domain.FeeConfigStore
	payments domain.PaymentTokenRegistry
	ledger   domain.CancellationLedger
	archiver Archiver
	archives domain.BlobReader
	logger   *slog.Logger
}

// NewAdminService creates an AdminService. archiver and archives may be nil
// when blob storage is not configured.
func NewAdminService(
	policy domain.AccessPolicy,
	fees domain.FeeConfigStore,
	payments domain.PaymentTokenRegistry,
	ledger domain.CancellationLedger,
	archiver Archiver,
	archives domain.BlobReader,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		policy:   policy,
		fees:     fees,
		payments: payments,
		ledger:   ledger,
		archiver: archiver,
		archives: archives,
		logger:   logger,
	}
}

// FeeSchedule returns the current fee configuration. Read access is not
// gated; the schedule is public marketplace information.
func (s *AdminService) FeeSchedule(ctx context.Context) (domain.FeeSchedule, error) {
	snap, err := s.fees.Snapshot(ctx)
	if err != nil {
		return domain.FeeSchedule{}, fmt.Errorf("admin_service: fee snapshot: %w", err)
	}
	return snap, nil
}

// SetPlatformBps updates the platform fee percentage.
func (s *AdminService) SetPlatformBps(ctx context.Context, caller common.Address, bps uint32) error {
	if !s.policy.Allowed(caller, domain.ActionSetFees) {
		return domain.ErrUnauthorized
	}
	if err := s.fees.SetPlatformBps(ctx, bps); err != nil {
		return fmt.Errorf("admin_service: set platform bps: %w", err)
	}
	s.logConfigChange(ctx, caller, "platform_bps updated")
	return nil
}

// SetMakerBps updates the maker (creator) fee percentage.
func (s *AdminService) SetMakerBps(ctx context.Context, caller common.Address, bps uint32) error {
	if !s.policy.Allowed(caller, domain.ActionSetFees) {
		return domain.ErrUnauthorized
	}
	if err := s.fees.SetMakerBps(ctx, bps); err != nil {
		return fmt.Errorf("admin_service: set maker bps: %w", err)
	}
	s.logConfigChange(ctx, caller, "maker_bps updated")
	return nil
}

// SetPlatformWallet updates the platform payout wallet.
func (s *AdminService) SetPlatformWallet(ctx context.Context, caller common.Address, wallet common.Address) error {
	if !s.policy.Allowed(caller, domain.ActionSetFees) {
		return domain.ErrUnauthorized
	}
	if err := s.fees.SetPlatformWallet(ctx, wallet); err != nil {
		return fmt.Errorf("admin_service: set platform wallet: %w", err)
	}
	s.logConfigChange(ctx, caller, "platform_wallet updated")
	return nil
}

// SetMakerWallet updates the maker payout wallet.
func (s *AdminService) SetMakerWallet(ctx context.Context, caller common.Address, wallet common.Address) error {
	if !s.policy.Allowed(caller, domain.ActionSetFees) {
		return domain.ErrUnauthorized
	}
	if err := s.fees.SetMakerWallet(ctx, wallet); err != nil {
		return fmt.Errorf("admin_service: set maker wallet: %w", err)
	}
	s.logConfigChange(ctx, caller, "maker_wallet updated")
	return nil
}

// AddPaymentToken admits an ERC20 to the approved payment set.
func (s *AdminService) AddPaymentToken(ctx context.Context, caller common.Address, token common.Address) error {
	if !s.policy.Allowed(caller, domain.ActionManageTokens) {
		return domain.ErrUnauthorized
	}
	if err := s.payments.AddApprovedToken(ctx, token); err != nil {
		return fmt.Errorf("admin_service: add payment token: %w", err)
	}
	s.logConfigChange(ctx, caller, "payment token approved")
	return nil
}

// RemovePaymentToken evicts an ERC20 from the approved payment set.
// Outstanding orders denominated in it stop filling immediately.
func (s *AdminService) RemovePaymentToken(ctx context.Context, caller common.Address, token common.Address) error {
	if !s.policy.Allowed(caller, domain.ActionManageTokens) {
		return domain.ErrUnauthorized
	}
	if err := s.payments.RemoveApprovedToken(ctx, token); err != nil {
		return fmt.Errorf("admin_service: remove payment token: %w", err)
	}
	s.logConfigChange(ctx, caller, "payment token removed")
	return nil
}

// AddRegistrant allow-lists an address to mutate the cancellation ledger.
func (s *AdminService) AddRegistrant(ctx context.Context, caller common.Address, registrant common.Address) error {
	if !s.policy.Allowed(caller, domain.ActionAddRegistrant) {
		return domain.ErrUnauthorized
	}
	if err := s.ledger.AddRegistrant(ctx, registrant); err != nil {
		return fmt.Errorf("admin_service: add registrant: %w", err)
	}
	s.logConfigChange(ctx, caller, "registrant added")
	return nil
}

// TriggerArchive runs a fill archive export and returns the object path.
func (s *AdminService) TriggerArchive(ctx context.Context, caller common.Address) (string, error) {
	if !s.policy.Allowed(caller, domain.ActionTriggerArchive) {
		return "", domain.ErrUnauthorized
	}
	if s.archiver == nil {
		return "", fmt.Errorf("admin_service: no archiver configured")
	}
	path, err := s.archiver.Archive(ctx)
	if err != nil {
		return "", fmt.Errorf("admin_service: archive: %w", err)
	}
	s.logConfigChange(ctx, caller, "archive triggered")
	return path, nil
}

// ListArchives enumerates exported fill archives under the fills/ prefix.
func (s *AdminService) ListArchives(ctx context.Context, caller common.Address) ([]domain.BlobInfo, error) {
	if !s.policy.Allowed(caller, domain.ActionTriggerArchive) {
		return nil, domain.ErrUnauthorized
	}
	if s.archives == nil {
		return nil, fmt.Errorf("admin_service: no archive reader configured")
	}
	infos, err := s.archives.List(ctx, "fills/")
	if err != nil {
		return nil, fmt.Errorf("admin_service: list archives: %w", err)
	}
	return infos, nil
}

func (s *AdminService) logConfigChange(ctx context.Context, caller common.Address, what string) {
	s.logger.InfoContext(ctx, "admin_service: "+what,
		slog.String("caller", caller.Hex()),
	)
}
