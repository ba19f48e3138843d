package usecase

import (
	"context"
	"time"

	"github.com/deliverhq/walletd/internal/core/models"
)

// WalletCache is the read cache for wallet-by-owner lookups. A miss is
// (nil, nil); cache failures are advisory and never fail an operation.
type WalletCache interface {
	GetWallet(ctx context.Context, ownerID int64, ownerType models.OwnerType) (*models.Wallet, error)
	SetWallet(ctx context.Context, wallet *models.Wallet) error
	InvalidateWallet(ctx context.Context, ownerID int64, ownerType models.OwnerType) error
}

// MetricsCollector records the outcome of ledger operations.
type MetricsCollector interface {
	RecordOperation(operation, result string, elapsed time.Duration)
}

// NoopWalletCache satisfies WalletCache when no cache backend is configured.
type NoopWalletCache struct{}

func (NoopWalletCache) GetWallet(context.Context, int64, models.OwnerType) (*models.Wallet, error) {
	return nil, nil
}
func (NoopWalletCache) SetWallet(context.Context, *models.Wallet) error { return nil }
func (NoopWalletCache) InvalidateWallet(context.Context, int64, models.OwnerType) error {
	return nil
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOperation(string, string, time.Duration) {}
