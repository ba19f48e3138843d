package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/deliverhq/walletd/internal/core/models"
)

var (
	// ErrNotFound is returned when no wallet matches the lookup.
	ErrNotFound = errors.New("wallet not found")
	// ErrDuplicateWallet is returned when creating a wallet would violate the
	// one-active-wallet-per-owner constraint.
	ErrDuplicateWallet = errors.New("active wallet already exists for owner")
	// ErrVersionConflict is returned when a balance update lost the
	// compare-and-swap race; the caller re-reads and retries.
	ErrVersionConflict = errors.New("wallet version conflict")
)

// WalletRepository is the balance store. ApplyTransaction and ApplyTransfer are
// the only write paths that touch balances, and each couples the balance update
// with the ledger append in a single atomic unit.
type WalletRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Wallet, error)
	GetActiveByOwner(ctx context.Context, ownerID int64, ownerType models.OwnerType) (*models.Wallet, error)
	ListActiveByOwnerID(ctx context.Context, ownerID int64) ([]models.Wallet, error)
	ListActiveByOwnerType(ctx context.Context, ownerType models.OwnerType) ([]models.Wallet, error)

	Create(ctx context.Context, wallet *models.Wallet) error
	Deactivate(ctx context.Context, id int64) error

	// ApplyTransaction persists wallet.Balance conditioned on wallet.Version and
	// appends record in the same transaction. Returns ErrVersionConflict when the
	// stored version moved on.
	ApplyTransaction(ctx context.Context, wallet *models.Wallet, record *models.Transaction) error

	// ApplyTransfer applies a debit and a credit atomically across two wallets.
	// Updates are ordered by ascending wallet id.
	ApplyTransfer(ctx context.Context, debitWallet *models.Wallet, debitRecord *models.Transaction, creditWallet *models.Wallet, creditRecord *models.Transaction) error

	SumBalances(ctx context.Context) (decimal.Decimal, error)
	SumBalancesByOwnerType(ctx context.Context, ownerType models.OwnerType) (decimal.Decimal, error)
	ListBelowBalance(ctx context.Context, threshold decimal.Decimal) ([]models.Wallet, error)
	ListAboveBalance(ctx context.Context, threshold decimal.Decimal) ([]models.Wallet, error)
	ListTopByBalance(ctx context.Context, limit int) ([]models.Wallet, error)
}

// TransactionRepository is the read side of the append-only ledger.
type TransactionRepository interface {
	ListByWallet(ctx context.Context, walletID int64, page, size int) (*models.TransactionPage, error)
	ListByWalletAndType(ctx context.Context, walletID int64, txType models.TransactionType) ([]models.Transaction, error)
	ListRecent(ctx context.Context, limit int) ([]models.Transaction, error)
	ListByReference(ctx context.Context, reference string) ([]models.Transaction, error)
	SumAmountByType(ctx context.Context, txType models.TransactionType) (decimal.Decimal, error)
	SumAmountByWalletAndType(ctx context.Context, walletID int64, txType models.TransactionType) (decimal.Decimal, error)
	CountByWallet(ctx context.Context, walletID int64) (int64, error)
}
