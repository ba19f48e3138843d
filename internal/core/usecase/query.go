package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/deliverhq/walletd/internal/core/logger"
	"github.com/deliverhq/walletd/internal/core/models"
	"github.com/deliverhq/walletd/internal/core/repository"
)

// WalletQueryUsecase is the read-only side of the ledger. It never mutates
// state and never blocks the write path.
type WalletQueryUsecase interface {
	GetWalletByID(ctx context.Context, id int64) (*models.Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerID int64, ownerType models.OwnerType) (*models.Wallet, error)
	ListWalletsByOwner(ctx context.Context, ownerID int64) ([]models.Wallet, error)
	ListWalletsByType(ctx context.Context, ownerType models.OwnerType) ([]models.Wallet, error)

	ListTransactions(ctx context.Context, walletID int64, page, size int) (*models.TransactionPage, error)
	ListTransactionsByType(ctx context.Context, walletID int64, txType models.TransactionType) ([]models.Transaction, error)
	ListRecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error)
	ListTransactionsByReference(ctx context.Context, reference string) ([]models.Transaction, error)

	TotalBalance(ctx context.Context) (decimal.Decimal, error)
	TotalBalanceByType(ctx context.Context, ownerType models.OwnerType) (decimal.Decimal, error)
	TotalCredited(ctx context.Context) (decimal.Decimal, error)
	TotalDebited(ctx context.Context) (decimal.Decimal, error)

	WalletsBelowBalance(ctx context.Context, threshold decimal.Decimal) ([]models.Wallet, error)
	WalletsAboveBalance(ctx context.Context, threshold decimal.Decimal) ([]models.Wallet, error)
	TopWalletsByBalance(ctx context.Context, limit int) ([]models.Wallet, error)
}

type walletQueryUsecase struct {
	wallets      repository.WalletRepository
	transactions repository.TransactionRepository
	cache        WalletCache
	log          logger.Logger
}

func NewWalletQueryUsecase(wallets repository.WalletRepository, transactions repository.TransactionRepository, cache WalletCache, log logger.Logger) WalletQueryUsecase {
	return &walletQueryUsecase{
		wallets:      wallets,
		transactions: transactions,
		cache:        cache,
		log:          log,
	}
}

func (uc *walletQueryUsecase) GetWalletByID(ctx context.Context, id int64) (*models.Wallet, error) {
	wallet, err := uc.wallets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	if !wallet.Active {
		return nil, ErrWalletNotFound
	}
	return wallet, nil
}

func (uc *walletQueryUsecase) GetWalletByOwner(ctx context.Context, ownerID int64, ownerType models.OwnerType) (*models.Wallet, error) {
	if cached, cacheErr := uc.cache.GetWallet(ctx, ownerID, ownerType); cacheErr != nil {
		uc.log.Warn("Wallet cache read failed", logger.ErrorField("error", cacheErr))
	} else if cached != nil {
		return cached, nil
	}

	wallet, err := uc.wallets.GetActiveByOwner(ctx, ownerID, ownerType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet by owner: %w", err)
	}

	if cacheErr := uc.cache.SetWallet(ctx, wallet); cacheErr != nil {
		uc.log.Warn("Wallet cache write failed", logger.ErrorField("error", cacheErr))
	}
	return wallet, nil
}

func (uc *walletQueryUsecase) ListWalletsByOwner(ctx context.Context, ownerID int64) ([]models.Wallet, error) {
	return uc.wallets.ListActiveByOwnerID(ctx, ownerID)
}

func (uc *walletQueryUsecase) ListWalletsByType(ctx context.Context, ownerType models.OwnerType) ([]models.Wallet, error) {
	return uc.wallets.ListActiveByOwnerType(ctx, ownerType)
}

func (uc *walletQueryUsecase) ListTransactions(ctx context.Context, walletID int64, page, size int) (*models.TransactionPage, error) {
	return uc.transactions.ListByWallet(ctx, walletID, page, size)
}

func (uc *walletQueryUsecase) ListTransactionsByType(ctx context.Context, walletID int64, txType models.TransactionType) ([]models.Transaction, error) {
	return uc.transactions.ListByWalletAndType(ctx, walletID, txType)
}

func (uc *walletQueryUsecase) ListRecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	return uc.transactions.ListRecent(ctx, limit)
}

func (uc *walletQueryUsecase) ListTransactionsByReference(ctx context.Context, reference string) ([]models.Transaction, error) {
	return uc.transactions.ListByReference(ctx, reference)
}

func (uc *walletQueryUsecase) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	return uc.wallets.SumBalances(ctx)
}

func (uc *walletQueryUsecase) TotalBalanceByType(ctx context.Context, ownerType models.OwnerType) (decimal.Decimal, error) {
	return uc.wallets.SumBalancesByOwnerType(ctx, ownerType)
}

func (uc *walletQueryUsecase) TotalCredited(ctx context.Context) (decimal.Decimal, error) {
	return uc.transactions.SumAmountByType(ctx, models.TransactionCredit)
}

func (uc *walletQueryUsecase) TotalDebited(ctx context.Context) (decimal.Decimal, error) {
	return uc.transactions.SumAmountByType(ctx, models.TransactionDebit)
}

func (uc *walletQueryUsecase) WalletsBelowBalance(ctx context.Context, threshold decimal.Decimal) ([]models.Wallet, error) {
	return uc.wallets.ListBelowBalance(ctx, threshold)
}

func (uc *walletQueryUsecase) WalletsAboveBalance(ctx context.Context, threshold decimal.Decimal) ([]models.Wallet, error) {
	return uc.wallets.ListAboveBalance(ctx, threshold)
}

func (uc *walletQueryUsecase) TopWalletsByBalance(ctx context.Context, limit int) ([]models.Wallet, error) {
	return uc.wallets.ListTopByBalance(ctx, limit)
}
