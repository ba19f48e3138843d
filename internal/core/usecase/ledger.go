package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deliverhq/walletd/internal/core/logger"
	"github.com/deliverhq/walletd/internal/core/models"
	"github.com/deliverhq/walletd/internal/core/repository"
)

// maxTxAttempts bounds the compare-and-swap retry loop. Conflicts past the
// budget surface as ErrConcurrencyConflict and the caller retries the whole
// operation.
const maxTxAttempts = 5

// LedgerUsecase owns every write path of the ledger: balances mutate only
// through these operations, each of which atomically updates the wallet row
// and appends a transaction record.
type LedgerUsecase interface {
	ProvisionWallet(ctx context.Context, ownerID int64, ownerType models.OwnerType, description string) (*models.Wallet, error)
	Credit(ctx context.Context, ownerID int64, ownerType models.OwnerType, amount decimal.Decimal, reference, description string) (*models.Wallet, error)
	Debit(ctx context.Context, ownerID int64, ownerType models.OwnerType, amount decimal.Decimal, reference, description string) (*models.Wallet, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	DeactivateWallet(ctx context.Context, walletID int64) error
}

// TransferRequest moves amount from one owner's wallet to another's.
type TransferRequest struct {
	FromOwnerID   int64
	FromOwnerType models.OwnerType
	ToOwnerID     int64
	ToOwnerType   models.OwnerType
	Amount        decimal.Decimal
	Reference     string
	Description   string
}

// TransferResult carries both wallets as they stand after the transfer.
type TransferResult struct {
	From *models.Wallet
	To   *models.Wallet
}

type ledgerUsecase struct {
	wallets repository.WalletRepository
	cache   WalletCache
	metrics MetricsCollector
	log     logger.Logger

	// locks serializes in-process mutations per owner so concurrent callers on
	// the same wallet queue instead of burning the CAS retry budget. The
	// version check in the store stays the cross-process guarantee.
	locks sync.Map
}

func NewLedgerUsecase(wallets repository.WalletRepository, cache WalletCache, metrics MetricsCollector, log logger.Logger) LedgerUsecase {
	return &ledgerUsecase{
		wallets: wallets,
		cache:   cache,
		metrics: metrics,
		log:     log,
	}
}

func ownerKey(ownerID int64, ownerType models.OwnerType) string {
	return fmt.Sprintf("%s:%d", ownerType, ownerID)
}

func (uc *ledgerUsecase) lockOwner(key string) func() {
	v, _ := uc.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (uc *ledgerUsecase) ProvisionWallet(ctx context.Context, ownerID int64, ownerType models.OwnerType, description string) (wallet *models.Wallet, err error) {
	defer uc.observe("provision", time.Now(), &err)

	uc.log.Info("Provisioning wallet",
		logger.Int64Field("owner_id", ownerID),
		logger.StringField("owner_type", string(ownerType)))

	unlock := uc.lockOwner(ownerKey(ownerID, ownerType))
	defer unlock()

	wallet = &models.Wallet{
		OwnerID:     ownerID,
		OwnerType:   ownerType,
		Balance:     decimal.Zero.Round(models.MoneyScale),
		Description: description,
	}
	if err = uc.wallets.Create(ctx, wallet); err != nil {
		if errors.Is(err, repository.ErrDuplicateWallet) {
			return nil, ErrWalletExists
		}
		return nil, fmt.Errorf("provision wallet: %w", err)
	}

	uc.log.Info("Wallet provisioned", logger.Int64Field("wallet_id", wallet.ID))
	return wallet, nil
}

func (uc *ledgerUsecase) Credit(ctx context.Context, ownerID int64, ownerType models.OwnerType, amount decimal.Decimal, reference, description string) (wallet *models.Wallet, err error) {
	defer uc.observe("credit", time.Now(), &err)

	amount, err = normalizeAmount(amount)
	if err != nil {
		return nil, err
	}

	unlock := uc.lockOwner(ownerKey(ownerID, ownerType))
	defer unlock()

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		wallet, err = uc.getOrCreateWallet(ctx, ownerID, ownerType)
		if err != nil {
			return nil, err
		}

		record := buildRecord(wallet, models.TransactionCredit, amount, reference, description)
		wallet.Balance = record.BalanceAfter

		err = uc.wallets.ApplyTransaction(ctx, wallet, record)
		if errors.Is(err, repository.ErrVersionConflict) {
			uc.log.Debug("Credit lost version race, retrying",
				logger.Int64Field("wallet_id", wallet.ID),
				logger.IntField("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("credit wallet: %w", err)
		}

		uc.invalidate(ctx, ownerID, ownerType)
		uc.log.Info("Wallet credited",
			logger.Int64Field("wallet_id", wallet.ID),
			logger.StringField("amount", amount.StringFixed(models.MoneyScale)),
			logger.StringField("balance", wallet.Balance.StringFixed(models.MoneyScale)),
			logger.StringField("reference", reference))
		return wallet, nil
	}

	err = ErrConcurrencyConflict
	return nil, err
}

func (uc *ledgerUsecase) Debit(ctx context.Context, ownerID int64, ownerType models.OwnerType, amount decimal.Decimal, reference, description string) (wallet *models.Wallet, err error) {
	defer uc.observe("debit", time.Now(), &err)

	amount, err = normalizeAmount(amount)
	if err != nil {
		return nil, err
	}

	unlock := uc.lockOwner(ownerKey(ownerID, ownerType))
	defer unlock()

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		wallet, err = uc.wallets.GetActiveByOwner(ctx, ownerID, ownerType)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrWalletNotFound
			}
			return nil, fmt.Errorf("debit wallet: %w", err)
		}

		if !wallet.HasSufficientBalance(amount) {
			uc.log.Warn("Insufficient balance",
				logger.Int64Field("wallet_id", wallet.ID),
				logger.StringField("balance", wallet.Balance.StringFixed(models.MoneyScale)),
				logger.StringField("requested", amount.StringFixed(models.MoneyScale)))
			err = ErrInsufficientBalance
			return nil, err
		}

		record := buildRecord(wallet, models.TransactionDebit, amount, reference, description)
		wallet.Balance = record.BalanceAfter

		err = uc.wallets.ApplyTransaction(ctx, wallet, record)
		if errors.Is(err, repository.ErrVersionConflict) {
			uc.log.Debug("Debit lost version race, retrying",
				logger.Int64Field("wallet_id", wallet.ID),
				logger.IntField("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("debit wallet: %w", err)
		}

		uc.invalidate(ctx, ownerID, ownerType)
		uc.log.Info("Wallet debited",
			logger.Int64Field("wallet_id", wallet.ID),
			logger.StringField("amount", amount.StringFixed(models.MoneyScale)),
			logger.StringField("balance", wallet.Balance.StringFixed(models.MoneyScale)),
			logger.StringField("reference", reference))
		return wallet, nil
	}

	err = ErrConcurrencyConflict
	return nil, err
}

func (uc *ledgerUsecase) Transfer(ctx context.Context, req TransferRequest) (res *TransferResult, err error) {
	defer uc.observe("transfer", time.Now(), &err)

	amount, err := normalizeAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	fromKey := ownerKey(req.FromOwnerID, req.FromOwnerType)
	toKey := ownerKey(req.ToOwnerID, req.ToOwnerType)
	if fromKey == toKey {
		err = ErrSameWallet
		return nil, err
	}

	// Both owner locks in fixed global order to avoid deadlock with a
	// concurrent transfer running the opposite direction.
	firstKey, secondKey := fromKey, toKey
	if secondKey < firstKey {
		firstKey, secondKey = secondKey, firstKey
	}
	unlockFirst := uc.lockOwner(firstKey)
	defer unlockFirst()
	unlockSecond := uc.lockOwner(secondKey)
	defer unlockSecond()

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		var from *models.Wallet
		from, err = uc.wallets.GetActiveByOwner(ctx, req.FromOwnerID, req.FromOwnerType)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrWalletNotFound
			}
			return nil, fmt.Errorf("transfer: %w", err)
		}

		if !from.HasSufficientBalance(amount) {
			err = ErrInsufficientBalance
			return nil, err
		}

		var to *models.Wallet
		to, err = uc.getOrCreateWallet(ctx, req.ToOwnerID, req.ToOwnerType)
		if err != nil {
			return nil, err
		}

		debitRecord := buildRecord(from, models.TransactionDebit, amount, req.Reference, req.Description)
		from.Balance = debitRecord.BalanceAfter
		creditRecord := buildRecord(to, models.TransactionCredit, amount, req.Reference, req.Description)
		to.Balance = creditRecord.BalanceAfter

		err = uc.wallets.ApplyTransfer(ctx, from, debitRecord, to, creditRecord)
		if errors.Is(err, repository.ErrVersionConflict) {
			uc.log.Debug("Transfer lost version race, retrying",
				logger.Int64Field("from_wallet_id", from.ID),
				logger.Int64Field("to_wallet_id", to.ID),
				logger.IntField("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("transfer: %w", err)
		}

		uc.invalidate(ctx, req.FromOwnerID, req.FromOwnerType)
		uc.invalidate(ctx, req.ToOwnerID, req.ToOwnerType)
		uc.log.Info("Transfer applied",
			logger.Int64Field("from_wallet_id", from.ID),
			logger.Int64Field("to_wallet_id", to.ID),
			logger.StringField("amount", amount.StringFixed(models.MoneyScale)),
			logger.StringField("reference", req.Reference))
		return &TransferResult{From: from, To: to}, nil
	}

	err = ErrConcurrencyConflict
	return nil, err
}

func (uc *ledgerUsecase) DeactivateWallet(ctx context.Context, walletID int64) (err error) {
	defer uc.observe("deactivate", time.Now(), &err)

	wallet, err := uc.wallets.GetByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWalletNotFound
		}
		return fmt.Errorf("deactivate wallet: %w", err)
	}

	unlock := uc.lockOwner(ownerKey(wallet.OwnerID, wallet.OwnerType))
	defer unlock()

	if err = uc.wallets.Deactivate(ctx, walletID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWalletNotFound
		}
		return fmt.Errorf("deactivate wallet: %w", err)
	}

	uc.invalidate(ctx, wallet.OwnerID, wallet.OwnerType)
	uc.log.Info("Wallet deactivated", logger.Int64Field("wallet_id", walletID))
	return nil
}

// getOrCreateWallet implements the implicit provisioning of the credit path:
// crediting an owner with no active wallet silently opens one at 0.00.
func (uc *ledgerUsecase) getOrCreateWallet(ctx context.Context, ownerID int64, ownerType models.OwnerType) (*models.Wallet, error) {
	wallet, err := uc.wallets.GetActiveByOwner(ctx, ownerID, ownerType)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	uc.log.Info("Auto-provisioning wallet",
		logger.Int64Field("owner_id", ownerID),
		logger.StringField("owner_type", string(ownerType)))

	wallet = &models.Wallet{
		OwnerID:   ownerID,
		OwnerType: ownerType,
		Balance:   decimal.Zero.Round(models.MoneyScale),
	}
	err = uc.wallets.Create(ctx, wallet)
	if errors.Is(err, repository.ErrDuplicateWallet) {
		// Lost a create race with another process; the wallet exists now.
		return uc.wallets.GetActiveByOwner(ctx, ownerID, ownerType)
	}
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return wallet, nil
}

func buildRecord(wallet *models.Wallet, txType models.TransactionType, amount decimal.Decimal, reference, description string) *models.Transaction {
	before := wallet.Balance
	after := before.Add(amount)
	if txType == models.TransactionDebit {
		after = before.Sub(amount)
	}
	return &models.Transaction{
		WalletID:      wallet.ID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after.Round(models.MoneyScale),
		Reference:     reference,
		Description:   description,
	}
}

func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(models.MoneyScale)
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

func (uc *ledgerUsecase) invalidate(ctx context.Context, ownerID int64, ownerType models.OwnerType) {
	if cacheErr := uc.cache.InvalidateWallet(ctx, ownerID, ownerType); cacheErr != nil {
		uc.log.Warn("Wallet cache invalidation failed",
			logger.Int64Field("owner_id", ownerID),
			logger.StringField("owner_type", string(ownerType)),
			logger.ErrorField("error", cacheErr))
	}
}

func (uc *ledgerUsecase) observe(operation string, start time.Time, err *error) {
	result := "success"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrConcurrencyConflict):
		result = "conflict"
	case errors.Is(*err, ErrInvalidAmount),
		errors.Is(*err, ErrWalletNotFound),
		errors.Is(*err, ErrWalletExists),
		errors.Is(*err, ErrInsufficientBalance),
		errors.Is(*err, ErrSameWallet):
		result = "rejected"
	default:
		result = "error"
	}
	uc.metrics.RecordOperation(operation, result, time.Since(start))
}
