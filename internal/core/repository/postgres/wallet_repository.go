package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/deliverhq/walletd/internal/core/logger"
	"github.com/deliverhq/walletd/internal/core/models"
	"github.com/deliverhq/walletd/internal/core/repository"
)

const pqUniqueViolation = "23505"

const walletColumns = `id, owner_id, owner_type, balance, description, active, version, created_at, updated_at`

type postgresWalletRepo struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewPostgresWalletRepo(db *sqlx.DB, log logger.Logger) repository.WalletRepository {
	return &postgresWalletRepo{
		db:  db,
		log: log,
	}
}

func (r *postgresWalletRepo) GetByID(ctx context.Context, id int64) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	err := r.db.GetContext(ctx, &wallet, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}

	return &wallet, nil
}

func (r *postgresWalletRepo) GetActiveByOwner(ctx context.Context, ownerID int64, ownerType models.OwnerType) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND owner_type = $2 AND active`
	err := r.db.GetContext(ctx, &wallet, query, ownerID, ownerType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet by owner: %w", err)
	}

	return &wallet, nil
}

func (r *postgresWalletRepo) ListActiveByOwnerID(ctx context.Context, ownerID int64) ([]models.Wallet, error) {
	wallets := []models.Wallet{}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND active ORDER BY id`
	if err := r.db.SelectContext(ctx, &wallets, query, ownerID); err != nil {
		return nil, fmt.Errorf("list wallets by owner id: %w", err)
	}
	return wallets, nil
}

func (r *postgresWalletRepo) ListActiveByOwnerType(ctx context.Context, ownerType models.OwnerType) ([]models.Wallet, error) {
	wallets := []models.Wallet{}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_type = $1 AND active ORDER BY id`
	if err := r.db.SelectContext(ctx, &wallets, query, ownerType); err != nil {
		return nil, fmt.Errorf("list wallets by owner type: %w", err)
	}
	return wallets, nil
}

func (r *postgresWalletRepo) Create(ctx context.Context, wallet *models.Wallet) error {
	query := `INSERT INTO wallets (owner_id, owner_type, balance, description, active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, version, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		wallet.OwnerID,
		wallet.OwnerType,
		wallet.Balance,
		wallet.Description,
	).Scan(&wallet.ID, &wallet.Version, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return repository.ErrDuplicateWallet
		}
		return fmt.Errorf("create wallet: %w", err)
	}

	wallet.Active = true
	return nil
}

func (r *postgresWalletRepo) Deactivate(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE wallets SET active = FALSE, updated_at = NOW() WHERE id = $1 AND active`, id)
	if err != nil {
		return fmt.Errorf("deactivate wallet: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate wallet: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *postgresWalletRepo) ApplyTransaction(ctx context.Context, wallet *models.Wallet, record *models.Transaction) (err error) {
	var isCommitted bool
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.log.Error("Error beginning transaction",
			logger.ErrorField("error", err))
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error("Transaction rollback failed",
					logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	if err = r.updateBalance(ctx, tx, wallet); err != nil {
		return err
	}

	if err = r.appendTransaction(ctx, tx, record); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		r.log.Error("Error committing transaction",
			logger.ErrorField("error", err))
		return fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return nil
}

func (r *postgresWalletRepo) ApplyTransfer(ctx context.Context, debitWallet *models.Wallet, debitRecord *models.Transaction, creditWallet *models.Wallet, creditRecord *models.Transaction) (err error) {
	var isCommitted bool
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.log.Error("Error beginning transaction",
			logger.ErrorField("error", err))
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error("Transaction rollback failed",
					logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	// Fixed global update order avoids deadlock between concurrent transfers.
	first, second := debitWallet, creditWallet
	if second.ID < first.ID {
		first, second = second, first
	}

	if err = r.updateBalance(ctx, tx, first); err != nil {
		return err
	}
	if err = r.updateBalance(ctx, tx, second); err != nil {
		return err
	}

	if err = r.appendTransaction(ctx, tx, debitRecord); err != nil {
		return err
	}
	if err = r.appendTransaction(ctx, tx, creditRecord); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		r.log.Error("Error committing transaction",
			logger.ErrorField("error", err))
		return fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return nil
}

// updateBalance performs the compare-and-swap write: the new balance lands only
// if the row still carries the version the caller read.
func (r *postgresWalletRepo) updateBalance(ctx context.Context, tx *sqlx.Tx, wallet *models.Wallet) error {
	const query = `
		UPDATE wallets
		SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING updated_at
	`

	var updatedAt time.Time
	err := tx.GetContext(ctx, &updatedAt, query, wallet.Balance, wallet.ID, wallet.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrVersionConflict
		}
		return fmt.Errorf("update balance: %w", err)
	}

	wallet.Version++
	wallet.UpdatedAt = updatedAt
	return nil
}

func (r *postgresWalletRepo) appendTransaction(ctx context.Context, tx *sqlx.Tx, record *models.Transaction) error {
	const query = `INSERT INTO wallet_transactions
		(wallet_id, transaction_type, amount, balance_before, balance_after, reference, description, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING id, created_at`

	err := tx.QueryRowxContext(ctx, query,
		record.WalletID,
		record.Type,
		record.Amount,
		record.BalanceBefore,
		record.BalanceAfter,
		record.Reference,
		record.Description,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	record.Active = true
	return nil
}

func (r *postgresWalletRepo) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(balance), 0) FROM wallets WHERE active`
	if err := r.db.GetContext(ctx, &total, query); err != nil {
		return decimal.Zero, fmt.Errorf("sum balances: %w", err)
	}
	return total, nil
}

func (r *postgresWalletRepo) SumBalancesByOwnerType(ctx context.Context, ownerType models.OwnerType) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(balance), 0) FROM wallets WHERE owner_type = $1 AND active`
	if err := r.db.GetContext(ctx, &total, query, ownerType); err != nil {
		return decimal.Zero, fmt.Errorf("sum balances by owner type: %w", err)
	}
	return total, nil
}

func (r *postgresWalletRepo) ListBelowBalance(ctx context.Context, threshold decimal.Decimal) ([]models.Wallet, error) {
	wallets := []models.Wallet{}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE balance < $1 AND active ORDER BY balance, id`
	if err := r.db.SelectContext(ctx, &wallets, query, threshold); err != nil {
		return nil, fmt.Errorf("list wallets below balance: %w", err)
	}
	return wallets, nil
}

func (r *postgresWalletRepo) ListAboveBalance(ctx context.Context, threshold decimal.Decimal) ([]models.Wallet, error) {
	wallets := []models.Wallet{}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE balance > $1 AND active ORDER BY balance DESC, id`
	if err := r.db.SelectContext(ctx, &wallets, query, threshold); err != nil {
		return nil, fmt.Errorf("list wallets above balance: %w", err)
	}
	return wallets, nil
}

func (r *postgresWalletRepo) ListTopByBalance(ctx context.Context, limit int) ([]models.Wallet, error) {
	wallets := []models.Wallet{}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE active ORDER BY balance DESC, id LIMIT $1`
	if err := r.db.SelectContext(ctx, &wallets, query, limit); err != nil {
		return nil, fmt.Errorf("list top wallets: %w", err)
	}
	return wallets, nil
}
