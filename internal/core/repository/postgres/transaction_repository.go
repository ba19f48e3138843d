package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/deliverhq/walletd/internal/core/logger"
	"github.com/deliverhq/walletd/internal/core/models"
	"github.com/deliverhq/walletd/internal/core/repository"
)

const transactionColumns = `id, wallet_id, transaction_type, amount, balance_before, balance_after, reference, description, active, created_at`

type postgresTransactionRepo struct {
	db  *sqlx.DB
	log logger.Logger
}

func NewPostgresTransactionRepo(db *sqlx.DB, log logger.Logger) repository.TransactionRepository {
	return &postgresTransactionRepo{
		db:  db,
		log: log,
	}
}

func (r *postgresTransactionRepo) ListByWallet(ctx context.Context, walletID int64, page, size int) (*models.TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1 AND active`
	if err := r.db.GetContext(ctx, &total, countQuery, walletID); err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}

	items := []models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions
		WHERE wallet_id = $1 AND active
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &items, query, walletID, size, (page-1)*size); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	totalPages := int((total + int64(size) - 1) / int64(size))
	return &models.TransactionPage{
		Items:      items,
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

func (r *postgresTransactionRepo) ListByWalletAndType(ctx context.Context, walletID int64, txType models.TransactionType) ([]models.Transaction, error) {
	items := []models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions
		WHERE wallet_id = $1 AND transaction_type = $2 AND active
		ORDER BY created_at DESC, id DESC`
	if err := r.db.SelectContext(ctx, &items, query, walletID, txType); err != nil {
		return nil, fmt.Errorf("list transactions by type: %w", err)
	}
	return items, nil
}

func (r *postgresTransactionRepo) ListRecent(ctx context.Context, limit int) ([]models.Transaction, error) {
	items := []models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions
		WHERE active
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	if err := r.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return items, nil
}

func (r *postgresTransactionRepo) ListByReference(ctx context.Context, reference string) ([]models.Transaction, error) {
	items := []models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions
		WHERE reference = $1 AND active
		ORDER BY created_at DESC, id DESC`
	if err := r.db.SelectContext(ctx, &items, query, reference); err != nil {
		return nil, fmt.Errorf("list transactions by reference: %w", err)
	}
	return items, nil
}

func (r *postgresTransactionRepo) SumAmountByType(ctx context.Context, txType models.TransactionType) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE transaction_type = $1 AND active`
	if err := r.db.GetContext(ctx, &total, query, txType); err != nil {
		return decimal.Zero, fmt.Errorf("sum amounts by type: %w", err)
	}
	return total, nil
}

func (r *postgresTransactionRepo) SumAmountByWalletAndType(ctx context.Context, walletID int64, txType models.TransactionType) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions
		WHERE wallet_id = $1 AND transaction_type = $2 AND active`
	if err := r.db.GetContext(ctx, &total, query, walletID, txType); err != nil {
		return decimal.Zero, fmt.Errorf("sum amounts by wallet and type: %w", err)
	}
	return total, nil
}

func (r *postgresTransactionRepo) CountByWallet(ctx context.Context, walletID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1 AND active`
	if err := r.db.GetContext(ctx, &count, query, walletID); err != nil {
		return 0, fmt.Errorf("count transactions by wallet: %w", err)
	}
	return count, nil
}
