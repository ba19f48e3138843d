package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType determines the direction of a balance mutation.
type TransactionType string

const (
	// TransactionCredit increases the wallet balance.
	TransactionCredit TransactionType = "CREDIT"
	// TransactionDebit decreases the wallet balance.
	TransactionDebit TransactionType = "DEBIT"
)

// ParseTransactionType normalizes and validates a caller-supplied transaction type.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToUpper(strings.TrimSpace(s))) {
	case TransactionCredit:
		return TransactionCredit, nil
	case TransactionDebit:
		return TransactionDebit, nil
	default:
		return "", fmt.Errorf("unknown transaction type: %q", s)
	}
}

// Transaction is one immutable entry of the append-only ledger. Amount, type
// and the balance snapshots are never modified after the row is written; the
// active flag only excludes the row from reporting, never from balance history.
type Transaction struct {
	ID            int64           `json:"id" db:"id"`
	WalletID      int64           `json:"wallet_id" db:"wallet_id"`
	Type          TransactionType `json:"transaction_type" db:"transaction_type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	Reference     string          `json:"reference" db:"reference"`
	Description   string          `json:"description" db:"description"`
	Active        bool            `json:"active" db:"active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NetAmount returns the signed contribution of the transaction to the balance.
func (t *Transaction) NetAmount() decimal.Decimal {
	if t.Type == TransactionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// TransactionPage is one page of a wallet's transaction history, newest first.
type TransactionPage struct {
	Items      []Transaction `json:"items"`
	Page       int           `json:"page"`
	Size       int           `json:"size"`
	Total      int64         `json:"total"`
	TotalPages int           `json:"total_pages"`
}
