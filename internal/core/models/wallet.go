package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the fixed-point scale for every monetary value in the ledger.
// Amounts are rounded half-up to this scale before any arithmetic.
const MoneyScale = 2

// OwnerType identifies the kind of entity a wallet belongs to.
type OwnerType string

const (
	OwnerTypeDriver  OwnerType = "DRIVER"
	OwnerTypePartner OwnerType = "PARTNER"
)

// ParseOwnerType normalizes and validates a caller-supplied owner type.
func ParseOwnerType(s string) (OwnerType, error) {
	switch OwnerType(strings.ToUpper(strings.TrimSpace(s))) {
	case OwnerTypeDriver:
		return OwnerTypeDriver, nil
	case OwnerTypePartner:
		return OwnerTypePartner, nil
	default:
		return "", fmt.Errorf("unknown owner type: %q", s)
	}
}

// Wallet holds the balance of a single owner. At most one active wallet exists
// per (owner_id, owner_type) pair; deactivated wallets are never deleted and
// stay queryable for history.
type Wallet struct {
	ID          int64           `json:"id" db:"id"`
	OwnerID     int64           `json:"owner_id" db:"owner_id"`
	OwnerType   OwnerType       `json:"owner_type" db:"owner_type"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Description string          `json:"description" db:"description"`
	Active      bool            `json:"active" db:"active"`
	Version     int64           `json:"-" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// HasSufficientBalance reports whether the wallet can cover amount.
func (w *Wallet) HasSufficientBalance(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}
