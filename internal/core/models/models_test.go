package models_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliverhq/walletd/internal/core/models"
)

func TestParseOwnerType(t *testing.T) {
	for input, want := range map[string]models.OwnerType{
		"DRIVER":    models.OwnerTypeDriver,
		"driver":    models.OwnerTypeDriver,
		" partner ": models.OwnerTypePartner,
		"Partner":   models.OwnerTypePartner,
	} {
		got, err := models.ParseOwnerType(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got)
	}

	_, err := models.ParseOwnerType("CUSTOMER")
	assert.Error(t, err)
	_, err = models.ParseOwnerType("")
	assert.Error(t, err)
}

func TestParseTransactionType(t *testing.T) {
	got, err := models.ParseTransactionType("credit")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCredit, got)

	got, err = models.ParseTransactionType("DEBIT")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionDebit, got)

	_, err = models.ParseTransactionType("REFUND")
	assert.Error(t, err)
}

func TestHasSufficientBalance(t *testing.T) {
	w := &models.Wallet{Balance: decimal.RequireFromString("100.00")}

	assert.True(t, w.HasSufficientBalance(decimal.RequireFromString("99.99")))
	assert.True(t, w.HasSufficientBalance(decimal.RequireFromString("100.00")))
	assert.False(t, w.HasSufficientBalance(decimal.RequireFromString("100.01")))
}

func TestNetAmount(t *testing.T) {
	credit := models.Transaction{Type: models.TransactionCredit, Amount: decimal.RequireFromString("10.00")}
	debit := models.Transaction{Type: models.TransactionDebit, Amount: decimal.RequireFromString("10.00")}

	assert.True(t, credit.NetAmount().Equal(decimal.RequireFromString("10.00")))
	assert.True(t, debit.NetAmount().Equal(decimal.RequireFromString("-10.00")))
}
