package usecase_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliverhq/walletd/internal/core/logger"
	"github.com/deliverhq/walletd/internal/core/models"
	"github.com/deliverhq/walletd/internal/core/repository/memory"
	"github.com/deliverhq/walletd/internal/core/usecase"
)

func newLedger(t *testing.T) (usecase.LedgerUsecase, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	uc := usecase.NewLedgerUsecase(store.Wallets(), usecase.NoopWalletCache{}, usecase.NoopMetricsCollector{}, logger.NewNop())
	return uc, store
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestProvisionWallet(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	wallet, err := uc.ProvisionWallet(ctx, 5, models.OwnerTypeDriver, "driver earnings")
	require.NoError(t, err)

	assert.Equal(t, int64(5), wallet.OwnerID)
	assert.Equal(t, models.OwnerTypeDriver, wallet.OwnerType)
	assert.True(t, wallet.Active)
	assert.True(t, wallet.Balance.IsZero())
}

func TestProvisionWalletTwiceFails(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	_, err := uc.ProvisionWallet(ctx, 5, models.OwnerTypeDriver, "")
	require.NoError(t, err)

	_, err = uc.ProvisionWallet(ctx, 5, models.OwnerTypeDriver, "")
	assert.ErrorIs(t, err, usecase.ErrWalletExists)
}

func TestProvisionSameOwnerDifferentType(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	_, err := uc.ProvisionWallet(ctx, 5, models.OwnerTypeDriver, "")
	require.NoError(t, err)

	// Same owner id under a different owner type is a distinct wallet.
	_, err = uc.ProvisionWallet(ctx, 5, models.OwnerTypePartner, "")
	assert.NoError(t, err)
}

func TestCreditRecordsTransaction(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	_, err := uc.ProvisionWallet(ctx, 5, models.OwnerTypeDriver, "")
	require.NoError(t, err)

	wallet, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "500.00"), "REF1", "payout reversal")
	require.NoError(t, err)
	assert.Equal(t, "500.00", wallet.Balance.StringFixed(2))

	txs, err := store.Transactions().ListByWalletAndType(ctx, wallet.ID, models.TransactionCredit)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "500.00", txs[0].Amount.StringFixed(2))
	assert.Equal(t, "0.00", txs[0].BalanceBefore.StringFixed(2))
	assert.Equal(t, "500.00", txs[0].BalanceAfter.StringFixed(2))
	assert.Equal(t, "REF1", txs[0].Reference)
}

func TestCreditAutoProvisionsUnknownOwner(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	wallet, err := uc.Credit(ctx, 999, models.OwnerTypePartner, dec(t, "100.00"), "", "")
	require.NoError(t, err)

	assert.Equal(t, int64(999), wallet.OwnerID)
	assert.Equal(t, models.OwnerTypePartner, wallet.OwnerType)
	assert.Equal(t, "100.00", wallet.Balance.StringFixed(2))
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	_, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, decimal.Zero, "", "")
	assert.ErrorIs(t, err, usecase.ErrInvalidAmount)

	_, err = uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "-10.00"), "", "")
	assert.ErrorIs(t, err, usecase.ErrInvalidAmount)
}

func TestDebitHappyPath(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	_, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "500.00"), "REF1", "")
	require.NoError(t, err)

	wallet, err := uc.Debit(ctx, 5, models.OwnerTypeDriver, dec(t, "200.00"), "REF2", "payout")
	require.NoError(t, err)
	assert.Equal(t, "300.00", wallet.Balance.StringFixed(2))
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	_, err := uc.Debit(ctx, 5, models.OwnerTypeDriver, decimal.Zero, "", "")
	assert.ErrorIs(t, err, usecase.ErrInvalidAmount)
}

func TestDebitUnknownOwnerFails(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	_, err := uc.Debit(ctx, 404, models.OwnerTypeDriver, dec(t, "10.00"), "", "")
	assert.ErrorIs(t, err, usecase.ErrWalletNotFound)
}

func TestDebitInsufficientBalanceLeavesNoTrace(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	wallet, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "300.00"), "", "")
	require.NoError(t, err)

	countBefore, err := store.Transactions().CountByWallet(ctx, wallet.ID)
	require.NoError(t, err)

	_, err = uc.Debit(ctx, 5, models.OwnerTypeDriver, dec(t, "1000.00"), "", "")
	assert.ErrorIs(t, err, usecase.ErrInsufficientBalance)

	// Neither the balance nor the history moved.
	after, err := store.Wallets().GetActiveByOwner(ctx, 5, models.OwnerTypeDriver)
	require.NoError(t, err)
	assert.Equal(t, "300.00", after.Balance.StringFixed(2))

	countAfter, err := store.Transactions().CountByWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, countBefore, countAfter)
}

func TestDebitToExactlyZero(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	_, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "300.00"), "", "")
	require.NoError(t, err)

	wallet, err := uc.Debit(ctx, 5, models.OwnerTypeDriver, dec(t, "300.00"), "", "")
	require.NoError(t, err)
	assert.Equal(t, "0.00", wallet.Balance.StringFixed(2))
}

func TestAmountRoundedHalfUp(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	wallet, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "10.005"), "", "")
	require.NoError(t, err)
	assert.Equal(t, "10.01", wallet.Balance.StringFixed(2))
}

func TestBalanceMatchesTransactionHistory(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	ops := []struct {
		credit bool
		amount string
	}{
		{true, "120.50"}, {true, "79.49"}, {false, "30.00"},
		{true, "15.01"}, {false, "100.00"}, {false, "85.00"},
	}

	for _, op := range ops {
		var err error
		if op.credit {
			_, err = uc.Credit(ctx, 7, models.OwnerTypePartner, dec(t, op.amount), "", "")
		} else {
			_, err = uc.Debit(ctx, 7, models.OwnerTypePartner, dec(t, op.amount), "", "")
		}
		require.NoError(t, err)
	}

	wallet, err := store.Wallets().GetActiveByOwner(ctx, 7, models.OwnerTypePartner)
	require.NoError(t, err)

	credits, err := store.Transactions().SumAmountByWalletAndType(ctx, wallet.ID, models.TransactionCredit)
	require.NoError(t, err)
	debits, err := store.Transactions().SumAmountByWalletAndType(ctx, wallet.ID, models.TransactionDebit)
	require.NoError(t, err)

	assert.True(t, wallet.Balance.Equal(credits.Sub(debits)),
		"balance %s != credits %s - debits %s", wallet.Balance, credits, debits)
}

func TestTransactionChainIsMonotonic(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	amounts := []string{"50.00", "25.00", "10.00", "5.00"}
	for i, a := range amounts {
		var err error
		if i%2 == 0 {
			_, err = uc.Credit(ctx, 9, models.OwnerTypeDriver, dec(t, a), "", "")
		} else {
			_, err = uc.Debit(ctx, 9, models.OwnerTypeDriver, dec(t, a), "", "")
		}
		require.NoError(t, err)
	}

	wallet, err := store.Wallets().GetActiveByOwner(ctx, 9, models.OwnerTypeDriver)
	require.NoError(t, err)

	page, err := store.Transactions().ListByWallet(ctx, wallet.ID, 1, 100)
	require.NoError(t, err)
	require.Len(t, page.Items, len(amounts))

	// Newest first: balanceBefore of entry k must equal balanceAfter of k+1.
	for i := 0; i < len(page.Items)-1; i++ {
		assert.True(t, page.Items[i].BalanceBefore.Equal(page.Items[i+1].BalanceAfter))
	}
	assert.True(t, page.Items[0].BalanceAfter.Equal(wallet.Balance))
}

func TestConcurrentCredits(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	_, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "10.00"), "seed", "")
	require.NoError(t, err)

	const goroutines = 100
	amount := dec(t, "1.00")

	var wg sync.WaitGroup
	wg.Add(goroutines)
	errCh := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, amount, "", "")
			errCh <- err
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	wallet, err := store.Wallets().GetActiveByOwner(ctx, 5, models.OwnerTypeDriver)
	require.NoError(t, err)
	assert.Equal(t, "110.00", wallet.Balance.StringFixed(2))

	count, err := store.Transactions().CountByWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines+1), count)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	_, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "50.00"), "", "")
	require.NoError(t, err)

	const goroutines = 100
	amount := dec(t, "1.00")

	var wg sync.WaitGroup
	wg.Add(goroutines)
	var succeeded int64
	var mu sync.Mutex

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if _, err := uc.Debit(ctx, 5, models.OwnerTypeDriver, amount, "", ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Only 50 of the 100 debits can be covered.
	assert.Equal(t, int64(50), succeeded)

	wallet, err := store.Wallets().GetActiveByOwner(ctx, 5, models.OwnerTypeDriver)
	require.NoError(t, err)
	assert.Equal(t, "0.00", wallet.Balance.StringFixed(2))
	assert.False(t, wallet.Balance.IsNegative())
}

func TestTransfer(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	_, err := uc.Credit(ctx, 1, models.OwnerTypePartner, dec(t, "400.00"), "", "")
	require.NoError(t, err)

	res, err := uc.Transfer(ctx, usecase.TransferRequest{
		FromOwnerID:   1,
		FromOwnerType: models.OwnerTypePartner,
		ToOwnerID:     2,
		ToOwnerType:   models.OwnerTypeDriver,
		Amount:        dec(t, "150.00"),
		Reference:     "PAYOUT-77",
	})
	require.NoError(t, err)

	assert.Equal(t, "250.00", res.From.Balance.StringFixed(2))
	assert.Equal(t, "150.00", res.To.Balance.StringFixed(2))

	// One DEBIT on the source, one CREDIT on the destination, same reference.
	debits, err := store.Transactions().ListByWalletAndType(ctx, res.From.ID, models.TransactionDebit)
	require.NoError(t, err)
	require.Len(t, debits, 1)
	assert.Equal(t, "PAYOUT-77", debits[0].Reference)

	credits, err := store.Transactions().ListByWalletAndType(ctx, res.To.ID, models.TransactionCredit)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "PAYOUT-77", credits[0].Reference)
}

func TestTransferInsufficientBalanceIsAtomic(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	_, err := uc.Credit(ctx, 1, models.OwnerTypePartner, dec(t, "100.00"), "", "")
	require.NoError(t, err)
	_, err = uc.Credit(ctx, 2, models.OwnerTypeDriver, dec(t, "20.00"), "", "")
	require.NoError(t, err)

	_, err = uc.Transfer(ctx, usecase.TransferRequest{
		FromOwnerID:   1,
		FromOwnerType: models.OwnerTypePartner,
		ToOwnerID:     2,
		ToOwnerType:   models.OwnerTypeDriver,
		Amount:        dec(t, "500.00"),
	})
	assert.ErrorIs(t, err, usecase.ErrInsufficientBalance)

	from, err := store.Wallets().GetActiveByOwner(ctx, 1, models.OwnerTypePartner)
	require.NoError(t, err)
	to, err := store.Wallets().GetActiveByOwner(ctx, 2, models.OwnerTypeDriver)
	require.NoError(t, err)
	assert.Equal(t, "100.00", from.Balance.StringFixed(2))
	assert.Equal(t, "20.00", to.Balance.StringFixed(2))
}

func TestTransferToSameOwnerRejected(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	_, err := uc.Transfer(ctx, usecase.TransferRequest{
		FromOwnerID:   1,
		FromOwnerType: models.OwnerTypeDriver,
		ToOwnerID:     1,
		ToOwnerType:   models.OwnerTypeDriver,
		Amount:        dec(t, "10.00"),
	})
	assert.ErrorIs(t, err, usecase.ErrSameWallet)
}

func TestConcurrentOppositeTransfers(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	_, err := uc.Credit(ctx, 1, models.OwnerTypeDriver, dec(t, "100.00"), "", "")
	require.NoError(t, err)
	_, err = uc.Credit(ctx, 2, models.OwnerTypeDriver, dec(t, "100.00"), "", "")
	require.NoError(t, err)

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			uc.Transfer(ctx, usecase.TransferRequest{
				FromOwnerID: 1, FromOwnerType: models.OwnerTypeDriver,
				ToOwnerID: 2, ToOwnerType: models.OwnerTypeDriver,
				Amount: dec(t, "1.00"),
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			uc.Transfer(ctx, usecase.TransferRequest{
				FromOwnerID: 2, FromOwnerType: models.OwnerTypeDriver,
				ToOwnerID: 1, ToOwnerType: models.OwnerTypeDriver,
				Amount: dec(t, "1.00"),
			})
		}
	}()
	wg.Wait()

	// Money only moved between the two wallets; the total is conserved.
	total, err := store.Wallets().SumBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200.00", total.StringFixed(2))
}

func TestDeactivatedWalletRejectsDebit(t *testing.T) {
	uc, _ := newLedger(t)
	ctx := context.Background()

	wallet, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "100.00"), "", "")
	require.NoError(t, err)

	require.NoError(t, uc.DeactivateWallet(ctx, wallet.ID))

	_, err = uc.Debit(ctx, 5, models.OwnerTypeDriver, dec(t, "10.00"), "", "")
	assert.ErrorIs(t, err, usecase.ErrWalletNotFound)
}

func TestCreditAfterDeactivationOpensFreshWallet(t *testing.T) {
	uc, store := newLedger(t)
	ctx := context.Background()

	old, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "100.00"), "", "")
	require.NoError(t, err)
	require.NoError(t, uc.DeactivateWallet(ctx, old.ID))

	fresh, err := uc.Credit(ctx, 5, models.OwnerTypeDriver, dec(t, "25.00"), "", "")
	require.NoError(t, err)

	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, "25.00", fresh.Balance.StringFixed(2))

	// The deactivated wallet keeps its balance and history.
	kept, err := store.Wallets().GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, kept.Active)
	assert.Equal(t, "100.00", kept.Balance.StringFixed(2))
}

func TestDeactivateUnknownWallet(t *testing.T) {
	uc, _ := newLedger(t)
	err := uc.DeactivateWallet(context.Background(), 12345)
	assert.ErrorIs(t, err, usecase.ErrWalletNotFound)
}
