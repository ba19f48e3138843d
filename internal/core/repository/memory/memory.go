// Package memory provides concurrency-safe in-memory implementations of the
// wallet stores, useful for unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deliverhq/walletd/internal/core/models"
	"github.com/deliverhq/walletd/internal/core/repository"
)

type Store struct {
	mu           sync.RWMutex
	wallets      map[int64]*models.Wallet
	transactions []models.Transaction
	nextWalletID int64
	nextTxID     int64
}

func NewStore() *Store {
	return &Store{
		wallets:      make(map[int64]*models.Wallet),
		nextWalletID: 1,
		nextTxID:     1,
	}
}

// Wallets returns the store's WalletRepository view.
func (s *Store) Wallets() repository.WalletRepository { return (*walletStore)(s) }

// Transactions returns the store's TransactionRepository view.
func (s *Store) Transactions() repository.TransactionRepository { return (*transactionStore)(s) }

type walletStore Store

func (s *walletStore) GetByID(_ context.Context, id int64) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneWallet(w), nil
}

func (s *walletStore) GetActiveByOwner(_ context.Context, ownerID int64, ownerType models.OwnerType) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := s.findActiveByOwner(ownerID, ownerType)
	if w == nil {
		return nil, repository.ErrNotFound
	}
	return cloneWallet(w), nil
}

func (s *walletStore) findActiveByOwner(ownerID int64, ownerType models.OwnerType) *models.Wallet {
	for _, w := range s.wallets {
		if w.Active && w.OwnerID == ownerID && w.OwnerType == ownerType {
			return w
		}
	}
	return nil
}

func (s *walletStore) ListActiveByOwnerID(_ context.Context, ownerID int64) ([]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(w *models.Wallet) bool { return w.Active && w.OwnerID == ownerID }), nil
}

func (s *walletStore) ListActiveByOwnerType(_ context.Context, ownerType models.OwnerType) ([]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(w *models.Wallet) bool { return w.Active && w.OwnerType == ownerType }), nil
}

func (s *walletStore) collect(keep func(*models.Wallet) bool) []models.Wallet {
	out := []models.Wallet{}
	for _, w := range s.wallets {
		if keep(w) {
			out = append(out, *cloneWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *walletStore) Create(_ context.Context, wallet *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findActiveByOwner(wallet.OwnerID, wallet.OwnerType) != nil {
		return repository.ErrDuplicateWallet
	}

	now := time.Now()
	wallet.ID = s.nextWalletID
	s.nextWalletID++
	wallet.Active = true
	wallet.Version = 0
	wallet.CreatedAt = now
	wallet.UpdatedAt = now

	s.wallets[wallet.ID] = cloneWallet(wallet)
	return nil
}

func (s *walletStore) Deactivate(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok || !w.Active {
		return repository.ErrNotFound
	}
	w.Active = false
	w.UpdatedAt = time.Now()
	return nil
}

func (s *walletStore) ApplyTransaction(_ context.Context, wallet *models.Wallet, record *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.casUpdate(wallet); err != nil {
		return err
	}
	s.append(record)
	return nil
}

func (s *walletStore) ApplyTransfer(_ context.Context, debitWallet *models.Wallet, debitRecord *models.Transaction, creditWallet *models.Wallet, creditRecord *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, second := debitWallet, creditWallet
	if second.ID < first.ID {
		first, second = second, first
	}

	// Validate both versions before touching anything so a conflict on the
	// second wallet cannot leave a half-applied transfer.
	for _, w := range []*models.Wallet{first, second} {
		stored, ok := s.wallets[w.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.Version != w.Version {
			return repository.ErrVersionConflict
		}
	}

	if err := s.casUpdate(first); err != nil {
		return err
	}
	if err := s.casUpdate(second); err != nil {
		return err
	}
	s.append(debitRecord)
	s.append(creditRecord)
	return nil
}

// casUpdate mirrors the conditional UPDATE of the Postgres store: the write
// succeeds only against the version the caller read. Must hold s.mu.
func (s *walletStore) casUpdate(wallet *models.Wallet) error {
	stored, ok := s.wallets[wallet.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != wallet.Version {
		return repository.ErrVersionConflict
	}
	stored.Balance = wallet.Balance
	stored.Version++
	stored.UpdatedAt = time.Now()
	wallet.Version = stored.Version
	wallet.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *walletStore) append(record *models.Transaction) {
	record.ID = s.nextTxID
	s.nextTxID++
	record.Active = true
	record.CreatedAt = time.Now()
	s.transactions = append(s.transactions, *record)
}

func (s *walletStore) SumBalances(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, w := range s.wallets {
		if w.Active {
			total = total.Add(w.Balance)
		}
	}
	return total, nil
}

func (s *walletStore) SumBalancesByOwnerType(_ context.Context, ownerType models.OwnerType) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, w := range s.wallets {
		if w.Active && w.OwnerType == ownerType {
			total = total.Add(w.Balance)
		}
	}
	return total, nil
}

func (s *walletStore) ListBelowBalance(_ context.Context, threshold decimal.Decimal) ([]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(w *models.Wallet) bool { return w.Active && w.Balance.LessThan(threshold) }), nil
}

func (s *walletStore) ListAboveBalance(_ context.Context, threshold decimal.Decimal) ([]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(w *models.Wallet) bool { return w.Active && w.Balance.GreaterThan(threshold) }), nil
}

func (s *walletStore) ListTopByBalance(_ context.Context, limit int) ([]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.collect(func(w *models.Wallet) bool { return w.Active })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Balance.GreaterThan(out[j].Balance) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type transactionStore Store

func (s *transactionStore) ListByWallet(_ context.Context, walletID int64, page, size int) (*models.TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.filter(func(t *models.Transaction) bool { return t.Active && t.WalletID == walletID })
	reverse(all)

	total := int64(len(all))
	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}

	return &models.TransactionPage{
		Items:      all[start:end],
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

func (s *transactionStore) ListByWalletAndType(_ context.Context, walletID int64, txType models.TransactionType) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filter(func(t *models.Transaction) bool {
		return t.Active && t.WalletID == walletID && t.Type == txType
	})
	reverse(out)
	return out, nil
}

func (s *transactionStore) ListRecent(_ context.Context, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filter(func(t *models.Transaction) bool { return t.Active })
	reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *transactionStore) ListByReference(_ context.Context, reference string) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.filter(func(t *models.Transaction) bool { return t.Active && t.Reference == reference })
	reverse(out)
	return out, nil
}

func (s *transactionStore) SumAmountByType(_ context.Context, txType models.TransactionType) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for i := range s.transactions {
		t := &s.transactions[i]
		if t.Active && t.Type == txType {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (s *transactionStore) SumAmountByWalletAndType(_ context.Context, walletID int64, txType models.TransactionType) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for i := range s.transactions {
		t := &s.transactions[i]
		if t.Active && t.WalletID == walletID && t.Type == txType {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (s *transactionStore) CountByWallet(_ context.Context, walletID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for i := range s.transactions {
		if s.transactions[i].Active && s.transactions[i].WalletID == walletID {
			count++
		}
	}
	return count, nil
}

func (s *transactionStore) filter(keep func(*models.Transaction) bool) []models.Transaction {
	out := []models.Transaction{}
	for i := range s.transactions {
		if keep(&s.transactions[i]) {
			out = append(out, s.transactions[i])
		}
	}
	return out
}

func reverse(items []models.Transaction) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func cloneWallet(w *models.Wallet) *models.Wallet {
	c := *w
	return &c
}
