package usecase

import "errors"

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists for owner")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConcurrencyConflict = errors.New("wallet update conflict, retry the operation")
	ErrSameWallet          = errors.New("transfer requires two distinct wallets")
)
