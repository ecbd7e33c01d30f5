package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Account is a user balance row. No account is special; provisioning happens
// through CreateAccount, never through hardcoded ids.
type Account struct {
	UserID    int64           `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateAccount provisions a new account with a starting balance (zero or
// positive) and returns the store-assigned user id.
func (s *Service) CreateAccount(ctx context.Context, startingBalance decimal.Decimal) (*Account, error) {
	if startingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: starting balance %s", ErrInvalidDeposit, startingBalance)
	}

	account := &Account{Balance: startingBalance}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (balance) VALUES ($1::NUMERIC) RETURNING user_id, created_at`,
		startingBalance.String(),
	).Scan(&account.UserID, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	log.Printf("[LEDGER] Provisioned account %d with balance %s", account.UserID, startingBalance)
	return account, nil
}

// GetBalance reads a user's current balance.
func (s *Service) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balanceText string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&balanceText)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: user %d", ErrAccountNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance for user %d: %w", userID, err)
	}

	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", balanceText, err)
	}
	return balance, nil
}

// Deposit credits an account and returns the new balance.
func (s *Service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidDeposit, amount)
	}

	var balanceText string
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $1::NUMERIC WHERE user_id = $2 RETURNING balance::TEXT`,
		amount.String(), userID,
	).Scan(&balanceText)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: user %d", ErrAccountNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("deposit for user %d: %w", userID, err)
	}

	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", balanceText, err)
	}
	return balance, nil
}
