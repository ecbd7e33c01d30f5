package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

// Round is a persisted crash round. The committed multiplier never reaches
// clients through serialization; it is revealed only in the crash event.
type Round struct {
	ID         int64     `json:"id"`
	Hash       string    `json:"hash"`
	Multiplier float64   `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Bet is a player's stake on one round. At most one bet exists per
// (user, round) pair, enforced by a unique index.
type Bet struct {
	ID         int64           `json:"id"`
	RoundID    int64           `json:"round_id"`
	UserID     int64           `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	TookProfit bool            `json:"took_profit"`
	CreatedAt  time.Time       `json:"created_at"`
}

// LiveSource exposes the round engine's authoritative live multiplier for
// validating client-claimed cash-out values.
type LiveSource interface {
	LiveMultiplier() float64
}

// Config holds bet bounds.
type Config struct {
	MinBet float64
	MaxBet float64
}

func DefaultConfig() Config {
	return Config{MinBet: 1, MaxBet: 10000}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.MinBet = getEnvAsFloat("MIN_BET", cfg.MinBet)
	cfg.MaxBet = getEnvAsFloat("MAX_BET", cfg.MaxBet)
	return cfg
}

// Service owns every consistency guarantee between money and bet records.
// All mutating operations run in single transactions with row locks; the
// round engine never touches balances directly.
type Service struct {
	pool *pgxpool.Pool
	cfg  Config
	live LiveSource
}

func NewService(pool *pgxpool.Pool, cfg Config) *Service {
	return &Service{pool: pool, cfg: cfg}
}

// SetLiveSource wires the round engine in once it exists. Without one,
// client multipliers are accepted unchecked (standalone ledger use).
func (s *Service) SetLiveSource(src LiveSource) {
	s.live = src
}

// OpenRound inserts a new active round with its committed hash/multiplier
// and returns the store-assigned id.
func (s *Service) OpenRound(ctx context.Context, hash string, multiplier float64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO rounds (hash, multiplier) VALUES ($1, $2::NUMERIC) RETURNING id`,
		hash, decimal.NewFromFloat(multiplier).String(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("open round: %w", err)
	}
	return id, nil
}

// CloseRound flips a round to inactive. Closing an already closed round is a
// no-op; the flag never transitions back to true.
func (s *Service) CloseRound(ctx context.Context, roundID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE rounds SET active = FALSE WHERE id = $1`, roundID)
	if err != nil {
		return fmt.Errorf("close round %d: %w", roundID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: round %d", ErrRoundNotFound, roundID)
	}
	return nil
}

// GetRound fetches one round by id.
func (s *Service) GetRound(ctx context.Context, roundID int64) (*Round, error) {
	var (
		r          Round
		multiplier string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, hash, multiplier::TEXT, active, created_at FROM rounds WHERE id = $1`,
		roundID,
	).Scan(&r.ID, &r.Hash, &multiplier, &r.Active, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: round %d", ErrRoundNotFound, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("get round %d: %w", roundID, err)
	}
	r.Multiplier, _ = strconv.ParseFloat(multiplier, 64)
	return &r, nil
}

// LastRoundHash returns the newest round's commitment hash so a restarting
// engine can resume the chain, or "" when no round was ever played.
func (s *Service) LastRoundHash(ctx context.Context) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT hash FROM rounds ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last round hash: %w", err)
	}
	return hash, nil
}

// PlaceBet validates and persists a stake, debiting the account in the same
// transaction. Concurrent placements for one (user, round) race safely:
// exactly one insert wins, the rest fail the unique index and roll back
// their debit.
func (s *Service) PlaceBet(ctx context.Context, userID, roundID int64, amount float64) (*Bet, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) || math.Floor(amount) != amount {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if amount < s.cfg.MinBet {
		return nil, fmt.Errorf("%w: minimum is %v, got %v", ErrAmountTooLow, s.cfg.MinBet, amount)
	}
	if amount > s.cfg.MaxBet {
		return nil, fmt.Errorf("%w: maximum is %v, got %v", ErrAmountTooHigh, s.cfg.MaxBet, amount)
	}

	stake := decimal.NewFromFloat(amount)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin place bet: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM bets WHERE user_id = $1 AND round_id = $2`,
		userID, roundID,
	).Scan(&existing)
	if err == nil {
		return nil, fmt.Errorf("%w: user %d, round %d", ErrDuplicateBet, userID, roundID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing bet: %w", err)
	}

	var active bool
	err = tx.QueryRow(ctx, `SELECT active FROM rounds WHERE id = $1`, roundID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: round %d", ErrRoundNotFound, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("load round %d: %w", roundID, err)
	}
	if !active {
		return nil, fmt.Errorf("%w: round %d", ErrRoundNotActive, roundID)
	}

	// Row lock on the account serializes concurrent debits for this user.
	var balanceText string
	err = tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&balanceText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %d", ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load balance for user %d: %w", userID, err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balanceText, err)
	}
	if balance.LessThan(stake) {
		return nil, fmt.Errorf("%w: required %s, available %s", ErrInsufficientBalance, stake, balance)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $1::NUMERIC WHERE user_id = $2`,
		stake.String(), userID,
	); err != nil {
		return nil, fmt.Errorf("debit user %d: %w", userID, err)
	}

	bet := &Bet{RoundID: roundID, UserID: userID, Amount: stake}
	err = tx.QueryRow(ctx,
		`INSERT INTO bets (round_id, user_id, amount) VALUES ($1, $2, $3::NUMERIC) RETURNING id, created_at`,
		roundID, userID, stake.String(),
	).Scan(&bet.ID, &bet.CreatedAt)
	if isUniqueViolation(err) {
		// Lost the race to a concurrent placement; the debit rolls back.
		return nil, fmt.Errorf("%w: user %d, round %d", ErrDuplicateBet, userID, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert bet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit place bet: %w", err)
	}

	log.Printf("[LEDGER] User %d staked %s on round %d (bet %d)", userID, stake, roundID, bet.ID)
	return bet, nil
}

// TakeProfit settles a cash-out: credit stake x multiplier and flip the
// bet's took_profit flag in one transaction. The row lock plus the flag
// check make the payout exactly-once under concurrent duplicate requests.
func (s *Service) TakeProfit(ctx context.Context, betID int64, clientMultiplier float64) (*Bet, error) {
	if clientMultiplier <= 0 || math.IsNaN(clientMultiplier) || math.IsInf(clientMultiplier, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMultiplier, clientMultiplier)
	}
	if s.live != nil {
		if live := s.live.LiveMultiplier(); clientMultiplier > live {
			return nil, fmt.Errorf("%w: claimed %.2f, live %.2f", ErrMultiplierTooHigh, clientMultiplier, live)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin take profit: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		bet        Bet
		amountText string
		active     bool
	)
	err = tx.QueryRow(ctx,
		`SELECT b.id, b.round_id, b.user_id, b.amount::TEXT, b.took_profit, b.created_at, r.active
		 FROM bets b
		 JOIN rounds r ON r.id = b.round_id
		 WHERE b.id = $1
		 FOR UPDATE OF b`,
		betID,
	).Scan(&bet.ID, &bet.RoundID, &bet.UserID, &amountText, &bet.TookProfit, &bet.CreatedAt, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: bet %d", ErrBetNotFound, betID)
	}
	if err != nil {
		return nil, fmt.Errorf("load bet %d: %w", betID, err)
	}
	if bet.TookProfit {
		return nil, fmt.Errorf("%w: bet %d", ErrAlreadyProfited, betID)
	}
	if !active {
		return nil, fmt.Errorf("%w: round %d", ErrRoundNotActive, bet.RoundID)
	}

	bet.Amount, err = decimal.NewFromString(amountText)
	if err != nil {
		return nil, fmt.Errorf("parse bet amount %q: %w", amountText, err)
	}
	profit := bet.Amount.Mul(decimal.NewFromFloat(clientMultiplier)).Round(2)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1::NUMERIC WHERE user_id = $2`,
		profit.String(), bet.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("credit user %d: %w", bet.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: user %d", ErrAccountNotFound, bet.UserID)
	}

	if _, err := tx.Exec(ctx, `UPDATE bets SET took_profit = TRUE WHERE id = $1`, betID); err != nil {
		return nil, fmt.Errorf("flag bet %d: %w", betID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit take profit: %w", err)
	}

	bet.TookProfit = true
	log.Printf("[LEDGER] User %d cashed out bet %d at %.2fx for %s", bet.UserID, bet.ID, clientMultiplier, profit)
	return &bet, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
