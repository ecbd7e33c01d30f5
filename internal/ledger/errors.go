package ledger

import "errors"

// Expected rejections. Every one of these is a normal outcome of a player
// request, returned as a value and mapped to a stable wire code; only store
// failures surface as anything else.
var (
	ErrInvalidAmount       = errors.New("bet amount must be a positive whole number")
	ErrAmountTooLow        = errors.New("bet amount below minimum")
	ErrAmountTooHigh       = errors.New("bet amount above maximum")
	ErrDuplicateBet        = errors.New("user already has a bet on this round")
	ErrRoundNotFound       = errors.New("round not found")
	ErrRoundNotActive      = errors.New("round is not active")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBetNotFound         = errors.New("bet not found")
	ErrAlreadyProfited     = errors.New("profit already taken on this bet")
	ErrInvalidMultiplier   = errors.New("multiplier must be a positive number")
	ErrMultiplierTooHigh   = errors.New("claimed multiplier exceeds live multiplier")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidDeposit      = errors.New("deposit amount must be positive")
)

// ErrorCode maps a rejection to the code clients see, so a caller can decide
// whether to retry, adjust input, or wait for the next round.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAmountTooLow):
		return "amount_too_low"
	case errors.Is(err, ErrAmountTooHigh):
		return "amount_too_high"
	case errors.Is(err, ErrDuplicateBet):
		return "duplicate_bet"
	case errors.Is(err, ErrRoundNotFound):
		return "round_not_found"
	case errors.Is(err, ErrRoundNotActive):
		return "round_not_active"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBetNotFound):
		return "bet_not_found"
	case errors.Is(err, ErrAlreadyProfited):
		return "already_profited"
	case errors.Is(err, ErrInvalidMultiplier):
		return "invalid_multiplier"
	case errors.Is(err, ErrMultiplierTooHigh):
		return "multiplier_too_high"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrInvalidDeposit):
		return "invalid_deposit"
	default:
		return "internal_error"
	}
}

// IsRejection reports whether err is an expected player-facing rejection as
// opposed to a store failure.
func IsRejection(err error) bool {
	return ErrorCode(err) != "internal_error"
}
