package ledger

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidAmount, "invalid_amount"},
		{ErrAmountTooLow, "amount_too_low"},
		{ErrAmountTooHigh, "amount_too_high"},
		{ErrDuplicateBet, "duplicate_bet"},
		{ErrRoundNotFound, "round_not_found"},
		{ErrRoundNotActive, "round_not_active"},
		{ErrInsufficientBalance, "insufficient_balance"},
		{ErrBetNotFound, "bet_not_found"},
		{ErrAlreadyProfited, "already_profited"},
		{ErrInvalidMultiplier, "invalid_multiplier"},
		{ErrMultiplierTooHigh, "multiplier_too_high"},
		{ErrAccountNotFound, "account_not_found"},
		{ErrInvalidDeposit, "invalid_deposit"},
		{errors.New("connection refused"), "internal_error"},
	}

	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestErrorCode_Wrapped(t *testing.T) {
	// Codes must survive the context wrapping the service adds.
	wrapped := fmt.Errorf("%w: user 7, round 3", ErrDuplicateBet)
	if got := ErrorCode(wrapped); got != "duplicate_bet" {
		t.Errorf("ErrorCode(wrapped) = %q, want duplicate_bet", got)
	}
}

func TestIsRejection(t *testing.T) {
	if !IsRejection(ErrInsufficientBalance) {
		t.Error("IsRejection(ErrInsufficientBalance) = false, want true")
	}
	if IsRejection(errors.New("dial tcp: connection refused")) {
		t.Error("IsRejection(store failure) = true, want false")
	}
}
