package fair

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	MIN_MULTIPLIER = 1.00

	// HOUSE_EDGE_MOD controls the house edge: 1 in HOUSE_EDGE_MOD rounds
	// crashes instantly at 1.00x.
	HOUSE_EDGE_MOD = 33

	// HASH_PREFIX_LEN is how many leading hex characters of the commitment
	// hash feed the multiplier formula (13 chars = 52 bits).
	HASH_PREFIX_LEN = 13

	seedBytes = 25
)

// ErrInvalidMultiplier reports a derived multiplier below 1.00. The formula
// is deterministic, so this is a logic defect, never bad luck.
var ErrInvalidMultiplier = errors.New("derived multiplier below 1.00")

// NextHash advances the commitment chain by one link. With an empty previous
// hash it seeds a fresh chain from crypto/rand (used only for the very first
// round a server ever runs). Otherwise it returns SHA256(previous), so any
// observer holding a revealed hash can recompute every later commitment.
func NextHash(previous string) string {
	if previous == "" {
		b := make([]byte, seedBytes)
		rand.Read(b)
		sum := sha256.Sum256([]byte(hex.EncodeToString(b)))
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(previous))
	return hex.EncodeToString(sum[:])
}

// DeriveMultiplier maps a commitment hash to its crash multiplier.
//
// The first 13 hex characters become a 52-bit integer h. If h is divisible
// by HOUSE_EDGE_MOD the round is an instant 1.00x crash. Otherwise, with
// e = 2^52:
//
//	multiplier = floor2((100*e - h) / (e - h) / 100)
//
// Small multipliers are common, large ones increasingly rare, unbounded
// above. The same hash always yields the same multiplier.
func DeriveMultiplier(hash string) (float64, error) {
	if len(hash) < HASH_PREFIX_LEN {
		return 0, fmt.Errorf("hash too short: %d chars", len(hash))
	}
	h, err := strconv.ParseUint(hash[:HASH_PREFIX_LEN], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hash prefix: %w", err)
	}
	if h%HOUSE_EDGE_MOD == 0 {
		return MIN_MULTIPLIER, nil
	}

	e := math.Pow(2, 52)
	multiplier := math.Floor((100*e-float64(h))/(e-float64(h))/100*100) / 100
	if multiplier < MIN_MULTIPLIER {
		return 0, fmt.Errorf("%w: got %v from hash %s", ErrInvalidMultiplier, multiplier, hash)
	}
	return multiplier, nil
}

// VerifyRound recomputes the multiplier for a revealed hash and checks it
// against the value the server claimed at crash time.
func VerifyRound(hash string, claimedMultiplier float64) bool {
	multiplier, err := DeriveMultiplier(hash)
	if err != nil {
		return false
	}
	return multiplier == claimedMultiplier
}
