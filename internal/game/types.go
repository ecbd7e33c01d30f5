package game

import (
	"time"
)

// Phase is the round engine's state machine phase.
type Phase string

const (
	PhaseSeeding Phase = "SEEDING"
	PhaseBetting Phase = "BETTING"
	PhaseRunning Phase = "RUNNING"
	PhaseCrashed Phase = "CRASHED"
)

// Event names on the outbound wire.
const (
	EventNewRound         = "newRound"
	EventMultiplierUpdate = "multiplierUpdate"
	EventCrash            = "crash"
	EventBetAccepted      = "betAccepted"
	EventBetRejected      = "betRejected"
	EventProfitAccepted   = "profitAccepted"
	EventProfitRejected   = "profitRejected"
	EventInitialState     = "initial_state"
)

// Event is the envelope for every outbound notification.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type NewRoundPayload struct {
	RoundID int64 `json:"roundId"`
}

type MultiplierPayload struct {
	Multiplier float64 `json:"multiplier"`
}

// CrashPayload reveals the round outcome. The hash is the proof: clients can
// recompute the multiplier from it and chain-verify the next round's seed.
type CrashPayload struct {
	Multiplier float64 `json:"multiplier"`
	Hash       string  `json:"hash"`
}

type RejectedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoundState is the publicly visible snapshot of the in-flight round. The
// committed crash multiplier and hash stay out of it until crash.
type RoundState struct {
	RoundID    int64     `json:"round_id"`
	Phase      Phase     `json:"phase"`
	Multiplier float64   `json:"multiplier"`
	StartedAt  time.Time `json:"started_at"`
}
