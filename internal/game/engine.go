package game

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"rocketcrash/internal/fair"
)

const ledgerCallTimeout = 5 * time.Second

// Ledger is the slice of the bet ledger the round engine drives. Errors from
// these calls are logged but never stall the game clock.
type Ledger interface {
	OpenRound(ctx context.Context, hash string, multiplier float64) (int64, error)
	CloseRound(ctx context.Context, roundID int64) error
	LastRoundHash(ctx context.Context) (string, error)
}

// Sink receives every outbound notification. Writes must not block.
type Sink interface {
	Broadcast(message interface{})
}

// StateStore persists public round snapshots and the crash history for
// late-joining clients. Optional; the engine runs fine without one.
type StateStore interface {
	SaveState(ctx context.Context, state RoundState) error
	RecordCrash(ctx context.Context, multiplier float64, hash string) error
}

// Config holds the engine's timing tunables.
type Config struct {
	TicksPerSecond    int
	IncreasePerSecond float64
	BettingDelay      time.Duration
	RoundDelay        time.Duration
}

func DefaultConfig() Config {
	return Config{
		TicksPerSecond:    60,
		IncreasePerSecond: 1.2,
		BettingDelay:      5 * time.Second,
		RoundDelay:        3 * time.Second,
	}
}

// ConfigFromEnv reads timing tunables from the environment, falling back to
// defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.TicksPerSecond = getEnvAsInt("TICKS_PER_SECOND", cfg.TicksPerSecond)
	cfg.IncreasePerSecond = getEnvAsFloat("INCREASE_PER_SECOND", cfg.IncreasePerSecond)
	cfg.BettingDelay = time.Duration(getEnvAsInt("BETTING_DELAY_SECONDS", int(cfg.BettingDelay/time.Second))) * time.Second
	cfg.RoundDelay = time.Duration(getEnvAsInt("ROUND_DELAY_SECONDS", int(cfg.RoundDelay/time.Second))) * time.Second
	return cfg
}

// growthPerTick derives the per-tick factor so the configured per-second
// growth rate holds regardless of tick rate.
func (c Config) growthPerTick() float64 {
	return math.Pow(c.IncreasePerSecond, 1/float64(c.TicksPerSecond))
}

func (c Config) tickInterval() time.Duration {
	return time.Second / time.Duration(c.TicksPerSecond)
}

// Engine owns the crash round lifecycle: SEEDING -> BETTING -> RUNNING ->
// CRASHED -> BETTING, forever. It is the single writer of round state; all
// money movement goes through the ledger's transactions instead.
type Engine struct {
	sink   Sink
	ledger Ledger
	states StateStore
	cfg    Config

	mu        sync.RWMutex
	phase     Phase
	roundID   int64
	live      float64
	startedAt time.Time

	// committed outcome for the in-flight round, secret until crash
	crashHash  string
	crashValue float64

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewEngine wires the round engine. states may be nil.
func NewEngine(sink Sink, ledger Ledger, states StateStore, cfg Config) *Engine {
	return &Engine{
		sink:     sink,
		ledger:   ledger,
		states:   states,
		cfg:      cfg,
		phase:    PhaseSeeding,
		live:     fair.MIN_MULTIPLIER,
		stopChan: make(chan struct{}),
	}
}

func (e *Engine) Start() {
	go e.run()
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// State returns a copy of the public round snapshot.
func (e *Engine) State() RoundState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return RoundState{
		RoundID:    e.roundID,
		Phase:      e.phase,
		Multiplier: e.live,
		StartedAt:  e.startedAt,
	}
}

// LiveMultiplier reports the engine's authoritative live multiplier. It is
// 1.00 outside the RUNNING phase.
func (e *Engine) LiveMultiplier() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.live
}

// RoundID returns the in-flight round's id, or 0 before the first round.
func (e *Engine) RoundID() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.roundID
}

func (e *Engine) run() {
	hash, value := e.seed()
	log.Printf("[ENGINE] Seeded chain, first commitment %s...", hash[:16])

	for {
		roundID := e.openRound(hash, value)

		if !e.sleep(e.cfg.BettingDelay) {
			log.Println("[ENGINE] Stopped during betting window")
			return
		}

		if !e.runTicks(roundID, value) {
			log.Println("[ENGINE] Stopped during round")
			return
		}

		e.closeRound(roundID, hash, value)

		// Advance the chain one link: the next round's outcome is already
		// latent in this round's revealed hash.
		hash = fair.NextHash(hash)
		value = e.deriveOrBust(hash)

		if !e.sleep(e.cfg.RoundDelay) {
			log.Println("[ENGINE] Stopped between rounds")
			return
		}
	}
}

// seed resumes the hash chain from the newest persisted round, or starts a
// fresh chain when none exists (or the store is unreachable).
func (e *Engine) seed() (string, float64) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerCallTimeout)
	defer cancel()

	lastHash, err := e.ledger.LastRoundHash(ctx)
	if err != nil {
		log.Printf("[ENGINE] Loading last round failed, seeding fresh chain: %v", err)
		lastHash = ""
	}

	hash := fair.NextHash(lastHash)
	return hash, e.deriveOrBust(hash)
}

// deriveOrBust maps a commitment hash to its crash multiplier. A derivation
// failure is a formula invariant violation: it is logged loudly and the round
// becomes an instant 1.00x crash so the clock keeps going.
func (e *Engine) deriveOrBust(hash string) float64 {
	value, err := fair.DeriveMultiplier(hash)
	if err != nil {
		if errors.Is(err, fair.ErrInvalidMultiplier) {
			log.Printf("[ENGINE] FATAL invariant: %v", err)
		} else {
			log.Printf("[ENGINE] Multiplier derivation failed for %s: %v", hash, err)
		}
		return fair.MIN_MULTIPLIER
	}
	return value
}

// openRound persists the round record and opens the betting window. If the
// write fails the window still opens with round id 0; bets against it are
// rejected by the ledger, which is the strict side of the trade-off.
func (e *Engine) openRound(hash string, value float64) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerCallTimeout)
	defer cancel()

	roundID, err := e.ledger.OpenRound(ctx, hash, value)
	if err != nil {
		log.Printf("[ENGINE] Opening round failed, clock continues: %v", err)
		roundID = 0
	}

	e.mu.Lock()
	e.phase = PhaseBetting
	e.roundID = roundID
	e.live = fair.MIN_MULTIPLIER
	e.startedAt = time.Now()
	e.crashHash = hash
	e.crashValue = value
	e.mu.Unlock()

	log.Printf("[ENGINE] Round %d betting open, crash point %.2fx (hidden)", roundID, value)

	e.sink.Broadcast(Event{Type: EventNewRound, Data: NewRoundPayload{RoundID: roundID}})
	e.saveState()

	return roundID
}

// runTicks drives the multiplier clock until the committed crash point is
// reached. Returns false if the engine was stopped mid-round.
func (e *Engine) runTicks(roundID int64, crashValue float64) bool {
	growth := e.cfg.growthPerTick()

	e.mu.Lock()
	e.phase = PhaseRunning
	e.live = fair.MIN_MULTIPLIER
	e.mu.Unlock()
	e.saveState()

	ticker := time.NewTicker(e.cfg.tickInterval())
	defer ticker.Stop()

	running := true
	for {
		select {
		case <-ticker.C:
			// Guard against a stale tick firing after the crash was
			// already processed.
			if !running {
				continue
			}

			e.mu.Lock()
			e.live *= growth
			live := e.live
			if live >= crashValue {
				running = false
				e.phase = PhaseCrashed
				e.live = crashValue
				e.mu.Unlock()
				return true
			}
			e.mu.Unlock()

			e.sink.Broadcast(Event{Type: EventMultiplierUpdate, Data: MultiplierPayload{Multiplier: live}})

		case <-e.stopChan:
			return false
		}
	}
}

// closeRound settles the crashed round: deactivate it in the store, reveal
// the outcome, and record it in the history.
func (e *Engine) closeRound(roundID int64, hash string, value float64) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerCallTimeout)
	defer cancel()

	if roundID != 0 {
		if err := e.ledger.CloseRound(ctx, roundID); err != nil {
			log.Printf("[ENGINE] Closing round %d failed, clock continues: %v", roundID, err)
		}
	}

	log.Printf("[ENGINE] Round %d crashed at %.2fx", roundID, value)

	e.sink.Broadcast(Event{Type: EventCrash, Data: CrashPayload{Multiplier: value, Hash: hash}})
	e.saveState()

	if e.states != nil {
		if err := e.states.RecordCrash(ctx, value, hash); err != nil {
			log.Printf("[ENGINE] Recording crash history failed: %v", err)
		}
	}
}

func (e *Engine) saveState() {
	if e.states == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerCallTimeout)
	defer cancel()
	if err := e.states.SaveState(ctx, e.State()); err != nil {
		log.Printf("[ENGINE] Saving round snapshot failed: %v", err)
	}
}

// sleep waits for d or until the engine is stopped.
func (e *Engine) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.stopChan:
		return false
	}
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
