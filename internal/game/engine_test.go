package game

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"rocketcrash/internal/fair"
)

type openedRound struct {
	id         int64
	hash       string
	multiplier float64
}

type fakeLedger struct {
	mu       sync.Mutex
	nextID   int64
	opened   []openedRound
	closed   []int64
	lastHash string
	openErr  error
}

func (f *fakeLedger) OpenRound(ctx context.Context, hash string, multiplier float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return 0, f.openErr
	}
	f.nextID++
	f.opened = append(f.opened, openedRound{id: f.nextID, hash: hash, multiplier: multiplier})
	return f.nextID, nil
}

func (f *fakeLedger) CloseRound(ctx context.Context, roundID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, roundID)
	return nil
}

func (f *fakeLedger) LastRoundHash(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastHash, nil
}

func (f *fakeLedger) openedRounds() []openedRound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openedRound(nil), f.opened...)
}

func (f *fakeLedger) closedRounds() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.closed...)
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeSink) Broadcast(message interface{}) {
	event, ok := message.(Event)
	if !ok {
		return
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeSink) byType(eventType string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, event := range f.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// byTypeUntilCrash returns events of the given type broadcast before the
// first crash, scoping assertions to the first round.
func (f *fakeSink) byTypeUntilCrash(eventType string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, event := range f.events {
		if event.Type == EventCrash {
			break
		}
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakeStates struct {
	mu      sync.Mutex
	crashes []CrashPayload
}

func (f *fakeStates) SaveState(ctx context.Context, state RoundState) error {
	return nil
}

func (f *fakeStates) RecordCrash(ctx context.Context, multiplier float64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crashes = append(f.crashes, CrashPayload{Multiplier: multiplier, Hash: hash})
	return nil
}

func testConfig() Config {
	return Config{
		TicksPerSecond:    100,
		IncreasePerSecond: 1e6, // rounds crash within a few ticks
		BettingDelay:      20 * time.Millisecond,
		RoundDelay:        20 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEngine_RoundLifecycle(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	states := &fakeStates{}

	engine := NewEngine(sink, ledger, states, testConfig())
	engine.Start()
	defer engine.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return len(sink.byType(EventCrash)) >= 1
	})

	opened := ledger.openedRounds()
	if len(opened) == 0 {
		t.Fatal("no round was opened")
	}

	newRounds := sink.byType(EventNewRound)
	if len(newRounds) == 0 {
		t.Fatal("no newRound event was broadcast")
	}
	if payload := newRounds[0].Data.(NewRoundPayload); payload.RoundID != opened[0].id {
		t.Errorf("newRound roundId = %d, want %d", payload.RoundID, opened[0].id)
	}

	crash := sink.byType(EventCrash)[0].Data.(CrashPayload)
	if crash.Hash != opened[0].hash {
		t.Errorf("crash revealed hash %s, want the committed %s", crash.Hash, opened[0].hash)
	}
	if crash.Multiplier != opened[0].multiplier {
		t.Errorf("crash revealed %v, want the committed %v", crash.Multiplier, opened[0].multiplier)
	}

	// The reveal must verify against the chain.
	derived, err := fair.DeriveMultiplier(crash.Hash)
	if err != nil {
		t.Fatalf("DeriveMultiplier(%s) error = %v", crash.Hash, err)
	}
	if derived != crash.Multiplier {
		t.Errorf("revealed multiplier %v does not verify, derived %v", crash.Multiplier, derived)
	}

	waitFor(t, time.Second, func() bool {
		return len(ledger.closedRounds()) >= 1
	})
	if closed := ledger.closedRounds(); closed[0] != opened[0].id {
		t.Errorf("closed round %d, want %d", closed[0], opened[0].id)
	}

	waitFor(t, time.Second, func() bool {
		states.mu.Lock()
		defer states.mu.Unlock()
		return len(states.crashes) >= 1
	})
}

func TestEngine_MultiplierUpdatesIncrease(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}

	// Slower growth so the round produces a stream of updates.
	cfg := testConfig()
	cfg.IncreasePerSecond = 100

	engine := NewEngine(sink, ledger, nil, cfg)
	engine.Start()
	defer engine.Stop()

	waitFor(t, 10*time.Second, func() bool {
		return len(sink.byType(EventCrash)) >= 1
	})

	updates := sink.byTypeUntilCrash(EventMultiplierUpdate)
	crash := sink.byType(EventCrash)[0].Data.(CrashPayload)

	previous := 0.0
	for i, update := range updates {
		value := update.Data.(MultiplierPayload).Multiplier
		if value <= previous {
			t.Fatalf("update %d: multiplier %v not greater than previous %v", i, value, previous)
		}
		if value < fair.MIN_MULTIPLIER {
			t.Fatalf("update %d: multiplier %v below 1.00", i, value)
		}
		if value >= crash.Multiplier {
			t.Fatalf("update %d: live %v at or past crash point %v", i, value, crash.Multiplier)
		}
		previous = value
	}
}

func TestEngine_ChainLinksRounds(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}

	engine := NewEngine(sink, ledger, nil, testConfig())
	engine.Start()
	defer engine.Stop()

	waitFor(t, 10*time.Second, func() bool {
		return len(sink.byType(EventCrash)) >= 2
	})

	opened := ledger.openedRounds()
	if len(opened) < 2 {
		t.Fatalf("expected at least 2 opened rounds, got %d", len(opened))
	}
	if got, want := opened[1].hash, fair.NextHash(opened[0].hash); got != want {
		t.Errorf("round 2 hash = %s, want NextHash of round 1 = %s", got, want)
	}
}

func TestEngine_ResumesChainFromStore(t *testing.T) {
	// The stored hash chains to a hash whose first 13 hex chars are
	// divisible by 33: the resumed round is an instant 1.00x crash.
	ledger := &fakeLedger{lastHash: "aeebad4a796fcc2e15dc4c6061b45ed9b373f26adfc798ca7d2d8cc58182718e"}
	sink := &fakeSink{}

	engine := NewEngine(sink, ledger, nil, testConfig())
	engine.Start()
	defer engine.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return len(sink.byType(EventCrash)) >= 1
	})

	opened := ledger.openedRounds()
	wantHash := "025a6f04e7047b713aaba7fc5003c8266302918c25d1526507becad795b01f3a"
	if opened[0].hash != wantHash {
		t.Errorf("resumed round hash = %s, want %s", opened[0].hash, wantHash)
	}
	if opened[0].multiplier != 1.00 {
		t.Errorf("resumed round multiplier = %v, want 1.00", opened[0].multiplier)
	}

	crash := sink.byType(EventCrash)[0].Data.(CrashPayload)
	if crash.Multiplier != 1.00 {
		t.Errorf("instant crash revealed %v, want 1.00", crash.Multiplier)
	}
}

func TestEngine_ClockSurvivesOpenFailure(t *testing.T) {
	ledger := &fakeLedger{openErr: errors.New("store is down")}
	sink := &fakeSink{}

	engine := NewEngine(sink, ledger, nil, testConfig())
	engine.Start()
	defer engine.Stop()

	// The clock keeps broadcasting even though nothing persists.
	waitFor(t, 5*time.Second, func() bool {
		return len(sink.byType(EventCrash)) >= 1
	})

	newRound := sink.byType(EventNewRound)[0].Data.(NewRoundPayload)
	if newRound.RoundID != 0 {
		t.Errorf("newRound roundId = %d, want 0 when the open failed", newRound.RoundID)
	}
	if closed := ledger.closedRounds(); len(closed) != 0 {
		t.Errorf("closed %v, want no close calls for an unpersisted round", closed)
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	engine := NewEngine(&fakeSink{}, &fakeLedger{}, nil, testConfig())
	engine.Start()

	engine.Stop()
	engine.Stop()
}

func TestConfig_GrowthPerTick(t *testing.T) {
	cfg := Config{TicksPerSecond: 60, IncreasePerSecond: 1.2}

	growth := cfg.growthPerTick()

	// Compounding over one second of ticks must reproduce the per-second
	// rate, so the configured growth is tick-rate independent.
	perSecond := math.Pow(growth, float64(cfg.TicksPerSecond))
	if math.Abs(perSecond-cfg.IncreasePerSecond) > 1e-9 {
		t.Errorf("growth^ticks = %v, want %v", perSecond, cfg.IncreasePerSecond)
	}

	if growth <= 1.0 {
		t.Errorf("growthPerTick() = %v, want > 1.0", growth)
	}
}

func TestEngine_StateSnapshot(t *testing.T) {
	engine := NewEngine(&fakeSink{}, &fakeLedger{}, nil, testConfig())

	state := engine.State()
	if state.Phase != PhaseSeeding {
		t.Errorf("initial phase = %v, want %v", state.Phase, PhaseSeeding)
	}
	if state.Multiplier != fair.MIN_MULTIPLIER {
		t.Errorf("initial multiplier = %v, want %v", state.Multiplier, fair.MIN_MULTIPLIER)
	}
	if engine.LiveMultiplier() != fair.MIN_MULTIPLIER {
		t.Errorf("LiveMultiplier() = %v, want %v", engine.LiveMultiplier(), fair.MIN_MULTIPLIER)
	}
}
