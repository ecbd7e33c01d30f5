package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rocketcrash/internal/game"
)

const (
	KEY_CURRENT_ROUND = "crash:round:current"
	KEY_CRASH_HISTORY = "crash:history"

	roundStateTTL = 1 * time.Hour
	historyLimit  = 50
)

// CrashRecord is one revealed outcome, kept for the last-results feed and
// for fairness verification against the chain.
type CrashRecord struct {
	Multiplier float64   `json:"multiplier"`
	Hash       string    `json:"hash"`
	CrashedAt  time.Time `json:"crashed_at"`
}

// RoundCache keeps the public round snapshot and a capped history of
// revealed crashes in Redis. It backs the engine's StateStore.
type RoundCache struct {
	client *redis.Client
}

func NewRoundCache(client *redis.Client) *RoundCache {
	return &RoundCache{client: client}
}

func (rc *RoundCache) SaveState(ctx context.Context, state game.RoundState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal round state: %w", err)
	}
	if err := rc.client.Set(ctx, KEY_CURRENT_ROUND, data, roundStateTTL).Err(); err != nil {
		return fmt.Errorf("save round state: %w", err)
	}
	return nil
}

// State returns the last saved snapshot, or nil when none is cached.
func (rc *RoundCache) State(ctx context.Context) (*game.RoundState, error) {
	data, err := rc.client.Get(ctx, KEY_CURRENT_ROUND).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load round state: %w", err)
	}

	var state game.RoundState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal round state: %w", err)
	}
	return &state, nil
}

func (rc *RoundCache) RecordCrash(ctx context.Context, multiplier float64, hash string) error {
	record := CrashRecord{
		Multiplier: multiplier,
		Hash:       hash,
		CrashedAt:  time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal crash record: %w", err)
	}

	pipe := rc.client.TxPipeline()
	pipe.LPush(ctx, KEY_CRASH_HISTORY, data)
	pipe.LTrim(ctx, KEY_CRASH_HISTORY, 0, historyLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record crash: %w", err)
	}
	return nil
}

// History returns up to limit recent crashes, newest first.
func (rc *RoundCache) History(ctx context.Context, limit int) ([]CrashRecord, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}

	entries, err := rc.client.LRange(ctx, KEY_CRASH_HISTORY, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load crash history: %w", err)
	}

	records := make([]CrashRecord, 0, len(entries))
	for _, entry := range entries {
		var record CrashRecord
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
