package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitos/perp_trader/internal/domain"
)

const positionsKey = "perp_trader:positions"

// RedisMirror publishes the position table as a hash of symbol -> JSON so
// dashboards can read it without talking to the bot.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMirror(rdb *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{rdb: rdb, ttl: ttl}
}

// SyncPositions replaces the mirrored hash in one transaction.
func (m *RedisMirror) SyncPositions(ctx context.Context, positions []domain.Position) error {
	fields := make([]any, 0, 2*len(positions))
	for _, p := range positions {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal position %s: %w", p.Symbol, err)
		}
		fields = append(fields, p.Symbol, data)
	}

	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, positionsKey)
		if len(fields) > 0 {
			pipe.HSet(ctx, positionsKey, fields...)
			if m.ttl > 0 {
				pipe.Expire(ctx, positionsKey, m.ttl)
			}
		}
		return nil
	})
	return err
}

// Positions reads the mirrored table back.
func (m *RedisMirror) Positions(ctx context.Context) ([]domain.Position, error) {
	raw, err := m.rdb.HGetAll(ctx, positionsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(raw))
	for sym, data := range raw {
		var p domain.Position
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode position %s: %w", sym, err)
		}
		out = append(out, p)
	}
	return out, nil
}
