package journal

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/s9927637/arbitrage-trader/internal/config"
	"github.com/s9927637/arbitrage-trader/internal/types"
)

// Recorder persists trade attempts to Redis: one hash per attempt, an
// entry on the attempts stream, and a time-ordered index for lookups.
type Recorder struct {
	rdb       *redis.Client
	stream    string
	attemptNS string
}

func NewRecorder(cfg *config.Config) *Recorder {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Recorder{
		rdb:       rdb,
		stream:    cfg.Redis.Stream,
		attemptNS: cfg.Redis.AttemptNS,
	}
}

func (r *Recorder) Record(ctx context.Context, a *types.TradeAttempt) error {
	fields := attemptFields(a)

	if err := r.rdb.HSet(ctx, r.attemptNS+a.ID, fields).Err(); err != nil {
		return err
	}
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: fields,
	}).Err(); err != nil {
		return err
	}
	return r.rdb.ZAdd(ctx, r.attemptNS+"by-time", redis.Z{
		Score:  float64(a.StartedAt.UnixMilli()),
		Member: a.ID,
	}).Err()
}

func attemptFields(a *types.TradeAttempt) map[string]interface{} {
	return map[string]interface{}{
		"id":              a.ID,
		"ts_ms":           a.StartedAt.UnixMilli(),
		"ended_ms":        a.EndedAt.UnixMilli(),
		"path":            strings.Join(a.Path.Assets, " -> "),
		"requested":       a.Requested,
		"expected_profit": a.ExpectedProfit,
		"realized_profit": a.RealizedProfit,
		"legs_filled":     a.FilledLegs(),
		"legs_total":      a.Path.Legs(),
		"status":          string(a.Status),
		"reason":          a.Reason,
	}
}
