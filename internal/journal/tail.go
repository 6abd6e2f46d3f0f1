package journal

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/s9927637/arbitrage-trader/internal/config"
)

// Entry is one attempt as read back from the attempts stream.
type Entry struct {
	ID             string
	Path           string
	Requested      float64
	ExpectedProfit float64
	RealizedProfit float64
	LegsFilled     int
	LegsTotal      int
	Status         string
	Reason         string
	StartedAt      time.Time
	EndedAt        time.Time
}

// Tailer follows the attempts stream through a consumer group, so
// several readers can share the backlog without double-delivery.
// Create the group once:  XGROUP CREATE trade:attempts tail $ MKSTREAM
type Tailer struct {
	rdb    *redis.Client
	stream string
}

func NewTailer(cfg *config.Config) *Tailer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Tailer{rdb: rdb, stream: cfg.Redis.Stream}
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (t *Tailer) EnsureGroup(ctx context.Context, group string) error {
	err := t.rdb.XGroupCreateMkStream(ctx, t.stream, group, "$").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// Tail delivers attempt entries to out until ctx is done.
func (t *Tailer) Tail(ctx context.Context, group, consumer string, out chan<- Entry) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := t.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{t.stream, ">"},
			Count:    100,
			Block:    time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				e := parseEntry(m.Values)
				if e.ID == "" {
					_ = t.rdb.XAck(ctx, t.stream, group, m.ID).Err()
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return ctx.Err()
				}
				_ = t.rdb.XAck(ctx, t.stream, group, m.ID).Err()
			}
		}
	}
}

func parseEntry(values map[string]interface{}) Entry {
	var e Entry
	e.ID = str(values["id"])
	e.Path = str(values["path"])
	e.Requested = num(values["requested"])
	e.ExpectedProfit = num(values["expected_profit"])
	e.RealizedProfit = num(values["realized_profit"])
	e.LegsFilled = int(num(values["legs_filled"]))
	e.LegsTotal = int(num(values["legs_total"]))
	e.Status = str(values["status"])
	e.Reason = str(values["reason"])
	if ms := int64(num(values["ts_ms"])); ms > 0 {
		e.StartedAt = time.UnixMilli(ms)
	}
	if ms := int64(num(values["ended_ms"])); ms > 0 {
		e.EndedAt = time.UnixMilli(ms)
	}
	return e
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
