package attendance

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// summaryTTL keeps daily counters around for reporting after the day ends.
const summaryTTL = 45 * 24 * time.Hour

// Summary keeps per-day check-in counters in a Redis hash, fed by the worker.
type Summary struct {
	client *redis.Client
	prefix string
}

// DailySummary is the decoded form of one day's hash.
type DailySummary struct {
	Date   string                   `json:"date"`
	Counts map[Flow]map[State]int64 `json:"counts"`
	Total  int64                    `json:"total"`
}

// NewSummary stores counters under prefix:<date>.
func NewSummary(client *redis.Client, prefix string) *Summary {
	if prefix == "" {
		prefix = "attendance:summary"
	}
	return &Summary{client: client, prefix: prefix}
}

func (s *Summary) key(date string) string { return s.prefix + ":" + date }

// Apply counts one recorded event.
func (s *Summary) Apply(ctx context.Context, evt RecordedEvent) error {
	key := s.key(evt.Date)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, string(evt.Flow)+":"+string(evt.State), 1)
	pipe.Expire(ctx, key, summaryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get reads the counters for date.
func (s *Summary) Get(ctx context.Context, date string) (DailySummary, error) {
	fields, err := s.client.HGetAll(ctx, s.key(date)).Result()
	if err != nil {
		return DailySummary{}, err
	}
	out := DailySummary{Date: date, Counts: make(map[Flow]map[State]int64)}
	for field, raw := range fields {
		flow, state, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if out.Counts[Flow(flow)] == nil {
			out.Counts[Flow(flow)] = make(map[State]int64)
		}
		out.Counts[Flow(flow)][State(state)] = n
		out.Total += n
	}
	return out, nil
}
