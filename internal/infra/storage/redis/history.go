package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txwatch/internal/core/domain"
)

type HistoryRepo struct {
	c *Client
}

func NewHistoryRepo(c *Client) *HistoryRepo {
	return &HistoryRepo{c: c}
}

func (r *HistoryRepo) Append(ctx context.Context, tx *domain.MonitoredTransaction) error {
	member, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", tx.ID, err)
	}

	_, err = r.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.c.networksKey(), string(tx.Network))
		pipe.ZAdd(ctx, r.c.historyKey(string(tx.Network)), redis.Z{
			Score:  float64(tx.SubmittedAt.UnixMilli()),
			Member: member,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (r *HistoryRepo) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.MonitoredTransaction, error) {
	networks := []string{string(filter.Network)}
	if filter.Network == "" {
		var err error
		networks, err = r.c.rdb.SMembers(ctx, r.c.networksKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("smembers failed: %w", err)
		}
	}

	rng := scoreRange(filter.From, filter.To)
	var out []*domain.MonitoredTransaction
	for _, network := range networks {
		members, err := r.c.rdb.ZRangeByScore(ctx, r.c.historyKey(network), rng).Result()
		if err != nil {
			return nil, fmt.Errorf("zrangebyscore failed: %w", err)
		}
		for _, m := range members {
			var tx domain.MonitoredTransaction
			if err := json.Unmarshal([]byte(m), &tx); err != nil {
				return nil, fmt.Errorf("decode history record: %w", err)
			}
			if filter.Match(&tx) {
				out = append(out, &tx)
			}
		}
	}

	slices.SortStableFunc(out, func(a, b *domain.MonitoredTransaction) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (r *HistoryRepo) DeleteOlderThan(ctx context.Context, network domain.NetworkID, threshold time.Time) (int, error) {
	removed, err := r.c.rdb.ZRemRangeByScore(ctx, r.c.historyKey(string(network)),
		"-inf", "("+strconv.FormatInt(threshold.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("zremrangebyscore failed: %w", err)
	}
	return int(removed), nil
}

// scoreRange widens [from, to) to whole milliseconds; the filter trims the edges.
func scoreRange(from, to time.Time) *redis.ZRangeBy {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !from.IsZero() {
		rng.Min = strconv.FormatInt(from.UnixMilli(), 10)
	}
	if !to.IsZero() {
		rng.Max = strconv.FormatInt(to.UnixMilli(), 10)
	}
	return rng
}
