package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/storage"
)

type ErrorRepo struct {
	c         *Client
	maxErrors int
}

// NewErrorRepo returns the bounded error log. maxErrors <= 0 uses the default bound.
func NewErrorRepo(c *Client, maxErrors int) *ErrorRepo {
	if maxErrors <= 0 {
		maxErrors = storage.DefaultMaxErrorReports
	}
	return &ErrorRepo{c: c, maxErrors: maxErrors}
}

func (r *ErrorRepo) Append(ctx context.Context, report *domain.ErrorReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.ID, err)
	}

	key := r.c.errorsKey()
	_, err = r.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-r.maxErrors), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append error report: %w", err)
	}
	return nil
}

func (r *ErrorRepo) List(ctx context.Context, filter domain.ErrorFilter) ([]*domain.ErrorReport, error) {
	items, err := r.c.rdb.LRange(ctx, r.c.errorsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	var out []*domain.ErrorReport
	for _, item := range items {
		var rep domain.ErrorReport
		if err := json.Unmarshal([]byte(item), &rep); err != nil {
			return nil, fmt.Errorf("decode error report: %w", err)
		}
		if filter.Match(&rep) {
			out = append(out, &rep)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}
