package storage

import (
	"context"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// DefaultMaxErrorReports bounds the error log when no limit is configured.
const DefaultMaxErrorReports = 1000

// HistoryRepository is the append-only log of terminal transaction records.
type HistoryRepository interface {
	// Append stores a terminal record. Records are never updated.
	Append(ctx context.Context, tx *domain.MonitoredTransaction) error

	// List returns matching records ordered by submission time, oldest first.
	// When filter.Limit > 0 only the most recent Limit records are returned.
	List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.MonitoredTransaction, error)

	// DeleteOlderThan removes records submitted before threshold (retention).
	DeleteOlderThan(ctx context.Context, network domain.NetworkID, threshold time.Time) (int, error)
}

// ErrorRepository is the bounded error log. Appending past the bound evicts the oldest entries.
type ErrorRepository interface {
	// Append stores a report, evicting the oldest when the log is full.
	Append(ctx context.Context, report *domain.ErrorReport) error

	// List returns matching reports, oldest first.
	// When filter.Limit > 0 only the most recent Limit reports are returned.
	List(ctx context.Context, filter domain.ErrorFilter) ([]*domain.ErrorReport, error)
}
