package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/storage"
)

type MemoryStorage struct {
	history   []*domain.MonitoredTransaction
	errors    []*domain.ErrorReport
	maxErrors int
	mu        sync.RWMutex
}

// NewMemoryStorage creates an in-process store. maxErrors <= 0 uses the default bound.
func NewMemoryStorage(maxErrors int) *MemoryStorage {
	if maxErrors <= 0 {
		maxErrors = storage.DefaultMaxErrorReports
	}
	return &MemoryStorage{maxErrors: maxErrors}
}

// -----------------------------------------------------------------------------
// History Repository
// -----------------------------------------------------------------------------

type HistoryRepo struct {
	store *MemoryStorage
}

func NewHistoryRepo(store *MemoryStorage) *HistoryRepo {
	return &HistoryRepo{store: store}
}

func (r *HistoryRepo) Append(ctx context.Context, tx *domain.MonitoredTransaction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.history = append(r.store.history, tx.Clone())
	return nil
}

func (r *HistoryRepo) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.MonitoredTransaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.MonitoredTransaction
	for _, tx := range r.store.history {
		if filter.Match(tx) {
			out = append(out, tx.Clone())
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (r *HistoryRepo) DeleteOlderThan(ctx context.Context, network domain.NetworkID, threshold time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.history[:0]
	removed := 0
	for _, tx := range r.store.history {
		if tx.Network == network && tx.SubmittedAt.Before(threshold) {
			removed++
			continue
		}
		kept = append(kept, tx)
	}
	// Drop references held by the tail of the old backing array.
	for i := len(kept); i < len(r.store.history); i++ {
		r.store.history[i] = nil
	}
	r.store.history = kept
	return removed, nil
}

// -----------------------------------------------------------------------------
// Error Repository
// -----------------------------------------------------------------------------

type ErrorRepo struct {
	store *MemoryStorage
}

func NewErrorRepo(store *MemoryStorage) *ErrorRepo {
	return &ErrorRepo{store: store}
}

func (r *ErrorRepo) Append(ctx context.Context, report *domain.ErrorReport) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.errors = append(r.store.errors, report.Clone())
	if over := len(r.store.errors) - r.store.maxErrors; over > 0 {
		r.store.errors = append([]*domain.ErrorReport(nil), r.store.errors[over:]...)
	}
	return nil
}

func (r *ErrorRepo) List(ctx context.Context, filter domain.ErrorFilter) ([]*domain.ErrorReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.ErrorReport
	for _, rep := range r.store.errors {
		if filter.Match(rep) {
			out = append(out, rep.Clone())
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}
