// Package errlog records classified failures in the bounded error log and announces them.
package errlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/storage"
	"github.com/vietddude/txwatch/internal/monitoring/classify"
	"github.com/vietddude/txwatch/internal/monitoring/events"
	"github.com/vietddude/txwatch/internal/monitoring/metrics"
)

// Log appends error reports to a repository and emits error:reported.
type Log struct {
	repo storage.ErrorRepository
	bus  *events.Bus
	log  *slog.Logger
}

// New creates an error log over repo. bus may be nil.
func New(repo storage.ErrorRepository, bus *events.Bus, log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{repo: repo, bus: bus, log: log.With("component", "errlog")}
}

// Report stores r, filling ID, Timestamp and Severity when unset.
func (l *Log) Report(ctx context.Context, r *domain.ErrorReport) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.Severity == "" {
		r.Severity = domain.SeverityMedium
	}

	if err := l.repo.Append(ctx, r); err != nil {
		return fmt.Errorf("append error report: %w", err)
	}

	metrics.ErrorReportsTotal.WithLabelValues(string(r.Network), string(r.Category), string(r.Severity)).Inc()
	l.log.Debug("Error reported",
		"network", r.Network,
		"operation", r.Operation,
		"severity", r.Severity,
		"retryable", r.Retryable,
		"message", r.Message,
	)

	if l.bus != nil {
		l.bus.Emit(domain.Event{Type: domain.EventErrorReported, Network: r.Network, Report: r.Clone()})
	}
	return nil
}

// List returns reports matching filter.
func (l *Log) List(ctx context.Context, filter domain.ErrorFilter) ([]*domain.ErrorReport, error) {
	return l.repo.List(ctx, filter)
}

// FromClassified builds a report for a classified failure.
func FromClassified(
	network domain.NetworkID,
	operation string,
	reference string,
	c classify.Classified,
	extra map[string]string,
) *domain.ErrorReport {
	ctxCopy := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		ctxCopy[k] = v
	}
	ctxCopy["kind"] = c.Kind.String()

	return &domain.ErrorReport{
		Network:   network,
		Severity:  c.Severity,
		Category:  c.Category,
		Operation: operation,
		Message:   c.Message(),
		Context:   ctxCopy,
		Reference: reference,
		Retryable: c.Retryable,
	}
}
