package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/storage"
)

// ErrorRepo implements storage.ErrorRepository using PostgreSQL.
type ErrorRepo struct {
	db        *DB
	maxErrors int
}

// NewErrorRepo returns the bounded error log. maxErrors <= 0 uses the default bound.
func NewErrorRepo(db *DB, maxErrors int) *ErrorRepo {
	if maxErrors <= 0 {
		maxErrors = storage.DefaultMaxErrorReports
	}
	return &ErrorRepo{db: db, maxErrors: maxErrors}
}

// Append inserts the report and trims the log to the bound in one transaction.
func (r *ErrorRepo) Append(ctx context.Context, report *domain.ErrorReport) error {
	row, err := toErrorRow(report)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO error_reports (` + errorColumns + `)
		VALUES (:id, :network, :severity, :category, :ts, :operation, :message, :context, :reference, :retryable)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
		return fmt.Errorf("failed to append error report: %w", err)
	}

	trim := `
		DELETE FROM error_reports
		WHERE seq <= (SELECT seq FROM error_reports ORDER BY seq DESC OFFSET $1 LIMIT 1)
	`
	if _, err := tx.ExecContext(ctx, trim, r.maxErrors); err != nil {
		return fmt.Errorf("failed to trim error log: %w", err)
	}

	return tx.Commit()
}

func (r *ErrorRepo) List(ctx context.Context, filter domain.ErrorFilter) ([]*domain.ErrorReport, error) {
	query, args := errorQuery(filter)

	var rows []errorRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list error reports: %w", err)
	}

	out := make([]*domain.ErrorReport, 0, len(rows))
	for _, row := range rows {
		rep, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	if filter.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

func errorQuery(f domain.ErrorFilter) (string, []any) {
	var w where
	w.eq("network", string(f.Network))
	w.eq("severity", string(f.Severity))
	w.eq("operation", f.Operation)
	w.eq("reference", f.Reference)
	if !f.Since.IsZero() {
		w.add("ts >= ?", f.Since)
	}

	q := "SELECT " + errorColumns + " FROM error_reports" + w.sql()
	if f.Limit > 0 {
		q += fmt.Sprintf(" ORDER BY seq DESC LIMIT %d", f.Limit)
	} else {
		q += " ORDER BY seq ASC"
	}
	return q, w.args
}
