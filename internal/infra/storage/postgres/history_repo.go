package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// HistoryRepo implements storage.HistoryRepository using PostgreSQL.
type HistoryRepo struct {
	db *DB
}

func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// Append inserts a terminal record. Appending the same id twice is a no-op.
func (r *HistoryRepo) Append(ctx context.Context, tx *domain.MonitoredTransaction) error {
	row, err := toHistoryRow(tx)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tx_history (` + historyColumns + `)
		VALUES (:id, :network, :reference, :status, :submitted_at, :confirmed_at, :failed_at,
			:retry_count, :max_retries, :last_error, :gas_used, :cost, :block_number, :confirmations,
			:operation, :metadata)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (r *HistoryRepo) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.MonitoredTransaction, error) {
	query, args := historyQuery(filter)

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	out := make([]*domain.MonitoredTransaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if filter.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

func (r *HistoryRepo) DeleteOlderThan(ctx context.Context, network domain.NetworkID, threshold time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tx_history WHERE network = $1 AND submitted_at < $2`,
		string(network), threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// historyQuery selects newest first when limited so LIMIT keeps the most
// recent rows; List reverses them back to submission order.
func historyQuery(f domain.HistoryFilter) (string, []any) {
	var w where
	w.eq("network", string(f.Network))
	w.eq("status", string(f.Status))
	w.eq("reference", f.Reference)
	if !f.From.IsZero() {
		w.add("submitted_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("submitted_at < ?", f.To)
	}

	q := "SELECT " + historyColumns + " FROM tx_history" + w.sql()
	if f.Limit > 0 {
		q += fmt.Sprintf(" ORDER BY submitted_at DESC, seq DESC LIMIT %d", f.Limit)
	} else {
		q += " ORDER BY submitted_at ASC, seq ASC"
	}
	return q, w.args
}

// where accumulates AND-ed conditions with $n placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
