package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// historyRow mirrors tx_history. Big integers travel as NUMERIC text.
type historyRow struct {
	ID            string         `db:"id"`
	Network       string         `db:"network"`
	Reference     string         `db:"reference"`
	Status        string         `db:"status"`
	SubmittedAt   time.Time      `db:"submitted_at"`
	ConfirmedAt   sql.NullTime   `db:"confirmed_at"`
	FailedAt      sql.NullTime   `db:"failed_at"`
	RetryCount    int            `db:"retry_count"`
	MaxRetries    int            `db:"max_retries"`
	LastError     string         `db:"last_error"`
	GasUsed       sql.NullString `db:"gas_used"`
	Cost          sql.NullString `db:"cost"`
	BlockNumber   int64          `db:"block_number"`
	Confirmations int64          `db:"confirmations"`
	Operation     string         `db:"operation"`
	Metadata      sql.NullString `db:"metadata"`
}

const historyColumns = `id, network, reference, status, submitted_at, confirmed_at, failed_at,
	retry_count, max_retries, last_error, gas_used, cost, block_number, confirmations,
	operation, metadata`

func toHistoryRow(tx *domain.MonitoredTransaction) (historyRow, error) {
	row := historyRow{
		ID:            tx.ID,
		Network:       string(tx.Network),
		Reference:     tx.Reference,
		Status:        string(tx.Status),
		SubmittedAt:   tx.SubmittedAt,
		ConfirmedAt:   nullTime(tx.ConfirmedAt),
		FailedAt:      nullTime(tx.FailedAt),
		RetryCount:    tx.RetryCount,
		MaxRetries:    tx.MaxRetries,
		LastError:     tx.LastError,
		GasUsed:       nullNumeric(tx.GasUsed),
		Cost:          nullNumeric(tx.Cost),
		BlockNumber:   int64(tx.BlockNumber),
		Confirmations: int64(tx.Confirmations),
		Operation:     tx.Operation,
	}
	meta, err := nullJSON(tx.Metadata)
	if err != nil {
		return historyRow{}, fmt.Errorf("encode metadata: %w", err)
	}
	row.Metadata = meta
	return row, nil
}

func (r historyRow) toDomain() (*domain.MonitoredTransaction, error) {
	tx := &domain.MonitoredTransaction{
		ID:            r.ID,
		Network:       domain.NetworkID(r.Network),
		Reference:     r.Reference,
		Status:        domain.TxStatus(r.Status),
		SubmittedAt:   r.SubmittedAt,
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		LastError:     r.LastError,
		BlockNumber:   uint64(r.BlockNumber),
		Confirmations: uint64(r.Confirmations),
		Operation:     r.Operation,
	}
	if r.ConfirmedAt.Valid {
		at := r.ConfirmedAt.Time
		tx.ConfirmedAt = &at
	}
	if r.FailedAt.Valid {
		at := r.FailedAt.Time
		tx.FailedAt = &at
	}

	var err error
	if tx.GasUsed, err = parseNumeric(r.GasUsed); err != nil {
		return nil, fmt.Errorf("gas_used of %s: %w", r.ID, err)
	}
	if tx.Cost, err = parseNumeric(r.Cost); err != nil {
		return nil, fmt.Errorf("cost of %s: %w", r.ID, err)
	}
	if r.Metadata.Valid {
		if err := json.Unmarshal([]byte(r.Metadata.String), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("metadata of %s: %w", r.ID, err)
		}
	}
	return tx, nil
}

// errorRow mirrors error_reports.
type errorRow struct {
	ID        string         `db:"id"`
	Network   string         `db:"network"`
	Severity  string         `db:"severity"`
	Category  string         `db:"category"`
	Timestamp time.Time      `db:"ts"`
	Operation string         `db:"operation"`
	Message   string         `db:"message"`
	Context   sql.NullString `db:"context"`
	Reference string         `db:"reference"`
	Retryable bool           `db:"retryable"`
}

const errorColumns = `id, network, severity, category, ts, operation, message, context, reference, retryable`

func toErrorRow(r *domain.ErrorReport) (errorRow, error) {
	ctx, err := nullJSON(r.Context)
	if err != nil {
		return errorRow{}, fmt.Errorf("encode context: %w", err)
	}
	return errorRow{
		ID:        r.ID,
		Network:   string(r.Network),
		Severity:  string(r.Severity),
		Category:  string(r.Category),
		Timestamp: r.Timestamp,
		Operation: r.Operation,
		Message:   r.Message,
		Context:   ctx,
		Reference: r.Reference,
		Retryable: r.Retryable,
	}, nil
}

func (r errorRow) toDomain() (*domain.ErrorReport, error) {
	rep := &domain.ErrorReport{
		ID:        r.ID,
		Network:   domain.NetworkID(r.Network),
		Severity:  domain.Severity(r.Severity),
		Category:  domain.ErrorCategory(r.Category),
		Timestamp: r.Timestamp,
		Operation: r.Operation,
		Message:   r.Message,
		Reference: r.Reference,
		Retryable: r.Retryable,
	}
	if r.Context.Valid {
		if err := json.Unmarshal([]byte(r.Context.String), &rep.Context); err != nil {
			return nil, fmt.Errorf("context of %s: %w", r.ID, err)
		}
	}
	return rep, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullNumeric(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func parseNumeric(s sql.NullString) (*big.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s.String)
	}
	return v, nil
}

func nullJSON(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
