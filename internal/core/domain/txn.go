package domain

import (
	"math/big"
	"time"
)

// MonitoredTransaction tracks a submitted transaction until it reaches a terminal status.
type MonitoredTransaction struct {
	ID            string            `json:"id"`
	Network       NetworkID         `json:"network"`
	Reference     string            `json:"reference"`
	Status        TxStatus          `json:"status"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	ConfirmedAt   *time.Time        `json:"confirmed_at,omitempty"`
	FailedAt      *time.Time        `json:"failed_at,omitempty"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	LastError     string            `json:"last_error,omitempty"`
	GasUsed       *big.Int          `json:"gas_used,omitempty"`
	Cost          *big.Int          `json:"cost,omitempty"`
	BlockNumber   uint64            `json:"block_number,omitempty"`
	Confirmations uint64            `json:"confirmations,omitempty"`
	Operation     string            `json:"operation"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusConfirming TxStatus = "confirming"
	TxStatusRetrying   TxStatus = "retrying"
	TxStatusConfirmed  TxStatus = "confirmed"
	TxStatusFailed     TxStatus = "failed"
	TxStatusTimeout    TxStatus = "timeout"
)

// IsTerminal reports whether no further automatic transition happens from s.
func (s TxStatus) IsTerminal() bool {
	switch s {
	case TxStatusConfirmed, TxStatusFailed, TxStatusTimeout:
		return true
	}
	return false
}

// Latency returns the submit-to-confirm duration of a confirmed transaction.
func (t *MonitoredTransaction) Latency() (time.Duration, bool) {
	if t.Status != TxStatusConfirmed || t.ConfirmedAt == nil {
		return 0, false
	}
	return t.ConfirmedAt.Sub(t.SubmittedAt), true
}

// Clone returns a deep copy so snapshots can be handed out without sharing state.
func (t *MonitoredTransaction) Clone() *MonitoredTransaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.ConfirmedAt != nil {
		at := *t.ConfirmedAt
		c.ConfirmedAt = &at
	}
	if t.FailedAt != nil {
		at := *t.FailedAt
		c.FailedAt = &at
	}
	if t.GasUsed != nil {
		c.GasUsed = new(big.Int).Set(t.GasUsed)
	}
	if t.Cost != nil {
		c.Cost = new(big.Int).Set(t.Cost)
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// HistoryFilter selects transactions from history. Zero fields match everything.
type HistoryFilter struct {
	Network   NetworkID
	Status    TxStatus
	Reference string
	From      time.Time // inclusive, on SubmittedAt
	To        time.Time // exclusive, on SubmittedAt
	Limit     int       // most recent N when > 0
}

// Match reports whether tx passes every set field of the filter.
func (f HistoryFilter) Match(tx *MonitoredTransaction) bool {
	if f.Network != "" && tx.Network != f.Network {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.Reference != "" && tx.Reference != f.Reference {
		return false
	}
	if !f.From.IsZero() && tx.SubmittedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.SubmittedAt.Before(f.To) {
		return false
	}
	return true
}
