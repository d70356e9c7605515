package domain

import (
	"maps"
	"time"
)

// ErrorReport records a classified failure for later inspection.
type ErrorReport struct {
	ID        string            `json:"id"`
	Network   NetworkID         `json:"network"`
	Severity  Severity          `json:"severity"`
	Category  ErrorCategory     `json:"category,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Operation string            `json:"operation"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Reference string            `json:"reference,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Clone returns a deep copy of r.
func (r *ErrorReport) Clone() *ErrorReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Context = maps.Clone(r.Context)
	return &c
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ErrorCategory string

const (
	CategoryNetwork     ErrorCategory = "network"
	CategoryTransaction ErrorCategory = "transaction"
	CategoryContract    ErrorCategory = "contract"
	CategoryValidation  ErrorCategory = "validation"
	CategoryUser        ErrorCategory = "user"
)

// ErrorFilter selects reports from the error log. Zero fields match everything.
type ErrorFilter struct {
	Network   NetworkID
	Severity  Severity
	Operation string
	Reference string
	Since     time.Time
	Limit     int
}

// Match reports whether r passes every set field of the filter.
func (f ErrorFilter) Match(r *ErrorReport) bool {
	if f.Network != "" && r.Network != f.Network {
		return false
	}
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if f.Operation != "" && r.Operation != f.Operation {
		return false
	}
	if f.Reference != "" && r.Reference != f.Reference {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
