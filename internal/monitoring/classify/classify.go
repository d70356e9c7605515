// Package classify maps raw chain-client failures onto a closed error taxonomy.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// Kind is the tag of a classified failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindTransport
	KindConfirmationTimeout
	KindReverted
	KindRejected
	KindInvalidInput
	KindInsufficientFunds
	KindGasEstimation
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindConnection:          "connection",
	KindTransport:           "transport",
	KindConfirmationTimeout: "confirmation_timeout",
	KindReverted:            "reverted",
	KindRejected:            "rejected",
	KindInvalidInput:        "invalid_input",
	KindInsufficientFunds:   "insufficient_funds",
	KindGasEstimation:       "gas_estimation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Classified is produced once per failure and consumed by tag everywhere else.
type Classified struct {
	Kind      Kind
	Category  domain.ErrorCategory
	Severity  domain.Severity
	Retryable bool
	// Timeout marks failures that should end as TxStatusTimeout rather than failed.
	Timeout bool
	Err     error
}

// Message returns the underlying error text, or "" for a zero value.
func (c Classified) Message() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

type rule struct {
	category  domain.ErrorCategory
	severity  domain.Severity
	retryable bool
}

var rules = map[Kind]rule{
	KindConnection:          {domain.CategoryNetwork, domain.SeverityCritical, true},
	KindTransport:           {domain.CategoryNetwork, domain.SeverityCritical, true},
	KindConfirmationTimeout: {domain.CategoryTransaction, domain.SeverityHigh, true},
	KindReverted:            {domain.CategoryContract, domain.SeverityHigh, false},
	KindRejected:            {domain.CategoryTransaction, domain.SeverityHigh, false},
	KindInvalidInput:        {domain.CategoryValidation, domain.SeverityMedium, false},
	KindInsufficientFunds:   {domain.CategoryUser, domain.SeverityMedium, false},
	KindGasEstimation:       {domain.CategoryUser, domain.SeverityMedium, false},
	KindUnknown:             {domain.CategoryTransaction, domain.SeverityMedium, false},
}

var sentinels = []struct {
	err  error
	kind Kind
}{
	{domain.ErrConfirmationTimeout, KindConfirmationTimeout},
	{domain.ErrReverted, KindReverted},
	{domain.ErrRejected, KindRejected},
	{domain.ErrInvalidAddress, KindInvalidInput},
	{domain.ErrInvalidParams, KindInvalidInput},
	{domain.ErrInsufficientFunds, KindInsufficientFunds},
	{domain.ErrGasEstimation, KindGasEstimation},
	{domain.ErrConnection, KindConnection},
	{domain.ErrTransport, KindTransport},
}

// Classify maps err onto the taxonomy. Classify(nil) returns the zero value.
func Classify(err error) Classified {
	if err == nil {
		return Classified{}
	}

	kind, timeout := kindOf(err)
	r := rules[kind]
	c := Classified{
		Kind:     kind,
		Category: r.category,
		Severity: r.severity,
		Timeout:  timeout,
		Err:      err,
	}
	c.Retryable = IsRetryable(c)
	return c
}

// IsRetryable is the single retry decision used by every component:
// the category rule, widened by the wording of the message.
func IsRetryable(c Classified) bool {
	if c.Err == nil {
		return false
	}
	if rules[c.Kind].retryable {
		return true
	}
	return retryableText(c.Err.Error())
}

func kindOf(err error) (Kind, bool) {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind, s.kind == KindConfirmationTimeout
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport, netErr.Timeout()
	}

	return kindFromText(strings.ToLower(err.Error()))
}

// kindFromText recognises chain-client wording for errors that were not wrapped
// with a domain sentinel. Order matters: execution outcomes win over transport words.
func kindFromText(msg string) (Kind, bool) {
	switch {
	case containsAny(msg, "insufficient funds", "insufficient balance"):
		return KindInsufficientFunds, false
	case containsAny(msg, "gas required exceeds", "cannot estimate gas", "gas estimation"):
		return KindGasEstimation, false
	case containsAny(msg, "revert"):
		return KindReverted, false
	case containsAny(msg, "rejected", "denied", "dropped"):
		return KindRejected, false
	case containsAny(msg, "invalid address", "invalid param", "invalid argument", "bad address"):
		return KindInvalidInput, false
	case containsAny(msg, "confirmation timeout", "transaction timeout", "not confirmed"):
		return KindConfirmationTimeout, true
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return KindTransport, true
	case containsAny(msg, "connection", "network", "dial", "eof", "websocket", "rpc"):
		return KindConnection, false
	}
	return KindUnknown, false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
