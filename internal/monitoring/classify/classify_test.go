package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vietddude/txwatch/internal/core/domain"
)

func TestClassify_Sentinels(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		category  domain.ErrorCategory
		severity  domain.Severity
		retryable bool
		timeout   bool
	}{
		{"connection", fmt.Errorf("dial ws: %w", domain.ErrConnection), KindConnection, domain.CategoryNetwork, domain.SeverityCritical, true, false},
		{"transport", fmt.Errorf("eth_call: %w", domain.ErrTransport), KindTransport, domain.CategoryNetwork, domain.SeverityCritical, true, false},
		{"confirmation timeout", fmt.Errorf("0xabc: %w", domain.ErrConfirmationTimeout), KindConfirmationTimeout, domain.CategoryTransaction, domain.SeverityHigh, true, true},
		{"reverted", fmt.Errorf("receipt status 0: %w", domain.ErrReverted), KindReverted, domain.CategoryContract, domain.SeverityHigh, false, false},
		{"rejected", fmt.Errorf("pool: %w", domain.ErrRejected), KindRejected, domain.CategoryTransaction, domain.SeverityHigh, false, false},
		{"invalid address", fmt.Errorf("to: %w", domain.ErrInvalidAddress), KindInvalidInput, domain.CategoryValidation, domain.SeverityMedium, false, false},
		{"invalid params", fmt.Errorf("args: %w", domain.ErrInvalidParams), KindInvalidInput, domain.CategoryValidation, domain.SeverityMedium, false, false},
		{"insufficient funds", fmt.Errorf("send: %w", domain.ErrInsufficientFunds), KindInsufficientFunds, domain.CategoryUser, domain.SeverityMedium, false, false},
		{"gas estimation", fmt.Errorf("estimate: %w", domain.ErrGasEstimation), KindGasEstimation, domain.CategoryUser, domain.SeverityMedium, false, false},
		{"deadline", fmt.Errorf("head: %w", context.DeadlineExceeded), KindTransport, domain.CategoryNetwork, domain.SeverityCritical, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			if c.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", c.Kind, tt.kind)
			}
			if c.Category != tt.category {
				t.Errorf("category = %s, want %s", c.Category, tt.category)
			}
			if c.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", c.Severity, tt.severity)
			}
			if c.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", c.Retryable, tt.retryable)
			}
			if c.Timeout != tt.timeout {
				t.Errorf("timeout = %v, want %v", c.Timeout, tt.timeout)
			}
		})
	}
}

func TestClassify_Wording(t *testing.T) {
	tests := []struct {
		msg       string
		kind      Kind
		retryable bool
	}{
		{"insufficient funds for gas * price + value", KindInsufficientFunds, false},
		{"gas required exceeds allowance (30000000)", KindGasEstimation, false},
		{"execution reverted: ERC20: transfer amount exceeds balance", KindReverted, false},
		{"invalid address checksum", KindInvalidInput, false},
		{"i/o timeout", KindTransport, true},
		{"connection refused", KindConnection, true},
		{"nonce too low", KindUnknown, true},
		{"server busy, try again", KindUnknown, true},
		{"429 Too Many Requests", KindUnknown, true},
		{"already known", KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			c := Classify(errors.New(tt.msg))
			if c.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", c.Kind, tt.kind)
			}
			if c.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", c.Retryable, tt.retryable)
			}
		})
	}
}

func TestClassify_TextOverridesCategory(t *testing.T) {
	// A revert is not retryable by category, but the wording says the node was busy.
	c := Classify(fmt.Errorf("node busy: %w", domain.ErrReverted))
	if c.Category != domain.CategoryContract {
		t.Errorf("category = %s, want contract", c.Category)
	}
	if !c.Retryable {
		t.Error("expected retryable because of message wording")
	}
}

func TestClassify_Nil(t *testing.T) {
	c := Classify(nil)
	if c.Retryable || c.Err != nil || c.Kind != KindUnknown {
		t.Errorf("unexpected classification for nil: %+v", c)
	}
	if IsRetryable(c) {
		t.Error("nil error must not be retryable")
	}
}

func TestClassify_Deterministic(t *testing.T) {
	err := errors.New("rate limit exceeded")
	a, b := Classify(err), Classify(err)
	if a != b {
		t.Errorf("classification differs between calls: %+v vs %+v", a, b)
	}
}

func TestRetryableText(t *testing.T) {
	for _, w := range retryableWords {
		if !retryableText("prefix " + w + " suffix") {
			t.Errorf("expected %q to be retryable", w)
		}
	}
	if !retryableText("NETWORK unreachable") {
		t.Error("matching must be case-insensitive")
	}
	if retryableText("execution reverted") {
		t.Error("revert wording must not be retryable")
	}
}
