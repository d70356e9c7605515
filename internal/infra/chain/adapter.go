package chain

import (
	"context"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// Client is the per-network ledger access the engine supervises.
// One implementation exists per network type; each instance is bound to one endpoint.
type Client interface {
	// Connect establishes the connection and returns chain metadata.
	Connect(ctx context.Context) (*domain.ChainInfo, error)

	// Disconnect releases the connection. It is idempotent and never fails.
	Disconnect()

	// IsConnected reports whether Connect succeeded and Disconnect has not been called.
	IsConnected() bool

	// GetHead returns the latest block number. Used as the liveness probe.
	GetHead(ctx context.Context) (uint64, error)

	// WaitForConfirmation blocks until reference is confirmed, fails, or timeout elapses.
	WaitForConfirmation(ctx context.Context, reference string, timeout time.Duration) (*domain.Receipt, error)

	// GetFeeLevel returns the current fee or gas price.
	GetFeeLevel(ctx context.Context) (*domain.FeeLevel, error)
}

// Factory builds an unconnected client for one endpoint.
type Factory func(endpoint string) (Client, error)

// ReferenceValidator is an optional interface for clients that can reject
// malformed transaction references before any network call.
type ReferenceValidator interface {
	ValidateReference(reference string) error
}

// SyncReporter is an optional interface for clients that know whether their node is syncing.
type SyncReporter interface {
	IsSyncing(ctx context.Context) (bool, error)
}
