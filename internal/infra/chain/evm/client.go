// Package evm implements chain.Client for Ethereum-compatible networks.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/chain"
)

const (
	DefaultConfirmations = 1
	DefaultPollInterval  = 2 * time.Second
)

// Config is shared by every client built for one network.
type Config struct {
	Network       domain.NetworkID
	Confirmations uint64
	PollInterval  time.Duration
	// BreakerFailures is the consecutive failure count that opens the circuit.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// backend is the subset of *ethclient.Client the client uses.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error)
	Close()
}

type dialFunc func(ctx context.Context, endpoint string) (backend, error)

func dialEthclient(ctx context.Context, endpoint string) (backend, error) {
	return ethclient.DialContext(ctx, endpoint)
}

// Client is bound to a single endpoint.
type Client struct {
	cfg      Config
	endpoint string
	dial     dialFunc
	log      *slog.Logger

	mu      sync.RWMutex
	backend backend

	headCB *gobreaker.CircuitBreaker[uint64]
	feeCB  *gobreaker.CircuitBreaker[*big.Int]
}

// NewFactory returns a chain.Factory building unconnected clients for cfg.Network.
func NewFactory(cfg Config) chain.Factory {
	return func(endpoint string) (chain.Client, error) {
		if endpoint == "" {
			return nil, fmt.Errorf("%w: empty endpoint", domain.ErrInvalidParams)
		}
		return New(cfg, endpoint), nil
	}
}

// New creates a client for endpoint. Call Connect before use.
func New(cfg Config, endpoint string) *Client {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		dial:     dialEthclient,
		log:      slog.Default().With("component", "evm", "network", cfg.Network),
	}
	c.headCB = gobreaker.NewCircuitBreaker[uint64](c.breakerSettings("head"))
	c.feeCB = gobreaker.NewCircuitBreaker[*big.Int](c.breakerSettings("fee"))
	return c
}

func (c *Client) breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        fmt.Sprintf("%s-%s", c.cfg.Network, name),
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Info("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}
}

// Connect dials the endpoint and reads the chain id and head.
func (c *Client) Connect(ctx context.Context) (*domain.ChainInfo, error) {
	b, err := c.dial(ctx, c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrConnection, c.endpoint, err)
	}

	chainID, err := b.ChainID(ctx)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("%w: chain id: %w", domain.ErrConnection, err)
	}
	head, err := b.BlockNumber(ctx)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("%w: block number: %w", domain.ErrConnection, err)
	}

	c.mu.Lock()
	if c.backend != nil {
		c.backend.Close()
	}
	c.backend = b
	c.mu.Unlock()

	return &domain.ChainInfo{
		Network:     c.cfg.Network,
		Endpoint:    c.endpoint,
		Name:        fmt.Sprintf("evm-%s", chainID),
		ChainID:     chainID.String(),
		Head:        head,
		ConnectedAt: time.Now(),
	}, nil
}

// Disconnect closes the underlying RPC client.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend != nil
}

func (c *Client) current() (backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, domain.ErrNotConnected
	}
	return c.backend, nil
}

// GetHead returns the latest block number through the head circuit breaker.
func (c *Client) GetHead(ctx context.Context) (uint64, error) {
	b, err := c.current()
	if err != nil {
		return 0, err
	}
	head, err := c.headCB.Execute(func() (uint64, error) {
		return b.BlockNumber(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %w", domain.ErrTransport, err)
	}
	return head, nil
}

// GetFeeLevel returns the suggested gas price in wei.
func (c *Client) GetFeeLevel(ctx context.Context) (*domain.FeeLevel, error) {
	b, err := c.current()
	if err != nil {
		return nil, err
	}
	price, err := c.feeCB.Execute(func() (*big.Int, error) {
		return b.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %w", domain.ErrTransport, err)
	}
	return &domain.FeeLevel{Price: price, Unit: "wei", ObservedAt: time.Now()}, nil
}

// IsSyncing implements chain.SyncReporter.
func (c *Client) IsSyncing(ctx context.Context) (bool, error) {
	b, err := c.current()
	if err != nil {
		return false, err
	}
	progress, err := b.SyncProgress(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: sync progress: %w", domain.ErrTransport, err)
	}
	return progress != nil, nil
}

// ValidateReference implements chain.ReferenceValidator.
func (c *Client) ValidateReference(reference string) error {
	return chain.ValidateHash32(reference)
}

// WaitForConfirmation polls for the receipt until it has enough confirmations.
func (c *Client) WaitForConfirmation(ctx context.Context, reference string, timeout time.Duration) (*domain.Receipt, error) {
	if err := c.ValidateReference(reference); err != nil {
		return nil, err
	}
	b, err := c.current()
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	hash := common.HexToHash(reference)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, done, err := c.poll(waitCtx, b, hash)
		if done {
			return receipt, err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s not confirmed within %s", domain.ErrConfirmationTimeout, reference, timeout)
		case <-ticker.C:
		}
	}
}

// poll returns done=false while the transaction is unknown or short of confirmations.
func (c *Client) poll(ctx context.Context, b backend, hash common.Hash) (*domain.Receipt, bool, error) {
	r, err := b.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, true, fmt.Errorf("%w: receipt %s: %w", domain.ErrTransport, hash.Hex(), err)
	}

	if r.Status == types.ReceiptStatusFailed {
		return nil, true, fmt.Errorf("%w: %s in block %s", domain.ErrReverted, hash.Hex(), r.BlockNumber)
	}

	head, err := b.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, true, fmt.Errorf("%w: block number: %w", domain.ErrTransport, err)
	}

	block := r.BlockNumber.Uint64()
	var confirmations uint64
	if head >= block {
		confirmations = head - block + 1
	}
	if confirmations < c.cfg.Confirmations {
		return nil, false, nil
	}

	return toReceipt(hash, r, confirmations), true, nil
}

func toReceipt(hash common.Hash, r *types.Receipt, confirmations uint64) *domain.Receipt {
	gasUsed := new(big.Int).SetUint64(r.GasUsed)
	var cost *big.Int
	if r.EffectiveGasPrice != nil {
		cost = new(big.Int).Mul(gasUsed, r.EffectiveGasPrice)
	}
	return &domain.Receipt{
		Reference:     hash.Hex(),
		BlockNumber:   r.BlockNumber.Uint64(),
		BlockHash:     r.BlockHash.Hex(),
		GasUsed:       gasUsed,
		Cost:          cost,
		Confirmations: confirmations,
	}
}
