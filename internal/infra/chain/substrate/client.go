// Package substrate implements chain.Client for Substrate-based networks
// over the node's JSON-RPC HTTP interface.
package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/chain"
	"github.com/vietddude/txwatch/internal/infra/rpc"
)

const (
	DefaultPollInterval   = 6 * time.Second
	DefaultLookback       = 10
	DefaultRequestTimeout = 10 * time.Second
	DefaultUnit           = "planck"
)

// Config is shared by every client built for one network.
type Config struct {
	Network      domain.NetworkID
	PollInterval time.Duration
	// Lookback is how many blocks before the head seen at wait start are scanned.
	Lookback       uint64
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	Unit           string
}

type header struct {
	ParentHash string `json:"parentHash"`
	Number     string `json:"number"`
}

type signedBlock struct {
	Block struct {
		Header     header   `json:"header"`
		Extrinsics []string `json:"extrinsics"`
	} `json:"block"`
}

type dispatchInfo struct {
	Weight     json.RawMessage `json:"weight"`
	PartialFee json.RawMessage `json:"partialFee"`
}

type systemHealth struct {
	Peers     int  `json:"peers"`
	IsSyncing bool `json:"isSyncing"`
}

// Client is bound to a single endpoint.
type Client struct {
	cfg      Config
	endpoint string
	log      *slog.Logger

	mu       sync.RWMutex
	provider *rpc.HTTPProvider
	lastFee  *domain.FeeLevel
}

// NewFactory returns a chain.Factory building unconnected clients for cfg.Network.
func NewFactory(cfg Config) chain.Factory {
	return func(endpoint string) (chain.Client, error) {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			return nil, fmt.Errorf("%w: substrate endpoint %q must be http(s)", domain.ErrInvalidParams, endpoint)
		}
		return New(cfg, endpoint), nil
	}
}

// New creates a client for endpoint. Call Connect before use.
func New(cfg Config, endpoint string) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Unit == "" {
		cfg.Unit = DefaultUnit
	}
	return &Client{
		cfg:      cfg,
		endpoint: endpoint,
		log:      slog.Default().With("component", "substrate", "network", cfg.Network),
	}
}

// Connect reads the chain name, genesis hash and head.
func (c *Client) Connect(ctx context.Context) (*domain.ChainInfo, error) {
	p := rpc.NewHTTPProvider(string(c.cfg.Network), c.endpoint, c.cfg.RequestTimeout,
		rpc.WithRateLimit(c.cfg.RateLimit, c.cfg.RateBurst))

	var name, genesis string
	if err := p.Call(ctx, "system_chain", nil, &name); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: system_chain: %w", domain.ErrConnection, err)
	}
	if err := p.Call(ctx, "chain_getBlockHash", []any{0}, &genesis); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: genesis hash: %w", domain.ErrConnection, err)
	}
	head, err := headNumber(ctx, p, nil)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	c.mu.Lock()
	if c.provider != nil {
		c.provider.Close()
	}
	c.provider = p
	c.mu.Unlock()

	return &domain.ChainInfo{
		Network:     c.cfg.Network,
		Endpoint:    c.endpoint,
		Name:        name,
		ChainID:     genesis,
		Head:        head,
		ConnectedAt: time.Now(),
	}, nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider != nil {
		c.provider.Close()
		c.provider = nil
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider != nil
}

func (c *Client) current() (*rpc.HTTPProvider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.provider == nil {
		return nil, domain.ErrNotConnected
	}
	return c.provider, nil
}

// GetHead returns the best block number.
func (c *Client) GetHead(ctx context.Context) (uint64, error) {
	p, err := c.current()
	if err != nil {
		return 0, err
	}
	return headNumber(ctx, p, nil)
}

// GetFeeLevel reports the partial fee of the last extrinsic this client confirmed.
// Price is nil until one has been observed.
func (c *Client) GetFeeLevel(ctx context.Context) (*domain.FeeLevel, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastFee == nil {
		return &domain.FeeLevel{Unit: c.cfg.Unit, ObservedAt: time.Now()}, nil
	}
	fee := *c.lastFee
	fee.Price = new(big.Int).Set(c.lastFee.Price)
	return &fee, nil
}

// IsSyncing implements chain.SyncReporter.
func (c *Client) IsSyncing(ctx context.Context) (bool, error) {
	p, err := c.current()
	if err != nil {
		return false, err
	}
	var h systemHealth
	if err := p.Call(ctx, "system_health", nil, &h); err != nil {
		return false, err
	}
	return h.IsSyncing, nil
}

// ValidateReference implements chain.ReferenceValidator. References are
// blake2b-256 extrinsic hashes.
func (c *Client) ValidateReference(reference string) error {
	return chain.ValidateHash32(reference)
}

// WaitForConfirmation scans finalized blocks for an extrinsic whose blake2b-256
// hash equals reference, starting Lookback blocks before the current head.
func (c *Client) WaitForConfirmation(ctx context.Context, reference string, timeout time.Duration) (*domain.Receipt, error) {
	if err := c.ValidateReference(reference); err != nil {
		return nil, err
	}
	want, err := hexutil.Decode(strings.ToLower(reference))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidReference, err)
	}
	p, err := c.current()
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	head, err := headNumber(waitCtx, p, nil)
	if err != nil {
		return nil, c.waitErr(ctx, waitCtx, reference, timeout, err)
	}
	next := uint64(0)
	if head > c.cfg.Lookback {
		next = head - c.cfg.Lookback
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, scanned, err := c.scan(waitCtx, p, want, next)
		if err != nil {
			return nil, c.waitErr(ctx, waitCtx, reference, timeout, err)
		}
		if receipt != nil {
			return receipt, nil
		}
		next = scanned

		select {
		case <-waitCtx.Done():
			return nil, c.waitErr(ctx, waitCtx, reference, timeout, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// waitErr maps an error raised after waitCtx expired onto the timeout sentinel.
func (c *Client) waitErr(parent, waitCtx context.Context, reference string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if waitCtx.Err() != nil {
		return fmt.Errorf("%w: %s not finalized within %s", domain.ErrConfirmationTimeout, reference, timeout)
	}
	return err
}

// scan walks finalized blocks from next and returns the first block not yet scanned.
func (c *Client) scan(ctx context.Context, p *rpc.HTTPProvider, want []byte, next uint64) (*domain.Receipt, uint64, error) {
	var finalizedHash string
	if err := p.Call(ctx, "chain_getFinalizedHead", nil, &finalizedHash); err != nil {
		return nil, next, err
	}
	finalized, err := headNumber(ctx, p, []any{finalizedHash})
	if err != nil {
		return nil, next, err
	}

	for n := next; n <= finalized; n++ {
		var blockHash string
		if err := p.Call(ctx, "chain_getBlockHash", []any{n}, &blockHash); err != nil {
			return nil, n, err
		}
		var blk signedBlock
		if err := p.Call(ctx, "chain_getBlock", []any{blockHash}, &blk); err != nil {
			return nil, n, err
		}

		for _, ext := range blk.Block.Extrinsics {
			raw, err := hexutil.Decode(ext)
			if err != nil {
				c.log.Warn("undecodable extrinsic", "block", n, "error", err)
				continue
			}
			sum := blake2b.Sum256(raw)
			if !bytes.Equal(sum[:], want) {
				continue
			}

			receipt := &domain.Receipt{
				Reference:     hexutil.Encode(want),
				BlockNumber:   n,
				BlockHash:     blockHash,
				Confirmations: finalized - n + 1,
			}
			c.attachFee(ctx, p, receipt, ext, blk.Block.Header.ParentHash)
			return receipt, n + 1, nil
		}
	}
	return nil, max(next, finalized+1), nil
}

// attachFee fills gas and cost from payment_queryInfo against the parent block.
// A node without the payment API still confirms the extrinsic, just without cost.
func (c *Client) attachFee(ctx context.Context, p *rpc.HTTPProvider, r *domain.Receipt, ext, parent string) {
	var info dispatchInfo
	if err := p.Call(ctx, "payment_queryInfo", []any{ext, parent}, &info); err != nil {
		c.log.Debug("payment_queryInfo failed", "reference", r.Reference, "error", err)
		return
	}

	if fee, ok := parseBalance(info.PartialFee); ok {
		r.Cost = fee
		c.mu.Lock()
		c.lastFee = &domain.FeeLevel{Price: new(big.Int).Set(fee), Unit: c.cfg.Unit, ObservedAt: time.Now()}
		c.mu.Unlock()
	}
	if w, ok := parseWeight(info.Weight); ok {
		r.GasUsed = new(big.Int).SetUint64(w)
	}
}

func headNumber(ctx context.Context, p *rpc.HTTPProvider, params []any) (uint64, error) {
	var h header
	if err := p.Call(ctx, "chain_getHeader", params, &h); err != nil {
		return 0, err
	}
	n, err := parseHexUint(h.Number)
	if err != nil {
		return 0, fmt.Errorf("%w: header number %q: %w", domain.ErrTransport, h.Number, err)
	}
	return n, nil
}

func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

// parseBalance accepts a decimal string, a 0x hex string or a bare JSON number.
func parseBalance(raw json.RawMessage) (*big.Int, bool) {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return nil, false
	}
	v := new(big.Int)
	if strings.HasPrefix(s, "0x") {
		_, ok := v.SetString(s[2:], 16)
		return v, ok
	}
	_, ok := v.SetString(s, 10)
	return v, ok
}

// parseWeight accepts the legacy scalar weight and the two-dimensional refTime form.
func parseWeight(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var scalar uint64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return scalar, true
	}
	var w struct {
		RefTime      *uint64 `json:"refTime"`
		RefTimeSnake *uint64 `json:"ref_time"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return 0, false
	}
	switch {
	case w.RefTime != nil:
		return *w.RefTime, true
	case w.RefTimeSnake != nil:
		return *w.RefTimeSnake, true
	}
	return 0, false
}
