// Package rpc provides a JSON-RPC 2.0 over HTTP transport for chain clients.
//
// Each HTTPProvider is bound to one endpoint. Endpoint failover is the
// connection supervisor's job, so the provider only tracks its own health
// and throttling and paces calls with an optional token bucket.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Option configures an HTTPProvider.
type Option func(*HTTPProvider)

// WithRateLimit paces calls to rps with the given burst. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *HTTPProvider) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProvider) { p.httpClient = c }
}

// HTTPProvider makes JSON-RPC 2.0 calls against one endpoint.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     atomic.Uint64

	Monitor *ProviderMonitor
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Monitor: NewProviderMonitor(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Call makes a single JSON-RPC call and decodes the result into out.
// A null result leaves out untouched. Transport failures wrap domain.ErrTransport;
// errors answered by the node are *RPCError.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any, out any) error {
	if status := p.Monitor.Status(); status == StatusThrottled || status == StatusBlocked {
		return fmt.Errorf("%w: provider %s %s, retry after %s",
			domain.ErrTransport, p.name, status, p.Monitor.RetryAfter().Round(time.Second))
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if params == nil {
		params = []any{}
	}
	jsonData, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %w", domain.ErrInvalidParams, method, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", domain.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.Monitor.RecordFailure()
		return fmt.Errorf("%w: %s: %w", domain.ErrTransport, method, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		p.Monitor.RecordThrottle(http.StatusTooManyRequests, parseRetryAfter(retryAfter))
		p.Monitor.RecordFailure()
		return fmt.Errorf("%w: rate limited (429), retry after: %s", domain.ErrTransport, retryAfter)
	case http.StatusForbidden:
		p.Monitor.RecordThrottle(http.StatusForbidden, 0)
		p.Monitor.RecordFailure()
		return fmt.Errorf("%w: ip blocked (403)", domain.ErrTransport)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.Monitor.RecordFailure()
		return fmt.Errorf("%w: read response: %w", domain.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		p.Monitor.RecordFailure()
		return fmt.Errorf("%w: http %d: %s", domain.ErrTransport, resp.StatusCode, truncate(body))
	}

	var rpcResp response
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.Monitor.RecordFailure()
		return fmt.Errorf("%w: parse response: %w", domain.ErrTransport, err)
	}

	if rpcResp.Error != nil {
		p.Monitor.RecordFailure()
		if p.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			p.Monitor.RecordThrottle(http.StatusTooManyRequests, 0)
			return fmt.Errorf("%w: throttle in rpc error: %w", domain.ErrTransport, rpcResp.Error)
		}
		return rpcResp.Error
	}

	p.Monitor.RecordRequest(time.Since(start))

	if out == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %w", domain.ErrTransport, method, err)
	}
	return nil
}

// Name returns the provider's name.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Endpoint returns the URL calls are sent to.
func (p *HTTPProvider) Endpoint() string {
	return p.endpoint
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
