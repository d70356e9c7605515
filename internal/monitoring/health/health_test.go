package health

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/monitoring/events"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeClient struct {
	head    uint64
	headErr error
	fee     *domain.FeeLevel
	feeErr  error
}

func (f *fakeClient) Connect(ctx context.Context) (*domain.ChainInfo, error) { return nil, nil }
func (f *fakeClient) Disconnect()                                           {}
func (f *fakeClient) IsConnected() bool                                     { return true }
func (f *fakeClient) GetHead(ctx context.Context) (uint64, error)           { return f.head, f.headErr }
func (f *fakeClient) WaitForConfirmation(ctx context.Context, ref string, timeout time.Duration) (*domain.Receipt, error) {
	return nil, nil
}
func (f *fakeClient) GetFeeLevel(ctx context.Context) (*domain.FeeLevel, error) {
	return f.fee, f.feeErr
}

type syncingClient struct {
	fakeClient
	syncing bool
	err     error
}

func (s *syncingClient) IsSyncing(ctx context.Context) (bool, error) { return s.syncing, s.err }

func gwei(n int64) *domain.FeeLevel {
	return &domain.FeeLevel{Price: new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)), Unit: "wei"}
}

func statusOf(t *testing.T, r domain.HealthCheckResult, name domain.CheckName) domain.HealthStatus {
	t.Helper()
	c, ok := r.Check(name)
	if !ok {
		t.Fatalf("check %s missing", name)
	}
	return c.Status
}

// =============================================================================
// Checker
// =============================================================================

func TestOverall(t *testing.T) {
	check := func(name domain.CheckName, s domain.HealthStatus) domain.CheckResult {
		return domain.CheckResult{Name: name, Status: s}
	}
	ok := domain.HealthHealthy

	tests := []struct {
		name   string
		checks []domain.CheckResult
		want   domain.HealthStatus
	}{
		{
			name: "all healthy",
			checks: []domain.CheckResult{
				check(domain.CheckConnection, ok), check(domain.CheckHeadProduction, ok),
				check(domain.CheckSync, ok), check(domain.CheckFeeLevel, ok),
			},
			want: domain.HealthHealthy,
		},
		{
			name: "connection failure is critical",
			checks: []domain.CheckResult{
				check(domain.CheckConnection, domain.HealthCritical), check(domain.CheckHeadProduction, ok),
			},
			want: domain.HealthCritical,
		},
		{
			name: "one degraded",
			checks: []domain.CheckResult{
				check(domain.CheckConnection, ok), check(domain.CheckFeeLevel, domain.HealthDegraded),
			},
			want: domain.HealthDegraded,
		},
		{
			name: "one unhealthy is degraded",
			checks: []domain.CheckResult{
				check(domain.CheckConnection, ok), check(domain.CheckSync, domain.HealthUnhealthy),
			},
			want: domain.HealthDegraded,
		},
		{
			name: "two unhealthy",
			checks: []domain.CheckResult{
				check(domain.CheckConnection, ok), check(domain.CheckSync, domain.HealthUnhealthy),
				check(domain.CheckFeeLevel, domain.HealthUnhealthy),
			},
			want: domain.HealthUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overall(tt.checks); got != tt.want {
				t.Errorf("Overall = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestChecker_Healthy(t *testing.T) {
	c := NewChecker(Config{})
	r := c.Check(context.Background(), "ethereum", &fakeClient{head: 100, fee: gwei(20)})

	if r.Overall != domain.HealthHealthy {
		t.Fatalf("overall = %s, checks %+v", r.Overall, r.Checks)
	}
	if len(r.Checks) != 4 {
		t.Errorf("expected 4 checks, got %d", len(r.Checks))
	}
	if r.Network != "ethereum" {
		t.Errorf("network = %s", r.Network)
	}
}

func TestChecker_ConnectionFailure(t *testing.T) {
	c := NewChecker(Config{})
	r := c.Check(context.Background(), "ethereum", &fakeClient{headErr: errors.New("dial tcp: connection refused")})

	if r.Overall != domain.HealthCritical {
		t.Errorf("overall = %s, want critical", r.Overall)
	}
	conn, _ := r.Check(domain.CheckConnection)
	if conn.Error == "" {
		t.Error("expected connection error text")
	}
	if got := statusOf(t, r, domain.CheckSync); got != domain.HealthUnhealthy {
		t.Errorf("sync = %s, want unhealthy when skipped", got)
	}
}

func TestChecker_HeadStall(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewChecker(Config{StallAfter: time.Minute})
	c.now = func() time.Time { return now }
	client := &fakeClient{head: 100, fee: gwei(1)}

	r := c.Check(context.Background(), "ethereum", client)
	if got := statusOf(t, r, domain.CheckHeadProduction); got != domain.HealthHealthy {
		t.Fatalf("first observation = %s", got)
	}

	now = now.Add(30 * time.Second)
	r = c.Check(context.Background(), "ethereum", client)
	if got := statusOf(t, r, domain.CheckHeadProduction); got != domain.HealthHealthy {
		t.Errorf("within stall window = %s", got)
	}

	now = now.Add(time.Minute)
	r = c.Check(context.Background(), "ethereum", client)
	if got := statusOf(t, r, domain.CheckHeadProduction); got != domain.HealthUnhealthy {
		t.Errorf("stalled head = %s, want unhealthy", got)
	}
	if r.Overall != domain.HealthDegraded {
		t.Errorf("overall with one unhealthy = %s, want degraded", r.Overall)
	}

	client.head = 101
	r = c.Check(context.Background(), "ethereum", client)
	if got := statusOf(t, r, domain.CheckHeadProduction); got != domain.HealthHealthy {
		t.Errorf("advanced head = %s", got)
	}
}

func TestChecker_Sync(t *testing.T) {
	tests := []struct {
		name    string
		syncing bool
		err     error
		want    domain.HealthStatus
	}{
		{"synced", false, nil, domain.HealthHealthy},
		{"syncing", true, nil, domain.HealthDegraded},
		{"error", false, errors.New("method not found"), domain.HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &syncingClient{fakeClient: fakeClient{head: 1, fee: gwei(1)}, syncing: tt.syncing, err: tt.err}
			r := NewChecker(Config{}).Check(context.Background(), "polkadot", client)
			if got := statusOf(t, r, domain.CheckSync); got != tt.want {
				t.Errorf("sync = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestChecker_FeeCeiling(t *testing.T) {
	ceiling := gwei(100).Price
	c := NewChecker(Config{FeeCeiling: ceiling})

	r := c.Check(context.Background(), "ethereum", &fakeClient{head: 1, fee: gwei(250)})
	if got := statusOf(t, r, domain.CheckFeeLevel); got != domain.HealthDegraded {
		t.Errorf("fee above ceiling = %s, want degraded", got)
	}

	r = c.Check(context.Background(), "ethereum", &fakeClient{head: 2, feeErr: errors.New("timeout")})
	if got := statusOf(t, r, domain.CheckFeeLevel); got != domain.HealthUnhealthy {
		t.Errorf("fee error = %s, want unhealthy", got)
	}
}

// =============================================================================
// Store and servers
// =============================================================================

func result(network domain.NetworkID, overall domain.HealthStatus) domain.HealthCheckResult {
	return domain.HealthCheckResult{Network: network, Overall: overall, Timestamp: time.Now()}
}

func TestStore_SupersedesAndWorst(t *testing.T) {
	bus := events.NewBus(nil)
	s := NewStore()
	s.Subscribe(bus)

	r := result("ethereum", domain.HealthCritical)
	bus.Emit(domain.Event{Type: domain.EventHealthChecked, Network: "ethereum", Health: &r})
	if s.Worst() != domain.HealthCritical {
		t.Errorf("worst = %s", s.Worst())
	}

	r2 := result("ethereum", domain.HealthHealthy)
	bus.Emit(domain.Event{Type: domain.EventHealthChecked, Network: "ethereum", Health: &r2})
	got, ok := s.Get("ethereum")
	if !ok || got.Overall != domain.HealthHealthy {
		t.Errorf("latest = %+v, want healthy", got)
	}

	s.Put(result("polkadot", domain.HealthDegraded))
	if s.Worst() != domain.HealthDegraded {
		t.Errorf("worst = %s, want degraded", s.Worst())
	}
	if len(s.All()) != 2 {
		t.Errorf("expected 2 networks, got %d", len(s.All()))
	}
}

func TestServer_Health(t *testing.T) {
	s := NewStore()
	s.Put(result("ethereum", domain.HealthHealthy))
	srv := httptest.NewServer(NewServer(s, 0).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	s.Put(result("polkadot", domain.HealthCritical))
	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || body["status"] != "critical" {
		t.Errorf("got %d %v, want 503 critical", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/health/detailed?network=ethereum")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var detailed map[string]domain.HealthCheckResult
	json.NewDecoder(resp.Body).Decode(&detailed)
	resp.Body.Close()
	if len(detailed) != 1 || detailed["ethereum"].Overall != domain.HealthHealthy {
		t.Errorf("detailed = %+v", detailed)
	}

	resp, err = http.Get(srv.URL + "/health/detailed?network=solana")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown network status = %d, want 404", resp.StatusCode)
	}
}

func TestGRPCServer_MirrorsStore(t *testing.T) {
	s := NewStore()
	g := NewGRPCServer(s, 0, nil)

	lis := bufconn.Listen(1 << 20)
	go g.Serve(lis)
	defer g.Stop(context.Background())

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Put(result("ethereum", domain.HealthDegraded))
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "ethereum"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("degraded network = %s, want SERVING", resp.Status)
	}

	s.Put(result("ethereum", domain.HealthCritical))
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "ethereum"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("critical network = %s, want NOT_SERVING", resp.Status)
	}

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	if err != nil {
		t.Fatalf("check overall: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall = %s, want NOT_SERVING", resp.Status)
	}
}
