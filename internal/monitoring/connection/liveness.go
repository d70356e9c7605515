package connection

import (
	"context"
	"strconv"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/chain"
)

// LivenessChecker probes only the connection by asking for the chain head.
type LivenessChecker struct{}

// Check implements HealthChecker.
func (LivenessChecker) Check(ctx context.Context, network domain.NetworkID, client chain.Client) domain.HealthCheckResult {
	start := time.Now()
	head, err := chain.Await(ctx, client.GetHead)

	check := domain.CheckResult{
		Name:    domain.CheckConnection,
		Status:  domain.HealthHealthy,
		Latency: time.Since(start),
	}
	overall := domain.HealthHealthy
	if err != nil {
		check.Status = domain.HealthCritical
		check.Error = err.Error()
		overall = domain.HealthCritical
	} else {
		check.Detail = headDetail(head)
	}

	return domain.HealthCheckResult{
		Network:   network,
		Overall:   overall,
		Timestamp: time.Now(),
		Checks:    []domain.CheckResult{check},
	}
}

func notConnectedResult(network domain.NetworkID, err error) domain.HealthCheckResult {
	return domain.HealthCheckResult{
		Network:   network,
		Overall:   domain.HealthCritical,
		Timestamp: time.Now(),
		Checks: []domain.CheckResult{{
			Name:   domain.CheckConnection,
			Status: domain.HealthCritical,
			Error:  err.Error(),
		}},
	}
}

func headDetail(head uint64) string {
	return "head " + strconv.FormatUint(head, 10)
}
