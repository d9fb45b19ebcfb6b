package vecrank

import (
	"context"
	"time"

	healthuc "github.com/kailas-cloud/vecrank/internal/usecase/health"
)

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status    string            // "ok", "degraded", "error"
	Checks    map[string]string // component → "ok"/"error"
	CheckedAt time.Time
}

// Health runs all checks now.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v.Status)
	}
	c.obs.observe("health", start, nil)
	return HealthStatus{
		Status:    string(report.Status),
		Checks:    checks,
		CheckedAt: report.CheckedAt,
	}
}

// healthUseCase is the internal interface for health checks.
type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}
