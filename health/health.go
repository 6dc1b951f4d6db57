// Package health reports whether a pool can reach its broker.
package health

import (
	"context"
	"time"
)

// Status of a check
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one checker
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}

// Checker inspects one component
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Report aggregates the results of several checkers
type Report struct {
	Status  Status        `json:"status"`
	Results []CheckResult `json:"results"`
}

// Run executes the checkers in order. The report status is the worst
// status of any result.
func Run(ctx context.Context, checkers ...Checker) Report {
	report := Report{Status: StatusHealthy, Results: make([]CheckResult, 0, len(checkers))}
	for _, c := range checkers {
		result := c.Check(ctx)
		report.Results = append(report.Results, result)
		if severity(result.Status) > severity(report.Status) {
			report.Status = result.Status
		}
	}
	return report
}

func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}
