package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/mqpool"
)

// Pinger is the part of a pool the pool checker needs
type Pinger interface {
	Stats() mqpool.Stats
	Ping(ctx context.Context) error
}

// PoolChecker checks that a pool can open a publish channel
type PoolChecker struct {
	pool Pinger
}

// NewPoolChecker creates a checker for pool
func NewPoolChecker(pool Pinger) *PoolChecker {
	return &PoolChecker{pool: pool}
}

func (c *PoolChecker) Name() string {
	return "rabbitmq"
}

func (c *PoolChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	err := c.pool.Ping(ctx)
	stats := c.pool.Stats()
	result.Details["open"] = stats.Open
	result.Details["idle_publish_channels"] = stats.IdlePublishChannels
	result.Details["subscriptions"] = stats.Subscriptions
	if stats.Heartbeat > 0 {
		result.Details["heartbeat"] = stats.Heartbeat.String()
	}
	result.Duration = time.Since(start)

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Message = "Broker is not reachable"
		result.Error = err.Error()
	case !stats.Open:
		// Ping succeeded but the connection dropped right after
		result.Status = StatusDegraded
		result.Message = "Connection is recovering"
	default:
		result.Status = StatusHealthy
		result.Message = "Broker is reachable"
		result.Details["response_time_ms"] = result.Duration.Milliseconds()
	}
	return result
}

// RuntimeChecker flags a goroutine count that suggests leaked handlers
type RuntimeChecker struct {
	warning  int
	critical int
}

// NewRuntimeChecker creates a runtime checker with goroutine thresholds
func NewRuntimeChecker(warning, critical int) *RuntimeChecker {
	return &RuntimeChecker{warning: warning, critical: critical}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()
	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case c.critical > 0 && goroutines > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case c.warning > 0 && goroutines > c.warning:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
