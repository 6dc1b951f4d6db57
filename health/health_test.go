package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mqpool"
)

type fakePool struct {
	stats mqpool.Stats
	err   error
	pings int
}

func (f *fakePool) Stats() mqpool.Stats { return f.stats }

func (f *fakePool) Ping(ctx context.Context) error {
	f.pings++
	return f.err
}

type staticChecker struct {
	name   string
	status Status
}

func (s staticChecker) Name() string { return s.name }

func (s staticChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Name: s.name, Status: s.status}
}

func TestPoolChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("reachable broker", func(t *testing.T) {
		pool := &fakePool{stats: mqpool.Stats{Open: true, Heartbeat: 10 * time.Second, IdlePublishChannels: 1, Subscriptions: 2}}

		result := NewPoolChecker(pool).Check(ctx)

		assert.Equal(t, 1, pool.pings)
		assert.Equal(t, "rabbitmq", result.Name)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Empty(t, result.Error)
		assert.Equal(t, 1, result.Details["idle_publish_channels"])
		assert.Equal(t, 2, result.Details["subscriptions"])
		assert.Equal(t, "10s", result.Details["heartbeat"])
	})

	t.Run("ping failure is unhealthy", func(t *testing.T) {
		pool := &fakePool{err: errors.New("connection refused")}

		result := NewPoolChecker(pool).Check(ctx)

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "connection refused", result.Error)
		assert.Equal(t, false, result.Details["open"])
		assert.NotContains(t, result.Details, "heartbeat")
	})

	t.Run("closed connection after ping is degraded", func(t *testing.T) {
		result := NewPoolChecker(&fakePool{}).Check(ctx)
		assert.Equal(t, StatusDegraded, result.Status)
	})
}

func TestRuntimeChecker(t *testing.T) {
	ctx := context.Background()

	result := NewRuntimeChecker(0, 0).Check(ctx)
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "goroutines")

	result = NewRuntimeChecker(0, 1).Check(ctx)
	assert.Equal(t, StatusUnhealthy, result.Status, "the test runner alone exceeds one goroutine")
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("no checkers is healthy", func(t *testing.T) {
		report := Run(ctx)
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Empty(t, report.Results)
	})

	t.Run("worst status wins", func(t *testing.T) {
		report := Run(ctx,
			staticChecker{name: "a", status: StatusHealthy},
			staticChecker{name: "b", status: StatusDegraded},
		)
		assert.Equal(t, StatusDegraded, report.Status)

		report = Run(ctx,
			staticChecker{name: "a", status: StatusUnhealthy},
			staticChecker{name: "b", status: StatusDegraded},
		)
		assert.Equal(t, StatusUnhealthy, report.Status)
		require.Len(t, report.Results, 2)
		assert.Equal(t, "a", report.Results[0].Name)
		assert.Equal(t, "b", report.Results[1].Name)
	})
}
