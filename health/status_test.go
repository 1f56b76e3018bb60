package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Levels(t *testing.T) {
	tests := []struct {
		status    Status
		healthy   bool
		degraded  bool
		unhealthy bool
		level     int
	}{
		{status: NewHealthy("c", "ok"), healthy: true, level: 2},
		{status: NewDegraded("c", "slow"), degraded: true, level: 1},
		{status: NewUnhealthy("c", "down"), unhealthy: true, level: 0},
		{status: Status{}, level: 0},
	}

	for _, tt := range tests {
		t.Run(tt.status.Status, func(t *testing.T) {
			assert.Equal(t, tt.healthy, tt.status.IsHealthy())
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.Equal(t, tt.degraded, tt.status.IsDegraded())
			assert.Equal(t, tt.unhealthy, tt.status.IsUnhealthy())
			assert.Equal(t, tt.level, tt.status.Level())
		})
	}
}

func TestStatus_WithDetailCopies(t *testing.T) {
	original := NewHealthy("cache", "ok").WithDetail("fast_available", true)
	modified := original.WithDetail("durable_available", false)

	assert.Len(t, original.Details, 1)
	assert.Len(t, modified.Details, 2)
	assert.Equal(t, true, modified.Details["fast_available"])
}

func TestAggregate(t *testing.T) {
	assert.True(t, Aggregate("sys", nil).IsHealthy())
	assert.True(t, Aggregate("sys", []Status{NewHealthy("a", ""), NewHealthy("b", "")}).IsHealthy())
	assert.True(t, Aggregate("sys", []Status{NewHealthy("a", ""), NewDegraded("b", "")}).IsDegraded())
	assert.True(t, Aggregate("sys", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}).IsUnhealthy())
}
