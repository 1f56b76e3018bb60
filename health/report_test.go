package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neil2813/Nexus/cachestore"
	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/graphstore"
	"github.com/Neil2813/Nexus/metric"
	"github.com/Neil2813/Nexus/osdr"
)

type fakeLister struct {
	list osdr.DatasetList
	err  error
}

func (f fakeLister) ListDatasets(context.Context, osdr.ListQuery) (osdr.DatasetList, error) {
	return f.list, f.err
}

func (f fakeLister) APIKeyConfigured() bool { return true }

type fakeCache cachestore.Stats

func (f fakeCache) Stats(context.Context) cachestore.Stats { return cachestore.Stats(f) }

type fakeGraph graphstore.Stats

func (f fakeGraph) Stats(context.Context) graphstore.Stats { return graphstore.Stats(f) }

func count(n int64) *int64 { return &n }

var (
	listed       = fakeLister{list: osdr.DatasetList{Data: []osdr.Dataset{{ID: "OSD-1"}}, Source: osdr.SourceName}}
	healthyCache = fakeCache{FastAvailable: true, FastHealthy: true, DurableAvailable: true, DurableHealthy: true, MemoryAvailable: true}
	healthyGraph = fakeGraph{Neo4jAvailable: true, SQLiteAvailable: true, Neo4jNodeCount: count(3), SQLiteNodeCount: count(3), Provider: "neo4j"}
)

func services(lister DatasetLister, ai Probe, cache CacheStatser, graph GraphStatser) []Service {
	return []Service{
		{Name: ServiceAcquisition, Critical: true, Probe: AcquisitionProbe(lister)},
		{Name: ServiceAI, Probe: ai},
		{Name: ServiceCache, Probe: CacheProbe(cache)},
		{Name: ServiceGraph, Probe: GraphProbe(graph)},
	}
}

func TestReporter_AllHealthy(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := NewReporter(ReporterConfig{Environment: "test", Version: "1.0.0", Metrics: registry.CoreMetrics()},
		services(listed, AIProbe(true, false), healthyCache, healthyGraph)...)

	rep := r.Report(context.Background())
	assert.True(t, rep.OK)
	assert.Equal(t, StatusHealthy, rep.Status)
	assert.Equal(t, "test", rep.Environment)
	assert.Empty(t, rep.DegradedServices)
	require.Len(t, rep.Services, 4)
	assert.Equal(t, true, rep.Services[ServiceAcquisition].Details["api_key_configured"])

	obs, ok := r.Monitor().Last(ServiceGraph)
	require.True(t, ok)
	assert.True(t, obs.Status.IsHealthy())
	assert.Zero(t, obs.Failures)
}

func TestReporter_AcquisitionDownIsNotOK(t *testing.T) {
	down := fakeLister{err: fmt.Errorf("list: %w", errs.ErrAllAttemptsExhausted)}
	rep := NewReporter(ReporterConfig{}, services(down, AIProbe(true, true), healthyCache, healthyGraph)...).
		Report(context.Background())

	assert.False(t, rep.OK)
	assert.Equal(t, StatusUnhealthy, rep.Status)
	assert.Equal(t, []string{ServiceAcquisition}, rep.DegradedServices)
	assert.NotEmpty(t, rep.Services[ServiceAcquisition].Error)
}

func TestReporter_EmptyListingIsNotOK(t *testing.T) {
	rep := NewReporter(ReporterConfig{}, services(fakeLister{}, AIProbe(true, true), healthyCache, healthyGraph)...).
		Report(context.Background())

	assert.False(t, rep.OK)
	assert.True(t, rep.Services[ServiceAcquisition].IsDegraded())
}

func TestReporter_SecondaryDegradationKeepsOK(t *testing.T) {
	cache := healthyCache
	cache.FastHealthy = false
	graph := fakeGraph{Neo4jAvailable: true, SQLiteAvailable: true, SQLiteNodeCount: count(1), SQLiteEdgeCount: count(0), Provider: "sqlite"}

	rep := NewReporter(ReporterConfig{}, services(listed, AIProbe(false, false), cache, graph)...).
		Report(context.Background())

	assert.True(t, rep.OK)
	assert.Equal(t, StatusDegraded, rep.Status)
	assert.Equal(t, []string{ServiceAI, ServiceCache, ServiceGraph}, rep.DegradedServices)
	assert.Equal(t, "local_processing", rep.Services[ServiceAI].Details["fallback_mode"])
	assert.Equal(t, false, rep.Services[ServiceCache].Details["fast_available"])
	assert.Equal(t, false, rep.Services[ServiceGraph].Details["neo4j_available"])
}

func TestReporter_ProbeTimeout(t *testing.T) {
	slow := Service{Name: "slow", Probe: func(ctx context.Context) Status {
		<-ctx.Done()
		return NewUnhealthy("slow", "timed out").WithError(ctx.Err())
	}}
	start := time.Now()
	rep := NewReporter(ReporterConfig{Timeout: 50 * time.Millisecond}, slow).Report(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, rep.OK, "non-critical services never clear ok")
	assert.Equal(t, []string{"slow"}, rep.DegradedServices)
}

func TestGraphProbe_NoBackend(t *testing.T) {
	st := GraphProbe(fakeGraph{Neo4jAvailable: true})(context.Background())
	assert.True(t, st.IsUnhealthy())
}
