package health

import (
	"context"

	"github.com/Neil2813/Nexus/cachestore"
	"github.com/Neil2813/Nexus/graphstore"
	"github.com/Neil2813/Nexus/osdr"
)

// Service names used in the system report.
const (
	ServiceAcquisition = "nasa_osdr"
	ServiceAI          = "ai_services"
	ServiceCache       = "cache"
	ServiceGraph       = "graph"
)

// DatasetLister is the part of the acquisition engine the probe calls.
type DatasetLister interface {
	ListDatasets(ctx context.Context, q osdr.ListQuery) (osdr.DatasetList, error)
	APIKeyConfigured() bool
}

// AcquisitionProbe lists one dataset. An exhausted listing is unhealthy and
// an empty one degraded.
func AcquisitionProbe(lister DatasetLister) Probe {
	return func(ctx context.Context) Status {
		list, err := lister.ListDatasets(ctx, osdr.ListQuery{Limit: 1})
		var st Status
		switch {
		case err != nil:
			st = NewUnhealthy(ServiceAcquisition, "upstream unavailable").WithError(err)
		case len(list.Data) == 0:
			st = NewDegraded(ServiceAcquisition, "upstream returned no datasets")
		default:
			st = NewHealthy(ServiceAcquisition, list.Source)
		}
		return st.WithDetail("api_key_configured", lister.APIKeyConfigured())
	}
}

// AIProbe reports which remote generators are configured. Without any the
// service runs on local heuristics and is degraded.
func AIProbe(gemini, openai bool) Probe {
	return func(context.Context) Status {
		var st Status
		if gemini || openai {
			st = NewHealthy(ServiceAI, "remote generators configured")
		} else {
			st = NewDegraded(ServiceAI, "no remote generator configured").
				WithDetail("fallback_mode", "local_processing")
		}
		return st.WithDetail("gemini_configured", gemini).WithDetail("openai_configured", openai)
	}
}

// CacheStatser is the part of the cache store the probe calls.
type CacheStatser interface {
	Stats(ctx context.Context) cachestore.Stats
}

// CacheProbe is degraded when a configured persistent tier does not answer.
// The memory tier always answers.
func CacheProbe(cache CacheStatser) Probe {
	return func(ctx context.Context) Status {
		stats := cache.Stats(ctx)
		st := NewHealthy(ServiceCache, "all configured tiers answer")
		if (stats.FastAvailable && !stats.FastHealthy) || (stats.DurableAvailable && !stats.DurableHealthy) {
			st = NewDegraded(ServiceCache, "a cache tier is unreachable")
		}
		return st.
			WithDetail("fast_available", stats.FastHealthy).
			WithDetail("durable_available", stats.DurableHealthy).
			WithDetail("memory_available", stats.MemoryAvailable)
	}
}

// GraphStatser is the part of the graph store the probe calls.
type GraphStatser interface {
	Stats(ctx context.Context) graphstore.Stats
}

// GraphProbe is degraded when the primary backend is configured but not
// serving, and unhealthy when no backend answers.
func GraphProbe(graph GraphStatser) Probe {
	return func(ctx context.Context) Status {
		stats := graph.Stats(ctx)
		var st Status
		switch {
		case stats.Provider == "":
			st = NewUnhealthy(ServiceGraph, "no graph backend answers")
		case stats.Neo4jAvailable && stats.Neo4jNodeCount == nil:
			st = NewDegraded(ServiceGraph, "serving from "+stats.Provider)
		default:
			st = NewHealthy(ServiceGraph, "serving from "+stats.Provider)
		}
		return st.
			WithDetail("neo4j_available", stats.Neo4jNodeCount != nil).
			WithDetail("sqlite_available", stats.SQLiteNodeCount != nil)
	}
}
