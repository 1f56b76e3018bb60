package graphstore

import (
	"context"
	"log/slog"
	"time"

	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/metric"
	"github.com/Neil2813/Nexus/pkg/fallback"
)

// DefaultTimeout bounds one backend call.
const DefaultTimeout = 5 * time.Second

// Options configures a Store. Primary may be nil when Neo4j is not
// configured.
type Options struct {
	Primary  Backend
	Fallback Backend
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  *metric.Metrics
}

// Store routes each call to the primary backend and falls back per call.
type Store struct {
	backends []Backend
	primary  Backend
	fallback Backend
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// New builds a Store. At least one backend is required.
func New(opts Options) (*Store, error) {
	if opts.Primary == nil && opts.Fallback == nil {
		return nil, errs.WrapInvalid(errs.ErrNotConfigured, "graphstore", "New", "no backend")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		primary:  opts.Primary,
		fallback: opts.Fallback,
		timeout:  opts.Timeout,
		logger:   opts.Logger.With("component", "graphstore"),
		metrics:  opts.Metrics,
	}
	for _, b := range []Backend{opts.Primary, opts.Fallback} {
		if b != nil {
			s.backends = append(s.backends, b)
		}
	}
	return s, nil
}

// run executes op against each backend in order until one succeeds.
func run[T any](ctx context.Context, s *Store, name string, op func(context.Context, Backend) (T, error)) fallback.Result[T] {
	chain := fallback.Chain[T]{
		Name:    "graph." + name,
		Timeout: s.timeout,
		Logger:  s.logger,
	}
	if s.metrics != nil {
		chain.Observer = s.metrics
	}

	attempts := make([]fallback.Attempt[T], 0, len(s.backends))
	for _, b := range s.backends {
		attempts = append(attempts, fallback.Attempt[T]{
			Provider: b.Name(),
			Run: func(ctx context.Context) (T, error) {
				v, err := op(ctx, b)
				result := "ok"
				if err != nil {
					result = "error"
				}
				s.metrics.RecordGraphOp(b.Name(), name, result)
				return v, err
			},
		})
	}
	return chain.Run(ctx, attempts...)
}

// AddNode writes n to the first backend that accepts it and returns that
// backend's name.
func (s *Store) AddNode(ctx context.Context, n Node) (string, error) {
	if n.ID == "" || n.Type == "" {
		return "", errs.WrapInvalid(errs.ErrInvalidData, "graphstore", "AddNode", "node id and type are required")
	}
	if n.Label == "" {
		n.Label = n.ID
	}
	res := run(ctx, s, "add_node", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.AddNode(ctx, n)
	})
	return res.Provider, res.Err("graphstore.AddNode")
}

// AddEdge writes e, filling its deterministic id.
func (s *Store) AddEdge(ctx context.Context, e Edge) (string, error) {
	if e.Source == "" || e.Target == "" || e.Label == "" {
		return "", errs.WrapInvalid(errs.ErrInvalidData, "graphstore", "AddEdge", "source, target and label are required")
	}
	e.ID = EdgeID(e.Source, e.Target, e.Label)
	res := run(ctx, s, "add_edge", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.AddEdge(ctx, e)
	})
	return res.Provider, res.Err("graphstore.AddEdge")
}

// Nodes lists nodes, optionally of one type.
func (s *Store) Nodes(ctx context.Context, nodeType string, limit int) ([]Node, string, error) {
	res := run(ctx, s, "get_nodes", func(ctx context.Context, b Backend) ([]Node, error) {
		return b.Nodes(ctx, nodeType, limit)
	})
	return res.Value, res.Provider, res.Err("graphstore.Nodes")
}

// Edges lists edges, optionally filtered by endpoint.
func (s *Store) Edges(ctx context.Context, source, target string, limit int) ([]Edge, string, error) {
	res := run(ctx, s, "get_edges", func(ctx context.Context, b Backend) ([]Edge, error) {
		return b.Edges(ctx, source, target, limit)
	})
	return res.Value, res.Provider, res.Err("graphstore.Edges")
}

// SearchNodes finds nodes whose label (or properties, on SQLite) contain
// query.
func (s *Store) SearchNodes(ctx context.Context, query string, limit int) (SearchResult, error) {
	res := run(ctx, s, "search", func(ctx context.Context, b Backend) ([]Node, error) {
		return b.SearchNodes(ctx, query, limit)
	})
	if err := res.Err("graphstore.SearchNodes"); err != nil {
		return SearchResult{Nodes: []Node{}}, err
	}
	nodes := res.Value
	if nodes == nil {
		nodes = []Node{}
	}
	return SearchResult{Nodes: nodes, Provider: res.Provider}, nil
}

// Graph returns a bounded view tagged with the serving backend.
func (s *Store) Graph(ctx context.Context, limit int) (Graph, error) {
	res := run(ctx, s, "get_graph", func(ctx context.Context, b Backend) (Graph, error) {
		return b.Graph(ctx, limit)
	})
	if err := res.Err("graphstore.Graph"); err != nil {
		return Graph{Nodes: []Node{}, Edges: []Edge{}}, err
	}
	g := res.Value
	g.Provider = res.Provider
	return g, nil
}

// Stats reports backend availability and counts.
type Stats struct {
	Neo4jAvailable  bool   `json:"neo4j_available"`
	SQLiteAvailable bool   `json:"sqlite_available"`
	Neo4jNodeCount  *int64 `json:"neo4j_node_count,omitempty"`
	Neo4jEdgeCount  *int64 `json:"neo4j_edge_count,omitempty"`
	SQLiteNodeCount *int64 `json:"sqlite_node_count,omitempty"`
	SQLiteEdgeCount *int64 `json:"sqlite_edge_count,omitempty"`
	Provider        string `json:"provider"`
}

// Stats counts nodes and edges on every backend that answers. Availability
// means configured; counts are omitted for a backend that does not answer.
// Provider is the first backend that answered, the same one reads would use.
func (s *Store) Stats(ctx context.Context) Stats {
	st := Stats{
		Neo4jAvailable:  s.primary != nil,
		SQLiteAvailable: s.fallback != nil,
	}
	for _, b := range s.backends {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		nodes, edges, err := b.Counts(cctx)
		cancel()
		if err != nil {
			s.logger.Warn("graph backend stats failed", "backend", b.Name(), "error", err)
			s.metrics.RecordGraphOp(b.Name(), "stats", "error")
			continue
		}
		s.metrics.RecordGraphOp(b.Name(), "stats", "ok")
		if st.Provider == "" {
			st.Provider = b.Name()
		}
		switch b {
		case s.primary:
			st.Neo4jNodeCount, st.Neo4jEdgeCount = &nodes, &edges
		case s.fallback:
			st.SQLiteNodeCount, st.SQLiteEdgeCount = &nodes, &edges
		}
	}
	return st
}

// BackendHealth is the ping outcome of one backend.
type BackendHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Ping probes every configured backend.
func (s *Store) Ping(ctx context.Context) []BackendHealth {
	out := make([]BackendHealth, 0, len(s.backends))
	for _, b := range s.backends {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := b.Ping(cctx)
		cancel()
		h := BackendHealth{Name: b.Name(), Healthy: err == nil}
		if err != nil {
			h.Error = err.Error()
		}
		out = append(out, h)
	}
	return out
}

// HasPrimary reports whether a Neo4j backend is configured.
func (s *Store) HasPrimary() bool { return s.primary != nil }
