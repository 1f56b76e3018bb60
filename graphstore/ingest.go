package graphstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Neil2813/Nexus/metric"
	"github.com/Neil2813/Nexus/pkg/worker"
)

// Batch is one ingestion job.
type Batch struct {
	ID      string
	Source  string
	Studies []Study
}

// IngestorConfig sizes the ingestion pool.
type IngestorConfig struct {
	Workers   int
	QueueSize int
	// JobTimeout bounds one batch.
	JobTimeout time.Duration
}

// Ingestor builds the graph from dataset batches in the background so that
// request handlers never wait on graph writes.
type Ingestor struct {
	store   *Store
	pool    *worker.Pool[Batch]
	timeout time.Duration
	logger  *slog.Logger
}

// NewIngestor creates an ingestor. Call Start before Submit.
func NewIngestor(store *Store, cfg IngestorConfig, logger *slog.Logger, registry *metric.MetricsRegistry) (*Ingestor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	ing := &Ingestor{
		store:   store,
		timeout: cfg.JobTimeout,
		logger:  logger.With("component", "graph_ingestor"),
	}

	opts := []worker.Option[Batch]{worker.WithLogger[Batch](ing.logger)}
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[Batch](registry))
	}
	pool, err := worker.NewPool("graph_ingest", cfg.Workers, cfg.QueueSize, ing.process, opts...)
	if err != nil {
		return nil, err
	}
	ing.pool = pool
	return ing, nil
}

// Start launches the workers.
func (i *Ingestor) Start(ctx context.Context) error {
	return i.pool.Start(ctx)
}

// Submit queues studies and returns the job id. It never blocks; a full
// queue returns worker.ErrQueueFull.
func (i *Ingestor) Submit(source string, studies []Study) (string, error) {
	b := Batch{ID: uuid.NewString(), Source: source, Studies: studies}
	if err := i.pool.Submit(b); err != nil {
		i.logger.Warn("graph ingestion rejected", "job", b.ID, "source", source, "studies", len(studies), "error", err)
		return "", err
	}
	i.logger.Debug("graph ingestion queued", "job", b.ID, "source", source, "studies", len(studies))
	return b.ID, nil
}

func (i *Ingestor) process(ctx context.Context, b Batch) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	rep := i.store.BuildFromDatasets(ctx, b.Studies)
	i.logger.Info("graph ingestion finished",
		"job", b.ID, "source", b.Source, "studies", rep.Studies, "links", rep.Links,
		"failures", len(rep.Failures), "providers", rep.Providers)
	return ctx.Err()
}

// Stats returns the pool counters.
func (i *Ingestor) Stats() worker.PoolStats {
	return i.pool.Stats()
}

// Stop drains queued batches, waiting up to timeout.
func (i *Ingestor) Stop(timeout time.Duration) error {
	return i.pool.Stop(timeout)
}
