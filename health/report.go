package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Neil2813/Nexus/metric"
)

// DefaultProbeTimeout bounds one probe.
const DefaultProbeTimeout = 10 * time.Second

// Probe checks one service. It reports failure through the returned status,
// never by blocking past ctx.
type Probe func(ctx context.Context) Status

// Service is one entry of the system report. A Critical service that is not
// healthy makes the whole system not ok; any other service only marks the
// report degraded.
type Service struct {
	Name     string
	Critical bool
	Probe    Probe
}

// Report is the system health document.
type Report struct {
	OK               bool              `json:"ok"`
	Status           string            `json:"status"`
	Timestamp        time.Time         `json:"timestamp"`
	Environment      string            `json:"environment"`
	Version          string            `json:"version"`
	Services         map[string]Status `json:"services"`
	DegradedServices []string          `json:"degraded_services"`
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Environment string
	Version     string
	Timeout     time.Duration
	Monitor     *Monitor
	Metrics     *metric.Metrics
	Logger      *slog.Logger
}

// Reporter runs the service probes and assembles a Report.
type Reporter struct {
	cfg      ReporterConfig
	services []Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewReporter creates a Reporter over services, reported in the given order.
func NewReporter(cfg ReporterConfig, services ...Service) *Reporter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	if cfg.Monitor == nil {
		cfg.Monitor = NewMonitor()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{cfg: cfg, services: services, logger: logger, now: time.Now}
}

// Monitor returns the monitor holding the last probe results.
func (r *Reporter) Monitor() *Monitor {
	return r.cfg.Monitor
}

// Report runs every probe concurrently and builds the report.
func (r *Reporter) Report(ctx context.Context) Report {
	statuses := make([]Status, len(r.services))

	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range r.services {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, r.cfg.Timeout)
			defer cancel()
			statuses[i] = svc.Probe(pctx)
			return nil
		})
	}
	_ = g.Wait()

	for i, svc := range r.services {
		st := statuses[i]
		changed := r.cfg.Monitor.Record(svc.Name, st)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordHealthStatus(svc.Name, st.Level())
		}
		switch {
		case !changed:
		case st.IsHealthy():
			r.logger.Info("service healthy", "service", svc.Name)
		default:
			r.logger.Warn("service not healthy", "service", svc.Name, "status", st.Status, "error", st.Error)
		}
	}
	return Build(r.cfg.Environment, r.cfg.Version, r.now(), r.services, statuses)
}

// Build assembles a report from probe results. statuses[i] belongs to
// services[i].
func Build(environment, version string, at time.Time, services []Service, statuses []Status) Report {
	rep := Report{
		OK:               true,
		Status:           StatusHealthy,
		Timestamp:        at,
		Environment:      environment,
		Version:          version,
		Services:         make(map[string]Status, len(services)),
		DegradedServices: []string{},
	}
	for i, svc := range services {
		st := statuses[i]
		st.Component = svc.Name
		rep.Services[svc.Name] = st
		if st.IsHealthy() {
			continue
		}
		rep.DegradedServices = append(rep.DegradedServices, svc.Name)
		if svc.Critical {
			rep.OK = false
		}
	}
	switch {
	case !rep.OK:
		rep.Status = StatusUnhealthy
	case len(rep.DegradedServices) > 0:
		rep.Status = StatusDegraded
	}
	return rep
}
