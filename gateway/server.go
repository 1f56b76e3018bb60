// Package gateway serves the Nexus HTTP API.
//
// Handlers are thin: they bind query parameters, consult the tiered cache
// and call the acquisition engine, graph store or insight service. A
// degraded acquisition payload is answered with 503 and is never cached.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/Neil2813/Nexus/cachestore"
	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/graphstore"
	"github.com/Neil2813/Nexus/health"
	"github.com/Neil2813/Nexus/insight"
	"github.com/Neil2813/Nexus/metric"
	"github.com/Neil2813/Nexus/osdr"
)

// Acquisition is the part of the acquisition engine the API serves.
type Acquisition interface {
	ListDatasets(ctx context.Context, q osdr.ListQuery) (osdr.DatasetList, error)
	Search(ctx context.Context, f osdr.SearchFilters) (osdr.SearchResult, error)
	GetStudyDetails(ctx context.Context, studyID string) (osdr.StudyDetails, error)
	GetFiles(ctx context.Context, q osdr.FilesQuery) (osdr.FileList, error)
	Organisms(ctx context.Context) (osdr.OrganismList, error)
	Missions(ctx context.Context) (osdr.MissionList, error)
	GetReference(ctx context.Context, r osdr.Reference) (json.RawMessage, error)
	Timeline(ctx context.Context, limit int) (osdr.Timeline, error)
}

// Cache is the response cache.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (string, bool)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Stats(ctx context.Context) cachestore.Stats
	DefaultTTL() time.Duration
}

// Graph is the read side of the graph store.
type Graph interface {
	Graph(ctx context.Context, limit int) (graphstore.Graph, error)
	SearchNodes(ctx context.Context, query string, limit int) (graphstore.SearchResult, error)
	Stats(ctx context.Context) graphstore.Stats
}

// Ingestor accepts study batches for asynchronous graph ingestion.
type Ingestor interface {
	Submit(source string, studies []graphstore.Study) (string, error)
}

// Insight is the AI collaborator.
type Insight interface {
	Summarize(ctx context.Context, text string, maxTokens int) insight.Summary
	ParseIntent(ctx context.Context, query string) insight.Intent
	GenerateInsights(ctx context.Context, records []insight.Record) insight.Insights
}

// Reporter builds the system health report.
type Reporter interface {
	Report(ctx context.Context) health.Report
}

// Config configures the HTTP surface.
type Config struct {
	APIPrefix      string
	CORSOrigins    []string
	RateLimit      int
	RateWindow     time.Duration
	RequestTimeout time.Duration

	// Name, Version and Environment are reported by the root route.
	Name        string
	Version     string
	Environment string
}

// Deps are the components behind the API. Ingestor and Metrics are
// optional.
type Deps struct {
	Acquisition Acquisition
	Cache       Cache
	Graph       Graph
	Ingestor    Ingestor
	Insight     Insight
	Health      Reporter
	Metrics     *metric.Metrics
	Logger      *slog.Logger
}

// Server is the Nexus HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	echo   *echo.Echo
	logger *slog.Logger
	now    func() time.Time
}

// New builds the server and registers every route.
func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Acquisition == nil:
		return nil, errs.WrapFatal(errs.ErrMissingConfig, "gateway", "New", "acquisition engine is required")
	case deps.Cache == nil:
		return nil, errs.WrapFatal(errs.ErrMissingConfig, "gateway", "New", "cache is required")
	case deps.Graph == nil:
		return nil, errs.WrapFatal(errs.ErrMissingConfig, "gateway", "New", "graph store is required")
	case deps.Insight == nil:
		return nil, errs.WrapFatal(errs.ErrMissingConfig, "gateway", "New", "insight service is required")
	case deps.Health == nil:
		return nil, errs.WrapFatal(errs.ErrMissingConfig, "gateway", "New", "health reporter is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		echo:   echo.New(),
		logger: logger.With("component", "gateway"),
		now:    time.Now,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError

	s.middleware()
	s.routes()
	return s, nil
}

func (s *Server) middleware() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.RecordHTTPRequest(route, v.Method, v.Status, v.Latency)
			}
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			s.logger.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID))
			return nil
		},
	}))
	if len(s.cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
			AllowCredentials: true,
		}))
	}
	if s.cfg.RateLimit > 0 && s.cfg.RateWindow > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(float64(s.cfg.RateLimit) / s.cfg.RateWindow.Seconds()),
				Burst:     s.cfg.RateLimit,
				ExpiresIn: s.cfg.RateWindow,
			}),
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return c.JSON(http.StatusTooManyRequests, ErrorBody{Error: "rate limit exceeded"})
			},
		}))
	}
	if s.cfg.RequestTimeout > 0 {
		e.Use(requestTimeout(s.cfg.RequestTimeout))
	}
}

// requestTimeout bounds the request context. Handlers see the deadline
// through every downstream call.
func requestTimeout(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/", s.root)

	api := e.Group(s.cfg.APIPrefix)
	api.GET("/datasets", s.listDatasets)
	api.POST("/search", s.search)
	api.GET("/study/:id", s.studyDetails)
	api.GET("/files/:ids", s.studyFiles)
	api.GET("/organisms", s.organisms)
	api.GET("/missions", s.missions)
	for _, ref := range osdr.References {
		api.GET("/"+string(ref), s.reference(ref))
	}
	api.GET("/timeline", s.timeline)

	api.GET("/graph", s.graph)
	api.GET("/graph/search", s.graphSearch)
	api.GET("/graph/stats", s.graphStats)

	api.POST("/summarize", s.summarize)
	api.POST("/insights", s.insights)

	api.GET("/health", s.health)
	api.GET("/cache/stats", s.cacheStats)
}

// Handler exposes the server for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("HTTP API listening", "address", addr, "prefix", s.cfg.APIPrefix)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errs.WrapFatal(err, "gateway", "Start", "listen on "+addr)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"name":        s.cfg.Name,
		"version":     s.cfg.Version,
		"description": "NASA Space Biology Knowledge Engine API",
		"api_prefix":  s.cfg.APIPrefix,
		"environment": s.cfg.Environment,
	})
}
