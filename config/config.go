// Package config loads the Nexus process configuration.
//
// Configuration is layered: built-in defaults, then each file layer in the
// order added (JSON or YAML, chosen by extension), then NEXUS_* environment
// variables. Only keys present in a layer override earlier values.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/nexus.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEXUS"

// Duration is a time.Duration written as a string such as "30s", "1h" or
// "1d". Plain numbers are read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Config is the complete process configuration.
type Config struct {
	Environment string        `json:"environment"`
	Server      ServerConfig  `json:"server"`
	Cache       CacheConfig   `json:"cache"`
	Graph       GraphConfig   `json:"graph"`
	NATS        NATSConfig    `json:"nats"`
	OSDR        OSDRConfig    `json:"osdr"`
	AI          AIConfig      `json:"ai"`
	Metrics     MetricsConfig `json:"metrics"`
	Log         LogConfig     `json:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string          `json:"host"`
	Port            int             `json:"port"`
	APIPrefix       string          `json:"api_prefix"`
	CORSOrigins     []string        `json:"cors_origins"`
	RateLimit       RateLimitConfig `json:"rate_limit"`
	RequestTimeout  Duration        `json:"request_timeout"`
	ShutdownTimeout Duration        `json:"shutdown_timeout"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig allows Requests per Window for each client.
type RateLimitConfig struct {
	Requests int      `json:"requests"`
	Window   Duration `json:"window"`
}

// CacheConfig configures the tiered cache. An empty NATS URL disables the
// fast tier; an empty DataDir disables the durable tier.
type CacheConfig struct {
	DataDir       string   `json:"data_dir"`
	DefaultTTL    Duration `json:"default_ttl"`
	MemorySize    int      `json:"memory_size"`
	TierTimeout   Duration `json:"tier_timeout"`
	SweepInterval Duration `json:"sweep_interval"`
	Bucket        string   `json:"bucket"`
}

// DurablePath is the SQLite file of the durable cache tier.
func (c CacheConfig) DurablePath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "nexus.db")
}

// GraphConfig configures the graph store. Neo4j is used only when both URI
// and password are set.
type GraphConfig struct {
	Neo4jURI      string   `json:"neo4j_uri"`
	Neo4jUser     string   `json:"neo4j_user"`
	Neo4jPassword string   `json:"neo4j_password"`
	Neo4jDatabase string   `json:"neo4j_database"`
	SQLitePath    string   `json:"sqlite_path"`
	Timeout       Duration `json:"timeout"`
	IngestWorkers int      `json:"ingest_workers"`
	IngestQueue   int      `json:"ingest_queue"`
}

// HasNeo4j reports whether the primary backend is configured.
func (g GraphConfig) HasNeo4j() bool {
	return g.Neo4jURI != "" && g.Neo4jPassword != ""
}

// NATSConfig configures the connection behind the fast cache tier.
type NATSConfig struct {
	URL           string   `json:"url"`
	MaxReconnects int      `json:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait"`
	ConnectWait   Duration `json:"connect_wait"`
}

// OSDRConfig configures the acquisition engine.
type OSDRConfig struct {
	BaseURL        string   `json:"base_url"`
	GeodeURL       string   `json:"geode_url"`
	APIKey         string   `json:"api_key"`
	UserAgent      string   `json:"user_agent"`
	Timeout        Duration `json:"timeout"`
	DetailTimeout  Duration `json:"detail_timeout"`
	PageMultiplier int      `json:"page_multiplier"`
	MaxPageSize    int      `json:"max_page_size"`
}

// AIConfig configures the remote generators. A provider without a key is
// not used.
type AIConfig struct {
	GeminiAPIKey  string   `json:"gemini_api_key"`
	GeminiModel   string   `json:"gemini_model"`
	GeminiBaseURL string   `json:"gemini_base_url"`
	OpenAIAPIKey  string   `json:"openai_api_key"`
	OpenAIModel   string   `json:"openai_model"`
	OpenAIBaseURL string   `json:"openai_base_url"`
	Timeout       Duration `json:"timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			APIPrefix:       "/api",
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       RateLimitConfig{Requests: 100, Window: Duration(time.Minute)},
			RequestTimeout:  Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			DataDir:       "./data",
			DefaultTTL:    Duration(time.Hour),
			MemorySize:    1000,
			TierTimeout:   Duration(2 * time.Second),
			SweepInterval: Duration(10 * time.Minute),
			Bucket:        "nexus_cache",
		},
		Graph: GraphConfig{
			Neo4jUser:     "neo4j",
			Neo4jDatabase: "neo4j",
			SQLitePath:    "./data/graph.db",
			Timeout:       Duration(5 * time.Second),
			IngestWorkers: 2,
			IngestQueue:   64,
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			ConnectWait:   Duration(10 * time.Second),
		},
		OSDR: OSDRConfig{
			BaseURL:        "https://osdr.nasa.gov",
			GeodeURL:       "https://genelab-data.ndc.nasa.gov",
			UserAgent:      "NEXUS-NASA-Space-Biology-Knowledge-Engine/1.0",
			Timeout:        Duration(30 * time.Second),
			DetailTimeout:  Duration(15 * time.Second),
			PageMultiplier: 10,
			MaxPageSize:    500,
		},
		AI: AIConfig{
			GeminiModel: "gemini-1.5-pro",
			OpenAIModel: "gpt-3.5-turbo",
			Timeout:     Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		add("server.api_prefix %q must start with /", c.Server.APIPrefix)
	}
	if c.Server.RateLimit.Requests < 0 {
		add("server.rate_limit.requests must not be negative")
	}
	if c.Server.RateLimit.Requests > 0 && c.Server.RateLimit.Window <= 0 {
		add("server.rate_limit.window must be positive")
	}
	if c.Cache.DefaultTTL <= 0 {
		add("cache.default_ttl must be positive")
	}
	if c.Cache.MemorySize < 1 {
		add("cache.memory_size must be at least 1")
	}
	if c.Graph.IngestWorkers < 1 {
		add("graph.ingest_workers must be at least 1")
	}
	if c.OSDR.BaseURL == "" {
		add("osdr.base_url is required")
	}
	if c.OSDR.PageMultiplier < 1 {
		add("osdr.page_multiplier must be at least 1")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		add("metrics.port %d out of range", c.Metrics.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		add("log.format %q must be json or text", c.Log.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Redacted returns a copy with every secret replaced.
func (c *Config) Redacted() *Config {
	r := c.Clone()
	for _, s := range []*string{&r.OSDR.APIKey, &r.AI.GeminiAPIKey, &r.AI.OpenAIAPIKey, &r.Graph.Neo4jPassword} {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	return r
}

// String returns a JSON representation of the config with secrets redacted.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to apply %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads one layer as a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readLayer(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// mergeFromMap overrides only the fields present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// envBinding maps one NEXUS_* variable onto a field.
type envBinding struct {
	name  string
	apply func(cfg *Config, val string) error
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		*field(cfg) = val
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func durationVar(field func(*Config) *Duration) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		if secs, err := strconv.Atoi(val); err == nil {
			*field(cfg) = Duration(time.Duration(secs) * time.Second)
			return nil
		}
		d, err := parseDurationWithDays(val)
		if err != nil {
			return err
		}
		*field(cfg) = Duration(d)
		return nil
	}
}

var envBindings = []envBinding{
	{"ENVIRONMENT", stringVar(func(c *Config) *string { return &c.Environment })},
	{"HOST", stringVar(func(c *Config) *string { return &c.Server.Host })},
	{"PORT", intVar(func(c *Config) *int { return &c.Server.Port })},
	{"API_PREFIX", stringVar(func(c *Config) *string { return &c.Server.APIPrefix })},
	{"CORS_ORIGINS", func(c *Config, val string) error {
		c.Server.CORSOrigins = splitList(val)
		return nil
	}},
	{"RATE_LIMIT_REQUESTS", intVar(func(c *Config) *int { return &c.Server.RateLimit.Requests })},
	{"RATE_LIMIT_WINDOW", durationVar(func(c *Config) *Duration { return &c.Server.RateLimit.Window })},
	{"DATA_DIR", stringVar(func(c *Config) *string { return &c.Cache.DataDir })},
	{"CACHE_TTL", durationVar(func(c *Config) *Duration { return &c.Cache.DefaultTTL })},
	{"MAX_CACHE_SIZE", intVar(func(c *Config) *int { return &c.Cache.MemorySize })},
	{"NATS_URL", stringVar(func(c *Config) *string { return &c.NATS.URL })},
	{"NEO4J_URI", stringVar(func(c *Config) *string { return &c.Graph.Neo4jURI })},
	{"NEO4J_USER", stringVar(func(c *Config) *string { return &c.Graph.Neo4jUser })},
	{"NEO4J_PASSWORD", stringVar(func(c *Config) *string { return &c.Graph.Neo4jPassword })},
	{"OSDR_API_KEY", stringVar(func(c *Config) *string { return &c.OSDR.APIKey })},
	{"OSDR_BASE_URL", stringVar(func(c *Config) *string { return &c.OSDR.BaseURL })},
	{"GEODE_BASE_URL", stringVar(func(c *Config) *string { return &c.OSDR.GeodeURL })},
	{"GEMINI_API_KEY", stringVar(func(c *Config) *string { return &c.AI.GeminiAPIKey })},
	{"OPENAI_API_KEY", stringVar(func(c *Config) *string { return &c.AI.OpenAIAPIKey })},
	{"METRICS_PORT", intVar(func(c *Config) *int { return &c.Metrics.Port })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
}

// applyEnvOverrides applies NEXUS_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, b := range envBindings {
		key := l.envPrefix + "_" + b.name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			continue
		}
		if err := checkEnvValue(key, val); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := b.apply(cfg, val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
