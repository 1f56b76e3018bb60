package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/Neil2813/Nexus/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Address())
	assert.Equal(t, "/api", cfg.Server.APIPrefix)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, 1000, cfg.Cache.MemorySize)
	assert.Equal(t, 100, cfg.Server.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.Server.RateLimit.Window.Std())
	assert.Equal(t, filepath.Join("data", "nexus.db"), filepath.Clean(cfg.Cache.DurablePath()))
	assert.False(t, cfg.Graph.HasNeo4j())
}

func TestLoader_JSONLayer(t *testing.T) {
	path := writeFile(t, "nexus.json", `{
		"environment": "production",
		"server": {"port": 9000, "rate_limit": {"window": "2m"}},
		"cache": {"default_ttl": "1d"},
		"graph": {"neo4j_uri": "bolt://localhost:7687", "neo4j_password": "pw"}
	}`)

	l := newTestLoader(nil)
	l.AddLayer(path)
	l.EnableValidation(true)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "untouched keys keep defaults")
	assert.Equal(t, 100, cfg.Server.RateLimit.Requests, "sibling keys keep defaults")
	assert.Equal(t, 2*time.Minute, cfg.Server.RateLimit.Window.Std())
	assert.Equal(t, 24*time.Hour, cfg.Cache.DefaultTTL.Std())
	assert.True(t, cfg.Graph.HasNeo4j())
}

func TestLoader_YAMLLayerOverridesJSON(t *testing.T) {
	base := writeFile(t, "base.json", `{"server": {"port": 9000}, "log": {"level": "debug"}}`)
	override := writeFile(t, "override.yaml", strings.Join([]string{
		"server:",
		"  port: 9100",
		"  cors_origins:",
		"    - https://nexus.example.org",
		"cache:",
		"  default_ttl: 120",
		"osdr:",
		"  timeout: 45s",
	}, "\n"))

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"https://nexus.example.org"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL.Std(), "numbers are seconds")
	assert.Equal(t, 45*time.Second, cfg.OSDR.Timeout.Std())
}

func TestLoader_EnvOverrides(t *testing.T) {
	l := newTestLoader(map[string]string{
		"NEXUS_PORT":           "8081",
		"NEXUS_CORS_ORIGINS":   "http://a.test, http://b.test,",
		"NEXUS_CACHE_TTL":      "600",
		"NEXUS_GEMINI_API_KEY": "g-key",
		"NEXUS_NATS_URL":       "nats://cache:4222",
		"NEXUS_LOG_LEVEL":      "",
	})
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, "g-key", cfg.AI.GeminiAPIKey)
	assert.Equal(t, "nats://cache:4222", cfg.NATS.URL)
	assert.Equal(t, "info", cfg.Log.Level, "empty variables are ignored")
}

func TestLoader_BadEnvValue(t *testing.T) {
	_, err := newTestLoader(map[string]string{"NEXUS_PORT": "eighty"}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NEXUS_PORT")
}

func TestLoader_RejectsUnknownExtension(t *testing.T) {
	l := newTestLoader(nil)
	l.AddLayer(writeFile(t, "nexus.toml", `port = 1`))
	_, err := l.Load()
	assert.Error(t, err)
}

func TestLoader_ValidationFailure(t *testing.T) {
	l := newTestLoader(nil)
	l.AddLayer(writeFile(t, "bad.json", `{"server": {"port": 0}, "log": {"format": "xml"}}`))
	l.EnableValidation(true)

	_, err := l.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "log.format")
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`30`), &d))
	assert.Equal(t, 30*time.Second, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))

	out, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m0s"`, string(out))
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.AI.OpenAIAPIKey = "sk-secret"
	cfg.Graph.Neo4jPassword = "hunter2"

	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.NotContains(t, s, "hunter2")
	assert.Equal(t, "sk-secret", cfg.AI.OpenAIAPIKey, "original is untouched")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, {"b": "}"}]}`)))
	assert.Error(t, validateJSONDepth([]byte(strings.Repeat("[", maxJSONDepth+1))))
	assert.Error(t, validateJSONDepth([]byte(`{"a": 1`)))
}

func TestReadLayer_Limits(t *testing.T) {
	big := writeFile(t, "big.json", `{"pad": "`+strings.Repeat("x", maxLayerSize)+`"}`)
	_, err := readLayer(big)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	dir := filepath.Join(t.TempDir(), "layer.yaml")
	require.NoError(t, os.Mkdir(dir, 0o700))
	_, err = readLayer(dir)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig, "directories are not layers")

	_, err = readLayer(filepath.Join("..", "..", "etc", "nexus.yaml"))
	assert.ErrorIs(t, err, errs.ErrInvalidConfig, "relative paths may not leave the working directory")

	data, err := readLayer(writeFile(t, "ok.yml", "log:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "warn")
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("NEXUS_PORT", "8000"))
	assert.Error(t, checkEnvValue("NEXUS_PORT", strings.Repeat("9", maxEnvValueLen+1)))
	assert.Error(t, checkEnvValue("NEXUS_LOG_LEVEL", "info\x00"))
}
