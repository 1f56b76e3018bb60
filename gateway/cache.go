package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Response headers describing cache use.
const (
	HeaderCache     = "X-Cache"
	HeaderCacheTier = "X-Cache-Tier"
)

// Cache lifetimes for responses that outlive the default TTL.
const (
	searchTTL    = 30 * time.Minute
	facetTTL     = 24 * time.Hour
	referenceTTL = 24 * time.Hour
	graphTTL     = time.Hour
	timelineTTL  = 2 * time.Hour
)

// cached answers from the cache when key is present. Otherwise it calls
// fetch, stores a successful value under key and responds with it. A
// failed fetch answers with the degraded value fetch returned, which is
// never stored. A zero ttl means the cache default.
func cached[T any](s *Server, c echo.Context, key string, ttl time.Duration, fetch func(context.Context) (T, error)) error {
	ctx := c.Request().Context()
	h := c.Response().Header()

	var hit T
	if tier, ok := s.deps.Cache.GetJSON(ctx, key, &hit); ok {
		h.Set(HeaderCache, "HIT")
		h.Set(HeaderCacheTier, tier)
		return c.JSON(http.StatusOK, hit)
	}

	v, err := fetch(ctx)
	if err != nil {
		s.logger.Warn("serving degraded response", "key", key, "error", err)
		return c.JSON(statusFor(err, http.StatusServiceUnavailable), v)
	}
	if ttl <= 0 {
		ttl = s.deps.Cache.DefaultTTL()
	}
	if err := s.deps.Cache.SetJSON(ctx, key, v, ttl); err != nil {
		s.logger.Warn("caching response failed", "key", key, "error", err)
	}
	h.Set(HeaderCache, "MISS")
	return c.JSON(http.StatusOK, v)
}
