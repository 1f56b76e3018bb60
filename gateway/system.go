package gateway

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// health always answers 200; callers read ok and status from the body.
func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Health.Report(c.Request().Context()))
}

func (s *Server) cacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Cache.Stats(c.Request().Context()))
}
