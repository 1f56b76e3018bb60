package gateway

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/osdr"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Source string `json:"source,omitempty"`
}

// statusFor maps an error class to a status code. Unclassified errors get
// def.
func statusFor(err error, def int) int {
	switch {
	case errs.IsExhausted(err):
		return http.StatusServiceUnavailable
	case errs.IsInvalid(err):
		return http.StatusBadRequest
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return def
}

// badRequest is returned by handlers for parameters out of range.
func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := ErrorBody{Error: http.StatusText(code)}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(code)
		}
	} else {
		code = statusFor(err, http.StatusInternalServerError)
		body.Error = err.Error()
		if code == http.StatusServiceUnavailable {
			body.Source = osdr.SourceError
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "status", code, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.logger.Warn("writing error response failed", "error", err)
	}
}
