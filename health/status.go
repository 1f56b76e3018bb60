// Package health tracks the health of the Nexus data-access components and
// assembles the system report served by the API.
package health

import (
	"regexp"
	"time"
)

// Health levels.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// redactions run in order; URLs go first because they contain paths and
// ports.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?:https?|nats|tls|bolt|neo4j)(?:\+s|\+ssc)?://\S+`), "[URL]"},
	{regexp.MustCompile(`/[\w/.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)\w*(?:password|token|key|secret|credential)\w*\s*[:=]\s*[^,\s}&]+`), "[REDACTED]"},
}

// maxErrorLength caps error text copied into a status.
const maxErrorLength = 100

// Status is the health of one component. Details carries component-specific
// facts such as tier availability.
type Status struct {
	Component string         `json:"component"`
	Healthy   bool           `json:"healthy"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// Level maps the status onto the health gauge: 2 healthy, 1 degraded,
// 0 otherwise.
func (s Status) Level() int {
	switch s.Status {
	case StatusHealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// WithDetail returns a copy of the status with one more detail set.
func (s Status) WithDetail(key string, value any) Status {
	details := make(map[string]any, len(s.Details)+1)
	for k, v := range s.Details {
		details[k] = v
	}
	details[key] = value
	s.Details = details
	return s
}

// WithError returns a copy of the status carrying a sanitized, truncated
// error message.
func (s Status) WithError(err error) Status {
	if err == nil {
		return s
	}
	msg := scrub(err.Error())
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	s.Error = msg
	return s
}

// scrub strips URLs, paths, addresses and credentials from error text
// before it reaches the public health report.
func scrub(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return msg
}
