package health

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrub(t *testing.T) {
	cases := map[string]string{
		"":                                                            "",
		"GET https://osdr.nasa.gov/osdr/data/search?api_key=abc: 503": "GET [URL] 503",
		"open /var/lib/nexus/cache.db: permission denied":             "open [PATH]: permission denied",
		`cannot read C:\Users\ops\nexus.yaml`:                         "cannot read [PATH]",
		"dial tcp 10.0.0.7:4222: connection refused":                  "dial tcp [IP][PORT]: connection refused",
		"nats: no responders for nats://nats.internal:4222":           "nats: no responders for [URL]",
		"bind :8080 failed":                                           "bind [PORT] failed",
		"neo4j auth failed password=hunter2":                          "neo4j auth failed [REDACTED]",
		"gemini rejected api_key: sk-123":                             "gemini rejected [REDACTED]",
	}
	for in, want := range cases {
		assert.Equal(t, want, scrub(in), "scrub(%q)", in)
	}
}

func TestWithError_ScrubsAndTruncates(t *testing.T) {
	st := NewUnhealthy("graph", "down").WithError(errors.New("dial bolt://neo4j.internal:7687 refused"))
	assert.Equal(t, "dial [URL] refused", st.Error)

	st = NewUnhealthy("nasa_osdr", "down").WithError(errors.New(strings.Repeat("e", 300)))
	assert.Len(t, st.Error, maxErrorLength)

	assert.Empty(t, NewHealthy("cache", "ok").WithError(nil).Error)
}
