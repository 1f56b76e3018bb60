package osdr

import (
	"context"
	"encoding/json"
	"fmt"

	errs "github.com/Neil2813/Nexus/errors"
)

// Reference names a GEODE reference list.
type Reference string

// GEODE reference lists.
const (
	Experiments  Reference = "experiments"
	Payloads     Reference = "payloads"
	Hardware     Reference = "hardware"
	Vehicles     Reference = "vehicles"
	Biospecimens Reference = "biospecimens"
)

// References lists every GEODE reference list.
var References = []Reference{Experiments, Payloads, Hardware, Vehicles, Biospecimens}

// Valid reports whether r is a known reference list.
func (r Reference) Valid() bool {
	for _, known := range References {
		if r == known {
			return true
		}
	}
	return false
}

// GetReference returns a GEODE reference list as raw JSON. The document is
// passed through unchanged.
func (c *Client) GetReference(ctx context.Context, r Reference) (json.RawMessage, error) {
	if !r.Valid() {
		return nil, errs.WrapInvalid(errs.ErrInvalidData, "osdr", "GetReference", fmt.Sprintf("unknown reference %q", r))
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := c.fetch(ctx, endpoint{url: c.cfg.GeodeURL + "/geode-py/ws/api/" + string(r)})
	if err == nil && !json.Valid(body) {
		err = errs.WrapTransient(errs.ErrMalformedResponse, "osdr", "GetReference", string(r))
	}
	c.recordCall("geode_"+string(r), 1, err)
	if err != nil {
		c.logger.Warn("GEODE request failed", "reference", r, "error", err)
		return nil, err
	}
	return json.RawMessage(body), nil
}
