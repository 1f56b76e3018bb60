package osdr

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/pkg/fallback"
)

// ErrNoCanonicalRecords rejects a variant whose payload parsed but held no
// record with a canonical accession.
var ErrNoCanonicalRecords = errors.New("no canonical records")

// Unavailable messages.
const (
	msgDatasetsUnavailable = "NASA OSDR API is currently unavailable. Please check your internet connection and try again."
	msgDatasetsFailed      = "Failed to fetch datasets from NASA OSDR API"
	msgSearchFailed        = "Failed to search NASA OSDR. Please try again."
)

// DatasetList is the result of ListDatasets. A degraded list has Source
// "Error", no records and a non-empty Error.
type DatasetList struct {
	Data             []Dataset `json:"data"`
	Total            int       `json:"total"`
	Count            int       `json:"count"`
	Page             int       `json:"page"`
	Size             int       `json:"size"`
	Source           string    `json:"source"`
	Message          string    `json:"message"`
	FilteredForFiles bool      `json:"filtered_for_files"`
	Variant          *Variant  `json:"variant,omitempty"`
	Shape            string    `json:"shape,omitempty"`
	Dropped          int       `json:"dropped,omitempty"`
	Error            string    `json:"error,omitempty"`
	// Cause lists why each variant failed.
	Cause string `json:"cause,omitempty"`
}

// Unavailable reports whether the list is a degraded payload.
func (l DatasetList) Unavailable() bool {
	return l.Error != ""
}

// extraction is what one variant produced.
type extraction struct {
	records []Dataset
	payload Payload
	dropped int
	variant Variant
}

func hasRecords(e extraction) error {
	if len(e.records) == 0 {
		return ErrNoCanonicalRecords
	}
	return nil
}

// extract fetches one variant and normalizes whatever shape it returned.
func (c *Client) extract(ctx context.Context, operation string, index int, e endpoint, accept func(Shape) bool) (extraction, error) {
	out := extraction{variant: Variant{Index: index, URL: e.url}}

	doc, err := c.fetchJSON(ctx, e)
	if err != nil {
		c.recordCall(operation, index, err)
		return out, err
	}

	out.payload = Match(doc)
	if !accept(out.payload.Shape) {
		err := errs.WrapTransient(errs.ErrMalformedResponse, "osdr", operation, "match shape")
		c.recordCall(operation, index, err)
		return out, err
	}

	out.records, out.dropped = normalize(out.payload)
	if out.dropped > 0 {
		c.metrics.RecordDropped(operation, out.dropped)
		c.logger.Debug("dropped non-canonical records",
			"operation", operation, "variant", index, "dropped", out.dropped, "kept", len(out.records))
	}
	c.recordCall(operation, index, nil)
	return out, nil
}

func listingShape(s Shape) bool {
	switch s {
	case ShapeNestedHits, ShapeHitList, ShapeStudyList, ShapeStudyCollection:
		return true
	}
	return false
}

func searchShape(s Shape) bool {
	return s != ShapeUnrecognized
}

// ListQuery selects one page of datasets.
type ListQuery struct {
	Limit     int
	Page      int
	WithFiles bool
}

func (c *Client) listEndpoints(q ListQuery) []endpoint {
	size := strconv.Itoa(min(q.Limit*c.cfg.PageMultiplier, c.cfg.MaxPageSize))
	from := strconv.Itoa(q.Page * q.Limit)
	return []endpoint{
		{
			url: c.cfg.BaseURL + "/bio/repo/search",
			params: url.Values{
				"q": {""}, "data_source": {"cgene,alsda,esa"}, "data_type": {"study"},
				"size": {size}, "from": {from},
			},
		},
		{
			url:    c.cfg.BaseURL + "/osdr/data/search",
			params: url.Values{"size": {size}, "from": {from}, "data_source": {"cgene,alsda"}},
		},
		{
			url:    c.cfg.BaseURL + "/osdr/data/search",
			params: url.Values{"size": {size}, "from": {from}},
		},
	}
}

// ListDatasets returns one page of canonical dataset records. Variants are
// tried in order until one yields at least one canonical record.
//
// On exhaustion the returned list is the degraded payload and the error
// wraps errors.ErrAllAttemptsExhausted.
func (c *Client) ListDatasets(ctx context.Context, q ListQuery) (DatasetList, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Page < 0 {
		q.Page = 0
	}

	endpoints := c.listEndpoints(q)
	attempts := make([]fallback.Attempt[extraction], len(endpoints))
	for i, e := range endpoints {
		index, e := i+1, e
		attempts[i] = fallback.Attempt[extraction]{
			Provider: fmt.Sprintf("variant_%d", index),
			Run: func(ctx context.Context) (extraction, error) {
				return c.extract(ctx, "datasets", index, e, listingShape)
			},
		}
	}

	chain := chainFor(c, "osdr.datasets", c.cfg.Timeout, hasRecords)
	res := chain.Run(ctx, attempts...)
	if !res.OK() {
		return DatasetList{
			Data:    []Dataset{},
			Page:    q.Page,
			Size:    q.Limit,
			Source:  SourceError,
			Error:   msgDatasetsUnavailable,
			Message: msgDatasetsFailed,
			Cause:   res.Cause(),
		}, res.Err("osdr.datasets")
	}

	ext := res.Value
	total := len(ext.records)
	if ext.payload.Shape == ShapeNestedHits && ext.payload.HasTotal {
		total = ext.payload.Total
	}
	if q.WithFiles {
		c.logger.Debug("file filtering requested but not applied", "records", len(ext.records))
	}

	variant := ext.variant
	return DatasetList{
		Data:             ext.records,
		Total:            total,
		Count:            len(ext.records),
		Page:             q.Page,
		Size:             q.Limit,
		Source:           SourceName,
		Message:          fmt.Sprintf("Fetched %d of %s datasets from NASA Open Science Data Repository", len(ext.records), thousands(total)),
		FilteredForFiles: q.WithFiles,
		Variant:          &variant,
		Shape:            ext.payload.Shape.String(),
		Dropped:          ext.dropped,
	}, nil
}

// SearchFilters narrows a search.
type SearchFilters struct {
	Query    string `json:"query,omitempty"`
	Organism string `json:"organism,omitempty"`
	Mission  string `json:"mission,omitempty"`
	Page     int    `json:"page"`
	Size     int    `json:"size"`
}

// SearchResult is the result of Search. A degraded result has Source
// "Error" and a non-empty Error.
type SearchResult struct {
	Hits    []Dataset `json:"hits"`
	Total   int       `json:"total"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Variant *Variant  `json:"variant,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func (c *Client) searchEndpoints(f SearchFilters) []endpoint {
	base := c.cfg.BaseURL + "/osdr/data/search"
	variants := []url.Values{
		{"format": {"json"}},
		{"format": {"json"}, "q": {f.Query}},
		{"format": {"json"}, "q": {f.Query}},
		{"format": {"json"}, "q": {strings.TrimSpace("biology " + f.Query)}},
		{"format": {"json"}, "q": {strings.TrimSpace("space biology " + f.Query)}},
	}
	if c.cfg.APIKey != "" {
		variants[2].Set("api_key", c.cfg.APIKey)
	}

	offset := strconv.Itoa(f.Page * f.Size)
	size := strconv.Itoa(f.Size)
	out := make([]endpoint, len(variants))
	for i, params := range variants {
		if f.Query != "" {
			params.Set("query", f.Query)
			if params.Get("q") == "" {
				params.Set("q", f.Query)
			}
		}
		params.Set("from", offset)
		params.Set("offset", offset)
		params.Set("size", size)
		params.Set("limit", size)
		if f.Organism != "" {
			params.Set("organism", f.Organism)
		}
		if f.Mission != "" {
			params.Set("mission", f.Mission)
		}
		out[i] = endpoint{url: base, params: params}
	}
	return out
}

// Search runs the five search variants in order. Results are filtered by
// canonical accession like listings are.
func (c *Client) Search(ctx context.Context, f SearchFilters) (SearchResult, error) {
	if f.Size <= 0 {
		f.Size = 25
	}
	if f.Page < 0 {
		f.Page = 0
	}

	endpoints := c.searchEndpoints(f)
	attempts := make([]fallback.Attempt[extraction], len(endpoints))
	for i, e := range endpoints {
		index, e := i+1, e
		attempts[i] = fallback.Attempt[extraction]{
			Provider: fmt.Sprintf("variant_%d", index),
			Run: func(ctx context.Context) (extraction, error) {
				return c.extract(ctx, "search", index, e, searchShape)
			},
		}
	}

	chain := chainFor(c, "osdr.search", c.cfg.Timeout, hasRecords)
	res := chain.Run(ctx, attempts...)
	if !res.OK() {
		err := res.Err("osdr.search")
		return SearchResult{
			Hits:    []Dataset{},
			Source:  SourceError,
			Error:   "NASA search API unavailable: " + res.Cause(),
			Message: msgSearchFailed,
		}, err
	}

	ext := res.Value
	total := len(ext.records)
	if ext.payload.HasTotal {
		total = ext.payload.Total
	}
	variant := ext.variant
	return SearchResult{
		Hits:    ext.records,
		Total:   total,
		Source:  fmt.Sprintf("NASA Search API Endpoint %d", variant.Index),
		Message: fmt.Sprintf("Found %d results from NASA search", len(ext.records)),
		Variant: &variant,
	}, nil
}

// OrganismList is the result of Organisms.
type OrganismList struct {
	Organisms []string `json:"organisms"`
	Source    string   `json:"source"`
	Total     int      `json:"total"`
	Error     string   `json:"error,omitempty"`
}

// MissionList is the result of Missions.
type MissionList struct {
	Missions []string `json:"missions"`
	Source   string   `json:"source"`
	Total    int      `json:"total"`
	Error    string   `json:"error,omitempty"`
}

const facetSample = 100

// Organisms lists the organisms of the latest datasets, most frequent first.
func (c *Client) Organisms(ctx context.Context) (OrganismList, error) {
	list, err := c.ListDatasets(ctx, ListQuery{Limit: facetSample})
	if err != nil {
		return OrganismList{Organisms: []string{}, Source: SourceError, Error: err.Error()}, err
	}
	names := rankByFrequency(list.Data, func(d Dataset) string { return d.Organism })
	return OrganismList{Organisms: names, Source: SourceName, Total: len(names)}, nil
}

// Missions lists the missions of the latest datasets, most frequent first.
func (c *Client) Missions(ctx context.Context) (MissionList, error) {
	list, err := c.ListDatasets(ctx, ListQuery{Limit: facetSample})
	if err != nil {
		return MissionList{Missions: []string{}, Source: SourceError, Error: err.Error()}, err
	}
	names := rankByFrequency(list.Data, func(d Dataset) string { return d.Mission })
	return MissionList{Missions: names, Source: SourceName, Total: len(names)}, nil
}

// IsPlaceholder reports whether v carries no information.
func IsPlaceholder(v string) bool {
	switch strings.TrimSpace(v) {
	case "", UnknownOrganism, UnknownMission:
		return true
	}
	return false
}

// rankByFrequency returns the distinct non-placeholder values ordered by
// descending count, ties broken by name.
func rankByFrequency(records []Dataset, field func(Dataset) string) []string {
	counts := map[string]int{}
	for _, d := range records {
		v := strings.TrimSpace(field(d))
		if IsPlaceholder(v) {
			continue
		}
		counts[v]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// TimelineEvent is one study release.
type TimelineEvent struct {
	Date        string `json:"date"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	StudyID     string `json:"study_id"`
}

// Timeline lists study releases, newest first.
type Timeline struct {
	Events    []TimelineEvent `json:"timeline_data"`
	Count     int             `json:"count"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// Timeline derives release events from the latest limit datasets.
func (c *Client) Timeline(ctx context.Context, limit int) (Timeline, error) {
	list, err := c.ListDatasets(ctx, ListQuery{Limit: limit})
	if err != nil {
		return Timeline{Events: []TimelineEvent{}, Timestamp: c.now(), Error: err.Error()}, err
	}

	events := make([]TimelineEvent, 0, len(list.Data))
	for _, d := range list.Data {
		if d.ReleaseDate == "" {
			continue
		}
		events = append(events, TimelineEvent{
			Date:        d.ReleaseDate,
			Title:       "Study Released: " + truncate(d.Title, 50) + "...",
			Description: truncate(d.Description, 100),
			Type:        "study_release",
			StudyID:     d.ID,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Date > events[j].Date })
	return Timeline{Events: events, Count: len(events), Timestamp: c.now()}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// thousands formats n with comma separators.
func thousands(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return "-" + thousands(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
