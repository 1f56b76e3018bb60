package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Neil2813/Nexus/graphstore"
	"github.com/Neil2813/Nexus/insight"
	"github.com/Neil2813/Nexus/osdr"
)

// intQuery binds an optional integer query parameter and checks its range.
func intQuery(c echo.Context, name string, def, lo, hi int) (int, error) {
	v := def
	if err := echo.QueryParamsBinder(c).Int(name, &v).BindError(); err != nil {
		return 0, badRequest(fmt.Sprintf("%s must be an integer", name))
	}
	if v < lo || v > hi {
		return 0, badRequest(fmt.Sprintf("%s must be between %d and %d", name, lo, hi))
	}
	return v, nil
}

func boolQuery(c echo.Context, name string) (bool, error) {
	var v bool
	if err := echo.QueryParamsBinder(c).Bool(name, &v).BindError(); err != nil {
		return false, badRequest(name + " must be a boolean")
	}
	return v, nil
}

func (s *Server) listDatasets(c echo.Context) error {
	limit, err := intQuery(c, "limit", 50, 1, 200)
	if err != nil {
		return err
	}
	page, err := intQuery(c, "page", 0, 0, math.MaxInt32)
	if err != nil {
		return err
	}
	withFiles, err := boolQuery(c, "with_files")
	if err != nil {
		return err
	}

	key := fmt.Sprintf("datasets:%d:%d", limit, page)
	return cached(s, c, key, 0, func(ctx context.Context) (osdr.DatasetList, error) {
		list, err := s.deps.Acquisition.ListDatasets(ctx, osdr.ListQuery{Limit: limit, Page: page, WithFiles: withFiles})
		if err == nil {
			s.ingest("datasets", list.Data)
		}
		return list, err
	})
}

// ingest hands records to the graph ingestor without waiting.
func (s *Server) ingest(source string, records []osdr.Dataset) {
	if s.deps.Ingestor == nil || len(records) == 0 {
		return
	}
	studies := make([]graphstore.Study, 0, len(records))
	for _, d := range records {
		studies = append(studies, graphstore.Study{
			ID:            d.ID,
			Title:         d.Title,
			Description:   d.Description,
			Organism:      d.Organism,
			Mission:       d.Mission,
			ResearchAreas: graphstore.InferResearchAreas(d.Title + " " + d.Description),
		})
	}
	if _, err := s.deps.Ingestor.Submit(source, studies); err != nil {
		s.logger.Warn("graph ingestion not queued", "source", source, "studies", len(studies), "error", err)
	}
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query     string   `json:"query"`
	Organisms []string `json:"organisms,omitempty"`
	Missions  []string `json:"missions,omitempty"`
	DataTypes []string `json:"data_types,omitempty"`
}

// SearchResponse is the answer to POST /search.
type SearchResponse struct {
	Results      []osdr.Dataset     `json:"results"`
	Count        int                `json:"count"`
	Total        int                `json:"total"`
	Query        string             `json:"query"`
	Intent       *insight.Intent    `json:"intent,omitempty"`
	SearchParams osdr.SearchFilters `json:"search_params"`
	Source       string             `json:"source"`
	Timestamp    time.Time          `json:"timestamp"`
	Error        string             `json:"error,omitempty"`
}

func (s *Server) search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid search request")
	}
	req.Query = strings.TrimSpace(req.Query)

	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	key := "search:" + hex.EncodeToString(sum[:])

	return cached(s, c, key, searchTTL, func(ctx context.Context) (SearchResponse, error) {
		filters := osdr.SearchFilters{Query: req.Query, Size: 100}
		var intent *insight.Intent
		if req.Query != "" {
			in := s.deps.Insight.ParseIntent(ctx, req.Query)
			intent = &in
			if in.Query != "" {
				filters.Query = in.Query
			}
		}
		filters.Organism = first(req.Organisms, intent, func(i *insight.Intent) []string { return i.Organisms })
		filters.Mission = first(req.Missions, intent, func(i *insight.Intent) []string { return i.Missions })

		res, err := s.deps.Acquisition.Search(ctx, filters)
		hits := res.Hits
		if hits == nil {
			hits = []osdr.Dataset{}
		}
		return SearchResponse{
			Results:      hits,
			Count:        len(hits),
			Total:        res.Total,
			Query:        req.Query,
			Intent:       intent,
			SearchParams: filters,
			Source:       res.Source,
			Timestamp:    s.now().UTC(),
			Error:        res.Error,
		}, err
	})
}

// first prefers an explicit filter value over one parsed from the query.
func first(explicit []string, intent *insight.Intent, parsed func(*insight.Intent) []string) string {
	if len(explicit) > 0 {
		return explicit[0]
	}
	if intent != nil {
		if v := parsed(intent); len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func (s *Server) studyDetails(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return badRequest("study id is required")
	}
	return cached(s, c, "study_meta:"+id, 0, func(ctx context.Context) (osdr.StudyDetails, error) {
		return s.deps.Acquisition.GetStudyDetails(ctx, id)
	})
}

func (s *Server) studyFiles(c echo.Context) error {
	ids := strings.TrimSpace(c.Param("ids"))
	if ids == "" {
		return badRequest("study ids are required")
	}
	page, err := intQuery(c, "page", 0, 0, math.MaxInt32)
	if err != nil {
		return err
	}
	size, err := intQuery(c, "size", 25, 1, 100)
	if err != nil {
		return err
	}
	all, err := boolQuery(c, "all_files")
	if err != nil {
		return err
	}

	key := fmt.Sprintf("files:%s:%d:%d:%t", ids, page, size, all)
	return cached(s, c, key, 0, func(ctx context.Context) (osdr.FileList, error) {
		return s.deps.Acquisition.GetFiles(ctx, osdr.FilesQuery{IDs: ids, Page: page, Size: size, AllFiles: all})
	})
}

func (s *Server) organisms(c echo.Context) error {
	return cached(s, c, "organisms:list", facetTTL, s.deps.Acquisition.Organisms)
}

func (s *Server) missions(c echo.Context) error {
	return cached(s, c, "missions:list", facetTTL, s.deps.Acquisition.Missions)
}

// reference serves one GEODE reference list. The upstream document is
// passed through; a failure answers with an ErrorBody.
func (s *Server) reference(ref osdr.Reference) echo.HandlerFunc {
	return func(c echo.Context) error {
		return cached(s, c, string(ref)+":list", referenceTTL, func(ctx context.Context) (json.RawMessage, error) {
			doc, err := s.deps.Acquisition.GetReference(ctx, ref)
			if err != nil {
				body, _ := json.Marshal(ErrorBody{Error: err.Error(), Source: osdr.SourceError})
				return body, err
			}
			return doc, nil
		})
	}
}

func (s *Server) timeline(c echo.Context) error {
	limit, err := intQuery(c, "limit", 20, 1, 100)
	if err != nil {
		return err
	}
	return cached(s, c, fmt.Sprintf("timeline:%d", limit), timelineTTL, func(ctx context.Context) (osdr.Timeline, error) {
		return s.deps.Acquisition.Timeline(ctx, limit)
	})
}

