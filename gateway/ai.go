package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Neil2813/Nexus/insight"
	"github.com/Neil2813/Nexus/osdr"
)

// minSummaryText is the shortest text worth summarizing, in runes.
const minSummaryText = 10

// detailFetchLimit bounds concurrent study lookups for insights.
const detailFetchLimit = 4

// SummaryResponse is the answer to POST /summarize.
type SummaryResponse struct {
	insight.Summary
	OriginalLength int       `json:"original_length"`
	Timestamp      time.Time `json:"timestamp"`
}

// InsightsRequest optionally names the studies to analyze.
type InsightsRequest struct {
	StudyIDs []string `json:"study_ids,omitempty"`
}

// InsightsResponse is the answer to POST /insights.
type InsightsResponse struct {
	insight.Insights
	DatasetCount int       `json:"dataset_count"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) summarize(c echo.Context) error {
	text := strings.TrimSpace(c.FormValue("text"))
	if utf8.RuneCountInString(text) < minSummaryText {
		return badRequest("Text too short to summarize")
	}
	maxTokens, err := intQuery(c, "max_tokens", 512, 50, 2000)
	if err != nil {
		return err
	}

	sum := s.deps.Insight.Summarize(c.Request().Context(), text, maxTokens)
	return c.JSON(http.StatusOK, SummaryResponse{
		Summary:        sum,
		OriginalLength: utf8.RuneCountInString(text),
		Timestamp:      s.now().UTC(),
	})
}

func (s *Server) insights(c echo.Context) error {
	limit, err := intQuery(c, "limit", 10, 1, 50)
	if err != nil {
		return err
	}
	var req InsightsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid insights request")
	}

	ctx := c.Request().Context()
	var records []insight.Record
	if len(req.StudyIDs) == 0 {
		list, err := s.deps.Acquisition.ListDatasets(ctx, osdr.ListQuery{Limit: limit})
		if err != nil {
			return c.JSON(statusFor(err, http.StatusServiceUnavailable), list)
		}
		for _, d := range list.Data {
			records = append(records, insight.Record{Title: d.Title, Description: d.Description, Organism: d.Organism, Mission: d.Mission})
		}
	} else {
		records = s.studyRecords(ctx, req.StudyIDs, limit)
	}

	out := s.deps.Insight.GenerateInsights(ctx, records)
	if out.Insights == nil {
		out.Insights = []string{}
	}
	return c.JSON(http.StatusOK, InsightsResponse{
		Insights:     out,
		DatasetCount: len(records),
		Timestamp:    s.now().UTC(),
	})
}

// studyRecords fetches up to limit studies concurrently, keeping request
// order and skipping studies that could not be fetched.
func (s *Server) studyRecords(ctx context.Context, ids []string, limit int) []insight.Record {
	if len(ids) > limit {
		ids = ids[:limit]
	}
	found := make([]*insight.Record, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchLimit)
	for i, id := range ids {
		g.Go(func() error {
			d, err := s.deps.Acquisition.GetStudyDetails(gctx, id)
			if err != nil || d.Unavailable() {
				s.logger.Debug("skipping study for insights", "study", id, "error", err)
				return nil
			}
			found[i] = &insight.Record{Title: d.Title, Description: d.Description, Organism: d.Organism, Mission: d.Mission}
			return nil
		})
	}
	_ = g.Wait()

	records := make([]insight.Record, 0, len(found))
	for _, r := range found {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records
}
