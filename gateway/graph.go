package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Neil2813/Nexus/graphstore"
)

// GraphResponse is a graph view, with Error set when no backend answered.
type GraphResponse struct {
	graphstore.Graph
	Error string `json:"error,omitempty"`
}

// GraphSearchResponse is the answer to GET /graph/search.
type GraphSearchResponse struct {
	Query    string            `json:"query"`
	Results  []graphstore.Node `json:"results"`
	Count    int               `json:"count"`
	Provider string            `json:"provider"`
}

func (s *Server) graph(c echo.Context) error {
	limit, err := intQuery(c, "limit", 100, 1, 1000)
	if err != nil {
		return err
	}
	return cached(s, c, fmt.Sprintf("graph:%d", limit), graphTTL, func(ctx context.Context) (GraphResponse, error) {
		g, err := s.deps.Graph.Graph(ctx, limit)
		if err != nil {
			return GraphResponse{Graph: g, Error: err.Error()}, err
		}
		return GraphResponse{Graph: g}, nil
	})
}

func (s *Server) graphSearch(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("query"))
	if query == "" {
		return badRequest("query is required")
	}
	limit, err := intQuery(c, "limit", 50, 1, 200)
	if err != nil {
		return err
	}

	res, err := s.deps.Graph.SearchNodes(c.Request().Context(), query, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GraphSearchResponse{
		Query:    query,
		Results:  res.Nodes,
		Count:    len(res.Nodes),
		Provider: res.Provider,
	})
}

func (s *Server) graphStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Graph.Stats(c.Request().Context()))
}
