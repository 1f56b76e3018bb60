// Package graphstore is the knowledge graph of studies, organisms, missions
// and research areas.
//
// Every call tries the Neo4j backend first and falls back to the SQLite
// backend for that call only. Nothing is replicated between the two, so
// their contents may diverge after a Neo4j outage. Read results carry the
// name of the backend that served them.
package graphstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Node types.
const (
	TypeStudy        = "study"
	TypeOrganism     = "organism"
	TypeMission      = "mission"
	TypeResearchArea = "research_area"
)

// Edge labels.
const (
	LabelStudies      = "studies"
	LabelConductedOn  = "conducted_on"
	LabelInvestigates = "investigates"
)

// Backend names used as provenance.
const (
	BackendNeo4j  = "neo4j"
	BackendSQLite = "sqlite"
)

const (
	DefaultLimit       = 100
	DefaultSearchLimit = 50
)

// Node is a graph vertex. ID is deterministic for a given natural key.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a directed, labelled relationship. ID is derived from
// (Source, Target, Label) so re-adding the same edge is an upsert.
type Edge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Graph is a bounded view of the graph.
type Graph struct {
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
	Provider  string `json:"provider"`
}

// SearchResult is the outcome of a node search.
type SearchResult struct {
	Nodes    []Node `json:"nodes"`
	Provider string `json:"provider"`
}

// Backend is one graph storage implementation.
type Backend interface {
	Name() string
	AddNode(ctx context.Context, n Node) error
	AddEdge(ctx context.Context, e Edge) error
	// Nodes lists nodes, optionally filtered by type.
	Nodes(ctx context.Context, nodeType string, limit int) ([]Node, error)
	// Edges lists edges, optionally filtered by source and/or target id.
	Edges(ctx context.Context, source, target string, limit int) ([]Edge, error)
	SearchNodes(ctx context.Context, query string, limit int) ([]Node, error)
	Graph(ctx context.Context, limit int) (Graph, error)
	Counts(ctx context.Context) (nodes, edges int64, err error)
	Ping(ctx context.Context) error
}

func slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// StudyNodeID returns the node id for a study accession.
func StudyNodeID(studyID string) string { return "study_" + studyID }

// OrganismNodeID returns the node id for an organism name.
// "Mus musculus" becomes "organism_mus_musculus".
func OrganismNodeID(name string) string { return "organism_" + slug(name) }

// MissionNodeID returns the node id for a mission name.
func MissionNodeID(name string) string { return "mission_" + slug(name) }

// ResearchAreaNodeID returns the node id for a research area.
func ResearchAreaNodeID(name string) string { return "research_" + slug(name) }

// EdgeID is the hex MD5 of "source_target_label".
func EdgeID(source, target, label string) string {
	sum := md5.Sum([]byte(source + "_" + target + "_" + label))
	return hex.EncodeToString(sum[:])
}

// NewEdge builds an edge with its deterministic id.
func NewEdge(source, target, label string, props map[string]any) Edge {
	return Edge{
		ID:         EdgeID(source, target, label),
		Source:     source,
		Target:     target,
		Label:      label,
		Properties: props,
	}
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
