package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	errs "github.com/Neil2813/Nexus/errors"
)

// Query is one Cypher statement.
type Query struct {
	Cypher string
	Params map[string]any
	Write  bool
}

// Runner executes Cypher and returns each record as a map keyed by the
// RETURN aliases.
type Runner interface {
	Run(ctx context.Context, q Query) ([]map[string]any, error)
}

// DriverRunner runs queries through the Neo4j driver, one session per query.
type DriverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewDriverRunner connects to uri and verifies connectivity.
func NewDriverRunner(ctx context.Context, uri, user, password, database string) (*DriverRunner, error) {
	if uri == "" {
		return nil, errs.WrapInvalid(errs.ErrNotConfigured, "DriverRunner", "New", "neo4j uri")
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, errs.WrapInvalid(err, "DriverRunner", "New", "create driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errs.WrapTransient(err, "DriverRunner", "New", "verify connectivity")
	}
	return &DriverRunner{driver: driver, database: database}, nil
}

func (r *DriverRunner) Run(ctx context.Context, q Query) ([]map[string]any, error) {
	mode := neo4j.AccessModeRead
	if q.Write {
		mode = neo4j.AccessModeWrite
	}
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, q.Cypher, q.Params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = rec.AsMap()
	}
	return out, nil
}

// Close releases the driver.
func (r *DriverRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Neo4jBackend is the primary backend.
type Neo4jBackend struct {
	runner Runner
}

// NewNeo4jBackend wraps a Runner.
func NewNeo4jBackend(runner Runner) *Neo4jBackend {
	return &Neo4jBackend{runner: runner}
}

func (b *Neo4jBackend) Name() string { return BackendNeo4j }

var nodeLabels = map[string]string{
	TypeStudy:        "Study",
	TypeOrganism:     "Organism",
	TypeMission:      "Mission",
	TypeResearchArea: "ResearchArea",
}

func nodeLabel(nodeType string) string {
	if l, ok := nodeLabels[nodeType]; ok {
		return l
	}
	return "Entity"
}

var relTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// relType maps an edge label to a relationship type: "conducted_on" becomes
// CONDUCTED_ON.
func relType(label string) (string, error) {
	t := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(label), " ", "_"))
	if !relTypePattern.MatchString(t) {
		return "", errs.WrapInvalid(errs.ErrInvalidData, "Neo4jBackend", "relType", fmt.Sprintf("edge label %q", label))
	}
	return t, nil
}

func (b *Neo4jBackend) AddNode(ctx context.Context, n Node) error {
	props, err := encodeProps(n.Properties)
	if err != nil {
		return err
	}
	name, _ := n.Properties["name"].(string)

	_, err = b.runner.Run(ctx, Query{
		Cypher: "MERGE (n:" + nodeLabel(n.Type) + " {id: $id}) " +
			"SET n.label = $label, n.type = $type, n.name = $name, n.properties = $props",
		Params: map[string]any{"id": n.ID, "label": n.Label, "type": n.Type, "name": name, "props": props},
		Write:  true,
	})
	return err
}

// AddEdge merges the relationship between two existing nodes. If either node
// is missing nothing is written and ErrNotFound is returned.
func (b *Neo4jBackend) AddEdge(ctx context.Context, e Edge) error {
	rel, err := relType(e.Label)
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = EdgeID(e.Source, e.Target, e.Label)
	}
	props, err := encodeProps(e.Properties)
	if err != nil {
		return err
	}

	rows, err := b.runner.Run(ctx, Query{
		Cypher: "MATCH (s {id: $source}), (t {id: $target}) " +
			"MERGE (s)-[r:" + rel + "]->(t) " +
			"SET r.id = $id, r.label = $label, r.properties = $props " +
			"RETURN count(r) AS linked",
		Params: map[string]any{"source": e.Source, "target": e.Target, "id": e.ID, "label": e.Label, "props": props},
		Write:  true,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 || toInt64(rows[0]["linked"]) == 0 {
		return errs.WrapInvalid(errs.ErrNotFound, "Neo4jBackend", "AddEdge",
			fmt.Sprintf("endpoints %s -> %s", e.Source, e.Target))
	}
	return nil
}

func (b *Neo4jBackend) Nodes(ctx context.Context, nodeType string, limit int) ([]Node, error) {
	rows, err := b.runner.Run(ctx, Query{
		Cypher: "MATCH (n) WHERE $type = '' OR n.type = $type " +
			"RETURN n.id AS id, n.label AS label, n.type AS type, n.properties AS properties " +
			"ORDER BY n.id LIMIT $limit",
		Params: map[string]any{"type": nodeType, "limit": clampLimit(limit, DefaultLimit)},
	})
	if err != nil {
		return nil, err
	}
	return rowsToNodes(rows), nil
}

func (b *Neo4jBackend) Edges(ctx context.Context, source, target string, limit int) ([]Edge, error) {
	rows, err := b.runner.Run(ctx, Query{
		Cypher: "MATCH (s)-[r]->(t) " +
			"WHERE ($source = '' OR s.id = $source) AND ($target = '' OR t.id = $target) " +
			"RETURN r.id AS id, s.id AS source, t.id AS target, " +
			"coalesce(r.label, toLower(type(r))) AS label, r.properties AS properties " +
			"LIMIT $limit",
		Params: map[string]any{"source": source, "target": target, "limit": clampLimit(limit, DefaultLimit)},
	})
	if err != nil {
		return nil, err
	}
	edges := make([]Edge, 0, len(rows))
	for _, row := range rows {
		e := Edge{
			ID:         toString(row["id"]),
			Source:     toString(row["source"]),
			Target:     toString(row["target"]),
			Label:      toString(row["label"]),
			Properties: propsFromAny(row["properties"]),
		}
		if e.ID == "" {
			e.ID = EdgeID(e.Source, e.Target, e.Label)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// SearchNodes uses a native substring match on label and name. Unlike the
// SQLite backend the match is case-sensitive.
func (b *Neo4jBackend) SearchNodes(ctx context.Context, query string, limit int) ([]Node, error) {
	rows, err := b.runner.Run(ctx, Query{
		Cypher: "MATCH (n) WHERE n.label CONTAINS $query OR n.name CONTAINS $query " +
			"RETURN n.id AS id, n.label AS label, n.type AS type, n.properties AS properties " +
			"LIMIT $limit",
		Params: map[string]any{"query": query, "limit": clampLimit(limit, DefaultSearchLimit)},
	})
	if err != nil {
		return nil, err
	}
	return rowsToNodes(rows), nil
}

// Graph returns up to limit relationships together with their endpoints.
func (b *Neo4jBackend) Graph(ctx context.Context, limit int) (Graph, error) {
	rows, err := b.runner.Run(ctx, Query{
		Cypher: "MATCH (n)-[r]->(m) " +
			"RETURN n.id AS n_id, n.label AS n_label, n.type AS n_type, " +
			"r.id AS r_id, coalesce(r.label, toLower(type(r))) AS r_label, " +
			"m.id AS m_id, m.label AS m_label, m.type AS m_type " +
			"LIMIT $limit",
		Params: map[string]any{"limit": clampLimit(limit, DefaultLimit)},
	})
	if err != nil {
		return Graph{}, err
	}

	g := Graph{Nodes: []Node{}, Edges: []Edge{}, Provider: BackendNeo4j}
	seen := make(map[string]bool)
	addNode := func(id, label, typ string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		if label == "" {
			label = id
		}
		if typ == "" {
			typ = "unknown"
		}
		g.Nodes = append(g.Nodes, Node{ID: id, Label: label, Type: typ})
	}
	for _, row := range rows {
		src, dst := toString(row["n_id"]), toString(row["m_id"])
		addNode(src, toString(row["n_label"]), toString(row["n_type"]))
		addNode(dst, toString(row["m_label"]), toString(row["m_type"]))

		label := toString(row["r_label"])
		id := toString(row["r_id"])
		if id == "" {
			id = EdgeID(src, dst, label)
		}
		g.Edges = append(g.Edges, Edge{ID: id, Source: src, Target: dst, Label: label})
	}
	g.NodeCount = len(g.Nodes)
	g.EdgeCount = len(g.Edges)
	return g, nil
}

func (b *Neo4jBackend) Counts(ctx context.Context) (int64, int64, error) {
	nodeRows, err := b.runner.Run(ctx, Query{Cypher: "MATCH (n) RETURN count(n) AS node_count"})
	if err != nil {
		return 0, 0, err
	}
	edgeRows, err := b.runner.Run(ctx, Query{Cypher: "MATCH ()-[r]->() RETURN count(r) AS edge_count"})
	if err != nil {
		return 0, 0, err
	}
	var nodes, edges int64
	if len(nodeRows) > 0 {
		nodes = toInt64(nodeRows[0]["node_count"])
	}
	if len(edgeRows) > 0 {
		edges = toInt64(edgeRows[0]["edge_count"])
	}
	return nodes, edges, nil
}

func (b *Neo4jBackend) Ping(ctx context.Context) error {
	rows, err := b.runner.Run(ctx, Query{Cypher: "RETURN 1 AS ok"})
	if err != nil {
		return err
	}
	if len(rows) != 1 || toInt64(rows[0]["ok"]) != 1 {
		return errs.WrapTransient(errs.ErrMalformedResponse, "Neo4jBackend", "Ping", "unexpected probe result")
	}
	return nil
}

func rowsToNodes(rows []map[string]any) []Node {
	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		id := toString(row["id"])
		label := toString(row["label"])
		if label == "" {
			label = id
		}
		typ := toString(row["type"])
		if typ == "" {
			typ = "unknown"
		}
		nodes = append(nodes, Node{ID: id, Label: label, Type: typ, Properties: propsFromAny(row["properties"])})
	}
	return nodes
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// propsFromAny decodes properties stored as a JSON string.
func propsFromAny(v any) map[string]any {
	props := map[string]any{}
	switch t := v.(type) {
	case string:
		_ = json.Unmarshal([]byte(t), &props)
	case map[string]any:
		return t
	}
	return props
}
