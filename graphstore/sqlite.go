package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	errs "github.com/Neil2813/Nexus/errors"
)

const graphSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL,
	type TEXT NOT NULL,
	properties TEXT,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS edges (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	label TEXT NOT NULL,
	properties TEXT,
	created_at REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_edges_label ON edges(label);
`

// SQLiteBackend stores the graph in two tables of a local SQLite file. A
// connection is opened per operation.
type SQLiteBackend struct {
	path string
	dsn  string
	now  func() time.Time
}

// NewSQLiteBackend creates the file and schema if needed.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errs.WrapInvalid(errs.ErrMissingConfig, "SQLiteBackend", "New", "database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.WrapFatal(err, "SQLiteBackend", "New", "create data dir")
	}

	b := &SQLiteBackend{
		path: path,
		dsn:  "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		now:  time.Now,
	}
	err := b.with(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, graphSchema)
		return err
	})
	if err != nil {
		return nil, errs.WrapFatal(err, "SQLiteBackend", "New", "create schema")
	}
	return b, nil
}

func (b *SQLiteBackend) Name() string { return BackendSQLite }

func (b *SQLiteBackend) with(fn func(*sql.DB) error) error {
	db, err := sql.Open("sqlite", b.dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", b.path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	return fn(db)
}

func encodeProps(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", errs.WrapInvalid(err, "graphstore", "encodeProps", "marshal properties")
	}
	return string(data), nil
}

func decodeProps(raw sql.NullString) map[string]any {
	props := map[string]any{}
	if raw.Valid && raw.String != "" {
		_ = json.Unmarshal([]byte(raw.String), &props)
	}
	return props
}

// AddNode upserts n. created_at survives re-adds.
func (b *SQLiteBackend) AddNode(ctx context.Context, n Node) error {
	props, err := encodeProps(n.Properties)
	if err != nil {
		return err
	}
	now := float64(b.now().UnixNano()) / float64(time.Second)
	return b.with(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO nodes (id, label, type, properties, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				label = excluded.label,
				type = excluded.type,
				properties = excluded.properties,
				updated_at = excluded.updated_at`,
			n.ID, n.Label, n.Type, props, now, now)
		return err
	})
}

// AddEdge upserts e keyed by its deterministic id.
func (b *SQLiteBackend) AddEdge(ctx context.Context, e Edge) error {
	if e.ID == "" {
		e.ID = EdgeID(e.Source, e.Target, e.Label)
	}
	props, err := encodeProps(e.Properties)
	if err != nil {
		return err
	}
	now := float64(b.now().UnixNano()) / float64(time.Second)
	return b.with(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO edges (id, source_id, target_id, label, properties, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET properties = excluded.properties`,
			e.ID, e.Source, e.Target, e.Label, props, now)
		return err
	})
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	defer rows.Close()
	nodes := []Node{}
	for rows.Next() {
		var n Node
		var props sql.NullString
		if err := rows.Scan(&n.ID, &n.Label, &n.Type, &props); err != nil {
			return nil, err
		}
		n.Properties = decodeProps(props)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (b *SQLiteBackend) Nodes(ctx context.Context, nodeType string, limit int) ([]Node, error) {
	limit = clampLimit(limit, DefaultLimit)
	var nodes []Node
	err := b.with(func(db *sql.DB) error {
		var rows *sql.Rows
		var err error
		if nodeType != "" {
			rows, err = db.QueryContext(ctx,
				`SELECT id, label, type, properties FROM nodes WHERE type = ? ORDER BY created_at, id LIMIT ?`,
				nodeType, limit)
		} else {
			rows, err = db.QueryContext(ctx,
				`SELECT id, label, type, properties FROM nodes ORDER BY created_at, id LIMIT ?`, limit)
		}
		if err != nil {
			return err
		}
		nodes, err = scanNodes(rows)
		return err
	})
	return nodes, err
}

func (b *SQLiteBackend) Edges(ctx context.Context, source, target string, limit int) ([]Edge, error) {
	limit = clampLimit(limit, DefaultLimit)

	query := `SELECT id, source_id, target_id, label, properties FROM edges`
	var where []string
	var args []any
	if source != "" {
		where = append(where, "source_id = ?")
		args = append(args, source)
	}
	if target != "" {
		where = append(where, "target_id = ?")
		args = append(args, target)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id LIMIT ?"
	args = append(args, limit)

	edges := []Edge{}
	err := b.with(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e Edge
			var props sql.NullString
			if err := rows.Scan(&e.ID, &e.Source, &e.Target, &e.Label, &props); err != nil {
				return err
			}
			e.Properties = decodeProps(props)
			edges = append(edges, e)
		}
		return rows.Err()
	})
	return edges, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchNodes matches query as a substring of the label or the serialized
// properties. SQLite LIKE is case-insensitive for ASCII.
func (b *SQLiteBackend) SearchNodes(ctx context.Context, query string, limit int) ([]Node, error) {
	limit = clampLimit(limit, DefaultSearchLimit)
	term := "%" + likeEscaper.Replace(query) + "%"

	var nodes []Node
	err := b.with(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id, label, type, properties FROM nodes
			WHERE label LIKE ? ESCAPE '\' OR properties LIKE ? ESCAPE '\'
			ORDER BY created_at, id LIMIT ?`, term, term, limit)
		if err != nil {
			return err
		}
		nodes, err = scanNodes(rows)
		return err
	})
	return nodes, err
}

func (b *SQLiteBackend) Graph(ctx context.Context, limit int) (Graph, error) {
	nodes, err := b.Nodes(ctx, "", limit)
	if err != nil {
		return Graph{}, err
	}
	edges, err := b.Edges(ctx, "", "", limit)
	if err != nil {
		return Graph{}, err
	}
	return Graph{
		Nodes:     nodes,
		Edges:     edges,
		NodeCount: len(nodes),
		EdgeCount: len(edges),
		Provider:  BackendSQLite,
	}, nil
}

func (b *SQLiteBackend) Counts(ctx context.Context) (int64, int64, error) {
	var nodes, edges int64
	err := b.with(func(db *sql.DB) error {
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&nodes); err != nil {
			return err
		}
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&edges)
	})
	return nodes, edges, err
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.with(func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
}
