// Package posegraphstore persists pose-graph sessions for offline replay
// and loop-closure audit: modernc.org/sqlite as the driver,
// golang-migrate/migrate/v4 for schema versioning, and the usual
// WAL/busy-timeout PRAGMAs executed once when the store is opened.
package posegraphstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fieldcortex/slamcore/internal/icp"
	"github.com/fieldcortex/slamcore/internal/posegraph"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a sqlite-backed session log of pose-graph nodes, edges and
// per-node scans.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path, applies
// the standard PRAGMAs, and migrates the schema to the latest version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("posegraphstore: open %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("posegraphstore: %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("posegraphstore: iofs source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("posegraphstore: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("posegraphstore: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("posegraphstore: migration up: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession records the start of a new control-loop session.
func (s *Store) CreateSession(id uuid.UUID, startedAtUnix int64) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, started_at_unix) VALUES (?, ?)`,
		id.String(), startedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("posegraphstore: create session: %w", err)
	}
	return nil
}

// SaveNode upserts one pose-graph node's current estimate for a session.
func (s *Store) SaveNode(sessionID uuid.UUID, index int, n posegraph.Node) error {
	_, err := s.db.Exec(
		`INSERT INTO pose_graph_nodes (session_id, node_index, x, y, theta) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, node_index) DO UPDATE SET x=excluded.x, y=excluded.y, theta=excluded.theta`,
		sessionID.String(), index, n.X, n.Y, n.Theta,
	)
	if err != nil {
		return fmt.Errorf("posegraphstore: save node %d: %w", index, err)
	}
	return nil
}

// SaveEdge upserts one pose-graph edge, keyed by its index, for a session.
func (s *Store) SaveEdge(sessionID uuid.UUID, edgeIndex int, e posegraph.Edge) error {
	_, err := s.db.Exec(
		`INSERT INTO pose_graph_edges (session_id, edge_index, node_i, node_j, x, y, theta) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, edge_index) DO UPDATE SET node_i=excluded.node_i, node_j=excluded.node_j, x=excluded.x, y=excluded.y, theta=excluded.theta`,
		sessionID.String(), edgeIndex, e.I, e.J, e.T.X, e.T.Y, e.T.Theta,
	)
	if err != nil {
		return fmt.Errorf("posegraphstore: save edge %d: %w", edgeIndex, err)
	}
	return nil
}

// SaveScan persists the Cartesian points backing one pose-graph node, for
// future loop-closure matching against earlier keyframes.
func (s *Store) SaveScan(sessionID uuid.UUID, nodeIndex int, points []icp.Point2) error {
	blob, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("posegraphstore: marshal scan %d: %w", nodeIndex, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO node_scans (session_id, node_index, points_json) VALUES (?, ?, ?)
		 ON CONFLICT(session_id, node_index) DO UPDATE SET points_json=excluded.points_json`,
		sessionID.String(), nodeIndex, string(blob),
	)
	if err != nil {
		return fmt.Errorf("posegraphstore: save scan %d: %w", nodeIndex, err)
	}
	return nil
}

// LoadScan returns the Cartesian points saved for a node, or nil if none
// was recorded.
func (s *Store) LoadScan(sessionID uuid.UUID, nodeIndex int) ([]icp.Point2, error) {
	var blob string
	err := s.db.QueryRow(
		`SELECT points_json FROM node_scans WHERE session_id = ? AND node_index = ?`,
		sessionID.String(), nodeIndex,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("posegraphstore: load scan %d: %w", nodeIndex, err)
	}
	var points []icp.Point2
	if err := json.Unmarshal([]byte(blob), &points); err != nil {
		return nil, fmt.Errorf("posegraphstore: unmarshal scan %d: %w", nodeIndex, err)
	}
	return points, nil
}

// LoadGraph reconstructs a session's full node/edge set, ordered by
// index, for offline replay.
func (s *Store) LoadGraph(sessionID uuid.UUID) ([]posegraph.Node, []posegraph.Edge, error) {
	nodeRows, err := s.db.Query(
		`SELECT x, y, theta FROM pose_graph_nodes WHERE session_id = ? ORDER BY node_index`,
		sessionID.String(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("posegraphstore: load nodes: %w", err)
	}
	defer nodeRows.Close()

	var nodes []posegraph.Node
	for nodeRows.Next() {
		var n posegraph.Node
		if err := nodeRows.Scan(&n.X, &n.Y, &n.Theta); err != nil {
			return nil, nil, fmt.Errorf("posegraphstore: scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}

	edgeRows, err := s.db.Query(
		`SELECT node_i, node_j, x, y, theta FROM pose_graph_edges WHERE session_id = ? ORDER BY edge_index`,
		sessionID.String(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("posegraphstore: load edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []posegraph.Edge
	for edgeRows.Next() {
		var e posegraph.Edge
		if err := edgeRows.Scan(&e.I, &e.J, &e.T.X, &e.T.Y, &e.T.Theta); err != nil {
			return nil, nil, fmt.Errorf("posegraphstore: scan edge row: %w", err)
		}
		edges = append(edges, e)
	}

	return nodes, edges, nil
}
