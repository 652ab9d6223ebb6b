package storage

import (
	"context"
	"fmt"

	"github.com/ashita-ai/kioku/internal/model"
)

// UpsertNode persists a graph node. Replaying the same arena id overwrites
// properties, which is exactly the write-through semantics the builder needs.
func (db *DB) UpsertNode(ctx context.Context, n model.GraphNode) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO graph_nodes (id, node_type, key, properties, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET properties = EXCLUDED.properties`,
		n.ID, string(n.NodeType), n.Key, n.Properties, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert node: %w", err)
	}
	return nil
}

// UpsertEdge persists a graph edge, updating weight and confidence on
// reinforcement.
func (db *DB) UpsertEdge(ctx context.Context, e model.GraphEdge) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO graph_edges (id, from_node, to_node, edge_type, weight, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET weight = EXCLUDED.weight, confidence = EXCLUDED.confidence`,
		e.ID, e.From, e.To, string(e.EdgeType), e.Weight, e.Confidence,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert edge: %w", err)
	}
	return nil
}

// LoadGraph reads the whole persisted graph projection, nodes then edges.
// Used at startup to rebuild the in-memory arena.
func (db *DB) LoadGraph(ctx context.Context) ([]model.GraphNode, []model.GraphEdge, error) {
	nodeRows, err := db.pool.Query(ctx,
		`SELECT id, node_type, key, properties, created_at FROM graph_nodes ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: load nodes: %w", err)
	}
	defer nodeRows.Close()

	var nodes []model.GraphNode
	for nodeRows.Next() {
		var n model.GraphNode
		if err := nodeRows.Scan(&n.ID, &n.NodeType, &n.Key, &n.Properties, &n.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("storage: scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := db.pool.Query(ctx,
		`SELECT id, from_node, to_node, edge_type, weight, confidence FROM graph_edges ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: load edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []model.GraphEdge
	for edgeRows.Next() {
		var e model.GraphEdge
		if err := edgeRows.Scan(&e.ID, &e.From, &e.To, &e.EdgeType, &e.Weight, &e.Confidence); err != nil {
			return nil, nil, fmt.Errorf("storage: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return nodes, edges, edgeRows.Err()
}
