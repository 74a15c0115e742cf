// Package graphstore publishes converted ontology nodes to a graph backend.
// The default sink logs nodes; the Neo4j sink merges them into a graph
// database.
package graphstore

import (
	"context"

	"github.com/proethica/ontextract/internal/graph"
)

// Sink receives converted graph results.
type Sink interface {
	Publish(ctx context.Context, res *graph.Result) error
	Close(ctx context.Context) error
}
