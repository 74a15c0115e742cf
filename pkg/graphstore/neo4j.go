package graphstore

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/graph"
)

// Neo4jConfig holds connection settings for the Neo4j sink.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

// Neo4jSink merges converted nodes into a Neo4j database. Nodes are keyed by
// URI, so republishing a case converges instead of duplicating.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jSink connects to Neo4j and verifies connectivity.
func NewNeo4jSink(ctx context.Context, cfg Neo4jConfig) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = 10 * time.Second
	})
	if err != nil {
		return nil, eris.Wrap(err, "graphstore: init neo4j driver")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "graphstore: verify neo4j connectivity")
	}

	return &Neo4jSink{driver: driver, database: cfg.Database}, nil
}

const mergeNodeQuery = `
MERGE (n:Concept {uri: $uri})
SET n.label = $label,
    n.definition = $definition,
    n.individual = $individual,
    n += $properties
WITH n
UNWIND $types AS parent_uri
MERGE (p:Concept {uri: parent_uri})
MERGE (n)-[:SUBTYPE_OF]->(p)
`

func (s *Neo4jSink) Publish(ctx context.Context, res *graph.Result) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	// Best-effort schema init.
	if result, err := session.Run(ctx,
		`CREATE CONSTRAINT concept_uri_unique IF NOT EXISTS FOR (n:Concept) REQUIRE n.uri IS UNIQUE`, nil); err != nil {
		zap.L().Warn("graphstore: neo4j schema init failed (continuing)", zap.Error(err))
	} else {
		_, _ = result.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, node := range res.Nodes {
			if _, err := tx.Run(ctx, mergeNodeQuery, map[string]any{
				"uri":        node.URI,
				"label":      node.Label,
				"definition": node.Definition,
				"individual": node.Individual,
				"properties": node.Properties,
				"types":      node.Types,
			}); err != nil {
				return nil, eris.Wrapf(err, "graphstore: merge node %s", node.URI)
			}
		}
		return nil, nil
	})
	if err != nil {
		return eris.Wrapf(err, "graphstore: publish case %d %s", res.CaseID, res.Concept)
	}

	zap.L().Info("graphstore: published nodes",
		zap.Int64("case_id", res.CaseID),
		zap.String("concept", string(res.Concept)),
		zap.Int("nodes", len(res.Nodes)),
	)
	return nil
}

func (s *Neo4jSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
