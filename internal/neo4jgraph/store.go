// Package neo4jgraph stores the knowledge graph in Neo4j. It is an
// alternative GraphStore to the SurrealDB tables.
package neo4jgraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
)

var _ service.GraphStore = (*Store)(nil)

// Config holds Neo4j connection settings.
type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
}

// Store writes KGEntity nodes and RELATES edges.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// New connects and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4jgraph: uri is required")
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jgraph: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jgraph: verify connectivity: %w", err)
	}

	return &Store{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.With("component", "neo4jgraph"),
	}, nil
}

// Close closes the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// InitSchema creates the uniqueness constraints.
func (s *Store) InitSchema(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT kg_entity_id IF NOT EXISTS FOR (e:KGEntity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT kg_entity_key IF NOT EXISTS FOR (e:KGEntity) REQUIRE (e.entity_type, e.name_key) IS UNIQUE`,
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return fmt.Errorf("neo4jgraph: schema: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("neo4jgraph: schema: %w", err)
		}
	}
	s.logger.Info("neo4j schema ready")
	return nil
}

// UpsertEntity merges on (entity_type, name_key). The id is only set when
// the node is created, so an existing node keeps its id.
func (s *Store) UpsertEntity(ctx context.Context, e models.Entity) (string, error) {
	key := models.NewEntityKey(e.EntityType, e.CanonicalName)
	if key.Name == "" {
		return "", fmt.Errorf("upsert entity: empty name")
	}
	id := e.ID
	if id == "" {
		id = key.ID()
	}
	aliases := e.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	var definition any
	if e.Definition != nil {
		definition = *e.Definition
	}

	return s.writeID(ctx, `
MERGE (n:KGEntity {entity_type: $entity_type, name_key: $name_key})
ON CREATE SET n.id = $id, n.canonical_name = $canonical_name, n.aliases = []
SET n.aliases = n.aliases + [a IN $aliases WHERE NOT a IN n.aliases],
    n.definition = coalesce($definition, n.definition),
    n.updated_at = $updated_at
RETURN n.id AS id
`, map[string]any{
		"id":             id,
		"entity_type":    key.Type,
		"name_key":       key.Name,
		"canonical_name": e.CanonicalName,
		"aliases":        aliases,
		"definition":     definition,
		"updated_at":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// UpsertRelationship merges a RELATES edge keyed by relationship_type
// between two existing entities.
func (s *Store) UpsertRelationship(ctx context.Context, r models.Relationship) (string, error) {
	id := r.ID
	if id == "" {
		id = models.RelationshipID(r.SourceEntityID, r.TargetEntityID, r.RelationshipType)
	}

	return s.writeID(ctx, `
MATCH (a:KGEntity {id: $source}), (b:KGEntity {id: $target})
MERGE (a)-[rel:RELATES {relationship_type: $type}]->(b)
ON CREATE SET rel.id = $id
SET rel.strength = $strength,
    rel.confidence = $confidence,
    rel.context = $context,
    rel.segment_id = $segment_id,
    rel.updated_at = $updated_at
RETURN rel.id AS id
`, map[string]any{
		"id":         id,
		"source":     r.SourceEntityID,
		"target":     r.TargetEntityID,
		"type":       r.RelationshipType,
		"strength":   r.Strength,
		"confidence": r.Confidence,
		"context":    r.Context,
		"segment_id": r.SegmentID,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// CountRelationships returns the number of edges leaving an entity.
func (s *Store) CountRelationships(ctx context.Context, entityID string) (int, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	n, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (:KGEntity {id: $id})-[r:RELATES]->() RETURN count(r) AS n`,
			map[string]any{"id": entityID})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _, err := neo4j.GetRecordValue[int64](rec, "n")
		return n, err
	})
	if err != nil {
		return 0, fmt.Errorf("count relationships: %w", err)
	}
	return int(n.(int64)), nil
}

func (s *Store) writeID(ctx context.Context, cypher string, params map[string]any) (string, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	id, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		id, _, err := neo4j.GetRecordValue[string](rec, "id")
		return id, err
	})
	if err != nil {
		return "", fmt.Errorf("neo4j write: %w", err)
	}
	return id.(string), nil
}

func (s *Store) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
}
