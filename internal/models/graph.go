package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Namespaces for deterministic graph identities.
var (
	entityNamespace       = uuid.MustParse("5f2b9c1e-6a0d-4c8e-9b7a-3d1f0e2c4a61")
	relationshipNamespace = uuid.MustParse("a3c47d20-1e9b-4f65-8d02-7b6e5c9f1a38")
)

// Annotation is the normalized output of the semantic annotator for one segment.
type Annotation struct {
	PersonaScores map[string]int           `json:"persona_scores"`
	ContentType   *string                  `json:"content_type"`
	Complexity    *string                  `json:"complexity"`
	Focus         *string                  `json:"focus"`
	Topics        []string                 `json:"topics"`
	Confidence    *float64                 `json:"confidence"`
	Entities      []EntityDescriptor       `json:"entities"`
	Relationships []RelationshipDescriptor `json:"relationships"`
	Model         string                   `json:"model"`
}

// EntityDescriptor is an entity mention extracted by the annotator.
type EntityDescriptor struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Aliases    []string `json:"aliases,omitempty"`
	Definition string   `json:"definition,omitempty"`
}

// Key returns the case-insensitive identity of the descriptor.
func (d EntityDescriptor) Key() EntityKey {
	return NewEntityKey(d.Type, d.Name)
}

// RelationshipDescriptor is an edge extracted by the annotator. Endpoints
// are referenced by name; types are optional hints for disambiguation.
type RelationshipDescriptor struct {
	Source     string  `json:"source"`
	SourceType string  `json:"source_type,omitempty"`
	Target     string  `json:"target"`
	TargetType string  `json:"target_type,omitempty"`
	Type       string  `json:"type"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context,omitempty"`
}

// EntityKey identifies an entity by lower-cased (type, name).
type EntityKey struct {
	Type string
	Name string
}

// NewEntityKey normalizes type and name into a key.
func NewEntityKey(entityType, name string) EntityKey {
	return EntityKey{
		Type: strings.ToLower(strings.TrimSpace(entityType)),
		Name: strings.ToLower(strings.TrimSpace(name)),
	}
}

// ID returns the deterministic entity id for the key.
func (k EntityKey) ID() string {
	return uuid.NewSHA1(entityNamespace, []byte(k.Type+"\x00"+k.Name)).String()
}

// Entity is a deduplicated knowledge-graph node.
type Entity struct {
	ID            string    `json:"id"`
	EntityType    string    `json:"entity_type"`
	CanonicalName string    `json:"canonical_name"`
	Aliases       []string  `json:"aliases,omitempty"`
	Definition    *string   `json:"definition,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Relationship is a typed edge between two entities.
type Relationship struct {
	ID               string    `json:"id"`
	SourceEntityID   string    `json:"source_entity_id"`
	TargetEntityID   string    `json:"target_entity_id"`
	RelationshipType string    `json:"relationship_type"`
	Strength         float64   `json:"strength"`
	Confidence       float64   `json:"confidence"`
	Context          string    `json:"context,omitempty"`
	SegmentID        string    `json:"segment_id"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RelationshipID returns the deterministic id for (source, target, type).
func RelationshipID(sourceID, targetID, relType string) string {
	key := sourceID + "\x00" + targetID + "\x00" + strings.ToLower(strings.TrimSpace(relType))
	return uuid.NewSHA1(relationshipNamespace, []byte(key)).String()
}
