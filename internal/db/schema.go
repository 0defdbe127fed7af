package db

import "fmt"

const (
	tableJob          = "ingestion_job"
	tableVersion      = "transcript_version"
	tableSegment      = "transcript_segment"
	tableContent      = "content_segment"
	tableRelevance    = "segment_relevance"
	tableSource       = "content_source"
	tableEntity       = "kg_entity"
	tableRelationship = "kg_relationship"
)

// SchemaSQL returns the schema with the vector index sized to dimension.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}

const schemaTemplate = `
    -- ==========================================================================
    -- INGESTION QUEUE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingestion_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON ingestion_job TYPE string;
    DEFINE FIELD IF NOT EXISTS version_id ON ingestion_job TYPE string;
    DEFINE FIELD IF NOT EXISTS submitted_by ON ingestion_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS submitted_at ON ingestion_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS status ON ingestion_job TYPE string DEFAULT "queued"
        ASSERT $value IN ["queued", "processing", "complete", "error"];
    DEFINE FIELD IF NOT EXISTS claimed_at ON ingestion_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS processed_at ON ingestion_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS result_summary ON ingestion_job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error_detail ON ingestion_job TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS ingestion_job_claim ON ingestion_job FIELDS status, submitted_at;

    -- ==========================================================================
    -- TRANSCRIPTS (written upstream, read-only here)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS transcript_version SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON transcript_version TYPE string;
    DEFINE FIELD IF NOT EXISTS transcript_text ON transcript_version TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON transcript_version TYPE option<object> FLEXIBLE;

    DEFINE TABLE IF NOT EXISTS transcript_segment SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS version_id ON transcript_segment TYPE string;
    DEFINE FIELD IF NOT EXISTS sequence_number ON transcript_segment TYPE int;
    DEFINE FIELD IF NOT EXISTS text ON transcript_segment TYPE string;
    DEFINE FIELD IF NOT EXISTS start_time ON transcript_segment TYPE float;
    DEFINE FIELD IF NOT EXISTS end_time ON transcript_segment TYPE float;

    DEFINE INDEX IF NOT EXISTS transcript_segment_order ON transcript_segment FIELDS version_id, sequence_number UNIQUE;

    -- ==========================================================================
    -- CONTENT
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS content_segment SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON content_segment TYPE string;
    DEFINE FIELD IF NOT EXISTS version_id ON content_segment TYPE string;
    DEFINE FIELD IF NOT EXISTS segment_text ON content_segment TYPE string;
    DEFINE FIELD IF NOT EXISTS sequence_number ON content_segment TYPE int;
    DEFINE FIELD IF NOT EXISTS start_timestamp ON content_segment TYPE float;
    DEFINE FIELD IF NOT EXISTS end_timestamp ON content_segment TYPE float;
    DEFINE FIELD IF NOT EXISTS embedding ON content_segment TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS metadata ON content_segment TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON content_segment TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS content_segment_order ON content_segment FIELDS version_id, sequence_number UNIQUE;
    DEFINE INDEX IF NOT EXISTS content_segment_embedding ON content_segment FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS content_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS content_segment_text_ft ON content_segment FIELDS segment_text FULLTEXT ANALYZER content_analyzer BM25;

    -- One row per content_segment, keyed by the segment id.
    DEFINE TABLE IF NOT EXISTS segment_relevance SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS version_id ON segment_relevance TYPE string;
    DEFINE FIELD IF NOT EXISTS persona_scores ON segment_relevance TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS content_type ON segment_relevance TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS complexity ON segment_relevance TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS focus ON segment_relevance TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS topics ON segment_relevance TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS confidence ON segment_relevance TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS model ON segment_relevance TYPE option<string>;

    DEFINE INDEX IF NOT EXISTS segment_relevance_version ON segment_relevance FIELDS version_id;

    DEFINE TABLE IF NOT EXISTS content_source SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS indexed_version_id ON content_source TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS indexed_at ON content_source TYPE option<datetime>;

    -- ==========================================================================
    -- KNOWLEDGE GRAPH
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS kg_entity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS entity_type ON kg_entity TYPE string;
    DEFINE FIELD IF NOT EXISTS canonical_name ON kg_entity TYPE string;
    DEFINE FIELD IF NOT EXISTS name_key ON kg_entity TYPE string;
    DEFINE FIELD IF NOT EXISTS aliases ON kg_entity TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS definition ON kg_entity TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS updated_at ON kg_entity TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS kg_entity_key ON kg_entity FIELDS entity_type, name_key UNIQUE;

    DEFINE TABLE IF NOT EXISTS kg_relationship TYPE RELATION IN kg_entity OUT kg_entity SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS relationship_type ON kg_relationship TYPE string;
    DEFINE FIELD IF NOT EXISTS strength ON kg_relationship TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS confidence ON kg_relationship TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS context ON kg_relationship TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS segment_id ON kg_relationship TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS updated_at ON kg_relationship TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS kg_relationship_key ON kg_relationship FIELDS in, out, relationship_type UNIQUE;
`
