package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// migrations is the ordered list of DDL statements that bring a fresh
// database up to the schema internal/query's compiler targets (spec §6.1).
// Unlike the teacher's dedicated migrations package (schema revisions
// chained by name, applied one at a time against a tracking table), this
// engine is young enough that a single idempotent pass covers it; a real
// revision chain is the natural next step once the schema needs to evolve
// under a live deployment.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,

	`CREATE TABLE IF NOT EXISTS entity_ids (
		web_id UUID NOT NULL,
		entity_uuid UUID NOT NULL,
		deleted_at TIMESTAMPTZ,
		deleted_by JSONB,
		PRIMARY KEY (web_id, entity_uuid)
	)`,

	`CREATE TABLE IF NOT EXISTS entity_editions (
		edition_id UUID PRIMARY KEY,
		properties JSONB NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		provenance JSONB NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS entity_temporal_metadata (
		edition_id UUID PRIMARY KEY REFERENCES entity_editions(edition_id) ON DELETE CASCADE,
		web_id UUID NOT NULL,
		entity_uuid UUID NOT NULL,
		draft_id UUID,
		decision_time TSTZRANGE NOT NULL,
		transaction_time TSTZRANGE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS entity_temporal_metadata_timeline_idx
		ON entity_temporal_metadata (web_id, entity_uuid, draft_id)`,
	`CREATE INDEX IF NOT EXISTS entity_temporal_metadata_cursor_idx
		ON entity_temporal_metadata (transaction_time, entity_uuid, draft_id, web_id)`,

	// version is the entity type's major version; compilePath's
	// PathEntityTypeEdge/EntityTypeVersion projects this single numeric
	// column directly (filter.ParameterNumber), so pre-release qualifiers
	// live in ontology_types rather than here.
	`CREATE TABLE IF NOT EXISTS entity_types (
		ontology_id UUID PRIMARY KEY,
		base_url TEXT NOT NULL,
		version INT NOT NULL,
		title TEXT NOT NULL,
		UNIQUE (base_url, version)
	)`,

	`CREATE TABLE IF NOT EXISTS entity_is_of_type (
		edition_id UUID NOT NULL REFERENCES entity_editions(edition_id) ON DELETE CASCADE,
		entity_type_ontology_id UUID NOT NULL REFERENCES entity_types(ontology_id),
		inheritance_depth INT NOT NULL DEFAULT 0,
		PRIMARY KEY (edition_id, entity_type_ontology_id, inheritance_depth)
	)`,

	`CREATE TABLE IF NOT EXISTS entity_link_data (
		edition_id UUID PRIMARY KEY REFERENCES entity_editions(edition_id) ON DELETE CASCADE,
		left_entity_edition_id UUID REFERENCES entity_editions(edition_id),
		right_entity_edition_id UUID REFERENCES entity_editions(edition_id),
		left_confidence DOUBLE PRECISION,
		right_confidence DOUBLE PRECISION,
		left_provenance JSONB,
		right_provenance JSONB
	)`,

	// Materialized adjacency for traversal joins (spec §4.E step 4): kept in
	// lockstep with entity_is_of_type / entity_link_data writes rather than
	// derived at read time, so a bounded-depth traversal is a plain
	// self-join chain instead of a recursive CTE per hop.
	`CREATE TABLE IF NOT EXISTS entity_edge (
		edge_kind SMALLINT NOT NULL,
		source_web_id UUID NOT NULL,
		source_entity_uuid UUID NOT NULL,
		target_web_id UUID NOT NULL,
		target_entity_uuid UUID NOT NULL,
		PRIMARY KEY (edge_kind, source_web_id, source_entity_uuid, target_web_id, target_entity_uuid)
	)`,
	`CREATE INDEX IF NOT EXISTS entity_edge_target_idx
		ON entity_edge (edge_kind, target_web_id, target_entity_uuid)`,

	`CREATE TABLE IF NOT EXISTS ontology_types (
		ontology_id UUID PRIMARY KEY,
		kind SMALLINT NOT NULL,
		base_url TEXT NOT NULL,
		major_version INT NOT NULL,
		pre_release TEXT,
		schema JSONB NOT NULL,
		inherits_from JSONB NOT NULL DEFAULT '[]',
		conversions JSONB NOT NULL DEFAULT '[]',
		provenance JSONB NOT NULL,
		decision_time TSTZRANGE NOT NULL,
		transaction_time TSTZRANGE NOT NULL,
		UNIQUE (kind, base_url, major_version, pre_release)
	)`,
}

// Migrate applies every statement in migrations, in order, inside a single
// transaction. It is safe to call against an already-migrated database: every
// statement is idempotent (CREATE ... IF NOT EXISTS).
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration step %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}
