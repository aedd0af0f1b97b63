// Package postgres implements the Entity Store, Ontology Store, and
// Deletion Engine contracts (spec §4.F, §4.G, §4.H) against a real
// postgres database, executing plans rendered by internal/query's
// Compiler over the relational schema in schema.go. It is the engine this
// store runs in production; internal/datastore/memory exists for unit
// tests and local development.
package postgres

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/internal/telemetry"
)

// Store implements datastore.EntityStore, datastore.OntologyStore, and
// datastore.DeletionEngine over a pooled pgx connection.
type Store struct {
	pool     *pgxpool.Pool
	compiler *query.Compiler

	// Clock provides now() for edition decision/transaction-time stamps,
	// mirroring the memory engine's injected clock so both engines can be
	// driven through the same deterministic bitemporal tests.
	Clock clock.Clock
}

// NewStore connects to dsn, runs Migrate, and returns a ready Store. The
// initial ping is retried with exponential backoff since a freshly started
// postgres container (the common case in tests and local compose setups)
// may not accept connections for the first second or two.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	pingBackoff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	pingErr := backoff.Retry(func() error { return pool.Ping(ctx) }, pingBackoff)
	if pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", pingErr)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	compiler, err := query.NewCompiler()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: construct query compiler: %w", err)
	}

	log.Info().Str("engine", "postgres").Msg("hashgraph store ready")

	return &Store{pool: pool, compiler: compiler, Clock: clock.New()}, nil
}

// IsReady implements datastore.DataSource.
func (s *Store) IsReady(ctx context.Context) (bool, error) {
	if err := s.pool.Ping(ctx); err != nil {
		return false, nil
	}
	return true, nil
}

// Close implements datastore.DataSource.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Compiler exposes the store's query.Compiler so internal/telemetry can
// report compile-latency quantiles alongside entity/ontology counts. The
// memory engine has no compiler of its own, so callers must check for a
// postgres.Store before relying on this.
func (s *Store) Compiler() *query.Compiler {
	return s.compiler
}

// Statistics implements telemetry.StatisticsProvider.
func (s *Store) Statistics(ctx context.Context) (telemetry.Statistics, error) {
	var entityCount, ontologyCount int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM entity_temporal_metadata WHERE upper_inf(transaction_time)`).Scan(&entityCount); err != nil {
		return telemetry.Statistics{}, fmt.Errorf("postgres: count entities: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ontology_types WHERE upper_inf(transaction_time)`).Scan(&ontologyCount); err != nil {
		return telemetry.Statistics{}, fmt.Errorf("postgres: count ontology types: %w", err)
	}
	var uniqueId string
	if err := s.pool.QueryRow(ctx, `SELECT current_database()`).Scan(&uniqueId); err != nil {
		return telemetry.Statistics{}, fmt.Errorf("postgres: read database identity: %w", err)
	}
	return telemetry.Statistics{UniqueId: uniqueId, EntityCount: entityCount, OntologyTypeCount: ontologyCount}, nil
}
