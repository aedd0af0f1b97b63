package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/pkg/grapherr"
	"github.com/authzed/hashgraph/pkg/temporal"
)

type timelineKey struct{ webId, entityUuid string }

// Delete implements datastore.DeletionEngine. Unlike the memory engine,
// which folds every table into one denormalized row (spec §6.1), postgres
// deletes in FK order: entity_editions first (cascading to
// entity_temporal_metadata, entity_is_of_type, entity_link_data), then the
// owning entity_ids row and any entity_edge rows naming the removed
// entity as a source (spec §4.H).
func (s *Store) Delete(ctx context.Context, f query.EntityFilter, scope datastore.DeletionScope) error {
	now := s.Clock.Now().UTC()
	compiled, err := s.compiler.Compile(f, temporal.PinnedAtNow(temporal.TransactionTimeAxis, now), query.SubgraphTraversalParams{}, nil, 0)
	if err != nil {
		return grapherr.Wrap("delete", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return fmt.Errorf("postgres: delete: query matches: %w", err)
	}
	matched := make(map[timelineKey]map[string]bool) // timeline -> draftKey ("" = published) -> true
	for rows.Next() {
		id, edition, err := decodeCompiledRow(rows, compiled.Artifacts)
		_ = edition
		if err != nil {
			rows.Close()
			return err
		}
		tl := timelineKey{id.WebId.String(), id.EntityUuid.String()}
		draftKey := ""
		if id.DraftId != nil {
			draftKey = id.DraftId.String()
		}
		if matched[tl] == nil {
			matched[tl] = make(map[string]bool)
		}
		matched[tl][draftKey] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("postgres: delete: scan matches: %w", err)
	}
	rows.Close()

	if len(matched) == 0 {
		return nil
	}

	fullyRemoved := make(map[timelineKey]bool)
	removeDraftKeys := make(map[timelineKey]map[string]bool)

	for tl, drafts := range matched {
		var publishedLive bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM entity_temporal_metadata
			WHERE web_id = $1 AND entity_uuid = $2 AND draft_id IS NULL AND upper_inf(transaction_time)
		)`, tl.webId, tl.entityUuid).Scan(&publishedLive); err != nil {
			return fmt.Errorf("postgres: delete: check published live: %w", err)
		}
		publishedMatched := drafts[""]

		effective := scope
		if scope == datastore.ScopeErase && !publishedMatched && publishedLive {
			// Partial draft semantics (spec §4.H): a draft-only match on a
			// timeline with a surviving published edition downgrades Erase
			// to Draft for the matched drafts.
			effective = datastore.ScopeDraft
		}

		switch effective {
		case datastore.ScopeDraft:
			keys := make(map[string]bool, len(drafts))
			for draftKey, ok := range drafts {
				if ok && draftKey != "" {
					keys[draftKey] = true
				}
			}
			if len(keys) > 0 {
				removeDraftKeys[tl] = keys
			}
		case datastore.ScopePurge, datastore.ScopeErase:
			fullyRemoved[tl] = true
		}
	}

	// Referential check: an incoming has_left_entity/has_right_entity edge
	// from a surviving entity aborts the whole delete (spec §4.H). A
	// referencer that is itself being fully removed in this same call does
	// not count.
	for tl := range fullyRemoved {
		refRows, err := tx.Query(ctx, `SELECT DISTINCT source_web_id, source_entity_uuid FROM entity_edge
			WHERE edge_kind IN ($1, $2) AND target_web_id = $3 AND target_entity_uuid = $4`,
			int(query.EdgeHasLeftEntity), int(query.EdgeHasRightEntity), tl.webId, tl.entityUuid,
		)
		if err != nil {
			return fmt.Errorf("postgres: delete: referential check: %w", err)
		}
		for refRows.Next() {
			var sourceWebId, sourceEntityUuid string
			if err := refRows.Scan(&sourceWebId, &sourceEntityUuid); err != nil {
				refRows.Close()
				return fmt.Errorf("postgres: delete: scan referential check: %w", err)
			}
			if !fullyRemoved[timelineKey{sourceWebId, sourceEntityUuid}] {
				refRows.Close()
				return grapherr.New(grapherr.Referential, "delete",
					fmt.Errorf("entity has an incoming reference from a surviving entity")).WithEntity(tl.webId + "/" + tl.entityUuid)
			}
		}
		if err := refRows.Err(); err != nil {
			refRows.Close()
			return fmt.Errorf("postgres: delete: referential check: %w", err)
		}
		refRows.Close()
	}

	for tl := range fullyRemoved {
		if _, err := tx.Exec(ctx, `DELETE FROM entity_editions WHERE edition_id IN (
			SELECT edition_id FROM entity_temporal_metadata WHERE web_id = $1 AND entity_uuid = $2
		)`, tl.webId, tl.entityUuid); err != nil {
			return fmt.Errorf("postgres: delete: remove editions: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM entity_edge WHERE source_web_id = $1 AND source_entity_uuid = $2`,
			tl.webId, tl.entityUuid); err != nil {
			return fmt.Errorf("postgres: delete: remove edges: %w", err)
		}
		switch scope {
		case datastore.ScopePurge:
			if _, err := tx.Exec(ctx, `UPDATE entity_ids SET deleted_at = $1 WHERE web_id = $2 AND entity_uuid = $3`,
				now, tl.webId, tl.entityUuid); err != nil {
				return fmt.Errorf("postgres: delete: stamp purge: %w", err)
			}
		default: // ScopeErase, fully removed
			if _, err := tx.Exec(ctx, `DELETE FROM entity_ids WHERE web_id = $1 AND entity_uuid = $2`,
				tl.webId, tl.entityUuid); err != nil {
				return fmt.Errorf("postgres: delete: remove entity_ids: %w", err)
			}
		}
	}

	for tl, keys := range removeDraftKeys {
		for draftKey := range keys {
			if _, err := tx.Exec(ctx, `DELETE FROM entity_editions WHERE edition_id IN (
				SELECT edition_id FROM entity_temporal_metadata WHERE web_id = $1 AND entity_uuid = $2 AND draft_id = $3
			)`, tl.webId, tl.entityUuid, draftKey); err != nil {
				return fmt.Errorf("postgres: delete: remove draft edition: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit delete: %w", err)
	}
	return nil
}
