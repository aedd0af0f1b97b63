package memory

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/pkg/filter"
	"github.com/authzed/hashgraph/pkg/grapherr"
)

// Delete implements datastore.DeletionEngine. The memdb engine has no
// separate entity_is_of_type/entity_embeddings/entity_edge tables to order
// deletes across (spec §6.1 folds them into one denormalized editionRow),
// so the FK-safe ordering collapses to: check for surviving references,
// then remove every row belonging to the affected draft slots in one
// write transaction. This engine keeps no separate identity row, so
// ScopePurge leaves no deletion stamp behind.
func (s *Store) Delete(ctx context.Context, f query.EntityFilter, scope datastore.DeletionScope) error {
	coerced, err := filter.Coerce(f)
	if err != nil {
		return grapherr.Wrap("delete", err)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(editionsTable, "id")
	if err != nil {
		return fmt.Errorf("memory: scan editions: %w", err)
	}

	// latest holds, per timeline and draft slot ("" for published), the one
	// live (open transaction-time) row observing that slot's current state.
	latest := make(map[string]map[string]*editionRow)
	// all holds every historical and live row for a timeline, the unit of
	// physical removal once a slot is condemned.
	all := make(map[string][]*editionRow)

	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*editionRow)
		tl := row.timeline()
		all[tl] = append(all[tl], row)
		if row.TransactionTime.Upper.Unbounded {
			if latest[tl] == nil {
				latest[tl] = make(map[string]*editionRow)
			}
			latest[tl][row.DraftId] = row
		}
	}

	matchedDrafts := make(map[string]map[string]bool) // timeline -> draftKey -> matched
	for tl, slots := range latest {
		for draftKey, row := range slots {
			if evalFilter(coerced, row) {
				if matchedDrafts[tl] == nil {
					matchedDrafts[tl] = make(map[string]bool)
				}
				matchedDrafts[tl][draftKey] = true
			}
		}
	}
	if len(matchedDrafts) == 0 {
		return nil
	}

	// fullyRemoved collects timelines condemned in their entirety this call
	// (Purge, or Erase not downgraded by partial-draft semantics), used
	// both to drive physical deletes and to scope the referential check
	// below to entities that are not disappearing together.
	fullyRemoved := make(map[string]bool)
	removeDraftKeys := make(map[string]map[string]bool) // timeline -> draftKey -> true, for Draft-scoped removal

	for tl, matched := range matchedDrafts {
		_, publishedLive := latest[tl][""]
		publishedMatched := matched[""]

		effective := scope
		if scope == datastore.ScopeErase && !publishedMatched && publishedLive {
			// Partial draft semantics (spec §4.H): the match was draft-only
			// on a timeline that still has a published edition, so Erase
			// behaves as Draft for the matched drafts.
			effective = datastore.ScopeDraft
		}

		switch effective {
		case datastore.ScopeDraft:
			keys := make(map[string]bool, len(matched))
			for draftKey, ok := range matched {
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

	// Referential check: an incoming LinkData edge from a surviving entity
	// aborts the delete (spec §4.H). "Surviving" excludes rows belonging to
	// a timeline that is itself being fully removed in this same call.
	for removedTl := range fullyRemoved {
		removedUuid := removedTl[len(removedTl)-36:] // timeline is "webId/entityUuid"
		for tl, slots := range latest {
			if fullyRemoved[tl] {
				continue
			}
			for _, row := range slots {
				if row.LinkData == nil {
					continue
				}
				if row.LinkData.LeftEntityId.EntityUuid.String() == removedUuid || row.LinkData.RightEntityId.EntityUuid.String() == removedUuid {
					return grapherr.New(grapherr.Referential, "delete",
						fmt.Errorf("entity has an incoming reference from a surviving entity")).WithEntity(removedTl)
				}
			}
		}
	}

	for tl := range fullyRemoved {
		for _, row := range all[tl] {
			if err := txn.Delete(editionsTable, row); err != nil && err != memdb.ErrNotFound {
				return fmt.Errorf("memory: delete edition: %w", err)
			}
		}
	}
	for tl, keys := range removeDraftKeys {
		for _, row := range all[tl] {
			if keys[row.DraftId] {
				if err := txn.Delete(editionsTable, row); err != nil && err != memdb.ErrNotFound {
					return fmt.Errorf("memory: delete draft edition: %w", err)
				}
			}
		}
	}

	txn.Commit()
	return nil
}
