// Package memory implements the Entity Store (spec §4.F) over
// hashicorp/go-memdb, an in-process, radix-indexed, MVCC-snapshot store.
// It is the reference engine used by unit tests and local development; the
// postgres package implements the same contract against a real database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/internal/telemetry"
	"github.com/authzed/hashgraph/pkg/filter"
	"github.com/authzed/hashgraph/pkg/grapherr"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
	"github.com/authzed/hashgraph/pkg/temporal"
)

const editionsTable = "entity_editions"

// editionRow is the memdb-indexed denormalization of one entity edition,
// folding entity_editions + entity_temporal_metadata + entity_ids together
// (spec §6.1) since memdb has no joins.
type editionRow struct {
	WebId      string
	EntityUuid string
	DraftId    string // "" when not a draft; memdb indexes can't hold nil
	EditionId  string

	Properties property.Object
	TypeIds    []identifier.VersionedUrl
	LinkData   *property.LinkData
	Archived   bool
	Provenance property.EditionProvenance

	DecisionTime    temporal.Interval
	TransactionTime temporal.Interval

	// IdentityDeletedAt is not set or read anywhere in this engine: Delete
	// under ScopePurge removes every row of the matched timelines, so no
	// deletion stamp is kept.
	IdentityDeletedAt *time.Time
}

func (r *editionRow) timeline() string { return r.WebId + "/" + r.EntityUuid }

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			editionsTable: {
				Name: editionsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "EditionId"},
					},
					"timeline": {
						Name:    "timeline",
						Unique:  false,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "WebId"},
							&memdb.StringFieldIndex{Field: "EntityUuid"},
						}},
					},
				},
			},
		},
	}
}

// Store implements datastore.EntityStore over an in-memory memdb instance.
// Writes to the same timeline are serialized by a per-(web_id,entity_uuid)
// lock acquired before the memdb write transaction begins, realizing the
// "per-base-identity row lock" ordering guarantee (spec §5).
type Store struct {
	db       *memdb.MemDB
	uniqueId string

	// Clock provides now() for edition decision/transaction-time stamps.
	// Production code leaves it at the real clock.New(); tests substitute
	// clock.NewMock() for deterministic bitemporal assertions.
	Clock clock.Clock

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs an empty in-memory entity store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("memory: construct memdb: %w", err)
	}
	return &Store{db: db, uniqueId: uuid.NewString(), locks: make(map[string]*sync.Mutex), Clock: clock.New()}, nil
}

func (s *Store) IsReady(ctx context.Context) (bool, error) { return true, nil }
func (s *Store) Close() error                              { return nil }

// Statistics implements telemetry.StatisticsProvider.
func (s *Store) Statistics(ctx context.Context) (telemetry.Statistics, error) {
	count, err := s.CountEntities(ctx, query.EntityFilter{Op: filter.OpAll}, temporal.PinnedAtNow(temporal.TransactionTimeAxis, s.Clock.Now().UTC()))
	if err != nil {
		return telemetry.Statistics{}, err
	}
	return telemetry.Statistics{UniqueId: s.uniqueId, EntityCount: count}, nil
}

func (s *Store) lockFor(timeline string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[timeline]
	if !ok {
		l = &sync.Mutex{}
		s.locks[timeline] = l
	}
	return l
}

// CreateEntity implements datastore.EntityStore.
func (s *Store) CreateEntity(ctx context.Context, params datastore.CreateEntityParams) (datastore.EntityRow, error) {
	entityUuid := identifier.EntityUuid(uuid.New())
	if params.EntityUuid != nil {
		entityUuid = *params.EntityUuid
	}

	id := identifier.EntityId{WebId: params.WebId, EntityUuid: entityUuid}
	var draftId *identifier.DraftId
	if params.Draft {
		d := identifier.DraftId(uuid.New())
		draftId = &d
		id.DraftId = draftId
	}

	timeline := params.WebId.String() + "/" + entityUuid.String()
	lock := s.lockFor(timeline)
	lock.Lock()
	defer lock.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()

	if params.EntityUuid != nil && !params.Draft {
		existing, err := latestForTimeline(txn, id.WebId, entityUuid, "")
		if err != nil {
			return datastore.EntityRow{}, err
		}
		if existing != nil {
			return datastore.EntityRow{}, grapherr.New(grapherr.Uniqueness, "create_entity",
				fmt.Errorf("entity already exists")).WithEntity(id.String())
		}
	}

	now := s.Clock.Now().UTC()
	decisionLower := now
	if params.DecisionTime != nil && !params.DecisionTime.Unbounded {
		decisionLower = params.DecisionTime.Instant
	}

	if !params.Draft {
		if prev, err := latestForTimeline(txn, id.WebId, entityUuid, ""); err != nil {
			return datastore.EntityRow{}, err
		} else if prev != nil {
			closed, err := prev.TransactionTime.ClosedAt(now)
			if err != nil {
				return datastore.EntityRow{}, fmt.Errorf("memory: close previous edition: %w", err)
			}
			updated := *prev
			updated.TransactionTime = closed
			if err := txn.Insert(editionsTable, &updated); err != nil {
				return datastore.EntityRow{}, fmt.Errorf("memory: close previous edition: %w", err)
			}
		}
	}

	row := &editionRow{
		WebId:           id.WebId.String(),
		EntityUuid:      entityUuid.String(),
		EditionId:       uuid.New().String(),
		Properties:      params.Properties,
		TypeIds:         params.TypeIds,
		LinkData:        params.LinkData,
		Provenance:      params.Provenance,
		DecisionTime:    temporal.OpenAt(decisionLower),
		TransactionTime: temporal.OpenAt(now),
	}
	if draftId != nil {
		row.DraftId = (*draftId).String()
	}

	if err := txn.Insert(editionsTable, row); err != nil {
		return datastore.EntityRow{}, fmt.Errorf("memory: insert edition: %w", err)
	}
	txn.Commit()

	return toEntityRow(id, row), nil
}

// PatchEntity implements datastore.EntityStore.
func (s *Store) PatchEntity(ctx context.Context, params datastore.PatchEntityParams) (datastore.EntityRow, error) {
	timeline := params.Id.WebId.String() + "/" + params.Id.EntityUuid.String()
	lock := s.lockFor(timeline)
	lock.Lock()
	defer lock.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()

	draftKey := ""
	if params.Id.DraftId != nil {
		draftKey = params.Id.DraftId.String()
	}
	current, err := latestForTimeline(txn, params.Id.WebId, params.Id.EntityUuid, draftKey)
	if err != nil {
		return datastore.EntityRow{}, err
	}
	if current == nil {
		return datastore.EntityRow{}, grapherr.New(grapherr.NotFound, "patch_entity",
			fmt.Errorf("entity not found")).WithEntity(params.Id.String())
	}

	newProps, err := property.Apply(current.Properties, params.PropertyPatch)
	if err != nil {
		return datastore.EntityRow{}, grapherr.Wrap("patch_entity", err)
	}

	now := s.Clock.Now().UTC()

	if params.PromoteFromDraft && params.Id.DraftId != nil {
		published, err := latestForTimeline(txn, params.Id.WebId, params.Id.EntityUuid, "")
		if err != nil {
			return datastore.EntityRow{}, err
		}
		promoted := *current
		promoted.DraftId = ""
		promoted.Properties = newProps
		if params.TypeIds != nil {
			promoted.TypeIds = params.TypeIds
		}
		if params.Archived != nil {
			promoted.Archived = *params.Archived
		}
		promoted.Provenance = params.Provenance
		promoted.EditionId = uuid.New().String()

		if published == nil {
			// No published timeline: the draft row itself becomes the
			// published timeline (spec §4.F "promotion" with no collision).
			promoted.DecisionTime = current.DecisionTime
			promoted.TransactionTime = temporal.OpenAt(now)
		} else {
			closed, err := published.TransactionTime.ClosedAt(now)
			if err != nil {
				return datastore.EntityRow{}, fmt.Errorf("memory: close published edition: %w", err)
			}
			closedPublished := *published
			closedPublished.TransactionTime = closed
			if err := txn.Insert(editionsTable, &closedPublished); err != nil {
				return datastore.EntityRow{}, err
			}
			promoted.DecisionTime = published.DecisionTime
			promoted.TransactionTime = temporal.OpenAt(now)
		}

		if err := txn.Delete(editionsTable, current); err != nil {
			return datastore.EntityRow{}, fmt.Errorf("memory: remove draft row on promotion: %w", err)
		}
		if err := txn.Insert(editionsTable, &promoted); err != nil {
			return datastore.EntityRow{}, err
		}
		txn.Commit()
		publishedId := params.Id
		publishedId.DraftId = nil
		return toEntityRow(publishedId, &promoted), nil
	}

	closed, err := current.TransactionTime.ClosedAt(now)
	if err != nil {
		return datastore.EntityRow{}, fmt.Errorf("memory: close prior edition: %w", err)
	}
	closedCurrent := *current
	closedCurrent.TransactionTime = closed
	if err := txn.Insert(editionsTable, &closedCurrent); err != nil {
		return datastore.EntityRow{}, err
	}

	next := *current
	next.EditionId = uuid.New().String()
	next.Properties = newProps
	if params.TypeIds != nil {
		next.TypeIds = params.TypeIds
	}
	if params.Archived != nil {
		next.Archived = *params.Archived
	}
	next.Provenance = params.Provenance
	next.TransactionTime = temporal.OpenAt(now)

	if err := txn.Insert(editionsTable, &next); err != nil {
		return datastore.EntityRow{}, err
	}
	txn.Commit()

	return toEntityRow(params.Id, &next), nil
}

// QueryEntities implements datastore.EntityStore via an in-memory scan and
// filter evaluation (the memdb engine trades query-compiler reuse for
// direct predicate evaluation; the SQL compiler in internal/query targets
// postgres specifically). It does not paginate: params.Cursor is not read
// and NextCursor is never set, so rows past Limit cannot be requested.
func (s *Store) QueryEntities(ctx context.Context, params datastore.QueryParams) (datastore.QueryPage, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(editionsTable, "id")
	if err != nil {
		return datastore.QueryPage{}, fmt.Errorf("memory: scan editions: %w", err)
	}

	coerced, err := filter.Coerce(params.Filter)
	if err != nil {
		return datastore.QueryPage{}, grapherr.Wrap("query_entities", err)
	}

	var matched []*editionRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*editionRow)
		if !params.Resolution.Matches(temporal.Axes{DecisionTime: row.DecisionTime, TransactionTime: row.TransactionTime}) {
			continue
		}
		if !evalFilter(coerced, row) {
			continue
		}
		matched = append(matched, row)
	}

	rows := make([]datastore.EntityRow, 0, len(matched))
	for _, row := range matched {
		rows = append(rows, toEntityRow(rowId(row), row))
	}

	var count *int
	if params.IncludeCount {
		n := len(rows)
		count = &n
	}
	if params.Limit > 0 && len(rows) > params.Limit {
		rows = rows[:params.Limit]
	}

	return datastore.QueryPage{Rows: rows, Count: count}, nil
}

// QueryEntitySubgraph implements datastore.EntityStore by returning the
// rows QueryEntities matches as vertices. The memory engine performs no
// traversal: the traversal parameters are not read and no edges are
// returned.
func (s *Store) QueryEntitySubgraph(ctx context.Context, params datastore.QueryParams, traversal query.SubgraphTraversalParams) (datastore.SubgraphResult, error) {
	page, err := s.QueryEntities(ctx, params)
	if err != nil {
		return datastore.SubgraphResult{}, err
	}

	result := datastore.SubgraphResult{Vertices: make(map[string]datastore.EntityRow)}
	for _, row := range page.Rows {
		result.Vertices[row.Id.String()] = row
	}
	return result, nil
}

// CountEntities implements datastore.EntityStore.
func (s *Store) CountEntities(ctx context.Context, filter query.EntityFilter, resolution temporal.Resolution) (int, error) {
	page, err := s.QueryEntities(ctx, datastore.QueryParams{Filter: filter, Resolution: resolution, IncludeCount: true})
	if err != nil {
		return 0, err
	}
	return *page.Count, nil
}

func rowId(row *editionRow) identifier.EntityId {
	webId, _ := uuid.Parse(row.WebId)
	entityUuid, _ := uuid.Parse(row.EntityUuid)
	id := identifier.EntityId{WebId: identifier.WebId(webId), EntityUuid: identifier.EntityUuid(entityUuid)}
	if row.DraftId != "" {
		draftId, _ := uuid.Parse(row.DraftId)
		d := identifier.DraftId(draftId)
		id.DraftId = &d
	}
	return id
}

func toEntityRow(id identifier.EntityId, row *editionRow) datastore.EntityRow {
	editionId, _ := uuid.Parse(row.EditionId)
	return datastore.EntityRow{
		Id: id,
		Edition: datastore.EntityEdition{
			EditionId:  identifier.EntityEditionId(editionId),
			Properties: row.Properties,
			TypeIds:    row.TypeIds,
			LinkData:   row.LinkData,
			Archived:   row.Archived,
			Provenance: row.Provenance,
			Axes:       temporal.Axes{DecisionTime: row.DecisionTime, TransactionTime: row.TransactionTime},
		},
	}
}

// latestForTimeline returns the open (unbounded transaction-time upper)
// edition for the given timeline and draft slot, or nil if none exists.
func latestForTimeline(txn *memdb.Txn, webId identifier.WebId, entityUuid identifier.EntityUuid, draftId string) (*editionRow, error) {
	it, err := txn.Get(editionsTable, "timeline", webId.String(), entityUuid.String())
	if err != nil {
		return nil, fmt.Errorf("memory: lookup timeline: %w", err)
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*editionRow)
		if row.DraftId != draftId {
			continue
		}
		if row.TransactionTime.Upper.Unbounded {
			return row, nil
		}
	}
	return nil, nil
}

// evalFilter interprets f directly against row, the memdb engine's
// substitute for the SQL compiler's relational evaluation.
func evalFilter(f query.EntityFilter, row *editionRow) bool {
	switch f.Op {
	case filter.OpAll:
		for _, c := range f.Combinators {
			if !evalFilter(c, row) {
				return false
			}
		}
		return true
	case filter.OpAny:
		if len(f.Combinators) == 0 {
			return true
		}
		for _, c := range f.Combinators {
			if evalFilter(c, row) {
				return true
			}
		}
		return false
	case filter.OpNot:
		return !evalFilter(*f.Inner, row)
	case filter.OpIn:
		lhs := evalExpr(*f.Lhs, row)
		for _, item := range f.List {
			if valuesEqual(lhs, evalExpr(item, row)) {
				return true
			}
		}
		return false
	default:
		lhs := evalExpr(*f.Lhs, row)
		if f.Rhs == nil {
			switch f.Op {
			case filter.OpEqual:
				return lhs == nil
			case filter.OpNotEqual:
				return lhs != nil
			default:
				return false
			}
		}
		rhs := evalExpr(*f.Rhs, row)
		switch f.Op {
		case filter.OpEqual:
			return valuesEqual(lhs, rhs)
		case filter.OpNotEqual:
			return !valuesEqual(lhs, rhs)
		case filter.OpGreater, filter.OpGreaterOrEqual, filter.OpLess, filter.OpLessOrEqual:
			return compareOrdered(f.Op, lhs, rhs)
		case filter.OpStartsWith, filter.OpEndsWith, filter.OpContainsSegment:
			return evalStringOp(f.Op, lhs, rhs)
		default:
			return false
		}
	}
}

func evalExpr(e filter.Expression[query.EntityQueryPath], row *editionRow) any {
	if !e.IsPath {
		if e.Param == nil {
			return nil
		}
		return e.Param.Value
	}
	return evalPath(e.Path, row)
}

func evalPath(p query.EntityQueryPath, row *editionRow) any {
	switch p.Kind {
	case query.PathUuid:
		return row.EntityUuid
	case query.PathWebId:
		return row.WebId
	case query.PathDraftId:
		if row.DraftId == "" {
			return nil
		}
		return row.DraftId
	case query.PathEditionId:
		return row.EditionId
	case query.PathArchived:
		return row.Archived
	case query.PathProperties:
		if p.PropertyBaseUrl == nil || row.Properties == nil {
			return nil
		}
		v, ok := row.Properties[*p.PropertyBaseUrl]
		if !ok {
			return nil
		}
		return v.Scalar
	case query.PathEntityTypeEdge:
		for _, t := range row.TypeIds {
			switch p.EntityTypePath {
			case query.EntityTypeBaseUrl:
				return string(t.BaseUrl)
			}
		}
		return nil
	default:
		return nil
	}
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareOrdered(op filter.Op, a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case filter.OpGreater:
		return af > bf
	case filter.OpGreaterOrEqual:
		return af >= bf
	case filter.OpLess:
		return af < bf
	case filter.OpLessOrEqual:
		return af <= bf
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func evalStringOp(op filter.Op, lhs, rhs any) bool {
	ls, lok := lhs.(string)
	rs, rok := rhs.(string)
	if !lok || !rok {
		return false
	}
	switch op {
	case filter.OpStartsWith:
		return len(ls) >= len(rs) && ls[:len(rs)] == rs
	case filter.OpEndsWith:
		return len(ls) >= len(rs) && ls[len(ls)-len(rs):] == rs
	case filter.OpContainsSegment:
		return containsSubstring(ls, rs)
	default:
		return false
	}
}

func containsSubstring(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
