package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgtype"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/internal/query"
	"github.com/authzed/hashgraph/pkg/grapherr"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
	"github.com/authzed/hashgraph/pkg/temporal"
)

// scanner is satisfied by both pgx.Row and pgx.Rows, letting row-decoding
// helpers work against a single QueryRow result or a Query cursor alike.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntityRow(row scanner) (identifier.EntityId, datastore.EntityEdition, error) {
	var webIdStr, entityUuidStr, editionIdStr string
	var draftIdStr *string
	var propertiesRaw, provenanceRaw []byte
	var archived bool
	var txRange, decRange pgtype.Tstzrange

	if err := row.Scan(
		&webIdStr, &entityUuidStr, &draftIdStr, &editionIdStr,
		&propertiesRaw, &archived, &provenanceRaw,
		&txRange, &decRange,
	); err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, fmt.Errorf("postgres: scan entity row: %w", err)
	}

	webId, err := identifier.ParseWebId(webIdStr)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}
	entityUuid, err := identifier.ParseEntityUuid(entityUuidStr)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}
	editionUuid, err := uuid.Parse(editionIdStr)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}

	id := identifier.EntityId{WebId: webId, EntityUuid: entityUuid}
	if draftIdStr != nil {
		draftId, err := identifier.ParseDraftId(*draftIdStr)
		if err != nil {
			return identifier.EntityId{}, datastore.EntityEdition{}, err
		}
		id.DraftId = &draftId
	}

	props, err := decodeProperties(propertiesRaw)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}
	provenance, err := decodeProvenance(provenanceRaw)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}

	txInterval, err := decodeRange(txRange)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, fmt.Errorf("postgres: decode transaction_time: %w", err)
	}
	decInterval, err := decodeRange(decRange)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, fmt.Errorf("postgres: decode decision_time: %w", err)
	}

	edition := datastore.EntityEdition{
		EditionId:  identifier.EntityEditionId(editionUuid),
		Properties: props,
		Provenance: provenance,
		Archived:   archived,
		Axes:       temporal.Axes{TransactionTime: txInterval, DecisionTime: decInterval},
	}
	return id, edition, nil
}

// entityRowSelect is the fixed SELECT list every direct (non-compiler)
// entity read in this file uses, matching entityColumns from
// internal/query's compiler plus the raw range columns scanEntityRow
// scans directly into pgtype.Tstzrange.
const entityRowSelect = `
	m.web_id, m.entity_uuid, m.draft_id, m.edition_id,
	ed.properties, ed.archived, ed.provenance,
	m.transaction_time, m.decision_time
`

// CreateEntity implements datastore.EntityStore, replicating the memory
// engine's draft/publish and transaction-time-closing semantics (spec
// §4.F) inside a single postgres transaction instead of a memdb write.
func (s *Store) CreateEntity(ctx context.Context, params datastore.CreateEntityParams) (datastore.EntityRow, error) {
	entityUuid := identifier.EntityUuid(uuid.New())
	if params.EntityUuid != nil {
		entityUuid = *params.EntityUuid
	}

	id := identifier.EntityId{WebId: params.WebId, EntityUuid: entityUuid}
	if params.Draft {
		d := identifier.DraftId(uuid.New())
		id.DraftId = &d
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return datastore.EntityRow{}, fmt.Errorf("postgres: begin create_entity: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.EntityUuid != nil && !params.Draft {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM entity_temporal_metadata
			WHERE web_id = $1 AND entity_uuid = $2 AND draft_id IS NULL AND upper_inf(transaction_time)
		)`, params.WebId.String(), entityUuid.String()).Scan(&exists)
		if err != nil {
			return datastore.EntityRow{}, fmt.Errorf("postgres: check existing entity: %w", err)
		}
		if exists {
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
		if err := closeOpenEdition(ctx, tx, params.WebId, entityUuid, nil, now); err != nil {
			return datastore.EntityRow{}, err
		}
	}

	editionId := identifier.NewEntityEditionId()
	if err := insertEdition(ctx, tx, id, editionId, params.Properties, params.TypeIds, params.LinkData, false,
		params.Provenance, temporal.OpenAt(decisionLower), temporal.OpenAt(now)); err != nil {
		return datastore.EntityRow{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return datastore.EntityRow{}, mapPgError("create_entity", id.String(), err)
	}

	return datastore.EntityRow{
		Id: id,
		Edition: datastore.EntityEdition{
			EditionId:  editionId,
			Properties: params.Properties,
			TypeIds:    params.TypeIds,
			LinkData:   params.LinkData,
			Provenance: params.Provenance,
			Axes:       temporal.Axes{DecisionTime: temporal.OpenAt(decisionLower), TransactionTime: temporal.OpenAt(now)},
		},
	}, nil
}

// closeOpenEdition closes (sets the upper transaction-time bound of) the
// currently-open edition for the given timeline/draft slot, if one exists.
func closeOpenEdition(ctx context.Context, tx pgx.Tx, webId identifier.WebId, entityUuid identifier.EntityUuid, draftId *identifier.DraftId, at time.Time) error {
	var editionId string
	var txRange pgtype.Tstzrange
	query := `SELECT edition_id, transaction_time FROM entity_temporal_metadata
		WHERE web_id = $1 AND entity_uuid = $2 AND draft_id IS NULL AND upper_inf(transaction_time)`
	args := []any{webId.String(), entityUuid.String()}
	if draftId != nil {
		query = `SELECT edition_id, transaction_time FROM entity_temporal_metadata
			WHERE web_id = $1 AND entity_uuid = $2 AND draft_id = $3 AND upper_inf(transaction_time)`
		args = append(args, draftId.String())
	}
	err := tx.QueryRow(ctx, query, args...).Scan(&editionId, &txRange)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: lookup open edition: %w", err)
	}

	open, err := decodeRange(txRange)
	if err != nil {
		return fmt.Errorf("postgres: close open edition: %w", err)
	}
	closed, err := open.ClosedAt(at)
	if err != nil {
		return fmt.Errorf("postgres: close open edition: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE entity_temporal_metadata SET transaction_time = $1 WHERE edition_id = $2`,
		encodeRange(closed), editionId)
	if err != nil {
		return fmt.Errorf("postgres: close open edition: %w", err)
	}
	return nil
}

// insertEdition writes a new entity_editions row plus its
// entity_temporal_metadata, entity_is_of_type, and (if link data is
// present) entity_link_data / entity_edge rows.
func insertEdition(
	ctx context.Context, tx pgx.Tx, id identifier.EntityId, editionId identifier.EntityEditionId,
	props property.Object, typeIds []identifier.VersionedUrl, link *property.LinkData, archived bool,
	provenance property.EditionProvenance, decision, transaction temporal.Interval,
) error {
	propsRaw, err := encodeProperties(props)
	if err != nil {
		return err
	}
	provenanceRaw, err := encodeProvenance(provenance)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO entity_editions (edition_id, properties, archived, provenance) VALUES ($1, $2, $3, $4)`,
		editionId.String(), propsRaw, archived, provenanceRaw,
	); err != nil {
		return fmt.Errorf("postgres: insert edition: %w", err)
	}

	var draftArg any
	if id.DraftId != nil {
		draftArg = id.DraftId.String()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO entity_temporal_metadata (edition_id, web_id, entity_uuid, draft_id, decision_time, transaction_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		editionId.String(), id.WebId.String(), id.EntityUuid.String(), draftArg,
		encodeRange(decision), encodeRange(transaction),
	); err != nil {
		return fmt.Errorf("postgres: insert temporal metadata: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO entity_ids (web_id, entity_uuid) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		id.WebId.String(), id.EntityUuid.String()); err != nil {
		return fmt.Errorf("postgres: ensure entity_ids row: %w", err)
	}

	for _, t := range typeIds {
		var ontologyId string
		err := tx.QueryRow(ctx, `SELECT ontology_id FROM entity_types WHERE base_url = $1 AND version = $2`,
			string(t.BaseUrl), t.Version.Major).Scan(&ontologyId)
		if err != nil {
			return fmt.Errorf("postgres: resolve entity type %s: %w", t, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO entity_is_of_type (edition_id, entity_type_ontology_id, inheritance_depth) VALUES ($1, $2, 0)`,
			editionId.String(), ontologyId,
		); err != nil {
			return fmt.Errorf("postgres: insert is_of_type: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO entity_edge (edge_kind, source_web_id, source_entity_uuid, target_web_id, target_entity_uuid)
			 VALUES ($1, $2, $3, $2, $3) ON CONFLICT DO NOTHING`,
			int(query.EdgeIsOfType), id.WebId.String(), id.EntityUuid.String(),
		); err != nil {
			return fmt.Errorf("postgres: insert is_of_type edge: %w", err)
		}
	}

	if link != nil {
		if err := link.Validate(); err != nil {
			return grapherr.New(grapherr.Validation, "create_entity", err).WithEntity(id.String())
		}
		w, err := encodeLinkEndpoints(*link)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO entity_link_data (edition_id, left_entity_edition_id, right_entity_edition_id, left_confidence, right_confidence, left_provenance, right_provenance)
			 VALUES ($1,
				(SELECT edition_id FROM entity_temporal_metadata WHERE web_id=$2 AND entity_uuid=$3 AND draft_id IS NULL AND upper_inf(transaction_time)),
				(SELECT edition_id FROM entity_temporal_metadata WHERE web_id=$4 AND entity_uuid=$5 AND draft_id IS NULL AND upper_inf(transaction_time)),
				$6, $7, $8, $9)`,
			editionId.String(), w.LeftWebId, w.LeftEntityUuid, w.RightWebId, w.RightEntityUuid,
			w.LeftConfidence, w.RightConfidence, w.LeftProvenance, w.RightProvenance,
		); err != nil {
			return fmt.Errorf("postgres: insert link data: %w", err)
		}

		for _, edge := range []struct {
			kind                      query.EdgeKind
			webId, entityUuid         string
		}{
			{query.EdgeHasLeftEntity, w.LeftWebId, w.LeftEntityUuid},
			{query.EdgeHasRightEntity, w.RightWebId, w.RightEntityUuid},
		} {
			if _, err := tx.Exec(ctx,
				`INSERT INTO entity_edge (edge_kind, source_web_id, source_entity_uuid, target_web_id, target_entity_uuid)
				 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
				int(edge.kind), id.WebId.String(), id.EntityUuid.String(), edge.webId, edge.entityUuid,
			); err != nil {
				return fmt.Errorf("postgres: insert link edge: %w", err)
			}
		}
	}

	return nil
}

// PatchEntity implements datastore.EntityStore, replicating the memory
// engine's draft-promotion and in-place revision semantics (spec §4.F).
func (s *Store) PatchEntity(ctx context.Context, params datastore.PatchEntityParams) (datastore.EntityRow, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return datastore.EntityRow{}, fmt.Errorf("postgres: begin patch_entity: %w", err)
	}
	defer tx.Rollback(ctx)

	currentId, current, err := fetchOpenEdition(ctx, tx, params.Id)
	if err != nil {
		return datastore.EntityRow{}, err
	}

	newProps, err := property.Apply(current.Properties, params.PropertyPatch)
	if err != nil {
		return datastore.EntityRow{}, grapherr.Wrap("patch_entity", err)
	}

	typeIds := current.TypeIds
	if params.TypeIds != nil {
		typeIds = params.TypeIds
	}
	archived := current.Archived
	if params.Archived != nil {
		archived = *params.Archived
	}

	now := s.Clock.Now().UTC()
	newEditionId := identifier.NewEntityEditionId()

	if params.PromoteFromDraft && params.Id.DraftId != nil {
		_, published, err := fetchOpenEdition(ctx, tx, params.Id.BaseId())
		hasPublished := err == nil
		if err != nil && !grapherr.Is(err, grapherr.NotFound) {
			return datastore.EntityRow{}, err
		}

		decision := current.Axes.DecisionTime
		if hasPublished {
			if err := closeOpenEdition(ctx, tx, params.Id.WebId, params.Id.EntityUuid, nil, now); err != nil {
				return datastore.EntityRow{}, err
			}
			decision = published.Axes.DecisionTime
		}

		// Deleting entity_editions cascades to entity_temporal_metadata,
		// entity_is_of_type, and entity_link_data for the draft row; the
		// draft is discarded entirely on promotion rather than retained as
		// closed history (spec §4.F "promotion").
		if _, err := tx.Exec(ctx, `DELETE FROM entity_editions WHERE edition_id = $1`, current.EditionId.String()); err != nil {
			return datastore.EntityRow{}, fmt.Errorf("postgres: remove draft row on promotion: %w", err)
		}

		publishedEntityId := params.Id
		publishedEntityId.DraftId = nil
		if err := insertEdition(ctx, tx, publishedEntityId, newEditionId, newProps, typeIds, current.LinkData, archived,
			params.Provenance, decision, temporal.OpenAt(now)); err != nil {
			return datastore.EntityRow{}, err
		}

		if err := tx.Commit(ctx); err != nil {
			return datastore.EntityRow{}, mapPgError("patch_entity", publishedEntityId.String(), err)
		}
		return datastore.EntityRow{
			Id: publishedEntityId,
			Edition: datastore.EntityEdition{
				EditionId: newEditionId, Properties: newProps, TypeIds: typeIds, LinkData: current.LinkData,
				Archived: archived, Provenance: params.Provenance,
				Axes: temporal.Axes{DecisionTime: decision, TransactionTime: temporal.OpenAt(now)},
			},
		}, nil
	}

	if err := closeOpenEdition(ctx, tx, params.Id.WebId, params.Id.EntityUuid, params.Id.DraftId, now); err != nil {
		return datastore.EntityRow{}, err
	}
	if err := insertEdition(ctx, tx, currentId, newEditionId, newProps, typeIds, current.LinkData, archived,
		params.Provenance, current.Axes.DecisionTime, temporal.OpenAt(now)); err != nil {
		return datastore.EntityRow{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return datastore.EntityRow{}, mapPgError("patch_entity", currentId.String(), err)
	}

	return datastore.EntityRow{
		Id: currentId,
		Edition: datastore.EntityEdition{
			EditionId: newEditionId, Properties: newProps, TypeIds: typeIds, LinkData: current.LinkData,
			Archived: archived, Provenance: params.Provenance,
			Axes: temporal.Axes{DecisionTime: current.Axes.DecisionTime, TransactionTime: temporal.OpenAt(now)},
		},
	}, nil
}

// fetchOpenEdition returns the currently-open (unbounded transaction-time
// upper) edition for id's exact timeline/draft slot.
func fetchOpenEdition(ctx context.Context, tx pgx.Tx, id identifier.EntityId) (identifier.EntityId, datastore.EntityEdition, error) {
	draftPred := "m.draft_id IS NULL"
	args := []any{id.WebId.String(), id.EntityUuid.String()}
	if id.DraftId != nil {
		draftPred = "m.draft_id = $3"
		args = append(args, id.DraftId.String())
	}
	row := tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM entity_temporal_metadata m JOIN entity_editions ed ON ed.edition_id = m.edition_id
		WHERE m.web_id = $1 AND m.entity_uuid = $2 AND %s AND upper_inf(m.transaction_time)`, entityRowSelect, draftPred), args...)

	foundId, edition, err := scanEntityRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identifier.EntityId{}, datastore.EntityEdition{}, grapherr.New(grapherr.NotFound, "patch_entity",
				fmt.Errorf("entity not found")).WithEntity(id.String())
		}
		return identifier.EntityId{}, datastore.EntityEdition{}, fmt.Errorf("postgres: fetch open edition: %w", err)
	}
	typeIds, err := loadTypeIds(ctx, tx, edition.EditionId)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}
	edition.TypeIds = typeIds

	link, err := loadLinkData(ctx, tx, edition.EditionId)
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}
	edition.LinkData = link
	return foundId, edition, nil
}

// loadLinkData returns the link endpoints recorded for editionId, if the
// edition is a link entity (entity_link_data has no row otherwise).
func loadLinkData(ctx context.Context, tx pgx.Tx, editionId identifier.EntityEditionId) (*property.LinkData, error) {
	var leftWebId, leftEntityUuid, rightWebId, rightEntityUuid *string
	var leftConfidence, rightConfidence *float64
	var leftProvenanceRaw, rightProvenanceRaw []byte

	row := tx.QueryRow(ctx, `SELECT
			lm.web_id, lm.entity_uuid, rm.web_id, rm.entity_uuid,
			l.left_confidence, l.right_confidence, l.left_provenance, l.right_provenance
		FROM entity_link_data l
		LEFT JOIN entity_temporal_metadata lm ON lm.edition_id = l.left_entity_edition_id
		LEFT JOIN entity_temporal_metadata rm ON rm.edition_id = l.right_entity_edition_id
		WHERE l.edition_id = $1`, editionId.String())
	err := row.Scan(&leftWebId, &leftEntityUuid, &rightWebId, &rightEntityUuid,
		&leftConfidence, &rightConfidence, &leftProvenanceRaw, &rightProvenanceRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load link data: %w", err)
	}

	link := &property.LinkData{LeftConfidence: leftConfidence, RightConfidence: rightConfidence}
	if leftWebId != nil && leftEntityUuid != nil {
		webId, err := identifier.ParseWebId(*leftWebId)
		if err != nil {
			return nil, err
		}
		entityUuid, err := identifier.ParseEntityUuid(*leftEntityUuid)
		if err != nil {
			return nil, err
		}
		link.LeftEntityId = identifier.EntityId{WebId: webId, EntityUuid: entityUuid}
	}
	if rightWebId != nil && rightEntityUuid != nil {
		webId, err := identifier.ParseWebId(*rightWebId)
		if err != nil {
			return nil, err
		}
		entityUuid, err := identifier.ParseEntityUuid(*rightEntityUuid)
		if err != nil {
			return nil, err
		}
		link.RightEntityId = identifier.EntityId{WebId: webId, EntityUuid: entityUuid}
	}
	if leftProvenanceRaw != nil {
		prov, err := decodeValueProvenance(leftProvenanceRaw)
		if err != nil {
			return nil, err
		}
		link.LeftProvenance = prov
	}
	if rightProvenanceRaw != nil {
		prov, err := decodeValueProvenance(rightProvenanceRaw)
		if err != nil {
			return nil, err
		}
		link.RightProvenance = prov
	}
	return link, nil
}

func loadTypeIds(ctx context.Context, tx pgx.Tx, editionId identifier.EntityEditionId) ([]identifier.VersionedUrl, error) {
	rows, err := tx.Query(ctx, `SELECT et.base_url, et.version FROM entity_is_of_type it
		JOIN entity_types et ON et.ontology_id = it.entity_type_ontology_id
		WHERE it.edition_id = $1 AND it.inheritance_depth = 0`, editionId.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: load type ids: %w", err)
	}
	defer rows.Close()

	var out []identifier.VersionedUrl
	for rows.Next() {
		var base string
		var major uint32
		if err := rows.Scan(&base, &major); err != nil {
			return nil, fmt.Errorf("postgres: scan type id: %w", err)
		}
		out = append(out, identifier.VersionedUrl{BaseUrl: identifier.BaseUrl(base), Version: identifier.OntologyTypeVersion{Major: major}})
	}
	return out, rows.Err()
}

// QueryEntities implements datastore.EntityStore by executing the plan
// internal/query's Compiler renders for params (spec §4.E).
func (s *Store) QueryEntities(ctx context.Context, params datastore.QueryParams) (datastore.QueryPage, error) {
	compiled, err := s.compiler.Compile(params.Filter, params.Resolution, query.SubgraphTraversalParams{}, params.Cursor, params.Limit)
	if err != nil {
		return datastore.QueryPage{}, grapherr.Wrap("query_entities", err)
	}

	rows, err := s.pool.Query(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return datastore.QueryPage{}, fmt.Errorf("postgres: query_entities: %w", err)
	}
	defer rows.Close()

	var out []datastore.EntityRow
	for rows.Next() {
		id, edition, err := decodeCompiledRow(rows, compiled.Artifacts)
		if err != nil {
			return datastore.QueryPage{}, err
		}
		out = append(out, datastore.EntityRow{Id: id, Edition: edition})
	}
	if err := rows.Err(); err != nil {
		return datastore.QueryPage{}, fmt.Errorf("postgres: query_entities: %w", err)
	}

	page := datastore.QueryPage{Rows: out}
	if len(out) > 0 && params.Limit > 0 && len(out) == params.Limit {
		last := out[len(out)-1]
		next := temporal.Cursor{
			RevisionId: last.Edition.Axes.TransactionTime.Lower.Instant,
			EntityUuid: last.Id.EntityUuid,
			DraftId:    last.Id.DraftId,
			WebId:      last.Id.WebId,
		}
		page.NextCursor = &next
	}
	if params.IncludeCount {
		count, err := s.CountEntities(ctx, params.Filter, params.Resolution)
		if err != nil {
			return datastore.QueryPage{}, err
		}
		page.Count = &count
	}
	return page, nil
}

// decodeCompiledRow decodes one row produced by the compiler's generic
// SELECT list (entityColumns, in the order recorded by artifacts).
func decodeCompiledRow(rows pgx.Rows, artifacts query.CompilationArtifacts) (identifier.EntityId, datastore.EntityEdition, error) {
	dest := make([]any, len(rows.FieldDescriptions()))
	raw := make([]any, len(dest))
	for i := range dest {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, fmt.Errorf("postgres: scan compiled row: %w", err)
	}

	col := func(name string) any {
		idx, ok := artifacts.ColumnIndex[name]
		if !ok || idx >= len(raw) {
			return nil
		}
		return raw[idx]
	}

	webId, err := identifier.ParseWebId(fmt.Sprint(col("web_id")))
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}
	entityUuid, err := identifier.ParseEntityUuid(fmt.Sprint(col("entity_uuid")))
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}
	id := identifier.EntityId{WebId: webId, EntityUuid: entityUuid}
	if d := col("draft_id"); d != nil {
		draftId, err := identifier.ParseDraftId(fmt.Sprint(d))
		if err != nil {
			return identifier.EntityId{}, datastore.EntityEdition{}, err
		}
		id.DraftId = &draftId
	}

	editionUuid, err := uuid.Parse(fmt.Sprint(col("edition_id")))
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}

	props, err := decodePropertiesAny(col("properties"))
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}
	provenance, err := decodeProvenanceAny(col("provenance"))
	if err != nil {
		return identifier.EntityId{}, datastore.EntityEdition{}, err
	}

	archived, _ := col("archived").(bool)

	edition := datastore.EntityEdition{
		EditionId:  identifier.EntityEditionId(editionUuid),
		Properties: props,
		Provenance: provenance,
		Archived:   archived,
	}
	return id, edition, nil
}

func decodePropertiesAny(v any) (property.Object, error) {
	raw, ok := v.([]byte)
	if !ok {
		if s, ok := v.(string); ok {
			raw = []byte(s)
		} else {
			return property.Object{}, nil
		}
	}
	return decodeProperties(raw)
}

func decodeProvenanceAny(v any) (property.EditionProvenance, error) {
	raw, ok := v.([]byte)
	if !ok {
		if s, ok := v.(string); ok {
			raw = []byte(s)
		} else {
			return property.EditionProvenance{}, nil
		}
	}
	return decodeProvenance(raw)
}

// QueryEntitySubgraph implements datastore.EntityStore: the base page per
// QueryEntities, plus a bounded walk of entity_edge for each requested
// TraversalPath (spec §4.E step 4).
func (s *Store) QueryEntitySubgraph(ctx context.Context, params datastore.QueryParams, traversal query.SubgraphTraversalParams) (datastore.SubgraphResult, error) {
	page, err := s.QueryEntities(ctx, params)
	if err != nil {
		return datastore.SubgraphResult{}, err
	}

	result := datastore.SubgraphResult{Vertices: make(map[string]datastore.EntityRow)}
	frontier := make([]identifier.EntityId, 0, len(page.Rows))
	for _, row := range page.Rows {
		result.Vertices[row.Id.String()] = row
		frontier = append(frontier, row.Id)
	}

	for _, path := range traversal.Paths {
		current := frontier
		for depth := 0; depth < path.MaxDepth && len(current) > 0; depth++ {
			var next []identifier.EntityId
			for _, source := range current {
				targets, err := s.traverseOneHop(ctx, source, path)
				if err != nil {
					return datastore.SubgraphResult{}, err
				}
				for _, target := range targets {
					if _, seen := result.Vertices[target.String()]; !seen {
						row, ok, err := s.fetchVertex(ctx, target, params.Resolution)
						if err != nil {
							return datastore.SubgraphResult{}, err
						}
						if !ok {
							continue
						}
						result.Vertices[target.String()] = row
						next = append(next, target)
					}
					result.Edges = append(result.Edges, datastore.SubgraphEdge{
						Source: source, Kind: path.Edge, Direction: path.Direction, Target: target,
					})
				}
			}
			current = next
		}
	}

	return result, nil
}

func (s *Store) traverseOneHop(ctx context.Context, source identifier.EntityId, path query.TraversalPath) ([]identifier.EntityId, error) {
	sourceCol := "source_web_id, source_entity_uuid"
	selectCols := "target_web_id, target_entity_uuid"
	if path.Direction == query.Incoming {
		sourceCol = "target_web_id, target_entity_uuid"
		selectCols = "source_web_id, source_entity_uuid"
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM entity_edge WHERE edge_kind = $1 AND (%s) = ($2, $3)`, selectCols, sourceCol),
		int(path.Edge), source.WebId.String(), source.EntityUuid.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: traverse edge %s: %w", path.Edge, err)
	}
	defer rows.Close()

	var out []identifier.EntityId
	for rows.Next() {
		var webIdStr, entityUuidStr string
		if err := rows.Scan(&webIdStr, &entityUuidStr); err != nil {
			return nil, fmt.Errorf("postgres: scan traversed edge: %w", err)
		}
		webId, err := identifier.ParseWebId(webIdStr)
		if err != nil {
			return nil, err
		}
		entityUuid, err := identifier.ParseEntityUuid(entityUuidStr)
		if err != nil {
			return nil, err
		}
		out = append(out, identifier.EntityId{WebId: webId, EntityUuid: entityUuid})
	}
	return out, rows.Err()
}

func (s *Store) fetchVertex(ctx context.Context, id identifier.EntityId, resolution temporal.Resolution) (datastore.EntityRow, bool, error) {
	pinnedCol := "decision_time"
	if resolution.Pinned == temporal.TransactionTimeAxis {
		pinnedCol = "transaction_time"
	}
	sqlText := fmt.Sprintf(`SELECT %s FROM entity_temporal_metadata m JOIN entity_editions ed ON ed.edition_id = m.edition_id
		WHERE m.web_id = $1 AND m.entity_uuid = $2 AND m.draft_id IS NULL
		AND m.%s @> $3::timestamptz
		ORDER BY m.transaction_time DESC LIMIT 1`, entityRowSelect, pinnedCol)
	row := s.pool.QueryRow(ctx, sqlText, id.WebId.String(), id.EntityUuid.String(), resolution.PinnedAt)
	foundId, edition, err := scanEntityRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return datastore.EntityRow{}, false, nil
		}
		return datastore.EntityRow{}, false, fmt.Errorf("postgres: fetch vertex: %w", err)
	}
	return datastore.EntityRow{Id: foundId, Edition: edition}, true, nil
}

// CountEntities implements datastore.EntityStore.
func (s *Store) CountEntities(ctx context.Context, f query.EntityFilter, resolution temporal.Resolution) (int, error) {
	page, err := s.QueryEntities(ctx, datastore.QueryParams{Filter: f, Resolution: resolution})
	if err != nil {
		return 0, err
	}
	return len(page.Rows), nil
}
