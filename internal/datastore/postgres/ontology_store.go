package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/pkg/grapherr"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/temporal"
	"github.com/authzed/hashgraph/pkg/typesystem"
)

// inheritsWire is the JSONB shape stored for InheritsFrom: a flat list of
// versioned-url strings.
type inheritsWire []string

// conversionEntryWire is one entry of the conversions JSONB array.
// typesystem.Conversions is keyed by typesystem.ConversionKey, a plain
// struct of two strings that does not implement encoding.TextMarshaler, so
// encoding/json cannot serialize the map directly (it requires string,
// integer, or TextMarshaler map keys); this flattens it to a slice.
type conversionEntryWire struct {
	From string                `json:"from"`
	To   string                `json:"to"`
	Conv typesystem.Conversion `json:"conversion"`
}

func encodeConversions(conversions typesystem.Conversions) ([]byte, error) {
	wire := make([]conversionEntryWire, 0, len(conversions))
	for key, conv := range conversions {
		wire = append(wire, conversionEntryWire{From: key.From, To: key.To, Conv: conv})
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode conversions: %w", err)
	}
	return data, nil
}

func decodeConversions(data []byte) (typesystem.Conversions, error) {
	var wire []conversionEntryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("postgres: decode conversions: %w", err)
	}
	out := make(typesystem.Conversions, len(wire))
	for _, entry := range wire {
		out[typesystem.ConversionKey{From: entry.From, To: entry.To}] = entry.Conv
	}
	return out, nil
}

// CreateOntologyType implements datastore.OntologyStore.
func (s *Store) CreateOntologyType(ctx context.Context, params datastore.CreateOntologyTypeParams) (datastore.OntologyTypeRecord, error) {
	record := params.Record

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: begin create_ontology_type: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM ontology_types WHERE kind = $1 AND base_url = $2 AND major_version = $3
		AND pre_release IS NOT DISTINCT FROM $4 AND upper_inf(transaction_time)
	)`, int(record.Kind), string(record.Url.BaseUrl), record.Url.Version.Major, record.Url.Version.PreRelease).Scan(&exists); err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: check existing ontology type: %w", err)
	}
	if exists {
		if params.Conflict == datastore.ConflictSkip {
			tx.Rollback(ctx)
			return s.GetOntologyType(ctx, record.Url)
		}
		return datastore.OntologyTypeRecord{}, grapherr.New(grapherr.Uniqueness, "create_ontology_type",
			fmt.Errorf("ontology type %s already exists", record.Url))
	}

	if err := insertOntologyType(ctx, tx, record, s.Clock.Now().UTC()); err != nil {
		return datastore.OntologyTypeRecord{}, err
	}

	if record.Kind == datastore.OntologyEntityType {
		if err := upsertEntityTypeProjection(ctx, tx, record.Url); err != nil {
			return datastore.OntologyTypeRecord{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return datastore.OntologyTypeRecord{}, mapPgError("create_ontology_type", record.Url.String(), err)
	}
	return record, nil
}

// insertOntologyType writes one new, currently-open edition of an ontology
// type record.
func insertOntologyType(ctx context.Context, tx pgx.Tx, record datastore.OntologyTypeRecord, now time.Time) error {
	schemaRaw, err := json.Marshal(record.Schema)
	if err != nil {
		return fmt.Errorf("postgres: encode ontology schema: %w", err)
	}
	inherits := make(inheritsWire, 0, len(record.InheritsFrom))
	for _, u := range record.InheritsFrom {
		inherits = append(inherits, u.String())
	}
	inheritsRaw, err := json.Marshal(inherits)
	if err != nil {
		return fmt.Errorf("postgres: encode inherits_from: %w", err)
	}
	conversionsRaw, err := encodeConversions(record.Conversions)
	if err != nil {
		return err
	}
	provenanceRaw, err := encodeProvenance(record.Provenance)
	if err != nil {
		return err
	}

	decision := temporal.OpenAt(now)
	if !record.Axes.DecisionTime.Lower.Instant.IsZero() {
		decision = temporal.OpenAt(record.Axes.DecisionTime.Lower.Instant)
	}

	_, err = tx.Exec(ctx, `INSERT INTO ontology_types
		(ontology_id, kind, base_url, major_version, pre_release, schema, inherits_from, conversions, provenance, decision_time, transaction_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New().String(), int(record.Kind), string(record.Url.BaseUrl), record.Url.Version.Major, record.Url.Version.PreRelease,
		schemaRaw, inheritsRaw, conversionsRaw, provenanceRaw, encodeRange(decision), encodeRange(temporal.OpenAt(now)),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert ontology type: %w", err)
	}
	return nil
}

// upsertEntityTypeProjection maintains the entity_types table the query
// compiler joins against (compilePath's PathEntityTypeEdge), kept in sync
// with ontology_types whenever an EntityType edition is written.
func upsertEntityTypeProjection(ctx context.Context, tx pgx.Tx, url identifier.VersionedUrl) error {
	var title string
	if err := tx.QueryRow(ctx, `SELECT schema->>'title' FROM ontology_types
		WHERE kind = $1 AND base_url = $2 AND major_version = $3 AND upper_inf(transaction_time)`,
		int(datastore.OntologyEntityType), string(url.BaseUrl), url.Version.Major).Scan(&title); err != nil {
		return fmt.Errorf("postgres: read entity type title: %w", err)
	}

	_, err := tx.Exec(ctx, `INSERT INTO entity_types (ontology_id, base_url, version, title)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (base_url, version) DO UPDATE SET title = EXCLUDED.title`,
		uuid.New().String(), string(url.BaseUrl), url.Version.Major, title)
	if err != nil {
		return fmt.Errorf("postgres: upsert entity_types projection: %w", err)
	}
	return nil
}

// UpdateOntologyType implements datastore.OntologyStore: closes the
// currently-open edition of record.Url's base_url/major_version line and
// opens a new one, mirroring CreateEntity's transaction-time bookkeeping.
func (s *Store) UpdateOntologyType(ctx context.Context, record datastore.OntologyTypeRecord) (datastore.OntologyTypeRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: begin update_ontology_type: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.Clock.Now().UTC()
	var openId string
	var txRange pgtype.Tstzrange
	err = tx.QueryRow(ctx, `SELECT ontology_id, transaction_time FROM ontology_types
		WHERE kind = $1 AND base_url = $2 AND major_version = $3 AND pre_release IS NOT DISTINCT FROM $4 AND upper_inf(transaction_time)`,
		int(record.Kind), string(record.Url.BaseUrl), record.Url.Version.Major, record.Url.Version.PreRelease,
	).Scan(&openId, &txRange)
	if err != nil {
		if err == pgx.ErrNoRows {
			return datastore.OntologyTypeRecord{}, grapherr.New(grapherr.NotFound, "update_ontology_type",
				fmt.Errorf("ontology type not found")).WithEntity(record.Url.String())
		}
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: lookup ontology type: %w", err)
	}

	open, err := decodeRange(txRange)
	if err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: close ontology edition: %w", err)
	}
	closed, err := open.ClosedAt(now)
	if err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: close ontology edition: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE ontology_types SET transaction_time = $1 WHERE ontology_id = $2`,
		encodeRange(closed), openId); err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: close ontology edition: %w", err)
	}

	if err := insertOntologyType(ctx, tx, record, now); err != nil {
		return datastore.OntologyTypeRecord{}, err
	}
	if record.Kind == datastore.OntologyEntityType {
		if err := upsertEntityTypeProjection(ctx, tx, record.Url); err != nil {
			return datastore.OntologyTypeRecord{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return datastore.OntologyTypeRecord{}, mapPgError("update_ontology_type", record.Url.String(), err)
	}
	return record, nil
}

// GetOntologyType implements datastore.OntologyStore.
func (s *Store) GetOntologyType(ctx context.Context, url identifier.VersionedUrl) (datastore.OntologyTypeRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT kind, schema, inherits_from, conversions, provenance,
		decision_time, transaction_time
		FROM ontology_types
		WHERE base_url = $1 AND major_version = $2 AND pre_release IS NOT DISTINCT FROM $3 AND upper_inf(transaction_time)`,
		string(url.BaseUrl), url.Version.Major, url.Version.PreRelease)
	return scanOntologyRow(row, url)
}

func scanOntologyRow(row scanner, url identifier.VersionedUrl) (datastore.OntologyTypeRecord, error) {
	var kind int
	var schemaRaw, inheritsRaw, conversionsRaw, provenanceRaw []byte
	var decRange, txRange pgtype.Tstzrange

	if err := row.Scan(&kind, &schemaRaw, &inheritsRaw, &conversionsRaw, &provenanceRaw, &decRange, &txRange); err != nil {
		if err == pgx.ErrNoRows {
			return datastore.OntologyTypeRecord{}, grapherr.New(grapherr.NotFound, "get_ontology_type",
				fmt.Errorf("ontology type not found")).WithEntity(url.String())
		}
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: scan ontology row: %w", err)
	}
	decInterval, err := decodeRange(decRange)
	if err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: decode decision_time: %w", err)
	}
	txInterval, err := decodeRange(txRange)
	if err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: decode transaction_time: %w", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(schemaRaw, &schema); err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: decode ontology schema: %w", err)
	}
	var inherits inheritsWire
	if err := json.Unmarshal(inheritsRaw, &inherits); err != nil {
		return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: decode inherits_from: %w", err)
	}
	inheritsFrom := make([]identifier.VersionedUrl, 0, len(inherits))
	for _, s := range inherits {
		parsed, err := identifier.ParseVersionedUrl(s)
		if err != nil {
			return datastore.OntologyTypeRecord{}, fmt.Errorf("postgres: parse inherited url %q: %w", s, err)
		}
		inheritsFrom = append(inheritsFrom, parsed)
	}
	conversions, err := decodeConversions(conversionsRaw)
	if err != nil {
		return datastore.OntologyTypeRecord{}, err
	}
	provenance, err := decodeProvenance(provenanceRaw)
	if err != nil {
		return datastore.OntologyTypeRecord{}, err
	}

	return datastore.OntologyTypeRecord{
		Kind:         datastore.OntologyTypeKind(kind),
		Url:          url,
		Schema:       schema,
		InheritsFrom: inheritsFrom,
		Conversions:  conversions,
		Provenance:   provenance,
		Axes: temporal.Axes{
			DecisionTime:    decInterval,
			TransactionTime: txInterval,
		},
	}, nil
}

// ListOntologyTypes implements datastore.OntologyStore, returning every
// currently-open edition of kind ordered by base_url/version so repeated
// dumps of an unchanged catalog produce byte-identical streams.
func (s *Store) ListOntologyTypes(ctx context.Context, kind datastore.OntologyTypeKind) ([]datastore.OntologyTypeRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT base_url, major_version, pre_release, kind, schema, inherits_from,
			conversions, provenance, decision_time, transaction_time
		FROM ontology_types
		WHERE kind = $1 AND upper_inf(transaction_time)
		ORDER BY base_url, major_version, pre_release`, int(kind))
	if err != nil {
		return nil, fmt.Errorf("postgres: list ontology types: %w", err)
	}
	defer rows.Close()

	var out []datastore.OntologyTypeRecord
	for rows.Next() {
		var baseUrl string
		var major uint32
		var preRelease *string
		var kindInt int
		var schemaRaw, inheritsRaw, conversionsRaw, provenanceRaw []byte
		var decRange, txRange pgtype.Tstzrange

		if err := rows.Scan(&baseUrl, &major, &preRelease, &kindInt, &schemaRaw, &inheritsRaw,
			&conversionsRaw, &provenanceRaw, &decRange, &txRange); err != nil {
			return nil, fmt.Errorf("postgres: scan ontology type row: %w", err)
		}
		decInterval, err := decodeRange(decRange)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode decision_time: %w", err)
		}
		txInterval, err := decodeRange(txRange)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode transaction_time: %w", err)
		}

		url := identifier.VersionedUrl{
			BaseUrl: identifier.BaseUrl(baseUrl),
			Version: identifier.OntologyTypeVersion{Major: major, PreRelease: preRelease},
		}

		var schema map[string]any
		if err := json.Unmarshal(schemaRaw, &schema); err != nil {
			return nil, fmt.Errorf("postgres: decode ontology schema: %w", err)
		}
		var inherits inheritsWire
		if err := json.Unmarshal(inheritsRaw, &inherits); err != nil {
			return nil, fmt.Errorf("postgres: decode inherits_from: %w", err)
		}
		inheritsFrom := make([]identifier.VersionedUrl, 0, len(inherits))
		for _, raw := range inherits {
			parsed, err := identifier.ParseVersionedUrl(raw)
			if err != nil {
				return nil, fmt.Errorf("postgres: parse inherited url %q: %w", raw, err)
			}
			inheritsFrom = append(inheritsFrom, parsed)
		}
		conversions, err := decodeConversions(conversionsRaw)
		if err != nil {
			return nil, err
		}
		provenance, err := decodeProvenance(provenanceRaw)
		if err != nil {
			return nil, err
		}

		out = append(out, datastore.OntologyTypeRecord{
			Kind:         datastore.OntologyTypeKind(kindInt),
			Url:          url,
			Schema:       schema,
			InheritsFrom: inheritsFrom,
			Conversions:  conversions,
			Provenance:   provenance,
			Axes: temporal.Axes{
				DecisionTime:    decInterval,
				TransactionTime: txInterval,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ontology types: %w", err)
	}
	return out, nil
}

// ResolveInheritance implements datastore.OntologyStore by walking
// InheritsFrom breadth-first. This engine does not reject inheritance
// cycles at insert time; the visited set skips a type already reached, so
// a cycle ends the walk instead of looping.
func (s *Store) ResolveInheritance(ctx context.Context, url identifier.VersionedUrl) ([]datastore.OntologyTypeRecord, error) {
	root, err := s.GetOntologyType(ctx, url)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{url.String(): true}
	out := []datastore.OntologyTypeRecord{root}
	frontier := root.InheritsFrom

	for len(frontier) > 0 {
		var next []identifier.VersionedUrl
		for _, parentUrl := range frontier {
			if visited[parentUrl.String()] {
				continue
			}
			visited[parentUrl.String()] = true
			parent, err := s.GetOntologyType(ctx, parentUrl)
			if err != nil {
				return nil, grapherr.Wrap("resolve_inheritance", err)
			}
			out = append(out, parent)
			next = append(next, parent.InheritsFrom...)
		}
		frontier = next
	}
	return out, nil
}
