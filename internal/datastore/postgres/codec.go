package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"

	"github.com/authzed/hashgraph/pkg/grapherr"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
	"github.com/authzed/hashgraph/pkg/temporal"
)

// postgres SQLSTATE codes this store distinguishes; see
// https://www.postgresql.org/docs/current/errcodes-appendix.html.
const (
	sqlstateUniqueViolation     = "23505"
	sqlstateForeignKeyViolation = "23503"
)

// mapPgError translates a constraint-violation error raised by the
// database into the matching grapherr kind, for operations whose
// application-level existence checks can still lose a race to a
// concurrent writer. Any other error (including nil) passes through
// wrapped with op/entity context only.
func mapPgError(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateUniqueViolation:
			return grapherr.New(grapherr.Uniqueness, op, err).WithEntity(entity)
		case sqlstateForeignKeyViolation:
			return grapherr.New(grapherr.Referential, op, err).WithEntity(entity)
		}
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// encodeRange converts a half-open temporal.Interval to the pgtype value
// pgx encodes as a tstzrange query argument. The lower bound is always
// inclusive (temporal.Interval never expresses otherwise); the upper bound
// is exclusive unless the interval is open, matching this store's
// [lower,upper) convention everywhere else in the schema.
func encodeRange(iv temporal.Interval) pgtype.Tstzrange {
	r := pgtype.Tstzrange{
		Lower:     pgtype.Timestamptz{Time: iv.Lower.Instant, Status: pgtype.Present},
		LowerType: pgtype.Inclusive,
		Status:    pgtype.Present,
	}
	if iv.Upper.Unbounded {
		r.Upper = pgtype.Timestamptz{Status: pgtype.Null}
		r.UpperType = pgtype.Unbounded
	} else {
		r.Upper = pgtype.Timestamptz{Time: iv.Upper.Instant, Status: pgtype.Present}
		r.UpperType = pgtype.Exclusive
	}
	return r
}

// decodeRange is encodeRange's inverse, used to scan a tstzrange column
// straight into temporal.Interval without the lower()/upper() SQL
// round trip.
func decodeRange(r pgtype.Tstzrange) (temporal.Interval, error) {
	if r.Status != pgtype.Present {
		return temporal.Interval{}, fmt.Errorf("decode tstzrange: status %v", r.Status)
	}
	if r.Lower.Status != pgtype.Present {
		return temporal.Interval{}, fmt.Errorf("decode tstzrange: missing lower bound")
	}
	if r.UpperType == pgtype.Unbounded || r.Upper.Status != pgtype.Present {
		return temporal.OpenAt(r.Lower.Time), nil
	}
	iv, err := temporal.NewInterval(r.Lower.Time, temporal.Exclusive(r.Upper.Time))
	if err != nil {
		// lower == upper cannot occur for a row this engine wrote; fall back
		// to an open interval rather than propagating a decode error for a
		// row shape the writer path never produces.
		return temporal.OpenAt(r.Lower.Time), nil
	}
	return iv, nil
}

// provenanceWire is the JSONB shape stored in entity_editions.provenance and
// ontology_types.provenance. It is deliberately flat rather than a direct
// encoding of property.EditionProvenance: internal/query's compiler already
// reads ed.provenance->>'createdById' (compilePath, PathRecordCreatedById),
// so the on-disk column must carry createdById at the top level rather than
// nested under a createdBy object.
type provenanceWire struct {
	CreatedById   string  `json:"createdById"`
	CreatedByType string  `json:"createdByType"`
	OriginType    string  `json:"originType,omitempty"`
	OriginId      string  `json:"originId,omitempty"`
	Sources       []wireSource `json:"sources,omitempty"`
	DeletedAt     *string `json:"deletedAt,omitempty"`
	DeletedById   *string `json:"deletedById,omitempty"`
	DeletedByType *string `json:"deletedByType,omitempty"`
}

type wireSource struct {
	Type     string `json:"type"`
	Location string `json:"location"`
}

func encodeProvenance(p property.EditionProvenance) ([]byte, error) {
	wire := provenanceWire{
		CreatedById:   p.CreatedBy.Id.String(),
		CreatedByType: actorTypeWire(p.CreatedBy.Type),
		OriginType:    p.Origin.Type,
		OriginId:      p.Origin.Id,
	}
	for _, s := range p.Sources {
		wire.Sources = append(wire.Sources, wireSource{Type: s.Type, Location: s.Location})
	}
	if p.Deletion != nil {
		deletedAt := p.Deletion.DeletedAt.Format(rfc3339Nano)
		deletedById := p.Deletion.DeletedBy.Id.String()
		deletedByType := actorTypeWire(p.Deletion.DeletedBy.Type)
		wire.DeletedAt = &deletedAt
		wire.DeletedById = &deletedById
		wire.DeletedByType = &deletedByType
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode provenance: %w", err)
	}
	return data, nil
}

func decodeProvenance(data []byte) (property.EditionProvenance, error) {
	var wire provenanceWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return property.EditionProvenance{}, fmt.Errorf("postgres: decode provenance: %w", err)
	}
	createdById, err := identifier.ParseEntityUuid(wire.CreatedById)
	if err != nil {
		return property.EditionProvenance{}, fmt.Errorf("postgres: decode provenance created-by: %w", err)
	}
	out := property.EditionProvenance{
		CreatedBy: property.Actor{Id: createdById, Type: actorTypeFromWire(wire.CreatedByType)},
		Origin:    property.Origin{Type: wire.OriginType, Id: wire.OriginId},
	}
	for _, s := range wire.Sources {
		out.Sources = append(out.Sources, property.Source{Type: s.Type, Location: s.Location})
	}
	if wire.DeletedAt != nil {
		deletedAt, err := parseRFC3339Nano(*wire.DeletedAt)
		if err != nil {
			return property.EditionProvenance{}, fmt.Errorf("postgres: decode deletion stamp: %w", err)
		}
		deletedById, err := identifier.ParseEntityUuid(valueOr(wire.DeletedById, ""))
		if err != nil {
			return property.EditionProvenance{}, fmt.Errorf("postgres: decode deletion actor: %w", err)
		}
		out.Deletion = &property.Deletion{
			DeletedAt: deletedAt,
			DeletedBy: property.Actor{Id: deletedById, Type: actorTypeFromWire(valueOr(wire.DeletedByType, ""))},
		}
	}
	return out, nil
}

func actorTypeWire(t property.ActorType) string {
	switch t {
	case property.ActorMachine:
		return "machine"
	case property.ActorAI:
		return "ai"
	default:
		return "user"
	}
}

func actorTypeFromWire(s string) property.ActorType {
	switch s {
	case "machine":
		return property.ActorMachine
	case "ai":
		return property.ActorAI
	default:
		return property.ActorUser
	}
}

func valueOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// encodeProperties/decodeProperties round-trip property.Object through the
// entity_editions.properties JSONB column. Object's underlying shape (a map
// keyed by a string-kinded BaseUrl, whose Value variants recurse through
// exported fields) is already directly marshalable via encoding/json
// reflection, so no wire struct is needed here, unlike provenance.
func encodeProperties(obj property.Object) ([]byte, error) {
	if obj == nil {
		obj = property.Object{}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode properties: %w", err)
	}
	return data, nil
}

func decodeProperties(data []byte) (property.Object, error) {
	var obj property.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("postgres: decode properties: %w", err)
	}
	return obj, nil
}

type typeIdWire struct {
	BaseUrl string `json:"baseUrl"`
	Major   uint32 `json:"major"`
	Pre     *string `json:"pre,omitempty"`
}

func encodeTypeIds(ids []identifier.VersionedUrl) ([]byte, error) {
	wire := make([]typeIdWire, 0, len(ids))
	for _, id := range ids {
		wire = append(wire, typeIdWire{BaseUrl: string(id.BaseUrl), Major: id.Version.Major, Pre: id.Version.PreRelease})
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode type ids: %w", err)
	}
	return data, nil
}

func decodeTypeIds(data []byte) ([]identifier.VersionedUrl, error) {
	var wire []typeIdWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("postgres: decode type ids: %w", err)
	}
	out := make([]identifier.VersionedUrl, 0, len(wire))
	for _, w := range wire {
		out = append(out, identifier.VersionedUrl{
			BaseUrl: identifier.BaseUrl(w.BaseUrl),
			Version: identifier.OntologyTypeVersion{Major: w.Major, PreRelease: w.Pre},
		})
	}
	return out, nil
}

type linkDataWire struct {
	LeftWebId       string   `json:"leftWebId"`
	LeftEntityUuid  string   `json:"leftEntityUuid"`
	RightWebId      string   `json:"rightWebId"`
	RightEntityUuid string   `json:"rightEntityUuid"`
	LeftConfidence  *float64 `json:"leftConfidence,omitempty"`
	RightConfidence *float64 `json:"rightConfidence,omitempty"`
	LeftProvenance  []byte
	RightProvenance []byte
}

func encodeLinkEndpoints(l property.LinkData) (wire linkDataWire, err error) {
	leftProvenance, err := encodeValueProvenance(l.LeftProvenance)
	if err != nil {
		return linkDataWire{}, err
	}
	rightProvenance, err := encodeValueProvenance(l.RightProvenance)
	if err != nil {
		return linkDataWire{}, err
	}
	return linkDataWire{
		LeftWebId:       l.LeftEntityId.WebId.String(),
		LeftEntityUuid:  l.LeftEntityId.EntityUuid.String(),
		RightWebId:      l.RightEntityId.WebId.String(),
		RightEntityUuid: l.RightEntityId.EntityUuid.String(),
		LeftConfidence:  l.LeftConfidence,
		RightConfidence: l.RightConfidence,
		LeftProvenance:  leftProvenance,
		RightProvenance: rightProvenance,
	}, nil
}

func encodeValueProvenance(p property.ValueProvenance) ([]byte, error) {
	wire := make([]wireSource, 0, len(p.Sources))
	for _, s := range p.Sources {
		wire = append(wire, wireSource{Type: s.Type, Location: s.Location})
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode value provenance: %w", err)
	}
	return data, nil
}

func decodeValueProvenance(data []byte) (property.ValueProvenance, error) {
	var wire []wireSource
	if err := json.Unmarshal(data, &wire); err != nil {
		return property.ValueProvenance{}, fmt.Errorf("postgres: decode value provenance: %w", err)
	}
	out := property.ValueProvenance{Sources: make([]property.Source, 0, len(wire))}
	for _, s := range wire {
		out.Sources = append(out.Sources, property.Source{Type: s.Type, Location: s.Location})
	}
	return out, nil
}

const rfc3339Nano = time.RFC3339Nano

func parseRFC3339Nano(s string) (time.Time, error) {
	return time.Parse(rfc3339Nano, s)
}
