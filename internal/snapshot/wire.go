// Package snapshot implements the NDJSON dump/restore format described in
// spec §4.I and §6.2: a newline-delimited stream of JSON records,
// discriminated by a top-level "type" field, with exactly one "snapshot"
// header record per stream.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
	"github.com/authzed/hashgraph/pkg/typesystem"
)

// moduleVersionsWire carries the blockProtocolModuleVersions.graph field a
// snapshot header must report (spec §6.2); Restore rejects a stream whose
// version isn't datastore.SupportedGraphModuleVersion.
type moduleVersionsWire struct {
	Graph string `json:"graph"`
}

type headerWire struct {
	Type                        string             `json:"type"`
	BlockProtocolModuleVersions moduleVersionsWire `json:"blockProtocolModuleVersions"`
}

func encodeHeader() ([]byte, error) {
	data, err := json.Marshal(headerWire{
		Type:                        string(datastore.RecordSnapshot),
		BlockProtocolModuleVersions: moduleVersionsWire{Graph: datastore.SupportedGraphModuleVersion},
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode header: %w", err)
	}
	return data, nil
}

// decodeHeader returns the reported graph module version.
func decodeHeader(data []byte) (string, error) {
	var wire headerWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return "", fmt.Errorf("snapshot: decode header: %w", err)
	}
	return wire.BlockProtocolModuleVersions.Graph, nil
}

// entityIdWire is identifier.EntityId with lowerCamelCase wire names; its
// component types (WebId, EntityUuid, DraftId) already implement
// encoding.TextMarshaler, so each field round-trips through a plain string.
type entityIdWire struct {
	WebId      identifier.WebId      `json:"webId"`
	EntityUuid identifier.EntityUuid `json:"entityUuid"`
	DraftId    *identifier.DraftId   `json:"draftId,omitempty"`
}

func encodeEntityId(id identifier.EntityId) entityIdWire {
	return entityIdWire{WebId: id.WebId, EntityUuid: id.EntityUuid, DraftId: id.DraftId}
}

func (w entityIdWire) decode() identifier.EntityId {
	return identifier.EntityId{WebId: w.WebId, EntityUuid: w.EntityUuid, DraftId: w.DraftId}
}

// linkDataWire flattens property.LinkData's two endpoints into plain
// entityIdWire values; everything else on LinkData is already directly
// JSON-marshalable.
type linkDataWire struct {
	LeftEntityId    entityIdWire           `json:"leftEntityId"`
	RightEntityId   entityIdWire           `json:"rightEntityId"`
	LeftConfidence  *float64               `json:"leftConfidence,omitempty"`
	RightConfidence *float64               `json:"rightConfidence,omitempty"`
	LeftProvenance  property.ValueProvenance `json:"leftProvenance,omitempty"`
	RightProvenance property.ValueProvenance `json:"rightProvenance,omitempty"`
}

func encodeLinkData(l *property.LinkData) *linkDataWire {
	if l == nil {
		return nil
	}
	return &linkDataWire{
		LeftEntityId:    encodeEntityId(l.LeftEntityId),
		RightEntityId:   encodeEntityId(l.RightEntityId),
		LeftConfidence:  l.LeftConfidence,
		RightConfidence: l.RightConfidence,
		LeftProvenance:  l.LeftProvenance,
		RightProvenance: l.RightProvenance,
	}
}

func (w *linkDataWire) decode() *property.LinkData {
	if w == nil {
		return nil
	}
	return &property.LinkData{
		LeftEntityId:    w.LeftEntityId.decode(),
		RightEntityId:   w.RightEntityId.decode(),
		LeftConfidence:  w.LeftConfidence,
		RightConfidence: w.RightConfidence,
		LeftProvenance:  w.LeftProvenance,
		RightProvenance: w.RightProvenance,
	}
}

// versionedUrlWire carries identifier.VersionedUrl as its three components
// rather than the single "<baseUrl>v/<version>" string form, so a restore
// reader doesn't have to re-parse it.
type versionedUrlWire struct {
	BaseUrl    string  `json:"baseUrl"`
	Version    uint32  `json:"version"`
	PreRelease *string `json:"preRelease,omitempty"`
}

func encodeVersionedUrl(u identifier.VersionedUrl) versionedUrlWire {
	return versionedUrlWire{BaseUrl: string(u.BaseUrl), Version: u.Version.Major, PreRelease: u.Version.PreRelease}
}

func (w versionedUrlWire) decode() identifier.VersionedUrl {
	return identifier.VersionedUrl{
		BaseUrl: identifier.BaseUrl(w.BaseUrl),
		Version: identifier.OntologyTypeVersion{Major: w.Version, PreRelease: w.PreRelease},
	}
}

// entityWire is the on-wire shape of a RecordEntity record.
type entityWire struct {
	Type       string             `json:"type"`
	EntityId   entityIdWire       `json:"entityId"`
	Properties property.Object    `json:"properties"`
	TypeIds    []versionedUrlWire `json:"entityTypeIds"`
	LinkData   *linkDataWire      `json:"linkData,omitempty"`
	Archived   bool               `json:"archived"`
	Provenance property.EditionProvenance `json:"provenance"`
}

func encodeEntity(row datastore.EntityRow) ([]byte, error) {
	typeIds := make([]versionedUrlWire, 0, len(row.Edition.TypeIds))
	for _, id := range row.Edition.TypeIds {
		typeIds = append(typeIds, encodeVersionedUrl(id))
	}
	data, err := json.Marshal(entityWire{
		Type:       string(datastore.RecordEntity),
		EntityId:   encodeEntityId(row.Id),
		Properties: row.Edition.Properties,
		TypeIds:    typeIds,
		LinkData:   encodeLinkData(row.Edition.LinkData),
		Archived:   row.Edition.Archived,
		Provenance: row.Edition.Provenance,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode entity: %w", err)
	}
	return data, nil
}

// decodeEntity returns the fields create_entity needs; the edition id and
// temporal axes are assigned fresh by the destination store; they are not
// part of the logical entity state a restore reproduces (spec §8 property 5
// talks about "observable state", not edition identifiers).
func decodeEntity(data []byte) (datastore.CreateEntityParams, error) {
	var wire entityWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return datastore.CreateEntityParams{}, fmt.Errorf("snapshot: decode entity: %w", err)
	}
	typeIds := make([]identifier.VersionedUrl, 0, len(wire.TypeIds))
	for _, t := range wire.TypeIds {
		typeIds = append(typeIds, t.decode())
	}
	entityUuid := wire.EntityId.EntityUuid
	return datastore.CreateEntityParams{
		WebId:      wire.EntityId.WebId,
		EntityUuid: &entityUuid,
		Draft:      wire.EntityId.DraftId != nil,
		Properties: wire.Properties,
		TypeIds:    typeIds,
		LinkData:   wire.LinkData.decode(),
		Provenance: wire.Provenance,
	}, nil
}

// conversionWire flattens one typesystem.Conversions entry; see
// internal/datastore/postgres's conversionEntryWire for the same rationale
// (ConversionKey has no TextMarshaler, so the map can't serialize directly).
type conversionWire struct {
	From string                `json:"from"`
	To   string                `json:"to"`
	Conv typesystem.Conversion `json:"conversion"`
}

func encodeConversions(conversions typesystem.Conversions) []conversionWire {
	wire := make([]conversionWire, 0, len(conversions))
	for key, conv := range conversions {
		wire = append(wire, conversionWire{From: key.From, To: key.To, Conv: conv})
	}
	return wire
}

func decodeConversions(wire []conversionWire) typesystem.Conversions {
	out := make(typesystem.Conversions, len(wire))
	for _, entry := range wire {
		out[typesystem.ConversionKey{From: entry.From, To: entry.To}] = entry.Conv
	}
	return out
}

// ontologyWire is the on-wire shape shared by dataType, propertyType, and
// entityType records; Type carries which kind this particular line is.
type ontologyWire struct {
	Type         string           `json:"type"`
	BaseUrl      string           `json:"baseUrl"`
	Version      uint32           `json:"version"`
	PreRelease   *string          `json:"preRelease,omitempty"`
	Schema       map[string]any   `json:"schema"`
	InheritsFrom []versionedUrlWire `json:"inheritsFrom,omitempty"`
	Conversions  []conversionWire `json:"conversions,omitempty"`
	Provenance   property.EditionProvenance `json:"provenance"`
}

func ontologyRecordType(kind datastore.OntologyTypeKind) datastore.SnapshotRecordKind {
	switch kind {
	case datastore.OntologyDataType:
		return datastore.RecordDataType
	case datastore.OntologyPropertyType:
		return datastore.RecordPropertyType
	default:
		return datastore.RecordEntityType
	}
}

func encodeOntologyType(record datastore.OntologyTypeRecord) ([]byte, error) {
	inheritsFrom := make([]versionedUrlWire, 0, len(record.InheritsFrom))
	for _, u := range record.InheritsFrom {
		inheritsFrom = append(inheritsFrom, encodeVersionedUrl(u))
	}
	data, err := json.Marshal(ontologyWire{
		Type:         string(ontologyRecordType(record.Kind)),
		BaseUrl:      string(record.Url.BaseUrl),
		Version:      record.Url.Version.Major,
		PreRelease:   record.Url.Version.PreRelease,
		Schema:       record.Schema,
		InheritsFrom: inheritsFrom,
		Conversions:  encodeConversions(record.Conversions),
		Provenance:   record.Provenance,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode ontology type: %w", err)
	}
	return data, nil
}

func decodeOntologyType(kind datastore.OntologyTypeKind, data []byte) (datastore.CreateOntologyTypeParams, error) {
	var wire ontologyWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return datastore.CreateOntologyTypeParams{}, fmt.Errorf("snapshot: decode ontology type: %w", err)
	}
	inheritsFrom := make([]identifier.VersionedUrl, 0, len(wire.InheritsFrom))
	for _, u := range wire.InheritsFrom {
		inheritsFrom = append(inheritsFrom, u.decode())
	}
	return datastore.CreateOntologyTypeParams{
		Record: datastore.OntologyTypeRecord{
			Kind: kind,
			Url: identifier.VersionedUrl{
				BaseUrl: identifier.BaseUrl(wire.BaseUrl),
				Version: identifier.OntologyTypeVersion{Major: wire.Version, PreRelease: wire.PreRelease},
			},
			Schema:       wire.Schema,
			InheritsFrom: inheritsFrom,
			Conversions:  decodeConversions(wire.Conversions),
			Provenance:   wire.Provenance,
		},
		// ConflictFail: a restore that finds a base_url/version already
		// present in the destination is a genuine uniqueness violation
		// (spec §4.I "Violations map to ... AlreadyExists (unique)"), not
		// something to silently skip.
		Conflict: datastore.ConflictFail,
	}, nil
}
