package datastore

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/pkg/identifier"
	"github.com/authzed/hashgraph/pkg/property"
)

// bootstrapDocument is the YAML seed format NewDatastore's bootstrap
// options load: a small, hand-authorable declaration of ontology types and
// entities to preload at startup, distinct from the NDJSON wire format
// internal/snapshot speaks for full dump/restore transfers.
type bootstrapDocument struct {
	DataTypes     []bootstrapOntologyType `yaml:"dataTypes"`
	PropertyTypes []bootstrapOntologyType `yaml:"propertyTypes"`
	EntityTypes   []bootstrapOntologyType `yaml:"entityTypes"`
	Entities      []bootstrapEntity       `yaml:"entities"`
}

type bootstrapOntologyType struct {
	BaseUrl string         `yaml:"baseUrl"`
	Version uint32         `yaml:"version"`
	Schema  map[string]any `yaml:"schema"`
}

type bootstrapEntity struct {
	WebId      string            `yaml:"webId,omitempty"`
	TypeIds    []string          `yaml:"typeIds"`
	Properties map[string]string `yaml:"properties"`
}

// loadBootstrap parses contents as a bootstrapDocument and applies it to
// ds. Ontology type collisions are skipped rather than failing, so the
// same bootstrap document can be applied to an already-seeded store
// without error; this is the one place in the codebase that uses
// ConflictSkip, deliberately looser than internal/snapshot's restore path.
func loadBootstrap(ctx context.Context, ds *Datastore, name string, contents []byte) error {
	var doc bootstrapDocument
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return fmt.Errorf("datastore: parse bootstrap document %q: %w", name, err)
	}

	for _, kind := range []struct {
		kind  datastore.OntologyTypeKind
		types []bootstrapOntologyType
	}{
		{datastore.OntologyDataType, doc.DataTypes},
		{datastore.OntologyPropertyType, doc.PropertyTypes},
		{datastore.OntologyEntityType, doc.EntityTypes},
	} {
		for _, t := range kind.types {
			url := identifier.VersionedUrl{
				BaseUrl: identifier.BaseUrl(t.BaseUrl),
				Version: identifier.OntologyTypeVersion{Major: t.Version},
			}
			_, err := ds.Ontology.CreateOntologyType(ctx, datastore.CreateOntologyTypeParams{
				Record:   datastore.OntologyTypeRecord{Kind: kind.kind, Url: url, Schema: t.Schema},
				Conflict: datastore.ConflictSkip,
			})
			if err != nil {
				return fmt.Errorf("datastore: bootstrap %q: create ontology type %s: %w", name, t.BaseUrl, err)
			}
		}
	}

	for _, e := range doc.Entities {
		typeIds := make([]identifier.VersionedUrl, 0, len(e.TypeIds))
		for _, raw := range e.TypeIds {
			url, err := identifier.ParseVersionedUrl(raw)
			if err != nil {
				return fmt.Errorf("datastore: bootstrap %q: parse entity type id %q: %w", name, raw, err)
			}
			typeIds = append(typeIds, url)
		}

		webId := identifier.NewWebId()
		if e.WebId != "" {
			if err := webId.UnmarshalText([]byte(e.WebId)); err != nil {
				return fmt.Errorf("datastore: bootstrap %q: parse webId %q: %w", name, e.WebId, err)
			}
		}

		properties := make(property.Object, len(e.Properties))
		for baseUrl, scalar := range e.Properties {
			properties[identifier.BaseUrl(baseUrl)] = property.Value{Scalar: scalar}
		}

		if _, err := ds.Entities.CreateEntity(ctx, datastore.CreateEntityParams{
			WebId:      webId,
			TypeIds:    typeIds,
			Properties: properties,
		}); err != nil {
			return fmt.Errorf("datastore: bootstrap %q: create entity: %w", name, err)
		}
	}

	return nil
}
