package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jwangsadinata/go-multimap/setmultimap"

	"github.com/authzed/hashgraph/internal/datastore"
	"github.com/authzed/hashgraph/pkg/grapherr"
	"github.com/authzed/hashgraph/pkg/identifier"
)

// OntologyStore implements datastore.OntologyStore in-process. Editions
// are keyed by VersionedUrl.String(); InheritsFrom edges are additionally
// tracked in a set-multimap so ResolveInheritance doesn't have to scan
// every record to find a type's parents.
type OntologyStore struct {
	mu       sync.RWMutex
	byUrl    map[string]datastore.OntologyTypeRecord
	inherits *setmultimap.MultiMap // child url -> parent urls
}

// NewOntologyStore constructs an empty in-memory ontology store.
func NewOntologyStore() *OntologyStore {
	return &OntologyStore{
		byUrl:    make(map[string]datastore.OntologyTypeRecord),
		inherits: setmultimap.New(),
	}
}

func (s *OntologyStore) IsReady(ctx context.Context) (bool, error) { return true, nil }
func (s *OntologyStore) Close() error                              { return nil }

// CreateOntologyType implements datastore.OntologyStore.
func (s *OntologyStore) CreateOntologyType(ctx context.Context, params datastore.CreateOntologyTypeParams) (datastore.OntologyTypeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := params.Record.Url.String()
	if _, exists := s.byUrl[key]; exists {
		switch params.Conflict {
		case datastore.ConflictSkip:
			return s.byUrl[key], nil
		default:
			return datastore.OntologyTypeRecord{}, grapherr.New(grapherr.Uniqueness, "create_ontology_type",
				fmt.Errorf("versioned url already exists")).WithEntity(key)
		}
	}

	if err := s.checkAcyclic(params.Record.Url, params.Record.InheritsFrom); err != nil {
		return datastore.OntologyTypeRecord{}, grapherr.Wrap("create_ontology_type", err)
	}

	s.byUrl[key] = params.Record
	for _, parent := range params.Record.InheritsFrom {
		s.inherits.Put(key, parent.String())
	}
	return params.Record, nil
}

// UpdateOntologyType implements datastore.OntologyStore: a new edition of
// an existing VersionedUrl base, replacing InheritsFrom edges wholesale.
func (s *OntologyStore) UpdateOntologyType(ctx context.Context, record datastore.OntologyTypeRecord) (datastore.OntologyTypeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.Url.String()
	if err := s.checkAcyclic(record.Url, record.InheritsFrom); err != nil {
		return datastore.OntologyTypeRecord{}, grapherr.Wrap("update_ontology_type", err)
	}

	s.byUrl[key] = record
	s.inherits.RemoveAll(key)
	for _, parent := range record.InheritsFrom {
		s.inherits.Put(key, parent.String())
	}
	return record, nil
}

// GetOntologyType implements datastore.OntologyStore.
func (s *OntologyStore) GetOntologyType(ctx context.Context, url identifier.VersionedUrl) (datastore.OntologyTypeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byUrl[url.String()]
	if !ok {
		return datastore.OntologyTypeRecord{}, grapherr.New(grapherr.NotFound, "get_ontology_type",
			fmt.Errorf("versioned url not found")).WithEntity(url.String())
	}
	return record, nil
}

// ResolveInheritance implements datastore.OntologyStore: a breadth-first
// walk of InheritsFrom edges, returning url's own record first followed by
// ancestors in discovery order. Cycles cannot occur here since every
// insert/update already rejected one via checkAcyclic.
func (s *OntologyStore) ResolveInheritance(ctx context.Context, url identifier.VersionedUrl) ([]datastore.OntologyTypeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.byUrl[url.String()]
	if !ok {
		return nil, grapherr.New(grapherr.NotFound, "resolve_inheritance",
			fmt.Errorf("versioned url not found")).WithEntity(url.String())
	}

	visited := map[string]bool{url.String(): true}
	queue := []string{url.String()}
	result := []datastore.OntologyTypeRecord{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		parents, _ := s.inherits.Get(current)
		for _, p := range parents {
			parentUrl := p.(string)
			if visited[parentUrl] {
				continue
			}
			visited[parentUrl] = true
			record, ok := s.byUrl[parentUrl]
			if !ok {
				return nil, grapherr.New(grapherr.Referential, "resolve_inheritance",
					fmt.Errorf("missing ontology type reference")).WithEntity(parentUrl)
			}
			result = append(result, record)
			queue = append(queue, parentUrl)
		}
	}

	return result, nil
}

// ListOntologyTypes implements datastore.OntologyStore, returning every
// record of kind sorted by VersionedUrl string so callers (the snapshot
// dumper) see a stable iteration order.
func (s *OntologyStore) ListOntologyTypes(ctx context.Context, kind datastore.OntologyTypeKind) ([]datastore.OntologyTypeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.byUrl))
	for key, record := range s.byUrl {
		if record.Kind == kind {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]datastore.OntologyTypeRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.byUrl[key])
	}
	return out, nil
}

// checkAcyclic rejects InheritsFrom edges that would close a cycle back to
// url, walking the ancestor chain the same way ResolveInheritance does
// (spec §4.G "cycles are a fatal error at insert time"). Caller holds
// s.mu.
func (s *OntologyStore) checkAcyclic(url identifier.VersionedUrl, inheritsFrom []identifier.VersionedUrl) error {
	key := url.String()
	visited := map[string]bool{key: true}
	queue := make([]string, 0, len(inheritsFrom))
	for _, parent := range inheritsFrom {
		queue = append(queue, parent.String())
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == key {
			return fmt.Errorf("inheritance cycle detected through %s", current)
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		parents, _ := s.inherits.Get(current)
		for _, p := range parents {
			queue = append(queue, p.(string))
		}
	}
	return nil
}
