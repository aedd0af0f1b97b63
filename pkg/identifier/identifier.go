// Package identifier defines the stable identifiers used throughout the
// knowledge graph store: web-scoped entity identity, draft revisions,
// entity editions, and versioned ontology type URLs.
package identifier

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// WebId is the tenant boundary. Every entity lives in exactly one web.
type WebId uuid.UUID

// String implements fmt.Stringer.
func (w WebId) String() string { return uuid.UUID(w).String() }

// MarshalText implements encoding.TextMarshaler, so WebId round-trips
// through JSON (and anything else built on text marshaling) as a plain
// UUID string rather than a byte array.
func (w WebId) MarshalText() ([]byte, error) { return uuid.UUID(w).MarshalText() }

func (w *WebId) UnmarshalText(text []byte) error {
	var id uuid.UUID
	if err := id.UnmarshalText(text); err != nil {
		return err
	}
	*w = WebId(id)
	return nil
}

// NewWebId generates a fresh, random WebId.
func NewWebId() WebId { return WebId(uuid.New()) }

// ParseWebId parses s as a WebId.
func ParseWebId(s string) (WebId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return WebId{}, fmt.Errorf("identifier: parse web id %q: %w", s, err)
	}
	return WebId(id), nil
}

// EntityUuid is stable within a web; the pair (WebId, EntityUuid) is the
// base entity identity.
type EntityUuid uuid.UUID

func (e EntityUuid) String() string { return uuid.UUID(e).String() }

func (e EntityUuid) MarshalText() ([]byte, error) { return uuid.UUID(e).MarshalText() }

func (e *EntityUuid) UnmarshalText(text []byte) error {
	var id uuid.UUID
	if err := id.UnmarshalText(text); err != nil {
		return err
	}
	*e = EntityUuid(id)
	return nil
}

func NewEntityUuid() EntityUuid { return EntityUuid(uuid.New()) }

func ParseEntityUuid(s string) (EntityUuid, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return EntityUuid{}, fmt.Errorf("identifier: parse entity uuid %q: %w", s, err)
	}
	return EntityUuid(id), nil
}

// DraftId, when present, distinguishes a draft revision from the published
// timeline. The zero value is not a valid draft id; a non-nil *DraftId
// marks a draft, and nil means "published".
type DraftId uuid.UUID

func (d DraftId) String() string { return uuid.UUID(d).String() }

func (d DraftId) MarshalText() ([]byte, error) { return uuid.UUID(d).MarshalText() }

func (d *DraftId) UnmarshalText(text []byte) error {
	var id uuid.UUID
	if err := id.UnmarshalText(text); err != nil {
		return err
	}
	*d = DraftId(id)
	return nil
}

func NewDraftId() DraftId { return DraftId(uuid.New()) }

func ParseDraftId(s string) (DraftId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return DraftId{}, fmt.Errorf("identifier: parse draft id %q: %w", s, err)
	}
	return DraftId(id), nil
}

// EntityEditionId is the immutable identifier of a single historical
// edition of an entity.
type EntityEditionId uuid.UUID

func (e EntityEditionId) String() string { return uuid.UUID(e).String() }

func (e EntityEditionId) MarshalText() ([]byte, error) { return uuid.UUID(e).MarshalText() }

func (e *EntityEditionId) UnmarshalText(text []byte) error {
	var id uuid.UUID
	if err := id.UnmarshalText(text); err != nil {
		return err
	}
	*e = EntityEditionId(id)
	return nil
}

func NewEntityEditionId() EntityEditionId { return EntityEditionId(uuid.New()) }

// EntityId is the triple (WebId, EntityUuid, optional DraftId). A nil
// DraftId means the published timeline; a non-nil DraftId addresses one
// specific draft revision.
type EntityId struct {
	WebId      WebId
	EntityUuid EntityUuid
	DraftId    *DraftId
}

// IsDraft reports whether this EntityId addresses a draft revision.
func (e EntityId) IsDraft() bool { return e.DraftId != nil }

// BaseId returns the EntityId stripped of any draft qualifier, addressing
// the base entity identity shared by the published timeline and all of its
// drafts.
func (e EntityId) BaseId() EntityId {
	return EntityId{WebId: e.WebId, EntityUuid: e.EntityUuid}
}

// Equal reports whether two entity ids address the same record identity.
func (e EntityId) Equal(o EntityId) bool {
	if e.WebId != o.WebId || e.EntityUuid != o.EntityUuid {
		return false
	}
	switch {
	case e.DraftId == nil && o.DraftId == nil:
		return true
	case e.DraftId == nil || o.DraftId == nil:
		return false
	default:
		return *e.DraftId == *o.DraftId
	}
}

func (e EntityId) String() string {
	if e.DraftId == nil {
		return fmt.Sprintf("%s~%s", e.WebId, e.EntityUuid)
	}
	return fmt.Sprintf("%s~%s~%s", e.WebId, e.EntityUuid, *e.DraftId)
}

// EntityRecordId identifies one row in the temporal table: an EntityId
// together with the edition that produced it.
type EntityRecordId struct {
	EntityId  EntityId
	EditionId EntityEditionId
}

// BaseUrl is the un-versioned identity of an ontology type, e.g.
// "https://blockprotocol.org/@blockprotocol/types/property-type/name/".
type BaseUrl string

// OntologyTypeVersion is (major, pre_release?) compared lexicographically
// with major primary and a nil pre-release sorting after any non-nil one
// (a release supersedes every pre-release of the same major version).
type OntologyTypeVersion struct {
	Major      uint32
	PreRelease *string
}

// Compare returns -1, 0, or 1 per the ordering described on
// OntologyTypeVersion.
func (v OntologyTypeVersion) Compare(o OntologyTypeVersion) int {
	if v.Major != o.Major {
		if v.Major < o.Major {
			return -1
		}
		return 1
	}
	switch {
	case v.PreRelease == nil && o.PreRelease == nil:
		return 0
	case v.PreRelease == nil:
		return 1
	case o.PreRelease == nil:
		return -1
	default:
		return strings.Compare(*v.PreRelease, *o.PreRelease)
	}
}

func (v OntologyTypeVersion) String() string {
	if v.PreRelease == nil {
		return strconv.FormatUint(uint64(v.Major), 10)
	}
	return fmt.Sprintf("%d-%s", v.Major, *v.PreRelease)
}

// VersionedUrl is the identity of one ontology type revision: a BaseUrl
// paired with its OntologyTypeVersion.
type VersionedUrl struct {
	BaseUrl BaseUrl
	Version OntologyTypeVersion
}

func (v VersionedUrl) String() string {
	return fmt.Sprintf("%sv/%s", v.BaseUrl, v.Version)
}

// ParseVersionedUrl parses the canonical "<baseUrl>v/<major>[-<preRelease>]"
// form produced by String.
func ParseVersionedUrl(s string) (VersionedUrl, error) {
	idx := strings.LastIndex(s, "v/")
	if idx < 0 {
		return VersionedUrl{}, fmt.Errorf("identifier: malformed versioned url %q: missing version marker", s)
	}
	base, versionPart := s[:idx], s[idx+2:]
	major, pre, _ := strings.Cut(versionPart, "-")
	m, err := strconv.ParseUint(major, 10, 32)
	if err != nil {
		return VersionedUrl{}, fmt.Errorf("identifier: malformed versioned url %q: %w", s, err)
	}
	version := OntologyTypeVersion{Major: uint32(m)}
	if pre != "" {
		version.PreRelease = &pre
	}
	return VersionedUrl{BaseUrl: BaseUrl(base), Version: version}, nil
}
