package property

import (
	"errors"
	"time"

	"github.com/authzed/hashgraph/pkg/identifier"
)

// ActorType distinguishes who authored an edition.
type ActorType int

const (
	ActorUser ActorType = iota
	ActorMachine
	ActorAI
)

// Actor identifies who (or what) produced a given edition.
type Actor struct {
	Id   identifier.EntityUuid
	Type ActorType
}

// Origin records where a write originated, e.g. "api", "migration",
// "flow-execution/<id>".
type Origin struct {
	Type string
	Id   string
}

// Deletion is stamped onto an entity's provenance when its base identity
// has been purged (spec §3.3, §4.H Purge scope).
type Deletion struct {
	DeletedAt time.Time
	DeletedBy Actor
}

// EditionProvenance is the provenance recorded on an entity edition: who
// created it, where the write came from, what it drew on, and — for
// purged entities — the deletion stamp.
type EditionProvenance struct {
	CreatedBy Actor
	Origin    Origin
	Sources   []Source
	Deletion  *Deletion
}

// LinkData, when present on an entity edition, identifies the two
// endpoints of a link entity plus per-endpoint confidence/provenance
// (spec §3.3).
type LinkData struct {
	LeftEntityId     identifier.EntityId
	RightEntityId    identifier.EntityId
	LeftConfidence   *float64
	RightConfidence  *float64
	LeftProvenance   ValueProvenance
	RightProvenance  ValueProvenance
}

// Validate enforces the invariant that a link with only one resolvable
// endpoint is rejected: both endpoints must be non-zero EntityIds.
func (l LinkData) Validate() error {
	var zero identifier.EntityId
	if l.LeftEntityId == zero || l.RightEntityId == zero {
		return errLinkMissingEndpoint
	}
	return nil
}

var errLinkMissingEndpoint = errors.New("link_data: both endpoints must resolve; a link with only one endpoint is rejected")
