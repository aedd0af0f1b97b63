package temporal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/authzed/hashgraph/pkg/identifier"
)

// Cursor pins the four columns that realize a stable sort order over
// entity query results: (revision_id DESC, entity_uuid ASC, draft_id ASC
// NULLS FIRST, web_id ASC), per spec §4.E step 3 and §6.4.
//
// Cursors are opaque to callers; Cursor.Encode/DecodeCursor round-trip them
// through a stable base64 wire form, stable across compatible graph
// versions.
type Cursor struct {
	RevisionId time.Time
	EntityUuid identifier.EntityUuid
	DraftId    *identifier.DraftId
	WebId      identifier.WebId
}

type cursorWire struct {
	RevisionId int64   `json:"r"`
	EntityUuid string  `json:"e"`
	DraftId    *string `json:"d,omitempty"`
	WebId      string  `json:"w"`
}

// Encode renders the cursor as an opaque base64 string suitable for
// returning to callers.
func (c Cursor) Encode() string {
	wire := cursorWire{
		RevisionId: c.RevisionId.UnixNano(),
		EntityUuid: c.EntityUuid.String(),
		WebId:      c.WebId.String(),
	}
	if c.DraftId != nil {
		s := c.DraftId.String()
		wire.DraftId = &s
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		// cursorWire is entirely primitive fields; marshaling cannot fail.
		panic(fmt.Sprintf("temporal: cursor marshal: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor previously produced by Cursor.Encode.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("temporal: decode cursor: %w", err)
	}
	var wire cursorWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Cursor{}, fmt.Errorf("temporal: decode cursor: %w", err)
	}

	entityUuid, err := identifier.ParseEntityUuid(wire.EntityUuid)
	if err != nil {
		return Cursor{}, fmt.Errorf("temporal: decode cursor: %w", err)
	}
	webId, err := identifier.ParseWebId(wire.WebId)
	if err != nil {
		return Cursor{}, fmt.Errorf("temporal: decode cursor: %w", err)
	}

	cursor := Cursor{
		RevisionId: time.Unix(0, wire.RevisionId).UTC(),
		EntityUuid: entityUuid,
		WebId:      webId,
	}
	if wire.DraftId != nil {
		draftId, err := identifier.ParseDraftId(*wire.DraftId)
		if err != nil {
			return Cursor{}, fmt.Errorf("temporal: decode cursor: %w", err)
		}
		cursor.DraftId = &draftId
	}
	return cursor, nil
}

// Less implements the cursor sort order: revision_id DESC, entity_uuid ASC,
// draft_id ASC NULLS FIRST, web_id ASC. It reports whether c sorts strictly
// before o.
func (c Cursor) Less(o Cursor) bool {
	if !c.RevisionId.Equal(o.RevisionId) {
		return c.RevisionId.After(o.RevisionId) // DESC
	}
	if c.EntityUuid != o.EntityUuid {
		return c.EntityUuid.String() < o.EntityUuid.String()
	}
	switch {
	case c.DraftId == nil && o.DraftId != nil:
		return true // NULLS FIRST
	case c.DraftId != nil && o.DraftId == nil:
		return false
	case c.DraftId != nil && o.DraftId != nil && *c.DraftId != *o.DraftId:
		return c.DraftId.String() < o.DraftId.String()
	}
	return c.WebId.String() < o.WebId.String()
}
