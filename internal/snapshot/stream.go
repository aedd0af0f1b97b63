package snapshot

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/authzed/hashgraph/internal/datastore"
)

type typeOnly struct {
	Type string `json:"type"`
}

// ReadStream decodes r as the NDJSON wire format (spec §6.2), sending one
// datastore.SnapshotRecord per line onto out and closing it when r is
// exhausted. A line that parses as JSON but has no readable type is
// dropped with a logged warning and the stream continues; a line that is
// not valid JSON ends the read with an error, and the lines after it are
// not read.
func ReadStream(r io.Reader, out chan<- datastore.SnapshotRecord) error {
	defer close(out)

	dec := json.NewDecoder(r)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("snapshot: read stream: %w", err)
		}

		var t typeOnly
		if err := json.Unmarshal(raw, &t); err != nil || t.Type == "" {
			log.Warn().Err(err).Msg("snapshot: dropping record with unreadable type discriminator")
			continue
		}

		out <- datastore.SnapshotRecord{Kind: datastore.SnapshotRecordKind(t.Type), Payload: raw}
	}
}

// WriteStream encodes every record received on in as one NDJSON line to w,
// returning once in closes.
func WriteStream(w io.Writer, in <-chan datastore.SnapshotRecord) error {
	enc := json.NewEncoder(w)
	for rec := range in {
		if err := enc.Encode(json.RawMessage(rec.Payload)); err != nil {
			return fmt.Errorf("snapshot: write stream: %w", err)
		}
	}
	return nil
}
