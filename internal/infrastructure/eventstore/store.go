package eventstore

import (
	"context"
	"time"

	"github.com/chronik/backend/internal/infrastructure/event"
	"github.com/google/uuid"
)

// Snapshot is a stored full-state capture of one aggregate instance at a
// known version. Snapshots are write-once, read-many: consumed only as a
// replay starting point, never mutated, superseded by newer writes.
type Snapshot struct {
	AggregateID uuid.UUID `json:"aggregate_id"`
	// Version is the aggregate version at capture time.
	Version int `json:"version"`
	// Position is the stream position of the last envelope folded into the
	// capture. It differs from Version when fact events are interleaved and
	// is what replay resumes from.
	Position  int       `json:"position"`
	State     []byte    `json:"state"`
	WrittenAt time.Time `json:"written_at"`
}

// Store is the narrow event-store surface the reconstruction engine
// consumes. The raw append/read primitives of the log are assumed given;
// adapters only bridge them to concrete storage.
type Store interface {
	// ReadEvents returns an ordered batch of envelopes from a stream,
	// starting at fromPosition (inclusive), at most limit entries.
	ReadEvents(ctx context.Context, streamID string, fromPosition, limit int) ([]event.Envelope, error)

	// Append writes envelopes to a stream. expectedPosition is the position
	// of the last envelope the writer observed (-1 for a fresh stream); a
	// mismatch returns shared.ErrConcurrencyConflict and writes nothing.
	Append(ctx context.Context, streamID string, expectedPosition int, envelopes []event.Envelope) error

	// ReadSnapshot returns the latest snapshot for a snapshot stream, or
	// (nil, nil) when none exists.
	ReadSnapshot(ctx context.Context, streamID string) (*Snapshot, error)

	// AppendSnapshot stores a snapshot, superseding any previous one on the
	// same stream. Concurrent writes are last-writer-wins and idempotent.
	AppendSnapshot(ctx context.Context, streamID string, snapshot Snapshot) error

	// StreamsInCategory lists the instance streams of one aggregate
	// category (snapshot streams excluded).
	StreamsInCategory(ctx context.Context, category string) ([]string, error)
}

// StreamID returns the per-instance event stream name for an aggregate
func StreamID(category string, id uuid.UUID) string {
	return category + "-" + id.String()
}

// SnapshotStreamID returns the dedicated snapshot stream name, sharing the
// deterministic "{category}:snapshot-{identifier}" convention
func SnapshotStreamID(category string, id uuid.UUID) string {
	return category + ":snapshot-" + id.String()
}
