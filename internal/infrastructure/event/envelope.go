package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Envelope pairs a serialized event payload with its tracking metadata as
// stored in the log. Envelopes are created by the write path and are
// immutable once written; the decoder preserves them untouched even when the
// payload is upcast, so audit information about what was actually stored
// survives schema evolution.
type Envelope struct {
	// TypeTag is the schema tag the payload was stored under. It may be an
	// old version; the constructed event instance is always current-schema.
	TypeTag string `json:"type_tag"`
	// Payload is the raw JSON event body as stored.
	Payload []byte `json:"payload"`
	// StreamPosition is the zero-based position within the instance stream.
	StreamPosition int `json:"stream_position"`
	// GlobalPosition is the position in the all-streams log.
	GlobalPosition int64 `json:"global_position"`
	// WriteTimestamp is when the envelope was appended.
	WriteTimestamp time.Time `json:"write_timestamp"`
	// Checksum is the hex SHA-256 of the payload bytes.
	Checksum string `json:"checksum"`
}

// PayloadChecksum computes the hex SHA-256 checksum of a payload
func PayloadChecksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum validates the stored checksum against the payload. An empty
// stored checksum is accepted for envelopes written before checksumming.
func (e *Envelope) VerifyChecksum() error {
	if e.Checksum == "" {
		return nil
	}
	if got := PayloadChecksum(e.Payload); got != e.Checksum {
		return fmt.Errorf("payload checksum mismatch at position %d: stored %s, computed %s",
			e.StreamPosition, e.Checksum, got)
	}
	return nil
}
