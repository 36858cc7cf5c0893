package event

import (
	"encoding/json"
	"fmt"

	"github.com/chronik/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Codec converts between stored envelopes and current-schema event
// instances. Decoding is the read-path integration point invoked once per
// event: an exact current-tag match constructs the event directly with zero
// chain lookups (the dominant case on a live system); anything else goes
// through the pre-compiled upcaster chain.
type Codec struct {
	registry *Registry
	logger   *zap.Logger
}

// NewCodec creates a codec over a built registry
func NewCodec(registry *Registry, logger *zap.Logger) *Codec {
	return &Codec{
		registry: registry,
		logger:   logger,
	}
}

// Decode constructs a current-schema event instance from a stored envelope.
// The envelope itself is never modified: its type tag and payload keep
// recording what was actually stored.
func (c *Codec) Decode(env Envelope) (shared.EventInstance, error) {
	if err := env.VerifyChecksum(); err != nil {
		return nil, err
	}

	if ctor, ok := c.registry.CurrentConstructor(env.TypeTag); ok {
		return unmarshalInto(ctor, env.Payload)
	}

	chain, ctor, currentTag, ok := c.registry.Resolve(env.TypeTag)
	if !ok {
		return nil, fmt.Errorf("%w: type tag %q at position %d",
			shared.ErrSchemaResolution, env.TypeTag, env.StreamPosition)
	}

	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode stored payload for %s: %w", env.TypeTag, err)
	}

	upcast, err := chain.Apply(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to upcast %s: %w", env.TypeTag, err)
	}
	// The constructed instance is the current shape and reports the current
	// tag; the stored tag stays on the envelope.
	upcast["type_tag"] = currentTag

	transformed, err := json.Marshal(upcast)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode upcast payload for %s: %w", env.TypeTag, err)
	}

	if c.logger != nil {
		c.logger.Debug("upcast stored event",
			zap.String("stored_tag", env.TypeTag),
			zap.String("current_tag", currentTag),
			zap.Int("chain_length", len(chain)),
		)
	}

	return unmarshalInto(ctor, transformed)
}

// Encode builds a stream envelope for a pending event instance. The global
// position is assigned by the store on append.
func (c *Codec) Encode(evt shared.EventInstance, streamPosition int) (Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode event %s: %w", evt.TypeTag(), err)
	}
	return Envelope{
		TypeTag:        evt.TypeTag(),
		Payload:        payload,
		StreamPosition: streamPosition,
		WriteTimestamp: evt.OccurredAt(),
		Checksum:       PayloadChecksum(payload),
	}, nil
}

func unmarshalInto(ctor Constructor, payload []byte) (shared.EventInstance, error) {
	instance := ctor()
	if err := json.Unmarshal(payload, instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return instance, nil
}
