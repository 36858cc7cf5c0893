package sourcing

import (
	"context"
	"errors"
	"time"

	"github.com/chronik/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// RebuildResult summarizes one best-effort replay of a stream
type RebuildResult struct {
	StreamID    string
	Processed   int
	Applied     int
	Skipped     int
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration returns how long the rebuild ran
func (r *RebuildResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RebuildReplay walks a stream in order and feeds each decoded event to the
// given projection function. Unlike strict reconstruction, schema-resolution
// failures are tolerated here: the event is logged, counted as skipped, and
// the rebuild continues. Every other failure aborts.
func (r *Reconstructor) RebuildReplay(ctx context.Context, streamID string, apply func(shared.EventInstance) error) (*RebuildResult, error) {
	result := &RebuildResult{
		StreamID:  streamID,
		StartedAt: time.Now().UTC(),
	}

	position := 0
	for {
		select {
		case <-ctx.Done():
			result.CompletedAt = time.Now().UTC()
			return result, ctx.Err()
		default:
		}

		batch, err := r.store.ReadEvents(ctx, streamID, position, r.cfg.ReadBatchSize)
		if err != nil {
			result.CompletedAt = time.Now().UTC()
			return result, err
		}
		if len(batch) == 0 {
			result.CompletedAt = time.Now().UTC()
			if r.logger != nil {
				r.logger.Info("rebuild replay finished",
					zap.String("stream", streamID),
					zap.Int("processed", result.Processed),
					zap.Int("applied", result.Applied),
					zap.Int("skipped", result.Skipped),
					zap.Duration("took", result.Duration()),
				)
			}
			return result, nil
		}

		for _, env := range batch {
			result.Processed++
			instance, err := r.codec.Decode(env)
			if err != nil {
				if errors.Is(err, shared.ErrSchemaResolution) {
					result.Skipped++
					if r.logger != nil {
						r.logger.Warn("skipping unresolvable event during rebuild",
							zap.String("stream", streamID),
							zap.String("type_tag", env.TypeTag),
							zap.Int("position", env.StreamPosition),
						)
					}
					continue
				}
				result.CompletedAt = time.Now().UTC()
				return result, err
			}
			if err := apply(instance); err != nil {
				result.CompletedAt = time.Now().UTC()
				return result, err
			}
			result.Applied++
		}
		position = batch[len(batch)-1].StreamPosition + 1
	}
}
