package sourcing

import (
	"context"
	"fmt"
	"strings"

	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/eventstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateSnapshot writes a snapshot for one aggregate instance on explicit
// request. Unlike the automatic policy, a manual snapshot bypasses the
// threshold and always replays the entire stream from genesis first, so the
// captured state reflects the full log.
func (r *Reconstructor) CreateSnapshot(ctx context.Context, category string, id uuid.UUID) error {
	def, ok := r.engine.Definition(category)
	if !ok {
		return fmt.Errorf("%w: aggregate category %s is not registered", shared.ErrConfiguration, category)
	}

	agg := def.NewShell(id)
	streamID := eventstore.StreamID(category, id)

	if _, err := r.replay(ctx, agg, streamID, 0, replayBounds{}); err != nil {
		return err
	}
	if agg.Version() == shared.GenesisVersion {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, streamID)
	}
	agg.ResumeInvariantChecks()

	return r.writeSnapshot(ctx, agg)
}

// CreateSnapshots writes snapshots for every instance of one aggregate
// category.
func (r *Reconstructor) CreateSnapshots(ctx context.Context, category string) error {
	if _, ok := r.engine.Definition(category); !ok {
		return fmt.Errorf("%w: aggregate category %s is not registered", shared.ErrConfiguration, category)
	}

	streams, err := r.store.StreamsInCategory(ctx, category)
	if err != nil {
		return err
	}
	for _, streamID := range streams {
		id, err := instanceID(category, streamID)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping stream with unparseable identifier",
					zap.String("stream", streamID), zap.Error(err))
			}
			continue
		}
		if err := r.CreateSnapshot(ctx, category, id); err != nil {
			return fmt.Errorf("snapshot of %s failed: %w", streamID, err)
		}
	}
	return nil
}

// CreateAllSnapshots writes snapshots for every instance of every registered
// event-sourced aggregate category.
func (r *Reconstructor) CreateAllSnapshots(ctx context.Context) error {
	for _, category := range r.engine.Categories() {
		if err := r.CreateSnapshots(ctx, category); err != nil {
			return err
		}
	}
	return nil
}

// instanceID extracts the aggregate identity from an instance stream name
func instanceID(category, streamID string) (uuid.UUID, error) {
	raw := strings.TrimPrefix(streamID, category+"-")
	return uuid.Parse(raw)
}
