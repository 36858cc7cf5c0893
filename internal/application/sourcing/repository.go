package sourcing

import (
	"context"
	"fmt"

	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/event"
	"github.com/chronik/backend/internal/infrastructure/eventstore"
	"go.uber.org/zap"
)

// Repository persists pending events at the write boundary. Consistency
// across concurrent writers is enforced here via the store's optimistic
// position check; the engine guarantees the persisted version reflects
// exactly the events applied during this caller's reconstruction plus live
// mutation.
type Repository struct {
	store  eventstore.Store
	codec  *event.Codec
	cache  IdentityCache
	logger *zap.Logger
}

// NewRepository creates a repository. cache may be nil.
func NewRepository(store eventstore.Store, codec *event.Codec, cache IdentityCache, logger *zap.Logger) *Repository {
	return &Repository{
		store:  store,
		codec:  codec,
		cache:  cache,
		logger: logger,
	}
}

// Save appends the aggregate's pending events to its stream and clears them.
// A concurrent writer surfaces as shared.ErrConcurrencyConflict; retrying is
// the caller's decision.
func (r *Repository) Save(ctx context.Context, agg shared.Aggregate) error {
	if agg.IsTemporal() {
		return fmt.Errorf("%w: %s %s", shared.ErrTemporalAggregate, agg.Category(), agg.Identity())
	}
	pending := agg.PendingEvents()
	if len(pending) == 0 {
		return nil
	}

	// Each pending event advanced the position by one, so the expected head
	// is the position before the first of them.
	basePosition := agg.Position() - len(pending)

	envelopes := make([]event.Envelope, len(pending))
	for i, evt := range pending {
		env, err := r.codec.Encode(evt, basePosition+1+i)
		if err != nil {
			return err
		}
		envelopes[i] = env
	}

	streamID := eventstore.StreamID(agg.Category(), agg.Identity())
	if err := r.store.Append(ctx, streamID, basePosition, envelopes); err != nil {
		return err
	}
	agg.ClearPendingEvents()

	// Drop any cached view; the next load re-primes it.
	if r.cache != nil {
		if err := r.cache.Delete(ctx, streamID); err != nil && r.logger != nil {
			r.logger.Warn("identity cache invalidation failed",
				zap.String("stream", streamID), zap.Error(err))
		}
	}
	return nil
}
