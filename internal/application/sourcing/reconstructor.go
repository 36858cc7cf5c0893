package sourcing

import (
	"context"
	"fmt"
	"time"

	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/event"
	"github.com/chronik/backend/internal/infrastructure/eventstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultReadBatchSize = 200

// Config holds reconstruction engine settings
type Config struct {
	// SnapshotThreshold is the number of events applied since the last
	// snapshot before a standard load writes a new one. Zero disables
	// automatic snapshotting.
	SnapshotThreshold int
	// ReadBatchSize bounds each batch read from the store during replay.
	ReadBatchSize int
	// CacheTTL is how long identity-cache entries live.
	CacheTTL time.Duration
}

// Reconstructor derives aggregate state from the event log. It decides the
// cheapest valid starting point (snapshot or genesis), replays envelopes
// through the apply engine, and implements point-in-version and
// point-in-time reconstruction. One invocation is synchronous and
// single-threaded; concurrent invocations for different instances are safe.
type Reconstructor struct {
	engine *Engine
	store  eventstore.Store
	codec  *event.Codec
	cache  IdentityCache
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewReconstructor creates a reconstructor. cache may be nil.
func NewReconstructor(engine *Engine, store eventstore.Store, codec *event.Codec, cache IdentityCache, cfg Config, logger *zap.Logger) *Reconstructor {
	if cfg.ReadBatchSize <= 0 {
		cfg.ReadBatchSize = defaultReadBatchSize
	}
	return &Reconstructor{
		engine: engine,
		store:  store,
		codec:  codec,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("chronik/sourcing"),
	}
}

// Engine returns the apply engine the reconstructor dispatches through
func (r *Reconstructor) Engine() *Engine {
	return r.engine
}

// Load reconstructs the current state of an aggregate instance: identity
// cache first, then latest snapshot, then genesis, replaying whatever
// remains. A standard load may piggyback an automatic snapshot write; that
// side effect never blocks or fails the read.
func (r *Reconstructor) Load(ctx context.Context, category string, id uuid.UUID) (shared.Aggregate, error) {
	ctx, span := r.tracer.Start(ctx, "sourcing.Load", trace.WithAttributes(
		attribute.String("aggregate.category", category),
		attribute.String("aggregate.id", id.String()),
	))
	defer span.End()

	def, ok := r.engine.Definition(category)
	if !ok {
		return nil, fmt.Errorf("%w: aggregate category %s is not registered", shared.ErrConfiguration, category)
	}

	agg := def.NewShell(id)
	streamID := eventstore.StreamID(category, id)

	startPosition := 0
	primed := false
	fromCache := false

	if r.cache != nil {
		if entry, hit := r.cacheGet(ctx, streamID); hit {
			if err := r.prime(agg, entry.State, entry.Version, entry.Position); err != nil {
				return nil, err
			}
			startPosition = entry.Position + 1
			primed = true
			fromCache = true
		}
	}

	if !primed {
		snap, err := r.store.ReadSnapshot(ctx, eventstore.SnapshotStreamID(category, id))
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot for %s: %w", streamID, err)
		}
		if snap != nil {
			if err := r.prime(agg, snap.State, snap.Version, snap.Position); err != nil {
				return nil, err
			}
			startPosition = snap.Position + 1
			primed = true
		}
	}

	applied, err := r.replay(ctx, agg, streamID, startPosition, replayBounds{})
	if err != nil {
		return nil, err
	}
	if !primed && agg.Version() == shared.GenesisVersion {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, streamID)
	}
	agg.ResumeInvariantChecks()

	// Automatic snapshot policy: a side effect of reads. Cache hits are
	// skipped because the distance to the last snapshot is unknown there.
	if !fromCache && r.cfg.SnapshotThreshold > 0 && applied > r.cfg.SnapshotThreshold {
		if err := r.writeSnapshot(ctx, agg); err != nil && r.logger != nil {
			r.logger.Warn("automatic snapshot write failed",
				zap.String("stream", streamID),
				zap.Int("version", agg.Version()),
				zap.Error(err),
			)
		}
	}

	r.cacheSet(ctx, streamID, agg)
	return agg, nil
}

// LoadAtVersion reconstructs the aggregate as of a past version (0-indexed,
// inclusive). A snapshot is used only when its version does not exceed the
// requested one; the result is read-only and never touches the identity
// cache.
func (r *Reconstructor) LoadAtVersion(ctx context.Context, category string, id uuid.UUID, version int) (shared.Aggregate, error) {
	if version < 0 {
		return nil, fmt.Errorf("%w: version must be >= 0", shared.ErrInvalidInput)
	}
	ctx, span := r.tracer.Start(ctx, "sourcing.LoadAtVersion", trace.WithAttributes(
		attribute.String("aggregate.category", category),
		attribute.String("aggregate.id", id.String()),
		attribute.Int("aggregate.version", version),
	))
	defer span.End()

	def, ok := r.engine.Definition(category)
	if !ok {
		return nil, fmt.Errorf("%w: aggregate category %s is not registered", shared.ErrConfiguration, category)
	}

	agg := def.NewShell(id)
	streamID := eventstore.StreamID(category, id)

	startPosition := 0
	primed := false
	snap, err := r.store.ReadSnapshot(ctx, eventstore.SnapshotStreamID(category, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", streamID, err)
	}
	if snap != nil && snap.Version <= version {
		if err := r.prime(agg, snap.State, snap.Version, snap.Position); err != nil {
			return nil, err
		}
		startPosition = snap.Position + 1
		primed = true
	}

	if _, err := r.replay(ctx, agg, streamID, startPosition, replayBounds{maxVersion: &version}); err != nil {
		return nil, err
	}
	if !primed && agg.Version() == shared.GenesisVersion {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, streamID)
	}

	agg.ResumeInvariantChecks()
	agg.MarkTemporal()
	return agg, nil
}

// LoadAsOf reconstructs the aggregate as of a point in time, applying only
// events written at or before the timestamp. Snapshots are never used: a
// snapshot's write time does not correspond to a meaningful aggregate-state
// timestamp. The result is read-only and bypasses the identity cache.
func (r *Reconstructor) LoadAsOf(ctx context.Context, category string, id uuid.UUID, asOf time.Time) (shared.Aggregate, error) {
	if asOf.IsZero() {
		return nil, fmt.Errorf("%w: as-of timestamp must be set", shared.ErrInvalidInput)
	}
	ctx, span := r.tracer.Start(ctx, "sourcing.LoadAsOf", trace.WithAttributes(
		attribute.String("aggregate.category", category),
		attribute.String("aggregate.id", id.String()),
		attribute.String("aggregate.as_of", asOf.Format(time.RFC3339Nano)),
	))
	defer span.End()

	def, ok := r.engine.Definition(category)
	if !ok {
		return nil, fmt.Errorf("%w: aggregate category %s is not registered", shared.ErrConfiguration, category)
	}

	agg := def.NewShell(id)
	streamID := eventstore.StreamID(category, id)

	if _, err := r.replay(ctx, agg, streamID, 0, replayBounds{until: asOf}); err != nil {
		return nil, err
	}
	if agg.Version() == shared.GenesisVersion {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, streamID)
	}

	agg.ResumeInvariantChecks()
	agg.MarkTemporal()
	return agg, nil
}

// replayBounds restricts how far a replay proceeds
type replayBounds struct {
	// maxVersion stops the replay once the aggregate reaches this version.
	maxVersion *int
	// until skips events written after this timestamp; zero means no bound.
	until time.Time
}

// replay pulls envelope batches from the store and folds them into the
// aggregate in strict stream order. Decode failures are fatal here: strict
// reconstruction must never silently drop an event.
func (r *Reconstructor) replay(ctx context.Context, agg shared.Aggregate, streamID string, fromPosition int, bounds replayBounds) (int, error) {
	applied := 0
	position := fromPosition
	for {
		batch, err := r.store.ReadEvents(ctx, streamID, position, r.cfg.ReadBatchSize)
		if err != nil {
			return applied, fmt.Errorf("failed to read stream %s: %w", streamID, err)
		}
		if len(batch) == 0 {
			return applied, nil
		}
		for _, env := range batch {
			if !bounds.until.IsZero() && env.WriteTimestamp.After(bounds.until) {
				return applied, nil
			}
			instance, err := r.codec.Decode(env)
			if err != nil {
				return applied, fmt.Errorf("reconstruction of %s aborted: %w", streamID, err)
			}
			if !instance.IsFact() {
				if bounds.maxVersion != nil && agg.Version() >= *bounds.maxVersion {
					return applied, nil
				}
				if err := r.engine.ApplyReplay(agg, instance); err != nil {
					return applied, err
				}
				// Facts do not count toward the snapshot threshold.
				applied++
			}
			agg.SetPosition(env.StreamPosition)
		}
		position = batch[len(batch)-1].StreamPosition + 1
	}
}

// prime initializes a reconstitution shell from captured state
func (r *Reconstructor) prime(agg shared.Aggregate, state []byte, version, position int) error {
	if err := agg.RestoreState(state); err != nil {
		return fmt.Errorf("failed to restore %s %s: %w", agg.Category(), agg.Identity(), err)
	}
	agg.SetVersion(version)
	agg.SetPosition(position)
	return nil
}

// writeSnapshot captures full current state at the current version
func (r *Reconstructor) writeSnapshot(ctx context.Context, agg shared.Aggregate) error {
	state, err := agg.CaptureState()
	if err != nil {
		return fmt.Errorf("failed to capture state: %w", err)
	}
	snap := eventstore.Snapshot{
		AggregateID: agg.Identity(),
		Version:     agg.Version(),
		Position:    agg.Position(),
		State:       state,
		WrittenAt:   time.Now().UTC(),
	}
	streamID := eventstore.SnapshotStreamID(agg.Category(), agg.Identity())
	if err := r.store.AppendSnapshot(ctx, streamID, snap); err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.Info("snapshot written",
			zap.String("stream", streamID),
			zap.Int("version", snap.Version),
			zap.Int("position", snap.Position),
		)
	}
	return nil
}

// cacheGet reads the identity cache; failures degrade to a miss
func (r *Reconstructor) cacheGet(ctx context.Context, streamID string) (cachedAggregate, bool) {
	raw, err := r.cache.Get(ctx, streamID)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("identity cache read failed", zap.String("stream", streamID), zap.Error(err))
		}
		return cachedAggregate{}, false
	}
	if raw == nil {
		return cachedAggregate{}, false
	}
	entry, err := decodeCacheEntry(raw)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("identity cache entry corrupt", zap.String("stream", streamID), zap.Error(err))
		}
		return cachedAggregate{}, false
	}
	return entry, true
}

// cacheSet populates the identity cache after a standard load; best-effort
func (r *Reconstructor) cacheSet(ctx context.Context, streamID string, agg shared.Aggregate) {
	if r.cache == nil || agg.IsTemporal() {
		return
	}
	state, err := agg.CaptureState()
	if err != nil {
		return
	}
	raw, err := encodeCacheEntry(cachedAggregate{
		Version:  agg.Version(),
		Position: agg.Position(),
		State:    state,
	})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, streamID, raw, r.cfg.CacheTTL); err != nil && r.logger != nil {
		r.logger.Warn("identity cache write failed", zap.String("stream", streamID), zap.Error(err))
	}
}
