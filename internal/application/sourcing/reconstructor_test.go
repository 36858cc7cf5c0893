package sourcing_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chronik/backend/internal/application/sourcing"
	"github.com/chronik/backend/internal/domain/order"
	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/event"
	"github.com/chronik/backend/internal/infrastructure/eventstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	engine *sourcing.Engine
	codec  *event.Codec
	store  *eventstore.MemoryStore
	rec    *sourcing.Reconstructor
	repo   *sourcing.Repository
}

func newFixture(t *testing.T, cfg sourcing.Config, cache sourcing.IdentityCache) *fixture {
	t.Helper()
	engine, codec := newEngine(t)
	store := eventstore.NewMemoryStore()
	return &fixture{
		engine: engine,
		codec:  codec,
		store:  store,
		rec:    sourcing.NewReconstructor(engine, store, codec, cache, cfg, zap.NewNop()),
		repo:   sourcing.NewRepository(store, codec, cache, zap.NewNop()),
	}
}

// placeOrder persists a new order with the given number of line items
func (f *fixture) placeOrder(t *testing.T, items int) uuid.UUID {
	t.Helper()
	o := order.New(uuid.New())
	require.NoError(t, f.engine.ApplyLive(o, order.NewPlaced(o.Identity(), "Alice")))
	for i := 0; i < items; i++ {
		evt := order.NewItemAdded(o.Identity(), "SKU-1", decimal.NewFromInt(1), decimal.NewFromInt(10))
		require.NoError(t, f.engine.ApplyLive(o, evt))
	}
	require.NoError(t, f.repo.Save(context.Background(), o))
	return o.Identity()
}

// mapCache is an in-process IdentityCache recording its traffic
type mapCache struct {
	entries map[string][]byte
	gets    int
	sets    int
	deletes int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.gets++
	raw, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return raw, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.sets++
	c.entries[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.deletes++
	delete(c.entries, key)
	return nil
}

// countingStore records the start position of every batch read
type countingStore struct {
	*eventstore.MemoryStore
	readFrom []int
}

func (s *countingStore) ReadEvents(ctx context.Context, streamID string, fromPosition, limit int) ([]event.Envelope, error) {
	s.readFrom = append(s.readFrom, fromPosition)
	return s.MemoryStore.ReadEvents(ctx, streamID, fromPosition, limit)
}

func TestReconstructor_Load(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 2)

	agg, err := f.rec.Load(ctx, order.Category, id)
	require.NoError(t, err)

	o := agg.(*order.Order)
	assert.Equal(t, 2, o.Version())
	assert.Equal(t, "Alice", o.CustomerName)
	assert.Equal(t, order.StatusPlaced, o.Status)
	assert.Len(t, o.Items, 2)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(20)))
	assert.False(t, o.IsTemporal())
	assert.False(t, o.InvariantChecksSuppressed())
}

func TestReconstructor_Load_NotFound(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)

	_, err := f.rec.Load(context.Background(), order.Category, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconstructor_Load_UnregisteredCategory(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)

	_, err := f.rec.Load(context.Background(), "Invoice", uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}

// Events stored under a superseded schema are migrated transparently during
// reconstruction: a v1 payload with "name" surfaces as the current v2 shape.
func TestReconstructor_Load_UpcastsLegacyEvents(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := uuid.New()

	payload, err := json.Marshal(map[string]any{
		"id":           uuid.New().String(),
		"type_tag":     "Order.Placed.v1",
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		"aggregate_id": id.String(),
		"name":         "Alice",
	})
	require.NoError(t, err)

	env := event.Envelope{
		TypeTag:        "Order.Placed.v1",
		Payload:        payload,
		WriteTimestamp: time.Now().UTC(),
		Checksum:       event.PayloadChecksum(payload),
	}
	streamID := eventstore.StreamID(order.Category, id)
	require.NoError(t, f.store.Append(ctx, streamID, -1, []event.Envelope{env}))

	agg, err := f.rec.Load(ctx, order.Category, id)
	require.NoError(t, err)

	o := agg.(*order.Order)
	assert.Equal(t, "Alice", o.CustomerName)
	assert.Equal(t, 0, o.Version())
}

func TestReconstructor_AutoSnapshot(t *testing.T) {
	f := newFixture(t, sourcing.Config{SnapshotThreshold: 2}, nil)
	ctx := context.Background()

	// Below the threshold no snapshot is written
	small := f.placeOrder(t, 1)
	_, err := f.rec.Load(ctx, order.Category, small)
	require.NoError(t, err)
	snap, err := f.store.ReadSnapshot(ctx, eventstore.SnapshotStreamID(order.Category, small))
	require.NoError(t, err)
	assert.Nil(t, snap)

	// Above it the load leaves one behind
	big := f.placeOrder(t, 3)
	_, err = f.rec.Load(ctx, order.Category, big)
	require.NoError(t, err)
	snap, err = f.store.ReadSnapshot(ctx, eventstore.SnapshotStreamID(order.Category, big))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Version)
	assert.Equal(t, 3, snap.Position)
	assert.Equal(t, big, snap.AggregateID)
}

// Facts occupy stream slots but never dispatch a handler, so they must not
// count toward the automatic snapshot threshold.
func TestReconstructor_AutoSnapshot_IgnoresFacts(t *testing.T) {
	f := newFixture(t, sourcing.Config{SnapshotThreshold: 2}, nil)
	ctx := context.Background()

	o := order.New(uuid.New())
	require.NoError(t, f.engine.ApplyLive(o, order.NewPlaced(o.Identity(), "Alice")))
	require.NoError(t, f.engine.ApplyLive(o, order.NewItemAdded(o.Identity(), "SKU-1", decimal.NewFromInt(1), decimal.NewFromInt(10))))
	require.NoError(t, f.engine.EmitFact(o))
	require.NoError(t, f.engine.EmitFact(o))
	require.NoError(t, f.repo.Save(ctx, o))

	// Four envelopes in the stream, but only two applied
	_, err := f.rec.Load(ctx, order.Category, o.Identity())
	require.NoError(t, err)
	snap, err := f.store.ReadSnapshot(ctx, eventstore.SnapshotStreamID(order.Category, o.Identity()))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

// Loading through a snapshot must yield exactly the state a full replay from
// genesis yields.
func TestReconstructor_SnapshotEquivalence(t *testing.T) {
	f := newFixture(t, sourcing.Config{SnapshotThreshold: 2}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 4)

	// First load writes the snapshot, second load resumes from it
	_, err := f.rec.Load(ctx, order.Category, id)
	require.NoError(t, err)
	fromSnapshot, err := f.rec.Load(ctx, order.Category, id)
	require.NoError(t, err)

	f.store.DeleteSnapshot(eventstore.SnapshotStreamID(order.Category, id))
	fromGenesis, err := f.rec.Load(ctx, order.Category, id)
	require.NoError(t, err)

	assert.Equal(t, fromGenesis.Version(), fromSnapshot.Version())
	assert.Equal(t, fromGenesis.Position(), fromSnapshot.Position())

	snapState, err := fromSnapshot.CaptureState()
	require.NoError(t, err)
	genesisState, err := fromGenesis.CaptureState()
	require.NoError(t, err)
	assert.JSONEq(t, string(genesisState), string(snapState))
}

func TestReconstructor_LoadAtVersion(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 4) // versions 0..4

	agg, err := f.rec.LoadAtVersion(ctx, order.Category, id, 2)
	require.NoError(t, err)

	o := agg.(*order.Order)
	assert.Equal(t, 2, o.Version())
	assert.Len(t, o.Items, 2)
	assert.True(t, o.IsTemporal())

	// A temporal view is frozen: live mutation and persistence both refuse it
	err = f.engine.ApplyLive(o, order.NewShipped(id))
	assert.ErrorIs(t, err, shared.ErrTemporalAggregate)
	err = f.repo.Save(ctx, o)
	assert.ErrorIs(t, err, shared.ErrTemporalAggregate)
}

func TestReconstructor_LoadAtVersion_IgnoresNewerSnapshot(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 4)

	// Snapshot sits at version 4, past the requested point
	require.NoError(t, f.rec.CreateSnapshot(ctx, order.Category, id))

	agg, err := f.rec.LoadAtVersion(ctx, order.Category, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Version())
	assert.Len(t, agg.(*order.Order).Items, 1)
}

func TestReconstructor_LoadAtVersion_UsesOlderSnapshot(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()

	o := order.New(uuid.New())
	require.NoError(t, f.engine.ApplyLive(o, order.NewPlaced(o.Identity(), "Alice")))
	require.NoError(t, f.repo.Save(ctx, o))
	require.NoError(t, f.rec.CreateSnapshot(ctx, order.Category, o.Identity()))

	// Two more events after the snapshot
	require.NoError(t, f.engine.ApplyLive(o, order.NewItemAdded(o.Identity(), "SKU-1", decimal.NewFromInt(1), decimal.NewFromInt(10))))
	require.NoError(t, f.engine.ApplyLive(o, order.NewItemAdded(o.Identity(), "SKU-2", decimal.NewFromInt(1), decimal.NewFromInt(10))))
	require.NoError(t, f.repo.Save(ctx, o))

	agg, err := f.rec.LoadAtVersion(ctx, order.Category, o.Identity(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Version())
	assert.Len(t, agg.(*order.Order).Items, 1)
}

func TestReconstructor_LoadAtVersion_Validation(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 1)

	_, err := f.rec.LoadAtVersion(ctx, order.Category, id, -1)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	// Asking past the head yields the head
	agg, err := f.rec.LoadAtVersion(ctx, order.Category, id, 99)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Version())
}

func TestReconstructor_LoadAsOf(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := uuid.New()
	streamID := eventstore.StreamID(order.Category, id)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	stamps := []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)}
	events := []shared.EventInstance{
		order.NewPlaced(id, "Alice"),
		order.NewItemAdded(id, "SKU-1", decimal.NewFromInt(1), decimal.NewFromInt(10)),
		order.NewShipped(id),
	}
	for i, evt := range events {
		env, err := f.codec.Encode(evt, i)
		require.NoError(t, err)
		env.WriteTimestamp = stamps[i]
		require.NoError(t, f.store.Append(ctx, streamID, i-1, []event.Envelope{env}))
	}

	agg, err := f.rec.LoadAsOf(ctx, order.Category, id, t0.Add(90*time.Minute))
	require.NoError(t, err)
	o := agg.(*order.Order)
	assert.Equal(t, 1, o.Version())
	assert.Equal(t, order.StatusPlaced, o.Status)
	assert.True(t, o.IsTemporal())

	// Before the first event there is nothing to reconstruct
	_, err = f.rec.LoadAsOf(ctx, order.Category, id, t0.Add(-time.Minute))
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// At or past the last write the view equals the current state
	agg, err = f.rec.LoadAsOf(ctx, order.Category, id, stamps[2])
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, agg.(*order.Order).Status)
}

func TestReconstructor_LoadAsOf_ZeroTimestamp(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	id := f.placeOrder(t, 1)

	_, err := f.rec.LoadAsOf(context.Background(), order.Category, id, time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

// Point-in-time reconstruction must never shortcut through a snapshot: a
// deliberately corrupt snapshot proves the path is not consulted.
func TestReconstructor_LoadAsOf_NeverUsesSnapshot(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 1)

	poison := eventstore.Snapshot{
		AggregateID: id,
		Version:     99,
		Position:    99,
		State:       []byte(`{"customer_name":"nobody","status":"CANCELLED","items":null,"total":"0"}`),
		WrittenAt:   time.Now().UTC(),
	}
	require.NoError(t, f.store.AppendSnapshot(ctx, eventstore.SnapshotStreamID(order.Category, id), poison))

	agg, err := f.rec.LoadAsOf(ctx, order.Category, id, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	o := agg.(*order.Order)
	assert.Equal(t, "Alice", o.CustomerName)
	assert.Equal(t, 1, o.Version())
}

func TestReconstructor_IdentityCache(t *testing.T) {
	cache := newMapCache()
	store := &countingStore{MemoryStore: eventstore.NewMemoryStore()}
	engine, codec := newEngine(t)
	rec := sourcing.NewReconstructor(engine, store, codec, cache, sourcing.Config{CacheTTL: time.Minute}, zap.NewNop())
	repo := sourcing.NewRepository(store, codec, cache, zap.NewNop())
	ctx := context.Background()

	o := order.New(uuid.New())
	require.NoError(t, engine.ApplyLive(o, order.NewPlaced(o.Identity(), "Alice")))
	require.NoError(t, engine.ApplyLive(o, order.NewItemAdded(o.Identity(), "SKU-1", decimal.NewFromInt(1), decimal.NewFromInt(10))))
	require.NoError(t, repo.Save(ctx, o))
	id := o.Identity()

	first, err := rec.Load(ctx, order.Category, id)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	// The second load resumes from the cached position instead of genesis
	store.readFrom = nil
	second, err := rec.Load(ctx, order.Category, id)
	require.NoError(t, err)
	require.NotEmpty(t, store.readFrom)
	assert.Equal(t, first.Position()+1, store.readFrom[0])
	assert.Equal(t, first.Version(), second.Version())

	state1, err := first.CaptureState()
	require.NoError(t, err)
	state2, err := second.CaptureState()
	require.NoError(t, err)
	assert.JSONEq(t, string(state1), string(state2))

	// Writes invalidate the cached view
	require.NoError(t, engine.ApplyLive(second, order.NewShipped(id)))
	require.NoError(t, repo.Save(ctx, second))
	assert.Equal(t, 1, cache.deletes)

	reloaded, err := rec.Load(ctx, order.Category, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, reloaded.(*order.Order).Status)
}

func TestReconstructor_TemporalLoadsBypassCache(t *testing.T) {
	cache := newMapCache()
	f := newFixture(t, sourcing.Config{CacheTTL: time.Minute}, cache)
	ctx := context.Background()
	id := f.placeOrder(t, 2)

	_, err := f.rec.LoadAtVersion(ctx, order.Category, id, 1)
	require.NoError(t, err)
	_, err = f.rec.LoadAsOf(ctx, order.Category, id, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	assert.Zero(t, cache.gets)
	assert.Zero(t, cache.sets)
}

func TestReconstructor_ManualSnapshot(t *testing.T) {
	f := newFixture(t, sourcing.Config{SnapshotThreshold: 100}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 1)

	// Manual snapshots ignore the threshold
	require.NoError(t, f.rec.CreateSnapshot(ctx, order.Category, id))
	snap, err := f.store.ReadSnapshot(ctx, eventstore.SnapshotStreamID(order.Category, id))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Version)

	err = f.rec.CreateSnapshot(ctx, order.Category, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	err = f.rec.CreateSnapshot(ctx, "Invoice", id)
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestReconstructor_CreateSnapshots_Category(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	first := f.placeOrder(t, 1)
	second := f.placeOrder(t, 2)

	require.NoError(t, f.rec.CreateAllSnapshots(ctx))

	for _, id := range []uuid.UUID{first, second} {
		snap, err := f.store.ReadSnapshot(ctx, eventstore.SnapshotStreamID(order.Category, id))
		require.NoError(t, err)
		assert.NotNil(t, snap)
	}
}

// Fact events occupy stream positions without contributing to the version, so
// a reconstruction across facts must keep version and position independent.
func TestReconstructor_Load_SkipsFactEvents(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()

	o := order.New(uuid.New())
	require.NoError(t, f.engine.ApplyLive(o, order.NewPlaced(o.Identity(), "Alice")))
	require.NoError(t, f.engine.EmitFact(o))
	require.NoError(t, f.engine.ApplyLive(o, order.NewItemAdded(o.Identity(), "SKU-1", decimal.NewFromInt(1), decimal.NewFromInt(10))))
	require.NoError(t, f.repo.Save(ctx, o))

	agg, err := f.rec.Load(ctx, order.Category, o.Identity())
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Version())
	assert.Equal(t, 2, agg.Position())
	assert.Len(t, agg.(*order.Order).Items, 1)
}

func TestReconstructor_RebuildReplay(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 1)
	streamID := eventstore.StreamID(order.Category, id)

	// Plant an envelope whose type tag no longer resolves
	orphan := []byte(`{"legacy":true}`)
	env := event.Envelope{
		TypeTag:        "Order.Reserved.v1",
		Payload:        orphan,
		WriteTimestamp: time.Now().UTC(),
		Checksum:       event.PayloadChecksum(orphan),
	}
	require.NoError(t, f.store.Append(ctx, streamID, 1, []event.Envelope{env}))

	// Strict reconstruction refuses the stream
	_, err := f.rec.Load(ctx, order.Category, id)
	assert.ErrorIs(t, err, shared.ErrSchemaResolution)

	// Best-effort rebuild skips it and keeps going
	var seen []string
	result, err := f.rec.RebuildReplay(ctx, streamID, func(evt shared.EventInstance) error {
		seen = append(seen, evt.TypeTag())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{order.PlacedTag, order.ItemAddedTag}, seen)
}

func TestRepository_Save_ConcurrencyConflict(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 0)

	left, err := f.rec.Load(ctx, order.Category, id)
	require.NoError(t, err)
	right, err := f.rec.Load(ctx, order.Category, id)
	require.NoError(t, err)

	evt := order.NewItemAdded(id, "SKU-1", decimal.NewFromInt(1), decimal.NewFromInt(10))
	require.NoError(t, f.engine.ApplyLive(left, evt))
	require.NoError(t, f.repo.Save(ctx, left))

	evt = order.NewItemAdded(id, "SKU-2", decimal.NewFromInt(1), decimal.NewFromInt(10))
	require.NoError(t, f.engine.ApplyLive(right, evt))
	err = f.repo.Save(ctx, right)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
}

func TestRepository_Save_NoPendingIsNoop(t *testing.T) {
	f := newFixture(t, sourcing.Config{}, nil)
	ctx := context.Background()
	id := f.placeOrder(t, 0)

	agg, err := f.rec.Load(ctx, order.Category, id)
	require.NoError(t, err)
	require.NoError(t, f.repo.Save(ctx, agg))
}
