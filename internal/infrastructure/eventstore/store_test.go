package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewGormStore(db)
	require.NoError(t, store.Migrate())
	return store
}

// storeFactories lets every behavior test run against both adapters
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"gorm":   newSQLiteStore,
	}
}

func envelope(tag string, body string) event.Envelope {
	payload := []byte(body)
	return event.Envelope{
		TypeTag:        tag,
		Payload:        payload,
		WriteTimestamp: time.Now().UTC(),
		Checksum:       event.PayloadChecksum(payload),
	}
}

func TestStore_AppendAndRead(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			streamID := StreamID("Order", uuid.New())

			err := store.Append(ctx, streamID, -1, []event.Envelope{
				envelope("Order.Placed.v2", `{"full_name":"Alice"}`),
				envelope("Order.Shipped.v1", `{}`),
			})
			require.NoError(t, err)

			batch, err := store.ReadEvents(ctx, streamID, 0, 10)
			require.NoError(t, err)
			require.Len(t, batch, 2)
			assert.Equal(t, 0, batch[0].StreamPosition)
			assert.Equal(t, 1, batch[1].StreamPosition)
			assert.Equal(t, "Order.Placed.v2", batch[0].TypeTag)
			assert.Less(t, batch[0].GlobalPosition, batch[1].GlobalPosition)

			// Bounded batch from an offset
			batch, err = store.ReadEvents(ctx, streamID, 1, 1)
			require.NoError(t, err)
			require.Len(t, batch, 1)
			assert.Equal(t, "Order.Shipped.v1", batch[0].TypeTag)

			// Past the head
			batch, err = store.ReadEvents(ctx, streamID, 5, 10)
			require.NoError(t, err)
			assert.Empty(t, batch)
		})
	}
}

func TestStore_AppendConcurrencyConflict(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			streamID := StreamID("Order", uuid.New())

			require.NoError(t, store.Append(ctx, streamID, -1, []event.Envelope{
				envelope("Order.Placed.v2", `{}`),
			}))

			// A stale writer expecting an empty stream must be rejected
			err := store.Append(ctx, streamID, -1, []event.Envelope{
				envelope("Order.Shipped.v1", `{}`),
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

			batch, err := store.ReadEvents(ctx, streamID, 0, 10)
			require.NoError(t, err)
			assert.Len(t, batch, 1)
		})
	}
}

func TestStore_Snapshots(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			aggID := uuid.New()
			streamID := SnapshotStreamID("Order", aggID)

			snap, err := store.ReadSnapshot(ctx, streamID)
			require.NoError(t, err)
			assert.Nil(t, snap)

			first := Snapshot{
				AggregateID: aggID,
				Version:     4,
				Position:    5,
				State:       []byte(`{"status":"CONFIRMED"}`),
				WrittenAt:   time.Now().UTC(),
			}
			require.NoError(t, store.AppendSnapshot(ctx, streamID, first))

			snap, err = store.ReadSnapshot(ctx, streamID)
			require.NoError(t, err)
			require.NotNil(t, snap)
			assert.Equal(t, 4, snap.Version)
			assert.Equal(t, 5, snap.Position)

			// A newer write supersedes in place (last-writer-wins)
			second := first
			second.Version = 9
			second.Position = 11
			require.NoError(t, store.AppendSnapshot(ctx, streamID, second))

			snap, err = store.ReadSnapshot(ctx, streamID)
			require.NoError(t, err)
			require.NotNil(t, snap)
			assert.Equal(t, 9, snap.Version)
		})
	}
}

func TestStore_StreamsInCategory(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			orderA := StreamID("Order", uuid.New())
			orderB := StreamID("Order", uuid.New())
			invoice := StreamID("Invoice", uuid.New())
			for _, id := range []string{orderA, orderB, invoice} {
				require.NoError(t, store.Append(ctx, id, -1, []event.Envelope{
					envelope("Order.Placed.v2", `{}`),
				}))
			}
			// Snapshot streams never show up as instance streams
			require.NoError(t, store.AppendSnapshot(ctx, SnapshotStreamID("Order", uuid.New()), Snapshot{
				AggregateID: uuid.New(), State: []byte(`{}`), WrittenAt: time.Now().UTC(),
			}))

			streams, err := store.StreamsInCategory(ctx, "Order")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{orderA, orderB}, streams)
		})
	}
}

func TestStreamNaming(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, "Order-6ba7b810-9dad-11d1-80b4-00c04fd430c8", StreamID("Order", id))
	assert.Equal(t, "Order:snapshot-6ba7b810-9dad-11d1-80b4-00c04fd430c8", SnapshotStreamID("Order", id))
}
