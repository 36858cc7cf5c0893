package sourcing

import (
	"context"
	"encoding/json"
	"time"
)

// IdentityCache is the optional second-level cache consulted by standard
// loads. Temporal reconstructions bypass it entirely so a historical view is
// never served as current. Implementations return (nil, nil) on a miss;
// failures degrade a load, never fail it.
type IdentityCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// cachedAggregate is the cache entry for one aggregate instance: captured
// state plus the version/position it was captured at, so a load can resume
// replay right after it.
type cachedAggregate struct {
	Version  int    `json:"version"`
	Position int    `json:"position"`
	State    []byte `json:"state"`
}

func encodeCacheEntry(entry cachedAggregate) ([]byte, error) {
	return json.Marshal(entry)
}

func decodeCacheEntry(raw []byte) (cachedAggregate, error) {
	var entry cachedAggregate
	err := json.Unmarshal(raw, &entry)
	return entry, err
}
