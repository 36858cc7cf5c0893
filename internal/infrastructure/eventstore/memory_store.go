package eventstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/event"
)

// MemoryStore is an in-process Store used by tests and local tooling.
type MemoryStore struct {
	mu        sync.RWMutex
	streams   map[string][]event.Envelope
	snapshots map[string]Snapshot
	global    int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:   make(map[string][]event.Envelope),
		snapshots: make(map[string]Snapshot),
	}
}

// ReadEvents returns envelopes from fromPosition (inclusive), at most limit
func (s *MemoryStore) ReadEvents(_ context.Context, streamID string, fromPosition, limit int) ([]event.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[streamID]
	if fromPosition < 0 {
		fromPosition = 0
	}
	if fromPosition >= len(stream) {
		return nil, nil
	}
	end := len(stream)
	if limit > 0 && fromPosition+limit < end {
		end = fromPosition + limit
	}
	batch := make([]event.Envelope, end-fromPosition)
	copy(batch, stream[fromPosition:end])
	return batch, nil
}

// Append writes envelopes after verifying the expected stream position
func (s *MemoryStore) Append(_ context.Context, streamID string, expectedPosition int, envelopes []event.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[streamID]
	head := len(stream) - 1
	if head != expectedPosition {
		return fmt.Errorf("%w: stream %s is at position %d, writer expected %d",
			shared.ErrConcurrencyConflict, streamID, head, expectedPosition)
	}

	for i, env := range envelopes {
		s.global++
		env.StreamPosition = expectedPosition + 1 + i
		env.GlobalPosition = s.global
		stream = append(stream, env)
	}
	s.streams[streamID] = stream
	return nil
}

// ReadSnapshot returns the stored snapshot or (nil, nil) when absent
func (s *MemoryStore) ReadSnapshot(_ context.Context, streamID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[streamID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// AppendSnapshot stores a snapshot, last-writer-wins
func (s *MemoryStore) AppendSnapshot(_ context.Context, streamID string, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[streamID] = snapshot
	return nil
}

// DeleteSnapshot removes a stored snapshot; used by equivalence tests
func (s *MemoryStore) DeleteSnapshot(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, streamID)
}

// StreamsInCategory lists instance streams with the category prefix
func (s *MemoryStore) StreamsInCategory(_ context.Context, category string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := category + "-"
	var streams []string
	for id := range s.streams {
		if strings.HasPrefix(id, prefix) {
			streams = append(streams, id)
		}
	}
	sort.Strings(streams)
	return streams, nil
}
