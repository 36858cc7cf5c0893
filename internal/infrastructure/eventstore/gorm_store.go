package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/event"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// storedEvent is the relational row backing one envelope
type storedEvent struct {
	GlobalPosition int64     `gorm:"primaryKey;autoIncrement"`
	StreamID       string    `gorm:"size:255;not null;uniqueIndex:idx_stream_position,priority:1"`
	StreamPosition int       `gorm:"not null;uniqueIndex:idx_stream_position,priority:2"`
	TypeTag        string    `gorm:"size:255;not null"`
	Payload        []byte    `gorm:"not null"`
	Checksum       string    `gorm:"size:64"`
	WriteTimestamp time.Time `gorm:"not null"`
}

// TableName sets the events table name
func (storedEvent) TableName() string {
	return "event_log"
}

// storedSnapshot is the relational row backing the latest snapshot of one
// aggregate instance. One row per snapshot stream, superseded in place.
type storedSnapshot struct {
	StreamID    string    `gorm:"primaryKey;size:255"`
	AggregateID uuid.UUID `gorm:"type:uuid;not null;index"`
	Version     int       `gorm:"not null"`
	Position    int       `gorm:"not null"`
	State       []byte    `gorm:"not null"`
	WrittenAt   time.Time `gorm:"not null"`
}

// TableName sets the snapshots table name
func (storedSnapshot) TableName() string {
	return "aggregate_snapshots"
}

// GormStore implements Store over a SQL database via GORM
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GORM-backed event store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the backing tables
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&storedEvent{}, &storedSnapshot{})
}

// ReadEvents returns an ordered batch of envelopes from fromPosition
func (s *GormStore) ReadEvents(ctx context.Context, streamID string, fromPosition, limit int) ([]event.Envelope, error) {
	var rows []storedEvent
	query := s.db.WithContext(ctx).
		Where("stream_id = ? AND stream_position >= ?", streamID, fromPosition).
		Order("stream_position ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", streamID, err)
	}

	envelopes := make([]event.Envelope, len(rows))
	for i, row := range rows {
		envelopes[i] = event.Envelope{
			TypeTag:        row.TypeTag,
			Payload:        row.Payload,
			StreamPosition: row.StreamPosition,
			GlobalPosition: row.GlobalPosition,
			WriteTimestamp: row.WriteTimestamp,
			Checksum:       row.Checksum,
		}
	}
	return envelopes, nil
}

// Append writes envelopes inside a transaction guarded by the optimistic
// position check
func (s *GormStore) Append(ctx context.Context, streamID string, expectedPosition int, envelopes []event.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head int
		err := tx.Model(&storedEvent{}).
			Where("stream_id = ?", streamID).
			Select("COALESCE(MAX(stream_position), -1)").
			Scan(&head).Error
		if err != nil {
			return fmt.Errorf("failed to read head of stream %s: %w", streamID, err)
		}
		if head != expectedPosition {
			return fmt.Errorf("%w: stream %s is at position %d, writer expected %d",
				shared.ErrConcurrencyConflict, streamID, head, expectedPosition)
		}

		rows := make([]storedEvent, len(envelopes))
		for i, env := range envelopes {
			rows[i] = storedEvent{
				StreamID:       streamID,
				StreamPosition: expectedPosition + 1 + i,
				TypeTag:        env.TypeTag,
				Payload:        env.Payload,
				Checksum:       env.Checksum,
				WriteTimestamp: env.WriteTimestamp,
			}
		}
		return tx.Create(&rows).Error
	})
}

// ReadSnapshot returns the latest snapshot or (nil, nil) when absent
func (s *GormStore) ReadSnapshot(ctx context.Context, streamID string) (*Snapshot, error) {
	var row storedSnapshot
	err := s.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", streamID, err)
	}
	return &Snapshot{
		AggregateID: row.AggregateID,
		Version:     row.Version,
		Position:    row.Position,
		State:       row.State,
		WrittenAt:   row.WrittenAt,
	}, nil
}

// AppendSnapshot upserts the snapshot row; concurrent writers are
// last-writer-wins and idempotent
func (s *GormStore) AppendSnapshot(ctx context.Context, streamID string, snapshot Snapshot) error {
	row := storedSnapshot{
		StreamID:    streamID,
		AggregateID: snapshot.AggregateID,
		Version:     snapshot.Version,
		Position:    snapshot.Position,
		State:       snapshot.State,
		WrittenAt:   snapshot.WrittenAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stream_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

// StreamsInCategory lists the distinct instance streams of one category
func (s *GormStore) StreamsInCategory(ctx context.Context, category string) ([]string, error) {
	var streams []string
	err := s.db.WithContext(ctx).
		Model(&storedEvent{}).
		Distinct("stream_id").
		Where("stream_id LIKE ?", category+"-%").
		Order("stream_id ASC").
		Pluck("stream_id", &streams).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list streams for category %s: %w", category, err)
	}
	return streams, nil
}
