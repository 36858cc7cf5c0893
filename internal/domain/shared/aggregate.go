package shared

import (
	"github.com/google/uuid"
)

// Aggregate is the base interface for all event-sourced aggregate roots.
// State is derived exclusively from the aggregate's event stream; the
// version counts non-fact events applied so far (-1 before any event, 0
// after the first).
type Aggregate interface {
	Identity() uuid.UUID
	// Category names the aggregate type ("Order", "Invoice", ...). It
	// prefixes stream identifiers and fact-event type tags.
	Category() string

	Version() int
	SetVersion(version int)
	IncrementVersion()

	// Position is the stream position of the last applied envelope. It
	// diverges from Version when fact events are interleaved, because those
	// occupy stream slots without incrementing the version.
	Position() int
	SetPosition(position int)
	IncrementPosition()

	PendingEvents() []EventInstance
	AppendPending(event EventInstance)
	ClearPendingEvents()

	// InvariantChecksSuppressed reports whether invariant checking is
	// currently suspended (true for the whole of a replay and for
	// reconstitution shells that are still being populated).
	InvariantChecksSuppressed() bool
	SuppressInvariantChecks()
	ResumeInvariantChecks()

	// IsTemporal reports whether this instance is a read-only point-in-time
	// reconstruction. The live apply path refuses temporal aggregates.
	IsTemporal() bool
	MarkTemporal()

	// CaptureState serializes the aggregate's domain fields (not its
	// bookkeeping) for snapshots, fact events, and live-path rollback.
	CaptureState() ([]byte, error)
	// RestoreState is the inverse of CaptureState. Version and position are
	// restored separately by the caller.
	RestoreState(state []byte) error
}

// InvariantChecker is implemented by aggregates that declare cross-field
// invariants. Checks run as pre- and post-conditions around each live
// mutation and are suppressed entirely during replay.
type InvariantChecker interface {
	CheckInvariants() error
}

// GenesisVersion is the version of an aggregate before any event applied.
const GenesisVersion = -1

// AggregateRoot provides the bookkeeping shared by all event-sourced
// aggregates. Concrete aggregates embed it and add their domain fields plus
// Category, CaptureState and RestoreState.
type AggregateRoot struct {
	ID uuid.UUID

	version              int
	position             int
	pendingEvents        []EventInstance
	invariantsSuppressed bool
	temporal             bool
}

// NewAggregateRoot creates the root for a brand-new aggregate. Its state is
// populated purely by applying the creation event through the live path.
func NewAggregateRoot(id uuid.UUID) AggregateRoot {
	return AggregateRoot{
		ID:       id,
		version:  GenesisVersion,
		position: GenesisVersion,
	}
}

// NewReconstitutedRoot creates a blank, invariant-suppressed shell that a
// replay later fully populates. Callers must ResumeInvariantChecks once the
// replay completes.
func NewReconstitutedRoot(id uuid.UUID) AggregateRoot {
	root := NewAggregateRoot(id)
	root.invariantsSuppressed = true
	return root
}

// Identity returns the aggregate identifier
func (a *AggregateRoot) Identity() uuid.UUID {
	return a.ID
}

// Version returns the count of non-fact events applied so far, minus one
func (a *AggregateRoot) Version() int {
	return a.version
}

// SetVersion sets the version; used when initializing from a snapshot
func (a *AggregateRoot) SetVersion(version int) {
	a.version = version
}

// IncrementVersion advances the version by one
func (a *AggregateRoot) IncrementVersion() {
	a.version++
}

// Position returns the stream position of the last applied envelope
func (a *AggregateRoot) Position() int {
	return a.position
}

// SetPosition sets the stream position; used when initializing from a
// snapshot or replaying stored envelopes
func (a *AggregateRoot) SetPosition(position int) {
	a.position = position
}

// IncrementPosition advances the stream position by one
func (a *AggregateRoot) IncrementPosition() {
	a.position++
}

// PendingEvents returns the ordered events raised since the last save
func (a *AggregateRoot) PendingEvents() []EventInstance {
	return a.pendingEvents
}

// AppendPending records an event awaiting persistence
func (a *AggregateRoot) AppendPending(event EventInstance) {
	a.pendingEvents = append(a.pendingEvents, event)
}

// ClearPendingEvents drops the pending events after successful persistence
func (a *AggregateRoot) ClearPendingEvents() {
	a.pendingEvents = nil
}

// InvariantChecksSuppressed reports whether invariant checking is suspended
func (a *AggregateRoot) InvariantChecksSuppressed() bool {
	return a.invariantsSuppressed
}

// SuppressInvariantChecks suspends invariant checking for replay
func (a *AggregateRoot) SuppressInvariantChecks() {
	a.invariantsSuppressed = true
}

// ResumeInvariantChecks re-enables invariant checking after replay
func (a *AggregateRoot) ResumeInvariantChecks() {
	a.invariantsSuppressed = false
}

// IsTemporal reports whether this is a read-only historical reconstruction
func (a *AggregateRoot) IsTemporal() bool {
	return a.temporal
}

// MarkTemporal flags the aggregate as a read-only historical reconstruction
func (a *AggregateRoot) MarkTemporal() {
	a.temporal = true
}
