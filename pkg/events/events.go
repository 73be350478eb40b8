// events models the Trace Event Format events emitted when exporting a correlated trace
package events

// Phase discriminates the kinds of event in a Trace Event Format file
type Phase string

const (
	PhaseComplete Phase = "X"
	PhaseInstant  Phase = "i"
	PhaseCounter  Phase = "C"
	PhaseMetadata Phase = "M"
)

// Event is implemented by every exported event
type Event interface {
	// Phase identifies the kind of event when serialising
	Phase() Phase
	// Core gives mutable access to the fields shared by all events
	Core() *EventCore
}

// EventCore holds the fields shared by all events
type EventCore struct {
	// Name is shown by viewers as the slice or marker label
	Name string
	// Categories tag events for filtering in viewers
	Categories []string
	// Timestamp in microseconds
	Timestamp int64
	// ProcessID groups events into a track per traced process, optional
	ProcessID *int64
	// ThreadID groups events into a track per thread, optional
	ThreadID *int64
}

func (ec *EventCore) Core() *EventCore {
	return ec
}

// EventWithArgs is embedded by events carrying free form arguments
type EventWithArgs struct {
	EventCore
	Args map[string]interface{}
}

// Complete is a slice of work with a known start and duration
type Complete struct {
	EventWithArgs
	// Duration in microseconds
	Duration int64
}

func (Complete) Phase() Phase { return PhaseComplete }

// InstantScope sets how far across the viewer an instant marker is drawn
type InstantScope string

const (
	InstantScopeThread InstantScope = "t"
)

// Instant marks something that happened at a single point in time
type Instant struct {
	EventWithArgs
	Scope InstantScope
}

func (Instant) Phase() Phase { return PhaseInstant }

// Counter is a snapshot of one or more named values, drawn as a stacked area chart per name
type Counter struct {
	EventCore
	Values map[string]float64
}

func (Counter) Phase() Phase { return PhaseCounter }

// MetadataKind is the event name of a well known metadata event
type MetadataKind string

const (
	MetadataKindProcessName      MetadataKind = "process_name"
	MetadataKindProcessSortIndex MetadataKind = "process_sort_index"
	MetadataKindThreadName       MetadataKind = "thread_name"
)

// MetadataProcessName labels the track of a process
type MetadataProcessName struct {
	EventCore
	ProcessName string
}

func (MetadataProcessName) Phase() Phase { return PhaseMetadata }

// MetadataProcessSortIndex orders process tracks, lower indices are drawn first
type MetadataProcessSortIndex struct {
	EventCore
	SortIndex int64
}

func (MetadataProcessSortIndex) Phase() Phase { return PhaseMetadata }

// MetadataThreadName labels the track of a thread
type MetadataThreadName struct {
	EventCore
	ThreadName string
}

func (MetadataThreadName) Phase() Phase { return PhaseMetadata }
