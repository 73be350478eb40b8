// model provides the typed tables derived from a trace
package model

import "fmt"

// ProcessScopedKey identifies one callback instance within one process's address space
type ProcessScopedKey struct {
	ProcessID   int64
	CallbackRef int64
}

func (k ProcessScopedKey) String() string {
	return fmt.Sprintf("FnKey(pid=%d, cb=%x)", k.ProcessID, uint64(k.CallbackRef))
}

// TraceMetadata is attached to every derived record
type TraceMetadata struct {
	// NodeName is the name of the traced process, or of the scheduled task for scheduler statistics
	NodeName string
	// ProcessID is the (virtual) process ID that emitted the event
	ProcessID int64
	// TaskID is the (virtual) thread ID that emitted the event
	TaskID int64
	// Timestamp is the event time in nanoseconds
	Timestamp int64
}

// Trigger classifies what caused a callback to run
type Trigger string

const (
	TriggerUnspecified Trigger = "unspecified"
	// TriggerData means the callback runs on subscription delivery
	TriggerData Trigger = "data"
	// TriggerTime means the callback runs on a timer
	TriggerTime Trigger = "time"
)

// FunctionDescriptor names a known callback
type FunctionDescriptor struct {
	TraceMetadata
	FunctionName string
	CallbackRef  int64
	Trigger      Trigger
}

// Key is the identity of the described callback
func (fd FunctionDescriptor) Key() ProcessScopedKey {
	return ProcessScopedKey{ProcessID: fd.ProcessID, CallbackRef: fd.CallbackRef}
}

// InvocationRecord is one completed start/end pair; the metadata is that of the start event
type InvocationRecord struct {
	TraceMetadata
	CallbackRef int64
	// Duration in nanoseconds
	Duration int64
	// CPUCycles spent by the thread between start and end
	CPUCycles int64
	// TraceID separates logically distinct invocation streams of the same callback, 0 when absent
	TraceID int64
}

// Key is the identity of the invoked callback
func (ir InvocationRecord) Key() ProcessScopedKey {
	return ProcessScopedKey{ProcessID: ir.ProcessID, CallbackRef: ir.CallbackRef}
}

// TaskRecord names a thread
type TaskRecord struct {
	TraceMetadata
	TaskName string
}

// DelayRecord is the time a callback spent waiting in a queue
type DelayRecord struct {
	TraceMetadata
	QueueName   string
	CallbackRef int64
	// Delay in nanoseconds
	Delay int64
}

// RuntimeStatRecord is one scheduler statistic; exactly one of the value fields is set
type RuntimeStatRecord struct {
	TraceMetadata
	PID       int64
	OnCPU     *int64
	WaitTime  *int64
	SleepTime *int64
}

// MessageTraceRecord is a message being processed by a subscriber or queued by a publisher
type MessageTraceRecord struct {
	TraceMetadata
	// MessageName is the message type for processed messages, the topic for queued ones
	MessageName string
	// CallbackRef is the subscriber callback, or the publisher buffer
	CallbackRef int64
	// ReceiptTime in nanoseconds; the queue time for queued messages
	ReceiptTime int64
}

// ActionInterval is the extent of a high level action executed by the system
type ActionInterval struct {
	Start  int64
	End    int64
	Action string
	// Result is true when the action succeeded
	Result bool
}

// ResultAggregate holds every table produced by one correlation pass
type ResultAggregate struct {
	Functions    []FunctionDescriptor
	Invocations  []InvocationRecord
	Tasks        []TaskRecord
	Runtime      []RuntimeStatRecord
	MessageTrace []MessageTraceRecord
	Delays       []DelayRecord
	// Actions is an optional side table merged in from a separate source
	Actions []ActionInterval
}

// WithActions returns a copy of the aggregate carrying the given action intervals
func (ra ResultAggregate) WithActions(actions []ActionInterval) ResultAggregate {
	ra.Actions = append([]ActionInterval(nil), actions...)
	return ra
}
