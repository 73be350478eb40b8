package io

import (
	"encoding/json"

	"github.com/omaskery/tracemap/pkg/events"
)

// DisplayTimeUnit indicates what units viewers should display time in
type DisplayTimeUnit string

const DisplayTimeMs DisplayTimeUnit = "ms"

// TefData is an in-memory Trace Event Format file, written out in the JSON Object Format by
// WriteJsonObject. It implements EventWriter.
type TefData struct {
	traceEvents     []events.Event
	displayTimeUnit DisplayTimeUnit
	metadata        map[string]interface{}
}

// Write records the given trace event
func (td *TefData) Write(e events.Event) error {
	td.traceEvents = append(td.traceEvents, e)
	return nil
}

// Close is a no-op, the data stays available in memory
func (td *TefData) Close() error {
	return nil
}

// SetDisplayTimeUnit sets what units timestamps should be displayed in
func (td *TefData) SetDisplayTimeUnit(d DisplayTimeUnit) {
	td.displayTimeUnit = d
}

// SetMetadata stores a value at the top level of the file, outside the events
func (td *TefData) SetMetadata(key string, value interface{}) {
	if td.metadata == nil {
		td.metadata = map[string]interface{}{}
	}
	td.metadata[key] = value
}

// Events retrieves the events stored in the file
func (td TefData) Events() []events.Event {
	return td.traceEvents
}

func (td TefData) DisplayTimeUnit() DisplayTimeUnit {
	return td.displayTimeUnit
}

func (td TefData) Metadata() map[string]interface{} {
	return td.metadata
}

type jsonObjectFile struct {
	TraceEvents     []json.RawMessage      `json:"traceEvents"`
	DisplayTimeUnit string                 `json:"displayTimeUnit,omitempty"`
	Metadata        map[string]interface{} `json:"otherData,omitempty"`
}

type jsonEventPhase struct {
	Phase string `json:"ph"`
}

type jsonEventCore struct {
	jsonEventPhase
	Name       string `json:"name"`
	Categories string `json:"cat,omitempty"`
	Timestamp  int64  `json:"ts"`
	ProcessID  *int64 `json:"pid,omitempty"`
	ThreadID   *int64 `json:"tid,omitempty"`
}

type jsonEventWithArgs struct {
	jsonEventCore
	Args map[string]interface{} `json:"args,omitempty"`
}

type jsonCompleteEvent struct {
	jsonEventWithArgs
	Duration int64 `json:"dur"`
}

type jsonInstantEvent struct {
	jsonEventWithArgs
	Scope string `json:"s,omitempty"`
}

type jsonCounterEvent struct {
	jsonEventCore
	Values map[string]float64 `json:"args,omitempty"`
}

type jsonMetadataEvent struct {
	jsonEventWithArgs
}

type jsonActionInterval struct {
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	Action string `json:"action"`
	Result bool   `json:"result"`
}

type jsonTraceMetadata struct {
	NodeName  string `json:"node_name"`
	ProcessID int64  `json:"process_id"`
	TaskID    int64  `json:"task_id"`
	Timestamp int64  `json:"timestamp"`
}

type jsonFunction struct {
	jsonTraceMetadata
	FunctionName string `json:"function_name"`
	CallbackRef  int64  `json:"callback_ref"`
	Trigger      string `json:"trigger"`
}

type jsonInvocation struct {
	jsonTraceMetadata
	CallbackRef int64 `json:"callback_ref"`
	Duration    int64 `json:"duration"`
	CPUCycles   int64 `json:"cpu_cycles"`
	TraceID     int64 `json:"trace_id"`
}

type jsonTask struct {
	jsonTraceMetadata
	TaskName string `json:"task_name"`
}

type jsonRuntimeStat struct {
	jsonTraceMetadata
	PID       int64  `json:"pid"`
	OnCPU     *int64 `json:"on_cpu"`
	WaitTime  *int64 `json:"wait_time"`
	SleepTime *int64 `json:"sleep_time"`
}

type jsonMessageTrace struct {
	jsonTraceMetadata
	MessageName string `json:"message_name"`
	CallbackRef int64  `json:"callback_ref"`
	ReceiptTime int64  `json:"receipt_time"`
}

type jsonDelay struct {
	jsonTraceMetadata
	QueueName   string `json:"queue_name"`
	CallbackRef int64  `json:"callback_ref"`
	Delay       int64  `json:"delay"`
}

type jsonMissingKey struct {
	ProcessID   int64 `json:"process_id"`
	CallbackRef int64 `json:"callback_ref"`
	Count       int   `json:"count"`
}

type jsonDiagnostics struct {
	Records               int              `json:"records"`
	IgnoredRecords        int              `json:"ignored_records"`
	MalformedRecords      int              `json:"malformed_records"`
	MissingCallbacks      int              `json:"missing_callbacks"`
	MissingKeys           []jsonMissingKey `json:"missing_keys"`
	UnmatchedEnds         int              `json:"unmatched_ends"`
	UnfinishedInvocations int              `json:"unfinished_invocations"`
	OverwrittenStarts     int              `json:"overwritten_starts"`
	NamingConflicts       int              `json:"naming_conflicts"`
	SynthesizedFunctions  int              `json:"synthesized_functions"`
}

type jsonResultFile struct {
	Functions    []jsonFunction       `json:"functions"`
	Invocations  []jsonInvocation     `json:"invocations"`
	Tasks        []jsonTask           `json:"tasks"`
	Runtime      []jsonRuntimeStat    `json:"runtime"`
	MessageTrace []jsonMessageTrace   `json:"message_trace"`
	Delays       []jsonDelay          `json:"delays"`
	Actions      []jsonActionInterval `json:"actions,omitempty"`
	Diagnostics  *jsonDiagnostics     `json:"diagnostics,omitempty"`
}
