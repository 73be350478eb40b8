package io

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/omaskery/tracemap/pkg/events"
	"github.com/omaskery/tracemap/pkg/mapping"
	"github.com/omaskery/tracemap/pkg/model"
)

// EventWriter consumes trace events one at a time
type EventWriter interface {
	Write(e events.Event) error
	Close() error
}

// StreamingWriter writes events in the JSON Array Format as they arrive, so a trace never has
// to be held in memory. Close terminates the array and closes the underlying writer.
type StreamingWriter struct {
	w       io.WriteCloser
	started bool
	closed  bool
}

func NewStreamingWriter(w io.WriteCloser) *StreamingWriter {
	return &StreamingWriter{w: w}
}

func (sw *StreamingWriter) Write(e events.Event) error {
	if sw.closed {
		return fmt.Errorf("cannot write '%s' event: %w", e.Phase(), io.ErrClosedPipe)
	}

	jsonEvent, err := writeJsonEvent(e)
	if err != nil {
		return fmt.Errorf("failed while preparing json event: %w", err)
	}
	msg, err := json.Marshal(jsonEvent)
	if err != nil {
		return fmt.Errorf("failed to serialise json event: %w", err)
	}

	separator := ",\n"
	if !sw.started {
		separator = "[\n"
		sw.started = true
	}
	if _, err := io.WriteString(sw.w, separator); err != nil {
		return fmt.Errorf("failed to write event separator: %w", err)
	}
	if _, err := sw.w.Write(msg); err != nil {
		return fmt.Errorf("failed to write json event: %w", err)
	}
	return nil
}

func (sw *StreamingWriter) Close() error {
	if sw.closed {
		return nil
	}
	sw.closed = true

	terminator := "\n]\n"
	if !sw.started {
		terminator = "[]\n"
	}
	if _, err := io.WriteString(sw.w, terminator); err != nil {
		return fmt.Errorf("failed to terminate json array: %w", err)
	}
	if err := sw.w.Close(); err != nil {
		return fmt.Errorf("failed to close underlying writer: %w", err)
	}
	return nil
}

func WriteJsonObject(w io.Writer, data TefData) error {
	jsonFile := jsonObjectFile{
		TraceEvents:     make([]json.RawMessage, 0, len(data.Events())),
		DisplayTimeUnit: string(data.DisplayTimeUnit()),
		Metadata:        data.Metadata(),
	}

	for _, event := range data.Events() {
		jsonEvent, err := writeJsonEvent(event)
		if err != nil {
			return fmt.Errorf("failed while preparing json event: %w", err)
		}

		msg, err := json.Marshal(jsonEvent)
		if err != nil {
			return fmt.Errorf("failed to serialise json event: %w", err)
		}

		jsonFile.TraceEvents = append(jsonFile.TraceEvents, msg)
	}

	encoder := json.NewEncoder(w)
	err := encoder.Encode(&jsonFile)
	if err != nil {
		return fmt.Errorf("failed to write JSON object file: %w", err)
	}

	return nil
}

func writeJsonEvent(event events.Event) (interface{}, error) {
	switch e := event.(type) {
	case *events.Complete:
		return jsonCompleteEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCore(event),
				Args:          e.Args,
			},
			Duration: e.Duration,
		}, nil

	case *events.Instant:
		return jsonInstantEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCore(event),
				Args:          e.Args,
			},
			Scope: string(e.Scope),
		}, nil

	case *events.Counter:
		return jsonCounterEvent{
			jsonEventCore: writeJsonEventCore(event),
			Values:        e.Values,
		}, nil

	case *events.MetadataProcessName:
		return jsonMetadataEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCoreWithName(event, string(events.MetadataKindProcessName)),
				Args: map[string]interface{}{
					"name": e.ProcessName,
				},
			},
		}, nil
	case *events.MetadataProcessSortIndex:
		return jsonMetadataEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCoreWithName(event, string(events.MetadataKindProcessSortIndex)),
				Args: map[string]interface{}{
					"sort_index": e.SortIndex,
				},
			},
		}, nil
	case *events.MetadataThreadName:
		return jsonMetadataEvent{
			jsonEventWithArgs: jsonEventWithArgs{
				jsonEventCore: writeJsonEventCoreWithName(event, string(events.MetadataKindThreadName)),
				Args: map[string]interface{}{
					"name": e.ThreadName,
				},
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown phase encountered: '%v'", event.Phase())
}

func writeJsonEventCoreWithName(e events.Event, name string) jsonEventCore {
	core := writeJsonEventCore(e)
	core.Name = name
	return core
}

func writeJsonEventCore(e events.Event) jsonEventCore {
	core := e.Core()
	return jsonEventCore{
		jsonEventPhase: jsonEventPhase{
			Phase: string(e.Phase()),
		},
		Name:       core.Name,
		Categories: strings.Join(core.Categories, ","),
		Timestamp:  core.Timestamp,
		ProcessID:  core.ProcessID,
		ThreadID:   core.ThreadID,
	}
}

// WriteResult writes every table of a correlation pass as one JSON object. Diagnostics are
// included when given.
func WriteResult(w io.Writer, result model.ResultAggregate, diagnostics *mapping.Diagnostics) error {
	file := jsonResultFile{
		Functions:    make([]jsonFunction, 0, len(result.Functions)),
		Invocations:  make([]jsonInvocation, 0, len(result.Invocations)),
		Tasks:        make([]jsonTask, 0, len(result.Tasks)),
		Runtime:      make([]jsonRuntimeStat, 0, len(result.Runtime)),
		MessageTrace: make([]jsonMessageTrace, 0, len(result.MessageTrace)),
		Delays:       make([]jsonDelay, 0, len(result.Delays)),
	}

	for _, fd := range result.Functions {
		file.Functions = append(file.Functions, jsonFunction{
			jsonTraceMetadata: writeTraceMetadata(fd.TraceMetadata),
			FunctionName:      fd.FunctionName,
			CallbackRef:       fd.CallbackRef,
			Trigger:           string(fd.Trigger),
		})
	}
	for _, ir := range result.Invocations {
		file.Invocations = append(file.Invocations, jsonInvocation{
			jsonTraceMetadata: writeTraceMetadata(ir.TraceMetadata),
			CallbackRef:       ir.CallbackRef,
			Duration:          ir.Duration,
			CPUCycles:         ir.CPUCycles,
			TraceID:           ir.TraceID,
		})
	}
	for _, t := range result.Tasks {
		file.Tasks = append(file.Tasks, jsonTask{
			jsonTraceMetadata: writeTraceMetadata(t.TraceMetadata),
			TaskName:          t.TaskName,
		})
	}
	for _, r := range result.Runtime {
		file.Runtime = append(file.Runtime, jsonRuntimeStat{
			jsonTraceMetadata: writeTraceMetadata(r.TraceMetadata),
			PID:               r.PID,
			OnCPU:             r.OnCPU,
			WaitTime:          r.WaitTime,
			SleepTime:         r.SleepTime,
		})
	}
	for _, m := range result.MessageTrace {
		file.MessageTrace = append(file.MessageTrace, jsonMessageTrace{
			jsonTraceMetadata: writeTraceMetadata(m.TraceMetadata),
			MessageName:       m.MessageName,
			CallbackRef:       m.CallbackRef,
			ReceiptTime:       m.ReceiptTime,
		})
	}
	for _, d := range result.Delays {
		file.Delays = append(file.Delays, jsonDelay{
			jsonTraceMetadata: writeTraceMetadata(d.TraceMetadata),
			QueueName:         d.QueueName,
			CallbackRef:       d.CallbackRef,
			Delay:             d.Delay,
		})
	}
	for _, a := range result.Actions {
		file.Actions = append(file.Actions, jsonActionInterval{
			Start:  a.Start,
			End:    a.End,
			Action: a.Action,
			Result: a.Result,
		})
	}
	if diagnostics != nil {
		file.Diagnostics = writeDiagnostics(*diagnostics)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&file); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return nil
}

func writeTraceMetadata(md model.TraceMetadata) jsonTraceMetadata {
	return jsonTraceMetadata{
		NodeName:  md.NodeName,
		ProcessID: md.ProcessID,
		TaskID:    md.TaskID,
		Timestamp: md.Timestamp,
	}
}

func writeDiagnostics(d mapping.Diagnostics) *jsonDiagnostics {
	missing := make([]jsonMissingKey, 0, len(d.MissingKeys))
	for key, count := range d.MissingKeys {
		missing = append(missing, jsonMissingKey{
			ProcessID:   key.ProcessID,
			CallbackRef: key.CallbackRef,
			Count:       count,
		})
	}
	// map order is random, keep the output stable
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].ProcessID != missing[j].ProcessID {
			return missing[i].ProcessID < missing[j].ProcessID
		}
		return missing[i].CallbackRef < missing[j].CallbackRef
	})

	return &jsonDiagnostics{
		Records:               d.Records,
		IgnoredRecords:        d.IgnoredRecords,
		MalformedRecords:      d.MalformedRecords,
		MissingCallbacks:      d.MissingCallbacks,
		MissingKeys:           missing,
		UnmatchedEnds:         d.UnmatchedEnds,
		UnfinishedInvocations: d.UnfinishedInvocations,
		OverwrittenStarts:     d.OverwrittenStarts,
		NamingConflicts:       d.NamingConflicts,
		SynthesizedFunctions:  d.SynthesizedFunctions,
	}
}
