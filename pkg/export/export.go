// export renders a correlated trace as Trace Event Format events for chrome://tracing or Perfetto
package export

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-logr/logr"

	"github.com/omaskery/tracemap/pkg/events"
	tio "github.com/omaskery/tracemap/pkg/io"
	"github.com/omaskery/tracemap/pkg/mapping"
	"github.com/omaskery/tracemap/pkg/model"
)

// ActionsProcessID is the track that action intervals are drawn on
const ActionsProcessID = int64(-1)

const nsPerUs = 1000

type ExporterOption = func(e *Exporter)

type ErrorHandler = func(err error)

// NameFormatter rewrites function names before they are shown
type NameFormatter = func(name string) string

func WithLogger(logger logr.Logger) ExporterOption {
	return func(e *Exporter) {
		e.logger = logger
	}
}

func WithErrorHandler(handler ErrorHandler) ExporterOption {
	return func(e *Exporter) {
		e.errHandler = handler
	}
}

func WithNameFormatter(f NameFormatter) ExporterOption {
	return func(e *Exporter) {
		e.formatName = f
	}
}

type Exporter struct {
	stream     tio.EventWriter
	logger     logr.Logger
	errHandler ErrorHandler
	formatName NameFormatter
	failures   int
}

func NewExporter(stream tio.EventWriter, options ...ExporterOption) *Exporter {
	e := &Exporter{
		stream:     stream,
		logger:     logr.Discard(),
		formatName: func(name string) string { return name },
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func ExporterToWriter(w io.WriteCloser, options ...ExporterOption) *Exporter {
	return NewExporter(tio.NewStreamingWriter(w), options...)
}

func ExportToFile(path string, options ...ExporterOption) (*Exporter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return ExporterToWriter(f, options...), nil
}

func (e *Exporter) Close() error {
	if err := e.stream.Close(); err != nil {
		return fmt.Errorf("error closing stream writer: %w", err)
	}
	return nil
}

// Failures is the number of events that could not be written
func (e *Exporter) Failures() int {
	return e.failures
}

// Export writes every table of result as trace events: process and thread names first, then
// invocations, messages, delays, runtime statistics and actions. Write failures are reported
// to the error handler and counted, the export carries on regardless.
func (e *Exporter) Export(result model.ResultAggregate) {
	names := newNameIndex(result.Functions)

	e.writeProcessNames(result)
	for _, t := range result.Tasks {
		e.writeEvent(&events.MetadataThreadName{
			EventCore:  eventCore("", t.TraceMetadata),
			ThreadName: t.TaskName,
		})
	}

	for _, ir := range result.Invocations {
		core := eventCore(e.formatName(names.name(ir.TraceMetadata, ir.CallbackRef)), ir.TraceMetadata)
		core.Categories = []string{"callback"}
		if fd, ok := names.descriptor(ir.Key()); ok {
			core.Categories = append(core.Categories, string(fd.Trigger))
		}
		e.writeEvent(&events.Complete{
			EventWithArgs: events.EventWithArgs{
				EventCore: core,
				Args: map[string]interface{}{
					"callback_ref": ir.CallbackRef,
					"cpu_cycles":   ir.CPUCycles,
					"trace_id":     ir.TraceID,
				},
			},
			Duration: ir.Duration / nsPerUs,
		})
	}

	for _, m := range result.MessageTrace {
		core := eventCore(m.MessageName, m.TraceMetadata)
		core.Categories = []string{"message"}
		e.writeEvent(&events.Instant{
			EventWithArgs: events.EventWithArgs{
				EventCore: core,
				Args: map[string]interface{}{
					"callback_ref": m.CallbackRef,
					"receipt_time": m.ReceiptTime,
				},
			},
			Scope: events.InstantScopeThread,
		})
	}

	for _, d := range result.Delays {
		core := eventCore("queue_delay "+d.QueueName, d.TraceMetadata)
		core.ThreadID = nil
		core.Categories = []string{"delay"}
		e.writeEvent(&events.Counter{
			EventCore: core,
			Values:    map[string]float64{"delay_us": float64(d.Delay) / nsPerUs},
		})
	}

	for _, r := range result.Runtime {
		e.writeRuntimeStat(r)
	}

	if len(result.Actions) > 0 {
		e.writeActions(result.Actions)
	}
}

func (e *Exporter) writeProcessNames(result model.ResultAggregate) {
	nodes := map[int64]string{}
	note := func(md model.TraceMetadata) {
		if _, ok := nodes[md.ProcessID]; !ok && md.NodeName != "" {
			nodes[md.ProcessID] = md.NodeName
		}
	}
	for _, fd := range result.Functions {
		note(fd.TraceMetadata)
	}
	for _, ir := range result.Invocations {
		note(ir.TraceMetadata)
	}
	for _, t := range result.Tasks {
		note(t.TraceMetadata)
	}

	pids := make([]int64, 0, len(nodes))
	for pid := range nodes {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	for _, pid := range pids {
		pid := pid // per-iteration copy; go.mod targets go1.21 loop semantics
		e.writeEvent(&events.MetadataProcessName{
			EventCore:   events.EventCore{ProcessID: &pid},
			ProcessName: nodes[pid],
		})
	}
}

func (e *Exporter) writeRuntimeStat(r model.RuntimeStatRecord) {
	values := map[string]float64{}
	if r.OnCPU != nil {
		values["on_cpu"] = float64(*r.OnCPU)
	}
	if r.WaitTime != nil {
		values["wait"] = float64(*r.WaitTime)
	}
	if r.SleepTime != nil {
		values["sleep"] = float64(*r.SleepTime)
	}

	pid := r.PID
	e.writeEvent(&events.Counter{
		EventCore: events.EventCore{
			Name:       "runtime " + r.NodeName,
			Categories: []string{"runtime"},
			Timestamp:  r.Timestamp / nsPerUs,
			ProcessID:  &pid,
		},
		Values: values,
	})
}

func (e *Exporter) writeActions(actions []model.ActionInterval) {
	pid := ActionsProcessID
	e.writeEvent(&events.MetadataProcessName{
		EventCore:   events.EventCore{ProcessID: &pid},
		ProcessName: "actions",
	})
	e.writeEvent(&events.MetadataProcessSortIndex{
		EventCore: events.EventCore{ProcessID: &pid},
		SortIndex: -1,
	})

	for _, a := range actions {
		outcome := "failed"
		if a.Result {
			outcome = "succeeded"
		}
		e.writeEvent(&events.Complete{
			EventWithArgs: events.EventWithArgs{
				EventCore: events.EventCore{
					Name:       a.Action,
					Categories: []string{"action"},
					Timestamp:  a.Start / nsPerUs,
					ProcessID:  &pid,
				},
				Args: map[string]interface{}{
					"result": outcome,
				},
			},
			Duration: (a.End - a.Start) / nsPerUs,
		})
	}
}

func eventCore(name string, md model.TraceMetadata) events.EventCore {
	pid := md.ProcessID
	tid := md.TaskID
	return events.EventCore{
		Name:      name,
		Timestamp: md.Timestamp / nsPerUs,
		ProcessID: &pid,
		ThreadID:  &tid,
	}
}

func (e *Exporter) writeEvent(ev events.Event) {
	err := e.stream.Write(ev)
	if err != nil {
		e.handleError(fmt.Sprintf("failed to write %s event", ev.Phase()), err)
	}
}

func (e *Exporter) handleError(context string, err error) {
	e.failures++
	e.logger.Error(err, context)
	err = fmt.Errorf("%s: %w", context, err)
	if e.errHandler != nil {
		(e.errHandler)(err)
	}
}

type nameIndex struct {
	functions map[model.ProcessScopedKey]model.FunctionDescriptor
}

func newNameIndex(functions []model.FunctionDescriptor) nameIndex {
	ni := nameIndex{functions: make(map[model.ProcessScopedKey]model.FunctionDescriptor, len(functions))}
	for _, fd := range functions {
		ni.functions[fd.Key()] = fd
	}
	return ni
}

func (ni nameIndex) descriptor(key model.ProcessScopedKey) (model.FunctionDescriptor, bool) {
	fd, ok := ni.functions[key]
	return fd, ok
}

// name labels a callback of the process in md, falling back to the node name and reference
// for callbacks that were never meaningfully named
func (ni nameIndex) name(md model.TraceMetadata, ref int64) string {
	fd, ok := ni.functions[model.ProcessScopedKey{ProcessID: md.ProcessID, CallbackRef: ref}]
	if ok && fd.FunctionName != "" && !mapping.IsPlaceholderName(fd.FunctionName) {
		return fd.FunctionName
	}
	return fmt.Sprintf("%s::%d", md.NodeName, ref)
}
