// mapping correlates a flat stream of instrumentation records into named functions, their
// invocations, and the auxiliary tables of a trace.
//
// A Mapper handles one pass over one trace: records are routed by their `_name` field to a
// handler, handlers update the function registry and the invocation correlator or append to
// the auxiliary tables, and Finish assembles the result. Records for a process must arrive in
// non-decreasing timestamp order. A Mapper is not safe for concurrent use and cannot be reused.
package mapping

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/omaskery/tracemap/pkg/model"
	"github.com/omaskery/tracemap/pkg/record"
	"github.com/omaskery/tracemap/pkg/symbols"
)

var ErrMapperFinished = errors.New("mapper has already produced its result")

// Diagnostics describes everything that could not be correlated during a pass
type Diagnostics struct {
	// Records is the number of records handled
	Records int
	// IgnoredRecords is the number of records of a kind that has no handler
	IgnoredRecords int
	// MalformedRecords is the number of records skipped for lacking a field their handler needs
	MalformedRecords int
	// MissingCallbacks is the number of callback ends for callbacks that were never named
	MissingCallbacks int
	// MissingKeys counts MissingCallbacks per callback
	MissingKeys map[model.ProcessScopedKey]int
	// UnmatchedEnds is the number of ends of known callbacks that had no open start
	UnmatchedEnds int
	// UnfinishedInvocations is the number of starts never closed by the end of the stream
	UnfinishedInvocations int
	// OverwrittenStarts is the number of starts that replaced a still open start
	OverwrittenStarts int
	// NamingConflicts is the number of attempts to rename a callback to another meaningful name
	NamingConflicts int
	// SynthesizedFunctions is the number of descriptors created with a fallback name
	SynthesizedFunctions int
}

type handlerFunc = func(r record.Record, md model.TraceMetadata) error

type MapperOption = func(m *Mapper)

func WithLogger(logger logr.Logger) MapperOption {
	return func(m *Mapper) {
		m.logger = logger
	}
}

// WithNameResolver replaces the function that turns raw symbols into function names
func WithNameResolver(resolve NameResolver) MapperOption {
	return func(m *Mapper) {
		m.resolve = resolve
	}
}

type Mapper struct {
	logger     logr.Logger
	resolve    NameResolver
	registry   *Registry
	correlator *Correlator
	collectors *Collectors
	handlers   map[string]handlerFunc

	records   int
	ignored   int
	malformed int

	finished    bool
	result      model.ResultAggregate
	diagnostics Diagnostics
}

func NewMapper(options ...MapperOption) *Mapper {
	m := &Mapper{
		logger:     logr.Discard(),
		resolve:    symbols.Resolve,
		collectors: &Collectors{},
	}
	for _, opt := range options {
		opt(m)
	}

	m.registry = NewRegistry(m.resolve, m.logger.WithName("registry"))
	m.correlator = NewCorrelator(m.registry, m.logger.WithName("correlator"))
	m.handlers = map[string]handlerFunc{
		KindSubscriberCallbackStart:   m.handleSubscriberCallbackStart,
		KindSubscriberCallbackEnd:     m.handleSubscriberCallbackEnd,
		KindTimerAdded:                m.handleNameInfo,
		KindTimerScheduled:            m.handleTimerScheduled,
		KindCallbackStart:             m.handleCallbackStart,
		KindCallbackEnd:               m.handleCallbackEnd,
		KindSubscriberCallbackAdded:   m.handleNameInfo,
		KindPtrNameInfo:               m.handleNameInfo,
		KindTaskStart:                 m.handleTaskStart,
		KindTf2TaskStart:              m.handleTaskStart,
		KindQueueDelay:                m.handleQueueDelay,
		KindMessageProcessed:          m.handleMessageProcessed,
		KindPublisherMessageQueued:    m.handlePublisherMessageQueued,
		KindSubscriptionMessageQueued: m.handleSubscriptionMessageQueued,
		KindSchedStatRuntime:          m.handleSchedStat(StatOnCPU, fieldRuntime),
		KindSchedStatWait:             m.handleSchedStat(StatWait, fieldDelay),
		KindSchedStatSleep:            m.handleSchedStat(StatSleep, fieldDelay),
	}
	return m
}

// Map runs a fresh Mapper over every record of src
func Map(src record.Source, options ...MapperOption) (model.ResultAggregate, Diagnostics, error) {
	m := NewMapper(options...)
	err := m.Run(src)
	result, diagnostics := m.Finish()
	return result, diagnostics, err
}

// Run handles records from src until it is exhausted. On error, the records handled so far
// remain available from Finish.
func (m *Mapper) Run(src record.Source) error {
	for {
		r, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read trace record: %w", err)
		}
		if err := m.Handle(r); err != nil {
			return err
		}
	}
}

// Handle routes a single record. Only a record without a valid kind or timestamp is an error;
// unknown kinds are ignored and records missing handler specific fields are skipped.
func (m *Mapper) Handle(r record.Record) error {
	if m.finished {
		return ErrMapperFinished
	}

	kind, err := r.Name()
	if err != nil {
		return fmt.Errorf("invalid trace record: %w", err)
	}
	timestamp, err := r.Timestamp()
	if err != nil {
		return fmt.Errorf("invalid '%s' trace record: %w", kind, err)
	}

	m.records++
	handler, ok := m.handlers[kind]
	if !ok {
		m.ignored++
		return nil
	}

	md, err := metadataFor(r, timestamp)
	if err == nil {
		err = handler(r, md)
	}
	if err != nil {
		m.malformed++
		m.logger.V(1).Info("skipping malformed record", "kind", kind, "timestamp", timestamp, "error", err.Error())
	}
	return nil
}

// Finish assembles the result of the pass. Further records are rejected.
func (m *Mapper) Finish() (model.ResultAggregate, Diagnostics) {
	if m.finished {
		return m.result, m.diagnostics
	}
	m.finished = true

	m.result = model.ResultAggregate{
		Functions:    m.registry.Functions(),
		Invocations:  m.correlator.Invocations(),
		Tasks:        m.collectors.tasks,
		Runtime:      m.collectors.runtime,
		MessageTrace: m.collectors.messageTrace,
		Delays:       m.collectors.delays,
	}
	m.diagnostics = Diagnostics{
		Records:               m.records,
		IgnoredRecords:        m.ignored,
		MalformedRecords:      m.malformed,
		MissingCallbacks:      m.correlator.missing,
		MissingKeys:           m.correlator.missingKeys,
		UnmatchedEnds:         m.correlator.unmatchedEnds,
		UnfinishedInvocations: m.correlator.Unfinished(),
		OverwrittenStarts:     m.correlator.overwrittenStarts,
		NamingConflicts:       m.registry.Conflicts(),
		SynthesizedFunctions:  m.correlator.synthesized,
	}

	if m.diagnostics.UnfinishedInvocations > 0 {
		m.logger.Info("unfinished invocations ignored", "count", m.diagnostics.UnfinishedInvocations)
	}
	for key, count := range m.diagnostics.MissingKeys {
		m.logger.V(1).Info("missing callback", "key", key.String(), "ends", count)
	}

	return m.result, m.diagnostics
}
