package mapping

import (
	"github.com/omaskery/tracemap/pkg/model"
	"github.com/omaskery/tracemap/pkg/record"
)

// Event kinds handled by the Mapper
const (
	KindSubscriberCallbackStart   = "roscpp:subscriber_callback_start"
	KindSubscriberCallbackEnd     = "roscpp:subscriber_callback_end"
	KindSubscriberCallbackAdded   = "roscpp:subscriber_callback_added"
	KindSubscriptionMessageQueued = "roscpp:subscription_message_queued"
	KindTimerAdded                = "roscpp:timer_added"
	KindTimerScheduled            = "roscpp:timer_scheduled"
	KindCallbackStart             = "roscpp:callback_start"
	KindCallbackEnd               = "roscpp:callback_end"
	KindPtrNameInfo               = "roscpp:ptr_name_info"
	KindTaskStart                 = "roscpp:task_start"
	KindTf2TaskStart              = "tf2:task_start"
	KindQueueDelay                = "roscpp:queue_delay"
	KindMessageProcessed          = "roscpp:message_processed"
	KindPublisherMessageQueued    = "roscpp:publisher_message_queued"
	KindSchedStatRuntime          = "sched_stat_runtime"
	KindSchedStatWait             = "sched_stat_wait"
	KindSchedStatSleep            = "sched_stat_sleep"
)

const (
	fieldProcName         = "procname"
	fieldVPID             = "vpid"
	fieldPID              = "pid"
	fieldVTID             = "vtid"
	fieldTID              = "tid"
	fieldCallbackRef      = "callback_ref"
	fieldQueueCallbackRef = "callback_queue_cb_ref"
	fieldQueueRef         = "queue_ref"
	fieldCycles           = "perf_thread_cycles"
	fieldTraceID          = "trace_id"
	fieldTracingID        = "tracing_id"
	fieldTypeInfo         = "type_info"
	fieldFunctionName     = "function_name"
	fieldTaskName         = "task_name"
	fieldQueueName        = "queue_name"
	fieldStartTimeSec     = "start_time_sec"
	fieldStartTimeNsec    = "start_time_nsec"
	fieldMessageName      = "message_name"
	fieldReceiptTimeSec   = "receipt_time_sec"
	fieldReceiptTimeNsec  = "receipt_time_nsec"
	fieldTopic            = "topic"
	fieldBufferRef        = "buffer_ref"
	fieldComm             = "comm"
	fieldRuntime          = "runtime"
	fieldDelay            = "delay"
)

func metadataFor(r record.Record, timestamp int64) (model.TraceMetadata, error) {
	pid, err := r.FirstInt(0, fieldVPID, fieldPID)
	if err != nil {
		return model.TraceMetadata{}, err
	}
	tid, err := r.FirstInt(0, fieldVTID, fieldTID)
	if err != nil {
		return model.TraceMetadata{}, err
	}
	return model.TraceMetadata{
		NodeName:  r.StringOr(fieldProcName, ""),
		ProcessID: pid,
		TaskID:    tid,
		Timestamp: timestamp,
	}, nil
}

func keyFor(r record.Record, md model.TraceMetadata, refField string) (model.ProcessScopedKey, error) {
	ref, err := r.Int(refField)
	if err != nil {
		return model.ProcessScopedKey{}, err
	}
	return model.ProcessScopedKey{ProcessID: md.ProcessID, CallbackRef: ref}, nil
}

// callbackEvent reads the fields shared by all callback start/end kinds
func callbackEvent(r record.Record, md model.TraceMetadata) (key model.ProcessScopedKey, cycles, traceID int64, err error) {
	if key, err = keyFor(r, md, fieldCallbackRef); err != nil {
		return
	}
	if cycles, err = r.IntOr(fieldCycles, 0); err != nil {
		return
	}
	traceID, err = r.FirstInt(0, fieldTraceID, fieldTracingID)
	return
}

func triggerFor(kind string) model.Trigger {
	switch kind {
	case KindSubscriberCallbackAdded:
		return model.TriggerData
	case KindTimerAdded:
		return model.TriggerTime
	}
	return model.TriggerUnspecified
}

func (m *Mapper) handleNameInfo(r record.Record, md model.TraceMetadata) error {
	kind, _ := r.Name()
	nameField := fieldFunctionName
	if kind == KindSubscriberCallbackAdded {
		nameField = fieldTypeInfo
	}
	rawName, err := r.String(nameField)
	if err != nil {
		return err
	}
	key, err := keyFor(r, md, fieldCallbackRef)
	if err != nil {
		return err
	}
	m.registry.Register(md, key, rawName, triggerFor(kind))
	return nil
}

func (m *Mapper) handleTimerScheduled(r record.Record, md model.TraceMetadata) error {
	queueKey, err := keyFor(r, md, fieldQueueCallbackRef)
	if err != nil {
		return err
	}
	realKey, err := keyFor(r, md, fieldCallbackRef)
	if err != nil {
		return err
	}
	m.correlator.TimerScheduled(md, queueKey, realKey)
	return nil
}

func (m *Mapper) handleSubscriptionMessageQueued(r record.Record, md model.TraceMetadata) error {
	key, err := keyFor(r, md, fieldQueueRef)
	if err != nil {
		return err
	}
	m.correlator.SubscriptionQueued(key)
	return nil
}

func (m *Mapper) handleCallbackStart(r record.Record, md model.TraceMetadata) error {
	key, cycles, traceID, err := callbackEvent(r, md)
	if err != nil {
		return err
	}
	m.correlator.CallStart(md, key, cycles, traceID)
	return nil
}

func (m *Mapper) handleCallbackEnd(r record.Record, md model.TraceMetadata) error {
	key, cycles, traceID, err := callbackEvent(r, md)
	if err != nil {
		return err
	}
	m.correlator.CallEnd(md, key, cycles, traceID)
	return nil
}

func (m *Mapper) handleSubscriberCallbackStart(r record.Record, md model.TraceMetadata) error {
	key, cycles, _, err := callbackEvent(r, md)
	if err != nil {
		return err
	}
	m.correlator.SubscriberCallbackStart(md, key, cycles)
	return nil
}

func (m *Mapper) handleSubscriberCallbackEnd(r record.Record, md model.TraceMetadata) error {
	key, cycles, traceID, err := callbackEvent(r, md)
	if err != nil {
		return err
	}
	m.correlator.SubscriberCallbackEnd(md, key, cycles, traceID)
	return nil
}

func (m *Mapper) handleTaskStart(r record.Record, md model.TraceMetadata) error {
	name, err := r.String(fieldTaskName)
	if err != nil {
		return err
	}
	m.collectors.AddTask(md, name)
	return nil
}

func (m *Mapper) handleQueueDelay(r record.Record, md model.TraceMetadata) error {
	queueName, err := r.String(fieldQueueName)
	if err != nil {
		return err
	}
	ref, err := r.Int(fieldCallbackRef)
	if err != nil {
		return err
	}
	sec, err := r.Int(fieldStartTimeSec)
	if err != nil {
		return err
	}
	nsec, err := r.Int(fieldStartTimeNsec)
	if err != nil {
		return err
	}
	m.collectors.AddQueueDelay(md, queueName, ref, sec, nsec)
	return nil
}

func (m *Mapper) handleMessageProcessed(r record.Record, md model.TraceMetadata) error {
	name, err := r.String(fieldMessageName)
	if err != nil {
		return err
	}
	ref, err := r.Int(fieldCallbackRef)
	if err != nil {
		return err
	}
	sec, err := r.Int(fieldReceiptTimeSec)
	if err != nil {
		return err
	}
	nsec, err := r.Int(fieldReceiptTimeNsec)
	if err != nil {
		return err
	}
	m.collectors.AddMessage(md, name, ref, sec*1e9+nsec)
	return nil
}

func (m *Mapper) handlePublisherMessageQueued(r record.Record, md model.TraceMetadata) error {
	topic, err := r.String(fieldTopic)
	if err != nil {
		return err
	}
	ref, err := r.Int(fieldBufferRef)
	if err != nil {
		return err
	}
	m.collectors.AddMessage(md, topic, ref, md.Timestamp)
	return nil
}

func (m *Mapper) handleSchedStat(stat RuntimeStat, valueField string) handlerFunc {
	return func(r record.Record, md model.TraceMetadata) error {
		comm, err := r.String(fieldComm)
		if err != nil {
			return err
		}
		pid, err := r.Int(fieldPID)
		if err != nil {
			return err
		}
		value, err := r.Int(valueField)
		if err != nil {
			return err
		}
		m.collectors.AddRuntimeStat(md, comm, pid, stat, value)
		return nil
	}
}
