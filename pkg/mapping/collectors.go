package mapping

import "github.com/omaskery/tracemap/pkg/model"

// Collectors accumulates observations that need no correlation
type Collectors struct {
	tasks        []model.TaskRecord
	runtime      []model.RuntimeStatRecord
	messageTrace []model.MessageTraceRecord
	delays       []model.DelayRecord
}

func (c *Collectors) AddTask(md model.TraceMetadata, taskName string) {
	c.tasks = append(c.tasks, model.TaskRecord{TraceMetadata: md, TaskName: taskName})
}

// RuntimeStat selects which scheduler statistic a value is
type RuntimeStat int

const (
	StatOnCPU RuntimeStat = iota
	StatWait
	StatSleep
)

// AddRuntimeStat records a scheduler statistic for the task named comm
func (c *Collectors) AddRuntimeStat(md model.TraceMetadata, comm string, pid int64, stat RuntimeStat, value int64) {
	md.NodeName = comm
	r := model.RuntimeStatRecord{TraceMetadata: md, PID: pid}
	switch stat {
	case StatOnCPU:
		r.OnCPU = &value
	case StatWait:
		r.WaitTime = &value
	case StatSleep:
		r.SleepTime = &value
	}
	c.runtime = append(c.runtime, r)
}

func (c *Collectors) AddMessage(md model.TraceMetadata, name string, ref, receiptTime int64) {
	c.messageTrace = append(c.messageTrace, model.MessageTraceRecord{
		TraceMetadata: md,
		MessageName:   name,
		CallbackRef:   ref,
		ReceiptTime:   receiptTime,
	})
}

// AddQueueDelay records the time between a callback being queued at the given wall clock time
// and md.Timestamp. Both clocks must share an epoch for the result to be meaningful.
func (c *Collectors) AddQueueDelay(md model.TraceMetadata, queueName string, ref, startSec, startNsec int64) {
	c.delays = append(c.delays, model.DelayRecord{
		TraceMetadata: md,
		QueueName:     queueName,
		CallbackRef:   ref,
		Delay:         md.Timestamp - (startSec*1e9 + startNsec),
	})
}
