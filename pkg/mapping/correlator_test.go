package mapping_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/omaskery/tracemap/pkg/mapping"
	"github.com/omaskery/tracemap/pkg/model"
	"github.com/omaskery/tracemap/pkg/record"
)

var _ = Describe("Invocation correlation", func() {
	var records []record.Record
	var result model.ResultAggregate
	var diag mapping.Diagnostics
	var err error

	BeforeEach(func() {
		records = nil
	})

	JustBeforeEach(func() {
		result, diag, err = mapping.Map(record.FromSlice(records...))
		Expect(err).To(Succeed())
	})

	findFunction := func(ref int64) (model.FunctionDescriptor, bool) {
		for _, fd := range result.Functions {
			if fd.CallbackRef == ref {
				return fd, true
			}
		}
		return model.FunctionDescriptor{}, false
	}

	When("a named callback starts and ends", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindPtrNameInfo, 1, 10, "myNode::onMsg"),
				callback(mapping.KindCallbackStart, 100, 10, 1000),
				callback(mapping.KindCallbackEnd, 150, 10, 1400),
			}
		})

		It("emits one invocation with duration and cycles", func() {
			Expect(result.Invocations).To(Equal([]model.InvocationRecord{{
				TraceMetadata: model.TraceMetadata{
					NodeName:  testNode,
					ProcessID: testPid,
					TaskID:    testPid + 1,
					Timestamp: 100,
				},
				CallbackRef: 10,
				Duration:    50,
				CPUCycles:   400,
				TraceID:     0,
			}}))
			Expect(diag.UnfinishedInvocations).To(BeZero())
		})
	})

	When("the same callback runs repeatedly", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindPtrNameInfo, 1, 10, "myNode::onMsg"),
				callbackWithTraceID(mapping.KindCallbackStart, 100, 10, 0, 3),
				callbackWithTraceID(mapping.KindCallbackEnd, 110, 10, 0, 3),
				callbackWithTraceID(mapping.KindCallbackStart, 200, 10, 0, 4),
				callbackWithTraceID(mapping.KindCallbackEnd, 230, 10, 0, 4),
			}
		})

		It("emits one invocation per pair with its trace id", func() {
			Expect(result.Invocations).To(HaveLen(2))
			Expect(result.Invocations[0].Duration).To(Equal(int64(10)))
			Expect(result.Invocations[0].TraceID).To(Equal(int64(3)))
			Expect(result.Invocations[1].Duration).To(Equal(int64(30)))
			Expect(result.Invocations[1].TraceID).To(Equal(int64(4)))
		})
	})

	When("the trace id is reported under its alternative field", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindPtrNameInfo, 1, 10, "myNode::onMsg"),
				callback(mapping.KindCallbackStart, 100, 10, 0),
				event(mapping.KindCallbackEnd, 120, map[string]interface{}{
					"callback_ref":       int64(10),
					"perf_thread_cycles": int64(0),
					"tracing_id":         int64(9),
				}),
			}
		})

		It("is still picked up", func() {
			Expect(result.Invocations).To(HaveLen(1))
			Expect(result.Invocations[0].TraceID).To(Equal(int64(9)))
		})
	})

	When("an end arrives for a known callback that never started", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindPtrNameInfo, 1, 10, "myNode::onMsg"),
				callback(mapping.KindCallbackEnd, 150, 10, 1400),
			}
		})

		It("emits nothing and counts one unmatched end", func() {
			Expect(result.Invocations).To(BeEmpty())
			Expect(diag.UnmatchedEnds).To(Equal(1))
			Expect(diag.MissingCallbacks).To(BeZero())
		})
	})

	When("an end arrives for a callback that was never named", func() {
		BeforeEach(func() {
			records = []record.Record{
				callback(mapping.KindCallbackStart, 100, 10, 0),
				callback(mapping.KindCallbackEnd, 150, 10, 0),
			}
		})

		It("drops the invocation and records the missing key", func() {
			Expect(result.Invocations).To(BeEmpty())
			Expect(diag.MissingCallbacks).To(Equal(1))
			Expect(diag.MissingKeys).To(HaveKeyWithValue(model.ProcessScopedKey{ProcessID: testPid, CallbackRef: 10}, 1))
			Expect(diag.UnfinishedInvocations).To(Equal(1))
		})
	})

	When("an unnamed callback carries a trace id", func() {
		BeforeEach(func() {
			records = []record.Record{
				callbackWithTraceID(mapping.KindCallbackStart, 100, 10, 0, 7),
				callbackWithTraceID(mapping.KindCallbackEnd, 150, 10, 0, 7),
			}
		})

		It("synthesizes a name from the process and callback", func() {
			fd, ok := findFunction(10)
			Expect(ok).To(BeTrue())
			Expect(fd.FunctionName).To(Equal("talker::10"))
			Expect(fd.Trigger).To(Equal(model.TriggerUnspecified))
			Expect(result.Invocations).To(HaveLen(1))
			Expect(diag.SynthesizedFunctions).To(Equal(1))
		})
	})

	When("a timer fires through the callback queue", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindTimerAdded, 1, 10, "myNode::onTimer"),
				timerScheduled(5, 99, 10),
				callback(mapping.KindCallbackStart, 10, 99, 100),
				callback(mapping.KindCallbackEnd, 30, 99, 160),
			}
		})

		It("attributes the invocation to the timer callback", func() {
			Expect(result.Invocations).To(HaveLen(1))
			Expect(result.Invocations[0].CallbackRef).To(Equal(int64(10)))
			Expect(result.Invocations[0].Duration).To(Equal(int64(20)))
			Expect(result.Invocations[0].CPUCycles).To(Equal(int64(60)))
			Expect(diag.MissingCallbacks).To(BeZero())
		})

		It("keeps the timer trigger", func() {
			fd, ok := findFunction(10)
			Expect(ok).To(BeTrue())
			Expect(fd.Trigger).To(Equal(model.TriggerTime))
		})
	})

	When("a timer is scheduled without having been named", func() {
		BeforeEach(func() {
			records = []record.Record{
				timerScheduled(5, 99, 10),
				callback(mapping.KindCallbackStart, 10, 99, 0),
				callback(mapping.KindCallbackEnd, 30, 99, 0),
			}
		})

		It("creates a fallback descriptor and still correlates", func() {
			fd, ok := findFunction(10)
			Expect(ok).To(BeTrue())
			Expect(fd.FunctionName).To(Equal("timer-auto-10"))
			Expect(fd.Trigger).To(Equal(model.TriggerTime))
			Expect(result.Invocations).To(HaveLen(1))
			Expect(result.Invocations[0].CallbackRef).To(Equal(int64(10)))
		})
	})

	When("a subscription queue entry looks like a callback", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindPtrNameInfo, 1, 10, "myNode::onMsg"),
				subscriptionQueued(5, 10),
				callback(mapping.KindCallbackStart, 10, 10, 0),
				callback(mapping.KindCallbackEnd, 30, 10, 0),
			}
		})

		It("never produces an invocation", func() {
			Expect(result.Invocations).To(BeEmpty())
			Expect(diag.UnmatchedEnds).To(BeZero())
			Expect(diag.MissingCallbacks).To(BeZero())
			Expect(diag.UnfinishedInvocations).To(BeZero())
		})
	})

	When("a start is never closed", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindPtrNameInfo, 1, 10, "myNode::onMsg"),
				callback(mapping.KindCallbackStart, 10, 10, 0),
			}
		})

		It("reports it as unfinished", func() {
			Expect(result.Invocations).To(BeEmpty())
			Expect(diag.UnfinishedInvocations).To(Equal(1))
		})
	})

	When("a callback starts twice before ending", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindPtrNameInfo, 1, 10, "myNode::onMsg"),
				callback(mapping.KindCallbackStart, 10, 10, 100),
				callback(mapping.KindCallbackStart, 20, 10, 150),
				callback(mapping.KindCallbackEnd, 35, 10, 200),
			}
		})

		It("pairs the end with the latest start", func() {
			Expect(result.Invocations).To(HaveLen(1))
			Expect(result.Invocations[0].Timestamp).To(Equal(int64(20)))
			Expect(result.Invocations[0].Duration).To(Equal(int64(15)))
			Expect(result.Invocations[0].CPUCycles).To(Equal(int64(50)))
			Expect(diag.OverwrittenStarts).To(Equal(1))
		})
	})

	When("subscriber callbacks report start and end directly", func() {
		BeforeEach(func() {
			records = []record.Record{
				callback(mapping.KindSubscriberCallbackStart, 10, 42, 0),
				callbackWithTraceID(mapping.KindSubscriberCallbackEnd, 25, 42, 90, 2),
				callback(mapping.KindSubscriberCallbackEnd, 40, 42, 0),
			}
		})

		It("pairs them without needing a name", func() {
			Expect(result.Invocations).To(HaveLen(1))
			Expect(result.Invocations[0].CallbackRef).To(Equal(int64(42)))
			Expect(result.Invocations[0].Duration).To(Equal(int64(15)))
			Expect(result.Invocations[0].CPUCycles).To(Equal(int64(90)))
			Expect(result.Invocations[0].TraceID).To(Equal(int64(2)))
			Expect(diag.UnmatchedEnds).To(Equal(1))
		})
	})

	When("a subscription is named by a placeholder and later by the callback", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindSubscriberCallbackAdded, 1, 10, "ros::TopicManager::addSubCallback"),
				nameInfo(mapping.KindPtrNameInfo, 2, 10, "myNode::onMsg"),
			}
		})

		It("ends with one data-triggered descriptor carrying the callback name", func() {
			Expect(result.Functions).To(HaveLen(1))
			Expect(result.Functions[0].FunctionName).To(Equal("myNode::onMsg"))
			Expect(result.Functions[0].Trigger).To(Equal(model.TriggerData))
		})
	})

	When("a timer queue entry is reused after the timer fired", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindTimerAdded, 1, 10, "myNode::onTimer"),
				timerScheduled(5, 99, 10),
				callback(mapping.KindCallbackStart, 10, 99, 0),
				callback(mapping.KindCallbackEnd, 30, 99, 0),
				nameInfo(mapping.KindPtrNameInfo, 40, 99, "other::cb"),
				callback(mapping.KindCallbackStart, 50, 99, 0),
				callback(mapping.KindCallbackEnd, 55, 99, 0),
			}
		})

		It("attributes the later invocation to the entry's own callback", func() {
			Expect(result.Invocations).To(HaveLen(2))
			Expect(result.Invocations[0].CallbackRef).To(Equal(int64(10)))
			Expect(result.Invocations[0].Duration).To(Equal(int64(20)))
			Expect(result.Invocations[1].CallbackRef).To(Equal(int64(99)))
			Expect(result.Invocations[1].Duration).To(Equal(int64(5)))
			Expect(diag.UnmatchedEnds).To(BeZero())
		})
	})

	When("a timer queue entry is also marked as a queued subscription", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindTimerAdded, 1, 10, "myNode::onTimer"),
				timerScheduled(5, 99, 10),
				subscriptionQueued(6, 99),
				callback(mapping.KindCallbackStart, 10, 99, 0),
				callback(mapping.KindCallbackEnd, 30, 99, 0),
			}
		})

		It("follows the alias", func() {
			Expect(result.Invocations).To(HaveLen(1))
			Expect(result.Invocations[0].CallbackRef).To(Equal(int64(10)))
			Expect(result.Invocations[0].Duration).To(Equal(int64(20)))
		})
	})

	When("a callback is marked as a queued subscription while running", func() {
		BeforeEach(func() {
			records = []record.Record{
				nameInfo(mapping.KindPtrNameInfo, 1, 10, "myNode::onMsg"),
				callback(mapping.KindCallbackStart, 10, 10, 0),
				subscriptionQueued(15, 10),
				callback(mapping.KindCallbackEnd, 30, 10, 0),
			}
		})

		It("ignores the end and leaves the start open", func() {
			Expect(result.Invocations).To(BeEmpty())
			Expect(diag.UnmatchedEnds).To(BeZero())
			Expect(diag.MissingCallbacks).To(BeZero())
			Expect(diag.UnfinishedInvocations).To(Equal(1))
		})
	})

	When("a callback with a synthesized name is named later", func() {
		BeforeEach(func() {
			records = []record.Record{
				callbackWithTraceID(mapping.KindCallbackStart, 10, 7, 0, 3),
				callbackWithTraceID(mapping.KindCallbackEnd, 20, 7, 0, 3),
				nameInfo(mapping.KindPtrNameInfo, 30, 7, "talker::onMsg"),
			}
		})

		It("takes the real name without a conflict", func() {
			Expect(result.Functions).To(HaveLen(1))
			Expect(result.Functions[0].FunctionName).To(Equal("talker::onMsg"))
			Expect(diag.NamingConflicts).To(BeZero())
			Expect(diag.SynthesizedFunctions).To(Equal(1))
		})
	})

	When("a timer with a fallback name is named later", func() {
		BeforeEach(func() {
			records = []record.Record{
				timerScheduled(5, 99, 10),
				nameInfo(mapping.KindTimerAdded, 6, 10, "myNode::onTimer"),
				nameInfo(mapping.KindPtrNameInfo, 7, 10, "other::onTimer"),
			}
		})

		It("replaces the fallback once and keeps the first real name", func() {
			fd, ok := findFunction(10)
			Expect(ok).To(BeTrue())
			Expect(fd.FunctionName).To(Equal("myNode::onTimer"))
			Expect(fd.Trigger).To(Equal(model.TriggerTime))
			Expect(diag.NamingConflicts).To(Equal(1))
		})
	})
})
