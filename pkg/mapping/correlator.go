package mapping

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/omaskery/tracemap/pkg/model"
)

type openInvocation struct {
	start  model.TraceMetadata
	cycles int64
}

// Correlator pairs callback start and end events into invocations.
//
// Timers and subscriber callbacks run through a generic callback queue whose start/end events
// carry the queue entry's reference instead of the callback's. Timer scheduling events map the
// queue entry back to the real callback, one hop. Subscription queue entries share the shape of
// callback starts in older instrumentation and are excluded outright.
type Correlator struct {
	registry *Registry
	logger   logr.Logger

	open       map[model.ProcessScopedKey]openInvocation
	timerAlias map[model.ProcessScopedKey]model.ProcessScopedKey
	excluded   map[model.ProcessScopedKey]struct{}

	invocations []model.InvocationRecord

	missingKeys       map[model.ProcessScopedKey]int
	missing           int
	unmatchedEnds     int
	overwrittenStarts int
	synthesized       int
}

func NewCorrelator(registry *Registry, logger logr.Logger) *Correlator {
	return &Correlator{
		registry:    registry,
		logger:      logger,
		open:        map[model.ProcessScopedKey]openInvocation{},
		timerAlias:  map[model.ProcessScopedKey]model.ProcessScopedKey{},
		excluded:    map[model.ProcessScopedKey]struct{}{},
		missingKeys: map[model.ProcessScopedKey]int{},
	}
}

// TimerScheduled records that callbacks addressed by queueKey actually run realKey. A timer that
// was never named gets a fallback descriptor so its invocations are not dropped.
func (c *Correlator) TimerScheduled(md model.TraceMetadata, queueKey, realKey model.ProcessScopedKey) {
	if !c.registry.Known(realKey) {
		c.logger.Info("timer scheduled without being named", "key", realKey.String())
		c.registry.registerFallback(md, realKey, fmt.Sprintf("timer-auto-%d", realKey.CallbackRef), model.TriggerTime)
		c.synthesized++
	}
	c.timerAlias[queueKey] = realKey
}

// SubscriptionQueued excludes key from callback start/end correlation
func (c *Correlator) SubscriptionQueued(key model.ProcessScopedKey) {
	c.excluded[key] = struct{}{}
}

func (c *Correlator) resolve(raw model.ProcessScopedKey) (model.ProcessScopedKey, bool) {
	if key, ok := c.timerAlias[raw]; ok {
		return key, true
	}
	if _, ok := c.excluded[raw]; ok {
		return raw, false
	}
	return raw, true
}

// CallStart opens an invocation for the callback addressed by raw. An open invocation for the
// same callback is replaced.
func (c *Correlator) CallStart(md model.TraceMetadata, raw model.ProcessScopedKey, cycles, traceID int64) {
	key, ok := c.resolve(raw)
	if !ok {
		return
	}

	if !c.registry.Known(key) && traceID != 0 {
		c.registry.registerFallback(md, key, fmt.Sprintf("%s::%d", md.NodeName, key.CallbackRef), model.TriggerUnspecified)
		c.synthesized++
	}

	c.start(md, key, cycles)
}

// CallEnd closes the open invocation for the callback addressed by raw. A queue entry that
// ended through a timer alias loses the alias, the entry may be reused for another callback.
func (c *Correlator) CallEnd(md model.TraceMetadata, raw model.ProcessScopedKey, cycles, traceID int64) {
	key, ok := c.resolve(raw)
	if !ok {
		return
	}

	if !c.registry.Known(key) {
		c.missingKeys[key]++
		c.missing++
		return
	}

	if c.end(md, key, cycles, traceID) && raw != key {
		delete(c.timerAlias, raw)
	}
}

// SubscriberCallbackStart opens an invocation of a subscriber callback, which is addressed directly
func (c *Correlator) SubscriberCallbackStart(md model.TraceMetadata, key model.ProcessScopedKey, cycles int64) {
	c.start(md, key, cycles)
}

// SubscriberCallbackEnd closes an invocation of a subscriber callback
func (c *Correlator) SubscriberCallbackEnd(md model.TraceMetadata, key model.ProcessScopedKey, cycles, traceID int64) {
	c.end(md, key, cycles, traceID)
}

func (c *Correlator) start(md model.TraceMetadata, key model.ProcessScopedKey, cycles int64) {
	if _, ok := c.open[key]; ok {
		c.overwrittenStarts++
	}
	c.open[key] = openInvocation{start: md, cycles: cycles}
}

func (c *Correlator) end(md model.TraceMetadata, key model.ProcessScopedKey, cycles, traceID int64) bool {
	start, ok := c.open[key]
	if !ok {
		c.unmatchedEnds++
		c.logger.V(1).Info("callback end without start", "key", key.String(), "timestamp", md.Timestamp)
		return false
	}

	c.invocations = append(c.invocations, model.InvocationRecord{
		TraceMetadata: start.start,
		CallbackRef:   key.CallbackRef,
		Duration:      md.Timestamp - start.start.Timestamp,
		CPUCycles:     cycles - start.cycles,
		TraceID:       traceID,
	})
	delete(c.open, key)
	return true
}

// Invocations returns the completed invocations in order of their end events
func (c *Correlator) Invocations() []model.InvocationRecord {
	return c.invocations
}

// Unfinished is the number of invocations currently open
func (c *Correlator) Unfinished() int {
	return len(c.open)
}
