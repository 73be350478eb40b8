package mapping

import (
	"github.com/go-logr/logr"

	"github.com/omaskery/tracemap/pkg/model"
)

// NameResolver turns a raw symbol string into a function name
type NameResolver = func(raw string) string

// placeholderNames are registered by generic subscription plumbing before, or instead of, the
// user callback's real name
var placeholderNames = map[string]struct{}{
	"ros::TopicManager::subscribe":      {},
	"ros::TopicManager::addSubCallback": {},
	"message_filters::Connection":       {},
}

// IsPlaceholderName reports whether name is a generic stand-in rather than a meaningful name
func IsPlaceholderName(name string) bool {
	_, ok := placeholderNames[name]
	return ok
}

// Registry owns the name and trigger of every callback identity discovered in a trace.
// Descriptors are never removed.
type Registry struct {
	resolve   NameResolver
	logger    logr.Logger
	functions []model.FunctionDescriptor
	index     map[model.ProcessScopedKey]int
	fallbacks map[model.ProcessScopedKey]struct{}
	conflicts int
}

func NewRegistry(resolve NameResolver, logger logr.Logger) *Registry {
	return &Registry{
		resolve:   resolve,
		logger:    logger,
		index:     map[model.ProcessScopedKey]int{},
		fallbacks: map[model.ProcessScopedKey]struct{}{},
	}
}

// Known reports whether a descriptor exists for key
func (r *Registry) Known(key model.ProcessScopedKey) bool {
	_, ok := r.index[key]
	return ok
}

// Lookup returns the descriptor for key
func (r *Registry) Lookup(key model.ProcessScopedKey) (model.FunctionDescriptor, bool) {
	idx, ok := r.index[key]
	if !ok {
		return model.FunctionDescriptor{}, false
	}
	return r.functions[idx], true
}

// Register resolves rawName and records it for key. Registering a known key never adds a
// descriptor: an unspecified trigger is upgraded, and the name is replaced only when the
// existing one is a placeholder or a fallback.
func (r *Registry) Register(md model.TraceMetadata, key model.ProcessScopedKey, rawName string, trigger model.Trigger) {
	r.register(md, key, r.resolve(rawName), trigger)
}

func (r *Registry) register(md model.TraceMetadata, key model.ProcessScopedKey, name string, trigger model.Trigger) {
	idx, known := r.index[key]
	if !known {
		r.index[key] = len(r.functions)
		r.functions = append(r.functions, model.FunctionDescriptor{
			TraceMetadata: md,
			FunctionName:  name,
			CallbackRef:   key.CallbackRef,
			Trigger:       trigger,
		})
		return
	}

	fd := &r.functions[idx]
	if fd.Trigger == model.TriggerUnspecified {
		fd.Trigger = trigger
	}

	_, fallback := r.fallbacks[key]
	switch {
	case fd.FunctionName == name || IsPlaceholderName(fd.FunctionName):
		fd.FunctionName = name
	case IsPlaceholderName(name):
	case fallback:
		r.logger.V(1).Info("replacing fallback name for callback",
			"key", key.String(), "fallback", fd.FunctionName, "name", name)
		fd.FunctionName = name
		delete(r.fallbacks, key)
	default:
		r.conflicts++
		r.logger.Info("conflicting names for callback, keeping the first",
			"key", key.String(), "kept", fd.FunctionName, "ignored", name)
	}
}

// registerFallback names an unknown key with a made up name that any later meaningful name
// replaces without a conflict
func (r *Registry) registerFallback(md model.TraceMetadata, key model.ProcessScopedKey, name string, trigger model.Trigger) {
	if r.Known(key) {
		return
	}
	r.register(md, key, name, trigger)
	r.fallbacks[key] = struct{}{}
}

// Functions returns the descriptors in registration order
func (r *Registry) Functions() []model.FunctionDescriptor {
	return r.functions
}

// Conflicts is the number of registrations that tried to rename a callback to a different
// meaningful name
func (r *Registry) Conflicts() int {
	return r.conflicts
}
