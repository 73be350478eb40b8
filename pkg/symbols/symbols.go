// symbols turns raw symbol strings captured by the instrumentation into readable function names
package symbols

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/elastic/go-freelru"
	"github.com/ianlancetaylor/demangle"
	"github.com/zeebo/xxh3"
)

// DefaultCacheSize is the number of resolved names kept by a Resolver unless configured otherwise
const DefaultCacheSize = 4096

// Demangler converts text containing symbols into human readable text, returning its input
// unchanged when nothing can be parsed
type Demangler = func(text string) string

var (
	mangledToken = regexp.MustCompile(`_Z[0-9A-Za-z_.$]+`)

	// backtrace_symbols(3) format: /path/to/object(function(args)+0xoffset) [0xaddress]
	backtraceLine = regexp.MustCompile(`^(/[^(]+)\(([^(]*)\((.*)\)\+[\dxabcdef]+\) \[.*\]`)

	cosmeticRules = []struct {
		old string
		new string
	}{
		{old: "_<std::allocator<void> >", new: ""},
		{old: "sensor_msgs::", new: ""},
	}

	shortNameRules = []*regexp.Regexp{
		regexp.MustCompile(`^ actionlib::ActionServer<.*::([ >]+)::(.*)$`),
		regexp.MustCompile(`^ (b)ase_(l)ocal_(p)lanner::(.*)$`),
	}
)

// CxxFilt demangles every Itanium C++ mangled token found in text, like c++filt does on a stream
func CxxFilt(text string) string {
	return mangledToken.ReplaceAllStringFunc(text, func(token string) string {
		return demangle.Filter(token)
	})
}

// FunctionFromBacktrace extracts the qualified function name, without its argument list, from a
// demangled backtrace line
func FunctionFromBacktrace(line string) (string, bool) {
	match := backtraceLine.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	return match[2], true
}

// Clean applies the cosmetic rules, in order, to a function name
func Clean(name string) string {
	for _, rule := range cosmeticRules {
		name = strings.ReplaceAll(name, rule.old, rule.new)
	}
	return name
}

// Shorten abbreviates a few well known, very long names for display
func Shorten(name string) string {
	for _, expr := range shortNameRules {
		match := expr.FindStringSubmatch(name)
		if match != nil {
			name = strings.Join(match[1:], "")
		}
	}
	return name
}

type ResolverOption = func(r *Resolver)

// WithDemangler replaces the demangling collaborator, CxxFilt by default
func WithDemangler(d Demangler) ResolverOption {
	return func(r *Resolver) {
		r.demangle = d
	}
}

// WithCacheSize bounds the number of memoised names, zero disables the cache
func WithCacheSize(size uint32) ResolverOption {
	return func(r *Resolver) {
		r.cacheSize = size
	}
}

// Resolver maps raw symbol strings to function names, memoising results since the same
// symbols are registered over and over across a trace. It is not safe for concurrent use.
type Resolver struct {
	demangle  Demangler
	cacheSize uint32
	cache     *lru.LRU[string, string]
}

func NewResolver(options ...ResolverOption) (*Resolver, error) {
	r := &Resolver{
		demangle:  CxxFilt,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range options {
		opt(r)
	}

	if r.cacheSize > 0 {
		cache, err := lru.New[string, string](r.cacheSize, hashString)
		if err != nil {
			return nil, fmt.Errorf("failed to create name cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

// Resolve demangles raw and extracts the cleaned function name. Raw strings that are not
// backtrace lines are returned as they are.
func (r *Resolver) Resolve(raw string) string {
	if r.cache != nil {
		if name, ok := r.cache.Get(raw); ok {
			return name
		}
	}

	name := resolveWith(r.demangle, raw)
	if r.cache != nil {
		r.cache.Add(raw, name)
	}
	return name
}

// Resolve is the uncached form of Resolver.Resolve using CxxFilt
func Resolve(raw string) string {
	return resolveWith(CxxFilt, raw)
}

func resolveWith(demangler Demangler, raw string) string {
	if fn, ok := FunctionFromBacktrace(demangler(raw)); ok {
		return Clean(fn)
	}
	return raw
}

func hashString(s string) uint32 {
	return uint32(xxh3.HashString(s))
}
