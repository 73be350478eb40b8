// record provides the flat, loosely typed key/value observations produced by a trace reader
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

const (
	// FieldName is the mandatory field carrying the event kind
	FieldName = "_name"
	// FieldTimestamp is the mandatory field carrying the monotonic timestamp in nanoseconds
	FieldTimestamp = "_timestamp"
)

var (
	ErrMissingField    = errors.New("record is missing a required field")
	ErrInvalidDataType = errors.New("record field does not match expected type")
	ErrNotIntegral     = errors.New("record field is not an integral number")
)

// Record is a single trace event: a kind tag, a timestamp and arbitrary named fields.
// Records are immutable once constructed.
type Record struct {
	fields map[string]interface{}
}

// New copies fields into a new Record
func New(fields map[string]interface{}) Record {
	r := Record{fields: make(map[string]interface{}, len(fields))}
	for k, v := range fields {
		r.fields[k] = v
	}
	return r
}

// Has reports whether the field is present
func (r Record) Has(field string) bool {
	_, ok := r.fields[field]
	return ok
}

// Get returns the raw value of a field
func (r Record) Get(field string) (interface{}, bool) {
	v, ok := r.fields[field]
	return v, ok
}

// Fields returns the names of all fields present in the record
func (r Record) Fields() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	return names
}

// Name returns the event kind
func (r Record) Name() (string, error) {
	return r.String(FieldName)
}

// Timestamp returns the event timestamp in nanoseconds
func (r Record) Timestamp() (int64, error) {
	return r.Int(FieldTimestamp)
}

// String requires a string field
func (r Record) String(field string) (string, error) {
	v, ok := r.fields[field]
	if !ok {
		return "", fmt.Errorf("string '%s' expected but was not found: %w", field, ErrMissingField)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string for '%s', got '%v': %w", field, v, ErrInvalidDataType)
	}
	return s, nil
}

// StringOr returns the string field, or def when it is absent or not a string
func (r Record) StringOr(field, def string) string {
	s, err := r.String(field)
	if err != nil {
		return def
	}
	return s
}

// Int requires an integral numeric field
func (r Record) Int(field string) (int64, error) {
	v, ok := r.fields[field]
	if !ok {
		return 0, fmt.Errorf("integer '%s' expected but was not found: %w", field, ErrMissingField)
	}
	i, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("expected integer for '%s', got '%v': %w", field, v, err)
	}
	return i, nil
}

// IntOr returns the integer field, or def when it is absent
func (r Record) IntOr(field string, def int64) (int64, error) {
	if !r.Has(field) {
		return def, nil
	}
	return r.Int(field)
}

// FirstInt returns the first of the given fields that is present, or def when none are
func (r Record) FirstInt(def int64, fields ...string) (int64, error) {
	for _, field := range fields {
		if r.Has(field) {
			return r.Int(field)
		}
	}
	return def, nil
}

func toInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		// callback references are addresses, keep the bit pattern
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, ErrNotIntegral
		}
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
			return int64(u), nil
		}
		return 0, ErrNotIntegral
	}
	return 0, ErrInvalidDataType
}

// Source supplies records in stream order, returning io.EOF once exhausted
type Source interface {
	Next() (Record, error)
}

// SliceSource is a Source over records that are already in memory
type SliceSource struct {
	records []Record
	pos     int
}

// FromSlice creates a Source yielding the given records in order
func FromSlice(records ...Record) *SliceSource {
	return &SliceSource{records: records}
}

// Next yields the next record or io.EOF
func (s *SliceSource) Next() (Record, error) {
	if s.pos >= len(s.records) {
		return Record{}, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}
