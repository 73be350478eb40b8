package io

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/omaskery/tracemap/pkg/model"
	"github.com/omaskery/tracemap/pkg/record"
)

var (
	ErrInvalidDataType = errors.New("data found in file does not match expected type")
	ErrSyntaxError     = errors.New("file format contained a syntax error")
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// JsonArraySource reads records from a JSON array of flat objects. A dump that was cut short,
// and so lacks its closing bracket, ends the stream cleanly after the last complete record.
type JsonArraySource struct {
	decoder *json.Decoder
	started bool
}

func NewJsonArraySource(r io.Reader) *JsonArraySource {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	return &JsonArraySource{decoder: decoder}
}

func (s *JsonArraySource) Next() (record.Record, error) {
	if !s.started {
		t, err := s.decoder.Token()
		if err != nil {
			return record.Record{}, fmt.Errorf("failed to parse first token: %w", err)
		}
		if t != json.Delim('[') {
			return record.Record{}, fmt.Errorf("expected '[' at start of json array format: %w", ErrSyntaxError)
		}
		s.started = true
	}

	if !s.decoder.More() {
		return record.Record{}, io.EOF
	}

	var fields map[string]interface{}
	err := s.decoder.Decode(&fields)
	if isTruncation(err) {
		return record.Record{}, io.EOF
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("error parsing JSON: %w", err)
	}
	if fields == nil {
		return record.Record{}, fmt.Errorf("expected object in json array: %w", ErrInvalidDataType)
	}

	return record.New(fields), nil
}

// JsonLinesSource reads records from newline delimited JSON objects
type JsonLinesSource struct {
	decoder *json.Decoder
}

func NewJsonLinesSource(r io.Reader) *JsonLinesSource {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	return &JsonLinesSource{decoder: decoder}
}

func (s *JsonLinesSource) Next() (record.Record, error) {
	var fields map[string]interface{}
	err := s.decoder.Decode(&fields)
	if errors.Is(err, io.EOF) {
		return record.Record{}, io.EOF
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("error parsing JSON line: %w", err)
	}
	if fields == nil {
		return record.Record{}, fmt.Errorf("expected object per line: %w", ErrInvalidDataType)
	}
	return record.New(fields), nil
}

// DecodingSource is a record source over a possibly compressed stream that must be closed
// once read
type DecodingSource struct {
	record.Source
	closer func()
}

// Close releases the decompressor, if any. It does not close the underlying reader.
func (s *DecodingSource) Close() error {
	if s.closer != nil {
		s.closer()
		s.closer = nil
	}
	return nil
}

// NewSource detects the format of a record dump and returns a source reading it. Zstandard
// compressed dumps are decompressed transparently. A dump starting with '[' is read as a JSON
// array, anything else as JSON lines.
func NewSource(r io.Reader) (*DecodingSource, error) {
	result := &DecodingSource{}

	br := bufio.NewReader(r)
	magic, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read start of record dump: %w", err)
	}

	var plain io.Reader = br
	if bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		result.closer = dec.Close
		plain = dec
	}

	pr := bufio.NewReader(plain)
	first, err := firstSignificantByte(pr)
	if err != nil && !errors.Is(err, io.EOF) {
		_ = result.Close()
		return nil, fmt.Errorf("failed to detect record dump format: %w", err)
	}

	if first == '[' {
		result.Source = NewJsonArraySource(pr)
	} else {
		result.Source = NewJsonLinesSource(pr)
	}
	return result, nil
}

// firstSignificantByte consumes leading whitespace and returns the byte after it, left unread
func firstSignificantByte(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, r.UnreadByte()
	}
}

func isTruncation(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// ParseActions reads action intervals from a JSON array of objects with the keys start, end,
// action and result. Times are in nanoseconds.
func ParseActions(r io.Reader) ([]model.ActionInterval, error) {
	var raw []jsonActionInterval
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("JSON decode error while parsing actions: %w", err)
	}

	actions := make([]model.ActionInterval, 0, len(raw))
	for i, a := range raw {
		if a.End < a.Start {
			return nil, fmt.Errorf("action %d '%s' ends before it starts: %w", i, a.Action, ErrInvalidDataType)
		}
		actions = append(actions, model.ActionInterval{
			Start:  a.Start,
			End:    a.End,
			Action: a.Action,
			Result: a.Result,
		})
	}
	return actions, nil
}
