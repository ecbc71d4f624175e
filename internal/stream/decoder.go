// Package stream decodes the chunked JSON-array body of a streaming read.
//
// The server writes one array, element by element, flushing after each
// element:
//
//	[{"response":...,"idempotencyKeys":[...]}
//	,{"response":...,"idempotencyKeys":[...]}
//	]
//
// Transport chunking is arbitrary, so a read may end anywhere: inside a
// string, between two elements, or in the middle of a number. The decoder
// accumulates bytes until the buffer, wrapped as an array, parses.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ErrTruncated is returned when the underlying reader ends while a
// partially received element is still buffered.
var ErrTruncated = errors.New("stream: truncated element at end of stream")

const defaultChunkSize = 4096

// Decoder yields one json.RawMessage per array element of the stream.
//
// Not safe for concurrent use.
type Decoder struct {
	r     io.Reader
	chunk []byte
	buf   []byte
	ready []json.RawMessage
	err   error
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, defaultChunkSize),
	}
}

// Next returns the next decoded element.
//
// Returns io.EOF once the stream has ended cleanly, ErrTruncated if it
// ended mid-element, or the underlying read error.
func (d *Decoder) Next() (json.RawMessage, error) {
	for {
		if len(d.ready) > 0 {
			elem := d.ready[0]
			d.ready[0] = nil
			d.ready = d.ready[1:]
			return elem, nil
		}
		if d.err != nil {
			return nil, d.err
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			d.tryParse()
		}
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(d.buf)) > 0 {
				err = ErrTruncated
			}
			d.err = err
		}
	}
}

// Buffered reports how many bytes are waiting for the rest of an element.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// tryParse attempts to parse the accumulated buffer as an array fragment.
//
// Leading whitespace and a leading ',' separator are stripped, then the
// fragment is wrapped in '[' / ']' where those are absent. On success every
// element is queued and the buffer cleared. On failure the chunk boundary
// split a token: the provisional closing bracket is dropped (the buffer
// itself is never modified) and the next read extends it.
func (d *Decoder) tryParse() {
	frag := bytes.TrimSpace(d.buf)
	frag = bytes.TrimPrefix(frag, []byte(","))
	frag = bytes.TrimSpace(frag)
	if len(frag) == 0 {
		return
	}

	candidate := make([]byte, 0, len(frag)+2)
	if frag[0] != '[' {
		candidate = append(candidate, '[')
	}
	candidate = append(candidate, frag...)
	if frag[len(frag)-1] != ']' {
		candidate = append(candidate, ']')
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(candidate, &elems); err != nil {
		return
	}

	d.buf = d.buf[:0]
	d.ready = append(d.ready, elems...)
}
