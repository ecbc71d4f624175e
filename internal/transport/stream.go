package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/actorsync/internal/ir"
	"github.com/roach88/actorsync/internal/stream"
)

// Stream yields the envelopes of one open streaming read.
//
// Not safe for concurrent Next calls. Close may be called from any
// goroutine to abort a blocked Next.
type Stream struct {
	body      io.ReadCloser
	dec       *stream.Decoder
	span      trace.Span
	envelopes atomic.Int64
	closeOnce sync.Once
}

func newStream(body io.ReadCloser, span trace.Span) *Stream {
	return &Stream{
		body: body,
		dec:  stream.NewDecoder(body),
		span: span,
	}
}

// Next returns the next envelope. io.EOF means the server ended the
// stream cleanly.
func (s *Stream) Next() (ir.QueryResponse, error) {
	raw, err := s.dec.Next()
	if err != nil {
		if err != io.EOF {
			recordError(s.span, err)
		}
		return ir.QueryResponse{}, err
	}

	var env ir.QueryResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		err = fmt.Errorf("decode envelope: %w", err)
		recordError(s.span, err)
		return ir.QueryResponse{}, err
	}
	s.envelopes.Add(1)
	return env, nil
}

// Close releases the connection and ends the read span.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.span.SetAttributes(attribute.Int64("actorsync.envelopes", s.envelopes.Load()))
		s.span.End()
	})
	return err
}
