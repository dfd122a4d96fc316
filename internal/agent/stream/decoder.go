package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const (
	// DefaultMaxLineSize bounds a single SSE line. Longer lines are skipped.
	DefaultMaxLineSize = 1 << 20

	readBufferSize = 64 << 10
)

var (
	dataPrefix  = []byte("data:")
	donePayload = []byte("[DONE]")

	errLineTooLong = errors.New("stream: line exceeds max size")
)

// Dialect names the provider wire format a Decoder parses.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// parser turns one data payload into events. Implementations keep per-stream
// state (for example, which call a continuation fragment belongs to).
type parser interface {
	parse(payload []byte) ([]Event, error)
}

func newParser(d Dialect) (parser, error) {
	switch d {
	case DialectOpenAI:
		return newOpenAIParser(), nil
	case DialectAnthropic:
		return newAnthropicParser(), nil
	default:
		return nil, fmt.Errorf("stream: unknown dialect %q", d)
	}
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for skipped lines.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMaxLineSize overrides DefaultMaxLineSize.
func WithMaxLineSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// WithDecodeErrorHook registers a callback invoked for every skipped line.
func WithDecodeErrorHook(fn func(dialect Dialect, err error)) Option {
	return func(d *Decoder) {
		d.onDecodeError = fn
	}
}

// Decoder reads one provider response body and yields normalized events.
//
//	dec := stream.NewDecoder(body, stream.DialectOpenAI)
//	for dec.Next(ctx) {
//	    ev := dec.Event()
//	    ...
//	}
//	if err := dec.Err(); err != nil { ... }
//
// The sequence ends when the body reports EOF. A read failure other than EOF
// surfaces as a final StreamError event; Err only reports cancellation and
// setup failures.
type Decoder struct {
	r             *bufio.Reader
	dialect       Dialect
	parser        parser
	logger        *slog.Logger
	maxLine       int
	onDecodeError func(Dialect, error)

	line    []byte
	pending []Event
	cur     Event
	done    bool
	err     error
	lineNo  int
}

// NewDecoder returns a Decoder for a single response body.
func NewDecoder(r io.Reader, dialect Dialect, opts ...Option) *Decoder {
	d := &Decoder{
		r:       bufio.NewReaderSize(r, readBufferSize),
		dialect: dialect,
		logger:  slog.Default(),
		maxLine: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "stream", "dialect", string(dialect))
	p, err := newParser(dialect)
	if err != nil {
		d.err = err
		d.done = true
	}
	d.parser = p
	return d
}

// Next advances to the next event. It returns false once the stream is
// exhausted, ctx is done, or setup failed.
func (d *Decoder) Next(ctx context.Context) bool {
	for {
		if len(d.pending) > 0 {
			d.cur = d.pending[0]
			d.pending = d.pending[1:]
			return true
		}
		if d.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			d.err = err
			d.done = true
			return false
		}

		line, err := d.readLine()
		d.lineNo++
		switch {
		case errors.Is(err, errLineTooLong):
			d.skip(err)
			continue
		case len(line) > 0:
			d.handleLine(line)
		}

		if err != nil {
			d.done = true
			if errors.Is(err, io.EOF) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				d.err = ctxErr
				d.pending = nil
				return false
			}
			d.pending = append(d.pending, StreamError(err.Error()))
		}
	}
}

// Event returns the event produced by the last successful Next.
func (d *Decoder) Event() Event {
	return d.cur
}

// Err returns the cancellation or setup error that stopped the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Dialect returns the wire format being parsed.
func (d *Decoder) Dialect() Dialect {
	return d.dialect
}

// readLine returns the next complete line without its terminator. Fragments
// are accumulated across reads so arbitrary chunking by the transport never
// splits a line. A trailing line without terminator is returned with io.EOF.
func (d *Decoder) readLine() ([]byte, error) {
	d.line = d.line[:0]
	overflow := false
	for {
		frag, err := d.r.ReadSlice('\n')
		if !overflow {
			if len(d.line)+len(frag) > d.maxLine {
				overflow = true
				d.line = d.line[:0]
			} else {
				d.line = append(d.line, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if overflow {
			if err == nil {
				return nil, errLineTooLong
			}
			d.skip(errLineTooLong)
			return nil, err
		}
		return bytes.TrimRight(d.line, "\r\n"), err
	}
}

func (d *Decoder) handleLine(line []byte) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))
	if len(payload) == 0 || bytes.Equal(payload, donePayload) {
		return
	}
	events, err := d.parser.parse(payload)
	if err != nil {
		d.skip(err)
		return
	}
	d.pending = append(d.pending, events...)
}

func (d *Decoder) skip(err error) {
	d.logger.Warn("skipping malformed stream line",
		"line", d.lineNo,
		"error", err,
	)
	if d.onDecodeError != nil {
		d.onDecodeError(d.dialect, err)
	}
}
