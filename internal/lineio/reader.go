// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package lineio provides line-at-a-time access to gzip compressed
// streams: a reader that yields borrowed views of successive lines and
// a writer that appends lines with optional duplicate suppression.
package lineio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"cloudeng.io/errors"
	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
)

const (
	// chunkSize is the fixed read buffer filled from the decompressor.
	chunkSize = 16 * 1024
	// spillStartSize is the initial capacity of the spillover buffer
	// used when a line crosses chunk boundaries.
	spillStartSize = 1024
	// gzBufferSize is the amount of input buffering in front of the
	// decompressor.
	gzBufferSize = 64 * 1024
)

type readerOpts struct {
	progress func(int)
}

// ReaderOption represents an option to Open.
type ReaderOption func(*readerOpts)

// ReadProgress registers fn to be called with the size, in compressed
// bytes, of every read issued against the underlying source.
func ReadProgress(fn func(int)) ReaderOption {
	return func(o *readerOpts) {
		o.progress = fn
	}
}

// Reader streams the lines of a gzip compressed file. Lines are
// returned without their terminating newline as views into an internal
// buffer; a returned line is valid only until the next line is
// requested. A final line lacking its terminator is still delivered.
//
// The source is opened through the file package, so in addition to
// local paths any registered scheme (eg. s3://) may be read.
type Reader struct {
	ctx  context.Context
	path string
	f    file.File
	gz   *gzip.Reader

	buf   []byte // fixed chunk filled from the decompressor
	pos   int    // next unconsumed byte in buf
	n     int    // valid bytes in buf
	spill []byte // reused accumulator for lines spanning chunks

	lines int64
	done  bool
	err   error

	// Subset state, see Take and BeginStride.
	takeLeft   int64
	strideTake int64
	strideSkip int64
}

// Source is a stream of lines. Both Reader and Strided implement it.
type Source interface {
	Next() ([]byte, bool)
	Err() error
}

// Open opens the gzip compressed file at path for line-at-a-time
// reading.
func Open(ctx context.Context, path string, opts ...ReaderOption) (*Reader, error) {
	o := readerOpts{}
	for _, fn := range opts {
		fn(&o)
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	var rd io.Reader = f.Reader(ctx)
	if o.progress != nil {
		rd = &countingReader{rd: rd, fn: o.progress}
	}
	gz, err := gzip.NewReader(bufio.NewReaderSize(rd, gzBufferSize))
	if err != nil {
		f.Close(ctx)
		return nil, fmt.Errorf("%v: %w: %v", path, ErrNotGzip, err)
	}
	return &Reader{
		ctx:   ctx,
		path:  path,
		f:     f,
		gz:    gz,
		buf:   make([]byte, chunkSize),
		spill: make([]byte, 0, spillStartSize),
	}, nil
}

type countingReader struct {
	rd io.Reader
	fn func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.rd.Read(p)
	if n > 0 {
		c.fn(n)
	}
	return n, err
}

// fill refreshes the chunk buffer from the decompressor. It returns
// false once the stream is exhausted or has failed.
func (r *Reader) fill() bool {
	if r.done {
		return false
	}
	for {
		n, err := r.gz.Read(r.buf)
		r.pos, r.n = 0, n
		switch {
		case err == io.EOF:
			r.done = true
		case err != nil:
			r.err = fmt.Errorf("%v: %w", r.path, err)
			r.done = true
		}
		if n > 0 || r.done {
			return n > 0
		}
	}
}

// Next returns the next line and true, or nil and false once the
// stream is exhausted. The returned slice is invalidated by the next
// call to Next.
func (r *Reader) Next() ([]byte, bool) {
	if r.err != nil {
		return nil, false
	}
	r.spill = r.spill[:0]
	for {
		if r.pos >= r.n {
			if !r.fill() {
				if len(r.spill) > 0 && r.err == nil {
					// Unterminated final line.
					r.lines++
					return r.spill, true
				}
				return nil, false
			}
		}
		if i := bytes.IndexByte(r.buf[r.pos:r.n], '\n'); i >= 0 {
			line := r.buf[r.pos : r.pos+i]
			r.pos += i + 1
			r.lines++
			if len(r.spill) > 0 {
				r.spill = append(r.spill, line...)
				return r.spill, true
			}
			return line, true
		}
		r.spill = append(r.spill, r.buf[r.pos:r.n]...)
		r.pos = r.n
	}
}

// Err returns the first failure encountered, if any. It should be
// consulted once Next has returned false.
func (r *Reader) Err() error {
	return r.err
}

// Lines returns the number of lines read so far.
func (r *Reader) Lines() int64 {
	return r.lines
}

// Skip advances past n lines, discarding them. Skipping beyond the end
// of the stream is not an error.
func (r *Reader) Skip(n int64) {
	for i := int64(0); i < n; i++ {
		if _, ok := r.Next(); !ok {
			return
		}
	}
}

// Take bounds subsequent NextTaken calls to at most n lines.
func (r *Reader) Take(n int64) {
	r.takeLeft = n
}

// NextTaken returns the next line of the current Take window, or false
// once the window or the stream is exhausted.
func (r *Reader) NextTaken() ([]byte, bool) {
	if r.takeLeft <= 0 {
		return nil, false
	}
	r.takeLeft--
	return r.Next()
}

// BeginStride configures the strided subset view: take lines, then
// skip lines, repeated until the stream ends. The caller is expected
// to have positioned the reader (via Skip) at the subset's first line.
func (r *Reader) BeginStride(take, skip int64) {
	r.strideTake, r.strideSkip = take, skip
	r.takeLeft = take
}

// NextStrided returns the next line of the configured strided subset.
func (r *Reader) NextStrided() ([]byte, bool) {
	if r.takeLeft <= 0 {
		r.Skip(r.strideSkip)
		r.takeLeft = r.strideTake
	}
	r.takeLeft--
	return r.Next()
}

// Close releases the decompressor and the underlying file.
func (r *Reader) Close() error {
	errs := &errors.M{}
	errs.Append(r.gz.Close())
	errs.Append(r.f.Close(r.ctx))
	return errs.Err()
}

// Strided adapts a Reader to a Source yielding its strided subset.
type Strided struct {
	r *Reader
}

// NewStrided configures r for the (take, skip) stride and returns the
// subset view.
func NewStrided(r *Reader, take, skip int64) *Strided {
	r.BeginStride(take, skip)
	return &Strided{r: r}
}

// Next implements Source.
func (s *Strided) Next() ([]byte, bool) {
	return s.r.NextStrided()
}

// Err implements Source.
func (s *Strided) Err() error {
	return s.r.Err()
}
