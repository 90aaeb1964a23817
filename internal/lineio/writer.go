// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package lineio

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"cloudeng.io/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
)

type writerOpts struct {
	concurrency int
}

// WriterOption represents an option to Create.
type WriterOption func(*writerOpts)

// WriterConcurrency selects the number of compression lanes for the
// output stream. Values above one use pgzip so that the deflate work is
// spread across cores; the default is a single-threaded writer tuned
// for throughput.
func WriterConcurrency(n int) WriterOption {
	return func(o *writerOpts) {
		o.concurrency = n
	}
}

var newline = []byte{'\n'}

// Writer appends newline terminated lines to a gzip compressed file.
// It remembers the most recently written line so that WriteUnique can
// suppress consecutive duplicates.
type Writer struct {
	f  *os.File
	gz io.WriteCloser

	prev     []byte
	havePrev bool
	lines    int64
}

// Create creates path, truncating it if it exists.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	o := writerOpts{concurrency: 1}
	for _, fn := range opts {
		fn(&o)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	var gz io.WriteCloser
	if o.concurrency > 1 {
		zw := pgzip.NewWriter(f)
		if err := zw.SetConcurrency(1<<20, o.concurrency); err != nil {
			f.Close()
			return nil, err
		}
		gz = zw
	} else {
		// Intermediate runs are throwaway spill; favour speed.
		zw, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
		if err != nil {
			f.Close()
			return nil, err
		}
		gz = zw
	}
	return &Writer{f: f, gz: gz}, nil
}

// WriteLine appends line followed by a newline.
func (w *Writer) WriteLine(line []byte) error {
	if _, err := w.gz.Write(line); err != nil {
		return err
	}
	if _, err := w.gz.Write(newline); err != nil {
		return err
	}
	w.lines++
	return nil
}

// WriteUnique appends line unless it equals the previously written
// line. The first call always writes. The retained previous line is a
// copy, so callers may pass borrowed views.
func (w *Writer) WriteUnique(line []byte) error {
	if w.havePrev && bytes.Equal(line, w.prev) {
		return nil
	}
	if err := w.WriteLine(line); err != nil {
		return err
	}
	w.prev = append(w.prev[:0], line...)
	w.havePrev = true
	return nil
}

// Lines returns the number of lines written so far.
func (w *Writer) Lines() int64 {
	return w.lines
}

// Close flushes the compressor and closes the file.
func (w *Writer) Close() error {
	errs := &errors.M{}
	errs.Append(w.gz.Close())
	errs.Append(w.f.Close())
	return errs.Err()
}
