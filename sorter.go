// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package gzsort sorts the lines of a gzip compressed file that may be
// far larger than memory, producing a gzip compressed output whose
// lines are in byte-lexicographic order, optionally deduplicated.
//
// The sort is an external merge sort specialized for streaming
// compressed I/O: a presort stage packs budget-sized chunks of input
// into memory and emits them as sorted runs, a pairwise merge stage
// repeatedly halves the number of runs, and an optional parallel
// variant partitions the input by strided line interleaving across
// independent workers whose outputs are reunified by a heap-based
// N-way merge.
package gzsort

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"cloudeng.io/errors"

	"github.com/cosnicolaou/gzsort/internal/lineio"
)

const (
	// MaxWorkers is the most parallel workers a sort will use.
	MaxWorkers = 64
	// strideWindow is the number of consecutive lines a parallel worker
	// claims from the input before skipping ahead to its next batch.
	strideWindow = 1000
	// DefaultPresortBytes is the presort budget used when none is set.
	DefaultPresortBytes = 1000000
)

type options struct {
	unique            bool
	presortBytes      int64
	parallelism       int
	verbose           bool
	reportWr          io.Writer
	writerConcurrency int
	progress          func(int)
}

// Option represents an option to Sort and PassThrough.
type Option func(*options)

// Unique suppresses all but the first occurrence of each distinct line
// in the output.
func Unique(v bool) Option {
	return func(o *options) {
		o.unique = v
	}
}

// PresortBytes bounds the bytes of line data held in memory for one
// presorted run. In parallel mode the budget is split evenly across
// the workers.
func PresortBytes(n int64) Option {
	return func(o *options) {
		o.presortBytes = n
	}
}

// Parallelism sets the number of parallel workers; zero selects the
// single-threaded sort. Values above MaxWorkers are capped.
func Parallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// Verbose controls verbose logging of the sort's progress.
func Verbose(v bool) Option {
	return func(o *options) {
		o.verbose = v
	}
}

// ReportWriter sets the destination for per-stage timing reports,
// os.Stdout by default.
func ReportWriter(w io.Writer) Option {
	return func(o *options) {
		o.reportWr = w
	}
}

// WriterConcurrency sets the number of compression lanes used for the
// final output file. It defaults to the number of available CPUs.
func WriterConcurrency(n int) Option {
	return func(o *options) {
		o.writerConcurrency = n
	}
}

// ReadProgress registers fn to be called with the size of each
// compressed read of the source. It is honoured by PassThrough, which
// reads the source exactly once.
func ReadProgress(fn func(int)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// AdjustPresortBytes applies the conservative allowance for auxiliary
// allocations to a user requested presort budget: half below 1e9
// bytes, minus 5e8 above.
func AdjustPresortBytes(n int64) int64 {
	if n < 1_000_000_000 {
		return n / 2
	}
	return n - 500_000_000
}

// Result summarizes a completed sort.
type Result struct {
	// Lines is the number of lines read from the source.
	Lines int64
	// Written is the number of lines in the destination.
	Written int64
	// Removed is the number of duplicate lines suppressed; zero unless
	// unique output was requested.
	Removed int64
	// Workers is the number of parallel workers used, zero for the
	// single-threaded sort.
	Workers int
}

func defaultOptions() options {
	return options{
		presortBytes:      DefaultPresortBytes,
		reportWr:          os.Stdout,
		writerConcurrency: runtime.GOMAXPROCS(-1),
	}
}

// Sort sorts the lines of the gzip compressed file at src into dst.
// src may be any path the file package can open (local, s3, ...); dst
// and the temporary files derived from it are local paths.
func Sort(ctx context.Context, src, dst string, opts ...Option) (Result, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.parallelism > MaxWorkers {
		o.parallelism = MaxWorkers
	}
	if o.presortBytes < 1 {
		o.presortBytes = 1
	}
	s := &sorter{opts: o}
	if o.parallelism > 0 {
		return s.runParallel(ctx, src, dst)
	}
	return s.run(ctx, src, dst)
}

// PassThrough decompresses src and recompresses it to dst without
// sorting. It exists to benchmark the codec baseline.
func PassThrough(ctx context.Context, src, dst string, opts ...Option) (Result, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	s := &sorter{opts: o}
	start := time.Now()
	var ropts []lineio.ReaderOption
	if o.progress != nil {
		ropts = append(ropts, lineio.ReadProgress(o.progress))
	}
	in, err := lineio.Open(ctx, src, ropts...)
	if err != nil {
		return Result{}, err
	}
	out, err := lineio.Create(dst, lineio.WriterConcurrency(o.writerConcurrency))
	if err != nil {
		in.Close()
		return Result{}, err
	}
	errs := &errors.M{}
	for {
		line, ok := in.Next()
		if !ok {
			break
		}
		if err := out.WriteLine(line); err != nil {
			errs.Append(err)
			break
		}
	}
	errs.Append(in.Err())
	errs.Append(in.Close())
	errs.Append(out.Close())
	s.report(start, "passthrough")
	return Result{Lines: in.Lines(), Written: out.Lines()}, errs.Err()
}

// sorter carries the resolved options plus the label prefixed to
// progress reports (empty for the single-threaded sort, "T<k> " for
// parallel workers).
type sorter struct {
	opts  options
	label string
}

func (s *sorter) trace(format string, args ...interface{}) {
	if s.opts.verbose {
		log.Printf(format, args...)
	}
}

// report writes a timing line for a completed stage. Stages under two
// seconds are not reported.
func (s *sorter) report(start time.Time, label string) {
	secs := int(time.Since(start) / time.Second)
	if secs < 2 {
		return
	}
	if secs < 100 {
		fmt.Fprintf(s.opts.reportWr, "%s: %d seconds\n", label, secs)
		return
	}
	fmt.Fprintf(s.opts.reportWr, "%s: %.2f minutes\n", label, float64(secs)/60)
}

// run is the single-threaded sort: presort the input into runs at dst,
// move the runs aside to dst.temp, merge pairwise until one run
// remains and move the result back to dst.
func (s *sorter) run(ctx context.Context, src, dst string) (Result, error) {
	var res Result
	temp := dst + ".temp"

	start := time.Now()
	in, err := lineio.Open(ctx, src)
	if err != nil {
		return res, err
	}
	out, err := lineio.Create(dst)
	if err != nil {
		in.Close()
		return res, err
	}
	runs, consumed, err := presortPass(in, out, s.opts.presortBytes)
	errs := &errors.M{}
	errs.Append(err)
	errs.Append(in.Close())
	errs.Append(out.Close())
	if err := errs.Err(); err != nil {
		return res, err
	}
	res.Lines = consumed
	s.trace("%v: %v lines in %v runs", src, consumed, len(runs))
	s.report(start, s.label+"presort")

	if err := os.Rename(dst, temp); err != nil {
		return res, err
	}
	written, err := s.middlePasses(ctx, temp, dst, runs, consumed)
	if err != nil {
		return res, err
	}
	if err := os.Rename(temp, dst); err != nil {
		return res, err
	}
	res.Written = written
	if s.opts.unique {
		res.Removed = res.Lines - written
	}
	return res, nil
}

// worker is the per-thread state of the parallel sort.
type worker struct {
	index      int
	label      string
	source     string
	tempPath   string
	sortedPath string

	lines int64
	err   error
}

// runParallel partitions the input across n workers by strided line
// interleaving, sorts each partition independently and heap-merges the
// sorted partitions into dst.
func (s *sorter) runParallel(ctx context.Context, src, dst string) (Result, error) {
	var res Result
	n := s.opts.parallelism
	budget := s.opts.presortBytes / int64(n)
	if budget < 1 {
		budget = 1
	}
	workers := make([]*worker, n)
	for k := range workers {
		workers[k] = &worker{
			index:      k,
			label:      fmt.Sprintf("T%d ", k+1),
			source:     src,
			tempPath:   fmt.Sprintf("%s.T%d.temp", dst, k+1),
			sortedPath: fmt.Sprintf("%s.T%d.gz", dst, k+1),
		}
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for _, w := range workers {
		w := w
		go func() {
			defer wg.Done()
			w.lines, w.err = s.sortPartition(ctx, w, budget)
		}()
	}
	wg.Wait()

	errs := &errors.M{}
	for _, w := range workers {
		errs.Append(w.err)
		os.Remove(w.tempPath)
	}
	if err := errs.Err(); err != nil {
		return res, err
	}

	start := time.Now()
	readers := make([]*lineio.Reader, 0, n)
	closeReaders := func() {
		for _, r := range readers {
			errs.Append(r.Close())
		}
	}
	for _, w := range workers {
		r, err := lineio.Open(ctx, w.sortedPath)
		if err != nil {
			closeReaders()
			return res, err
		}
		readers = append(readers, r)
		res.Lines += w.lines
	}
	out, err := lineio.Create(dst, lineio.WriterConcurrency(s.opts.writerConcurrency))
	if err != nil {
		closeReaders()
		return res, err
	}
	errs.Append(nwayMergePass(readers, out, s.opts.unique))
	closeReaders()
	errs.Append(out.Close())
	if err := errs.Err(); err != nil {
		return res, err
	}
	s.report(start, fmt.Sprintf("%d-way merge", n))

	for _, w := range workers {
		os.Remove(w.sortedPath)
	}
	res.Written = out.Lines()
	res.Workers = n
	if s.opts.unique {
		res.Removed = res.Lines - res.Written
	}
	return res, nil
}

// sortPartition runs one worker: presort the worker's strided subset
// of the source, then merge it down to a single sorted run left at the
// worker's sorted path. It returns the partition's line count.
//
// Worker k owns input lines k*W, batches of W, every n*W lines; the
// partitions are disjoint and their union is the whole input, with no
// coordination beyond each worker opening the source independently.
func (s *sorter) sortPartition(ctx context.Context, w *worker, budget int64) (int64, error) {
	start := time.Now()
	in, err := lineio.Open(ctx, w.source)
	if err != nil {
		return 0, err
	}
	in.Skip(int64(strideWindow) * int64(w.index))
	sub := lineio.NewStrided(in, strideWindow, int64(strideWindow)*int64(s.opts.parallelism-1))
	out, err := lineio.Create(w.tempPath)
	if err != nil {
		in.Close()
		return 0, err
	}
	runs, _, err := presortPass(sub, out, budget)
	lines := out.Lines()
	errs := &errors.M{}
	errs.Append(err)
	errs.Append(in.Close())
	errs.Append(out.Close())
	if err := errs.Err(); err != nil {
		return lines, err
	}
	s.trace("%v: %v lines in %v runs", w.tempPath, lines, len(runs))
	s.report(start, w.label+"chop/presort")

	ws := &sorter{opts: s.opts, label: w.label}
	// Dedup, if requested, happens once in the N-way merge; the run log
	// must stay exact until then.
	ws.opts.unique = false
	if _, err := ws.middlePasses(ctx, w.tempPath, w.sortedPath, runs, lines); err != nil {
		return lines, err
	}
	if err := os.Rename(w.tempPath, w.sortedPath); err != nil {
		return lines, err
	}
	return lines, nil
}
