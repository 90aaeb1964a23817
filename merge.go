// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package gzsort

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"cloudeng.io/errors"

	"github.com/cosnicolaou/gzsort/internal/lineio"
)

// mergeRuns two-way merges the next s1 lines of a with the next s2
// lines of b into out. Ties emit from a. Either count may be zero.
func mergeRuns(a, b *lineio.Reader, out *lineio.Writer, s1, s2 int64, dedup bool) error {
	a.Take(s1)
	b.Take(s2)
	emit := out.WriteLine
	if dedup {
		emit = out.WriteUnique
	}
	la, okA := a.NextTaken()
	lb, okB := b.NextTaken()
	for okA || okB {
		useA := okA
		if okA && okB {
			useA = bytes.Compare(la, lb) <= 0
		}
		if useA {
			if err := emit(la); err != nil {
				return err
			}
			la, okA = a.NextTaken()
		} else {
			if err := emit(lb); err != nil {
				return err
			}
			lb, okB = b.NextTaken()
		}
	}
	return nil
}

// mergePass performs one pass over a file of concatenated runs whose
// lengths are given by log. a and b must be independent readers over
// that same file; each adjacent pair of runs is merged into a single
// run on out. An unpaired trailing run passes through unchanged. The
// returned log holds the exact line count written for each new run.
//
// The two readers leapfrog: b starts one run ahead of a, and after
// each pair a skips the run b consumed while b skips the run a will
// consume next, so neither run is ever held in memory.
func mergePass(a, b *lineio.Reader, out *lineio.Writer, log runLog, dedup bool) (runLog, error) {
	next := make(runLog, 0, (len(log)+1)/2)
	if len(log) == 0 {
		return next, nil
	}
	b.Skip(log[0])
	for i := 0; i < len(log); i += 2 {
		s1 := log[i]
		var s2 int64
		if i+1 < len(log) {
			s2 = log[i+1]
		}
		before := out.Lines()
		if err := mergeRuns(a, b, out, s1, s2, dedup); err != nil {
			return nil, err
		}
		next = append(next, out.Lines()-before)
		a.Skip(s2)
		if i+2 < len(log) {
			b.Skip(log[i+2])
		}
	}
	errs := &errors.M{}
	errs.Append(a.Err())
	errs.Append(b.Err())
	return next, errs.Err()
}

// middlePasses repeatedly halves the number of runs in inPath until a
// single run remains, renaming outPath back over inPath between
// passes; the result is left at inPath. Deduplication, when requested,
// is applied only on the final pass so that the run log stays exact
// across passes. It returns the line count of the final pass (or total
// when no pass was needed).
func (s *sorter) middlePasses(ctx context.Context, inPath, outPath string, log runLog, total int64) (int64, error) {
	lines := total
	dedupDone := false
	for len(log) > 1 || (s.opts.unique && !dedupDone && len(log) == 1) {
		if err := ctx.Err(); err != nil {
			return lines, err
		}
		last := len(log) <= 2
		start := time.Now()
		average := log.averageRun()
		written, newLog, err := s.onePass(ctx, inPath, outPath, log, last && s.opts.unique, last)
		if err != nil {
			return lines, err
		}
		lines = written
		log = newLog
		if last && s.opts.unique {
			dedupDone = true
		}
		if err := os.Rename(outPath, inPath); err != nil {
			return lines, err
		}
		s.report(start, fmt.Sprintf("%smerge %d", s.label, average))
	}
	return lines, nil
}

// onePass opens the dual readers and the pass writer, runs a single
// merge pass and closes everything.
func (s *sorter) onePass(ctx context.Context, inPath, outPath string, log runLog, dedup, last bool) (int64, runLog, error) {
	a, err := lineio.Open(ctx, inPath)
	if err != nil {
		return 0, nil, err
	}
	b, err := lineio.Open(ctx, inPath)
	if err != nil {
		a.Close()
		return 0, nil, err
	}
	var wopts []lineio.WriterOption
	if last {
		wopts = append(wopts, lineio.WriterConcurrency(s.opts.writerConcurrency))
	}
	out, err := lineio.Create(outPath, wopts...)
	if err != nil {
		a.Close()
		b.Close()
		return 0, nil, err
	}
	newLog, err := mergePass(a, b, out, log, dedup)
	errs := &errors.M{}
	errs.Append(err)
	errs.Append(a.Close())
	errs.Append(b.Close())
	errs.Append(out.Close())
	return out.Lines(), newLog, errs.Err()
}
