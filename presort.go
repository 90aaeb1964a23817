// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package gzsort

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/cosnicolaou/gzsort/internal/lineio"
)

// span locates one buffered line within the presort buffer.
type span struct {
	off, len int
}

// presortPass consumes src in budget-sized chunks, sorts each chunk in
// memory and writes it to out as one run, recording the run's line
// count in the returned log. It returns the number of lines consumed.
//
// Lines are packed end to end into a single buffer of capacity budget
// with a separator byte after each, and the sort permutes an array of
// spans into that buffer rather than the lines themselves. A line
// that, together with its separator byte, does not fit in the whole
// budget is emitted as a run of one, with a warning.
func presortPass(src lineio.Source, out *lineio.Writer, budget int64) (runLog, int64, error) {
	if budget < 1 {
		budget = 1
	}
	buf := make([]byte, 0, budget)
	spans := make([]span, 0, 1024)
	var log runLog
	var consumed int64

	flush := func() error {
		if len(spans) == 0 {
			return nil
		}
		sort.Slice(spans, func(i, j int) bool {
			a, b := spans[i], spans[j]
			return bytes.Compare(buf[a.off:a.off+a.len], buf[b.off:b.off+b.len]) < 0
		})
		for _, s := range spans {
			if err := out.WriteLine(buf[s.off : s.off+s.len]); err != nil {
				return err
			}
		}
		log = append(log, int64(len(spans)))
		buf = buf[:0]
		spans = spans[:0]
		return nil
	}

	for {
		line, ok := src.Next()
		if !ok {
			break
		}
		consumed++
		need := len(line) + 1
		if int64(need) > budget {
			fmt.Fprintf(os.Stderr, "WARNING: %d byte line exceeds the presort buffer\n", len(line))
			if err := flush(); err != nil {
				return nil, consumed, err
			}
			if err := out.WriteLine(line); err != nil {
				return nil, consumed, err
			}
			log = append(log, 1)
			continue
		}
		if int64(len(buf)+need) > budget {
			if err := flush(); err != nil {
				return nil, consumed, err
			}
		}
		off := len(buf)
		buf = append(buf, line...)
		buf = append(buf, 0)
		spans = append(spans, span{off: off, len: len(line)})
	}
	if err := flush(); err != nil {
		return nil, consumed, err
	}
	return log, consumed, src.Err()
}
