// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package gzsort

import (
	"bytes"
	"container/heap"

	"github.com/cosnicolaou/gzsort/internal/lineio"
)

// nwayItem is one heap entry: the current head line of one source and
// the index of the source it was read from.
type nwayItem struct {
	line []byte
	src  int
}

type lineHeap []nwayItem

func (h lineHeap) Len() int           { return len(h) }
func (h lineHeap) Less(i, j int) bool { return bytes.Compare(h[i].line, h[j].line) < 0 }
func (h lineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *lineHeap) Push(x interface{}) {
	// Push and Pop use pointer receivers because they modify the slice's
	// length, not just its contents.
	*h = append(*h, x.(nwayItem))
}

func (h *lineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// nwayMergePass merges the already fully sorted readers into out,
// optionally deduplicating. The heap holds at most one line per
// source; a popped source is refilled before any of its other lines
// can be requested, so the borrowed views stay valid.
func nwayMergePass(readers []*lineio.Reader, out *lineio.Writer, dedup bool) error {
	h := make(lineHeap, 0, len(readers))
	for i, r := range readers {
		if line, ok := r.Next(); ok {
			h = append(h, nwayItem{line: line, src: i})
		}
	}
	heap.Init(&h)
	emit := out.WriteLine
	if dedup {
		emit = out.WriteUnique
	}
	for h.Len() > 0 {
		min := h[0]
		if err := emit(min.line); err != nil {
			return err
		}
		if line, ok := readers[min.src].Next(); ok {
			h[0] = nwayItem{line: line, src: min.src}
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	for _, r := range readers {
		if err := r.Err(); err != nil {
			return err
		}
	}
	return nil
}
