// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package gzsort

// runLog records the length, in lines, of each sorted run present in
// the current working file, in file order. The sum of its entries
// always equals the number of lines in that file.
type runLog []int64

func (l runLog) total() int64 {
	var t int64
	for _, n := range l {
		t += n
	}
	return t
}

// averageRun is the mean number of lines per run, used only for
// progress labelling.
func (l runLog) averageRun() int64 {
	if len(l) == 0 {
		return 0
	}
	return l.total() / int64(len(l))
}
