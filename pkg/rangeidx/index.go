/*
Copyright 2026 The Poskeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package rangeidx maintains the sparse range index over a sorted
// file: an ordered sequence of entries, each describing a contiguous
// block of records together with the keys at its ends. Entries cover
// every record; an equal-key run is never split across a block
// boundary, so for any key the overlapping entries are contiguous.
package rangeidx

import "sort"

// Entry describes records [Low, High] (inclusive) of the indexed file.
// LowKey and HighKey are the keys of the records at Low and High.
type Entry[K any] struct {
	Low     int64
	High    int64
	LowKey  K
	HighKey K
}

// Index is the ordered sequence of entries for one sorted file.
type Index[K any] struct {
	less    func(a, b K) bool
	entries []Entry[K]
}

func New[K any](less func(a, b K) bool, entries []Entry[K]) *Index[K] {
	return &Index[K]{less: less, entries: entries}
}

func (ix *Index[K]) Len() int             { return len(ix.entries) }
func (ix *Index[K]) Entries() []Entry[K]  { return ix.entries }
func (ix *Index[K]) Entry(i int) Entry[K] { return ix.entries[i] }

// Count returns the number of records the index covers.
func (ix *Index[K]) Count() int64 {
	if len(ix.entries) == 0 {
		return 0
	}
	return ix.entries[len(ix.entries)-1].High + 1
}

// Seed is the element-space search range for one key: records outside
// [Lo, Hi) cannot match. When Empty is set the key cannot be present
// at all and Lo == Hi is its insertion position.
type Seed[K any] struct {
	Lo, Hi       int64
	LoKey, HiKey K
	Empty        bool
}

// EqualRange returns the seed range for key k: the union of the
// entries whose key interval contains k, narrowed to empty when k
// falls outside their bracketing keys.
func (ix *Index[K]) EqualRange(k K) Seed[K] {
	n := len(ix.entries)
	if n == 0 {
		return Seed[K]{Empty: true}
	}
	// First entry whose HighKey is >= k.
	first := sort.Search(n, func(i int) bool {
		return !ix.less(ix.entries[i].HighKey, k)
	})
	// First entry whose LowKey is > k.
	after := sort.Search(n, func(i int) bool {
		return ix.less(k, ix.entries[i].LowKey)
	})
	if first >= after {
		pos := ix.Count()
		if first < n {
			pos = ix.entries[first].Low
		}
		return Seed[K]{Lo: pos, Hi: pos, Empty: true}
	}
	lo, hi := ix.entries[first], ix.entries[after-1]
	s := Seed[K]{
		Lo:    lo.Low,
		Hi:    hi.High + 1,
		LoKey: lo.LowKey,
		HiKey: hi.HighKey,
	}
	if ix.less(k, s.LoKey) {
		return Seed[K]{Lo: s.Lo, Hi: s.Lo, Empty: true}
	}
	if ix.less(s.HiKey, k) {
		return Seed[K]{Lo: s.Hi, Hi: s.Hi, Empty: true}
	}
	return s
}
