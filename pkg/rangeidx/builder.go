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

package rangeidx

import "poskeep.org/pkg/rec"

// Builder builds an Index from a stream of records already sorted by
// the full order. Each entry targets at most g records, except that an
// equal-key run is never split: the entry grows until the first key
// change at or past the threshold.
type Builder[T, K any] struct {
	tr rec.Traits[T, K]
	g  int64

	entries []Entry[K]

	started  bool
	startIdx int64
	startKey K
	prev     T
	count    int64 // records seen
}

// NewBuilder returns a builder with granularity g (records per entry).
func NewBuilder[T, K any](tr rec.Traits[T, K], g int) *Builder[T, K] {
	if g < 1 {
		g = 1
	}
	return &Builder[T, K]{tr: tr, g: int64(g)}
}

// Add feeds the next record of the sorted stream.
func (b *Builder[T, K]) Add(v T) {
	if !b.started {
		b.started = true
		b.startIdx = b.count
		b.startKey = b.tr.Key(v)
		b.prev = v
		b.count++
		return
	}
	if b.tr.LessKey(b.prev, v) && b.count-b.startIdx >= b.g {
		// First key change at or past the threshold: close the entry
		// at the previous record and restart here.
		b.entries = append(b.entries, Entry[K]{
			Low:     b.startIdx,
			High:    b.count - 1,
			LowKey:  b.startKey,
			HighKey: b.tr.Key(b.prev),
		})
		b.startIdx = b.count
		b.startKey = b.tr.Key(v)
	}
	b.prev = v
	b.count++
}

// Observe decodes marshaled records and feeds them to Add. It is the
// write-observer form used with an Observable output file; the offset
// is advisory and ignored because observation is sequential.
func (b *Builder[T, K]) Observe(p []byte, _ int64) {
	rsz := b.tr.Size()
	for off := 0; off+rsz <= len(p); off += rsz {
		b.Add(b.tr.Unmarshal(p[off:]))
	}
}

// Count returns the number of records fed so far.
func (b *Builder[T, K]) Count() int64 { return b.count }

// Finish emits the trailing entry and returns the index. The builder
// is spent afterwards.
func (b *Builder[T, K]) Finish() *Index[K] {
	if b.started {
		b.entries = append(b.entries, Entry[K]{
			Low:     b.startIdx,
			High:    b.count - 1,
			LowKey:  b.startKey,
			HighKey: b.tr.Key(b.prev),
		})
		b.started = false
	}
	return New(b.tr.LessKeys, b.entries)
}
