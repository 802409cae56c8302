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

package span

import (
	"poskeep.org/pkg/diskio"
	"poskeep.org/pkg/iosched"
)

// Iter is a single-pass sequential iterator with double-buffered
// prefetch: while records are consumed from the front buffer, the next
// block is already being read into the back buffer. Not copyable: it
// owns pending I/O.
type Iter[T, K any] struct {
	s   Span[T, K]
	rsz int
	cap int // buffer capacity in records

	buf   [2][]byte
	fut   [2]*iosched.Future
	req   [2]int // records requested per buffer
	front int

	ready bool  // front buffer awaited
	cur   int   // next record ordinal in front buffer
	next  int64 // absolute element index of the next unscheduled read

	err  error
	done bool
}

// NewIter starts iteration over s. bufBytes is split across the two
// prefetch buffers, and both are primed immediately.
func NewIter[T, K any](s Span[T, K], bufBytes int) *Iter[T, K] {
	rsz := s.tr.Size()
	capRecs := bufBytes / (2 * rsz)
	if capRecs < 1 {
		capRecs = 1
	}
	if n := s.Len(); n > 0 && int64(capRecs) > n {
		capRecs = int(n)
	}
	it := &Iter[T, K]{s: s, rsz: rsz, cap: capRecs, next: s.begin}
	it.buf[0] = make([]byte, capRecs*rsz)
	it.buf[1] = make([]byte, capRecs*rsz)
	it.fill(0)
	it.fill(1)
	return it
}

// fill schedules the next sequential read into buffer i.
func (it *Iter[T, K]) fill(i int) {
	remain := it.s.end - it.next
	if remain <= 0 {
		it.fut[i] = nil
		it.req[i] = 0
		return
	}
	cnt := int64(it.cap)
	if cnt > remain {
		cnt = remain
	}
	it.fut[i] = it.s.f.ScheduleRead(it.buf[i][:cnt*int64(it.rsz)], it.next*int64(it.rsz))
	it.req[i] = int(cnt)
	it.next += cnt
}

// Next returns the next record. ok is false at the end of the span or
// after an error; check Err when done.
func (it *Iter[T, K]) Next() (v T, ok bool) {
	var zero T
	if it.err != nil || it.done {
		return zero, false
	}
	for {
		if !it.ready {
			if it.fut[it.front] == nil {
				it.done = true
				return zero, false
			}
			got, err := it.fut[it.front].Await()
			want := it.req[it.front] * it.rsz
			if err != nil || got != want {
				it.err = &diskio.ReadError{
					Path:      it.s.f.Path(),
					Requested: want,
					Got:       got,
					Err:       err,
				}
				return zero, false
			}
			it.ready = true
			it.cur = 0
		}
		if it.cur < it.req[it.front] {
			v = it.s.tr.Unmarshal(it.buf[it.front][it.cur*it.rsz:])
			it.cur++
			return v, true
		}
		// Front exhausted: reuse it for the next prefetch and swap.
		it.fill(it.front)
		it.front = 1 - it.front
		it.ready = false
	}
}

// Err returns the first error the iterator hit, if any.
func (it *Iter[T, K]) Err() error { return it.err }
