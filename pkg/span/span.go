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

// Package span provides typed views over binary files: logical record
// windows with sequential double-buffered iteration and random access,
// plus the buffered append sinks (BackInserter, Vector) built on the
// same double-buffer discipline.
package span

import (
	"fmt"

	"poskeep.org/pkg/binfile"
	"poskeep.org/pkg/diskio"
	"poskeep.org/pkg/rec"
)

// Span is a logical window [Begin, End) of records over an immutable
// binary file. Copying a span is cheap; the file handle is shared.
type Span[T, K any] struct {
	tr    rec.Traits[T, K]
	f     *binfile.Immutable
	begin int64 // element index
	end   int64
}

// Whole returns a span over every record of f. The file size must be a
// multiple of the record size.
func Whole[T, K any](tr rec.Traits[T, K], f *binfile.Immutable) (Span[T, K], error) {
	rsz := int64(tr.Size())
	sz := f.Size()
	if sz%rsz != 0 {
		return Span[T, K]{}, fmt.Errorf("span: %q size %d not a multiple of record size %d", f.Path(), sz, rsz)
	}
	return Span[T, K]{tr: tr, f: f, begin: 0, end: sz / rsz}, nil
}

// New returns a span over [begin, end) of f.
func New[T, K any](tr rec.Traits[T, K], f *binfile.Immutable, begin, end int64) (Span[T, K], error) {
	whole, err := Whole(tr, f)
	if err != nil {
		return Span[T, K]{}, err
	}
	if begin < 0 || begin > end || end > whole.end {
		return Span[T, K]{}, fmt.Errorf("span: bounds [%d, %d) out of range for %q (%d records)", begin, end, f.Path(), whole.end)
	}
	whole.begin, whole.end = begin, end
	return whole, nil
}

func (s Span[T, K]) Traits() rec.Traits[T, K] { return s.tr }
func (s Span[T, K]) File() *binfile.Immutable { return s.f }
func (s Span[T, K]) Begin() int64             { return s.begin }
func (s Span[T, K]) End() int64               { return s.end }
func (s Span[T, K]) Len() int64               { return s.end - s.begin }
func (s Span[T, K]) Path() string             { return s.f.Path() }

// Sub returns the sub-span [begin, end) in absolute element indices.
func (s Span[T, K]) Sub(begin, end int64) Span[T, K] {
	sub := s
	sub.begin, sub.end = begin, end
	return sub
}

// ReadBytesAt reads records into dst starting at absolute element
// index elem. It reads min(len(dst)/recordSize, End-elem) records and
// returns the count; a read shorter than that is a ReadError.
func (s Span[T, K]) ReadBytesAt(dst []byte, elem int64) (int, error) {
	rsz := int64(s.tr.Size())
	want := int64(len(dst)) / rsz
	if remain := s.end - elem; want > remain {
		want = remain
	}
	if want <= 0 {
		return 0, nil
	}
	off := elem * rsz
	got, err := s.f.ReadAt(dst[:want*rsz], off)
	if err != nil || int64(got) != want*rsz {
		return got / int(rsz), &diskio.ReadError{
			Path:      s.f.Path(),
			Off:       off,
			Requested: int(want * rsz),
			Got:       got,
			Err:       err,
		}
	}
	return int(want), nil
}

// Read reads records into dst starting at absolute element index elem.
func (s Span[T, K]) Read(dst []T, elem int64) (int, error) {
	rsz := s.tr.Size()
	buf := make([]byte, len(dst)*rsz)
	n, err := s.ReadBytesAt(buf, elem)
	for i := 0; i < n; i++ {
		dst[i] = s.tr.Unmarshal(buf[i*rsz:])
	}
	return n, err
}

// Reader is a random-access reader over a span with a one-element
// cache: consecutive reads of the same index cost one I/O total.
type Reader[T, K any] struct {
	s      Span[T, K]
	buf    []byte
	cached int64
	val    T
}

func NewReader[T, K any](s Span[T, K]) *Reader[T, K] {
	return &Reader[T, K]{
		s:      s,
		buf:    make([]byte, s.tr.Size()),
		cached: -1,
	}
}

// At returns the record at absolute element index i.
func (r *Reader[T, K]) At(i int64) (T, error) {
	if i == r.cached {
		return r.val, nil
	}
	var zero T
	if i < r.s.begin || i >= r.s.end {
		return zero, fmt.Errorf("span: index %d out of range [%d, %d)", i, r.s.begin, r.s.end)
	}
	if _, err := r.s.ReadBytesAt(r.buf, i); err != nil {
		return zero, err
	}
	r.val = r.s.tr.Unmarshal(r.buf)
	r.cached = i
	return r.val, nil
}
