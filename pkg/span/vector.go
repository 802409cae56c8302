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
	"fmt"

	"poskeep.org/pkg/binfile"
	"poskeep.org/pkg/diskio"
	"poskeep.org/pkg/rec"
)

// Vector is a growable on-disk record array: a BackInserter that can
// also read back. Reads flush first, so they observe every prior push.
type Vector[T, K any] struct {
	tr  rec.Traits[T, K]
	rsz int
	io  *binfile.InputOutput
	bi  *BackInserter[T, K]
	n   int64
}

func NewVector[T, K any](tr rec.Traits[T, K], io *binfile.InputOutput, bufBytes int) *Vector[T, K] {
	rsz := int64(tr.Size())
	v := &Vector[T, K]{
		tr:  tr,
		rsz: tr.Size(),
		io:  io,
		bi:  NewBackInserter[T, K](tr, io, bufBytes),
		n:   io.Size() / rsz,
	}
	return v
}

func (v *Vector[T, K]) Push(x T) error {
	if err := v.bi.Push(x); err != nil {
		return err
	}
	v.n++
	return nil
}

func (v *Vector[T, K]) Append(xs []T) error {
	if err := v.bi.Append(xs); err != nil {
		return err
	}
	v.n += int64(len(xs))
	return nil
}

func (v *Vector[T, K]) Len() int64 { return v.n }

func (v *Vector[T, K]) Flush() error { return v.bi.Flush() }

// Get returns the record at index i.
func (v *Vector[T, K]) Get(i int64) (T, error) {
	var zero T
	if i < 0 || i >= v.n {
		return zero, fmt.Errorf("span: vector index %d out of range [0, %d)", i, v.n)
	}
	if err := v.bi.Flush(); err != nil {
		return zero, err
	}
	buf := make([]byte, v.rsz)
	off := i * int64(v.rsz)
	got, err := v.io.ReadAt(buf, off)
	if err != nil || got != v.rsz {
		return zero, &diskio.ReadError{Path: v.io.Path(), Off: off, Requested: v.rsz, Got: got, Err: err}
	}
	return v.tr.Unmarshal(buf), nil
}

// Read fills dst with records starting at index from, returning the
// count read (clipped at the end).
func (v *Vector[T, K]) Read(dst []T, from int64) (int, error) {
	if err := v.bi.Flush(); err != nil {
		return 0, err
	}
	want := int64(len(dst))
	if remain := v.n - from; want > remain {
		want = remain
	}
	if want <= 0 {
		return 0, nil
	}
	buf := make([]byte, want*int64(v.rsz))
	off := from * int64(v.rsz)
	got, err := v.io.ReadAt(buf, off)
	if err != nil || got != len(buf) {
		return 0, &diskio.ReadError{Path: v.io.Path(), Off: off, Requested: len(buf), Got: got, Err: err}
	}
	for i := int64(0); i < want; i++ {
		dst[i] = v.tr.Unmarshal(buf[i*int64(v.rsz):])
	}
	return int(want), nil
}

// Clear drops every record.
func (v *Vector[T, K]) Clear() error {
	if err := v.bi.Flush(); err != nil {
		return err
	}
	if err := v.io.Truncate(0); err != nil {
		return err
	}
	v.bi = NewBackInserter[T, K](v.tr, v.io, len(v.bi.buf[0])*2)
	v.n = 0
	return nil
}

// Close is best-effort teardown, like BackInserter.Close.
func (v *Vector[T, K]) Close() error { return v.bi.Close() }
