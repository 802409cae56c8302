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
	"poskeep.org/pkg/binfile"
	"poskeep.org/pkg/diskio"
	"poskeep.org/pkg/rec"
)

// BackInserter is a buffered record sink with double-buffered
// asynchronous flushing: a full buffer is handed to the I/O pool while
// new records accumulate in the other. Order is preserved by awaiting
// each outstanding append before submitting the next.
type BackInserter[T, K any] struct {
	tr  rec.Traits[T, K]
	out binfile.Appender
	rsz int

	buf    [2][]byte
	active int
	n      int // bytes used in the active buffer

	fut    *pendingAppend
	pushed int64

	err error // sticky; everything fails after the first error
}

// pendingAppend pairs the outstanding future with its request size so
// short writes are detected at await time.
type pendingAppend struct {
	await func() (int, error)
	req   int
}

// NewBackInserter buffers bufBytes across two buffers in front of out.
func NewBackInserter[T, K any](tr rec.Traits[T, K], out binfile.Appender, bufBytes int) *BackInserter[T, K] {
	rsz := tr.Size()
	capRecs := bufBytes / (2 * rsz)
	if capRecs < 1 {
		capRecs = 1
	}
	bi := &BackInserter[T, K]{tr: tr, out: out, rsz: rsz}
	bi.buf[0] = make([]byte, capRecs*rsz)
	bi.buf[1] = make([]byte, capRecs*rsz)
	return bi
}

// Push appends one record.
func (bi *BackInserter[T, K]) Push(v T) error {
	if bi.err != nil {
		return bi.err
	}
	bi.tr.Marshal(bi.buf[bi.active][bi.n:], v)
	bi.n += bi.rsz
	bi.pushed++
	if bi.n == len(bi.buf[bi.active]) {
		bi.swap()
	}
	return bi.err
}

// Append appends a batch of records. Small batches are copied into the
// buffer; a batch that does not fit flushes the buffered bytes first
// and then goes to the file in one synchronous append, sequenced after
// any outstanding write.
func (bi *BackInserter[T, K]) Append(vs []T) error {
	if bi.err != nil {
		return bi.err
	}
	nb := len(vs) * bi.rsz
	if nb <= len(bi.buf[bi.active])-bi.n {
		for _, v := range vs {
			bi.tr.Marshal(bi.buf[bi.active][bi.n:], v)
			bi.n += bi.rsz
		}
		bi.pushed += int64(len(vs))
		if bi.n == len(bi.buf[bi.active]) {
			bi.swap()
		}
		return bi.err
	}
	bi.awaitPending()
	if bi.err != nil {
		return bi.err
	}
	if bi.n > 0 {
		bi.syncAppend(bi.buf[bi.active][:bi.n])
		bi.n = 0
		if bi.err != nil {
			return bi.err
		}
	}
	big := make([]byte, nb)
	for i, v := range vs {
		bi.tr.Marshal(big[i*bi.rsz:], v)
	}
	bi.syncAppend(big)
	if bi.err == nil {
		bi.pushed += int64(len(vs))
	}
	return bi.err
}

// swap hands the active buffer to the I/O pool and continues in the
// other one. The previous outstanding append is awaited first so the
// file sees the buffers in order.
func (bi *BackInserter[T, K]) swap() {
	bi.awaitPending()
	if bi.err != nil {
		return
	}
	req := bi.n
	fut := bi.out.ScheduleAppend(bi.buf[bi.active][:req])
	bi.fut = &pendingAppend{await: fut.Await, req: req}
	bi.active = 1 - bi.active
	bi.n = 0
}

func (bi *BackInserter[T, K]) awaitPending() {
	if bi.fut == nil {
		return
	}
	got, err := bi.fut.await()
	req := bi.fut.req
	bi.fut = nil
	if bi.err == nil && (err != nil || got != req) {
		bi.err = &diskio.AppendError{Path: bi.out.Path(), Requested: req, Written: got, Err: err}
	}
}

func (bi *BackInserter[T, K]) syncAppend(p []byte) {
	got, err := bi.out.Append(p)
	if bi.err == nil && (err != nil || got != len(p)) {
		bi.err = &diskio.AppendError{Path: bi.out.Path(), Requested: len(p), Written: got, Err: err}
	}
}

// Len returns the number of records accepted so far.
func (bi *BackInserter[T, K]) Len() int64 { return bi.pushed }

// Flush writes the active buffer, awaits the outstanding append and
// flushes the underlying file.
func (bi *BackInserter[T, K]) Flush() error {
	if bi.err != nil {
		return bi.err
	}
	bi.awaitPending()
	if bi.err != nil {
		return bi.err
	}
	if bi.n > 0 {
		bi.syncAppend(bi.buf[bi.active][:bi.n])
		bi.n = 0
		if bi.err != nil {
			return bi.err
		}
	}
	if err := bi.out.Flush(); err != nil {
		bi.err = err
	}
	return bi.err
}

// Close is a best-effort flush for teardown paths; it never reports an
// error. Use Flush when failures matter.
func (bi *BackInserter[T, K]) Close() error {
	_ = bi.Flush()
	return nil
}
