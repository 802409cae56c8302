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

// Package storepipe turns unordered record buffers into sorted indexed
// files through a three-stage pipeline: sort workers order and
// coalesce each buffer, a single write worker builds the index and
// writes both files, and drained buffers return to a bounded pool the
// caller draws from. Buffer ownership is linear: caller, pipeline,
// caller again.
package storepipe

import (
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"poskeep.org/pkg/binfile"
	"poskeep.org/pkg/rangeidx"
	"poskeep.org/pkg/rec"
	"poskeep.org/pkg/span"
)

// Options configure a pipeline.
type Options[T, K any] struct {
	Traits rec.Traits[T, K]

	SortWorkers int
	BufferCount int // buffers in the pool
	BufferCap   int // records per buffer

	Granularity    int // index records per range entry
	IndexBufBytes  int
	OutputBufBytes int

	// Create opens a fresh output file; used for data files and their
	// index sidecars.
	Create func(path string) (*binfile.Output, error)

	Log *logrus.Entry
}

type storeResult[K any] struct {
	index *rangeidx.Index[K]
	count int64
	err   error
}

// StoreFuture resolves when a scheduled buffer is durably on disk.
type StoreFuture[K any] struct {
	ch   chan storeResult[K]
	once sync.Once
	res  storeResult[K]
}

// Await returns the written file's index and record count.
func (f *StoreFuture[K]) Await() (*rangeidx.Index[K], int64, error) {
	f.once.Do(func() { f.res = <-f.ch })
	return f.res.index, f.res.count, f.res.err
}

type job[T, K any] struct {
	path string
	buf  []T
	fut  *StoreFuture[K]
}

// Pipeline is the running three-stage store pipeline.
type Pipeline[T, K any] struct {
	o       Options[T, K]
	sortCh  chan job[T, K]
	writeCh chan job[T, K]
	bufCh   chan []T
	sortWG  sync.WaitGroup
	writeWG sync.WaitGroup
	done    sync.Once
}

// New starts a pipeline. Buffers are pre-allocated; GetEmptyBuffer
// blocks when all of them are in flight.
func New[T, K any](o Options[T, K]) *Pipeline[T, K] {
	if o.SortWorkers < 1 {
		o.SortWorkers = 1
	}
	if o.BufferCount < o.SortWorkers+2 {
		o.BufferCount = o.SortWorkers + 2
	}
	if o.BufferCap < 1 {
		o.BufferCap = 1
	}
	p := &Pipeline[T, K]{
		o:       o,
		sortCh:  make(chan job[T, K], o.BufferCount),
		writeCh: make(chan job[T, K], o.BufferCount),
		bufCh:   make(chan []T, o.BufferCount),
	}
	for i := 0; i < o.BufferCount; i++ {
		p.bufCh <- make([]T, 0, o.BufferCap)
	}
	p.sortWG.Add(o.SortWorkers)
	for i := 0; i < o.SortWorkers; i++ {
		go p.sortWorker()
	}
	p.writeWG.Add(1)
	go p.writeWorker()
	return p
}

// GetEmptyBuffer blocks until a pooled buffer is free and returns it.
func (p *Pipeline[T, K]) GetEmptyBuffer() []T {
	return <-p.bufCh
}

// ScheduleStore queues buf to be sorted, coalesced and written to
// path (with its index sidecar beside it). The buffer must have come
// from GetEmptyBuffer; it returns to the pool once drained.
func (p *Pipeline[T, K]) ScheduleStore(path string, buf []T) *StoreFuture[K] {
	fut := &StoreFuture[K]{ch: make(chan storeResult[K], 1)}
	p.sortCh <- job[T, K]{path: path, buf: buf, fut: fut}
	return fut
}

func (p *Pipeline[T, K]) sortWorker() {
	defer p.sortWG.Done()
	tr := p.o.Traits
	for j := range p.sortCh {
		slices.SortStableFunc(j.buf, func(a, b T) int {
			if tr.LessFull(a, b) {
				return -1
			}
			if tr.LessFull(b, a) {
				return 1
			}
			return 0
		})
		j.buf = coalesce(tr, j.buf)
		p.writeCh <- j
	}
}

// coalesce combines runs of equivalent records in place, left to
// right, keeping one record per equivalence class.
func coalesce[T, K any](tr rec.Traits[T, K], buf []T) []T {
	out := buf[:0]
	for _, v := range buf {
		if len(out) > 0 && tr.EqualFull(out[len(out)-1], v) {
			out[len(out)-1] = tr.Combine(out[len(out)-1], v)
			continue
		}
		out = append(out, v)
	}
	return out
}

func (p *Pipeline[T, K]) writeWorker() {
	defer p.writeWG.Done()
	for j := range p.writeCh {
		res := p.write(j)
		if res.err != nil && p.o.Log != nil {
			p.o.Log.WithField("path", j.path).WithError(res.err).Error("storepipe: store failed")
		}
		j.fut.ch <- res
		p.bufCh <- j.buf[:0]
	}
}

// write builds the index for the sorted buffer, writes the sidecar,
// then the data file, and reports the result.
func (p *Pipeline[T, K]) write(j job[T, K]) storeResult[K] {
	tr := p.o.Traits
	b := rangeidx.NewBuilder(tr, p.o.Granularity)
	for _, v := range j.buf {
		b.Add(v)
	}
	ix := b.Finish()

	ixOut, err := p.o.Create(rangeidx.SidecarPath(j.path))
	if err != nil {
		return storeResult[K]{err: err}
	}
	if err := rangeidx.Write(tr, ix, ixOut, p.o.IndexBufBytes); err != nil {
		ixOut.Close()
		return storeResult[K]{err: err}
	}
	if err := ixOut.Close(); err != nil {
		return storeResult[K]{err: err}
	}

	out, err := p.o.Create(j.path)
	if err != nil {
		return storeResult[K]{err: err}
	}
	bi := span.NewBackInserter[T, K](tr, out, p.o.OutputBufBytes)
	if err := bi.Append(j.buf); err != nil {
		out.Close()
		return storeResult[K]{err: err}
	}
	if err := bi.Flush(); err != nil {
		out.Close()
		return storeResult[K]{err: err}
	}
	if err := out.Close(); err != nil {
		return storeResult[K]{err: err}
	}
	return storeResult[K]{index: ix, count: int64(len(j.buf))}
}

// WaitForCompletion drains both stages and joins the workers. It is
// idempotent; the pipeline accepts no work afterwards.
func (p *Pipeline[T, K]) WaitForCompletion() {
	p.done.Do(func() {
		close(p.sortCh)
		p.sortWG.Wait()
		close(p.writeCh)
		p.writeWG.Wait()
	})
}
