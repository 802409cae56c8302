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

// Package iosched runs disk I/O on worker pools. Reads and appends
// against diskio files are queued as jobs and resolved through futures;
// a router assigns each path to the pool configured for its deepest
// matching prefix, so different physical devices get independent pools.
//
// A pool does not reorder jobs, but several workers may pick up jobs
// for the same file concurrently. Callers that need strict per-file
// ordering await each future before submitting the next; the
// double-buffered primitives in pkg/span do exactly that.
package iosched

import (
	"sync"

	"poskeep.org/pkg/diskio"
)

type opKind int

const (
	opRead opKind = iota
	opAppend
)

type job struct {
	op  opKind
	f   diskio.File
	buf []byte
	off int64
	fut *Future
}

type result struct {
	n   int
	err error
}

// Future is the pending result of a scheduled read or append. Await
// blocks until a worker resolves it; it may be called more than once.
type Future struct {
	ch   chan result
	once sync.Once
	res  result
}

func newFuture() *Future {
	return &Future{ch: make(chan result, 1)}
}

// Await returns the byte count reported by the operation and its error.
func (f *Future) Await() (int, error) {
	f.once.Do(func() {
		f.res = <-f.ch
	})
	return f.res.n, f.res.err
}

func (f *Future) resolve(n int, err error) {
	f.ch <- result{n: n, err: err}
}

// Pool is a fixed set of workers draining a job queue.
type Pool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []job
	done  bool
	wg    sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// ScheduleRead queues a positioned read of len(buf) bytes at off.
func (p *Pool) ScheduleRead(f diskio.File, buf []byte, off int64) *Future {
	return p.submit(job{op: opRead, f: f, buf: buf, off: off, fut: newFuture()})
}

// ScheduleAppend queues an append of buf.
func (p *Pool) ScheduleAppend(f diskio.File, buf []byte) *Future {
	return p.submit(job{op: opAppend, f: f, buf: buf, fut: newFuture()})
}

func (p *Pool) submit(j job) *Future {
	p.mu.Lock()
	p.queue = append(p.queue, j)
	// Single notify; a woken worker chain-notifies if more is queued.
	p.cond.Signal()
	p.mu.Unlock()
	return j.fut
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.done {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		if len(p.queue) > 0 {
			p.cond.Signal()
		}
		p.mu.Unlock()

		var n int
		var err error
		switch j.op {
		case opRead:
			n, err = j.f.ReadAt(j.buf, j.off)
		case opAppend:
			n, err = j.f.Append(j.buf)
		}
		j.fut.resolve(n, err)
	}
}

// Close drains the queue and joins the workers. No cancellation:
// everything already queued still runs.
func (p *Pool) Close() {
	p.mu.Lock()
	p.done = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
