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

package diskio

import (
	"container/list"
	"os"
	"sync"
)

// HandlePool caps the number of concurrently open native handles of
// Pooled files. A cache miss while the pool is full evicts the
// least-recently-used idle handle. Each file has at most one cached
// handle.
type HandlePool struct {
	limit int

	mu sync.Mutex // guards ll and every poolEntry's list membership
	ll *list.List // *poolEntry; front is the freshest
}

type poolEntry struct {
	f    *Pooled
	h    *os.File
	elem *list.Element
}

// NewHandlePool returns a pool holding at most limit open handles.
func NewHandlePool(limit int) *HandlePool {
	if limit < 1 {
		limit = 1
	}
	return &HandlePool{
		limit: limit,
		ll:    list.New(),
	}
}

// Open creates a Pooled file for path in the given mode. The first open
// happens immediately so creation errors surface here; the handle may be
// evicted and reopened later.
func (p *HandlePool) Open(path string, mode Mode) (*Pooled, error) {
	f := &Pooled{pool: p, path: path, mode: mode}
	err := p.withHandle(f, func(h *os.File) error {
		if mode == ModeWriteTrunc {
			return nil
		}
		st, err := h.Stat()
		if err != nil {
			return err
		}
		f.size = st.Size()
		f.capacity = f.size
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// withHandle runs fn with the file's native handle, opening or
// reopening it if it is not cached. The per-file mutex is held for the
// whole call, so fn has exclusive access to the file. The pool mutex is
// released across the physical open.
func (p *HandlePool) withHandle(f *Pooled, fn func(h *os.File) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &OpenError{Path: f.path, Mode: f.mode, Err: os.ErrClosed}
	}
	h, err := p.handle(f)
	if err != nil {
		return err
	}
	return fn(h)
}

// handle returns the cached handle for f, opening one if needed.
// Called with f.mu held.
func (p *HandlePool) handle(f *Pooled) (*os.File, error) {
	p.mu.Lock()
	if f.ent != nil {
		p.ll.MoveToFront(f.ent.elem)
		h := f.ent.h
		p.mu.Unlock()
		return h, nil
	}
	for p.ll.Len() >= p.limit {
		if !p.evictOldest() {
			// Every cached handle is in use right now; admit one
			// over the limit rather than deadlock.
			break
		}
	}
	ent := &poolEntry{f: f}
	ent.elem = p.ll.PushFront(ent)
	f.ent = ent
	p.mu.Unlock()

	// The open happens outside the pool mutex; f.mu serializes opens
	// of this file, and the reserved entry keeps the LRU accounting
	// consistent for concurrent callers.
	h, err := os.OpenFile(f.path, f.mode.flags(f.opened > 0), 0644)

	p.mu.Lock()
	if err != nil {
		p.ll.Remove(ent.elem)
		f.ent = nil
		p.mu.Unlock()
		return nil, &OpenError{Path: f.path, Mode: f.mode, Err: err}
	}
	f.opened++
	ent.h = h
	p.mu.Unlock()
	return h, nil
}

// evictOldest closes the least-recently-used handle whose file is not
// mid-operation. Called with p.mu held. Reports whether a handle was
// evicted.
func (p *HandlePool) evictOldest() bool {
	for e := p.ll.Back(); e != nil; e = e.Prev() {
		ent := e.Value.(*poolEntry)
		if !ent.f.mu.TryLock() {
			continue
		}
		p.ll.Remove(e)
		ent.f.ent = nil
		if ent.h != nil {
			ent.h.Close()
		}
		ent.f.mu.Unlock()
		return true
	}
	return false
}

// drop removes f's cached handle, if any. Called with f.mu held.
func (p *HandlePool) drop(f *Pooled) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f.ent == nil {
		return
	}
	p.ll.Remove(f.ent.elem)
	if f.ent.h != nil {
		f.ent.h.Close()
	}
	f.ent = nil
}

// Len returns the number of cached handles.
func (p *HandlePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ll.Len()
}
