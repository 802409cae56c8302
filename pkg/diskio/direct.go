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
	"os"
	"sync"
	"sync/atomic"
)

// DirectCap is the advisory cap on simultaneously open Direct files.
// Overshooting fails the open rather than waiting.
type DirectCap struct {
	limit int64
	n     atomic.Int64
}

func NewDirectCap(limit int) *DirectCap {
	if limit < 1 {
		limit = 1
	}
	return &DirectCap{limit: int64(limit)}
}

func (c *DirectCap) acquire() error {
	if c == nil {
		return nil
	}
	if c.n.Add(1) > c.limit {
		c.n.Add(-1)
		return ErrTooManyDirect
	}
	return nil
}

func (c *DirectCap) release() {
	if c != nil {
		c.n.Add(-1)
	}
}

// Direct is a File that keeps its native handle for its whole lifetime.
// Used where predictable latency matters, e.g. single-pass outputs.
type Direct struct {
	path string
	mode Mode
	cap  *DirectCap

	mu       sync.Mutex
	h        *os.File
	size     int64
	capacity int64
	closed   bool
}

// OpenDirect opens path in the given mode, counting against cap (which
// may be nil for uncapped use).
func OpenDirect(path string, mode Mode, cap *DirectCap) (*Direct, error) {
	if err := cap.acquire(); err != nil {
		return nil, &OpenError{Path: path, Mode: mode, Err: err}
	}
	h, err := os.OpenFile(path, mode.flags(false), 0644)
	if err != nil {
		cap.release()
		return nil, &OpenError{Path: path, Mode: mode, Err: err}
	}
	f := &Direct{path: path, mode: mode, cap: cap, h: h}
	if mode != ModeWriteTrunc {
		st, err := h.Stat()
		if err != nil {
			h.Close()
			cap.release()
			return nil, &OpenError{Path: path, Mode: mode, Err: err}
		}
		f.size = st.Size()
		f.capacity = f.size
	}
	return f, nil
}

func (f *Direct) Path() string { return f.path }
func (f *Direct) Mode() Mode   { return f.mode }

func (f *Direct) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

func (f *Direct) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readAt(f.h, p, off)
}

func (f *Direct) Append(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.h.WriteAt(p, f.size)
	f.size += int64(n)
	if f.size > f.capacity {
		f.capacity = f.size
	}
	return n, err
}

func (f *Direct) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h.Sync()
}

func (f *Direct) Truncate(n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n >= f.capacity {
		return nil
	}
	if err := f.h.Sync(); err != nil {
		return err
	}
	if err := f.h.Truncate(n); err != nil {
		return err
	}
	f.capacity = n
	if f.size > n {
		f.size = n
	}
	return nil
}

func (f *Direct) Reserve(n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= f.capacity {
		return nil
	}
	if err := reserve(f.h, f.capacity, n-f.capacity); err != nil {
		return err
	}
	f.capacity = n
	return nil
}

func (f *Direct) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	var err error
	if f.capacity > f.size {
		err = f.h.Truncate(f.size)
	}
	if cerr := f.h.Close(); err == nil {
		err = cerr
	}
	f.cap.release()
	return err
}
