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

// Package binfile provides the typed file facades of the engine: thin
// wrappers binding a shared diskio file to the I/O pool serving its
// path. Immutable is read-only, Output append-only, InputOutput both;
// Observable feeds a write observer, used to build indexes
// incrementally during merges.
package binfile

import (
	"poskeep.org/pkg/diskio"
	"poskeep.org/pkg/iosched"
)

// ReopenFunc reopens a sealed path read-only.
type ReopenFunc func(path string) (diskio.File, error)

// Immutable is a read-only binary file.
type Immutable struct {
	f  diskio.File
	io *iosched.Pool
}

func NewImmutable(f diskio.File, io *iosched.Pool) *Immutable {
	return &Immutable{f: f, io: io}
}

func (b *Immutable) Path() string { return b.f.Path() }
func (b *Immutable) Size() int64  { return b.f.Size() }

func (b *Immutable) ReadAt(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

func (b *Immutable) ScheduleRead(p []byte, off int64) *iosched.Future {
	return b.io.ScheduleRead(b.f, p, off)
}

func (b *Immutable) Close() error { return b.f.Close() }

// Appender is the append surface shared by Output, InputOutput and
// Observable.
type Appender interface {
	Path() string
	Size() int64
	Append(p []byte) (int, error)
	ScheduleAppend(p []byte) *iosched.Future
	Flush() error
}

// Output is an append-only binary file.
type Output struct {
	f      diskio.File
	io     *iosched.Pool
	reopen ReopenFunc
}

var _ Appender = (*Output)(nil)

func NewOutput(f diskio.File, io *iosched.Pool, reopen ReopenFunc) *Output {
	return &Output{f: f, io: io, reopen: reopen}
}

func (b *Output) Path() string { return b.f.Path() }
func (b *Output) Size() int64  { return b.f.Size() }

func (b *Output) Append(p []byte) (int, error) {
	return b.f.Append(p)
}

func (b *Output) ScheduleAppend(p []byte) *iosched.Future {
	return b.io.ScheduleAppend(b.f, p)
}

func (b *Output) Flush() error { return b.f.Flush() }

func (b *Output) Close() error { return b.f.Close() }

// Seal flushes the file, releases the writable handle and reopens the
// same path read-only.
func (b *Output) Seal() (*Immutable, error) {
	if err := b.f.Flush(); err != nil {
		return nil, err
	}
	if err := b.f.Close(); err != nil {
		return nil, err
	}
	rf, err := b.reopen(b.f.Path())
	if err != nil {
		return nil, err
	}
	return NewImmutable(rf, b.io), nil
}

// InputOutput is a binary file open for both reading and appending.
type InputOutput struct {
	Output
}

func NewInputOutput(f diskio.File, io *iosched.Pool, reopen ReopenFunc) *InputOutput {
	return &InputOutput{Output: Output{f: f, io: io, reopen: reopen}}
}

func (b *InputOutput) ReadAt(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

func (b *InputOutput) ScheduleRead(p []byte, off int64) *iosched.Future {
	return b.io.ScheduleRead(b.f, p, off)
}

func (b *InputOutput) Truncate(n int64) error { return b.f.Truncate(n) }

// Observable wraps an Output and calls obs synchronously before each
// append with the bytes and the logical offset they are headed for.
// The observer is advisory: a short append leaves it ahead of the
// file, and observers must only trust state confirmed by a successful
// Flush and Seal.
type Observable struct {
	out     *Output
	obs     func(p []byte, off int64)
	nextOff int64
}

var _ Appender = (*Observable)(nil)

func NewObservable(out *Output, obs func(p []byte, off int64)) *Observable {
	return &Observable{out: out, obs: obs, nextOff: out.Size()}
}

func (b *Observable) Path() string { return b.out.Path() }
func (b *Observable) Size() int64  { return b.out.Size() }

func (b *Observable) Append(p []byte) (int, error) {
	b.obs(p, b.nextOff)
	b.nextOff += int64(len(p))
	return b.out.Append(p)
}

func (b *Observable) ScheduleAppend(p []byte) *iosched.Future {
	b.obs(p, b.nextOff)
	b.nextOff += int64(len(p))
	return b.out.ScheduleAppend(p)
}

func (b *Observable) Flush() error { return b.out.Flush() }

func (b *Observable) Seal() (*Immutable, error) { return b.out.Seal() }
