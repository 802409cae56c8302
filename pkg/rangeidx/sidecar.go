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

import (
	"encoding/binary"
	"fmt"

	"poskeep.org/pkg/binfile"
	"poskeep.org/pkg/diskio"
	"poskeep.org/pkg/rec"
)

// SidecarSuffix is appended to a data file's name to form its index
// file's name.
const SidecarSuffix = "_index"

// SidecarPath returns the index file path for a data file path.
func SidecarPath(dataPath string) string { return dataPath + SidecarSuffix }

// entrySize is the packed byte size of one Entry: two little-endian
// u64 element indices and the two boundary keys.
func entrySize(keySize int) int { return 16 + 2*keySize }

func marshalEntry[T, K any](tr rec.Traits[T, K], dst []byte, e Entry[K]) {
	ksz := tr.KeySize()
	binary.LittleEndian.PutUint64(dst[0:], uint64(e.Low))
	binary.LittleEndian.PutUint64(dst[8:], uint64(e.High))
	tr.MarshalKey(dst[16:], e.LowKey)
	tr.MarshalKey(dst[16+ksz:], e.HighKey)
}

func unmarshalEntry[T, K any](tr rec.Traits[T, K], src []byte) Entry[K] {
	ksz := tr.KeySize()
	return Entry[K]{
		Low:     int64(binary.LittleEndian.Uint64(src[0:])),
		High:    int64(binary.LittleEndian.Uint64(src[8:])),
		LowKey:  tr.UnmarshalKey(src[16:]),
		HighKey: tr.UnmarshalKey(src[16+ksz:]),
	}
}

// Write appends the packed entries of ix to out in chunks of bufBytes
// (at least one entry per chunk) and flushes. Each chunk is a
// synchronous Append on the caller's goroutine; the I/O pool is not
// used.
func Write[T, K any](tr rec.Traits[T, K], ix *Index[K], out binfile.Appender, bufBytes int) error {
	esz := entrySize(tr.KeySize())
	perChunk := bufBytes / esz
	if perChunk < 1 {
		perChunk = 1
	}
	buf := make([]byte, 0, perChunk*esz)
	flushChunk := func() error {
		if len(buf) == 0 {
			return nil
		}
		got, err := out.Append(buf)
		if err != nil || got != len(buf) {
			return &diskio.AppendError{Path: out.Path(), Requested: len(buf), Written: got, Err: err}
		}
		buf = buf[:0]
		return nil
	}
	for _, e := range ix.entries {
		if len(buf) == cap(buf) {
			if err := flushChunk(); err != nil {
				return err
			}
		}
		buf = buf[:len(buf)+esz]
		marshalEntry(tr, buf[len(buf)-esz:], e)
	}
	if err := flushChunk(); err != nil {
		return err
	}
	return out.Flush()
}

// Load reads a packed sidecar file back into an Index.
func Load[T, K any](tr rec.Traits[T, K], f *binfile.Immutable) (*Index[K], error) {
	esz := int64(entrySize(tr.KeySize()))
	sz := f.Size()
	if sz%esz != 0 {
		return nil, fmt.Errorf("rangeidx: %q size %d not a multiple of entry size %d", f.Path(), sz, esz)
	}
	buf := make([]byte, sz)
	got, err := f.ReadAt(buf, 0)
	if err != nil || int64(got) != sz {
		return nil, &diskio.ReadError{Path: f.Path(), Off: 0, Requested: int(sz), Got: got, Err: err}
	}
	entries := make([]Entry[K], 0, sz/esz)
	for off := int64(0); off < sz; off += esz {
		entries = append(entries, unmarshalEntry(tr, buf[off:]))
	}
	return New(tr.LessKeys, entries), nil
}
