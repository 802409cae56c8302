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

package rec

import "encoding/binary"

// Uint32 is the reference Traits implementation: the record is its own
// key, duplicates combine by keeping the first.
type Uint32 struct{}

var _ Traits[uint32, uint32] = Uint32{}

func (Uint32) Size() int { return 4 }

func (Uint32) Marshal(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst, v)
}

func (Uint32) Unmarshal(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

func (Uint32) LessFull(a, b uint32) bool  { return a < b }
func (Uint32) EqualFull(a, b uint32) bool { return a == b }
func (Uint32) LessKey(a, b uint32) bool   { return a < b }

func (Uint32) Combine(acc, _ uint32) uint32 { return acc }

func (Uint32) Key(v uint32) uint32 { return v }

func (Uint32) KeySize() int { return 4 }

func (Uint32) MarshalKey(dst []byte, k uint32) {
	binary.LittleEndian.PutUint32(dst, k)
}

func (Uint32) UnmarshalKey(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

func (Uint32) LessKeys(a, b uint32) bool { return a < b }

func (Uint32) KeyDist(lo, hi uint32) (uint64, bool) {
	if hi < lo {
		return 0, true
	}
	return uint64(hi - lo), true
}
