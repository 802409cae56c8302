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

// Package rec defines the capability bundle a record type brings to the
// engine. The engine knows nothing about records beyond what Traits
// exposes: a fixed byte size, a total order, a dedup equivalence with a
// combining function, and an extractable key that is weaker than the
// total order.
package rec

// Traits describes a fixed-size record type T indexed by key type K.
//
// Required invariants:
//   - EqualFull(a, b) implies !LessFull(a, b) and !LessFull(b, a).
//   - LessKey is a weakening of LessFull: records equal under LessKey
//     form contiguous runs when sorted by LessFull.
//   - Marshal writes exactly Size bytes; MarshalKey exactly KeySize.
type Traits[T, K any] interface {
	// Size is the marshaled byte size of every record.
	Size() int
	Marshal(dst []byte, v T)
	Unmarshal(src []byte) T

	// LessFull is the total order records are stored in.
	LessFull(a, b T) bool
	// EqualFull is the equivalence used to coalesce duplicates.
	EqualFull(a, b T) bool
	// LessKey compares records by key only.
	LessKey(a, b T) bool
	// Combine merges two equivalent records into one.
	Combine(acc, b T) T

	// Key extracts the index key.
	Key(v T) K

	KeySize() int
	MarshalKey(dst []byte, k K)
	UnmarshalKey(src []byte) K
	LessKeys(a, b K) bool

	// KeyDist reports the distance from lo to hi for interpolation
	// probing. ok is false when the key space has no usable
	// arithmetic; searches then fall back to binary probes.
	KeyDist(lo, hi K) (d uint64, ok bool)
}
