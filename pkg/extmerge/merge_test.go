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

package extmerge_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"poskeep.org/pkg/engine"
	"poskeep.org/pkg/extmerge"
	"poskeep.org/pkg/rec"
	"poskeep.org/pkg/rec/rectest"
	"poskeep.org/pkg/span"
)

var u32 = rec.Uint32{}

// counted is a record carrying a key and an occurrence count; records
// with equal keys combine by summing counts, keeping the first
// record's origin tag. It exercises the combine and stability
// contracts the plain uint32 traits cannot observe.
type counted struct {
	Key    uint32
	Count  uint16
	Origin uint16
}

type countedTraits struct{}

var _ rec.Traits[counted, uint32] = countedTraits{}

func (countedTraits) Size() int { return 8 }

func (countedTraits) Marshal(dst []byte, v counted) {
	binary.LittleEndian.PutUint32(dst, v.Key)
	binary.LittleEndian.PutUint16(dst[4:], v.Count)
	binary.LittleEndian.PutUint16(dst[6:], v.Origin)
}

func (countedTraits) Unmarshal(src []byte) counted {
	return counted{
		Key:    binary.LittleEndian.Uint32(src),
		Count:  binary.LittleEndian.Uint16(src[4:]),
		Origin: binary.LittleEndian.Uint16(src[6:]),
	}
}

func (countedTraits) LessFull(a, b counted) bool  { return a.Key < b.Key }
func (countedTraits) EqualFull(a, b counted) bool { return a.Key == b.Key }
func (countedTraits) LessKey(a, b counted) bool   { return a.Key < b.Key }

func (countedTraits) Combine(acc, b counted) counted {
	acc.Count += b.Count
	return acc
}

func (countedTraits) Key(v counted) uint32 { return v.Key }

func (countedTraits) KeySize() int                     { return 4 }
func (countedTraits) MarshalKey(dst []byte, k uint32)  { binary.LittleEndian.PutUint32(dst, k) }
func (countedTraits) UnmarshalKey(src []byte) uint32   { return binary.LittleEndian.Uint32(src) }
func (countedTraits) LessKeys(a, b uint32) bool        { return a < b }
func (countedTraits) KeyDist(lo, hi uint32) (uint64, bool) {
	return uint64(hi - lo), true
}

func options[T, K any](t *testing.T, env *engine.Env, tr rec.Traits[T, K], fanIn int, tmp string) extmerge.Options[T, K] {
	return extmerge.Options[T, K]{
		Traits:         tr,
		FanIn:          fanIn,
		InputBufBytes:  1 << 10,
		OutputBufBytes: 1 << 10,
		DirA:           tmp,
		DirB:           tmp,
		CreateTemp:     env.CreateOutput,
		OpenSpan: func(path string) (span.Span[T, K], error) {
			f, err := env.OpenImmutable(path)
			if err != nil {
				return span.Span[T, K]{}, err
			}
			return span.Whole(tr, f)
		},
		Remove: os.Remove,
	}
}

func collect[T, K any](out *[]T) func(T) error {
	return func(v T) error {
		*out = append(*out, v)
		return nil
	}
}

func TestNumPasses(t *testing.T) {
	const b = 4
	for _, tc := range []struct {
		n, want int
	}{
		{0, 0}, {1, 1}, {b, 1}, {b + 1, 2}, {b * b, 2}, {b*b + 1, 3},
	} {
		require.Equal(t, tc.want, extmerge.NumPasses(tc.n, b), "n=%d", tc.n)
	}
}

func TestMakePlanAlternates(t *testing.T) {
	p := extmerge.MakePlan(100, 4, "/a", "/b")
	require.Len(t, p.Passes, 4)
	require.Equal(t, "", p.Passes[0].ReadDir)
	require.Equal(t, "/a", p.Passes[0].WriteDir)
	require.Equal(t, "/a", p.Passes[1].ReadDir)
	require.Equal(t, "/b", p.Passes[1].WriteDir)
	require.Equal(t, "/b", p.Passes[2].ReadDir)
	require.Equal(t, "/a", p.Passes[2].WriteDir)
}

func TestAssessWork(t *testing.T) {
	// Two passes over 3 inputs at fan-in 2: every byte is handled
	// twice.
	require.EqualValues(t, 60, extmerge.AssessWork([]int64{10, 10, 10}, 2))
	require.EqualValues(t, 30, extmerge.AssessWork([]int64{10, 10, 10}, 4))
}

func TestTwoPassMerge(t *testing.T) {
	env := rectest.NewEnv(t)
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(tmp, 0755))

	inputs := make([]span.Span[uint32, uint32], 0, 4)
	for i, recs := range [][]uint32{
		{1, 3, 5}, {2, 4, 6}, {0, 7, 8}, {3, 5, 9},
	} {
		inputs = append(inputs, rectest.WriteFile[uint32, uint32](t, env, filepath.Join(dir, filePathName(i)), u32, recs))
	}

	var passes []int
	var got []uint32
	o := options[uint32, uint32](t, env, u32, 2, tmp)
	o.PassFinished = func(pass int) { passes = append(passes, pass) }
	require.NoError(t, extmerge.Merge(inputs, collect(&got), o))

	require.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	require.Equal(t, []int{0, 1}, passes)

	// The intermediate temp files are gone.
	ents, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, ents)
}

func TestMergeInputCounts(t *testing.T) {
	env := rectest.NewEnv(t)
	const fanIn = 4
	for _, n := range []int{0, 1, fanIn, fanIn + 1, fanIn*fanIn + 1} {
		dir := t.TempDir()
		tmp := filepath.Join(dir, "tmp")
		require.NoError(t, os.MkdirAll(tmp, 0755))

		var inputs []span.Span[uint32, uint32]
		var want []uint32
		for i := 0; i < n; i++ {
			recs := []uint32{uint32(i), uint32(i + n), uint32(i + 2*n)}
			want = append(want, recs...)
			inputs = append(inputs, rectest.WriteFile[uint32, uint32](t, env, filepath.Join(dir, filePathName(i)), u32, recs))
		}
		// Distinct values throughout: the output is the sorted union.
		var got []uint32
		require.NoError(t, extmerge.Merge(inputs, collect(&got), options[uint32, uint32](t, env, u32, fanIn, tmp)))
		require.Len(t, got, len(want))
		for i := 1; i < len(got); i++ {
			require.Less(t, got[i-1], got[i])
		}
	}
}

func TestMergeCombinesStably(t *testing.T) {
	env := rectest.NewEnv(t)
	tr := countedTraits{}
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(tmp, 0755))

	// Key 7 appears in all three inputs; the combined record must keep
	// input 0's origin and sum every count, left to right.
	inputsData := [][]counted{
		{{Key: 1, Count: 1, Origin: 0}, {Key: 7, Count: 10, Origin: 0}},
		{{Key: 7, Count: 100, Origin: 1}, {Key: 9, Count: 1, Origin: 1}},
		{{Key: 3, Count: 1, Origin: 2}, {Key: 7, Count: 1000, Origin: 2}},
	}
	var inputs []span.Span[counted, uint32]
	for i, recs := range inputsData {
		inputs = append(inputs, rectest.WriteFile[counted, uint32](t, env, filepath.Join(dir, filePathName(i)), tr, recs))
	}

	var got []counted
	require.NoError(t, extmerge.Merge(inputs, collect(&got), options[counted, uint32](t, env, tr, 8, tmp)))
	require.Equal(t, []counted{
		{Key: 1, Count: 1, Origin: 0},
		{Key: 3, Count: 1, Origin: 2},
		{Key: 7, Count: 1110, Origin: 0},
		{Key: 9, Count: 1, Origin: 1},
	}, got)
}

func TestMergeManyInputsThroughHeap(t *testing.T) {
	env := rectest.NewEnv(t)
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(tmp, 0755))

	// More inputs than the queue threshold in a single pass.
	const n = 30
	var inputs []span.Span[uint32, uint32]
	for i := 0; i < n; i++ {
		recs := []uint32{uint32(i), uint32(i + n), uint32(i + 2*n), uint32(i + 3*n)}
		inputs = append(inputs, rectest.WriteFile[uint32, uint32](t, env, filepath.Join(dir, filePathName(i)), u32, recs))
	}
	var got []uint32
	require.NoError(t, extmerge.Merge(inputs, collect(&got), options[uint32, uint32](t, env, u32, 64, tmp)))
	require.Len(t, got, 4*n)
	for i := range got {
		require.EqualValues(t, i, got[i])
	}
}

func filePathName(i int) string {
	return "in" + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26))
}
