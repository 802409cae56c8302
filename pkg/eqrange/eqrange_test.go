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

package eqrange_test

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"poskeep.org/pkg/eqrange"
	"poskeep.org/pkg/rangeidx"
	"poskeep.org/pkg/rec"
	"poskeep.org/pkg/rec/rectest"
	"poskeep.org/pkg/span"
)

var u32 = rec.Uint32{}

func writeSpan(t *testing.T, recs []uint32) span.Span[uint32, uint32] {
	env := rectest.NewEnv(t)
	return rectest.WriteFile[uint32, uint32](t, env, filepath.Join(t.TempDir(), "f"), u32, recs)
}

func buildIndex(g int, recs []uint32) *rangeidx.Index[uint32] {
	b := rangeidx.NewBuilder[uint32, uint32](u32, g)
	for _, v := range recs {
		b.Add(v)
	}
	return b.Finish()
}

// linear computes the expected result the slow way.
func linear(recs []uint32, k uint32) eqrange.Result {
	lo := sort.Search(len(recs), func(i int) bool { return recs[i] >= k })
	hi := sort.Search(len(recs), func(i int) bool { return recs[i] > k })
	return eqrange.Result{Lo: int64(lo), Hi: int64(hi)}
}

func TestBatchFullLoad(t *testing.T) {
	recs := []uint32{1, 1, 1, 4, 4, 7, 9, 9, 9}
	sp := writeSpan(t, recs)

	res, err := eqrange.Batch(sp, nil, []uint32{1, 2, 4, 8, 9}, eqrange.Options{
		MaxReadBytes: 32 << 10,
		CrossUpdate:  true,
	})
	require.NoError(t, err)
	require.Equal(t, []eqrange.Result{
		{Lo: 0, Hi: 3},
		{Lo: 3, Hi: 3},
		{Lo: 3, Hi: 5},
		{Lo: 6, Hi: 6},
		{Lo: 6, Hi: 9},
	}, res)
}

func TestBatchEmptySpanNoIO(t *testing.T) {
	sp := writeSpan(t, nil)
	var stats eqrange.Stats
	res, err := eqrange.Batch(sp, nil, []uint32{1, 2, 3}, eqrange.Options{
		MaxReadBytes: 64,
		Stats:        &stats,
	})
	require.NoError(t, err)
	for _, r := range res {
		require.Equal(t, eqrange.Result{Lo: 0, Hi: 0}, r)
	}
	require.Zero(t, stats.WindowReads)
	require.Zero(t, stats.PointReads)
}

func TestBatchSingleRecord(t *testing.T) {
	sp := writeSpan(t, []uint32{5})
	res, err := eqrange.Batch(sp, nil, []uint32{4, 5, 6}, eqrange.Options{MaxReadBytes: 64})
	require.NoError(t, err)
	require.Equal(t, []eqrange.Result{{Lo: 0, Hi: 0}, {Lo: 0, Hi: 1}, {Lo: 1, Hi: 1}}, res)
}

func TestCrossNarrowing(t *testing.T) {
	recs := []uint32{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	sp := writeSpan(t, recs)
	keys := []uint32{25, 55, 85}
	want := []eqrange.Result{{Lo: 2, Hi: 2}, {Lo: 5, Hi: 5}, {Lo: 8, Hi: 8}}

	// S of six records.
	var crossStats eqrange.Stats
	res, err := eqrange.Batch(sp, nil, keys, eqrange.Options{
		MaxReadBytes: 6 * u32.Size(),
		CrossUpdate:  true,
		Stats:        &crossStats,
	})
	require.NoError(t, err)
	require.Equal(t, want, res)

	var plainStats eqrange.Stats
	res, err = eqrange.Batch(sp, nil, keys, eqrange.Options{
		MaxReadBytes: 6 * u32.Size(),
		Stats:        &plainStats,
	})
	require.NoError(t, err)
	require.Equal(t, want, res)

	// The window read for 25 commits 55 outright and narrows 85, so
	// the cross-updating batch does strictly less I/O.
	require.Less(t, crossStats.WindowReads, plainStats.WindowReads)
	require.Equal(t, 2, crossStats.WindowReads)
}

func TestLongEqualRunGeometricExpansion(t *testing.T) {
	recs := []uint32{10}
	for i := 0; i < 200; i++ {
		recs = append(recs, 50)
	}
	recs = append(recs, 90, 95)
	sp := writeSpan(t, recs)

	// A four-record window cannot see either end of the run.
	res, err := eqrange.Batch(sp, nil, []uint32{50}, eqrange.Options{MaxReadBytes: 4 * u32.Size()})
	require.NoError(t, err)
	require.Equal(t, []eqrange.Result{{Lo: 1, Hi: 201}}, res)
}

func TestWholeSpanSingleKey(t *testing.T) {
	recs := make([]uint32, 100)
	for i := range recs {
		recs[i] = 7
	}
	sp := writeSpan(t, recs)
	res, err := eqrange.Batch(sp, nil, []uint32{6, 7, 8}, eqrange.Options{MaxReadBytes: 4 * u32.Size()})
	require.NoError(t, err)
	require.Equal(t, []eqrange.Result{{Lo: 0, Hi: 0}, {Lo: 0, Hi: 100}, {Lo: 100, Hi: 100}}, res)
}

func TestBatchMatchesLinearScan(t *testing.T) {
	// Every even key three times: plenty of runs and gaps.
	var recs []uint32
	for i := 0; i < 300; i++ {
		recs = append(recs, uint32(i/3)*2)
	}
	sp := writeSpan(t, recs)
	ix := buildIndex(5, recs)

	var keys []uint32
	for k := uint32(0); k <= 202; k++ {
		keys = append(keys, k)
	}
	var want []eqrange.Result
	for _, k := range keys {
		want = append(want, linear(recs, k))
	}

	for _, tc := range []struct {
		name  string
		ix    *rangeidx.Index[uint32]
		cross bool
	}{
		{"no-index", nil, false},
		{"no-index-cross", nil, true},
		{"indexed", ix, false},
		{"indexed-cross", ix, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := eqrange.Batch(sp, tc.ix, keys, eqrange.Options{
				MaxReadBytes: 16 * u32.Size(),
				CrossUpdate:  tc.cross,
			})
			require.NoError(t, err)
			for i := range want {
				if want[i].Hi > want[i].Lo {
					// Present keys must match exactly.
					require.Equal(t, want[i], res[i], "key %d", keys[i])
				} else {
					// Absent keys are empty; the reported position is
					// the insertion point.
					require.Equal(t, res[i].Lo, res[i].Hi, "key %d", keys[i])
					require.Equal(t, want[i].Lo, res[i].Lo, "key %d", keys[i])
				}
			}
		})
	}
}
