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

package partition_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"poskeep.org/pkg/engine"
	"poskeep.org/pkg/partition"
	"poskeep.org/pkg/rec"
	"poskeep.org/pkg/rec/rectest"
	"poskeep.org/pkg/storepipe"
)

var u32 = rec.Uint32{}

func newPipeline(env *engine.Env) *storepipe.Pipeline[uint32, uint32] {
	return storepipe.New(storepipe.Options[uint32, uint32]{
		Traits:         u32,
		SortWorkers:    2,
		BufferCount:    4,
		BufferCap:      256,
		Granularity:    4,
		IndexBufBytes:  1 << 10,
		OutputBufBytes: 1 << 10,
		Create:         env.CreateOutput,
	})
}

// queryAll gathers every match per key across files.
func queryAll(t *testing.T, p *partition.Partition[uint32, uint32], keys []uint32) map[uint32][]uint32 {
	t.Helper()
	got := map[uint32][]uint32{}
	require.NoError(t, p.QueryBatch(keys, func(recs []uint32, key uint32) error {
		got[key] = append(got[key], recs...)
		return nil
	}))
	return got
}

func TestStoreCollectQuery(t *testing.T) {
	env := rectest.NewEnv(t)
	dir := t.TempDir()
	p, err := partition.Open(env, u32, dir)
	require.NoError(t, err)

	pl := newPipeline(env)
	defer pl.WaitForCompletion()

	buf := pl.GetEmptyBuffer()
	buf = append(buf, 5, 2, 9, 2, 5, 7)
	p.StoreUnordered(pl, buf)
	buf = pl.GetEmptyBuffer()
	buf = append(buf, 11, 7, 3)
	p.StoreUnordered(pl, buf)

	require.NoError(t, p.CollectFutureFiles())
	require.Equal(t, 2, p.Len())
	require.Equal(t, []int64{1, 2}, p.FileIDs())

	got := queryAll(t, p, []uint32{2, 7, 8})
	require.Equal(t, []uint32{2}, got[2])
	// 7 lives in both files.
	require.Len(t, got[7], 2)
	require.NotContains(t, got, uint32(8))
}

func TestOpenRediscoversFiles(t *testing.T) {
	env := rectest.NewEnv(t)
	dir := t.TempDir()
	p, err := partition.Open(env, u32, dir)
	require.NoError(t, err)

	pl := newPipeline(env)
	buf := pl.GetEmptyBuffer()
	buf = append(buf, 4, 1, 4, 2)
	p.StoreUnordered(pl, buf)
	require.NoError(t, p.CollectFutureFiles())
	pl.WaitForCompletion()

	// A fresh partition over the same directory sees the same data.
	p2, err := partition.Open(env, u32, dir)
	require.NoError(t, err)
	require.Equal(t, 1, p2.Len())
	got := queryAll(t, p2, []uint32{1, 2, 4})
	require.Equal(t, []uint32{1}, got[1])
	require.Equal(t, []uint32{2}, got[2])
	require.Equal(t, []uint32{4}, got[4], "duplicates were coalesced before the write")
}

func TestMergeAll(t *testing.T) {
	env := rectest.NewEnv(t)
	dir := t.TempDir()
	p, err := partition.Open(env, u32, dir)
	require.NoError(t, err)

	pl := newPipeline(env)
	for _, batch := range [][]uint32{
		{1, 3, 5}, {2, 4, 6}, {0, 7, 8}, {3, 5, 9},
	} {
		buf := pl.GetEmptyBuffer()
		buf = append(buf, batch...)
		p.StoreUnordered(pl, buf)
	}
	require.NoError(t, p.CollectFutureFiles())
	pl.WaitForCompletion()
	require.Equal(t, 4, p.Len())

	var lastDone, lastTotal int64
	require.NoError(t, p.MergeAll(nil, 0, func(done, total int64) {
		lastDone, lastTotal = done, total
	}))
	require.Equal(t, 1, p.Len())
	require.Equal(t, lastTotal, lastDone)
	require.Greater(t, lastTotal, int64(0))

	// All ten distinct values answer from the single merged file.
	keys := []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	got := queryAll(t, p, keys)
	for _, k := range keys {
		require.Equal(t, []uint32{k}, got[k], "key %d", k)
	}

	// Only the merged pair remains on disk.
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	require.Equal(t, []string{"5", "5_index"}, names)
}

func TestMergeFilesSubset(t *testing.T) {
	env := rectest.NewEnv(t)
	dir := t.TempDir()
	p, err := partition.Open(env, u32, dir)
	require.NoError(t, err)

	pl := newPipeline(env)
	for _, batch := range [][]uint32{{1, 2}, {3, 4}, {5, 6}} {
		buf := pl.GetEmptyBuffer()
		buf = append(buf, batch...)
		p.StoreUnordered(pl, buf)
	}
	require.NoError(t, p.CollectFutureFiles())
	pl.WaitForCompletion()

	require.NoError(t, p.MergeFiles([]int64{1, 2}, nil, 0, nil))
	require.Equal(t, 2, p.Len())
	require.Equal(t, []int64{3, 4}, p.FileIDs())

	got := queryAll(t, p, []uint32{1, 2, 3, 4, 5, 6})
	for k := uint32(1); k <= 6; k++ {
		require.Equal(t, []uint32{k}, got[k])
	}
}

func TestMergeAllWithBudget(t *testing.T) {
	env := rectest.NewEnv(t)
	dir := t.TempDir()
	p, err := partition.Open(env, u32, dir)
	require.NoError(t, err)

	pl := newPipeline(env)
	for i := 0; i < 4; i++ {
		buf := pl.GetEmptyBuffer()
		for j := 0; j < 8; j++ {
			buf = append(buf, uint32(i*8+j))
		}
		p.StoreUnordered(pl, buf)
	}
	require.NoError(t, p.CollectFutureFiles())
	pl.WaitForCompletion()

	// Each file is 32 bytes; a 64-byte budget pairs them up.
	require.NoError(t, p.MergeAll(nil, 64, nil))
	require.Equal(t, 2, p.Len())

	keys := make([]uint32, 32)
	for i := range keys {
		keys[i] = uint32(i)
	}
	got := queryAll(t, p, keys)
	for _, k := range keys {
		require.Equal(t, []uint32{k}, got[k])
	}
}

func TestClear(t *testing.T) {
	env := rectest.NewEnv(t)
	dir := t.TempDir()
	p, err := partition.Open(env, u32, dir)
	require.NoError(t, err)

	pl := newPipeline(env)
	buf := pl.GetEmptyBuffer()
	buf = append(buf, 1, 2, 3)
	p.StoreUnordered(pl, buf)
	// Clear collects the pending future before unlinking.
	require.NoError(t, p.Clear())
	pl.WaitForCompletion()

	require.Equal(t, 0, p.Len())
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, ents)

	got := queryAll(t, p, []uint32{1, 2, 3})
	require.Empty(t, got)
}

func TestQueryEmptyPartition(t *testing.T) {
	env := rectest.NewEnv(t)
	p, err := partition.Open(env, u32, filepath.Join(t.TempDir(), "part"))
	require.NoError(t, err)
	got := queryAll(t, p, []uint32{1})
	require.Empty(t, got)
}
