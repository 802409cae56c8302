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

// Package partition manages a directory of sorted immutable record
// files with their index sidecars. It accepts unordered in-memory
// batches through the store pipeline, fans batched queries out across
// its files, and compacts them with the external merge.
//
// On disk a partition is a directory of data files named by decimal
// id, each beside an "<id>_index" sidecar. A reserved "merge_tmp" name
// holds in-flight merge output until it is renamed over its final id.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go4.org/syncutil"
	"golang.org/x/sync/errgroup"

	"poskeep.org/pkg/binfile"
	"poskeep.org/pkg/engine"
	"poskeep.org/pkg/eqrange"
	"poskeep.org/pkg/extmerge"
	"poskeep.org/pkg/rangeidx"
	"poskeep.org/pkg/rec"
	"poskeep.org/pkg/span"
	"poskeep.org/pkg/storepipe"
)

// mergeTmpName is the reserved in-partition merge output name.
const mergeTmpName = "merge_tmp"

// queryFanOut bounds concurrent per-file query searches.
const queryFanOut = 4

// SortedFile is one immutable sorted file of a partition.
type SortedFile[T, K any] struct {
	ID    int64
	Span  span.Span[T, K]
	Index *rangeidx.Index[K]
}

type futureFile[K any] struct {
	id   int64
	path string
	fut  *storepipe.StoreFuture[K]
}

// Partition is a directory-backed set of sorted files. Mutating
// operations are serialized; query fan-out runs concurrently with
// other reads.
type Partition[T, K any] struct {
	env *engine.Env
	tr  rec.Traits[T, K]
	dir string
	log *logrus.Entry

	// opMu serializes the mutating operations end to end; mu guards
	// the state fields for the brief snapshots queries take.
	opMu sync.Mutex
	mu   sync.Mutex

	files   []*SortedFile[T, K]
	futures []futureFile[K]
	lastID  int64
}

// Open opens (creating if needed) the partition directory and loads
// every non-empty data file whose name parses as a decimal id, along
// with its sidecar index.
func Open[T, K any](env *engine.Env, tr rec.Traits[T, K], dir string) (*Partition[T, K], error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	p := &Partition[T, K]{
		env: env,
		tr:  tr,
		dir: dir,
		log: env.Log.WithField("partition", dir),
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, ent := range entries {
		name := ent.Name()
		if !ent.Type().IsRegular() || strings.HasSuffix(name, rangeidx.SidecarSuffix) {
			continue
		}
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			return nil, err
		}
		if info.Size() == 0 {
			continue
		}
		sf, err := p.load(id)
		if err != nil {
			return nil, err
		}
		p.files = append(p.files, sf)
		if id > p.lastID {
			p.lastID = id
		}
	}
	sort.Slice(p.files, func(i, j int) bool { return p.files[i].ID < p.files[j].ID })
	p.log.WithField("files", len(p.files)).Debug("partition: opened")
	return p, nil
}

func (p *Partition[T, K]) filePath(id int64) string {
	return filepath.Join(p.dir, strconv.FormatInt(id, 10))
}

// load opens data file id and its sidecar.
func (p *Partition[T, K]) load(id int64) (*SortedFile[T, K], error) {
	path := p.filePath(id)
	f, err := p.env.OpenImmutable(path)
	if err != nil {
		return nil, err
	}
	sp, err := span.Whole(p.tr, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ixf, err := p.env.OpenImmutable(rangeidx.SidecarPath(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	ix, err := rangeidx.Load(p.tr, ixf)
	ixf.Close()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &SortedFile[T, K]{ID: id, Span: sp, Index: ix}, nil
}

// Dir returns the partition directory.
func (p *Partition[T, K]) Dir() string { return p.dir }

// Len returns the number of registered sorted files (pending futures
// not included).
func (p *Partition[T, K]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// FileIDs returns the registered file ids in order.
func (p *Partition[T, K]) FileIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, len(p.files))
	for i, f := range p.files {
		ids[i] = f.ID
	}
	return ids
}

// StoreUnordered allocates the next file id and schedules buf on the
// pipeline. The resulting file joins the partition at the next
// CollectFutureFiles.
func (p *Partition[T, K]) StoreUnordered(pl *storepipe.Pipeline[T, K], buf []T) *storepipe.StoreFuture[K] {
	p.mu.Lock()
	p.lastID++
	id := p.lastID
	path := p.filePath(id)
	fut := pl.ScheduleStore(path, buf)
	p.futures = append(p.futures, futureFile[K]{id: id, path: path, fut: fut})
	p.mu.Unlock()
	return fut
}

// CollectFutureFiles awaits every pending store and registers the
// resulting files.
func (p *Partition[T, K]) CollectFutureFiles() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.collectFutures()
}

func (p *Partition[T, K]) collectFutures() error {
	p.mu.Lock()
	pending := p.futures
	p.futures = nil
	p.mu.Unlock()

	for _, ff := range pending {
		ix, count, err := ff.fut.Await()
		if err != nil {
			return err
		}
		if count == 0 {
			// Nothing stored; drop the empty pair.
			os.Remove(ff.path)
			os.Remove(rangeidx.SidecarPath(ff.path))
			continue
		}
		f, err := p.env.OpenImmutable(ff.path)
		if err != nil {
			return err
		}
		sp, err := span.Whole(p.tr, f)
		if err != nil {
			f.Close()
			return err
		}
		sf := &SortedFile[T, K]{ID: ff.id, Span: sp, Index: ix}
		p.mu.Lock()
		p.files = append(p.files, sf)
		sort.Slice(p.files, func(i, j int) bool { return p.files[i].ID < p.files[j].ID })
		p.mu.Unlock()
	}
	return nil
}

// QueryBatch resolves keys against every file. For each key found in a
// file, accum receives that file's matching records; calls to accum
// are serialized.
func (p *Partition[T, K]) QueryBatch(keys []K, accum func(recs []T, key K) error) error {
	p.mu.Lock()
	files := make([]*SortedFile[T, K], len(p.files))
	copy(files, p.files)
	p.mu.Unlock()

	opts := eqrange.Options{
		MaxReadBytes: p.env.Cfg.EqualRange.MaxRandomReadSize.Bytes(),
		CrossUpdate:  p.env.Cfg.EqualRange.CrossUpdate,
	}
	gate := syncutil.NewGate(queryFanOut)
	var accMu sync.Mutex
	var eg errgroup.Group
	for _, f := range files {
		f := f
		gate.Start()
		eg.Go(func() error {
			defer gate.Done()
			res, err := eqrange.Batch(f.Span, f.Index, keys, opts)
			if err != nil {
				return err
			}
			for i, r := range res {
				if r.Hi <= r.Lo {
					continue
				}
				recs := make([]T, r.Hi-r.Lo)
				if _, err := f.Span.Read(recs, r.Lo); err != nil {
					return err
				}
				accMu.Lock()
				err = accum(recs, keys[i])
				accMu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

// MergeAll compacts every file into as few as the temp budget allows:
// with no budget, one file; with one, consecutive files are grouped
// into batches of at most tempBudget input bytes and each batch merges
// independently. tempDirs supplies scratch directories for multi-pass
// merges (the partition directory when empty).
func (p *Partition[T, K]) MergeAll(tempDirs []string, tempBudget int64, progress func(done, total int64)) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if err := p.collectFutures(); err != nil {
		return err
	}
	p.mu.Lock()
	files := make([]*SortedFile[T, K], len(p.files))
	copy(files, p.files)
	p.mu.Unlock()
	return p.mergeSubset(files, tempDirs, tempBudget, progress)
}

// MergeFiles is MergeAll restricted to the named file ids.
func (p *Partition[T, K]) MergeFiles(ids []int64, tempDirs []string, tempBudget int64, progress func(done, total int64)) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if err := p.collectFutures(); err != nil {
		return err
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	p.mu.Lock()
	var files []*SortedFile[T, K]
	for _, f := range p.files {
		if want[f.ID] {
			files = append(files, f)
		}
	}
	p.mu.Unlock()
	if len(files) != len(want) {
		return fmt.Errorf("partition: merge of unknown file id in %v", ids)
	}
	return p.mergeSubset(files, tempDirs, tempBudget, progress)
}

func (p *Partition[T, K]) mergeSubset(files []*SortedFile[T, K], tempDirs []string, tempBudget int64, progress func(done, total int64)) error {
	if len(files) < 2 {
		return nil
	}
	dirA, dirB := p.dir, p.dir
	if len(tempDirs) > 0 {
		dirA = tempDirs[0]
		dirB = tempDirs[len(tempDirs)-1]
	}

	// Group consecutive files under the temp budget; without a budget
	// everything merges into one file.
	var groups [][]*SortedFile[T, K]
	if tempBudget <= 0 {
		groups = [][]*SortedFile[T, K]{files}
	} else {
		rsz := int64(p.tr.Size())
		var cur []*SortedFile[T, K]
		var curBytes int64
		for _, f := range files {
			sz := f.Span.Len() * rsz
			if len(cur) > 0 && curBytes+sz > tempBudget {
				groups = append(groups, cur)
				cur, curBytes = nil, 0
			}
			cur = append(cur, f)
			curBytes += sz
		}
		if len(cur) > 0 {
			groups = append(groups, cur)
		}
	}

	var total, done int64
	if progress != nil {
		for _, g := range groups {
			if len(g) < 2 {
				continue
			}
			sizes := make([]int64, len(g))
			for i, f := range g {
				sizes[i] = f.Span.Len() * int64(p.tr.Size())
			}
			total += extmerge.AssessWork(sizes, p.env.Cfg.Merge.MaxBatchSize)
		}
	}
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		groupDone, err := p.mergeGroup(g, dirA, dirB, func(d int64) {
			if progress != nil {
				progress(done+d, total)
			}
		})
		if err != nil {
			return err
		}
		done += groupDone
	}
	return nil
}

// mergeGroup merges one group into a fresh file written under the
// reserved temp name and renamed over its final id on success, then
// retires the group's files.
func (p *Partition[T, K]) mergeGroup(group []*SortedFile[T, K], dirA, dirB string, prog func(done int64)) (int64, error) {
	cfg := p.env.Cfg
	tmpPath := filepath.Join(p.dir, mergeTmpName)
	out, err := p.env.CreateOutput(tmpPath)
	if err != nil {
		return 0, err
	}
	builder := rangeidx.NewBuilder(p.tr, cfg.IndexGranularity)
	obs := binfile.NewObservable(out, builder.Observe)
	bi := span.NewBackInserter[T, K](p.tr, obs, cfg.Merge.OutputBufferSize.Bytes())

	spans := make([]span.Span[T, K], len(group))
	for i, f := range group {
		spans[i] = f.Span
	}
	var groupDone int64
	mo := extmerge.Options[T, K]{
		Traits:         p.tr,
		FanIn:          cfg.Merge.MaxBatchSize,
		InputBufBytes:  cfg.Merge.InputBufferSize.Bytes(),
		OutputBufBytes: cfg.Merge.OutputBufferSize.Bytes(),
		DirA:           dirA,
		DirB:           dirB,
		CreateTemp:     p.env.CreateOutput,
		OpenSpan: func(path string) (span.Span[T, K], error) {
			f, err := p.env.OpenImmutable(path)
			if err != nil {
				return span.Span[T, K]{}, err
			}
			return span.Whole(p.tr, f)
		},
		Remove: func(path string) error { return os.Remove(path) },
		Progress: func(d, _ int64) {
			groupDone = d
			prog(d)
		},
		Log: p.log,
	}
	if err := extmerge.Merge(spans, bi.Push, mo); err != nil {
		out.Close()
		return 0, err
	}
	if err := bi.Flush(); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	ix := builder.Finish()

	ixTmp := rangeidx.SidecarPath(tmpPath)
	ixOut, err := p.env.CreateOutput(ixTmp)
	if err != nil {
		return 0, err
	}
	if err := rangeidx.Write(p.tr, ix, ixOut, cfg.Index.BuilderBufferSize.Bytes()); err != nil {
		ixOut.Close()
		return 0, err
	}
	if err := ixOut.Close(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.lastID++
	id := p.lastID
	p.mu.Unlock()
	newPath := p.filePath(id)
	if err := os.Rename(ixTmp, rangeidx.SidecarPath(newPath)); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, newPath); err != nil {
		return 0, err
	}

	f, err := p.env.OpenImmutable(newPath)
	if err != nil {
		return 0, err
	}
	sp, err := span.Whole(p.tr, f)
	if err != nil {
		f.Close()
		return 0, err
	}
	nf := &SortedFile[T, K]{ID: id, Span: sp, Index: ix}

	retired := make(map[int64]bool, len(group))
	for _, g := range group {
		retired[g.ID] = true
	}
	p.mu.Lock()
	kept := p.files[:0]
	for _, f := range p.files {
		if !retired[f.ID] {
			kept = append(kept, f)
		}
	}
	p.files = append(kept, nf)
	sort.Slice(p.files, func(i, j int) bool { return p.files[i].ID < p.files[j].ID })
	p.mu.Unlock()

	for _, g := range group {
		g.Span.File().Close()
		path := p.filePath(g.ID)
		if err := os.Remove(path); err != nil {
			return groupDone, err
		}
		if err := os.Remove(rangeidx.SidecarPath(path)); err != nil {
			return groupDone, err
		}
	}
	p.log.WithFields(logrus.Fields{"merged": len(group), "file": id}).Debug("partition: merge complete")
	return groupDone, nil
}

// Clear awaits pending stores, then unlinks every data file and its
// sidecar.
func (p *Partition[T, K]) Clear() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if err := p.collectFutures(); err != nil {
		return err
	}
	p.mu.Lock()
	files := p.files
	p.files = nil
	p.mu.Unlock()
	var first error
	for _, f := range files {
		f.Span.File().Close()
		path := p.filePath(f.ID)
		if err := os.Remove(path); err != nil && first == nil {
			first = err
		}
		if err := os.Remove(rangeidx.SidecarPath(path)); err != nil && first == nil {
			first = err
		}
	}
	return first
}
