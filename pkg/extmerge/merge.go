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

// Package extmerge merges sorted spans into one sorted stream. Large
// input counts go through a multi-pass plan with temp files in
// alternating directories; each pass merges groups of at most the
// configured fan-in, with a priority queue above a threshold and a
// cache-friendly linear scan at or below it. Consecutive equivalent
// records are coalesced with the record traits' combine function, left
// to right in stable input order.
package extmerge

import (
	"container/heap"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"poskeep.org/pkg/binfile"
	"poskeep.org/pkg/rec"
	"poskeep.org/pkg/span"
)

// defaultPQThreshold is the active-input count at or below which the
// merge switches from the priority queue to a linear scan.
const defaultPQThreshold = 24

// Options configure a merge.
type Options[T, K any] struct {
	Traits rec.Traits[T, K]

	// FanIn is the maximum inputs merged in one pass (min 2).
	FanIn int
	// PQThreshold overrides the queue-to-linear-scan switch point.
	PQThreshold int

	// InputBufBytes is split across all input iterators of one group;
	// OutputBufBytes sizes each temp file's back-inserter.
	InputBufBytes  int
	OutputBufBytes int

	// DirA and DirB hold the temp files of alternating passes.
	DirA, DirB string

	// CreateTemp, OpenSpan and Remove bind the merge to the caller's
	// file environment.
	CreateTemp func(path string) (*binfile.Output, error)
	OpenSpan   func(path string) (span.Span[T, K], error)
	Remove     func(path string) error

	// PassFinished, when set, is called after each completed pass so
	// the caller can drop references to the pass's inputs.
	PassFinished func(pass int)
	// Progress, when set, receives cumulative processed bytes against
	// the AssessWork total.
	Progress func(done, total int64)

	Log *logrus.Entry
}

// Merge merges the sorted inputs into sink, coalescing equivalent
// records. Inputs must each be sorted by the traits' full order;
// stability across inputs follows their order in the slice.
func Merge[T, K any](inputs []span.Span[T, K], sink func(T) error, o Options[T, K]) error {
	if o.FanIn < 2 {
		o.FanIn = 2
	}
	if o.PQThreshold < 1 {
		o.PQThreshold = defaultPQThreshold
	}
	if len(inputs) == 0 {
		return nil
	}
	tr := o.Traits

	var total, done int64
	if o.Progress != nil {
		sizes := make([]int64, len(inputs))
		for i, in := range inputs {
			sizes[i] = in.Len() * int64(tr.Size())
		}
		total = AssessWork(sizes, o.FanIn)
	}

	type tempFile struct {
		path string
		sp   span.Span[T, K]
	}
	var prev []tempFile
	cur := inputs
	pass := 0
	for len(cur) > o.FanIn {
		writeDir := o.DirA
		if pass%2 == 1 {
			writeDir = o.DirB
		}
		nGroups := (len(cur) + o.FanIn - 1) / o.FanIn
		outs := make([]tempFile, nGroups)
		var eg errgroup.Group
		for gi := 0; gi < nGroups; gi++ {
			gi := gi
			group := cur[gi*o.FanIn : min(len(cur), (gi+1)*o.FanIn)]
			eg.Go(func() error {
				path := filepath.Join(writeDir, fmt.Sprintf("merge_%d_%d", pass, gi))
				out, err := o.CreateTemp(path)
				if err != nil {
					return err
				}
				bi := span.NewBackInserter[T, K](tr, out, o.OutputBufBytes)
				cs := combiner[T, K]{tr: tr, emit: bi.Push}
				if err := mergeOnce(group, cs.push(), o); err != nil {
					return err
				}
				if err := cs.flush(); err != nil {
					return err
				}
				if err := bi.Flush(); err != nil {
					return err
				}
				sealed, err := out.Seal()
				if err != nil {
					return err
				}
				sp, err := span.Whole[T, K](tr, sealed)
				if err != nil {
					return err
				}
				outs[gi] = tempFile{path: path, sp: sp}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		if o.Log != nil {
			o.Log.WithFields(logrus.Fields{"pass": pass, "groups": nGroups}).Debug("extmerge: pass complete")
		}
		// The read side of this pass is consumed: its temp files (if
		// any) can go, and the caller may drop the originals.
		for _, t := range prev {
			t.sp.File().Close()
			if o.Remove != nil {
				o.Remove(t.path)
			}
		}
		if o.Progress != nil {
			for _, in := range cur {
				done += in.Len() * int64(tr.Size())
			}
			o.Progress(done, total)
		}
		if o.PassFinished != nil {
			o.PassFinished(pass)
		}
		prev = outs
		cur = make([]span.Span[T, K], len(outs))
		for i, t := range outs {
			cur[i] = t.sp
		}
		pass++
	}

	cs := combiner[T, K]{tr: tr, emit: sink}
	if err := mergeOnce(cur, cs.push(), o); err != nil {
		return err
	}
	if err := cs.flush(); err != nil {
		return err
	}
	for _, t := range prev {
		t.sp.File().Close()
		if o.Remove != nil {
			o.Remove(t.path)
		}
	}
	if o.Progress != nil {
		for _, in := range cur {
			done += in.Len() * int64(tr.Size())
		}
		o.Progress(done, total)
	}
	if o.PassFinished != nil {
		o.PassFinished(pass)
	}
	return nil
}

// combiner coalesces consecutive equivalent records, combining them
// left to right, and forwards the survivors.
type combiner[T, K any] struct {
	tr   rec.Traits[T, K]
	emit func(T) error
	acc  T
	has  bool
}

func (c *combiner[T, K]) push() func(T) error {
	return func(v T) error {
		if c.has && c.tr.EqualFull(c.acc, v) {
			c.acc = c.tr.Combine(c.acc, v)
			return nil
		}
		if c.has {
			if err := c.emit(c.acc); err != nil {
				return err
			}
		}
		c.acc, c.has = v, true
		return nil
	}
}

func (c *combiner[T, K]) flush() error {
	if !c.has {
		return nil
	}
	c.has = false
	return c.emit(c.acc)
}

// head is one active input of a running merge.
type head[T, K any] struct {
	v   T
	idx int // input index; the stability tie-break
	it  *span.Iter[T, K]
}

// mergeOnce merges up to fan-in inputs into emit. Above the threshold
// a priority queue picks the minimum; once the active set is small a
// linear scan is faster than heap maintenance.
func mergeOnce[T, K any](inputs []span.Span[T, K], emit func(T) error, o Options[T, K]) error {
	n := len(inputs)
	if n == 0 {
		return nil
	}
	perInput := o.InputBufBytes / n
	if perInput < 2*o.Traits.Size() {
		perInput = 2 * o.Traits.Size()
	}
	active := make([]*head[T, K], 0, n)
	for i, in := range inputs {
		it := span.NewIter(in, perInput)
		v, ok := it.Next()
		if !ok {
			if err := it.Err(); err != nil {
				return err
			}
			continue
		}
		active = append(active, &head[T, K]{v: v, idx: i, it: it})
	}
	less := o.Traits.LessFull

	// before reports whether a should be emitted before b.
	before := func(a, b *head[T, K]) bool {
		if less(a.v, b.v) {
			return true
		}
		if less(b.v, a.v) {
			return false
		}
		return a.idx < b.idx
	}

	if len(active) > o.PQThreshold {
		h := &headHeap[T, K]{heads: active, before: before}
		heap.Init(h)
		for h.Len() > o.PQThreshold {
			top := h.heads[0]
			if err := emit(top.v); err != nil {
				return err
			}
			v, ok := top.it.Next()
			if ok {
				top.v = v
				heap.Fix(h, 0)
				continue
			}
			if err := top.it.Err(); err != nil {
				return err
			}
			heap.Pop(h)
		}
		// Hand the remainder to the linear scan, keeping input order
		// for the stability tie-break.
		active = active[:0]
		for _, hd := range h.heads {
			active = append(active, hd)
		}
		sortHeads(active)
	}

	for len(active) > 0 {
		best := 0
		for i := 1; i < len(active); i++ {
			if before(active[i], active[best]) {
				best = i
			}
		}
		hd := active[best]
		if err := emit(hd.v); err != nil {
			return err
		}
		v, ok := hd.it.Next()
		if ok {
			hd.v = v
			continue
		}
		if err := hd.it.Err(); err != nil {
			return err
		}
		active = append(active[:best], active[best+1:]...)
	}
	return nil
}

func sortHeads[T, K any](hs []*head[T, K]) {
	for i := 1; i < len(hs); i++ {
		for j := i; j > 0 && hs[j].idx < hs[j-1].idx; j-- {
			hs[j], hs[j-1] = hs[j-1], hs[j]
		}
	}
}

// headHeap orders heads by record then input index.
type headHeap[T, K any] struct {
	heads  []*head[T, K]
	before func(a, b *head[T, K]) bool
}

func (h *headHeap[T, K]) Len() int           { return len(h.heads) }
func (h *headHeap[T, K]) Less(i, j int) bool { return h.before(h.heads[i], h.heads[j]) }
func (h *headHeap[T, K]) Swap(i, j int)      { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }

func (h *headHeap[T, K]) Push(x any) { h.heads = append(h.heads, x.(*head[T, K])) }

func (h *headHeap[T, K]) Pop() any {
	old := h.heads
	n := len(old)
	x := old[n-1]
	h.heads = old[:n-1]
	return x
}
