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

// Package eqrange answers batched equality-range lookups against a
// sorted span. Each query key resolves to the element range holding
// records with that key, found by interleaved interpolation and binary
// probing over buffered window reads. Windows fetched for one query
// speculatively narrow the not-yet-processed queries whose ranges they
// overlap.
package eqrange

import (
	"sort"

	"poskeep.org/pkg/rangeidx"
	"poskeep.org/pkg/rec"
	"poskeep.org/pkg/span"
)

// Result is the element range [Lo, Hi) of one query's key. An absent
// key yields Lo == Hi at its insertion position.
type Result struct {
	Lo, Hi int64
}

// Options tune one batch.
type Options struct {
	// MaxReadBytes bounds one sequential window read.
	MaxReadBytes int
	// CrossUpdate enables speculative narrowing of later queries from
	// windows read for earlier ones.
	CrossUpdate bool
	// Stats, when non-nil, accumulates I/O counters.
	Stats *Stats
}

// Stats counts the I/O a batch performed.
type Stats struct {
	WindowReads int
	PointReads  int
}

type query[K any] struct {
	key K

	// Search range [lo, hi) with the keys of the records at lo and
	// hi-1. No record equal to key lies outside [lo, hi).
	lo, hi       int64
	loKey, hiKey K

	// Independently discovered bounds.
	lb, ub       int64
	lbSet, ubSet bool

	done bool
	res  Result
}

// Batch resolves keys against the sorted span s, seeding from ix when
// present. Queries are processed in input order; each window read also
// narrows later pending queries (the cross-update rule) when enabled.
func Batch[T, K any](s span.Span[T, K], ix *rangeidx.Index[K], keys []K, opts Options) ([]Result, error) {
	results := make([]Result, len(keys))
	if len(keys) == 0 {
		return results, nil
	}
	tr := s.Traits()
	if s.Len() == 0 {
		// Empty span: every query is empty, no I/O.
		return results, nil
	}
	sv := &solver[T, K]{
		s:     s,
		tr:    tr,
		less:  tr.LessKeys,
		cross: opts.CrossUpdate,
		stats: opts.Stats,
		rd:    span.NewReader(s),
	}
	sv.winRecs = opts.MaxReadBytes / tr.Size()
	if sv.winRecs < 4 {
		sv.winRecs = 4
	}
	sv.scratch = make([]byte, sv.winRecs*tr.Size())
	sv.keys = make([]K, 0, sv.winRecs)

	if err := sv.seed(ix, keys); err != nil {
		return nil, err
	}
	for i := range sv.qs {
		if err := sv.solve(i); err != nil {
			return nil, err
		}
	}
	for i, q := range sv.qs {
		results[i] = q.res
	}
	return results, nil
}

type solver[T, K any] struct {
	s     span.Span[T, K]
	tr    rec.Traits[T, K]
	less  func(a, b K) bool
	cross bool
	stats *Stats

	winRecs int
	scratch []byte

	// Current window: keys of records [wLo, wLo+len(keys)).
	keys []K
	wLo  int64

	qs []*query[K]
	rd *span.Reader[T, K]
}

// seed initializes every query's search range from the index, or from
// the span's boundary records when no index is given.
func (sv *solver[T, K]) seed(ix *rangeidx.Index[K], keys []K) error {
	var loKey, hiKey K
	if ix == nil {
		first, err := sv.rd.At(sv.s.Begin())
		if err != nil {
			return err
		}
		last, err := sv.rd.At(sv.s.End() - 1)
		if err != nil {
			return err
		}
		sv.point(2)
		loKey, hiKey = sv.tr.Key(first), sv.tr.Key(last)
	}
	sv.qs = make([]*query[K], len(keys))
	for i, k := range keys {
		q := &query[K]{key: k}
		if ix == nil {
			q.lo, q.hi = sv.s.Begin(), sv.s.End()
			q.loKey, q.hiKey = loKey, hiKey
		} else {
			sd := ix.EqualRange(k)
			if sd.Empty {
				q.done = true
				q.res = Result{Lo: sd.Lo, Hi: sd.Lo}
			} else {
				q.lo, q.hi = sd.Lo, sd.Hi
				q.loKey, q.hiKey = sd.LoKey, sd.HiKey
			}
		}
		sv.qs[i] = q
	}
	return nil
}

func (sv *solver[T, K]) point(n int) {
	if sv.stats != nil {
		sv.stats.PointReads += n
	}
}

// readWindow loads the keys of records [wLo, wLo+cnt) into sv.keys.
func (sv *solver[T, K]) readWindow(wLo, cnt int64) error {
	rsz := sv.tr.Size()
	n, err := sv.s.ReadBytesAt(sv.scratch[:cnt*int64(rsz)], wLo)
	if err != nil {
		return err
	}
	sv.keys = sv.keys[:0]
	for i := 0; i < n; i++ {
		sv.keys = append(sv.keys, sv.tr.Key(sv.tr.Unmarshal(sv.scratch[i*rsz:])))
	}
	sv.wLo = wLo
	if sv.stats != nil {
		sv.stats.WindowReads++
	}
	return nil
}

// bounds returns the absolute lower and upper bound of k within the
// current window.
func (sv *solver[T, K]) bounds(k K) (wlb, wub int64) {
	lb := sort.Search(len(sv.keys), func(i int) bool {
		return !sv.less(sv.keys[i], k)
	})
	ub := sort.Search(len(sv.keys), func(i int) bool {
		return sv.less(k, sv.keys[i])
	})
	return sv.wLo + int64(lb), sv.wLo + int64(ub)
}

func (q *query[K]) commit(lo, hi int64) {
	q.res = Result{Lo: lo, Hi: hi}
	q.done = true
}

// solve resolves query i to completion.
func (sv *solver[T, K]) solve(i int) error {
	q := sv.qs[i]
	k := q.key
	S := int64(sv.winRecs)
	for !q.done {
		if q.lbSet && q.ubSet {
			q.commit(q.lb, q.ub)
			break
		}
		width := q.hi - q.lo
		if width <= 0 {
			q.commit(q.lo, q.lo)
			break
		}
		if sv.less(k, q.loKey) {
			q.commit(q.lo, q.lo)
			break
		}
		if sv.less(q.hiKey, k) {
			q.commit(q.hi, q.hi)
			break
		}
		if !sv.less(q.loKey, q.hiKey) {
			// The whole remaining range is one equal-key run, and k
			// is bracketed by it, so it is that run's key.
			lb, ub := q.lo, q.hi
			if q.lbSet {
				lb = q.lb
			}
			if q.ubSet {
				ub = q.ub
			}
			q.commit(lb, ub)
			break
		}
		if width <= S {
			// Full load: one read covers the remaining range.
			if err := sv.readWindow(q.lo, width); err != nil {
				return err
			}
			wlb, wub := sv.bounds(k)
			lb, ub := wlb, wub
			if q.lbSet {
				lb = q.lb
			}
			if q.ubSet {
				ub = q.ub
			}
			q.commit(lb, ub)
			sv.crossUpdate(i)
			break
		}
		if err := sv.probe(q, k, S); err != nil {
			return err
		}
		sv.crossUpdate(i)
	}
	return nil
}

// probe reads one S-record window around an interpolated or binary
// midpoint and narrows q by its contents.
func (sv *solver[T, K]) probe(q *query[K], k K, S int64) error {
	mid := sv.midpoint(q, k)
	wLo := mid - S/2
	if wLo < q.lo {
		wLo = q.lo
	}
	if wLo > q.hi-S {
		wLo = q.hi - S
	}
	if err := sv.readWindow(wLo, S); err != nil {
		return err
	}
	wEnd := wLo + S
	wlb, wub := sv.bounds(k)

	// A bound at a window edge is only trusted when that edge
	// coincides with the query's own bound; otherwise the true bound
	// may lie beyond the loaded records. The edge records double as
	// the sentinels the contract asks for.
	lbExact := (wlb > wLo || wLo == q.lo) && (wlb < wEnd || wEnd == q.hi)
	ubExact := (wub > wLo || wLo == q.lo) && (wub < wEnd || wEnd == q.hi)
	if lbExact && !q.lbSet {
		q.lb, q.lbSet = wlb, true
	}
	if ubExact && !q.ubSet {
		q.ub, q.ubSet = wub, true
	}
	switch {
	case q.lbSet && q.ubSet:
		// Committed at the top of the loop.
	case wlb == wEnd:
		// Every window record is below k.
		q.lo, q.loKey = wEnd-1, sv.keys[len(sv.keys)-1]
	case wub == wLo:
		// Every window record is above k.
		q.hi, q.hiKey = wLo+1, sv.keys[0]
	case q.lbSet && !q.ubSet:
		if wlb > wLo {
			// Upper bound fell off the window top; keep walking.
			q.lo, q.loKey = wEnd-1, k
		} else {
			ub, err := sv.expandUp(k, wEnd, q.hi)
			if err != nil {
				return err
			}
			q.ub, q.ubSet = ub, true
		}
	case q.ubSet && !q.lbSet:
		if wub < wEnd {
			q.hi, q.hiKey = wLo+1, k
		} else {
			lb, err := sv.expandDown(k, q.lo, wLo)
			if err != nil {
				return err
			}
			q.lb, q.lbSet = lb, true
		}
	default:
		// No bound inside the window: it sits inside a k-equal run
		// longer than S. Expand geometrically on both sides.
		lb, err := sv.expandDown(k, q.lo, wLo)
		if err != nil {
			return err
		}
		ub, err := sv.expandUp(k, wEnd, q.hi)
		if err != nil {
			return err
		}
		q.lb, q.lbSet = lb, true
		q.ub, q.ubSet = ub, true
	}
	return nil
}

// midpoint picks the probe position: interpolated when the key space
// has usable arithmetic and k lies strictly between the bracket keys,
// bisected otherwise.
func (sv *solver[T, K]) midpoint(q *query[K], k K) int64 {
	if sv.less(q.loKey, k) && sv.less(k, q.hiKey) {
		if total, ok := sv.tr.KeyDist(q.loKey, q.hiKey); ok && total > 0 {
			part, _ := sv.tr.KeyDist(q.loKey, k)
			frac := float64(part) / float64(total)
			return q.lo + int64(frac*float64(q.hi-q.lo-1))
		}
	}
	return q.lo + (q.hi-q.lo)/2
}

// expandDown finds the lower bound of k in [limit, from], given that
// the record at from is equal to k. The step doubles until a record
// below k appears, then a point-read binary search nails the bound.
func (sv *solver[T, K]) expandDown(k K, limit, from int64) (int64, error) {
	b := from
	step := int64(sv.winRecs)
	for b > limit {
		probe := b - step
		if probe < limit {
			probe = limit
		}
		v, err := sv.rd.At(probe)
		if err != nil {
			return 0, err
		}
		sv.point(1)
		if sv.less(sv.tr.Key(v), k) {
			lo, hi := probe+1, b
			for lo < hi {
				m := lo + (hi-lo)/2
				v, err := sv.rd.At(m)
				if err != nil {
					return 0, err
				}
				sv.point(1)
				if sv.less(sv.tr.Key(v), k) {
					lo = m + 1
				} else {
					hi = m
				}
			}
			return lo, nil
		}
		b = probe
		step *= 2
	}
	return limit, nil
}

// expandUp finds the upper bound of k in [from, limit), given that the
// record at from-1 is equal to k.
func (sv *solver[T, K]) expandUp(k K, from, limit int64) (int64, error) {
	t := from
	step := int64(sv.winRecs)
	for t < limit {
		probe := t + step - 1
		if probe > limit-1 {
			probe = limit - 1
		}
		v, err := sv.rd.At(probe)
		if err != nil {
			return 0, err
		}
		sv.point(1)
		if sv.less(k, sv.tr.Key(v)) {
			lo, hi := t, probe
			for lo < hi {
				m := lo + (hi-lo)/2
				v, err := sv.rd.At(m)
				if err != nil {
					return 0, err
				}
				sv.point(1)
				if sv.less(k, sv.tr.Key(v)) {
					hi = m
				} else {
					lo = m + 1
				}
			}
			return lo, nil
		}
		t = probe + 1
		step *= 2
	}
	return limit, nil
}

// crossUpdate narrows every later pending query from the window just
// read for query i. Bounds found strictly inside the window commit;
// bounds at its edges only narrow the matching side.
func (sv *solver[T, K]) crossUpdate(i int) {
	if !sv.cross || len(sv.keys) == 0 {
		return
	}
	wLo := sv.wLo
	wEnd := wLo + int64(len(sv.keys))
	for j := i + 1; j < len(sv.qs); j++ {
		q := sv.qs[j]
		if q.done || (q.lbSet && q.ubSet) {
			continue
		}
		if q.hi <= wLo || q.lo >= wEnd {
			continue
		}
		wlb, wub := sv.bounds(q.key)
		lbExact := (wlb > wLo || wLo <= q.lo) && (wlb < wEnd || wEnd >= q.hi)
		ubExact := (wub > wLo || wLo <= q.lo) && (wub < wEnd || wEnd >= q.hi)
		if lbExact && !q.lbSet {
			q.lb, q.lbSet = wlb, true
		}
		if ubExact && !q.ubSet {
			q.ub, q.ubSet = wub, true
		}
		if q.lbSet && q.ubSet {
			continue // solve commits it without I/O
		}
		// Partial narrowing of whichever side fell inside.
		if wlb == wEnd && wEnd-1 > q.lo && wEnd-1 < q.hi {
			// Everything loaded is below the key.
			q.lo, q.loKey = wEnd-1, sv.keys[len(sv.keys)-1]
		}
		if wub == wLo && wLo+1 < q.hi && wLo+1 > q.lo {
			// Everything loaded is above the key.
			q.hi, q.hiKey = wLo+1, sv.keys[0]
		}
	}
}
