package treeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Gap reports an index span a query could not evaluate because its
// subtree was unreachable.  Gaps are only produced when
// Config.SkipUnavailable is set; otherwise the first unreachable block
// aborts the query.
type Gap struct {
	Span Span
	Err  error
}

// Iterator is a lazy, ordered stream of the (index, Key, Value)
// triples matching a query, strictly ascending in index.  It is a
// pull-based, finite producer: blocks are fetched only as Next
// advances, so a consumer can stop early without materializing the
// rest of the tree.  Abandoning an iterator needs no cleanup beyond
// Close; queries are restartable by creating a new iterator from the
// same root.
//
// An iterator must not be shared between goroutines, but any number of
// iterators may traverse the same root concurrently.
type Iterator[K, V, S any] struct {
	f     *Forest[K, V, S]
	q     Query[K, S]
	stack []*iterFrame[S]
	// pending holds the decoded leaves of the most recently expanded
	// level-1 node, already masked by the predicate.
	pending    []pendingLeaf[K, V]
	pendingPos int
	curPos     int
	item       Item[K, V]
	err        error
	gaps       []Gap
	done       bool
}

type branchEntry[S any] struct {
	ref    branchRef[S]
	offset uint64
	match  Match
}

type iterFrame[S any] struct {
	entries []branchEntry[S]
	pos     int
}

type pendingLeaf[K, V any] struct {
	offset uint64
	keys   []K
	mask   []bool
	values []V
}

// Query returns an iterator over the items of t matching q.
// Evaluation is depth-first, left-to-right from the root, skipping any
// subtree whose summary cannot match.
func (f *Forest[K, V, S]) Query(t Tree, q Query[K, S]) *Iterator[K, V, S] {
	it := &Iterator[K, V, S]{f: f, q: q}
	if q == nil {
		it.err = &QueryError{Reason: "nil predicate"}
		it.done = true
		return it
	}
	if v, ok := q.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			it.err = err
			it.done = true
			return it
		}
	}
	if t.IsEmpty() || t.Link == nil {
		it.done = true
		return it
	}
	root := branchEntry[S]{
		ref:    branchRef[S]{Count: t.Count, Level: t.Level, Link: t.Link},
		offset: 0,
		match:  MatchSome,
	}
	it.stack = []*iterFrame[S]{{entries: []branchEntry[S]{root}}}
	return it
}

// Iterate returns an iterator over every item of t, in index order.
func (f *Forest[K, V, S]) Iterate(t Tree) *Iterator[K, V, S] {
	return f.Query(t, All[K, S]())
}

// IterateFrom returns an iterator over the items of t at index
// offset and above, in index order.
func (f *Forest[K, V, S]) IterateFrom(t Tree, offset uint64) *Iterator[K, V, S] {
	return f.Query(t, OffsetRange[K, S](offset, t.Count))
}

// Get returns the item appended at index i, or ok=false if i is out
// of range or lies in a deleted span.
func (f *Forest[K, V, S]) Get(ctx context.Context, t Tree, i uint64) (Item[K, V], bool, error) {
	it := f.Query(t, Offset[K, S](i))
	defer it.Close()
	if it.Next(ctx) {
		return it.Item(), true, nil
	}
	var zero Item[K, V]
	return zero, false, it.Err()
}

// Next advances to the next matching item.  It returns false when the
// stream is exhausted or an error occurred; Err distinguishes.
func (it *Iterator[K, V, S]) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		for it.pendingPos < len(it.pending) {
			pl := &it.pending[it.pendingPos]
			for it.curPos < len(pl.values) {
				i := it.curPos
				it.curPos++
				if pl.mask[i] {
					it.item = Item[K, V]{
						Offset: pl.offset + uint64(i),
						Key:    pl.keys[i],
						Value:  pl.values[i],
					}
					return true
				}
			}
			it.pendingPos++
			it.curPos = 0
		}
		if len(it.stack) == 0 {
			it.done = true
			return false
		}
		top := it.stack[len(it.stack)-1]
		if top.pos >= len(top.entries) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		e := top.entries[top.pos]
		top.pos++
		if e.match == MatchNone || e.ref.purged() {
			continue
		}
		var err error
		if e.ref.Level == 1 {
			err = it.expandLevel1(ctx, e)
		} else {
			err = it.expandBranch(ctx, e)
		}
		if err != nil {
			it.err = err
			return false
		}
	}
}

// Item returns the item Next advanced to.
func (it *Iterator[K, V, S]) Item() Item[K, V] { return it.item }

// Err returns the error that terminated the stream, if any.
func (it *Iterator[K, V, S]) Err() error { return it.err }

// Gaps returns the spans skipped because their subtrees were
// unreachable, in ascending order.  Only populated under
// Config.SkipUnavailable.
func (it *Iterator[K, V, S]) Gaps() []Gap { return it.gaps }

// Close releases the iterator.  Fetches run only inside Next, so
// abandoning iteration leaves no pending work; Close exists so
// consumers can make early termination explicit.
func (it *Iterator[K, V, S]) Close() error {
	it.done = true
	it.stack = nil
	it.pending = nil
	return nil
}

// skipOrFail routes an unreachable-subtree error per the error policy:
// record a gap and continue, or abort the query.
func (it *Iterator[K, V, S]) skipOrFail(span Span, err error) error {
	if it.f.config.SkipUnavailable {
		it.gaps = append(it.gaps, Gap{Span: span, Err: err})
		return nil
	}
	return err
}

func (it *Iterator[K, V, S]) expandBranch(ctx context.Context, e branchEntry[S]) error {
	refs, err := it.f.loadBranchRefs(ctx, *e.ref.Link, e.ref.Level)
	if err != nil {
		return it.skipOrFail(Span{Start: e.offset, End: e.offset + e.ref.Count}, err)
	}
	entries := make([]branchEntry[S], 0, len(refs))
	off := e.offset
	for _, r := range refs {
		span := Span{Start: off, End: off + r.Count}
		m := MatchNone
		if !r.purged() {
			if e.match == MatchAll {
				m = MatchAll
			} else {
				m = it.q.MatchSummary(span, r.Summary)
			}
		}
		entries = append(entries, branchEntry[S]{ref: r, offset: off, match: m})
		off += r.Count
	}
	it.stack = append(it.stack, &iterFrame[S]{entries: entries})
	return nil
}

// expandLevel1 tests every key of a level-1 node exactly, then fetches
// the matching leaves in parallel, bounded by Config.FetchParallelism,
// re-merging results in index order.
func (it *Iterator[K, V, S]) expandLevel1(ctx context.Context, e branchEntry[S]) error {
	refs, err := it.f.loadLeafRefs(ctx, *e.ref.Link)
	if err != nil {
		return it.skipOrFail(Span{Start: e.offset, End: e.offset + e.ref.Count}, err)
	}
	type slot struct {
		offset uint64
		span   Span
		keys   []K
		mask   []bool
		link   Link
		values []V
		err    error
	}
	var slots []*slot
	off := e.offset
	for _, r := range refs {
		span := Span{Start: off, End: off + r.Count}
		if !r.purged() {
			mask := make([]bool, len(r.Keys))
			any := false
			for i, k := range r.Keys {
				ok := e.match == MatchAll || it.q.MatchKey(off+uint64(i), k)
				mask[i] = ok
				any = any || ok
			}
			if any {
				slots = append(slots, &slot{
					offset: off,
					span:   span,
					keys:   r.Keys,
					mask:   mask,
					link:   *r.Link,
				})
			}
		}
		off += r.Count
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(it.f.config.FetchParallelism)
	for _, s := range slots {
		s := s
		g.Go(func() error {
			values, err := it.f.loadLeaf(gctx, s.link)
			if err != nil {
				if it.f.config.SkipUnavailable {
					s.err = err
					return nil
				}
				return err
			}
			s.values = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	it.pending = it.pending[:0]
	it.pendingPos = 0
	it.curPos = 0
	for _, s := range slots {
		if s.err != nil {
			it.gaps = append(it.gaps, Gap{Span: s.span, Err: s.err})
			continue
		}
		if len(s.values) != len(s.keys) {
			return &IntegrityError{Link: s.link, Err: fmt.Errorf("leaf has %d values for %d keys", len(s.values), len(s.keys))}
		}
		it.pending = append(it.pending, pendingLeaf[K, V]{
			offset: s.offset,
			keys:   s.keys,
			mask:   s.mask,
			values: s.values,
		})
	}
	return nil
}
