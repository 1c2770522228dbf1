package treeline

// Match is the tri-state result of testing a subtree's Summary
// against a predicate.
type Match uint8

const (
	// MatchNone: no index in the subtree can satisfy the predicate;
	// the subtree is skipped with no block fetch.
	MatchNone Match = iota
	// MatchSome: the subtree may contain matches; descend and re-check.
	MatchSome
	// MatchAll: every index in the subtree satisfies the predicate;
	// descend and include exhaustively without re-checking.
	MatchAll
)

// Query is a predicate over tree contents.  Soundness requirement:
// MatchSummary must never return MatchNone for a subtree containing an
// index that MatchKey would accept, and never MatchAll for one
// containing an index it would reject.  Over-approximating with
// MatchSome is always safe.
type Query[K, S any] interface {
	// MatchSummary tests the summary of a subtree covering span.
	MatchSummary(span Span, s S) Match
	// MatchKey tests one key exactly.
	MatchKey(offset uint64, key K) bool
}

type allQuery[K, S any] struct{}

// All matches every index.
func All[K, S any]() Query[K, S] { return allQuery[K, S]{} }

func (allQuery[K, S]) MatchSummary(Span, S) Match { return MatchAll }
func (allQuery[K, S]) MatchKey(uint64, K) bool    { return true }

type offsetQuery[K, S any] struct{ i uint64 }

// Offset matches exactly the item at index i.
func Offset[K, S any](i uint64) Query[K, S] { return offsetQuery[K, S]{i: i} }

func (q offsetQuery[K, S]) MatchSummary(span Span, _ S) Match {
	if !span.Contains(q.i) {
		return MatchNone
	}
	if span.Len() == 1 {
		return MatchAll
	}
	return MatchSome
}

func (q offsetQuery[K, S]) MatchKey(offset uint64, _ K) bool {
	return offset == q.i
}

type offsetRangeQuery[K, S any] struct{ r Span }

// OffsetRange matches the items with index in [lo, hi).  An inverted
// range is empty.
func OffsetRange[K, S any](lo, hi uint64) Query[K, S] {
	return offsetRangeQuery[K, S]{r: Span{Start: lo, End: hi}}
}

func (q offsetRangeQuery[K, S]) MatchSummary(span Span, _ S) Match {
	// An empty or inverted range matches nothing; Intersects does not
	// treat Start >= End as empty on its own.
	if q.r.End <= q.r.Start {
		return MatchNone
	}
	if span.Within(q.r) {
		return MatchAll
	}
	if span.Intersects(q.r) {
		return MatchSome
	}
	return MatchNone
}

func (q offsetRangeQuery[K, S]) MatchKey(offset uint64, _ K) bool {
	return q.r.Contains(offset)
}

type andQuery[K, S any] struct{ qs []Query[K, S] }

// And matches where every given predicate matches.  And() with no
// arguments matches everything.
func And[K, S any](qs ...Query[K, S]) Query[K, S] { return andQuery[K, S]{qs: qs} }

func (q andQuery[K, S]) MatchSummary(span Span, s S) Match {
	m := MatchAll
	for _, sub := range q.qs {
		switch sub.MatchSummary(span, s) {
		case MatchNone:
			return MatchNone
		case MatchSome:
			m = MatchSome
		}
	}
	return m
}

func (q andQuery[K, S]) MatchKey(offset uint64, key K) bool {
	for _, sub := range q.qs {
		if !sub.MatchKey(offset, key) {
			return false
		}
	}
	return true
}

type orQuery[K, S any] struct{ qs []Query[K, S] }

// Or matches where any given predicate matches.  Or() with no
// arguments matches nothing.
func Or[K, S any](qs ...Query[K, S]) Query[K, S] { return orQuery[K, S]{qs: qs} }

func (q orQuery[K, S]) MatchSummary(span Span, s S) Match {
	m := MatchNone
	for _, sub := range q.qs {
		switch sub.MatchSummary(span, s) {
		case MatchAll:
			return MatchAll
		case MatchSome:
			m = MatchSome
		}
	}
	return m
}

func (q orQuery[K, S]) MatchKey(offset uint64, key K) bool {
	for _, sub := range q.qs {
		if sub.MatchKey(offset, key) {
			return true
		}
	}
	return false
}
