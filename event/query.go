package event

import (
	"fmt"

	"github.com/treeline-db/treeline"
)

// TimeRange matches events with From <= Time < To.
type TimeRange struct {
	From int64
	To   int64
}

var _ treeline.Query[Key, Summary] = TimeRange{}

// Validate rejects an inverted range.
func (q TimeRange) Validate() error {
	if q.From > q.To {
		return fmt.Errorf("time range [%d,%d) is inverted", q.From, q.To)
	}
	return nil
}

func (q TimeRange) MatchSummary(_ treeline.Span, s Summary) treeline.Match {
	if s.Count == 0 || s.MaxTime < q.From || s.MinTime >= q.To {
		return treeline.MatchNone
	}
	if q.From <= s.MinTime && s.MaxTime < q.To {
		return treeline.MatchAll
	}
	return treeline.MatchSome
}

func (q TimeRange) MatchKey(_ uint64, k Key) bool {
	return q.From <= k.Time && k.Time < q.To
}

// HasTag matches events carrying the given tag.  A summary's tag union
// only proves absence, so MatchSummary never returns MatchAll: a node
// whose union contains the tag may still hold keys without it.
type HasTag struct {
	Tag string
}

var _ treeline.Query[Key, Summary] = HasTag{}

func (q HasTag) MatchSummary(_ treeline.Span, s Summary) treeline.Match {
	if s.Count == 0 || !s.HasTag(q.Tag) {
		return treeline.MatchNone
	}
	return treeline.MatchSome
}

func (q HasTag) MatchKey(_ uint64, k Key) bool {
	return k.HasTag(q.Tag)
}
