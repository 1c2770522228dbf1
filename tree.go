package treeline

import "fmt"

// Tree identifies a version of a tree whose nodes are accessible in
// the block store.  Trees are versioned by root swap: every append
// batch or range deletion yields a new Tree value, and the previous
// one remains a valid snapshot for as long as its blocks exist.
//
// A Tree with Count > 0 and a nil Link is fully purged: its whole span
// was deleted, content and all, but the index positions remain
// occupied and are never reused.
type Tree struct {
	Link  *Link  `json:"link,omitempty" cbor:"1,keyasint,omitempty"`
	Count uint64 `json:"count" cbor:"2,keyasint"`
	Level uint8  `json:"level" cbor:"3,keyasint"`
}

// IsEmpty reports whether the tree has no index positions at all.
func (t Tree) IsEmpty() bool { return t.Count == 0 }

// Span returns the tree's index range, [0, Count).
func (t Tree) Span() Span { return Span{Start: 0, End: t.Count} }

func (t Tree) String() string {
	if t.IsEmpty() {
		return "tree(empty)"
	}
	if t.Link == nil {
		return fmt.Sprintf("tree(purged, count=%d)", t.Count)
	}
	return fmt.Sprintf("tree(%s, count=%d, level=%d)", t.Link, t.Count, t.Level)
}
