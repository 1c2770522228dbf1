// Package event provides a concrete treeline type family for event
// logs: keys carry a timestamp and a tag set, summaries aggregate a
// run of keys into its time range and tag union, and predicates cover
// time windows and tag membership.
package event

import (
	"sort"

	"github.com/treeline-db/treeline"
)

// Key is the per-item index metadata of an event: when it happened and
// which tags it carries.  Tags are kept sorted and deduplicated.
type Key struct {
	Time int64    `cbor:"1,keyasint" json:"time"`
	Tags []string `cbor:"2,keyasint,omitempty" json:"tags,omitempty"`
}

// NewKey returns a Key with the given timestamp and normalized tags.
func NewKey(time int64, tags ...string) Key {
	return Key{Time: time, Tags: normalize(tags)}
}

// HasTag reports whether the key carries the given tag.
func (k Key) HasTag(tag string) bool {
	i := sort.SearchStrings(k.Tags, tag)
	return i < len(k.Tags) && k.Tags[i] == tag
}

// Summary aggregates a contiguous run of Keys: how many, the closed
// time range they span, and the union of their tags.  The zero value
// (Count == 0) is the monoid identity.
type Summary struct {
	Count   uint64   `cbor:"1,keyasint"`
	MinTime int64    `cbor:"2,keyasint"`
	MaxTime int64    `cbor:"3,keyasint"`
	Tags    []string `cbor:"4,keyasint,omitempty"`
}

// HasTag reports whether any summarized key may carry the given tag.
func (s Summary) HasTag(tag string) bool {
	i := sort.SearchStrings(s.Tags, tag)
	return i < len(s.Tags) && s.Tags[i] == tag
}

// Schema is the treeline witness for the event family.  Values are
// opaque byte blobs.
type Schema struct{}

var _ treeline.Schema[Key, []byte, Summary] = Schema{}

// Summarize computes the aggregate of a run of keys.
func (Schema) Summarize(keys []Key) Summary {
	var s Summary
	for _, k := range keys {
		s = combine(s, Summary{
			Count:   1,
			MinTime: k.Time,
			MaxTime: k.Time,
			Tags:    k.Tags,
		})
	}
	return s
}

// Combine merges two adjacent aggregates.
func (Schema) Combine(a, b Summary) Summary { return combine(a, b) }

// Empty returns the identity aggregate.
func (Schema) Empty() Summary { return Summary{} }

func combine(a, b Summary) Summary {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	out := Summary{
		Count:   a.Count + b.Count,
		MinTime: a.MinTime,
		MaxTime: a.MaxTime,
		Tags:    mergeTags(a.Tags, b.Tags),
	}
	if b.MinTime < out.MinTime {
		out.MinTime = b.MinTime
	}
	if b.MaxTime > out.MaxTime {
		out.MaxTime = b.MaxTime
	}
	return out
}

func normalize(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := append([]string{}, tags...)
	sort.Strings(out)
	n := 0
	for i, t := range out {
		if i == 0 || t != out[n-1] {
			out[n] = t
			n++
		}
	}
	return out[:n]
}

// mergeTags unions two sorted, deduplicated tag slices.
func mergeTags(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
