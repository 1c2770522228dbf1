package treeline

// Schema is the witness object binding a tree family's Key, Value and
// Summary types to the operations the engine needs.  A Summary is a
// monoid over a contiguous run of Keys: Combine must be associative,
// Empty must be its identity, and Combine is always applied in index
// order (commutativity is not required).
//
// Key, Value and Summary values must round-trip through CBOR; a Link
// embedded anywhere inside a Value is scraped into the node envelope
// before encryption, so outbound references stay visible without
// decrypting payloads.
type Schema[K, V, S any] interface {
	// Summarize computes the aggregate of a contiguous run of keys.
	Summarize(keys []K) S
	// Combine merges two adjacent aggregates, left before right.
	Combine(a, b S) S
	// Empty returns the identity element of Combine.
	Empty() S
}

// Pair is an appended (Key, Value) item.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// Item is a (index, Key, Value) triple produced by queries.
type Item[K, V any] struct {
	Offset uint64
	Key    K
	Value  V
}

// Span is a half-open index range [Start, End).
type Span struct {
	Start uint64
	End   uint64
}

func (s Span) Len() uint64 { return s.End - s.Start }

func (s Span) Contains(i uint64) bool { return i >= s.Start && i < s.End }

func (s Span) Intersects(o Span) bool { return s.Start < o.End && o.Start < s.End }

// Within reports whether s lies entirely inside o.
func (s Span) Within(o Span) bool { return s.Start >= o.Start && s.End <= o.End }
