package treeline

// leafRef is a level-1 node's reference to a value-bearing leaf.  The
// leaf's Keys live here, one level above the values, so an
// index-secret holder can test every key exactly without fetching or
// decrypting the leaf.  A purged ref (nil Link, nil Keys) is the
// placeholder left by range deletion: it keeps the index span's count
// so surrounding index arithmetic is unaffected, but carries no
// content and is skipped by queries without a block fetch.
type leafRef[K any] struct {
	Count  uint64 `cbor:"1,keyasint"`
	Sealed bool   `cbor:"2,keyasint"`
	Keys   []K    `cbor:"3,keyasint,omitempty"`
	Link   *Link  `cbor:"4,keyasint,omitempty"`
}

func (r leafRef[K]) purged() bool { return r.Link == nil }

// branchRef is a node's reference to a child branch (level >= 1 node),
// carrying the child's aggregate Summary for query pruning.  A purged
// ref has a nil Link and the identity Summary.
type branchRef[S any] struct {
	Count   uint64 `cbor:"1,keyasint"`
	Level   uint8  `cbor:"2,keyasint"`
	Sealed  bool   `cbor:"3,keyasint"`
	Summary S      `cbor:"4,keyasint"`
	Link    *Link  `cbor:"5,keyasint,omitempty"`
}

func (r branchRef[S]) purged() bool { return r.Link == nil }

// summarizeLeaves folds the summaries of the surviving leaves of a
// level-1 node, in index order.
func (f *Forest[K, V, S]) summarizeLeaves(refs []leafRef[K]) S {
	acc := f.schema.Empty()
	for _, r := range refs {
		if r.purged() {
			continue
		}
		acc = f.schema.Combine(acc, f.schema.Summarize(r.Keys))
	}
	return acc
}

// summarizeBranches folds the summaries of the surviving children of a
// level >= 2 node, in index order.
func (f *Forest[K, V, S]) summarizeBranches(refs []branchRef[S]) S {
	acc := f.schema.Empty()
	for _, r := range refs {
		if r.purged() {
			continue
		}
		acc = f.schema.Combine(acc, r.Summary)
	}
	return acc
}

func leafLinks[K any](refs []leafRef[K]) []Link {
	var links []Link
	for _, r := range refs {
		if r.Link != nil {
			links = append(links, *r.Link)
		}
	}
	return links
}

func branchLinks[S any](refs []branchRef[S]) []Link {
	var links []Link
	for _, r := range refs {
		if r.Link != nil {
			links = append(links, *r.Link)
		}
	}
	return links
}

func leafRefCount[K any](refs []leafRef[K]) uint64 {
	var n uint64
	for _, r := range refs {
		n += r.Count
	}
	return n
}

func branchRefCount[S any](refs []branchRef[S]) uint64 {
	var n uint64
	for _, r := range refs {
		n += r.Count
	}
	return n
}
