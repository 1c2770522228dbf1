package treeline

import (
	"bytes"

	"github.com/restic/chunker"
)

// BoundaryPolicy decides, as items are appended, where one node ends
// and the next begins.  It is consulted after every append with the
// node's serialized, compressed payload; returning true closes the
// node.  Chunking on compressed size keeps stored block sizes uniform
// even though compression ratio varies by content.
type BoundaryPolicy interface {
	Boundary(compressed []byte, target int) bool
}

type greedyPolicy struct{}

// GreedyBoundary returns the default policy: close a node exactly when
// its compressed payload first reaches or exceeds the target size.
func GreedyBoundary() BoundaryPolicy { return greedyPolicy{} }

func (greedyPolicy) Boundary(compressed []byte, target int) bool {
	return len(compressed) >= target
}

type rabinPolicy struct {
	pol chunker.Pol
}

// RabinBoundary returns a content-defined policy: close a node when a
// Rabin fingerprint boundary falls inside the compressed payload,
// with target/2 and target*2 as the minimum and maximum node size.
// The log is append-only and never rechunks under edits, so this is
// never required; it exists for stores that favor fingerprint-stable
// block boundaries.  The polynomial is part of the chunk
// configuration: builds are only bit-identical under the same value.
func RabinBoundary(pol chunker.Pol) BoundaryPolicy {
	return rabinPolicy{pol: pol}
}

func (p rabinPolicy) Boundary(compressed []byte, target int) bool {
	min := target / 2
	if min < 64 {
		min = 64
	}
	max := target * 2
	if len(compressed) < min {
		return false
	}
	if len(compressed) >= max {
		return true
	}
	c := chunker.NewWithBoundaries(bytes.NewReader(compressed), p.pol, uint(min), uint(max))
	chunk, err := c.Next(make([]byte, 0, len(compressed)))
	if err != nil {
		return false
	}
	return int(chunk.Length) < len(compressed)
}
