package treeline

// Defaults for Config fields left zero.
const (
	DefaultTargetLeafSize   = 1 << 14 // compressed bytes
	DefaultTargetBranchSize = 1 << 12 // compressed bytes
	DefaultMaxNodeCount     = 2048    // items per node, hard cap
	DefaultFetchParallelism = 4
)

// Config carries the chunk-size and traversal settings shared by every
// tree in a forest.  Changing chunk settings changes the block
// boundaries new writes produce, so two builds are only bit-identical
// under the same Config.
type Config struct {
	// TargetLeafSize is the compressed payload size at which an open
	// level-0 node is closed.
	TargetLeafSize int

	// TargetBranchSize is the compressed payload size at which an open
	// level >= 1 node is closed.
	TargetBranchSize int

	// MaxNodeCount caps the number of items in any node regardless of
	// compressed size.
	MaxNodeCount int

	// FetchParallelism bounds concurrent block fetches during query
	// traversal.
	FetchParallelism int

	// SkipUnavailable makes query traversal report an unreachable
	// subtree as a gap in the result stream instead of aborting the
	// whole query.
	SkipUnavailable bool

	// Boundary overrides the chunk boundary policy.  Nil means greedy
	// fill: close a node as soon as its compressed payload reaches the
	// target size.
	Boundary BoundaryPolicy
}

// DefaultConfig returns settings reasonable for event logs with small
// values.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// DebugConfig returns tiny chunk thresholds so tests exercise
// multi-level trees with little data.
func DebugConfig() Config {
	c := Config{
		TargetLeafSize:   1 << 9,
		TargetBranchSize: 1 << 8,
		MaxNodeCount:     32,
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.TargetLeafSize == 0 {
		c.TargetLeafSize = DefaultTargetLeafSize
	}
	if c.TargetBranchSize == 0 {
		c.TargetBranchSize = DefaultTargetBranchSize
	}
	if c.MaxNodeCount == 0 {
		c.MaxNodeCount = DefaultMaxNodeCount
	}
	if c.FetchParallelism == 0 {
		c.FetchParallelism = DefaultFetchParallelism
	}
	if c.Boundary == nil {
		c.Boundary = GreedyBoundary()
	}
	return c
}
