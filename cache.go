package treeline

import lru "github.com/hashicorp/golang-lru"

// NodeCache caches decoded nodes fetched from the block store, keyed
// by Link.  Nodes are immutable, so a cache may be shared by any
// number of trees and forests.
type NodeCache interface {
	// Add caches a freshly decoded node.
	Add(key, value interface{})
	// Get retrieves the already-decoded node for the given link, if cached.
	Get(key interface{}) (value interface{}, ok bool)
}

// NewNodeCache creates a new LRU-based node cache of the given size.
func NewNodeCache(size int) NodeCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return cache
}
