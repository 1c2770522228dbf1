package treeline

import (
	"context"
	"fmt"
	"sync"
)

type inMemoryStore struct {
	blocks map[Link][]byte
	l      sync.Mutex
}

// NewInMemoryStore provides a BlockStore that keeps blocks in a map,
// usually for testing.
func NewInMemoryStore() BlockStore {
	return &inMemoryStore{}
}

func (ims *inMemoryStore) Put(ctx context.Context, b []byte) (Link, error) {
	link := LinkOf(b)
	ims.l.Lock()
	if ims.blocks == nil {
		ims.blocks = map[Link][]byte{link: b}
	} else {
		ims.blocks[link] = b
	}
	ims.l.Unlock()
	return link, nil
}

func (ims *inMemoryStore) Get(ctx context.Context, link Link) ([]byte, error) {
	ims.l.Lock()
	b, ok := ims.blocks[link]
	ims.l.Unlock()
	if !ok {
		return nil, &StoreError{Op: "get", Err: fmt.Errorf("inMemoryStore block not found for %s", link)}
	}
	return b, nil
}

// Links returns the addresses of every stored block, in no particular
// order.  Used by tests comparing the block sets of independent builds.
func (ims *inMemoryStore) Links() []Link {
	ims.l.Lock()
	defer ims.l.Unlock()
	links := make([]Link, 0, len(ims.blocks))
	for l := range ims.blocks {
		links = append(links, l)
	}
	return links
}
