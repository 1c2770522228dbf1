// Package file stores blocks as files in a directory, one file per
// block, named by the block's content address.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/treeline-db/treeline"
)

// Store implements treeline.BlockStore on a directory.
type Store struct {
	basepath string
}

var _ treeline.BlockStore = Store{}

// NewStore returns a Store that keeps blocks as files in the directory
// at the given path.
//
//	s := NewStore("/var/db/events")
//	b, err := s.Get(ctx, link)
func NewStore(path string) Store {
	return Store{path}
}

// Put writes the block under its content address, if it isn't there
// already.  Writes go through a temp file and rename so a crashed put
// never leaves a partial block under a valid name.
func (s Store) Put(ctx context.Context, block []byte) (treeline.Link, error) {
	link := treeline.LinkOf(block)
	path := filepath.Join(s.basepath, link.String())
	if _, err := os.Stat(path); err == nil {
		return link, nil
	}
	tmp, err := os.CreateTemp(s.basepath, ".put-*")
	if err != nil {
		return treeline.Link{}, err
	}
	if _, err := tmp.Write(block); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return treeline.Link{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return treeline.Link{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return treeline.Link{}, err
	}
	return link, nil
}

// Get reads the block with the given address.
func (s Store) Get(ctx context.Context, link treeline.Link) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(s.basepath, link.String()))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("block %s: %w", link, os.ErrNotExist)
	}
	return b, err
}
