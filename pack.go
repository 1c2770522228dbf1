package treeline

import (
	"context"
	"fmt"
)

// Pack rewrites t so that every node except the trailing ones is
// filled to the chunk threshold.  Repeated Snapshot/append cycles
// publish partial trailing nodes (the builder keeps buffers open
// across snapshots); once appending settles, packing rebuilds the tree
// into maximally filled blocks.  Purged spans are preserved as
// placeholders, and index positions do not move.
func (f *Forest[K, V, S]) Pack(ctx context.Context, t Tree) (Tree, error) {
	if t.IsEmpty() {
		return t, nil
	}
	b := f.NewStreamBuilder()
	err := f.walk(ctx, t,
		func(hole uint64) error { return b.appendHole(ctx, hole) },
		func(offset uint64, keys []K, values []V) error {
			pairs := make([]Pair[K, V], len(keys))
			for i := range keys {
				pairs[i] = Pair[K, V]{Key: keys[i], Value: values[i]}
			}
			return b.Append(ctx, pairs...)
		})
	if err != nil {
		return Tree{}, fmt.Errorf("pack: %w", err)
	}
	packed, err := b.Snapshot(ctx)
	if err != nil {
		return Tree{}, fmt.Errorf("pack: %w", err)
	}
	return packed, nil
}

// walk traverses t in index order, reporting each purged span via
// onHole and each surviving leaf run via onRun.
func (f *Forest[K, V, S]) walk(
	ctx context.Context,
	t Tree,
	onHole func(n uint64) error,
	onRun func(offset uint64, keys []K, values []V) error,
) error {
	if t.IsEmpty() {
		return nil
	}
	if t.Link == nil {
		return onHole(t.Count)
	}
	root := branchRef[S]{Count: t.Count, Level: t.Level, Link: t.Link}
	return f.walkBranch(ctx, root, 0, onHole, onRun)
}

func (f *Forest[K, V, S]) walkBranch(
	ctx context.Context,
	ref branchRef[S],
	offset uint64,
	onHole func(n uint64) error,
	onRun func(offset uint64, keys []K, values []V) error,
) error {
	if ref.purged() {
		return onHole(ref.Count)
	}
	if ref.Level == 1 {
		refs, err := f.loadLeafRefs(ctx, *ref.Link)
		if err != nil {
			return err
		}
		off := offset
		for _, r := range refs {
			if r.purged() {
				if err := onHole(r.Count); err != nil {
					return err
				}
			} else {
				values, err := f.loadLeaf(ctx, *r.Link)
				if err != nil {
					return err
				}
				if err := onRun(off, r.Keys, values); err != nil {
					return err
				}
			}
			off += r.Count
		}
		return nil
	}
	refs, err := f.loadBranchRefs(ctx, *ref.Link, ref.Level)
	if err != nil {
		return err
	}
	off := offset
	for _, r := range refs {
		if err := f.walkBranch(ctx, r, off, onHole, onRun); err != nil {
			return err
		}
		off += r.Count
	}
	return nil
}
