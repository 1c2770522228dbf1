package treeline

import (
	"context"
	"fmt"
)

// StreamBuilder drives append for a single tree.  It keeps exactly one
// open (not yet persisted) buffer per tree level; appending fills the
// level-0 buffer, and each chunk boundary flushes a node bottom-up,
// pushing its reference into the buffer one level above.
//
// A builder is the tree's single writer and is not safe for concurrent
// use.  Snapshot persists the open buffers and returns a new root
// without closing them, so appending can continue; the returned Tree
// and every previously returned Tree remain valid, immutable
// snapshots.
type StreamBuilder[K, V, S any] struct {
	f     *Forest[K, V, S]
	count uint64
	leaf  leafBuffer[K, V]
	// branches[0] is the open level-1 buffer, branches[1] level 2, ...
	branches []*branchBuffer[K, S]
}

type leafBuffer[K, V any] struct {
	offset uint64
	keys   []K
	values []V
}

type branchBuffer[K, S any] struct {
	offset   uint64
	leaves   []leafRef[K]    // level 1 only
	children []branchRef[S]  // level >= 2 only
}

func (bb *branchBuffer[K, S]) empty() bool {
	return len(bb.leaves) == 0 && len(bb.children) == 0
}

// NewStreamBuilder returns a builder for a new, empty tree.
func (f *Forest[K, V, S]) NewStreamBuilder() *StreamBuilder[K, V, S] {
	return &StreamBuilder[K, V, S]{f: f}
}

// Count returns the number of index positions the builder has
// assigned, including purged spans carried over from an opened tree.
func (b *StreamBuilder[K, V, S]) Count() uint64 { return b.count }

func (b *StreamBuilder[K, V, S]) branch(level uint8) *branchBuffer[K, S] {
	for uint8(len(b.branches)) < level {
		b.branches = append(b.branches, &branchBuffer[K, S]{offset: b.count})
	}
	return b.branches[level-1]
}

// Append appends the given (Key, Value) pairs at the next index
// positions.  Nodes whose compressed payload reaches the configured
// target are flushed as a side effect; nothing becomes visible to
// readers until Snapshot.
func (b *StreamBuilder[K, V, S]) Append(ctx context.Context, pairs ...Pair[K, V]) error {
	cfg := &b.f.config
	for _, p := range pairs {
		if len(b.leaf.values) == 0 {
			b.leaf.offset = b.count
		}
		b.leaf.keys = append(b.leaf.keys, p.Key)
		b.leaf.values = append(b.leaf.values, p.Value)
		b.count++
		plain, err := encodeItems(b.leaf.values)
		if err != nil {
			return err
		}
		compressed, err := b.f.comp.Compress(plain)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		if cfg.Boundary.Boundary(compressed, cfg.TargetLeafSize) ||
			len(b.leaf.values) >= cfg.MaxNodeCount {
			if err := b.sealLeaf(ctx, plain, compressed); err != nil {
				return err
			}
		}
	}
	return nil
}

// sealLeaf persists the open level-0 buffer as a sealed leaf and
// pushes its reference into the level-1 buffer.
func (b *StreamBuilder[K, V, S]) sealLeaf(ctx context.Context, plain, compressed []byte) error {
	link, err := b.f.persistLeaf(ctx, b.leaf.offset, b.leaf.values, plain, compressed)
	if err != nil {
		return err
	}
	ref := leafRef[K]{
		Count:  uint64(len(b.leaf.values)),
		Sealed: true,
		Keys:   b.leaf.keys,
		Link:   &link,
	}
	offset := b.leaf.offset
	b.leaf = leafBuffer[K, V]{offset: b.count}
	return b.pushLeafRef(ctx, ref, offset)
}

func (b *StreamBuilder[K, V, S]) pushLeafRef(ctx context.Context, ref leafRef[K], offset uint64) error {
	bb := b.branch(1)
	if bb.empty() {
		bb.offset = offset
	}
	bb.leaves = append(bb.leaves, ref)
	return b.checkBranch(ctx, 1)
}

func (b *StreamBuilder[K, V, S]) pushBranchRef(ctx context.Context, level uint8, ref branchRef[S], offset uint64) error {
	bb := b.branch(level)
	if bb.empty() {
		bb.offset = offset
	}
	bb.children = append(bb.children, ref)
	return b.checkBranch(ctx, level)
}

// checkBranch applies the chunk boundary policy to the open buffer at
// the given level, sealing it when the compressed payload reaches the
// branch target.
func (b *StreamBuilder[K, V, S]) checkBranch(ctx context.Context, level uint8) error {
	cfg := &b.f.config
	bb := b.branches[level-1]
	var plain []byte
	var err error
	var n int
	if level == 1 {
		plain, err = encodeItems(bb.leaves)
		n = len(bb.leaves)
	} else {
		plain, err = encodeItems(bb.children)
		n = len(bb.children)
	}
	if err != nil {
		return err
	}
	compressed, err := b.f.comp.Compress(plain)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if cfg.Boundary.Boundary(compressed, cfg.TargetBranchSize) || n >= cfg.MaxNodeCount {
		return b.sealBranch(ctx, level, plain, compressed)
	}
	return nil
}

// sealBranch persists the open buffer at the given level as a sealed
// node and pushes its reference one level up.
func (b *StreamBuilder[K, V, S]) sealBranch(ctx context.Context, level uint8, plain, compressed []byte) error {
	bb := b.branches[level-1]
	var ref branchRef[S]
	if level == 1 {
		link, err := b.f.persistLeafRefs(ctx, bb.offset, bb.leaves, plain, compressed)
		if err != nil {
			return err
		}
		ref = branchRef[S]{
			Count:   leafRefCount(bb.leaves),
			Level:   1,
			Sealed:  true,
			Summary: b.f.summarizeLeaves(bb.leaves),
			Link:    &link,
		}
	} else {
		link, err := b.f.persistBranchRefs(ctx, level, bb.offset, bb.children, plain, compressed)
		if err != nil {
			return err
		}
		ref = branchRef[S]{
			Count:   branchRefCount(bb.children),
			Level:   level,
			Sealed:  true,
			Summary: b.f.summarizeBranches(bb.children),
			Link:    &link,
		}
	}
	offset := bb.offset
	*bb = branchBuffer[K, S]{offset: b.count}
	return b.pushBranchRef(ctx, level+1, ref, offset)
}

// appendHole advances the index by n positions that carry no content,
// preserving the span of a purged range during a rewrite.
func (b *StreamBuilder[K, V, S]) appendHole(ctx context.Context, n uint64) error {
	if n == 0 {
		return nil
	}
	if len(b.leaf.values) > 0 {
		plain, err := encodeItems(b.leaf.values)
		if err != nil {
			return err
		}
		compressed, err := b.f.comp.Compress(plain)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		if err := b.sealLeaf(ctx, plain, compressed); err != nil {
			return err
		}
	}
	offset := b.count
	b.count += n
	b.leaf.offset = b.count
	return b.pushLeafRef(ctx, leafRef[K]{Count: n, Sealed: true}, offset)
}

// Snapshot persists every open buffer and returns the new root.  The
// buffers stay open: later appends extend the same levels and a later
// Snapshot supersedes the partial trailing nodes written by this one
// (the superseded blocks stay valid for older roots).  Snapshot is the
// batch's consistency point: it either returns a fully persisted new
// root or an error, in which case the previously returned root is
// still the tree's state.
func (b *StreamBuilder[K, V, S]) Snapshot(ctx context.Context) (Tree, error) {
	if b.count == 0 {
		return Tree{}, nil
	}
	var carryLeaf *leafRef[K]
	if len(b.leaf.values) > 0 {
		link, err := b.f.persistLeaf(ctx, b.leaf.offset, b.leaf.values, nil, nil)
		if err != nil {
			return Tree{}, err
		}
		carryLeaf = &leafRef[K]{
			Count:  uint64(len(b.leaf.values)),
			Sealed: false,
			Keys:   b.leaf.keys,
			Link:   &link,
		}
	}

	var carry *branchRef[S]
	var lvl1 []leafRef[K]
	lvl1off := b.leaf.offset
	if len(b.branches) > 0 && len(b.branches[0].leaves) > 0 {
		lvl1 = append(lvl1, b.branches[0].leaves...)
		lvl1off = b.branches[0].offset
	}
	if carryLeaf != nil {
		lvl1 = append(lvl1, *carryLeaf)
	}
	if len(lvl1) > 0 {
		link, err := b.f.persistLeafRefs(ctx, lvl1off, lvl1, nil, nil)
		if err != nil {
			return Tree{}, err
		}
		carry = &branchRef[S]{
			Count:   leafRefCount(lvl1),
			Level:   1,
			Sealed:  false,
			Summary: b.f.summarizeLeaves(lvl1),
			Link:    &link,
		}
	}

	for level := uint8(2); level <= uint8(len(b.branches)); level++ {
		bb := b.branches[level-1]
		if len(bb.children) == 0 {
			continue // carry floats up unchanged
		}
		refs := append([]branchRef[S]{}, bb.children...)
		if carry != nil {
			refs = append(refs, *carry)
		}
		link, err := b.f.persistBranchRefs(ctx, level, bb.offset, refs, nil, nil)
		if err != nil {
			return Tree{}, err
		}
		carry = &branchRef[S]{
			Count:   branchRefCount(refs),
			Level:   level,
			Sealed:  false,
			Summary: b.f.summarizeBranches(refs),
			Link:    &link,
		}
	}
	if carry == nil {
		return Tree{}, fmt.Errorf("snapshot: %d positions but no open buffers", b.count)
	}
	return Tree{Link: carry.Link, Count: b.count, Level: carry.Level}, nil
}

// OpenBuilder resumes appending to an existing tree.  The rightmost
// unsealed nodes (the partial trailing path a Snapshot wrote) are
// absorbed back into open buffers so later appends fill them; sealed
// nodes are left as is.
func (f *Forest[K, V, S]) OpenBuilder(ctx context.Context, t Tree) (*StreamBuilder[K, V, S], error) {
	b := f.NewStreamBuilder()
	b.count = t.Count
	b.leaf.offset = t.Count
	if t.IsEmpty() {
		return b, nil
	}
	if t.Link == nil {
		// Fully purged tree: the span stays as a sealed placeholder.
		bb := b.branch(1)
		bb.offset = 0
		bb.leaves = append(bb.leaves, leafRef[K]{Count: t.Count, Sealed: true})
		return b, nil
	}
	level := t.Level
	link := *t.Link
	offset := uint64(0)
	for level >= 2 {
		refs, err := f.loadBranchRefs(ctx, link, level)
		if err != nil {
			return nil, fmt.Errorf("open level %d: %w", level, err)
		}
		if len(refs) == 0 {
			return nil, &IntegrityError{Link: link, Err: fmt.Errorf("empty level-%d node", level)}
		}
		bb := b.branch(level)
		bb.offset = offset
		last := refs[len(refs)-1]
		if last.Sealed || last.purged() {
			bb.children = append(bb.children, refs...)
			return b, nil
		}
		bb.children = append(bb.children, refs[:len(refs)-1]...)
		offset += branchRefCount(refs[:len(refs)-1])
		link = *last.Link
		level = last.Level
	}
	refs, err := f.loadLeafRefs(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("open level 1: %w", err)
	}
	if len(refs) == 0 {
		return nil, &IntegrityError{Link: link, Err: fmt.Errorf("empty level-1 node")}
	}
	bb := b.branch(1)
	bb.offset = offset
	last := refs[len(refs)-1]
	if last.Sealed || last.purged() {
		bb.leaves = append(bb.leaves, refs...)
		return b, nil
	}
	bb.leaves = append(bb.leaves, refs[:len(refs)-1]...)
	offset += leafRefCount(refs[:len(refs)-1])
	values, err := f.loadLeaf(ctx, *last.Link)
	if err != nil {
		return nil, fmt.Errorf("open leaf: %w", err)
	}
	b.leaf = leafBuffer[K, V]{
		offset: offset,
		keys:   append([]K{}, last.Keys...),
		values: append([]V{}, values...),
	}
	return b, nil
}
