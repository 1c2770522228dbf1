package treeline

import (
	"context"
	"fmt"
)

// DeleteRange removes the index range [lo, hi) from t and returns the
// new root.  Index positions never shift: a node lying entirely inside
// the range becomes a placeholder that keeps its span and count but
// carries no content and the identity summary, so later queries skip
// it without a block fetch; a node partially overlapping the range is
// rewritten, its surviving prefix and suffix re-run through the
// ordinary persist pipeline as new nodes.  Summaries are recomputed
// bottom-up along the affected path.
//
// The old root remains a valid snapshot; the deleted content becomes
// collectible once no root references its blocks.  On error the tree
// is unchanged at its previous root.
func (f *Forest[K, V, S]) DeleteRange(ctx context.Context, t Tree, lo, hi uint64) (Tree, error) {
	if hi > t.Count {
		hi = t.Count
	}
	if lo >= hi || t.IsEmpty() || t.Link == nil {
		return t, nil
	}
	root := branchRef[S]{Count: t.Count, Level: t.Level, Sealed: true, Link: t.Link}
	cut := Span{Start: lo, End: hi}
	newRoot, err := f.pruneBranch(ctx, root, 0, cut)
	if err != nil {
		return Tree{}, fmt.Errorf("delete [%d,%d): %w", lo, hi, err)
	}
	f.log.WithField("root", t.String()).Debug("pruned range")
	return Tree{Link: newRoot.Link, Count: t.Count, Level: t.Level}, nil
}

func (f *Forest[K, V, S]) pruneBranch(ctx context.Context, ref branchRef[S], offset uint64, cut Span) (branchRef[S], error) {
	span := Span{Start: offset, End: offset + ref.Count}
	if ref.purged() || !span.Intersects(cut) {
		return ref, nil
	}
	if span.Within(cut) {
		return branchRef[S]{
			Count:   ref.Count,
			Level:   ref.Level,
			Sealed:  true,
			Summary: f.schema.Empty(),
		}, nil
	}
	if ref.Level == 1 {
		refs, err := f.loadLeafRefs(ctx, *ref.Link)
		if err != nil {
			return ref, err
		}
		out := make([]leafRef[K], 0, len(refs)+2)
		off := offset
		for _, r := range refs {
			rewritten, err := f.pruneLeaf(ctx, r, off, cut)
			if err != nil {
				return ref, err
			}
			out = append(out, rewritten...)
			off += r.Count
		}
		link, err := f.persistLeafRefs(ctx, offset, out, nil, nil)
		if err != nil {
			return ref, err
		}
		return branchRef[S]{
			Count:   ref.Count,
			Level:   1,
			Sealed:  ref.Sealed,
			Summary: f.summarizeLeaves(out),
			Link:    &link,
		}, nil
	}
	refs, err := f.loadBranchRefs(ctx, *ref.Link, ref.Level)
	if err != nil {
		return ref, err
	}
	out := make([]branchRef[S], 0, len(refs))
	off := offset
	for _, r := range refs {
		rewritten, err := f.pruneBranch(ctx, r, off, cut)
		if err != nil {
			return ref, err
		}
		out = append(out, rewritten)
		off += r.Count
	}
	link, err := f.persistBranchRefs(ctx, ref.Level, offset, out, nil, nil)
	if err != nil {
		return ref, err
	}
	return branchRef[S]{
		Count:   ref.Count,
		Level:   ref.Level,
		Sealed:  ref.Sealed,
		Summary: f.summarizeBranches(out),
		Link:    &link,
	}, nil
}

// pruneLeaf rewrites one leaf reference against the cut.  A partially
// covered leaf yields up to three refs: a new leaf holding the
// surviving prefix, a placeholder for the removed middle, and a new
// leaf holding the surviving suffix.
func (f *Forest[K, V, S]) pruneLeaf(ctx context.Context, r leafRef[K], offset uint64, cut Span) ([]leafRef[K], error) {
	span := Span{Start: offset, End: offset + r.Count}
	if r.purged() || !span.Intersects(cut) {
		return []leafRef[K]{r}, nil
	}
	if span.Within(cut) {
		return []leafRef[K]{{Count: r.Count, Sealed: true}}, nil
	}
	values, err := f.loadLeaf(ctx, *r.Link)
	if err != nil {
		return nil, err
	}
	if uint64(len(values)) != r.Count || len(r.Keys) != len(values) {
		return nil, &IntegrityError{Link: *r.Link, Err: fmt.Errorf("leaf has %d values for count %d", len(values), r.Count)}
	}
	holeStart := cut.Start
	if holeStart < span.Start {
		holeStart = span.Start
	}
	holeEnd := cut.End
	if holeEnd > span.End {
		holeEnd = span.End
	}
	var out []leafRef[K]
	if holeStart > span.Start {
		n := holeStart - span.Start
		link, err := f.persistLeaf(ctx, span.Start, values[:n], nil, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, leafRef[K]{
			Count:  n,
			Sealed: true,
			Keys:   append([]K{}, r.Keys[:n]...),
			Link:   &link,
		})
	}
	out = append(out, leafRef[K]{Count: holeEnd - holeStart, Sealed: true})
	if holeEnd < span.End {
		i := holeEnd - span.Start
		link, err := f.persistLeaf(ctx, holeEnd, values[i:], nil, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, leafRef[K]{
			Count:  span.End - holeEnd,
			Sealed: r.Sealed,
			Keys:   append([]K{}, r.Keys[i:]...),
			Link:   &link,
		})
	}
	return out, nil
}
