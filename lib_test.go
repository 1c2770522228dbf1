package treeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

// testSummary aggregates a run of uint64 keys into its count and
// closed min/max range.
type testSummary struct {
	Count uint64 `cbor:"1,keyasint"`
	Min   uint64 `cbor:"2,keyasint"`
	Max   uint64 `cbor:"3,keyasint"`
}

type testSchema struct{}

func (testSchema) Summarize(keys []uint64) testSummary {
	var s testSummary
	for _, k := range keys {
		s = combineTest(s, testSummary{Count: 1, Min: k, Max: k})
	}
	return s
}

func (testSchema) Combine(a, b testSummary) testSummary { return combineTest(a, b) }

func (testSchema) Empty() testSummary { return testSummary{} }

func combineTest(a, b testSummary) testSummary {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	out := testSummary{Count: a.Count + b.Count, Min: a.Min, Max: a.Max}
	if b.Min < out.Min {
		out.Min = b.Min
	}
	if b.Max > out.Max {
		out.Max = b.Max
	}
	return out
}

// keyRange matches keys in the closed range [Lo, Hi].
type keyRange struct {
	Lo, Hi uint64
}

func (q keyRange) MatchSummary(_ Span, s testSummary) Match {
	if s.Count == 0 || s.Max < q.Lo || s.Min > q.Hi {
		return MatchNone
	}
	if q.Lo <= s.Min && s.Max <= q.Hi {
		return MatchAll
	}
	return MatchSome
}

func (q keyRange) MatchKey(_ uint64, k uint64) bool {
	return q.Lo <= k && k <= q.Hi
}

func testValue(i uint64) string { return fmt.Sprintf("value-%d", i) }

func newTestForest(t *testing.T) (*Forest[uint64, string, testSummary], *inMemoryStore) {
	t.Helper()
	store := &inMemoryStore{}
	f, err := NewForest[uint64, string, testSummary](testSchema{}, ForestConfig{
		Store:   store,
		Secrets: Secrets{Index: [32]byte{1}, Value: [32]byte{2}},
		Config:  DebugConfig(),
	})
	require.NoError(t, err)
	return f, store
}

func buildTestTree(t *testing.T, f *Forest[uint64, string, testSummary], n uint64) Tree {
	t.Helper()
	b := f.NewStreamBuilder()
	for i := uint64(0); i < n; i++ {
		require.NoError(t, b.Append(ctx, Pair[uint64, string]{Key: i, Value: testValue(i)}))
	}
	tree, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, n, tree.Count)
	return tree
}

func collect(t *testing.T, it *Iterator[uint64, string, testSummary]) []Item[uint64, string] {
	t.Helper()
	defer it.Close()
	var items []Item[uint64, string]
	for it.Next(ctx) {
		items = append(items, it.Item())
	}
	require.NoError(t, it.Err())
	return items
}

func TestEmptyTree(t *testing.T) {
	f, _ := newTestForest(t)
	b := f.NewStreamBuilder()
	tree, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, tree.IsEmpty())
	assert.Empty(t, collect(t, f.Iterate(tree)))
	_, ok, err := f.Get(ctx, tree, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendAndIterate(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 1000)
	assert.Greater(t, int(tree.Level), 1, "1000 items should build a multi-level tree under debug chunk sizes")

	items := collect(t, f.Iterate(tree))
	require.Len(t, items, 1000)
	for i, item := range items {
		assert.Equal(t, uint64(i), item.Offset)
		assert.Equal(t, uint64(i), item.Key)
		assert.Equal(t, testValue(uint64(i)), item.Value)
	}
}

func TestGet(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 300)

	for _, i := range []uint64{0, 1, 31, 32, 150, 299} {
		item, ok, err := f.Get(ctx, tree, i)
		require.NoError(t, err)
		require.True(t, ok, "index %d", i)
		assert.Equal(t, i, item.Offset)
		assert.Equal(t, testValue(i), item.Value)
	}
	_, ok, err := f.Get(ctx, tree, 300)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIterateFrom(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 200)

	items := collect(t, f.IterateFrom(tree, 150))
	require.Len(t, items, 50)
	assert.Equal(t, uint64(150), items[0].Offset)
	assert.Equal(t, uint64(199), items[len(items)-1].Offset)
}

func TestKeyRangeQuery(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 500)

	items := collect(t, f.Query(tree, keyRange{Lo: 100, Hi: 199}))
	require.Len(t, items, 100)
	for i, item := range items {
		assert.Equal(t, uint64(100+i), item.Key)
	}

	assert.Empty(t, collect(t, f.Query(tree, keyRange{Lo: 1000, Hi: 2000})))
}

func TestQueryCombinators(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 300)

	both := collect(t, f.Query(tree, And(
		keyRange{Lo: 50, Hi: 250},
		OffsetRange[uint64, testSummary](200, 300),
	)))
	require.Len(t, both, 51)
	assert.Equal(t, uint64(200), both[0].Offset)
	assert.Equal(t, uint64(250), both[len(both)-1].Offset)

	either := collect(t, f.Query(tree, Or(
		keyRange{Lo: 0, Hi: 9},
		keyRange{Lo: 290, Hi: 299},
	)))
	require.Len(t, either, 20)
	assert.Equal(t, uint64(0), either[0].Key)
	assert.Equal(t, uint64(299), either[19].Key)
}

func TestNilQuery(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 10)
	it := f.Query(tree, nil)
	defer it.Close()
	assert.False(t, it.Next(ctx))
	var qe *QueryError
	assert.ErrorAs(t, it.Err(), &qe)
}

func TestSnapshotThenContinue(t *testing.T) {
	f, _ := newTestForest(t)
	b := f.NewStreamBuilder()
	for i := uint64(0); i < 500; i++ {
		require.NoError(t, b.Append(ctx, Pair[uint64, string]{Key: i, Value: testValue(i)}))
	}
	old, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(500), old.Count)

	for i := uint64(500); i < 1000; i++ {
		require.NoError(t, b.Append(ctx, Pair[uint64, string]{Key: i, Value: testValue(i)}))
	}
	cur, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), cur.Count)

	// The old root is an immutable snapshot of the first 500.
	assert.Len(t, collect(t, f.Iterate(old)), 500)
	assert.Len(t, collect(t, f.Iterate(cur)), 1000)
}

func TestOpenBuilder(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 700)

	b, err := f.OpenBuilder(ctx, tree)
	require.NoError(t, err)
	require.Equal(t, uint64(700), b.Count())
	for i := uint64(700); i < 1000; i++ {
		require.NoError(t, b.Append(ctx, Pair[uint64, string]{Key: i, Value: testValue(i)}))
	}
	resumed, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), resumed.Count)

	items := collect(t, f.Iterate(resumed))
	require.Len(t, items, 1000)
	for i, item := range items {
		assert.Equal(t, uint64(i), item.Key)
		assert.Equal(t, testValue(uint64(i)), item.Value)
	}
}

func TestDeleteRange(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 1000)

	pruned, err := f.DeleteRange(ctx, tree, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), pruned.Count, "index positions never shift")

	_, ok, err := f.Get(ctx, pruned, 150)
	require.NoError(t, err)
	assert.False(t, ok, "deleted index must not resolve")
	for _, i := range []uint64{99, 200} {
		item, ok, err := f.Get(ctx, pruned, i)
		require.NoError(t, err)
		require.True(t, ok, "index %d survives", i)
		assert.Equal(t, testValue(i), item.Value)
	}

	items := collect(t, f.Iterate(pruned))
	require.Len(t, items, 900)
	assert.Equal(t, uint64(99), items[99].Offset)
	assert.Equal(t, uint64(200), items[100].Offset)

	// The old root still reads everything.
	assert.Len(t, collect(t, f.Iterate(tree)), 1000)
}

func TestDeleteRangeAll(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 100)

	purged, err := f.DeleteRange(ctx, tree, 0, 100)
	require.NoError(t, err)
	assert.Nil(t, purged.Link)
	assert.Equal(t, uint64(100), purged.Count)
	assert.Empty(t, collect(t, f.Iterate(purged)))

	// Appending after a full purge keeps the old span occupied.
	b, err := f.OpenBuilder(ctx, purged)
	require.NoError(t, err)
	require.Equal(t, uint64(100), b.Count())
	require.NoError(t, b.Append(ctx, Pair[uint64, string]{Key: 100, Value: testValue(100)}))
	resumed, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(101), resumed.Count)

	items := collect(t, f.Iterate(resumed))
	require.Len(t, items, 1)
	assert.Equal(t, uint64(100), items[0].Offset)
}

func TestPrunedSummariesExcludeDeletedKeys(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 1000)

	pruned, err := f.DeleteRange(ctx, tree, 100, 200)
	require.NoError(t, err)

	// Keys equal offsets here, so the deleted range's keys are gone
	// and the recomputed summaries must prune the whole query away.
	assert.Empty(t, collect(t, f.Query(pruned, keyRange{Lo: 100, Hi: 199})))

	// A range straddling the hole still finds both survivors.
	edges := collect(t, f.Query(pruned, keyRange{Lo: 99, Hi: 200}))
	require.Len(t, edges, 2)
	assert.Equal(t, uint64(99), edges[0].Key)
	assert.Equal(t, uint64(200), edges[1].Key)

	// The rebuilt root's summary reflects only surviving leaves.
	refs, err := f.loadBranchRefs(ctx, *pruned.Link, pruned.Level)
	require.NoError(t, err)
	total := f.summarizeBranches(refs)
	assert.Equal(t, uint64(900), total.Count)
	assert.Equal(t, uint64(0), total.Min)
	assert.Equal(t, uint64(999), total.Max)
}

func TestDeleteRangeNoop(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 50)

	same, err := f.DeleteRange(ctx, tree, 30, 30)
	require.NoError(t, err)
	assert.Equal(t, tree, same)

	clamped, err := f.DeleteRange(ctx, tree, 40, 9999)
	require.NoError(t, err)
	assert.Len(t, collect(t, f.Iterate(clamped)), 40)
}

func TestPack(t *testing.T) {
	f, _ := newTestForest(t)

	// Many snapshot/append rounds leave partial trailing nodes.
	b := f.NewStreamBuilder()
	var tree Tree
	var err error
	for i := uint64(0); i < 500; i++ {
		require.NoError(t, b.Append(ctx, Pair[uint64, string]{Key: i, Value: testValue(i)}))
		if i%37 == 0 {
			tree, err = b.Snapshot(ctx)
			require.NoError(t, err)
		}
	}
	tree, err = b.Snapshot(ctx)
	require.NoError(t, err)

	tree, err = f.DeleteRange(ctx, tree, 100, 150)
	require.NoError(t, err)

	packed, err := f.Pack(ctx, tree)
	require.NoError(t, err)
	assert.Equal(t, tree.Count, packed.Count)

	want := collect(t, f.Iterate(tree))
	got := collect(t, f.Iterate(packed))
	assert.Equal(t, want, got)
}

func TestPackPurged(t *testing.T) {
	f, _ := newTestForest(t)
	tree := buildTestTree(t, f, 60)
	purged, err := f.DeleteRange(ctx, tree, 0, 60)
	require.NoError(t, err)

	packed, err := f.Pack(ctx, purged)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), packed.Count)
	assert.Empty(t, collect(t, f.Iterate(packed)))
}

func TestDeterministicBuilds(t *testing.T) {
	build := func() []Link {
		store := &inMemoryStore{}
		f, err := NewForest[uint64, string, testSummary](testSchema{}, ForestConfig{
			Store:   store,
			Secrets: Secrets{Index: [32]byte{1}, Value: [32]byte{2}},
			Config:  DebugConfig(),
		})
		require.NoError(t, err)
		b := f.NewStreamBuilder()
		for i := uint64(0); i < 1000; i++ {
			require.NoError(t, b.Append(ctx, Pair[uint64, string]{Key: i, Value: testValue(i)}))
		}
		_, err = b.Snapshot(ctx)
		require.NoError(t, err)
		return store.Links()
	}
	a := build()
	b := build()
	assert.ElementsMatch(t, a, b, "same data, same config: identical block sets")
}

func TestWrongSecret(t *testing.T) {
	store := &inMemoryStore{}
	mk := func(secrets Secrets) *Forest[uint64, string, testSummary] {
		f, err := NewForest[uint64, string, testSummary](testSchema{}, ForestConfig{
			Store:   store,
			Secrets: secrets,
			Config:  DebugConfig(),
		})
		require.NoError(t, err)
		return f
	}
	writer := mk(Secrets{Index: [32]byte{1}, Value: [32]byte{2}})
	tree := buildTestTree(t, writer, 100)

	reader := mk(Secrets{Index: [32]byte{9}, Value: [32]byte{9}})
	it := reader.Iterate(tree)
	defer it.Close()
	assert.False(t, it.Next(ctx))
	var ce *CryptoError
	assert.ErrorAs(t, it.Err(), &ce)
}

func TestIndexSecretOnlyTraversal(t *testing.T) {
	store := &inMemoryStore{}
	index := [32]byte{1}
	writer, err := NewForest[uint64, string, testSummary](testSchema{}, ForestConfig{
		Store:   store,
		Secrets: Secrets{Index: index, Value: [32]byte{2}},
		Config:  DebugConfig(),
	})
	require.NoError(t, err)
	tree := buildTestTree(t, writer, 300)

	// A holder of the index secret alone can count matching keys by
	// walking refs, without touching any level-0 block.
	reader, err := NewForest[uint64, string, testSummary](testSchema{}, ForestConfig{
		Store:   store,
		Secrets: Secrets{Index: index},
		Config:  DebugConfig(),
	})
	require.NoError(t, err)
	q := keyRange{Lo: 50, Hi: 149}
	var matched uint64
	var visit func(ref branchRef[testSummary], offset uint64) error
	visit = func(ref branchRef[testSummary], offset uint64) error {
		if ref.purged() {
			return nil
		}
		if ref.Level == 1 {
			refs, err := reader.loadLeafRefs(ctx, *ref.Link)
			if err != nil {
				return err
			}
			off := offset
			for _, r := range refs {
				for i, k := range r.Keys {
					if q.MatchKey(off+uint64(i), k) {
						matched++
					}
				}
				off += r.Count
			}
			return nil
		}
		refs, err := reader.loadBranchRefs(ctx, *ref.Link, ref.Level)
		if err != nil {
			return err
		}
		off := offset
		for _, r := range refs {
			if err := visit(r, off); err != nil {
				return err
			}
			off += r.Count
		}
		return nil
	}
	require.NoError(t, visit(branchRef[testSummary]{Count: tree.Count, Level: tree.Level, Link: tree.Link}, 0))
	assert.Equal(t, uint64(100), matched)
}

func TestCorruptBlock(t *testing.T) {
	f, store := newTestForest(t)
	tree := buildTestTree(t, f, 100)

	store.l.Lock()
	b := append([]byte{}, store.blocks[*tree.Link]...)
	b[0] ^= 0xff
	store.blocks[*tree.Link] = b
	store.l.Unlock()

	it := f.Iterate(tree)
	defer it.Close()
	assert.False(t, it.Next(ctx))
	var ie *IntegrityError
	assert.ErrorAs(t, it.Err(), &ie)
}

func TestMissingBlockAborts(t *testing.T) {
	f, store := newTestForest(t)
	tree := buildTestTree(t, f, 100)

	store.l.Lock()
	delete(store.blocks, *tree.Link)
	store.l.Unlock()

	it := f.Iterate(tree)
	defer it.Close()
	assert.False(t, it.Next(ctx))
	var se *StoreError
	assert.ErrorAs(t, it.Err(), &se)
}

func TestSkipUnavailable(t *testing.T) {
	store := &inMemoryStore{}
	f, err := NewForest[uint64, string, testSummary](testSchema{}, ForestConfig{
		Store:   store,
		Secrets: Secrets{Index: [32]byte{1}, Value: [32]byte{2}},
		Config: func() Config {
			c := DebugConfig()
			c.SkipUnavailable = true
			return c
		}(),
	})
	require.NoError(t, err)
	tree := buildTestTree(t, f, 200)

	// Drop the first leaf block: the envelope of the leftmost level-1
	// node lists its leaf links in the clear.
	var victim Link
	var victimCount uint64
	{
		link := *tree.Link
		level := tree.Level
		for level >= 2 {
			refs, err := f.loadBranchRefs(ctx, link, level)
			require.NoError(t, err)
			link = *refs[0].Link
			level = refs[0].Level
		}
		refs, err := f.loadLeafRefs(ctx, link)
		require.NoError(t, err)
		victim = *refs[0].Link
		victimCount = refs[0].Count
	}
	store.l.Lock()
	delete(store.blocks, victim)
	store.l.Unlock()

	items := collect(t, f.Iterate(tree))
	assert.Len(t, items, int(200-victimCount))
	assert.Equal(t, victimCount, items[0].Offset, "stream resumes after the gap")

	it := f.Iterate(tree)
	for it.Next(ctx) {
	}
	require.NoError(t, it.Err())
	gaps := it.Gaps()
	require.Len(t, gaps, 1)
	assert.Equal(t, Span{Start: 0, End: victimCount}, gaps[0].Span)
	var se *StoreError
	assert.ErrorAs(t, gaps[0].Err, &se)
	it.Close()
}

func TestNodeCacheReuse(t *testing.T) {
	store := &inMemoryStore{}
	cache := NewNodeCache(500)
	f, err := NewForest[uint64, string, testSummary](testSchema{}, ForestConfig{
		Store:     store,
		Secrets:   Secrets{Index: [32]byte{1}, Value: [32]byte{2}},
		Config:    DebugConfig(),
		NodeCache: cache,
	})
	require.NoError(t, err)
	tree := buildTestTree(t, f, 300)

	first := collect(t, f.Iterate(tree))

	// Second pass is served from the cache even with the store gone.
	store.l.Lock()
	store.blocks = nil
	store.l.Unlock()
	second := collect(t, f.Iterate(tree))
	assert.Equal(t, first, second)
}

func TestMaxNodeCountCapsLeaves(t *testing.T) {
	store := &inMemoryStore{}
	cfg := DebugConfig()
	cfg.TargetLeafSize = 1 << 20 // never reached; the count cap must kick in
	cfg.MaxNodeCount = 8
	f, err := NewForest[uint64, string, testSummary](testSchema{}, ForestConfig{
		Store:  store,
		Config: cfg,
	})
	require.NoError(t, err)
	tree := buildTestTree(t, f, 100)

	link := *tree.Link
	level := tree.Level
	for level >= 2 {
		refs, err := f.loadBranchRefs(ctx, link, level)
		require.NoError(t, err)
		link = *refs[0].Link
		level = refs[0].Level
	}
	refs, err := f.loadLeafRefs(ctx, link)
	require.NoError(t, err)
	for _, r := range refs {
		assert.LessOrEqual(t, int(r.Count), 8)
	}
}
