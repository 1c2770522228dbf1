package treeline

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// ForestConfig controls how a forest's trees are persisted, encrypted,
// chunked and traversed.  It is explicit state owned by the Forest and
// shared read-only by all its trees; there is no ambient or global
// configuration.
type ForestConfig struct {
	// Store persists and fetches content-addressed blocks.
	Store BlockStore

	// Secrets are the index and value keystream secrets.  The zero
	// value is usable but not secure.
	Secrets Secrets

	// Config carries chunk-size and traversal settings; zero fields
	// take defaults.
	Config Config

	// NodeCache caches decoded nodes and may be shared across forests.
	NodeCache NodeCache

	// Compressor overrides the compression codec, defaulting to zstd.
	Compressor Compressor

	// Logger receives debug-level tracing of flushes and fetches.
	// Defaults to a discarding logger.
	Logger logrus.FieldLogger
}

// Forest binds a concrete type family (Key, Value, Summary and their
// schema operations) to a block store, crypto secrets and chunk
// configuration.  A forest hosts any number of independent trees;
// trees share only this read-only configuration and need no cross-tree
// coordination.
type Forest[K, V, S any] struct {
	store   BlockStore
	schema  Schema[K, V, S]
	secrets Secrets
	config  Config
	cache   NodeCache
	comp    Compressor
	log     logrus.FieldLogger
}

// NewForest creates a forest for the type family witnessed by schema.
func NewForest[K, V, S any](schema Schema[K, V, S], cfg ForestConfig) (*Forest[K, V, S], error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("no block store set; set ForestConfig.Store")
	}
	if schema == nil {
		return nil, fmt.Errorf("nil schema")
	}
	comp := cfg.Compressor
	if comp == nil {
		var err error
		comp, err = NewZstdCompressor(zstd.SpeedDefault)
		if err != nil {
			return nil, fmt.Errorf("default compressor: %w", err)
		}
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Forest[K, V, S]{
		store:   cfg.Store,
		schema:  schema,
		secrets: cfg.Secrets,
		config:  cfg.Config.withDefaults(),
		cache:   cfg.NodeCache,
		comp:    comp,
		log:     log,
	}, nil
}

// Schema returns the forest's type-family witness.
func (f *Forest[K, V, S]) Schema() Schema[K, V, S] { return f.schema }

// putNode runs the append half of the pipeline for one node: the
// payload is compressed, encrypted under the level's secret, wrapped
// in the plaintext envelope, and persisted.  compressed may be passed
// in when the chunker already produced it; nil recomputes.
func (f *Forest[K, V, S]) putNode(ctx context.Context, level uint8, offset uint64, links []Link, plain, compressed []byte) (Link, error) {
	var err error
	if compressed == nil {
		compressed, err = f.comp.Compress(plain)
		if err != nil {
			return Link{}, fmt.Errorf("compress: %w", err)
		}
	}
	nonce := deriveNonce(compressed)
	ct, err := applyKeystream(f.secrets.forLevel(level), nonce, compressed)
	if err != nil {
		return Link{}, &CryptoError{Err: err}
	}
	block, err := encodeBlock(&envelope{
		Offset:  offset,
		Links:   links,
		Nonce:   nonce[:],
		Payload: ct,
	})
	if err != nil {
		return Link{}, err
	}
	link, err := f.store.Put(ctx, block)
	if err != nil {
		return Link{}, wrapStoreErr("put", err)
	}
	f.log.WithFields(logrus.Fields{
		"link":   link,
		"level":  level,
		"offset": offset,
		"bytes":  len(block),
	}).Debug("stored node")
	return link, nil
}

// fetch runs the read half of the pipeline: get, verify the content
// address, decrypt under the level's secret, decompress.
func (f *Forest[K, V, S]) fetch(ctx context.Context, link Link, level uint8) ([]byte, error) {
	b, err := f.store.Get(ctx, link)
	if err != nil {
		return nil, wrapStoreErr("get", err)
	}
	if LinkOf(b) != link {
		return nil, &IntegrityError{Link: link, Err: fmt.Errorf("fetched bytes hash to %s", LinkOf(b))}
	}
	env, err := decodeBlock(link, b)
	if err != nil {
		return nil, err
	}
	var nonce [NonceSize]byte
	copy(nonce[:], env.Nonce)
	pt, err := applyKeystream(f.secrets.forLevel(level), nonce, env.Payload)
	if err != nil {
		return nil, &CryptoError{Err: err}
	}
	plain, err := f.comp.Decompress(pt)
	if err != nil {
		// No authentication tag: a wrong secret surfaces here.
		return nil, &CryptoError{Err: err}
	}
	f.log.WithFields(logrus.Fields{"link": link, "level": level}).Debug("fetched node")
	return plain, nil
}

func wrapStoreErr(op string, err error) error {
	if _, ok := err.(*StoreError); ok {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

type cachedLeaf[V any] struct{ values []V }

type cachedLeafRefs[K any] struct{ refs []leafRef[K] }

type cachedBranchRefs[S any] struct{ refs []branchRef[S] }

// loadLeaf fetches and decodes a level-0 node's value sequence.
func (f *Forest[K, V, S]) loadLeaf(ctx context.Context, link Link) ([]V, error) {
	if f.cache != nil {
		if v, ok := f.cache.Get(link); ok {
			if c, ok := v.(cachedLeaf[V]); ok {
				return c.values, nil
			}
		}
	}
	plain, err := f.fetch(ctx, link, 0)
	if err != nil {
		return nil, err
	}
	var values []V
	if err := decodeItems(plain, &values); err != nil {
		return nil, err
	}
	if f.cache != nil {
		f.cache.Add(link, cachedLeaf[V]{values: values})
	}
	return values, nil
}

// loadLeafRefs fetches and decodes a level-1 node's leaf references.
func (f *Forest[K, V, S]) loadLeafRefs(ctx context.Context, link Link) ([]leafRef[K], error) {
	if f.cache != nil {
		if v, ok := f.cache.Get(link); ok {
			if c, ok := v.(cachedLeafRefs[K]); ok {
				return c.refs, nil
			}
		}
	}
	plain, err := f.fetch(ctx, link, 1)
	if err != nil {
		return nil, err
	}
	var refs []leafRef[K]
	if err := decodeItems(plain, &refs); err != nil {
		return nil, err
	}
	if f.cache != nil {
		f.cache.Add(link, cachedLeafRefs[K]{refs: refs})
	}
	return refs, nil
}

// loadBranchRefs fetches and decodes a level >= 2 node's child
// references.
func (f *Forest[K, V, S]) loadBranchRefs(ctx context.Context, link Link, level uint8) ([]branchRef[S], error) {
	if f.cache != nil {
		if v, ok := f.cache.Get(link); ok {
			if c, ok := v.(cachedBranchRefs[S]); ok {
				return c.refs, nil
			}
		}
	}
	plain, err := f.fetch(ctx, link, level)
	if err != nil {
		return nil, err
	}
	var refs []branchRef[S]
	if err := decodeItems(plain, &refs); err != nil {
		return nil, err
	}
	if f.cache != nil {
		f.cache.Add(link, cachedBranchRefs[S]{refs: refs})
	}
	return refs, nil
}

// persistLeaf encodes, scrapes, and stores a level-0 node.
func (f *Forest[K, V, S]) persistLeaf(ctx context.Context, offset uint64, values []V, plain, compressed []byte) (Link, error) {
	var err error
	if plain == nil {
		plain, err = encodeItems(values)
		if err != nil {
			return Link{}, err
		}
		compressed = nil
	}
	links, err := scanLinks(plain, nil)
	if err != nil {
		return Link{}, err
	}
	return f.putNode(ctx, 0, offset, links, plain, compressed)
}

// persistLeafRefs encodes and stores a level-1 node.
func (f *Forest[K, V, S]) persistLeafRefs(ctx context.Context, offset uint64, refs []leafRef[K], plain, compressed []byte) (Link, error) {
	var err error
	if plain == nil {
		plain, err = encodeItems(refs)
		if err != nil {
			return Link{}, err
		}
		compressed = nil
	}
	return f.putNode(ctx, 1, offset, leafLinks(refs), plain, compressed)
}

// persistBranchRefs encodes and stores a level >= 2 node.
func (f *Forest[K, V, S]) persistBranchRefs(ctx context.Context, level uint8, offset uint64, refs []branchRef[S], plain, compressed []byte) (Link, error) {
	var err error
	if plain == nil {
		plain, err = encodeItems(refs)
		if err != nil {
			return Link{}, err
		}
		compressed = nil
	}
	return f.putNode(ctx, level, offset, branchLinks(refs), plain, compressed)
}
