package treeline

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor is the compression codec contract: Decompress must be the
// exact inverse of Compress for all byte strings.  The chunker measures
// node boundaries in compressed bytes, so the same Compressor must be
// used for a tree's whole life.
type Compressor interface {
	Compress(b []byte) ([]byte, error)
	Decompress(b []byte) ([]byte, error)
}

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor returns the default Compressor, backed by zstd at
// the given level.  Encoder concurrency is pinned to one goroutine so
// that identical input produces identical compressed bytes, which
// content addressing depends on.
func NewZstdCompressor(level zstd.EncoderLevel) (Compressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Compress(b []byte) ([]byte, error) {
	return z.enc.EncodeAll(b, nil), nil
}

func (z *zstdCompressor) Decompress(b []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
