package treeline

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/minio/blake2b-simd"
)

// LinkSize is the length of a Link in bytes (a blake2b-256 digest).
const LinkSize = 32

// linkTag is the reserved CBOR tag identifying a Link embedded by
// value in a payload, so links can be discovered by scanning without
// full semantic decoding.
const linkTag = 42

// A Link is the content address of a persisted block: the blake2b-256
// digest of the block's stored bytes.  A Link is never an in-memory
// reference; it is always a lookup key into an external BlockStore.
type Link [LinkSize]byte

// LinkOf computes the content address of the given block bytes.  All
// BlockStore implementations must derive names with this function so
// that fetched blocks can be verified against the requested Link.
func LinkOf(b []byte) Link {
	return Link(blake2b.Sum256(b))
}

// String renders the link in its canonical textual form,
// base64url without padding.
func (l Link) String() string {
	return base64.RawURLEncoding.EncodeToString(l[:])
}

// ParseLink is the inverse of Link.String.
func ParseLink(s string) (Link, error) {
	var l Link
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return l, fmt.Errorf("parse link: %w", err)
	}
	if len(b) != LinkSize {
		return l, fmt.Errorf("parse link: got %d bytes, want %d", len(b), LinkSize)
	}
	copy(l[:], b)
	return l, nil
}

// MarshalCBOR encodes the link as tag 42 wrapping the digest bytes.
func (l Link) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: linkTag, Content: l[:]})
}

// UnmarshalCBOR decodes a tag-42-wrapped digest.
func (l *Link) UnmarshalCBOR(data []byte) error {
	var t cbor.RawTag
	if err := cbor.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("link tag: %w", err)
	}
	if t.Number != linkTag {
		return fmt.Errorf("link: unexpected CBOR tag %d", t.Number)
	}
	var b []byte
	if err := cbor.Unmarshal(t.Content, &b); err != nil {
		return fmt.Errorf("link content: %w", err)
	}
	if len(b) != LinkSize {
		return fmt.Errorf("link: got %d bytes, want %d", len(b), LinkSize)
	}
	copy(l[:], b)
	return nil
}
