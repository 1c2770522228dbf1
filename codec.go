package treeline

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// envelope is a node's on-disk form.  Only Payload is encrypted; the
// offset, the scraped link list, and the keystream nonce stay in the
// clear so link discovery and GC reachability never need a secret.
type envelope struct {
	Offset  uint64 `cbor:"1,keyasint"`
	Links   []Link `cbor:"2,keyasint,omitempty"`
	Nonce   []byte `cbor:"3,keyasint"`
	Payload []byte `cbor:"4,keyasint"`
}

func encodeBlock(env *envelope) ([]byte, error) {
	b, err := encMode.Marshal(env)
	if err != nil {
		return nil, &EncodingError{Err: fmt.Errorf("envelope: %w", err)}
	}
	return b, nil
}

func decodeBlock(link Link, b []byte) (*envelope, error) {
	var env envelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return nil, &IntegrityError{Link: link, Err: fmt.Errorf("envelope: %w", err)}
	}
	if len(env.Nonce) != NonceSize {
		return nil, &IntegrityError{Link: link, Err: fmt.Errorf("envelope nonce is %d bytes, want %d", len(env.Nonce), NonceSize)}
	}
	return &env, nil
}

func encodeItems[T any](items []T) ([]byte, error) {
	b, err := encMode.Marshal(items)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return b, nil
}

func decodeItems[T any](b []byte, out *[]T) error {
	if err := decMode.Unmarshal(b, out); err != nil {
		return &EncodingError{Err: err}
	}
	return nil
}

// scanLinks walks raw CBOR and collects every tag-42-wrapped 32-byte
// string, in byte order.  Walking the raw bytes rather than a decoded
// value keeps the envelope's link list deterministic even when links
// are embedded under map keys.
func scanLinks(b []byte, links []Link) ([]Link, error) {
	rest := b
	var err error
	for len(rest) > 0 {
		links, rest, err = scanItem(rest, links)
		if err != nil {
			return nil, &EncodingError{Err: fmt.Errorf("link scan: %w", err)}
		}
	}
	return links, nil
}

var errTruncated = errors.New("truncated CBOR item")

const cborBreak = 0xff

// scanHead reads an item's initial byte and argument.
func scanHead(b []byte) (major byte, val uint64, indef bool, rest []byte, err error) {
	if len(b) == 0 {
		return 0, 0, false, nil, errTruncated
	}
	major = b[0] >> 5
	ai := b[0] & 0x1f
	rest = b[1:]
	switch {
	case ai < 24:
		val = uint64(ai)
	case ai == 24, ai == 25, ai == 26, ai == 27:
		n := 1 << (ai - 24)
		if len(rest) < n {
			return 0, 0, false, nil, errTruncated
		}
		for i := 0; i < n; i++ {
			val = val<<8 | uint64(rest[i])
		}
		rest = rest[n:]
	case ai == 31:
		indef = true
	default:
		return 0, 0, false, nil, fmt.Errorf("reserved additional info %d", ai)
	}
	return major, val, indef, rest, nil
}

func scanItem(b []byte, links []Link) ([]Link, []byte, error) {
	major, val, indef, rest, err := scanHead(b)
	if err != nil {
		return nil, nil, err
	}
	switch major {
	case 0, 1: // integers
		return links, rest, nil
	case 2, 3: // byte and text strings
		if !indef {
			if uint64(len(rest)) < val {
				return nil, nil, errTruncated
			}
			return links, rest[val:], nil
		}
		for {
			if len(rest) == 0 {
				return nil, nil, errTruncated
			}
			if rest[0] == cborBreak {
				return links, rest[1:], nil
			}
			links, rest, err = scanItem(rest, links)
			if err != nil {
				return nil, nil, err
			}
		}
	case 4, 5: // arrays and maps
		n := val
		if major == 5 {
			n *= 2
		}
		if indef {
			for {
				if len(rest) == 0 {
					return nil, nil, errTruncated
				}
				if rest[0] == cborBreak {
					return links, rest[1:], nil
				}
				links, rest, err = scanItem(rest, links)
				if err != nil {
					return nil, nil, err
				}
			}
		}
		for i := uint64(0); i < n; i++ {
			links, rest, err = scanItem(rest, links)
			if err != nil {
				return nil, nil, err
			}
		}
		return links, rest, nil
	case 6: // tag
		if indef {
			return nil, nil, fmt.Errorf("indefinite-length tag")
		}
		if val == linkTag {
			m, n, ind, content, err := scanHead(rest)
			if err != nil {
				return nil, nil, err
			}
			if m == 2 && !ind && n == LinkSize {
				if uint64(len(content)) < n {
					return nil, nil, errTruncated
				}
				var l Link
				copy(l[:], content[:LinkSize])
				return append(links, l), content[LinkSize:], nil
			}
			// Tag 42 with unexpected content; skip it like any item.
		}
		return scanItem(rest, links)
	case 7: // simple values, floats, break
		return links, rest, nil
	}
	return nil, nil, fmt.Errorf("unreachable major type %d", major)
}
