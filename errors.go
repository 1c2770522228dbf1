package treeline

import "fmt"

// IntegrityError reports that fetched bytes do not hash to the
// requested Link, or that a block's envelope is malformed.
type IntegrityError struct {
	Link Link
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: block %s: %v", e.Link, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// StoreError reports an I/O failure talking to the block store.  Store
// errors are retryable by the caller; the tree is left at its previous
// root.
type StoreError struct {
	Op  string // "put" or "get"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// EncodingError reports a payload that decompressed correctly but
// cannot be decoded per the codec contract.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// CryptoError reports a payload that failed to decompress after
// decryption.  The cipher carries no authentication tag, so a wrong
// secret or garbled keystream is detected here rather than
// cryptographically.
type CryptoError struct {
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto: %v", e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// QueryError reports a malformed predicate.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query: %s", e.Reason)
}
