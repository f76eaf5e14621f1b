package nstore

import "iter"

// KV is an ordered key/value engine bound to one transaction.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Scan yields keys in [start, end) in ascending byte order. A nil end
	// means no upper bound.
	Scan(start, end []byte) iter.Seq2[[]byte, error]
}
