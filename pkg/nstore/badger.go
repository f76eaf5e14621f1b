package nstore

import (
	"bytes"
	"errors"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v4"
)

// BadgerKV runs KV operations inside one badger transaction.
type BadgerKV struct {
	txn *badger.Txn
}

// NewBadgerKV binds a KV to txn.
func NewBadgerKV(txn *badger.Txn) *BadgerKV {
	return &BadgerKV{txn: txn}
}

func (b *BadgerKV) Get(key []byte) ([]byte, bool, error) {
	item, err := b.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	return value, true, nil
}

func (b *BadgerKV) Set(key, value []byte) error {
	if err := b.txn.Set(key, value); err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (b *BadgerKV) Delete(key []byte) error {
	if err := b.txn.Delete(key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Scan collects the range before yielding. A read-write badger transaction
// allows one open iterator at a time, and Query nests scans.
func (b *BadgerKV) Scan(start, end []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := b.txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(start); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if end != nil && bytes.Compare(key, end) >= 0 {
				break
			}
			keys = append(keys, key)
		}
		it.Close()

		for _, key := range keys {
			if !yield(key, nil) {
				return
			}
		}
	}
}
