// Package store provides the transactional key-value substrate Registry,
// Oracle, and Treasury all share: every mutation commits or aborts as a
// unit. It is a generic bbolt+CBOR bucket-oriented helper, so the three
// components don't each carry their own copy-pasted get/put pair.
package store

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ugorji/go/codec"
	"go.etcd.io/bbolt"
)

var cborHandle = &codec.CborHandle{}

// ErrNotFound is returned by Get when the key does not exist in the bucket.
var ErrNotFound = errors.New("store: not found")

// DB wraps a bbolt database, giving each component a small, serialized
// transactional substrate without reimplementing bucket bookkeeping.
type DB struct {
	bolt *bbolt.DB
}

// Open opens (creating if necessary) a bbolt file at path and ensures the
// given buckets exist.
func Open(path string, buckets ...string) (*DB, error) {
	b, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db := &DB{bolt: b}
	if err := db.bolt.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		b.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return db, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.bolt.Close()
}

// Update runs fn inside a single linearizable read-write transaction: a
// returned error aborts the whole transaction, leaving prior state
// untouched.
func (db *DB) Update(fn func(tx *Tx) error) error {
	return db.bolt.Update(func(btx *bbolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// View runs fn inside a read-only transaction.
func (db *DB) View(fn func(tx *Tx) error) error {
	return db.bolt.View(func(btx *bbolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// Tx is a single bbolt transaction, scoped to one component call.
type Tx struct {
	btx *bbolt.Tx
}

// Put CBOR-encodes value and stores it under key in bucket.
func (t *Tx) Put(bucket, key string, value any) error {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, cborHandle)
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	b := t.btx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("store: bucket %q does not exist", bucket)
	}
	return b.Put([]byte(key), buf.Bytes())
}

// Get decodes the value stored under key in bucket into out.
func (t *Tx) Get(bucket, key string, out any) error {
	b := t.btx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("store: bucket %q does not exist", bucket)
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return ErrNotFound
	}
	dec := codec.NewDecoder(bytes.NewReader(raw), cborHandle)
	return dec.Decode(out)
}

// Has reports whether key exists in bucket.
func (t *Tx) Has(bucket, key string) bool {
	b := t.btx.Bucket([]byte(bucket))
	if b == nil {
		return false
	}
	return b.Get([]byte(key)) != nil
}

// Delete removes key from bucket.
func (t *Tx) Delete(bucket, key string) error {
	b := t.btx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	return b.Delete([]byte(key))
}

// ForEach iterates every key/value pair in bucket, decoding each value into
// a fresh value from newValue before calling fn. Iteration stops on the
// first error.
func (t *Tx) ForEach(bucket string, newValue func() any, fn func(key string, value any) error) error {
	b := t.btx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		val := newValue()
		dec := codec.NewDecoder(bytes.NewReader(v), cborHandle)
		if err := dec.Decode(val); err != nil {
			return fmt.Errorf("store: decode %s/%s: %w", bucket, k, err)
		}
		return fn(string(k), val)
	})
}

// NextSequence returns the bucket's next monotonically increasing integer,
// used for snapshotId: strictly positive, since bbolt's NextSequence starts
// at 1 and 0 is reserved to mean "no snapshot".
func (t *Tx) NextSequence(bucket string) (uint64, error) {
	b := t.btx.Bucket([]byte(bucket))
	if b == nil {
		return 0, fmt.Errorf("store: bucket %q does not exist", bucket)
	}
	return b.NextSequence()
}
